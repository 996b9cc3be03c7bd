package wisp

// CompilerConfig controls optional compiler behavior. Grounded on
// clarete-langlang/go/config.go's plain-struct config pattern.
type CompilerConfig struct {
	// Module names the source for error messages (typically a file path).
	Module string
	// Debug, when true, has Compile append a bytecode disassembly of the
	// top-level program function to Disassembly. Nested functions are not
	// disassembled.
	Debug bool
	// Disassembly accumulates one Disassemble(...) block per Compile call
	// when Debug is set.
	Disassembly []string
}

// VMConfig controls VM construction.
type VMConfig struct {
	// OnError receives every Lex/Parse/RuntimeError the VM's components
	// produce. A nil handler silently discards them.
	OnError ErrorHandler
	// Stdout is where print/println native functions write; defaults to
	// os.Stdout when nil.
	Stdout interface {
		Write(p []byte) (n int, err error)
	}
	// Stdlib controls whether NewVM's caller should additionally call
	// RegisterStdlib, wiring up Array.at/each, Table.get/set, range and
	// print/println. Defaults to off (the zero value); the CLI driver
	// turns it on unless passed a flag saying otherwise.
	Stdlib bool
}
