package main

import (
	"flag"
	"fmt"
	"os"

	wisp "github.com/wisplang/wisp"
)

// args mirrors the teacher's struct-of-flag-pointers CLI style
// (clarete-langlang/go/cmd/langlang/main.go's args/readArgs), adapted to
// original_source/src/main.c's parse_options: a single short/long debug
// flag, an entry-point path, and every remaining argument passed through
// to the script as argv.
type args struct {
	debug      *bool
	noStdlib   *bool
	entryPoint string
	scriptArgs []string
}

func readArgs() *args {
	a := &args{
		debug:    flag.Bool("debug", false, "dump the top-level bytecode disassembly before running (no AST dump)"),
		noStdlib: flag.Bool("no-stdlib", false, "skip registering Array/Table/print native methods"),
	}
	flag.BoolVar(a.debug, "d", false, "shorthand for -debug")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-d|--debug] <entry-point> [arguments...]\n", os.Args[0])
		os.Exit(1)
	}
	a.entryPoint = flag.Arg(0)
	a.scriptArgs = flag.Args()
	return a
}

func reportError(err error) {
	fmt.Fprintf(os.Stderr, "wisp error: %s\n", err)
}

// main mirrors do_file: compile the entry file, run the top-level function
// once (populating globals and yielding the bound `main`, per
// compileProgram's trailing GETG), then invoke main with 0/1/2 arguments
// depending on its declared arity.
func main() {
	a := readArgs()

	source, err := os.ReadFile(a.entryPoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", a.entryPoint, err)
		os.Exit(1)
	}

	config := wisp.VMConfig{OnError: reportError, Stdout: os.Stdout, Stdlib: !*a.noStdlib}
	vm := wisp.NewVM(config)
	if config.Stdlib {
		wisp.RegisterStdlib(vm)
	}

	compilerConfig := &wisp.CompilerConfig{Module: a.entryPoint, Debug: *a.debug}
	lexer := wisp.NewLexer(string(source), a.entryPoint, reportError)
	parser := wisp.NewParser(lexer, a.entryPoint, reportError)
	ast := parser.Parse()
	rawFn := wisp.Compile(ast, lexer, vm.Heap(), compilerConfig, reportError)
	if rawFn == nil {
		os.Exit(1)
	}
	if *a.debug {
		for _, block := range compilerConfig.Disassembly {
			fmt.Fprint(os.Stderr, block)
		}
	}
	top, _ := wisp.CompiledValue(rawFn)

	mainVal, ok := vm.Interpret(top, 0)
	if !ok {
		os.Exit(1)
	}

	arity, ok := wisp.FunctionArity(mainVal)
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: top level did not define a callable main\n", a.entryPoint)
		os.Exit(1)
	}

	argc := uint8(0)
	if arity >= 1 {
		vm.Push(vm.MakeArgv(a.scriptArgs))
		argc++
		if arity >= 2 {
			vm.Push(vm.MakeEnv(os.Environ()))
			argc++
		}
	}

	if _, ok := vm.Interpret(mainVal, argc); !ok {
		os.Exit(1)
	}
}
