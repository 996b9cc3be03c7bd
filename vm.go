package wisp

import (
	"math"
	"strings"
)

// VM is one self-contained interpreter context: a heap, a global table, a
// call/value stack pair, and the set of built-in classes every value
// dispatches property lookups through. Grounded on
// original_source/src/vm.c's vm_t and vm_open/vm_destroy lifecycle; unlike
// the C original there is no ambient global VM pointer, this struct is
// threaded explicitly through every call (see SPEC_FULL.md §5).
type VM struct {
	heap   *Heap
	global *tableObject

	stack  valueStack
	frames frameStack

	boolClass     *classObject
	numberClass   *classObject
	stringClass   *classObject
	arrayClass    *classObject
	tableClass    *classObject
	functionClass *classObject

	config  VMConfig
	errored bool
}

// NewVM allocates a VM with its heap, global table and built-in classes
// ready to receive bytecode, matching vm_open followed by vm_std_all.
// Stdlib registration (Array/Table methods, print/println, range) happens
// separately in RegisterStdlib, so an embedder that wants a bare VM with
// no native surface can skip it.
func NewVM(config VMConfig) *VM {
	h := NewHeap()
	vm := &VM{heap: h, config: config}
	vm.global = h.NewTable()
	h.KeepAlive(vm.global.header)

	vm.boolClass = vm.newClass("Bool")
	vm.numberClass = vm.newClass("Number")
	vm.stringClass = vm.newClass("String")
	vm.arrayClass = vm.newClass("Array")
	vm.tableClass = vm.newClass("Table")
	vm.functionClass = vm.newClass("Function")
	return vm
}

func (vm *VM) newClass(name string) *classObject {
	c := vm.heap.NewClass(vm.heap.NewString(name), nil)
	vm.heap.KeepAlive(c.header)
	return c
}

// Heap exposes the VM's object store, for embedders that allocate values
// (e.g. building an argv Array) before a call.
func (vm *VM) Heap() *Heap { return vm.heap }

// CompiledValue wraps a Compile result as a callable Value the rest of the
// package's exported API (Interpret, FunctionArity) can operate on without
// the CLI driver needing to name the unexported functionObject type.
func CompiledValue(fn *functionObject) (Value, bool) {
	if fn == nil {
		return NullValue, false
	}
	return ObjectValue(fn.header), true
}

// FunctionArity reports v's declared arity, for do_file's equivalent
// decision of how many of argv/env to push before the final Interpret
// call. ok is false when v isn't a Function at all.
func FunctionArity(v Value) (arity uint8, ok bool) {
	if !v.IsObject() || v.AsObject().Kind() != KindFunction {
		return 0, false
	}
	return v.AsObject().payload.(*functionObject).arity, true
}

// MakeArgv builds an Array of Strings from argv, matching main.c's
// make_argv (vm.arguments itself, argv[0] included).
func (vm *VM) MakeArgv(argv []string) Value {
	values := make([]Value, len(argv))
	for i, s := range argv {
		values[i] = ObjectValue(vm.heap.NewString(s).header)
	}
	return ObjectValue(vm.heap.NewArrayFrom(values).header)
}

// MakeEnv builds a Table of String->String from "KEY=VALUE" entries,
// matching make_env's strtok(entry, "=") / strtok(NULL, "") split --
// everything after the first '=' is the value, even if it contains more
// '=' characters.
func (vm *VM) MakeEnv(environ []string) Value {
	t := vm.heap.NewTable()
	for _, e := range environ {
		key, value, _ := strings.Cut(e, "=")
		t.Set(ObjectValue(vm.heap.NewString(key).header), ObjectValue(vm.heap.NewString(value).header))
	}
	return ObjectValue(t.header)
}

// Global exposes the VM's global table, so a host can seed bindings before
// Interpret runs, or read back ones a script defined.
func (vm *VM) Global() *tableObject { return vm.global }

func (vm *VM) reportError(err error) {
	if vm.config.OnError != nil {
		vm.config.OnError(err)
	}
}

func (vm *VM) runtimeError(op Op, format string, args ...any) {
	vm.errored = true
	vm.reportError(newRuntimeError(op, format, args...))
}

// Collect runs a full garbage collection pass, with roots built from the
// live evaluation stack plus the global table (the heap's own pinned set
// is folded in by Heap.Collect). original_source never triggers a
// collection automatically inside vm_interpret's dispatch loop -- only
// vm_destroy calls vm_gc_collect, once, on shutdown -- so wisp likewise
// leaves Collect as an operation the embedder invokes explicitly rather
// than wiring a threshold check into run's hot loop. See SPEC_FULL.md §5.
func (vm *VM) Collect() int {
	roots := make([]Value, 0, vm.stack.Len()+1)
	for i := 0; i < vm.stack.Len(); i++ {
		roots = append(roots, vm.stack.At(i))
	}
	roots = append(roots, ObjectValue(vm.global.header))
	return vm.heap.Collect(roots)
}

// classOf implements get_class from interpreter.c: dispatch is purely by
// value kind, never through an object's own header.class. An instance's
// class varies per value, so it is read from instanceObject.class.
func (vm *VM) classOf(v Value) *classObject {
	switch {
	case v.IsNull():
		return nil
	case v.IsBool():
		return vm.boolClass
	case v.IsNumber():
		return vm.numberClass
	case v.IsObject():
		switch v.AsObject().Kind() {
		case KindArray:
			return vm.arrayClass
		case KindFunction:
			return vm.functionClass
		case KindString:
			return vm.stringClass
		case KindTable:
			return vm.tableClass
		case KindInstance:
			return v.AsObject().payload.(*instanceObject).class
		case KindClass:
			return v.AsObject().payload.(*classObject)
		}
	}
	return nil
}

// Push pushes a single value onto the value stack. Embedders building a
// call from scratch (e.g. the CLI's do_file equivalent) push each argument
// with it, then call Interpret with the argument count.
func (vm *VM) Push(v Value) { vm.stack.Push(v) }

// Pop removes and returns the value on top of the stack. Native functions
// use this to consume their receiver and arguments, per nativeFn's
// contract.
func (vm *VM) Pop() Value { return vm.stack.Pop() }

// Interpret runs callable with argc arguments already pushed on top of the
// stack (deepest argument first, per compileCall's emission order --
// scenario 4's argv ends up as the sole argument, pushed once). It returns
// the value callable returned, or NullValue if it returned none or a
// runtime error aborted execution; ok reports whether execution completed
// without a runtime error. Mirrors vm_interpret's contract, generalized:
// original_source's vm_interpret leaves the result on vm's stack for the
// caller to vm_pop itself, but every one of wisp's callers immediately
// wants the value, so Interpret pops it for them.
func (vm *VM) Interpret(callable Value, argc uint8) (Value, bool) {
	vm.errored = false
	base := vm.stack.Len() - int(argc)
	depth := vm.frames.Len()
	pushed, ok := vm.call(callable, argc)
	if !ok {
		return NullValue, false
	}
	if pushed {
		vm.run(depth)
	}
	if vm.errored {
		return NullValue, false
	}
	if vm.stack.Len() <= base {
		return NullValue, true
	}
	return vm.stack.Pop(), true
}

// call validates callable and dispatches a single invocation of it with
// argc arguments already on the stack. A native function runs to
// completion synchronously (it is solely responsible for popping its own
// arguments and pushing at most one result, per nativeFn's contract) and
// pushed is false. A compiled function instead gets a new frame pushed and
// pushed is true, leaving run's dispatch loop to step through its
// bytecode. Grounded on push_frame's arity/type checks in interpreter.c.
func (vm *VM) call(callable Value, argc uint8) (pushed bool, ok bool) {
	if !callable.IsObject() || callable.AsObject().Kind() != KindFunction {
		vm.runtimeError(OpCall, "value is not callable")
		return false, false
	}
	fn := callable.AsObject().payload.(*functionObject)
	if uint8(argc) < fn.arity {
		vm.runtimeError(OpCall, "not enough arguments to run function, got %d instead of %d", argc, fn.arity)
		return false, false
	}
	stackStart := vm.stack.Len() - int(argc)
	if fn.IsNative() {
		fn.native(vm, argc)
		return false, !vm.errored
	}
	vm.frames.Push(frame{callee: fn, stackStart: stackStart, ip: 0})
	return true, true
}

// popFrame pops the current top frame, accounting for its return value
// exactly as pop_frame does: n non-zero means a value was left on the
// stack for RETURN to carry out, and only a non-native callee's stack gets
// truncated back to its stack_start (a native is trusted to have already
// consumed exactly its own arguments). Returns the new top frame, or nil
// if the call stack is now empty.
func (vm *VM) popFrame(n int16) *frame {
	var ret Value
	if n != 0 {
		ret = vm.stack.Pop()
	}
	popped := vm.frames.Top()
	if !popped.callee.IsNative() {
		vm.stack.Truncate(popped.stackStart)
	}
	vm.frames.Pop()
	if n != 0 {
		vm.stack.Push(ret)
	}
	if vm.frames.Len() == 0 {
		return nil
	}
	return vm.frames.Top()
}

// run steps the bytecode interpreter until the frame stack shrinks back to
// depth (its size when this run was entered) or a runtime error aborts it. Translates vm_interpret's native-dispatch-then-
// opcode-switch "goto start" loop into an ordinary for/switch: wisp never
// needs interpreter.c's ip-aliasing trick for native frames because
// call (above) runs natives synchronously instead of pushing a pseudo
// frame for them.
func (vm *VM) run(depth int) {
	for vm.frames.Len() > depth && !vm.errored {
		f := vm.frames.Top()
		instr := f.callee.compiled.code.At(f.ip)
		if instr == nil {
			return
		}

		switch instr.Op {
		case OpNop:
			f.ip++

		case OpPush:
			vm.stack.Push(NullValue)
			f.ip++
		case OpPushFalse:
			vm.stack.Push(FalseValue)
			f.ip++
		case OpPushTrue:
			vm.stack.Push(TrueValue)
			f.ip++
		case OpPushConst:
			vm.stack.Push(*f.callee.compiled.constants.At(int(instr.Arg)))
			f.ip++

		case OpLoad:
			vm.stack.PushCell(vm.stack.Cell(f.stackStart + int(instr.Arg)))
			f.ip++
		case OpStore:
			vm.stack.Set(f.stackStart+int(instr.Arg), vm.stack.Top())
			f.ip++
		case OpLoadUp:
			vm.stack.PushCell(*f.callee.compiled.captures.At(int(instr.Arg)))
			f.ip++
		case OpStoreUp:
			v := vm.stack.Pop()
			**f.callee.compiled.captures.At(int(instr.Arg)) = v
			vm.stack.Push(v)
			f.ip++

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			if !vm.binaryArith(instr.Op) {
				return
			}
			f.ip++
		case OpBand, OpBor, OpXor, OpLsh, OpRsh:
			if !vm.binaryBitwise(instr.Op) {
				return
			}
			f.ip++
		case OpInc, OpDec, OpNeg:
			if !vm.unaryArith(instr.Op) {
				return
			}
			f.ip++
		case OpBnot:
			if !vm.bitwiseNot() {
				return
			}
			f.ip++

		case OpEq:
			b, a := vm.stack.Pop(), vm.stack.Pop()
			vm.stack.Push(BoolValue(a.Equals(b)))
			f.ip++
		case OpNeq:
			b, a := vm.stack.Pop(), vm.stack.Pop()
			vm.stack.Push(BoolValue(!a.Equals(b)))
			f.ip++
		case OpGt, OpGte, OpLt, OpLte, OpCmp:
			if !vm.compareNumbers(instr.Op) {
				return
			}
			f.ip++

		case OpAnd, OpOr:
			if !vm.boolBinary(instr.Op) {
				return
			}
			f.ip++
		case OpNot:
			if !vm.boolUnary() {
				return
			}
			f.ip++

		case OpGetGlobal:
			key := vm.stack.Pop()
			value := vm.global.Get(key)
			if value.IsNull() {
				vm.runtimeError(OpGetGlobal, "undefined variable '%s'", key.String())
				return
			}
			vm.stack.Push(value)
			f.ip++
		case OpSetGlobal:
			key := vm.stack.Pop()
			value := vm.stack.Pop()
			vm.global.Set(key, value)
			vm.stack.Push(value)
			f.ip++

		case OpGetProp:
			if !vm.getProp(f) {
				return
			}
			f.ip++
		case OpSetProp:
			if !vm.setProp() {
				return
			}
			f.ip++

		case OpClose:
			vm.closeFn(int(instr.Arg))
			f.ip++

		case OpMakeArray:
			vm.makeArray(int(instr.Arg))
			f.ip++
		case OpMakeTable:
			vm.makeTable(int(instr.Arg))
			f.ip++

		case OpPop:
			vm.stack.Pop()
			f.ip++

		case OpCall:
			callee := vm.stack.Pop()
			pushed, ok := vm.call(callee, uint8(instr.Arg))
			if !ok {
				return
			}
			if !pushed {
				// A native callee may have re-entered the interpreter (e.g. a
				// callback invoked from Array.each), pushing and popping its
				// own frames via a nested run. That can grow vm.frames' backing
				// array out from under the f pointer captured above, so the
				// post-call frame must be fetched fresh rather than through f.
				vm.frames.Top().ip++
			}

		case OpReturn:
			next := vm.popFrame(instr.Arg)
			if next != nil && vm.frames.Len() > depth {
				next.ip++
			}

		case OpJump:
			f.ip += int(instr.Arg)
		case OpJumpIf:
			cond := vm.stack.Pop()
			if !cond.IsBool() {
				vm.runtimeError(OpJumpIf, "condition did not result in a boolean")
				return
			}
			if cond.AsBool() {
				f.ip++
			} else {
				f.ip += int(instr.Arg)
			}

		default:
			vm.runtimeError(instr.Op, "unimplemented opcode %s", instr.Op)
			return
		}
	}
}

// getProp implements OP_GETP: pop the receiver, then the property name
// (interpreter.c pops in exactly that order, since compileProperty pushes
// the name constant before compiling the receiver expression), dispatch
// through classOf, and -- if the looked-up property is itself a function
// immediately followed by a CALL in the same frame's code -- re-push the
// receiver as an implicit `this` argument, exactly as OP_GETP's one-
// instruction lookahead does.
func (vm *VM) getProp(f *frame) bool {
	this := vm.stack.Pop()
	propName := vm.stack.Pop()

	class := vm.classOf(this)
	if class == nil {
		vm.runtimeError(OpGetProp, "undefined property '%s' on value of type '%s'", propName.String(), this.TypeName())
		return false
	}
	value := class.properties.Get(propName)
	if value.IsNull() {
		vm.runtimeError(OpGetProp, "undefined property '%s' on value of type '%s'", propName.String(), this.TypeName())
		return false
	}
	if value.IsObject() && value.AsObject().Kind() == KindFunction {
		if next := f.callee.compiled.code.At(f.ip + 1); next != nil && next.Op == OpCall {
			vm.stack.Push(this)
		}
	}
	vm.stack.Push(value)
	return true
}

// setProp is wisp's own addition -- original_source never implements an
// OP_SETP at all, leaving property assignment entirely unparseable (see
// SPEC_FULL.md §9 on assignInfix). GETP's lookup target is always the
// receiver's *class* properties table (methods are shared across every
// instance of a type, never per-instance), so SETP mirrors that: it writes
// into the same table GETP reads from, making `SomeClass.prop = value`
// meaningful without inventing a second, incompatible lookup path.
// compileAssign's NodeProperty case pushes the name constant, then the
// receiver, then the value (value ends up on top).
func (vm *VM) setProp() bool {
	value := vm.stack.Pop()
	this := vm.stack.Pop()
	propName := vm.stack.Pop()

	class := vm.classOf(this)
	if class == nil {
		vm.runtimeError(OpSetProp, "cannot set property '%s' on value of type '%s'", propName.String(), this.TypeName())
		return false
	}
	class.properties.Set(propName, value)
	vm.stack.Push(value)
	return true
}

// closeFn implements OP_CLOSE. The function constant is on top of the
// stack (compileFunction re-pushes it immediately before emitting CLOSE),
// with arg upvalue cells beneath it in declaration order, nearest-upvalue
// last. Popping arg times in that order and appending in pop order
// reconstructs declaration order in captures, matching compiler.c's
// AST_FUNCTION emission exactly (see DESIGN.md's compiler.go entry).
func (vm *VM) closeFn(arg int) {
	fnValue := vm.stack.Pop()
	fn := fnValue.AsObject().payload.(*functionObject)
	for i := 0; i < arg; i++ {
		fn.compiled.captures.Push(vm.stack.PopCell())
	}
	vm.stack.Push(fnValue)
}

// makeArray and makeTable implement spec.md §6's MAKE_ARRAY/MAKE_TABLE,
// which no parseable literal syntax currently emits (see spec.md's "future
// use" note) but which are real opcodes a disassembled or hand-assembled
// program can still contain. makeArray consumes n values into a fresh
// Array, the deepest of them becoming element 0 and the top one the last
// element; makeTable consumes n key/value pairs into a fresh Table.
func (vm *VM) makeArray(n int) {
	values := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		values[i] = vm.stack.Pop()
	}
	a := vm.heap.NewArrayFrom(values)
	vm.stack.Push(ObjectValue(a.header))
}

func (vm *VM) makeTable(n int) {
	t := vm.heap.NewTable()
	for i := 0; i < n; i++ {
		value := vm.stack.Pop()
		key := vm.stack.Pop()
		t.Set(key, value)
	}
	vm.stack.Push(ObjectValue(t.header))
}

// popNumbers pops the two operands of a binary numeric op and returns them
// as (left, right): compileBinary compiles the right operand first (so it
// ends up deeper) and the left operand second (so it ends up on top),
// matching interpreter.c's BINARY_OP macro, which also pops its first,
// topmost operand ("a") before its second ("b") and computes "a op b".
func (vm *VM) popNumbers(op Op) (left, right float64, ok bool) {
	l := vm.stack.Pop()
	r := vm.stack.Pop()
	if !l.IsNumber() || !r.IsNumber() {
		vm.runtimeError(op, "operand of %s is not a Number", op)
		return 0, 0, false
	}
	return l.AsNumber(), r.AsNumber(), true
}

// binaryArith covers ADD/SUB/MUL/DIV, which original_source implements,
// plus MOD and POW, which its BINARY_OP macro invocations leave commented
// out. wisp completes the table math.Mod/math.Pow describe, per
// SPEC_FULL.md's domain-stack expansion.
func (vm *VM) binaryArith(op Op) bool {
	a, b, ok := vm.popNumbers(op)
	if !ok {
		return false
	}
	var result float64
	switch op {
	case OpAdd:
		result = a + b
	case OpSub:
		result = a - b
	case OpMul:
		result = a * b
	case OpDiv:
		result = a / b
	case OpMod:
		result = math.Mod(a, b)
	case OpPow:
		result = math.Pow(a, b)
	}
	vm.stack.Push(NumberValue(result))
	return true
}

// binaryBitwise covers BAND/BOR/XOR/LSH/RSH, each commented out in
// original_source's BINARY_OP invocations. Operands are truncated to
// int64 the way a NaN-boxed double-only VM must, since there is no
// separate integer Value kind.
func (vm *VM) binaryBitwise(op Op) bool {
	a, b, ok := vm.popNumbers(op)
	if !ok {
		return false
	}
	x, y := int64(a), int64(b)
	var result int64
	switch op {
	case OpBand:
		result = x & y
	case OpBor:
		result = x | y
	case OpXor:
		result = x ^ y
	case OpLsh:
		result = x << uint64(y)
	case OpRsh:
		result = x >> uint64(y)
	}
	vm.stack.Push(NumberValue(float64(result)))
	return true
}

func (vm *VM) bitwiseNot() bool {
	v := vm.stack.Pop()
	if !v.IsNumber() {
		vm.runtimeError(OpBnot, "operand of %s is not a Number", OpBnot)
		return false
	}
	vm.stack.Push(NumberValue(float64(^int64(v.AsNumber()))))
	return true
}

// unaryArith covers INC/DEC/NEG: each pops one Number operand and pushes
// the transformed result without writing back to any local slot --
// interpreter.c's handlers are purely stack-based, never touching
// stack[stack_start+k] the way a true `x++` would.
func (vm *VM) unaryArith(op Op) bool {
	v := vm.stack.Pop()
	if !v.IsNumber() {
		vm.runtimeError(op, "operand of %s is not a Number", op)
		return false
	}
	n := v.AsNumber()
	switch op {
	case OpInc:
		n++
	case OpDec:
		n--
	case OpNeg:
		n = -n
	}
	vm.stack.Push(NumberValue(n))
	return true
}

// compareNumbers covers GT/GTE/LT/LTE/CMP, each of which requires both
// operands to be Numbers. CMP pushes their numeric difference (the
// spaceship operator's result), the rest push a Bool.
func (vm *VM) compareNumbers(op Op) bool {
	a, b, ok := vm.popNumbers(op)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		vm.stack.Push(BoolValue(a > b))
	case OpGte:
		vm.stack.Push(BoolValue(a >= b))
	case OpLt:
		vm.stack.Push(BoolValue(a < b))
	case OpLte:
		vm.stack.Push(BoolValue(a <= b))
	case OpCmp:
		vm.stack.Push(NumberValue(a - b))
	}
	return true
}

// boolBinary covers AND/OR, which original_source requires both operands
// to be strict Bools for -- no truthiness coercion of the kind a dynamic
// language might otherwise offer.
func (vm *VM) boolBinary(op Op) bool {
	b := vm.stack.Pop()
	a := vm.stack.Pop()
	if !a.IsBool() || !b.IsBool() {
		vm.runtimeError(op, "operand of %s is not a Bool", op)
		return false
	}
	switch op {
	case OpAnd:
		vm.stack.Push(BoolValue(a.AsBool() && b.AsBool()))
	case OpOr:
		vm.stack.Push(BoolValue(a.AsBool() || b.AsBool()))
	}
	return true
}

func (vm *VM) boolUnary() bool {
	v := vm.stack.Pop()
	if !v.IsBool() {
		vm.runtimeError(OpNot, "operand of %s is not a Bool", OpNot)
		return false
	}
	vm.stack.Push(BoolValue(!v.AsBool()))
	return true
}
