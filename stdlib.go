package wisp

import (
	"fmt"
	"os"
	"strings"
)

// RegisterStdlib installs the native surface original_source registers
// through vm_std_all: Array.at/each, a free range function, Table.get/set,
// and print/println. vm_std_bool, vm_std_number and vm_std_string are
// themselves commented out in vm_std_all (their classes exist as empty
// shells, see NewVM), so wisp leaves Bool/Number/String with no methods
// either, matching the original's actual behavior rather than its
// aspirational one.
//
// Called separately from NewVM so an embedder can build a VM with no
// native surface at all (config.Stdlib gates this from the CLI driver).
func RegisterStdlib(vm *VM) {
	registerArrayMethods(vm)
	registerTableMethods(vm)
	registerIO(vm)
	registerGlobalFn(vm, "range", 2, nativeRange)
}

func defineMethod(vm *VM, class *classObject, name string, arity uint8, fn nativeFn) {
	native := vm.heap.NewNativeFunction(name, arity, fn)
	class.properties.Set(ObjectValue(vm.heap.NewString(name).header), ObjectValue(native.header))
}

func registerGlobalFn(vm *VM, name string, arity uint8, fn nativeFn) {
	native := vm.heap.NewNativeFunction(name, arity, fn)
	vm.global.Set(ObjectValue(vm.heap.NewString(name).header), ObjectValue(native.header))
}

// --- Array ---

func registerArrayMethods(vm *VM) {
	defineMethod(vm, vm.arrayClass, "at", 1, nativeArrayAt)
	defineMethod(vm, vm.arrayClass, "each", 1, nativeArrayEach)
}

// nativeArrayAt implements array_at: pop the receiver then the index,
// pushing the element at that index or null when out of range.
func nativeArrayAt(vm *VM, argc uint8) int8 {
	this := vm.Pop()
	index := vm.Pop()
	arr, ok := this.AsObject().payload.(*arrayObject)
	if !ok {
		vm.runtimeError(OpCall, "at called on a non-Array receiver")
		return 0
	}
	if !index.IsNumber() {
		vm.runtimeError(OpCall, "Array.at index is not a Number")
		return 0
	}
	v := arr.values.At(int(index.AsNumber()))
	if v == nil {
		vm.Push(NullValue)
	} else {
		vm.Push(*v)
	}
	return 1
}

// nativeArrayEach implements array_each: pop the receiver then the
// callback, then invoke the callback once per element via a nested
// Interpret call -- the re-entrant native-calls-back-into-the-interpreter
// pattern scenario 5 exercises. Pushes nothing.
func nativeArrayEach(vm *VM, argc uint8) int8 {
	this := vm.Pop()
	callback := vm.Pop()
	arr, ok := this.AsObject().payload.(*arrayObject)
	if !ok {
		vm.runtimeError(OpCall, "each called on a non-Array receiver")
		return 0
	}
	for i := 0; i < arr.values.Len(); i++ {
		vm.Push(*arr.values.At(i))
		if _, ok := vm.Interpret(callback, 1); !ok {
			return 0
		}
	}
	return 0
}

// nativeRange implements range: pop min and max (and, when the caller
// passed a third argument, step -- the native branches on argc at runtime
// even though it's registered with a compile-time arity of 2, exactly as
// original_source's range does), building an Array. Plain-call argument
// order puts the first declared argument on top, so min is popped first.
func nativeRange(vm *VM, argc uint8) int8 {
	min := vm.Pop()
	max := vm.Pop()
	step := NumberValue(1)
	if argc >= 3 {
		step = vm.Pop()
	}
	if !min.IsNumber() || !max.IsNumber() || !step.IsNumber() {
		vm.runtimeError(OpCall, "range arguments must be Numbers")
		return 0
	}
	var values []Value
	for i := min.AsNumber(); i < max.AsNumber(); i += step.AsNumber() {
		values = append(values, NumberValue(i))
	}
	arr := vm.heap.NewArrayFrom(values)
	vm.Push(ObjectValue(arr.header))
	return 1
}

// --- Table ---

func registerTableMethods(vm *VM) {
	defineMethod(vm, vm.tableClass, "get", 1, nativeTableGet)
	defineMethod(vm, vm.tableClass, "set", 2, nativeTableSet)
}

func nativeTableGet(vm *VM, argc uint8) int8 {
	this := vm.Pop()
	key := vm.Pop()
	t, ok := this.AsObject().payload.(*tableObject)
	if !ok {
		vm.runtimeError(OpCall, "get called on a non-Table receiver")
		return 0
	}
	vm.Push(t.Get(key))
	return 1
}

func nativeTableSet(vm *VM, argc uint8) int8 {
	this := vm.Pop()
	key := vm.Pop()
	value := vm.Pop()
	t, ok := this.AsObject().payload.(*tableObject)
	if !ok {
		vm.runtimeError(OpCall, "set called on a non-Table receiver")
		return 0
	}
	t.Set(key, value)
	return 0
}

// --- IO ---

func registerIO(vm *VM) {
	registerGlobalFn(vm, "print", 1, nativePrint)
	registerGlobalFn(vm, "println", 1, nativePrintln)
}

// nativePrint implements io.c's print: pop the format string first, then
// one more argument per "{}" placeholder it contains, in argument order.
// Unimplemented representations (tables, classes, instances) fall back to
// a placeholder string rather than panicking.
func nativePrint(vm *VM, argc uint8) int8 {
	format := vm.Pop()
	s, ok := format.AsObject().payload.(*stringObject)
	if !ok {
		vm.runtimeError(OpCall, "print format is not a String")
		return 0
	}
	vm.writeString(formatPrint(vm, s.bytes))
	return 0
}

func nativePrintln(vm *VM, argc uint8) int8 {
	nativePrint(vm, argc)
	vm.writeString("\n")
	return 0
}

func formatPrint(vm *VM, format string) string {
	var b strings.Builder
	i := 0
	for i < len(format) {
		if i+1 < len(format) && format[i] == '{' && format[i+1] == '}' {
			b.WriteString(renderValue(vm.Pop()))
			i += 2
			continue
		}
		b.WriteByte(format[i])
		i++
	}
	return b.String()
}

// renderValue stringifies a value the way io.c's print does: null, bool
// and number have direct textual forms, strings print their own bytes,
// arrays print element by element in brackets, and anything else falls
// back to "[unimplemented printer]" rather than the original's silent
// do-nothing default case.
func renderValue(v Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.IsBool():
		return v.String()
	case v.IsNumber():
		return v.String()
	case v.IsObject():
		switch o := v.AsObject().payload.(type) {
		case *stringObject:
			return o.bytes
		case *arrayObject:
			var parts []string
			for i := 0; i < o.values.Len(); i++ {
				parts = append(parts, renderValue(*o.values.At(i)))
			}
			return "[" + strings.Join(parts, ", ") + "]"
		}
	}
	return "[unimplemented printer]"
}

func (vm *VM) writeString(s string) {
	out := vm.config.Stdout
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprint(out, s)
}
