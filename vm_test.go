package wisp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run compiles and interprets source through a fresh VM with the stdlib
// registered, invoking main with 0/1/2 arguments depending on its declared
// arity -- the same shape cmd/wisp/main.go's do_file equivalent follows.
// It returns main's result and whatever errors either phase produced.
func run(t *testing.T, source string, scriptArgs []string) (Value, []error) {
	t.Helper()
	var errs []error
	onError := func(err error) { errs = append(errs, err) }

	vm := NewVM(VMConfig{OnError: onError})
	RegisterStdlib(vm)

	lexer := NewLexer(source, "<test>", onError)
	parser := NewParser(lexer, "<test>", onError)
	ast := parser.Parse()
	fn := Compile(ast, lexer, vm.Heap(), &CompilerConfig{Module: "<test>"}, onError)
	require.NotNil(t, fn, "compile produced no function")

	top, _ := CompiledValue(fn)
	mainVal, ok := vm.Interpret(top, 0)
	if !ok {
		return NullValue, errs
	}

	arity, ok := FunctionArity(mainVal)
	if !ok {
		return NullValue, errs
	}

	argc := uint8(0)
	if arity >= 1 {
		vm.Push(vm.MakeArgv(scriptArgs))
		argc++
	}
	result, ok := vm.Interpret(mainVal, argc)
	if !ok {
		return NullValue, errs
	}
	return result, errs
}

func TestEndToEnd_ArithmeticPrecedence(t *testing.T) {
	result, errs := run(t, `fn main() { return 1 + 2 * 3 }`, nil)
	assert.Empty(t, errs)
	assert.True(t, result.IsNumber())
	assert.Equal(t, float64(7), result.AsNumber())
}

func TestEndToEnd_BranchAndCompare(t *testing.T) {
	result, errs := run(t, `fn main() { var a = 10; if a > 5 { return "big" } else { return "small" } }`, nil)
	assert.Empty(t, errs)
	assert.Equal(t, "big", result.String())
}

func TestEndToEnd_UpvaluesAcrossTwoScopes(t *testing.T) {
	result, errs := run(t, `fn main() { var make = fn(x) => fn(y) => x + y; var add3 = make(3); return add3(4) }`, nil)
	assert.Empty(t, errs)
	assert.Equal(t, float64(7), result.AsNumber())
}

func TestEndToEnd_MethodDispatchViaClassProperties(t *testing.T) {
	result, errs := run(t, `fn main(argv) { return argv.at(0) }`, []string{"hello"})
	assert.Empty(t, errs)
	assert.Equal(t, "hello", result.String())
}

func TestEndToEnd_NativeCallbackAndSharedCellMutation(t *testing.T) {
	result, errs := run(t, `fn main() { var xs = range(0, 4); var s = 0; xs.each(fn(x) => s = s + x); return s }`, nil)
	assert.Empty(t, errs)
	assert.Equal(t, float64(6), result.AsNumber())
}

func TestEndToEnd_UndefinedVariableReportsAndAbandons(t *testing.T) {
	result, errs := run(t, `fn main() { return undef + 1 }`, nil)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[len(errs)-1].Error(), "undefined variable 'undef'")
	assert.Equal(t, NullValue, result)
}

func TestClassOf(t *testing.T) {
	vm := NewVM(VMConfig{})
	assert.Nil(t, vm.classOf(NullValue))
	assert.Equal(t, vm.boolClass, vm.classOf(TrueValue))
	assert.Equal(t, vm.numberClass, vm.classOf(NumberValue(1)))
	assert.Equal(t, vm.stringClass, vm.classOf(ObjectValue(vm.Heap().NewString("hi").header)))
	assert.Equal(t, vm.arrayClass, vm.classOf(ObjectValue(vm.Heap().NewArray().header)))
	assert.Equal(t, vm.tableClass, vm.classOf(ObjectValue(vm.Heap().NewTable().header)))
}

func TestCallArityError(t *testing.T) {
	var errs []error
	vm := NewVM(VMConfig{OnError: func(err error) { errs = append(errs, err) }})
	fn := vm.Heap().NewFunction("needsOne", 1)
	_, ok := vm.Interpret(ObjectValue(fn.header), 0)
	assert.False(t, ok)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not enough arguments")
}

func TestCallNonFunctionError(t *testing.T) {
	var errs []error
	vm := NewVM(VMConfig{OnError: func(err error) { errs = append(errs, err) }})
	_, ok := vm.Interpret(NumberValue(1), 0)
	assert.False(t, ok)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not callable")
}

func TestPrintPlaceholders(t *testing.T) {
	var out strings.Builder
	vm := NewVM(VMConfig{Stdout: &out})
	RegisterStdlib(vm)

	source := `fn main() { println("{} and {}", 1, 2) }`
	var errs []error
	onError := func(err error) { errs = append(errs, err) }
	lexer := NewLexer(source, "<test>", onError)
	parser := NewParser(lexer, "<test>", onError)
	ast := parser.Parse()
	fn := Compile(ast, lexer, vm.Heap(), &CompilerConfig{Module: "<test>"}, onError)
	require.NotNil(t, fn)
	top, _ := CompiledValue(fn)

	mainVal, ok := vm.Interpret(top, 0)
	require.True(t, ok)
	_, ok = vm.Interpret(mainVal, 0)
	require.True(t, ok)
	assert.Empty(t, errs)
	assert.Equal(t, "1 and 2\n", out.String())
}

func TestRangeResultIsHeapObject(t *testing.T) {
	result, errs := run(t, `fn main() { var t = range(0, 1); var x = t; return x }`, nil)
	assert.Empty(t, errs)
	assert.True(t, result.IsObject())
}

func TestRangeWithStep(t *testing.T) {
	var errs []error
	onError := func(err error) { errs = append(errs, err) }
	vm := NewVM(VMConfig{OnError: onError})
	RegisterStdlib(vm)

	// The first argument goes on top, as compileCall leaves it.
	vm.Push(NumberValue(2))
	vm.Push(NumberValue(10))
	vm.Push(NumberValue(0))
	rangeFn := vm.global.Get(ObjectValue(vm.Heap().NewString("range").header))
	require.True(t, rangeFn.IsObject())
	result, ok := vm.Interpret(rangeFn, 3)
	require.True(t, ok)
	require.Empty(t, errs)
	arr, isArray := result.AsObject().payload.(*arrayObject)
	require.True(t, isArray)
	assert.Equal(t, 5, arr.values.Len())
}
