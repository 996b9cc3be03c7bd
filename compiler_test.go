package wisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileSource(t *testing.T, source string) (*functionObject, []error) {
	t.Helper()
	var errs []error
	onError := func(err error) { errs = append(errs, err) }
	lexer := NewLexer(source, "<test>", onError)
	parser := NewParser(lexer, "<test>", onError)
	ast := parser.Parse()
	heap := NewHeap()
	fn := Compile(ast, lexer, heap, &CompilerConfig{Module: "<test>"}, onError)
	return fn, errs
}

func lastOp(fn *functionObject) Op {
	return fn.compiled.code.Last().Op
}

func TestCompileProgramEndsWithMainLookupAndReturn(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { return 1 }`)
	require.Empty(t, errs)
	code := fn.compiled.code.Slice()
	require.GreaterOrEqual(t, len(code), 3)
	assert.Equal(t, OpReturn, code[len(code)-1].Op)
	assert.Equal(t, int16(1), code[len(code)-1].Arg)
	assert.Equal(t, OpGetGlobal, code[len(code)-2].Op)
	assert.Equal(t, OpPushConst, code[len(code)-3].Op)
}

func TestCompileBlockAlwaysEndsInReturn(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { 1 }`)
	require.Empty(t, errs)
	innerConst := fn.compiled.constants.At(0)
	require.True(t, innerConst.IsObject())
	inner := innerConst.AsObject().payload.(*functionObject)
	assert.Equal(t, OpReturn, lastOp(inner))
}

func TestCompileConstantPoolDeduplicatesEqualValues(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { var a = 5; var b = 5; return a }`)
	require.Empty(t, errs)
	innerConst := fn.compiled.constants.At(0)
	inner := innerConst.AsObject().payload.(*functionObject)

	fiveCount := 0
	for i := 0; i < inner.compiled.constants.Len(); i++ {
		v := inner.compiled.constants.At(i)
		if v.IsNumber() && v.AsNumber() == 5 {
			fiveCount++
		}
	}
	assert.Equal(t, 1, fiveCount, "compiling the literal 5 twice should share one constant slot")
}

func TestCompileJumpTargetsAreBackpatchedToRealOffsets(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { if 1 { return 2 } return 3 }`)
	require.Empty(t, errs)
	innerConst := fn.compiled.constants.At(0)
	inner := innerConst.AsObject().payload.(*functionObject)
	code := inner.compiled.code.Slice()

	for i, ins := range code {
		if ins.Op.isJump() {
			target := i + int(ins.Arg)
			assert.GreaterOrEqual(t, target, 0)
			assert.LessOrEqual(t, target, len(code), "jump at %d must land within bounds", i)
			assert.NotEqual(t, int16(0), ins.Arg, "jump arg must have been patched away from the zero placeholder")
		}
	}
}

func TestCompileBranchWithoutElsePushesNull(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { if 1 { return 2 } }`)
	require.Empty(t, errs)
	innerConst := fn.compiled.constants.At(0)
	inner := innerConst.AsObject().payload.(*functionObject)
	code := inner.compiled.code.Slice()

	foundElsePush := false
	for _, ins := range code {
		if ins.Op == OpPush && ins.Arg == 1 {
			foundElsePush = true
		}
	}
	assert.True(t, foundElsePush, "missing else branch should compile to a PUSH null")
}

func TestCompileBinaryOperandEmissionOrderIsRightThenLeft(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { return 10 - 3 }`)
	require.Empty(t, errs)
	innerConst := fn.compiled.constants.At(0)
	inner := innerConst.AsObject().payload.(*functionObject)
	code := inner.compiled.code.Slice()

	var pushedNumbers []float64
	for _, ins := range code {
		if ins.Op == OpPushConst {
			c := inner.compiled.constants.At(int(ins.Arg))
			if c.IsNumber() {
				pushedNumbers = append(pushedNumbers, c.AsNumber())
			}
		}
	}
	require.Len(t, pushedNumbers, 2)
	assert.Equal(t, float64(3), pushedNumbers[0], "RHS constant must be pushed first")
	assert.Equal(t, float64(10), pushedNumbers[1], "LHS constant must be pushed second, ending on top")
}

func TestCompileGlobalMirroringAtTopLevel(t *testing.T) {
	fn, errs := compileSource(t, `var x = 1`)
	require.Empty(t, errs)
	code := fn.compiled.code.Slice()

	sawSetGlobal := false
	for _, ins := range code {
		if ins.Op == OpSetGlobal {
			sawSetGlobal = true
		}
	}
	assert.True(t, sawSetGlobal, "top-level var decl must mirror into globals")
}

func TestCompileLocalVarDeclInsideFunctionDoesNotMirrorToGlobals(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { var x = 1; return x }`)
	require.Empty(t, errs)
	innerConst := fn.compiled.constants.At(0)
	inner := innerConst.AsObject().payload.(*functionObject)
	code := inner.compiled.code.Slice()

	for _, ins := range code {
		assert.NotEqual(t, OpSetGlobal, ins.Op, "a local var decl must not touch globals")
	}
}

// collectCloseArgs walks fn and every function nested in its constant pool,
// gathering every CLOSE instruction's Arg -- CLOSE is emitted in the
// function whose code creates the closure (the capturing function's
// lexical parent), which need not be the top-level one.
func collectCloseArgs(fn *functionObject, seen map[*functionObject]bool, out *[]int16) {
	if fn == nil || fn.compiled == nil || seen[fn] {
		return
	}
	seen[fn] = true
	for i := 0; i < fn.compiled.code.Len(); i++ {
		ins := fn.compiled.code.At(i)
		if ins.Op == OpClose {
			*out = append(*out, ins.Arg)
		}
	}
	for i := 0; i < fn.compiled.constants.Len(); i++ {
		v := fn.compiled.constants.At(i)
		if v.IsObject() {
			if nested, ok := v.AsObject().payload.(*functionObject); ok {
				collectCloseArgs(nested, seen, out)
			}
		}
	}
}

func TestCompileClosureEmitsCloseWithUpvalueCount(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { var make = fn(x) => fn(y) => x + y; return make }`)
	require.Empty(t, errs)

	var closeArgs []int16
	collectCloseArgs(fn, map[*functionObject]bool{}, &closeArgs)
	require.NotEmpty(t, closeArgs, "capturing x from the inner fn(y) must emit CLOSE somewhere in the nest")
	assert.Equal(t, int16(1), closeArgs[0], "fn(y) closes over exactly one upvalue, x")
}

func TestCompileUnaryOperators(t *testing.T) {
	cases := map[string]Op{
		"!true": OpNot,
		"-1":    OpNeg,
		"~1":    OpBnot,
		"++x":   OpInc,
		"--x":   OpDec,
	}
	for source, op := range cases {
		fn, errs := compileSource(t, "fn main() { var x = 1; return "+source+" }")
		require.Empty(t, errs, source)
		innerConst := fn.compiled.constants.At(0)
		inner := innerConst.AsObject().payload.(*functionObject)
		code := inner.compiled.code.Slice()
		found := false
		for _, ins := range code {
			if ins.Op == op {
				found = true
			}
		}
		assert.True(t, found, "expected %s to compile to %s", source, op)
	}
}

func TestCompilePropertyAccessEmitsGetPropAfterReceiver(t *testing.T) {
	fn, errs := compileSource(t, `fn main(argv) { return argv.at }`)
	require.Empty(t, errs)
	innerConst := fn.compiled.constants.At(0)
	inner := innerConst.AsObject().payload.(*functionObject)
	code := inner.compiled.code.Slice()
	require.NotEmpty(t, code)
	assert.Equal(t, OpGetProp, code[len(code)-2].Op)
}

func TestCompileAssignToUndeclaredIdentifierIsGlobal(t *testing.T) {
	fn, errs := compileSource(t, `fn main() { undeclared = 1; return 0 }`)
	require.Empty(t, errs)
	innerConst := fn.compiled.constants.At(0)
	inner := innerConst.AsObject().payload.(*functionObject)
	code := inner.compiled.code.Slice()

	sawSetGlobal := false
	for _, ins := range code {
		if ins.Op == OpSetGlobal {
			sawSetGlobal = true
		}
	}
	assert.True(t, sawSetGlobal)
}

func TestCompileInvalidAssignmentTargetReportsError(t *testing.T) {
	_, errs := compileSource(t, `fn main() { 1 = 2; return 0 }`)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "invalid assignment target")
}
