package comp

import (
	"errors"
	"testing"

	"github.com/chazu/lutra/bytecode"
	"github.com/chazu/lutra/lisp"
)

func mustAssemble(t *testing.T, a *bytecode.Assembler) *bytecode.Function {
	t.Helper()
	fn, err := a.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func compileAndCall(t *testing.T, name string, fn *bytecode.Function, cfg Config, args ...lisp.Value) lisp.Value {
	t.Helper()
	env := lisp.NewEnv()
	if _, err := NativeCompile(env, name, fn, cfg); err != nil {
		t.Fatalf("compiling %s: %v", name, err)
	}
	return env.Funcall(env.Intern(name), args...)
}

// factorial builds fact(n) = n <= 1 ? 1 : n * self(n-1), recursing through
// the symbol self.
func factorial(t *testing.T, self string) *bytecode.Function {
	t.Helper()
	return mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1}).
		StackRef(0).
		Constant(lisp.MakeFixnum(1)).
		Op(bytecode.OpLeq, -1).
		GotoIfNil("recurse").
		Constant(lisp.MakeFixnum(1)).
		Return().
		Label("recurse").
		AtLabelDepth(1).
		Constant(lisp.Intern(self)).
		StackRef(1).
		Op(bytecode.OpSub1, 0).
		Call(1).
		Op(bytecode.OpMult, -1).
		Return())
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestCompileAddition(t *testing.T) {
	fn := mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{}).
		Constant(lisp.Intern("+")).
		Constant(lisp.MakeFixnum(1)).
		Constant(lisp.MakeFixnum(2)).
		Call(2).
		Return())
	got := compileAndCall(t, "e2e-add", fn, DefaultConfig())
	if !got.IsFixnum() || got.Fixnum() != 3 {
		t.Errorf("(+ 1 2) = %v, want 3", got)
	}
}

func TestCompileConditional(t *testing.T) {
	fn := mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1}).
		StackRef(0).
		GotoIfNil("else").
		Constant(lisp.Intern("a")).
		Return().
		Label("else").
		AtLabelDepth(1).
		Constant(lisp.Intern("b")).
		Return())
	env := lisp.NewEnv()
	if _, err := NativeCompile(env, "e2e-if", fn, DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	if got := env.Funcall(env.Intern("e2e-if"), lisp.Nil); got != lisp.Intern("b") {
		t.Errorf("(if nil 'a 'b) = %v, want b", got)
	}
	if got := env.Funcall(env.Intern("e2e-if"), lisp.T); got != lisp.Intern("a") {
		t.Errorf("(if t 'a 'b) = %v, want a", got)
	}
}

func TestCompileFactorial(t *testing.T) {
	got := compileAndCall(t, "e2e-fact", factorial(t, "e2e-fact"),
		Config{Speed: 2}, lisp.MakeFixnum(5))
	if !got.IsFixnum() || got.Fixnum() != 120 {
		t.Errorf("fact(5) = %v, want 120", got)
	}
}

func TestCompileCatchThrow(t *testing.T) {
	tag := lisp.Intern("e2e-tag")
	fn := mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{}).
		Constant(tag).
		PushCatch("caught").
		Constant(lisp.Intern("throw")).
		Constant(tag).
		Constant(lisp.MakeFixnum(7)).
		Call(2).
		Return().
		Label("caught").
		AtLabelDepth(1).
		Return())
	env := lisp.NewEnv()
	before := lisp.CurrentThread().HandlerList
	if _, err := NativeCompile(env, "e2e-catch", fn, DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	got := env.Funcall(env.Intern("e2e-catch"))
	if !got.IsFixnum() || got.Fixnum() != 7 {
		t.Errorf("caught value = %v, want 7", got)
	}
	if lisp.CurrentThread().HandlerList != before {
		t.Error("handler chain not restored after catch")
	}
}

// ---------------------------------------------------------------------------
// Lowering details
// ---------------------------------------------------------------------------

func TestDiscardPreservesTop(t *testing.T) {
	// stack-ref0, add1, discardN(1|preserve), return: x -> x+1 with the
	// preserved top overwriting the dropped slot.
	fn := &bytecode.Function{
		Code: []byte{
			byte(bytecode.OpStackRef),
			byte(bytecode.OpAdd1),
			byte(bytecode.OpDiscardN), 0x81,
			byte(bytecode.OpReturn),
		},
		MaxDepth: 2,
		ArgSpec:  bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1},
	}
	got := compileAndCall(t, "e2e-discardn", fn, DefaultConfig(), lisp.MakeFixnum(5))
	if !got.IsFixnum() || got.Fixnum() != 6 {
		t.Errorf("got %v, want 6", got)
	}
}

func TestHandlerPushPopDiscipline(t *testing.T) {
	fn := mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{}).
		Constant(lisp.Intern("outer-tag")).
		PushCatch("h1").
		Constant(lisp.Intern("inner-tag")).
		PushCatch("h2").
		Op(bytecode.OpPopHandler, 0).
		Op(bytecode.OpPopHandler, 0).
		Constant(lisp.Intern("done")).
		Return().
		Label("h1").
		AtLabelDepth(1).
		Return().
		Label("h2").
		AtLabelDepth(1).
		Return())
	env := lisp.NewEnv()
	before := lisp.CurrentThread().HandlerList
	if _, err := NativeCompile(env, "e2e-discipline", fn, DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	if got := env.Funcall(env.Intern("e2e-discipline")); got != lisp.Intern("done") {
		t.Errorf("got %v, want done", got)
	}
	if lisp.CurrentThread().HandlerList != before {
		t.Error("pops did not rebalance the handler chain")
	}
}

// ---------------------------------------------------------------------------
// Fast paths
// ---------------------------------------------------------------------------

func unaryFn(t *testing.T, op bytecode.Opcode) *bytecode.Function {
	t.Helper()
	return mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1}).
		StackRef(0).
		Op(op, 0).
		Return())
}

func TestArithFastPathAgreesWithRuntime(t *testing.T) {
	cases := []struct {
		name  string
		op    bytecode.Opcode
		ref   func(lisp.Value) lisp.Value
		edges []int64
	}{
		{"add1", bytecode.OpAdd1, lisp.Fadd1,
			[]int64{0, 41, -1, lisp.MostPositiveFixnum - 1, lisp.MostPositiveFixnum}},
		{"sub1", bytecode.OpSub1, lisp.Fsub1,
			[]int64{0, 41, -1, lisp.MostNegativeFixnum + 1, lisp.MostNegativeFixnum}},
		{"negate", bytecode.OpNegate, lisp.Fnegate,
			[]int64{0, 41, -41, lisp.MostPositiveFixnum, lisp.MostNegativeFixnum}},
	}
	for _, tc := range cases {
		for _, speed := range []int{0, 1} {
			env := lisp.NewEnv()
			name := "fp-" + tc.name + string(rune('0'+speed))
			if _, err := NativeCompile(env, name, unaryFn(t, tc.op), Config{Speed: speed}); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			for _, n := range tc.edges {
				arg := lisp.MakeFixnum(n)
				got := env.Funcall(env.Intern(name), arg)
				want := tc.ref(arg)
				if lisp.Fequal(got, want) != lisp.T {
					t.Errorf("%s(%d) speed %d: got %v, want %v", tc.name, n, speed, got, want)
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Call resolution
// ---------------------------------------------------------------------------

func TestSelfCallElision(t *testing.T) {
	env := lisp.NewEnv()
	c, err := newCompiler(env, "elide-fact", factorial(t, "elide-fact"), Config{Speed: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer c.ctx.Release()
	if err := c.compile(); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.imp.decls["Ffuncall"]; ok {
		t.Error("recursive call went through generic dispatch instead of being elided")
	}
}

func TestSelfCallElisionHoldsOff(t *testing.T) {
	holdoffs := []struct {
		name string
		fn   func(t *testing.T) *bytecode.Function
	}{
		// Callee symbol is not the function under compilation.
		{"other-callee", func(t *testing.T) *bytecode.Function {
			return factorial(t, "elide-unrelated-never-defined")
		}},
		// Argument count disagrees with the arity.
		{"argc-mismatch", func(t *testing.T) *bytecode.Function {
			return mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1}).
				Constant(lisp.Intern("holdoff-argc")).
				StackRef(1).
				StackRef(2).
				Call(2).
				Return())
		}},
	}
	for _, h := range holdoffs {
		name := "holdoff-argc"
		if h.name == "other-callee" {
			name = "holdoff-other"
		}
		env := lisp.NewEnv()
		c, err := newCompiler(env, name, h.fn(t), Config{Speed: 2})
		if err != nil {
			t.Fatalf("%s: %v", h.name, err)
		}
		if err := c.compile(); err != nil {
			c.ctx.Release()
			t.Fatalf("%s: %v", h.name, err)
		}
		if _, ok := c.imp.decls["Ffuncall"]; !ok {
			t.Errorf("%s: call was elided but must not be", h.name)
		}
		c.ctx.Release()
	}
}

func TestDeclarationCacheDeclaresOnce(t *testing.T) {
	fn := mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{MinArgs: 2, MaxArgs: 2}).
		StackRef(1).
		StackRef(1).
		Op(bytecode.OpCons, -1).
		StackRef(1).
		Op(bytecode.OpCons, -1).
		Return())
	env := lisp.NewEnv()
	c, err := newCompiler(env, "decl-cache", fn, Config{Speed: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer c.ctx.Release()
	if err := c.compile(); err != nil {
		t.Fatal(err)
	}
	first := c.imp.get(c.abi, "Fcons", 2)
	second := c.imp.get(c.abi, "Fcons", 2)
	if first != second {
		t.Error("two handles for one routine")
	}
	if c.ctx.GetFunction("Fcons") != first {
		t.Error("cached handle does not match the unit's declaration")
	}
	// A duplicate declaration would fail here.
	if _, err := c.ctx.Compile(env.Resolve); err != nil {
		t.Fatalf("unit with repeated routine uses failed to compile: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Rejections
// ---------------------------------------------------------------------------

func TestRejectsRestArgs(t *testing.T) {
	fn := &bytecode.Function{
		Code:     []byte{byte(bytecode.OpReturn)},
		MaxDepth: 1,
		ArgSpec:  bytecode.ArgSpec{MinArgs: 0, MaxArgs: 0, Rest: true},
	}
	_, err := NativeCompile(lisp.NewEnv(), "rejects-rest", fn, DefaultConfig())
	if !errors.Is(err, ErrRestArgs) {
		t.Fatalf("want ErrRestArgs, got %v", err)
	}
}

func TestRejectsSwitch(t *testing.T) {
	fn := &bytecode.Function{
		Code: []byte{
			byte(bytecode.OpConstant), byte(bytecode.OpConstant),
			byte(bytecode.OpSwitch), byte(bytecode.OpReturn),
		},
		Constants: []lisp.Value{lisp.Nil},
		MaxDepth:  2,
	}
	_, err := NativeCompile(lisp.NewEnv(), "rejects-switch", fn, DefaultConfig())
	if !errors.Is(err, ErrUnsupportedOpcode) {
		t.Fatalf("want ErrUnsupportedOpcode, got %v", err)
	}
}

func TestRejectsStackOverrun(t *testing.T) {
	fn := &bytecode.Function{
		Code: []byte{
			byte(bytecode.OpConstant), byte(bytecode.OpConstant),
			byte(bytecode.OpReturn),
		},
		Constants: []lisp.Value{lisp.MakeFixnum(42)},
		MaxDepth:  0,
	}
	_, err := NativeCompile(lisp.NewEnv(), "rejects-depth", fn, DefaultConfig())
	if !errors.Is(err, ErrStackDepth) {
		t.Fatalf("want ErrStackDepth, got %v", err)
	}
}

func TestRejectsStackUnderrun(t *testing.T) {
	underruns := []struct {
		name string
		code []byte
	}{
		{"call", []byte{byte(bytecode.OpCall) + 1, byte(bytecode.OpReturn)}},
		{"return", []byte{byte(bytecode.OpReturn)}},
		{"stack-ref", []byte{byte(bytecode.OpStackRef) + 1, byte(bytecode.OpReturn)}},
	}
	for _, tc := range underruns {
		fn := &bytecode.Function{Code: tc.code, MaxDepth: 2}
		_, err := NativeCompile(lisp.NewEnv(), "rejects-underrun-"+tc.name, fn, DefaultConfig())
		if !errors.Is(err, ErrStackDepth) {
			t.Errorf("%s: want ErrStackDepth, got %v", tc.name, err)
		}
	}
}

func TestRejectsBranchWithoutFallthrough(t *testing.T) {
	// A conditional branch as the last instruction has no fallthrough
	// block to continue into.
	fn := &bytecode.Function{
		Code: []byte{
			byte(bytecode.OpConstant),
			byte(bytecode.OpGotoIfNil), 0, 0,
		},
		Constants: []lisp.Value{lisp.Nil},
		MaxDepth:  1,
	}
	_, err := NativeCompile(lisp.NewEnv(), "rejects-open-branch", fn, DefaultConfig())
	if err == nil {
		t.Fatal("branch with no fallthrough compiled")
	}
}

func TestCopiedCalleeUsesGenericDispatch(t *testing.T) {
	// A callee slot filled by dup or stack-ref holds a runtime copy, not
	// a literal load; neither self-call elision nor direct builtin calls
	// may fire on it.
	copiers := []struct {
		name string
		op   func(a *bytecode.Assembler) *bytecode.Assembler
	}{
		{"copied-callee-dup", func(a *bytecode.Assembler) *bytecode.Assembler {
			return a.Op(bytecode.OpDup, 1)
		}},
		{"copied-callee-ref", func(a *bytecode.Assembler) *bytecode.Assembler {
			return a.StackRef(0)
		}},
	}
	for _, tc := range copiers {
		fn := mustAssemble(t, tc.op(bytecode.NewAssembler(bytecode.ArgSpec{}).
			Constant(lisp.Intern(tc.name))).
			Call(0).
			Return())
		c, err := newCompiler(lisp.NewEnv(), tc.name, fn, Config{Speed: 2})
		if err != nil {
			t.Fatal(err)
		}
		if err := c.compile(); err != nil {
			c.ctx.Release()
			t.Fatal(err)
		}
		if _, ok := c.imp.decls["Ffuncall"]; !ok {
			t.Errorf("%s: copied callee slot was trusted as a constant", tc.name)
		}
		c.ctx.Release()
	}
}

func TestRelativeBranchForward(t *testing.T) {
	// abs(n): the conditional skips the negate when n is not below zero.
	// Relative targets count from the operand byte with a bias of 127.
	fn := &bytecode.Function{
		Code: []byte{
			byte(bytecode.OpStackRef),
			byte(bytecode.OpConstant),
			byte(bytecode.OpLss),
			byte(bytecode.OpRGotoIfNil), 129,
			byte(bytecode.OpNegate),
			byte(bytecode.OpReturn),
		},
		Constants: []lisp.Value{lisp.MakeFixnum(0)},
		MaxDepth:  3,
		ArgSpec:   bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1},
	}
	env := lisp.NewEnv()
	if _, err := NativeCompile(env, "e2e-abs", fn, DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct{ in, want int64 }{{-4, 4}, {5, 5}, {0, 0}} {
		got := env.Funcall(env.Intern("e2e-abs"), lisp.MakeFixnum(tc.in))
		if !got.IsFixnum() || got.Fixnum() != tc.want {
			t.Errorf("abs(%d): got %v, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRelativeBranchBackward(t *testing.T) {
	// countdown(n) decrements to zero through a backward relative jump
	// to offset 0.
	fn := &bytecode.Function{
		Code: []byte{
			byte(bytecode.OpStackRef),
			byte(bytecode.OpConstant),
			byte(bytecode.OpLeq),
			byte(bytecode.OpGotoIfNil), 7, 0,
			byte(bytecode.OpReturn),
			byte(bytecode.OpSub1),
			byte(bytecode.OpRGoto), 118,
		},
		Constants: []lisp.Value{lisp.MakeFixnum(0)},
		MaxDepth:  3,
		ArgSpec:   bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1},
	}
	got := compileAndCall(t, "e2e-countdown", fn, DefaultConfig(), lisp.MakeFixnum(3))
	if !got.IsFixnum() || got.Fixnum() != 0 {
		t.Errorf("countdown(3): got %v, want 0", got)
	}
}
