package ir

import (
	"strings"
	"testing"
	"unsafe"
)

func noImports(name string) (func([]uint64) uint64, bool) { return nil, false }

// ---------------------------------------------------------------------------
// Basics
// ---------------------------------------------------------------------------

func TestAddFunction(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	fn := c.NewFunction(FunctionExported, i64, "add", []*Type{i64, i64}, []string{"a", "b"})
	b := fn.NewBlock("entry")
	b.EndWithReturn(c.NewBinaryOp(OpAdd, i64, fn.Param(0), fn.Param(1)))

	res, err := c.Compile(noImports)
	if err != nil {
		t.Fatal(err)
	}
	add, err := res.Code("add")
	if err != nil {
		t.Fatal(err)
	}
	if got := add([]uint64{2, 3}); got != 5 {
		t.Errorf("add(2,3) = %d, want 5", got)
	}
}

func TestConditionalBranch(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	fn := c.NewFunction(FunctionExported, i64, "sign", []*Type{i64}, []string{"x"})
	entry := fn.NewBlock("entry")
	neg := fn.NewBlock("neg")
	pos := fn.NewBlock("pos")
	entry.EndWithConditional(
		c.NewComparison(CmpLt, fn.Param(0), c.ConstInt(i64, 0)), neg, pos)
	negOne := ^uint64(0)>>1 | 1<<63
	neg.EndWithReturn(c.ConstInt(i64, int64(negOne))) // -1 as a word
	pos.EndWithReturn(c.ConstInt(i64, 1))

	res, err := c.Compile(noImports)
	if err != nil {
		t.Fatal(err)
	}
	sign, _ := res.Code("sign")
	minusSeven := int64(-7)
	if got := int64(sign([]uint64{uint64(minusSeven)})); got != -1 {
		t.Errorf("sign(-7) = %d, want -1", got)
	}
	if got := int64(sign([]uint64{7})); got != 1 {
		t.Errorf("sign(7) = %d, want 1", got)
	}
}

func TestLoopWithLocal(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	fn := c.NewFunction(FunctionExported, i64, "sum_to", []*Type{i64}, []string{"n"})
	acc := fn.NewLocal(i64, "acc")
	i := fn.NewLocal(i64, "i")
	entry := fn.NewBlock("entry")
	loop := fn.NewBlock("loop")
	body := fn.NewBlock("body")
	done := fn.NewBlock("done")
	entry.AddAssign(acc, c.ConstInt(i64, 0))
	entry.AddAssign(i, c.ConstInt(i64, 1))
	entry.EndWithJump(loop)
	loop.EndWithConditional(c.NewComparison(CmpLe, i, fn.Param(0)), body, done)
	body.AddAssign(acc, c.NewBinaryOp(OpAdd, i64, acc, i))
	body.AddAssign(i, c.NewBinaryOp(OpAdd, i64, i, c.ConstInt(i64, 1)))
	body.EndWithJump(loop)
	done.EndWithReturn(acc)

	res, err := c.Compile(noImports)
	if err != nil {
		t.Fatal(err)
	}
	sum, _ := res.Code("sum_to")
	if got := sum([]uint64{10}); got != 55 {
		t.Errorf("sum_to(10) = %d, want 55", got)
	}
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// pair mirrors the declared struct below; stores through generated code
// must land in this Go memory.
type pair struct {
	A uint64
	B uint64
}

func TestStructStoreHitsRealMemory(t *testing.T) {
	c := NewContext()
	u64 := c.Type(KindUInt64)
	fa := c.NewField(u64, "a")
	fb := c.NewField(u64, "b")
	st := c.NewStructType("pair", fa, fb)
	if st.Size() != unsafe.Sizeof(pair{}) {
		t.Fatalf("declared size %d, host size %d", st.Size(), unsafe.Sizeof(pair{}))
	}
	pt := c.PointerType(st)

	fn := c.NewFunction(FunctionExported, u64, "swap_into", []*Type{pt}, []string{"p"})
	b := fn.NewBlock("entry")
	pfa := c.DereferenceField(fn.Param(0), fa)
	pfb := c.DereferenceField(fn.Param(0), fb)
	tmp := fn.NewLocal(u64, "tmp")
	b.AddAssign(tmp, pfa)
	b.AddAssign(pfa, pfb)
	b.AddAssign(pfb, tmp)
	b.EndWithReturn(pfa)

	res, err := c.Compile(noImports)
	if err != nil {
		t.Fatal(err)
	}
	swap, _ := res.Code("swap_into")

	p := &pair{A: 1, B: 2}
	got := swap([]uint64{uint64(uintptr(unsafe.Pointer(p)))})
	if got != 2 || p.A != 2 || p.B != 1 {
		t.Errorf("swap result %d, pair = %+v", got, *p)
	}
}

func TestArrayLocalIsContiguous(t *testing.T) {
	c := NewContext()
	u64 := c.Type(KindUInt64)
	fn := c.NewFunction(FunctionExported, u64, "fill", nil, nil)
	arr := fn.NewLocal(c.ArrayType(u64, 4), "arr")
	b := fn.NewBlock("entry")
	for i := 0; i < 4; i++ {
		b.AddAssign(c.ArrayAccess(arr, c.ConstInt(u64, int64(i))), c.ConstInt(u64, int64(10+i)))
	}
	// Read back through pointer arithmetic on the base address.
	base := c.AddressOf(c.ArrayAccess(arr, c.ConstInt(u64, 0)))
	third := c.Dereference(c.NewCast(
		c.NewBinaryOp(OpAdd, c.Type(KindUintPtr),
			c.NewCast(base, c.Type(KindUintPtr)),
			c.ConstInt(c.Type(KindUintPtr), 16)), c.PointerType(u64)))
	b.EndWithReturn(third)

	res, err := c.Compile(noImports)
	if err != nil {
		t.Fatal(err)
	}
	fill, _ := res.Code("fill")
	if got := fill(nil); got != 12 {
		t.Errorf("arr[2] through raw pointer = %d, want 12", got)
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func TestImportedCall(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	ext := c.NewFunction(FunctionImported, i64, "host_triple", []*Type{i64}, []string{"x"})
	fn := c.NewFunction(FunctionExported, i64, "via", []*Type{i64}, []string{"x"})
	b := fn.NewBlock("entry")
	b.EndWithReturn(c.NewCall(ext, fn.Param(0)))

	res, err := c.Compile(func(name string) (func([]uint64) uint64, bool) {
		if name != "host_triple" {
			return nil, false
		}
		return func(a []uint64) uint64 { return a[0] * 3 }, true
	})
	if err != nil {
		t.Fatal(err)
	}
	via, _ := res.Code("via")
	if got := via([]uint64{14}); got != 42 {
		t.Errorf("via(14) = %d, want 42", got)
	}
}

func TestUnresolvedImportFailsCompile(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	ext := c.NewFunction(FunctionImported, i64, "missing", nil, nil)
	fn := c.NewFunction(FunctionExported, i64, "f", nil, nil)
	fn.NewBlock("entry").EndWithReturn(c.NewCall(ext))
	if _, err := c.Compile(noImports); err == nil {
		t.Fatal("compile should fail on an unresolved import")
	}
}

func TestCallThroughPointer(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	fp := c.RegisterFuncPtr(c.FuncPtrType(i64, i64), func(a []uint64) uint64 {
		return a[0] + 100
	})
	fn := c.NewFunction(FunctionExported, i64, "indirect", []*Type{i64}, []string{"x"})
	fn.NewBlock("entry").EndWithReturn(c.NewCallThroughPtr(fp, fn.Param(0)))

	res, err := c.Compile(noImports)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := res.Code("indirect")
	if got := f([]uint64{1}); got != 101 {
		t.Errorf("indirect(1) = %d, want 101", got)
	}
}

func TestRecursion(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	fn := c.NewFunction(FunctionExported, i64, "fact", []*Type{i64}, []string{"n"})
	entry := fn.NewBlock("entry")
	base := fn.NewBlock("base")
	rec := fn.NewBlock("rec")
	entry.EndWithConditional(
		c.NewComparison(CmpLe, fn.Param(0), c.ConstInt(i64, 1)), base, rec)
	base.EndWithReturn(c.ConstInt(i64, 1))
	rec.EndWithReturn(c.NewBinaryOp(OpMul, i64, fn.Param(0),
		c.NewCall(fn, c.NewBinaryOp(OpSub, i64, fn.Param(0), c.ConstInt(i64, 1)))))

	res, err := c.Compile(noImports)
	if err != nil {
		t.Fatal(err)
	}
	fact, _ := res.Code("fact")
	if got := fact([]uint64{5}); got != 120 {
		t.Errorf("fact(5) = %d, want 120", got)
	}
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

type testJump struct{ buf uintptr }

func (j *testJump) UnwindBuf() uintptr { return j.buf }

func TestJumpWithoutCheckpointPropagates(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	ext := c.NewFunction(FunctionImported, i64, "jumper", nil, nil)
	fn := c.NewFunction(FunctionExported, i64, "plain", nil, nil)
	b := fn.NewBlock("entry")
	b.AddEval(c.NewCall(ext))
	b.EndWithReturn(c.ConstInt(i64, 1))

	res, err := c.Compile(func(name string) (func([]uint64) uint64, bool) {
		return func([]uint64) uint64 { panic(&testJump{buf: 0xdead}) }, true
	})
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := res.Code("plain")
	defer func() {
		if recover() == nil {
			t.Error("jump with no matching checkpoint should propagate")
		}
	}()
	plain(nil)
}

func TestCheckpointResumeThroughRuntime(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	u64p := c.PointerType(c.Type(KindUInt64))
	buf := c.ArrayType(c.Type(KindUInt64), 6)

	// register_buf captures the live buffer address, jump unwinds to it.
	var captured uintptr
	fn := c.NewFunction(FunctionExported, i64, "guarded", nil, nil)
	reg := c.NewFunction(FunctionImported, i64, "register_buf", []*Type{u64p}, []string{"p"})
	jmp := c.NewFunction(FunctionImported, i64, "jump", nil, nil)

	jb := fn.NewLocal(buf, "jb")
	res0 := fn.NewLocal(i64, "res")
	entry := fn.NewBlock("entry")
	guard := fn.NewBlock("guard")
	first := fn.NewBlock("first_pass")
	resumed := fn.NewBlock("resumed")
	bufPtr := c.NewCast(c.AddressOf(jb), u64p)
	entry.AddEval(c.NewCall(reg, bufPtr))
	entry.EndWithJump(guard)
	guard.AddAssign(res0, c.NewCheckpoint(bufPtr))
	guard.EndWithConditional(
		c.NewComparison(CmpEq, res0, c.ConstInt(i64, 0)), first, resumed)
	first.AddEval(c.NewCall(jmp))
	first.EndWithReturn(c.ConstInt(i64, 1))
	resumed.EndWithReturn(c.ConstInt(i64, 2))

	res, err := c.Compile(func(name string) (func([]uint64) uint64, bool) {
		switch name {
		case "register_buf":
			return func(a []uint64) uint64 { captured = uintptr(a[0]); return 0 }, true
		case "jump":
			return func([]uint64) uint64 { panic(&testJump{buf: captured}) }, true
		}
		return nil, false
	})
	if err != nil {
		t.Fatal(err)
	}
	guarded, _ := res.Code("guarded")
	if got := guarded(nil); got != 2 {
		t.Errorf("guarded() = %d, want 2 (resumed path)", got)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestUnterminatedBlockFailsCompile(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	fn := c.NewFunction(FunctionExported, i64, "f", nil, nil)
	fn.NewBlock("entry") // no terminator
	if _, err := c.Compile(noImports); err == nil {
		t.Fatal("compile should report the unterminated block")
	}
}

func TestDumpMentionsFunctions(t *testing.T) {
	c := NewContext()
	i64 := c.Type(KindInt64)
	fn := c.NewFunction(FunctionExported, i64, "answer", nil, nil)
	fn.NewBlock("entry").EndWithReturn(c.ConstInt(i64, 42))
	var sb strings.Builder
	if err := c.Dump(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.Contains(out, "answer") || !strings.Contains(out, "return") {
		t.Errorf("dump missing expected content:\n%s", out)
	}
}
