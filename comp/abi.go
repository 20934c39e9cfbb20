package comp

import (
	"fmt"

	"github.com/chazu/lutra/ir"
	"github.com/chazu/lutra/lisp"
)

// abi holds the backend declarations that mirror the host runtime's memory
// layouts, plus the small always-inline helper functions the compiler core
// leans on. Generated code manipulates live host objects through these
// declarations, so every offset is verified against the runtime's own
// numbers before any code is emitted.
type abi struct {
	ctx *ir.Context

	boolT *ir.Type
	i64   *ir.Type
	u64   *ir.Type

	// lispObj is the tagged value word.
	lispObj    *ir.Type
	lispObjPtr *ir.Type

	cons    *ir.Type
	consCar *ir.Field
	consCdr *ir.Field
	consPtr *ir.Type

	jmpBuf     *ir.Type
	handler    *ir.Type
	hVal       *ir.Field
	hNext      *ir.Field
	hJmp       *ir.Field
	handlerPtr *ir.Type

	thread        *ir.Type
	thHandlerList *ir.Field
	threadPtr     *ir.Type

	// Inline helpers, defined once per unit.
	boolToObj  *ir.Function
	carFn      *ir.Function
	cdrFn      *ir.Function
	setcarFn   *ir.Function
	setcdrFn   *ir.Function
	add1Fn     *ir.Function
	sub1Fn     *ir.Function
	negateFn   *ir.Function
	numberpFn  *ir.Function
	integerpFn *ir.Function
}

// Tag constants baked into emitted code.
const (
	tagMaskWord  = 1<<lisp.GCTypeBits - 1
	fixnumMask   = 1<<lisp.IntTypeBits - 1
	mostPositive = lisp.MostPositiveFixnum
	mostNegative = lisp.MostNegativeFixnum
)

func newABI(ctx *ir.Context, imp *importSet) (*abi, error) {
	a := &abi{ctx: ctx}
	a.boolT = ctx.Type(ir.KindBool)
	a.i64 = ctx.Type(ir.KindInt64)
	a.u64 = ctx.Type(ir.KindUInt64)
	a.lispObj = a.u64
	a.lispObjPtr = ctx.PointerType(a.lispObj)

	a.declareCons()
	a.declareHandler()
	a.declareThread()
	if err := a.verify(); err != nil {
		return nil, err
	}
	a.defineBoolToObj()
	a.defineCarCdr(imp)
	a.defineSetcarSetcdr(imp)
	a.defineArithFastPaths(imp)
	a.defineNumericPredicates(imp)
	return a, nil
}

func (a *abi) declareCons() {
	a.consCar = a.ctx.NewField(a.lispObj, "car")
	a.consCdr = a.ctx.NewField(a.lispObj, "cdr")
	a.cons = a.ctx.NewStructType("cons", a.consCar, a.consCdr)
	a.consPtr = a.ctx.PointerType(a.cons)
}

// declareHandler mirrors the runtime's handler record. Only val, next and
// jmp are named; the rest of the record is padding computed from the
// runtime's published offsets, so layout drift on either side shows up in
// verify rather than as corruption.
func (a *abi) declareHandler() {
	u8 := a.ctx.Type(ir.KindUInt8)
	a.jmpBuf = a.ctx.ArrayType(u8, int(lisp.JmpBufSize))
	a.handler = a.ctx.NewOpaqueStructType("handler")
	a.handlerPtr = a.ctx.PointerType(a.handler)

	pad0 := a.ctx.NewField(a.ctx.ArrayType(u8, int(lisp.HandlerValOffset)), "pad0")
	a.hVal = a.ctx.NewField(a.lispObj, "val")
	pad1 := a.ctx.NewField(a.ctx.ArrayType(u8,
		int(lisp.HandlerNextOffset-(lisp.HandlerValOffset+8))), "pad1")
	a.hNext = a.ctx.NewField(a.handlerPtr, "next")
	pad2 := a.ctx.NewField(a.ctx.ArrayType(u8,
		int(lisp.HandlerJmpOffset-(lisp.HandlerNextOffset+lisp.NextPtrSize))), "pad2")
	a.hJmp = a.ctx.NewField(a.jmpBuf, "jmp")
	pad3 := a.ctx.NewField(a.ctx.ArrayType(u8,
		int(lisp.HandlerSize-(lisp.HandlerJmpOffset+lisp.JmpBufSize))), "pad3")
	a.ctx.SetFields(a.handler, pad0, a.hVal, pad1, a.hNext, pad2, a.hJmp, pad3)
}

// declareThread mirrors the per-thread state far enough to reach the
// handler-stack head; everything around it stays opaque.
func (a *abi) declareThread() {
	u8 := a.ctx.Type(ir.KindUInt8)
	a.thread = a.ctx.NewOpaqueStructType("thread_state")
	a.threadPtr = a.ctx.PointerType(a.thread)
	pad0 := a.ctx.NewField(a.ctx.ArrayType(u8, int(lisp.HandlerListOffset)), "pad0")
	a.thHandlerList = a.ctx.NewField(a.handlerPtr, "m_handlerlist")
	pad1 := a.ctx.NewField(a.ctx.ArrayType(u8,
		int(lisp.ThreadStateSize-(lisp.HandlerListOffset+lisp.NextPtrSize))), "pad1")
	a.ctx.SetFields(a.thread, pad0, a.thHandlerList, pad1)
}

// verify fails fast when the declared layouts and the live runtime
// disagree.
func (a *abi) verify() error {
	checks := []struct {
		what      string
		got, want uintptr
	}{
		{"cons size", a.cons.Size(), lisp.ConsSize},
		{"cons.car offset", a.consCar.Offset(), lisp.ConsCarOffset},
		{"cons.cdr offset", a.consCdr.Offset(), lisp.ConsCdrOffset},
		{"handler size", a.handler.Size(), lisp.HandlerSize},
		{"handler.val offset", a.hVal.Offset(), lisp.HandlerValOffset},
		{"handler.next offset", a.hNext.Offset(), lisp.HandlerNextOffset},
		{"handler.jmp offset", a.hJmp.Offset(), lisp.HandlerJmpOffset},
		{"thread size", a.thread.Size(), lisp.ThreadStateSize},
		{"thread.m_handlerlist offset", a.thHandlerList.Offset(), lisp.HandlerListOffset},
	}
	for _, c := range checks {
		if c.got != c.want {
			return fmt.Errorf("%w: abi mismatch: %s declared %d, runtime %d",
				ErrBackend, c.what, c.got, c.want)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Expression helpers
// ---------------------------------------------------------------------------
//
// The tagged word is one unsigned type end to end; every reinterpretation
// (fixnum payload, cons pointer, untagged address) is an explicit cast at
// the use site rather than a union member access.

// obj materializes a live value as an immediate word. The value must be
// kept alive by the runtime (interned symbol, constant-vector member).
func (a *abi) obj(v lisp.Value) ir.RValue {
	return a.ctx.ConstInt(a.lispObj, int64(v.Word()))
}

// taggedP tests the low tag bits: ((v - tag) & mask) == 0.
func (a *abi) taggedP(v ir.RValue, tag lisp.Tag) ir.RValue {
	return a.ctx.NewComparison(ir.CmpEq,
		a.ctx.NewBinaryOp(ir.OpAnd, a.u64,
			a.ctx.NewBinaryOp(ir.OpSub, a.u64, v, a.ctx.ConstInt(a.u64, int64(tag))),
			a.ctx.ConstInt(a.u64, tagMaskWord)),
		a.ctx.ConstInt(a.u64, 0))
}

// fixnumP tests the two-bit integer tag.
func (a *abi) fixnumP(v ir.RValue) ir.RValue {
	return a.ctx.NewComparison(ir.CmpEq,
		a.ctx.NewBinaryOp(ir.OpAnd, a.u64,
			a.ctx.NewBinaryOp(ir.OpSub, a.u64, v,
				a.ctx.ConstInt(a.u64, int64(lisp.TagInt0))),
			a.ctx.ConstInt(a.u64, fixnumMask)),
		a.ctx.ConstInt(a.u64, 0))
}

// xFixnum extracts the payload with an arithmetic shift.
func (a *abi) xFixnum(v ir.RValue) ir.RValue {
	return a.ctx.NewBinaryOp(ir.OpShr, a.i64,
		a.ctx.NewCast(v, a.i64),
		a.ctx.ConstInt(a.i64, lisp.IntTypeBits))
}

// makeFixnum re-tags a payload: (n << IntTypeBits) + tag.
func (a *abi) makeFixnum(n ir.RValue) ir.RValue {
	return a.ctx.NewCast(
		a.ctx.NewBinaryOp(ir.OpAdd, a.i64,
			a.ctx.NewBinaryOp(ir.OpShl, a.i64, n, a.ctx.ConstInt(a.i64, lisp.IntTypeBits)),
			a.ctx.ConstInt(a.i64, int64(lisp.TagInt0))),
		a.u64)
}

// truthy is v != nil, as a backend boolean.
func (a *abi) truthy(v ir.RValue) ir.RValue {
	return a.ctx.NewComparison(ir.CmpNe, v, a.obj(lisp.Nil))
}

// eq is direct word identity.
func (a *abi) eq(x, y ir.RValue) ir.RValue {
	return a.ctx.NewComparison(ir.CmpEq, x, y)
}

// xConsPtr untags a cons word into a struct pointer.
func (a *abi) xConsPtr(v ir.RValue) ir.RValue {
	return a.ctx.NewCast(
		a.ctx.NewBinaryOp(ir.OpSub, a.u64, v,
			a.ctx.ConstInt(a.u64, int64(lisp.TagCons))),
		a.consPtr)
}

// xUntag strips whatever tag v carries.
func (a *abi) xUntag(v ir.RValue) ir.RValue {
	return a.ctx.NewBinaryOp(ir.OpAnd, a.u64, v,
		a.ctx.NewUnaryOp(ir.OpBitNot, a.u64, a.ctx.ConstInt(a.u64, tagMaskWord)))
}

// pureP is the read-only-region bounds check on an untagged pointer:
// ptr - start <= size as one unsigned compare.
func (a *abi) pureP(ptr ir.RValue) ir.RValue {
	return a.ctx.NewComparison(ir.CmpLe,
		a.ctx.NewBinaryOp(ir.OpSub, a.u64, ptr,
			a.ctx.ConstInt(a.u64, int64(lisp.PureStart()))),
		a.ctx.ConstInt(a.u64, int64(lisp.PureSize)))
}

// currentThread is the address of the executing thread's state.
func (a *abi) currentThread() ir.RValue {
	return a.ctx.ConstPtr(a.threadPtr, lisp.CurrentThreadAddr())
}

// handlerList is the thread's handler-stack head lvalue.
func (a *abi) handlerList() ir.LValue {
	return a.ctx.DereferenceField(a.currentThread(), a.thHandlerList)
}

// ---------------------------------------------------------------------------
// Inline helper functions
// ---------------------------------------------------------------------------

func (a *abi) defineBoolToObj() {
	c := a.ctx
	fn := c.NewFunction(ir.FunctionAlwaysInline, a.lispObj, "bool_to_lisp_obj",
		[]*ir.Type{a.boolT}, []string{"b"})
	entry := fn.NewBlock("entry")
	bt := fn.NewBlock("ret_t")
	bnil := fn.NewBlock("ret_nil")
	entry.EndWithConditional(fn.Param(0), bt, bnil)
	bt.EndWithReturn(a.obj(lisp.T))
	bnil.EndWithReturn(a.obj(lisp.Nil))
	a.boolToObj = fn
}

// defineCarCdr builds car and cdr with the list discipline: nil passes
// through, a cons loads the slot, anything else signals through the
// runtime.
func (a *abi) defineCarCdr(imp *importSet) {
	build := func(name string, field *ir.Field) *ir.Function {
		c := a.ctx
		fn := c.NewFunction(ir.FunctionAlwaysInline, a.lispObj, name,
			[]*ir.Type{a.lispObj}, []string{"v"})
		entry := fn.NewBlock("entry")
		isCons := fn.NewBlock("is_cons")
		notCons := fn.NewBlock("not_cons")
		signal := fn.NewBlock("signal")
		ret := fn.NewBlock("ret_nil")
		entry.EndWithConditional(a.taggedP(fn.Param(0), lisp.TagCons), isCons, notCons)
		isCons.EndWithReturn(c.DereferenceField(a.xConsPtr(fn.Param(0)), field))
		notCons.EndWithConditional(a.eq(fn.Param(0), a.obj(lisp.Nil)), ret, signal)
		ret.EndWithReturn(a.obj(lisp.Nil))
		signal.AddEval(c.NewCall(imp.get(a, "wrong_type_argument", 2),
			a.obj(lisp.Qlistp), fn.Param(0)))
		signal.EndWithReturn(a.obj(lisp.Nil))
		return fn
	}
	a.carFn = build("car", a.consCar)
	a.cdrFn = build("cdr", a.consCdr)
}

// defineSetcarSetcdr builds the mutating pair with the cons type check and
// the read-only-region guard in front of the store.
func (a *abi) defineSetcarSetcdr(imp *importSet) {
	build := func(name string, field *ir.Field) *ir.Function {
		c := a.ctx
		fn := c.NewFunction(ir.FunctionAlwaysInline, a.lispObj, name,
			[]*ir.Type{a.lispObj, a.lispObj}, []string{"cell", "new"})
		entry := fn.NewBlock("entry")
		typeOK := fn.NewBlock("type_ok")
		badType := fn.NewBlock("bad_type")
		impure := fn.NewBlock("impure")
		pure := fn.NewBlock("pure")
		entry.EndWithConditional(a.taggedP(fn.Param(0), lisp.TagCons), typeOK, badType)
		badType.AddEval(c.NewCall(imp.get(a, "wrong_type_argument", 2),
			a.obj(lisp.Qconsp), fn.Param(0)))
		badType.EndWithReturn(a.obj(lisp.Nil))
		typeOK.EndWithConditional(a.pureP(a.xUntag(fn.Param(0))), pure, impure)
		pure.AddEval(c.NewCall(imp.get(a, "pure_write_error", 1), fn.Param(0)))
		pure.EndWithReturn(a.obj(lisp.Nil))
		impure.AddAssign(c.DereferenceField(a.xConsPtr(fn.Param(0)), field), fn.Param(1))
		impure.EndWithReturn(fn.Param(1))
		return fn
	}
	a.setcarFn = build("setcar", a.consCar)
	a.setcdrFn = build("setcdr", a.consCdr)
}

// defineArithFastPaths builds add1, sub1 and negate: an immediate-integer
// path guarded against the value whose result would leave the fixnum
// range, falling back to the runtime's full numeric tower.
func (a *abi) defineArithFastPaths(imp *importSet) {
	build := func(name, slow string, boundary int64, delta int64, negate bool) *ir.Function {
		c := a.ctx
		fn := c.NewFunction(ir.FunctionAlwaysInline, a.lispObj, name,
			[]*ir.Type{a.lispObj}, []string{"v"})
		entry := fn.NewBlock("entry")
		inRange := fn.NewBlock("in_range")
		fast := fn.NewBlock("fast")
		slowBB := fn.NewBlock("slow")
		entry.EndWithConditional(a.fixnumP(fn.Param(0)), inRange, slowBB)
		n := a.xFixnum(fn.Param(0))
		inRange.EndWithConditional(
			c.NewComparison(ir.CmpNe, n, c.ConstInt(a.i64, boundary)), fast, slowBB)
		var res ir.RValue
		if negate {
			res = c.NewUnaryOp(ir.OpNeg, a.i64, n)
		} else {
			res = c.NewBinaryOp(ir.OpAdd, a.i64, n, c.ConstInt(a.i64, delta))
		}
		fast.EndWithReturn(a.makeFixnum(res))
		slowBB.EndWithReturn(c.NewCall(imp.get(a, slow, 1), fn.Param(0)))
		return fn
	}
	a.add1Fn = build("add1", "Fadd1", mostPositive, 1, false)
	a.sub1Fn = build("sub1", "Fsub1", mostNegative, -1, false)
	a.negateFn = build("negate", "Fnegate", mostNegative, 0, true)
}

// defineNumericPredicates builds numberp and integerp: tag tests inline,
// the vector-like kind check through the runtime helper.
func (a *abi) defineNumericPredicates(imp *importSet) {
	build := func(name string, includeFloat bool) *ir.Function {
		c := a.ctx
		fn := c.NewFunction(ir.FunctionAlwaysInline, a.boolT, name,
			[]*ir.Type{a.lispObj}, []string{"v"})
		entry := fn.NewBlock("entry")
		yes := fn.NewBlock("yes")
		checkVec := fn.NewBlock("check_vectorlike")
		vec := fn.NewBlock("is_vectorlike")
		no := fn.NewBlock("no")

		fast := a.fixnumP(fn.Param(0))
		if includeFloat {
			fast = c.NewBinaryOp(ir.OpLogicalOr, a.boolT, fast,
				a.taggedP(fn.Param(0), lisp.TagFloat))
		}
		entry.EndWithConditional(fast, yes, checkVec)
		yes.EndWithReturn(c.ConstInt(a.boolT, 1))
		checkVec.EndWithConditional(a.taggedP(fn.Param(0), lisp.TagVectorlike), vec, no)
		vec.EndWithReturn(c.NewCall(imp.get(a, "helper_PSEUDOVECTOR_TYPEP_XUNTAG", 2),
			fn.Param(0), c.ConstInt(a.i64, int64(lisp.PvecBignum))))
		no.EndWithReturn(c.ConstInt(a.boolT, 0))
		return fn
	}
	a.numberpFn = build("numberp", true)
	a.integerpFn = build("integerp", false)
}
