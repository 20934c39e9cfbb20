package ir

import (
	"fmt"
	"math"
	"unsafe"
)

// The executor walks the recorded instructions of a function over real
// process memory. Frame variables live in allocated buffers whose addresses
// are handed out like native stack slots: pointers formed from them can be
// passed to imported routines, stored into foreign structs, and indexed,
// and stores through them hit the same bytes.

type checkpointState struct {
	block   *Block
	stmt    int // index after the establishing assignment
	dstAddr uintptr
	dstType *Type
}

type activation struct {
	res    *Result
	fn     *Function
	frames [][]byte // one buffer per param, then per local
	chk    map[uintptr]*checkpointState

	blk *Block
	idx int
}

func (r *Result) call(fn *Function, args []uint64) uint64 {
	a := &activation{
		res: r,
		fn:  fn,
		chk: make(map[uintptr]*checkpointState),
	}
	for i := range fn.params {
		buf := make([]byte, 8)
		if i < len(args) {
			*(*uint64)(unsafe.Pointer(&buf[0])) = args[i]
		}
		a.frames = append(a.frames, buf)
	}
	for _, l := range fn.locals {
		size := l.typ.size
		if size < 8 {
			size = 8
		}
		a.frames = append(a.frames, make([]byte, size))
	}
	a.blk = fn.blocks[0]
	a.idx = 0
	return a.run()
}

func (a *activation) run() uint64 {
	for {
		ret, done := a.tryRun()
		if done {
			return ret
		}
	}
}

// tryRun executes until a return or until a non-local jump targeting one of
// this activation's checkpoints unwinds out of a call. In the latter case
// it repositions at the checkpoint's resume point and reports not-done.
func (a *activation) tryRun() (ret uint64, done bool) {
	defer func() {
		if r := recover(); r != nil {
			nlj, ok := r.(interface{ UnwindBuf() uintptr })
			if !ok {
				panic(r)
			}
			cp, ok := a.chk[nlj.UnwindBuf()]
			if !ok {
				panic(r)
			}
			a.store(cp.dstAddr, cp.dstType, 1)
			a.blk, a.idx = cp.block, cp.stmt
			done = false
		}
	}()
	for {
		b := a.blk
		for a.idx < len(b.stmts) {
			s := b.stmts[a.idx]
			a.idx++
			a.execStmt(b, s)
		}
		switch t := b.term; t.kind {
		case termJump:
			a.enter(t.then)
		case termCond:
			if a.eval(t.cond) != 0 {
				a.enter(t.then)
			} else {
				a.enter(t.els)
			}
		case termReturn:
			return a.eval(t.ret), true
		case termReturnVoid:
			return 0, true
		}
	}
}

func (a *activation) enter(b *Block) {
	a.blk = b
	a.idx = 0
}

func (a *activation) execStmt(b *Block, s statement) {
	if s.comment != "" {
		return
	}
	if s.dst == nil {
		a.eval(s.src)
		return
	}
	if cp, ok := s.src.(*checkpointExpr); ok {
		bufAddr := uintptr(a.eval(cp.buf))
		dstAddr := a.addrOf(s.dst)
		a.chk[bufAddr] = &checkpointState{
			block:   b,
			stmt:    a.idx,
			dstAddr: dstAddr,
			dstType: s.dst.Type(),
		}
		// Mark the buffer so foreign inspection sees it armed.
		*(*uint64)(unsafe.Pointer(bufAddr)) = uint64(dstAddr)
		a.store(dstAddr, s.dst.Type(), 0)
		return
	}
	t := s.dst.Type()
	if !t.IsScalar() {
		panic(fmt.Sprintf("ir: non-scalar assignment to %s in %q", t, a.fn.name))
	}
	a.store(a.addrOf(s.dst), t, a.eval(s.src))
}

// ---------------------------------------------------------------------------
// Addressing
// ---------------------------------------------------------------------------

func (a *activation) frameAddr(idx int) uintptr {
	return uintptr(unsafe.Pointer(&a.frames[idx][0]))
}

func (a *activation) addrOf(lv LValue) uintptr {
	switch e := lv.(type) {
	case *Param:
		if e.fn != a.fn {
			panic("ir: param from another function")
		}
		return a.frameAddr(e.idx)
	case *Local:
		if e.fn != a.fn {
			panic("ir: local from another function")
		}
		return a.frameAddr(len(a.fn.params) + e.idx)
	case *derefExpr:
		addr := uintptr(a.eval(e.ptr))
		if e.field != nil {
			addr += e.field.offset
		}
		return addr
	case *fieldExpr:
		return a.addrOf(e.base) + e.field.offset
	case *indexExpr:
		return a.addrOf(e.base) + uintptr(a.eval(e.idx))*e.typ.size
	default:
		panic(fmt.Sprintf("ir: unaddressable %T", lv))
	}
}

func (a *activation) load(addr uintptr, t *Type) uint64 {
	p := unsafe.Pointer(addr)
	switch t.size {
	case 1:
		return normalize(uint64(*(*uint8)(p)), t)
	case 2:
		return normalize(uint64(*(*uint16)(p)), t)
	case 4:
		return normalize(uint64(*(*uint32)(p)), t)
	default:
		return *(*uint64)(p)
	}
}

func (a *activation) store(addr uintptr, t *Type, w uint64) {
	p := unsafe.Pointer(addr)
	switch t.size {
	case 1:
		*(*uint8)(p) = uint8(w)
	case 2:
		*(*uint16)(p) = uint16(w)
	case 4:
		*(*uint32)(p) = uint32(w)
	default:
		*(*uint64)(p) = w
	}
}

// normalize masks a word to its type width, sign-extending signed types.
func normalize(w uint64, t *Type) uint64 {
	switch t.size {
	case 1:
		if t.signed {
			return uint64(int64(int8(w)))
		}
		return uint64(uint8(w))
	case 2:
		if t.signed {
			return uint64(int64(int16(w)))
		}
		return uint64(uint16(w))
	case 4:
		if t.signed {
			return uint64(int64(int32(w)))
		}
		return uint64(uint32(w))
	default:
		return w
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (a *activation) eval(rv RValue) uint64 {
	switch e := rv.(type) {
	case *constExpr:
		return e.word
	case *Param, *Local, *derefExpr, *fieldExpr, *indexExpr:
		lv := rv.(LValue)
		return a.load(a.addrOf(lv), lv.Type())
	case *addrExpr:
		return uint64(a.addrOf(e.lv))
	case *binaryExpr:
		return a.evalBinary(e)
	case *unaryExpr:
		return a.evalUnary(e)
	case *compareExpr:
		return a.evalCompare(e)
	case *castExpr:
		return a.evalCast(e)
	case *callExpr:
		return a.evalCall(e)
	case *callPtrExpr:
		return a.evalCallPtr(e)
	case *checkpointExpr:
		panic("ir: checkpoint outside an assignment")
	default:
		panic(fmt.Sprintf("ir: unknown expression %T", rv))
	}
}

func (a *activation) evalBinary(e *binaryExpr) uint64 {
	x, y := a.eval(e.a), a.eval(e.b)
	if e.typ.kind == KindFloat64 {
		fx, fy := math.Float64frombits(x), math.Float64frombits(y)
		var f float64
		switch e.op {
		case OpAdd:
			f = fx + fy
		case OpSub:
			f = fx - fy
		case OpMul:
			f = fx * fy
		case OpDiv:
			f = fx / fy
		default:
			panic("ir: float bitwise op")
		}
		return math.Float64bits(f)
	}
	var w uint64
	switch e.op {
	case OpAdd:
		w = x + y
	case OpSub:
		w = x - y
	case OpMul:
		w = x * y
	case OpDiv:
		if e.typ.signed {
			w = uint64(int64(x) / int64(y))
		} else {
			w = x / y
		}
	case OpMod:
		if e.typ.signed {
			w = uint64(int64(x) % int64(y))
		} else {
			w = x % y
		}
	case OpAnd:
		w = x & y
	case OpOr:
		w = x | y
	case OpXor:
		w = x ^ y
	case OpShl:
		w = x << (y & 63)
	case OpShr:
		if e.typ.signed {
			w = uint64(int64(x) >> (y & 63))
		} else {
			w = x >> (y & 63)
		}
	case OpLogicalAnd:
		w = boolWord(x != 0 && y != 0)
	case OpLogicalOr:
		w = boolWord(x != 0 || y != 0)
	}
	return normalize(w, e.typ)
}

func (a *activation) evalUnary(e *unaryExpr) uint64 {
	x := a.eval(e.a)
	if e.typ.kind == KindFloat64 && e.op == OpNeg {
		return math.Float64bits(-math.Float64frombits(x))
	}
	switch e.op {
	case OpNeg:
		return normalize(-x, e.typ)
	case OpBitNot:
		return normalize(^x, e.typ)
	default:
		return boolWord(x == 0)
	}
}

func (a *activation) evalCompare(e *compareExpr) uint64 {
	x, y := a.eval(e.a), a.eval(e.b)
	t := e.a.Type()
	var lt, eq bool
	switch {
	case t.kind == KindFloat64:
		fx, fy := math.Float64frombits(x), math.Float64frombits(y)
		lt, eq = fx < fy, fx == fy
	case t.signed:
		lt, eq = int64(x) < int64(y), x == y
	default:
		lt, eq = x < y, x == y
	}
	switch e.op {
	case CmpEq:
		return boolWord(eq)
	case CmpNe:
		return boolWord(!eq)
	case CmpLt:
		return boolWord(lt)
	case CmpLe:
		return boolWord(lt || eq)
	case CmpGt:
		return boolWord(!lt && !eq)
	default:
		return boolWord(!lt)
	}
}

func (a *activation) evalCast(e *castExpr) uint64 {
	w := a.eval(e.a)
	from, to := e.a.Type(), e.typ
	switch {
	case from.kind == KindFloat64 && to.kind != KindFloat64:
		return normalize(uint64(int64(math.Float64frombits(w))), to)
	case from.kind != KindFloat64 && to.kind == KindFloat64:
		if from.signed {
			return math.Float64bits(float64(int64(w)))
		}
		return math.Float64bits(float64(w))
	default:
		return normalize(w, to)
	}
}

func (a *activation) evalCall(e *callExpr) uint64 {
	args := make([]uint64, len(e.args))
	for i, arg := range e.args {
		args[i] = a.eval(arg)
	}
	if e.fn.kind == FunctionImported {
		impl, ok := a.res.imports[e.fn.name]
		if !ok {
			panic(fmt.Sprintf("ir: unbound import %q", e.fn.name))
		}
		return impl(args)
	}
	return a.res.call(e.fn, args)
}

func (a *activation) evalCallPtr(e *callPtrExpr) uint64 {
	idx := a.eval(e.ptr)
	if idx == 0 || int(idx) > len(a.res.ctx.funcPtrs) {
		panic("ir: call through bad function pointer")
	}
	args := make([]uint64, len(e.args))
	for i, arg := range e.args {
		args[i] = a.eval(arg)
	}
	return a.res.ctx.funcPtrs[idx-1](args)
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
