package comp

import (
	"fmt"

	"github.com/chazu/lutra/bytecode"
	"github.com/chazu/lutra/ir"
	"github.com/chazu/lutra/lisp"
)

// slotMeta is what the compiler statically knows about one frame slot. A
// constant is recorded only when the slot was filled by a constant load;
// any other write wipes it. Call lowering trusts the recorded value only
// for symbols, which are immune to mutation of the constant vector.
type slotMeta struct {
	val   lisp.Value
	known bool
}

// compiler translates one function. It walks the code vector linearly,
// mirroring the operand stack in a fixed array of frame slots and a
// compile-time stack pointer, and emits backend statements per opcode.
type compiler struct {
	cfg      Config
	env      *lisp.Env
	ctx      *ir.Context
	abi      *abi
	imp      *importSet
	fn       *bytecode.Function
	lispName string

	irFn  *ir.Function
	frame *ir.Local
	plan  *blockPlan

	b        *ir.Block // active emission block
	done     bool      // active block already terminated
	sp       int
	meta     []slotMeta
	subrPtrs map[*lisp.Subr]ir.RValue
	nsplit   int // discriminator for mid-block continuation names
}

func newCompiler(env *lisp.Env, name string, fn *bytecode.Function, cfg Config) (*compiler, error) {
	if fn.ArgSpec.Rest {
		return nil, fmt.Errorf("%w: %s", ErrRestArgs, name)
	}
	if len(fn.Code) == 0 {
		return nil, fmt.Errorf("comp: %s has no code", name)
	}
	plan, err := computeBlocks(fn)
	if err != nil {
		return nil, err
	}

	ctx := ir.NewContext()
	imp := newImportSet(ctx)
	a, err := newABI(ctx, imp)
	if err != nil {
		ctx.Release()
		return nil, err
	}

	params := make([]*ir.Type, fn.ArgSpec.MaxArgs)
	names := make([]string, fn.ArgSpec.MaxArgs)
	for i := range params {
		params[i] = a.lispObj
		names[i] = fmt.Sprintf("arg%d", i)
	}
	irFn := ctx.NewFunction(ir.FunctionExported, a.lispObj, mangle(name), params, names)
	frame := irFn.NewLocal(ctx.ArrayType(a.lispObj, fn.FrameSize()), "frame")

	return &compiler{
		cfg: cfg, env: env, ctx: ctx, abi: a, imp: imp,
		fn: fn, lispName: name, irFn: irFn, frame: frame, plan: plan,
		meta:     make([]slotMeta, fn.FrameSize()),
		subrPtrs: make(map[*lisp.Subr]ir.RValue),
	}, nil
}

// compile emits the whole function body. On success the context is ready
// for backend compilation.
func (c *compiler) compile() error {
	entry := c.irFn.NewBlock("entry")
	for _, start := range c.plan.starts {
		bb := c.plan.at[start]
		bb.irb = c.irFn.NewBlock(fmt.Sprintf("bb_%d", start))
	}

	// Arguments land in the lowest frame slots; execution starts with the
	// stack pointer just above them.
	for i := 0; i < c.fn.ArgSpec.MaxArgs; i++ {
		entry.AddAssign(c.slotLV(i), c.irFn.Param(i))
	}
	first := c.plan.at[0]
	first.inSP = c.fn.ArgSpec.MaxArgs
	entry.EndWithJump(first.irb)

	for i, start := range c.plan.starts {
		end := len(c.fn.Code)
		if i+1 < len(c.plan.starts) {
			end = c.plan.starts[i+1]
		}
		bb := c.plan.at[start]
		if c.b != nil && !c.done {
			if err := c.edge(bb, c.sp); err != nil {
				return err
			}
			c.b.EndWithJump(bb.irb)
		}
		if bb.inSP >= 0 {
			c.sp = bb.inSP
		} else {
			// Only reachable from later code; the linear depth carries.
			bb.inSP = c.sp
		}
		c.clearMeta()
		c.b = bb.irb
		c.done = false

		pc := start
		for pc < end {
			width, err := c.emitInsn(pc)
			if err != nil {
				return err
			}
			pc += width
		}
	}
	if !c.done {
		return fmt.Errorf("comp: %s: code falls off the end", c.lispName)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stack model
// ---------------------------------------------------------------------------

func (c *compiler) slotLV(i int) ir.LValue {
	return c.ctx.ArrayAccess(c.frame, c.ctx.ConstInt(c.abi.i64, int64(i)))
}

func (c *compiler) slotRV(i int) ir.RValue { return c.slotLV(i) }

func (c *compiler) slotAddr(i int) ir.RValue {
	return c.ctx.AddressOf(c.slotLV(i))
}

// setSlot stores into a slot and forgets whatever was known about it.
func (c *compiler) setSlot(i int, rv ir.RValue) {
	c.b.AddAssign(c.slotLV(i), rv)
	c.meta[i] = slotMeta{}
}

func (c *compiler) push(rv ir.RValue) error {
	if c.sp >= c.fn.FrameSize() {
		return fmt.Errorf("%w: %s exceeds depth %d", ErrStackDepth, c.lispName, c.fn.MaxDepth)
	}
	c.setSlot(c.sp, rv)
	c.sp++
	return nil
}

func (c *compiler) pushConst(v lisp.Value) error {
	if err := c.push(c.abi.obj(v)); err != nil {
		return err
	}
	c.meta[c.sp-1] = slotMeta{val: v, known: true}
	return nil
}

func (c *compiler) constAt(i int) (lisp.Value, bool) {
	m := c.meta[i]
	return m.val, m.known
}

func (c *compiler) clearMeta() {
	for i := range c.meta {
		c.meta[i] = slotMeta{}
	}
}

// edge records an arrival depth for a successor block.
func (c *compiler) edge(b *bblock, depth int) error {
	if b.inSP == -1 {
		b.inSP = depth
	} else if b.inSP != depth {
		return fmt.Errorf("comp: %s: block at %d reached at depths %d and %d",
			c.lispName, b.start, b.inSP, depth)
	}
	return nil
}

func (c *compiler) constant(idx, pc int) (lisp.Value, error) {
	if idx >= len(c.fn.Constants) {
		return lisp.Nil, fmt.Errorf("comp: %s: constant %d out of range at pc %d",
			c.lispName, idx, pc)
	}
	return c.fn.Constants[idx], nil
}

// ---------------------------------------------------------------------------
// Routine call shorthand
// ---------------------------------------------------------------------------

// emitN replaces the top n slots with routine(slots...).
func (c *compiler) emitN(name string, n int) {
	fn := c.imp.get(c.abi, name, n)
	args := make([]ir.RValue, n)
	for i := 0; i < n; i++ {
		args[i] = c.slotRV(c.sp - n + i)
	}
	c.setSlot(c.sp-n, c.ctx.NewCall(fn, args...))
	c.sp -= n - 1
}

// emitMany replaces the top n slots with routine(n, &slots), for routines
// with the count-and-pointer convention.
func (c *compiler) emitMany(name string, n int) {
	fn := c.imp.getMany(c.abi, name)
	c.setSlot(c.sp-n, c.ctx.NewCall(fn,
		c.ctx.ConstInt(c.abi.i64, int64(n)), c.slotAddr(c.sp-n)))
	c.sp -= n - 1
}

// emitInline replaces the top n slots with a call to an internal helper.
func (c *compiler) emitInline(fn *ir.Function, n int) {
	args := make([]ir.RValue, n)
	for i := 0; i < n; i++ {
		args[i] = c.slotRV(c.sp - n + i)
	}
	c.setSlot(c.sp-n, c.ctx.NewCall(fn, args...))
	c.sp -= n - 1
}

// emitBool replaces the top slot with the tagged rendering of a backend
// boolean over it.
func (c *compiler) emitBool(test func(v ir.RValue) ir.RValue) {
	c.setSlot(c.sp-1, c.ctx.NewCall(c.abi.boolToObj, test(c.slotRV(c.sp-1))))
}

// arithcompare kind words, shared with the runtime.
func (c *compiler) emitCompare(kind lisp.ArithComparison) {
	fn := c.imp.get(c.abi, "arithcompare", 3)
	c.setSlot(c.sp-2, c.ctx.NewCall(fn, c.slotRV(c.sp-2), c.slotRV(c.sp-1),
		c.ctx.ConstInt(c.abi.i64, int64(kind))))
	c.sp--
}

// ---------------------------------------------------------------------------
// Instruction lowering
// ---------------------------------------------------------------------------

func (c *compiler) emitInsn(pc int) (int, error) {
	op := bytecode.Opcode(c.fn.Code[pc])
	width, err := instWidth(c.fn, pc)
	if err != nil {
		return 0, err
	}

	// Inline-constant range.
	if op >= bytecode.OpConstant {
		v, err := c.constant(int(op-bytecode.OpConstant), pc)
		if err != nil {
			return 0, err
		}
		return width, c.pushConst(v)
	}

	// Operand-form groups.
	switch {
	case op < bytecode.OpVarRef:
		n, w, err := c.fn.FetchOperand(bytecode.OpStackRef, pc)
		if err != nil {
			return 0, err
		}
		src := c.sp - 1 - n
		if src < 0 {
			return 0, fmt.Errorf("%w: stack-ref %d at pc %d reaches below the frame",
				ErrStackDepth, n, pc)
		}
		// The copy is not a literal load, so the slot carries no
		// compile-time trust.
		return w, c.push(c.slotRV(src))
	case op < bytecode.OpVarSet:
		n, w, err := c.fn.FetchOperand(bytecode.OpVarRef, pc)
		if err != nil {
			return 0, err
		}
		sym, err := c.constant(n, pc)
		if err != nil {
			return 0, err
		}
		fn := c.imp.get(c.abi, "Fsymbol_value", 1)
		return w, c.push(c.ctx.NewCall(fn, c.abi.obj(sym)))
	case op < bytecode.OpVarBind:
		n, w, err := c.fn.FetchOperand(bytecode.OpVarSet, pc)
		if err != nil {
			return 0, err
		}
		sym, err := c.constant(n, pc)
		if err != nil {
			return 0, err
		}
		if c.sp < 1 {
			return 0, fmt.Errorf("%w: varset at pc %d on an empty stack",
				ErrStackDepth, pc)
		}
		c.sp--
		c.b.AddEval(c.ctx.NewCall(c.imp.get(c.abi, "set_internal", 2),
			c.abi.obj(sym), c.slotRV(c.sp)))
		return w, nil
	case op < bytecode.OpCall:
		n, w, err := c.fn.FetchOperand(bytecode.OpVarBind, pc)
		if err != nil {
			return 0, err
		}
		sym, err := c.constant(n, pc)
		if err != nil {
			return 0, err
		}
		if c.sp < 1 {
			return 0, fmt.Errorf("%w: varbind at pc %d on an empty stack",
				ErrStackDepth, pc)
		}
		c.sp--
		c.b.AddEval(c.ctx.NewCall(c.imp.get(c.abi, "specbind", 2),
			c.abi.obj(sym), c.slotRV(c.sp)))
		return w, nil
	case op < bytecode.OpUnbind:
		n, w, err := c.fn.FetchOperand(bytecode.OpCall, pc)
		if err != nil {
			return 0, err
		}
		return w, c.emitCall(n, pc)
	case op < bytecode.OpPopHandler:
		n, w, err := c.fn.FetchOperand(bytecode.OpUnbind, pc)
		if err != nil {
			return 0, err
		}
		c.b.AddEval(c.ctx.NewCall(c.imp.get(c.abi, "helper_unbind_n", 1),
			c.ctx.ConstInt(c.abi.i64, int64(n))))
		return w, nil
	}

	if n := stackNeed(c.fn, op, pc); c.sp < n {
		return 0, fmt.Errorf("%w: %s at pc %d consumes %d values, stack holds %d",
			ErrStackDepth, op, pc, n, c.sp)
	}

	switch op {
	case bytecode.OpPopHandler:
		hl := c.abi.handlerList()
		c.b.AddAssign(hl, c.ctx.DereferenceField(hl, c.abi.hNext))

	case bytecode.OpPushCatch:
		return width, c.emitPushHandler(pc, width, lisp.Catcher)
	case bytecode.OpPushConditionCase:
		return width, c.emitPushHandler(pc, width, lisp.ConditionCase)

	case bytecode.OpNth:
		c.emitN("Fnth", 2)
	case bytecode.OpSymbolp:
		c.emitBool(func(v ir.RValue) ir.RValue { return c.abi.taggedP(v, lisp.TagSymbol) })
	case bytecode.OpConsp:
		c.emitBool(func(v ir.RValue) ir.RValue { return c.abi.taggedP(v, lisp.TagCons) })
	case bytecode.OpStringp:
		c.emitBool(func(v ir.RValue) ir.RValue { return c.abi.taggedP(v, lisp.TagString) })
	case bytecode.OpListp:
		c.emitBool(func(v ir.RValue) ir.RValue {
			return c.ctx.NewBinaryOp(ir.OpLogicalOr, c.abi.boolT,
				c.abi.taggedP(v, lisp.TagCons), c.abi.eq(v, c.abi.obj(lisp.Nil)))
		})
	case bytecode.OpEq:
		x := c.slotRV(c.sp - 2)
		y := c.slotRV(c.sp - 1)
		c.setSlot(c.sp-2, c.ctx.NewCall(c.abi.boolToObj, c.abi.eq(x, y)))
		c.sp--
	case bytecode.OpMemq:
		c.emitN("Fmemq", 2)
	case bytecode.OpNot:
		c.emitBool(func(v ir.RValue) ir.RValue { return c.abi.eq(v, c.abi.obj(lisp.Nil)) })
	case bytecode.OpCar:
		c.emitInline(c.abi.carFn, 1)
	case bytecode.OpCdr:
		c.emitInline(c.abi.cdrFn, 1)
	case bytecode.OpCons:
		c.emitN("Fcons", 2)
	case bytecode.OpList1, bytecode.OpList2, bytecode.OpList3, bytecode.OpList4:
		c.emitList(int(op-bytecode.OpList1) + 1)
	case bytecode.OpLength:
		c.emitN("Flength", 1)
	case bytecode.OpAref:
		c.emitN("Faref", 2)
	case bytecode.OpAset:
		c.emitN("Faset", 3)
	case bytecode.OpSymbolValue:
		c.emitN("Fsymbol_value", 1)
	case bytecode.OpSymbolFn:
		c.emitN("Fsymbol_function", 1)
	case bytecode.OpSet:
		c.emitN("Fset", 2)
	case bytecode.OpFset:
		c.emitN("Ffset", 2)
	case bytecode.OpGet:
		c.emitN("Fget", 2)
	case bytecode.OpSubstring:
		c.emitN("Fsubstring", 3)
	case bytecode.OpConcat2, bytecode.OpConcat3, bytecode.OpConcat4:
		c.emitMany("Fconcat", int(op-bytecode.OpConcat2)+2)

	case bytecode.OpSub1:
		c.emitArith1(c.abi.sub1Fn, "Fsub1")
	case bytecode.OpAdd1:
		c.emitArith1(c.abi.add1Fn, "Fadd1")
	case bytecode.OpNegate:
		c.emitArith1(c.abi.negateFn, "Fnegate")
	case bytecode.OpEqlSign:
		c.emitCompare(lisp.ArithEqual)
	case bytecode.OpGtr:
		c.emitCompare(lisp.ArithGrtr)
	case bytecode.OpLss:
		c.emitCompare(lisp.ArithLess)
	case bytecode.OpLeq:
		c.emitCompare(lisp.ArithLessOrEqual)
	case bytecode.OpGeq:
		c.emitCompare(lisp.ArithGrtrOrEqual)
	case bytecode.OpDiff:
		c.emitMany("Fminus", 2)
	case bytecode.OpPlus:
		c.emitMany("Fplus", 2)
	case bytecode.OpMax:
		c.emitMany("Fmax", 2)
	case bytecode.OpMin:
		c.emitMany("Fmin", 2)
	case bytecode.OpMult:
		c.emitMany("Ftimes", 2)
	case bytecode.OpQuo:
		c.emitMany("Fquo", 2)
	case bytecode.OpRem:
		c.emitN("Frem", 2)

	case bytecode.OpConstant2:
		idx := int(c.fn.Code[pc+1]) | int(c.fn.Code[pc+2])<<8
		v, err := c.constant(idx, pc)
		if err != nil {
			return 0, err
		}
		return width, c.pushConst(v)

	case bytecode.OpGoto:
		return width, c.emitGoto(c.target2(pc))
	case bytecode.OpGotoIfNil:
		return width, c.emitCondGoto(pc, width, c.target2(pc), true, false)
	case bytecode.OpGotoIfNonNil:
		return width, c.emitCondGoto(pc, width, c.target2(pc), false, false)
	case bytecode.OpGotoIfNilElsePop:
		return width, c.emitCondGoto(pc, width, c.target2(pc), true, true)
	case bytecode.OpGotoIfNonNilElsePop:
		return width, c.emitCondGoto(pc, width, c.target2(pc), false, true)
	case bytecode.OpRGoto:
		return width, c.emitGoto(c.target1(pc))
	case bytecode.OpRGotoIfNil:
		return width, c.emitCondGoto(pc, width, c.target1(pc), true, false)
	case bytecode.OpRGotoIfNonNil:
		return width, c.emitCondGoto(pc, width, c.target1(pc), false, false)
	case bytecode.OpRGotoIfNilElsePop:
		return width, c.emitCondGoto(pc, width, c.target1(pc), true, true)
	case bytecode.OpRGotoIfNonNilElsePop:
		return width, c.emitCondGoto(pc, width, c.target1(pc), false, true)

	case bytecode.OpReturn:
		c.sp--
		c.b.EndWithReturn(c.slotRV(c.sp))
		c.done = true
	case bytecode.OpDiscard:
		c.sp--
	case bytecode.OpDup:
		if err := c.push(c.slotRV(c.sp - 1)); err != nil {
			return 0, err
		}

	case bytecode.OpUnwindProtect:
		c.sp--
		c.b.AddEval(c.ctx.NewCall(c.imp.get(c.abi, "helper_unwind_protect", 1),
			c.slotRV(c.sp)))

	case bytecode.OpStringEqlSign:
		c.emitN("Fstring_equal", 2)
	case bytecode.OpStringLss:
		c.emitN("Fstring_lessp", 2)
	case bytecode.OpEqual:
		c.emitN("Fequal", 2)
	case bytecode.OpNthcdr:
		c.emitN("Fnthcdr", 2)
	case bytecode.OpElt:
		c.emitN("Felt", 2)
	case bytecode.OpMember:
		c.emitN("Fmember", 2)
	case bytecode.OpAssq:
		c.emitN("Fassq", 2)
	case bytecode.OpNreverse:
		c.emitN("Fnreverse", 1)
	case bytecode.OpSetcar:
		c.emitInline(c.abi.setcarFn, 2)
	case bytecode.OpSetcdr:
		c.emitInline(c.abi.setcdrFn, 2)
	case bytecode.OpCarSafe:
		c.emitN("Fcar_safe", 1)
	case bytecode.OpCdrSafe:
		c.emitN("Fcdr_safe", 1)
	case bytecode.OpNconc:
		c.emitMany("Fnconc", 2)
	case bytecode.OpNumberp:
		if c.cfg.Speed >= 1 {
			c.setSlot(c.sp-1, c.ctx.NewCall(c.abi.boolToObj,
				c.ctx.NewCall(c.abi.numberpFn, c.slotRV(c.sp-1))))
		} else {
			c.emitN("Fnumberp", 1)
		}
	case bytecode.OpIntegerp:
		if c.cfg.Speed >= 1 {
			c.setSlot(c.sp-1, c.ctx.NewCall(c.abi.boolToObj,
				c.ctx.NewCall(c.abi.integerpFn, c.slotRV(c.sp-1))))
		} else {
			c.emitN("Fintegerp", 1)
		}

	case bytecode.OpListN:
		c.emitMany("Flist", int(c.fn.Code[pc+1]))
	case bytecode.OpConcatN:
		c.emitMany("Fconcat", int(c.fn.Code[pc+1]))
	case bytecode.OpStackSet:
		c.emitStackSet(int(c.fn.Code[pc+1]))
	case bytecode.OpStackSet2:
		c.emitStackSet(int(c.fn.Code[pc+1]) | int(c.fn.Code[pc+2])<<8)
	case bytecode.OpDiscardN:
		n := int(c.fn.Code[pc+1])
		if n&0x80 != 0 {
			n &= 0x7F
			c.setSlot(c.sp-1-n, c.slotRV(c.sp-1))
			c.sp -= n
		} else {
			c.sp -= n
		}

	default:
		return 0, fmt.Errorf("%w: %s at pc %d", ErrUnsupportedOpcode, op, pc)
	}
	return width, nil
}

// stackNeed is the number of operand-stack values the opcode at pc
// consumes or addresses. Checked before lowering so malformed code
// errors out instead of corrupting the stack model.
func stackNeed(fn *bytecode.Function, op bytecode.Opcode, pc int) int {
	switch op {
	case bytecode.OpNth, bytecode.OpMemq, bytecode.OpCons, bytecode.OpAref,
		bytecode.OpSet, bytecode.OpFset, bytecode.OpGet, bytecode.OpEq,
		bytecode.OpEqlSign, bytecode.OpGtr, bytecode.OpLss, bytecode.OpLeq,
		bytecode.OpGeq, bytecode.OpDiff, bytecode.OpPlus, bytecode.OpMax,
		bytecode.OpMin, bytecode.OpMult, bytecode.OpQuo, bytecode.OpRem,
		bytecode.OpStringEqlSign, bytecode.OpStringLss, bytecode.OpEqual,
		bytecode.OpNthcdr, bytecode.OpElt, bytecode.OpMember, bytecode.OpAssq,
		bytecode.OpSetcar, bytecode.OpSetcdr, bytecode.OpNconc,
		bytecode.OpConcat2, bytecode.OpList2:
		return 2
	case bytecode.OpAset, bytecode.OpSubstring, bytecode.OpConcat3,
		bytecode.OpList3:
		return 3
	case bytecode.OpConcat4, bytecode.OpList4:
		return 4
	case bytecode.OpSymbolp, bytecode.OpConsp, bytecode.OpStringp,
		bytecode.OpListp, bytecode.OpNot, bytecode.OpNumberp,
		bytecode.OpIntegerp, bytecode.OpCar, bytecode.OpCdr,
		bytecode.OpCarSafe, bytecode.OpCdrSafe, bytecode.OpLength,
		bytecode.OpSymbolValue, bytecode.OpSymbolFn, bytecode.OpNreverse,
		bytecode.OpSub1, bytecode.OpAdd1, bytecode.OpNegate,
		bytecode.OpList1, bytecode.OpReturn, bytecode.OpDiscard,
		bytecode.OpDup, bytecode.OpUnwindProtect,
		bytecode.OpPushCatch, bytecode.OpPushConditionCase,
		bytecode.OpGotoIfNil, bytecode.OpGotoIfNonNil,
		bytecode.OpGotoIfNilElsePop, bytecode.OpGotoIfNonNilElsePop,
		bytecode.OpRGotoIfNil, bytecode.OpRGotoIfNonNil,
		bytecode.OpRGotoIfNilElsePop, bytecode.OpRGotoIfNonNilElsePop:
		return 1
	case bytecode.OpListN, bytecode.OpConcatN:
		return int(fn.Code[pc+1])
	case bytecode.OpStackSet:
		return int(fn.Code[pc+1]) + 1
	case bytecode.OpStackSet2:
		return (int(fn.Code[pc+1]) | int(fn.Code[pc+2])<<8) + 1
	case bytecode.OpDiscardN:
		n := int(fn.Code[pc+1])
		if n&0x80 != 0 {
			return (n & 0x7F) + 1
		}
		return n
	}
	return 0
}

func (c *compiler) target2(pc int) int {
	return int(c.fn.Code[pc+1]) | int(c.fn.Code[pc+2])<<8
}

func (c *compiler) target1(pc int) int {
	return pc + 1 + int(c.fn.Code[pc+1]) - 127
}

func (c *compiler) emitGoto(target int) error {
	b := c.plan.block(target)
	if err := c.edge(b, c.sp); err != nil {
		return err
	}
	c.b.EndWithJump(b.irb)
	c.done = true
	return nil
}

// emitCondGoto lowers the conditional jump family. whenNil selects the
// polarity; elsePop leaves the tested value on the stack along the jump
// and drops it along the fallthrough.
func (c *compiler) emitCondGoto(pc, width, target int, whenNil, elsePop bool) error {
	tb := c.plan.block(target)
	fb := c.plan.block(pc + width)
	if fb == nil {
		return fmt.Errorf("comp: %s: branch at pc %d has no fallthrough instruction",
			c.lispName, pc)
	}
	v := c.slotRV(c.sp - 1)

	jumpSP := c.sp - 1
	fallSP := c.sp - 1
	if elsePop {
		jumpSP = c.sp
	}
	if err := c.edge(tb, jumpSP); err != nil {
		return err
	}
	if err := c.edge(fb, fallSP); err != nil {
		return err
	}
	cond := c.abi.eq(v, c.abi.obj(lisp.Nil))
	if whenNil {
		c.b.EndWithConditional(cond, tb.irb, fb.irb)
	} else {
		c.b.EndWithConditional(cond, fb.irb, tb.irb)
	}
	c.sp = fallSP
	c.done = true
	return nil
}

// emitList chains conses for the small list opcodes.
func (c *compiler) emitList(n int) {
	cons := c.imp.get(c.abi, "Fcons", 2)
	res := c.abi.obj(lisp.Nil)
	for i := n - 1; i >= 0; i-- {
		res = c.ctx.NewCall(cons, c.slotRV(c.sp-n+i), res)
	}
	c.setSlot(c.sp-n, res)
	c.sp -= n - 1
}

// emitArith1 uses the inline fast path when optimizing, the runtime
// routine otherwise.
func (c *compiler) emitArith1(inline *ir.Function, routine string) {
	if c.cfg.Speed >= 1 {
		c.emitInline(inline, 1)
	} else {
		c.emitN(routine, 1)
	}
}

func (c *compiler) emitStackSet(n int) {
	c.sp--
	if n > 0 {
		c.setSlot(c.sp-n, c.slotRV(c.sp))
	}
}

// emitPushHandler lowers the two-outcome handler installation. The
// runtime links a fresh handler whose jump buffer the checkpoint arms:
// the straight-line outcome continues below the push, the resumed
// outcome unlinks the handler, pushes the value it caught, and enters
// the handler code.
func (c *compiler) emitPushHandler(pc, width int, kind lisp.HandlerKind) error {
	target := c.target2(pc)
	c.sp-- // tag

	h := c.irFn.NewLocal(c.abi.handlerPtr, fmt.Sprintf("h_%d", pc))
	res := c.irFn.NewLocal(c.abi.i64, fmt.Sprintf("hres_%d", pc))
	c.b.AddAssign(h, c.ctx.NewCast(
		c.ctx.NewCall(c.imp.get(c.abi, "push_handler", 2),
			c.slotRV(c.sp), c.ctx.ConstInt(c.abi.i64, int64(kind))),
		c.abi.handlerPtr))

	cont := c.irFn.NewBlock(fmt.Sprintf("bb_%d_cont_%d", pc, c.nsplit))
	entry := c.irFn.NewBlock(fmt.Sprintf("bb_%d_handler_%d", pc, c.nsplit))
	c.nsplit++

	c.b.AddAssign(res, c.ctx.NewCheckpoint(
		c.ctx.AddressOf(c.ctx.DereferenceField(h, c.abi.hJmp))))
	c.b.EndWithConditional(
		c.ctx.NewComparison(ir.CmpEq, res, c.ctx.ConstInt(c.abi.i64, 0)),
		cont, entry)

	// Resumed outcome: pop the handler, surface its value, enter the
	// handler body one slot deeper than the push left the stack.
	hl := c.abi.handlerList()
	entry.AddAssign(hl, c.ctx.DereferenceField(h, c.abi.hNext))
	entry.AddAssign(c.slotLV(c.sp), c.ctx.DereferenceField(h, c.abi.hVal))
	tb := c.plan.block(target)
	if err := c.edge(tb, c.sp+1); err != nil {
		return err
	}
	entry.EndWithJump(tb.irb)

	c.b = cont
	c.clearMeta()
	return nil
}
