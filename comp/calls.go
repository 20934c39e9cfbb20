package comp

import (
	"fmt"

	"github.com/chazu/lutra/ir"
	"github.com/chazu/lutra/lisp"
)

// importSet is the unit's declaration cache: one imported declaration per
// runtime routine, created on first use and shared by every call site.
// Asking twice for the same name yields the same handle; declaring twice
// would be a unit error, so the cache is also what enforces once-only
// declaration.
type importSet struct {
	ctx   *ir.Context
	decls map[string]*ir.Function
}

func newImportSet(ctx *ir.Context) *importSet {
	return &importSet{ctx: ctx, decls: make(map[string]*ir.Function)}
}

// get declares a routine taking nargs tagged words and returning one.
func (s *importSet) get(a *abi, name string, nargs int) *ir.Function {
	if fn, ok := s.decls[name]; ok {
		return fn
	}
	params := make([]*ir.Type, nargs)
	names := make([]string, nargs)
	for i := range params {
		params[i] = a.lispObj
		names[i] = fmt.Sprintf("a%d", i)
	}
	fn := s.ctx.NewFunction(ir.FunctionImported, a.lispObj, name, params, names)
	s.decls[name] = fn
	return fn
}

// getMany declares a routine with the many-args convention: a count and a
// pointer to that many contiguous tagged words.
func (s *importSet) getMany(a *abi, name string) *ir.Function {
	if fn, ok := s.decls[name]; ok {
		return fn
	}
	fn := s.ctx.NewFunction(ir.FunctionImported, a.lispObj, name,
		[]*ir.Type{a.i64, a.lispObjPtr}, []string{"nargs", "args"})
	s.decls[name] = fn
	return fn
}

// ---------------------------------------------------------------------------
// Call lowering
// ---------------------------------------------------------------------------

// emitCall lowers a funcall of argc arguments. The callee sits below the
// arguments on the frame; the result replaces it. Three strategies, from
// fastest to most general:
//
//  1. a recursive call to the function being compiled becomes a direct
//     backend call, skipping symbol dispatch entirely;
//  2. a call to a known fixed-arity builtin goes straight to its entry
//     point through a registered function pointer;
//  3. anything else funnels through the runtime's generic dispatch with
//     the callee and arguments passed as one contiguous slice of frame
//     slots.
//
// The first two fire only when the callee slot holds a trusted symbol
// constant, which the stack model records solely for constant loads.
func (c *compiler) emitCall(argc, pc int) error {
	funSlot := c.sp - argc - 1
	if funSlot < 0 {
		return fmt.Errorf("%w: call with %d args at pc %d, stack holds %d",
			ErrStackDepth, argc, pc, c.sp)
	}
	callee, trusted := c.constAt(funSlot)

	if trusted && callee.IsSymbol() {
		if c.cfg.Speed >= 2 && c.selfCall(callee, argc) {
			args := make([]ir.RValue, argc)
			for i := 0; i < argc; i++ {
				args[i] = c.slotRV(funSlot + 1 + i)
			}
			c.setSlot(funSlot, c.ctx.NewCall(c.irFn, args...))
			c.sp = funSlot + 1
			return nil
		}
		if c.cfg.Speed >= 1 {
			if s := c.env.LookupSubr(lisp.SymbolName(callee)); s != nil &&
				s.MaxArgs != lisp.ManyArgs &&
				argc >= s.MinArgs && argc <= s.MaxArgs {
				c.emitDirectSubr(s, funSlot, argc)
				return nil
			}
		}
	}

	fn := c.imp.getMany(c.abi, "Ffuncall")
	base := c.slotAddr(funSlot)
	c.setSlot(funSlot, c.ctx.NewCall(fn,
		c.ctx.ConstInt(c.abi.i64, int64(argc+1)), base))
	c.sp = funSlot + 1
	return nil
}

// selfCall reports whether a call to sym with argc arguments can be
// short-circuited into a recursive call to the function under
// compilation. Only fixed-arity functions qualify, and the argument count
// must match exactly.
func (c *compiler) selfCall(sym lisp.Value, argc int) bool {
	if sym != lisp.Intern(c.lispName) {
		return false
	}
	spec := c.fn.ArgSpec
	return !spec.Rest && spec.MinArgs == spec.MaxArgs && argc == spec.MinArgs
}

// emitDirectSubr calls a builtin's entry point directly, padding omitted
// optionals so the callee always sees its full fixed arity.
func (c *compiler) emitDirectSubr(s *lisp.Subr, funSlot, argc int) {
	ptr, ok := c.subrPtrs[s]
	if !ok {
		sig := make([]*ir.Type, s.MaxArgs)
		for i := range sig {
			sig[i] = c.abi.lispObj
		}
		target := s
		ptr = c.ctx.RegisterFuncPtr(c.ctx.FuncPtrType(c.abi.lispObj, sig...),
			func(args []uint64) uint64 {
				vals := make([]lisp.Value, len(args))
				for i, w := range args {
					vals[i] = lisp.FromWord(w)
				}
				return lisp.CallSubr(target, vals).Word()
			})
		c.subrPtrs[s] = ptr
	}
	args := make([]ir.RValue, s.MaxArgs)
	for i := 0; i < s.MaxArgs; i++ {
		if i < argc {
			args[i] = c.slotRV(funSlot + 1 + i)
		} else {
			args[i] = c.abi.obj(lisp.Nil)
		}
	}
	c.setSlot(funSlot, c.ctx.NewCallThroughPtr(ptr, args...))
	c.sp = funSlot + 1
}
