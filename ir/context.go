// Package ir is a small code-generation backend with the shape of a C JIT
// library: a context collects type declarations, functions, blocks and
// statements, then Compile produces a result object whose functions can be
// called by name. Instead of emitting machine code, the result executes the
// recorded instructions directly over process memory, so struct field
// stores, pointer arithmetic and calls through function pointers all act on
// the same addresses native code would.
//
// Builder calls never fail immediately. Malformed IR is recorded on the
// context and reported by Compile, which lets a code generator emit an
// entire function before checking for errors once.
package ir

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Resolver binds imported function names to host implementations at compile
// time. All imported functions use the word-based convention.
type Resolver func(name string) (func(args []uint64) uint64, bool)

// Context is an IR builder. One context builds one compilation unit; it is
// not safe for concurrent use.
type Context struct {
	ID string

	funcs    map[string]*Function
	order    []*Function
	ptrCache map[*Type]*Type
	funcPtrs []func(args []uint64) uint64
	errs     []error
	released bool
}

// NewContext creates an empty compilation unit.
func NewContext() *Context {
	return &Context{
		ID:       uuid.NewString(),
		funcs:    make(map[string]*Function),
		ptrCache: make(map[*Type]*Type),
	}
}

// bail records a builder error. Building continues so later errors are
// collected too.
func (c *Context) bail(format string, args ...interface{}) {
	c.errs = append(c.errs, fmt.Errorf(format, args...))
}

// RegisterFuncPtr installs a host function and returns a constant
// function-pointer rvalue referring to it. Used for call sites that go
// through a function pointer rather than a named import.
func (c *Context) RegisterFuncPtr(t *Type, fn func(args []uint64) uint64) RValue {
	c.funcPtrs = append(c.funcPtrs, fn)
	return &constExpr{typ: t, word: uint64(len(c.funcPtrs))} // 1-based, 0 is null
}

// Compile validates the unit, binds imports through the resolver, and
// returns an executable result. The context must not be modified afterward.
func (c *Context) Compile(resolve Resolver) (*Result, error) {
	if c.released {
		return nil, errors.New("ir: context already released")
	}
	for _, fn := range c.order {
		c.checkFunction(fn)
	}
	imports := make(map[string]func(args []uint64) uint64)
	for name, fn := range c.funcs {
		if fn.kind != FunctionImported {
			continue
		}
		impl, ok := resolve(name)
		if !ok {
			c.bail("unresolved import %q", name)
			continue
		}
		imports[name] = impl
	}
	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	return &Result{ctx: c, imports: imports}, nil
}

func (c *Context) checkFunction(fn *Function) {
	if fn.kind == FunctionImported {
		return
	}
	if len(fn.blocks) == 0 {
		c.bail("function %q has no blocks", fn.name)
		return
	}
	for _, b := range fn.blocks {
		if b.term == nil {
			c.bail("function %q: block %q is not terminated", fn.name, b.name)
		}
	}
}

// Release discards the context. Results produced from it stay valid; they
// hold their own references.
func (c *Context) Release() {
	c.released = true
	c.funcs = nil
	c.order = nil
	c.ptrCache = nil
}

// Result is a compiled unit: its exported functions can be fetched by name
// and called.
type Result struct {
	ctx      *Context
	imports  map[string]func(args []uint64) uint64
	released bool
}

// Code returns the exported function with the given name as a callable.
// Arguments and the return value travel as raw machine words.
func (r *Result) Code(name string) (func(args []uint64) uint64, error) {
	if r.released {
		return nil, errors.New("ir: result already released")
	}
	fn, ok := r.ctx.funcs[name]
	if !ok || fn.kind == FunctionImported {
		return nil, fmt.Errorf("ir: no exported function %q", name)
	}
	return func(args []uint64) uint64 {
		return r.call(fn, args)
	}, nil
}

// Release drops the result. Callables previously returned by Code must not
// be used afterward.
func (r *Result) Release() {
	r.released = true
	r.imports = nil
}
