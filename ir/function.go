package ir

// FunctionKind controls linkage and inlining of a function.
type FunctionKind int

const (
	// FunctionExported functions are retrievable from the compile result.
	FunctionExported FunctionKind = iota
	// FunctionInternal functions are callable only from within the unit.
	FunctionInternal
	// FunctionImported functions are declarations bound by the resolver.
	FunctionImported
	// FunctionAlwaysInline marks small internal helpers. The executor
	// treats them as internal; the hint survives into dumps.
	FunctionAlwaysInline
)

// Param is a formal parameter. Parameters are addressable like locals.
type Param struct {
	name string
	typ  *Type
	fn   *Function
	idx  int
}

func (p *Param) Name() string { return p.name }

// Local is a function-scope variable backed by real frame memory during
// execution.
type Local struct {
	name string
	typ  *Type
	fn   *Function
	idx  int
}

func (l *Local) Name() string { return l.name }

// Function is one routine under construction: parameters, locals and a
// list of blocks, the first of which is the entry.
type Function struct {
	name     string
	kind     FunctionKind
	ret      *Type
	params   []*Param
	locals   []*Local
	blocks   []*Block
	variadic bool
	ctx      *Context
}

// NewFunction declares a function. For imported functions the parameter
// list documents the convention; no blocks may be added.
func (c *Context) NewFunction(kind FunctionKind, ret *Type, name string, paramTypes []*Type, paramNames []string) *Function {
	if _, dup := c.funcs[name]; dup {
		c.bail("duplicate function %q", name)
	}
	if len(paramTypes) != len(paramNames) {
		c.bail("function %q: %d param types, %d names", name, len(paramTypes), len(paramNames))
	}
	fn := &Function{name: name, kind: kind, ret: ret, ctx: c}
	for i, t := range paramTypes {
		n := ""
		if i < len(paramNames) {
			n = paramNames[i]
		}
		fn.params = append(fn.params, &Param{name: n, typ: t, fn: fn, idx: i})
	}
	c.funcs[name] = fn
	c.order = append(c.order, fn)
	return fn
}

// GetFunction returns a previously declared function, or nil.
func (c *Context) GetFunction(name string) *Function {
	return c.funcs[name]
}

func (f *Function) Name() string { return f.name }

// Param returns the i'th formal parameter.
func (f *Function) Param(i int) *Param {
	if i < 0 || i >= len(f.params) {
		f.ctx.bail("function %q: no param %d", f.name, i)
		return &Param{name: "bad", typ: f.ctx.Type(KindInt64), fn: f}
	}
	return f.params[i]
}

// NewLocal adds a frame variable of the given type.
func (f *Function) NewLocal(t *Type, name string) *Local {
	if f.kind == FunctionImported {
		f.ctx.bail("function %q: imported functions have no locals", f.name)
	}
	if t.size == 0 {
		f.ctx.bail("function %q: local %q has incomplete type %s", f.name, name, t)
	}
	l := &Local{name: name, typ: t, fn: f, idx: len(f.locals)}
	f.locals = append(f.locals, l)
	return l
}

// NewBlock appends a basic block. The first block created is the entry.
func (f *Function) NewBlock(name string) *Block {
	if f.kind == FunctionImported {
		f.ctx.bail("function %q: imported functions have no blocks", f.name)
	}
	b := &Block{name: name, fn: f, idx: len(f.blocks)}
	f.blocks = append(f.blocks, b)
	return b
}

// statement is one non-terminating instruction.
type statement struct {
	dst     LValue // nil for bare evaluation
	src     RValue
	comment string // set for comment-only statements
}

// terminator ends a block.
type terminator struct {
	kind termKind
	cond RValue
	then *Block
	els  *Block
	ret  RValue // nil for void return
}

type termKind int

const (
	termJump termKind = iota
	termCond
	termReturn
	termReturnVoid
)

// Block is a straight-line instruction sequence with a single terminator.
type Block struct {
	name  string
	fn    *Function
	idx   int
	stmts []statement
	term  *terminator
}

func (b *Block) Name() string { return b.name }

func (b *Block) addStmt(s statement) {
	if b.term != nil {
		b.fn.ctx.bail("function %q: statement after terminator in block %q", b.fn.name, b.name)
		return
	}
	b.stmts = append(b.stmts, s)
}

// AddAssign stores the value of src into dst.
func (b *Block) AddAssign(dst LValue, src RValue) {
	if dst == nil || src == nil {
		b.fn.ctx.bail("function %q: nil operand in assign (block %q)", b.fn.name, b.name)
		return
	}
	b.addStmt(statement{dst: dst, src: src})
}

// AddEval evaluates src for its side effects and discards the value.
func (b *Block) AddEval(src RValue) {
	if src == nil {
		b.fn.ctx.bail("function %q: nil eval (block %q)", b.fn.name, b.name)
		return
	}
	b.addStmt(statement{src: src})
}

// AddComment records a note that appears in dumps only.
func (b *Block) AddComment(text string) {
	b.addStmt(statement{comment: text})
}

func (b *Block) setTerm(t terminator) {
	if b.term != nil {
		b.fn.ctx.bail("function %q: block %q terminated twice", b.fn.name, b.name)
		return
	}
	b.term = &t
}

// EndWithJump closes the block with an unconditional branch.
func (b *Block) EndWithJump(dest *Block) {
	if dest == nil {
		b.fn.ctx.bail("function %q: jump to nil block from %q", b.fn.name, b.name)
		return
	}
	b.setTerm(terminator{kind: termJump, then: dest})
}

// EndWithConditional closes the block with a two-way branch on cond.
func (b *Block) EndWithConditional(cond RValue, then, els *Block) {
	if cond == nil || then == nil || els == nil {
		b.fn.ctx.bail("function %q: bad conditional in block %q", b.fn.name, b.name)
		return
	}
	b.setTerm(terminator{kind: termCond, cond: cond, then: then, els: els})
}

// EndWithReturn closes the block returning val.
func (b *Block) EndWithReturn(val RValue) {
	if val == nil {
		b.fn.ctx.bail("function %q: nil return in block %q", b.fn.name, b.name)
		return
	}
	b.setTerm(terminator{kind: termReturn, ret: val})
}

// EndWithVoidReturn closes the block returning nothing.
func (b *Block) EndWithVoidReturn() {
	b.setTerm(terminator{kind: termReturnVoid})
}
