package ir

// RValue is an expression tree node yielding a value.
type RValue interface {
	Type() *Type
}

// LValue is an addressable expression: it can be assigned to and its
// address taken. Every LValue is also usable as an RValue, which reads the
// stored value.
type LValue interface {
	RValue
	lvalue()
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

type constExpr struct {
	typ  *Type
	word uint64
}

func (e *constExpr) Type() *Type { return e.typ }

// ConstInt creates an integer constant of the given type.
func (c *Context) ConstInt(t *Type, v int64) RValue {
	return &constExpr{typ: t, word: uint64(v)}
}

// ConstPtr creates a pointer constant from a raw address.
func (c *Context) ConstPtr(t *Type, addr uintptr) RValue {
	return &constExpr{typ: t, word: uint64(addr)}
}

// Null is the zero pointer of the given pointer type.
func (c *Context) Null(t *Type) RValue {
	return &constExpr{typ: t, word: 0}
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (l *Local) Type() *Type { return l.typ }
func (l *Local) lvalue()     {}

func (p *Param) Type() *Type { return p.typ }
func (p *Param) lvalue()     {}

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------

// BinaryOp selects an arithmetic or bitwise operation.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpLogicalAnd
	OpLogicalOr
)

type binaryExpr struct {
	op   BinaryOp
	typ  *Type
	a, b RValue
}

func (e *binaryExpr) Type() *Type { return e.typ }

// NewBinaryOp builds a binary operation producing a value of type t.
func (c *Context) NewBinaryOp(op BinaryOp, t *Type, a, b RValue) RValue {
	if a == nil || b == nil {
		c.bail("binary op %d: nil operand", op)
		return c.ConstInt(t, 0)
	}
	return &binaryExpr{op: op, typ: t, a: a, b: b}
}

// UnaryOp selects a unary operation.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpBitNot
	OpLogicalNot
)

type unaryExpr struct {
	op  UnaryOp
	typ *Type
	a   RValue
}

func (e *unaryExpr) Type() *Type { return e.typ }

// NewUnaryOp builds a unary operation.
func (c *Context) NewUnaryOp(op UnaryOp, t *Type, a RValue) RValue {
	if a == nil {
		c.bail("unary op %d: nil operand", op)
		return c.ConstInt(t, 0)
	}
	return &unaryExpr{op: op, typ: t, a: a}
}

// CompareOp selects a comparison relation.
type CompareOp int

const (
	CmpEq CompareOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

type compareExpr struct {
	op   CompareOp
	a, b RValue
}

func (e *compareExpr) Type() *Type { return scalarTypes[KindBool] }

// NewComparison builds a boolean comparison. Signedness follows the
// operands' type.
func (c *Context) NewComparison(op CompareOp, a, b RValue) RValue {
	if a == nil || b == nil {
		c.bail("comparison %d: nil operand", op)
		return c.ConstInt(c.Type(KindBool), 0)
	}
	return &compareExpr{op: op, a: a, b: b}
}

type castExpr struct {
	typ *Type
	a   RValue
}

func (e *castExpr) Type() *Type { return e.typ }

// NewCast converts a value to another scalar type: integer widths truncate
// or extend, int/float casts convert numerically, pointer/integer casts
// reinterpret the word. Bit-level reinterpretation between same-size types
// goes through a union instead.
func (c *Context) NewCast(a RValue, t *Type) RValue {
	if a == nil {
		c.bail("cast to %s: nil operand", t)
		return c.ConstInt(t, 0)
	}
	if !t.IsScalar() {
		c.bail("cast to non-scalar %s", t)
		return c.ConstInt(c.Type(KindInt64), 0)
	}
	return &castExpr{typ: t, a: a}
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

type addrExpr struct {
	typ *Type
	lv  LValue
}

func (e *addrExpr) Type() *Type { return e.typ }

// AddressOf yields a pointer to an addressable expression.
func (c *Context) AddressOf(lv LValue) RValue {
	if lv == nil {
		c.bail("address-of nil")
		return c.ConstInt(c.Type(KindUintPtr), 0)
	}
	return &addrExpr{typ: c.PointerType(lv.Type()), lv: lv}
}

type derefExpr struct {
	ptr   RValue
	field *Field // nil for plain deref
	typ   *Type
}

func (e *derefExpr) Type() *Type { return e.typ }
func (e *derefExpr) lvalue()     {}

// Dereference turns a pointer into the lvalue it points at.
func (c *Context) Dereference(ptr RValue) LValue {
	t := ptr.Type()
	if t.kind != KindPointer {
		c.bail("dereference of non-pointer %s", t)
		return &derefExpr{ptr: ptr, typ: c.Type(KindInt64)}
	}
	return &derefExpr{ptr: ptr, typ: t.elem}
}

// DereferenceField accesses a field through a pointer to a struct or
// union, like the arrow operator.
func (c *Context) DereferenceField(ptr RValue, f *Field) LValue {
	t := ptr.Type()
	if t.kind != KindPointer || (t.elem.kind != KindStruct && t.elem.kind != KindUnion) {
		c.bail("field deref %q through %s", f.Name, t)
	} else if f.parent != t.elem {
		c.bail("field %q does not belong to %s", f.Name, t.elem)
	}
	return &derefExpr{ptr: ptr, field: f, typ: f.Type}
}

type fieldExpr struct {
	base  LValue
	field *Field
}

func (e *fieldExpr) Type() *Type { return e.field.Type }
func (e *fieldExpr) lvalue()     {}

// AccessField selects a member of a struct or union lvalue.
func (c *Context) AccessField(base LValue, f *Field) LValue {
	bt := base.Type()
	if bt.kind != KindStruct && bt.kind != KindUnion {
		c.bail("field access %q on %s", f.Name, bt)
	} else if f.parent != bt {
		c.bail("field %q does not belong to %s", f.Name, bt)
	}
	return &fieldExpr{base: base, field: f}
}

type indexExpr struct {
	base LValue
	idx  RValue
	typ  *Type
}

func (e *indexExpr) Type() *Type { return e.typ }
func (e *indexExpr) lvalue()     {}

// ArrayAccess indexes an array lvalue.
func (c *Context) ArrayAccess(base LValue, idx RValue) LValue {
	bt := base.Type()
	if bt.kind != KindArray {
		c.bail("array access on %s", bt)
		return &indexExpr{base: base, idx: idx, typ: c.Type(KindInt64)}
	}
	return &indexExpr{base: base, idx: idx, typ: bt.elem}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

type callExpr struct {
	fn   *Function
	args []RValue
}

func (e *callExpr) Type() *Type { return e.fn.ret }

// NewCall builds a call to a declared function.
func (c *Context) NewCall(fn *Function, args ...RValue) RValue {
	if fn == nil {
		c.bail("call to nil function")
		return c.ConstInt(c.Type(KindInt64), 0)
	}
	if !fn.variadic && len(args) != len(fn.params) {
		c.bail("call to %q: %d args, want %d", fn.name, len(args), len(fn.params))
	}
	return &callExpr{fn: fn, args: args}
}

type callPtrExpr struct {
	ptr  RValue
	typ  *Type
	args []RValue
}

func (e *callPtrExpr) Type() *Type { return e.typ }

// NewCallThroughPtr builds an indirect call through a function pointer
// produced by RegisterFuncPtr.
func (c *Context) NewCallThroughPtr(ptr RValue, args ...RValue) RValue {
	t := ptr.Type()
	ret := scalarTypes[KindInt64]
	if t.kind == KindFuncPtr && t.ret != nil {
		ret = t.ret
	} else if t.kind != KindFuncPtr {
		c.bail("indirect call through %s", t)
	}
	return &callPtrExpr{ptr: ptr, typ: ret, args: args}
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

type checkpointExpr struct {
	buf RValue // pointer to the jump buffer
}

func (e *checkpointExpr) Type() *Type { return scalarTypes[KindInt64] }

// NewCheckpoint establishes a non-local-jump target on the buffer ptr
// points at. It yields zero when first evaluated; when a jump later unwinds
// to this buffer, control resumes after the establishing assignment with
// the destination holding a nonzero value. The expression must be the
// source of an AddAssign; anywhere else is a build error.
func (c *Context) NewCheckpoint(buf RValue) RValue {
	if buf == nil || buf.Type().kind != KindPointer {
		c.bail("checkpoint on non-pointer buffer")
		return c.ConstInt(c.Type(KindInt64), 0)
	}
	return &checkpointExpr{buf: buf}
}
