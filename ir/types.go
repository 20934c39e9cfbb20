package ir

import (
	"fmt"
)

// TypeKind enumerates the scalar and composite type shapes the builder
// understands.
type TypeKind int

const (
	KindVoid TypeKind = iota
	KindBool
	KindInt8
	KindUInt8
	KindInt16
	KindUInt16
	KindInt32
	KindUInt32
	KindInt64
	KindUInt64
	KindUintPtr
	KindFloat64
	KindPointer
	KindFuncPtr
	KindStruct
	KindUnion
	KindArray
)

// Type describes a value layout: scalars, pointers, arrays, structs and
// unions. Struct and union layout is computed eagerly so field offsets are
// available to both the consumer (which mirrors foreign layouts) and the
// executor (which addresses real memory with them).
type Type struct {
	kind   TypeKind
	name   string
	size   uintptr
	align  uintptr
	signed bool

	elem   *Type // pointer, array
	length int   // array

	fields []*Field // struct, union
	opaque bool     // struct declared, fields not yet set

	ret    *Type   // funcptr
	params []*Type // funcptr
}

// Field is a named member of a struct or union.
type Field struct {
	Name   string
	Type   *Type
	offset uintptr
	parent *Type
}

// Offset returns the field's byte offset within its parent.
func (f *Field) Offset() uintptr { return f.offset }

func (t *Type) Kind() TypeKind { return t.kind }
func (t *Type) Name() string   { return t.name }

// Size returns the type's byte size. Zero until an opaque struct's fields
// are set.
func (t *Type) Size() uintptr { return t.size }

// Align returns the type's alignment requirement.
func (t *Type) Align() uintptr { return t.align }

// Elem returns the pointee or element type.
func (t *Type) Elem() *Type { return t.elem }

// IsScalar reports whether values of t fit in a single machine word.
func (t *Type) IsScalar() bool {
	switch t.kind {
	case KindStruct, KindUnion, KindArray, KindVoid:
		return false
	}
	return true
}

func (t *Type) String() string {
	switch t.kind {
	case KindPointer:
		return "*" + t.elem.String()
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.length, t.elem.String())
	case KindStruct:
		return "struct " + t.name
	case KindUnion:
		return "union " + t.name
	case KindFuncPtr:
		return "funcptr " + t.name
	default:
		return t.name
	}
}

var scalarTypes = map[TypeKind]*Type{
	KindVoid:    {kind: KindVoid, name: "void"},
	KindBool:    {kind: KindBool, name: "bool", size: 1, align: 1},
	KindInt8:    {kind: KindInt8, name: "int8", size: 1, align: 1, signed: true},
	KindUInt8:   {kind: KindUInt8, name: "uint8", size: 1, align: 1},
	KindInt16:   {kind: KindInt16, name: "int16", size: 2, align: 2, signed: true},
	KindUInt16:  {kind: KindUInt16, name: "uint16", size: 2, align: 2},
	KindInt32:   {kind: KindInt32, name: "int32", size: 4, align: 4, signed: true},
	KindUInt32:  {kind: KindUInt32, name: "uint32", size: 4, align: 4},
	KindInt64:   {kind: KindInt64, name: "int64", size: 8, align: 8, signed: true},
	KindUInt64:  {kind: KindUInt64, name: "uint64", size: 8, align: 8},
	KindUintPtr: {kind: KindUintPtr, name: "uintptr", size: 8, align: 8},
	KindFloat64: {kind: KindFloat64, name: "float64", size: 8, align: 8, signed: true},
}

// Type returns the shared descriptor for a scalar kind.
func (c *Context) Type(kind TypeKind) *Type {
	t, ok := scalarTypes[kind]
	if !ok {
		c.bail("Type: kind %d is not scalar", kind)
		return scalarTypes[KindInt64]
	}
	return t
}

// PointerType returns the type of a pointer to elem.
func (c *Context) PointerType(elem *Type) *Type {
	if p, ok := c.ptrCache[elem]; ok {
		return p
	}
	p := &Type{kind: KindPointer, size: 8, align: 8, elem: elem}
	c.ptrCache[elem] = p
	return p
}

// ArrayType returns the type of a fixed-length array.
func (c *Context) ArrayType(elem *Type, n int) *Type {
	if n < 0 || elem.size == 0 {
		c.bail("ArrayType: bad element %s x %d", elem, n)
	}
	return &Type{
		kind:   KindArray,
		size:   elem.size * uintptr(n),
		align:  elem.align,
		elem:   elem,
		length: n,
	}
}

// FuncPtrType returns a function-pointer type. Only the arity matters to
// the executor; the parameter types document intent.
func (c *Context) FuncPtrType(ret *Type, params ...*Type) *Type {
	return &Type{
		kind: KindFuncPtr, name: "fn", size: 8, align: 8,
		ret: ret, params: params,
	}
}

// NewField creates a struct or union member.
func (c *Context) NewField(t *Type, name string) *Field {
	if t == nil || (t.size == 0 && t.kind != KindVoid) {
		c.bail("NewField %q: incomplete type", name)
	}
	return &Field{Name: name, Type: t}
}

// NewStructType creates a struct with the given fields, laying them out
// with natural alignment.
func (c *Context) NewStructType(name string, fields ...*Field) *Type {
	t := &Type{kind: KindStruct, name: name}
	c.layoutStruct(t, fields)
	return t
}

// NewOpaqueStructType declares a struct whose fields are supplied later
// with SetFields. Pointers to it may be formed immediately.
func (c *Context) NewOpaqueStructType(name string) *Type {
	return &Type{kind: KindStruct, name: name, opaque: true}
}

// SetFields completes an opaque struct.
func (c *Context) SetFields(t *Type, fields ...*Field) {
	if t.kind != KindStruct || !t.opaque {
		c.bail("SetFields: %s is not an opaque struct", t)
		return
	}
	t.opaque = false
	c.layoutStruct(t, fields)
}

func (c *Context) layoutStruct(t *Type, fields []*Field) {
	var off, align uintptr
	align = 1
	for _, f := range fields {
		if f.Type.size == 0 {
			c.bail("struct %s: field %q has incomplete type", t.name, f.Name)
			continue
		}
		off = roundUp(off, f.Type.align)
		f.offset = off
		f.parent = t
		off += f.Type.size
		if f.Type.align > align {
			align = f.Type.align
		}
	}
	t.fields = fields
	t.align = align
	t.size = roundUp(off, align)
}

// NewUnionType creates a union: all fields at offset zero, size of the
// largest.
func (c *Context) NewUnionType(name string, fields ...*Field) *Type {
	t := &Type{kind: KindUnion, name: name, align: 1}
	for _, f := range fields {
		f.offset = 0
		f.parent = t
		if f.Type.size > t.size {
			t.size = f.Type.size
		}
		if f.Type.align > t.align {
			t.align = f.Type.align
		}
	}
	t.size = roundUp(t.size, t.align)
	t.fields = fields
	return t
}

func roundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
