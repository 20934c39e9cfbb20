package lisp

import (
	"math/big"
	"unsafe"
)

// PvecKind distinguishes vector-like heap objects. Every vector-like object
// starts with a VectorlikeHeader so the kind can be read through an untyped
// pointer, which is what the generated pseudo-vector predicate does via its
// runtime call-out.
type PvecKind uint64

const (
	PvecVector PvecKind = iota
	PvecSubr
	PvecBignum
)

// VectorlikeHeader is the first word of every vector-like object.
type VectorlikeHeader struct {
	Kind PvecKind
}

// Vector is a general-purpose vector.
type Vector struct {
	Header   VectorlikeHeader
	Contents []Value
}

// Subr is a native-callable function: either a built-in primitive or an
// entry point produced by the native compiler. MaxArgs of ManyArgs marks a
// variadic primitive that collects its arguments into a slice; those are
// never eligible for direct calls from generated code.
type Subr struct {
	Header  VectorlikeHeader
	Name    string
	MinArgs int
	MaxArgs int
	Fn      func(args []Value) Value
}

// ManyArgs is the MaxArgs sentinel for variadic primitives.
const ManyArgs = -1

// Bignum is an overflowed integer, produced by slow-path arithmetic.
type Bignum struct {
	Header VectorlikeHeader
	V      *big.Int
}

// LString is a string object.
type LString struct {
	S string
}

// LFloat is a boxed float.
type LFloat struct {
	F float64
}

var (
	vectorlikeRegistry = make(map[unsafe.Pointer]struct{})
	stringRegistry     = make(map[*LString]struct{})
	floatRegistry      = make(map[*LFloat]struct{})
)

// MakeVector allocates a vector of n nils.
func MakeVector(n int) Value {
	v := &Vector{Header: VectorlikeHeader{Kind: PvecVector}, Contents: make([]Value, n)}
	for i := range v.Contents {
		v.Contents[i] = Nil
	}
	p := unsafe.Pointer(v)
	vectorlikeRegistry[p] = struct{}{}
	return tagPointer(p, TagVectorlike)
}

// MakeString allocates a string object.
func MakeString(s string) Value {
	o := &LString{S: s}
	stringRegistry[o] = struct{}{}
	return tagPointer(unsafe.Pointer(o), TagString)
}

// MakeFloat boxes a float64.
func MakeFloat(f float64) Value {
	o := &LFloat{F: f}
	floatRegistry[o] = struct{}{}
	return tagPointer(unsafe.Pointer(o), TagFloat)
}

func makeBignum(v *big.Int) Value {
	b := &Bignum{Header: VectorlikeHeader{Kind: PvecBignum}, V: v}
	p := unsafe.Pointer(b)
	vectorlikeRegistry[p] = struct{}{}
	return tagPointer(p, TagVectorlike)
}

func makeSubrValue(s *Subr) Value {
	s.Header.Kind = PvecSubr
	p := unsafe.Pointer(s)
	vectorlikeRegistry[p] = struct{}{}
	return tagPointer(p, TagVectorlike)
}

// XString returns the string object behind v.
func XString(v Value) *LString {
	if !v.IsString() {
		panic("XString: not a string")
	}
	return (*LString)(v.untag(TagString))
}

// XFloat returns the boxed float behind v.
func XFloat(v Value) *LFloat {
	if !v.IsFloat() {
		panic("XFloat: not a float")
	}
	return (*LFloat)(v.untag(TagFloat))
}

// XVectorlikeHeader reads the header of a vector-like value.
func XVectorlikeHeader(v Value) *VectorlikeHeader {
	if !v.IsVectorlike() {
		panic("XVectorlikeHeader: not vector-like")
	}
	return (*VectorlikeHeader)(v.untag(TagVectorlike))
}

// XVector returns the vector behind v.
func XVector(v Value) *Vector {
	h := XVectorlikeHeader(v)
	if h.Kind != PvecVector {
		panic("XVector: not a vector")
	}
	return (*Vector)(unsafe.Pointer(h))
}

// XSubr returns the subr behind v, or nil if v is not a subr.
func XSubr(v Value) *Subr {
	if !v.IsVectorlike() {
		return nil
	}
	h := XVectorlikeHeader(v)
	if h.Kind != PvecSubr {
		return nil
	}
	return (*Subr)(unsafe.Pointer(h))
}

// XBignum returns the bignum behind v, or nil.
func XBignum(v Value) *Bignum {
	if !v.IsVectorlike() {
		return nil
	}
	h := XVectorlikeHeader(v)
	if h.Kind != PvecBignum {
		return nil
	}
	return (*Bignum)(unsafe.Pointer(h))
}

// PseudovectorTypeP reports whether v is a vector-like object of the given
// kind. This is the runtime half of the generated fast-path predicate: the
// tag check is inlined, the kind check calls out here with the raw header
// address.
func PseudovectorTypeP(headerAddr uintptr, kind PvecKind) bool {
	h := (*VectorlikeHeader)(unsafe.Pointer(headerAddr))
	return h.Kind == kind
}
