package lisp

import (
	"unsafe"
)

// Value represents a Lisp value as a tagged machine word.
//
// All values are 64-bit words. Heap values are 8-byte-aligned pointers with
// the type tag stored in the low GCTypeBits bits; fixnums are immediates
// carrying a 2-bit tag and a 62-bit two's-complement payload.
//
// Encoding scheme:
//   - Symbol: pointer | TagSymbol (tag 0, so a symbol word is its pointer)
//   - Fixnum: payload << IntTypeBits | TagInt0 (low two bits are always 10)
//   - Cons, String, Vectorlike, Float: pointer | tag
//
// The native compiler re-declares this exact encoding in backend types, so
// any change here is an ABI break for generated code.
type Value uint64

// Tag is the closed set of type tags held in a value's low bits.
type Tag uint64

const (
	// GCTypeBits is the number of low bits reserved for the tag.
	GCTypeBits = 3

	// IntTypeBits is the number of tag bits a fixnum carries; fixnums get
	// one fewer tag bit so they cover two of the eight tag values.
	IntTypeBits = GCTypeBits - 1

	// FixnumBits is the usable width of a fixnum payload including sign.
	FixnumBits = 64 - IntTypeBits

	tagMask = (1 << GCTypeBits) - 1
)

const (
	TagSymbol     Tag = 0
	TagMisc       Tag = 1
	TagInt0       Tag = 2
	TagCons       Tag = 3
	TagString     Tag = 4
	TagVectorlike Tag = 5
	TagInt1       Tag = 6
	TagFloat      Tag = 7

	// TagUnset marks a shadow-stack slot with no known tag. Not a real
	// encoding; never appears in a live word.
	TagUnset Tag = 0xFF
)

func (t Tag) String() string {
	switch t {
	case TagSymbol:
		return "symbol"
	case TagMisc:
		return "misc"
	case TagInt0, TagInt1:
		return "integer"
	case TagCons:
		return "cons"
	case TagString:
		return "string"
	case TagVectorlike:
		return "vectorlike"
	case TagFloat:
		return "float"
	default:
		return "unset"
	}
}

// Fixnum range.
const (
	MostPositiveFixnum int64 = 1<<(FixnumBits-1) - 1
	MostNegativeFixnum int64 = -1 << (FixnumBits - 1)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// TypeOf returns the tag of v, folding the two fixnum tags together.
func (v Value) TypeOf() Tag {
	if v.IsFixnum() {
		return TagInt0
	}
	return Tag(uint64(v) & tagMask)
}

// Tagged reports whether v carries the given tag.
func (v Value) Tagged(tag Tag) bool {
	return (uint64(v)-uint64(tag))&tagMask == 0
}

// IsFixnum reports whether v is an immediate integer.
func (v Value) IsFixnum() bool {
	return (uint64(v)-uint64(TagInt0))&(1<<IntTypeBits-1) == 0
}

// IsSymbol reports whether v is an interned symbol.
func (v Value) IsSymbol() bool { return v.Tagged(TagSymbol) }

// IsCons reports whether v is a cons cell.
func (v Value) IsCons() bool { return v.Tagged(TagCons) }

// IsString reports whether v is a string object.
func (v Value) IsString() bool { return v.Tagged(TagString) }

// IsVectorlike reports whether v is a vector-like heap object.
func (v Value) IsVectorlike() bool { return v.Tagged(TagVectorlike) }

// IsFloat reports whether v is a boxed float.
func (v Value) IsFloat() bool { return v.Tagged(TagFloat) }

// IsNil reports whether v is the nil symbol.
func (v Value) IsNil() bool { return v == Nil }

// ---------------------------------------------------------------------------
// Fixnum operations
// ---------------------------------------------------------------------------

// Fixnum returns v's integer payload.
// Panics if v is not a fixnum.
func (v Value) Fixnum() int64 {
	if !v.IsFixnum() {
		panic("Value.Fixnum: not a fixnum")
	}
	return int64(v) >> IntTypeBits
}

// MakeFixnum creates a fixnum value.
// Panics if n is outside the fixnum range.
func MakeFixnum(n int64) Value {
	if n > MostPositiveFixnum || n < MostNegativeFixnum {
		panic("MakeFixnum: value out of range")
	}
	return Value(uint64(n)<<IntTypeBits + uint64(TagInt0))
}

// TryMakeFixnum creates a fixnum value, reporting false if out of range.
func TryMakeFixnum(n int64) (Value, bool) {
	if n > MostPositiveFixnum || n < MostNegativeFixnum {
		return Nil, false
	}
	return Value(uint64(n)<<IntTypeBits + uint64(TagInt0)), true
}

// ---------------------------------------------------------------------------
// Pointer operations
// ---------------------------------------------------------------------------

// untag strips the tag from a pointer word.
//
// Heap pointers held in a Value are invisible to Go's garbage collector, so
// every tagged allocation is also kept in a package registry for its
// lifetime. The collector does not move heap objects, which keeps the
// numeric pointer stable.
func (v Value) untag(tag Tag) unsafe.Pointer {
	return unsafe.Pointer(uintptr(uint64(v) - uint64(tag)))
}

func tagPointer(p unsafe.Pointer, tag Tag) Value {
	return Value(uint64(uintptr(p)) | uint64(tag))
}

// Word returns the raw machine word. Used by the compiler to materialize
// constants in generated code.
func (v Value) Word() uint64 { return uint64(v) }

// FromWord reinterprets a raw machine word as a Value.
func FromWord(w uint64) Value { return Value(w) }

// ---------------------------------------------------------------------------
// Truthiness
// ---------------------------------------------------------------------------

// IsTruthy reports whether v counts as true in conditionals: everything
// except nil.
func (v Value) IsTruthy() bool { return v != Nil }

// FromBool converts a Go bool to t or nil.
func FromBool(b bool) Value {
	if b {
		return T
	}
	return Nil
}
