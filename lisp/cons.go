package lisp

import (
	"unsafe"
)

// Cons is a pair cell. The layout (two machine words, car then cdr) is
// mirrored field-for-field by the compiler's backend declarations; generated
// code reads and writes these words directly, without a call.
type Cons struct {
	Car Value
	Cdr Value
}

// Cell geometry exported for the ABI layer.
const (
	ConsSize      = unsafe.Sizeof(Cons{})
	ConsCarOffset = unsafe.Offsetof(Cons{}.Car)
	ConsCdrOffset = unsafe.Offsetof(Cons{}.Cdr)
)

// consRegistry keeps heap cells alive. Tagged pointers are integers as far
// as Go's collector is concerned, so the runtime must hold a real reference
// to every cell reachable from a Value.
var consRegistry = make(map[*Cons]struct{})

// MakeCons allocates a fresh mutable cons.
func MakeCons(car, cdr Value) Value {
	c := &Cons{Car: car, Cdr: cdr}
	consRegistry[c] = struct{}{}
	return tagPointer(unsafe.Pointer(c), TagCons)
}

// XCons returns the cell behind v.
// Panics if v is not a cons.
func XCons(v Value) *Cons {
	if !v.IsCons() {
		panic("XCons: not a cons")
	}
	return (*Cons)(v.untag(TagCons))
}

// List builds a proper list from elements.
func List(elems ...Value) Value {
	out := Nil
	for i := len(elems) - 1; i >= 0; i-- {
		out = MakeCons(elems[i], out)
	}
	return out
}

// ---------------------------------------------------------------------------
// Preallocated (read-only) region
// ---------------------------------------------------------------------------

// The preallocated region holds cells that must never be mutated. Generated
// code guards every setcar/setcdr with a bounds check against this region,
// exactly as it guards the host's own region.
const pureCells = 512

var pureRegion [pureCells]Cons
var pureUsed int

// PureStart is the base address of the preallocated region.
func PureStart() uintptr { return uintptr(unsafe.Pointer(&pureRegion[0])) }

// PureSize is the byte size of the preallocated region.
const PureSize = pureCells * int(ConsSize)

// PureCons allocates an immutable cons in the preallocated region.
// Panics if the region is exhausted.
func PureCons(car, cdr Value) Value {
	if pureUsed >= pureCells {
		panic("PureCons: preallocated region exhausted")
	}
	c := &pureRegion[pureUsed]
	pureUsed++
	c.Car = car
	c.Cdr = cdr
	return tagPointer(unsafe.Pointer(c), TagCons)
}

// PureP reports whether the heap object behind v lives in the preallocated
// region. Mirrors the check emitted into generated code.
func PureP(v Value) bool {
	p := uintptr(v.untag(Tag(uint64(v) & tagMask)))
	return p-PureStart() <= uintptr(PureSize)
}
