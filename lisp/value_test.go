package lisp

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Fixnum encoding
// ---------------------------------------------------------------------------

func TestFixnumRoundTrip(t *testing.T) {
	tests := []int64{
		0, 1, -1, 42, -42,
		MostPositiveFixnum,
		MostNegativeFixnum,
		MostPositiveFixnum - 1,
		MostNegativeFixnum + 1,
	}

	for _, n := range tests {
		v := MakeFixnum(n)
		if !v.IsFixnum() {
			t.Errorf("MakeFixnum(%d).IsFixnum() = false, want true", n)
			continue
		}
		if got := v.Fixnum(); got != n {
			t.Errorf("MakeFixnum(%d).Fixnum() = %d, want %d", n, got, n)
		}
	}
}

func TestTryMakeFixnumRange(t *testing.T) {
	if _, ok := TryMakeFixnum(MostPositiveFixnum); !ok {
		t.Error("MostPositiveFixnum should encode")
	}
	if _, ok := TryMakeFixnum(MostPositiveFixnum + 1); ok {
		t.Error("MostPositiveFixnum+1 should not encode")
	}
	if _, ok := TryMakeFixnum(MostNegativeFixnum); !ok {
		t.Error("MostNegativeFixnum should encode")
	}
	if _, ok := TryMakeFixnum(MostNegativeFixnum - 1); ok {
		t.Error("MostNegativeFixnum-1 should not encode")
	}
}

func TestFixnumTagBits(t *testing.T) {
	// Both fixnum tag values must satisfy the single masked test the
	// compiler inlines.
	for _, n := range []int64{0, 1, 2, 3, -1, -2, 1 << 40} {
		v := MakeFixnum(n)
		if (uint64(v)-uint64(TagInt0))&(1<<IntTypeBits-1) != 0 {
			t.Errorf("fixnum %d fails the masked tag test (word %#x)", n, uint64(v))
		}
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want Tag
	}{
		{"fixnum", MakeFixnum(7), TagInt0},
		{"negative fixnum", MakeFixnum(-7), TagInt0},
		{"symbol", Intern("foo"), TagSymbol},
		{"nil", Nil, TagSymbol},
		{"cons", MakeCons(Nil, Nil), TagCons},
		{"string", MakeString("hi"), TagString},
		{"float", MakeFloat(1.5), TagFloat},
		{"vector", MakeVector(3), TagVectorlike},
	}
	for _, tt := range tests {
		if got := tt.v.TypeOf(); got != tt.want {
			t.Errorf("%s: TypeOf() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestTruthiness(t *testing.T) {
	if Nil.IsTruthy() {
		t.Error("nil should be false")
	}
	if !T.IsTruthy() {
		t.Error("t should be true")
	}
	if !MakeFixnum(0).IsTruthy() {
		t.Error("0 should be true")
	}
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

func TestInternIdentity(t *testing.T) {
	a := Intern("some-symbol")
	b := Intern("some-symbol")
	if a != b {
		t.Error("interning the same name twice should yield the same word")
	}
	if a == Intern("other-symbol") {
		t.Error("distinct names should yield distinct words")
	}
}

func TestNilCells(t *testing.T) {
	s := XSymbol(Nil)
	if s.Val != Nil || s.Fn != Nil {
		t.Error("nil's value and function cells should be nil")
	}
	if XSymbol(T).Val != T {
		t.Error("t's value cell should be t")
	}
}

// ---------------------------------------------------------------------------
// Pairs and the read-only region
// ---------------------------------------------------------------------------

func TestConsAccess(t *testing.T) {
	c := MakeCons(MakeFixnum(1), MakeFixnum(2))
	if Fcar(c).Fixnum() != 1 || Fcdr(c).Fixnum() != 2 {
		t.Error("car/cdr mismatch")
	}
	Fsetcar(c, MakeFixnum(9))
	if Fcar(c).Fixnum() != 9 {
		t.Error("setcar did not stick")
	}
}

func TestPureRegionDetection(t *testing.T) {
	p := PureCons(MakeFixnum(1), Nil)
	h := MakeCons(MakeFixnum(1), Nil)
	if !PureP(p) {
		t.Error("preallocated cell not detected")
	}
	if PureP(h) {
		t.Error("heap cell misdetected as preallocated")
	}
}

func TestList(t *testing.T) {
	l := List(MakeFixnum(1), MakeFixnum(2), MakeFixnum(3))
	if Flength(l).Fixnum() != 3 {
		t.Fatalf("length = %d, want 3", Flength(l).Fixnum())
	}
	if Fnth(MakeFixnum(1), l).Fixnum() != 2 {
		t.Error("nth 1 mismatch")
	}
	if !Fnthcdr(MakeFixnum(3), l).IsNil() {
		t.Error("nthcdr past end should be nil")
	}
}
