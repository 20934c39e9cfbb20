package bytecode

import (
	"testing"

	"github.com/chazu/lutra/lisp"
)

func TestParseArgSpec(t *testing.T) {
	spec, err := ParseArgSpec(lisp.MakeFixnum(0x202)) // two mandatory, two total
	if err != nil {
		t.Fatal(err)
	}
	if spec.MinArgs != 2 || spec.MaxArgs != 2 || spec.Rest {
		t.Errorf("spec = %+v", spec)
	}
	spec, err = ParseArgSpec(lisp.MakeFixnum(0x301)) // one mandatory, three total
	if err != nil {
		t.Fatal(err)
	}
	if spec.MinArgs != 1 || spec.MaxArgs != 3 {
		t.Errorf("spec = %+v", spec)
	}
	if _, err := ParseArgSpec(lisp.MakeFixnum(0x102)); err == nil {
		t.Error("max below min should be rejected")
	}
	if _, err := ParseArgSpec(lisp.Nil); err == nil {
		t.Error("non-integer descriptor should be rejected")
	}
}

func TestArgSpecRoundTrip(t *testing.T) {
	s := ArgSpec{MinArgs: 1, MaxArgs: 3, Rest: true}
	back, err := ParseArgSpec(lisp.MakeFixnum(s.Packed()))
	if err != nil {
		t.Fatal(err)
	}
	if back != s {
		t.Errorf("round trip %+v -> %+v", s, back)
	}
}

func TestLookupOperandForms(t *testing.T) {
	if in, ok := Lookup(OpVarRef + 3); !ok || in.OperandBytes != 0 {
		t.Error("inline form should carry no operand bytes")
	}
	if in, ok := Lookup(OpVarRef + 6); !ok || in.OperandBytes != 1 {
		t.Error("form 6 should carry one operand byte")
	}
	if in, ok := Lookup(OpCall + 7); !ok || in.OperandBytes != 2 {
		t.Error("form 7 should carry two operand bytes")
	}
	if in, ok := Lookup(OpGoto); !ok || in.OperandBytes != 2 {
		t.Error("goto carries a two-byte target")
	}
	if in, ok := Lookup(OpConstant + 5); !ok || in.Name != "constant" {
		t.Error("inline constants should resolve")
	}
}

func TestAssemblerBranchFixup(t *testing.T) {
	a := NewAssembler(ArgSpec{MinArgs: 1, MaxArgs: 1})
	fn, err := a.
		StackRef(0).
		GotoIfNil("else").
		Constant(lisp.Intern("yes")).
		Return().
		Label("else").
		AtLabelDepth(1).
		Constant(lisp.Intern("no")).
		Return().
		Assemble()
	if err != nil {
		t.Fatal(err)
	}
	// The branch target must point at the label offset.
	target := int(fn.Code[2]) | int(fn.Code[3])<<8
	want := 6 // stackref(1) + gotoifnil(3) + constant(1) + return(1)
	if target != want {
		t.Errorf("branch target = %d, want %d", target, want)
	}
	if fn.MaxDepth < 2 {
		t.Errorf("MaxDepth = %d, want at least 2", fn.MaxDepth)
	}
}

func TestAssemblerUndefinedLabel(t *testing.T) {
	a := NewAssembler(ArgSpec{})
	if _, err := a.Goto("nowhere").Assemble(); err == nil {
		t.Fatal("undefined label should fail assembly")
	}
}

func TestAssemblerConstantDedup(t *testing.T) {
	sym := lisp.Intern("shared")
	a := NewAssembler(ArgSpec{})
	fn, err := a.Constant(sym).Constant(sym).Return().Assemble()
	if err != nil {
		t.Fatal(err)
	}
	if len(fn.Constants) != 1 {
		t.Errorf("constant vector has %d entries, want 1", len(fn.Constants))
	}
}

func TestContainerRoundTrip(t *testing.T) {
	a := NewAssembler(ArgSpec{MinArgs: 1, MaxArgs: 1})
	fn, err := a.
		StackRef(0).
		Constant(lisp.List(lisp.Intern("a"), lisp.MakeFixnum(7), lisp.MakeString("s"))).
		Op(OpCons, -1).
		Return().
		Assemble()
	if err != nil {
		t.Fatal(err)
	}
	c, err := Pack("demo", fn)
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalContainer(c)
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalContainer(data)
	if err != nil {
		t.Fatal(err)
	}
	fn2, err := back.Unpack()
	if err != nil {
		t.Fatal(err)
	}
	if back.Name != "demo" || fn2.MaxDepth != fn.MaxDepth || fn2.ArgSpec != fn.ArgSpec {
		t.Error("metadata did not survive the round trip")
	}
	if !lisp.Fequal(fn2.Constants[0], fn.Constants[0]).IsTruthy() {
		t.Error("structured constant did not survive the round trip")
	}
	// Symbols must come back interned, not as copies.
	sym := lisp.Fcar(fn2.Constants[0])
	if sym != lisp.Intern("a") {
		t.Error("unpacked symbol is not the interned one")
	}
}

func TestDeterministicEncoding(t *testing.T) {
	fn := &Function{
		Code:      []byte{byte(OpReturn)},
		Constants: []lisp.Value{lisp.Intern("x"), lisp.MakeFixnum(1)},
		MaxDepth:  1,
	}
	c, err := Pack("f", fn)
	if err != nil {
		t.Fatal(err)
	}
	d1, _ := MarshalContainer(c)
	d2, _ := MarshalContainer(c)
	if string(d1) != string(d2) {
		t.Error("canonical encoding should be byte-stable")
	}
}
