package comp

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/lutra/bytecode"
	"github.com/chazu/lutra/lisp"
)

func branchy(t *testing.T) *bytecode.Function {
	t.Helper()
	fn, err := bytecode.NewAssembler(bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1}).
		StackRef(0).
		GotoIfNil("no").
		Constant(lisp.Intern("yes")).
		Return().
		Label("no").
		AtLabelDepth(1).
		Constant(lisp.Intern("no")).
		Return().
		Assemble()
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestComputeBlocksDeterministic(t *testing.T) {
	fn := branchy(t)
	p1, err := computeBlocks(fn)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := computeBlocks(fn)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p1.starts, p2.starts) {
		t.Errorf("partitions differ: %v vs %v", p1.starts, p2.starts)
	}
	if len(p1.starts) == 0 || p1.starts[0] != 0 {
		t.Errorf("partition must begin at offset 0, got %v", p1.starts)
	}
}

// A branch whose target is also the fallthrough offset must produce one
// block, not two.
func TestSharedTargetProducesOneBlock(t *testing.T) {
	fn, err := bytecode.NewAssembler(bytecode.ArgSpec{MinArgs: 1, MaxArgs: 1}).
		StackRef(0).
		GotoIfNil("join").
		Label("join").
		AtLabelDepth(1).
		Return().
		Assemble()
	if err != nil {
		t.Fatal(err)
	}
	p, err := computeBlocks(fn)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.starts) != 2 {
		t.Fatalf("want blocks at 0 and the join, got %v", p.starts)
	}
	for _, start := range p.starts {
		if p.block(start) == nil {
			t.Errorf("no block for start %d", start)
		}
	}
}

func TestComputeBlocksRejectsEditorOpcodes(t *testing.T) {
	fn := &bytecode.Function{
		Code:     []byte{byte(bytecode.OpPoint), byte(bytecode.OpReturn)},
		MaxDepth: 1,
	}
	_, err := computeBlocks(fn)
	if !errors.Is(err, ErrUnsupportedOpcode) {
		t.Fatalf("want ErrUnsupportedOpcode, got %v", err)
	}
}

func TestComputeBlocksRejectsOutOfRangeTarget(t *testing.T) {
	fn := &bytecode.Function{
		Code:     []byte{byte(bytecode.OpGoto), 0xFF, 0x7F, byte(bytecode.OpReturn)},
		MaxDepth: 1,
	}
	if _, err := computeBlocks(fn); err == nil {
		t.Fatal("expected error for target past code end")
	}
}
