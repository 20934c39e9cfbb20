package comp

import (
	"fmt"
	"sort"

	"github.com/chazu/lutra/bytecode"
	"github.com/chazu/lutra/ir"
)

// bblock pairs a bytecode offset with the backend block built for it and
// the operand-stack depth recorded when an edge first reaches it. Depth
// is settled on first arrival; every later edge must arrive at the same
// depth or the code vector is malformed.
type bblock struct {
	start int
	irb   *ir.Block
	inSP  int // -1 until the first incoming edge
}

// blockPlan is the partition of a code vector into basic blocks.
type blockPlan struct {
	starts []int
	at     map[int]*bblock
}

func (p *blockPlan) block(off int) *bblock { return p.at[off] }

// computeBlocks scans the instruction stream once and partitions it:
// offset 0, every jump or handler target, and the instruction after any
// control transfer begin a block. The one-byte arithmetic forms branch
// inside their inline helpers, never in the instruction stream, so they
// cut no blocks. The partition is a pure function of the code vector,
// so two scans of the same code always agree.
func computeBlocks(fn *bytecode.Function) (*blockPlan, error) {
	isStart := map[int]bool{0: true}
	mark := func(off, pc int) error {
		if off < 0 || off >= len(fn.Code) {
			return fmt.Errorf("comp: jump target %d out of range at pc %d", off, pc)
		}
		isStart[off] = true
		return nil
	}

	pc := 0
	for pc < len(fn.Code) {
		op := bytecode.Opcode(fn.Code[pc])
		width, err := instWidth(fn, pc)
		if err != nil {
			return nil, err
		}
		switch op {
		case bytecode.OpGoto, bytecode.OpGotoIfNil, bytecode.OpGotoIfNonNil,
			bytecode.OpGotoIfNilElsePop, bytecode.OpGotoIfNonNilElsePop,
			bytecode.OpPushCatch, bytecode.OpPushConditionCase:
			if err := mark(int(fn.Code[pc+1])|int(fn.Code[pc+2])<<8, pc); err != nil {
				return nil, err
			}
			isStart[pc+width] = true
		case bytecode.OpRGoto, bytecode.OpRGotoIfNil, bytecode.OpRGotoIfNonNil,
			bytecode.OpRGotoIfNilElsePop, bytecode.OpRGotoIfNonNilElsePop:
			if err := mark(pc+1+int(fn.Code[pc+1])-127, pc); err != nil {
				return nil, err
			}
			isStart[pc+width] = true
		case bytecode.OpReturn:
			isStart[pc+width] = true
		}
		pc += width
	}
	if pc != len(fn.Code) {
		return nil, fmt.Errorf("comp: instruction at %d overruns code end", pc)
	}

	p := &blockPlan{at: make(map[int]*bblock)}
	for off := range isStart {
		if off == len(fn.Code) {
			continue // transfer at the very end, nothing follows
		}
		p.starts = append(p.starts, off)
	}
	sort.Ints(p.starts)
	for _, off := range p.starts {
		p.at[off] = &bblock{start: off, inSP: -1}
	}
	return p, nil
}

// instWidth is the full byte width of the instruction at pc, opcode
// included.
func instWidth(fn *bytecode.Function, pc int) (int, error) {
	op := bytecode.Opcode(fn.Code[pc])
	info, ok := bytecode.Lookup(op)
	if !ok {
		return 0, fmt.Errorf("%w: %s at pc %d", ErrUnsupportedOpcode, op, pc)
	}
	if pc+info.OperandBytes >= len(fn.Code) {
		return 0, fmt.Errorf("comp: truncated %s at pc %d", info.Name, pc)
	}
	return 1 + info.OperandBytes, nil
}
