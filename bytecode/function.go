package bytecode

import (
	"fmt"

	"github.com/chazu/lutra/lisp"
)

// ArgSpec describes a function's arity: mandatory count, total positional
// count, and whether a trailing rest parameter collects the remainder.
type ArgSpec struct {
	MinArgs int
	MaxArgs int
	Rest    bool
}

// Arg-descriptor bit layout: bits 0-6 mandatory count, bit 7 rest flag,
// bits 8-14 total positional count.
const (
	argMinMask  = 0x7F
	argRestBit  = 0x80
	argMaxShift = 8
)

// ParseArgSpec decodes a packed integer arg descriptor.
func ParseArgSpec(v lisp.Value) (ArgSpec, error) {
	if !v.IsFixnum() {
		return ArgSpec{}, fmt.Errorf("bytecode: arg descriptor %s is not an integer", v.TypeOf())
	}
	raw := v.Fixnum()
	spec := ArgSpec{
		MinArgs: int(raw & argMinMask),
		MaxArgs: int(raw>>argMaxShift) & argMinMask,
		Rest:    raw&argRestBit != 0,
	}
	if spec.MaxArgs < spec.MinArgs {
		return ArgSpec{}, fmt.Errorf("bytecode: arg descriptor %#x: max %d below min %d",
			raw, spec.MaxArgs, spec.MinArgs)
	}
	return spec, nil
}

// Packed re-encodes the arg spec as the integer descriptor.
func (s ArgSpec) Packed() int64 {
	raw := int64(s.MinArgs) | int64(s.MaxArgs)<<argMaxShift
	if s.Rest {
		raw |= argRestBit
	}
	return raw
}

// Function is one unit of compilable code: the instruction stream, its
// constant vector, the maximum operand stack depth the assembler computed,
// and the arity.
type Function struct {
	Code      []byte
	Constants []lisp.Value
	MaxDepth  int
	ArgSpec   ArgSpec
}

// FrameSize is the number of value slots a frame for this function needs.
func (f *Function) FrameSize() int {
	return f.MaxDepth + 1
}

// FetchOperand reads the operand at pc for the opcode form, returning the
// operand value and the number of bytes consumed including the opcode.
// Only valid for the ref/set opcode groups with encoded operand forms.
func (f *Function) FetchOperand(group Opcode, pc int) (op int, width int, err error) {
	form := Opcode(f.Code[pc]) - group
	switch {
	case form < 6:
		return int(form), 1, nil
	case form == 6:
		if pc+1 >= len(f.Code) {
			return 0, 0, fmt.Errorf("bytecode: truncated operand at %d", pc)
		}
		return int(f.Code[pc+1]), 2, nil
	default:
		if pc+2 >= len(f.Code) {
			return 0, 0, fmt.Errorf("bytecode: truncated operand at %d", pc)
		}
		return int(f.Code[pc+1]) | int(f.Code[pc+2])<<8, 3, nil
	}
}
