package bytecode

import (
	"fmt"

	"github.com/chazu/lutra/lisp"
)

// Assembler builds Function objects instruction by instruction, resolving
// forward branch targets through labels. It tracks stack depth so MaxDepth
// does not have to be supplied by hand.
type Assembler struct {
	code      []byte
	constants []lisp.Value
	constIdx  map[lisp.Value]int
	labels    map[string]int
	fixups    []fixup
	depth     int
	maxDepth  int
	spec      ArgSpec
	err       error
}

type fixup struct {
	at    int // position of the 2-byte target
	label string
}

// NewAssembler starts a function with the given arity.
func NewAssembler(spec ArgSpec) *Assembler {
	a := &Assembler{
		constIdx: make(map[lisp.Value]int),
		labels:   make(map[string]int),
		spec:     spec,
		depth:    spec.MaxArgs,
	}
	a.maxDepth = a.depth
	return a
}

func (a *Assembler) fail(format string, args ...interface{}) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

func (a *Assembler) adjust(delta int) {
	a.depth += delta
	if a.depth > a.maxDepth {
		a.maxDepth = a.depth
	}
	if a.depth < 0 {
		a.fail("bytecode: stack underflow at offset %d", len(a.code))
	}
}

func (a *Assembler) emit(bs ...byte) { a.code = append(a.code, bs...) }

// Op emits a plain opcode, adjusting tracked depth by delta.
func (a *Assembler) Op(op Opcode, delta int) *Assembler {
	a.emit(byte(op))
	a.adjust(delta)
	return a
}

// Constant pushes a constant, using the compact inline form when the index
// allows.
func (a *Assembler) Constant(v lisp.Value) *Assembler {
	idx, ok := a.constIdx[v]
	if !ok {
		idx = len(a.constants)
		a.constants = append(a.constants, v)
		a.constIdx[v] = idx
	}
	if idx < 0x100-int(OpConstant) {
		a.emit(byte(int(OpConstant) + idx))
	} else {
		a.emit(byte(OpConstant2), byte(idx), byte(idx>>8))
	}
	a.adjust(1)
	return a
}

// grouped emits a ref/set-group opcode with its operand in the shortest
// form.
func (a *Assembler) grouped(group Opcode, operand, delta int) *Assembler {
	switch {
	case operand < 6:
		a.emit(byte(int(group) + operand))
	case operand < 0x100:
		a.emit(byte(group+6), byte(operand))
	default:
		a.emit(byte(group+7), byte(operand), byte(operand>>8))
	}
	a.adjust(delta)
	return a
}

// StackRef pushes the value n slots below the top.
func (a *Assembler) StackRef(n int) *Assembler { return a.grouped(OpStackRef, n, 1) }

// VarRef pushes sym's dynamic value.
func (a *Assembler) VarRef(sym lisp.Value) *Assembler {
	return a.refSetThroughConstant(OpVarRef, sym, 1)
}

// VarSet pops the top into sym's value cell.
func (a *Assembler) VarSet(sym lisp.Value) *Assembler {
	return a.refSetThroughConstant(OpVarSet, sym, -1)
}

// VarBind pops the top and binds sym to it.
func (a *Assembler) VarBind(sym lisp.Value) *Assembler {
	return a.refSetThroughConstant(OpVarBind, sym, -1)
}

func (a *Assembler) refSetThroughConstant(group Opcode, sym lisp.Value, delta int) *Assembler {
	idx, ok := a.constIdx[sym]
	if !ok {
		idx = len(a.constants)
		a.constants = append(a.constants, sym)
		a.constIdx[sym] = idx
	}
	return a.grouped(group, idx, delta)
}

// Call emits a call with argc arguments below the function on the stack.
func (a *Assembler) Call(argc int) *Assembler {
	return a.grouped(OpCall, argc, -argc)
}

// Unbind emits an unbind of n entries.
func (a *Assembler) Unbind(n int) *Assembler { return a.grouped(OpUnbind, n, 0) }

// Label defines a branch target at the current offset.
func (a *Assembler) Label(name string) *Assembler {
	if _, dup := a.labels[name]; dup {
		a.fail("bytecode: duplicate label %q", name)
	}
	a.labels[name] = len(a.code)
	return a
}

// branch emits op with a 2-byte target resolved at Assemble time. delta is
// the depth change on the fallthrough edge.
func (a *Assembler) branch(op Opcode, label string, delta int) *Assembler {
	a.emit(byte(op))
	a.fixups = append(a.fixups, fixup{at: len(a.code), label: label})
	a.emit(0, 0)
	a.adjust(delta)
	return a
}

// Goto emits an unconditional jump.
func (a *Assembler) Goto(label string) *Assembler { return a.branch(OpGoto, label, 0) }

// GotoIfNil pops the top and jumps when it was nil.
func (a *Assembler) GotoIfNil(label string) *Assembler {
	return a.branch(OpGotoIfNil, label, -1)
}

// GotoIfNonNil pops the top and jumps when it was non-nil.
func (a *Assembler) GotoIfNonNil(label string) *Assembler {
	return a.branch(OpGotoIfNonNil, label, -1)
}

// GotoIfNilElsePop jumps keeping the top when nil, pops otherwise.
func (a *Assembler) GotoIfNilElsePop(label string) *Assembler {
	return a.branch(OpGotoIfNilElsePop, label, -1)
}

// GotoIfNonNilElsePop jumps keeping the top when non-nil, pops otherwise.
func (a *Assembler) GotoIfNonNilElsePop(label string) *Assembler {
	return a.branch(OpGotoIfNonNilElsePop, label, -1)
}

// PushCatch emits a catch handler whose body starts after this instruction
// and whose handler code is at label.
func (a *Assembler) PushCatch(label string) *Assembler {
	return a.branch(OpPushCatch, label, -1)
}

// PushConditionCase emits a condition-case handler.
func (a *Assembler) PushConditionCase(label string) *Assembler {
	return a.branch(OpPushConditionCase, label, -1)
}

// AtLabelDepth resets the tracked depth at a label reached only by jumps,
// where the assembler's linear tracking is off.
func (a *Assembler) AtLabelDepth(depth int) *Assembler {
	a.depth = depth
	if depth > a.maxDepth {
		a.maxDepth = depth
	}
	return a
}

// Return pops the top as the function result.
func (a *Assembler) Return() *Assembler { return a.Op(OpReturn, -1) }

// Assemble resolves labels and produces the function object.
func (a *Assembler) Assemble() (*Function, error) {
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			a.fail("bytecode: undefined label %q", f.label)
			break
		}
		a.code[f.at] = byte(target)
		a.code[f.at+1] = byte(target >> 8)
	}
	if a.err != nil {
		return nil, a.err
	}
	return &Function{
		Code:      a.code,
		Constants: a.constants,
		MaxDepth:  a.maxDepth,
		ArgSpec:   a.spec,
	}, nil
}
