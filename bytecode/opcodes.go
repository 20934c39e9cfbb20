// Package bytecode defines the stack-machine instruction set the native
// compiler consumes, the function object carrying compiled code, and a
// portable container format for moving functions between processes.
package bytecode

import "fmt"

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack and variable access. The low three bits of the ref/set groups
// select an inline operand 0-5, a one-byte operand (6) or a two-byte
// operand (7).
const (
	OpStackRef Opcode = 0x00 // push stack slot (0-7 encode operand forms)
	OpVarRef   Opcode = 0x08 // push symbol's dynamic value
	OpVarSet   Opcode = 0x10 // set symbol's dynamic value from TOS
	OpVarBind  Opcode = 0x18 // dynamically bind symbol to TOS
	OpCall     Opcode = 0x20 // call TOS-n with n args
	OpUnbind   Opcode = 0x28 // undo n dynamic bindings
)

// Handlers.
const (
	OpPopHandler        Opcode = 0x30 // unlink innermost handler
	OpPushConditionCase Opcode = 0x31 // push condition-case handler (2-byte target)
	OpPushCatch         Opcode = 0x32 // push catch handler (2-byte target)
)

// List and sequence operations.
const (
	OpNth         Opcode = 0x38
	OpSymbolp     Opcode = 0x39
	OpConsp       Opcode = 0x3A
	OpStringp     Opcode = 0x3B
	OpListp       Opcode = 0x3C
	OpEq          Opcode = 0x3D
	OpMemq        Opcode = 0x3E
	OpNot         Opcode = 0x3F
	OpCar         Opcode = 0x40
	OpCdr         Opcode = 0x41
	OpCons        Opcode = 0x42
	OpList1       Opcode = 0x43
	OpList2       Opcode = 0x44
	OpList3       Opcode = 0x45
	OpList4       Opcode = 0x46
	OpLength      Opcode = 0x47
	OpAref        Opcode = 0x48
	OpAset        Opcode = 0x49
	OpSymbolValue Opcode = 0x4A
	OpSymbolFn    Opcode = 0x4B
	OpSet         Opcode = 0x4C
	OpFset        Opcode = 0x4D
	OpGet         Opcode = 0x4E
	OpSubstring   Opcode = 0x4F
	OpConcat2     Opcode = 0x50
	OpConcat3     Opcode = 0x51
	OpConcat4     Opcode = 0x52
)

// Arithmetic and comparison.
const (
	OpSub1    Opcode = 0x53
	OpAdd1    Opcode = 0x54
	OpEqlSign Opcode = 0x55
	OpGtr     Opcode = 0x56
	OpLss     Opcode = 0x57
	OpLeq     Opcode = 0x58
	OpGeq     Opcode = 0x59
	OpDiff    Opcode = 0x5A
	OpNegate  Opcode = 0x5B
	OpPlus    Opcode = 0x5C
	OpMax     Opcode = 0x5D
	OpMin     Opcode = 0x5E
	OpMult    Opcode = 0x5F
)

// Unsupported editor-state group. These opcodes exist in the numbering but
// touch state this runtime does not model; the compiler rejects functions
// containing them.
const (
	OpPoint             Opcode = 0x60
	OpGotoChar          Opcode = 0x62
	OpInsert            Opcode = 0x63
	OpPointMax          Opcode = 0x64
	OpPointMin          Opcode = 0x65
	OpCharAfter         Opcode = 0x66
	OpFollowingChar     Opcode = 0x67
	OpPrecedingChar     Opcode = 0x68
	OpCurrentColumn     Opcode = 0x69
	OpIndentTo          Opcode = 0x6A
	OpEolp              Opcode = 0x6C
	OpEobp              Opcode = 0x6D
	OpBolp              Opcode = 0x6E
	OpBobp              Opcode = 0x6F
	OpCurrentBuffer     Opcode = 0x70
	OpSetBuffer         Opcode = 0x71
	OpSaveCurrentBuffer Opcode = 0x72
	OpInteractiveP      Opcode = 0x74
	OpForwardChar       Opcode = 0x75
	OpForwardWord       Opcode = 0x76
	OpSkipCharsForward  Opcode = 0x77
	OpSkipCharsBackward Opcode = 0x78
	OpForwardLine       Opcode = 0x79
	OpCharSyntax        Opcode = 0x7A
	OpBufferSubstring   Opcode = 0x7B
	OpDeleteRegion      Opcode = 0x7C
	OpNarrowToRegion    Opcode = 0x7D
	OpWiden             Opcode = 0x7E
	OpEndOfLine         Opcode = 0x7F
)

// Constants and control flow.
const (
	OpConstant2           Opcode = 0x81 // push constant (2-byte index)
	OpGoto                Opcode = 0x82 // absolute jump (2-byte target)
	OpGotoIfNil           Opcode = 0x83
	OpGotoIfNonNil        Opcode = 0x84
	OpGotoIfNilElsePop    Opcode = 0x85
	OpGotoIfNonNilElsePop Opcode = 0x86
	OpReturn              Opcode = 0x87
	OpDiscard             Opcode = 0x88
	OpDup                 Opcode = 0x89
)

// Save/restore group. Only the handler-related members are compilable.
const (
	OpSaveExcursion   Opcode = 0x8A
	OpSaveRestriction Opcode = 0x8C
	OpCatch           Opcode = 0x8D // obsolete two-value catch
	OpUnwindProtect   Opcode = 0x8E
	OpConditionCase   Opcode = 0x8F // obsolete three-value condition-case
	OpUnbindAll       Opcode = 0x92 // obsolete, never emitted
)

// More predicates and list operations.
const (
	OpStringEqlSign Opcode = 0x98
	OpStringLss     Opcode = 0x99
	OpEqual         Opcode = 0x9A
	OpNthcdr        Opcode = 0x9B
	OpElt           Opcode = 0x9C
	OpMember        Opcode = 0x9D
	OpAssq          Opcode = 0x9E
	OpNreverse      Opcode = 0x9F
	OpSetcar        Opcode = 0xA0
	OpSetcdr        Opcode = 0xA1
	OpCarSafe       Opcode = 0xA2
	OpCdrSafe       Opcode = 0xA3
	OpNconc         Opcode = 0xA4
	OpQuo           Opcode = 0xA5
	OpRem           Opcode = 0xA6
	OpNumberp       Opcode = 0xA7
	OpIntegerp      Opcode = 0xA8
)

// Relative jumps: one signed byte offset biased by 127 from the operand
// position.
const (
	OpRGoto                Opcode = 0xAA
	OpRGotoIfNil           Opcode = 0xAB
	OpRGotoIfNonNil        Opcode = 0xAC
	OpRGotoIfNilElsePop    Opcode = 0xAD
	OpRGotoIfNonNilElsePop Opcode = 0xAE
)

// Variadic and stack-addressing forms.
const (
	OpListN     Opcode = 0xAF // list of n (1-byte n)
	OpConcatN   Opcode = 0xB0 // concat n (1-byte n)
	OpInsertN   Opcode = 0xB1 // unsupported, editor state
	OpStackSet  Opcode = 0xB2 // store TOS to slot (1-byte offset from TOS)
	OpStackSet2 Opcode = 0xB3 // store TOS to slot (2-byte offset)
	OpDiscardN  Opcode = 0xB6 // drop n; bit 0x80 preserves TOS
	OpSwitch    Opcode = 0xB7 // jump-table dispatch, not compilable
)

// OpConstant marks the start of the inline-constant range: opcodes
// OpConstant..0xFF push constants[op-OpConstant].
const OpConstant Opcode = 0xC0

// Info describes one opcode's static properties.
type Info struct {
	Name string
	// OperandBytes is the count of trailing operand bytes for the opcode
	// byte itself; the 0-5 inline forms of the ref/set groups carry their
	// operand in the opcode.
	OperandBytes int
}

var infoTable = map[Opcode]Info{
	OpStackRef: {"stack-ref", 0},
	OpVarRef:   {"varref", 0},
	OpVarSet:   {"varset", 0},
	OpVarBind:  {"varbind", 0},
	OpCall:     {"call", 0},
	OpUnbind:   {"unbind", 0},

	OpPopHandler:        {"pophandler", 0},
	OpPushConditionCase: {"pushconditioncase", 2},
	OpPushCatch:         {"pushcatch", 2},

	OpNth: {"nth", 0}, OpSymbolp: {"symbolp", 0}, OpConsp: {"consp", 0},
	OpStringp: {"stringp", 0}, OpListp: {"listp", 0}, OpEq: {"eq", 0},
	OpMemq: {"memq", 0}, OpNot: {"not", 0}, OpCar: {"car", 0},
	OpCdr: {"cdr", 0}, OpCons: {"cons", 0},
	OpList1: {"list1", 0}, OpList2: {"list2", 0},
	OpList3: {"list3", 0}, OpList4: {"list4", 0},
	OpLength: {"length", 0}, OpAref: {"aref", 0}, OpAset: {"aset", 0},
	OpSymbolValue: {"symbol-value", 0}, OpSymbolFn: {"symbol-function", 0},
	OpSet: {"set", 0}, OpFset: {"fset", 0}, OpGet: {"get", 0},
	OpSubstring: {"substring", 0},
	OpConcat2:   {"concat2", 0}, OpConcat3: {"concat3", 0}, OpConcat4: {"concat4", 0},

	OpSub1: {"sub1", 0}, OpAdd1: {"add1", 0}, OpEqlSign: {"eqlsign", 0},
	OpGtr: {"gtr", 0}, OpLss: {"lss", 0}, OpLeq: {"leq", 0}, OpGeq: {"geq", 0},
	OpDiff: {"diff", 0}, OpNegate: {"negate", 0}, OpPlus: {"plus", 0},
	OpMax: {"max", 0}, OpMin: {"min", 0}, OpMult: {"mult", 0},

	OpConstant2: {"constant2", 2},
	OpGoto:      {"goto", 2},
	OpGotoIfNil: {"gotoifnil", 2}, OpGotoIfNonNil: {"gotoifnonnil", 2},
	OpGotoIfNilElsePop: {"gotoifnilelsepop", 2},
	OpGotoIfNonNilElsePop: {"gotoifnonnilelsepop", 2},
	OpReturn: {"return", 0}, OpDiscard: {"discard", 0}, OpDup: {"dup", 0},

	OpCatch: {"catch", 0}, OpUnwindProtect: {"unwind-protect", 0},
	OpConditionCase: {"condition-case", 0}, OpUnbindAll: {"unbind-all", 0},

	OpStringEqlSign: {"stringeqlsign", 0}, OpStringLss: {"stringlss", 0},
	OpEqual: {"equal", 0}, OpNthcdr: {"nthcdr", 0}, OpElt: {"elt", 0},
	OpMember: {"member", 0}, OpAssq: {"assq", 0}, OpNreverse: {"nreverse", 0},
	OpSetcar: {"setcar", 0}, OpSetcdr: {"setcdr", 0},
	OpCarSafe: {"car-safe", 0}, OpCdrSafe: {"cdr-safe", 0},
	OpNconc: {"nconc", 0}, OpQuo: {"quo", 0}, OpRem: {"rem", 0},
	OpNumberp: {"numberp", 0}, OpIntegerp: {"integerp", 0},

	OpRGoto: {"Rgoto", 1}, OpRGotoIfNil: {"Rgotoifnil", 1},
	OpRGotoIfNonNil: {"Rgotoifnonnil", 1},
	OpRGotoIfNilElsePop: {"Rgotoifnilelsepop", 1},
	OpRGotoIfNonNilElsePop: {"Rgotoifnonnilelsepop", 1},

	OpListN: {"listN", 1}, OpConcatN: {"concatN", 1},
	OpStackSet: {"stack-set", 1}, OpStackSet2: {"stack-set2", 2},
	OpDiscardN: {"discardN", 1}, OpSwitch: {"switch", 0},
}

// Lookup returns the static description of op.
func Lookup(op Opcode) (Info, bool) {
	if op >= OpConstant {
		return Info{Name: "constant", OperandBytes: 0}, true
	}
	if in, ok := infoTable[op]; ok {
		return in, true
	}
	for _, group := range [...]Opcode{OpStackRef, OpVarRef, OpVarSet, OpVarBind, OpCall, OpUnbind} {
		if op >= group && op < group+8 {
			in := infoTable[group]
			switch op - group {
			case 6:
				in.OperandBytes = 1
			case 7:
				in.OperandBytes = 2
			}
			return in, true
		}
	}
	return Info{}, false
}

func (op Opcode) String() string {
	if in, ok := Lookup(op); ok {
		return in.Name
	}
	return fmt.Sprintf("op-%#02x", byte(op))
}
