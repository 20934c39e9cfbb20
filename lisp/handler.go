package lisp

import (
	"unsafe"
)

// HandlerKind discriminates what a handler record catches.
type HandlerKind int64

const (
	// Catcher handles (throw TAG VAL) with a matching tag.
	Catcher HandlerKind = iota
	// ConditionCase handles signaled errors whose condition matches.
	ConditionCase
)

// JmpBuf is the non-local-jump checkpoint buffer embedded in a handler
// record. The backend's checkpoint primitive stores its bookkeeping in the
// first word; the rest is opaque filler so the buffer has a realistic,
// stable size for the mirrored struct layout.
type JmpBuf struct {
	Word uint64
	_    [5]uint64
}

// Handler mirrors the host's handler-stack entry. Generated code names only
// Val, Next and Jmp; everything else is opaque padding from its point of
// view, which is why the exported offsets below exist: the ABI layer
// computes its filler fields from them instead of repeating this layout.
type Handler struct {
	kind     HandlerKind
	tagOrCh  Value
	Val      Value
	Next     *Handler
	nextFree *Handler
	pdlCount int
	poll     int64
	Jmp      JmpBuf
	unused   uintptr
}

// Struct geometry exported for the ABI layer.
const (
	HandlerSize       = unsafe.Sizeof(Handler{})
	HandlerValOffset  = unsafe.Offsetof(Handler{}.Val)
	HandlerNextOffset = unsafe.Offsetof(Handler{}.Next)
	HandlerJmpOffset  = unsafe.Offsetof(Handler{}.Jmp)
	JmpBufSize        = unsafe.Sizeof(JmpBuf{})
	NextPtrSize       = unsafe.Sizeof(Handler{}.Next)
)

var handlerRegistry = make(map[*Handler]struct{})

// specBinding records one entry to undo on unbind: either a dynamic
// variable binding (sym non-nil) or an unwind-protect cleanup function.
type specBinding struct {
	sym *Symbol
	old Value
	fun Value
}

// ThreadState is the per-thread execution state. Generated code only ever
// touches HandlerList; the surrounding fields are opaque to it and its
// mirror declaration pads around the one named field.
type ThreadState struct {
	name        string
	stackBottom uintptr
	HandlerList *Handler
	specpdl     []specBinding
}

const (
	ThreadStateSize   = unsafe.Sizeof(ThreadState{})
	HandlerListOffset = unsafe.Offsetof(ThreadState{}.HandlerList)
)

var mainThread = &ThreadState{name: "main"}

// CurrentThread returns the executing thread's state.
func CurrentThread() *ThreadState { return mainThread }

// CurrentThreadAddr returns the raw address generated code embeds.
func CurrentThreadAddr() uintptr { return uintptr(unsafe.Pointer(mainThread)) }

// PushHandler creates and links a handler record, returning its address for
// generated code. The caller (generated code) immediately performs a
// checkpoint on the record's jump buffer.
func PushHandler(tag Value, kind HandlerKind) *Handler {
	h := &Handler{
		kind:     kind,
		tagOrCh:  tag,
		Val:      Nil,
		Next:     mainThread.HandlerList,
		pdlCount: len(mainThread.specpdl),
	}
	handlerRegistry[h] = struct{}{}
	mainThread.HandlerList = h
	return h
}

// NonLocalJump is the unwind payload delivered through the backend when a
// throw or signal targets an established checkpoint. The backend matches it
// structurally via the UnwindBuf method, so this package stays independent
// of the backend.
type NonLocalJump struct {
	buf *JmpBuf
}

// UnwindBuf identifies the checkpoint buffer this unwind targets.
func (n *NonLocalJump) UnwindBuf() uintptr { return uintptr(unsafe.Pointer(n.buf)) }

// Throw performs (throw tag val): find the innermost matching catcher,
// restore dynamic state to its push point, deliver val, and unwind to its
// checkpoint. Panics with a LispError if no catcher matches.
func Throw(tag, val Value) Value {
	for h := mainThread.HandlerList; h != nil; h = h.Next {
		if h.kind == Catcher && h.tagOrCh == tag {
			unwindToHandler(h, val)
		}
	}
	panic(&LispError{Sym: "no-catch", Data: []Value{tag, val}})
}

// Signal raises an error condition. A ConditionCase handler whose condition
// is the error symbol, or the catch-all `error`, receives the (SYM . DATA)
// pair as its delivered value.
func Signal(errSym Value, data Value) Value {
	for h := mainThread.HandlerList; h != nil; h = h.Next {
		if h.kind != ConditionCase {
			continue
		}
		if h.tagOrCh == errSym || h.tagOrCh == Qerror || h.tagOrCh == T {
			unwindToHandler(h, MakeCons(errSym, data))
		}
	}
	panic(&LispError{Sym: SymbolName(errSym), Data: []Value{data}})
}

func unwindToHandler(h *Handler, val Value) {
	unbindTo(h.pdlCount)
	// Leave h linked; the resume path in generated code pops it by
	// assigning h.Next to the handler-stack head.
	mainThread.HandlerList = h
	h.Val = val
	panic(&NonLocalJump{buf: &h.Jmp})
}

// PopHandler unlinks the innermost handler. The compiled handler-pop opcode
// does this inline; this is the interpreter-side equivalent kept for host
// callers and tests.
func PopHandler() *Handler {
	h := mainThread.HandlerList
	if h == nil {
		return nil
	}
	mainThread.HandlerList = h.Next
	return h
}

// ---------------------------------------------------------------------------
// Dynamic binding
// ---------------------------------------------------------------------------

// Specbind dynamically binds sym to val, recording the old value for unbind.
func Specbind(sym Value, val Value) Value {
	s := XSymbol(sym)
	mainThread.specpdl = append(mainThread.specpdl, specBinding{sym: s, old: s.Val})
	s.Val = val
	return val
}

// SpecpdlIndex returns the current depth of the dynamic-binding stack.
func SpecpdlIndex() int { return len(mainThread.specpdl) }

// RecordUnwindProtect arranges for fun to be called with no arguments when
// the current dynamic extent is unwound.
func RecordUnwindProtect(fun Value) {
	mainThread.specpdl = append(mainThread.specpdl, specBinding{fun: fun})
}

// UnbindN undoes the innermost n dynamic bindings in one step.
func UnbindN(n int) Value {
	unbindTo(len(mainThread.specpdl) - n)
	return Nil
}

func unbindTo(depth int) {
	if depth < 0 {
		depth = 0
	}
	pdl := mainThread.specpdl
	for i := len(pdl) - 1; i >= depth; i-- {
		if pdl[i].sym != nil {
			pdl[i].sym.Val = pdl[i].old
		} else {
			mainThread.specpdl = pdl[:i]
			Funcall([]Value{pdl[i].fun})
		}
	}
	mainThread.specpdl = pdl[:depth]
}
