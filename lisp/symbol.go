package lisp

import (
	"fmt"
	"unsafe"
)

// Symbol is an interned name with a value cell and a function cell.
// Symbols are never collected; Intern keeps a reference for the process
// lifetime, which also keeps the tagged pointer stable for generated code.
type Symbol struct {
	Name  string
	Val   Value // dynamic value cell
	Fn    Value // function cell (nil or a subr vectorlike)
	Plist Value // property list
}

// obarray is the global intern table. The runtime is single-threaded by
// contract (one compilation, one evaluation at a time), matching the host
// model the compiler assumes.
var obarray = make(map[string]*Symbol)

// Canonical symbols, interned at package init.
var (
	Nil Value
	T   Value

	QwrongTypeArgument Value
	Qconsp             Value
	Qlistp             Value
	Qintegerp          Value
	Qerror             Value
)

func init() {
	Nil = Intern("nil")
	T = Intern("t")
	QwrongTypeArgument = Intern("wrong-type-argument")
	Qconsp = Intern("consp")
	Qlistp = Intern("listp")
	Qintegerp = Intern("integerp")
	Qerror = Intern("error")

	// nil's value and function cells are nil itself.
	XSymbol(Nil).Val = Nil
	XSymbol(Nil).Fn = Nil
	XSymbol(Nil).Plist = Nil
	XSymbol(T).Val = T
}

// Intern returns the symbol named name, creating it if needed.
func Intern(name string) Value {
	if s, ok := obarray[name]; ok {
		return tagPointer(unsafe.Pointer(s), TagSymbol)
	}
	s := &Symbol{Name: name}
	obarray[name] = s
	v := tagPointer(unsafe.Pointer(s), TagSymbol)
	if name != "nil" {
		s.Val = Nil
		s.Fn = Nil
		s.Plist = Nil
	}
	return v
}

// XSymbol returns the symbol struct behind v.
// Panics if v is not a symbol.
func XSymbol(v Value) *Symbol {
	if !v.IsSymbol() {
		panic("XSymbol: not a symbol")
	}
	return (*Symbol)(v.untag(TagSymbol))
}

// SymbolName returns the print name of a symbol value.
func SymbolName(v Value) string { return XSymbol(v).Name }

func (s *Symbol) String() string { return s.Name }

// describe renders a value for error messages.
func describe(v Value) string {
	switch v.TypeOf() {
	case TagInt0:
		return fmt.Sprintf("%d", v.Fixnum())
	case TagSymbol:
		return SymbolName(v)
	case TagCons:
		return "#<cons>"
	case TagString:
		return fmt.Sprintf("%q", XString(v).S)
	case TagFloat:
		return fmt.Sprintf("%v", XFloat(v).F)
	case TagVectorlike:
		return "#<vectorlike>"
	default:
		return fmt.Sprintf("#<value %#x>", uint64(v))
	}
}
