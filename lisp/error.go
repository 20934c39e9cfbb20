package lisp

import (
	"fmt"
	"strings"
)

// LispError is an uncaught lisp-level error surfaced to Go callers.
type LispError struct {
	Sym  string
	Data []Value
}

func (e *LispError) Error() string {
	if len(e.Data) == 0 {
		return e.Sym
	}
	parts := make([]string, len(e.Data))
	for i, v := range e.Data {
		parts[i] = describe(v)
	}
	return fmt.Sprintf("%s: %s", e.Sym, strings.Join(parts, " "))
}

// WrongTypeArgument signals wrong-type-argument with the offending value.
func WrongTypeArgument(predicate Value, val Value) Value {
	return Signal(QwrongTypeArgument, List(predicate, val))
}

// PureWriteError signals an attempt to mutate purespace.
func PureWriteError(obj Value) Value {
	return Signal(Qerror, List(MakeString("Attempt to modify read-only object"), obj))
}
