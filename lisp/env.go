package lisp

import "sync"

// Env is the host environment handle handed to the compiler and tools. The
// runtime state itself is process-global (one intern table, one main
// thread); Env is the explicit capability for code that reads or mutates
// it, and installing the builtin function set happens once on first use.
type Env struct{}

var (
	envOnce   sync.Once
	sharedEnv = &Env{}
)

// NewEnv returns the process environment, installing builtins on first
// call.
func NewEnv() *Env {
	envOnce.Do(installBuiltins)
	return sharedEnv
}

// Intern returns the interned symbol for name.
func (e *Env) Intern(name string) Value { return Intern(name) }

// Funcall applies fn to args through the environment's function cells.
func (e *Env) Funcall(fn Value, args ...Value) Value {
	return Funcall(append([]Value{fn}, args...))
}

// DefineSubr installs a builtin under name and returns its subr object.
func (e *Env) DefineSubr(name string, minArgs, maxArgs int, fn func(args []Value) Value) *Subr {
	return XSubr(Defsubr(name, minArgs, maxArgs, fn))
}

// RegisterNative installs a compiled entry point in the function table. It
// is what makes a freshly compiled function reachable by name, including
// from its own recursive call sites.
func (e *Env) RegisterNative(name string, minArgs, maxArgs int, fn func(args []Value) Value) *Subr {
	return e.DefineSubr(name, minArgs, maxArgs, fn)
}

// LookupSubr returns the subr installed under name, or nil.
func (e *Env) LookupSubr(name string) *Subr {
	return XSubr(XSymbol(Intern(name)).Fn)
}

// Resolve exposes the runtime routine table for the backend's import
// binding.
func (e *Env) Resolve(name string) (Routine, bool) { return Resolve(name) }

// installBuiltins wires the lisp-level names to the primitive routines so
// generic dispatch through symbols works.
func installBuiltins() {
	many := ManyArgs
	Defsubr("cons", 2, 2, func(a []Value) Value { return Fcons(a[0], a[1]) })
	Defsubr("car", 1, 1, func(a []Value) Value { return Fcar(a[0]) })
	Defsubr("cdr", 1, 1, func(a []Value) Value { return Fcdr(a[0]) })
	Defsubr("setcar", 2, 2, func(a []Value) Value { return Fsetcar(a[0], a[1]) })
	Defsubr("setcdr", 2, 2, func(a []Value) Value { return Fsetcdr(a[0], a[1]) })
	Defsubr("list", 0, many, Flist)
	Defsubr("length", 1, 1, func(a []Value) Value { return Flength(a[0]) })
	Defsubr("memq", 2, 2, func(a []Value) Value { return Fmemq(a[0], a[1]) })
	Defsubr("member", 2, 2, func(a []Value) Value { return Fmember(a[0], a[1]) })
	Defsubr("assq", 2, 2, func(a []Value) Value { return Fassq(a[0], a[1]) })
	Defsubr("nreverse", 1, 1, func(a []Value) Value { return Fnreverse(a[0]) })
	Defsubr("nconc", 0, many, Fnconc)
	Defsubr("equal", 2, 2, func(a []Value) Value { return Fequal(a[0], a[1]) })
	Defsubr("not", 1, 1, func(a []Value) Value { return Fnot(a[0]) })
	Defsubr("+", 0, many, Fplus)
	Defsubr("-", 0, many, Fminus)
	Defsubr("*", 0, many, Ftimes)
	Defsubr("/", 1, many, Fquo)
	Defsubr("%", 2, 2, func(a []Value) Value { return Frem(a[0], a[1]) })
	Defsubr("max", 1, many, Fmax)
	Defsubr("min", 1, many, Fmin)
	Defsubr("1+", 1, 1, func(a []Value) Value { return Fadd1(a[0]) })
	Defsubr("1-", 1, 1, func(a []Value) Value { return Fsub1(a[0]) })
	Defsubr("=", 2, 2, func(a []Value) Value { return Arithcompare(a[0], a[1], ArithEqual) })
	Defsubr("<", 2, 2, func(a []Value) Value { return Arithcompare(a[0], a[1], ArithLess) })
	Defsubr(">", 2, 2, func(a []Value) Value { return Arithcompare(a[0], a[1], ArithGrtr) })
	Defsubr("<=", 2, 2, func(a []Value) Value { return Arithcompare(a[0], a[1], ArithLessOrEqual) })
	Defsubr(">=", 2, 2, func(a []Value) Value { return Arithcompare(a[0], a[1], ArithGrtrOrEqual) })
	Defsubr("numberp", 1, 1, func(a []Value) Value { return Fnumberp(a[0]) })
	Defsubr("integerp", 1, 1, func(a []Value) Value { return Fintegerp(a[0]) })
	Defsubr("symbol-value", 1, 1, func(a []Value) Value { return FsymbolValue(a[0]) })
	Defsubr("symbol-function", 1, 1, func(a []Value) Value { return FsymbolFunction(a[0]) })
	Defsubr("set", 2, 2, func(a []Value) Value { return Fset(a[0], a[1]) })
	Defsubr("fset", 2, 2, func(a []Value) Value { return Ffset(a[0], a[1]) })
	Defsubr("get", 2, 2, func(a []Value) Value { return Fget(a[0], a[1]) })
	Defsubr("put", 3, 3, func(a []Value) Value { return Fput(a[0], a[1], a[2]) })
	Defsubr("aref", 2, 2, func(a []Value) Value { return Faref(a[0], a[1]) })
	Defsubr("aset", 3, 3, func(a []Value) Value { return Faset(a[0], a[1], a[2]) })
	Defsubr("concat", 0, many, Fconcat)
	Defsubr("substring", 1, 3, func(a []Value) Value { return Fsubstring(a[0], a[1], a[2]) })
	Defsubr("string-equal", 2, 2, func(a []Value) Value { return FstringEqual(a[0], a[1]) })
	Defsubr("string-lessp", 2, 2, func(a []Value) Value { return FstringLessp(a[0], a[1]) })
	Defsubr("nth", 2, 2, func(a []Value) Value { return Fnth(a[0], a[1]) })
	Defsubr("nthcdr", 2, 2, func(a []Value) Value { return Fnthcdr(a[0], a[1]) })
	Defsubr("elt", 2, 2, func(a []Value) Value { return Felt(a[0], a[1]) })
	Defsubr("car-safe", 1, 1, func(a []Value) Value { return FcarSafe(a[0]) })
	Defsubr("cdr-safe", 1, 1, func(a []Value) Value { return FcdrSafe(a[0]) })
	Defsubr("funcall", 1, many, Funcall)
	Defsubr("throw", 2, 2, func(a []Value) Value { return Throw(a[0], a[1]) })
}
