package lisp

import (
	"math/big"
	"strings"
	"unsafe"
)

// This file holds the runtime routines that compiled code links against,
// plus the host-side builtin functions they delegate to. Every routine is
// callable through the uniform word-based signature the code generator
// uses; Resolve adapts between the two.

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

// number is a value lifted out of its lisp encoding for arithmetic.
// Exactly one of i and the float flag is meaningful.
type number struct {
	isFloat bool
	f       float64
	i       *big.Int
}

func checkNumber(v Value) number {
	switch {
	case v.IsFixnum():
		return number{i: big.NewInt(v.Fixnum())}
	case v.IsFloat():
		return number{isFloat: true, f: XFloat(v).F}
	default:
		if b := XBignumSafe(v); b != nil {
			return number{i: new(big.Int).Set(b.V)}
		}
	}
	WrongTypeArgument(Intern("number-or-marker-p"), v)
	panic("unreachable")
}

// XBignumSafe is XBignum without the vectorlike precondition.
func XBignumSafe(v Value) *Bignum {
	if !v.IsVectorlike() {
		return nil
	}
	return XBignum(v)
}

func (n number) toFloat() float64 {
	if n.isFloat {
		return n.f
	}
	f, _ := new(big.Float).SetInt(n.i).Float64()
	return f
}

// makeInteger narrows a big integer back to a fixnum when it fits.
func makeInteger(i *big.Int) Value {
	if i.IsInt64() {
		if v, ok := TryMakeFixnum(i.Int64()); ok {
			return v
		}
	}
	return makeBignum(new(big.Int).Set(i))
}

func foldArith(args []Value, identity int64, intOp func(acc, x *big.Int), floatOp func(acc, x float64) float64) Value {
	if len(args) == 0 {
		return MakeFixnum(identity)
	}
	acc := checkNumber(args[0])
	for _, a := range args[1:] {
		n := checkNumber(a)
		if acc.isFloat || n.isFloat {
			acc = number{isFloat: true, f: floatOp(acc.toFloat(), n.toFloat())}
		} else {
			intOp(acc.i, n.i)
		}
	}
	if acc.isFloat {
		return MakeFloat(acc.f)
	}
	return makeInteger(acc.i)
}

// Fplus implements (+ ...).
func Fplus(args []Value) Value {
	return foldArith(args, 0,
		func(acc, x *big.Int) { acc.Add(acc, x) },
		func(acc, x float64) float64 { return acc + x })
}

// Fminus implements (- ...): negation with one argument, subtraction chain
// otherwise.
func Fminus(args []Value) Value {
	if len(args) == 0 {
		return MakeFixnum(0)
	}
	if len(args) == 1 {
		return Fnegate(args[0])
	}
	return foldArith(args, 0,
		func(acc, x *big.Int) { acc.Sub(acc, x) },
		func(acc, x float64) float64 { return acc - x })
}

// Ftimes implements (* ...).
func Ftimes(args []Value) Value {
	return foldArith(args, 1,
		func(acc, x *big.Int) { acc.Mul(acc, x) },
		func(acc, x float64) float64 { return acc * x })
}

// Fquo implements (/ ...).
func Fquo(args []Value) Value {
	for _, a := range args[1:] {
		n := checkNumber(a)
		if !n.isFloat && n.i.Sign() == 0 {
			Signal(Intern("arith-error"), Nil)
		}
	}
	return foldArith(args, 1,
		func(acc, x *big.Int) { acc.Quo(acc, x) },
		func(acc, x float64) float64 { return acc / x })
}

// Frem implements (% x y) on integers.
func Frem(x, y Value) Value {
	a, b := checkNumber(x), checkNumber(y)
	if a.isFloat || b.isFloat {
		WrongTypeArgument(Intern("integerp"), x)
	}
	if b.i.Sign() == 0 {
		Signal(Intern("arith-error"), Nil)
	}
	return makeInteger(new(big.Int).Rem(a.i, b.i))
}

// Fmax implements (max ...).
func Fmax(args []Value) Value { return extremum(args, 1) }

// Fmin implements (min ...).
func Fmin(args []Value) Value { return extremum(args, -1) }

func extremum(args []Value, sign int) Value {
	best := args[0]
	checkNumber(best)
	for _, a := range args[1:] {
		if numCompare(a, best)*sign > 0 {
			best = a
		}
	}
	return best
}

func numCompare(x, y Value) int {
	a, b := checkNumber(x), checkNumber(y)
	if a.isFloat || b.isFloat {
		af, bf := a.toFloat(), b.toFloat()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return a.i.Cmp(b.i)
}

// ArithComparison selects the relation arithcompare tests.
type ArithComparison int64

const (
	ArithEqual ArithComparison = iota
	ArithNotEqual
	ArithLess
	ArithGrtr
	ArithLessOrEqual
	ArithGrtrOrEqual
)

// Arithcompare compares two numbers under the given relation. Compiled
// comparison opcodes whose operands miss the immediate-integer fast path
// land here.
func Arithcompare(x, y Value, kind ArithComparison) Value {
	c := numCompare(x, y)
	switch kind {
	case ArithEqual:
		return FromBool(c == 0)
	case ArithNotEqual:
		return FromBool(c != 0)
	case ArithLess:
		return FromBool(c < 0)
	case ArithGrtr:
		return FromBool(c > 0)
	case ArithLessOrEqual:
		return FromBool(c <= 0)
	default:
		return FromBool(c >= 0)
	}
}

// Fadd1 implements (1+ x).
func Fadd1(v Value) Value { return Fplus([]Value{v, MakeFixnum(1)}) }

// Fsub1 implements (1- x).
func Fsub1(v Value) Value { return Fminus([]Value{v, MakeFixnum(1)}) }

// Fnegate implements unary minus.
func Fnegate(v Value) Value {
	n := checkNumber(v)
	if n.isFloat {
		return MakeFloat(-n.f)
	}
	return makeInteger(new(big.Int).Neg(n.i))
}

// Fnumberp implements (numberp x).
func Fnumberp(v Value) Value {
	return FromBool(v.IsFixnum() || v.IsFloat() || XBignumSafe(v) != nil)
}

// Fintegerp implements (integerp x).
func Fintegerp(v Value) Value {
	return FromBool(v.IsFixnum() || XBignumSafe(v) != nil)
}

// ---------------------------------------------------------------------------
// Pairs and lists
// ---------------------------------------------------------------------------

// Fcons implements (cons a b).
func Fcons(car, cdr Value) Value { return MakeCons(car, cdr) }

// Fcar implements (car x); car of nil is nil.
func Fcar(v Value) Value {
	if v.IsNil() {
		return Nil
	}
	if !v.IsCons() {
		WrongTypeArgument(Qlistp, v)
	}
	return XCons(v).Car
}

// Fcdr implements (cdr x); cdr of nil is nil.
func Fcdr(v Value) Value {
	if v.IsNil() {
		return Nil
	}
	if !v.IsCons() {
		WrongTypeArgument(Qlistp, v)
	}
	return XCons(v).Cdr
}

// FcarSafe implements (car-safe x): nil for any non-cons.
func FcarSafe(v Value) Value {
	if !v.IsCons() {
		return Nil
	}
	return XCons(v).Car
}

// FcdrSafe implements (cdr-safe x).
func FcdrSafe(v Value) Value {
	if !v.IsCons() {
		return Nil
	}
	return XCons(v).Cdr
}

// Fsetcar implements (setcar cell v).
func Fsetcar(cell, v Value) Value {
	if !cell.IsCons() {
		WrongTypeArgument(Qconsp, cell)
	}
	checkImpure(cell)
	XCons(cell).Car = v
	return v
}

// Fsetcdr implements (setcdr cell v).
func Fsetcdr(cell, v Value) Value {
	if !cell.IsCons() {
		WrongTypeArgument(Qconsp, cell)
	}
	checkImpure(cell)
	XCons(cell).Cdr = v
	return v
}

func checkImpure(v Value) {
	if PureP(v) {
		PureWriteError(v)
	}
}

// Flist implements (list ...).
func Flist(args []Value) Value { return List(args...) }

// Flength implements (length sequence).
func Flength(v Value) Value {
	switch {
	case v.IsNil():
		return MakeFixnum(0)
	case v.IsCons():
		n := int64(0)
		for c := v; c.IsCons(); c = XCons(c).Cdr {
			n++
		}
		return MakeFixnum(n)
	case v.IsString():
		return MakeFixnum(int64(len(XString(v).S)))
	case v.IsVectorlike():
		if h := XVectorlikeHeader(v); h.Kind == PvecVector {
			return MakeFixnum(int64(len(XVector(v).Contents)))
		}
	}
	WrongTypeArgument(Intern("sequencep"), v)
	panic("unreachable")
}

// Fnthcdr implements (nthcdr n list).
func Fnthcdr(n, list Value) Value {
	if !n.IsFixnum() {
		WrongTypeArgument(Qintegerp, n)
	}
	for i := n.Fixnum(); i > 0 && list.IsCons(); i-- {
		list = XCons(list).Cdr
	}
	return list
}

// Fnth implements (nth n list).
func Fnth(n, list Value) Value { return Fcar(Fnthcdr(n, list)) }

// Felt implements (elt sequence n).
func Felt(seq, n Value) Value {
	if seq.IsCons() || seq.IsNil() {
		return Fnth(n, seq)
	}
	return Faref(seq, n)
}

// Fmemq implements (memq elt list) using identity.
func Fmemq(elt, list Value) Value {
	for ; list.IsCons(); list = XCons(list).Cdr {
		if XCons(list).Car == elt {
			return list
		}
	}
	return Nil
}

// Fmember implements (member elt list) using structural equality.
func Fmember(elt, list Value) Value {
	for ; list.IsCons(); list = XCons(list).Cdr {
		if Fequal(elt, XCons(list).Car).IsTruthy() {
			return list
		}
	}
	return Nil
}

// Fassq implements (assq key alist).
func Fassq(key, alist Value) Value {
	for ; alist.IsCons(); alist = XCons(alist).Cdr {
		pair := XCons(alist).Car
		if pair.IsCons() && XCons(pair).Car == key {
			return pair
		}
	}
	return Nil
}

// Fnreverse implements (nreverse list), reversing in place.
func Fnreverse(list Value) Value {
	prev := Nil
	for list.IsCons() {
		c := XCons(list)
		checkImpure(list)
		next := c.Cdr
		c.Cdr = prev
		prev = list
		list = next
	}
	if !list.IsNil() {
		WrongTypeArgument(Qlistp, list)
	}
	return prev
}

// Fnconc implements (nconc ...).
func Fnconc(args []Value) Value {
	out := Nil
	var tail *Cons
	for i, a := range args {
		if a.IsNil() {
			continue
		}
		if i == len(args)-1 {
			if tail == nil {
				return a
			}
			tail.Cdr = a
			return out
		}
		if !a.IsCons() {
			WrongTypeArgument(Qlistp, a)
		}
		if tail == nil {
			out = a
		} else {
			tail.Cdr = a
		}
		c := a
		for XCons(c).Cdr.IsCons() {
			c = XCons(c).Cdr
		}
		tail = XCons(c)
	}
	return out
}

// Fequal implements structural equality.
func Fequal(a, b Value) Value {
	return FromBool(equalValues(a, b, 0))
}

func equalValues(a, b Value, depth int) bool {
	if a == b {
		return true
	}
	if depth > 200 {
		Signal(Qerror, List(MakeString("Stack overflow in equal")))
	}
	switch {
	case a.IsCons() && b.IsCons():
		ca, cb := XCons(a), XCons(b)
		return equalValues(ca.Car, cb.Car, depth+1) && equalValues(ca.Cdr, cb.Cdr, depth+1)
	case a.IsString() && b.IsString():
		return XString(a).S == XString(b).S
	case a.IsFloat() && b.IsFloat():
		return XFloat(a).F == XFloat(b).F
	case a.IsVectorlike() && b.IsVectorlike():
		ba, bb := XBignum(a), XBignum(b)
		if ba != nil && bb != nil {
			return ba.V.Cmp(bb.V) == 0
		}
		ha, hb := XVectorlikeHeader(a), XVectorlikeHeader(b)
		if ha.Kind == PvecVector && hb.Kind == PvecVector {
			va, vb := XVector(a), XVector(b)
			if len(va.Contents) != len(vb.Contents) {
				return false
			}
			for i := range va.Contents {
				if !equalValues(va.Contents[i], vb.Contents[i], depth+1) {
					return false
				}
			}
			return true
		}
	}
	return false
}

// Fnot implements (not x).
func Fnot(v Value) Value { return FromBool(v.IsNil()) }

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// FsymbolValue implements (symbol-value sym).
func FsymbolValue(sym Value) Value {
	if !sym.IsSymbol() {
		WrongTypeArgument(Intern("symbolp"), sym)
	}
	return XSymbol(sym).Val
}

// SetInternal assigns a symbol's value cell. The compiled varset opcode
// calls this rather than the full (set ...) builtin.
func SetInternal(sym Value, val Value) Value {
	if !sym.IsSymbol() {
		WrongTypeArgument(Intern("symbolp"), sym)
	}
	XSymbol(sym).Val = val
	return val
}

// Fset implements (set sym val).
func Fset(sym, val Value) Value { return SetInternal(sym, val) }

// FsymbolFunction implements (symbol-function sym).
func FsymbolFunction(sym Value) Value {
	if !sym.IsSymbol() {
		WrongTypeArgument(Intern("symbolp"), sym)
	}
	return XSymbol(sym).Fn
}

// Ffset implements (fset sym def).
func Ffset(sym, def Value) Value {
	if !sym.IsSymbol() {
		WrongTypeArgument(Intern("symbolp"), sym)
	}
	XSymbol(sym).Fn = def
	return def
}

// Fget implements (get sym prop).
func Fget(sym, prop Value) Value {
	if !sym.IsSymbol() {
		WrongTypeArgument(Intern("symbolp"), sym)
	}
	for p := XSymbol(sym).Plist; p.IsCons(); {
		c := XCons(p)
		if !c.Cdr.IsCons() {
			break
		}
		if c.Car == prop {
			return XCons(c.Cdr).Car
		}
		p = XCons(c.Cdr).Cdr
	}
	return Nil
}

// Fput implements (put sym prop val).
func Fput(sym, prop, val Value) Value {
	s := XSymbol(sym)
	for p := s.Plist; p.IsCons(); {
		c := XCons(p)
		if !c.Cdr.IsCons() {
			break
		}
		if c.Car == prop {
			XCons(c.Cdr).Car = val
			return val
		}
		p = XCons(c.Cdr).Cdr
	}
	s.Plist = MakeCons(prop, MakeCons(val, s.Plist))
	return val
}

// ---------------------------------------------------------------------------
// Strings and vectors
// ---------------------------------------------------------------------------

// FstringEqual implements (string-equal a b).
func FstringEqual(a, b Value) Value {
	return FromBool(stringArg(a) == stringArg(b))
}

// FstringLessp implements (string-lessp a b).
func FstringLessp(a, b Value) Value {
	return FromBool(stringArg(a) < stringArg(b))
}

func stringArg(v Value) string {
	if v.IsSymbol() {
		return SymbolName(v)
	}
	if !v.IsString() {
		WrongTypeArgument(Intern("stringp"), v)
	}
	return XString(v).S
}

// Fconcat implements (concat ...) over strings.
func Fconcat(args []Value) Value {
	var sb strings.Builder
	for _, a := range args {
		if a.IsNil() {
			continue
		}
		sb.WriteString(stringArg(a))
	}
	return MakeString(sb.String())
}

// Fsubstring implements (substring str from to) with nil and negative
// bounds.
func Fsubstring(str, from, to Value) Value {
	s := stringArg(str)
	f, t := 0, len(s)
	if !from.IsNil() {
		f = clampIndex(from, len(s))
	}
	if !to.IsNil() {
		t = clampIndex(to, len(s))
	}
	if f > t {
		Signal(Intern("args-out-of-range"), List(str, from, to))
	}
	return MakeString(s[f:t])
}

func clampIndex(v Value, n int) int {
	if !v.IsFixnum() {
		WrongTypeArgument(Qintegerp, v)
	}
	i := int(v.Fixnum())
	if i < 0 {
		i += n
	}
	if i < 0 || i > n {
		Signal(Intern("args-out-of-range"), List(v))
	}
	return i
}

// Faref implements (aref seq idx) for vectors and strings.
func Faref(seq, idx Value) Value {
	if !idx.IsFixnum() {
		WrongTypeArgument(Qintegerp, idx)
	}
	i := int(idx.Fixnum())
	switch {
	case seq.IsString():
		s := XString(seq).S
		if i < 0 || i >= len(s) {
			Signal(Intern("args-out-of-range"), List(seq, idx))
		}
		return MakeFixnum(int64(s[i]))
	case seq.IsVectorlike():
		if XVectorlikeHeader(seq).Kind == PvecVector {
			v := XVector(seq)
			if i < 0 || i >= len(v.Contents) {
				Signal(Intern("args-out-of-range"), List(seq, idx))
			}
			return v.Contents[i]
		}
	}
	WrongTypeArgument(Intern("arrayp"), seq)
	panic("unreachable")
}

// Faset implements (aset vec idx v).
func Faset(seq, idx, val Value) Value {
	if !idx.IsFixnum() {
		WrongTypeArgument(Qintegerp, idx)
	}
	if !seq.IsVectorlike() || XVectorlikeHeader(seq).Kind != PvecVector {
		WrongTypeArgument(Intern("vectorp"), seq)
	}
	v := XVector(seq)
	i := int(idx.Fixnum())
	if i < 0 || i >= len(v.Contents) {
		Signal(Intern("args-out-of-range"), List(seq, idx))
	}
	v.Contents[i] = val
	return val
}

// ---------------------------------------------------------------------------
// Function calls
// ---------------------------------------------------------------------------

// Funcall applies args[0] to the rest, indirecting through symbol function
// cells.
func Funcall(args []Value) Value {
	fn := args[0]
	for i := 0; fn.IsSymbol() && !fn.IsNil(); i++ {
		if i > 10 {
			Signal(Intern("cyclic-function-indirection"), List(args[0]))
		}
		fn = XSymbol(fn).Fn
	}
	s := XSubr(fn)
	if s == nil {
		Signal(Intern("invalid-function"), List(args[0]))
	}
	return CallSubr(s, args[1:])
}

// CallSubr invokes a subr with arity checking, padding optionals with nil.
func CallSubr(s *Subr, args []Value) Value {
	if s.MaxArgs == ManyArgs {
		if len(args) < s.MinArgs {
			wrongNumberOfArguments(s, len(args))
		}
		return s.Fn(args)
	}
	if len(args) < s.MinArgs || len(args) > s.MaxArgs {
		wrongNumberOfArguments(s, len(args))
	}
	if len(args) < s.MaxArgs {
		padded := make([]Value, s.MaxArgs)
		copy(padded, args)
		for i := len(args); i < s.MaxArgs; i++ {
			padded[i] = Nil
		}
		args = padded
	}
	return s.Fn(args)
}

func wrongNumberOfArguments(s *Subr, n int) {
	Signal(Intern("wrong-number-of-arguments"),
		List(Intern(s.Name), MakeFixnum(int64(n))))
}

// Defsubr registers a builtin: it allocates the subr object and installs it
// in the symbol's function cell. Returns the subr value.
func Defsubr(name string, minArgs, maxArgs int, fn func(args []Value) Value) Value {
	v := makeSubrValue(&Subr{Name: name, MinArgs: minArgs, MaxArgs: maxArgs, Fn: fn})
	Ffset(Intern(name), v)
	return v
}

func helperUnwindProtect(handler Value) Value {
	RecordUnwindProtect(handler)
	return Nil
}

// ---------------------------------------------------------------------------
// Routine table
// ---------------------------------------------------------------------------

// Routine is the uniform calling convention between generated code and the
// runtime: raw machine words in, one word out. Values travel as their
// encoded words; pointers as addresses. An alias, so a routine table
// satisfies any backend resolver with this shape without conversion.
type Routine = func(args []uint64) uint64

func wrap1(fn func(Value) Value) Routine {
	return func(a []uint64) uint64 { return fn(Value(a[0])).Word() }
}

func wrap2(fn func(Value, Value) Value) Routine {
	return func(a []uint64) uint64 { return fn(Value(a[0]), Value(a[1])).Word() }
}

func wrap3(fn func(Value, Value, Value) Value) Routine {
	return func(a []uint64) uint64 {
		return fn(Value(a[0]), Value(a[1]), Value(a[2])).Word()
	}
}

// wrapMany adapts a variadic builtin to the (nargs, argv) convention used
// for call sites that pass a pointer into the compiled frame's value array.
func wrapMany(fn func([]Value) Value) Routine {
	return func(a []uint64) uint64 {
		return fn(valuesAt(uintptr(a[1]), int(a[0]))).Word()
	}
}

func valuesAt(ptr uintptr, n int) []Value {
	out := make([]Value, n)
	for i := 0; i < n; i++ {
		out[i] = *(*Value)(unsafe.Pointer(ptr + uintptr(i)*unsafe.Sizeof(Value(0))))
	}
	return out
}

var routines = map[string]Routine{
	"Fcons":      wrap2(Fcons),
	"Fcar":       wrap1(Fcar),
	"Fcdr":       wrap1(Fcdr),
	"Fcar_safe":  wrap1(FcarSafe),
	"Fcdr_safe":  wrap1(FcdrSafe),
	"Fsetcar":    wrap2(Fsetcar),
	"Fsetcdr":    wrap2(Fsetcdr),
	"Flist":      wrapMany(Flist),
	"Flength":    wrap1(Flength),
	"Fnth":       wrap2(Fnth),
	"Fnthcdr":    wrap2(Fnthcdr),
	"Felt":       wrap2(Felt),
	"Fmemq":      wrap2(Fmemq),
	"Fmember":    wrap2(Fmember),
	"Fassq":      wrap2(Fassq),
	"Fnreverse":  wrap1(Fnreverse),
	"Fnconc":     wrapMany(Fnconc),
	"Fequal":     wrap2(Fequal),
	"Fplus":      wrapMany(Fplus),
	"Fminus":     wrapMany(Fminus),
	"Ftimes":     wrapMany(Ftimes),
	"Fquo":       wrapMany(Fquo),
	"Frem":       wrap2(Frem),
	"Fmax":       wrapMany(Fmax),
	"Fmin":       wrapMany(Fmin),
	"Fadd1":      wrap1(Fadd1),
	"Fsub1":      wrap1(Fsub1),
	"Fnegate":    wrap1(Fnegate),
	"Fnumberp":   wrap1(Fnumberp),
	"Fintegerp":  wrap1(Fintegerp),
	"Fget":       wrap2(Fget),
	"Fput":       wrap3(Fput),
	"Fset":       wrap2(Fset),
	"Ffset":      wrap2(Ffset),
	"Faref":      wrap2(Faref),
	"Faset":      wrap3(Faset),
	"Fsubstring": wrap3(Fsubstring),
	"Fconcat":    wrapMany(Fconcat),
	"Ffuncall":   wrapMany(Funcall),
	"Fthrow":     wrap2(Throw),

	"Fsymbol_value":    wrap1(FsymbolValue),
	"Fsymbol_function": wrap1(FsymbolFunction),
	"Fstring_equal":    wrap2(FstringEqual),
	"Fstring_lessp":    wrap2(FstringLessp),

	"arithcompare": func(a []uint64) uint64 {
		return Arithcompare(Value(a[0]), Value(a[1]), ArithComparison(int64(a[2]))).Word()
	},
	"set_internal":          wrap2(SetInternal),
	"specbind":              wrap2(Specbind),
	"wrong_type_argument":   wrap2(WrongTypeArgument),
	"pure_write_error":      wrap1(PureWriteError),
	"helper_unwind_protect": wrap1(helperUnwindProtect),
	"helper_unbind_n": func(a []uint64) uint64 {
		return UnbindN(int(int64(a[0]))).Word()
	},
	"push_handler": func(a []uint64) uint64 {
		h := PushHandler(Value(a[0]), HandlerKind(int64(a[1])))
		return uint64(uintptr(unsafe.Pointer(h)))
	},
	"helper_PSEUDOVECTOR_TYPEP_XUNTAG": func(a []uint64) uint64 {
		v := Value(a[0])
		if !v.IsVectorlike() {
			return 0
		}
		addr := uintptr(v.untag(TagVectorlike))
		if PseudovectorTypeP(addr, PvecKind(a[1])) {
			return 1
		}
		return 0
	},
}

// Resolve looks up a runtime routine by its linkage name. The compiler's
// driver hands this to the backend to bind imported functions.
func Resolve(name string) (Routine, bool) {
	r, ok := routines[name]
	return r, ok
}
