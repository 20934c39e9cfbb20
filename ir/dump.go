package ir

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// DumpToFile writes a textual rendering of the unit, for debugging the
// code generator. The format is informal and mirrors the builder calls.
func (c *Context) DumpToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Dump(f)
}

// Dump writes the unit's functions to w.
func (c *Context) Dump(w io.Writer) error {
	fmt.Fprintf(w, ";; unit %s\n", c.ID)
	for _, fn := range c.order {
		if err := dumpFunction(w, fn); err != nil {
			return err
		}
	}
	return nil
}

func dumpFunction(w io.Writer, fn *Function) error {
	var params []string
	for _, p := range fn.params {
		params = append(params, fmt.Sprintf("%s %s", p.typ, p.name))
	}
	kind := map[FunctionKind]string{
		FunctionExported:     "exported",
		FunctionInternal:     "internal",
		FunctionImported:     "imported",
		FunctionAlwaysInline: "inline",
	}[fn.kind]
	fmt.Fprintf(w, "\n%s %s %s(%s)", kind, fn.ret, fn.name, strings.Join(params, ", "))
	if fn.kind == FunctionImported {
		fmt.Fprintln(w, ";")
		return nil
	}
	fmt.Fprintln(w, " {")
	for _, l := range fn.locals {
		fmt.Fprintf(w, "  local %s %s;\n", l.typ, l.name)
	}
	for _, b := range fn.blocks {
		fmt.Fprintf(w, " %s:\n", b.name)
		for _, s := range b.stmts {
			switch {
			case s.comment != "":
				fmt.Fprintf(w, "  ;; %s\n", s.comment)
			case s.dst == nil:
				fmt.Fprintf(w, "  %s;\n", exprString(s.src))
			default:
				fmt.Fprintf(w, "  %s = %s;\n", exprString(s.dst), exprString(s.src))
			}
		}
		if t := b.term; t != nil {
			switch t.kind {
			case termJump:
				fmt.Fprintf(w, "  goto %s;\n", t.then.name)
			case termCond:
				fmt.Fprintf(w, "  if (%s) goto %s; else goto %s;\n",
					exprString(t.cond), t.then.name, t.els.name)
			case termReturn:
				fmt.Fprintf(w, "  return %s;\n", exprString(t.ret))
			case termReturnVoid:
				fmt.Fprintln(w, "  return;")
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

var binaryOpNames = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpAnd: "&", OpOr: "|", OpXor: "^", OpShl: "<<", OpShr: ">>",
	OpLogicalAnd: "&&", OpLogicalOr: "||",
}

var compareOpNames = map[CompareOp]string{
	CmpEq: "==", CmpNe: "!=", CmpLt: "<", CmpLe: "<=", CmpGt: ">", CmpGe: ">=",
}

func exprString(rv RValue) string {
	switch e := rv.(type) {
	case *constExpr:
		return fmt.Sprintf("%#x", e.word)
	case *Param:
		return e.name
	case *Local:
		return e.name
	case *binaryExpr:
		return fmt.Sprintf("(%s %s %s)", exprString(e.a), binaryOpNames[e.op], exprString(e.b))
	case *unaryExpr:
		op := map[UnaryOp]string{OpNeg: "-", OpBitNot: "~", OpLogicalNot: "!"}[e.op]
		return fmt.Sprintf("%s%s", op, exprString(e.a))
	case *compareExpr:
		return fmt.Sprintf("(%s %s %s)", exprString(e.a), compareOpNames[e.op], exprString(e.b))
	case *castExpr:
		return fmt.Sprintf("(%s)%s", e.typ, exprString(e.a))
	case *addrExpr:
		return "&" + exprString(e.lv)
	case *derefExpr:
		if e.field != nil {
			return fmt.Sprintf("%s->%s", exprString(e.ptr), e.field.Name)
		}
		return "*" + exprString(e.ptr)
	case *fieldExpr:
		return fmt.Sprintf("%s.%s", exprString(e.base), e.field.Name)
	case *indexExpr:
		return fmt.Sprintf("%s[%s]", exprString(e.base), exprString(e.idx))
	case *callExpr:
		return fmt.Sprintf("%s(%s)", e.fn.name, argsString(e.args))
	case *callPtrExpr:
		return fmt.Sprintf("(*%s)(%s)", exprString(e.ptr), argsString(e.args))
	case *checkpointExpr:
		return fmt.Sprintf("checkpoint(%s)", exprString(e.buf))
	default:
		return fmt.Sprintf("<%T>", rv)
	}
}

func argsString(args []RValue) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = exprString(a)
	}
	return strings.Join(parts, ", ")
}
