package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/lutra/lisp"
)

// cborEncMode holds CBOR encoding options with canonical mode for
// deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Container is the portable on-disk form of a function: everything needed
// to reconstruct it in another process, with constants lifted out of their
// in-memory encoding.
type Container struct {
	Name      string         `cbor:"name"`
	ArgSpec   int64          `cbor:"argspec"`
	MaxDepth  int            `cbor:"depth"`
	Code      []byte         `cbor:"code"`
	Constants []WireConstant `cbor:"constants"`
}

// WireConstant is one constant in portable form. Kind selects which field
// carries the payload; lists and vectors nest.
type WireConstant struct {
	Kind  string         `cbor:"kind"`
	Int   int64          `cbor:"int,omitempty"`
	Float float64        `cbor:"float,omitempty"`
	Str   string         `cbor:"str,omitempty"`
	Elems []WireConstant `cbor:"elems,omitempty"`
}

// Constant kinds.
const (
	KindInt    = "int"
	KindFloat  = "float"
	KindSymbol = "symbol"
	KindString = "string"
	KindList   = "list"
	KindVector = "vector"
)

// MarshalContainer serializes a Container to CBOR bytes.
func MarshalContainer(c *Container) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalContainer deserializes a Container from CBOR bytes.
func UnmarshalContainer(data []byte) (*Container, error) {
	var c Container
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal container: %w", err)
	}
	return &c, nil
}

// Pack converts a live function into its portable container.
func Pack(name string, fn *Function) (*Container, error) {
	c := &Container{
		Name:     name,
		ArgSpec:  fn.ArgSpec.Packed(),
		MaxDepth: fn.MaxDepth,
		Code:     fn.Code,
	}
	for i, v := range fn.Constants {
		wc, err := packConstant(v)
		if err != nil {
			return nil, fmt.Errorf("bytecode: constant %d: %w", i, err)
		}
		c.Constants = append(c.Constants, wc)
	}
	return c, nil
}

// Unpack reconstructs a function from a container, interning symbols and
// rebuilding structured constants in the current process.
func (c *Container) Unpack() (*Function, error) {
	spec, err := ParseArgSpec(lisp.MakeFixnum(c.ArgSpec))
	if err != nil {
		return nil, err
	}
	fn := &Function{
		Code:     c.Code,
		MaxDepth: c.MaxDepth,
		ArgSpec:  spec,
	}
	for i, wc := range c.Constants {
		v, err := unpackConstant(wc)
		if err != nil {
			return nil, fmt.Errorf("bytecode: constant %d: %w", i, err)
		}
		fn.Constants = append(fn.Constants, v)
	}
	return fn, nil
}

func packConstant(v lisp.Value) (WireConstant, error) {
	switch v.TypeOf() {
	case lisp.TagInt0:
		return WireConstant{Kind: KindInt, Int: v.Fixnum()}, nil
	case lisp.TagFloat:
		return WireConstant{Kind: KindFloat, Float: lisp.XFloat(v).F}, nil
	case lisp.TagSymbol:
		return WireConstant{Kind: KindSymbol, Str: lisp.SymbolName(v)}, nil
	case lisp.TagString:
		return WireConstant{Kind: KindString, Str: lisp.XString(v).S}, nil
	case lisp.TagCons:
		wc := WireConstant{Kind: KindList}
		rest := v
		for rest.IsCons() {
			e, err := packConstant(lisp.XCons(rest).Car)
			if err != nil {
				return WireConstant{}, err
			}
			wc.Elems = append(wc.Elems, e)
			rest = lisp.XCons(rest).Cdr
		}
		if !rest.IsNil() {
			return WireConstant{}, fmt.Errorf("improper list")
		}
		return wc, nil
	case lisp.TagVectorlike:
		vec := lisp.XVector(v)
		wc := WireConstant{Kind: KindVector}
		for _, el := range vec.Contents {
			e, err := packConstant(el)
			if err != nil {
				return WireConstant{}, err
			}
			wc.Elems = append(wc.Elems, e)
		}
		return wc, nil
	default:
		return WireConstant{}, fmt.Errorf("unportable constant type %d", v.TypeOf())
	}
}

func unpackConstant(wc WireConstant) (lisp.Value, error) {
	switch wc.Kind {
	case KindInt:
		v, ok := lisp.TryMakeFixnum(wc.Int)
		if !ok {
			return lisp.Nil, fmt.Errorf("integer %d out of range", wc.Int)
		}
		return v, nil
	case KindFloat:
		return lisp.MakeFloat(wc.Float), nil
	case KindSymbol:
		return lisp.Intern(wc.Str), nil
	case KindString:
		return lisp.MakeString(wc.Str), nil
	case KindList:
		elems := make([]lisp.Value, len(wc.Elems))
		for i, e := range wc.Elems {
			v, err := unpackConstant(e)
			if err != nil {
				return lisp.Nil, err
			}
			elems[i] = v
		}
		return lisp.List(elems...), nil
	case KindVector:
		vec := lisp.MakeVector(len(wc.Elems))
		contents := lisp.XVector(vec).Contents
		for i, e := range wc.Elems {
			v, err := unpackConstant(e)
			if err != nil {
				return lisp.Nil, err
			}
			contents[i] = v
		}
		return vec, nil
	default:
		return lisp.Nil, fmt.Errorf("unknown constant kind %q", wc.Kind)
	}
}
