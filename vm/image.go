package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// This file moves MethodTable/CompiledCode state across a process
// boundary as a portable image, the way vm/dist/wire.go moves
// distribution chunks: a canonical CBOR encoding, wrapped in
// type-specific Marshal/Unmarshal functions.
//
// An image never carries a CompiledCode's MachineCode: internalization
// is always re-run (and the primitive resolver re-consulted) after
// decode, since the verifier/builder/resolver that produced the
// original machine code aren't guaranteed to be the ones on the other
// end of the image.

var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("vm: failed to build canonical CBOR encoding mode: " + err.Error())
	}
}

// LiteralImage is the portable form of one Value in a CompiledCode's
// literal frame. Object/Block/Cell literals can't survive a process
// boundary (they're live pointers), so they round-trip as Kind
// "unsupported" and decode back to Nil; everything a compiler would
// actually put in a literal frame as a constant -- numbers, symbols,
// the three special values -- round-trips exactly.
type LiteralImage struct {
	Kind   string  `cbor:"kind"`
	Float  float64 `cbor:"float,omitempty"`
	Int    int64   `cbor:"int,omitempty"`
	Symbol string  `cbor:"symbol,omitempty"`
}

func encodeLiteral(v Value, symbols *SymbolTable) LiteralImage {
	switch {
	case v.IsFloat():
		return LiteralImage{Kind: "float", Float: v.Float64()}
	case v.IsSmallInt():
		return LiteralImage{Kind: "int", Int: int64(v.SmallInt())}
	case v.IsSymbol():
		return LiteralImage{Kind: "symbol", Symbol: symbols.Name(Symbol(v.SymbolID()))}
	case v.IsNil():
		return LiteralImage{Kind: "nil"}
	case v.IsTrue():
		return LiteralImage{Kind: "true"}
	case v.IsFalse():
		return LiteralImage{Kind: "false"}
	default:
		return LiteralImage{Kind: "unsupported"}
	}
}

func decodeLiteral(li LiteralImage, symbols *SymbolTable) Value {
	switch li.Kind {
	case "float":
		return FromFloat64(li.Float)
	case "int":
		v, ok := TryFromSmallInt(int64(li.Int))
		if !ok {
			return Nil
		}
		return v
	case "symbol":
		return symbols.SymbolValue(li.Symbol)
	case "true":
		return True
	case "false":
		return False
	default:
		return Nil
	}
}

// CodeImage is the portable form of a CompiledCode: everything needed
// to reconstruct it and re-internalize on demand, nothing that depends
// on this process's verifier/builder/resolver identities.
type CodeImage struct {
	Name         string         `cbor:"name"`
	File         string         `cbor:"file"`
	Scope        string         `cbor:"scope"`
	Bytecode     []byte         `cbor:"bytecode"`
	Literals     []LiteralImage `cbor:"literals"`
	LocalNames   []string       `cbor:"local_names"`
	RequiredArgs int            `cbor:"required_args"`
	TotalArgs    int            `cbor:"total_args"`
	Splat        bool           `cbor:"splat"`
	StackSize    int            `cbor:"stack_size"`
	Primitive    string         `cbor:"primitive"`
	Lines        []int          `cbor:"lines"`
}

// EncodeCode converts a CompiledCode to its portable image.
func EncodeCode(c *CompiledCode, symbols *SymbolTable) CodeImage {
	literals := make([]LiteralImage, len(c.Literals))
	for i, lit := range c.Literals {
		literals[i] = encodeLiteral(lit, symbols)
	}
	return CodeImage{
		Name:         c.Name,
		File:         c.File,
		Scope:        c.Scope,
		Bytecode:     append([]byte(nil), c.Bytecode...),
		Literals:     literals,
		LocalNames:   append([]string(nil), c.LocalNames...),
		RequiredArgs: c.RequiredArgs,
		TotalArgs:    c.TotalArgs,
		Splat:        c.Splat,
		StackSize:    c.StackSize,
		Primitive:    c.Primitive,
		Lines:        append([]int(nil), c.Lines...),
	}
}

// DecodeCode reconstructs a fresh CompiledCode from an image, bound to
// env. It starts uninternalized, exactly like one built from source.
func DecodeCode(img CodeImage, env *Environment, symbols *SymbolTable) *CompiledCode {
	literals := make([]Value, len(img.Literals))
	for i, li := range img.Literals {
		literals[i] = decodeLiteral(li, symbols)
	}
	return NewCompiledCode(env, img.Name, img.File, img.Scope, img.Bytecode, literals,
		img.LocalNames, img.RequiredArgs, img.TotalArgs, img.Splat, img.StackSize, img.Primitive, img.Lines)
}

// MarshalCode encodes a CompiledCode to canonical CBOR bytes.
func MarshalCode(c *CompiledCode, symbols *SymbolTable) ([]byte, error) {
	return cborEncMode.Marshal(EncodeCode(c, symbols))
}

// UnmarshalCode decodes a CompiledCode previously produced by
// MarshalCode.
func UnmarshalCode(data []byte, env *Environment, symbols *SymbolTable) (*CompiledCode, error) {
	var img CodeImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm: unmarshal code image: %w", err)
	}
	return DecodeCode(img, env, symbols), nil
}

// BucketImage is the portable form of one MethodTable entry. Name is
// the resolved string rather than a Symbol, since intern IDs aren't
// stable across processes. Code is nil if the bucket's method artifact
// isn't a CompiledCode (e.g. it's a Go-native primitive, which has no
// portable representation -- only the name and metadata survive, and
// the destination process is expected to re-bind the primitive by
// name). The bucket's method id is not stored; decode derives it from
// the re-interned name.
type BucketImage struct {
	Name       string     `cbor:"name"`
	Visibility Visibility `cbor:"visibility"`
	Scope      string     `cbor:"scope"`
	Serial     uint64     `cbor:"serial"`
	Code       *CodeImage `cbor:"code,omitempty"`
}

// TableImage is the portable form of a MethodTable: just its buckets.
// Bin count and chain layout are reconstruction details, not state --
// decode rebuilds the table with NewMethodTable and lets it resize
// naturally as buckets are stored.
type TableImage struct {
	Buckets []BucketImage `cbor:"buckets"`
}

// EncodeTable snapshots every bucket currently in t.
func EncodeTable(t *MethodTable, symbols *SymbolTable) TableImage {
	s := t.snap.Load()
	img := TableImage{}
	for _, head := range s.values {
		for b := head; b != nil; b = b.next {
			bi := BucketImage{
				Name:       symbols.Name(b.name),
				Visibility: b.visibility,
				Scope:      b.scope,
				Serial:     b.serial,
			}
			if cc, ok := b.method.(*CompiledCode); ok {
				ci := EncodeCode(cc, symbols)
				bi.Code = &ci
			}
			img.Buckets = append(img.Buckets, bi)
		}
	}
	return img
}

// DecodeTable rebuilds a MethodTable from an image. Buckets whose Code
// was nil in the image are installed with a nil Method: the token
// exists, but the caller must re-bind the actual primitive by name.
func DecodeTable(img TableImage, env *Environment, symbols *SymbolTable) *MethodTable {
	t := NewMethodTable(len(img.Buckets))
	for _, bi := range img.Buckets {
		sym := symbols.Intern(bi.Name)
		var method Method
		if bi.Code != nil {
			method = DecodeCode(*bi.Code, env, symbols)
		}
		t.Store(sym, uint64(sym), method, bi.Scope, bi.Serial, bi.Visibility)
	}
	return t
}

// MarshalTable encodes a MethodTable to canonical CBOR bytes.
func MarshalTable(t *MethodTable, symbols *SymbolTable) ([]byte, error) {
	return cborEncMode.Marshal(EncodeTable(t, symbols))
}

// UnmarshalTable decodes a MethodTable previously produced by
// MarshalTable.
func UnmarshalTable(data []byte, env *Environment, symbols *SymbolTable) (*MethodTable, error) {
	var img TableImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm: unmarshal table image: %w", err)
	}
	return DecodeTable(img, env, symbols), nil
}
