// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package primitive implements the leaf value type stored at DotFun and
// DotMap-key positions: a small closed union of scalar kinds with a total,
// replica-stable ordering.
package primitive

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kind discriminates the Primitive union. Values are stable across
// releases: they are persisted as part of the CBOR encoding and as the
// leading byte of any path Map segment's serialized key.
type Kind uint8

const (
	KindBool Kind = iota
	KindU64
	KindI64
	KindStr
)

// Primitive is the leaf value lattice: Bool | U64 | I64 | Str. Zero value
// is Bool(false).
type Primitive struct {
	kind Kind
	b    bool
	u    uint64
	i    int64
	s    string
}

func Bool(v bool) Primitive    { return Primitive{kind: KindBool, b: v} }
func U64(v uint64) Primitive   { return Primitive{kind: KindU64, u: v} }
func I64(v int64) Primitive    { return Primitive{kind: KindI64, i: v} }
func Str(v string) Primitive   { return Primitive{kind: KindStr, s: v} }

func (p Primitive) Kind() Kind { return p.kind }

func (p Primitive) AsBool() (bool, bool) {
	return p.b, p.kind == KindBool
}

func (p Primitive) AsU64() (uint64, bool) {
	return p.u, p.kind == KindU64
}

func (p Primitive) AsI64() (int64, bool) {
	return p.i, p.kind == KindI64
}

func (p Primitive) AsStr() (string, bool) {
	return p.s, p.kind == KindStr
}

func (p Primitive) String() string {
	switch p.kind {
	case KindBool:
		return fmt.Sprintf("bool(%t)", p.b)
	case KindU64:
		return fmt.Sprintf("u64(%d)", p.u)
	case KindI64:
		return fmt.Sprintf("i64(%d)", p.i)
	case KindStr:
		return fmt.Sprintf("str(%q)", p.s)
	default:
		return "primitive(invalid)"
	}
}

// Less gives the total, type-tag-major order the spec requires for
// DotMap keys: all Bools sort before all U64s, and so on; within a kind,
// natural value order applies.
func (p Primitive) Less(o Primitive) bool {
	if p.kind != o.kind {
		return p.kind < o.kind
	}
	switch p.kind {
	case KindBool:
		return !p.b && o.b
	case KindU64:
		return p.u < o.u
	case KindI64:
		return p.i < o.i
	case KindStr:
		return p.s < o.s
	default:
		return false
	}
}

func (p Primitive) Equal(o Primitive) bool {
	return p == o
}

// wireForm is the CBOR-visible shape of a Primitive: a tagged, single-field
// struct keeps the encoding canonical regardless of Go field ordering.
type wireForm struct {
	Kind Kind
	B    bool   `cbor:",omitempty"`
	U    uint64 `cbor:",omitempty"`
	I    int64  `cbor:",omitempty"`
	S    string `cbor:",omitempty"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// Marshal produces the canonical CBOR encoding used both on the wire and
// as the Fun-leaf value bytes in the flat store.
func (p Primitive) Marshal() ([]byte, error) {
	return encMode.Marshal(wireForm{Kind: p.kind, B: p.b, U: p.u, I: p.i, S: p.s})
}

// Unmarshal parses the canonical CBOR encoding produced by Marshal.
func Unmarshal(data []byte) (Primitive, error) {
	var w wireForm
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Primitive{}, fmt.Errorf("primitive: %w", err)
	}
	return Primitive{kind: w.Kind, b: w.B, u: w.U, i: w.I, s: w.S}, nil
}

// MarshalSortable produces a byte encoding whose lexicographic order
// matches Less, for use as a path Map segment payload: the codec's
// prefix-order guarantee depends on this.
func (p Primitive) MarshalSortable() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.kind))
	switch p.kind {
	case KindBool:
		if p.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindU64:
		var b [8]byte
		putUint64BE(b[:], p.u)
		buf.Write(b[:])
	case KindI64:
		// Flip the sign bit so two's-complement values sort correctly as
		// unsigned big-endian bytes.
		var b [8]byte
		putUint64BE(b[:], uint64(p.i)^(1<<63))
		buf.Write(b[:])
	case KindStr:
		buf.WriteString(p.s)
	}
	return buf.Bytes()
}

// UnmarshalSortable parses the encoding produced by MarshalSortable.
func UnmarshalSortable(b []byte) (Primitive, error) {
	if len(b) < 1 {
		return Primitive{}, fmt.Errorf("primitive: empty sortable encoding")
	}
	kind := Kind(b[0])
	rest := b[1:]
	switch kind {
	case KindBool:
		if len(rest) != 1 {
			return Primitive{}, fmt.Errorf("primitive: bad bool encoding")
		}
		return Bool(rest[0] != 0), nil
	case KindU64:
		if len(rest) != 8 {
			return Primitive{}, fmt.Errorf("primitive: bad u64 encoding")
		}
		return U64(getUint64BE(rest)), nil
	case KindI64:
		if len(rest) != 8 {
			return Primitive{}, fmt.Errorf("primitive: bad i64 encoding")
		}
		return I64(int64(getUint64BE(rest) ^ (1 << 63))), nil
	case KindStr:
		return Str(string(rest)), nil
	default:
		return Primitive{}, fmt.Errorf("primitive: unknown kind %d", kind)
	}
}

func putUint64BE(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

func getUint64BE(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
