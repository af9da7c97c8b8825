// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package path implements the bijective binary path codec: a typed
// address from a document root to any node in the CRDT tree, encoded so
// that byte-lexicographic order matches tree pre-order and parent() is
// constant time.
package path

import (
	"fmt"

	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/ids"
)

// DocID names a document. It reuses ids.ID rather than inventing a
// parallel 32-byte identifier type.
type DocID = ids.ID

// SegType tags the kind of node a path segment addresses.
type SegType uint8

const (
	TypeRoot SegType = iota
	TypeSet
	TypeFun
	TypeMap
	TypeStruct
	TypePolicy
)

func (t SegType) String() string {
	switch t {
	case TypeRoot:
		return "Root"
	case TypeSet:
		return "Set"
	case TypeFun:
		return "Fun"
	case TypeMap:
		return "Map"
	case TypeStruct:
		return "Struct"
	case TypePolicy:
		return "Policy"
	default:
		return "Invalid"
	}
}

const maxSegmentPayload = 65535

// Path is the encoded byte form of a segment sequence: [type][len][bytes][len][type]
// repeated, root first. Paths are immutable; every mutator returns a new
// Path sharing no backing array with its receiver's callers.
type Path struct {
	buf []byte
}

// Segment is a single decoded path element.
type Segment struct {
	Type    SegType
	Payload []byte
}

// Root returns the single-segment path naming a document's root.
func Root(doc DocID) Path {
	return Path{}.append(TypeRoot, doc[:])
}

// Bytes returns the raw encoded path. Callers must not mutate the
// returned slice.
func (p Path) Bytes() []byte { return p.buf }

// FromBytes wraps a previously encoded byte string without validation;
// used when reading a key back out of the KV store that produced it.
func FromBytes(b []byte) Path {
	return Path{buf: b}
}

func (p Path) append(typ SegType, payload []byte) Path {
	if len(payload) > maxSegmentPayload {
		panic(crdterr.ErrSegmentTooLarge)
	}
	n := len(payload)
	out := make([]byte, len(p.buf), len(p.buf)+6+n)
	copy(out, p.buf)
	out = append(out, byte(typ))
	out = append(out, byte(n>>8), byte(n))
	out = append(out, payload...)
	out = append(out, byte(n>>8), byte(n))
	out = append(out, byte(typ))
	return Path{buf: out}
}

// AppendSet extends p with a Set-segment leaf naming dot d.
func (p Path) AppendSet(d dot.Dot) Path {
	b := d.Bytes()
	return p.append(TypeSet, b[:])
}

// AppendFun extends p with a Fun-segment leaf naming dot d.
func (p Path) AppendFun(d dot.Dot) Path {
	b := d.Bytes()
	return p.append(TypeFun, b[:])
}

// AppendMap extends p with a Map-segment keyed by key. The key is
// encoded with primitive.MarshalSortable. Because the segment frame puts
// the payload length before the payload, sibling keys sort by encoded
// length first; among keys of equal encoded length (e.g. all U64 keys)
// prefix order matches the DotMap's own key order.
func (p Path) AppendMap(key primitive.Primitive) Path {
	return p.append(TypeMap, key.MarshalSortable())
}

// AppendStruct extends p with a Struct-segment naming field.
func (p Path) AppendStruct(field string) Path {
	return p.append(TypeStruct, []byte(field))
}

// AppendPolicy extends p with a Policy-segment leaf naming dot d.
func (p Path) AppendPolicy(d dot.Dot) Path {
	b := d.Bytes()
	return p.append(TypePolicy, b[:])
}

// lastSegment reads the trailing frame of p without rescanning from the
// start: the last byte is the type tag, the two bytes before it are the
// length, and payload starts len bytes before that.
func (p Path) lastSegment() (seg Segment, start int, ok bool) {
	buf := p.buf
	if len(buf) < 6 {
		return Segment{}, 0, false
	}
	typ := SegType(buf[len(buf)-1])
	length := int(buf[len(buf)-3])<<8 | int(buf[len(buf)-2])
	segStart := len(buf) - 6 - length
	if segStart < 0 {
		return Segment{}, 0, false
	}
	if SegType(buf[segStart]) != typ {
		return Segment{}, 0, false
	}
	payload := buf[segStart+3 : segStart+3+length]
	return Segment{Type: typ, Payload: payload}, segStart, true
}

// Last returns the final segment of p.
func (p Path) Last() (Segment, bool) {
	seg, _, ok := p.lastSegment()
	return seg, ok
}

// Type returns the SegType of the final segment.
func (p Path) Type() (SegType, bool) {
	seg, ok := p.Last()
	return seg.Type, ok
}

// Parent returns the path with its final segment removed, and false if p
// is empty or malformed. Parent of a single-segment (Root) path is the
// empty path.
func (p Path) Parent() (Path, bool) {
	_, start, ok := p.lastSegment()
	if !ok {
		return Path{}, false
	}
	out := make([]byte, start)
	copy(out, p.buf[:start])
	return Path{buf: out}, true
}

// IsEmpty reports whether p has no segments.
func (p Path) IsEmpty() bool { return len(p.buf) == 0 }

// IsAncestor reports whether p is a strict prefix of other in the
// encoded byte form, i.e. p names an ancestor node of other.
func (p Path) IsAncestor(other Path) bool {
	if len(p.buf) >= len(other.buf) {
		return false
	}
	for i, b := range p.buf {
		if other.buf[i] != b {
			return false
		}
	}
	return true
}

// Equal reports byte-exact equality.
func (p Path) Equal(other Path) bool {
	if len(p.buf) != len(other.buf) {
		return false
	}
	for i, b := range p.buf {
		if other.buf[i] != b {
			return false
		}
	}
	return true
}

// Segments parses p forward into its component segments, root first.
func (p Path) Segments() ([]Segment, error) {
	var out []Segment
	buf := p.buf
	for len(buf) > 0 {
		if len(buf) < 6 {
			return nil, crdterr.ErrInvalidPath
		}
		typ := SegType(buf[0])
		length := int(buf[1])<<8 | int(buf[2])
		total := 6 + length
		if total > len(buf) {
			return nil, crdterr.ErrInvalidPath
		}
		if SegType(buf[3+length]) != typ {
			return nil, crdterr.ErrInvalidPath
		}
		tailLen := int(buf[3+length+1])<<8 | int(buf[3+length+2])
		if tailLen != length {
			return nil, crdterr.ErrInvalidPath
		}
		out = append(out, Segment{Type: typ, Payload: buf[3 : 3+length]})
		buf = buf[total:]
	}
	return out, nil
}

// Doc returns the DocID from the path's Root segment.
func (p Path) Doc() (DocID, error) {
	segs, err := p.Segments()
	if err != nil {
		return DocID{}, err
	}
	if len(segs) == 0 || segs[0].Type != TypeRoot || len(segs[0].Payload) != 32 {
		return DocID{}, crdterr.ErrInvalidPath
	}
	var doc DocID
	copy(doc[:], segs[0].Payload)
	return doc, nil
}

// Dot decodes the final segment's payload as a Dot. Valid only when the
// final segment is Set, Fun, or Policy.
func (p Path) Dot() (dot.Dot, error) {
	seg, ok := p.Last()
	if !ok {
		return dot.Dot{}, crdterr.ErrInvalidPath
	}
	switch seg.Type {
	case TypeSet, TypeFun, TypePolicy:
		return dot.FromBytes(seg.Payload)
	default:
		return dot.Dot{}, fmt.Errorf("path: segment type %s carries no dot: %w", seg.Type, crdterr.ErrInvalidPath)
	}
}

// Field decodes the final segment's payload as a struct field name.
func (p Path) Field() (string, error) {
	seg, ok := p.Last()
	if !ok || seg.Type != TypeStruct {
		return "", crdterr.ErrInvalidPath
	}
	return string(seg.Payload), nil
}

// Key decodes the final segment's payload as a Map key.
func (p Path) Key() (primitive.Primitive, error) {
	seg, ok := p.Last()
	if !ok || seg.Type != TypeMap {
		return primitive.Primitive{}, crdterr.ErrInvalidPath
	}
	return primitive.UnmarshalSortable(seg.Payload)
}

// AncestorsAndSelf returns every path from the document root down to and
// including p, root first. Used by the acl layer to walk inherited
// grants: a policy said at any ancestor of a path governs that path.
func (p Path) AncestorsAndSelf() []Path {
	var chain []Path
	cur := p
	for {
		chain = append(chain, cur)
		parent, ok := cur.Parent()
		if !ok || parent.IsEmpty() {
			break
		}
		cur = parent
	}
	out := make([]Path, len(chain))
	for i, c := range chain {
		out[len(chain)-1-i] = c
	}
	return out
}

// String renders a human-readable form for logging; it is not used for
// encoding or comparison.
func (p Path) String() string {
	segs, err := p.Segments()
	if err != nil {
		return "<invalid path>"
	}
	s := ""
	for _, seg := range segs {
		s += "/" + seg.Type.String()
	}
	return s
}
