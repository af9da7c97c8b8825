// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the two frames exchanged between replicas —
// Advertise and Delta — and their canonical CBOR encoding. Encoding never
// walks the nested DotStore tree directly: a Causal's store is flattened
// to the same (path, leaf-bytes) pairs package replica persists to KV,
// giving the wire form and the storage form one shared representation.
package wire

import (
	"fmt"

	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/codec"
	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/crdt/store"
)

// FrameType discriminates the two messages the sync engine exchanges.
type FrameType uint8

const (
	// FrameAdvertise carries only a causal context: "here is what I've
	// observed", sent on subscribe and on periodic re-advertise.
	FrameAdvertise FrameType = iota
	// FrameDelta carries a causal context paired with the store fragment
	// it covers, in response to a peer's Advertise or a local mutation.
	FrameDelta
)

func (t FrameType) String() string {
	switch t {
	case FrameAdvertise:
		return "Advertise"
	case FrameDelta:
		return "Delta"
	default:
		return "Invalid"
	}
}

// Frame is one protocol message. Ctx is always populated; Entries is
// empty for an Advertise and holds the flattened store for a Delta.
type Frame struct {
	Type    FrameType
	Doc     path.DocID
	Schema  causal.SchemaHash
	Ctx     []dot.WatermarkPair
	Entries []leafEntry `cbor:",omitempty"`
}

// leafEntry is one flattened (path, leaf) pair, the wire and persisted
// form of a single Set/Fun/Policy leaf.
type leafEntry struct {
	Path  []byte
	Value []byte
}

// Advertise builds the frame a replica sends on subscribe or re-advertise:
// just its observed context for doc, nothing from the store.
func Advertise(ctx causal.Context) Frame {
	return Frame{Type: FrameAdvertise, Doc: ctx.Doc, Schema: ctx.Schema, Ctx: ctx.Dots.ToPairs()}
}

// DeltaFrame builds the frame a replica sends in response to a peer's
// Advertise, or to broadcast a freshly applied local mutation.
func DeltaFrame(c causal.Causal) (Frame, error) {
	entries, err := flatten(path.Root(c.Ctx.Doc), c.Store)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:    FrameDelta,
		Doc:     c.Ctx.Doc,
		Schema:  c.Ctx.Schema,
		Ctx:     c.Ctx.Dots.ToPairs(),
		Entries: entries,
	}, nil
}

// Context recovers the causal.Context an Advertise (or Delta) frame
// carries.
func (f Frame) Context() causal.Context {
	return causal.Context{Doc: f.Doc, Schema: f.Schema, Dots: dot.FromPairs(f.Ctx)}
}

// Causal recovers the causal.Causal a Delta frame carries. Calling it on
// an Advertise frame returns an empty store under that frame's context.
func (f Frame) Causal() (causal.Causal, error) {
	s, err := unflatten(f.Entries)
	if err != nil {
		return causal.Causal{}, err
	}
	return causal.Causal{Ctx: f.Context(), Store: s}, nil
}

// Encode serializes f to its canonical wire bytes.
func Encode(f Frame) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, f)
}

// Decode parses the bytes produced by Encode, validating bounds before
// any field is used. A truncated or otherwise malformed frame never
// panics; it returns crdterr.ErrMalformedFrame, and the caller must drop
// the connection per the error-handling design.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if _, err := codec.Codec.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", crdterr.ErrMalformedFrame, err)
	}
	if f.Type != FrameAdvertise && f.Type != FrameDelta {
		return Frame{}, crdterr.ErrMalformedFrame
	}
	for _, e := range f.Entries {
		if len(e.Path) == 0 {
			return Frame{}, crdterr.ErrMalformedFrame
		}
	}
	return f, nil
}

// flatten walks s, collecting one leafEntry per Set/Fun/Policy leaf,
// keyed by its full path from doc's root. It mirrors package replica's
// persistNode, the KV-write counterpart of this same walk.
func flatten(p path.Path, s *store.Store) ([]leafEntry, error) {
	if s.IsEmpty() {
		return nil, nil
	}
	var out []leafEntry
	switch s.Kind {
	case store.KindDotSet:
		for _, d := range s.Set.Iter() {
			out = append(out, leafEntry{Path: p.AppendSet(d).Bytes(), Value: []byte{0x01}})
		}
	case store.KindDotFun:
		for d, v := range s.Fun {
			data, err := v.Marshal()
			if err != nil {
				return nil, err
			}
			out = append(out, leafEntry{Path: p.AppendFun(d).Bytes(), Value: data})
		}
	case store.KindDotMap:
		for k, child := range s.Map {
			entries, err := flatten(p.AppendMap(k), child)
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
	case store.KindStruct:
		for k, child := range s.Struct {
			entries, err := flatten(p.AppendStruct(k), child)
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
	case store.KindPolicy:
		for d, ps := range s.Policy {
			data, err := store.EncodePolicySet(ps)
			if err != nil {
				return nil, err
			}
			out = append(out, leafEntry{Path: p.AppendPolicy(d).Bytes(), Value: data})
		}
	}
	return out, nil
}

// unflatten is flatten's inverse: it rebuilds the nested DotStore value
// from the flat (path, leaf-bytes) pairs a Delta frame carries.
func unflatten(entries []leafEntry) (*store.Store, error) {
	root := newTrieNode()
	for _, e := range entries {
		segs, err := path.FromBytes(e.Path).Segments()
		if err != nil {
			return nil, crdterr.ErrMalformedFrame
		}
		if len(segs) < 2 || segs[0].Type != path.TypeRoot {
			return nil, crdterr.ErrMalformedFrame
		}
		if err := root.insert(segs[1:], e.Value); err != nil {
			return nil, crdterr.ErrMalformedFrame
		}
	}
	return root.toStore(), nil
}

// trieNode accumulates flat leaf entries into the nested DotStore shape,
// the wire-decode twin of package replica's builderNode.
type trieNode struct {
	kind           store.Kind
	set            *dot.DotSet
	fun            map[dot.Dot]primitive.Primitive
	policy         map[dot.Dot][]store.Policy
	mapChildren    map[primitive.Primitive]*trieNode
	structChildren map[string]*trieNode
}

func newTrieNode() *trieNode {
	return &trieNode{
		set:            dot.NewSet(),
		fun:            map[dot.Dot]primitive.Primitive{},
		policy:         map[dot.Dot][]store.Policy{},
		mapChildren:    map[primitive.Primitive]*trieNode{},
		structChildren: map[string]*trieNode{},
	}
}

func (n *trieNode) mapChild(key primitive.Primitive) *trieNode {
	c, ok := n.mapChildren[key]
	if !ok {
		c = newTrieNode()
		n.mapChildren[key] = c
	}
	return c
}

func (n *trieNode) structChild(field string) *trieNode {
	c, ok := n.structChildren[field]
	if !ok {
		c = newTrieNode()
		n.structChildren[field] = c
	}
	return c
}

func (n *trieNode) insert(segs []path.Segment, value []byte) error {
	if len(segs) == 0 {
		return crdterr.ErrInvalidPath
	}
	seg := segs[0]
	switch seg.Type {
	case path.TypeMap:
		key, err := primitive.UnmarshalSortable(seg.Payload)
		if err != nil {
			return err
		}
		return n.mapChild(key).insert(segs[1:], value)
	case path.TypeStruct:
		return n.structChild(string(seg.Payload)).insert(segs[1:], value)
	case path.TypeSet:
		d, err := dot.FromBytes(seg.Payload)
		if err != nil {
			return err
		}
		n.kind = store.KindDotSet
		n.set.Insert(d)
		return nil
	case path.TypeFun:
		d, err := dot.FromBytes(seg.Payload)
		if err != nil {
			return err
		}
		v, err := primitive.Unmarshal(value)
		if err != nil {
			return err
		}
		n.kind = store.KindDotFun
		n.fun[d] = v
		return nil
	case path.TypePolicy:
		d, err := dot.FromBytes(seg.Payload)
		if err != nil {
			return err
		}
		ps, err := store.DecodePolicySet(value)
		if err != nil {
			return err
		}
		n.kind = store.KindPolicy
		n.policy[d] = ps
		return nil
	default:
		return crdterr.ErrInvalidPath
	}
}

func (n *trieNode) toStore() *store.Store {
	switch n.kind {
	case store.KindDotSet:
		return store.NewDotSet(n.set)
	case store.KindDotFun:
		return store.NewDotFun(n.fun)
	case store.KindPolicy:
		return store.NewPolicy(n.policy)
	}
	if len(n.mapChildren) > 0 {
		out := make(map[primitive.Primitive]*store.Store, len(n.mapChildren))
		for k, c := range n.mapChildren {
			out[k] = c.toStore()
		}
		return store.NewDotMap(out)
	}
	if len(n.structChildren) > 0 {
		out := make(map[string]*store.Store, len(n.structChildren))
		for k, c := range n.structChildren {
			out[k] = c.toStore()
		}
		return store.NewStruct(out)
	}
	return store.Null()
}
