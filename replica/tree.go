// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replica

import (
	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/kv"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/crdt/store"
)

// builderNode accumulates the flat, path-keyed leaves scanned out of the KV
// store into the nested DotStore shape that package store operates on. Only
// Set/Fun/Policy leaves are ever literally stored; Map/Struct containers
// are inferred purely from the path segments leading to those leaves.
type builderNode struct {
	kind           store.Kind
	set            *dot.DotSet
	fun            map[dot.Dot]primitive.Primitive
	policy         map[dot.Dot][]store.Policy
	mapChildren    map[primitive.Primitive]*builderNode
	structChildren map[string]*builderNode
}

func newBuilderNode() *builderNode {
	return &builderNode{
		set:            dot.NewSet(),
		fun:            map[dot.Dot]primitive.Primitive{},
		policy:         map[dot.Dot][]store.Policy{},
		mapChildren:    map[primitive.Primitive]*builderNode{},
		structChildren: map[string]*builderNode{},
	}
}

func (n *builderNode) mapChild(key primitive.Primitive) *builderNode {
	c, ok := n.mapChildren[key]
	if !ok {
		c = newBuilderNode()
		n.mapChildren[key] = c
	}
	return c
}

func (n *builderNode) structChild(field string) *builderNode {
	c, ok := n.structChildren[field]
	if !ok {
		c = newBuilderNode()
		n.structChildren[field] = c
	}
	return c
}

// insert threads one persisted (segment-path, value) pair into the trie.
func (n *builderNode) insert(segs []path.Segment, value []byte) error {
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

func (n *builderNode) toStore() *store.Store {
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

// loadTree reconstructs the full DotStore value persisted for doc.
func loadTree(txn kv.Txn, doc path.DocID) (*store.Store, error) {
	root := newBuilderNode()
	it, err := txn.ScanPrefix(docPrefix(doc))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for it.Next() {
		pair := it.Pair()
		segs, err := path.FromBytes(pair.Key[1:]).Segments()
		if err != nil {
			return nil, err
		}
		if len(segs) < 2 || segs[0].Type != path.TypeRoot {
			return nil, crdterr.ErrInvalidPath
		}
		if err := root.insert(segs[1:], pair.Value); err != nil {
			return nil, err
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return root.toStore(), nil
}

// wipeState deletes every persisted leaf for doc, in preparation for a
// full rewrite by persistTree. Whole-document rewrite is a deliberate
// simplification over literal per-leaf patching: operations are bounded
// by document size by construction, so re-deriving the flat layout from
// the in-memory tree on every join costs no more asymptotically.
func wipeState(txn kv.Txn, doc path.DocID) error {
	it, err := txn.ScanPrefix(docPrefix(doc))
	if err != nil {
		return err
	}
	defer it.Close()
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Pair().Key...))
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Remove(k); err != nil {
			return err
		}
	}
	return nil
}

// persistTree writes every Set/Fun/Policy leaf of s as a KV entry keyed by
// its path under doc's root.
func persistTree(txn kv.Txn, doc path.DocID, s *store.Store) error {
	return persistNode(txn, path.Root(doc), s)
}

func persistNode(txn kv.Txn, p path.Path, s *store.Store) error {
	if s.IsEmpty() {
		return nil
	}
	switch s.Kind {
	case store.KindDotSet:
		for _, d := range s.Set.Iter() {
			if err := txn.Insert(stateKey(p.AppendSet(d)), []byte{0x01}); err != nil {
				return err
			}
		}
	case store.KindDotFun:
		for d, v := range s.Fun {
			data, err := v.Marshal()
			if err != nil {
				return err
			}
			if err := txn.Insert(stateKey(p.AppendFun(d)), data); err != nil {
				return err
			}
		}
	case store.KindDotMap:
		for k, child := range s.Map {
			if err := persistNode(txn, p.AppendMap(k), child); err != nil {
				return err
			}
		}
	case store.KindStruct:
		for k, child := range s.Struct {
			if err := persistNode(txn, p.AppendStruct(k), child); err != nil {
				return err
			}
		}
	case store.KindPolicy:
		for d, ps := range s.Policy {
			data, err := store.EncodePolicySet(ps)
			if err != nil {
				return err
			}
			if err := txn.Insert(stateKey(p.AppendPolicy(d)), data); err != nil {
				return err
			}
		}
	}
	return nil
}

// navigate walks s down the Map/Struct segments of p (which must not end
// in a Set/Fun/Policy leaf segment) and returns the DotStore value
// currently held there, store.Null() if nothing has been written yet.
func navigate(s *store.Store, p path.Path) (*store.Store, error) {
	segs, err := p.Segments()
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 || segs[0].Type != path.TypeRoot {
		return nil, crdterr.ErrInvalidPath
	}
	cur := s
	for _, seg := range segs[1:] {
		if cur.IsEmpty() {
			return store.Null(), nil
		}
		switch seg.Type {
		case path.TypeMap:
			key, err := primitive.UnmarshalSortable(seg.Payload)
			if err != nil {
				return nil, err
			}
			child, ok := cur.Map[key]
			if !ok {
				return store.Null(), nil
			}
			cur = child
		case path.TypeStruct:
			child, ok := cur.Struct[string(seg.Payload)]
			if !ok {
				return store.Null(), nil
			}
			cur = child
		default:
			return nil, crdterr.ErrInvalidPath
		}
	}
	return cur, nil
}

// wrap rebuilds the Map/Struct ancestor chain of p around leaf, producing
// the document-rooted DotStore fragment that Join expects. When p's final
// segment is itself a Set/Fun/Policy marker, that segment is skipped: its
// content is already folded into leaf by the caller.
func wrap(p path.Path, leaf *store.Store) (*store.Store, error) {
	segs, err := p.Segments()
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 || segs[0].Type != path.TypeRoot {
		return nil, crdterr.ErrInvalidPath
	}
	segs = segs[1:]
	if len(segs) > 0 {
		switch segs[len(segs)-1].Type {
		case path.TypeSet, path.TypeFun, path.TypePolicy:
			segs = segs[:len(segs)-1]
		}
	}
	cur := leaf
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		switch seg.Type {
		case path.TypeMap:
			key, err := primitive.UnmarshalSortable(seg.Payload)
			if err != nil {
				return nil, err
			}
			cur = store.NewDotMap(map[primitive.Primitive]*store.Store{key: cur})
		case path.TypeStruct:
			cur = store.NewStruct(map[string]*store.Store{string(seg.Payload): cur})
		default:
			return nil, crdterr.ErrInvalidPath
		}
	}
	return cur, nil
}
