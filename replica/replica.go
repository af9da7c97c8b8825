// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package replica binds the pure DotStore algebra of package store to the
// kv collaborator: it owns dot allocation, causal-context reconstruction
// from per-peer watermarks, the flat path-keyed persistence layout, and
// the authorization gate that every local and remote mutation passes
// through.
package replica

import (
	"sync"

	"github.com/luxfi/crdt/acl"
	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/kv"
	"github.com/luxfi/crdt/metrics"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/crdt/store"
	"github.com/luxfi/log"
)

// Replica is one local copy of the replicated store: a KV backend, the
// peer identity dots are allocated under, and the ACL gate every mutation
// is checked against.
type Replica struct {
	self dot.PeerID
	kv   kv.Store
	log  log.Logger
	met  *metrics.CRDT
	acl  *acl.Acl

	mu       sync.Mutex
	docLocks map[path.DocID]*sync.Mutex
}

// New returns a Replica identified by self, persisting to backing. A nil
// conditions resolver rejects every CanIf policy.
func New(self dot.PeerID, backing kv.Store, logger log.Logger, met *metrics.CRDT, conditions acl.ConditionResolver) *Replica {
	r := &Replica{
		self:     self,
		kv:       backing,
		log:      logger,
		met:      met,
		docLocks: make(map[path.DocID]*sync.Mutex),
	}
	r.acl = acl.New(r, conditions)
	return r
}

func (r *Replica) lockDoc(doc path.DocID) func() {
	r.mu.Lock()
	l, ok := r.docLocks[doc]
	if !ok {
		l = &sync.Mutex{}
		r.docLocks[doc] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// PoliciesAt implements acl.Index directly against the state tree: Policy
// leaves are addressed by a fixed 40-byte dot payload, so every policy
// entry said at p is found by a single exact-prefix scan, with no need
// for a second, separately maintained acl index.
func (r *Replica) PoliciesAt(doc path.DocID, p path.Path) ([]acl.Entry, error) {
	prefix := append([]byte{nsState}, p.Bytes()...)
	prefix = append(prefix, byte(path.TypePolicy), 0x00, 0x28)
	it, err := r.kv.ScanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []acl.Entry
	for it.Next() {
		pair := it.Pair()
		d, err := path.FromBytes(pair.Key[1:]).Dot()
		if err != nil {
			return nil, err
		}
		ps, err := store.DecodePolicySet(pair.Value)
		if err != nil {
			return nil, err
		}
		for _, pol := range ps {
			out = append(out, acl.Entry{Dot: d, Policy: pol})
		}
	}
	return out, it.Err()
}

// hasAnyPolicy reports whether doc has ever had a policy stamped anywhere
// in its tree, used to decide whether a Say is the genesis grant that
// establishes a fresh document's owner.
func (r *Replica) hasAnyPolicy(txn kv.Txn, doc path.DocID) (bool, error) {
	it, err := txn.ScanPrefix(docPrefix(doc))
	if err != nil {
		return false, err
	}
	defer it.Close()
	for it.Next() {
		typ, ok := path.FromBytes(it.Pair().Key[1:]).Type()
		if ok && typ == path.TypePolicy {
			return true, nil
		}
	}
	return false, it.Err()
}

func (r *Replica) schemaFor(txn kv.Txn, doc path.DocID, provided causal.SchemaHash) (causal.SchemaHash, error) {
	key := docsSchemaKey(doc)
	v, ok, err := txn.Get(key)
	if err != nil {
		return causal.SchemaHash{}, err
	}
	if !ok {
		if err := txn.Insert(key, provided[:]); err != nil {
			return causal.SchemaHash{}, err
		}
		return provided, nil
	}
	var existing causal.SchemaHash
	copy(existing[:], v)
	if existing != provided {
		return causal.SchemaHash{}, crdterr.ErrSchemaMismatch
	}
	return existing, nil
}

// contextDots reconstructs doc's full causal context from its per-peer
// watermarks: invariant 3 (per-peer density) guarantees the watermark is
// exactly the highest observed counter, so InsertRange rebuilds the
// contiguous observed range without a separately persisted DotSet.
func (r *Replica) contextDots(txn kv.Txn, doc path.DocID) (*dot.DotSet, error) {
	out := dot.NewSet()
	prefix := docsWatermarkScanPrefix(doc)
	it, err := txn.ScanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var peerZero dot.PeerID
	prefixLen := len(prefix)
	for it.Next() {
		pair := it.Pair()
		if len(pair.Key) < prefixLen+len(peerZero) {
			continue
		}
		var p dot.PeerID
		copy(p[:], pair.Key[prefixLen:])
		out.InsertRange(p, getUint64BE(pair.Value))
	}
	return out, it.Err()
}

// allocateDot reserves the next counter for self against doc, persisting
// the advanced watermark in the same transaction as the mutation it backs.
func (r *Replica) allocateDot(txn kv.Txn, doc path.DocID) (dot.Dot, error) {
	key := docsWatermarkKey(doc, r.self)
	v, ok, err := txn.Get(key)
	if err != nil {
		return dot.Dot{}, err
	}
	cur := uint64(0)
	if ok {
		cur = getUint64BE(v)
	}
	if cur == ^uint64(0) {
		return dot.Dot{}, crdterr.ErrExhaustedCounter
	}
	next := cur + 1
	if err := txn.Insert(key, putUint64BE(next)); err != nil {
		return dot.Dot{}, err
	}
	if r.met != nil {
		r.met.DotsAllocated.Inc()
	}
	return dot.New(r.self, next), nil
}

// advanceWatermarks raises doc's per-peer watermarks to cover every dot in
// dots, so a later contextDots reconstructs a context that already
// includes them.
func (r *Replica) advanceWatermarks(txn kv.Txn, doc path.DocID, dots *dot.DotSet) error {
	maxByPeer := map[dot.PeerID]uint64{}
	for _, d := range dots.Iter() {
		if d.Counter > maxByPeer[d.Peer] {
			maxByPeer[d.Peer] = d.Counter
		}
	}
	for peer, max := range maxByPeer {
		key := docsWatermarkKey(doc, peer)
		v, ok, err := txn.Get(key)
		if err != nil {
			return err
		}
		cur := uint64(0)
		if ok {
			cur = getUint64BE(v)
		}
		if max > cur {
			if err := txn.Insert(key, putUint64BE(max)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Replica) denyLeaf(p path.Path, peer dot.PeerID) {
	if r.met != nil {
		r.met.LeavesDenied.Inc()
	}
	r.log.Info("join: denied unauthorized leaf", "path", p.String(), "peer", peer)
}

// filterAuthorized drops every leaf of s whose issuing dot's peer is not
// authorized to write at its path, logging and counting each denial. It
// is the join-time enforcement of the permission lattice: a delta from an
// untrusted or since-revoked peer only ever contributes the fragments
// that peer was entitled to write.
func (r *Replica) filterAuthorized(doc path.DocID, p path.Path, s *store.Store) (*store.Store, error) {
	if s.IsEmpty() {
		return store.Null(), nil
	}
	switch s.Kind {
	case store.KindDotSet:
		out := dot.NewSet()
		for _, d := range s.Set.Iter() {
			ok, err := r.acl.Can(doc, d.Peer, store.Write, p)
			if err != nil {
				return nil, err
			}
			if ok {
				out.Insert(d)
			} else {
				r.denyLeaf(p, d.Peer)
			}
		}
		return store.NewDotSet(out), nil

	case store.KindDotFun:
		out := map[dot.Dot]primitive.Primitive{}
		for d, v := range s.Fun {
			ok, err := r.acl.Can(doc, d.Peer, store.Write, p)
			if err != nil {
				return nil, err
			}
			if ok {
				out[d] = v
			} else {
				r.denyLeaf(p, d.Peer)
			}
		}
		return store.NewDotFun(out), nil

	case store.KindDotMap:
		out := map[primitive.Primitive]*store.Store{}
		for k, child := range s.Map {
			filtered, err := r.filterAuthorized(doc, p.AppendMap(k), child)
			if err != nil {
				return nil, err
			}
			if !filtered.IsEmpty() {
				out[k] = filtered
			}
		}
		return store.NewDotMap(out), nil

	case store.KindStruct:
		out := map[string]*store.Store{}
		for k, child := range s.Struct {
			filtered, err := r.filterAuthorized(doc, p.AppendStruct(k), child)
			if err != nil {
				return nil, err
			}
			if !filtered.IsEmpty() {
				out[k] = filtered
			}
		}
		return store.NewStruct(out), nil

	case store.KindPolicy:
		out := map[dot.Dot][]store.Policy{}
		for d, policies := range s.Policy {
			allowed := true
			for _, pol := range policies {
				ok, err := r.acl.Can(doc, d.Peer, acl.RequiredToSay(pol), p)
				if err != nil {
					return nil, err
				}
				if !ok {
					allowed = false
					break
				}
			}
			if allowed {
				out[d] = policies
			} else {
				r.denyLeaf(p, d.Peer)
			}
		}
		return store.NewPolicy(out), nil

	default:
		return store.Null(), nil
	}
}

// filterReadable drops every leaf of s at a path where peer lacks Read,
// the unjoin-side counterpart of filterAuthorized: a catch-up delta
// only ever carries the fragments peer is entitled to see, regardless
// of which dots it would otherwise be owed.
func (r *Replica) filterReadable(doc path.DocID, peer dot.PeerID, p path.Path, s *store.Store) (*store.Store, error) {
	if s.IsEmpty() {
		return store.Null(), nil
	}
	switch s.Kind {
	case store.KindDotSet, store.KindDotFun, store.KindPolicy:
		ok, err := r.acl.Can(doc, peer, store.Read, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.denyLeaf(p, peer)
			return store.Null(), nil
		}
		return s, nil

	case store.KindDotMap:
		out := map[primitive.Primitive]*store.Store{}
		for k, child := range s.Map {
			filtered, err := r.filterReadable(doc, peer, p.AppendMap(k), child)
			if err != nil {
				return nil, err
			}
			if !filtered.IsEmpty() {
				out[k] = filtered
			}
		}
		return store.NewDotMap(out), nil

	case store.KindStruct:
		out := map[string]*store.Store{}
		for k, child := range s.Struct {
			filtered, err := r.filterReadable(doc, peer, p.AppendStruct(k), child)
			if err != nil {
				return nil, err
			}
			if !filtered.IsEmpty() {
				out[k] = filtered
			}
		}
		return store.NewStruct(out), nil

	default:
		return store.Null(), nil
	}
}
