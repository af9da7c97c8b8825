// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replica

import (
	"context"

	"github.com/luxfi/crdt/acl"
	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/kv"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/crdt/store"
)

// localOp runs one local mutation against doc under schema: it loads the
// current tree and context, checks actor's authorization for perm at
// target, invokes build to produce the delta fragment and the set of
// dots that fragment causally supersedes, joins it into the document,
// persists the result, and returns the delta alone (what a caller should
// gossip to peers) under its own minimal context.
func (r *Replica) localOp(
	ctx context.Context,
	doc path.DocID,
	schema causal.SchemaHash,
	actor dot.PeerID,
	target path.Path,
	perm store.Permission,
	allowGenesis bool,
	build func(txn kv.Txn, old *store.Store) (leafPath path.Path, leaf *store.Store, newDots *dot.DotSet, err error),
) (causal.Causal, error) {
	unlock := r.lockDoc(doc)
	defer unlock()

	var result causal.Causal
	err := r.kv.Transaction(ctx, func(txn kv.Txn) error {
		resolved, err := r.schemaFor(txn, doc, schema)
		if err != nil {
			return err
		}

		ok, err := r.acl.Can(doc, actor, perm, target)
		if err != nil {
			return err
		}
		if !ok && allowGenesis {
			// A document with no policy entries anywhere has never had an
			// owner established; the first Say on it binds its issuer.
			genesis, err := r.hasAnyPolicy(txn, doc)
			if err != nil {
				return err
			}
			ok = !genesis
		}
		if !ok {
			return crdterr.ErrUnauthorized
		}

		old, err := loadTree(txn, doc)
		if err != nil {
			return err
		}
		oldDots, err := r.contextDots(txn, doc)
		if err != nil {
			return err
		}

		leafPath, leaf, newDots, err := build(txn, old)
		if err != nil {
			return err
		}
		deltaStore, err := wrap(leafPath, leaf)
		if err != nil {
			return err
		}

		local := causal.Causal{Ctx: causal.Context{Doc: doc, Schema: resolved, Dots: oldDots}, Store: old}
		delta := causal.Causal{Ctx: causal.Context{Doc: doc, Schema: resolved, Dots: newDots}, Store: deltaStore}
		merged := causal.Join(local, delta)

		if err := wipeState(txn, doc); err != nil {
			return err
		}
		if err := persistTree(txn, doc, merged.Store); err != nil {
			return err
		}
		if err := r.advanceWatermarks(txn, doc, delta.Ctx.Dots); err != nil {
			return err
		}

		result = delta
		return nil
	})
	if err != nil {
		return causal.Causal{}, err
	}
	if r.met != nil {
		r.met.JoinsApplied.Inc()
	}
	r.log.Debug("replica: local op applied", "doc", doc, "path", target.String())
	return result, nil
}

// Enable adds a fresh presence dot to the DotSet at target, e.g. turning a
// flag on. Concurrent Enables from different replicas coexist until a
// Disable observed-removes them.
func (r *Replica) Enable(ctx context.Context, doc path.DocID, schema causal.SchemaHash, actor dot.PeerID, target path.Path) (causal.Causal, error) {
	return r.localOp(ctx, doc, schema, actor, target, store.Write, false, func(txn kv.Txn, old *store.Store) (path.Path, *store.Store, *dot.DotSet, error) {
		d, err := r.allocateDot(txn, doc)
		if err != nil {
			return path.Path{}, nil, nil, err
		}
		set := dot.NewSet()
		set.Insert(d)
		newDots := dot.NewSet()
		newDots.Insert(d)
		return target.AppendSet(d), store.NewDotSet(set), newDots, nil
	})
}

// Disable observed-removes every dot this replica has seen enabled at
// target: dots enabled concurrently elsewhere, and not yet observed here,
// survive until a later Disable sees them too.
//
// A removal that empties a container changes no leaf dot, so it must mint
// its own fresh dot purely to advance the causal context: otherwise a
// later Unjoin reconstructed from ctx.dots alone cannot tell a peer who
// already observed the removed dots that anything happened, since the
// diff against their context would come back empty.
func (r *Replica) Disable(ctx context.Context, doc path.DocID, schema causal.SchemaHash, actor dot.PeerID, target path.Path) (causal.Causal, error) {
	return r.localOp(ctx, doc, schema, actor, target, store.Write, false, func(txn kv.Txn, old *store.Store) (path.Path, *store.Store, *dot.DotSet, error) {
		observed, err := navigate(old, target)
		if err != nil {
			return path.Path{}, nil, nil, err
		}
		tomb, err := r.allocateDot(txn, doc)
		if err != nil {
			return path.Path{}, nil, nil, err
		}
		newDots := observed.Dots()
		newDots.Insert(tomb)
		return target, store.NewDotSet(dot.NewSet()), newDots, nil
	})
}

// Assign overwrites the multi-value register at target with value: dots
// this replica has observed there are removed, a fresh dot carrying value
// is added, and concurrent assigns from other replicas this one has not
// yet observed survive as additional values.
func (r *Replica) Assign(ctx context.Context, doc path.DocID, schema causal.SchemaHash, actor dot.PeerID, target path.Path, value primitive.Primitive) (causal.Causal, error) {
	return r.localOp(ctx, doc, schema, actor, target, store.Write, false, func(txn kv.Txn, old *store.Store) (path.Path, *store.Store, *dot.DotSet, error) {
		observed, err := navigate(old, target)
		if err != nil {
			return path.Path{}, nil, nil, err
		}
		d, err := r.allocateDot(txn, doc)
		if err != nil {
			return path.Path{}, nil, nil, err
		}
		newDots := observed.Dots()
		newDots.Insert(d)
		return target.AppendFun(d), store.NewDotFun(map[dot.Dot]primitive.Primitive{d: value}), newDots, nil
	})
}

// Remove observed-removes everything this replica has seen under target,
// e.g. deleting an entry from an OR-Map. It subsumes Disable for
// non-flag containers: the dots collected span the full subtree, not
// just a single DotSet. Like Disable, it mints a fresh tombstone dot so
// the removal survives a later context-diff-based Unjoin.
func (r *Replica) Remove(ctx context.Context, doc path.DocID, schema causal.SchemaHash, actor dot.PeerID, target path.Path) (causal.Causal, error) {
	return r.localOp(ctx, doc, schema, actor, target, store.Write, false, func(txn kv.Txn, old *store.Store) (path.Path, *store.Store, *dot.DotSet, error) {
		observed, err := navigate(old, target)
		if err != nil {
			return path.Path{}, nil, nil, err
		}
		tomb, err := r.allocateDot(txn, doc)
		if err != nil {
			return path.Path{}, nil, nil, err
		}
		newDots := observed.Dots()
		newDots.Insert(tomb)
		return target, store.Null(), newDots, nil
	})
}

// Say stamps policy at target with a fresh dot, after checking actor
// holds the authority that policy itself requires to be said (Control
// for anything controllable, Own for granting Own).
func (r *Replica) Say(ctx context.Context, doc path.DocID, schema causal.SchemaHash, actor dot.PeerID, target path.Path, policy store.Policy) (causal.Causal, error) {
	required := acl.RequiredToSay(policy)
	return r.localOp(ctx, doc, schema, actor, target, required, true, func(txn kv.Txn, old *store.Store) (path.Path, *store.Store, *dot.DotSet, error) {
		d, err := r.allocateDot(txn, doc)
		if err != nil {
			return path.Path{}, nil, nil, err
		}
		newDots := dot.NewSet()
		newDots.Insert(d)
		return target.AppendPolicy(d), store.NewPolicy(map[dot.Dot][]store.Policy{d: {policy}}), newDots, nil
	})
}

// Join applies a delta received from a peer: unauthorized fragments are
// dropped (not the whole delta — per-leaf, so one revoked peer's stray
// write never blocks the rest of a batched delta), then the remainder is
// merged into local state and persisted.
func (r *Replica) Join(ctx context.Context, delta causal.Causal) error {
	doc := delta.Ctx.Doc
	unlock := r.lockDoc(doc)
	defer unlock()

	return r.kv.Transaction(ctx, func(txn kv.Txn) error {
		resolved, err := r.schemaFor(txn, doc, delta.Ctx.Schema)
		if err != nil {
			return err
		}

		filtered, err := r.filterAuthorized(doc, path.Root(doc), delta.Store)
		if err != nil {
			return err
		}

		old, err := loadTree(txn, doc)
		if err != nil {
			return err
		}
		oldDots, err := r.contextDots(txn, doc)
		if err != nil {
			return err
		}

		local := causal.Causal{Ctx: causal.Context{Doc: doc, Schema: resolved, Dots: oldDots}, Store: old}
		remote := causal.Causal{Ctx: causal.Context{Doc: doc, Schema: resolved, Dots: delta.Ctx.Dots}, Store: filtered}
		merged := causal.Join(local, remote)

		if err := wipeState(txn, doc); err != nil {
			return err
		}
		if err := persistTree(txn, doc, merged.Store); err != nil {
			return err
		}
		if err := r.advanceWatermarks(txn, doc, delta.Ctx.Dots); err != nil {
			return err
		}

		if r.met != nil {
			r.met.DeltasReceived.Inc()
			r.met.JoinsApplied.Inc()
		}
		return nil
	})
}

// Can reports whether actor holds at least perm at target, per the same
// acl evaluation every mutation is gated by.
func (r *Replica) Can(doc path.DocID, actor dot.PeerID, perm store.Permission, target path.Path) (bool, error) {
	return r.acl.Can(doc, actor, perm, target)
}

// Read returns the DotStore value currently held at target, store.Null()
// if nothing has been written there yet. It performs no authorization
// check: reads are lock-free and unrestricted per §5, the ACL gate only
// ever applies to what a mutation writes or what a delta contributes.
func (r *Replica) Read(ctx context.Context, doc path.DocID, target path.Path) (*store.Store, error) {
	var result *store.Store
	err := r.kv.Transaction(ctx, func(txn kv.Txn) error {
		tree, err := loadTree(txn, doc)
		if err != nil {
			return err
		}
		result, err = navigate(tree, target)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Context returns doc's current causal context as observed by this
// replica: what a subscription automaton sends on subscribe and on
// periodic re-advertise.
func (r *Replica) Context(ctx context.Context, doc path.DocID) (causal.Context, error) {
	var result causal.Context
	err := r.kv.Transaction(ctx, func(txn kv.Txn) error {
		schemaKey := docsSchemaKey(doc)
		v, ok, err := txn.Get(schemaKey)
		if err != nil {
			return err
		}
		var schema causal.SchemaHash
		if ok {
			copy(schema[:], v)
		}
		dots, err := r.contextDots(txn, doc)
		if err != nil {
			return err
		}
		result = causal.Context{Doc: doc, Schema: schema, Dots: dots}
		return nil
	})
	if err != nil {
		return causal.Context{}, err
	}
	return result, nil
}

// Unjoin computes the delta this replica owes peer, whose observed
// context is remote: the sub-value of doc's full state not covered by
// remote, restricted to what peer may Read.
func (r *Replica) Unjoin(ctx context.Context, doc path.DocID, peer dot.PeerID, remote causal.Context) (causal.Causal, error) {
	var result causal.Causal
	err := r.kv.Transaction(ctx, func(txn kv.Txn) error {
		schemaKey := docsSchemaKey(doc)
		v, ok, err := txn.Get(schemaKey)
		if err != nil {
			return err
		}
		var schema causal.SchemaHash
		if ok {
			copy(schema[:], v)
		}

		tree, err := loadTree(txn, doc)
		if err != nil {
			return err
		}
		dots, err := r.contextDots(txn, doc)
		if err != nil {
			return err
		}
		local := causal.Causal{Ctx: causal.Context{Doc: doc, Schema: schema, Dots: dots}, Store: tree}
		delta := causal.Unjoin(local, remote)
		readable, err := r.filterReadable(doc, peer, path.Root(doc), delta.Store)
		if err != nil {
			return err
		}
		delta.Store = readable
		result = delta
		return nil
	})
	if err != nil {
		return causal.Causal{}, err
	}
	if r.met != nil {
		r.met.DeltasSent.Inc()
	}
	return result, nil
}
