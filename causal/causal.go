// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package causal implements the unit exchanged between replicas: a
// DotStore value paired with the causal context under which it was
// observed, and the top-level Join/Unjoin operations that dispatch into
// the pure algebra of package store.
package causal

import (
	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/store"
)

// SchemaHash identifies the schema a Causal's store was encoded under.
type SchemaHash [32]byte

// Context records which dots have been observed, and under what
// document and schema they are interpreted.
type Context struct {
	Doc    path.DocID
	Schema SchemaHash
	Dots   *dot.DotSet
}

// NewContext returns an empty context for doc under schema.
func NewContext(doc path.DocID, schema SchemaHash) Context {
	return Context{Doc: doc, Schema: schema, Dots: dot.NewSet()}
}

// Clone deep-copies c.
func (c Context) Clone() Context {
	return Context{Doc: c.Doc, Schema: c.Schema, Dots: c.Dots.Clone()}
}

// Causal is the protocol unit: a store value and the context it was
// observed under.
type Causal struct {
	Ctx   Context
	Store *store.Store
}

// New wraps a store value with the context it was produced under.
func New(ctx Context, s *store.Store) Causal {
	return Causal{Ctx: ctx, Store: s}
}

func assertCompatible(a, b Context) {
	if a.Doc != b.Doc {
		crdterr.DocMismatch()
	}
	if a.Schema != b.Schema {
		crdterr.SchemaMismatch()
	}
}

// Join merges a and b. Doc and Schema mismatches are programmer errors
// and panic rather than return an error, matching the join hot path:
// a caller that reaches here with two causals from different document
// lineages has already violated an upstream invariant.
func Join(a, b Causal) Causal {
	assertCompatible(a.Ctx, b.Ctx)
	merged := store.Join(a.Store, a.Ctx.Dots, b.Store, b.Ctx.Dots)
	return Causal{
		Ctx:   Context{Doc: a.Ctx.Doc, Schema: a.Ctx.Schema, Dots: a.Ctx.Dots.Unioned(b.Ctx.Dots)},
		Store: merged,
	}
}

// Unjoin produces the delta a replica holding a owes a peer whose
// observed context is remote: the sub-value of a.Store tagged by dots
// remote has not seen.
//
// The returned context is the diff, not a's full context: dots(delta) =
// a.Ctx.Dots \ remote.Dots. Claiming more than the diff is unsound the
// moment a's own context was assembled from more than one source (e.g.
// a synced with some third peer c): a dot a knows about only because of
// that sync is not one remote has necessarily ever seen, and declaring
// it seen anyway makes a recipient's subsequent join wrongly treat an
// untouched, still-live leaf at that dot as "observed absent" and erase
// it. The diff-only context is exactly what the recipient needs: after
// joining, its own context becomes remote.Dots ∪ diff = remote.Dots ∪
// (a.Ctx.Dots \ remote.Dots), which already equals remote.Dots ∪
// a.Ctx.Dots without this Causal needing to assert anything beyond the
// dots it actually carries information about.
func Unjoin(a Causal, remote Context) Causal {
	if a.Ctx.Doc != remote.Doc {
		crdterr.DocMismatch()
	}
	delta := store.Unjoin(a.Store, remote.Dots)
	return Causal{
		Ctx:   Context{Doc: a.Ctx.Doc, Schema: a.Ctx.Schema, Dots: a.Ctx.Dots.Difference(remote.Dots)},
		Store: delta,
	}
}
