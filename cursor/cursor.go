// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cursor implements the typed frontend: a navigation handle bound
// to one document and one acting peer, whose mutation methods produce a
// Causal delta, apply it locally through the bound Replica, and — when
// wired to a sync Engine — broadcast it to that document's subscribers.
// A cursor carries no state of its own beyond the path it is positioned
// at; every read or write goes straight through to the Replica.
package cursor

import (
	"context"

	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/engine"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/crdt/replica"
	"github.com/luxfi/crdt/store"
)

// Cursor addresses one path within one document, acting as one peer.
// Values are copied, not pointers: Field/Key return a new Cursor one
// level deeper, leaving the receiver unchanged, so a caller can branch
// from a shared ancestor cursor freely.
type Cursor struct {
	rep    *replica.Replica
	eng    *engine.Engine
	doc    path.DocID
	schema causal.SchemaHash
	actor  dot.PeerID
	path   path.Path
}

// New returns a cursor positioned at doc's root, acting as actor. eng may
// be nil: mutations still apply locally, they just aren't broadcast.
func New(rep *replica.Replica, eng *engine.Engine, doc path.DocID, schema causal.SchemaHash, actor dot.PeerID) Cursor {
	return Cursor{rep: rep, eng: eng, doc: doc, schema: schema, actor: actor, path: path.Root(doc)}
}

// Field descends into a Struct field.
func (c Cursor) Field(name string) Cursor {
	c.path = c.path.AppendStruct(name)
	return c
}

// Key descends into a DotMap entry.
func (c Cursor) Key(k primitive.Primitive) Cursor {
	c.path = c.path.AppendMap(k)
	return c
}

// Path returns the path this cursor is positioned at.
func (c Cursor) Path() path.Path { return c.path }

func (c Cursor) apply(ctx context.Context, delta causal.Causal, err error) error {
	if err != nil {
		return err
	}
	if c.eng == nil {
		return nil
	}
	var zero dot.PeerID
	return c.eng.Broadcast(ctx, delta, zero)
}

// Enable turns on the flag at this cursor's path.
func (c Cursor) Enable(ctx context.Context) error {
	delta, err := c.rep.Enable(ctx, c.doc, c.schema, c.actor, c.path)
	return c.apply(ctx, delta, err)
}

// Disable turns off the flag at this cursor's path.
func (c Cursor) Disable(ctx context.Context) error {
	delta, err := c.rep.Disable(ctx, c.doc, c.schema, c.actor, c.path)
	return c.apply(ctx, delta, err)
}

// Assign overwrites the multi-value register at this cursor's path.
func (c Cursor) Assign(ctx context.Context, value primitive.Primitive) error {
	delta, err := c.rep.Assign(ctx, c.doc, c.schema, c.actor, c.path, value)
	return c.apply(ctx, delta, err)
}

// Remove observed-removes everything under this cursor's path.
func (c Cursor) Remove(ctx context.Context) error {
	delta, err := c.rep.Remove(ctx, c.doc, c.schema, c.actor, c.path)
	return c.apply(ctx, delta, err)
}

// SayCan grants subject perm unconditionally at this cursor's path.
func (c Cursor) SayCan(ctx context.Context, subject dot.PeerID, perm store.Permission) error {
	delta, err := c.rep.Say(ctx, c.doc, c.schema, c.actor, c.path, store.Policy{
		Kind: store.PolicyCan, Subject: subject, Permission: perm,
	})
	return c.apply(ctx, delta, err)
}

// SayCanIf grants subject perm at this cursor's path, subject to
// condition (an opaque predicate name resolved by the acl layer's
// ConditionResolver).
func (c Cursor) SayCanIf(ctx context.Context, subject dot.PeerID, perm store.Permission, condition string) error {
	delta, err := c.rep.Say(ctx, c.doc, c.schema, c.actor, c.path, store.Policy{
		Kind: store.PolicyCanIf, Subject: subject, Permission: perm, Condition: condition,
	})
	return c.apply(ctx, delta, err)
}

// SayRevokes deletes the grant issued by revoked, stamped at this
// cursor's path.
func (c Cursor) SayRevokes(ctx context.Context, revoked dot.Dot) error {
	delta, err := c.rep.Say(ctx, c.doc, c.schema, c.actor, c.path, store.Policy{
		Kind: store.PolicyRevokes, Revokes: revoked,
	})
	return c.apply(ctx, delta, err)
}

// Values reads the multi-value register at this cursor's path: every
// surviving concurrent assignment, in no particular order. Empty if
// nothing has been assigned or the register was removed.
func (c Cursor) Values(ctx context.Context) ([]primitive.Primitive, error) {
	s, err := c.rep.Read(ctx, c.doc, c.path)
	if err != nil {
		return nil, err
	}
	if s.Kind != store.KindDotFun {
		return nil, nil
	}
	out := make([]primitive.Primitive, 0, len(s.Fun))
	for _, v := range s.Fun {
		out = append(out, v)
	}
	return out, nil
}

// Enabled reports whether the flag at this cursor's path is currently on
// (its DotSet is non-empty).
func (c Cursor) Enabled(ctx context.Context) (bool, error) {
	s, err := c.rep.Read(ctx, c.doc, c.path)
	if err != nil {
		return false, err
	}
	return !s.IsEmpty(), nil
}

// Can reports whether this cursor's acting peer holds at least perm at
// this cursor's path.
func (c Cursor) Can(perm store.Permission) (bool, error) {
	return c.rep.Can(c.doc, c.actor, perm, c.path)
}
