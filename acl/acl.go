// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package acl evaluates the permission lattice attached to a document's
// Policy entries: Read ≤ Write ≤ Control ≤ Own, with grants inherited
// from path ancestors and deletable by a Revokes policy.
package acl

import (
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/store"
)

// Entry pairs a Policy with the dot that issued it, the unit the acl
// index stores and returns.
type Entry struct {
	Dot    dot.Dot
	Policy store.Policy
}

// Index looks up every policy entry said at exactly one path. Callers
// (package replica) back this with the "acl" KV tree; tests may use an
// in-memory map.
type Index interface {
	PoliciesAt(doc path.DocID, p path.Path) ([]Entry, error)
}

// ConditionResolver decides whether a CanIf policy's condition currently
// holds for peer. Condition evaluation is deliberately left to the
// caller: the grammar of conditions is outside this package's scope.
type ConditionResolver interface {
	Satisfied(peer dot.PeerID, condition string) bool
}

// AllowAllConditions treats every CanIf grant as satisfied. Useful for
// tests and for deployments that don't use conditional policies.
type AllowAllConditions struct{}

func (AllowAllConditions) Satisfied(dot.PeerID, string) bool { return true }

// Acl evaluates Can against an Index of stored policy entries.
type Acl struct {
	index      Index
	conditions ConditionResolver
}

// New returns an Acl backed by index. A nil conditions resolver rejects
// every CanIf grant.
func New(index Index, conditions ConditionResolver) *Acl {
	if conditions == nil {
		conditions = denyAllConditions{}
	}
	return &Acl{index: index, conditions: conditions}
}

type denyAllConditions struct{}

func (denyAllConditions) Satisfied(dot.PeerID, string) bool { return false }

// Can reports whether peer holds at least perm at target, considering
// grants said at target or any of its ancestors and policies that have
// since revoked them. Evaluation is deterministic given the stored
// state: revocations are resolved before grants are checked, so no
// iteration order can change the result.
func (a *Acl) Can(doc path.DocID, peer dot.PeerID, perm store.Permission, target path.Path) (bool, error) {
	var entries []Entry
	for _, p := range target.AncestorsAndSelf() {
		es, err := a.index.PoliciesAt(doc, p)
		if err != nil {
			return false, err
		}
		entries = append(entries, es...)
	}

	revoked := make(map[dot.Dot]struct{}, len(entries))
	for _, e := range entries {
		if e.Policy.Kind == store.PolicyRevokes {
			revoked[e.Policy.Revokes] = struct{}{}
		}
	}

	for _, e := range entries {
		if e.Policy.Kind == store.PolicyRevokes {
			continue
		}
		if _, isRevoked := revoked[e.Dot]; isRevoked {
			continue
		}
		if e.Policy.Subject != peer {
			continue
		}
		if !e.Policy.Permission.AtLeast(perm) {
			continue
		}
		if e.Policy.Kind == store.PolicyCanIf && !a.conditions.Satisfied(peer, e.Policy.Condition) {
			continue
		}
		return true, nil
	}
	return false, nil
}

// RequiredToSay returns the permission level a peer must hold at target
// to issue policy itself, per the say() authorization gate: granting or
// revoking anything controllable needs Control; granting Own needs Own.
func RequiredToSay(policy store.Policy) store.Permission {
	if policy.Controllable() {
		return store.Control
	}
	return store.Own
}
