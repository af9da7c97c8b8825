// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store implements the DotStore algebra: the recursive δ-CRDT
// value lattice and its join/unjoin operations over a causal context.
// The algebra is pure and synchronous — no I/O, no locking — by design;
// callers (package replica) are responsible for wiring it to storage.
package store

import (
	"sort"

	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/primitive"
)

// Kind discriminates the DotStore tagged union.
type Kind uint8

const (
	KindNull Kind = iota
	KindDotSet
	KindDotFun
	KindDotMap
	KindStruct
	KindPolicy
)

// Permission is the authorization lattice attached to Policy entries:
// Read ≤ Write ≤ Control ≤ Own.
type Permission uint8

const (
	Read Permission = iota
	Write
	Control
	Own
)

func (p Permission) String() string {
	switch p {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Control:
		return "Control"
	case Own:
		return "Own"
	default:
		return "Invalid"
	}
}

// AtLeast reports whether p grants at least the requested level.
func (p Permission) AtLeast(want Permission) bool { return p >= want }

// Controllable reports whether a grant of this permission may itself be
// issued by a peer holding only Control (rather than Own) on the path.
// Per the authorization gate on say(): granting Own requires Own; every
// other permission is controllable.
func (p Permission) Controllable() bool { return p < Own }

// PolicyKind discriminates a Policy entry.
type PolicyKind uint8

const (
	PolicyCan PolicyKind = iota
	PolicyCanIf
	PolicyRevokes
)

// Policy is one authorization statement stamped by the dot that issued
// it. Can grants Permission to Subject unconditionally; CanIf grants it
// subject to Condition (an opaque predicate name resolved by the acl
// layer); Revokes deletes the grant issued by the named dot.
type Policy struct {
	Kind       PolicyKind
	Subject    dot.PeerID
	Permission Permission
	Condition  string
	Revokes    dot.Dot
}

func (p Policy) Equal(o Policy) bool {
	return p.Kind == o.Kind && p.Subject == o.Subject && p.Permission == o.Permission &&
		p.Condition == o.Condition && p.Revokes == o.Revokes
}

// Controllable reports whether granting/revoking this policy is
// achievable with only Control (as opposed to Own) authority: Revokes
// and Can/CanIf of a controllable Permission are controllable; granting
// Own is not.
func (p Policy) Controllable() bool {
	if p.Kind == PolicyRevokes {
		return true
	}
	return p.Permission.Controllable()
}

// Store is a DotStore value: exactly one of the variants below is
// populated, matching Kind. The zero Store is Null, the lattice identity
// for Join.
type Store struct {
	Kind    Kind
	Set     *dot.DotSet
	Fun     map[dot.Dot]primitive.Primitive
	Map     map[primitive.Primitive]*Store
	Struct  map[string]*Store
	Policy  map[dot.Dot][]Policy
}

// Null returns the identity value.
func Null() *Store { return &Store{Kind: KindNull} }

func NewDotSet(s *dot.DotSet) *Store {
	if s == nil {
		s = dot.NewSet()
	}
	return &Store{Kind: KindDotSet, Set: s}
}

func NewDotFun(m map[dot.Dot]primitive.Primitive) *Store {
	if m == nil {
		m = map[dot.Dot]primitive.Primitive{}
	}
	return &Store{Kind: KindDotFun, Fun: m}
}

func NewDotMap(m map[primitive.Primitive]*Store) *Store {
	if m == nil {
		m = map[primitive.Primitive]*Store{}
	}
	return &Store{Kind: KindDotMap, Map: m}
}

func NewStruct(m map[string]*Store) *Store {
	if m == nil {
		m = map[string]*Store{}
	}
	return &Store{Kind: KindStruct, Struct: m}
}

func NewPolicy(m map[dot.Dot][]Policy) *Store {
	if m == nil {
		m = map[dot.Dot][]Policy{}
	}
	return &Store{Kind: KindPolicy, Policy: m}
}

// IsEmpty is total over the variants; DotMap/Struct are empty iff every
// child is empty. Used to prune during Join and Unjoin.
func (s *Store) IsEmpty() bool {
	if s == nil {
		return true
	}
	switch s.Kind {
	case KindNull:
		return true
	case KindDotSet:
		return s.Set.IsEmpty()
	case KindDotFun:
		return len(s.Fun) == 0
	case KindDotMap:
		for _, v := range s.Map {
			if !v.IsEmpty() {
				return false
			}
		}
		return true
	case KindStruct:
		for _, v := range s.Struct {
			if !v.IsEmpty() {
				return false
			}
		}
		return true
	case KindPolicy:
		return len(s.Policy) == 0
	default:
		return true
	}
}

// Dots returns every dot mentioned anywhere in the (sub)tree, used both
// to build a fresh CausalContext and, by the flat store, to compute the
// observed-remove context for disable/remove.
func (s *Store) Dots() *dot.DotSet {
	out := dot.NewSet()
	s.collectDots(out)
	return out
}

func (s *Store) collectDots(into *dot.DotSet) {
	if s == nil {
		return
	}
	switch s.Kind {
	case KindDotSet:
		into.Union(s.Set)
	case KindDotFun:
		for d := range s.Fun {
			into.Insert(d)
		}
	case KindDotMap:
		for _, v := range s.Map {
			v.collectDots(into)
		}
	case KindStruct:
		for _, v := range s.Struct {
			v.collectDots(into)
		}
	case KindPolicy:
		for d := range s.Policy {
			into.Insert(d)
		}
	}
}

// Equal performs a deep structural comparison.
func (s *Store) Equal(o *Store) bool {
	sEmpty, oEmpty := s.IsEmpty(), o.IsEmpty()
	if sEmpty || oEmpty {
		return sEmpty == oEmpty
	}
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindDotSet:
		return s.Set.Equal(o.Set)
	case KindDotFun:
		if len(s.Fun) != len(o.Fun) {
			return false
		}
		for d, v := range s.Fun {
			ov, ok := o.Fun[d]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	case KindDotMap:
		return equalChildMaps(s.Map, o.Map)
	case KindStruct:
		return equalFieldMaps(s.Struct, o.Struct)
	case KindPolicy:
		return equalPolicyMaps(s.Policy, o.Policy)
	default:
		return true
	}
}

func equalChildMaps(a, b map[primitive.Primitive]*Store) bool {
	keys := unionPrimitiveKeys(a, b)
	for _, k := range keys {
		if !childOf(a, k).Equal(childOf(b, k)) {
			return false
		}
	}
	return true
}

func childOf(m map[primitive.Primitive]*Store, k primitive.Primitive) *Store {
	if v, ok := m[k]; ok {
		return v
	}
	return Null()
}

func equalFieldMaps(a, b map[string]*Store) bool {
	keys := unionStringKeys(a, b)
	for _, k := range keys {
		av, bv := Null(), Null()
		if v, ok := a[k]; ok {
			av = v
		}
		if v, ok := b[k]; ok {
			bv = v
		}
		if !av.Equal(bv) {
			return false
		}
	}
	return true
}

func equalPolicyMaps(a, b map[dot.Dot][]Policy) bool {
	if len(a) != len(b) {
		return false
	}
	for d, pa := range a {
		pb, ok := b[d]
		if !ok || len(pa) != len(pb) {
			return false
		}
		for _, p := range pa {
			found := false
			for _, q := range pb {
				if p.Equal(q) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func unionPrimitiveKeys(a, b map[primitive.Primitive]*Store) []primitive.Primitive {
	seen := map[primitive.Primitive]struct{}{}
	var out []primitive.Primitive
	for k := range a {
		seen[k] = struct{}{}
		out = append(out, k)
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func unionStringKeys(a, b map[string]*Store) []string {
	seen := map[string]struct{}{}
	var out []string
	for k := range a {
		seen[k] = struct{}{}
		out = append(out, k)
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Join merges a (observed under actx) with b (observed under bctx),
// recursively, per §4.3. actx and bctx are the full per-replica causal
// contexts and are passed unchanged through recursive calls — they are
// document-wide, not per-subtree. A Null side joins as the empty value of
// the other side's variant, so the other side's leaves whose dots the
// Null side's context has observed are removed. Mismatched variants that
// are both non-empty are a schema violation and panic via
// crdterr.SchemaMismatch.
func Join(a *Store, actx *dot.DotSet, b *Store, bctx *dot.DotSet) *Store {
	if a.Kind == KindNull {
		a = &Store{Kind: b.Kind, Set: dot.NewSet()}
	}
	if b.Kind == KindNull {
		b = &Store{Kind: a.Kind, Set: dot.NewSet()}
	}
	aEmpty, bEmpty := a.IsEmpty(), b.IsEmpty()
	if a.Kind != b.Kind {
		if aEmpty {
			return b
		}
		if bEmpty {
			return a
		}
		crdterr.SchemaMismatch()
	}

	switch a.Kind {
	case KindNull:
		return Null()
	case KindDotSet:
		return joinDotSet(a.Set, actx, b.Set, bctx)
	case KindDotFun:
		return joinDotFun(a.Fun, actx, b.Fun, bctx)
	case KindDotMap:
		return joinDotMap(a.Map, actx, b.Map, bctx)
	case KindStruct:
		return joinStruct(a.Struct, actx, b.Struct, bctx)
	case KindPolicy:
		return joinPolicy(a.Policy, b.Policy)
	default:
		crdterr.SchemaMismatch()
		return nil
	}
}

func joinDotSet(a *dot.DotSet, actx *dot.DotSet, b *dot.DotSet, bctx *dot.DotSet) *Store {
	result := a.Intersection(b)
	result.Union(a.Difference(bctx))
	result.Union(b.Difference(actx))
	return NewDotSet(result)
}

func joinDotFun(a map[dot.Dot]primitive.Primitive, actx *dot.DotSet, b map[dot.Dot]primitive.Primitive, bctx *dot.DotSet) *Store {
	out := map[dot.Dot]primitive.Primitive{}
	for d, v := range a {
		if _, inB := b[d]; inB {
			out[d] = v
			continue
		}
		if !bctx.Contains(d) {
			out[d] = v
		}
	}
	for d, v := range b {
		if _, already := out[d]; already {
			continue
		}
		if _, inA := a[d]; inA {
			continue
		}
		if !actx.Contains(d) {
			out[d] = v
		}
	}
	return NewDotFun(out)
}

func joinDotMap(a map[primitive.Primitive]*Store, actx *dot.DotSet, b map[primitive.Primitive]*Store, bctx *dot.DotSet) *Store {
	out := map[primitive.Primitive]*Store{}
	for _, k := range unionPrimitiveKeys(a, b) {
		joined := Join(childOf(a, k), actx, childOf(b, k), bctx)
		if !joined.IsEmpty() {
			out[k] = joined
		}
	}
	return NewDotMap(out)
}

func joinStruct(a map[string]*Store, actx *dot.DotSet, b map[string]*Store, bctx *dot.DotSet) *Store {
	out := map[string]*Store{}
	for _, k := range unionStringKeys(a, b) {
		av, bv := Null(), Null()
		if v, ok := a[k]; ok {
			av = v
		}
		if v, ok := b[k]; ok {
			bv = v
		}
		out[k] = Join(av, actx, bv, bctx)
	}
	return NewStruct(out)
}

func joinPolicy(a, b map[dot.Dot][]Policy) *Store {
	out := map[dot.Dot][]Policy{}
	for d, ps := range a {
		out[d] = append(out[d], ps...)
	}
	for d, ps := range b {
		existing := out[d]
		for _, p := range ps {
			found := false
			for _, q := range existing {
				if p.Equal(q) {
					found = true
					break
				}
			}
			if !found {
				existing = append(existing, p)
			}
		}
		out[d] = existing
	}
	return NewPolicy(out)
}

// Unjoin filters s down to the leaves whose dot is not in seen: the
// delta a replica owes a peer whose causal context is seen. causal.Unjoin
// passes the remote context's dots as seen, so every surviving leaf's dot
// lies in local.ctx.dots \ seen. Null subtrees and empty containers are
// pruned.
func Unjoin(s *Store, seen *dot.DotSet) *Store {
	return unjoin(s, seen)
}

func unjoin(s *Store, keep *dot.DotSet) *Store {
	if s == nil {
		return Null()
	}
	switch s.Kind {
	case KindNull:
		return Null()
	case KindDotSet:
		return NewDotSet(s.Set.Difference(keep))
	case KindDotFun:
		out := map[dot.Dot]primitive.Primitive{}
		for d, v := range s.Fun {
			if !keep.Contains(d) {
				out[d] = v
			}
		}
		return NewDotFun(out)
	case KindDotMap:
		out := map[primitive.Primitive]*Store{}
		for k, v := range s.Map {
			child := unjoin(v, keep)
			if !child.IsEmpty() {
				out[k] = child
			}
		}
		return NewDotMap(out)
	case KindStruct:
		out := map[string]*Store{}
		for k, v := range s.Struct {
			child := unjoin(v, keep)
			if !child.IsEmpty() {
				out[k] = child
			}
		}
		return NewStruct(out)
	case KindPolicy:
		out := map[dot.Dot][]Policy{}
		for d, ps := range s.Policy {
			if !keep.Contains(d) {
				out[d] = ps
			}
		}
		return NewPolicy(out)
	default:
		return Null()
	}
}
