// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dot

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/luxfi/crdt/utils"
)

// DotSet is a set of Dots, stored as one bitset per peer: bit (counter-1)
// is set iff that counter has been observed for that peer. Per-peer
// run-length density (invariant 3: a replica that has seen counter n has
// seen 1..n-1 too) means these bitsets are almost always a single
// contiguous prefix, which bitset.BitSet's word-at-a-time set operations
// turn into effectively O(words) union/intersection/difference instead of
// O(dots).
type DotSet struct {
	peers map[PeerID]*bitset.BitSet
}

// NewSet returns an empty DotSet.
func NewSet() *DotSet {
	return &DotSet{peers: make(map[PeerID]*bitset.BitSet)}
}

// WatermarkPair is one peer's highest observed counter, the wire and
// watermark-table form a DotSet collapses to under invariant 3 (per-peer
// density): the whole observed range for that peer is contiguous.
type WatermarkPair struct {
	Peer    PeerID
	Counter uint64
}

// FromPairs builds a DotSet from a sequence of per-peer watermarks, as
// produced by scanning a document's per-peer watermark table or decoded
// off the wire.
func FromPairs(pairs []WatermarkPair) *DotSet {
	s := NewSet()
	for _, p := range pairs {
		s.InsertRange(p.Peer, p.Counter)
	}
	return s
}

// ToPairs collapses s to its per-peer watermarks: the highest counter
// observed for each peer, sorted by peer. Valid only under invariant 3
// (per-peer density) — exactly the condition every DotSet reachable
// through contextDots/advanceWatermarks satisfies.
func (s *DotSet) ToPairs() []WatermarkPair {
	if s == nil {
		return nil
	}
	peers := make([]PeerID, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	utils.Sort(peers, func(i, j int) bool {
		return string(peers[i][:]) < string(peers[j][:])
	})
	out := make([]WatermarkPair, 0, len(peers))
	for _, p := range peers {
		if max, ok := s.Max(p); ok {
			out = append(out, WatermarkPair{Peer: p, Counter: max})
		}
	}
	return out
}

func (s *DotSet) bit(peer PeerID, counter uint64) *bitset.BitSet {
	bs, ok := s.peers[peer]
	if !ok {
		bs = bitset.New(uint(counter))
		s.peers[peer] = bs
	}
	return bs
}

// InsertRange marks every counter in [1, upTo] as observed for peer, in
// one call. Used to reconstruct a replica's causal context from a
// per-peer watermark: invariant 3 (per-peer density) guarantees that
// watermark is exactly the highest observed counter, so the full
// observed range for that peer is contiguous.
func (s *DotSet) InsertRange(peer PeerID, upTo uint64) {
	if upTo == 0 {
		return
	}
	bs := s.bit(peer, upTo)
	for i := uint64(0); i < upTo; i++ {
		bs.Set(uint(i))
	}
}

// Insert adds a dot to the set. Idempotent.
func (s *DotSet) Insert(d Dot) {
	if d.Counter == 0 {
		return
	}
	s.bit(d.Peer, d.Counter).Set(uint(d.Counter - 1))
}

// Contains reports whether d has been observed.
func (s *DotSet) Contains(d Dot) bool {
	if d.Counter == 0 {
		return false
	}
	bs, ok := s.peers[d.Peer]
	if !ok {
		return false
	}
	return bs.Test(uint(d.Counter - 1))
}

// IsEmpty reports whether the set has no dots.
func (s *DotSet) IsEmpty() bool {
	if s == nil {
		return true
	}
	for _, bs := range s.peers {
		if bs.Count() > 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of dots in the set.
func (s *DotSet) Len() uint {
	if s == nil {
		return 0
	}
	var n uint
	for _, bs := range s.peers {
		n += bs.Count()
	}
	return n
}

// Max returns the highest counter observed for peer, and whether any dot
// for that peer is present.
func (s *DotSet) Max(peer PeerID) (uint64, bool) {
	bs, ok := s.peers[peer]
	if !ok {
		return 0, false
	}
	max, found := uint64(0), false
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		max = uint64(i) + 1
		found = true
	}
	return max, found
}

// Clone returns a deep copy.
func (s *DotSet) Clone() *DotSet {
	out := NewSet()
	for peer, bs := range s.peers {
		out.peers[peer] = bs.Clone()
	}
	return out
}

// Union mutates s in place to be the union of s and other.
func (s *DotSet) Union(other *DotSet) {
	if other == nil {
		return
	}
	for peer, bs := range other.peers {
		if cur, ok := s.peers[peer]; ok {
			cur.InPlaceUnion(bs)
		} else {
			s.peers[peer] = bs.Clone()
		}
	}
}

// Unioned returns a new DotSet containing every dot in s or other.
func (s *DotSet) Unioned(other *DotSet) *DotSet {
	out := s.Clone()
	out.Union(other)
	return out
}

// Intersection returns a new DotSet containing only dots present in both
// s and other.
func (s *DotSet) Intersection(other *DotSet) *DotSet {
	out := NewSet()
	if other == nil {
		return out
	}
	for peer, bs := range s.peers {
		if obs, ok := other.peers[peer]; ok {
			out.peers[peer] = bs.Intersection(obs)
		}
	}
	return out
}

// Difference returns a new DotSet containing dots in s that are not in
// other: s \ other.
func (s *DotSet) Difference(other *DotSet) *DotSet {
	out := NewSet()
	for peer, bs := range s.peers {
		if obs, ok := other.peers[peer]; ok {
			out.peers[peer] = bs.Difference(obs)
		} else {
			out.peers[peer] = bs.Clone()
		}
	}
	return out
}

// Equal reports whether s and other contain exactly the same dots.
func (s *DotSet) Equal(other *DotSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	return s.Difference(other).IsEmpty() && other.Difference(s).IsEmpty()
}

// Iter returns every dot in the set in (peer, counter) order.
func (s *DotSet) Iter() []Dot {
	peers := make([]PeerID, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	utils.Sort(peers, func(i, j int) bool {
		return string(peers[i][:]) < string(peers[j][:])
	})
	out := make([]Dot, 0, s.Len())
	for _, p := range peers {
		bs := s.peers[p]
		for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
			out = append(out, Dot{Peer: p, Counter: uint64(i) + 1})
		}
	}
	return out
}
