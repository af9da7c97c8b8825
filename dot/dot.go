// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dot implements the version-vector primitives the replicated
// store is built on: a Dot names a single mutation, a DotSet names every
// mutation a replica has observed.
package dot

import (
	"bytes"
	"fmt"

	"github.com/luxfi/ids"
)

// PeerID identifies a replica. It reuses ids.ID (a 32-byte array with
// base58 stringification) rather than inventing a parallel identifier type.
type PeerID = ids.ID

// Dot is a single mutation: the peer that issued it and that peer's
// strictly-monotonic counter at the time. Counters start at 1; a Dot is
// allocated once and never reused, even after the member or value it names
// is removed.
type Dot struct {
	Peer    PeerID
	Counter uint64
}

// New returns the dot (peer, counter).
func New(peer PeerID, counter uint64) Dot {
	return Dot{Peer: peer, Counter: counter}
}

// Less orders dots first by peer bytes, then by counter. Every exported
// iteration over a DotSet walks in this order.
func (d Dot) Less(o Dot) bool {
	if c := bytes.Compare(d.Peer[:], o.Peer[:]); c != 0 {
		return c < 0
	}
	return d.Counter < o.Counter
}

func (d Dot) String() string {
	return fmt.Sprintf("%s:%d", d.Peer, d.Counter)
}

// Bytes returns the 40-byte wire representation: 32 bytes of peer id
// followed by the counter, big-endian. This is the exact payload the path
// codec frames for Set/Fun/Policy segments (§4.2 of the design).
func (d Dot) Bytes() [40]byte {
	var b [40]byte
	copy(b[:32], d.Peer[:])
	putUint64BE(b[32:40], d.Counter)
	return b
}

// FromBytes parses the 40-byte wire representation produced by Bytes.
func FromBytes(b []byte) (Dot, error) {
	if len(b) != 40 {
		return Dot{}, fmt.Errorf("dot: want 40 bytes, got %d", len(b))
	}
	var peer PeerID
	copy(peer[:], b[:32])
	return Dot{Peer: peer, Counter: getUint64BE(b[32:40])}, nil
}

func putUint64BE(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

func getUint64BE(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
