// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config collects the settings a replica process needs at
// startup: its identity, where it persists state, and the sync engine's
// framing and re-advertise knobs.
package config

import (
	"errors"
	"time"

	"github.com/luxfi/crdt/dot"
)

// Error variables for parameter validation.
var (
	ErrMissingPeerID    = errors.New("config: peer id is required")
	ErrMaxFrameTooSmall = errors.New("config: max frame size must be >= 1024 bytes")
	ErrNegativeInterval = errors.New("config: re-advertise interval must be >= 0")
)

// ReplicaConfig configures one replica process.
type ReplicaConfig struct {
	// PeerID is this replica's identity; every dot it allocates is
	// stamped with this value.
	PeerID dot.PeerID

	// StateDir is the on-disk directory backing the KV store. Empty
	// means in-memory (no persistence across restarts).
	StateDir string

	// MaxFrameSize bounds the encoded size of any single inbound wire
	// frame; the sync engine (Engine.SetMaxFrameSize) drops anything
	// larger before decoding it.
	MaxFrameSize int

	// ReAdvertiseInterval is how often the sync engine re-sends a
	// subscription's causal context to tolerate message loss. Zero
	// disables periodic re-advertise.
	ReAdvertiseInterval time.Duration
}

// DefaultConfig returns a ReplicaConfig with every non-identity field set
// to its default; PeerID is still the caller's responsibility.
func DefaultConfig() ReplicaConfig {
	return ReplicaConfig{
		MaxFrameSize:        1 << 20,
		ReAdvertiseInterval: 30 * time.Second,
	}
}

// Option mutates a ReplicaConfig under construction.
type Option func(*ReplicaConfig)

// WithPeerID sets the replica's identity.
func WithPeerID(id dot.PeerID) Option {
	return func(c *ReplicaConfig) { c.PeerID = id }
}

// WithStateDir sets the on-disk backing directory.
func WithStateDir(dir string) Option {
	return func(c *ReplicaConfig) { c.StateDir = dir }
}

// WithMaxFrameSize overrides the wire frame size bound.
func WithMaxFrameSize(n int) Option {
	return func(c *ReplicaConfig) { c.MaxFrameSize = n }
}

// WithReAdvertiseInterval overrides the periodic re-advertise period.
// Zero disables it.
func WithReAdvertiseInterval(d time.Duration) Option {
	return func(c *ReplicaConfig) { c.ReAdvertiseInterval = d }
}

// New builds a ReplicaConfig from DefaultConfig, applying opts in order,
// and validates the result.
func New(opts ...Option) (ReplicaConfig, error) {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return ReplicaConfig{}, err
	}
	return c, nil
}

// Validate reports whether c is well-formed.
func (c ReplicaConfig) Validate() error {
	var zero dot.PeerID
	if c.PeerID == zero {
		return ErrMissingPeerID
	}
	if c.MaxFrameSize < 1024 {
		return ErrMaxFrameTooSmall
	}
	if c.ReAdvertiseInterval < 0 {
		return ErrNegativeInterval
	}
	return nil
}
