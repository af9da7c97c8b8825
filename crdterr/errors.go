// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crdterr defines the error taxonomy shared by every layer of the
// replicated store: path codec, the dotstore algebra, the flat crdt store,
// the acl gate and the sync engine all return (or panic with) these
// sentinels so callers can type-switch on cause rather than message text.
package crdterr

import "errors"

// Sentinel errors returned by mutation entry points and the join/merge path.
//
// Unauthorized and StorageFailure are ordinary errors: callers are expected
// to check for them with errors.Is. SchemaMismatch and DocMismatch are
// programmer errors — Causal.Join panics with them rather than returning an
// error, because they indicate two causal deltas that were never part of
// the same document lineage were merged by mistake.
var (
	// ErrUnauthorized is returned from a local mutation entry point (enable,
	// disable, assign, remove, say) when the acting peer lacks the required
	// permission at the target path. During a remote join the same condition
	// is not an error: the offending leaf is silently skipped.
	ErrUnauthorized = errors.New("crdt: unauthorized")

	// ErrSchemaMismatch is raised when two DotStore variants that should
	// never coexist at one path are joined, or when a Causal's schema hash
	// does not match the document it is being merged into.
	ErrSchemaMismatch = errors.New("crdt: schema mismatch")

	// ErrDocMismatch is raised when two Causals naming different documents
	// are joined.
	ErrDocMismatch = errors.New("crdt: document mismatch")

	// ErrInvalidPath is returned by the path codec and by wrap/unwrap when a
	// path is malformed, truncated, or addresses a segment type that cannot
	// appear where it was found.
	ErrInvalidPath = errors.New("crdt: invalid path")

	// ErrMalformedFrame is returned by the wire codec when a frame fails
	// bounds validation. The caller must drop the connection; it must never
	// propagate into the engine as a panic.
	ErrMalformedFrame = errors.New("crdt: malformed frame")

	// ErrStorageFailure wraps any error surfaced by the KV collaborator.
	// Callers must treat the CRDT as possibly divergent and re-synchronize.
	ErrStorageFailure = errors.New("crdt: storage failure")

	// ErrExhaustedCounter is returned when a peer's dot counter would
	// overflow a u64. It is fatal for that peer.
	ErrExhaustedCounter = errors.New("crdt: dot counter exhausted")

	// ErrSegmentTooLarge is returned by the path codec when a segment
	// payload exceeds the 65535-byte framing limit.
	ErrSegmentTooLarge = errors.New("crdt: path segment exceeds 65535 bytes")

	// ErrNotFound is returned by read paths (primitive, policy lookups)
	// when no leaf is stored at the requested path.
	ErrNotFound = errors.New("crdt: not found")
)

// SchemaMismatch panics with ErrSchemaMismatch. Used on the join hot path
// where a mismatch is a programmer error, not a recoverable condition.
func SchemaMismatch() {
	panic(ErrSchemaMismatch)
}

// DocMismatch panics with ErrDocMismatch.
func DocMismatch() {
	panic(ErrDocMismatch)
}
