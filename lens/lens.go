// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lens declares the schema-migration collaborator: a lens
// rewrites a DotStore value (or an already-persisted document) from one
// schema to another. Neither direction is implemented here — the core
// join/unjoin algebra is schema-agnostic by design (§9) and only compares
// schema hashes for equality; an actual migration is supplied by the
// embedder through this interface.
package lens

import (
	"context"

	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/kv"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/store"
)

// Lenses migrates DotStore values between schema versions.
type Lenses interface {
	// TransformStore rewrites an in-memory value from one schema to
	// another, e.g. when joining a delta encoded under a newer schema
	// than the local document.
	TransformStore(s *store.Store, from, to causal.SchemaHash) (*store.Store, error)

	// TransformPersisted rewrites every path already written for doc in
	// storage, in place, from one schema to another.
	TransformPersisted(ctx context.Context, doc path.DocID, storage kv.Store, from, to causal.SchemaHash) error
}
