// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package secrets declares the per-replica identity and signing
// collaborator. The core algebra never calls it directly; it exists for
// a transport implementation to authenticate frames before they reach
// the engine, and for a replica to answer "who am I" without baking a
// keypair into package replica itself.
package secrets

import "github.com/luxfi/crdt/dot"

// Secrets issues and stores one replica's keypair.
type Secrets interface {
	// PeerID returns the identity this keypair signs as.
	PeerID() dot.PeerID

	// Sign returns a signature over data under this replica's private key.
	Sign(data []byte) ([]byte, error)

	// Verify reports whether sig is a valid signature by peer over data.
	Verify(peer dot.PeerID, data, sig []byte) (bool, error)
}
