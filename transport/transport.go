// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport declares the network collaborator the sync engine
// sends and receives wire frames through. Delivery is best-effort,
// out-of-order, and may duplicate: the engine and the join/unjoin algebra
// it drives are built to tolerate all three, so no implementation of this
// interface needs to provide ordering, retries, or dedup itself.
package transport

import (
	"context"

	"github.com/luxfi/crdt/dot"
)

// Message is one inbound frame, still encoded: the engine decodes it with
// package wire after dispatch.
type Message struct {
	Peer dot.PeerID
	Data []byte
}

// Transport sends and receives the raw bytes package wire encodes and
// decodes. Implementations are free to multiplex many peers over one
// connection, one connection per peer, or anything in between — the
// engine only ever addresses peers by dot.PeerID.
type Transport interface {
	// Send delivers data to peer. A returned error means the send is
	// known to have failed; a nil error does not guarantee delivery.
	Send(ctx context.Context, peer dot.PeerID, data []byte) error

	// Recv returns a channel of inbound messages from any peer. The
	// channel is closed when the transport is shut down.
	Recv(ctx context.Context) (<-chan Message, error)

	// LocalAddresses reports the addresses this transport is reachable
	// at, for out-of-band peer discovery.
	LocalAddresses() []string
}
