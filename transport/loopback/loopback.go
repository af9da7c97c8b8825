// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package loopback implements an in-process transport.Transport: Send on
// one peer's handle enqueues directly onto another's Recv channel. It
// exists for single-process demos and multi-replica tests that want a
// real Transport implementation without a network, not as a substitute
// for one in production.
package loopback

import (
	"context"
	"sync"

	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/transport"
)

// Network is a shared registry of loopback peers. Peers created from the
// same Network can reach each other by dot.PeerID; peers from different
// Networks cannot.
type Network struct {
	mu    sync.Mutex
	peers map[dot.PeerID]*Peer
}

// NewNetwork returns an empty loopback network.
func NewNetwork() *Network {
	return &Network{peers: make(map[dot.PeerID]*Peer)}
}

// Peer binds self to the network, returning its Transport handle. recvBuf
// bounds how many inbound messages may queue before Send blocks.
func (n *Network) Peer(self dot.PeerID, recvBuf int) *Peer {
	p := &Peer{self: self, net: n, recvCh: make(chan transport.Message, recvBuf)}
	n.mu.Lock()
	n.peers[self] = p
	n.mu.Unlock()
	return p
}

// Peer is one endpoint of a loopback Network.
type Peer struct {
	self   dot.PeerID
	net    *Network
	recvCh chan transport.Message
}

// Send delivers data to peer if it belongs to the same Network; delivery
// to an unknown peer is silently dropped, matching the best-effort
// contract transport.Transport documents.
func (p *Peer) Send(ctx context.Context, peer dot.PeerID, data []byte) error {
	p.net.mu.Lock()
	dst, ok := p.net.peers[peer]
	p.net.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case dst.recvCh <- transport.Message{Peer: p.self, Data: append([]byte(nil), data...)}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Recv returns p's inbound message channel.
func (p *Peer) Recv(ctx context.Context) (<-chan transport.Message, error) {
	return p.recvCh, nil
}

// LocalAddresses returns nil: loopback peers are addressed purely by
// dot.PeerID, there is no out-of-band discovery.
func (p *Peer) LocalAddresses() []string { return nil }

var _ transport.Transport = (*Peer)(nil)
