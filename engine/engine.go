// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine drives the reactive sync state machine described in the
// design's concurrency model: one automaton per (document, remote peer)
// subscription, multiplexing local mutation, inbound frames, and an
// optional periodic re-advertise. The engine owns no CRDT state itself —
// every join/unjoin call is delegated to package replica — it only
// tracks which peers are subscribed to which documents and routes wire
// frames between them.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/metrics"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/replica"
	"github.com/luxfi/crdt/set"
	"github.com/luxfi/crdt/transport"
	"github.com/luxfi/crdt/wire"
	"github.com/luxfi/log"
)

// State is a subscription's position in the per-(doc, peer) automaton.
type State uint8

const (
	// Unsubscribed is the initial and terminal state: no exchange is in
	// flight with this peer for this document.
	Unsubscribed State = iota
	// AwaitingDelta follows sending our context to the peer: we are
	// waiting for either their context (to compute and send a delta) or
	// their delta (to join and start gossiping).
	AwaitingDelta
)

type subscriptionKey struct {
	doc  path.DocID
	peer dot.PeerID
}

// Engine binds a local Replica to a Transport and routes wire frames
// between the two, maintaining one subscription automaton per document
// per peer it talks to.
type Engine struct {
	self      dot.PeerID
	replica   *replica.Replica
	transport transport.Transport
	log       log.Logger
	met       *metrics.CRDT

	mu            sync.Mutex
	subscriptions map[subscriptionKey]State
	// docPeers tracks, per document, the peers this engine is currently
	// subscribed to or subscribed by (Unsubscribe removes a peer) — the
	// gossip fan-out list for that document's deltas.
	docPeers map[path.DocID]set.Set[dot.PeerID]

	reAdvertise  time.Duration
	maxFrameSize int
}

// SetMaxFrameSize bounds the size of any inbound frame HandleFrame will
// attempt to decode; oversized frames are dropped per the error-handling
// design's "MalformedFrame drops the frame, never the engine" rule.
// Zero (the default) leaves frames unbounded.
func (e *Engine) SetMaxFrameSize(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxFrameSize = n
}

// New returns an Engine driving rep over t. reAdvertise, if non-zero,
// is the interval on which Run re-sends this replica's context for every
// subscribed document, tolerating message loss per §4.6; zero disables
// it.
func New(self dot.PeerID, rep *replica.Replica, t transport.Transport, logger log.Logger, met *metrics.CRDT, reAdvertise time.Duration) *Engine {
	return &Engine{
		self:          self,
		replica:       rep,
		transport:     t,
		log:           logger,
		met:           met,
		subscriptions: make(map[subscriptionKey]State),
		docPeers:      make(map[path.DocID]set.Set[dot.PeerID]),
		reAdvertise:   reAdvertise,
	}
}

// Subscribe starts the automaton for (doc, peer): Unsubscribed →
// AwaitingDelta, sending our current context for doc to peer.
func (e *Engine) Subscribe(ctx context.Context, doc path.DocID, peer dot.PeerID) error {
	rctx, err := e.replica.Context(ctx, doc)
	if err != nil {
		return err
	}
	if err := e.sendAdvertise(ctx, peer, rctx); err != nil {
		return err
	}
	e.setState(doc, peer, AwaitingDelta)
	return nil
}

// Unsubscribe drops the automaton for (doc, peer), returning it to
// Unsubscribed. Per §5, this only drops pending broadcasts to that peer;
// it never rolls back anything already joined.
func (e *Engine) Unsubscribe(doc path.DocID, peer dot.PeerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscriptions, subscriptionKey{doc, peer})
	if peers, ok := e.docPeers[doc]; ok {
		peers.Remove(peer)
		if peers.Len() == 0 {
			delete(e.docPeers, doc)
		}
	}
	e.setGauges()
}

func (e *Engine) setState(doc path.DocID, peer dot.PeerID, st State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscriptions[subscriptionKey{doc, peer}] = st
	peers, ok := e.docPeers[doc]
	if !ok {
		peers = make(set.Set[dot.PeerID])
		e.docPeers[doc] = peers
	}
	peers.Add(peer)
	e.setGauges()
}

// setGauges must be called with e.mu held.
func (e *Engine) setGauges() {
	if e.met == nil {
		return
	}
	e.met.SubscribedDocs.Set(float64(len(e.docPeers)))
	peers := make(set.Set[dot.PeerID])
	for _, ps := range e.docPeers {
		peers.Add(ps.List()...)
	}
	e.met.SubscribedPeers.Set(float64(peers.Len()))
}

func (e *Engine) subscribersOf(doc path.DocID) []dot.PeerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docPeers[doc].List()
}

// HandleFrame dispatches one inbound wire frame from peer, per the
// automaton transitions in §4.6:
//
//   - Advertise: compute unjoin(peer, their_ctx), send the resulting
//     Causal back as a Delta.
//   - Delta: join it locally, then gossip it to every other subscriber
//     of the same document.
func (e *Engine) HandleFrame(ctx context.Context, peer dot.PeerID, data []byte) error {
	e.mu.Lock()
	maxSize := e.maxFrameSize
	e.mu.Unlock()
	if maxSize > 0 && len(data) > maxSize {
		e.log.Warn("engine: dropped oversized frame", "peer", peer, "size", len(data))
		return crdterr.ErrMalformedFrame
	}
	f, err := wire.Decode(data)
	if err != nil {
		return err
	}
	switch f.Type {
	case wire.FrameAdvertise:
		return e.handleAdvertise(ctx, peer, f)
	case wire.FrameDelta:
		return e.handleDelta(ctx, peer, f)
	default:
		return nil
	}
}

func (e *Engine) handleAdvertise(ctx context.Context, peer dot.PeerID, f wire.Frame) error {
	remote := f.Context()
	delta, err := e.replica.Unjoin(ctx, remote.Doc, peer, remote)
	if err != nil {
		return err
	}
	e.setState(remote.Doc, peer, AwaitingDelta)
	return e.sendDelta(ctx, peer, delta)
}

func (e *Engine) handleDelta(ctx context.Context, peer dot.PeerID, f wire.Frame) error {
	c, err := f.Causal()
	if err != nil {
		return err
	}
	if err := e.replica.Join(ctx, c); err != nil {
		return err
	}
	e.setState(c.Ctx.Doc, peer, AwaitingDelta)
	e.log.Debug("engine: joined delta", "doc", c.Ctx.Doc, "peer", peer)
	return e.Broadcast(ctx, c, peer)
}

// Broadcast sends delta to every subscriber of its document except
// exclude (the peer it was just received from, if any — pass the zero
// PeerID to broadcast to everyone). Covers both the "on local mutation"
// transition (exclude is zero) and delta-received gossip propagation.
func (e *Engine) Broadcast(ctx context.Context, delta causal.Causal, exclude dot.PeerID) error {
	var zero dot.PeerID
	for _, peer := range e.subscribersOf(delta.Ctx.Doc) {
		if exclude != zero && peer == exclude {
			continue
		}
		if err := e.sendDelta(ctx, peer, delta); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sendAdvertise(ctx context.Context, peer dot.PeerID, c causal.Context) error {
	data, err := wire.Encode(wire.Advertise(c))
	if err != nil {
		return err
	}
	return e.transport.Send(ctx, peer, data)
}

func (e *Engine) sendDelta(ctx context.Context, peer dot.PeerID, c causal.Causal) error {
	f, err := wire.DeltaFrame(c)
	if err != nil {
		return err
	}
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	return e.transport.Send(ctx, peer, data)
}

// Run drives the reactive event loop: inbound transport messages are
// dispatched to HandleFrame until ctx is cancelled or the transport's
// receive channel closes. If reAdvertise is non-zero, a ticker on that
// period re-sends this replica's context for every subscribed document,
// the engine's only timer (§4.6).
func (e *Engine) Run(ctx context.Context) error {
	msgs, err := e.transport.Recv(ctx)
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	if e.reAdvertise > 0 {
		ticker := time.NewTicker(e.reAdvertise)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := e.HandleFrame(ctx, msg.Peer, msg.Data); err != nil {
				e.log.Warn("engine: frame handling failed", "peer", msg.Peer, "err", err)
			}
		case <-tick:
			e.readvertiseAll(ctx)
		}
	}
}

func (e *Engine) readvertiseAll(ctx context.Context) {
	e.mu.Lock()
	type target struct {
		doc  path.DocID
		peer dot.PeerID
	}
	var targets []target
	for k := range e.subscriptions {
		targets = append(targets, target{k.doc, k.peer})
	}
	e.mu.Unlock()

	for _, t := range targets {
		rctx, err := e.replica.Context(ctx, t.doc)
		if err != nil {
			e.log.Warn("engine: re-advertise context failed", "doc", t.doc, "err", err)
			continue
		}
		if err := e.sendAdvertise(ctx, t.peer, rctx); err != nil {
			e.log.Warn("engine: re-advertise send failed", "peer", t.peer, "err", err)
		}
	}
}
