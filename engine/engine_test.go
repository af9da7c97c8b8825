// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/crdt/acl"
	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/kv"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/replica"
	"github.com/luxfi/crdt/store"
	"github.com/luxfi/crdt/transport"
	"github.com/luxfi/crdt/transport/transportmock"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// memTransport wires two engines together in-process: Send on one side
// enqueues directly onto the other's Recv channel, standing in for a
// real network per the transport.Transport contract (best-effort,
// in this fake, always delivered, never duplicated — the engine does
// not rely on anything stronger).
type memTransport struct {
	mu     sync.Mutex
	peers  map[dot.PeerID]chan transport.Message
	self   dot.PeerID
	recvCh chan transport.Message
}

func newMemTransport(self dot.PeerID, recvBuf int) *memTransport {
	return &memTransport{
		peers:  make(map[dot.PeerID]chan transport.Message),
		self:   self,
		recvCh: make(chan transport.Message, recvBuf),
	}
}

func (t *memTransport) connect(peer dot.PeerID, ch chan transport.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peer] = ch
}

func (t *memTransport) Send(ctx context.Context, peer dot.PeerID, data []byte) error {
	t.mu.Lock()
	ch, ok := t.peers[peer]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case ch <- transport.Message{Peer: t.self, Data: append([]byte(nil), data...)}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *memTransport) Recv(ctx context.Context) (<-chan transport.Message, error) {
	return t.recvCh, nil
}

func (t *memTransport) LocalAddresses() []string { return nil }

var _ transport.Transport = (*memTransport)(nil)

func testPeer(b byte) dot.PeerID {
	var id ids.ID
	id[0] = b
	return id
}

func testDoc(b byte) path.DocID {
	var id ids.ID
	id[0] = b
	return id
}

func newTestReplica(t *testing.T, self dot.PeerID) *replica.Replica {
	t.Helper()
	backing, err := kv.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })
	return replica.New(self, backing, log.NewNoOpLogger(), nil, acl.AllowAllConditions{})
}

func TestSubscribeSendsAdvertise(t *testing.T) {
	a := testPeer(1)
	b := testPeer(2)
	ra := newTestReplica(t, a)
	doc := testDoc(1)

	_, err := ra.Say(context.Background(), doc, causal.SchemaHash{0x01}, a, path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: a, Permission: store.Own,
	})
	require.NoError(t, err)

	tr := newMemTransport(a, 4)
	peerRecv := make(chan transport.Message, 4)
	tr.connect(b, peerRecv)

	eng := New(a, ra, tr, log.NewNoOpLogger(), nil, 0)
	require.NoError(t, eng.Subscribe(context.Background(), doc, b))

	select {
	case msg := <-peerRecv:
		require.Equal(t, a, msg.Peer)
	case <-time.After(time.Second):
		t.Fatal("expected an advertise frame")
	}
}

func TestEngineSyncsTwoReplicas(t *testing.T) {
	schema := causal.SchemaHash{0x02}
	doc := testDoc(2)
	p1 := testPeer(1)
	p2 := testPeer(2)

	r1 := newTestReplica(t, p1)
	ownerDelta, err := r1.Say(context.Background(), doc, schema, p1, path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: p1, Permission: store.Own,
	})
	require.NoError(t, err)
	readGrant, err := r1.Say(context.Background(), doc, schema, p1, path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: p2, Permission: store.Read,
	})
	require.NoError(t, err)

	flag := path.Root(doc).AppendStruct("a").AppendStruct("b")
	_, err = r1.Enable(context.Background(), doc, schema, p1, flag)
	require.NoError(t, err)

	r2 := newTestReplica(t, p2)
	require.NoError(t, r2.Join(context.Background(), ownerDelta))
	require.NoError(t, r2.Join(context.Background(), readGrant))

	t1 := newMemTransport(p1, 16)
	t2 := newMemTransport(p2, 16)
	t1.connect(p2, t2.recvCh)
	t2.connect(p1, t1.recvCh)

	e1 := New(p1, r1, t1, log.NewNoOpLogger(), nil, 0)
	e2 := New(p2, r2, t2, log.NewNoOpLogger(), nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = e1.Run(ctx) }()
	go func() { defer wg.Done(); _ = e2.Run(ctx) }()

	require.NoError(t, e2.Subscribe(ctx, doc, p1))

	require.Eventually(t, func() bool {
		node, err := r2.Read(context.Background(), doc, flag)
		return err == nil && !node.IsEmpty()
	}, time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}

// TestSubscribeSendFailurePropagates uses a mocked transport to inject a
// send failure without standing up a real network, verifying Subscribe
// surfaces it instead of advancing the subscription state.
func TestSubscribeSendFailurePropagates(t *testing.T) {
	p1 := testPeer(1)
	p2 := testPeer(2)
	rep := newTestReplica(t, p1)
	doc := testDoc(3)

	ctrl := gomock.NewController(t)
	tr := transportmock.NewTransport(ctrl)
	boom := errors.New("boom")
	tr.EXPECT().Send(gomock.Any(), p2, gomock.Any()).Return(boom)

	eng := New(p1, rep, tr, log.NewNoOpLogger(), nil, 0)
	err := eng.Subscribe(context.Background(), doc, p2)
	require.ErrorIs(t, err, boom)
}
