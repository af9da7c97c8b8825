// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cursor

import (
	"context"
	"testing"

	"github.com/luxfi/crdt/acl"
	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/kv"
	"github.com/luxfi/crdt/log"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/crdt/replica"
	"github.com/luxfi/crdt/store"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

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

var testSchema = causal.SchemaHash{0xCD}

func newTestReplica(t *testing.T, self dot.PeerID) *replica.Replica {
	t.Helper()
	backing, err := kv.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })
	return replica.New(self, backing, log.NewNoOpLogger(), nil, acl.AllowAllConditions{})
}

func ownDoc(t *testing.T, rep *replica.Replica, doc path.DocID, owner dot.PeerID) {
	t.Helper()
	_, err := rep.Say(context.Background(), doc, testSchema, owner, path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: owner, Permission: store.Own,
	})
	require.NoError(t, err)
}

func TestCursorEnableDisable(t *testing.T) {
	owner := testPeer(1)
	rep := newTestReplica(t, owner)
	doc := testDoc(1)
	ownDoc(t, rep, doc, owner)

	c := New(rep, nil, doc, testSchema, owner).Field("a").Field("b")
	require.NoError(t, c.Enable(context.Background()))

	on, err := c.Enabled(context.Background())
	require.NoError(t, err)
	require.True(t, on)

	require.NoError(t, c.Disable(context.Background()))
	on, err = c.Enabled(context.Background())
	require.NoError(t, err)
	require.False(t, on)
}

func TestCursorAssignAndValues(t *testing.T) {
	owner := testPeer(1)
	rep := newTestReplica(t, owner)
	doc := testDoc(2)
	ownDoc(t, rep, doc, owner)

	c := New(rep, nil, doc, testSchema, owner).Field("counter")
	require.NoError(t, c.Assign(context.Background(), primitive.U64(42)))

	values, err := c.Values(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 1)
	v, ok := values[0].AsU64()
	require.True(t, ok)
	require.Equal(t, uint64(42), v)
}

func TestCursorKeyNavigationAndRemove(t *testing.T) {
	owner := testPeer(1)
	rep := newTestReplica(t, owner)
	doc := testDoc(3)
	ownDoc(t, rep, doc, owner)

	base := New(rep, nil, doc, testSchema, owner).Key(primitive.Str("a"))
	entry := base.Key(primitive.Str("b"))
	require.NoError(t, entry.Assign(context.Background(), primitive.U64(7)))

	values, err := entry.Values(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 1)

	require.NoError(t, base.Key(primitive.Str("b")).Remove(context.Background()))
	values, err = entry.Values(context.Background())
	require.NoError(t, err)
	require.Empty(t, values)
}

func TestCursorSayAndCan(t *testing.T) {
	owner := testPeer(1)
	other := testPeer(2)
	rep := newTestReplica(t, owner)
	doc := testDoc(4)
	ownDoc(t, rep, doc, owner)

	root := New(rep, nil, doc, testSchema, owner)
	require.NoError(t, root.SayCan(context.Background(), other, store.Write))

	ok, err := New(rep, nil, doc, testSchema, other).Can(store.Write)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = New(rep, nil, doc, testSchema, other).Can(store.Own)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorSayCanIfAndRevokes(t *testing.T) {
	owner := testPeer(1)
	other := testPeer(2)
	rep := newTestReplica(t, owner)
	doc := testDoc(5)
	ownDoc(t, rep, doc, owner)

	root := New(rep, nil, doc, testSchema, owner)
	require.NoError(t, root.SayCanIf(context.Background(), other, store.Read, "always"))

	grant, err := rep.Say(context.Background(), doc, testSchema, owner, path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: other, Permission: store.Write,
	})
	require.NoError(t, err)
	grantDot, found := grant.Store.Dots().Max(owner)
	require.True(t, found)

	require.NoError(t, root.SayRevokes(context.Background(), dot.New(owner, grantDot)))

	ok, err := New(rep, nil, doc, testSchema, other).Can(store.Write)
	require.NoError(t, err)
	require.False(t, ok)
}
