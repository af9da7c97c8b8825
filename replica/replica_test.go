// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replica

import (
	"context"
	"testing"

	"github.com/luxfi/crdt/acl"
	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/crdterr"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/kv"
	"github.com/luxfi/crdt/log"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/crdt/store"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func peer(b byte) dot.PeerID {
	var id ids.ID
	id[0] = b
	return id
}

func docID(b byte) path.DocID {
	var id ids.ID
	id[0] = b
	return id
}

var testSchema = causal.SchemaHash{0xAB}

func newTestReplica(t *testing.T, self dot.PeerID) *Replica {
	t.Helper()
	backing, err := kv.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })
	return New(self, backing, log.NewNoOpLogger(), nil, acl.AllowAllConditions{})
}

// ownDoc grants owner Own at the document root: the genesis statement
// that establishes every later authorization check, and returns the
// minimal delta that did so, for replaying onto other replicas.
func ownDoc(t *testing.T, r *Replica, doc path.DocID, owner dot.PeerID) causal.Causal {
	t.Helper()
	delta, err := r.Say(context.Background(), doc, testSchema, owner, path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: owner, Permission: store.Own,
	})
	require.NoError(t, err)
	return delta
}

func readNode(t *testing.T, r *Replica, doc path.DocID, target path.Path) *store.Store {
	t.Helper()
	var out *store.Store
	err := r.kv.Transaction(context.Background(), func(txn kv.Txn) error {
		tree, err := loadTree(txn, doc)
		if err != nil {
			return err
		}
		out, err = navigate(tree, target)
		return err
	})
	require.NoError(t, err)
	return out
}

func TestScenarioEWFlagToggle(t *testing.T) {
	r := newTestReplica(t, peer(1))
	doc := docID(1)
	ownDoc(t, r, doc, peer(1))
	flag := path.Root(doc).AppendStruct("a").AppendStruct("b")

	_, err := r.Enable(context.Background(), doc, testSchema, peer(1), flag)
	require.NoError(t, err)
	require.False(t, readNode(t, r, doc, flag).IsEmpty())

	_, err = r.Disable(context.Background(), doc, testSchema, peer(1), flag)
	require.NoError(t, err)
	require.True(t, readNode(t, r, doc, flag).IsEmpty())
}

func TestScenarioConcurrentMVR(t *testing.T) {
	a := newTestReplica(t, peer(1))
	b := newTestReplica(t, peer(2))
	c := newTestReplica(t, peer(3))
	doc := docID(2)
	ownerDelta := ownDoc(t, a, doc, peer(1))
	require.NoError(t, b.Join(context.Background(), ownerDelta))
	require.NoError(t, c.Join(context.Background(), ownerDelta))
	writeGrant, err := a.Say(context.Background(), doc, testSchema, peer(1), path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: peer(2), Permission: store.Write,
	})
	require.NoError(t, err)
	require.NoError(t, b.Join(context.Background(), writeGrant))
	require.NoError(t, c.Join(context.Background(), writeGrant))
	reg := path.Root(doc).AppendStruct("counter")

	d1, err := a.Assign(context.Background(), doc, testSchema, peer(1), reg, primitive.U64(42))
	require.NoError(t, err)
	d2, err := b.Assign(context.Background(), doc, testSchema, peer(2), reg, primitive.U64(43))
	require.NoError(t, err)

	require.NoError(t, c.Join(context.Background(), d1))
	require.NoError(t, c.Join(context.Background(), d2))

	node := readNode(t, c, doc, reg)
	require.Equal(t, store.KindDotFun, node.Kind)
	values := map[uint64]bool{}
	for _, v := range node.Fun {
		u, _ := v.AsU64()
		values[u] = true
	}
	require.Equal(t, map[uint64]bool{42: true, 43: true}, values)

	// a never observed b's concurrent assign, so a's third write only
	// overrides what a itself has seen (its own d1): d2 is untouched by
	// a's declared context and survives alongside the new value.
	d3, err := a.Assign(context.Background(), doc, testSchema, peer(1), reg, primitive.U64(99))
	require.NoError(t, err)
	require.NoError(t, c.Join(context.Background(), d3))

	node = readNode(t, c, doc, reg)
	values = map[uint64]bool{}
	for _, v := range node.Fun {
		u, _ := v.AsU64()
		values[u] = true
	}
	require.Equal(t, map[uint64]bool{43: true, 99: true}, values)
}

// TestScenarioConcurrentMVRConverges covers the case where peer 1 has
// observed both concurrent assigns before writing again: having joined d2,
// its next assign's context dominates both prior values, so every replica
// that later joins the third delta converges on the single surviving value.
func TestScenarioConcurrentMVRConverges(t *testing.T) {
	a := newTestReplica(t, peer(1))
	c := newTestReplica(t, peer(3))
	doc := docID(8)
	ownerDelta := ownDoc(t, a, doc, peer(1))
	require.NoError(t, c.Join(context.Background(), ownerDelta))
	writeGrant, err := a.Say(context.Background(), doc, testSchema, peer(1), path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: peer(2), Permission: store.Write,
	})
	require.NoError(t, err)
	require.NoError(t, c.Join(context.Background(), writeGrant))
	reg := path.Root(doc).AppendStruct("counter")

	d1, err := a.Assign(context.Background(), doc, testSchema, peer(1), reg, primitive.U64(42))
	require.NoError(t, err)

	b := newTestReplica(t, peer(2))
	require.NoError(t, b.Join(context.Background(), ownerDelta))
	require.NoError(t, b.Join(context.Background(), writeGrant))
	d2, err := b.Assign(context.Background(), doc, testSchema, peer(2), reg, primitive.U64(43))
	require.NoError(t, err)

	require.NoError(t, a.Join(context.Background(), d2))
	d3, err := a.Assign(context.Background(), doc, testSchema, peer(1), reg, primitive.U64(99))
	require.NoError(t, err)

	require.NoError(t, c.Join(context.Background(), d1))
	require.NoError(t, c.Join(context.Background(), d2))
	require.NoError(t, c.Join(context.Background(), d3))

	node := readNode(t, c, doc, reg)
	values := map[uint64]bool{}
	for _, v := range node.Fun {
		u, _ := v.AsU64()
		values[u] = true
	}
	require.Equal(t, map[uint64]bool{99: true}, values)
}

func TestScenarioORMapRemove(t *testing.T) {
	r := newTestReplica(t, peer(1))
	doc := docID(3)
	ownDoc(t, r, doc, peer(1))
	inner := path.Root(doc).AppendMap(primitive.Str("a")).AppendMap(primitive.Str("b"))
	outer := path.Root(doc).AppendMap(primitive.Str("a"))

	_, err := r.Assign(context.Background(), doc, testSchema, peer(1), inner, primitive.U64(42))
	require.NoError(t, err)
	require.False(t, readNode(t, r, doc, inner).IsEmpty())

	_, err = r.Remove(context.Background(), doc, testSchema, peer(1), outer.AppendMap(primitive.Str("b")))
	require.NoError(t, err)
	require.True(t, readNode(t, r, doc, inner).IsEmpty())
}

func TestScenarioUnjoinDeltaCatchUp(t *testing.T) {
	a := newTestReplica(t, peer(1))
	b := newTestReplica(t, peer(2))
	doc := docID(4)
	ownerDelta := ownDoc(t, a, doc, peer(1))
	require.NoError(t, b.Join(context.Background(), ownerDelta))
	readGrant, err := a.Say(context.Background(), doc, testSchema, peer(1), path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: peer(2), Permission: store.Read,
	})
	require.NoError(t, err)
	require.NoError(t, b.Join(context.Background(), readGrant))
	flag := path.Root(doc).AppendStruct("a").AppendStruct("b")

	enableDelta, err := a.Enable(context.Background(), doc, testSchema, peer(1), flag)
	require.NoError(t, err)
	_, err = a.Disable(context.Background(), doc, testSchema, peer(1), flag)
	require.NoError(t, err)

	// B has seen only the enable.
	require.NoError(t, b.Join(context.Background(), enableDelta))
	require.False(t, readNode(t, b, doc, flag).IsEmpty())

	var bCtx causal.Context
	err = b.kv.Transaction(context.Background(), func(txn kv.Txn) error {
		dots, err := b.contextDots(txn, doc)
		if err != nil {
			return err
		}
		bCtx = causal.Context{Doc: doc, Schema: testSchema, Dots: dots}
		return nil
	})
	require.NoError(t, err)

	catchUp, err := a.Unjoin(context.Background(), doc, peer(2), bCtx)
	require.NoError(t, err)
	require.NoError(t, b.Join(context.Background(), catchUp))

	require.True(t, readNode(t, a, doc, flag).IsEmpty())
	require.True(t, readNode(t, b, doc, flag).IsEmpty())
}

func TestScenarioAuthorizationFilter(t *testing.T) {
	a := newTestReplica(t, peer(1))
	doc := docID(5)
	ownDoc(t, a, doc, peer(1))

	target := path.Root(doc).AppendMap(primitive.Str("entry"))
	d := dot.New(peer(2), 1)
	leaf, err := wrap(target.AppendFun(d), store.NewDotFun(map[dot.Dot]primitive.Primitive{d: primitive.U64(7)}))
	require.NoError(t, err)
	untrusted := dot.NewSet()
	untrusted.Insert(d)
	malicious := causal.Causal{
		Ctx:   causal.Context{Doc: doc, Schema: testSchema, Dots: untrusted},
		Store: leaf,
	}

	require.NoError(t, a.Join(context.Background(), malicious))
	require.True(t, readNode(t, a, doc, target).IsEmpty())
}

func TestScenarioConcurrentPolicyGrantRevoke(t *testing.T) {
	doc := docID(6)
	a := newTestReplica(t, peer(1))
	ownerDelta := ownDoc(t, a, doc, peer(1))

	readGrant, err := a.Say(context.Background(), doc, testSchema, peer(1), path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: peer(2), Permission: store.Read,
	})
	require.NoError(t, err)
	readGrantDot, found := readGrant.Store.Dots().Max(peer(1))
	require.True(t, found)

	writeGrant, err := a.Say(context.Background(), doc, testSchema, peer(1), path.Root(doc), store.Policy{
		Kind: store.PolicyCan, Subject: peer(2), Permission: store.Write,
	})
	require.NoError(t, err)
	revoke, err := a.Say(context.Background(), doc, testSchema, peer(1), path.Root(doc), store.Policy{
		Kind: store.PolicyRevokes, Revokes: dot.New(peer(1), readGrantDot),
	})
	require.NoError(t, err)

	order1 := newTestReplica(t, peer(9))
	require.NoError(t, order1.Join(context.Background(), ownerDelta))
	require.NoError(t, order1.Join(context.Background(), readGrant))
	require.NoError(t, order1.Join(context.Background(), writeGrant))
	require.NoError(t, order1.Join(context.Background(), revoke))

	order2 := newTestReplica(t, peer(9))
	require.NoError(t, order2.Join(context.Background(), ownerDelta))
	require.NoError(t, order2.Join(context.Background(), readGrant))
	require.NoError(t, order2.Join(context.Background(), revoke))
	require.NoError(t, order2.Join(context.Background(), writeGrant))

	for _, rep := range []*Replica{order1, order2} {
		canWrite, err := rep.acl.Can(doc, peer(2), store.Write, path.Root(doc))
		require.NoError(t, err)
		require.True(t, canWrite)
		canRead, err := rep.acl.Can(doc, peer(2), store.Read, path.Root(doc))
		require.NoError(t, err)
		require.True(t, canRead, "Write implies Read regardless of the separately-revoked Read grant")
	}
}

func TestUnauthorizedMutationRejected(t *testing.T) {
	r := newTestReplica(t, peer(1))
	doc := docID(7)
	ownDoc(t, r, doc, peer(1))
	target := path.Root(doc).AppendStruct("a")

	_, err := r.Enable(context.Background(), doc, testSchema, peer(2), target)
	require.ErrorIs(t, err, crdterr.ErrUnauthorized)
}
