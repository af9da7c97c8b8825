package acl

import (
	"testing"

	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/store"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

type memIndex struct {
	entries map[string][]Entry
}

func newMemIndex() *memIndex { return &memIndex{entries: map[string][]Entry{}} }

func (m *memIndex) key(doc path.DocID, p path.Path) string {
	return string(doc[:]) + string(p.Bytes())
}

func (m *memIndex) add(doc path.DocID, p path.Path, e Entry) {
	k := m.key(doc, p)
	m.entries[k] = append(m.entries[k], e)
}

func (m *memIndex) PoliciesAt(doc path.DocID, p path.Path) ([]Entry, error) {
	return m.entries[m.key(doc, p)], nil
}

func docID(b byte) (id ids.ID) { id[0] = b; return }
func peer(b byte) (id ids.ID)  { id[0] = b; return }

func TestCanGrantedAtAncestor(t *testing.T) {
	idx := newMemIndex()
	doc := docID(1)
	root := path.Root(doc)
	sub := root.AppendStruct("settings")

	owner := peer(1)
	grantDot := dot.New(owner, 1)
	idx.add(doc, root, Entry{Dot: grantDot, Policy: store.Policy{
		Kind: store.PolicyCan, Subject: peer(2), Permission: store.Write,
	}})

	a := New(idx, nil)
	ok, err := a.Can(doc, peer(2), store.Write, sub)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Can(doc, peer(2), store.Own, sub)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokeDeletesGrantRegardlessOfOrder(t *testing.T) {
	doc := docID(1)
	root := path.Root(doc)
	target := peer(2)

	run := func(revokeFirst bool) bool {
		idx := newMemIndex()
		grantDot := dot.New(peer(1), 1)
		grant := Entry{Dot: grantDot, Policy: store.Policy{
			Kind: store.PolicyCan, Subject: target, Permission: store.Read,
		}}
		revoke := Entry{Dot: dot.New(peer(3), 1), Policy: store.Policy{
			Kind: store.PolicyRevokes, Revokes: grantDot,
		}}
		if revokeFirst {
			idx.add(doc, root, revoke)
			idx.add(doc, root, grant)
		} else {
			idx.add(doc, root, grant)
			idx.add(doc, root, revoke)
		}
		a := New(idx, nil)
		ok, err := a.Can(doc, target, store.Read, root)
		require.NoError(t, err)
		return ok
	}

	require.False(t, run(true))
	require.False(t, run(false))
}

func TestCanIfRequiresSatisfiedCondition(t *testing.T) {
	idx := newMemIndex()
	doc := docID(1)
	root := path.Root(doc)
	subject := peer(2)
	idx.add(doc, root, Entry{Dot: dot.New(peer(1), 1), Policy: store.Policy{
		Kind: store.PolicyCanIf, Subject: subject, Permission: store.Write, Condition: "verified",
	}})

	denying := New(idx, nil)
	ok, err := denying.Can(doc, subject, store.Write, root)
	require.NoError(t, err)
	require.False(t, ok)

	allowing := New(idx, AllowAllConditions{})
	ok, err = allowing.Can(doc, subject, store.Write, root)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRequiredToSay(t *testing.T) {
	require.Equal(t, store.Control, RequiredToSay(store.Policy{Kind: store.PolicyCan, Permission: store.Write}))
	require.Equal(t, store.Own, RequiredToSay(store.Policy{Kind: store.PolicyCan, Permission: store.Own}))
	require.Equal(t, store.Control, RequiredToSay(store.Policy{Kind: store.PolicyRevokes}))
}
