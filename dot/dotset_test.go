package dot

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func peer(b byte) PeerID {
	var id ids.ID
	id[0] = b
	return id
}

func TestDotSetInsertContains(t *testing.T) {
	s := NewSet()
	p1 := peer(1)
	require.False(t, s.Contains(New(p1, 1)))
	s.Insert(New(p1, 1))
	require.True(t, s.Contains(New(p1, 1)))
	require.False(t, s.Contains(New(p1, 2)))
}

func TestDotSetUnionIntersectionDifference(t *testing.T) {
	p1, p2 := peer(1), peer(2)
	a := NewSet()
	a.Insert(New(p1, 1))
	a.Insert(New(p1, 2))
	a.Insert(New(p2, 5))

	b := NewSet()
	b.Insert(New(p1, 2))
	b.Insert(New(p2, 6))

	union := a.Unioned(b)
	require.EqualValues(t, 4, union.Len())
	require.True(t, union.Contains(New(p1, 1)))
	require.True(t, union.Contains(New(p2, 6)))

	inter := a.Intersection(b)
	require.EqualValues(t, 1, inter.Len())
	require.True(t, inter.Contains(New(p1, 2)))

	diff := a.Difference(b)
	require.EqualValues(t, 2, diff.Len())
	require.True(t, diff.Contains(New(p1, 1)))
	require.True(t, diff.Contains(New(p2, 5)))
	require.False(t, diff.Contains(New(p1, 2)))
}

func TestDotSetEqualAndClone(t *testing.T) {
	p1 := peer(1)
	a := NewSet()
	a.Insert(New(p1, 1))
	a.Insert(New(p1, 3))
	b := a.Clone()
	require.True(t, a.Equal(b))
	b.Insert(New(p1, 4))
	require.False(t, a.Equal(b))
}

func TestDotSetIterOrder(t *testing.T) {
	p1, p2 := peer(1), peer(2)
	s := NewSet()
	s.Insert(New(p2, 1))
	s.Insert(New(p1, 2))
	s.Insert(New(p1, 1))
	dots := s.Iter()
	require.Len(t, dots, 3)
	require.Equal(t, p1, dots[0].Peer)
	require.EqualValues(t, 1, dots[0].Counter)
	require.Equal(t, p1, dots[1].Peer)
	require.EqualValues(t, 2, dots[1].Counter)
	require.Equal(t, p2, dots[2].Peer)
}
