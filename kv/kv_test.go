package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Insert([]byte("a"), []byte("1")))
	v, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, s.Remove([]byte("a")))
	_, ok, err = s.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanPrefixOrder(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()

	keys := []string{"doc/1/a", "doc/1/b", "doc/1/c", "doc/2/a"}
	for _, k := range keys {
		require.NoError(t, s.Insert([]byte(k), []byte("v")))
	}

	iter, err := s.ScanPrefix([]byte("doc/1/"))
	require.NoError(t, err)
	defer iter.Close()

	var got []string
	for iter.Next() {
		got = append(got, string(iter.Pair().Key))
	}
	require.NoError(t, iter.Err())
	require.Equal(t, []string{"doc/1/a", "doc/1/b", "doc/1/c"}, got)
}

func TestTransactionAtomicity(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()

	err = s.Transaction(context.Background(), func(txn Txn) error {
		require.NoError(t, txn.Insert([]byte("x"), []byte("1")))
		require.NoError(t, txn.Insert([]byte("y"), []byte("2")))
		v, ok, err := txn.Get([]byte("x"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("1"), v)
		return nil
	})
	require.NoError(t, err)

	_, ok, _ := s.Get([]byte("x"))
	require.True(t, ok)
	_, ok, _ = s.Get([]byte("y"))
	require.True(t, ok)
}

func TestWatchPrefixDeliversEvent(t *testing.T) {
	s, err := OpenMem()
	require.NoError(t, err)
	defer s.Close()

	ch, unsub := s.WatchPrefix([]byte("doc/1/"))
	defer unsub()

	require.NoError(t, s.Insert([]byte("doc/1/a"), []byte("v")))
	require.NoError(t, s.Insert([]byte("doc/2/a"), []byte("v")))

	select {
	case ev := <-ch:
		require.Equal(t, []byte("doc/1/a"), ev.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}
