// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package kv defines the sorted byte-keyed store collaborator the CRDT
// core is built on, and a pebble-backed implementation of it. Keys and
// values are arbitrary byte strings; the only ordering the core relies
// on is lexicographic, which is exactly what the path codec produces.
package kv

import (
	"bytes"
	"context"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/luxfi/crdt/crdterr"
)

// Pair is one key/value observed during a prefix scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// Iterator streams key/value pairs in lexicographic order. Callers must
// call Close when done, even after an error or early break.
type Iterator interface {
	Next() bool
	Pair() Pair
	Err() error
	Close() error
}

// Txn is the view a Transaction callback mutates; writes are staged and
// applied atomically when the callback returns nil.
type Txn interface {
	Get(key []byte) ([]byte, bool, error)
	Insert(key, value []byte) error
	Remove(key []byte) error
	ScanPrefix(prefix []byte) (Iterator, error)
}

// Event describes one change observed by a WatchPrefix subscription.
type Event struct {
	Key    []byte
	Value  []byte
	Remove bool
}

// Unsubscribe stops a WatchPrefix subscription and releases its channel.
type Unsubscribe func()

// Store is the collaborator contract: a sorted byte-keyed map with
// atomic single-key writes, prefix scans, batched transactions, and a
// best-effort change-notification stream.
type Store interface {
	Get(key []byte) ([]byte, bool, error)
	Insert(key, value []byte) error
	Remove(key []byte) error
	ScanPrefix(prefix []byte) (Iterator, error)
	Transaction(ctx context.Context, f func(Txn) error) error
	WatchPrefix(prefix []byte) (<-chan Event, Unsubscribe)
	Close() error
}

// pebbleStore implements Store over a cockroachdb/pebble instance.
type pebbleStore struct {
	db *pebble.DB

	mu   sync.Mutex
	subs []subscription
}

type subscription struct {
	prefix []byte
	ch     chan Event
}

// Open opens (creating if absent) a pebble-backed Store at dir.
func Open(dir string) (Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, crdterr.ErrStorageFailure
	}
	return &pebbleStore{db: db}, nil
}

// OpenMem opens an in-memory pebble instance: used by tests and by
// ephemeral replicas.
func OpenMem() (Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, crdterr.ErrStorageFailure
	}
	return &pebbleStore{db: db}, nil
}

func (s *pebbleStore) Close() error {
	s.mu.Lock()
	for _, sub := range s.subs {
		close(sub.ch)
	}
	s.subs = nil
	s.mu.Unlock()
	return s.db.Close()
}

func (s *pebbleStore) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, crdterr.ErrStorageFailure
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func (s *pebbleStore) Insert(key, value []byte) error {
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return crdterr.ErrStorageFailure
	}
	s.notify(Event{Key: key, Value: value})
	return nil
}

func (s *pebbleStore) Remove(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return crdterr.ErrStorageFailure
	}
	s.notify(Event{Key: key, Remove: true})
	return nil
}

func (s *pebbleStore) ScanPrefix(prefix []byte) (Iterator, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, crdterr.ErrStorageFailure
	}
	return &pebbleIterator{iter: iter, first: true}, nil
}

// prefixUpperBound returns the smallest byte string that sorts strictly
// after every key beginning with prefix, i.e. prefix with its last byte
// incremented (carrying as needed). A nil result means "no upper bound"
// (prefix is all 0xff).
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

type pebbleIterator struct {
	iter  *pebble.Iterator
	first bool
	err   error
}

func (it *pebbleIterator) Next() bool {
	if it.first {
		it.first = false
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *pebbleIterator) Pair() Pair {
	return Pair{
		Key:   append([]byte(nil), it.iter.Key()...),
		Value: append([]byte(nil), it.iter.Value()...),
	}
}

func (it *pebbleIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.iter.Error()
}

func (it *pebbleIterator) Close() error {
	return it.iter.Close()
}

type pebbleTxn struct {
	store  *pebbleStore
	batch  *pebble.Batch
	events []Event
}

func (s *pebbleStore) Transaction(ctx context.Context, f func(Txn) error) error {
	batch := s.db.NewIndexedBatch()
	txn := &pebbleTxn{store: s, batch: batch}
	if err := f(txn); err != nil {
		_ = batch.Close()
		return err
	}
	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		return crdterr.ErrStorageFailure
	}
	for _, ev := range txn.pending() {
		s.notify(ev)
	}
	return nil
}

func (t *pebbleTxn) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := t.batch.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, crdterr.ErrStorageFailure
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func (t *pebbleTxn) Insert(key, value []byte) error {
	if err := t.batch.Set(key, value, nil); err != nil {
		return crdterr.ErrStorageFailure
	}
	t.track(Event{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	return nil
}

func (t *pebbleTxn) Remove(key []byte) error {
	if err := t.batch.Delete(key, nil); err != nil {
		return crdterr.ErrStorageFailure
	}
	t.track(Event{Key: append([]byte(nil), key...), Remove: true})
	return nil
}

func (t *pebbleTxn) ScanPrefix(prefix []byte) (Iterator, error) {
	iter, err := t.batch.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, crdterr.ErrStorageFailure
	}
	return &pebbleIterator{iter: iter, first: true}, nil
}

func (t *pebbleTxn) track(ev Event) {
	t.events = append(t.events, ev)
}

func (t *pebbleTxn) pending() []Event { return t.events }

func (s *pebbleStore) notify(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if bytes.HasPrefix(ev.Key, sub.prefix) {
			select {
			case sub.ch <- ev:
			default:
				// Slow subscriber: drop rather than block the writer. The
				// sync engine re-advertises periodically, so a missed
				// notification is recovered by the next advertise round.
			}
		}
	}
}

func (s *pebbleStore) WatchPrefix(prefix []byte) (<-chan Event, Unsubscribe) {
	ch := make(chan Event, 64)
	sub := subscription{prefix: append([]byte(nil), prefix...), ch: ch}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	unsub := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cand := range s.subs {
			if cand.ch == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsub
}
