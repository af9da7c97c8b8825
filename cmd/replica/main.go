// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command replica runs a local, in-process demo of the full stack: a
// handful of replicas sharing one loopback network, each with its own
// sync engine, converging a single document's "counter" register through
// ordinary cursor writes. It stands in for a real networked node for
// local experimentation; wiring a concrete transport.Transport over an
// actual network is left to the deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/luxfi/crdt/acl"
	"github.com/luxfi/crdt/causal"
	"github.com/luxfi/crdt/config"
	"github.com/luxfi/crdt/cursor"
	"github.com/luxfi/crdt/dot"
	"github.com/luxfi/crdt/engine"
	"github.com/luxfi/crdt/kv"
	crdtlog "github.com/luxfi/crdt/log"
	"github.com/luxfi/crdt/metrics"
	"github.com/luxfi/crdt/path"
	"github.com/luxfi/crdt/primitive"
	"github.com/luxfi/crdt/replica"
	"github.com/luxfi/crdt/store"
	"github.com/luxfi/crdt/transport/loopback"
	"github.com/luxfi/crdt/utils/wrappers"
	"github.com/luxfi/ids"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	peerCount   = flag.Int("peers", 3, "Number of replicas to run")
	stateDir    = flag.String("state-dir", "", "Directory to persist replica state (empty for in-memory)")
	reAdvertise = flag.Duration("re-advertise", 0, "Periodic re-advertise interval (0 disables)")
	maxFrame    = flag.Int("max-frame-size", 1<<20, "Maximum accepted wire frame size, in bytes")
	settleFor   = flag.Duration("settle", 2*time.Second, "How long to wait for convergence before reporting")
)

func peerID(n int) dot.PeerID {
	var id ids.ID
	id[0] = byte(n)
	return id
}

func docID() path.DocID {
	var id ids.ID
	id[0] = 0xD0
	return id
}

func main() {
	flag.Parse()

	if *peerCount < 2 {
		fmt.Fprintln(os.Stderr, "replica: -peers must be at least 2")
		os.Exit(1)
	}

	logger := crdtlog.NewNoOpLogger()
	reg := prometheus.NewRegistry()
	met := metrics.NewCRDT(reg)

	net := loopback.NewNetwork()
	doc := docID()
	schema := causal.SchemaHash{0x01}
	owner := peerID(1)

	replicas := make([]*replica.Replica, *peerCount)
	backings := make([]kv.Store, *peerCount)
	engines := make([]*engine.Engine, *peerCount)
	counters := make([]cursor.Cursor, *peerCount)

	for i := 0; i < *peerCount; i++ {
		cfg, err := config.New(
			config.WithPeerID(peerID(i+1)),
			config.WithStateDir(subDir(*stateDir, i)),
			config.WithMaxFrameSize(*maxFrame),
			config.WithReAdvertiseInterval(*reAdvertise),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replica: invalid config for peer %d: %v\n", i+1, err)
			os.Exit(1)
		}

		backing, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replica: opening store for peer %d: %v\n", i+1, err)
			os.Exit(1)
		}
		backings[i] = backing

		rep := replica.New(cfg.PeerID, backing, logger, met, acl.AllowAllConditions{})
		replicas[i] = rep

		tr := net.Peer(cfg.PeerID, 64)
		eng := engine.New(cfg.PeerID, rep, tr, logger, met, cfg.ReAdvertiseInterval)
		eng.SetMaxFrameSize(cfg.MaxFrameSize)
		engines[i] = eng

		counters[i] = cursor.New(rep, eng, doc, schema, cfg.PeerID).Field("counter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, eng := range engines {
		eng := eng
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "replica: engine run: %v\n", err)
			}
		}()
	}

	// Grants are issued at the document root so they apply to every path
	// beneath it, per the acl layer's ancestor inheritance.
	root := cursor.New(replicas[0], engines[0], doc, schema, owner)
	if err := root.SayCan(ctx, owner, store.Own); err != nil {
		fail(cancel, &wg, "granting owner", err)
	}
	for i := 1; i < *peerCount; i++ {
		if err := root.SayCan(ctx, peerID(i+1), store.Write); err != nil {
			fail(cancel, &wg, "granting write", err)
		}
	}

	// Every peer subscribes to every other peer for doc, so a write on
	// any replica eventually reaches all of them regardless of who wrote
	// first.
	for i := 0; i < *peerCount; i++ {
		for j := 0; j < *peerCount; j++ {
			if i == j {
				continue
			}
			if err := engines[i].Subscribe(ctx, doc, peerID(j+1)); err != nil {
				fmt.Fprintf(os.Stderr, "replica: peer %d subscribing to peer %d: %v\n", i+1, j+1, err)
			}
		}
	}

	for i, c := range counters {
		if err := c.Assign(ctx, primitive.U64(uint64(100+i))); err != nil {
			fail(cancel, &wg, "assigning", err)
		}
	}

	time.Sleep(*settleFor)

	fmt.Println("=== Convergence Report ===")
	for i, c := range counters {
		values, err := c.Values(ctx)
		if err != nil {
			fmt.Printf("peer %d: read error: %v\n", i+1, err)
			continue
		}
		fmt.Printf("peer %d: counter = %v\n", i+1, values)
	}

	cancel()
	wg.Wait()

	var errs wrappers.Errs
	for i, b := range backings {
		if err := b.Close(); err != nil {
			errs.Add(fmt.Errorf("peer %d: %w", i+1, err))
		}
	}
	if errs.Errored() {
		fmt.Fprintf(os.Stderr, "replica: closing stores: %v\n", errs.Err())
		os.Exit(1)
	}
}

func subDir(base string, i int) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/peer-%d", base, i+1)
}

func openStore(cfg config.ReplicaConfig) (kv.Store, error) {
	if cfg.StateDir == "" {
		return kv.OpenMem()
	}
	return kv.Open(cfg.StateDir)
}

func fail(cancel context.CancelFunc, wg *sync.WaitGroup, step string, err error) {
	fmt.Fprintf(os.Stderr, "replica: %s: %v\n", step, err)
	cancel()
	wg.Wait()
	os.Exit(1)
}
