// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CRDT holds the counters and gauges the replica and sync engine update
// as they process local mutations and incoming deltas.
type CRDT struct {
	Registry prometheus.Registerer

	JoinsApplied     Counter
	LeavesDenied     Counter
	DeltasSent       Counter
	DeltasReceived   Counter
	DotsAllocated    Counter
	SubscribedDocs   Gauge
	SubscribedPeers  Gauge
}

// NewCRDT returns the CRDT metric set. Its counters and gauges are
// in-process values from a package-local Registry; none of them is
// registered with reg, which is kept only for Register.
func NewCRDT(reg prometheus.Registerer) *CRDT {
	registry := NewRegistry()
	return &CRDT{
		Registry:        reg,
		JoinsApplied:    registry.NewCounter("crdt_joins_applied_total"),
		LeavesDenied:    registry.NewCounter("crdt_leaves_denied_total"),
		DeltasSent:      registry.NewCounter("crdt_deltas_sent_total"),
		DeltasReceived:  registry.NewCounter("crdt_deltas_received_total"),
		DotsAllocated:   registry.NewCounter("crdt_dots_allocated_total"),
		SubscribedDocs:  registry.NewGauge("crdt_subscribed_docs"),
		SubscribedPeers: registry.NewGauge("crdt_subscribed_peers"),
	}
}

// Register registers an additional prometheus collector against the
// same registry, for components (e.g. a KV backend) that expose their
// own collectors.
func (m *CRDT) Register(collector prometheus.Collector) error {
	return m.Registry.Register(collector)
}
