// Package telemetry exposes the core's prometheus collectors. Everything is
// registered on the default registry and served by the ops endpoint's
// /metrics handler.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreWrites counts committed row writes in the local store.
	StoreWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_store_writes_total",
		Help: "Committed row writes in the local store.",
	})

	// Sends counts outbound send attempts by result.
	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_sends_total",
		Help: "Outbound message send attempts by result.",
	}, []string{"result"}) // ok | failed

	// Actions counts inbound remote actions by outcome.
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_actions_total",
		Help: "Inbound remote actions by outcome.",
	}, []string{"outcome"}) // applied | duplicate | noop | error

	// QueueDepth tracks the inbound event queue occupancy.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_inbound_queue_depth",
		Help: "Events waiting in the inbound queue.",
	})

	// SyncPulls counts historical catch-up fetches by result.
	SyncPulls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_sync_pulls_total",
		Help: "Historical catch-up fetches by result.",
	}, []string{"result"}) // ok | failed

	// RetentionPurged counts rows removed by the retention runner.
	RetentionPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_retention_purged_total",
		Help: "Tombstoned rows hard-removed by retention.",
	})
)
