// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sync holds the collectors tracking scheduler activity.
type Sync struct {
	DrainCycles   prometheus.Counter
	SyncSuccess   *prometheus.CounterVec
	SyncFailure   *prometheus.CounterVec
	SyncSkipped   *prometheus.CounterVec
	PendingSize   prometheus.Gauge
	ReconcilePull prometheus.Counter
}

// NewSync creates and registers the sync collectors on reg.
func NewSync(reg prometheus.Registerer) *Sync {
	m := &Sync{
		DrainCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "draftsync",
			Name:      "drain_cycles_total",
			Help:      "Number of completed drain cycles.",
		}),
		SyncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftsync",
			Name:      "sync_success_total",
			Help:      "Pending entries flushed to the remote store.",
		}, []string{"kind"}),
		SyncFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftsync",
			Name:      "sync_failure_total",
			Help:      "Remote sync attempts that failed and were retained for retry.",
		}, []string{"kind"}),
		SyncSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftsync",
			Name:      "sync_skipped_total",
			Help:      "Pending entries dropped without a remote call (submitted, pending approval, or locally deleted).",
		}, []string{"kind"}),
		PendingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "draftsync",
			Name:      "pending_entries",
			Help:      "Current size of the pending-sync set.",
		}),
		ReconcilePull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "draftsync",
			Name:      "reconcile_pulls_total",
			Help:      "Bulk reconciliation pulls from the remote store.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.DrainCycles,
			m.SyncSuccess,
			m.SyncFailure,
			m.SyncSkipped,
			m.PendingSize,
			m.ReconcilePull,
		)
	}
	return m
}

// NewNopSync creates unregistered collectors for tests.
func NewNopSync() *Sync {
	return NewSync(nil)
}
