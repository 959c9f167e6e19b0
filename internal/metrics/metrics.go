// Package metrics exposes prometheus collectors for the SDK. Nothing is
// registered automatically; embedders opt in via Register.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefsync_remote_requests_total",
			Help: "Total number of remote preference service calls.",
		},
		[]string{"op", "result"},
	)

	OptimisticWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefsync_optimistic_writes_total",
			Help: "Total number of optimistic local mutations.",
		},
		[]string{"op"},
	)

	WriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prefsync_write_failures_total",
			Help: "Remote write failures left standing under the no-rollback policy.",
		},
	)

	DeferredQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prefsync_deferred_queue_depth",
			Help: "Commands waiting for an identity to become available.",
		},
	)
)

// Register attaches all collectors to r. Safe to call once per registry.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		RemoteRequestsTotal,
		OptimisticWritesTotal,
		WriteFailuresTotal,
		DeferredQueueDepth,
	)
}
