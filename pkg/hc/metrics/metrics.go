// Package metrics exposes a hosted-channels node's state via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ChannelBalance      *prometheus.GaugeVec
	ChannelStatus       *prometheus.GaugeVec
	InFlightHtlcs       *prometheus.GaugeVec
	UncommittedUpdates  *prometheus.GaugeVec
	ReconcileRetries    *prometheus.CounterVec
	PreimagesCaught     prometheus.Counter
	BlockScanWorkQueue  prometheus.Gauge
)

var registered = false

// Register builds and registers every metric under namespace. Safe to
// call more than once; only the first call has any effect.
func Register(namespace string) {
	if registered {
		return
	}
	registered = true

	ChannelBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "balance_msat",
			Help:      "Current local balance of a hosted channel, in millisatoshi.",
		},
		[]string{"peer", "is_host"},
	)

	ChannelStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "status",
			Help:      "Current status of a hosted channel (1 if the channel is in this status, else 0).",
		},
		[]string{"peer", "status"},
	)

	InFlightHtlcs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "in_flight_htlcs",
			Help:      "Number of in-flight HTLCs on a hosted channel.",
		},
		[]string{"peer", "direction"},
	)

	UncommittedUpdates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "uncommitted_updates",
			Help:      "Number of updates buffered but not yet committed via StateUpdate.",
		},
		[]string{"peer"},
	)

	ReconcileRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconcile_retries_total",
			Help:      "Counter-mismatch StateUpdate retries, by outcome.",
		},
		[]string{"peer", "outcome"},
	)

	PreimagesCaught = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preimage_catcher",
			Name:      "preimages_caught_total",
			Help:      "HTLC preimages recovered by scanning on-chain transactions.",
		},
	)

	BlockScanWorkQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "preimage_catcher",
			Name:      "work_queue_depth",
			Help:      "Pending 32-byte witness candidates queued for the preimage catcher's worker pool.",
		},
	)

	prometheus.MustRegister(
		ChannelBalance,
		ChannelStatus,
		InFlightHtlcs,
		UncommittedUpdates,
		ReconcileRetries,
		PreimagesCaught,
		BlockScanWorkQueue,
	)
}
