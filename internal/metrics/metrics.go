// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatagramsReceivedTotal counts UDP datagrams handed to the decoder
	DatagramsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trapd_datagrams_received_total",
			Help: "Total number of datagrams received",
		},
	)

	// TrapsTotal counts traps the sinks accepted, by classification and SNMP version
	TrapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_traps_total",
			Help: "Total number of classified traps emitted to sinks",
		},
		[]string{"name", "version"},
	)

	// DecodeErrorsTotal counts datagrams rejected by the decoder
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_decode_errors_total",
			Help: "Total number of datagrams that failed to decode",
		},
		[]string{"kind"},
	)

	// TrapsSuppressedTotal counts traps dropped by the authorization gate
	TrapsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_traps_suppressed_total",
			Help: "Total number of decoded traps dropped as unauthorized",
		},
		[]string{"reason"},
	)

	// SinkErrorsTotal counts failed sink writes
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trapd_sink_errors_total",
			Help: "Total number of sink write errors",
		},
		[]string{"sink"},
	)

	// HandleLatencySeconds measures one decode/authorize/classify/emit cycle
	HandleLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trapd_handle_latency_seconds",
			Help:    "Latency of handling one datagram in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// ReceiverUp is 1 while the UDP socket is bound
	ReceiverUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trapd_receiver_up",
			Help: "Whether the trap socket is bound (1) or not (0)",
		},
	)
)
