// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HMasataka/wsrelay/internal/eventbus"
)

// Connection Metrics
var (
	// ConnectionsActive tracks currently open connections
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsrelay_connections_active",
			Help: "Currently open WebSocket connections",
		},
	)

	// ConnectionsTotal tracks connection lifecycle transitions
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrelay_connections_total",
			Help: "WebSocket connections by lifecycle event (opened/closed)",
		},
		[]string{"event"},
	)
)

// Relay Metrics
var (
	// FramesReceivedTotal tracks frames accepted for relay by kind
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrelay_frames_received_total",
			Help: "Frames received from senders by kind (text/binary)",
		},
		[]string{"kind"},
	)

	// DeliveriesTotal tracks per-recipient delivery outcomes
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsrelay_deliveries_total",
			Help: "Per-recipient deliveries by result (delivered/failed/skipped)",
		},
		[]string{"result"},
	)

	// RelayedBytesTotal tracks payload bytes handed to recipients
	RelayedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsrelay_relayed_bytes_total",
			Help: "Payload bytes enqueued to recipients",
		},
	)

	// FanOut tracks how many recipients each frame reached
	FanOut = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wsrelay_fanout_recipients",
			Help:    "Recipients a single frame was delivered to",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)
)

// Observe subscribes the metrics to relay events on bus and returns the
// subscription IDs
func Observe(bus eventbus.Bus) []string {
	return []string{
		bus.Subscribe(eventbus.EventConnectionOpened, func(*eventbus.Event) {
			ConnectionsActive.Inc()
			ConnectionsTotal.WithLabelValues("opened").Inc()
		}),
		bus.Subscribe(eventbus.EventConnectionClosed, func(*eventbus.Event) {
			ConnectionsActive.Dec()
			ConnectionsTotal.WithLabelValues("closed").Inc()
		}),
		bus.Subscribe(eventbus.EventMessageReceived, func(e *eventbus.Event) {
			kind := e.Metadata["kind"]
			if kind == "" {
				kind = "unknown"
			}
			FramesReceivedTotal.WithLabelValues(kind).Inc()
		}),
		bus.Subscribe(eventbus.EventFrameRelayed, func(e *eventbus.Event) {
			result, ok := e.Data.(eventbus.RelayResult)
			if !ok {
				return
			}
			DeliveriesTotal.WithLabelValues("delivered").Add(float64(result.Delivered))
			DeliveriesTotal.WithLabelValues("failed").Add(float64(result.Failed))
			DeliveriesTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
			RelayedBytesTotal.Add(float64(result.Bytes))
			FanOut.Observe(float64(result.Delivered))
		}),
	}
}
