// Package metrics implements Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/flowscope/internal/analyzer"
	"firestige.xyz/flowscope/internal/connection"
)

var (
	// CapturePacketsTotal counts packets handed to the analyzer per source.
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_capture_packets_total",
			Help: "Total number of packets read from the capture source",
		},
		[]string{"source"},
	)

	// CaptureDropsTotal counts packets the kernel or reader reported as lost.
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_capture_drops_total",
			Help: "Total number of packets dropped by the capture source",
		},
		[]string{"source"},
	)

	// RTTSeconds observes every accepted RTT sample.
	RTTSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowscope_rtt_seconds",
			Help:    "Round-trip time samples by connection type and direction",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18), // 100µs to ~13s
		},
		[]string{"type", "direction"},
	)

	// EventsTotal counts analyzer events by name.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_events_total",
			Help: "Total number of analyzer events",
		},
		[]string{"event"},
	)

	// Connections tracks live connections per type as of the last report.
	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowscope_connections",
			Help: "Number of tracked connections by type",
		},
		[]string{"type"},
	)

	// EventBusDroppedTotal counts events discarded on a full partition queue.
	EventBusDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_eventbus_dropped_total",
			Help: "Total number of events dropped by the event bus",
		},
		[]string{"partition"},
	)

	// ReporterEventsTotal counts events delivered per reporter.
	ReporterEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_reporter_events_total",
			Help: "Total number of events delivered by reporters",
		},
		[]string{"reporter"},
	)

	// ReporterErrorsTotal counts reporter errors by name and error type.
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter", "error_type"},
	)

	// ReporterBatchSize tracks how many records a reporter writes at once.
	ReporterBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowscope_reporter_batch_size",
			Help:    "Number of records sent per reporter batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
		[]string{"reporter"},
	)
)

// Observe is an analyzer handler that feeds EventsTotal and RTTSeconds. It
// keeps no per-connection data.
func Observe(ev analyzer.Event, _ analyzer.PacketInfo, c *connection.Connection, _ *any) {
	EventsTotal.WithLabelValues(ev.String()).Inc()

	var direction string
	var us uint32
	switch ev {
	case analyzer.EventNewLeftRTT:
		direction, us = "left", c.LeftRTT.Last
	case analyzer.EventNewRightRTT:
		direction, us = "right", c.RightRTT.Last
	case analyzer.EventNewInitRespFullRTT:
		direction, us = "full_initiator", c.Side1.FullRTT.Last
	case analyzer.EventNewRespInitFullRTT:
		direction, us = "full_responder", c.Side2.FullRTT.Last
	default:
		return
	}
	RTTSeconds.WithLabelValues(c.Type().String(), direction).
		Observe((time.Duration(us) * time.Microsecond).Seconds())
}

// SetConnections replaces the per-type connection gauge.
func SetConnections(counts map[connection.Type]int) {
	Connections.Reset()
	for typ, n := range counts {
		Connections.WithLabelValues(typ.String()).Set(float64(n))
	}
}
