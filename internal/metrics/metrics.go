// Package metrics holds the process-wide prometheus collectors shared
// by the shard router, probe broker, raw transmitter, and buffered
// collectors, plus the scrape handler to expose them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PacketsRouted counts packets accepted by the shard router, per
	// shard name.
	PacketsRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spoki",
		Subsystem: "router",
		Name:      "packets_routed_total",
		Help:      "Packets routed to a shard worker.",
	}, []string{"shard"})

	// BrokerNew counts probe requests submitted to a broker.
	BrokerNew = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spoki",
		Subsystem: "broker",
		Name:      "requests_new_total",
		Help:      "Probe requests submitted to the broker.",
	})

	// BrokerMore counts credits granted by probing daemons, per
	// connection.
	BrokerMore = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spoki",
		Subsystem: "broker",
		Name:      "credits_granted_total",
		Help:      "MORE credits granted by probing daemons.",
	}, []string{"conn"})

	// BrokerRequested counts requests dispatched on a connection.
	BrokerRequested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spoki",
		Subsystem: "broker",
		Name:      "requests_dispatched_total",
		Help:      "Probe requests written to a probing daemon.",
	}, []string{"conn"})

	// BrokerQueued gauges the broker's pending request queue.
	BrokerQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spoki",
		Subsystem: "broker",
		Name:      "requests_queued",
		Help:      "Probe requests waiting for a credit.",
	})

	// BrokerCompleted counts probe replies matched to an in-flight
	// request.
	BrokerCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spoki",
		Subsystem: "broker",
		Name:      "requests_completed_total",
		Help:      "Probe replies correlated with an in-flight request.",
	})

	// RawQueueDepth gauges the raw transmitter's pending queue.
	RawQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spoki",
		Subsystem: "rawprobe",
		Name:      "queue_depth",
		Help:      "Raw UDP requests waiting for the transmit loop.",
	})

	// CollectorHandoffs counts buffers handed to a downstream writer,
	// per output stream.
	CollectorHandoffs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spoki",
		Subsystem: "collector",
		Name:      "buffer_handoffs_total",
		Help:      "Buffers handed off for persistence.",
	}, []string{"stream"})
)

// Registry is the process registry every collector above is
// registered with once at init time.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		PacketsRouted,
		BrokerNew,
		BrokerMore,
		BrokerRequested,
		BrokerQueued,
		BrokerCompleted,
		RawQueueDepth,
		CollectorHandoffs,
	)
}

// Handler returns the scrape endpoint handler for Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
