// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	RefsReceived      prometheus.Counter
	MalformedMessages prometheus.Counter
	Reconnects        prometheus.Counter

	// Resolver metrics
	RefsResolved prometheus.Counter
	RefsDropped  prometheus.Counter
	BatchSize    prometheus.Histogram

	// Decoder / filter metrics
	DecodeHits    prometheus.Counter
	DecodeMisses  prometheus.Counter
	MirrorIntents prometheus.Counter

	// Risk metrics
	RiskRejections *prometheus.CounterVec

	// Execution metrics
	OrdersSubmitted *prometheus.CounterVec
	OrderRetries    prometheus.Counter
	VenueLatency    *prometheus.HistogramVec

	// Position metrics
	OpenPositions    prometheus.Gauge
	CommittedCapital prometheus.Gauge
	PositionsClosed  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mempool_mirror"
	}

	return &Metrics{
		RefsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "refs_received_total",
			Help:      "Total pending transaction refs received from the feed",
		}),
		MalformedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "malformed_messages_total",
			Help:      "Total malformed feed messages dropped",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total WebSocket reconnect attempts",
		}),
		RefsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "refs_resolved_total",
			Help:      "Total refs resolved into full transactions",
		}),
		RefsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "refs_dropped_total",
			Help:      "Total refs that failed to resolve and were discarded",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "batch_size",
			Help:      "Size of resolution batches",
			Buckets:   []float64{1, 5, 10, 25, 50},
		}),
		DecodeHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "hits_total",
			Help:      "Total transactions decoded into swaps",
		}),
		DecodeMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "misses_total",
			Help:      "Total transactions with unrecognized call-data",
		}),
		MirrorIntents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "mirror_intents_total",
			Help:      "Total mirror intents produced by the trade filter",
		}),
		RiskRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Total risk rejections by reason",
		}, []string{"reason"}),
		OrdersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "orders_total",
			Help:      "Total orders by terminal status",
		}, []string{"status"}),
		OrderRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "retries_total",
			Help:      "Total order submission retries",
		}),
		VenueLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "request_duration_seconds",
			Help:      "Venue API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "open",
			Help:      "Number of currently open positions",
		}),
		CommittedCapital: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "committed_capital_usd",
			Help:      "Capital committed across open positions in USD",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "closed_total",
			Help:      "Total positions closed by reason",
		}, []string{"reason"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
