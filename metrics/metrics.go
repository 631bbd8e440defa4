// Package metrics holds the Prometheus collectors for the history engine and
// the sync transport.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "collab"

// Navigation results
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

type Metrics struct {
	CheckpointsCreated prometheus.Counter
	CheckpointsDropped prometheus.Counter
	CheckpointFailures prometheus.Counter
	Navigations        *prometheus.CounterVec
	DocumentFlushes    *prometheus.CounterVec
	ConnectedClients   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckpointsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "checkpoints_created_total",
			Help:      "Checkpoints appended to document timelines",
		}),
		CheckpointsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "checkpoints_dropped_total",
			Help:      "Checkpoints removed by eviction, branch truncation, commit or clear",
		}),
		CheckpointFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "checkpoint_failures_total",
			Help:      "Automatic checkpoints skipped because the document could not be encoded",
		}),
		Navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "navigations_total",
			Help:      "History navigation requests by operation and result",
		}, []string{"op", "result"}),
		DocumentFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collab",
			Name:      "document_flushes_total",
			Help:      "Document state flushes to the store by result",
		}, []string{"result"}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collab",
			Name:      "connected_clients",
			Help:      "WebSocket clients currently connected",
		}),
	}

	reg.MustRegister(
		m.CheckpointsCreated,
		m.CheckpointsDropped,
		m.CheckpointFailures,
		m.Navigations,
		m.DocumentFlushes,
		m.ConnectedClients,
	)
	return m
}

// RegisterDocumentCount exposes the number of live documents, read from
// count at scrape time.
func RegisterDocumentCount(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "documents",
		Help:      "Live documents held in memory",
	}, func() float64 { return float64(count()) }))
}

// Handler serves the /metrics endpoint for the given gatherer
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
