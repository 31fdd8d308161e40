// Package observability provides Prometheus metrics for the sync and auction engine.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	// Reconciliation
	ReconcileRuns     *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec
	ListingsIndexed   *prometheus.GaugeVec
	RPCCallLatency    *prometheus.HistogramVec

	// Metadata
	EnrichmentResults *prometheus.CounterVec

	// Auctions
	BidsTotal     *prometheus.CounterVec
	AuctionsEnded prometheus.Counter
}

// NewMetrics creates a Metrics instance with every collector registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "marketsync"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation cycles per chain by outcome",
		}, []string{"chain_id", "status"}),
		ReconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of a chain reconciliation cycle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain_id"}),
		ListingsIndexed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "listings",
			Help:      "Listings written by the last successful cycle",
		}, []string{"chain_id"}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_duration_seconds",
			Help:      "Latency of chain RPC calls",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"chain_id", "method"}),
		EnrichmentResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "enrichment_total",
			Help:      "Metadata enrichment attempts by outcome",
		}, []string{"outcome"}),
		BidsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "bids_total",
			Help:      "Bids by outcome",
		}, []string{"outcome"}),
		AuctionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "ended_total",
			Help:      "Auctions moved to ENDED by the sweeper",
		}),
	}
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveReconcile records one chain cycle.
func (m *Metrics) ObserveReconcile(chainID int64, status string, elapsed time.Duration, listings int) {
	if m == nil {
		return
	}
	id := strconv.FormatInt(chainID, 10)
	m.ReconcileRuns.WithLabelValues(id, status).Inc()
	m.ReconcileDuration.WithLabelValues(id).Observe(elapsed.Seconds())
	if status == "complete" {
		m.ListingsIndexed.WithLabelValues(id).Set(float64(listings))
	}
}

// ObserveRPC records the latency of one RPC call.
func (m *Metrics) ObserveRPC(chainID int64, method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(strconv.FormatInt(chainID, 10), method).Observe(elapsed.Seconds())
}

// IncEnrichment counts an enrichment outcome.
func (m *Metrics) IncEnrichment(outcome string) {
	if m == nil {
		return
	}
	m.EnrichmentResults.WithLabelValues(outcome).Inc()
}

// IncBid counts a bid outcome.
func (m *Metrics) IncBid(outcome string) {
	if m == nil {
		return
	}
	m.BidsTotal.WithLabelValues(outcome).Inc()
}

// AddAuctionsEnded counts auctions closed by a sweep.
func (m *Metrics) AddAuctionsEnded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AuctionsEnded.Add(float64(n))
}
