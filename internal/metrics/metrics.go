// Package metrics provides Prometheus metrics for the enrichment pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so stages can take one unconditionally.
type Metrics struct {
	// HTTP front end
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline
	RunsTotal       *prometheus.CounterVec
	LookupsTotal    *prometheus.CounterVec
	LookupDuration  prometheus.Histogram
	FeaturesTotal   *prometheus.CounterVec
	RecoveriesTotal *prometheus.CounterVec

	StartTime time.Time
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{StartTime: time.Now()}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catastro_http_requests_total",
			Help: "Total number of HTTP requests to the upload front end",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catastro_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"route"},
	)

	m.RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catastro_runs_total",
			Help: "Total number of pipeline runs by kind and status",
		},
		[]string{"kind", "status"},
	)

	m.LookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catastro_lookups_total",
			Help: "Reference code lookups by outcome",
		},
		[]string{"outcome"},
	)

	m.LookupDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catastro_lookup_duration_seconds",
			Help:    "Duration of remote cadastre lookups in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.FeaturesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catastro_features_total",
			Help: "GeoJSON features processed by merge result",
		},
		[]string{"result"},
	)

	m.RecoveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catastro_decode_total",
			Help: "Documents decoded, by the strategy that succeeded",
		},
		[]string{"strategy"},
	)

	return m
}

// ObserveHTTP records one request
func (m *Metrics) ObserveHTTP(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveLookup records one lookup; d is zero for lookups served from memory
func (m *Metrics) ObserveLookup(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.LookupDuration.Observe(d.Seconds())
	}
}

// ObserveMerge adds the per-feature counters of one merge
func (m *Metrics) ObserveMerge(matched, unmatched, malformed int) {
	if m == nil {
		return
	}
	m.FeaturesTotal.WithLabelValues("matched").Add(float64(matched))
	m.FeaturesTotal.WithLabelValues("unmatched").Add(float64(unmatched))
	m.FeaturesTotal.WithLabelValues("malformed").Add(float64(malformed))
}

// ObserveDecode records the strategy that decoded a document
func (m *Metrics) ObserveDecode(strategy string) {
	if m == nil {
		return
	}
	m.RecoveriesTotal.WithLabelValues(strategy).Inc()
}
