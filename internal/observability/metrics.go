// Package observability holds the Prometheus instruments of the callback
// receiver and its background workers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeReceived = "received"
	OutcomeIgnored  = "ignored"
	OutcomeFailed   = "failed"
	OutcomeError    = "error"

	// Archive outcomes
	OutcomeArchived = "archived"
	OutcomeExisting = "existing"
)

// Metrics captures ingestion and worker health signals.
type Metrics struct {
	callbacks     *prometheus.CounterVec
	tracksUpsert  *prometheus.CounterVec
	staleExpired  prometheus.Counter
	archives      *prometheus.CounterVec
	ingestLatency prometheus.Histogram
}

// New registers the instruments on registerer. A nil registerer uses the
// default Prometheus registry.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shattavibe_callbacks_total",
			Help: "Vendor callbacks by phase and outcome.",
		}, []string{"callback_type", "outcome"}),
		tracksUpsert: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shattavibe_tracks_upserted_total",
			Help: "Track rows written by callbacks, by owner partition.",
		}, []string{"partition"}),
		staleExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shattavibe_stale_jobs_expired_total",
			Help: "Jobs failed by the stale sweep.",
		}),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shattavibe_track_archives_total",
			Help: "Track archive attempts by outcome.",
		}, []string{"outcome"}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shattavibe_callback_duration_seconds",
			Help:    "Time spent applying one vendor callback.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}

	registerer.MustRegister(m.callbacks, m.tracksUpsert, m.staleExpired, m.archives, m.ingestLatency)
	return m
}

// Callback counts one processed callback. Safe on a nil receiver.
func (m *Metrics) Callback(phase, outcome string) {
	if m == nil {
		return
	}
	if phase == "" {
		phase = "unknown"
	}
	m.callbacks.WithLabelValues(phase, outcome).Inc()
}

func (m *Metrics) TracksUpserted(partition string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tracksUpsert.WithLabelValues(partition).Add(float64(n))
}

func (m *Metrics) StaleExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.staleExpired.Add(float64(n))
}

func (m *Metrics) Archive(outcome string) {
	if m == nil {
		return
	}
	m.archives.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveIngest(seconds float64) {
	if m == nil {
		return
	}
	m.ingestLatency.Observe(seconds)
}
