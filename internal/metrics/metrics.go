// Package metrics exposes Prometheus instrumentation for batch runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles all binfeat collectors behind one Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	BinariesTotal    *prometheus.CounterVec
	FunctionsTotal   *prometheus.CounterVec
	BinaryDuration   prometheus.Histogram
	SignatureMatches *prometheus.CounterVec
}

// NewRegistry creates a registry with all collectors registered.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.BinariesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "binfeat_binaries_total",
			Help: "Binaries processed, by status",
		},
		[]string{"status"},
	)

	r.FunctionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "binfeat_functions_total",
			Help: "Functions processed, by status",
		},
		[]string{"status"},
	)

	r.BinaryDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "binfeat_binary_duration_seconds",
			Help:    "Wall-clock time spent per binary, engine included",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		},
	)

	r.SignatureMatches = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "binfeat_signature_matches_total",
			Help: "Crypto signature matches, by signature name",
		},
		[]string{"signature"},
	)

	return r
}

// RecordBinary records one finished binary.
func (r *Registry) RecordBinary(status string, duration time.Duration) {
	r.BinariesTotal.WithLabelValues(status).Inc()
	r.BinaryDuration.Observe(duration.Seconds())
}

// RecordFunction records one finished function.
func (r *Registry) RecordFunction(status string) {
	r.FunctionsTotal.WithLabelValues(status).Inc()
}

// RecordSignatures bumps per-signature match counters from a scan result.
func (r *Registry) RecordSignatures(scan map[string]int) {
	for name, count := range scan {
		if count > 0 {
			r.SignatureMatches.WithLabelValues(name).Add(float64(count))
		}
	}
}

// Handler returns an HTTP handler serving the registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics endpoint on addr. It blocks, so callers run it
// in a goroutine; errors go to the returned channel.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return http.ListenAndServe(addr, mux)
}
