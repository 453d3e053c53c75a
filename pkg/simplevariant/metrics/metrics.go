// Package metrics exposes Prometheus collectors for the variant pipeline.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/reconcile"
)

const namespace = "simplevariant"

// Metrics holds all Prometheus metrics for the service. It implements
// simplevariant.EventSink and reconcile.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	VariantsGenerated  *prometheus.CounterVec
	VariantFailures    *prometheus.CounterVec
	GenerateDuration   *prometheus.HistogramVec
	VariantBytes       *prometheus.HistogramVec
	Repairs            *prometheus.CounterVec
	Lookups            *prometheus.CounterVec
	ReconcileRuns      *prometheus.CounterVec
	ReconcileProcessed prometheus.Counter
	ReconcileFailed    prometheus.Counter
	ReconcileDuration  prometheus.Histogram
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		VariantsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variants_generated_total",
			Help:      "The total number of variants generated and stored",
		}, []string{"variant"}),
		VariantFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variant_failures_total",
			Help:      "The total number of variants that failed to generate",
		}, []string{"variant"}),
		GenerateDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "variant_generate_duration_seconds",
			Help:      "Time to resize, encode and store one variant",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"variant"}),
		VariantBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "variant_size_bytes",
			Help:      "Encoded size of generated variants",
			Buckets:   prometheus.ExponentialBuckets(4096, 2, 12),
		}, []string{"variant"}),
		Repairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "The total number of on-demand repairs started",
		}, []string{"reason"}),
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "The total number of image lookups by cache result",
		}, []string{"cache"}),
		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "The total number of reconciliation passes by outcome",
		}, []string{"outcome"}),
		ReconcileProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_images_processed_total",
			Help:      "Images repaired by the reconciler",
		}),
		ReconcileFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_images_failed_total",
			Help:      "Images the reconciler failed to repair",
		}),
		ReconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation passes",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) VariantGenerated(ctx context.Context, asset *simplevariant.DerivedAsset, elapsed time.Duration) {
	m.VariantsGenerated.WithLabelValues(asset.Variant).Inc()
	m.GenerateDuration.WithLabelValues(asset.Variant).Observe(elapsed.Seconds())
	m.VariantBytes.WithLabelValues(asset.Variant).Observe(float64(asset.SizeBytes))
}

func (m *Metrics) VariantFailed(ctx context.Context, imageID uuid.UUID, variant string, err error) {
	m.VariantFailures.WithLabelValues(variant).Inc()
}

func (m *Metrics) RepairStarted(ctx context.Context, imageID uuid.UUID, reason simplevariant.RepairReason) {
	m.Repairs.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) LookupServed(ctx context.Context, imageID uuid.UUID, cached bool) {
	result := "miss"
	if cached {
		result = "hit"
	}
	m.Lookups.WithLabelValues(result).Inc()
}

// ReconcileRun records the outcome of one reconciliation pass.
func (m *Metrics) ReconcileRun(outcome reconcile.Outcome, processed, failed int, elapsed time.Duration) {
	m.ReconcileRuns.WithLabelValues(string(outcome)).Inc()
	m.ReconcileProcessed.Add(float64(processed))
	m.ReconcileFailed.Add(float64(failed))
	if outcome != reconcile.OutcomeBusy {
		m.ReconcileDuration.Observe(elapsed.Seconds())
	}
}

// Middleware records request counts and durations labeled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, path, strconv.Itoa(status)}
		m.HTTPRequests.WithLabelValues(labels...).Inc()
		m.HTTPDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

var (
	_ simplevariant.EventSink = (*Metrics)(nil)
	_ reconcile.Recorder      = (*Metrics)(nil)
)
