package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/metrics"
	"github.com/tendant/simple-variant/pkg/simplevariant/reconcile"
)

func TestEventSink(t *testing.T) {
	m := metrics.New()
	ctx := context.Background()
	id := uuid.New()

	m.VariantGenerated(ctx, &simplevariant.DerivedAsset{ImageID: id, Variant: "thumb", SizeBytes: 2048}, 20*time.Millisecond)
	m.VariantGenerated(ctx, &simplevariant.DerivedAsset{ImageID: id, Variant: "thumb", SizeBytes: 4096}, 30*time.Millisecond)
	m.VariantFailed(ctx, id, "webp", errors.New("encode failed"))
	m.RepairStarted(ctx, id, simplevariant.RepairMissingFiles)
	m.LookupServed(ctx, id, true)
	m.LookupServed(ctx, id, false)
	m.LookupServed(ctx, id, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VariantsGenerated.WithLabelValues("thumb")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VariantFailures.WithLabelValues("webp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Repairs.WithLabelValues("missing_files")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Lookups.WithLabelValues("miss")))
}

func TestReconcileRun(t *testing.T) {
	m := metrics.New()

	m.ReconcileRun(reconcile.OutcomeCompleted, 8, 2, time.Second)
	m.ReconcileRun(reconcile.OutcomeBusy, 0, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileRuns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileRuns.WithLabelValues("busy")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.ReconcileProcessed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcileFailed))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/images/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/images/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/images/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "simplevariant_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
