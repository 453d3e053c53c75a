package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/chi-demo/app"
	demomiddleware "github.com/tendant/chi-demo/middleware"

	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/metrics"
	"github.com/tendant/simple-variant/pkg/simplevariant/reconcile"
)

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	Service    simplevariant.Service
	Reconciler *reconcile.Reconciler        // optional
	Activity   *simplevariant.ActivityClock // optional; touched by public API requests
	Metrics    *metrics.Metrics             // optional; enables /metrics and request metrics

	// AdminAPIKeySHA256 guards /api/v1/admin when set.
	AdminAPIKeySHA256 string
	MaxUploadBytes    int64
	RequestTimeout    time.Duration // default: 60s
}

// NewRouter builds the service router with health, metrics, public and admin routes.
func NewRouter(config RouterConfig) (*chi.Mux, error) {
	if config.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.RequestTimeout))
	if config.Metrics != nil {
		r.Use(config.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", config.Metrics.Handler())
	}

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	images := NewImageHandler(config.Service, config.MaxUploadBytes)
	admin := NewAdminHandler(config.Service, config.Reconciler)

	var adminAuth func(http.Handler) http.Handler
	if config.AdminAPIKeySHA256 != "" {
		mw, err := demomiddleware.ApiKeyMiddleware(demomiddleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"admin": config.AdminAPIKeySHA256,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize API key middleware: %w", err)
		}
		adminAuth = mw
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if config.Activity != nil {
				r.Use(ActivityMiddleware(config.Activity))
			}
			r.Mount("/images", images.Routes())
			r.Get("/variants/stats", images.Stats)
		})
		r.Group(func(r chi.Router) {
			if adminAuth != nil {
				r.Use(adminAuth)
			}
			r.Mount("/admin", admin.Routes())
		})
	})

	return r, nil
}

// ActivityMiddleware marks request activity so background work can yield.
func ActivityMiddleware(clock *simplevariant.ActivityClock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clock.Touch()
			next.ServeHTTP(w, r)
		})
	}
}
