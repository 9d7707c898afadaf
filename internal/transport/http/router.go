// Package httptransport exposes the domain stores and scan triggers over HTTP.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"scanmap/internal/platform/metrics"
	"scanmap/internal/platform/middleware"
	"scanmap/pkg/platform/httputil"
)

const requestTimeout = 30 * time.Second

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the services the router dispatches to. Nil scanners or
// permissions leave their routes unmounted.
type Deps struct {
	Collections map[string]Collection
	Barcodes    BarcodeScanner
	Networks    WifiScanner
	Devices     BluetoothScanner
	Map         MapProjector
	Permissions Permissions
	Health      map[string]HealthCheck
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Handler is the thin HTTP layer over the scan and sync services.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{deps: deps, logger: logger.With("component", "http")}
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Latency(h.deps.Metrics))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler(h.deps.Gatherer))

	r.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.TimeoutHandler(next, requestTimeout, `{"error":"timeout"}`)
		})
		if h.deps.Barcodes != nil {
			r.Post("/barcodes/detections", h.handleDetections)
		}
		if h.deps.Networks != nil {
			r.Post("/networks/scan", h.handleWifiScan)
			r.Post("/networks/connect", h.handleWifiConnect)
		}
		if h.deps.Devices != nil {
			r.Post("/devices/scan", h.handleBluetoothScan)
		}
		if h.deps.Map != nil {
			r.Get("/map", h.handleMap)
		}
		if h.deps.Permissions != nil {
			r.Get("/permissions/{name}", h.handlePermissionState)
			r.Post("/permissions/{name}/request", h.handlePermissionRequest)
		}
		r.Get("/{collection}", h.handleList)
		r.Post("/{collection}/subscribe", h.handleSubscribe)
		r.Delete("/{collection}", h.handleDeleteAll)
		r.Delete("/{collection}/{key}", h.handleDeleteOne)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	failing := map[string]string{}
	for name, check := range h.deps.Health {
		if err := check(r.Context()); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		h.logger.WarnContext(r.Context(), "health check failed", "failing", failing)
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "failing": failing})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
