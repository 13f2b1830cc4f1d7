package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	custommw "github.com/scanlog/server/internal/middleware"
	"github.com/scanlog/server/internal/observability"
	"github.com/scanlog/server/internal/services"
)

// RouterDeps wires the HTTP surface to the services
type RouterDeps struct {
	Session      *services.ScanSession
	Projector    *services.Projector
	Catalog      *services.Catalog
	Hub          *services.FeedHub // nil disables /ws
	APIKey       string
	APIKeyHeader string
	HTTPMetrics  *observability.HTTPMetrics // nil disables request metrics
	RequestLog   bool
}

// NewRouter builds the chi router for the API and live feed
func NewRouter(deps RouterDeps) http.Handler {
	healthHandler := NewHealthHandler()
	scanHandler := NewScanHandler(deps.Session)
	dayHandler := NewDayHandler(deps.Session.Store(), deps.Projector, deps.Catalog)
	settingsHandler := NewSettingsHandler(deps.Session, deps.Hub)

	r := chi.NewRouter()

	if deps.RequestLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware())
	if deps.HTTPMetrics != nil {
		r.Use(observability.MetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(custommw.APIKeyAuth(deps.APIKey, deps.APIKeyHeader))

	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)

	r.Route("/api/scans", func(r chi.Router) {
		r.Post("/", scanHandler.Record)
		r.Post("/undo", scanHandler.Undo)
		r.Get("/recent", scanHandler.Recent)
	})

	r.Route("/api/days", func(r chi.Router) {
		r.Get("/", dayHandler.List)
		r.Get("/today", dayHandler.Today)
		r.Get("/{day}", dayHandler.Get)
		r.Delete("/{day}", dayHandler.DeleteDay)
		r.Get("/{day}/export.csv", dayHandler.Export)
		r.Patch("/{day}/codes/{code}", dayHandler.EditCode)
		r.Delete("/{day}/codes/{code}", dayHandler.DeleteCode)
	})

	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", settingsHandler.Get)
		r.Get("/duplicate-guard", settingsHandler.GetDuplicateGuard)
		r.Put("/duplicate-guard", settingsHandler.UpdateDuplicateGuard)
		r.Put("/scan-enabled", settingsHandler.UpdateScanEnabled)
	})

	if deps.Hub != nil {
		wsHandler := NewWebSocketHandler(deps.Hub, deps.Session)
		r.Get("/ws", wsHandler.HandleConnection)
	}

	return r
}
