/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboard frontends

ROUTE GROUPS:
  /api/balance/*       Balance calculation and KPIs
  /api/facilities/*    Facility network
  /api/sources         Water sources
  /api/transfers/*     Pump transfer audit and application
  /api/cache/*         Result cache control
  /api/scenarios/*     Demo scenarios
  /health              Liveness
  /metrics             Prometheus exposition (when wired)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sitewater/balance-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
// metricsHandler serves /metrics when non-nil (promhttp in production).
func NewRouter(h *Handler, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestMetrics(h.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Balance routes
		r.Route("/balance", func(r chi.Router) {
			r.Post("/calculate", h.CalculateBalance)
			r.Get("/kpi", h.GetKPIs)
		})

		// Network routes
		r.Route("/facilities", func(r chi.Router) {
			r.Get("/", h.ListFacilities)
			r.Get("/balance", h.GetFacilityBalances)
			r.Get("/{code}", h.GetFacility)
		})
		r.Get("/sources", h.ListSources)

		// Transfer routes
		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", h.ListTransfers)
			r.Post("/apply", h.ApplyTransfers)
		})

		// Cache control
		r.Post("/cache/invalidate", h.InvalidateCache)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/health", h.Health)

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Site Water Balance Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Site Water Balance Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/facilities">/api/facilities</a> - Facility network</li>
<li><a href="/api/sources">/api/sources</a> - Water sources</li>
<li><a href="/api/balance/kpi">/api/balance/kpi</a> - Current-month KPIs</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
<li><a href="/health">/health</a> - Liveness</li>
</ul>
</body>
</html>`))
	})

	return r
}

// requestMetrics records a count and duration per served request, labeled
// by the matched route pattern rather than the raw path so facility codes
// and the like don't explode the label space.
func requestMetrics(c *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			endpoint := chi.RouteContext(r.Context()).RoutePattern()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			c.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(status))
			c.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		})
	}
}
