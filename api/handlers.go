/*
handlers.go - HTTP API handlers for the water balance engine

PURPOSE:
  Exposes the balance engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the hydro pipeline.

ENDPOINTS:
  Balance:
    POST   /api/balance/calculate      Run the monthly balance
    GET    /api/balance/kpi            Dashboard headline figures

  Network:
    GET    /api/facilities             List facilities with live volumes
    GET    /api/facilities/{code}      One facility
    GET    /api/facilities/balance     Per-facility projection for a month
    GET    /api/sources                List configured water sources

  Transfers:
    GET    /api/transfers              Applied-transfer audit for a month
    POST   /api/transfers/apply        Apply planned transfers for a month

  Cache:
    POST   /api/cache/invalidate       Reload providers, drop cached results

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: persistent facility volumes + transfer audit + seeding surface
  - Provider: measurement/configuration snapshot with Reload
  - Calc: the calculation entry point (owns the result cache)
  - Factory: JSON site-network parsing for scenario loads

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (calculator, applier, store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Facility or resource not found
  - 409: Conflict (idempotency, duplicate)
  - 500: Internal errors
  - 503: Provider unavailable (structural configuration lookup failed)

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  Deploy behind a gateway when the network is not trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/factory"
	"github.com/sitewater/balance-engine/hydro"
	"github.com/sitewater/balance-engine/logging"
	"github.com/sitewater/balance-engine/metrics"
)

// =============================================================================
// DEPENDENCY SURFACES
// =============================================================================

// Store is the persistence surface the API layer needs: the engine's
// transactional store plus the seeding and admin operations. Both
// store/sqlite and store/postgres satisfy it.
type Store interface {
	hydro.TxStore
	factory.Seeder

	Sources(ctx context.Context) ([]hydro.Source, error)

	// Reset clears every table. Scenario loads start from a clean slate.
	Reset(ctx context.Context) error
}

// Provider is the snapshot-backed measurement/configuration source. Reload
// re-reads the snapshot after the store changes underneath it.
type Provider interface {
	hydro.MeasurementProvider
	hydro.ConfigProvider

	History() hydro.HistoryConfig
	Reload(ctx context.Context) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Provider Provider
	Calc     *hydro.Calculator
	Factory  *factory.NetworkFactory

	Logger  *logging.Logger
	Metrics *metrics.Collector

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given dependencies. logger and
// collector may be nil; the router records request counts and durations
// into the collector.
func NewHandler(store Store, provider Provider, calc *hydro.Calculator, logger *logging.Logger, collector *metrics.Collector) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	if collector == nil {
		collector = metrics.NewNopCollector()
	}
	return &Handler{
		Store:    store,
		Provider: provider,
		Calc:     calc,
		Factory:  factory.NewNetworkFactory(),
		Logger:   logger.WithComponent("api"),
		Metrics:  collector,
	}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// CalculateBalance runs the monthly balance pipeline.
// POST /api/balance/calculate
func (h *Handler) CalculateBalance(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := hydro.ParseMonth(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM)", err)
		return
	}

	var overrides hydro.Overrides
	if len(req.Overrides) > 0 {
		overrides = make(hydro.Overrides, len(req.Overrides))
		for param, value := range req.Overrides {
			overrides[hydro.ParameterType(param)] = decimal.NewFromFloat(value)
		}
	}

	out, err := h.Calc.Calculate(r.Context(), hydro.CalcInput{
		Date:             date,
		ProductionVolume: decimal.NewFromFloat(req.ProductionVolume),
		ApplyTransfers:   req.ApplyTransfers,
		Overrides:        overrides,
	})
	if err != nil {
		writeDomainError(w, "Calculation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, CalculateResponseDTO{
		Result:  toBalanceResultDTO(out.Result),
		Applied: toApplyOutcomeDTO(out.Applied),
	})
}

// GetKPIs returns the dashboard headline figures for a month.
// GET /api/balance/kpi?date=2025-03
func (h *Handler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	date, ok := monthParam(w, r)
	if !ok {
		return
	}

	kpis, err := h.Calc.KPIs(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to compute KPIs", err)
		return
	}

	writeJSON(w, http.StatusOK, toKPIDTO(kpis))
}

// =============================================================================
// NETWORK HANDLERS
// =============================================================================

// ListFacilities returns every facility with its live volume.
// GET /api/facilities
func (h *Handler) ListFacilities(w http.ResponseWriter, r *http.Request) {
	facilities, err := h.Store.Facilities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list facilities", err)
		return
	}

	dtos := make([]FacilityDTO, len(facilities))
	for i, f := range facilities {
		dtos[i] = toFacilityDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFacility returns a single facility.
// GET /api/facilities/{code}
func (h *Handler) GetFacility(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	f, err := h.Store.Facility(r.Context(), code)
	if err != nil {
		if hydro.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Facility not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get facility", err)
		return
	}

	writeJSON(w, http.StatusOK, toFacilityDTO(*f))
}

// GetFacilityBalances returns the per-facility projection for a month.
// GET /api/facilities/balance?date=2025-03
func (h *Handler) GetFacilityBalances(w http.ResponseWriter, r *http.Request) {
	date, ok := monthParam(w, r)
	if !ok {
		return
	}

	balances, err := h.Calc.FacilityBalances(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to project facility balances", err)
		return
	}

	dtos := make([]FacilityBalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toFacilityBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListSources returns the configured water sources.
// GET /api/sources
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Store.Sources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sources", err)
		return
	}

	dtos := make([]SourceDTO, len(sources))
	for i, s := range sources {
		dtos[i] = toSourceDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// ListTransfers returns the applied-transfer audit records for a month.
// GET /api/transfers?date=2025-03
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	date, ok := monthParam(w, r)
	if !ok {
		return
	}

	events, err := h.Store.TransfersForMonth(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transfers", err)
		return
	}

	dtos := make([]TransferEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toTransferEventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyTransfers runs the balance for a month and applies the planned
// transfers. Safe to call repeatedly: already-applied transfers skip via
// the idempotency key.
// POST /api/transfers/apply
func (h *Handler) ApplyTransfers(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := hydro.ParseMonth(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM)", err)
		return
	}

	production := h.Calc.ProductionFor(r.Context(), date)
	if req.ProductionVolume != nil {
		production = decimal.NewFromFloat(*req.ProductionVolume)
	}

	out, err := h.Calc.Calculate(r.Context(), hydro.CalcInput{
		Date:             date,
		ProductionVolume: production,
		ApplyTransfers:   true,
	})
	if err != nil {
		writeDomainError(w, "Failed to apply transfers", err)
		return
	}

	writeJSON(w, http.StatusOK, CalculateResponseDTO{
		Result:  toBalanceResultDTO(out.Result),
		Applied: toApplyOutcomeDTO(out.Applied),
	})
}

// =============================================================================
// CACHE HANDLERS
// =============================================================================

// InvalidateCache reloads the provider snapshot and drops every cached
// result. External layers call this after editing source data.
// POST /api/cache/invalidate
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.Provider != nil {
		if err := h.Provider.Reload(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reload configuration", err)
			return
		}
	}
	h.Calc.InvalidateCache("api_invalidate")

	writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated"})
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"cached_results": h.Calc.CachedResults(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// monthParam parses the ?date= query parameter, defaulting to the current
// month when absent. Returns ok=false after writing the error response.
func monthParam(w http.ResponseWriter, r *http.Request) (hydro.Month, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return hydro.CurrentMonth(), true
	}
	date, err := hydro.ParseMonth(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM)", err)
		return hydro.Month{}, false
	}
	return date, true
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case hydro.IsClientError(err):
		writeError(w, http.StatusBadRequest, msg, err)
	case hydro.IsNotFound(err):
		writeError(w, http.StatusNotFound, msg, err)
	case hydro.IsDuplicate(err):
		writeError(w, http.StatusConflict, msg, err)
	case hydro.IsProviderUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, msg, err)
	default:
		writeError(w, http.StatusInternalServerError, msg, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
