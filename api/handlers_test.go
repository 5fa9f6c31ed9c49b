/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Facility and source listings
- Balance calculation over HTTP
- Transfer application idempotency through the API
- Cache invalidation endpoint
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewater/balance-engine/factory"
	"github.com/sitewater/balance-engine/hydro"
	"github.com/sitewater/balance-engine/metrics"
	"github.com/sitewater/balance-engine/store/sqlite"
)

// =============================================================================
// TEST ENVIRONMENT
// =============================================================================

type testEnv struct {
	handler *Handler
	router  http.Handler
	store   *sqlite.Store
	metrics *metrics.Collector
}

// newTestEnv builds an in-memory SQLite-backed API seeded with the given
// network document. Each environment carries its own metrics registry.
func newTestEnv(t *testing.T, doc factory.NetworkJSON) *testEnv {
	t.Helper()
	ctx := context.Background()

	collector := metrics.NewCollector("test", prometheus.NewRegistry())

	store, err := sqlite.New(":memory:", nil, collector)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	network, err := factory.NewNetworkFactory().FromJSON(doc)
	require.NoError(t, err)
	require.NoError(t, factory.Seed(ctx, store, network))

	provider, err := sqlite.NewProvider(ctx, store)
	require.NoError(t, err)

	calc := hydro.NewCalculator(hydro.CalculatorConfig{
		Measurements: provider,
		Config:       provider,
		Store:        store,
		History:      provider.History(),
		Metrics:      collector,
	})

	h := NewHandler(store, provider, calc, nil, collector)
	return &testEnv{handler: h, router: NewRouter(h, nil), store: store, metrics: collector}
}

// testSiteNetwork is a two-facility network matching the pump scenario:
// SRC at 80% (start 70%) feeding DST at 60% (start 70%, accepts).
func testSiteNetwork() factory.NetworkJSON {
	return factory.NetworkJSON{
		Name: "test site",
		Constants: map[string]float64{
			hydro.ConstMiningWaterPerTonne:  0.5,
			hydro.ConstTSFReturnPct:         30,
			hydro.ConstOreDensity:           2.7,
			hydro.ConstSeepageRatePct:       1,
			hydro.ConstTransferIncrementPct: 5,
		},
		Facilities: []factory.FacilityJSON{
			{
				Code: "SRC", Name: "Source dam", Type: "dam", Area: "north",
				TotalCapacity: 1_000_000, CurrentVolume: 800_000, SurfaceArea: 50_000,
				EvaporationParticipant: true,
				PumpStartLevel:         70, PumpStopLevel: 30,
				FeedsTo: []string{"DST"},
			},
			{
				Code: "DST", Name: "Destination pond", Type: "pond", Area: "north",
				TotalCapacity: 500_000, CurrentVolume: 300_000, SurfaceArea: 20_000,
				EvaporationParticipant: true,
				PumpStartLevel:         70, PumpStopLevel: 30,
			},
		},
		Sources: []factory.SourceJSON{
			{Code: "BH-1", Name: "Borefield 1", Category: "groundwater", AverageFlowRate: 10_000, Reliability: 1},
		},
		Measurements: []factory.MeasurementJSON{
			{Parameter: string(hydro.ParamRainfall), Month: "2025-03", Value: 50},
			{Parameter: string(hydro.ParamEvaporation), Month: "2025-03", Value: 150},
			{Parameter: string(hydro.ParamOreTonnes), Month: "2025-03", Value: 100_000},
		},
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// =============================================================================
// NETWORK ENDPOINTS
// =============================================================================

func TestListFacilities(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodGet, "/api/facilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	facilities := decode[[]FacilityDTO](t, rec)
	require.Len(t, facilities, 2)

	byCode := map[string]FacilityDTO{}
	for _, f := range facilities {
		byCode[f.Code] = f
	}
	assert.Equal(t, 1_000_000.0, byCode["SRC"].TotalCapacity)
	assert.Equal(t, 800_000.0, byCode["SRC"].CurrentVolume)
	assert.InDelta(t, 80.0, byCode["SRC"].LevelPct, 0.001)
	assert.Equal(t, []string{"DST"}, byCode["SRC"].FeedsTo)
	assert.True(t, byCode["DST"].Active)
}

func TestGetFacility(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodGet, "/api/facilities/DST", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f := decode[FacilityDTO](t, rec)
	assert.Equal(t, "DST", f.Code)
	assert.InDelta(t, 60.0, f.LevelPct, 0.001)
}

func TestGetFacility_NotFound(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodGet, "/api/facilities/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSources(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sources := decode[[]SourceDTO](t, rec)
	require.Len(t, sources, 1)
	assert.Equal(t, "BH-1", sources[0].Code)
	assert.Equal(t, "groundwater", sources[0].Category)
	assert.InDelta(t, 1.0, sources[0].Reliability, 0.001)
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

func TestCalculateBalance(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodPost, "/api/balance/calculate", CalculateRequest{
		Date:             "2025-03",
		ProductionVolume: 100_000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[CalculateResponseDTO](t, rec)
	result := resp.Result

	assert.Equal(t, "2025-03", result.Date)
	assert.Nil(t, resp.Applied, "apply not requested")

	// The groundwater source contributes its full average flow.
	assert.InDelta(t, 10_000.0, result.Inflows["groundwater"], 0.01)

	// Rainfall: 50mm over 70,000 m2 participating area.
	assert.InDelta(t, 3_500.0, result.Inflows["rainfall"], 0.01)

	// TSF return symmetry is visible in the breakdown maps.
	assert.InDelta(t, result.Outflows["tsf_return"], result.Inflows["tsf_return"], 0.001)

	// Storage change ties out against the facility projections.
	assert.InDelta(t, result.TotalClosing-result.TotalOpening, result.StorageChange, 0.01)

	// SRC is above its pump start level; one transfer is planned.
	require.Len(t, result.PumpTransfers, 1)
	assert.Equal(t, "SRC", result.PumpTransfers[0].SourceCode)
	assert.Equal(t, "DST", result.PumpTransfers[0].DestinationCode)
}

func TestCalculateBalance_InvalidDate(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodPost, "/api/balance/calculate", CalculateRequest{
		Date: "March 2025",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalculateBalance_WithOverrides(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodPost, "/api/balance/calculate", CalculateRequest{
		Date:             "2025-03",
		ProductionVolume: 100_000,
		Overrides: map[string]float64{
			string(hydro.ParamRainfall): 100,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[CalculateResponseDTO](t, rec)
	assert.InDelta(t, 7_000.0, resp.Result.Inflows["rainfall"], 0.01,
		"override must outrank the stored measurement")
}

func TestGetKPIs(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodGet, "/api/balance/kpi?date=2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	kpi := decode[KPIDTO](t, rec)
	assert.Equal(t, "2025-03", kpi.Date)
	// Production resolves from the ore_tonnes measurement.
	assert.InDelta(t, 100_000.0, kpi.ProductionVolume, 0.01)
	assert.Equal(t, 1, kpi.TransferCount)
	assert.NotZero(t, kpi.SystemFillPct)
}

func TestGetFacilityBalances(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodGet, "/api/facilities/balance?date=2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	balances := decode[[]FacilityBalanceDTO](t, rec)
	require.Len(t, balances, 2)
	for _, b := range balances {
		assert.GreaterOrEqual(t, b.Closing, 0.0)
		assert.InDelta(t, b.Closing-b.Opening, b.NetBalance, 0.01)
	}
}

func TestGetFacilityBalances_BadDate(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodGet, "/api/facilities/balance?date=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TRANSFER ENDPOINTS
// =============================================================================

func TestApplyTransfers_Idempotent(t *testing.T) {
	// GIVEN: SRC above its pump start with DST accepting
	env := newTestEnv(t, testSiteNetwork())
	ctx := context.Background()

	// WHEN: Applying twice for the same month
	first := env.do(t, http.MethodPost, "/api/transfers/apply", ApplyRequest{Date: "2025-03"})
	require.Equal(t, http.StatusOK, first.Code)
	firstResp := decode[CalculateResponseDTO](t, first)
	require.NotNil(t, firstResp.Applied)
	require.Len(t, firstResp.Applied.Applied, 1)
	assert.InDelta(t, 50_000.0, firstResp.Applied.Applied[0].Volume, 0.01)

	second := env.do(t, http.MethodPost, "/api/transfers/apply", ApplyRequest{Date: "2025-03"})
	require.Equal(t, http.StatusOK, second.Code)
	secondResp := decode[CalculateResponseDTO](t, second)
	require.NotNil(t, secondResp.Applied)

	// THEN: The second pass is a no-op skip, not a double application
	assert.Empty(t, secondResp.Applied.Applied)
	assert.Len(t, secondResp.Applied.SkippedExisting, 1)

	src, err := env.store.Facility(ctx, "SRC")
	require.NoError(t, err)
	dst, err := env.store.Facility(ctx, "DST")
	require.NoError(t, err)
	assert.InDelta(t, 750_000.0, src.CurrentVolume.Float64(), 0.01, "volumes mutate once")
	assert.InDelta(t, 350_000.0, dst.CurrentVolume.Float64(), 0.01)

	events, err := env.store.TransfersForMonth(ctx, hydro.NewMonth(2025, 3))
	require.NoError(t, err)
	assert.Len(t, events, 1, "no duplicate audit record")
}

func TestListTransfers(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	env.do(t, http.MethodPost, "/api/transfers/apply", ApplyRequest{Date: "2025-03"})

	rec := env.do(t, http.MethodGet, "/api/transfers?date=2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := decode[[]TransferEventDTO](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, "SRC", events[0].SourceCode)
	assert.Equal(t, "DST", events[0].DestinationCode)
	assert.Equal(t, "2025-03", events[0].CalcDate)
}

// =============================================================================
// CACHE AND HEALTH
// =============================================================================

func TestInvalidateCache(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	env.do(t, http.MethodPost, "/api/balance/calculate", CalculateRequest{
		Date: "2025-03", ProductionVolume: 100_000,
	})
	require.NotZero(t, env.handler.Calc.CachedResults())

	rec := env.do(t, http.MethodPost, "/api/cache/invalidate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.handler.Calc.CachedResults())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testSiteNetwork())

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

// =============================================================================
// INSTRUMENTATION
// =============================================================================

func TestRouter_RecordsRequestMetrics(t *testing.T) {
	// GIVEN: An environment with a fresh metrics registry
	env := newTestEnv(t, testSiteNetwork())
	require.Zero(t, testutil.CollectAndCount(env.metrics.APIRequestsTotal))

	// WHEN: Serving requests through the router
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/facilities", nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/facilities/NOPE", nil).Code)

	// THEN: Counts land per (endpoint, method, status) and durations per
	// endpoint
	assert.Equal(t, 2, testutil.CollectAndCount(env.metrics.APIRequestsTotal))
	assert.NotZero(t, testutil.CollectAndCount(env.metrics.APIRequestDuration))
}

func TestStore_RecordsQueryDurations(t *testing.T) {
	// GIVEN: A seeded environment
	env := newTestEnv(t, testSiteNetwork())

	// WHEN: A handler reads through the store
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/facilities", nil).Code)

	// THEN: The store histogram has observations for the query type
	count := testutil.CollectAndCount(env.metrics.StoreQueryDuration)
	assert.NotZero(t, count, "store queries must be timed")
}
