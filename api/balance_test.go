/*
balance_test.go - End-to-end balance tests through the HTTP surface

CORE DESIGN:
- The reference two-facility scenario produces exact, hand-checkable
  numbers: a 5% capacity increment from a 1,000,000 m3 dam is 50,000 m3,
  lifting the destination from 60.0% to 70.0%
- Pilot scoping is enforced at application time, not planning time
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewater/balance-engine/factory"
	"github.com/sitewater/balance-engine/hydro"
)

// referenceNetwork isolates the pump math: no sources, no weather, no
// seepage, so transfer numbers come out exact.
func referenceNetwork() factory.NetworkJSON {
	return factory.NetworkJSON{
		Name: "reference site",
		Constants: map[string]float64{
			hydro.ConstTransferIncrementPct: 5,
			hydro.ConstSeepageRatePct:       0,
		},
		Facilities: []factory.FacilityJSON{
			{
				Code: "SRC", Name: "Source dam", Type: "dam", Area: "west",
				TotalCapacity: 1_000_000, CurrentVolume: 800_000,
				PumpStartLevel: 70, PumpStopLevel: 30,
				FeedsTo: []string{"DST"},
			},
			{
				Code: "DST", Name: "Destination dam", Type: "dam", Area: "east",
				TotalCapacity: 500_000, CurrentVolume: 300_000,
				PumpStartLevel: 70, PumpStopLevel: 30,
			},
		},
	}
}

func TestBalance_ReferenceTransferScenario(t *testing.T) {
	// GIVEN: SRC at 80% (start 70%) feeding DST at 60% (start 70%)
	env := newTestEnv(t, referenceNetwork())

	// WHEN: Calculating the month
	rec := env.do(t, http.MethodPost, "/api/balance/calculate", CalculateRequest{
		Date: "2025-03",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[CalculateResponseDTO](t, rec).Result

	// THEN: One transfer of exactly 5% of SRC capacity, 60.0% -> 70.0%
	require.Len(t, result.PumpTransfers, 1)
	transfer := result.PumpTransfers[0]
	assert.Equal(t, "SRC", transfer.SourceCode)
	assert.Equal(t, "DST", transfer.DestinationCode)
	assert.Equal(t, 1, transfer.Priority)
	assert.InDelta(t, 50_000.0, transfer.Volume, 0.001)
	assert.InDelta(t, 60.0, transfer.DestLevelBefore, 0.001)
	assert.InDelta(t, 70.0, transfer.DestLevelAfter, 0.001)
}

func TestBalance_StorageChangeMatchesProjection(t *testing.T) {
	env := newTestEnv(t, referenceNetwork())

	rec := env.do(t, http.MethodPost, "/api/balance/calculate", CalculateRequest{
		Date: "2025-03",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[CalculateResponseDTO](t, rec).Result

	// No weather, no sources: volumes hold and storage change is zero.
	assert.InDelta(t, 1_100_000.0, result.TotalOpening, 0.001)
	assert.InDelta(t, 1_100_000.0, result.TotalClosing, 0.001)
	assert.InDelta(t, 0.0, result.StorageChange, 0.001)

	for _, b := range result.Facilities {
		assert.LessOrEqual(t, b.Closing, map[string]float64{
			"SRC": 1_000_000, "DST": 500_000,
		}[b.Code], "clamping invariant")
		assert.GreaterOrEqual(t, b.Closing, 0.0)
	}
}

func TestBalance_PilotScope_SkipsUnlistedArea(t *testing.T) {
	// GIVEN: Transfer scope gated to the east area; SRC sits in west
	doc := referenceNetwork()
	doc.TransferScope = &factory.ScopeJSON{
		Mode:       string(hydro.ScopePilot),
		PilotAreas: []string{"east"},
	}
	env := newTestEnv(t, doc)

	// WHEN: Applying transfers
	rec := env.do(t, http.MethodPost, "/api/transfers/apply", ApplyRequest{Date: "2025-03"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CalculateResponseDTO](t, rec)

	// THEN: The planned transfer is reported but not applied
	require.Len(t, resp.Result.PumpTransfers, 1)
	require.NotNil(t, resp.Applied)
	assert.Empty(t, resp.Applied.Applied)
	assert.Len(t, resp.Applied.SkippedScope, 1)

	src, err := env.store.Facility(context.Background(), "SRC")
	require.NoError(t, err)
	assert.InDelta(t, 800_000.0, src.CurrentVolume.Float64(), 0.001, "volumes untouched")
}

func TestBalance_GlobalScope_AppliesAllAreas(t *testing.T) {
	env := newTestEnv(t, referenceNetwork())

	rec := env.do(t, http.MethodPost, "/api/transfers/apply", ApplyRequest{Date: "2025-03"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CalculateResponseDTO](t, rec)

	require.NotNil(t, resp.Applied)
	require.Len(t, resp.Applied.Applied, 1)

	ctx := context.Background()
	src, err := env.store.Facility(ctx, "SRC")
	require.NoError(t, err)
	dst, err := env.store.Facility(ctx, "DST")
	require.NoError(t, err)
	assert.InDelta(t, 750_000.0, src.CurrentVolume.Float64(), 0.001)
	assert.InDelta(t, 350_000.0, dst.CurrentVolume.Float64(), 0.001)
}
