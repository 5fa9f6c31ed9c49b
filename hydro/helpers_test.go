package hydro_test

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/hydro"
)

// =============================================================================
// TEST HELPERS
// =============================================================================
// Shared across the package's test files.

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func vol(f float64) hydro.Volume {
	return hydro.NewVolume(f)
}

func mar2025() hydro.Month {
	return hydro.NewMonth(2025, time.March)
}

// approxEqual absorbs division rounding in decimal results.
func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(dec("0.0001"))
}

func volApproxEqual(a, b hydro.Volume) bool {
	return approxEqual(a.Value, b.Value)
}

// testConstants is the engineering configuration most tests run with.
func testConstants() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		hydro.ConstMiningWaterPerTonne:  dec("1.2"),
		hydro.ConstTSFReturnPct:         dec("35"),
		hydro.ConstTailingsRetentionPct: dec("0.25"),
		hydro.ConstOreDensity:           dec("2.7"),
		hydro.ConstSeepageRatePct:       dec("2"),
		hydro.ConstDustSuppressionRate:  dec("0.03"),
		hydro.ConstTransferIncrementPct: dec("5"),
	}
}

// countingProvider wraps a MeasurementProvider and counts lookups.
type countingProvider struct {
	inner hydro.MeasurementProvider
	calls int
}

func (p *countingProvider) Measurement(ctx context.Context, param hydro.ParameterType, date hydro.Month) (decimal.Decimal, bool, error) {
	p.calls++
	return p.inner.Measurement(ctx, param, date)
}

// failingProvider returns an I/O error for every lookup.
type failingProvider struct{}

func (failingProvider) Measurement(context.Context, hydro.ParameterType, hydro.Month) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, errors.New("measurement backend unreachable")
}
