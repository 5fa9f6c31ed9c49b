/*
closure.go - Mass-balance closure check

PURPOSE:
  Measures how far the month fails to balance:

    error     = fresh inflows - closure outflows - ΔStorage
    error_pct = |error| / fresh inflows x 100

  and classifies the run CLOSED or OPEN against a percentage threshold.
  A perfect month nets to zero: every cubic metre of new water is either
  consumed, discharged, evaporated, or sitting in storage.

REPORTING ONLY:
  The verdict never blocks or mutates a result. An OPEN status means the
  measurements disagree with the model and someone should look at the data.
*/
package hydro

import "github.com/shopspring/decimal"

// ClosureValidator classifies closure error against a percent threshold.
type ClosureValidator struct {
	Threshold decimal.Decimal
}

// NewClosureValidator normalizes a non-positive threshold to the default.
func NewClosureValidator(threshold decimal.Decimal) ClosureValidator {
	if threshold.LessThanOrEqual(decimal.Zero) {
		threshold = DefaultClosureThresholdPct
	}
	return ClosureValidator{Threshold: threshold}
}

// Validate computes the closure error for one month. The percentage is
// relative to fresh inflows and reads as zero when there are none.
func (v ClosureValidator) Validate(freshInflows, closureOutflows, storageChange Volume) Closure {
	err := freshInflows.Sub(closureOutflows).Sub(storageChange)

	pct := decimal.Zero
	if freshInflows.IsPositive() {
		pct = err.Abs().Value.Div(freshInflows.Value).Mul(hundred)
	}

	status := StatusOpen
	if pct.LessThanOrEqual(v.Threshold) {
		status = StatusClosed
	}

	return Closure{
		Error:     err,
		ErrorPct:  pct,
		Threshold: v.Threshold,
		Status:    status,
	}
}
