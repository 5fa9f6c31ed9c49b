package hydro

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BREAKDOWN CATEGORIES
// =============================================================================

// InflowCategory names one line of the inflow breakdown.
type InflowCategory string

const (
	InflowSurfaceWater InflowCategory = "surface_water"
	InflowGroundwater  InflowCategory = "groundwater"
	InflowUnderground  InflowCategory = "underground_dewatering"
	InflowRainfall     InflowCategory = "rainfall"
	InflowOreMoisture  InflowCategory = "ore_moisture"
	InflowTSFReturn    InflowCategory = "tsf_return"
	InflowPlantReturns InflowCategory = "plant_returns"
	InflowReturnsToPit InflowCategory = "returns_to_pit"
	InflowSeepageGain  InflowCategory = "seepage_gain"
)

// freshInflowCategories are newly sourced water. The recycled/return
// credits (TSF return, plant returns, returns-to-pit, seepage gain) are
// deliberately not here; closure error is measured against fresh water only.
var freshInflowCategories = []InflowCategory{
	InflowSurfaceWater,
	InflowGroundwater,
	InflowUnderground,
	InflowRainfall,
	InflowOreMoisture,
}

// OutflowCategory names one line of the outflow breakdown.
type OutflowCategory string

const (
	OutflowPlantGross          OutflowCategory = "plant_consumption_gross"
	OutflowTSFReturn           OutflowCategory = "tsf_return"
	OutflowPlantNet            OutflowCategory = "plant_consumption_net"
	OutflowTailingsRetention   OutflowCategory = "tailings_retention"
	OutflowEvaporation         OutflowCategory = "evaporation"
	OutflowSeepageLoss         OutflowCategory = "seepage_loss"
	OutflowDustSuppression     OutflowCategory = "dust_suppression"
	OutflowMiningConsumption   OutflowCategory = "mining_consumption"
	OutflowDomesticConsumption OutflowCategory = "domestic_consumption"
	OutflowDischarge           OutflowCategory = "discharge"
	OutflowProductMoisture     OutflowCategory = "product_moisture"
)

// reportedOutflowCategories enter the reported operational total. Gross,
// TSF return, and tailings retention are components of the plant circuit
// and stay informational so the total never double-counts them.
var reportedOutflowCategories = []OutflowCategory{
	OutflowPlantNet,
	OutflowEvaporation,
	OutflowSeepageLoss,
	OutflowDustSuppression,
	OutflowMiningConsumption,
	OutflowDomesticConsumption,
	OutflowDischarge,
	OutflowProductMoisture,
}

// =============================================================================
// CLOSURE STATUS
// =============================================================================

type ClosureStatus string

const (
	StatusClosed ClosureStatus = "CLOSED"
	StatusOpen   ClosureStatus = "OPEN"
)

// Closure is the outcome of the closure-error check. Reporting only; it
// never blocks or mutates the balance.
type Closure struct {
	Error     Volume
	ErrorPct  decimal.Decimal
	Threshold decimal.Decimal
	Status    ClosureStatus
}

// =============================================================================
// FACILITY BALANCE
// =============================================================================

// FacilityBalance is one facility's opening-to-closing projection for the
// period. NetBalance is post-clamp (closing - opening); Overflow and
// Deficit record what clamping absorbed.
type FacilityBalance struct {
	Code    string
	Name    string
	Opening Volume
	Inflow  Volume
	Outflow Volume
	Closing Volume

	Overflow Volume
	Deficit  Volume

	NetBalance Volume

	// LevelPct is the closing fill percentage (0 for zero capacity).
	LevelPct decimal.Decimal
}

// =============================================================================
// PUMP TRANSFERS
// =============================================================================

// PumpTransfer is a planned redistribution. Computed, not persisted; the
// applier turns accepted plans into TransferEvents.
type PumpTransfer struct {
	SourceCode      string
	DestinationCode string

	// Priority is the 1-based position of the destination in the source's
	// feeds_to list.
	Priority int

	Volume Volume

	DestinationLevelBeforePct decimal.Decimal
	DestinationLevelAfterPct  decimal.Decimal
}

// TransferEvent is the persisted audit record of an applied transfer.
// (CalcDate, SourceCode, DestinationCode) is unique; that key is what makes
// repeated application runs idempotent.
type TransferEvent struct {
	CalcDate        Month
	SourceCode      string
	DestinationCode string
	Volume          Volume
	AppliedAt       time.Time
}

// =============================================================================
// BALANCE RESULT
// =============================================================================

// BalanceResult is the complete outcome of one calculation. Immutable once
// returned: the cache hands the same pointer to every caller, so nothing
// downstream may mutate it.
type BalanceResult struct {
	Date             Month
	ProductionVolume decimal.Decimal

	Inflows      map[InflowCategory]Volume
	SourceFlows  map[string]Volume // per source code
	TotalInflows Volume
	FreshInflows Volume

	Outflows map[OutflowCategory]Volume

	// TotalOutflows is the reported sum of operational outflows.
	// ClosureOutflows is the deliberately narrower total used by the
	// closure check: net plant consumption + evaporation + discharge.
	TotalOutflows   Volume
	ClosureOutflows Volume

	Facilities    []FacilityBalance
	TotalOpening  Volume
	TotalClosing  Volume
	StorageChange Volume

	ClosureError     Volume
	ClosureErrorPct  decimal.Decimal
	ClosureThreshold decimal.Decimal
	Status           ClosureStatus

	PumpTransfers []PumpTransfer

	Warnings []Warning

	ComputedAt time.Time
}

// KPISet is the dashboard projection of a BalanceResult.
type KPISet struct {
	Date             Month
	ProductionVolume decimal.Decimal
	TotalInflows     Volume
	FreshInflows     Volume
	TotalOutflows    Volume
	StorageChange    Volume
	SystemFillPct    decimal.Decimal
	ClosureErrorPct  decimal.Decimal
	Status           ClosureStatus
	TransferCount    int
	WarningCount     int
}

// KPIsFromResult projects the headline figures from a balance result.
// systemCapacity is the summed capacity of every facility in the run.
func KPIsFromResult(r *BalanceResult, systemCapacity Volume) KPISet {
	return KPISet{
		Date:             r.Date,
		ProductionVolume: r.ProductionVolume,
		TotalInflows:     r.TotalInflows,
		FreshInflows:     r.FreshInflows,
		TotalOutflows:    r.TotalOutflows,
		StorageChange:    r.StorageChange,
		SystemFillPct:    LevelPercent(r.TotalClosing, systemCapacity),
		ClosureErrorPct:  r.ClosureErrorPct,
		Status:           r.Status,
		TransferCount:    len(r.PumpTransfers),
		WarningCount:     len(r.Warnings),
	}
}
