/*
Package hydro provides the site water balance engine.

PURPOSE:
  This package computes a monthly mass balance for a network of water
  storage facilities and water sources, plans pump transfers between
  facilities when fill levels cross configured thresholds, and applies
  those transfers transactionally with idempotency guarantees.

KEY CONCEPTS IN THIS FILE (types.go):
  - Volume: A quantity of water in cubic metres, decimal-backed
  - Facility: A storage body (dam, pond, pit, TSF, tank) with capacity,
    fill level, pump thresholds, and a priority-ordered feeds_to list
  - Source: A water source (surface, groundwater, underground) with an
    average flow rate and reliability factor
  - ParameterType: Typed name of a measured series (rainfall, evaporation,
    per-source flows, per-facility inflow/outflow)
  - TransferScope: Deployment gate for automatic transfer application

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere; floats only at the JSON boundary
  2. Graceful degradation: missing data resolves through fallback chains,
     never through exceptions
  3. Clamping: facility volumes stay within [0, capacity] by construction
  4. Auditability: every applied transfer leaves a unique audit row

USAGE:
  calc := hydro.NewCalculator(hydro.CalculatorConfig{
      Measurements: provider,
      Config:       config,
  })
  out, err := calc.Calculate(ctx, hydro.CalcInput{
      Date:             hydro.NewMonth(2025, time.March),
      ProductionVolume: decimal.NewFromInt(120000),
  })

SEE ALSO:
  - resolver.go: measurement fallback chain
  - inflow.go / outflow.go: category aggregation
  - facility.go: per-facility projection and clamping
  - pump.go / apply.go: transfer planning and application
  - calculator.go: the pipeline entry point
*/
package hydro

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VOLUME - Quantity of water in cubic metres
// =============================================================================

type Volume struct {
	Value decimal.Decimal
}

func NewVolume(value float64) Volume {
	return Volume{Value: decimal.NewFromFloat(value)}
}

func NewVolumeFromDecimal(d decimal.Decimal) Volume {
	return Volume{Value: d}
}

func ZeroVolume() Volume {
	return Volume{Value: decimal.Zero}
}

func (v Volume) Add(o Volume) Volume          { return Volume{Value: v.Value.Add(o.Value)} }
func (v Volume) Sub(o Volume) Volume          { return Volume{Value: v.Value.Sub(o.Value)} }
func (v Volume) Mul(s decimal.Decimal) Volume { return Volume{Value: v.Value.Mul(s)} }
func (v Volume) Neg() Volume                  { return Volume{Value: v.Value.Neg()} }
func (v Volume) Abs() Volume                  { return Volume{Value: v.Value.Abs()} }
func (v Volume) IsZero() bool                 { return v.Value.IsZero() }
func (v Volume) IsNegative() bool             { return v.Value.IsNegative() }
func (v Volume) IsPositive() bool             { return v.Value.IsPositive() }
func (v Volume) Equal(o Volume) bool          { return v.Value.Equal(o.Value) }
func (v Volume) GreaterThan(o Volume) bool    { return v.Value.GreaterThan(o.Value) }
func (v Volume) LessThan(o Volume) bool       { return v.Value.LessThan(o.Value) }
func (v Volume) String() string               { return v.Value.String() }

// Div returns v/s, or zero when s is zero. Water math prefers degrading to
// zero over panicking on a bad configured rate.
func (v Volume) Div(s decimal.Decimal) Volume {
	if s.IsZero() {
		return ZeroVolume()
	}
	return Volume{Value: v.Value.Div(s)}
}

// Clamp bounds v to [lo, hi].
func (v Volume) Clamp(lo, hi Volume) Volume {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Float64 converts for the DTO boundary only.
func (v Volume) Float64() float64 {
	f, _ := v.Value.Float64()
	return f
}

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// LevelPercent returns volume as a percentage of capacity.
// Zero capacity degrades to 0 rather than dividing by zero.
func LevelPercent(volume, capacity Volume) decimal.Decimal {
	if capacity.Value.IsZero() || capacity.Value.IsNegative() {
		return decimal.Zero
	}
	return volume.Value.Div(capacity.Value).Mul(hundred)
}

// =============================================================================
// PARAMETERS - Typed names for measured series
// =============================================================================

// ParameterType names one measured series. Per-source and per-facility
// series are derived with the prefix helpers below.
type ParameterType string

const (
	ParamRainfall            ParameterType = "rainfall_mm"
	ParamEvaporation         ParameterType = "evaporation_mm"
	ParamOreTonnes           ParameterType = "ore_tonnes"
	ParamOreMoisturePct      ParameterType = "ore_moisture_pct"
	ParamPlantReturns        ParameterType = "plant_returns"
	ParamReturnsToPit        ParameterType = "returns_to_pit"
	ParamSeepageGain         ParameterType = "seepage_gain"
	ParamSeepageLoss         ParameterType = "seepage_loss"
	ParamDustSuppression     ParameterType = "dust_suppression"
	ParamMiningConsumption   ParameterType = "mining_consumption"
	ParamDomesticConsumption ParameterType = "domestic_consumption"
	ParamDischarge           ParameterType = "discharge"
	ParamProductMoisture     ParameterType = "product_moisture"
)

// SourceFlowParam names the measured flow series for one source.
func SourceFlowParam(code string) ParameterType {
	return ParameterType("source_flow:" + code)
}

// FacilityInflowParam names the measured inflow series for one facility.
func FacilityInflowParam(code string) ParameterType {
	return ParameterType("facility_inflow:" + code)
}

// FacilityOutflowParam names the measured outflow series for one facility.
func FacilityOutflowParam(code string) ParameterType {
	return ParameterType("facility_outflow:" + code)
}

// DefaultConstantName is the configuration key holding the configured
// default for a parameter, the final rung of the resolver chain.
func DefaultConstantName(param ParameterType) string {
	return "default:" + string(param)
}

// Overrides carries caller-supplied parameter values that outrank every
// other resolution source. Nil means no overrides.
type Overrides map[ParameterType]decimal.Decimal

// =============================================================================
// CONFIGURATION CONSTANTS
// =============================================================================

const (
	ConstMiningWaterPerTonne  = "mining_water_per_tonne"          // m³ consumed per tonne milled
	ConstTSFReturnPct         = "tsf_return_pct"                  // % of gross returned from the TSF
	ConstTailingsRetentionPct = "tailings_moisture_retention_pct" // fraction of non-returned water locked in tailings
	ConstOreDensity           = "ore_density"                     // t/m³
	ConstSeepageRatePct       = "default_seepage_rate_pct"        // % of facility volume lost per month
	ConstDustSuppressionRate  = "dust_suppression_rate"           // m³ per tonne
	ConstTransferIncrementPct = "transfer_increment_pct"          // % of source capacity moved per transfer
	ConstClosureThresholdPct  = "closure_threshold_pct"
	ConstHistoryMonths        = "history_months" // resolver fallback window
)

var (
	DefaultTransferIncrementPct = decimal.NewFromInt(5)
	DefaultClosureThresholdPct  = decimal.NewFromInt(5)
)

// DefaultHistoryMonths is the prior-period window for the historical-average
// fallback when the configuration does not set one.
const DefaultHistoryMonths = 3

// =============================================================================
// FACILITY - Water storage body
// =============================================================================

type FacilityType string

const (
	FacilityDam  FacilityType = "dam"
	FacilityPond FacilityType = "pond"
	FacilityPit  FacilityType = "pit"
	FacilityTSF  FacilityType = "tsf"
	FacilityTank FacilityType = "tank"
	FacilitySump FacilityType = "sump"
)

type Facility struct {
	Code string
	Name string
	Type FacilityType

	// Area is the named site area the facility belongs to. Pilot-scoped
	// transfer application gates on it.
	Area string

	TotalCapacity Volume
	CurrentVolume Volume
	SurfaceArea   decimal.Decimal // m²

	// EvaporationParticipant marks facilities whose surface takes rainfall
	// and loses evaporation.
	EvaporationParticipant bool

	// PumpStartLevel and PumpStopLevel are percentages of capacity.
	// Pumping is considered once the level reaches PumpStartLevel;
	// a destination accepts water only below its own PumpStartLevel.
	PumpStartLevel decimal.Decimal
	PumpStopLevel  decimal.Decimal

	// FeedsTo lists destination facility codes in priority order.
	FeedsTo []string

	Active bool
}

// LevelPct is the current fill level as a percentage of capacity.
func (f Facility) LevelPct() decimal.Decimal {
	return LevelPercent(f.CurrentVolume, f.TotalCapacity)
}

// LevelPctAt reports the fill percentage this facility would have at the
// given volume.
func (f Facility) LevelPctAt(v Volume) decimal.Decimal {
	return LevelPercent(v, f.TotalCapacity)
}

// Validate reports configuration findings as warnings. Bad configuration
// never stops a calculation; it degrades it.
func (f Facility) Validate() []Warning {
	var warnings []Warning
	if f.TotalCapacity.IsZero() || f.TotalCapacity.IsNegative() {
		warnings = append(warnings, Warningf(WarnZeroCapacity,
			"facility %s has non-positive capacity %s", f.Code, f.TotalCapacity))
	}
	if f.PumpStopLevel.GreaterThanOrEqual(f.PumpStartLevel) && !f.PumpStartLevel.IsZero() {
		warnings = append(warnings, Warningf(WarnPumpLevels,
			"facility %s pump_stop_level %s >= pump_start_level %s",
			f.Code, f.PumpStopLevel, f.PumpStartLevel))
	}
	if f.CurrentVolume.IsNegative() || f.CurrentVolume.GreaterThan(f.TotalCapacity) {
		warnings = append(warnings, Warningf(WarnVolumeOutOfRange,
			"facility %s volume %s outside [0, %s]", f.Code, f.CurrentVolume, f.TotalCapacity))
	}
	return warnings
}

// =============================================================================
// SOURCE - Water source feeding the network
// =============================================================================

type SourceCategory string

const (
	SourceSurface     SourceCategory = "surface"
	SourceGroundwater SourceCategory = "groundwater"
	SourceUnderground SourceCategory = "underground"
)

type Source struct {
	Code     string
	Name     string
	Category SourceCategory

	// AverageFlowRate is m³ per month, used when no measurement exists.
	AverageFlowRate Volume

	// ReliabilityFactor may be stored as a fraction (0.85) or a percentage
	// (85). NormalizedReliability reads it either way.
	ReliabilityFactor decimal.Decimal
}

var one = decimal.NewFromInt(1)

// NormalizedReliability returns the reliability factor on [0, 1].
func (s Source) NormalizedReliability() decimal.Decimal {
	r := s.ReliabilityFactor
	if r.GreaterThan(one) {
		r = r.Div(hundred)
	}
	if r.IsNegative() {
		return decimal.Zero
	}
	if r.GreaterThan(one) {
		return one
	}
	return r
}

// =============================================================================
// MEASUREMENT - Externally supplied series point
// =============================================================================

type Measurement struct {
	Parameter ParameterType
	Date      Month
	Value     decimal.Decimal
}

// =============================================================================
// TRANSFER SCOPE - Deployment gate for automatic application
// =============================================================================

type ScopeMode string

const (
	ScopeGlobal ScopeMode = "global"
	ScopePilot  ScopeMode = "pilot"
)

// TransferScope gates automatic transfer application. Global applies
// everything; pilot applies only transfers whose source facility sits in
// an allowlisted area.
type TransferScope struct {
	Mode       ScopeMode
	PilotAreas []string
}

// Allows reports whether a source facility in the given area may have its
// transfers applied under this scope.
func (s TransferScope) Allows(area string) bool {
	if s.Mode != ScopePilot {
		return true
	}
	for _, a := range s.PilotAreas {
		if strings.EqualFold(a, area) {
			return true
		}
	}
	return false
}

// =============================================================================
// WARNINGS - Data-quality and configuration findings
// =============================================================================

type WarningCode string

const (
	WarnZeroCapacity        WarningCode = "zero_capacity"
	WarnPumpLevels          WarningCode = "pump_levels"
	WarnVolumeOutOfRange    WarningCode = "volume_out_of_range"
	WarnOrphanDestination   WarningCode = "orphan_destination"
	WarnInactiveDestination WarningCode = "inactive_destination"
	WarnProviderFailure     WarningCode = "provider_failure"
	WarnMissingConstant     WarningCode = "missing_constant"
	WarnInvalidConfig       WarningCode = "invalid_config"
)

// Warning is a non-fatal finding carried on the balance result.
type Warning struct {
	Code    WarningCode
	Message string
}

func Warningf(code WarningCode, format string, args ...any) Warning {
	return Warning{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (w Warning) String() string {
	return string(w.Code) + ": " + w.Message
}
