/*
inflow.go - Inflow aggregation across source categories and credits

PURPOSE:
  Sums everything entering the water network for one month:
    - per-source flows (surface / groundwater / underground dewatering)
    - rainfall converted over participating surface areas
    - moisture carried in by milled ore
    - recycled credits: TSF return, plant returns, returns-to-pit,
      seepage gain

FRESH vs TOTAL:
  Fresh counts newly sourced water only. The recycled credits re-enter the
  circuit but were never new, so the closure check measures against Fresh.
  The TSF return credit is computed on the outflow side and passed in; the
  calculator wires the two so the credit and debit can never diverge.

SEE ALSO:
  - outflow.go: computes the TSF return this side credits
  - calculator.go: orchestration
*/
package hydro

import (
	"context"

	"github.com/shopspring/decimal"
)

// InflowInput carries everything the aggregation needs for one month.
type InflowInput struct {
	Date       Month
	Sources    []Source
	Facilities []Facility
	OreTonnes  decimal.Decimal

	// TSFReturn is the credit computed by the outflow aggregator for the
	// same month.
	TSFReturn Volume

	Overrides Overrides
}

// InflowBreakdown is the aggregation result. Categories carries every line;
// Fresh excludes the recycled/return credits.
type InflowBreakdown struct {
	Categories  map[InflowCategory]Volume
	SourceFlows map[string]Volume
	Total       Volume
	Fresh       Volume
}

// InflowAggregator computes the inflow side of the balance. Stateless apart
// from the run's resolver; no side effects.
type InflowAggregator struct {
	resolver *Resolver
}

func NewInflowAggregator(r *Resolver) *InflowAggregator {
	return &InflowAggregator{resolver: r}
}

// Aggregate resolves and sums every inflow category for the month.
func (a *InflowAggregator) Aggregate(ctx context.Context, in InflowInput) InflowBreakdown {
	categories := make(map[InflowCategory]Volume, 9)
	sourceFlows := make(map[string]Volume, len(in.Sources))

	// =========================================================================
	// SOURCE FLOWS - measured, else average_flow_rate x reliability
	// =========================================================================

	bySourceCategory := map[SourceCategory]Volume{
		SourceSurface:     ZeroVolume(),
		SourceGroundwater: ZeroVolume(),
		SourceUnderground: ZeroVolume(),
	}

	for _, src := range in.Sources {
		expected := src.AverageFlowRate.Value.Mul(src.NormalizedReliability())
		res := a.resolver.ResolveWithFallback(ctx, SourceFlowParam(src.Code), in.Date, in.Overrides, expected)
		flow := NewVolumeFromDecimal(res.Value)

		sourceFlows[src.Code] = flow
		bySourceCategory[src.Category] = bySourceCategory[src.Category].Add(flow)
	}

	categories[InflowSurfaceWater] = bySourceCategory[SourceSurface]
	categories[InflowGroundwater] = bySourceCategory[SourceGroundwater]
	categories[InflowUnderground] = bySourceCategory[SourceUnderground]

	// =========================================================================
	// RAINFALL - depth over participating surface area
	// =========================================================================

	rainfallMM := a.resolver.Resolve(ctx, ParamRainfall, in.Date, in.Overrides)
	categories[InflowRainfall] = rainfallVolume(rainfallMM, in.Facilities)

	// =========================================================================
	// ORE MOISTURE - water carried in by milled ore
	// =========================================================================

	moisturePct := a.resolver.Resolve(ctx, ParamOreMoisturePct, in.Date, in.Overrides)
	density := a.resolver.Constant(ConstOreDensity, decimal.Zero)
	categories[InflowOreMoisture] = oreMoistureVolume(in.OreTonnes, moisturePct, density)

	// =========================================================================
	// RECYCLED CREDITS
	// =========================================================================

	categories[InflowTSFReturn] = in.TSFReturn
	categories[InflowPlantReturns] = NewVolumeFromDecimal(
		a.resolver.Resolve(ctx, ParamPlantReturns, in.Date, in.Overrides))
	categories[InflowReturnsToPit] = NewVolumeFromDecimal(
		a.resolver.Resolve(ctx, ParamReturnsToPit, in.Date, in.Overrides))
	categories[InflowSeepageGain] = NewVolumeFromDecimal(
		a.resolver.Resolve(ctx, ParamSeepageGain, in.Date, in.Overrides))

	// =========================================================================
	// TOTALS
	// =========================================================================

	total := ZeroVolume()
	for _, v := range categories {
		total = total.Add(v)
	}

	fresh := ZeroVolume()
	for _, c := range freshInflowCategories {
		fresh = fresh.Add(categories[c])
	}

	return InflowBreakdown{
		Categories:  categories,
		SourceFlows: sourceFlows,
		Total:       total,
		Fresh:       fresh,
	}
}

// rainfallVolume converts a depth in millimetres to m³ over the summed
// surface area of participating facilities.
func rainfallVolume(depthMM decimal.Decimal, facilities []Facility) Volume {
	return NewVolumeFromDecimal(depthMM.Div(thousand).Mul(participatingArea(facilities)))
}

// participatingArea sums surface area over evaporation participants.
func participatingArea(facilities []Facility) decimal.Decimal {
	area := decimal.Zero
	for _, f := range facilities {
		if f.EvaporationParticipant {
			area = area.Add(f.SurfaceArea)
		}
	}
	return area
}

// oreMoistureVolume converts ore tonnage and moisture percentage to m³.
// Zero density degrades to zero volume.
func oreMoistureVolume(oreTonnes, moisturePct, density decimal.Decimal) Volume {
	water := oreTonnes.Mul(moisturePct.Div(hundred))
	return NewVolumeFromDecimal(water).Div(density)
}
