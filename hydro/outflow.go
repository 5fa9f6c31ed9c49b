/*
outflow.go - Outflow aggregation: plant circuit, losses, consumption

PURPOSE:
  Sums everything leaving the water network for one month: the plant
  consumption circuit (gross, TSF return, net, tailings retention),
  evaporation, seepage, dust suppression, and the fixed consumption
  categories.

TWO TOTALS:
  ClosureTotal = plant net + evaporation + discharge. Nothing else enters
  the closure check: seepage already moves storage volumes so it shows up
  inside the storage change term, and gross, TSF return, and tailings
  retention are components of the plant circuit, not independent exits.
  Adding any of them back double-counts. Total is the wider operational
  number used for reporting and KPIs.

SEE ALSO:
  - inflow.go: credits the TSF return computed here
  - closure.go: consumes ClosureTotal
*/
package hydro

import (
	"context"

	"github.com/shopspring/decimal"
)

// OutflowInput carries everything the aggregation needs for one month.
// Facility volumes are the opening volumes for the period; the seepage
// fallback is derived from them.
type OutflowInput struct {
	Date       Month
	Facilities []Facility
	OreTonnes  decimal.Decimal
	Overrides  Overrides
}

// OutflowBreakdown is the aggregation result. TSFReturn is surfaced
// separately so the calculator can feed it to the inflow side.
type OutflowBreakdown struct {
	Categories map[OutflowCategory]Volume

	// Total is the reported operational outflow.
	Total Volume

	// ClosureTotal is the subset entering the closure check.
	ClosureTotal Volume

	// TSFReturn mirrors Categories[OutflowTSFReturn].
	TSFReturn Volume
}

// OutflowAggregator computes the outflow side of the balance. Stateless
// apart from the run's resolver; no side effects.
type OutflowAggregator struct {
	resolver *Resolver
}

func NewOutflowAggregator(r *Resolver) *OutflowAggregator {
	return &OutflowAggregator{resolver: r}
}

// Aggregate resolves and sums every outflow category for the month.
func (a *OutflowAggregator) Aggregate(ctx context.Context, in OutflowInput) OutflowBreakdown {
	categories := make(map[OutflowCategory]Volume, 11)

	// =========================================================================
	// PLANT CIRCUIT - gross, TSF return, net, tailings retention
	// =========================================================================

	waterPerTonne := a.resolver.Constant(ConstMiningWaterPerTonne, decimal.Zero)
	gross := NewVolumeFromDecimal(in.OreTonnes.Mul(waterPerTonne))

	tsfPct := a.resolver.Constant(ConstTSFReturnPct, decimal.Zero)
	tsfReturn := gross.Mul(tsfPct.Div(hundred))
	net := gross.Sub(tsfReturn)

	// Retention constant is a fraction of the non-returned water.
	retention := a.resolver.Constant(ConstTailingsRetentionPct, decimal.Zero)
	tailings := net.Mul(retention)

	categories[OutflowPlantGross] = gross
	categories[OutflowTSFReturn] = tsfReturn
	categories[OutflowPlantNet] = net
	categories[OutflowTailingsRetention] = tailings

	// =========================================================================
	// EVAPORATION - depth over participating surface area
	// =========================================================================

	evapMM := a.resolver.Resolve(ctx, ParamEvaporation, in.Date, in.Overrides)
	categories[OutflowEvaporation] = NewVolumeFromDecimal(
		evapMM.Div(thousand).Mul(participatingArea(in.Facilities)))

	// =========================================================================
	// SEEPAGE LOSS - measured, else per-facility rate on opening volumes
	// =========================================================================

	seepRate := a.resolver.Constant(ConstSeepageRatePct, decimal.Zero)
	seepFallback := decimal.Zero
	for _, f := range in.Facilities {
		seepFallback = seepFallback.Add(f.CurrentVolume.Value.Mul(seepRate.Div(hundred)))
	}
	seepRes := a.resolver.ResolveWithFallback(ctx, ParamSeepageLoss, in.Date, in.Overrides, seepFallback)
	categories[OutflowSeepageLoss] = NewVolumeFromDecimal(seepRes.Value)

	// =========================================================================
	// DUST SUPPRESSION - measured, else tonnage rate
	// =========================================================================

	dustRate := a.resolver.Constant(ConstDustSuppressionRate, decimal.Zero)
	dustRes := a.resolver.ResolveWithFallback(ctx, ParamDustSuppression, in.Date, in.Overrides,
		in.OreTonnes.Mul(dustRate))
	categories[OutflowDustSuppression] = NewVolumeFromDecimal(dustRes.Value)

	// =========================================================================
	// FIXED CONSUMPTION CATEGORIES
	// =========================================================================

	categories[OutflowMiningConsumption] = NewVolumeFromDecimal(
		a.resolver.Resolve(ctx, ParamMiningConsumption, in.Date, in.Overrides))
	categories[OutflowDomesticConsumption] = NewVolumeFromDecimal(
		a.resolver.Resolve(ctx, ParamDomesticConsumption, in.Date, in.Overrides))
	categories[OutflowDischarge] = NewVolumeFromDecimal(
		a.resolver.Resolve(ctx, ParamDischarge, in.Date, in.Overrides))
	categories[OutflowProductMoisture] = NewVolumeFromDecimal(
		a.resolver.Resolve(ctx, ParamProductMoisture, in.Date, in.Overrides))

	// =========================================================================
	// TOTALS
	// =========================================================================

	total := ZeroVolume()
	for _, c := range reportedOutflowCategories {
		total = total.Add(categories[c])
	}

	closure := categories[OutflowPlantNet].
		Add(categories[OutflowEvaporation]).
		Add(categories[OutflowDischarge])

	return OutflowBreakdown{
		Categories:   categories,
		Total:        total,
		ClosureTotal: closure,
		TSFReturn:    tsfReturn,
	}
}
