/*
facility.go - Per-facility opening-to-closing projection

PURPOSE:
  Projects each facility's volume across the month and aggregates the
  system-wide storage change:

    inflow   = measured facility inflow + rainfall share (participants)
    outflow  = measured facility outflow + evaporation share (participants)
               + seepage (opening x rate)
    closing  = clamp(opening + inflow - outflow, 0, capacity)

CLAMPING:
  Volumes never leave [0, capacity]. What clamping absorbs is kept as
  Overflow or Deficit on the balance; the reported NetBalance is the
  post-clamp closing minus opening, and that is what feeds ΔStorage.
  An unclamped net would make the storage change claim water the
  facility cannot physically hold.

  Inactive facilities still hold water and still evaporate; the active
  flag gates pumping, not the projection.

SEE ALSO:
  - pump.go: plans transfers over the projected closings
  - closure.go: consumes StorageChange
*/
package hydro

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// FacilityInput carries everything the projection needs for one month.
type FacilityInput struct {
	Date       Month
	Facilities []Facility
	Overrides  Overrides
}

// FacilityProjection is the engine's result. Balances are ordered by
// facility code.
type FacilityProjection struct {
	Balances      []FacilityBalance
	TotalOpening  Volume
	TotalClosing  Volume
	StorageChange Volume
}

// FacilityEngine projects facility volumes. Stateless apart from the run's
// resolver; no side effects.
type FacilityEngine struct {
	resolver *Resolver
}

func NewFacilityEngine(r *Resolver) *FacilityEngine {
	return &FacilityEngine{resolver: r}
}

// Project computes every facility balance and the aggregate storage change.
func (e *FacilityEngine) Project(ctx context.Context, in FacilityInput) FacilityProjection {
	rainMM := e.resolver.Resolve(ctx, ParamRainfall, in.Date, in.Overrides)
	evapMM := e.resolver.Resolve(ctx, ParamEvaporation, in.Date, in.Overrides)
	seepRate := e.resolver.Constant(ConstSeepageRatePct, decimal.Zero)

	facilities := make([]Facility, len(in.Facilities))
	copy(facilities, in.Facilities)
	sort.Slice(facilities, func(i, j int) bool { return facilities[i].Code < facilities[j].Code })

	out := FacilityProjection{
		Balances:     make([]FacilityBalance, 0, len(facilities)),
		TotalOpening: ZeroVolume(),
		TotalClosing: ZeroVolume(),
	}

	for _, f := range facilities {
		b := e.project(ctx, f, in.Date, in.Overrides, rainMM, evapMM, seepRate)
		out.Balances = append(out.Balances, b)
		out.TotalOpening = out.TotalOpening.Add(b.Opening)
		out.TotalClosing = out.TotalClosing.Add(b.Closing)
	}

	out.StorageChange = out.TotalClosing.Sub(out.TotalOpening)
	return out
}

func (e *FacilityEngine) project(ctx context.Context, f Facility, date Month, ov Overrides, rainMM, evapMM, seepRate decimal.Decimal) FacilityBalance {
	opening := f.CurrentVolume

	inflow := NewVolumeFromDecimal(e.resolver.Resolve(ctx, FacilityInflowParam(f.Code), date, ov))
	outflow := NewVolumeFromDecimal(e.resolver.Resolve(ctx, FacilityOutflowParam(f.Code), date, ov))

	if f.EvaporationParticipant {
		inflow = inflow.Add(NewVolumeFromDecimal(rainMM.Div(thousand).Mul(f.SurfaceArea)))
		outflow = outflow.Add(NewVolumeFromDecimal(evapMM.Div(thousand).Mul(f.SurfaceArea)))
	}
	outflow = outflow.Add(opening.Mul(seepRate.Div(hundred)))

	closingRaw := opening.Add(inflow).Sub(outflow)

	closing := closingRaw
	overflow := ZeroVolume()
	deficit := ZeroVolume()
	switch {
	case closingRaw.GreaterThan(f.TotalCapacity):
		closing = f.TotalCapacity
		overflow = closingRaw.Sub(f.TotalCapacity)
	case closingRaw.IsNegative():
		closing = ZeroVolume()
		deficit = closingRaw.Neg()
	}

	return FacilityBalance{
		Code:       f.Code,
		Name:       f.Name,
		Opening:    opening,
		Inflow:     inflow,
		Outflow:    outflow,
		Closing:    closing,
		Overflow:   overflow,
		Deficit:    deficit,
		NetBalance: closing.Sub(opening),
		LevelPct:   LevelPercent(closing, f.TotalCapacity),
	}
}
