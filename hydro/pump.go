/*
pump.go - Transfer planning between facilities

PURPOSE:
  Walks the computed facility states and decides which facilities should
  push water downhill and where:

    - a facility triggers when active and level_pct >= pump_start_level
    - its feeds_to list is tried in priority order; the first destination
      accepting water (level below its own start level) wins
    - transfer volume is a fixed fraction of the SOURCE's total capacity
    - at most one transfer per source per run

  Missing and inactive destinations are skipped with a warning and the
  walk continues to the next priority. A full first-priority destination
  must not end the walk; the cascade continues.

CALCULATE ONLY:
  Plans never mutate facility state. Application, with its scope gate and
  idempotency key, lives in apply.go.

SEE ALSO:
  - facility.go: produces the closing volumes planning runs on
  - apply.go: turns plans into persisted volume changes
*/
package hydro

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/logging"
	"github.com/sitewater/balance-engine/metrics"
)

// Skip reasons recorded when a destination is passed over.
const (
	SkipDestinationMissing  = "destination_missing"
	SkipDestinationInactive = "destination_inactive"
	SkipDestinationFull     = "destination_full"
)

// PumpPlan is the planning outcome: ordered transfers plus the
// data-quality findings hit along the way.
type PumpPlan struct {
	Transfers []PumpTransfer
	Warnings  []Warning
}

// PumpEngine plans transfers over a snapshot of facility volumes.
type PumpEngine struct {
	// IncrementPct is the transfer size as a percentage of the source's
	// total capacity.
	IncrementPct decimal.Decimal

	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewPumpEngine normalizes a non-positive increment to the default.
// logger and collector may be nil.
func NewPumpEngine(incrementPct decimal.Decimal, logger *logging.Logger, collector *metrics.Collector) *PumpEngine {
	if incrementPct.LessThanOrEqual(decimal.Zero) {
		incrementPct = DefaultTransferIncrementPct
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &PumpEngine{IncrementPct: incrementPct, logger: logger, metrics: collector}
}

// Plan evaluates every active facility against the volume snapshot and
// returns the transfers that should run. volumes carries the computed
// closing volume per facility code; a facility absent from the map is
// evaluated at its stored current volume. Sources are processed in code
// order and every source sees the same snapshot.
func (e *PumpEngine) Plan(facilities []Facility, volumes map[string]Volume) PumpPlan {
	byCode := make(map[string]Facility, len(facilities))
	for _, f := range facilities {
		byCode[f.Code] = f
	}

	sources := make([]Facility, len(facilities))
	copy(sources, facilities)
	sort.Slice(sources, func(i, j int) bool { return sources[i].Code < sources[j].Code })

	var plan PumpPlan
	for _, src := range sources {
		if !src.Active || len(src.FeedsTo) == 0 {
			continue
		}
		level := src.LevelPctAt(volumeOf(src, volumes))
		if level.LessThan(src.PumpStartLevel) {
			continue
		}
		if t, ok := e.planForSource(src, byCode, volumes, &plan.Warnings); ok {
			plan.Transfers = append(plan.Transfers, t)
		}
	}
	return plan
}

// planForSource walks the source's feeds_to list and stops at the first
// destination that accepts.
func (e *PumpEngine) planForSource(src Facility, byCode map[string]Facility, volumes map[string]Volume, warnings *[]Warning) (PumpTransfer, bool) {
	volume := NewVolumeFromDecimal(src.TotalCapacity.Value.Mul(e.IncrementPct.Div(hundred)))
	if !volume.IsPositive() {
		return PumpTransfer{}, false
	}

	for i, destCode := range src.FeedsTo {
		priority := i + 1

		dest, ok := byCode[destCode]
		if !ok {
			*warnings = append(*warnings, Warningf(WarnOrphanDestination,
				"facility %s feeds unknown destination %s", src.Code, destCode))
			e.skip(src.Code, destCode, SkipDestinationMissing)
			continue
		}
		if !dest.Active {
			*warnings = append(*warnings, Warningf(WarnInactiveDestination,
				"facility %s feeds inactive destination %s", src.Code, destCode))
			e.skip(src.Code, destCode, SkipDestinationInactive)
			continue
		}

		destVolume := volumeOf(dest, volumes)
		before := dest.LevelPctAt(destVolume)
		if before.GreaterThanOrEqual(dest.PumpStartLevel) {
			e.skip(src.Code, destCode, SkipDestinationFull)
			continue
		}

		after := dest.LevelPctAt(destVolume.Add(volume))
		e.logger.Info("pump transfer planned", logging.Fields{
			"source":      src.Code,
			"destination": dest.Code,
			"priority":    priority,
			"volume":      volume.String(),
		})
		if e.metrics != nil {
			e.metrics.TransfersPlannedTotal.Inc()
		}
		return PumpTransfer{
			SourceCode:                src.Code,
			DestinationCode:           dest.Code,
			Priority:                  priority,
			Volume:                    volume,
			DestinationLevelBeforePct: before,
			DestinationLevelAfterPct:  after,
		}, true
	}
	return PumpTransfer{}, false
}

func (e *PumpEngine) skip(source, destination, reason string) {
	e.logger.Debug("pump destination skipped", logging.Fields{
		"source":      source,
		"destination": destination,
		"reason":      reason,
	})
	if e.metrics != nil {
		e.metrics.RecordTransferSkip(reason)
	}
}

func volumeOf(f Facility, volumes map[string]Volume) Volume {
	if v, ok := volumes[f.Code]; ok {
		return v
	}
	return f.CurrentVolume
}
