/*
apply.go - Transactional application of planned transfers

PURPOSE:
  Turns accepted PumpTransfers into persisted volume changes:

    1. scope gate: pilot deployments only touch facilities in the
       configured pilot areas; global touches everything
    2. idempotency: an event already recorded for (calc_date, source,
       destination) means the transfer ran in an earlier pass; skip it
    3. atomic apply: source decrement, destination increment, event
       insert commit or roll back together, one transaction per transfer

  Volumes are clamped to [0, capacity] on both ends; the audit event
  records the planned volume.

RETRY SEMANTICS:
  A failed batch can simply be re-run. Applied transfers are skipped by
  the idempotency key, unapplied ones get their transaction again.

SEE ALSO:
  - pump.go: produces the plans
  - store.go: the TxStore contract this relies on
*/
package hydro

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewater/balance-engine/logging"
	"github.com/sitewater/balance-engine/metrics"
)

// Skip reasons recorded when a planned transfer is not applied.
const (
	SkipOutOfScope     = "out_of_scope"
	SkipAlreadyApplied = "already_applied"
)

// ApplyOutcome reports what one application pass did.
type ApplyOutcome struct {
	// Applied holds the audit events inserted by this pass.
	Applied []TransferEvent

	// SkippedExisting were already applied in an earlier pass.
	SkippedExisting []PumpTransfer

	// SkippedScope were filtered by the pilot-area gate.
	SkippedScope []PumpTransfer
}

// TransferApplier persists planned transfers against a transactional store.
type TransferApplier struct {
	store TxStore
	scope TransferScope

	logger  *logging.Logger
	metrics *metrics.Collector

	now func() time.Time
}

// NewTransferApplier wires an applier. logger and collector may be nil;
// the store may not.
func NewTransferApplier(store TxStore, scope TransferScope, logger *logging.Logger, collector *metrics.Collector) *TransferApplier {
	if logger == nil {
		logger = logging.Nop()
	}
	return &TransferApplier{
		store:   store,
		scope:   scope,
		logger:  logger,
		metrics: collector,
		now:     time.Now,
	}
}

// Apply runs every transfer that passes the scope gate, one transaction
// each. The pass stops at the first store failure; everything applied up
// to that point stays applied and a re-run skips it via the idempotency
// key.
func (a *TransferApplier) Apply(ctx context.Context, date Month, transfers []PumpTransfer) (*ApplyOutcome, error) {
	if a.store == nil {
		return nil, ErrStoreRequired
	}

	outcome := &ApplyOutcome{}
	for _, t := range transfers {
		inScope, err := a.inScope(ctx, t)
		if err != nil {
			return outcome, fmt.Errorf("scope check %s->%s: %w", t.SourceCode, t.DestinationCode, err)
		}
		if !inScope {
			outcome.SkippedScope = append(outcome.SkippedScope, t)
			a.skip(date, t, SkipOutOfScope)
			continue
		}

		ev := TransferEvent{
			CalcDate:        date,
			SourceCode:      t.SourceCode,
			DestinationCode: t.DestinationCode,
			Volume:          t.Volume,
			AppliedAt:       a.now().UTC(),
		}
		switch err := a.applyOne(ctx, ev); {
		case err == nil:
			outcome.Applied = append(outcome.Applied, ev)
			a.logger.Info("pump transfer applied", logging.Fields{
				"date":        date.String(),
				"source":      t.SourceCode,
				"destination": t.DestinationCode,
				"volume":      t.Volume.String(),
			})
			if a.metrics != nil {
				a.metrics.TransfersAppliedTotal.Inc()
			}
		case IsDuplicate(err):
			outcome.SkippedExisting = append(outcome.SkippedExisting, t)
			a.skip(date, t, SkipAlreadyApplied)
		default:
			if a.metrics != nil {
				a.metrics.RecordStoreError("transfer_apply")
			}
			return outcome, fmt.Errorf("apply transfer %s->%s: %w", t.SourceCode, t.DestinationCode, err)
		}
	}
	return outcome, nil
}

// applyOne moves the volume and records the audit event atomically.
func (a *TransferApplier) applyOne(ctx context.Context, ev TransferEvent) error {
	return a.store.WithTx(ctx, func(st Store) error {
		done, err := st.TransferApplied(ctx, ev.CalcDate, ev.SourceCode, ev.DestinationCode)
		if err != nil {
			return err
		}
		if done {
			return &DuplicateTransferError{CalcDate: ev.CalcDate, SourceCode: ev.SourceCode, DestinationCode: ev.DestinationCode}
		}

		src, err := st.Facility(ctx, ev.SourceCode)
		if err != nil {
			return err
		}
		dst, err := st.Facility(ctx, ev.DestinationCode)
		if err != nil {
			return err
		}

		newSrc := src.CurrentVolume.Sub(ev.Volume).Clamp(ZeroVolume(), src.TotalCapacity)
		newDst := dst.CurrentVolume.Add(ev.Volume).Clamp(ZeroVolume(), dst.TotalCapacity)

		if err := st.SetFacilityVolume(ctx, src.Code, newSrc); err != nil {
			return err
		}
		if err := st.SetFacilityVolume(ctx, dst.Code, newDst); err != nil {
			return err
		}

		return st.RecordTransfer(ctx, ev)
	})
}

// inScope checks the source facility's area against the deployment scope.
func (a *TransferApplier) inScope(ctx context.Context, t PumpTransfer) (bool, error) {
	if a.scope.Mode != ScopePilot {
		return true, nil
	}
	src, err := a.store.Facility(ctx, t.SourceCode)
	if err != nil {
		return false, err
	}
	return a.scope.Allows(src.Area), nil
}

func (a *TransferApplier) skip(date Month, t PumpTransfer, reason string) {
	a.logger.Info("pump transfer skipped", logging.Fields{
		"date":        date.String(),
		"source":      t.SourceCode,
		"destination": t.DestinationCode,
		"reason":      reason,
	})
	if a.metrics != nil {
		a.metrics.RecordTransferSkip(reason)
	}
}
