package hydro_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sitewater/balance-engine/hydro"
	"github.com/sitewater/balance-engine/hydro/store"
)

func applyFixture() (*store.TxMemory, []hydro.PumpTransfer) {
	st := store.NewTxMemoryWithFacilities(
		hydro.Facility{Code: "SRC", Area: "north", TotalCapacity: vol(1000000), CurrentVolume: vol(800000), Active: true},
		hydro.Facility{Code: "DST", Area: "north", TotalCapacity: vol(500000), CurrentVolume: vol(300000), Active: true},
	)
	transfers := []hydro.PumpTransfer{
		{SourceCode: "SRC", DestinationCode: "DST", Priority: 1, Volume: vol(50000)},
	}
	return st, transfers
}

func facilityVolume(t *testing.T, st hydro.Store, code string) hydro.Volume {
	t.Helper()
	f, err := st.Facility(context.Background(), code)
	if err != nil {
		t.Fatalf("load %s: %v", code, err)
	}
	return f.CurrentVolume
}

func TestTransferApplier_MovesVolumeAndRecordsEvent(t *testing.T) {
	// GIVEN: A planned 50,000 m³ transfer under global scope
	// WHEN: Applying
	// THEN: Source loses it, destination gains it, and the audit event
	//       exists for the month

	st, transfers := applyFixture()
	applier := hydro.NewTransferApplier(st, hydro.TransferScope{Mode: hydro.ScopeGlobal}, nil, nil)

	outcome, err := applier.Apply(context.Background(), mar2025(), transfers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcome.Applied) != 1 {
		t.Fatalf("expected 1 applied, got %d", len(outcome.Applied))
	}
	if got := facilityVolume(t, st, "SRC"); !got.Equal(vol(750000)) {
		t.Errorf("expected source 750000, got %v", got)
	}
	if got := facilityVolume(t, st, "DST"); !got.Equal(vol(350000)) {
		t.Errorf("expected destination 350000, got %v", got)
	}

	events, err := st.TransfersForMonth(context.Background(), mar2025())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].SourceCode != "SRC" || events[0].DestinationCode != "DST" {
		t.Errorf("expected one SRC->DST event, got %+v", events)
	}
}

func TestTransferApplier_SecondRun_SkipsViaIdempotencyKey(t *testing.T) {
	// GIVEN: A transfer already applied for the month
	// WHEN: Applying the same plan again
	// THEN: It is skipped and no volume moves twice

	st, transfers := applyFixture()
	applier := hydro.NewTransferApplier(st, hydro.TransferScope{Mode: hydro.ScopeGlobal}, nil, nil)

	if _, err := applier.Apply(context.Background(), mar2025(), transfers); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	outcome, err := applier.Apply(context.Background(), mar2025(), transfers)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if len(outcome.Applied) != 0 || len(outcome.SkippedExisting) != 1 {
		t.Fatalf("expected 0 applied / 1 skipped, got %d/%d", len(outcome.Applied), len(outcome.SkippedExisting))
	}
	if got := facilityVolume(t, st, "SRC"); !got.Equal(vol(750000)) {
		t.Errorf("expected source unchanged at 750000, got %v", got)
	}
}

func TestTransferApplier_SameTransferNextMonth_Applies(t *testing.T) {
	// GIVEN: A transfer applied in March
	// WHEN: Applying the same source/destination pair for April
	// THEN: The key includes the month, so it applies

	st, transfers := applyFixture()
	applier := hydro.NewTransferApplier(st, hydro.TransferScope{Mode: hydro.ScopeGlobal}, nil, nil)

	if _, err := applier.Apply(context.Background(), mar2025(), transfers); err != nil {
		t.Fatalf("march apply: %v", err)
	}
	outcome, err := applier.Apply(context.Background(), mar2025().Next(), transfers)
	if err != nil {
		t.Fatalf("april apply: %v", err)
	}

	if len(outcome.Applied) != 1 {
		t.Fatalf("expected april application, got %d applied", len(outcome.Applied))
	}
	if got := facilityVolume(t, st, "SRC"); !got.Equal(vol(700000)) {
		t.Errorf("expected source 700000 after two months, got %v", got)
	}
}

func TestTransferApplier_PilotScope_FiltersBySourceArea(t *testing.T) {
	// GIVEN: A pilot rollout limited to the south area and a source in
	//        the north
	// WHEN: Applying
	// THEN: The transfer is skipped by scope and nothing moves

	st, transfers := applyFixture()
	scope := hydro.TransferScope{Mode: hydro.ScopePilot, PilotAreas: []string{"south"}}
	applier := hydro.NewTransferApplier(st, scope, nil, nil)

	outcome, err := applier.Apply(context.Background(), mar2025(), transfers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcome.SkippedScope) != 1 || len(outcome.Applied) != 0 {
		t.Fatalf("expected scope skip, got %+v", outcome)
	}
	if got := facilityVolume(t, st, "SRC"); !got.Equal(vol(800000)) {
		t.Errorf("expected source untouched, got %v", got)
	}
}

func TestTransferApplier_PilotScope_AllowsListedArea(t *testing.T) {
	// GIVEN: A pilot rollout that includes the source's area
	// WHEN: Applying
	// THEN: The transfer runs

	st, transfers := applyFixture()
	scope := hydro.TransferScope{Mode: hydro.ScopePilot, PilotAreas: []string{"North"}}
	applier := hydro.NewTransferApplier(st, scope, nil, nil)

	outcome, err := applier.Apply(context.Background(), mar2025(), transfers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcome.Applied) != 1 {
		t.Fatalf("expected application in pilot area, got %+v", outcome)
	}
}

func TestTransferApplier_ClampsDestinationAtCapacity(t *testing.T) {
	// GIVEN: A destination with less headroom than the transfer volume
	// WHEN: Applying
	// THEN: The destination pins at capacity

	st := store.NewTxMemoryWithFacilities(
		hydro.Facility{Code: "SRC", TotalCapacity: vol(1000000), CurrentVolume: vol(800000), Active: true},
		hydro.Facility{Code: "DST", TotalCapacity: vol(500000), CurrentVolume: vol(480000), Active: true},
	)
	applier := hydro.NewTransferApplier(st, hydro.TransferScope{Mode: hydro.ScopeGlobal}, nil, nil)

	_, err := applier.Apply(context.Background(), mar2025(), []hydro.PumpTransfer{
		{SourceCode: "SRC", DestinationCode: "DST", Volume: vol(50000)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := facilityVolume(t, st, "DST"); !got.Equal(vol(500000)) {
		t.Errorf("expected destination clamped at 500000, got %v", got)
	}
}

func TestTransferApplier_NilStore_Errors(t *testing.T) {
	// GIVEN: An applier wired without a store
	// WHEN: Applying
	// THEN: ErrStoreRequired

	applier := hydro.NewTransferApplier(nil, hydro.TransferScope{Mode: hydro.ScopeGlobal}, nil, nil)

	_, err := applier.Apply(context.Background(), mar2025(), []hydro.PumpTransfer{
		{SourceCode: "SRC", DestinationCode: "DST", Volume: vol(1)},
	})

	if !errors.Is(err, hydro.ErrStoreRequired) {
		t.Errorf("expected ErrStoreRequired, got %v", err)
	}
}

// recordFailStore forces the audit insert inside the transaction to fail.
type recordFailStore struct {
	*store.TxMemory
}

func (s *recordFailStore) WithTx(ctx context.Context, fn func(hydro.Store) error) error {
	return s.TxMemory.WithTx(ctx, func(st hydro.Store) error {
		return fn(&failRecordView{Store: st})
	})
}

type failRecordView struct {
	hydro.Store
}

func (v *failRecordView) RecordTransfer(context.Context, hydro.TransferEvent) error {
	return errors.New("audit insert failed")
}

func TestTransferApplier_RollsBackVolumesOnAuditFailure(t *testing.T) {
	// GIVEN: Volume mutations that succeed but an audit insert that fails
	// WHEN: Applying
	// THEN: The transaction rolls back and both volumes are untouched

	inner, transfers := applyFixture()
	st := &recordFailStore{TxMemory: inner}
	applier := hydro.NewTransferApplier(st, hydro.TransferScope{Mode: hydro.ScopeGlobal}, nil, nil)

	_, err := applier.Apply(context.Background(), mar2025(), transfers)
	if err == nil {
		t.Fatal("expected apply to fail")
	}

	if got := facilityVolume(t, inner, "SRC"); !got.Equal(vol(800000)) {
		t.Errorf("expected source rolled back to 800000, got %v", got)
	}
	if got := facilityVolume(t, inner, "DST"); !got.Equal(vol(300000)) {
		t.Errorf("expected destination rolled back to 300000, got %v", got)
	}
}
