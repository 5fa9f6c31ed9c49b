package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewater/balance-engine/hydro"
	"github.com/sitewater/balance-engine/metrics"
	"github.com/sitewater/balance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testFacility(code string) hydro.Facility {
	return hydro.Facility{
		Code:                   code,
		Name:                   code + " dam",
		Type:                   hydro.FacilityDam,
		Area:                   "north",
		TotalCapacity:          hydro.NewVolume(1000000),
		CurrentVolume:          hydro.NewVolume(800000),
		SurfaceArea:            decimal.NewFromInt(50000),
		EvaporationParticipant: true,
		PumpStartLevel:         decimal.NewFromInt(70),
		PumpStopLevel:          decimal.NewFromInt(30),
		FeedsTo:                []string{"DST-1", "DST-2"},
		Active:                 true,
	}
}

func march2025() hydro.Month {
	return hydro.NewMonth(2025, time.March)
}

// =============================================================================
// FACILITY TESTS
// =============================================================================

func TestSQLiteStore_FacilityRoundTrip(t *testing.T) {
	// GIVEN: A facility with every field populated
	// WHEN: Saving and loading it
	// THEN: All fields survive, including the feeds_to list and decimals

	store := newTestStore(t)
	ctx := context.Background()

	in := testFacility("SRC-1")
	require.NoError(t, store.SaveFacility(ctx, in))

	out, err := store.Facility(ctx, "SRC-1")
	require.NoError(t, err)

	assert.Equal(t, in.Code, out.Code)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Area, out.Area)
	assert.True(t, in.TotalCapacity.Equal(out.TotalCapacity), "capacity should survive")
	assert.True(t, in.CurrentVolume.Equal(out.CurrentVolume), "volume should survive")
	assert.True(t, in.SurfaceArea.Equal(out.SurfaceArea), "surface area should survive")
	assert.True(t, out.EvaporationParticipant)
	assert.True(t, in.PumpStartLevel.Equal(out.PumpStartLevel))
	assert.True(t, in.PumpStopLevel.Equal(out.PumpStopLevel))
	assert.Equal(t, []string{"DST-1", "DST-2"}, out.FeedsTo)
	assert.True(t, out.Active)
}

func TestSQLiteStore_SaveFacility_UpsertsOnCode(t *testing.T) {
	// GIVEN: A stored facility
	// WHEN: Saving the same code with a new name and capacity
	// THEN: The row is updated, not duplicated

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFacility(ctx, testFacility("SRC-1")))

	updated := testFacility("SRC-1")
	updated.Name = "renamed dam"
	updated.TotalCapacity = hydro.NewVolume(2000000)
	require.NoError(t, store.SaveFacility(ctx, updated))

	all, err := store.Facilities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed dam", all[0].Name)
	assert.True(t, all[0].TotalCapacity.Equal(hydro.NewVolume(2000000)))
}

func TestSQLiteStore_Facility_NotFound(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Looking up an unknown code
	// THEN: ErrFacilityNotFound is returned

	store := newTestStore(t)

	_, err := store.Facility(context.Background(), "NOPE")
	assert.ErrorIs(t, err, hydro.ErrFacilityNotFound)
}

func TestSQLiteStore_Facilities_OrderedByCode(t *testing.T) {
	// GIVEN: Facilities saved out of order
	// WHEN: Listing them
	// THEN: They come back sorted by code

	store := newTestStore(t)
	ctx := context.Background()

	for _, code := range []string{"C-POND", "A-DAM", "B-TSF"} {
		require.NoError(t, store.SaveFacility(ctx, testFacility(code)))
	}

	all, err := store.Facilities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A-DAM", all[0].Code)
	assert.Equal(t, "B-TSF", all[1].Code)
	assert.Equal(t, "C-POND", all[2].Code)
}

func TestSQLiteStore_SetFacilityVolume(t *testing.T) {
	// GIVEN: A stored facility
	// WHEN: Updating its current volume
	// THEN: The new volume reads back; unknown codes error

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFacility(ctx, testFacility("SRC-1")))
	require.NoError(t, store.SetFacilityVolume(ctx, "SRC-1", hydro.NewVolume(123456)))

	f, err := store.Facility(ctx, "SRC-1")
	require.NoError(t, err)
	assert.True(t, f.CurrentVolume.Equal(hydro.NewVolume(123456)))

	err = store.SetFacilityVolume(ctx, "NOPE", hydro.NewVolume(1))
	assert.ErrorIs(t, err, hydro.ErrFacilityNotFound)
}

// =============================================================================
// SOURCE AND MEASUREMENT TESTS
// =============================================================================

func TestSQLiteStore_SourceRoundTrip(t *testing.T) {
	// GIVEN: A source with a fractional reliability factor
	// WHEN: Saving and listing
	// THEN: Category and decimals survive

	store := newTestStore(t)
	ctx := context.Background()

	in := hydro.Source{
		Code:              "BH-1",
		Name:              "Borefield 1",
		Category:          hydro.SourceGroundwater,
		AverageFlowRate:   hydro.NewVolume(12000),
		ReliabilityFactor: decimal.RequireFromString("0.85"),
	}
	require.NoError(t, store.SaveSource(ctx, in))

	sources, err := store.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "BH-1", sources[0].Code)
	assert.Equal(t, hydro.SourceGroundwater, sources[0].Category)
	assert.True(t, sources[0].AverageFlowRate.Equal(hydro.NewVolume(12000)))
	assert.True(t, sources[0].ReliabilityFactor.Equal(decimal.RequireFromString("0.85")))
}

func TestSQLiteStore_Measurement_MissingIsNotAnError(t *testing.T) {
	// GIVEN: No measurement for (rainfall, March)
	// WHEN: Looking it up
	// THEN: ok=false with a nil error

	store := newTestStore(t)

	_, ok, err := store.Measurement(context.Background(), hydro.ParamRainfall, march2025())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_Measurement_UpsertOverwrites(t *testing.T) {
	// GIVEN: A recorded rainfall value
	// WHEN: Saving a corrected value for the same (parameter, month)
	// THEN: The correction wins

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveMeasurement(ctx, hydro.Measurement{
		Parameter: hydro.ParamRainfall,
		Date:      march2025(),
		Value:     decimal.NewFromInt(120),
	}))
	require.NoError(t, store.SaveMeasurement(ctx, hydro.Measurement{
		Parameter: hydro.ParamRainfall,
		Date:      march2025(),
		Value:     decimal.NewFromInt(135),
	}))

	v, ok, err := store.Measurement(ctx, hydro.ParamRainfall, march2025())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(135)))
}

// =============================================================================
// TRANSFER EVENT TESTS
// =============================================================================

func TestSQLiteStore_RecordTransfer_DuplicateKeyRejected(t *testing.T) {
	// GIVEN: A recorded transfer for (March, SRC, DST)
	// WHEN: Recording the same key again
	// THEN: The unique index rejects it as DuplicateTransferError

	store := newTestStore(t)
	ctx := context.Background()

	ev := hydro.TransferEvent{
		CalcDate:        march2025(),
		SourceCode:      "SRC",
		DestinationCode: "DST",
		Volume:          hydro.NewVolume(50000),
		AppliedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.RecordTransfer(ctx, ev))

	err := store.RecordTransfer(ctx, ev)
	require.Error(t, err)

	var dup *hydro.DuplicateTransferError
	assert.ErrorAs(t, err, &dup)
	assert.True(t, hydro.IsDuplicate(err))

	applied, err := store.TransferApplied(ctx, march2025(), "SRC", "DST")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestSQLiteStore_RecordTransfer_NextMonthIsANewKey(t *testing.T) {
	// GIVEN: A transfer applied in March
	// WHEN: Recording the same pair for April
	// THEN: It is accepted

	store := newTestStore(t)
	ctx := context.Background()

	ev := hydro.TransferEvent{
		CalcDate:        march2025(),
		SourceCode:      "SRC",
		DestinationCode: "DST",
		Volume:          hydro.NewVolume(50000),
		AppliedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.RecordTransfer(ctx, ev))

	ev.CalcDate = march2025().Next()
	assert.NoError(t, store.RecordTransfer(ctx, ev))
}

func TestSQLiteStore_TransfersForMonth_FiltersAndOrders(t *testing.T) {
	// GIVEN: Transfers in two months
	// WHEN: Listing March
	// THEN: Only March rows return, ordered by source then destination

	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)
	events := []hydro.TransferEvent{
		{CalcDate: march2025(), SourceCode: "B", DestinationCode: "Z", Volume: hydro.NewVolume(10), AppliedAt: at},
		{CalcDate: march2025(), SourceCode: "A", DestinationCode: "Y", Volume: hydro.NewVolume(20), AppliedAt: at},
		{CalcDate: march2025().Next(), SourceCode: "A", DestinationCode: "Y", Volume: hydro.NewVolume(30), AppliedAt: at},
	}
	for _, ev := range events {
		require.NoError(t, store.RecordTransfer(ctx, ev))
	}

	march, err := store.TransfersForMonth(ctx, march2025())
	require.NoError(t, err)
	require.Len(t, march, 2)
	assert.Equal(t, "A", march[0].SourceCode)
	assert.Equal(t, "B", march[1].SourceCode)
	assert.Equal(t, march2025(), march[0].CalcDate)
	assert.True(t, march[0].AppliedAt.Equal(at), "applied_at should round-trip")
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestSQLiteStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A facility at 800000 m3
	// WHEN: A transaction mutates the volume and records an event, then fails
	// THEN: Neither the volume change nor the event survives

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFacility(ctx, testFacility("SRC-1")))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx hydro.Store) error {
		if err := tx.SetFacilityVolume(ctx, "SRC-1", hydro.NewVolume(1)); err != nil {
			return err
		}
		if err := tx.RecordTransfer(ctx, hydro.TransferEvent{
			CalcDate:        march2025(),
			SourceCode:      "SRC-1",
			DestinationCode: "DST",
			Volume:          hydro.NewVolume(50000),
			AppliedAt:       time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	f, err := store.Facility(ctx, "SRC-1")
	require.NoError(t, err)
	assert.True(t, f.CurrentVolume.Equal(hydro.NewVolume(800000)), "volume should roll back")

	applied, err := store.TransferApplied(ctx, march2025(), "SRC-1", "DST")
	require.NoError(t, err)
	assert.False(t, applied, "event should roll back")
}

func TestSQLiteStore_WithTx_CommitsOnSuccess(t *testing.T) {
	// GIVEN: A facility at 800000 m3
	// WHEN: A transaction mutates the volume and returns nil
	// THEN: The change is visible afterwards

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFacility(ctx, testFacility("SRC-1")))

	err := store.WithTx(ctx, func(tx hydro.Store) error {
		return tx.SetFacilityVolume(ctx, "SRC-1", hydro.NewVolume(750000))
	})
	require.NoError(t, err)

	f, err := store.Facility(ctx, "SRC-1")
	require.NoError(t, err)
	assert.True(t, f.CurrentVolume.Equal(hydro.NewVolume(750000)))
}

// =============================================================================
// PROVIDER TESTS
// =============================================================================

func TestSQLiteProvider_DefaultsWhenUnconfigured(t *testing.T) {
	// GIVEN: A store with no constants or settings
	// WHEN: Building a provider
	// THEN: Threshold, scope, and history fall back to engine defaults

	store := newTestStore(t)

	p, err := sqlite.NewProvider(context.Background(), store)
	require.NoError(t, err)

	assert.True(t, p.ClosureThreshold().Equal(hydro.DefaultClosureThresholdPct))
	assert.Equal(t, hydro.ScopeGlobal, p.TransferScope().Mode)
	assert.True(t, p.History().Enabled)
	assert.Equal(t, hydro.DefaultHistoryMonths, p.History().Months)

	_, ok := p.Constant(hydro.ConstTSFReturnPct)
	assert.False(t, ok)
}

func TestSQLiteProvider_ReadsSettingsAndConstants(t *testing.T) {
	// GIVEN: Configured constants, a pilot scope, and a custom history window
	// WHEN: Building a provider
	// THEN: The snapshot reflects the stored configuration

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetConstant(ctx, hydro.ConstTSFReturnPct, decimal.NewFromInt(35)))
	require.NoError(t, store.SetSetting(ctx, sqlite.SettingClosureThreshold, "7.5"))
	require.NoError(t, store.SetSetting(ctx, sqlite.SettingScopeMode, "pilot"))
	require.NoError(t, store.SetSetting(ctx, sqlite.SettingPilotAreas, `["north","east"]`))
	require.NoError(t, store.SetSetting(ctx, sqlite.SettingHistoryEnabled, "false"))
	require.NoError(t, store.SetSetting(ctx, sqlite.SettingHistoryMonths, "6"))

	p, err := sqlite.NewProvider(ctx, store)
	require.NoError(t, err)

	v, ok := p.Constant(hydro.ConstTSFReturnPct)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(35)))

	assert.True(t, p.ClosureThreshold().Equal(decimal.RequireFromString("7.5")))

	scope := p.TransferScope()
	assert.Equal(t, hydro.ScopePilot, scope.Mode)
	assert.Equal(t, []string{"north", "east"}, scope.PilotAreas)

	assert.False(t, p.History().Enabled)
	assert.Equal(t, 6, p.History().Months)
}

func TestSQLiteProvider_SnapshotUntilReload(t *testing.T) {
	// GIVEN: A provider built before a constant change
	// WHEN: The constant is updated in the store
	// THEN: The old value serves until Reload

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetConstant(ctx, hydro.ConstOreDensity, decimal.RequireFromString("2.7")))

	p, err := sqlite.NewProvider(ctx, store)
	require.NoError(t, err)

	require.NoError(t, store.SetConstant(ctx, hydro.ConstOreDensity, decimal.RequireFromString("2.9")))

	v, ok := p.Constant(hydro.ConstOreDensity)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.RequireFromString("2.7")), "snapshot should not see the edit")

	require.NoError(t, p.Reload(ctx))

	v, ok = p.Constant(hydro.ConstOreDensity)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.RequireFromString("2.9")))
}

// =============================================================================
// END-TO-END: APPLIER AGAINST SQLITE
// =============================================================================

func TestSQLiteStore_TransferApplierIntegration(t *testing.T) {
	// GIVEN: A source and destination persisted in SQLite
	// WHEN: Applying the same planned transfer twice
	// THEN: Volumes move once; the rerun is skipped on the unique index

	store := newTestStore(t)
	ctx := context.Background()

	src := testFacility("SRC-1")
	dst := testFacility("DST-1")
	dst.CurrentVolume = hydro.NewVolume(300000)
	dst.TotalCapacity = hydro.NewVolume(500000)
	require.NoError(t, store.SaveFacility(ctx, src))
	require.NoError(t, store.SaveFacility(ctx, dst))

	transfers := []hydro.PumpTransfer{{
		SourceCode:      "SRC-1",
		DestinationCode: "DST-1",
		Priority:        1,
		Volume:          hydro.NewVolume(50000),
	}}

	applier := hydro.NewTransferApplier(store, hydro.TransferScope{Mode: hydro.ScopeGlobal}, nil, nil)

	first, err := applier.Apply(ctx, march2025(), transfers)
	require.NoError(t, err)
	require.Len(t, first.Applied, 1)

	second, err := applier.Apply(ctx, march2025(), transfers)
	require.NoError(t, err)
	assert.Empty(t, second.Applied)
	require.Len(t, second.SkippedExisting, 1)

	f, err := store.Facility(ctx, "SRC-1")
	require.NoError(t, err)
	assert.True(t, f.CurrentVolume.Equal(hydro.NewVolume(750000)), "source drained once")

	f, err = store.Facility(ctx, "DST-1")
	require.NoError(t, err)
	assert.True(t, f.CurrentVolume.Equal(hydro.NewVolume(350000)), "destination filled once")

	events, err := store.TransfersForMonth(ctx, march2025())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// =============================================================================
// INSTRUMENTATION
// =============================================================================

func TestSQLiteStore_RecordsQueryDurations(t *testing.T) {
	// GIVEN: A store wired to its own metrics registry
	collector := metrics.NewCollector("test", prometheus.NewRegistry())
	store, err := sqlite.New(":memory:", nil, collector)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// WHEN: Running queries
	ctx := context.Background()
	require.NoError(t, store.SaveFacility(ctx, testFacility("SRC")))
	_, err = store.Facilities(ctx)
	require.NoError(t, err)

	// THEN: Each query type has a timed observation
	assert.NotZero(t, testutil.CollectAndCount(collector.StoreQueryDuration))
}
