/*
scheduler_test.go - Tests for the background balance scheduler

The scheduler runs the same calculate-and-apply pass the API exposes, so
these tests only cover the scheduling behavior itself: a pass applies
planned transfers, and repeated passes are idempotent.
*/
package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewater/balance-engine/hydro"
)

func TestBalanceScheduler_PassAppliesTransfers(t *testing.T) {
	env := newTestEnv(t, referenceNetwork())
	scheduler := NewBalanceScheduler(env.handler.Calc, nil)

	scheduler.RunNow()

	events, err := env.store.TransfersForMonth(context.Background(), hydro.CurrentMonth())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "SRC", events[0].SourceCode)
}

func TestBalanceScheduler_RepeatedPassesIdempotent(t *testing.T) {
	env := newTestEnv(t, referenceNetwork())
	scheduler := NewBalanceScheduler(env.handler.Calc, nil)

	scheduler.RunNow()
	scheduler.RunNow()

	ctx := context.Background()
	events, err := env.store.TransfersForMonth(ctx, hydro.CurrentMonth())
	require.NoError(t, err)
	assert.Len(t, events, 1, "second pass skips on the idempotency key")

	src, err := env.store.Facility(ctx, "SRC")
	require.NoError(t, err)
	assert.InDelta(t, 750_000.0, src.CurrentVolume.Float64(), 0.001)
}

func TestBalanceScheduler_StartStop(t *testing.T) {
	env := newTestEnv(t, referenceNetwork())
	scheduler := NewBalanceScheduler(env.handler.Calc, nil)
	scheduler.CheckInterval = time.Minute

	scheduler.Start()
	scheduler.Stop()

	// The immediate startup pass ran before Stop returned.
	events, err := env.store.TransfersForMonth(context.Background(), hydro.CurrentMonth())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestBalanceScheduler_Disabled_NeverRuns(t *testing.T) {
	env := newTestEnv(t, referenceNetwork())
	scheduler := NewBalanceScheduler(env.handler.Calc, nil)
	scheduler.Enabled = false

	scheduler.Start()
	scheduler.Stop()

	events, err := env.store.TransfersForMonth(context.Background(), hydro.CurrentMonth())
	require.NoError(t, err)
	assert.Empty(t, events)
}
