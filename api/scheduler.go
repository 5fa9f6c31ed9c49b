/*
scheduler.go - Automated balance scheduler

PURPOSE:
  Periodically recalculates the current month's balance and applies the
  planned pump transfers, so the modeled network keeps redistributing
  water without an operator pressing the button.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each pass: resolve production, calculate, apply transfers
  - Idempotency makes repeated passes for the same month safe: transfers
    already applied skip on their (date, source, destination) key
  - The pilot/global scope gate is enforced inside the applier

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBalanceScheduler(calc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ApplyTransfers endpoint (the manual path)
  - hydro/apply.go: scope gate and idempotency semantics
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sitewater/balance-engine/hydro"
	"github.com/sitewater/balance-engine/logging"
)

// BalanceScheduler runs the calculate-and-apply pass on an interval.
type BalanceScheduler struct {
	Calc          *hydro.Calculator
	CheckInterval time.Duration
	Enabled       bool

	logger *logging.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBalanceScheduler creates a new scheduler.
func NewBalanceScheduler(calc *hydro.Calculator, logger *logging.Logger) *BalanceScheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BalanceScheduler{
		Calc:          calc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger.WithComponent("scheduler"),
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (bs *BalanceScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		bs.logger.Info("scheduler disabled, not starting", nil)
		return
	}

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.wg.Add(1)

	go bs.run()

	bs.logger.Info("scheduler started", logging.Fields{
		"interval": bs.CheckInterval.String(),
	})
}

// Stop stops the scheduler.
func (bs *BalanceScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		bs.logger.Info("scheduler stopped", nil)
	}
}

func (bs *BalanceScheduler) run() {
	defer bs.wg.Done()

	// Run immediately on start
	bs.runPass()

	for {
		select {
		case <-bs.ticker.C:
			bs.runPass()
		case <-bs.stop:
			return
		}
	}
}

// runPass recalculates the current month and applies planned transfers.
func (bs *BalanceScheduler) runPass() {
	ctx := context.Background()
	date := hydro.CurrentMonth()

	production := bs.Calc.ProductionFor(ctx, date)

	out, err := bs.Calc.Calculate(ctx, hydro.CalcInput{
		Date:             date,
		ProductionVolume: production,
		ApplyTransfers:   true,
	})
	if err != nil {
		bs.logger.Error("scheduled balance pass failed", logging.Fields{
			"date": date.String(),
		}, err)
		return
	}

	fields := logging.Fields{
		"date":    date.String(),
		"status":  string(out.Result.Status),
		"planned": len(out.Result.PumpTransfers),
	}
	if out.Applied != nil {
		fields["applied"] = len(out.Applied.Applied)
		fields["skipped_existing"] = len(out.Applied.SkippedExisting)
		fields["skipped_scope"] = len(out.Applied.SkippedScope)
	}
	bs.logger.Info("scheduled balance pass completed", fields)
}

// RunNow triggers an immediate pass (for testing/admin).
func (bs *BalanceScheduler) RunNow() {
	bs.runPass()
}

// GetNextRunTime returns when the next scheduled pass will occur.
func (bs *BalanceScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(bs.CheckInterval)
}
