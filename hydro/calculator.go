/*
calculator.go - Monthly balance orchestration

PURPOSE:
  Runs the full pipeline for one month:

    resolve -> outflows -> inflows -> facility projection -> closure
            -> pump plan -> (optionally) transfer application

  and assembles the immutable BalanceResult. The result cache wraps the
  whole computation keyed by (date, production volume); facility and KPI
  lookups get their own per-date key spaces.

ORDERING:
  Outflows run before inflows so the TSF return computed there can be
  credited on the inflow side. The two sides of that pairing come from a
  single value; they cannot drift.

SIDE EFFECTS:
  Calculation is pure. Transfer application is the one mutating step and
  runs after the result exists, never inside the cached computation, so a
  cache hit can still apply and a cached result never embeds an apply
  outcome. A pass that moved water invalidates the cache: stored opening
  volumes changed under every cached projection.

SEE ALSO:
  - resolver.go, inflow.go, outflow.go, facility.go, closure.go, pump.go,
    apply.go: the stages
  - cache.go: memoization
*/
package hydro

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/logging"
	"github.com/sitewater/balance-engine/metrics"
)

// CalculatorConfig wires a Calculator. Measurements and Config are
// required; Store is needed only when transfers get applied and, when
// present, is the authority for facility state.
type CalculatorConfig struct {
	Measurements MeasurementProvider
	Config       ConfigProvider
	Store        TxStore
	History      HistoryConfig

	Logger  *logging.Logger
	Metrics *metrics.Collector
}

// Calculator computes monthly water balances.
type Calculator struct {
	measurements MeasurementProvider
	config       ConfigProvider
	store        TxStore
	history      HistoryConfig

	cache *ResultCache

	logger  *logging.Logger
	metrics *metrics.Collector

	now func() time.Time
}

// NewCalculator builds a calculator with an empty result cache.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Calculator{
		measurements: cfg.Measurements,
		config:       cfg.Config,
		store:        cfg.Store,
		history:      cfg.History,
		cache:        NewResultCache(logger.WithComponent("cache"), cfg.Metrics),
		logger:       logger.WithComponent("calculator"),
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
}

// CalcInput is one calculation request.
type CalcInput struct {
	Date Month

	// ProductionVolume is the ore tonnage milled in the month. Part of
	// the cache key.
	ProductionVolume decimal.Decimal

	// ApplyTransfers runs the transfer applier on the planned transfers.
	ApplyTransfers bool

	// Overrides bypass the cache entirely: results computed with them
	// are never stored and never served to other callers.
	Overrides Overrides
}

// CalcOutput pairs the balance with the apply outcome of this call, if
// application was requested.
type CalcOutput struct {
	Result  *BalanceResult
	Applied *ApplyOutcome
}

// Calculate returns the balance for (date, production volume), from cache
// when possible, then optionally applies the planned transfers.
func (c *Calculator) Calculate(ctx context.Context, in CalcInput) (*CalcOutput, error) {
	if in.Date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "required"}
	}
	if in.ProductionVolume.IsNegative() {
		return nil, &ValidationError{Field: "production_volume", Reason: "must not be negative"}
	}

	var result *BalanceResult
	var err error
	if len(in.Overrides) > 0 {
		result, err = c.compute(ctx, in.Date, in.ProductionVolume, in.Overrides)
	} else {
		result, err = c.cache.Balance(ctx, in.Date, in.ProductionVolume, func() (*BalanceResult, error) {
			return c.compute(ctx, in.Date, in.ProductionVolume, nil)
		})
	}
	if err != nil {
		return nil, err
	}

	out := &CalcOutput{Result: result}
	if in.ApplyTransfers {
		applier := NewTransferApplier(c.store, c.config.TransferScope(), c.logger.WithComponent("applier"), c.metrics)
		outcome, err := applier.Apply(ctx, in.Date, result.PumpTransfers)
		if err != nil {
			return nil, fmt.Errorf("apply transfers for %s: %w", in.Date, err)
		}
		out.Applied = outcome
		if len(outcome.Applied) > 0 {
			c.cache.InvalidateAll("transfers_applied")
		}
	}
	return out, nil
}

// FacilityBalances returns the per-facility projection for a month,
// cached per date.
func (c *Calculator) FacilityBalances(ctx context.Context, date Month) ([]FacilityBalance, error) {
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "required"}
	}
	return c.cache.Facilities(ctx, date, func() ([]FacilityBalance, error) {
		facilities, err := c.facilities(ctx)
		if err != nil {
			return nil, err
		}
		resolver := c.newResolver()
		engine := NewFacilityEngine(resolver)
		return engine.Project(ctx, FacilityInput{Date: date, Facilities: facilities}).Balances, nil
	})
}

// KPIs returns the dashboard headline figures for a month, cached per
// date. Production is resolved from the ore-tonnage measurement.
func (c *Calculator) KPIs(ctx context.Context, date Month) (*KPISet, error) {
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "required"}
	}
	return c.cache.KPIs(ctx, date, func() (*KPISet, error) {
		out, err := c.Calculate(ctx, CalcInput{Date: date, ProductionVolume: c.ProductionFor(ctx, date)})
		if err != nil {
			return nil, err
		}
		facilities, err := c.facilities(ctx)
		if err != nil {
			return nil, err
		}
		capacity := ZeroVolume()
		for _, f := range facilities {
			capacity = capacity.Add(f.TotalCapacity)
		}
		kpis := KPIsFromResult(out.Result, capacity)
		return &kpis, nil
	})
}

// ProductionFor resolves the month's ore tonnage through the standard
// fallback chain, zero when nothing is recorded.
func (c *Calculator) ProductionFor(ctx context.Context, date Month) decimal.Decimal {
	return c.newResolver().Resolve(ctx, ParamOreTonnes, date, nil)
}

// InvalidateCache drops every cached result. Call on source-data reload,
// configuration change, or facility edits.
func (c *Calculator) InvalidateCache(reason string) {
	c.cache.InvalidateAll(reason)
}

// CachedResults reports how many entries the cache currently holds.
func (c *Calculator) CachedResults() int {
	return c.cache.Len()
}

// compute runs the pipeline once. Pure: no store writes, no cache writes.
func (c *Calculator) compute(ctx context.Context, date Month, production decimal.Decimal, ov Overrides) (*BalanceResult, error) {
	start := c.now()

	facilities, err := c.facilities(ctx)
	if err != nil {
		c.recordCalculation("error", start)
		return nil, err
	}
	sources, err := c.config.Sources(ctx)
	if err != nil {
		c.recordCalculation("error", start)
		return nil, &ProviderError{Op: "load sources", Err: err}
	}

	var warnings []Warning
	for _, f := range facilities {
		warnings = append(warnings, f.Validate()...)
	}

	resolver := c.newResolver()

	outflows := NewOutflowAggregator(resolver).Aggregate(ctx, OutflowInput{
		Date:       date,
		Facilities: facilities,
		OreTonnes:  production,
		Overrides:  ov,
	})

	inflows := NewInflowAggregator(resolver).Aggregate(ctx, InflowInput{
		Date:       date,
		Sources:    sources,
		Facilities: facilities,
		OreTonnes:  production,
		TSFReturn:  outflows.TSFReturn,
		Overrides:  ov,
	})

	projection := NewFacilityEngine(resolver).Project(ctx, FacilityInput{
		Date:       date,
		Facilities: facilities,
		Overrides:  ov,
	})

	closure := NewClosureValidator(c.config.ClosureThreshold()).
		Validate(inflows.Fresh, outflows.ClosureTotal, projection.StorageChange)

	closingVolumes := make(map[string]Volume, len(projection.Balances))
	for _, b := range projection.Balances {
		closingVolumes[b.Code] = b.Closing
	}

	increment := resolver.Constant(ConstTransferIncrementPct, DefaultTransferIncrementPct)
	plan := NewPumpEngine(increment, c.logger.WithComponent("pump"), c.metrics).
		Plan(facilities, closingVolumes)

	warnings = append(warnings, resolver.Warnings()...)
	warnings = append(warnings, plan.Warnings...)

	result := &BalanceResult{
		Date:             date,
		ProductionVolume: production,

		Inflows:      inflows.Categories,
		SourceFlows:  inflows.SourceFlows,
		TotalInflows: inflows.Total,
		FreshInflows: inflows.Fresh,

		Outflows:        outflows.Categories,
		TotalOutflows:   outflows.Total,
		ClosureOutflows: outflows.ClosureTotal,

		Facilities:    projection.Balances,
		TotalOpening:  projection.TotalOpening,
		TotalClosing:  projection.TotalClosing,
		StorageChange: projection.StorageChange,

		ClosureError:     closure.Error,
		ClosureErrorPct:  closure.ErrorPct,
		ClosureThreshold: closure.Threshold,
		Status:           closure.Status,

		PumpTransfers: plan.Transfers,
		Warnings:      warnings,

		ComputedAt: c.now().UTC(),
	}

	c.logger.Info("balance calculated", logging.Fields{
		"date":            date.String(),
		"production":      production.String(),
		"status":          string(closure.Status),
		"closure_err_pct": closure.ErrorPct.StringFixed(2),
		"transfers":       len(plan.Transfers),
		"warnings":        len(warnings),
	})
	c.recordCalculation(strings.ToLower(string(closure.Status)), start)
	return result, nil
}

// facilities prefers the store when one is wired: volumes change there as
// transfers apply, while the config provider holds the seeded network.
func (c *Calculator) facilities(ctx context.Context) ([]Facility, error) {
	if c.store != nil {
		fs, err := c.store.Facilities(ctx)
		if err != nil {
			return nil, &ProviderError{Op: "load facilities", Err: err}
		}
		return fs, nil
	}
	fs, err := c.config.Facilities(ctx)
	if err != nil {
		return nil, &ProviderError{Op: "load facilities", Err: err}
	}
	return fs, nil
}

func (c *Calculator) newResolver() *Resolver {
	return NewResolver(c.measurements, c.config, c.history, c.logger.WithComponent("resolver"), c.metrics)
}

func (c *Calculator) recordCalculation(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCalculation(status, time.Since(start))
}
