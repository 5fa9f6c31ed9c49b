/*
resolver.go - Measurement resolution with a fixed fallback chain

PURPOSE:
  Every parameter the engine consumes goes through one policy:

    1. explicit caller override
    2. exact-date measurement
    3. historical average over the prior N months (when enabled)
    4. configured default constant ("default:<parameter>"), or a
       caller-computed fallback value where a formula defines the default
    5. zero

  The chain is an ordered list of strategies evaluated in sequence, so the
  policy lives in exactly one place and is tested once, not per parameter.

NEVER FAILS:
  Resolve always produces a value. A provider I/O failure is treated as
  "not found", logged, and recorded as a data-quality warning on the run.

SEE ALSO:
  - inflow.go / outflow.go / facility.go: consumers
  - providers.go: the MeasurementProvider contract
*/
package hydro

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/logging"
	"github.com/sitewater/balance-engine/metrics"
)

// ResolutionSource identifies which rung of the chain produced a value.
type ResolutionSource string

const (
	ResolvedFromOverride    ResolutionSource = "override"
	ResolvedFromMeasurement ResolutionSource = "measurement"
	ResolvedFromHistory     ResolutionSource = "historical_average"
	ResolvedFromDefault     ResolutionSource = "default"
	ResolvedFromFallback    ResolutionSource = "fallback"
	ResolvedFromZero        ResolutionSource = "zero"
)

// Resolution is a resolved value together with its provenance.
type Resolution struct {
	Value  decimal.Decimal
	Source ResolutionSource
}

// HistoryConfig controls the historical-average rung.
type HistoryConfig struct {
	Enabled bool
	Months  int
}

// Resolver applies the fallback chain. One Resolver serves one calculation
// run: it accumulates data-quality warnings that the calculator folds into
// the result.
type Resolver struct {
	Measurements MeasurementProvider
	Config       ConfigProvider
	History      HistoryConfig

	logger  *logging.Logger
	metrics *metrics.Collector

	warnings []Warning
	seen     map[string]struct{}
}

// NewResolver builds a resolver for one calculation run. logger and
// collector may be nil.
func NewResolver(measurements MeasurementProvider, config ConfigProvider, history HistoryConfig, logger *logging.Logger, collector *metrics.Collector) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	if history.Months <= 0 {
		history.Months = DefaultHistoryMonths
	}
	return &Resolver{
		Measurements: measurements,
		Config:       config,
		History:      history,
		logger:       logger,
		metrics:      collector,
	}
}

// Resolve produces a value for (param, date) using the full chain, ending
// at the configured default constant (then zero).
func (r *Resolver) Resolve(ctx context.Context, param ParameterType, date Month, ov Overrides) decimal.Decimal {
	return r.ResolveDetailed(ctx, param, date, ov).Value
}

// ResolveWithFallback runs the chain with a caller-computed value as the
// final rung, for parameters whose default is a formula (per-source flows,
// seepage, dust suppression) rather than a constant.
func (r *Resolver) ResolveWithFallback(ctx context.Context, param ParameterType, date Month, ov Overrides, fallback decimal.Decimal) Resolution {
	if res, ok := r.resolveMeasured(ctx, param, date, ov); ok {
		return res
	}
	return Resolution{Value: fallback, Source: ResolvedFromFallback}
}

// ResolveDetailed is Resolve with provenance, for logging and tests.
func (r *Resolver) ResolveDetailed(ctx context.Context, param ParameterType, date Month, ov Overrides) Resolution {
	if res, ok := r.resolveMeasured(ctx, param, date, ov); ok {
		return res
	}
	if v, ok := r.Config.Constant(DefaultConstantName(param)); ok {
		r.observe(param, date, ResolvedFromDefault, v)
		return Resolution{Value: v, Source: ResolvedFromDefault}
	}
	r.observe(param, date, ResolvedFromZero, decimal.Zero)
	return Resolution{Value: decimal.Zero, Source: ResolvedFromZero}
}

// resolveMeasured walks the data-backed rungs: override, exact measurement,
// historical average.
func (r *Resolver) resolveMeasured(ctx context.Context, param ParameterType, date Month, ov Overrides) (Resolution, bool) {
	steps := []struct {
		source ResolutionSource
		fn     func(context.Context, ParameterType, Month, Overrides) (decimal.Decimal, bool)
	}{
		{ResolvedFromOverride, r.fromOverride},
		{ResolvedFromMeasurement, r.fromMeasurement},
		{ResolvedFromHistory, r.fromHistory},
	}

	for _, step := range steps {
		if v, ok := step.fn(ctx, param, date, ov); ok {
			r.observe(param, date, step.source, v)
			return Resolution{Value: v, Source: step.source}, true
		}
	}
	return Resolution{}, false
}

func (r *Resolver) fromOverride(_ context.Context, param ParameterType, _ Month, ov Overrides) (decimal.Decimal, bool) {
	v, ok := ov[param]
	return v, ok
}

func (r *Resolver) fromMeasurement(ctx context.Context, param ParameterType, date Month, _ Overrides) (decimal.Decimal, bool) {
	return r.lookup(ctx, param, date)
}

// fromHistory averages the measurements found over the prior N months.
// One found month is enough; missing months just shrink the sample.
func (r *Resolver) fromHistory(ctx context.Context, param ParameterType, date Month, _ Overrides) (decimal.Decimal, bool) {
	if !r.History.Enabled {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	found := 0
	probe := date
	for i := 0; i < r.History.Months; i++ {
		probe = probe.Prev()
		if v, ok := r.lookup(ctx, param, probe); ok {
			sum = sum.Add(v)
			found++
		}
	}
	if found == 0 {
		return decimal.Zero, false
	}
	return sum.Div(decimal.NewFromInt(int64(found))), true
}

// lookup hits the provider once, translating I/O failure into "not found"
// plus a warning.
func (r *Resolver) lookup(ctx context.Context, param ParameterType, date Month) (decimal.Decimal, bool) {
	v, ok, err := r.Measurements.Measurement(ctx, param, date)
	if err != nil {
		r.recordWarning(Warningf(WarnProviderFailure,
			"measurement lookup %s@%s failed: %v", param, date, err))
		r.logger.Warn("measurement lookup failed", logging.Fields{
			"parameter": string(param),
			"date":      date.String(),
			"error":     err.Error(),
		})
		if r.metrics != nil {
			r.metrics.RecordProviderLookup("error")
		}
		return decimal.Zero, false
	}
	if r.metrics != nil {
		if ok {
			r.metrics.RecordProviderLookup("hit")
		} else {
			r.metrics.RecordProviderLookup("miss")
		}
	}
	return v, ok
}

func (r *Resolver) observe(param ParameterType, date Month, source ResolutionSource, v decimal.Decimal) {
	r.logger.Debug("parameter resolved", logging.Fields{
		"parameter": string(param),
		"date":      date.String(),
		"source":    string(source),
		"value":     v.String(),
	})
}

// recordWarning appends a finding, collapsing exact repeats. The same
// parameter is resolved by more than one component per run; one failure
// should read as one warning.
func (r *Resolver) recordWarning(w Warning) {
	key := string(w.Code) + "|" + w.Message
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	if _, dup := r.seen[key]; dup {
		return
	}
	r.seen[key] = struct{}{}
	r.warnings = append(r.warnings, w)
}

// Warnings returns the data-quality findings accumulated by this run.
func (r *Resolver) Warnings() []Warning {
	return r.warnings
}

// Constant reads a configuration constant with a default. A missing
// constant warns only when def is zero: a zero default means no usable
// engineering value exists and the formula silently degrades, while a
// non-zero default is itself the accepted engineering value, so falling
// back to it is normal operation.
func (r *Resolver) Constant(name string, def decimal.Decimal) decimal.Decimal {
	if v, ok := r.Config.Constant(name); ok {
		return v
	}
	if def.IsZero() {
		r.recordWarning(Warningf(WarnMissingConstant, "constant %s not configured", name))
	}
	return def
}
