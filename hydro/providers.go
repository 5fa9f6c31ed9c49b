/*
providers.go - External provider boundary

PURPOSE:
  The engine never reads spreadsheets, databases, or config files itself.
  It consumes two narrow interfaces: a MeasurementProvider for time-series
  values and a ConfigProvider for constants, thresholds, and the facility/
  source network. Concrete implementations live in store/sqlite,
  store/postgres, and (for tests and file-driven runs) StaticConfig below.

CONTRACT:
  - Measurement returns (value, false, nil) for "no data"; an error means
    a true I/O failure. The resolver treats failures as "not found" and
    records a data-quality warning; it never aborts a calculation.
  - Facilities/Sources errors are structural: the calculator cannot run
    without the network, so those bubble up as ErrProviderUnavailable.
  - Constant, ClosureThreshold, and TransferScope are snapshot lookups,
    expected to be memory-fast.

SEE ALSO:
  - resolver.go: the only consumer of Measurement
  - calculator.go: consumer of the structural lookups
*/
package hydro

import (
	"context"

	"github.com/shopspring/decimal"
)

// MeasurementProvider serves externally supplied time-series values.
type MeasurementProvider interface {
	// Measurement returns the value recorded for (param, date).
	// ok=false means no record exists; err is reserved for I/O failure.
	Measurement(ctx context.Context, param ParameterType, date Month) (value decimal.Decimal, ok bool, err error)
}

// ConfigProvider serves the facility network, sources, constants, and
// rollout settings.
type ConfigProvider interface {
	// Constant returns a named configuration constant.
	Constant(name string) (decimal.Decimal, bool)

	// Facilities returns the full facility network, current volumes included.
	Facilities(ctx context.Context) ([]Facility, error)

	// Sources returns the configured water sources.
	Sources(ctx context.Context) ([]Source, error)

	// ClosureThreshold returns the closure-error percentage threshold.
	ClosureThreshold() decimal.Decimal

	// TransferScope returns the deployment gate for transfer application.
	TransferScope() TransferScope
}

// =============================================================================
// STATIC IMPLEMENTATIONS
// =============================================================================

// StaticConfig is a ConfigProvider backed by in-memory data. Tests build
// networks with it directly; file-driven deployments get one from the
// factory package.
type StaticConfig struct {
	FacilityList []Facility
	SourceList   []Source
	Constants    map[string]decimal.Decimal
	Threshold    decimal.Decimal
	Scope        TransferScope
}

func (c *StaticConfig) Constant(name string) (decimal.Decimal, bool) {
	v, ok := c.Constants[name]
	return v, ok
}

func (c *StaticConfig) Facilities(_ context.Context) ([]Facility, error) {
	out := make([]Facility, len(c.FacilityList))
	copy(out, c.FacilityList)
	return out, nil
}

func (c *StaticConfig) Sources(_ context.Context) ([]Source, error) {
	out := make([]Source, len(c.SourceList))
	copy(out, c.SourceList)
	return out, nil
}

func (c *StaticConfig) ClosureThreshold() decimal.Decimal {
	if c.Threshold.IsZero() {
		return DefaultClosureThresholdPct
	}
	return c.Threshold
}

func (c *StaticConfig) TransferScope() TransferScope {
	if c.Scope.Mode == "" {
		return TransferScope{Mode: ScopeGlobal}
	}
	return c.Scope
}

// StaticMeasurements is a MeasurementProvider backed by an in-memory table.
type StaticMeasurements struct {
	Values map[ParameterType]map[Month]decimal.Decimal
}

// NewStaticMeasurements builds a provider from a flat measurement list.
func NewStaticMeasurements(ms ...Measurement) *StaticMeasurements {
	p := &StaticMeasurements{Values: make(map[ParameterType]map[Month]decimal.Decimal)}
	for _, m := range ms {
		p.Set(m.Parameter, m.Date, m.Value)
	}
	return p
}

// Set records a value for (param, date).
func (p *StaticMeasurements) Set(param ParameterType, date Month, value decimal.Decimal) {
	if p.Values == nil {
		p.Values = make(map[ParameterType]map[Month]decimal.Decimal)
	}
	byDate, ok := p.Values[param]
	if !ok {
		byDate = make(map[Month]decimal.Decimal)
		p.Values[param] = byDate
	}
	byDate[date] = value
}

func (p *StaticMeasurements) Measurement(_ context.Context, param ParameterType, date Month) (decimal.Decimal, bool, error) {
	byDate, ok := p.Values[param]
	if !ok {
		return decimal.Zero, false, nil
	}
	v, ok := byDate[date]
	return v, ok, nil
}
