/*
Package factory provides JSON to Go network conversion.

PURPOSE:
  Converts JSON site definitions into the facility network, source list,
  constants, and rollout settings the engine consumes. This enables site
  configuration without code changes - hydrologists can describe a site in
  JSON, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can edit the site model
  - Easy integration with admin tooling
  - Version control for network revisions
  - Same file seeds a database or drives an in-memory run

JSON SCHEMA:
  {
    "name": "demo site",
    "closure_threshold_pct": 5,
    "transfer_scope": {"mode": "pilot", "pilot_areas": ["north"]},
    "history": {"enabled": true, "months": 3},
    "constants": {"tsf_return_pct": 35, "ore_density": 2.7},
    "facilities": [
      {
        "code": "MAIN-DAM",
        "name": "Main storage dam",
        "type": "dam",
        "area": "north",
        "total_capacity": 1000000,
        "current_volume": 800000,
        "surface_area": 50000,
        "evaporation_participant": true,
        "pump_start_level": 70,
        "pump_stop_level": 30,
        "feeds_to": ["PROC-POND"]
      }
    ],
    "sources": [
      {"code": "BH-1", "name": "Borefield 1", "category": "groundwater",
       "average_flow_rate": 12000, "reliability": 0.85}
    ],
    "measurements": [
      {"parameter": "rainfall_mm", "month": "2025-03", "value": 120}
    ]
  }

KEY FEATURES:
  - Validates entries and reports findings as warnings, never aborts
  - Sets sensible defaults (active=true, scope=global)
  - Duplicate and orphan references are flagged at load time
  - Seed() writes a parsed network into any persistent store

USAGE:
  f := factory.NewNetworkFactory()

  network, err := f.LoadNetworkFile("./site.json")
  if err != nil { ... }

  calc := hydro.NewCalculator(hydro.CalculatorConfig{
      Measurements: network.Measurements,
      Config:       network.Config,
      History:      network.History,
  })

SEE ALSO:
  - hydro/providers.go: StaticConfig and StaticMeasurements
  - store/sqlite, store/postgres: Seed targets
  - api/scenarios.go: built-in demo networks
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/hydro"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// NetworkJSON is the JSON representation of a site.
type NetworkJSON struct {
	Name                string             `json:"name"`
	ClosureThresholdPct float64            `json:"closure_threshold_pct,omitempty"`
	TransferScope       *ScopeJSON         `json:"transfer_scope,omitempty"`
	History             *HistoryJSON       `json:"history,omitempty"`
	Constants           map[string]float64 `json:"constants,omitempty"`
	Facilities          []FacilityJSON     `json:"facilities"`
	Sources             []SourceJSON       `json:"sources,omitempty"`
	Measurements        []MeasurementJSON  `json:"measurements,omitempty"`
}

// FacilityJSON is the JSON representation of one network node.
type FacilityJSON struct {
	Code                   string   `json:"code"`
	Name                   string   `json:"name"`
	Type                   string   `json:"type"`
	Area                   string   `json:"area,omitempty"`
	TotalCapacity          float64  `json:"total_capacity"`
	CurrentVolume          float64  `json:"current_volume"`
	SurfaceArea            float64  `json:"surface_area,omitempty"`
	EvaporationParticipant bool     `json:"evaporation_participant,omitempty"`
	PumpStartLevel         float64  `json:"pump_start_level,omitempty"`
	PumpStopLevel          float64  `json:"pump_stop_level,omitempty"`
	FeedsTo                []string `json:"feeds_to,omitempty"`
	Active                 *bool    `json:"active,omitempty"` // default true
}

// SourceJSON is the JSON representation of one external water source.
type SourceJSON struct {
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	AverageFlowRate float64 `json:"average_flow_rate"`
	Reliability     float64 `json:"reliability,omitempty"` // fraction or percent
}

// MeasurementJSON is one recorded time-series value.
type MeasurementJSON struct {
	Parameter string  `json:"parameter"`
	Month     string  `json:"month"` // "2006-01"
	Value     float64 `json:"value"`
}

// ScopeJSON configures the transfer application gate.
type ScopeJSON struct {
	Mode       string   `json:"mode"` // global, pilot
	PilotAreas []string `json:"pilot_areas,omitempty"`
}

// HistoryJSON configures the historical-average fallback window.
type HistoryJSON struct {
	Enabled *bool `json:"enabled,omitempty"` // default true
	Months  int   `json:"months,omitempty"`
}

// =============================================================================
// NETWORK FACTORY
// =============================================================================

// Network is a parsed, validated site model ready to wire into a
// calculator or seed into a store.
type Network struct {
	Name         string
	Config       *hydro.StaticConfig
	Measurements *hydro.StaticMeasurements
	History      hydro.HistoryConfig

	// Warnings are load-time findings: skipped entries, orphan references,
	// suspicious levels. A non-empty list never blocks use of the network.
	Warnings []hydro.Warning
}

// NetworkFactory converts JSON site definitions to Go structs.
type NetworkFactory struct{}

// NewNetworkFactory creates a new network factory.
func NewNetworkFactory() *NetworkFactory {
	return &NetworkFactory{}
}

// ParseNetwork parses a JSON document into a Network.
func (f *NetworkFactory) ParseNetwork(jsonStr string) (*Network, error) {
	var nj NetworkJSON
	if err := json.Unmarshal([]byte(jsonStr), &nj); err != nil {
		return nil, fmt.Errorf("failed to parse network JSON: %w", err)
	}
	return f.FromJSON(nj)
}

// LoadNetworkFile reads and parses a network file.
func (f *NetworkFactory) LoadNetworkFile(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network file: %w", err)
	}

	network, err := f.ParseNetwork(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return network, nil
}

// FromJSON converts NetworkJSON to a Network. Bad entries are skipped with
// a warning; only malformed JSON reaches the caller as an error.
func (f *NetworkFactory) FromJSON(nj NetworkJSON) (*Network, error) {
	n := &Network{
		Name:         nj.Name,
		Measurements: hydro.NewStaticMeasurements(),
	}

	facilities, codes := f.parseFacilities(nj.Facilities, n)
	sources := f.parseSources(nj.Sources, n)
	f.parseMeasurements(nj.Measurements, n)

	// Feeds-to references are checked across the whole file, after every
	// node is known.
	for _, fac := range facilities {
		for _, dest := range fac.FeedsTo {
			if !codes[dest] {
				n.warnf(hydro.WarnOrphanDestination,
					"facility %s feeds unknown destination %s", fac.Code, dest)
			}
		}
	}

	constants := make(map[string]decimal.Decimal, len(nj.Constants))
	for name, value := range nj.Constants {
		constants[name] = decimal.NewFromFloat(value)
	}

	n.Config = &hydro.StaticConfig{
		FacilityList: facilities,
		SourceList:   sources,
		Constants:    constants,
		Threshold:    decimal.NewFromFloat(nj.ClosureThresholdPct),
		Scope:        parseScope(nj.TransferScope),
	}
	n.History = parseHistory(nj.History)

	return n, nil
}

func (f *NetworkFactory) parseFacilities(fjs []FacilityJSON, n *Network) ([]hydro.Facility, map[string]bool) {
	var facilities []hydro.Facility
	codes := make(map[string]bool, len(fjs))

	for i, fj := range fjs {
		if fj.Code == "" {
			n.warnf(hydro.WarnInvalidConfig, "facility entry %d has no code, skipped", i)
			continue
		}
		if codes[fj.Code] {
			n.warnf(hydro.WarnInvalidConfig, "duplicate facility code %s, entry skipped", fj.Code)
			continue
		}

		fac := hydro.Facility{
			Code:                   fj.Code,
			Name:                   fj.Name,
			Type:                   parseFacilityType(fj.Type),
			Area:                   fj.Area,
			TotalCapacity:          hydro.NewVolume(fj.TotalCapacity),
			CurrentVolume:          hydro.NewVolume(fj.CurrentVolume),
			SurfaceArea:            decimal.NewFromFloat(fj.SurfaceArea),
			EvaporationParticipant: fj.EvaporationParticipant,
			PumpStartLevel:         decimal.NewFromFloat(fj.PumpStartLevel),
			PumpStopLevel:          decimal.NewFromFloat(fj.PumpStopLevel),
			FeedsTo:                fj.FeedsTo,
			Active:                 fj.Active == nil || *fj.Active,
		}

		n.Warnings = append(n.Warnings, fac.Validate()...)
		facilities = append(facilities, fac)
		codes[fj.Code] = true
	}

	return facilities, codes
}

func (f *NetworkFactory) parseSources(sjs []SourceJSON, n *Network) []hydro.Source {
	var sources []hydro.Source
	seen := make(map[string]bool, len(sjs))

	for i, sj := range sjs {
		if sj.Code == "" {
			n.warnf(hydro.WarnInvalidConfig, "source entry %d has no code, skipped", i)
			continue
		}
		if seen[sj.Code] {
			n.warnf(hydro.WarnInvalidConfig, "duplicate source code %s, entry skipped", sj.Code)
			continue
		}

		category := hydro.SourceCategory(sj.Category)
		switch category {
		case hydro.SourceSurface, hydro.SourceGroundwater, hydro.SourceUnderground:
		default:
			// An unknown category would drop the source's water from the
			// category breakdown. Keep the volume, fix the label.
			n.warnf(hydro.WarnInvalidConfig,
				"source %s has unknown category %q, treated as surface", sj.Code, sj.Category)
			category = hydro.SourceSurface
		}

		reliability := decimal.NewFromFloat(sj.Reliability)
		if reliability.IsZero() {
			reliability = decimal.NewFromInt(1)
		}

		sources = append(sources, hydro.Source{
			Code:              sj.Code,
			Name:              sj.Name,
			Category:          category,
			AverageFlowRate:   hydro.NewVolume(sj.AverageFlowRate),
			ReliabilityFactor: reliability,
		})
		seen[sj.Code] = true
	}

	return sources
}

func (f *NetworkFactory) parseMeasurements(mjs []MeasurementJSON, n *Network) {
	for _, mj := range mjs {
		month, err := hydro.ParseMonth(mj.Month)
		if err != nil {
			n.warnf(hydro.WarnInvalidConfig,
				"measurement %s has invalid month %q, skipped", mj.Parameter, mj.Month)
			continue
		}
		if mj.Parameter == "" {
			n.warnf(hydro.WarnInvalidConfig,
				"measurement for %s has no parameter, skipped", mj.Month)
			continue
		}
		n.Measurements.Set(hydro.ParameterType(mj.Parameter), month, decimal.NewFromFloat(mj.Value))
	}
}

func (n *Network) warnf(code hydro.WarningCode, format string, args ...any) {
	n.Warnings = append(n.Warnings, hydro.Warningf(code, format, args...))
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseFacilityType(s string) hydro.FacilityType {
	switch hydro.FacilityType(s) {
	case hydro.FacilityDam, hydro.FacilityPond, hydro.FacilityPit,
		hydro.FacilityTSF, hydro.FacilityTank, hydro.FacilitySump:
		return hydro.FacilityType(s)
	default:
		return hydro.FacilityPond
	}
}

func parseScope(sj *ScopeJSON) hydro.TransferScope {
	if sj == nil {
		return hydro.TransferScope{Mode: hydro.ScopeGlobal}
	}
	switch sj.Mode {
	case string(hydro.ScopePilot):
		return hydro.TransferScope{Mode: hydro.ScopePilot, PilotAreas: sj.PilotAreas}
	default:
		return hydro.TransferScope{Mode: hydro.ScopeGlobal}
	}
}

func parseHistory(hj *HistoryJSON) hydro.HistoryConfig {
	hc := hydro.HistoryConfig{Enabled: true, Months: hydro.DefaultHistoryMonths}
	if hj == nil {
		return hc
	}
	if hj.Enabled != nil {
		hc.Enabled = *hj.Enabled
	}
	if hj.Months > 0 {
		hc.Months = hj.Months
	}
	return hc
}

// =============================================================================
// STORE SEEDING
// =============================================================================

// Seeder is the store surface a parsed network is written into. Both
// store/sqlite and store/postgres satisfy it.
type Seeder interface {
	SaveFacility(ctx context.Context, f hydro.Facility) error
	SaveSource(ctx context.Context, src hydro.Source) error
	SaveMeasurement(ctx context.Context, m hydro.Measurement) error
	SetConstant(ctx context.Context, name string, value decimal.Decimal) error
	SetSetting(ctx context.Context, key, value string) error
}

// Setting keys written by Seed. Kept in lockstep with the store providers.
const (
	settingClosureThreshold = "closure_threshold_pct"
	settingScopeMode        = "transfer_scope_mode"
	settingPilotAreas       = "transfer_pilot_areas"
	settingHistoryEnabled   = "history_enabled"
	settingHistoryMonths    = "history_months"
)

// Seed writes a parsed network into a store: facilities, sources,
// measurements, constants, and the rollout settings. Existing rows with
// the same keys are overwritten; rows absent from the network are left
// alone.
func Seed(ctx context.Context, store Seeder, n *Network) error {
	for _, f := range n.Config.FacilityList {
		if err := store.SaveFacility(ctx, f); err != nil {
			return fmt.Errorf("seed facility %s: %w", f.Code, err)
		}
	}
	for _, src := range n.Config.SourceList {
		if err := store.SaveSource(ctx, src); err != nil {
			return fmt.Errorf("seed source %s: %w", src.Code, err)
		}
	}
	for param, byMonth := range n.Measurements.Values {
		for month, value := range byMonth {
			m := hydro.Measurement{Parameter: param, Date: month, Value: value}
			if err := store.SaveMeasurement(ctx, m); err != nil {
				return fmt.Errorf("seed measurement %s@%s: %w", param, month, err)
			}
		}
	}
	for name, value := range n.Config.Constants {
		if err := store.SetConstant(ctx, name, value); err != nil {
			return fmt.Errorf("seed constant %s: %w", name, err)
		}
	}

	if !n.Config.Threshold.IsZero() {
		if err := store.SetSetting(ctx, settingClosureThreshold, n.Config.Threshold.String()); err != nil {
			return fmt.Errorf("seed threshold: %w", err)
		}
	}

	scope := n.Config.Scope
	if scope.Mode == hydro.ScopePilot {
		if err := store.SetSetting(ctx, settingScopeMode, string(hydro.ScopePilot)); err != nil {
			return fmt.Errorf("seed scope mode: %w", err)
		}
		areas, err := json.Marshal(scope.PilotAreas)
		if err != nil {
			return fmt.Errorf("seed pilot areas: %w", err)
		}
		if err := store.SetSetting(ctx, settingPilotAreas, string(areas)); err != nil {
			return fmt.Errorf("seed pilot areas: %w", err)
		}
	}

	if !n.History.Enabled {
		if err := store.SetSetting(ctx, settingHistoryEnabled, "false"); err != nil {
			return fmt.Errorf("seed history flag: %w", err)
		}
	}
	if n.History.Months != hydro.DefaultHistoryMonths {
		if err := store.SetSetting(ctx, settingHistoryMonths, fmt.Sprintf("%d", n.History.Months)); err != nil {
			return fmt.Errorf("seed history window: %w", err)
		}
	}

	return nil
}
