/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built site networks that populate the store with realistic
	data for testing and demos. Each scenario seeds facilities, sources,
	constants, and measurements that demonstrate specific engine behavior.

AVAILABLE SCENARIOS:

	standard-site:  Typical mine site in steady state; balance closes
	wet-season:     Heavy rainfall month; dams fill and pump transfers plan
	pilot-rollout:  Same network under pilot-area transfer scope

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Build the site network document
 3. Seed facilities, sources, constants, measurements
 4. Reload the provider snapshot
 5. Invalidate the result cache

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "wet-season"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create a network builder: xxxNetwork()
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: shared helpers
  - factory/network.go: network document schema and Seed
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/sitewater/balance-engine/factory"
	"github.com/sitewater/balance-engine/hydro"
	"github.com/sitewater/balance-engine/logging"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-site",
		Name:        "Standard Mine Site",
		Description: "Five-facility network in steady state; the balance closes within threshold",
	},
	{
		ID:          "wet-season",
		Name:        "Wet Season",
		Description: "Heavy rainfall month: dams approach capacity and pump transfers plan",
	},
	{
		ID:          "pilot-rollout",
		Name:        "Pilot Rollout",
		Description: "Wet-season network with transfer application gated to the north area",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var doc factory.NetworkJSON
	switch req.ScenarioID {
	case "standard-site":
		doc = standardSiteNetwork()
	case "wet-season":
		doc = wetSeasonNetwork()
	case "pilot-rollout":
		doc = wetSeasonNetwork()
		doc.TransferScope = &factory.ScopeJSON{
			Mode:       string(hydro.ScopePilot),
			PilotAreas: []string{"north"},
		}
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	ctx := r.Context()

	network, err := h.Factory.FromJSON(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build scenario network", err)
		return
	}

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	if err := factory.Seed(ctx, h.Store, network); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed scenario", err)
		return
	}
	if h.Provider != nil {
		if err := h.Provider.Reload(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reload configuration", err)
			return
		}
	}
	h.Calc.InvalidateCache("scenario_load")

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", logging.Fields{
		"scenario":   req.ScenarioID,
		"facilities": len(network.Config.FacilityList),
		"sources":    len(network.Config.SourceList),
		"warnings":   len(network.Warnings),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"warnings": toWarningDTOs(network.Warnings),
	})
}

// ResetDatabase clears the store without loading a scenario.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	if h.Provider != nil {
		if err := h.Provider.Reload(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reload configuration", err)
			return
		}
	}
	h.Calc.InvalidateCache("store_reset")

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// =============================================================================
// SITE NETWORKS
// =============================================================================

// standardSiteNetwork is a typical mine water circuit: a raw water dam
// feeding the plant, a process pond, the TSF, and a pit sump dewatering
// into the process pond. Volumes sit mid-band, so no pumping triggers.
func standardSiteNetwork() factory.NetworkJSON {
	month := hydro.CurrentMonth().String()
	active := true

	return factory.NetworkJSON{
		Name:                "standard mine site",
		ClosureThresholdPct: 5,
		Constants: map[string]float64{
			hydro.ConstMiningWaterPerTonne:  0.8,
			hydro.ConstTSFReturnPct:         35,
			hydro.ConstTailingsRetentionPct: 0.25,
			hydro.ConstOreDensity:           2.7,
			hydro.ConstSeepageRatePct:       0.5,
			hydro.ConstDustSuppressionRate:  0.05,
			hydro.ConstTransferIncrementPct: 5,
		},
		Facilities: []factory.FacilityJSON{
			{
				Code: "RAW-DAM", Name: "Raw water dam", Type: "dam", Area: "north",
				TotalCapacity: 2_000_000, CurrentVolume: 1_100_000, SurfaceArea: 120_000,
				EvaporationParticipant: true,
				PumpStartLevel:         80, PumpStopLevel: 40,
				FeedsTo: []string{"PROC-POND"}, Active: &active,
			},
			{
				Code: "PROC-POND", Name: "Process water pond", Type: "pond", Area: "plant",
				TotalCapacity: 500_000, CurrentVolume: 250_000, SurfaceArea: 30_000,
				EvaporationParticipant: true,
				PumpStartLevel:         85, PumpStopLevel: 30,
				Active: &active,
			},
			{
				Code: "TSF-1", Name: "Tailings storage facility", Type: "tsf", Area: "south",
				TotalCapacity: 3_000_000, CurrentVolume: 1_500_000, SurfaceArea: 400_000,
				EvaporationParticipant: true,
				PumpStartLevel:         75, PumpStopLevel: 50,
				FeedsTo: []string{"PROC-POND", "RAW-DAM"}, Active: &active,
			},
			{
				Code: "PIT-SUMP", Name: "Open pit sump", Type: "sump", Area: "north",
				TotalCapacity: 80_000, CurrentVolume: 30_000,
				PumpStartLevel: 60, PumpStopLevel: 10,
				FeedsTo: []string{"RAW-DAM"}, Active: &active,
			},
			{
				Code: "EMERG-TANK", Name: "Emergency supply tank", Type: "tank", Area: "plant",
				TotalCapacity: 50_000, CurrentVolume: 45_000,
				Active: &active,
			},
		},
		Sources: []factory.SourceJSON{
			{Code: "BH-1", Name: "Borefield 1", Category: "groundwater", AverageFlowRate: 90_000, Reliability: 0.9},
			{Code: "BH-2", Name: "Borefield 2", Category: "groundwater", AverageFlowRate: 60_000, Reliability: 0.8},
			{Code: "CREEK-1", Name: "Creek harvest", Category: "surface", AverageFlowRate: 40_000, Reliability: 0.6},
			{Code: "UG-1", Name: "Underground dewatering", Category: "underground", AverageFlowRate: 55_000, Reliability: 1},
		},
		Measurements: []factory.MeasurementJSON{
			{Parameter: string(hydro.ParamRainfall), Month: month, Value: 45},
			{Parameter: string(hydro.ParamEvaporation), Month: month, Value: 180},
			{Parameter: string(hydro.ParamOreTonnes), Month: month, Value: 350_000},
			{Parameter: string(hydro.ParamOreMoisturePct), Month: month, Value: 3},
			{Parameter: string(hydro.ParamPlantReturns), Month: month, Value: 15_000},
			{Parameter: string(hydro.ParamDischarge), Month: month, Value: 8_000},
		},
	}
}

// wetSeasonNetwork is the standard site after a cyclone month: heavy
// rainfall, reduced evaporation, and opening volumes high enough that the
// raw water dam and pit sump cross their pump start levels.
func wetSeasonNetwork() factory.NetworkJSON {
	doc := standardSiteNetwork()
	doc.Name = "wet season site"

	for i := range doc.Facilities {
		switch doc.Facilities[i].Code {
		case "RAW-DAM":
			doc.Facilities[i].CurrentVolume = 1_700_000 // 85%, start 80%
		case "PIT-SUMP":
			doc.Facilities[i].CurrentVolume = 64_000 // 80%, start 60%
		case "PROC-POND":
			doc.Facilities[i].CurrentVolume = 300_000 // 60%, accepts
		}
	}

	month := hydro.CurrentMonth().String()
	for i := range doc.Measurements {
		switch hydro.ParameterType(doc.Measurements[i].Parameter) {
		case hydro.ParamRainfall:
			doc.Measurements[i].Value = 320
		case hydro.ParamEvaporation:
			doc.Measurements[i].Value = 90
		}
	}
	doc.Measurements = append(doc.Measurements, factory.MeasurementJSON{
		Parameter: string(hydro.ParamSeepageGain), Month: month, Value: 5_000,
	})

	return doc
}
