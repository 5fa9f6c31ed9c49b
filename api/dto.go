/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

UNITS AT THE BOUNDARY:
  The engine computes in decimal; DTOs carry float64. The conversion is
  one-way (display), so float drift never feeds back into the balance.

TYPES:
  Balance:
    CalculateRequest, CalculateResponseDTO, BalanceResultDTO, KPIDTO

  Network:
    FacilityDTO, SourceDTO, FacilityBalanceDTO

  Transfers:
    PumpTransferDTO, TransferEventDTO, ApplyOutcomeDTO, ApplyRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - hydro/result.go: The domain shapes these project
*/
package api

import (
	"time"

	"github.com/sitewater/balance-engine/hydro"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CalculateRequest asks for the balance of one month.
type CalculateRequest struct {
	Date             string             `json:"date"` // "2006-01"
	ProductionVolume float64            `json:"production_volume"`
	ApplyTransfers   bool               `json:"apply_transfers,omitempty"`
	Overrides        map[string]float64 `json:"overrides,omitempty"`
}

// ApplyRequest triggers transfer application for one month.
type ApplyRequest struct {
	Date             string   `json:"date"`
	ProductionVolume *float64 `json:"production_volume,omitempty"` // nil: resolve from measurements
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// FacilityDTO represents a storage facility in API responses.
type FacilityDTO struct {
	Code                   string   `json:"code"`
	Name                   string   `json:"name"`
	Type                   string   `json:"type"`
	Area                   string   `json:"area,omitempty"`
	TotalCapacity          float64  `json:"total_capacity"`
	CurrentVolume          float64  `json:"current_volume"`
	LevelPct               float64  `json:"level_pct"`
	SurfaceArea            float64  `json:"surface_area,omitempty"`
	EvaporationParticipant bool     `json:"evaporation_participant"`
	PumpStartLevel         float64  `json:"pump_start_level,omitempty"`
	PumpStopLevel          float64  `json:"pump_stop_level,omitempty"`
	FeedsTo                []string `json:"feeds_to,omitempty"`
	Active                 bool     `json:"active"`
}

// SourceDTO represents a water source in API responses.
type SourceDTO struct {
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	AverageFlowRate float64 `json:"average_flow_rate"`
	Reliability     float64 `json:"reliability"`
}

// FacilityBalanceDTO is one facility's opening-to-closing projection.
type FacilityBalanceDTO struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Opening    float64 `json:"opening"`
	Inflow     float64 `json:"inflow"`
	Outflow    float64 `json:"outflow"`
	Closing    float64 `json:"closing"`
	Overflow   float64 `json:"overflow,omitempty"`
	Deficit    float64 `json:"deficit,omitempty"`
	NetBalance float64 `json:"net_balance"`
	LevelPct   float64 `json:"level_pct"`
}

// PumpTransferDTO is one planned redistribution.
type PumpTransferDTO struct {
	SourceCode      string  `json:"source_code"`
	DestinationCode string  `json:"destination_code"`
	Priority        int     `json:"priority"`
	Volume          float64 `json:"volume"`
	DestLevelBefore float64 `json:"destination_level_before_pct"`
	DestLevelAfter  float64 `json:"destination_level_after_pct"`
}

// TransferEventDTO is one applied-transfer audit record.
type TransferEventDTO struct {
	CalcDate        string  `json:"calc_date"`
	SourceCode      string  `json:"source_code"`
	DestinationCode string  `json:"destination_code"`
	Volume          float64 `json:"volume"`
	AppliedAt       string  `json:"applied_at"`
}

// ApplyOutcomeDTO reports what one application pass did.
type ApplyOutcomeDTO struct {
	Applied         []TransferEventDTO `json:"applied"`
	SkippedExisting []PumpTransferDTO  `json:"skipped_existing,omitempty"`
	SkippedScope    []PumpTransferDTO  `json:"skipped_scope,omitempty"`
}

// WarningDTO is a non-fatal data-quality or configuration finding.
type WarningDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BalanceResultDTO is the full balance for one month.
type BalanceResultDTO struct {
	Date             string `json:"date"`
	ProductionVolume float64 `json:"production_volume"`

	Inflows      map[string]float64 `json:"inflows"`
	SourceFlows  map[string]float64 `json:"source_flows,omitempty"`
	TotalInflows float64            `json:"total_inflows"`
	FreshInflows float64            `json:"fresh_inflows"`

	Outflows        map[string]float64 `json:"outflows"`
	TotalOutflows   float64            `json:"total_outflows"`
	ClosureOutflows float64            `json:"closure_outflows"`

	Facilities    []FacilityBalanceDTO `json:"facilities"`
	TotalOpening  float64              `json:"total_opening"`
	TotalClosing  float64              `json:"total_closing"`
	StorageChange float64              `json:"storage_change"`

	ClosureError     float64 `json:"closure_error"`
	ClosureErrorPct  float64 `json:"closure_error_pct"`
	ClosureThreshold float64 `json:"closure_threshold_pct"`
	Status           string  `json:"status"`

	PumpTransfers []PumpTransferDTO `json:"pump_transfers"`
	Warnings      []WarningDTO      `json:"warnings,omitempty"`

	ComputedAt string `json:"computed_at"`
}

// CalculateResponseDTO pairs a balance with the apply outcome of this call.
type CalculateResponseDTO struct {
	Result  BalanceResultDTO `json:"result"`
	Applied *ApplyOutcomeDTO `json:"applied,omitempty"`
}

// KPIDTO is the dashboard projection of a balance.
type KPIDTO struct {
	Date             string  `json:"date"`
	ProductionVolume float64 `json:"production_volume"`
	TotalInflows     float64 `json:"total_inflows"`
	FreshInflows     float64 `json:"fresh_inflows"`
	TotalOutflows    float64 `json:"total_outflows"`
	StorageChange    float64 `json:"storage_change"`
	SystemFillPct    float64 `json:"system_fill_pct"`
	ClosureErrorPct  float64 `json:"closure_error_pct"`
	Status           string  `json:"status"`
	TransferCount    int     `json:"transfer_count"`
	WarningCount     int     `json:"warning_count"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toFacilityDTO(f hydro.Facility) FacilityDTO {
	level, _ := f.LevelPct().Float64()
	area, _ := f.SurfaceArea.Float64()
	start, _ := f.PumpStartLevel.Float64()
	stop, _ := f.PumpStopLevel.Float64()
	return FacilityDTO{
		Code:                   f.Code,
		Name:                   f.Name,
		Type:                   string(f.Type),
		Area:                   f.Area,
		TotalCapacity:          f.TotalCapacity.Float64(),
		CurrentVolume:          f.CurrentVolume.Float64(),
		LevelPct:               level,
		SurfaceArea:            area,
		EvaporationParticipant: f.EvaporationParticipant,
		PumpStartLevel:         start,
		PumpStopLevel:          stop,
		FeedsTo:                f.FeedsTo,
		Active:                 f.Active,
	}
}

func toSourceDTO(s hydro.Source) SourceDTO {
	rel, _ := s.NormalizedReliability().Float64()
	return SourceDTO{
		Code:            s.Code,
		Name:            s.Name,
		Category:        string(s.Category),
		AverageFlowRate: s.AverageFlowRate.Float64(),
		Reliability:     rel,
	}
}

func toFacilityBalanceDTO(b hydro.FacilityBalance) FacilityBalanceDTO {
	level, _ := b.LevelPct.Float64()
	return FacilityBalanceDTO{
		Code:       b.Code,
		Name:       b.Name,
		Opening:    b.Opening.Float64(),
		Inflow:     b.Inflow.Float64(),
		Outflow:    b.Outflow.Float64(),
		Closing:    b.Closing.Float64(),
		Overflow:   b.Overflow.Float64(),
		Deficit:    b.Deficit.Float64(),
		NetBalance: b.NetBalance.Float64(),
		LevelPct:   level,
	}
}

func toPumpTransferDTO(t hydro.PumpTransfer) PumpTransferDTO {
	before, _ := t.DestinationLevelBeforePct.Float64()
	after, _ := t.DestinationLevelAfterPct.Float64()
	return PumpTransferDTO{
		SourceCode:      t.SourceCode,
		DestinationCode: t.DestinationCode,
		Priority:        t.Priority,
		Volume:          t.Volume.Float64(),
		DestLevelBefore: before,
		DestLevelAfter:  after,
	}
}

func toPumpTransferDTOs(ts []hydro.PumpTransfer) []PumpTransferDTO {
	dtos := make([]PumpTransferDTO, len(ts))
	for i, t := range ts {
		dtos[i] = toPumpTransferDTO(t)
	}
	return dtos
}

func toTransferEventDTO(ev hydro.TransferEvent) TransferEventDTO {
	return TransferEventDTO{
		CalcDate:        ev.CalcDate.String(),
		SourceCode:      ev.SourceCode,
		DestinationCode: ev.DestinationCode,
		Volume:          ev.Volume.Float64(),
		AppliedAt:       ev.AppliedAt.Format(time.RFC3339),
	}
}

func toApplyOutcomeDTO(o *hydro.ApplyOutcome) *ApplyOutcomeDTO {
	if o == nil {
		return nil
	}
	dto := &ApplyOutcomeDTO{Applied: make([]TransferEventDTO, len(o.Applied))}
	for i, ev := range o.Applied {
		dto.Applied[i] = toTransferEventDTO(ev)
	}
	if len(o.SkippedExisting) > 0 {
		dto.SkippedExisting = toPumpTransferDTOs(o.SkippedExisting)
	}
	if len(o.SkippedScope) > 0 {
		dto.SkippedScope = toPumpTransferDTOs(o.SkippedScope)
	}
	return dto
}

func toWarningDTOs(ws []hydro.Warning) []WarningDTO {
	if len(ws) == 0 {
		return nil
	}
	dtos := make([]WarningDTO, len(ws))
	for i, w := range ws {
		dtos[i] = WarningDTO{Code: string(w.Code), Message: w.Message}
	}
	return dtos
}

func toBalanceResultDTO(r *hydro.BalanceResult) BalanceResultDTO {
	inflows := make(map[string]float64, len(r.Inflows))
	for cat, v := range r.Inflows {
		inflows[string(cat)] = v.Float64()
	}
	outflows := make(map[string]float64, len(r.Outflows))
	for cat, v := range r.Outflows {
		outflows[string(cat)] = v.Float64()
	}
	var sourceFlows map[string]float64
	if len(r.SourceFlows) > 0 {
		sourceFlows = make(map[string]float64, len(r.SourceFlows))
		for code, v := range r.SourceFlows {
			sourceFlows[code] = v.Float64()
		}
	}
	facilities := make([]FacilityBalanceDTO, len(r.Facilities))
	for i, b := range r.Facilities {
		facilities[i] = toFacilityBalanceDTO(b)
	}

	production, _ := r.ProductionVolume.Float64()
	errPct, _ := r.ClosureErrorPct.Float64()
	threshold, _ := r.ClosureThreshold.Float64()

	return BalanceResultDTO{
		Date:             r.Date.String(),
		ProductionVolume: production,

		Inflows:      inflows,
		SourceFlows:  sourceFlows,
		TotalInflows: r.TotalInflows.Float64(),
		FreshInflows: r.FreshInflows.Float64(),

		Outflows:        outflows,
		TotalOutflows:   r.TotalOutflows.Float64(),
		ClosureOutflows: r.ClosureOutflows.Float64(),

		Facilities:    facilities,
		TotalOpening:  r.TotalOpening.Float64(),
		TotalClosing:  r.TotalClosing.Float64(),
		StorageChange: r.StorageChange.Float64(),

		ClosureError:     r.ClosureError.Float64(),
		ClosureErrorPct:  errPct,
		ClosureThreshold: threshold,
		Status:           string(r.Status),

		PumpTransfers: toPumpTransferDTOs(r.PumpTransfers),
		Warnings:      toWarningDTOs(r.Warnings),

		ComputedAt: r.ComputedAt.Format(time.RFC3339),
	}
}

func toKPIDTO(k *hydro.KPISet) KPIDTO {
	production, _ := k.ProductionVolume.Float64()
	fill, _ := k.SystemFillPct.Float64()
	errPct, _ := k.ClosureErrorPct.Float64()
	return KPIDTO{
		Date:             k.Date.String(),
		ProductionVolume: production,
		TotalInflows:     k.TotalInflows.Float64(),
		FreshInflows:     k.FreshInflows.Float64(),
		TotalOutflows:    k.TotalOutflows.Float64(),
		StorageChange:    k.StorageChange.Float64(),
		SystemFillPct:    fill,
		ClosureErrorPct:  errPct,
		Status:           string(k.Status),
		TransferCount:    k.TransferCount,
		WarningCount:     k.WarningCount,
	}
}
