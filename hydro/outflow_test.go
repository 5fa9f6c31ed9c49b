package hydro_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/hydro"
)

func outflowFixture(ms hydro.MeasurementProvider, constants map[string]decimal.Decimal) *hydro.OutflowAggregator {
	cfg := &hydro.StaticConfig{Constants: constants}
	return hydro.NewOutflowAggregator(hydro.NewResolver(ms, cfg, hydro.HistoryConfig{}, nil, nil))
}

func TestOutflowAggregator_PlantCircuit(t *testing.T) {
	// GIVEN: 100,000 t milled at 1.2 m³/t, 35% TSF return, 0.25 retention
	// WHEN: Aggregating
	// THEN: gross 120,000; TSF return 42,000; net 78,000; retention 19,500

	agg := outflowFixture(hydro.NewStaticMeasurements(), testConstants())

	out := agg.Aggregate(context.Background(), hydro.OutflowInput{
		Date:      mar2025(),
		OreTonnes: dec("100000"),
	})

	if !out.Categories[hydro.OutflowPlantGross].Equal(vol(120000)) {
		t.Errorf("expected gross 120000, got %v", out.Categories[hydro.OutflowPlantGross])
	}
	if !out.Categories[hydro.OutflowTSFReturn].Equal(vol(42000)) {
		t.Errorf("expected TSF return 42000, got %v", out.Categories[hydro.OutflowTSFReturn])
	}
	if !out.Categories[hydro.OutflowPlantNet].Equal(vol(78000)) {
		t.Errorf("expected net 78000, got %v", out.Categories[hydro.OutflowPlantNet])
	}
	if !out.Categories[hydro.OutflowTailingsRetention].Equal(vol(19500)) {
		t.Errorf("expected retention 19500, got %v", out.Categories[hydro.OutflowTailingsRetention])
	}
	if !out.TSFReturn.Equal(out.Categories[hydro.OutflowTSFReturn]) {
		t.Error("TSFReturn field must mirror the category line")
	}
}

func TestOutflowAggregator_SeepageFallback_SumsFacilities(t *testing.T) {
	// GIVEN: No measured seepage, two facilities holding 100,000 and
	//        50,000 m³ at a 2% monthly rate
	// WHEN: Aggregating
	// THEN: Seepage = 2,000 + 1,000

	agg := outflowFixture(hydro.NewStaticMeasurements(), testConstants())

	out := agg.Aggregate(context.Background(), hydro.OutflowInput{
		Date: mar2025(),
		Facilities: []hydro.Facility{
			{Code: "DAM1", CurrentVolume: vol(100000), TotalCapacity: vol(200000)},
			{Code: "POND1", CurrentVolume: vol(50000), TotalCapacity: vol(80000)},
		},
	})

	if !out.Categories[hydro.OutflowSeepageLoss].Equal(vol(3000)) {
		t.Errorf("expected seepage 3000, got %v", out.Categories[hydro.OutflowSeepageLoss])
	}
}

func TestOutflowAggregator_SeepageMeasured_WinsOverFormula(t *testing.T) {
	// GIVEN: A measured seepage value and facilities that would produce a
	//        different formula result
	// WHEN: Aggregating
	// THEN: The measurement wins

	ms := hydro.NewStaticMeasurements(hydro.Measurement{
		Parameter: hydro.ParamSeepageLoss, Date: mar2025(), Value: dec("4500"),
	})
	agg := outflowFixture(ms, testConstants())

	out := agg.Aggregate(context.Background(), hydro.OutflowInput{
		Date: mar2025(),
		Facilities: []hydro.Facility{
			{Code: "DAM1", CurrentVolume: vol(100000), TotalCapacity: vol(200000)},
		},
	})

	if !out.Categories[hydro.OutflowSeepageLoss].Equal(vol(4500)) {
		t.Errorf("expected measured seepage 4500, got %v", out.Categories[hydro.OutflowSeepageLoss])
	}
}

func TestOutflowAggregator_DustSuppression_FallsBackToTonnageRate(t *testing.T) {
	// GIVEN: No measured dust suppression, 100,000 t at 0.03 m³/t
	// WHEN: Aggregating
	// THEN: Dust suppression = 3,000

	agg := outflowFixture(hydro.NewStaticMeasurements(), testConstants())

	out := agg.Aggregate(context.Background(), hydro.OutflowInput{
		Date:      mar2025(),
		OreTonnes: dec("100000"),
	})

	if !out.Categories[hydro.OutflowDustSuppression].Equal(vol(3000)) {
		t.Errorf("expected dust suppression 3000, got %v", out.Categories[hydro.OutflowDustSuppression])
	}
}

func TestOutflowAggregator_ClosureTotal_NetEvapDischargeOnly(t *testing.T) {
	// GIVEN: A month with every outflow category populated
	// WHEN: Aggregating
	// THEN: ClosureTotal = net + evaporation + discharge; Total also
	//       carries seepage, dust, and the fixed consumption lines;
	//       gross, TSF return, and retention enter neither

	ms := hydro.NewStaticMeasurements(
		hydro.Measurement{Parameter: hydro.ParamEvaporation, Date: mar2025(), Value: dec("200")},
		hydro.Measurement{Parameter: hydro.ParamDischarge, Date: mar2025(), Value: dec("10000")},
		hydro.Measurement{Parameter: hydro.ParamMiningConsumption, Date: mar2025(), Value: dec("1500")},
		hydro.Measurement{Parameter: hydro.ParamDomesticConsumption, Date: mar2025(), Value: dec("800")},
		hydro.Measurement{Parameter: hydro.ParamProductMoisture, Date: mar2025(), Value: dec("700")},
	)
	agg := outflowFixture(ms, testConstants())

	out := agg.Aggregate(context.Background(), hydro.OutflowInput{
		Date:      mar2025(),
		OreTonnes: dec("100000"),
		Facilities: []hydro.Facility{
			{Code: "DAM1", CurrentVolume: vol(100000), TotalCapacity: vol(200000),
				SurfaceArea: dec("50000"), EvaporationParticipant: true},
		},
	})

	// evaporation = 0.2 x 50000 = 10000; seepage = 2000; dust = 3000
	wantClosure := vol(78000 + 10000 + 10000)
	if !out.ClosureTotal.Equal(wantClosure) {
		t.Errorf("expected closure total %v, got %v", wantClosure, out.ClosureTotal)
	}

	wantTotal := vol(78000 + 10000 + 2000 + 3000 + 1500 + 800 + 10000 + 700)
	if !out.Total.Equal(wantTotal) {
		t.Errorf("expected reported total %v, got %v", wantTotal, out.Total)
	}
}
