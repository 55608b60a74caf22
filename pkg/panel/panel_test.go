package panel

import (
	"math"
	"testing"

	"github.com/HatiCode/ensagg/pkg/storage"
)

// record builds a two-instance record with a constant CRPS.
func record(dataset, source string, nEns, nRep int, crps float64) storage.Record {
	return storage.Record{
		Key: storage.Key{
			Dataset: dataset,
			NN:      "bqn",
			Sim:     0,
			Source:  source,
			NEns:    nEns,
		},
		NRep:      nRep,
		CRPS:      []float64{crps, crps},
		MeanError: []float64{0.1, -0.1},
		Length:    []float64{3, 3},
		Covered:   []float64{1, 0},
		PIT:       []float64{0.5, 0.5},
	}
}

func testRecords() []storage.Record {
	ref := record("scen_1", "ref", 0, 0, 0.2)

	ind1 := record("scen_1", "ind_1", 0, 1, 1.0)
	ind2 := record("scen_1", "ind_2", 0, 2, 0.8)

	lp := record("scen_1", "lp", 2, 2, 0.55)
	lp.Weights = []float64{0.5, 0.5}

	viaw := record("scen_1", "vi-aw", 2, 2, 0.48)
	viaw.Intercept = 0.3
	viaw.Weights = []float64{0.6, 0.4}

	return []storage.Record{ref, ind1, ind2, lp, viaw}
}

func findRow(t *testing.T, rows []Row, metric string, nEns int, agg string) Row {
	t.Helper()
	for _, r := range rows {
		if r.Metric == metric && r.NEns == nEns && r.Agg == agg {
			return r
		}
	}
	t.Fatalf("no row for metric=%s n_ens=%d agg=%s", metric, nEns, agg)
	return Row{}
}

func TestBuild_ScoreCells(t *testing.T) {
	rows := Build("scen_1", "bqn", testRecords(), []int{2}, []string{"lp", "vi-aw"})

	// Member average: (1.0 + 0.8) / 2.
	ens := findRow(t, rows, "crps", 2, SourceEnsemble)
	if !ens.Available || math.Abs(ens.Score-0.9) > 1e-12 {
		t.Errorf("ens crps = %+v, want 0.9", ens)
	}

	opt := findRow(t, rows, "crps", 2, SourceOptimal)
	if !opt.Available || math.Abs(opt.Score-0.2) > 1e-12 {
		t.Errorf("opt crps = %+v, want 0.2", opt)
	}

	lp := findRow(t, rows, "crps", 2, "lp")
	if !lp.Available || math.Abs(lp.Score-0.55) > 1e-12 {
		t.Errorf("lp crps = %+v, want 0.55", lp)
	}

	// 100 * (0.9 - 0.55) / (0.9 - 0.2) = 50.
	skill := findRow(t, rows, "crpss", 2, "lp")
	if !skill.Available || math.Abs(skill.Score-50) > 1e-9 {
		t.Errorf("lp crpss = %+v, want 50", skill)
	}

	cov := findRow(t, rows, "cov", 2, "lp")
	if !cov.Available || math.Abs(cov.Score-50) > 1e-12 {
		t.Errorf("lp cov = %+v, want 50 percent", cov)
	}

	// Mean weight 0.5 equals equal weights exactly.
	w := findRow(t, rows, "w", 2, "vi-aw")
	if !w.Available || math.Abs(w.Score) > 1e-9 {
		t.Errorf("vi-aw w = %+v, want 0", w)
	}

	a := findRow(t, rows, "a", 2, "vi-aw")
	if !a.Available || math.Abs(a.Score-0.3) > 1e-12 {
		t.Errorf("vi-aw a = %+v, want 0.3", a)
	}
}

func TestBuild_SkipRules(t *testing.T) {
	rows := Build("scen_1", "bqn", testRecords(), []int{2}, []string{"lp"})

	for _, r := range rows {
		if r.Metric == "crpss" && (r.Agg == SourceEnsemble || r.Agg == SourceOptimal) {
			t.Errorf("skill row emitted for reference source %q", r.Agg)
		}
		if (r.Metric == "a" || r.Metric == "w") && r.Agg == SourceOptimal {
			t.Errorf("%s row emitted for optimal source", r.Metric)
		}
	}

	// Members carry no combination parameters, so the member average has
	// no a/w cell either.
	w := findRow(t, rows, "w", 2, SourceEnsemble)
	if w.Available {
		t.Errorf("ens w available = true, want unavailable sentinel")
	}
	if !math.IsNaN(w.Score) {
		t.Errorf("ens w score = %v, want NaN", w.Score)
	}
}

func TestBuild_ParametersOnlyForEstimatingMethods(t *testing.T) {
	// The linear pool and plain Vincentization never fit an intercept or
	// weights; their a/w cells must be unavailable even though the stored
	// records carry the fixed equal weights.
	records := testRecords()
	vi := record("scen_1", "vi", 2, 2, 0.6)
	vi.Weights = []float64{0.5, 0.5}
	records = append(records, vi)

	rows := Build("scen_1", "bqn", records, []int{2}, []string{"lp", "vi", "vi-aw"})

	for _, tt := range []struct {
		metric, agg string
	}{
		{"a", "lp"},
		{"w", "lp"},
		{"a", "vi"},
		{"w", "vi"},
		{"a", "vi-aw"}, // sanity: the estimating variant stays available
	} {
		row := findRow(t, rows, tt.metric, 2, tt.agg)
		wantAvailable := tt.agg == "vi-aw"
		if row.Available != wantAvailable {
			t.Errorf("%s/%s available = %v, want %v", tt.metric, tt.agg, row.Available, wantAvailable)
		}
		if !wantAvailable && !math.IsNaN(row.Score) {
			t.Errorf("%s/%s score = %v, want NaN", tt.metric, tt.agg, row.Score)
		}
	}
}

func TestBuild_MissingOptimal(t *testing.T) {
	// Empirical datasets have no ideal-forecast records: opt and crpss
	// cells degrade to unavailable, everything else still fills in.
	var records []storage.Record
	for _, r := range testRecords() {
		if r.Key.Source == "ref" {
			continue
		}
		r.Key.Dataset = "uci_energy"
		records = append(records, r)
	}

	rows := Build("uci_energy", "bqn", records, []int{2}, []string{"lp"})

	opt := findRow(t, rows, "crps", 2, SourceOptimal)
	if opt.Available {
		t.Error("opt crps available without reference records")
	}
	skill := findRow(t, rows, "crpss", 2, "lp")
	if skill.Available {
		t.Error("crpss available without reference records")
	}
	lp := findRow(t, rows, "crps", 2, "lp")
	if !lp.Available {
		t.Error("lp crps should remain available")
	}
}

func TestBuild_MissingAggregationCell(t *testing.T) {
	rows := Build("scen_1", "bqn", testRecords(), []int{2, 10}, []string{"lp"})

	// No size-10 aggregation was stored.
	missing := findRow(t, rows, "crps", 10, "lp")
	if missing.Available {
		t.Error("crps cell for absent ensemble size should be unavailable")
	}
}

func TestBuild_FiltersOtherGroups(t *testing.T) {
	records := testRecords()
	stray := record("scen_4", "lp", 2, 2, 0.01)
	records = append(records, stray)

	rows := Build("scen_1", "bqn", records, []int{2}, []string{"lp"})
	lp := findRow(t, rows, "crps", 2, "lp")
	if math.Abs(lp.Score-0.55) > 1e-12 {
		t.Errorf("lp crps = %v, stray dataset leaked into the group", lp.Score)
	}
}

func TestSkillTable(t *testing.T) {
	rows := Build("scen_1", "bqn", testRecords(), []int{2}, []string{"lp", "vi-aw"})

	table := SkillTable(rows, []int{2}, []string{"lp", "vi-aw"})
	if len(table) != 2 {
		t.Fatalf("got %d skill rows, want 2", len(table))
	}

	lp := table[0]
	if lp.Agg != "lp" || !lp.Available {
		t.Fatalf("first row = %+v, want available lp", lp)
	}
	if math.Abs(lp.Skills[2]-50) > 1e-9 || math.Abs(lp.AvgSkill-50) > 1e-9 {
		t.Errorf("lp skills = %+v avg %v, want 50", lp.Skills, lp.AvgSkill)
	}

	// 100 * (0.9 - 0.48) / (0.9 - 0.2) = 60.
	viaw := table[1]
	if math.Abs(viaw.AvgSkill-60) > 1e-9 {
		t.Errorf("vi-aw avg skill = %v, want 60", viaw.AvgSkill)
	}
}

func TestSkillTable_Unavailable(t *testing.T) {
	var records []storage.Record
	for _, r := range testRecords() {
		if r.Key.Source == "ref" {
			continue
		}
		records = append(records, r)
	}
	rows := Build("scen_1", "bqn", records, []int{2}, []string{"lp"})

	table := SkillTable(rows, []int{2}, []string{"lp"})
	if len(table) != 1 {
		t.Fatalf("got %d skill rows, want 1", len(table))
	}
	if table[0].Available {
		t.Error("skill row available without reference records")
	}
	if !math.IsNaN(table[0].AvgSkill) {
		t.Errorf("AvgSkill = %v, want NaN", table[0].AvgSkill)
	}
}

func TestBestResultTable(t *testing.T) {
	rows := Build("scen_1", "bqn", testRecords(), []int{2}, []string{"lp", "vi-aw"})

	best := BestResultTable(rows, []string{"lp", "vi-aw"})
	if len(best) != 1 {
		t.Fatalf("got %d best results, want 1", len(best))
	}
	if best[0].Agg != "vi-aw" || best[0].NEns != 2 {
		t.Errorf("best = %+v, want vi-aw at n_ens 2", best[0])
	}
	if math.Abs(best[0].CRPS-0.48) > 1e-12 {
		t.Errorf("best CRPS = %v, want 0.48", best[0].CRPS)
	}

	// Reference rows never win even when lower.
	for _, b := range best {
		if b.Agg == SourceOptimal || b.Agg == SourceEnsemble {
			t.Errorf("reference source %q selected as best", b.Agg)
		}
	}
}
