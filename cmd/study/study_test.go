package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/HatiCode/ensagg/cmd/study/config"
	"github.com/HatiCode/ensagg/cmd/study/metrics"
	"github.com/HatiCode/ensagg/pkg/storage"
)

// Prometheus collectors register globally, so tests share one instance.
var (
	testMetricsOnce sync.Once
	testMetrics     *metrics.Metrics
)

func sharedMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = metrics.New()
	})
	return testMetrics
}

// smallExperiment keeps the pipeline smoke test fast: one scenario, one
// replicate, the parametric network only.
func smallExperiment() config.Experiment {
	return config.Experiment{
		Scenarios:     []int{1},
		Replicates:    1,
		Networks:      []string{"drn"},
		EnsembleSizes: []int{2},
		AggMethods:    []string{"lp", "vi"},
		Levels:        19,
		Degree:        2,
		TrainSize:     60,
		ValidSize:     20,
		TestSize:      10,
		Workers:       1,
	}
}

func TestStudy_RunPipeline(t *testing.T) {
	exp := smallExperiment()
	store := storage.NewMemoryStore()
	outDir := t.TempDir()

	study := NewStudy(exp, store, discardLogger(), sharedMetrics(), outDir)
	if err := study.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ctx := context.Background()

	// Reference, two members, and one record per (method, size).
	wantSources := []string{"ref", "ind_1", "ind_2"}
	for _, source := range wantSources {
		key := storage.Key{Dataset: "scen_1", NN: "drn", Sim: 0, Source: source, NEns: 0}
		rec, found, err := store.Get(ctx, key)
		if err != nil || !found {
			t.Fatalf("record %s: found=%v err=%v", source, found, err)
		}
		if len(rec.CRPS) != exp.TestSize {
			t.Errorf("%s: %d scores, want %d", source, len(rec.CRPS), exp.TestSize)
		}
	}

	for _, method := range exp.AggMethods {
		key := storage.Key{Dataset: "scen_1", NN: "drn", Sim: 0, Source: method, NEns: 2}
		rec, found, err := store.Get(ctx, key)
		if err != nil || !found {
			t.Fatalf("record %s: found=%v err=%v", method, found, err)
		}
		if len(rec.Weights) != 2 {
			t.Errorf("%s: %d weights, want 2", method, len(rec.Weights))
		}
		for _, c := range rec.CRPS {
			if c < 0 {
				t.Errorf("%s: negative CRPS %v", method, c)
			}
		}
	}

	// CSV outputs exist with the stable column contract.
	f, err := os.Open(filepath.Join(outDir, "panel.csv"))
	if err != nil {
		t.Fatalf("open panel.csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read panel.csv: %v", err)
	}
	wantHeader := []string{"dataset", "nn", "metric", "n_ens", "agg", "score"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Fatalf("panel.csv header = %v, want %v", rows[0], wantHeader)
		}
	}
	if len(rows) < 2 {
		t.Fatal("panel.csv has no data rows")
	}

	for _, name := range []string{"skills.csv", "best.csv"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
}

func TestStudy_UnknownScenarioFails(t *testing.T) {
	bad := smallExperiment()
	bad.Scenarios = []int{99}

	study := NewStudy(bad, storage.NewMemoryStore(), discardLogger(), sharedMetrics(), t.TempDir())
	if err := study.Run(context.Background()); err == nil {
		t.Error("Run() with unknown scenario: expected error")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
