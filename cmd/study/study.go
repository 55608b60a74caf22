package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/ensagg/cmd/study/config"
	"github.com/HatiCode/ensagg/cmd/study/metrics"
	"github.com/HatiCode/ensagg/pkg/agg"
	"github.com/HatiCode/ensagg/pkg/forecast"
	"github.com/HatiCode/ensagg/pkg/models"
	"github.com/HatiCode/ensagg/pkg/panel"
	"github.com/HatiCode/ensagg/pkg/runner"
	"github.com/HatiCode/ensagg/pkg/scoring"
	"github.com/HatiCode/ensagg/pkg/simulate"
	"github.com/HatiCode/ensagg/pkg/storage"
)

// Study orchestrates the full pipeline: simulate data, fit ensemble
// members, aggregate, score, persist records, and build the reporting
// tables.
type Study struct {
	exp     config.Experiment
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	outDir  string
}

// NewStudy wires the study with its collaborators.
func NewStudy(exp config.Experiment, store storage.Store, logger *slog.Logger, m *metrics.Metrics, outDir string) *Study {
	return &Study{
		exp:     exp,
		store:   store,
		logger:  logger,
		metrics: m,
		outDir:  outDir,
	}
}

// Run executes every (scenario, replicate) unit with bounded parallelism,
// then assembles the panel and tables from the persisted records. Failed
// units leave their cells unavailable; Run only errors when report writing
// itself fails.
func (s *Study) Run(ctx context.Context) error {
	start := time.Now()
	units := runner.Units(s.exp.Scenarios, s.exp.Replicates)

	interval := "ens-range"
	if level := s.exp.NominalLevel(); level != 0 {
		interval = forecast.FormatLevel(level)
	}

	s.logger.Info("starting study",
		"scenarios", s.exp.Scenarios,
		"replicates", s.exp.Replicates,
		"networks", s.exp.Networks,
		"ensemble_sizes", s.exp.EnsembleSizes,
		"agg_methods", s.exp.AggMethods,
		"interval", interval,
		"units", len(units),
		"workers", s.exp.Workers,
	)

	pool := runner.New(s.exp.Workers, s.logger)
	results := pool.Run(ctx, units, func(ctx context.Context, u runner.Unit) error {
		unitStart := time.Now()
		err := s.runUnit(ctx, u)
		s.metrics.RecordUnit(time.Since(unitStart).Seconds(), err != nil)
		return err
	})

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.Info("units finished",
		"total", len(results),
		"failed", failed,
		"elapsed", time.Since(start),
	)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := s.writeReports(ctx); err != nil {
		return fmt.Errorf("write reports: %w", err)
	}

	s.logger.Info("study complete", "elapsed", time.Since(start), "output", s.outDir)
	return nil
}

// runUnit processes one (scenario, replicate) pair for every network type.
func (s *Study) runUnit(ctx context.Context, unit runner.Unit) error {
	scen, err := simulate.ByID(unit.Scenario)
	if err != nil {
		return err
	}

	sizes := simulate.Sizes{
		Train: s.exp.TrainSize,
		Valid: s.exp.ValidSize,
		Test:  s.exp.TestSize,
	}
	ds, err := scen.Generate(unit.Replicate, sizes)
	if err != nil {
		return fmt.Errorf("generate %s: %w", unit, err)
	}

	levels := forecast.DefaultLevels(s.exp.Levels)
	runID := uuid.NewString()

	for _, nn := range s.exp.Networks {
		if err := s.runNetwork(ctx, unit, nn, scen, ds, levels, runID); err != nil {
			return fmt.Errorf("%s/%s: %w", unit, nn, err)
		}
	}
	return nil
}

func (s *Study) runNetwork(ctx context.Context, unit runner.Unit, nn string, scen simulate.Scenario, ds simulate.Dataset, levels []float64, runID string) error {
	seed := simulate.Seed(unit.Scenario, unit.Replicate)
	dataset := scen.Name()

	// The ideal forecast N(m(x), s(x)) anchors the skill scale.
	optimal := make([]forecast.Forecast, len(ds.OptimalLocation))
	for i := range optimal {
		f, err := forecast.FromNormal(ds.OptimalLocation[i], ds.OptimalScale[i], levels)
		if err != nil {
			return fmt.Errorf("optimal forecast %d: %w", i, err)
		}
		optimal[i] = f
	}

	// Member and reference rank histograms share one bin count, the
	// largest configured ensemble size.
	maxEns := s.exp.MaxEnsembleSize()
	eval := scoring.NewEvaluator(s.exp.NominalLevel(), maxEns, rand.New(rand.NewPCG(seed, 1)))

	refScores, err := s.score(eval, optimal, ds.OptimalLocation, ds.Test.Y)
	if err != nil {
		return fmt.Errorf("score reference: %w", err)
	}
	if err := s.putRecord(ctx, storage.Key{
		Dataset: dataset, NN: nn, Sim: unit.Replicate, Source: "ref", NEns: 0,
	}, runID, 0, refScores, nil); err != nil {
		return err
	}

	// Fit the largest ensemble once; smaller sizes reuse its prefix.
	validFc := make([][]forecast.Forecast, maxEns)
	testFc := make([][]forecast.Forecast, maxEns)
	testMeans := make([][]float64, maxEns)

	for i := 0; i < maxEns; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		model := s.newModel(nn, seed+uint64(i))

		fitStart := time.Now()
		if err := model.Fit(ctx, ds.Train, ds.Valid); err != nil {
			return fmt.Errorf("fit member %d: %w", i, err)
		}
		s.metrics.RecordFit(nn, time.Since(fitStart).Seconds())

		validFc[i], _, err = s.predict(ctx, model, ds.Valid.X, levels)
		if err != nil {
			return fmt.Errorf("predict valid, member %d: %w", i, err)
		}
		testFc[i], testMeans[i], err = s.predict(ctx, model, ds.Test.X, levels)
		if err != nil {
			return fmt.Errorf("predict test, member %d: %w", i, err)
		}

		indScores, err := s.score(eval, testFc[i], testMeans[i], ds.Test.Y)
		if err != nil {
			return fmt.Errorf("score member %d: %w", i, err)
		}
		if err := s.putRecord(ctx, storage.Key{
			Dataset: dataset, NN: nn, Sim: unit.Replicate,
			Source: fmt.Sprintf("ind_%d", i+1), NEns: 0,
		}, runID, i+1, indScores, nil); err != nil {
			return err
		}
	}

	for _, nEns := range s.exp.EnsembleSizes {
		for _, method := range s.exp.AggMethods {
			if err := s.aggregate(ctx, unit, nn, dataset, ds, validFc, testFc, nEns, method, seed, runID); err != nil {
				return fmt.Errorf("aggregate %s n_ens=%d: %w", method, nEns, err)
			}
		}
	}
	return nil
}

// aggregate estimates, applies, and scores one method at one ensemble
// size.
func (s *Study) aggregate(ctx context.Context, unit runner.Unit, nn, dataset string, ds simulate.Dataset, validFc, testFc [][]forecast.Forecast, nEns int, method string, seed uint64, runID string) error {
	aggStart := time.Now()
	defer func() {
		s.metrics.RecordAggregate(method, time.Since(aggStart).Seconds())
	}()

	combined := make([]forecast.Forecast, len(ds.Test.Y))
	var params agg.Params
	fallback := false

	if method == agg.MethodLinearPool {
		lp := agg.LinearPool{}
		for i := range combined {
			pooled, err := lp.Aggregate(membersAt(testFc, i, nEns))
			if err != nil {
				return err
			}
			combined[i] = pooled.Forecast
			params = agg.Params{Weights: pooled.Weights}
		}
	} else {
		v, err := agg.NewVincent(method)
		if err != nil {
			return err
		}

		valid := make([][]forecast.Forecast, len(ds.Valid.Y))
		for i := range valid {
			valid[i] = membersAt(validFc, i, nEns)
		}

		params, err = v.Estimate(valid, ds.Valid.Y)
		if errors.Is(err, agg.ErrNotConverged) {
			s.logger.Warn("estimation failed, using fixed parameters",
				"unit", unit.String(), "nn", nn, "method", method, "n_ens", nEns, "error", err)
			s.metrics.RecordFallback(method)
			params = agg.FixedParams(nEns)
			fallback = true
		} else if err != nil {
			return err
		}

		for i := range combined {
			c, err := v.Combine(membersAt(testFc, i, nEns), params)
			if err != nil {
				return fmt.Errorf("combine instance %d: %w", i, err)
			}
			combined[i] = c.Forecast
		}
	}

	// Aggregated rank histograms are rescaled to the ensemble-size bin
	// count so they stay comparable across methods.
	eval := scoring.NewEvaluator(s.exp.NominalLevel(), nEns, rand.New(rand.NewPCG(seed, uint64(nEns)<<8)))
	scores, err := s.score(eval, combined, nil, ds.Test.Y)
	if err != nil {
		return err
	}

	rec := &aggParams{params: params, fallback: fallback}
	return s.putRecord(ctx, storage.Key{
		Dataset: dataset, NN: nn, Sim: unit.Replicate, Source: method, NEns: nEns,
	}, runID, nEns, scores, rec)
}

// aggParams carries estimated combination parameters into the record.
type aggParams struct {
	params   agg.Params
	fallback bool
}

func (s *Study) newModel(nn string, seed uint64) models.Model {
	if nn == "drn" {
		return models.NewNormalModel()
	}
	return models.NewBernsteinModel(s.exp.Degree, s.exp.Levels, seed)
}

// predict reconstructs quantile forecasts and the exact per-instance means
// from the model's native output.
func (s *Study) predict(ctx context.Context, model models.Model, x [][]float64, levels []float64) ([]forecast.Forecast, []float64, error) {
	out, err := model.Predict(ctx, x)
	if err != nil {
		return nil, nil, err
	}
	fs, err := model.ReconstructQuantiles(out, levels)
	if err != nil {
		return nil, nil, err
	}
	means, err := models.Means(out)
	if err != nil {
		return nil, nil, err
	}
	return fs, means, nil
}

// score evaluates a batch; means carries exact forecast means when the
// native representation provides them, nil falls back to the grid mean.
func (s *Study) score(eval *scoring.Evaluator, fs []forecast.Forecast, means, ys []float64) ([]scoring.Record, error) {
	start := time.Now()
	var (
		records []scoring.Record
		err     error
	)
	if means == nil {
		records, err = eval.EvaluateBatch(fs, ys)
	} else {
		records, err = eval.EvaluateBatchWithMeans(fs, means, ys)
	}
	s.metrics.RecordScore(time.Since(start).Seconds())
	return records, err
}

func (s *Study) putRecord(ctx context.Context, key storage.Key, runID string, nRep int, scores []scoring.Record, ap *aggParams) error {
	rec := storage.Record{
		Key:       key,
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		NRep:      nRep,
		CRPS:      make([]float64, len(scores)),
		MeanError: make([]float64, len(scores)),
		Length:    make([]float64, len(scores)),
		Covered:   make([]float64, len(scores)),
		PIT:       make([]float64, len(scores)),
	}
	for i, sc := range scores {
		rec.CRPS[i] = sc.CRPS
		rec.MeanError[i] = sc.MeanError
		rec.Length[i] = sc.Length
		if sc.Covered {
			rec.Covered[i] = 1
		}
		rec.PIT[i] = sc.PIT
	}
	if ap != nil {
		rec.Intercept = ap.params.Intercept
		rec.Weights = ap.params.Weights
		rec.Fallback = ap.fallback
	}

	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("store %s: %w", key.String(), err)
	}
	s.metrics.RecordStored()
	return nil
}

// membersAt picks the first nEns members' forecasts for one instance.
func membersAt(fc [][]forecast.Forecast, instance, nEns int) []forecast.Forecast {
	members := make([]forecast.Forecast, nEns)
	for k := 0; k < nEns; k++ {
		members[k] = fc[k][instance]
	}
	return members
}

// writeReports assembles the panel from stored records and writes the CSV
// outputs.
func (s *Study) writeReports(ctx context.Context) error {
	var allRows []panel.Row

	for _, scenID := range s.exp.Scenarios {
		scen, err := simulate.ByID(scenID)
		if err != nil {
			return err
		}
		dataset := scen.Name()

		for _, nn := range s.exp.Networks {
			records, err := s.collectRecords(ctx, dataset, nn)
			if err != nil {
				return err
			}
			rows := panel.Build(dataset, nn, records, s.exp.EnsembleSizes, s.exp.AggMethods)
			allRows = append(allRows, rows...)
		}
	}

	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writePanelCSV(filepath.Join(s.outDir, "panel.csv"), allRows); err != nil {
		return err
	}

	skills := panel.SkillTable(allRows, s.exp.EnsembleSizes, s.exp.AggMethods)
	if err := writeSkillsCSV(filepath.Join(s.outDir, "skills.csv"), skills, s.exp.EnsembleSizes); err != nil {
		return err
	}

	best := panel.BestResultTable(allRows, s.exp.AggMethods)
	return writeBestCSV(filepath.Join(s.outDir, "best.csv"), best)
}

func (s *Study) collectRecords(ctx context.Context, dataset, nn string) ([]storage.Record, error) {
	var records []storage.Record
	for sim := 0; sim < s.exp.Replicates; sim++ {
		keys, err := s.store.List(ctx, dataset, nn, sim)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s/%d: %w", dataset, nn, sim, err)
		}
		for _, k := range keys {
			rec, found, err := s.store.Get(ctx, k)
			if err != nil {
				return nil, fmt.Errorf("get %s: %w", k.String(), err)
			}
			if !found {
				continue
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// formatScore renders a score cell, empty for unavailable values.
func formatScore(score float64, available bool) string {
	if !available {
		return ""
	}
	return strconv.FormatFloat(score, 'g', 8, 64)
}

func writePanelCSV(path string, rows []panel.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"dataset", "nn", "metric", "n_ens", "agg", "score"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Dataset, r.NN, r.Metric,
			strconv.Itoa(r.NEns), r.Agg,
			formatScore(r.Score, r.Available),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeSkillsCSV(path string, rows []panel.SkillRow, nEnsSizes []int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	header := []string{"dataset", "nn", "agg"}
	for _, n := range nEnsSizes {
		header = append(header, fmt.Sprintf("skill_%d", n))
	}
	header = append(header, "avg_skill")

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{r.Dataset, r.NN, r.Agg}
		for _, n := range nEnsSizes {
			skill, ok := r.Skills[n]
			record = append(record, formatScore(skill, ok && r.Available))
		}
		record = append(record, formatScore(r.AvgSkill, r.Available))
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeBestCSV(path string, rows []panel.BestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"dataset", "nn", "agg", "n_ens", "crps"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Dataset, r.NN, r.Agg,
			strconv.Itoa(r.NEns),
			formatScore(r.CRPS, true),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
