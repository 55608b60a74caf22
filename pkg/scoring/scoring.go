package scoring

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

// Record holds the per-instance evaluation of one forecast against one
// realized observation. Records are immutable once produced.
type Record struct {
	// CRPS is the continuous ranked probability score, always >= 0.
	CRPS float64
	// MeanError is the forecast central tendency minus the observation.
	MeanError float64
	// Covered indicates the observation fell inside the central prediction
	// interval.
	Covered bool
	// Length is the width of the central prediction interval.
	Length float64
	// Rank is the 0-based rank of the observation within the quantile
	// values, after any rescaling to the target bin count.
	Rank int
	// PIT is the randomized probability integral transform value in (0,1).
	PIT float64
}

// Evaluator scores quantile forecasts against observations. Malformed
// forecasts are rejected at construction of the forecast itself, so the
// evaluator only deals with valid inputs; non-finite observations still fail
// explicitly.
type Evaluator struct {
	// nominal is the central prediction interval coverage level. Zero means
	// the ensemble-range default (m−1)/(m+1) for an m-point grid.
	nominal float64
	// bins is the ensemble size the rank histogram is rescaled to. Zero
	// disables rescaling.
	bins int
	rng  *rand.Rand
}

// NewEvaluator creates an evaluator.
//
//   - nominal: central PI level in (0,1), or 0 for the ensemble-range
//     default (m−1)/(m+1)
//   - bins: target ensemble size for rank rescaling, or 0 to keep raw ranks
//   - rng: source for PIT randomization; must not be nil
//
// Panics on out-of-range nominal or nil rng (programmer error).
func NewEvaluator(nominal float64, bins int, rng *rand.Rand) *Evaluator {
	if nominal != 0 && (nominal <= 0 || nominal >= 1) {
		panic("nominal PI level must be in (0,1) or 0 for the default")
	}
	if rng == nil {
		panic("rng must not be nil")
	}
	return &Evaluator{nominal: nominal, bins: bins, rng: rng}
}

// Evaluate scores a single forecast against the observation y. The mean
// error uses the grid mean of the quantile values.
func (e *Evaluator) Evaluate(f forecast.Forecast, y float64) (Record, error) {
	return e.evaluate(f, f.Mean(), y)
}

// EvaluateWithMean scores like Evaluate but uses the supplied central
// tendency for the mean error, for representations whose exact mean is
// known in closed form (Bernstein coefficient mean, Gaussian location).
func (e *Evaluator) EvaluateWithMean(f forecast.Forecast, mean, y float64) (Record, error) {
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return Record{}, fmt.Errorf("forecast mean %v: %w", mean, ErrNonFinite)
	}
	return e.evaluate(f, mean, y)
}

func (e *Evaluator) evaluate(f forecast.Forecast, mean, y float64) (Record, error) {
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return Record{}, fmt.Errorf("observation %v: %w", y, ErrNonFinite)
	}

	values := f.Values()
	m := len(values)

	crps, err := CRPS(values, y)
	if err != nil {
		return Record{}, fmt.Errorf("crps: %w", err)
	}

	var lo, hi float64
	if e.nominal == 0 {
		// Ensemble range: nominal coverage (m−1)/(m+1).
		lo, hi = values[0], values[m-1]
	} else {
		lo, hi, err = f.CentralInterval(e.nominal)
		if err != nil {
			return Record{}, fmt.Errorf("central interval: %w", err)
		}
	}

	rank := Rank(values, y)
	maxRank := m
	if e.bins > 0 && e.bins != m {
		rank = RescaleRank(rank, e.bins, m)
		maxRank = e.bins
	}

	return Record{
		CRPS:      crps,
		MeanError: mean - y,
		Covered:   lo <= y && y <= hi,
		Length:    hi - lo,
		Rank:      rank,
		PIT:       UniformPIT(rank, maxRank, e.rng),
	}, nil
}

// EvaluateBatch scores matched forecasts and observations. A single
// malformed pair aborts only that instance; the error names the index so the
// caller can mark it missing and continue with siblings.
func (e *Evaluator) EvaluateBatch(fs []forecast.Forecast, ys []float64) ([]Record, error) {
	if len(fs) != len(ys) {
		return nil, fmt.Errorf("got %d forecasts but %d observations", len(fs), len(ys))
	}

	records := make([]Record, len(fs))
	for i := range fs {
		rec, err := e.Evaluate(fs[i], ys[i])
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		records[i] = rec
	}
	return records, nil
}

// EvaluateBatchWithMeans scores matched forecasts and observations with
// per-instance exact means, as EvaluateWithMean does for a single forecast.
func (e *Evaluator) EvaluateBatchWithMeans(fs []forecast.Forecast, means, ys []float64) ([]Record, error) {
	if len(fs) != len(ys) {
		return nil, fmt.Errorf("got %d forecasts but %d observations", len(fs), len(ys))
	}
	if len(means) != len(fs) {
		return nil, fmt.Errorf("got %d forecasts but %d means", len(fs), len(means))
	}

	records := make([]Record, len(fs))
	for i := range fs {
		rec, err := e.EvaluateWithMean(fs[i], means[i], ys[i])
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		records[i] = rec
	}
	return records, nil
}

// MeanCRPS averages the CRPS across a batch of records.
func MeanCRPS(records []Record) float64 {
	if len(records) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, r := range records {
		sum += r.CRPS
	}
	return sum / float64(len(records))
}

// Coverage returns the fraction of covered observations as a percentage.
func Coverage(records []Record) float64 {
	if len(records) == 0 {
		return math.NaN()
	}
	n := 0
	for _, r := range records {
		if r.Covered {
			n++
		}
	}
	return 100 * float64(n) / float64(len(records))
}
