package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/optimize"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

// BernsteinModel is a quantile-regression post-processor in the style of
// Bernstein quantile networks: a linear index of the standardized features
// drives each raw coefficient, the first unconstrained and the remaining
// degree outputs squashed through softplus so the accumulated coefficients
// are non-decreasing. Quantile crossing is therefore impossible by
// construction, side-stepping the usual pitfall of predicting each quantile
// independently.
//
// Estimation minimizes the mean pinball (quantile) loss over the training
// set on an equidistant level grid, by Nelder-Mead. The validation set
// selects between random restarts.
type BernsteinModel struct {
	degree  int
	nLevels int
	maxIter int
	seed    uint64

	trained bool
	theta   [][]float64 // (degree+1) x (width+1) row-major parameter blocks
	std     standardizer
}

// NewBernsteinModel creates the model.
//
//   - degree: Bernstein polynomial degree (reference setup uses 12)
//   - nLevels: number of equidistant fit levels (reference setup uses 99)
//   - seed: restart seed, fixed per ensemble member for reproducibility
//
// Panics on non-positive degree or level count.
func NewBernsteinModel(degree, nLevels int, seed uint64) *BernsteinModel {
	if degree < 1 {
		panic("degree must be >= 1")
	}
	if nLevels < 1 {
		panic("nLevels must be >= 1")
	}
	return &BernsteinModel{
		degree:  degree,
		nLevels: nLevels,
		maxIter: 400,
		seed:    seed,
	}
}

// Name returns the model identifier.
func (m *BernsteinModel) Name() string {
	return "bqn"
}

// Fit estimates the coefficient mapping by minimizing mean pinball loss.
func (m *BernsteinModel) Fit(ctx context.Context, train, valid Data) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := train.Validate(); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if err := valid.Validate(); err != nil {
		return fmt.Errorf("valid: %w", err)
	}

	m.std = fitStandardizer(train.X)
	trainX := m.std.apply(train.X)
	validX := m.std.apply(valid.X)

	levels := forecast.DefaultLevels(m.nLevels)
	basis, err := forecast.NewBasis(m.degree, levels)
	if err != nil {
		return fmt.Errorf("fit basis: %w", err)
	}

	width := len(trainX[0])
	dim := (m.degree + 1) * (width + 1)

	trainLoss := func(x []float64) float64 {
		return m.pinball(x, basis, levels, trainX, train.Y)
	}

	problem := optimize.Problem{Func: trainLoss}
	settings := &optimize.Settings{MajorIterations: m.maxIter}

	rng := rand.New(rand.NewPCG(m.seed, 0x9e3779b97f4a7c15))

	// Two restarts: zero start and a small random perturbation. The
	// validation loss picks the winner.
	var best []float64
	bestValid := math.Inf(1)

	for restart := 0; restart < 2; restart++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		x0 := make([]float64, dim)
		if restart > 0 {
			for i := range x0 {
				x0[i] = 0.1 * rng.NormFloat64()
			}
		}

		result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
		if err != nil || math.IsNaN(result.F) {
			continue
		}

		vl := m.pinball(result.X, basis, levels, validX, valid.Y)
		if vl < bestValid {
			bestValid = vl
			best = result.X
		}
	}

	if best == nil {
		return errors.New("pinball loss minimization failed on every restart")
	}

	m.theta = unflatten(best, m.degree+1, width+1)
	m.trained = true
	return nil
}

// pinball evaluates the mean quantile loss of the parameter vector.
func (m *BernsteinModel) pinball(flat []float64, basis *forecast.Basis, levels []float64, x [][]float64, y []float64) float64 {
	width := len(x[0])
	theta := unflatten(flat, m.degree+1, width+1)

	total := 0.0
	for i, row := range x {
		raw := rawCoefficients(theta, row)
		f, err := basis.Reconstruct(raw)
		if err != nil {
			return math.Inf(1)
		}
		q := f.Values()
		for j, tau := range levels {
			diff := y[i] - q[j]
			if diff >= 0 {
				total += tau * diff
			} else {
				total += (tau - 1) * diff
			}
		}
	}
	return total / float64(len(x)*len(levels))
}

// Predict produces raw Bernstein coefficient vectors for each input row.
func (m *BernsteinModel) Predict(ctx context.Context, x [][]float64) (NativeOutput, error) {
	if ctx.Err() != nil {
		return NativeOutput{}, ctx.Err()
	}
	if !m.trained {
		return NativeOutput{}, errors.New("model not trained, call Fit first")
	}
	if len(x) == 0 {
		return NativeOutput{}, fmt.Errorf("inputs cannot be empty")
	}

	scaled := m.std.apply(x)
	coeffs := make([][]float64, len(scaled))
	for i, row := range scaled {
		coeffs[i] = rawCoefficients(m.theta, row)
	}

	return NativeOutput{Coefficients: coeffs}, nil
}

// ReconstructQuantiles adapts coefficient vectors into quantile forecasts.
func (m *BernsteinModel) ReconstructQuantiles(out NativeOutput, levels []float64) ([]forecast.Forecast, error) {
	if len(out.Coefficients) == 0 {
		return nil, fmt.Errorf("output has no bernstein coefficients")
	}

	basis, err := forecast.NewBasis(m.degree, levels)
	if err != nil {
		return nil, fmt.Errorf("basis: %w", err)
	}

	forecasts := make([]forecast.Forecast, len(out.Coefficients))
	for i, raw := range out.Coefficients {
		f, err := basis.Reconstruct(raw)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		forecasts[i] = f
	}
	return forecasts, nil
}

// rawCoefficients maps a standardized feature row onto the raw network-style
// outputs: theta[0]·[1,x] unconstrained, softplus for the increments.
func rawCoefficients(theta [][]float64, row []float64) []float64 {
	raw := make([]float64, len(theta))
	for j, block := range theta {
		v := block[0]
		for k, feat := range row {
			v += block[k+1] * feat
		}
		if j == 0 {
			raw[j] = v
		} else {
			raw[j] = softplus(v)
		}
	}
	return raw
}

// softplus is log(1+exp(v)), numerically stable for large |v|.
func softplus(v float64) float64 {
	if v > 30 {
		return v
	}
	if v < -30 {
		return math.Exp(v)
	}
	return math.Log1p(math.Exp(v))
}

func unflatten(flat []float64, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out
}
