// Package models provides post-processing model implementations producing
// probabilistic forecasts as quantile grids.
package models

import (
	"context"
	"fmt"
	"math"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

// Data is a feature matrix with matched target values.
type Data struct {
	X [][]float64
	Y []float64
}

// Validate checks shape consistency: every row has the same width and the
// target length matches the row count.
func (d Data) Validate() error {
	if len(d.X) == 0 {
		return fmt.Errorf("data cannot be empty")
	}
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("got %d rows but %d targets", len(d.X), len(d.Y))
	}
	width := len(d.X[0])
	for i, row := range d.X {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}
	return nil
}

// NativeOutput is the raw prediction of a model before quantile
// reconstruction. Exactly one representation is populated:
//
//   - Coefficients: one Bernstein coefficient vector per instance
//     (first coefficient plus non-negative increments)
//   - Location/Scale: one distributional parameter pair per instance
type NativeOutput struct {
	Coefficients [][]float64
	Location     []float64
	Scale        []float64
}

// Len returns the number of predicted instances.
func (o NativeOutput) Len() int {
	if len(o.Coefficients) > 0 {
		return len(o.Coefficients)
	}
	return len(o.Location)
}

// Means returns the per-instance forecast mean from the native output: the
// Bernstein coefficient mean for coefficient representations, the location
// for parametric ones. Both are the exact distribution mean, unlike the
// grid mean of the reconstructed quantiles.
func Means(out NativeOutput) ([]float64, error) {
	if len(out.Coefficients) > 0 {
		means := make([]float64, len(out.Coefficients))
		for i, raw := range out.Coefficients {
			m, err := forecast.CoefficientMean(raw)
			if err != nil {
				return nil, fmt.Errorf("instance %d: %w", i, err)
			}
			means[i] = m
		}
		return means, nil
	}

	means := make([]float64, len(out.Location))
	copy(means, out.Location)
	return means, nil
}

// Model is the post-processing collaborator contract: train on
// train/validation splits, predict native outputs for test inputs, and
// adapt native outputs into quantile forecasts at caller-specified levels.
type Model interface {
	// Name returns the model identifier ("bqn", "drn", ...).
	Name() string

	// Fit trains the model. Validation data is used for estimation
	// control (early stopping or fit diagnostics), never for parameter
	// updates on the training objective itself.
	Fit(ctx context.Context, train, valid Data) error

	// Predict produces native outputs for the given feature rows.
	Predict(ctx context.Context, x [][]float64) (NativeOutput, error)

	// ReconstructQuantiles adapts native outputs into one quantile
	// forecast per instance at the requested levels.
	ReconstructQuantiles(out NativeOutput, levels []float64) ([]forecast.Forecast, error)
}

// standardizer holds per-feature center and scale learned from training
// data and applied to every later input, as the networks do.
type standardizer struct {
	center []float64
	scale  []float64
}

func fitStandardizer(x [][]float64) standardizer {
	n := len(x)
	width := len(x[0])

	center := make([]float64, width)
	scale := make([]float64, width)

	for j := 0; j < width; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += x[i][j]
		}
		center[j] = sum / float64(n)

		varSum := 0.0
		for i := 0; i < n; i++ {
			d := x[i][j] - center[j]
			varSum += d * d
		}
		scale[j] = math.Sqrt(varSum / float64(n))
		if scale[j] < 1e-12 {
			scale[j] = 1 // constant feature, leave it centered only
		}
	}

	return standardizer{center: center, scale: scale}
}

func (s standardizer) apply(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.center[j]) / s.scale[j]
		}
		out[i] = scaled
	}
	return out
}
