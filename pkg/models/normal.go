package models

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

// NormalModel is a distributional regression post-processor predicting a
// Gaussian for each instance: the location is a least-squares fit of the
// standardized features and the scale is the residual standard deviation on
// the training set. It is the parametric counterpart of BernsteinModel and
// the natural reference when the data-generating process is itself Gaussian.
type NormalModel struct {
	trained bool
	beta    []float64 // intercept first, then one slope per feature
	sigma   float64
	std     standardizer
}

// NewNormalModel creates the model.
func NewNormalModel() *NormalModel {
	return &NormalModel{}
}

// Name returns the model identifier.
func (m *NormalModel) Name() string {
	return "drn"
}

// Fit solves the normal equations for the location and sets the scale to the
// validation residual standard deviation, falling back to the training
// residuals when the validation set is degenerate.
func (m *NormalModel) Fit(ctx context.Context, train, valid Data) error {
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

	n := len(trainX)
	width := len(trainX[0])
	if n <= width {
		return fmt.Errorf("need more than %d training rows for %d features, got %d", width, width, n)
	}

	design := mat.NewDense(n, width+1, nil)
	for i, row := range trainX {
		design.Set(i, 0, 1)
		for j, v := range row {
			design.Set(i, j+1, v)
		}
	}
	target := mat.NewVecDense(n, append([]float64(nil), train.Y...))

	var sol mat.VecDense
	if err := sol.SolveVec(design, target); err != nil {
		return fmt.Errorf("least squares solve: %w", err)
	}

	m.beta = make([]float64, width+1)
	for j := range m.beta {
		m.beta[j] = sol.AtVec(j)
	}

	sigma, err := m.residualSD(valid)
	if err != nil || sigma < 1e-12 {
		sigma, err = m.residualSD(train)
		if err != nil {
			return fmt.Errorf("residual scale: %w", err)
		}
	}
	if sigma < 1e-12 {
		sigma = 1e-12
	}
	m.sigma = sigma
	m.trained = true
	return nil
}

func (m *NormalModel) residualSD(d Data) (float64, error) {
	x := m.std.apply(d.X)
	sum := 0.0
	for i, row := range x {
		r := d.Y[i] - m.location(row)
		sum += r * r
	}
	sd := math.Sqrt(sum / float64(len(x)))
	if math.IsNaN(sd) || math.IsInf(sd, 0) {
		return 0, errors.New("residuals are not finite")
	}
	return sd, nil
}

func (m *NormalModel) location(row []float64) float64 {
	v := m.beta[0]
	for j, feat := range row {
		v += m.beta[j+1] * feat
	}
	return v
}

// Predict produces one location/scale pair per input row. The scale is
// homoscedastic by construction of the fit.
func (m *NormalModel) Predict(ctx context.Context, x [][]float64) (NativeOutput, error) {
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
	loc := make([]float64, len(scaled))
	scale := make([]float64, len(scaled))
	for i, row := range scaled {
		loc[i] = m.location(row)
		scale[i] = m.sigma
	}
	return NativeOutput{Location: loc, Scale: scale}, nil
}

// ReconstructQuantiles evaluates the Gaussian quantile function per instance.
func (m *NormalModel) ReconstructQuantiles(out NativeOutput, levels []float64) ([]forecast.Forecast, error) {
	if len(out.Location) == 0 || len(out.Location) != len(out.Scale) {
		return nil, fmt.Errorf("output needs matched location/scale pairs, got %d/%d",
			len(out.Location), len(out.Scale))
	}

	forecasts := make([]forecast.Forecast, len(out.Location))
	for i := range out.Location {
		f, err := forecast.FromNormal(out.Location[i], out.Scale[i], levels)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		forecasts[i] = f
	}
	return forecasts, nil
}
