package models

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

func TestNewBernsteinModel_Panics(t *testing.T) {
	for _, tt := range []struct {
		name    string
		degree  int
		nLevels int
	}{
		{"zero degree", 0, 9},
		{"zero levels", 2, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			NewBernsteinModel(tt.degree, tt.nLevels, 1)
		})
	}
}

// linearData generates y = 1 + 2x + noise on a small grid.
func linearData(n int, seed uint64) Data {
	rng := rand.New(rand.NewPCG(seed, 0))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		xi := -1 + 2*float64(i)/float64(n-1)
		x[i] = []float64{xi}
		y[i] = 1 + 2*xi + 0.3*rng.NormFloat64()
	}
	return Data{X: x, Y: y}
}

func TestBernsteinModel_FitPredict(t *testing.T) {
	m := NewBernsteinModel(2, 9, 7)
	train := linearData(30, 1)
	valid := linearData(10, 2)

	if err := m.Fit(context.Background(), train, valid); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	test := [][]float64{{-0.5}, {0}, {0.5}}
	out, err := m.Predict(context.Background(), test)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if out.Len() != len(test) {
		t.Fatalf("Len() = %d, want %d", out.Len(), len(test))
	}
	for i, raw := range out.Coefficients {
		if len(raw) != 3 {
			t.Fatalf("instance %d: %d raw coefficients, want 3", i, len(raw))
		}
		for j := 1; j < len(raw); j++ {
			if raw[j] < 0 {
				t.Errorf("instance %d: increment %d is negative: %v", i, j, raw[j])
			}
		}
	}

	levels := forecast.DefaultLevels(19)
	forecasts, err := m.ReconstructQuantiles(out, levels)
	if err != nil {
		t.Fatalf("ReconstructQuantiles() error = %v", err)
	}
	if len(forecasts) != len(test) {
		t.Fatalf("got %d forecasts, want %d", len(forecasts), len(test))
	}

	// The fitted median should track 1+2x within a generous band.
	for i, f := range forecasts {
		want := 1 + 2*test[i][0]
		if math.Abs(f.Median()-want) > 1.0 {
			t.Errorf("instance %d: median = %v, want near %v", i, f.Median(), want)
		}
	}
}

func TestBernsteinModel_FitIsDeterministic(t *testing.T) {
	train := linearData(30, 1)
	valid := linearData(10, 2)
	test := [][]float64{{0.25}}

	run := func() []float64 {
		m := NewBernsteinModel(2, 9, 7)
		if err := m.Fit(context.Background(), train, valid); err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
		out, err := m.Predict(context.Background(), test)
		if err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
		return out.Coefficients[0]
	}

	a, b := run(), run()
	for j := range a {
		if a[j] != b[j] {
			t.Fatalf("coefficient %d differs across runs: %v vs %v", j, a[j], b[j])
		}
	}
}

func TestBernsteinModel_PredictBeforeFit(t *testing.T) {
	m := NewBernsteinModel(2, 9, 1)
	if _, err := m.Predict(context.Background(), [][]float64{{1}}); err == nil {
		t.Error("Predict before Fit: expected error")
	}
}

func TestBernsteinModel_ReconstructErrors(t *testing.T) {
	m := NewBernsteinModel(2, 9, 1)
	if _, err := m.ReconstructQuantiles(NativeOutput{}, forecast.DefaultLevels(9)); err == nil {
		t.Error("empty output: expected error")
	}
}

func TestSoftplus(t *testing.T) {
	if got := softplus(0); math.Abs(got-math.Log(2)) > 1e-12 {
		t.Errorf("softplus(0) = %v, want ln 2", got)
	}
	if got := softplus(50); got != 50 {
		t.Errorf("softplus(50) = %v, want 50", got)
	}
	if got := softplus(-50); got <= 0 || got > 1e-20 {
		t.Errorf("softplus(-50) = %v, want tiny positive", got)
	}
}
