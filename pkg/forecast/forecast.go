// Package forecast defines quantile forecasts and their reconstruction from
// model-native outputs (Bernstein coefficients or distributional parameters).
package forecast

import (
	"fmt"
	"math"
	"sort"
)

// Forecast is a predictive distribution represented by its quantile function
// evaluated on a fixed level grid.
//
// Invariants, checked at construction:
//   - levels are strictly increasing and lie in the open interval (0,1)
//   - values are non-decreasing (no quantile crossing)
//   - all entries are finite
//
// A Forecast is immutable after creation; accessors return copies.
type Forecast struct {
	levels []float64
	values []float64
}

// New validates the (level, value) pairs and returns a Forecast.
// The input slices are copied.
func New(levels, values []float64) (Forecast, error) {
	if len(levels) == 0 {
		return Forecast{}, fmt.Errorf("empty level grid: %w", ErrBadLevels)
	}
	if len(levels) != len(values) {
		return Forecast{}, fmt.Errorf("got %d levels but %d values: %w", len(levels), len(values), ErrBadLevels)
	}

	for i, p := range levels {
		if math.IsNaN(p) || p <= 0 || p >= 1 {
			return Forecast{}, fmt.Errorf("level %v at index %d outside (0,1): %w", p, i, ErrBadLevels)
		}
		if i > 0 && p <= levels[i-1] {
			return Forecast{}, fmt.Errorf("levels not strictly increasing at index %d: %w", i, ErrBadLevels)
		}
	}

	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Forecast{}, fmt.Errorf("value at index %d: %w", i, ErrNonFinite)
		}
		if i > 0 && v < values[i-1] {
			return Forecast{}, fmt.Errorf("values cross at index %d (%v < %v): %w", i, v, values[i-1], ErrNonMonotone)
		}
	}

	f := Forecast{
		levels: make([]float64, len(levels)),
		values: make([]float64, len(values)),
	}
	copy(f.levels, levels)
	copy(f.values, values)

	return f, nil
}

// Len returns the number of grid points.
func (f Forecast) Len() int {
	return len(f.values)
}

// Levels returns a copy of the level grid.
func (f Forecast) Levels() []float64 {
	out := make([]float64, len(f.levels))
	copy(out, f.levels)
	return out
}

// Values returns a copy of the quantile values.
func (f Forecast) Values() []float64 {
	out := make([]float64, len(f.values))
	copy(out, f.values)
	return out
}

// SameGrid reports whether g is defined on the identical level grid.
func (f Forecast) SameGrid(g Forecast) bool {
	if len(f.levels) != len(g.levels) {
		return false
	}
	for i := range f.levels {
		if f.levels[i] != g.levels[i] {
			return false
		}
	}
	return true
}

// Quantile evaluates the quantile function at level p by linear interpolation
// on the grid. Levels outside the grid range clamp to the boundary values.
func (f Forecast) Quantile(p float64) float64 {
	if p <= f.levels[0] {
		return f.values[0]
	}
	n := len(f.levels)
	if p >= f.levels[n-1] {
		return f.values[n-1]
	}

	i := sort.SearchFloat64s(f.levels, p)
	if f.levels[i] == p {
		return f.values[i]
	}

	p0, p1 := f.levels[i-1], f.levels[i]
	v0, v1 := f.values[i-1], f.values[i]
	return v0 + (v1-v0)*(p-p0)/(p1-p0)
}

// Median returns the quantile at level 0.5.
func (f Forecast) Median() float64 {
	return f.Quantile(0.5)
}

// Mean returns the mean of the grid values, the grid approximation of the
// distribution mean.
func (f Forecast) Mean() float64 {
	sum := 0.0
	for _, v := range f.values {
		sum += v
	}
	return sum / float64(len(f.values))
}

// CentralInterval returns the bounds of the central prediction interval at
// the given nominal coverage level, e.g. 0.90 yields the (p5, p95) interval.
func (f Forecast) CentralInterval(nominal float64) (lo, hi float64, err error) {
	if math.IsNaN(nominal) || nominal <= 0 || nominal >= 1 {
		return 0, 0, fmt.Errorf("nominal coverage %v outside (0,1): %w", nominal, ErrBadLevels)
	}
	alpha := (1 - nominal) / 2
	return f.Quantile(alpha), f.Quantile(1 - alpha), nil
}

// CDF evaluates the forecast CDF at y on the grid: the fraction of levels
// whose quantile value lies at or below y, interpolated between grid points.
func (f Forecast) CDF(y float64) float64 {
	n := len(f.values)
	if y < f.values[0] {
		return 0
	}
	if y >= f.values[n-1] {
		return 1
	}

	i := sort.SearchFloat64s(f.values, y)
	if i < n && f.values[i] == y {
		// Step onto the highest level sharing this value.
		for i+1 < n && f.values[i+1] == y {
			i++
		}
		return f.levels[i]
	}

	v0, v1 := f.values[i-1], f.values[i]
	p0, p1 := f.levels[i-1], f.levels[i]
	if v1 == v0 {
		return p1
	}
	return p0 + (p1-p0)*(y-v0)/(v1-v0)
}

// DefaultLevels returns n equidistant levels i/(n+1), i = 1..n.
// With odd n the grid contains the median. n = 99 reproduces the grid used
// for Bernstein quantile networks.
func DefaultLevels(n int) []float64 {
	if n <= 0 {
		panic("level count must be > 0")
	}
	levels := make([]float64, n)
	for i := range levels {
		levels[i] = float64(i+1) / float64(n+1)
	}
	return levels
}
