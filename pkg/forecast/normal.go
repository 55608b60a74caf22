package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// FromNormal reconstructs a quantile forecast from Normal location/scale
// parameters by evaluating the inverse CDF at each level.
//
// Returns ErrNonFinite for NaN/Inf parameters and an error for non-positive
// scale; callers treat affected instances as missing.
func FromNormal(location, scale float64, levels []float64) (Forecast, error) {
	if math.IsNaN(location) || math.IsInf(location, 0) ||
		math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Forecast{}, fmt.Errorf("location %v scale %v: %w", location, scale, ErrNonFinite)
	}
	if scale <= 0 {
		return Forecast{}, fmt.Errorf("scale must be > 0, got %v", scale)
	}

	dist := distuv.Normal{Mu: location, Sigma: scale}

	values := make([]float64, len(levels))
	for i, p := range levels {
		values[i] = dist.Quantile(p)
	}

	return New(levels, values)
}
