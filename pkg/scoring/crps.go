// Package scoring implements proper scoring rules and calibration measures
// for quantile forecasts: CRPS, mean error, prediction interval coverage and
// length, rank histograms and PIT values, and the CRPSS skill score.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// CRPS computes the continuous ranked probability score of an equally
// weighted sample (here: quantile values on an equidistant grid) against a
// single observation, using the pairwise-difference form
//
//	CRPS = (1/m) Σ_i |x_i − y| − (1/(2m²)) Σ_i Σ_j |x_i − x_j|
//
// evaluated in O(m log m) after sorting. The result is always >= 0 and is 0
// exactly when every x_i equals y.
func CRPS(values []float64, y float64) (float64, error) {
	m := len(values)
	if m == 0 {
		return 0, fmt.Errorf("empty sample: %w", ErrNonFinite)
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("observation %v: %w", y, ErrNonFinite)
	}

	sorted := make([]float64, m)
	copy(sorted, values)
	sort.Float64s(sorted)

	var absErr, spread float64
	for i, x := range sorted {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("sample value %v: %w", x, ErrNonFinite)
		}
		absErr += math.Abs(x - y)
		// Σ_i Σ_j |x_i − x_j| = 2 Σ_i (2i − m + 1) x_(i) for 0-based sorted i.
		spread += float64(2*i-m+1) * x
	}

	crps := absErr/float64(m) - spread/float64(m*m)
	if crps < 0 {
		// Floating point noise on degenerate samples.
		crps = 0
	}
	return crps, nil
}

// CRPSNormal evaluates the closed-form CRPS of a Normal(mu, sigma) forecast:
//
//	CRPS = sigma * ( z(2Φ(z)−1) + 2φ(z) − 1/√π ),  z = (y−mu)/sigma
//
// Used for optimal reference scores of simulated scenarios and as the
// analytic cross-check for the sample formula.
func CRPSNormal(mu, sigma, y float64) (float64, error) {
	if math.IsNaN(mu) || math.IsNaN(sigma) || math.IsNaN(y) ||
		math.IsInf(mu, 0) || math.IsInf(sigma, 0) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("mu %v sigma %v y %v: %w", mu, sigma, y, ErrNonFinite)
	}
	if sigma <= 0 {
		return 0, fmt.Errorf("sigma must be > 0, got %v", sigma)
	}

	std := distuv.Normal{Mu: 0, Sigma: 1}
	z := (y - mu) / sigma

	return sigma * (z*(2*std.CDF(z)-1) + 2*std.Prob(z) - 1/math.Sqrt(math.Pi)), nil
}
