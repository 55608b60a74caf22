package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Bernstein quantile reconstruction.
//
// Quantile networks emit a vector of degree+1 raw outputs per instance: an
// unconstrained first coefficient and non-negative increments. Accumulating
// the increments (cumulative sum) yields non-decreasing Bernstein
// coefficients, and the quantile function
//
//	Q(p) = Σ_j α_j * B_{j,d}(p)
//
// inherits that monotonicity, so the reconstructed forecast cannot have
// crossing quantiles by construction. This is the reason the raw outputs are
// increments rather than the quantiles themselves.

// Basis holds the Bernstein basis of a fixed degree evaluated on a level
// grid. Building it once and reusing it across instances avoids recomputing
// binomial probabilities per forecast.
type Basis struct {
	degree int
	levels []float64
	// b[i][j] = B_{j,degree}(levels[i])
	b [][]float64
}

// NewBasis evaluates the degree-d Bernstein basis at each level.
// Panics if degree < 1; level validity is checked as in New.
func NewBasis(degree int, levels []float64) (*Basis, error) {
	if degree < 1 {
		panic("bernstein degree must be >= 1")
	}
	for i, p := range levels {
		if math.IsNaN(p) || p <= 0 || p >= 1 {
			return nil, fmt.Errorf("level %v at index %d outside (0,1): %w", p, i, ErrBadLevels)
		}
		if i > 0 && p <= levels[i-1] {
			return nil, fmt.Errorf("levels not strictly increasing at index %d: %w", i, ErrBadLevels)
		}
	}

	basis := &Basis{
		degree: degree,
		levels: make([]float64, len(levels)),
		b:      make([][]float64, len(levels)),
	}
	copy(basis.levels, levels)

	for i, p := range levels {
		// B_{j,d}(p) is the Binomial(d, p) pmf at j.
		bin := distuv.Binomial{N: float64(degree), P: p}
		row := make([]float64, degree+1)
		for j := 0; j <= degree; j++ {
			row[j] = bin.Prob(float64(j))
		}
		basis.b[i] = row
	}

	return basis, nil
}

// Degree returns the polynomial degree of the basis.
func (b *Basis) Degree() int {
	return b.degree
}

// Levels returns a copy of the level grid the basis was built on.
func (b *Basis) Levels() []float64 {
	out := make([]float64, len(b.levels))
	copy(out, b.levels)
	return out
}

// Reconstruct converts raw network outputs (first coefficient plus degree
// increments) into a quantile forecast on the basis grid.
//
// Raw outputs must have length degree+1 and be finite; non-finite inputs
// fail with ErrNonFinite and the instance must be treated as missing.
// Negative increments are not rejected here: they surface as ErrNonMonotone
// from the final validation if they actually cause quantile crossing.
func (b *Basis) Reconstruct(raw []float64) (Forecast, error) {
	if len(raw) != b.degree+1 {
		return Forecast{}, fmt.Errorf("expected %d coefficients, got %d", b.degree+1, len(raw))
	}

	// Accumulate increments into non-decreasing coefficients.
	coeff := make([]float64, len(raw))
	sum := 0.0
	for j, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Forecast{}, fmt.Errorf("coefficient %d: %w", j, ErrNonFinite)
		}
		sum += v
		coeff[j] = sum
	}

	values := make([]float64, len(b.levels))
	for i, row := range b.b {
		dot := 0.0
		for j, w := range row {
			dot += w * coeff[j]
		}
		values[i] = dot
	}

	return New(b.levels, values)
}

// CoefficientMean returns the mean of the accumulated Bernstein coefficients,
// which equals the mean of the represented distribution. Used for the mean
// error of Bernstein forecasts.
func CoefficientMean(raw []float64) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("empty coefficient vector: %w", ErrNonFinite)
	}
	sum := 0.0
	acc := 0.0
	for j, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("coefficient %d: %w", j, ErrNonFinite)
		}
		acc += v
		sum += acc
	}
	return sum / float64(len(raw)), nil
}
