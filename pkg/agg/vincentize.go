package agg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/HatiCode/ensagg/pkg/forecast"
	"github.com/HatiCode/ensagg/pkg/scoring"
)

// Vincent aggregates K quantile forecasts level-wise:
//
//	Q_agg(p) = a + Σ_k w_k Q_k(p)
//
// The four variants differ in which parameters are estimated from held-out
// validation data:
//
//	vi     a = 0        w_k = 1/K
//	vi-a   a estimated  w_k = 1/K
//	vi-w   a = 0        w estimated, Σ w_k = 1
//	vi-aw  a estimated  w estimated, Σ w_k = 1
//
// Estimation minimizes the mean CRPS over validation instances with
// Nelder-Mead; the sum-to-one constraint is enforced by a softmax
// reparameterization, which also keeps every weight positive so the
// aggregated quantile function stays monotone.
type Vincent struct {
	estimateIntercept bool
	estimateWeights   bool
	maxIter           int
}

// Params holds Vincentization parameters, either fixed or fitted.
type Params struct {
	Intercept float64
	Weights   []float64
}

// NewVincent creates the Vincentization aggregator for a method identifier
// ("vi", "vi-a", "vi-w", "vi-aw").
func NewVincent(method string) (*Vincent, error) {
	v := &Vincent{maxIter: 500}
	switch method {
	case MethodVincent:
	case MethodVincentA:
		v.estimateIntercept = true
	case MethodVincentW:
		v.estimateWeights = true
	case MethodVincentAW:
		v.estimateIntercept = true
		v.estimateWeights = true
	default:
		return nil, fmt.Errorf("unknown vincentization method %q", method)
	}
	return v, nil
}

// Name returns the method identifier.
func (v *Vincent) Name() string {
	switch {
	case v.estimateIntercept && v.estimateWeights:
		return MethodVincentAW
	case v.estimateIntercept:
		return MethodVincentA
	case v.estimateWeights:
		return MethodVincentW
	default:
		return MethodVincent
	}
}

// FixedParams returns the parameters of the intercept-free equal-weight
// baseline for K members. This is also the fallback when estimation fails.
func FixedParams(k int) Params {
	return Params{Intercept: 0, Weights: equalWeights(k)}
}

// Estimate fits the variant's free parameters on validation data.
//
// valid[i] holds the K member forecasts for validation instance i, all on
// the same level grid; obs[i] is the realized outcome. For the baseline
// variant (nothing to estimate) or a single member the fixed parameters are
// returned without optimization.
//
// Returns ErrNotConverged (wrapped) when the optimizer fails; the caller
// decides whether to fall back to FixedParams.
func (v *Vincent) Estimate(valid [][]forecast.Forecast, obs []float64) (Params, error) {
	if len(valid) == 0 || len(valid) != len(obs) {
		return Params{}, fmt.Errorf("got %d validation instances and %d observations", len(valid), len(obs))
	}

	k := len(valid[0])
	for i, members := range valid {
		if len(members) != k {
			return Params{}, fmt.Errorf("validation instance %d has %d members, want %d", i, len(members), k)
		}
		if err := checkMembers(members); err != nil {
			return Params{}, fmt.Errorf("validation instance %d: %w", i, err)
		}
	}

	// A single member degenerates to the identity for every variant.
	if k == 1 || (!v.estimateIntercept && !v.estimateWeights) {
		return FixedParams(k), nil
	}

	// Parameter vector layout: [a?] ++ [theta_1..theta_K]? with
	// w = softmax(theta). Absent blocks stay at their fixed values.
	dim := 0
	if v.estimateIntercept {
		dim++
	}
	if v.estimateWeights {
		dim += k
	}

	decode := func(x []float64) Params {
		p := FixedParams(k)
		i := 0
		if v.estimateIntercept {
			p.Intercept = x[0]
			i = 1
		}
		if v.estimateWeights {
			p.Weights = softmax(x[i : i+k])
		}
		return p
	}

	objective := func(x []float64) float64 {
		p := decode(x)
		total := 0.0
		for i, members := range valid {
			combined := combineValues(members, p)
			crps, err := scoring.CRPS(combined, obs[i])
			if err != nil {
				return math.Inf(1)
			}
			total += crps
		}
		return total / float64(len(valid))
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{MajorIterations: v.maxIter}

	x0 := make([]float64, dim) // a = 0, softmax(0) = equal weights

	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return Params{}, fmt.Errorf("minimize mean crps: %v: %w", err, ErrNotConverged)
	}
	if result.Status == optimize.Failure || math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return Params{}, fmt.Errorf("minimize mean crps: status %v: %w", result.Status, ErrNotConverged)
	}

	return decode(result.X), nil
}

// Combine applies the parameters to one instance's member forecasts.
func (v *Vincent) Combine(members []forecast.Forecast, p Params) (Aggregated, error) {
	if err := checkMembers(members); err != nil {
		return Aggregated{}, err
	}
	if len(p.Weights) != len(members) {
		return Aggregated{}, fmt.Errorf("got %d weights for %d members", len(p.Weights), len(members))
	}

	values := combineValues(members, p)
	f, err := forecast.New(members[0].Levels(), values)
	if err != nil {
		return Aggregated{}, fmt.Errorf("combined forecast invalid: %w", err)
	}

	weights := make([]float64, len(p.Weights))
	copy(weights, p.Weights)

	return Aggregated{
		Forecast:  f,
		Method:    v.Name(),
		Intercept: p.Intercept,
		Weights:   weights,
	}, nil
}

// combineValues evaluates a + Σ_k w_k Q_k(p) on the shared grid.
func combineValues(members []forecast.Forecast, p Params) []float64 {
	n := members[0].Len()
	out := make([]float64, n)
	for k, m := range members {
		mv := m.Values()
		w := p.Weights[k]
		for i := range out {
			out[i] += w * mv[i]
		}
	}
	for i := range out {
		out[i] += p.Intercept
	}
	return out
}

// softmax maps unconstrained parameters onto the probability simplex.
func softmax(theta []float64) []float64 {
	maxT := theta[0]
	for _, t := range theta[1:] {
		if t > maxT {
			maxT = t
		}
	}

	w := make([]float64, len(theta))
	sum := 0.0
	for i, t := range theta {
		w[i] = math.Exp(t - maxT)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}
