// Package agg combines ensembles of quantile forecasts into a single
// consensus forecast. Two families are implemented: Vincentization
// (quantile averaging with optional intercept/weight estimation) and the
// linear pool (CDF averaging).
package agg

import (
	"fmt"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

// Aggregation method identifiers, matching the study's reporting labels.
const (
	MethodLinearPool = "lp"
	MethodVincent    = "vi"
	MethodVincentA   = "vi-a"
	MethodVincentW   = "vi-w"
	MethodVincentAW  = "vi-aw"
)

// EstimatesIntercept reports whether the method fits an additive shift;
// the other methods have no intercept at all.
func EstimatesIntercept(method string) bool {
	return method == MethodVincentA || method == MethodVincentAW
}

// EstimatesWeights reports whether the method fits member weights rather
// than fixing them at 1/K.
func EstimatesWeights(method string) bool {
	return method == MethodVincentW || method == MethodVincentAW
}

// Methods lists all aggregation methods in reporting order.
func Methods() []string {
	return []string{
		MethodLinearPool,
		MethodVincent,
		MethodVincentA,
		MethodVincentW,
		MethodVincentAW,
	}
}

// Aggregated is a combined forecast plus the aggregation metadata that
// produced it. It is never mutated after creation.
type Aggregated struct {
	forecast.Forecast

	// Method names the aggregation that produced this forecast.
	Method string
	// Intercept is the fitted (or fixed) additive shift a.
	Intercept float64
	// Weights are the member weights; for constrained variants they sum
	// to 1 within floating tolerance.
	Weights []float64
	// Fallback marks a result produced with fixed parameters after the
	// estimation step failed to converge.
	Fallback bool
}

// checkMembers validates a member set: non-empty, matching level grids.
func checkMembers(members []forecast.Forecast) error {
	if len(members) == 0 {
		return fmt.Errorf("no ensemble members to aggregate")
	}
	for i := 1; i < len(members); i++ {
		if !members[0].SameGrid(members[i]) {
			return fmt.Errorf("member %d: %w", i, forecast.ErrLevelMismatch)
		}
	}
	return nil
}

// equalWeights returns the uniform weight vector 1/K.
func equalWeights(k int) []float64 {
	w := make([]float64, k)
	for i := range w {
		w[i] = 1 / float64(k)
	}
	return w
}
