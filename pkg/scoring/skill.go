package scoring

import (
	"fmt"
	"math"
)

// CRPSS computes the continuous ranked probability skill score in percent,
// measuring how far the candidate closes the gap between a reference
// forecast and the optimal forecast:
//
//	CRPSS = 100 * (ref − candidate) / (ref − opt)
//
// A zero denominator (reference already optimal) makes the score undefined
// and fails with ErrUndefinedSkill rather than dividing silently.
func CRPSS(candidate, reference, optimal float64) (float64, error) {
	for _, v := range []float64{candidate, reference, optimal} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("crpss input %v: %w", v, ErrNonFinite)
		}
	}

	denom := reference - optimal
	if denom == 0 {
		return 0, fmt.Errorf("reference %v equals optimal: %w", reference, ErrUndefinedSkill)
	}

	return 100 * (reference - candidate) / denom, nil
}
