package agg

import (
	"fmt"
	"sort"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

// LinearPool averages the member CDFs pointwise:
//
//	F_agg(y) = (1/K) Σ_k F_k(y)
//
// On a quantile grid this is realized by pooling all members' quantile
// values into one sorted sample: each member contributes m equally likely
// values, so the pooled K*m values are the equally weighted mixture of the
// members. Note this is not quantile averaging: the two operators coincide
// only for location-scale families with identical scale.
//
// The linear pool has no estimation step; it is deterministic given inputs.
type LinearPool struct{}

// Name returns the method identifier.
func (LinearPool) Name() string {
	return MethodLinearPool
}

// Aggregate pools the members' quantile values. The result sits on the
// equidistant grid i/(K*m+1) with K*m values, the canonical grid for a
// pooled sample of that size. A single member passes through on its own
// grid (identity).
func (lp LinearPool) Aggregate(members []forecast.Forecast) (Aggregated, error) {
	if err := checkMembers(members); err != nil {
		return Aggregated{}, err
	}

	k := len(members)
	if k == 1 {
		return Aggregated{
			Forecast:  members[0],
			Method:    lp.Name(),
			Intercept: 0,
			Weights:   equalWeights(1),
		}, nil
	}

	m := members[0].Len()
	pooled := make([]float64, 0, k*m)
	for _, member := range members {
		pooled = append(pooled, member.Values()...)
	}
	sort.Float64s(pooled)

	f, err := forecast.New(forecast.DefaultLevels(len(pooled)), pooled)
	if err != nil {
		return Aggregated{}, fmt.Errorf("pooled forecast invalid: %w", err)
	}

	return Aggregated{
		Forecast:  f,
		Method:    lp.Name(),
		Intercept: 0,
		Weights:   equalWeights(k),
	}, nil
}
