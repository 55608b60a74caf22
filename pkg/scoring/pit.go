package scoring

import (
	"math"
	"math/rand/v2"
)

// Rank returns the 0-based rank of the observation within the sample: the
// number of values strictly below y. Ranks lie in [0, m] for an m-value
// sample.
func Rank(values []float64, y float64) int {
	rank := 0
	for _, x := range values {
		if x < y {
			rank++
		}
	}
	return rank
}

// RescaleRank maps a rank from a forecast with members quantile values onto
// the nEns+1 bins of the network ensemble, so that PIT histograms stay
// comparable across runs with differing cardinality. The ceil formula is
// defined on 1-based ranks, so the 0-based rank is shifted through that
// convention and back:
//
//	rescaled = ceil( (rank+1) * (nEns+1) / (members+1) ) - 1
//
// The result stays in [0, nEns]. For members+1 a multiple of nEns+1 the
// mapping is exact: every bin collects the same number of raw ranks. The
// rescaling is monotone: it never reverses the relative ordering of ranks.
func RescaleRank(rank, nEns, members int) int {
	if members == nEns {
		return rank
	}
	return int(math.Ceil(float64(rank+1)*float64(nEns+1)/float64(members+1))) - 1
}

// UniformPIT converts a rank into a randomized PIT value uniformly
// distributed on (0,1) under perfect calibration:
//
//	pit = (rank + u) / (maxRank + 1),  u ~ U(0,1)
//
// maxRank is the largest attainable rank (the sample size after any
// rescaling). The randomization breaks the discreteness of ranks.
func UniformPIT(rank, maxRank int, rng *rand.Rand) float64 {
	return (float64(rank) + rng.Float64()) / float64(maxRank+1)
}
