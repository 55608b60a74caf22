package panel

import "math"

// SkillRow carries the CRPS skill of one aggregation method across
// ensemble sizes, plus the average over sizes. Available is false when any
// underlying skill cell was unavailable.
type SkillRow struct {
	Dataset   string
	NN        string
	Agg       string
	Skills    map[int]float64
	AvgSkill  float64
	Available bool
}

// SkillTable extracts the crpss cells of a panel into one row per
// (dataset, nn, agg) combination, in the order combinations appear.
func SkillTable(rows []Row, nEnsSizes []int, aggMethods []string) []SkillRow {
	type group struct{ dataset, nn string }
	var order []group
	seen := make(map[group]bool)
	for _, r := range rows {
		g := group{r.Dataset, r.NN}
		if !seen[g] {
			seen[g] = true
			order = append(order, g)
		}
	}

	var out []SkillRow
	for _, g := range order {
		for _, agg := range aggMethods {
			sr := SkillRow{
				Dataset:   g.dataset,
				NN:        g.nn,
				Agg:       agg,
				Skills:    make(map[int]float64, len(nEnsSizes)),
				Available: true,
			}

			sum := 0.0
			for _, nEns := range nEnsSizes {
				found := false
				for _, r := range rows {
					if r.Dataset != g.dataset || r.NN != g.nn ||
						r.Metric != "crpss" || r.NEns != nEns || r.Agg != agg {
						continue
					}
					found = true
					if !r.Available {
						sr.Available = false
						break
					}
					sr.Skills[nEns] = r.Score
					sum += r.Score
					break
				}
				if !found {
					sr.Available = false
				}
				if !sr.Available {
					break
				}
			}

			if sr.Available {
				sr.AvgSkill = sum / float64(len(nEnsSizes))
			} else {
				sr.Skills = nil
				sr.AvgSkill = math.NaN()
			}
			out = append(out, sr)
		}
	}
	return out
}

// BestResult is the lowest-CRPS aggregation cell of one (dataset, nn)
// group, with the method and ensemble size that achieved it.
type BestResult struct {
	Dataset string
	NN      string
	Agg     string
	NEns    int
	CRPS    float64
}

// BestResultTable selects, per (dataset, nn), the aggregation method and
// ensemble size with the smallest mean CRPS. Groups with no available CRPS
// cell among aggMethods are omitted.
func BestResultTable(rows []Row, aggMethods []string) []BestResult {
	isAgg := make(map[string]bool, len(aggMethods))
	for _, a := range aggMethods {
		isAgg[a] = true
	}

	type group struct{ dataset, nn string }
	var order []group
	best := make(map[group]BestResult)

	for _, r := range rows {
		if r.Metric != "crps" || !r.Available || !isAgg[r.Agg] {
			continue
		}
		g := group{r.Dataset, r.NN}
		cur, ok := best[g]
		if !ok {
			order = append(order, g)
		}
		if !ok || r.Score < cur.CRPS {
			best[g] = BestResult{
				Dataset: r.Dataset,
				NN:      r.NN,
				Agg:     r.Agg,
				NEns:    r.NEns,
				CRPS:    r.Score,
			}
		}
	}

	out := make([]BestResult, 0, len(order))
	for _, g := range order {
		out = append(out, best[g])
	}
	return out
}
