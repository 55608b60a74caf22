// Package panel summarizes evaluation records into the study's reporting
// tables: the long-format score panel, per-method skill tables, and the
// best-result table.
package panel

import (
	"math"

	"github.com/HatiCode/ensagg/pkg/agg"
	"github.com/HatiCode/ensagg/pkg/scoring"
	"github.com/HatiCode/ensagg/pkg/storage"
)

// Metrics lists the panel metrics in reporting order.
//
//	crps  mean CRPS
//	crpss CRPS skill vs the member average, optimal-anchored
//	me    mean error (bias)
//	lgt   mean central interval length
//	cov   empirical coverage in percent
//	a     estimated intercept
//	w     relative deviation of the mean weight from equal weights, percent
func Metrics() []string {
	return []string{"crps", "crpss", "me", "lgt", "cov", "a", "w"}
}

// Sources that are references rather than aggregation methods.
const (
	SourceOptimal  = "opt"
	SourceEnsemble = "ens"
	typeReference  = "ref"
	typeIndividual = "ind"
)

// Row is one cell of the long-format panel. Available is false when the
// cell cannot be computed (missing records, undefined skill, metric not
// applicable to the source); Score is NaN in that case, never a fabricated
// zero.
type Row struct {
	Dataset   string
	NN        string
	Metric    string
	NEns      int
	Agg       string
	Score     float64
	Available bool
}

func unavailable(dataset, nn, metric string, nEns int, agg string) Row {
	return Row{
		Dataset: dataset, NN: nn, Metric: metric, NEns: nEns, Agg: agg,
		Score: math.NaN(), Available: false,
	}
}

// metricValue reduces one record to a scalar for the given metric.
func metricValue(r storage.Record, metric string) (float64, bool) {
	mean := func(xs []float64) (float64, bool) {
		if len(xs) == 0 {
			return math.NaN(), false
		}
		sum := 0.0
		for _, x := range xs {
			sum += x
		}
		return sum / float64(len(xs)), true
	}

	switch metric {
	case "crps":
		return mean(r.CRPS)
	case "me":
		return mean(r.MeanError)
	case "lgt":
		return mean(r.Length)
	case "cov":
		v, ok := mean(r.Covered)
		return 100 * v, ok
	case "a":
		if len(r.Weights) == 0 {
			return math.NaN(), false
		}
		return r.Intercept, true
	case "w":
		return mean(r.Weights)
	default:
		return math.NaN(), false
	}
}

// isIndividual reports whether the source is an ensemble member record.
func isIndividual(source string) bool {
	return len(source) >= 4 && source[:4] == typeIndividual+"_"
}

// meanOver averages the metric over the records selected by keep.
func meanOver(records []storage.Record, metric string, keep func(storage.Record) bool) (float64, bool) {
	sum, n := 0.0, 0
	for _, r := range records {
		if !keep(r) {
			continue
		}
		v, ok := metricValue(r, metric)
		if !ok || math.IsNaN(v) {
			return math.NaN(), false
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN(), false
	}
	return sum / float64(n), true
}

// Build assembles the long-format panel for one (dataset, nn) group of
// records, covering every metric, ensemble size, and source (the two
// reference pseudo-methods plus aggMethods). Records span all simulation
// replicates of the group; cells average over them.
func Build(dataset, nn string, records []storage.Record, nEnsSizes []int, aggMethods []string) []Row {
	var grouped []storage.Record
	hasOptimal := false
	for _, r := range records {
		if r.Key.Dataset != dataset || r.Key.NN != nn {
			continue
		}
		grouped = append(grouped, r)
		if r.Key.Source == typeReference {
			hasOptimal = true
		}
	}

	var rows []Row
	for _, metric := range Metrics() {
		// Skill is reported on the CRPS scale.
		out := metric
		if metric == "crpss" {
			out = "crps"
		}

		sOpt, optOK := math.NaN(), false
		if hasOptimal && metric != "a" && metric != "w" {
			sOpt, optOK = meanOver(grouped, out, func(r storage.Record) bool {
				return r.Key.Source == typeReference
			})
		}

		for _, nEns := range nEnsSizes {
			sRef, refOK := meanOver(grouped, out, func(r storage.Record) bool {
				return isIndividual(r.Key.Source) && r.NRep <= nEns
			})

			for _, src := range append([]string{SourceOptimal, SourceEnsemble}, aggMethods...) {
				// References have no skill relative to themselves, and
				// the ideal forecast has no combination parameters.
				if metric == "crpss" && (src == SourceEnsemble || src == SourceOptimal) {
					continue
				}
				if (metric == "a" || metric == "w") && src == SourceOptimal {
					continue
				}

				switch src {
				case SourceEnsemble:
					if !refOK {
						rows = append(rows, unavailable(dataset, nn, metric, nEns, src))
						continue
					}
					rows = append(rows, Row{
						Dataset: dataset, NN: nn, Metric: metric, NEns: nEns,
						Agg: src, Score: sRef, Available: true,
					})

				case SourceOptimal:
					if !optOK {
						rows = append(rows, unavailable(dataset, nn, metric, nEns, src))
						continue
					}
					rows = append(rows, Row{
						Dataset: dataset, NN: nn, Metric: metric, NEns: nEns,
						Agg: src, Score: sOpt, Available: true,
					})

				default:
					// Combination parameters exist only where the method
					// estimates them.
					if (metric == "a" && !agg.EstimatesIntercept(src)) ||
						(metric == "w" && !agg.EstimatesWeights(src)) {
						rows = append(rows, unavailable(dataset, nn, metric, nEns, src))
						continue
					}

					score, ok := meanOver(grouped, out, func(r storage.Record) bool {
						return r.Key.Source == src && r.Key.NEns == nEns
					})
					if !ok {
						rows = append(rows, unavailable(dataset, nn, metric, nEns, src))
						continue
					}

					switch metric {
					case "crpss":
						if !refOK || !optOK {
							rows = append(rows, unavailable(dataset, nn, metric, nEns, src))
							continue
						}
						skill, err := scoring.CRPSS(score, sRef, sOpt)
						if err != nil {
							rows = append(rows, unavailable(dataset, nn, metric, nEns, src))
							continue
						}
						score = skill
					case "w":
						score = 100 * (float64(nEns)*score - 1)
					}

					rows = append(rows, Row{
						Dataset: dataset, NN: nn, Metric: metric, NEns: nEns,
						Agg: src, Score: score, Available: true,
					})
				}
			}
		}
	}
	return rows
}
