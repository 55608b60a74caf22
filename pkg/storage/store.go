package storage

import (
	"context"
	"fmt"
	"time"
)

// Key identifies one evaluation record: a forecast source scored on the
// test set of one simulated replicate.
//
// Source is either an individual member ("ind_<i>"), the ideal-forecast
// reference ("ref"), or an aggregation method name ("lp", "vi", ...).
// NEns is the ensemble size the record belongs to; individual members and
// the reference carry NEns 0 since they are shared across sizes.
type Key struct {
	Dataset string `json:"dataset"`
	NN      string `json:"nn"`
	Sim     int    `json:"sim"`
	Source  string `json:"source"`
	NEns    int    `json:"n_ens"`
}

// Validate rejects keys that cannot be encoded.
func (k Key) Validate() error {
	if k.Dataset == "" || k.NN == "" || k.Source == "" {
		return fmt.Errorf("dataset, nn and source are required, got %+v", k)
	}
	if k.Sim < 0 || k.NEns < 0 {
		return fmt.Errorf("sim and n_ens must be non-negative, got %+v", k)
	}
	for _, s := range []string{k.Dataset, k.NN, k.Source} {
		for _, c := range s {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
				(c >= '0' && c <= '9') || c == '-' || c == '_') {
				return fmt.Errorf("invalid key component %q: only alphanumeric, hyphens, and underscores allowed", s)
			}
		}
	}
	return nil
}

// String renders the canonical key encoding used by backends.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%s:%d", k.Dataset, k.NN, k.Sim, k.Source, k.NEns)
}

// Record holds per-instance test scores of one forecast source, plus the
// estimated combination parameters when the source is an aggregation
// method.
type Record struct {
	Key Key `json:"key"`

	// RunID tags the training run that produced the forecasts, for
	// provenance when a replicate is recomputed.
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	// NRep is the 1-based member ordinal for individual sources, so the
	// first n members of a size-n ensemble are the records with
	// NRep <= n. Aggregated sources carry their ensemble size.
	NRep int `json:"n_rep"`

	// Per test instance, aligned.
	CRPS      []float64 `json:"crps"`
	MeanError []float64 `json:"me"`
	Length    []float64 `json:"lgt"`
	Covered   []float64 `json:"cov"`
	PIT       []float64 `json:"pit"`

	// Estimated combination parameters, empty for non-aggregated sources.
	Intercept float64   `json:"intercept,omitempty"`
	Weights   []float64 `json:"weights,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
}

// Validate checks the record is storable and internally consistent.
func (r Record) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if len(r.CRPS) == 0 {
		return fmt.Errorf("record has no scores")
	}
	n := len(r.CRPS)
	if len(r.MeanError) != n || len(r.Length) != n || len(r.Covered) != n || len(r.PIT) != n {
		return fmt.Errorf("score slices have inconsistent lengths")
	}
	return nil
}

// Store persists evaluation records across pipeline stages. Get reports
// absence via the found flag rather than an error so callers can treat
// missing cells as unavailable.
type Store interface {
	Put(ctx context.Context, record Record) error
	Get(ctx context.Context, key Key) (Record, bool, error)

	// List returns the keys of every stored record for a (dataset, nn,
	// sim) triple, in unspecified order.
	List(ctx context.Context, dataset, nn string, sim int) ([]Key, error)
}
