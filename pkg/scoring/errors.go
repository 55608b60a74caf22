package scoring

import "errors"

var (
	// ErrNonFinite indicates a NaN or Inf slipped into the scoring inputs.
	// Reported distinctly from legitimate zero scores.
	ErrNonFinite = errors.New("scoring: non-finite input")

	// ErrUndefinedSkill indicates a CRPSS denominator of zero: the reference
	// and optimal scores coincide, so the skill score has no value.
	ErrUndefinedSkill = errors.New("scoring: skill score undefined, reference equals optimal")

	// ErrNoReference indicates a required reference score is unavailable for
	// a dataset (e.g. no analytic optimum for empirical data).
	ErrNoReference = errors.New("scoring: reference score unavailable")
)
