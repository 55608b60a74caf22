package agg

import "errors"

// ErrNotConverged indicates the parameter estimation step did not reach a
// usable optimum. Callers fall back to the closest fixed-parameter variant
// and flag the aggregated result rather than defaulting silently.
var ErrNotConverged = errors.New("agg: parameter estimation did not converge")
