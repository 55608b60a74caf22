package forecast

import "errors"

var (
	// ErrNonMonotone indicates crossing quantiles: values decrease somewhere
	// along the level grid.
	ErrNonMonotone = errors.New("forecast: quantile values are not non-decreasing")

	// ErrNonFinite indicates NaN or Inf in the forecast inputs.
	ErrNonFinite = errors.New("forecast: non-finite value")

	// ErrBadLevels indicates a level grid that is empty, out of (0,1), or
	// not strictly increasing.
	ErrBadLevels = errors.New("forecast: invalid quantile levels")

	// ErrLevelMismatch indicates two forecasts built on different level grids.
	ErrLevelMismatch = errors.New("forecast: quantile level grids do not match")
)
