package forecast

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLevel parses a quantile level from either p-notation (p90, p95)
// or decimal notation (0.90, 0.95).
//
// Examples:
//   - "p50" → 0.50
//   - "p90" → 0.90
//   - "0.95" → 0.95
//
// Returns an error if the format is invalid or the value is outside (0, 1).
func ParseLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)

	if s == "" {
		return 0, fmt.Errorf("empty quantile level")
	}

	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		if percentile <= 0 || percentile >= 100 {
			return 0, fmt.Errorf("percentile %v out of range (0, 100)", percentile)
		}
		return percentile / 100.0, nil
	}

	level, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantile level %q: %w", s, err)
	}
	if level <= 0 || level >= 1 {
		return 0, fmt.Errorf("quantile level %v out of range (0, 1)", level)
	}
	return level, nil
}

// FormatLevel formats a quantile level as p-notation for display.
//
// Examples:
//   - 0.50 → "p50"
//   - 0.95 → "p95"
//   - 0.975 → "p97.5"
func FormatLevel(q float64) string {
	percentile := q * 100
	if percentile == float64(int(percentile)) {
		return fmt.Sprintf("p%d", int(percentile))
	}
	return fmt.Sprintf("p%.1f", percentile)
}
