package core

import "math"

// -----------------------------------------------------------------------------

// RelativeChange returns (current - previous) / previous, or 0 when previous is 0.
func RelativeChange(current, previous float64) float64 {
	if previous == 0 {
		return 0.0
	}
	return (current - previous) / previous
}

// -----------------------------------------------------------------------------

// ExceedsThreshold reports whether current moved away from previous by more
// than threshold, relative to previous. From a zero baseline any nonzero value
// counts as a move.
func ExceedsThreshold(current, previous, threshold float64) bool {
	if previous == 0 {
		return current != 0
	}
	return math.Abs(RelativeChange(current, previous)) > threshold
}
