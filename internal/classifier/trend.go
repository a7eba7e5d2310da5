package classifier

import "math"

// Trend is the direction between two consecutive readings. It is
// advisory display data only; alerting is threshold-based and never
// consults the trend.
type Trend string

const (
	TrendNone   Trend = "none"
	TrendStable Trend = "stable"
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
)

// DefaultTrendThreshold is the relative change below which two readings
// are considered stable.
const DefaultTrendThreshold = 0.10

// trendEpsilon guards the relative-change denominator against a zero
// previous value.
const trendEpsilon = 1e-9

// TrendAnalyzer compares consecutive readings for direction.
type TrendAnalyzer struct {
	threshold float64
}

// NewTrendAnalyzer creates an analyzer. A non-positive threshold falls
// back to DefaultTrendThreshold.
func NewTrendAnalyzer(threshold float64) *TrendAnalyzer {
	if threshold <= 0 {
		threshold = DefaultTrendThreshold
	}
	return &TrendAnalyzer{threshold: threshold}
}

// SetThreshold updates the relative-change threshold at runtime.
func (a *TrendAnalyzer) SetThreshold(threshold float64) {
	if threshold > 0 {
		a.threshold = threshold
	}
}

// Analyze returns the direction from previous to current.
func (a *TrendAnalyzer) Analyze(current, previous *float64) Trend {
	if current == nil || previous == nil ||
		math.IsNaN(*current) || math.IsNaN(*previous) {
		return TrendNone
	}

	denom := math.Max(math.Abs(*previous), trendEpsilon)
	change := math.Abs(*current-*previous) / denom
	if change < a.threshold {
		return TrendStable
	}
	if *current > *previous {
		return TrendUp
	}
	return TrendDown
}
