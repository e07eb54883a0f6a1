package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// DefaultEWMALambda is the RiskMetrics decay factor for daily data.
const DefaultEWMALambda = 0.94

// EWMAVolatility calculates exponentially weighted moving average volatility
// (RiskMetrics): weights (1-λ)·λ^i applied to squared returns, newest first,
// normalized over the available window.
//
// Args:
//   - returns: Daily returns in chronological order
//   - lambda: Decay factor (0.94 for daily data per RiskMetrics)
//
// Returns:
//   - Daily volatility estimate (std dev, not variance)
func EWMAVolatility(returns []float64, lambda float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	if lambda <= 0 || lambda >= 1 {
		lambda = DefaultEWMALambda
	}

	// Newest observation gets the largest weight
	variance := 0.0
	weightSum := 0.0
	weight := 1.0 - lambda
	for i := len(returns) - 1; i >= 0; i-- {
		variance += weight * returns[i] * returns[i]
		weightSum += weight
		weight *= lambda
	}

	if weightSum == 0 {
		return 0.0
	}

	return math.Sqrt(variance / weightSum)
}

// RollingVolatility calculates the rolling annualized volatility series over
// the given window of daily returns. The first window-1 entries are dropped
// (talib emits leading zeros there).
//
// Args:
//   - returns: Daily returns in chronological order
//   - window: Rolling window length (30 for the monthly view)
//
// Returns:
//   - Annualized volatility per day from the first full window onward
func RollingVolatility(returns []float64, window int) []float64 {
	if window < 2 || len(returns) < window {
		return []float64{}
	}

	// Population std dev over each window, same convention as talib's port
	raw := talib.StdDev(returns, window, 1.0)

	annualized := make([]float64, 0, len(raw)-window+1)
	for i := window - 1; i < len(raw); i++ {
		if isNaN(raw[i]) {
			continue
		}
		annualized = append(annualized, raw[i]*math.Sqrt(252))
	}

	return annualized
}

// isNaN checks if a value is NaN
func isNaN(f float64) bool {
	return f != f
}
