package formulas

import (
	"math"
	"sort"
)

// Quantile returns the p-quantile of the data using linear interpolation
// between order statistics (the R type-7 / NumPy default convention:
// rank = p * (n-1), interpolate between the two surrounding samples).
//
// Args:
//   - data: sample values (not required to be sorted)
//   - p: quantile probability in [0, 1]
//
// Returns:
//   - Interpolated quantile value; 0 for an empty sample
func Quantile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	if len(data) == 1 {
		return data[0]
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	return QuantileSorted(sorted, p)
}

// QuantileSorted is Quantile for data already sorted in ascending order.
// It avoids re-sorting when the caller extracts several quantiles from
// the same sample (95% and 99% VaR from one simulated distribution).
func QuantileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0.0
	}
	if n == 1 {
		return sorted[0]
	}

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// TailMean returns the mean of all values in data that are <= threshold.
// This is the building block for Expected Shortfall: the average of the
// losses at or beyond the VaR cutoff. Returns (0, false) when no value
// falls inside the tail.
func TailMean(data []float64, threshold float64) (float64, bool) {
	sum := 0.0
	count := 0
	for _, v := range data {
		if v <= threshold {
			sum += v
			count++
		}
	}

	if count == 0 {
		return 0.0, false
	}
	return sum / float64(count), true
}
