package formulas

// MaxDrawdown calculates the maximum peak-to-trough decline of a cumulative
// P&L path built from the given per-period P&L increments.
//
// Args:
//   - pnl: per-period P&L values in chronological order (currency units)
//
// Returns:
//   - Largest drawdown as a positive number (0 when the path never declines)
func MaxDrawdown(pnl []float64) float64 {
	if len(pnl) == 0 {
		return 0.0
	}

	cumulative := 0.0
	peak := 0.0
	maxDD := 0.0

	for _, p := range pnl {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}

	return maxDD
}
