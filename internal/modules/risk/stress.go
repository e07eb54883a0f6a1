package risk

import (
	"github.com/oiltrading/riskengine/internal/domain"
)

// StressTests applies the deterministic shock scenarios to the current book.
// Impacts are linear in the shock because every position is a forwards-style
// exposure with no optionality: a price shock s moves each position by
// s * signedNotional, so the book impact is s times the total net exposure.
// Short positions gain on downward shocks through the sign of their notional.
//
// The two symmetric scenarios need no history. The worst-day scenario
// replays the most negative single-day aggregate return observed in the
// historical portfolio return series; it is omitted when no history is
// available rather than reported with a made-up shock.
func StressTests(snap *PortfolioSnapshot, portfolioReturns []float64) []domain.StressScenario {
	net := 0.0
	for _, exposure := range snap.NetExposure {
		net += exposure
	}

	scenarios := []domain.StressScenario{
		{
			ScenarioName:    "-10% Shock",
			Description:     "10% decline in all oil and fuel prices",
			ShockPercentage: -0.10,
			PnLImpact:       net * -0.10,
		},
		{
			ScenarioName:    "+10% Shock",
			Description:     "10% increase in all oil and fuel prices",
			ShockPercentage: 0.10,
			PnLImpact:       net * 0.10,
		},
	}

	if worst, ok := worstDailyReturn(portfolioReturns); ok {
		scenarios = append(scenarios, domain.StressScenario{
			ScenarioName:    "Historical Worst",
			Description:     "Repeat of historical worst daily oil price decline",
			ShockPercentage: worst,
			PnLImpact:       net * worst,
		})
	}

	return scenarios
}

// worstDailyReturn finds the most negative entry of the return series.
func worstDailyReturn(returns []float64) (float64, bool) {
	if len(returns) == 0 {
		return 0, false
	}
	worst := returns[0]
	for _, r := range returns[1:] {
		if r < worst {
			worst = r
		}
	}
	return worst, true
}
