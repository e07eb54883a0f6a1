package risk

import (
	"context"
	"math"
	"sort"

	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/pkg/formulas"
)

// Backtest defaults.
const (
	DefaultLookbackDays = 252
	DefaultConfidence   = 0.95
)

// BacktestConfig controls the rolling VaR backtest.
type BacktestConfig struct {
	LookbackDays int
	Confidence   float64
}

// Backtest rolls a historical-simulation VaR prediction over the return
// panel, holding the current book fixed: for each day past the lookback
// window, VaR is estimated from the preceding window only and compared to
// the realized next-day P&L. A breach is a realized loss exceeding the
// predicted VaR.
//
// A well-calibrated model breaches at about (1 - confidence) of days. Passed
// uses a two-standard-error band around that rate; the Kupiec
// proportion-of-failures likelihood ratio is reported alongside for anyone
// who wants a formal test, but it does not drive the verdict.
func Backtest(ctx context.Context, snap *PortfolioSnapshot, aligned *AlignedReturns, cfg BacktestConfig) (*domain.BacktestResult, error) {
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	confidence := cfg.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}

	pnl := snap.PnLSeries(aligned)
	n := len(pnl)
	observations := n - lookback
	if observations < 1 {
		return nil, &domain.InsufficientDataError{Required: lookback + 1, Actual: n}
	}

	breaches := 0
	window := make([]float64, lookback)
	for t := lookback; t < n; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		copy(window, pnl[t-lookback:t])
		sort.Float64s(window)

		predicted := lossMagnitude(formulas.QuantileSorted(window, 1-confidence))
		if realized := -pnl[t]; realized > predicted {
			breaches++
		}
	}

	expectedRate := 1 - confidence
	breachRate := float64(breaches) / float64(observations)

	// Binomial standard error of the breach proportion under the null.
	se := math.Sqrt(expectedRate * (1 - expectedRate) / float64(observations))
	passed := math.Abs(breachRate-expectedRate) <= 2*se

	return &domain.BacktestResult{
		WindowStart:        aligned.Dates[lookback],
		WindowEnd:          aligned.Dates[n-1],
		LookbackDays:       lookback,
		Confidence:         confidence,
		BreachCount:        breaches,
		ObservationCount:   observations,
		BreachRate:         breachRate,
		ExpectedBreachRate: expectedRate,
		Passed:             passed,
		KupiecLR:           kupiecLR(observations, breaches, expectedRate),
	}, nil
}

// kupiecLR computes the Kupiec proportion-of-failures likelihood ratio:
// -2 ln[ L(p) / L(x/n) ]. Asymptotically chi-squared with one degree of
// freedom under the null that the true breach probability is p.
func kupiecLR(n, x int, p float64) float64 {
	if n <= 0 || p <= 0 || p >= 1 {
		return 0
	}

	logLik := func(prob float64) float64 {
		ll := 0.0
		if n-x > 0 {
			ll += float64(n-x) * math.Log(1-prob)
		}
		if x > 0 {
			ll += float64(x) * math.Log(prob)
		}
		return ll
	}

	observed := float64(x) / float64(n)
	return -2 * (logLik(p) - logLik(observed))
}
