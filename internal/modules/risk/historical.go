package risk

import (
	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/pkg/formulas"
)

// HistoricalResult is the output of historical simulation VaR: tail metrics
// plus the daily P&L sample they were extracted from. The sample is reused
// by the stress engine (worst realized day) and the drawdown calculation.
type HistoricalResult struct {
	TailRisk
	PnL              []float64 // date-ordered daily portfolio P&L
	PortfolioReturns []float64 // date-ordered daily portfolio returns
	Observations     int
}

// HistoricalVaR replays each aligned historical day against the current
// exposures: every product's return on day t is applied to its net exposure
// simultaneously, so realized same-day co-movement is captured without a
// covariance matrix. VaR and ES come from the interpolated quantiles of the
// resulting P&L sample.
func HistoricalVaR(snap *PortfolioSnapshot, aligned *AlignedReturns, minObs int) (*HistoricalResult, error) {
	obs := aligned.Observations()
	if obs < minObs {
		return nil, domain.NewInsufficientDataError("", minObs, obs)
	}

	pnl := snap.PnLSeries(aligned)
	returns := snap.PortfolioReturns(aligned)

	return &HistoricalResult{
		TailRisk:         ComputeTailRisk(pnl),
		PnL:              pnl,
		PortfolioReturns: returns,
		Observations:     obs,
	}, nil
}

// ProductHistoricalVaR95 computes standalone historical VaR95 per product,
// applying each product's own return history to its net exposure. Used for
// the per-product breakdown in reports; the portfolio number comes from
// HistoricalVaR, never from summing these.
func ProductHistoricalVaR95(snap *PortfolioSnapshot, aligned *AlignedReturns) map[string]float64 {
	out := make(map[string]float64, len(aligned.Products))

	for i, product := range aligned.Products {
		exposure := snap.NetExposure[product]
		if exposure == 0 {
			out[product] = 0
			continue
		}

		pnl := make([]float64, len(aligned.Matrix))
		for t, row := range aligned.Matrix {
			pnl[t] = exposure * row[i]
		}

		out[product] = lossMagnitude(formulas.Quantile(pnl, 0.05))
	}

	return out
}

// MaxDrawdownFromPnL reports the worst peak-to-trough drop of the cumulative
// historical P&L path, as a positive magnitude.
func MaxDrawdownFromPnL(pnl []float64) float64 {
	return formulas.MaxDrawdown(pnl)
}
