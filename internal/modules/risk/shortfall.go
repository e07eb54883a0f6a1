package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/oiltrading/riskengine/pkg/formulas"
)

// TailRisk carries the quantile metrics extracted from one P&L sample.
// VaR and ES are loss magnitudes: non-negative, larger is worse.
type TailRisk struct {
	VaR95 float64
	VaR99 float64
	ES95  float64
	ES99  float64
}

// ComputeTailRisk extracts VaR and Expected Shortfall from a P&L sample.
// Identical extraction for historical and simulated samples: the (1-c)
// quantile is interpolated between order statistics, VaR is the loss at that
// quantile, ES is the mean of the losses at or beyond it. A profitable tail
// clamps to zero rather than reporting a gain as risk, which also keeps
// VaR99 >= VaR95 structurally true.
func ComputeTailRisk(pnl []float64) TailRisk {
	if len(pnl) == 0 {
		return TailRisk{}
	}

	sorted := make([]float64, len(pnl))
	copy(sorted, pnl)
	sort.Float64s(sorted)

	q05 := formulas.QuantileSorted(sorted, 0.05)
	q01 := formulas.QuantileSorted(sorted, 0.01)

	out := TailRisk{
		VaR95: lossMagnitude(q05),
		VaR99: lossMagnitude(q01),
	}
	out.ES95 = expectedShortfall(sorted, q05, out.VaR95)
	out.ES99 = expectedShortfall(sorted, q01, out.VaR99)

	return out
}

// expectedShortfall averages the losses at or beyond the VaR cutoff.
// An empty tail (degenerate distribution) defaults to VaR itself.
func expectedShortfall(sorted []float64, threshold, varLoss float64) float64 {
	tailMean, ok := formulas.TailMean(sorted, threshold)
	if !ok {
		return varLoss
	}

	es := lossMagnitude(tailMean)
	if es < varLoss {
		return varLoss
	}
	return es
}

// lossMagnitude converts a signed P&L quantile into a loss magnitude.
func lossMagnitude(pnl float64) float64 {
	if pnl >= 0 {
		return 0
	}
	return -pnl
}

// NormalVaR is the parametric VaR of a mean-zero normal P&L with the given
// standard deviation: z_c * sigma.
func NormalVaR(sigma, confidence float64) float64 {
	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(confidence)
	return z * sigma
}

// NormalES is the closed-form Expected Shortfall of a mean-zero normal P&L:
// sigma * phi(z_c) / (1 - c). Always at least NormalVaR for the same inputs.
func NormalES(sigma, confidence float64) float64 {
	std := distuv.Normal{Mu: 0, Sigma: 1}
	z := std.Quantile(confidence)
	return sigma * std.Prob(z) / (1 - confidence)
}

// StudentTVaR is the parametric VaR of a mean-zero P&L driven by
// unit-variance Student-t innovations with nu degrees of freedom.
// The raw t quantile has variance nu/(nu-2), so it is rescaled to unit
// variance before applying sigma.
func StudentTVaR(sigma, confidence, nu float64) float64 {
	if nu <= 2 {
		return NormalVaR(sigma, confidence)
	}

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
	q := math.Abs(t.Quantile(1 - confidence))
	return sigma * q * math.Sqrt((nu-2)/nu)
}

// StudentTES is the closed-form Expected Shortfall for unit-variance
// Student-t innovations: sigma * f(q)*(nu+q^2)/((nu-1)*(1-c)), rescaled to
// unit variance, where q is the raw t quantile magnitude.
func StudentTES(sigma, confidence, nu float64) float64 {
	if nu <= 2 {
		return NormalES(sigma, confidence)
	}

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
	q := math.Abs(t.Quantile(1 - confidence))
	es := t.Prob(q) * (nu + q*q) / ((nu - 1) * (1 - confidence))
	return sigma * es * math.Sqrt((nu-2)/nu)
}
