package risk

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/oiltrading/riskengine/internal/domain"
)

// GARCH parameter bounds. The optimizer works on an unconstrained vector and
// the objective projects it into this box, so intermediate iterates may
// wander outside but every evaluated likelihood is feasible.
const (
	garchMinOmega       = 1e-12
	garchMaxPersistence = 0.999
	garchMinNu          = 2.05
	garchMaxNu          = 200.0
)

// Garch11Model fits a GARCH(1,1) with Student-t innovations by maximum
// likelihood. The t degrees of freedom are estimated jointly with the
// variance parameters rather than fixed, so fat tails come from the data.
type Garch11Model struct{}

func (m *Garch11Model) Name() string { return "garch11" }

// Fit estimates the model on a daily return series and returns the
// one-step-ahead volatility forecast. Callers are expected to gate on
// history length first; this only enforces the bare minimum the recursion
// needs.
func (m *Garch11Model) Fit(returns []float64) (*VolatilityForecast, error) {
	n := len(returns)
	if n < 10 {
		return nil, fmt.Errorf("need at least 10 returns for GARCH estimation, got %d", n)
	}

	mean := stat.Mean(returns, nil)
	eps := make([]float64, n)
	for i, r := range returns {
		eps[i] = r - mean
	}

	sampleVar := stat.Variance(eps, nil)
	if sampleVar <= 0 || math.IsNaN(sampleVar) {
		return nil, fmt.Errorf("return series has no variance")
	}

	negLogLik := func(p GarchParams) float64 {
		// Standardized t density constant. Unit-variance scaling keeps
		// sigma interpretable as the conditional standard deviation.
		lgNum, _ := math.Lgamma((p.Nu + 1) / 2)
		lgDen, _ := math.Lgamma(p.Nu / 2)
		cst := lgNum - lgDen - 0.5*math.Log((p.Nu-2)*math.Pi)

		h := sampleVar
		nll := 0.0
		for t := 0; t < n; t++ {
			if t > 0 {
				h = p.Omega + p.Alpha*eps[t-1]*eps[t-1] + p.Beta*h
			}
			z2 := eps[t] * eps[t] / h
			nll += 0.5*math.Log(h) + (p.Nu+1)/2*math.Log(1+z2/(p.Nu-2)) - cst
		}
		return nll
	}

	// Penalty method: project each trial point into the feasible box and
	// charge for the distance moved, so the optimum sits strictly inside.
	penaltyWeight := 1000.0
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p, violation := projectGarchParams(x)
			return negLogLik(p) + penaltyWeight*violation
		},
	}

	// Standard starting point: mild ARCH, strong persistence, omega set so
	// the unconditional variance matches the sample.
	initial := []float64{sampleVar * (1 - 0.05 - 0.90), 0.05, 0.90, 8}

	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil || result == nil || !successStatuses[result.Status] {
		// Retry with a gradient-based method before giving up.
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
		if err != nil {
			return nil, fmt.Errorf("optimization did not converge: %w", err)
		}
		if result == nil || !successStatuses[result.Status] {
			status := optimize.NotTerminated
			if result != nil {
				status = result.Status
			}
			return nil, fmt.Errorf("optimization did not converge: status=%v", status)
		}
	}

	params, _ := projectGarchParams(result.X)
	sigma2 := forecastGarchVariance(eps, sampleVar, params)
	if sigma2 <= 0 || math.IsNaN(sigma2) || math.IsInf(sigma2, 0) {
		return nil, fmt.Errorf("fitted model produced invalid variance forecast %v", sigma2)
	}

	return &VolatilityForecast{
		Sigma:         math.Sqrt(sigma2),
		Nu:            params.Nu,
		Model:         m.Name(),
		Params:        params,
		LogLikelihood: -negLogLik(params),
	}, nil
}

// projectGarchParams clamps a trial point into the feasible region and
// reports the squared violation for the penalty term. The stationarity
// constraint alpha+beta < 1 is handled by rescaling both coefficients.
func projectGarchParams(x []float64) (GarchParams, float64) {
	p := GarchParams{Omega: x[0], Alpha: x[1], Beta: x[2], Nu: x[3]}
	violation := 0.0

	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			violation += (lo - v) * (lo - v)
			return lo
		}
		if v > hi {
			violation += (v - hi) * (v - hi)
			return hi
		}
		return v
	}

	p.Omega = clamp(p.Omega, garchMinOmega, math.MaxFloat64)
	p.Alpha = clamp(p.Alpha, 0, garchMaxPersistence)
	p.Beta = clamp(p.Beta, 0, garchMaxPersistence)
	p.Nu = clamp(p.Nu, garchMinNu, garchMaxNu)

	if sum := p.Alpha + p.Beta; sum > garchMaxPersistence {
		excess := sum - garchMaxPersistence
		violation += excess * excess
		scale := garchMaxPersistence / sum
		p.Alpha *= scale
		p.Beta *= scale
	}

	return p, violation
}

// forecastGarchVariance replays the variance recursion over the demeaned
// returns and steps it one day past the sample.
func forecastGarchVariance(eps []float64, sampleVar float64, p GarchParams) float64 {
	h := sampleVar
	for t := 1; t < len(eps); t++ {
		h = p.Omega + p.Alpha*eps[t-1]*eps[t-1] + p.Beta*h
	}
	last := eps[len(eps)-1]
	return p.Omega + p.Alpha*last*last + p.Beta*h
}

// Per-product fit statuses. Degraded means the EWMA fallback was used and
// the reason says why; the result is still usable but flagged in the report.
const (
	VolStatusOK               = "ok"
	VolStatusEWMAFallback     = "ewma_fallback"
	VolStatusEWMAShortHistory = "ewma_insufficient_history"
)

// ProductVolatility is the fitted volatility view of one product.
type ProductVolatility struct {
	Product  string
	Forecast *VolatilityForecast
	Status   string
	Err      error // fit error that triggered the fallback, nil when ok
}

// Degraded reports whether the primary model was replaced by the fallback.
func (pv *ProductVolatility) Degraded() bool {
	return pv.Status != VolStatusOK
}

// FitProductVolatility fits the volatility model per product over the
// aligned return panel, dispatching independent fits across the worker
// pool. Products with fewer than minObs observations and products whose
// GARCH fit fails to converge get the EWMA fallback, flagged degraded; the
// calculation itself never fails on a fit.
func FitProductVolatility(ctx context.Context, aligned *AlignedReturns, minObs int, lambda float64, workers int) (map[string]*ProductVolatility, error) {
	garch := &Garch11Model{}
	ewma := NewEWMAModel(lambda)
	obs := aligned.Observations()

	fitOne := func(product string) (*ProductVolatility, error) {
		returns := aligned.Column(product)
		pv := &ProductVolatility{Product: product, Status: VolStatusOK}

		if obs < minObs {
			forecast, err := ewma.Fit(returns)
			if err != nil {
				return nil, fmt.Errorf("fallback volatility for %s: %w", product, err)
			}
			pv.Forecast = forecast
			pv.Status = VolStatusEWMAShortHistory
			pv.Err = &domain.InsufficientDataError{Product: product, Required: minObs, Actual: obs}
			return pv, nil
		}

		forecast, err := garch.Fit(returns)
		if err != nil {
			fallback, ferr := ewma.Fit(returns)
			if ferr != nil {
				return nil, fmt.Errorf("fallback volatility for %s: %w", product, ferr)
			}
			pv.Forecast = fallback
			pv.Status = VolStatusEWMAFallback
			pv.Err = &domain.ConvergenceError{Product: product, Status: err.Error()}
			return pv, nil
		}

		pv.Forecast = forecast
		return pv, nil
	}

	pool := NewWorkerPool(workers)
	fits, err := pool.RunVolatilityFits(ctx, aligned.Products, fitOne)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*ProductVolatility, len(fits))
	for _, pv := range fits {
		out[pv.Product] = pv
	}
	return out, nil
}

// GarchResult is the parametric tail risk of the portfolio, built from the
// per-product volatility forecasts and the sample correlation structure.
type GarchResult struct {
	TailRisk
	PortfolioSigma   float64 // one-day portfolio P&L standard deviation, dollars
	Forecasts        map[string]*ProductVolatility
	DegradedProducts []string
}

// Degraded reports whether any product fell back to EWMA.
func (r *GarchResult) Degraded() bool {
	return len(r.DegradedProducts) > 0
}

// GarchPortfolioRisk scales the sample correlation matrix by the forecast
// volatilities and reads portfolio VaR off the normal quantile of
// sqrt(w' Sigma w), with w the net dollar exposures. Per-product VaR keeps
// the fitted t quantile; the portfolio aggregate uses the normal one because
// a weighted sum of t variables with different dof has no closed form.
func GarchPortfolioRisk(snap *PortfolioSnapshot, aligned *AlignedReturns, cov *mat.SymDense, forecasts map[string]*ProductVolatility) (*GarchResult, error) {
	result := &GarchResult{Forecasts: forecasts}

	k := len(aligned.Products)
	if k == 0 {
		return result, nil
	}

	sigmas := make([]float64, k)
	for i, product := range aligned.Products {
		pv, ok := forecasts[product]
		if !ok || pv.Forecast == nil {
			return nil, fmt.Errorf("no volatility forecast for %s", product)
		}
		sigmas[i] = pv.Forecast.Sigma
		if pv.Degraded() {
			result.DegradedProducts = append(result.DegradedProducts, product)
		}
	}

	scaled := scaleCovarianceByForecast(cov, sigmas)
	weights := snap.ExposureVector(aligned.Products)

	variance := PortfolioVariance(scaled, weights)
	if variance < 0 {
		variance = 0
	}
	result.PortfolioSigma = math.Sqrt(variance)

	result.VaR95 = NormalVaR(result.PortfolioSigma, 0.95)
	result.VaR99 = NormalVaR(result.PortfolioSigma, 0.99)
	result.ES95 = NormalES(result.PortfolioSigma, 0.95)
	result.ES99 = NormalES(result.PortfolioSigma, 0.99)

	return result, nil
}

// scaleCovarianceByForecast rebuilds the covariance matrix around the
// forecast volatilities, keeping the sample correlations:
// Sigma_ij = rho_ij * sigma_i * sigma_j.
func scaleCovarianceByForecast(cov *mat.SymDense, sigmas []float64) *mat.SymDense {
	k := len(sigmas)
	scaled := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			rho := 0.0
			if i == j {
				rho = 1.0
			} else if denom := math.Sqrt(cov.At(i, i) * cov.At(j, j)); denom > 0 {
				rho = cov.At(i, j) / denom
			}
			scaled.SetSym(i, j, rho*sigmas[i]*sigmas[j])
		}
	}
	return scaled
}
