package risk

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/oiltrading/riskengine/internal/domain"
)

// syntheticGarchReturns simulates a GARCH(1,1) path with normal innovations,
// deterministic for a given seed.
func syntheticGarchReturns(n int, omega, alpha, beta float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 0))
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

	h := omega / (1 - alpha - beta)
	out := make([]float64, n)
	prev := 0.0
	for t := 0; t < n; t++ {
		if t > 0 {
			h = omega + alpha*prev*prev + beta*h
		}
		out[t] = math.Sqrt(h) * normal.Rand()
		prev = out[t]
	}
	return out
}

func TestGarch11Fit(t *testing.T) {
	// True process: uncond variance 4e-5, sigma about 0.63% daily
	returns := syntheticGarchReturns(750, 2e-6, 0.10, 0.85, 7)

	model := &Garch11Model{}
	forecast, err := model.Fit(returns)

	require.NoError(t, err)
	assert.Equal(t, "garch11", forecast.Model)

	// Forecast volatility lands near the process scale
	trueSigma := math.Sqrt(2e-6 / (1 - 0.10 - 0.85))
	assert.Greater(t, forecast.Sigma, trueSigma/3)
	assert.Less(t, forecast.Sigma, trueSigma*3)

	params := forecast.Params
	assert.GreaterOrEqual(t, params.Omega, garchMinOmega)
	assert.GreaterOrEqual(t, params.Alpha, 0.0)
	assert.GreaterOrEqual(t, params.Beta, 0.0)
	assert.LessOrEqual(t, params.Persistence(), garchMaxPersistence, "fitted process must be stationary")
	assert.GreaterOrEqual(t, params.Nu, garchMinNu)
	assert.LessOrEqual(t, params.Nu, garchMaxNu)

	assert.False(t, math.IsNaN(forecast.LogLikelihood))
	assert.False(t, math.IsInf(forecast.LogLikelihood, 0))
}

func TestGarch11Fit_Errors(t *testing.T) {
	model := &Garch11Model{}

	_, err := model.Fit([]float64{0.01, -0.01, 0.02})
	assert.Error(t, err, "too few returns")

	flat := make([]float64, 50)
	_, err = model.Fit(flat)
	assert.Error(t, err, "series without variance")
}

func TestProjectGarchParams(t *testing.T) {
	// In-box point passes through untouched
	p, violation := projectGarchParams([]float64{1e-5, 0.05, 0.90, 8})
	assert.Equal(t, GarchParams{Omega: 1e-5, Alpha: 0.05, Beta: 0.90, Nu: 8}, p)
	assert.Equal(t, 0.0, violation)

	// Negative alpha clamps to zero and gets charged
	p, violation = projectGarchParams([]float64{1e-5, -0.2, 0.90, 8})
	assert.Equal(t, 0.0, p.Alpha)
	assert.Greater(t, violation, 0.0)

	// Non-stationary point rescales onto the persistence boundary
	p, violation = projectGarchParams([]float64{1e-5, 0.6, 0.6, 8})
	assert.InDelta(t, garchMaxPersistence, p.Persistence(), 1e-12)
	assert.Greater(t, p.Alpha, 0.0)
	assert.Greater(t, p.Beta, 0.0)
	assert.Greater(t, violation, 0.0)

	// Degrees of freedom clamp to the open tail bound
	p, _ = projectGarchParams([]float64{1e-5, 0.05, 0.90, 1.0})
	assert.Equal(t, garchMinNu, p.Nu)
}

func TestForecastGarchVariance(t *testing.T) {
	eps := []float64{0.01, -0.02}
	params := GarchParams{Omega: 1e-6, Alpha: 0.1, Beta: 0.8, Nu: 8}
	sampleVar := 0.0004

	// h1 = w + a*0.01^2 + b*h0, forecast = w + a*0.02^2 + b*h1
	h1 := 1e-6 + 0.1*0.0001 + 0.8*sampleVar
	expected := 1e-6 + 0.1*0.0004 + 0.8*h1

	assert.InDelta(t, expected, forecastGarchVariance(eps, sampleVar, params), 1e-15)
}

func TestGarchParams_UnconditionalVariance(t *testing.T) {
	p := GarchParams{Omega: 2e-6, Alpha: 0.10, Beta: 0.85}
	assert.InDelta(t, 4e-5, p.UnconditionalVariance(), 1e-12)

	// Non-stationary parameters have no long-run variance
	p = GarchParams{Omega: 2e-6, Alpha: 0.5, Beta: 0.5}
	assert.Equal(t, 0.0, p.UnconditionalVariance())
}

func TestFitProductVolatility_GarchPath(t *testing.T) {
	returns := syntheticGarchReturns(400, 2e-6, 0.10, 0.85, 11)
	aligned := panelFromReturns(map[string][]float64{"BRENT": returns})

	fits, err := FitProductVolatility(context.Background(), aligned, 100, 0.94, 2)

	require.NoError(t, err)
	require.Contains(t, fits, "BRENT")

	pv := fits["BRENT"]
	assert.Equal(t, VolStatusOK, pv.Status)
	assert.False(t, pv.Degraded())
	assert.NoError(t, pv.Err)
	require.NotNil(t, pv.Forecast)
	assert.Equal(t, "garch11", pv.Forecast.Model)
	assert.Greater(t, pv.Forecast.Sigma, 0.0)
}

func TestFitProductVolatility_ShortHistoryFallsBackToEWMA(t *testing.T) {
	aligned := panelFromReturns(map[string][]float64{
		"BRENT": {0.01, -0.01, 0.02, -0.02, 0.01},
	})

	fits, err := FitProductVolatility(context.Background(), aligned, 100, 0.94, 2)

	require.NoError(t, err)
	pv := fits["BRENT"]
	assert.Equal(t, VolStatusEWMAShortHistory, pv.Status)
	assert.True(t, pv.Degraded())
	assert.Equal(t, "ewma", pv.Forecast.Model)

	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, pv.Err, &insufficient)
	assert.Equal(t, "BRENT", insufficient.Product)
}

func TestFitProductVolatility_ConvergenceFailureFallsBackToEWMA(t *testing.T) {
	// Zero variance: GARCH estimation cannot start, EWMA still works
	flat := make([]float64, 150)
	aligned := panelFromReturns(map[string][]float64{"JET": flat})

	fits, err := FitProductVolatility(context.Background(), aligned, 100, 0.94, 2)

	require.NoError(t, err)
	pv := fits["JET"]
	assert.Equal(t, VolStatusEWMAFallback, pv.Status)
	assert.True(t, pv.Degraded())
	assert.Equal(t, "ewma", pv.Forecast.Model)

	var convergence *domain.ConvergenceError
	require.ErrorAs(t, pv.Err, &convergence)
	assert.Equal(t, "JET", convergence.Product)
}

func TestFitProductVolatility_Cancelled(t *testing.T) {
	aligned := panelFromReturns(map[string][]float64{
		"BRENT": {0.01, -0.01, 0.02},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FitProductVolatility(ctx, aligned, 100, 0.94, 2)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestGarchPortfolioRisk(t *testing.T) {
	positions := []domain.Position{
		testPosition("BRENT", domain.DirectionLong, 1, 1000, 100.0),
		testPosition("WTI", domain.DirectionLong, 1, 1000, 100.0),
	}
	history := map[string]domain.PriceSeries{
		"BRENT": seriesFromPrices(95, 100),
		"WTI":   seriesFromPrices(95, 100),
	}
	snap, err := BuildSnapshot(positions, history)
	require.NoError(t, err)

	// Perfectly correlated sample: rho = 1 between the two products
	same := []float64{0.01, -0.01, 0.02, -0.02, 0.015, -0.015}
	aligned := panelFromReturns(map[string][]float64{"BRENT": same, "WTI": same})
	cov, err := BuildCovariance(aligned)
	require.NoError(t, err)

	forecasts := map[string]*ProductVolatility{
		"BRENT": {Product: "BRENT", Status: VolStatusOK, Forecast: &VolatilityForecast{Sigma: 0.02, Model: "garch11", Nu: 8}},
		"WTI":   {Product: "WTI", Status: VolStatusOK, Forecast: &VolatilityForecast{Sigma: 0.02, Model: "garch11", Nu: 8}},
	}

	result, err := GarchPortfolioRisk(snap, aligned, cov, forecasts)

	require.NoError(t, err)
	// rho=1, equal sigmas: portfolio sigma is the sum of the leg sigmas
	assert.InDelta(t, (100_000+100_000)*0.02, result.PortfolioSigma, 1e-6)
	assert.InDelta(t, 1.6448536*4000, result.VaR95, 1.0)
	assert.InDelta(t, 2.3263479*4000, result.VaR99, 1.0)
	assert.Greater(t, result.ES95, result.VaR95)
	assert.Greater(t, result.ES99, result.VaR99)
	assert.Empty(t, result.DegradedProducts)
	assert.False(t, result.Degraded())
}

func TestGarchPortfolioRisk_HedgedPair(t *testing.T) {
	positions := []domain.Position{
		testPosition("BRENT", domain.DirectionLong, 1, 1000, 100.0),
		testPosition("WTI", domain.DirectionShort, 1, 1000, 100.0),
	}
	history := map[string]domain.PriceSeries{
		"BRENT": seriesFromPrices(95, 100),
		"WTI":   seriesFromPrices(95, 100),
	}
	snap, err := BuildSnapshot(positions, history)
	require.NoError(t, err)

	same := []float64{0.01, -0.01, 0.02, -0.02, 0.015, -0.015}
	aligned := panelFromReturns(map[string][]float64{"BRENT": same, "WTI": same})
	cov, err := BuildCovariance(aligned)
	require.NoError(t, err)

	forecasts := map[string]*ProductVolatility{
		"BRENT": {Product: "BRENT", Status: VolStatusOK, Forecast: &VolatilityForecast{Sigma: 0.02, Model: "garch11"}},
		"WTI":   {Product: "WTI", Status: VolStatusOK, Forecast: &VolatilityForecast{Sigma: 0.02, Model: "garch11"}},
	}

	result, err := GarchPortfolioRisk(snap, aligned, cov, forecasts)

	require.NoError(t, err)
	// Long and short legs on perfectly correlated products cancel
	assert.InDelta(t, 0.0, result.PortfolioSigma, 1e-6)
	assert.InDelta(t, 0.0, result.VaR95, 1e-6)
}

func TestGarchPortfolioRisk_ConcreteBook(t *testing.T) {
	// 100 lots of 1000 bbl marked at 85.50 with 2% daily volatility:
	// VaR95 is about 1.645 * 0.02 * 8.55M
	positions := []domain.Position{
		testPosition("BRENT", domain.DirectionLong, 100, 1000, 80.0),
	}
	history := map[string]domain.PriceSeries{
		"BRENT": seriesFromPrices(84.0, 85.5),
	}
	snap, err := BuildSnapshot(positions, history)
	require.NoError(t, err)

	aligned := panelFromReturns(map[string][]float64{
		"BRENT": {0.02, -0.02, 0.02, -0.02},
	})
	cov, err := BuildCovariance(aligned)
	require.NoError(t, err)

	forecasts := map[string]*ProductVolatility{
		"BRENT": {Product: "BRENT", Status: VolStatusOK, Forecast: &VolatilityForecast{Sigma: 0.02, Model: "garch11", Nu: 8}},
	}

	result, err := GarchPortfolioRisk(snap, aligned, cov, forecasts)

	require.NoError(t, err)
	assert.InDelta(t, 171_000, result.PortfolioSigma, 1e-6)
	assert.InDelta(t, 281_270, result.VaR95, 5.0)
	assert.InDelta(t, 397_805, result.VaR99, 5.0)
}

func TestGarchPortfolioRisk_MissingForecast(t *testing.T) {
	positions := []domain.Position{
		testPosition("BRENT", domain.DirectionLong, 1, 1000, 100.0),
	}
	history := map[string]domain.PriceSeries{
		"BRENT": seriesFromPrices(95, 100),
	}
	snap, err := BuildSnapshot(positions, history)
	require.NoError(t, err)

	aligned := panelFromReturns(map[string][]float64{"BRENT": {0.01, -0.01, 0.02}})
	cov, err := BuildCovariance(aligned)
	require.NoError(t, err)

	_, err = GarchPortfolioRisk(snap, aligned, cov, map[string]*ProductVolatility{})

	assert.Error(t, err)
}

func TestGarchPortfolioRisk_ReportsDegradedProducts(t *testing.T) {
	positions := []domain.Position{
		testPosition("BRENT", domain.DirectionLong, 1, 1000, 100.0),
	}
	history := map[string]domain.PriceSeries{
		"BRENT": seriesFromPrices(95, 100),
	}
	snap, err := BuildSnapshot(positions, history)
	require.NoError(t, err)

	aligned := panelFromReturns(map[string][]float64{"BRENT": {0.01, -0.01, 0.02}})
	cov, err := BuildCovariance(aligned)
	require.NoError(t, err)

	forecasts := map[string]*ProductVolatility{
		"BRENT": {Product: "BRENT", Status: VolStatusEWMAFallback, Forecast: &VolatilityForecast{Sigma: 0.015, Model: "ewma"}},
	}

	result, err := GarchPortfolioRisk(snap, aligned, cov, forecasts)

	require.NoError(t, err)
	assert.Equal(t, []string{"BRENT"}, result.DegradedProducts)
	assert.True(t, result.Degraded())
}
