package risk

import (
	"fmt"

	"github.com/oiltrading/riskengine/pkg/formulas"
)

// VolatilityModel forecasts one-step-ahead conditional volatility from a
// daily return series. GARCH(1,1) is the primary model; EWMA is the
// documented fallback when the optimizer fails to converge, behind the same
// interface so callers only ever deal in forecasts.
type VolatilityModel interface {
	Name() string
	Fit(returns []float64) (*VolatilityForecast, error)
}

// VolatilityForecast is a fitted model's one-step-ahead view of a product.
type VolatilityForecast struct {
	Sigma float64 // one-step-ahead conditional volatility, daily
	// Nu is the Student-t degrees of freedom of the innovations.
	// Zero means normal innovations (the EWMA fallback).
	Nu            float64
	Model         string
	Params        GarchParams // zero value for non-GARCH models
	LogLikelihood float64
}

// GarchParams are the fitted GARCH(1,1) parameters.
// Stationarity requires omega > 0, alpha >= 0, beta >= 0, alpha+beta < 1.
type GarchParams struct {
	Omega float64 `json:"omega"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Nu    float64 `json:"nu"`
}

// Persistence is alpha + beta: how slowly volatility shocks decay.
func (p GarchParams) Persistence() float64 {
	return p.Alpha + p.Beta
}

// UnconditionalVariance is the long-run variance the process reverts to.
func (p GarchParams) UnconditionalVariance() float64 {
	denom := 1 - p.Persistence()
	if denom <= 0 {
		return 0
	}
	return p.Omega / denom
}

// EWMAModel is the RiskMetrics exponentially weighted fallback. It has no
// parameters to estimate, so it cannot fail to converge, which is exactly
// why it is the fallback.
type EWMAModel struct {
	Lambda float64
}

// NewEWMAModel creates an EWMA volatility model with the given decay factor.
func NewEWMAModel(lambda float64) *EWMAModel {
	if lambda <= 0 || lambda >= 1 {
		lambda = formulas.DefaultEWMALambda
	}
	return &EWMAModel{Lambda: lambda}
}

func (m *EWMAModel) Name() string { return "ewma" }

// Fit estimates volatility as the exponentially weighted standard deviation
// of the return series. Innovations are treated as normal.
func (m *EWMAModel) Fit(returns []float64) (*VolatilityForecast, error) {
	if len(returns) == 0 {
		return nil, fmt.Errorf("no returns to estimate volatility from")
	}

	return &VolatilityForecast{
		Sigma: formulas.EWMAVolatility(returns, m.Lambda),
		Model: m.Name(),
	}, nil
}
