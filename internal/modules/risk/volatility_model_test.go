package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oiltrading/riskengine/pkg/formulas"
)

func TestNewEWMAModel_LambdaValidation(t *testing.T) {
	assert.Equal(t, 0.85, NewEWMAModel(0.85).Lambda)
	assert.Equal(t, formulas.DefaultEWMALambda, NewEWMAModel(0).Lambda)
	assert.Equal(t, formulas.DefaultEWMALambda, NewEWMAModel(1).Lambda)
	assert.Equal(t, formulas.DefaultEWMALambda, NewEWMAModel(-0.5).Lambda)
}

func TestEWMAModel_Fit(t *testing.T) {
	model := NewEWMAModel(0.94)

	// Constant-magnitude returns make the weighted variance exact
	forecast, err := model.Fit(alternatingReturns(40, 0.02))

	require.NoError(t, err)
	assert.InDelta(t, 0.02, forecast.Sigma, 1e-12)
	assert.Equal(t, "ewma", forecast.Model)
	assert.Zero(t, forecast.Nu, "EWMA innovations are treated as normal")
	assert.Zero(t, forecast.Params)
	assert.Zero(t, forecast.LogLikelihood)
}

func TestEWMAModel_Fit_DelegatesToFormula(t *testing.T) {
	returns := []float64{0.012, -0.008, 0.021, -0.015, 0.004}
	model := NewEWMAModel(0.9)

	forecast, err := model.Fit(returns)

	require.NoError(t, err)
	assert.Equal(t, formulas.EWMAVolatility(returns, 0.9), forecast.Sigma)
}

func TestEWMAModel_Fit_Empty(t *testing.T) {
	_, err := NewEWMAModel(0.94).Fit(nil)
	assert.Error(t, err)
}
