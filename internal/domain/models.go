// Package domain provides the core risk domain models shared across modules.
package domain

import (
	"time"
)

// Direction represents the side of a derivative position
type Direction string

const (
	// DirectionLong profits when the product price rises
	DirectionLong Direction = "Long"
	// DirectionShort profits when the product price falls
	DirectionShort Direction = "Short"
)

// Sign returns +1 for long positions and -1 for short positions.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Valid reports whether the direction is one of the two known sides.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Method identifies a VaR calculation method
type Method string

const (
	MethodHistorical Method = "historical"
	MethodGarch      Method = "garch"
	MethodMonteCarlo Method = "montecarlo"
	// MethodFull runs all three methods and merges them into one report
	MethodFull Method = "full"
)

// Valid reports whether the method is a known calculation method.
func (m Method) Valid() bool {
	switch m {
	case MethodHistorical, MethodGarch, MethodMonteCarlo, MethodFull:
		return true
	}
	return false
}

// StatusOK marks a method that ran normally. A method is either ok, skipped
// with a reason, or degraded with a reason; a metric of zero without a
// status is a bug, never a legitimate omission.
const StatusOK = "ok"

// StatusSkipped builds a skipped status with the given reason.
func StatusSkipped(reason string) string {
	return "skipped:" + reason
}

// StatusDegraded builds a degraded status with the given reason.
func StatusDegraded(reason string) string {
	return "degraded:" + reason
}

// Position represents an open derivative position. Positions are read fresh
// from the position store at the start of each calculation and never mutated
// by the engine.
type Position struct {
	TradeDate  time.Time `json:"tradeDate"`
	Product    string    `json:"product"`
	Direction  Direction `json:"direction"`
	ID         int64     `json:"id,omitempty"`
	Quantity   float64   `json:"quantity"`
	LotSize    float64   `json:"lotSize"`
	EntryPrice float64   `json:"entryPrice"`
}

// Validate checks the position invariants: positive quantity, lot size and
// entry price, and a known direction.
func (p Position) Validate() error {
	if p.Product == "" {
		return &ConfigurationError{Field: "position.product", Reason: "must not be empty"}
	}
	if !p.Direction.Valid() {
		return &ConfigurationError{Field: "position.direction", Reason: "must be Long or Short"}
	}
	if p.Quantity <= 0 {
		return &ConfigurationError{Field: "position.quantity", Reason: "must be positive"}
	}
	if p.LotSize <= 0 {
		return &ConfigurationError{Field: "position.lotSize", Reason: "must be positive"}
	}
	if p.EntryPrice <= 0 {
		return &ConfigurationError{Field: "position.entryPrice", Reason: "must be positive"}
	}
	return nil
}

// Units returns the total number of units covered by the position.
func (p Position) Units() float64 {
	return p.Quantity * p.LotSize
}

// SignedNotional returns the signed exposure of the position at the given
// mark price. Short positions carry negative notional.
func (p Position) SignedNotional(mark float64) float64 {
	return p.Direction.Sign() * p.Quantity * p.LotSize * mark
}

// PricePoint is one daily observation of a product price.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// PriceSeries is an ordered daily price series for one product. Dates are
// strictly increasing; gaps are allowed but never silently interpolated.
type PriceSeries []PricePoint

// Validate checks series ordering and price positivity.
func (s PriceSeries) Validate() error {
	for i, pt := range s {
		if pt.Price <= 0 {
			return &ConfigurationError{Field: "priceSeries.price", Reason: "must be positive"}
		}
		if i > 0 && !pt.Date.After(s[i-1].Date) {
			return &ConfigurationError{Field: "priceSeries.date", Reason: "must be strictly increasing"}
		}
	}
	return nil
}

// Prices returns the raw price values in date order.
func (s PriceSeries) Prices() []float64 {
	out := make([]float64, len(s))
	for i, pt := range s {
		out[i] = pt.Price
	}
	return out
}

// Tail returns the last n points of the series (the whole series when it is
// shorter than n).
func (s PriceSeries) Tail(n int) PriceSeries {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// LastPrice returns the most recent price, used as the current mark.
func (s PriceSeries) LastPrice() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].Price, true
}

// StressScenario is the outcome of one deterministic shock applied to the
// current exposures.
type StressScenario struct {
	ScenarioName    string  `json:"scenarioName"`
	Description     string  `json:"description"`
	ShockPercentage float64 `json:"shockPercentage"`
	PnLImpact       float64 `json:"pnlImpact"`
}

// ProductExposure is the per-product breakdown in a risk report.
type ProductExposure struct {
	Product          string  `json:"product"`
	NetExposure      float64 `json:"netExposure"`
	GrossExposure    float64 `json:"grossExposure"`
	CurrentPrice     float64 `json:"currentPrice"`
	PositionCount    int     `json:"positionCount"`
	HistVaR95        float64 `json:"histVaR95"`
	Volatility       float64 `json:"volatility"`
	CondVolatility   float64 `json:"condVolatility,omitempty"`
	DegreesOfFreedom float64 `json:"degreesOfFreedom,omitempty"`
}

// RiskResult is the full risk report for one calculation. It is ephemeral:
// computed per request, optionally cached by the snapshot store, never a
// system of record.
type RiskResult struct {
	CalculationDate     time.Time         `json:"calculationDate"`
	MethodStatuses      map[string]string `json:"methodStatuses"`
	CalculationID       string            `json:"calculationId"`
	Method              Method            `json:"method"`
	StressTests         []StressScenario  `json:"stressTests,omitempty"`
	ProductExposures    []ProductExposure `json:"productExposures"`
	TotalPortfolioValue float64           `json:"totalPortfolioValue"`
	PositionCount       int               `json:"positionCount"`
	HistoricalVaR95     float64           `json:"historicalVaR95"`
	HistoricalVaR99     float64           `json:"historicalVaR99"`
	GarchVaR95          float64           `json:"garchVaR95"`
	GarchVaR99          float64           `json:"garchVaR99"`
	MonteCarloVaR95     float64           `json:"monteCarloVaR95"`
	MonteCarloVaR99     float64           `json:"monteCarloVaR99"`
	ExpectedShortfall95 float64           `json:"expectedShortfall95"`
	ExpectedShortfall99 float64           `json:"expectedShortfall99"`
	PortfolioVolatility float64           `json:"portfolioVolatility"`
	MaxDrawdown         float64           `json:"maxDrawdown"`
	SimulationCount     int               `json:"simulationCount,omitempty"`
	Seed                int64             `json:"seed"`
	Degraded            bool              `json:"degraded"`
}

// BacktestResult summarizes a rolling VaR backtest over a historical window.
type BacktestResult struct {
	WindowStart        time.Time `json:"windowStart"`
	WindowEnd          time.Time `json:"windowEnd"`
	LookbackDays       int       `json:"lookbackDays"`
	Confidence         float64   `json:"confidence"`
	BreachCount        int       `json:"breachCount"`
	ObservationCount   int       `json:"observationCount"`
	BreachRate         float64   `json:"breachRate"`
	ExpectedBreachRate float64   `json:"expectedBreachRate"`
	Passed             bool      `json:"passed"`
	// KupiecLR is the Kupiec proportion-of-failures likelihood ratio,
	// reported for reference; Passed is decided by the tolerance band only.
	KupiecLR float64 `json:"kupiecLR"`
}

// CalculationRequest is the engine's request contract, identical for the
// HTTP service internals and the stdio worker.
type CalculationRequest struct {
	PriceHistory       map[string]PriceSeries `json:"priceHistory"`
	Method             Method                 `json:"method"`
	Positions          []Position             `json:"positions"`
	HistoricalDays     int                    `json:"historicalDays"`
	Simulations        int                    `json:"simulations"`
	Seed               int64                  `json:"seed"`
	IncludeStressTests bool                   `json:"includeStressTests"`
}
