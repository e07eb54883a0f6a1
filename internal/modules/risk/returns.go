// Package risk implements the portfolio risk calculation engine: historical,
// GARCH and Monte Carlo VaR, expected shortfall, stress tests and backtests
// over the paper-trading position book.
package risk

import (
	"sort"
	"time"

	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/pkg/formulas"
)

// ReturnSeries holds date-stamped daily log returns for one product.
// Each return is stamped with the date of the later price, so two products
// sharing a trading calendar line up day by day.
type ReturnSeries struct {
	Product string
	Dates   []time.Time
	Values  []float64
}

// ComputeReturns derives the log-return series for one product.
// Returns InsufficientDataError when fewer than minObs return observations
// are available; that method is then skipped rather than fed garbage.
func ComputeReturns(product string, series domain.PriceSeries, minObs int) (*ReturnSeries, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}

	actual := len(series) - 1
	if actual < minObs {
		if actual < 0 {
			actual = 0
		}
		return nil, domain.NewInsufficientDataError(product, minObs, actual)
	}

	values := formulas.LogReturns(series.Prices())
	dates := make([]time.Time, len(values))
	for i := range values {
		dates[i] = series[i+1].Date
	}

	return &ReturnSeries{Product: product, Dates: dates, Values: values}, nil
}

// ComputeAllReturns derives return series for every product with enough
// history. Products below the observation floor are dropped and reported in
// the skipped map so the caller can flag them instead of silently losing them.
func ComputeAllReturns(history map[string]domain.PriceSeries, minObs int) (map[string]*ReturnSeries, map[string]error) {
	out := make(map[string]*ReturnSeries, len(history))
	skipped := make(map[string]error)

	for product, series := range history {
		rs, err := ComputeReturns(product, series, minObs)
		if err != nil {
			skipped[product] = err
			continue
		}
		out[product] = rs
	}

	return out, skipped
}

// AlignedReturns is a date-intersected return panel across products.
// Products are in deterministic (alphabetical) order; row t of Matrix holds
// every product's return on Dates[t]. Same-day co-movement is preserved by
// construction, which is what lets historical simulation capture realized
// correlation without a covariance matrix.
type AlignedReturns struct {
	Products []string
	Dates    []time.Time
	Matrix   [][]float64 // rows = dates, columns = products
}

// Observations returns the number of aligned trading days.
func (a *AlignedReturns) Observations() int {
	return len(a.Dates)
}

// Column returns the aligned return series for one product, or nil when the
// product is not part of the panel.
func (a *AlignedReturns) Column(product string) []float64 {
	idx := -1
	for i, p := range a.Products {
		if p == product {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	col := make([]float64, len(a.Matrix))
	for t, row := range a.Matrix {
		col[t] = row[idx]
	}
	return col
}

// AlignReturns intersects the return series of all products on shared dates.
// Dates carried by only some products drop out, so the panel is rectangular
// and every row represents the same trading day everywhere.
func AlignReturns(series map[string]*ReturnSeries) *AlignedReturns {
	products := make([]string, 0, len(series))
	for product := range series {
		products = append(products, product)
	}
	sort.Strings(products)

	if len(products) == 0 {
		return &AlignedReturns{}
	}

	// Count date occurrences across products; a date survives only when
	// every product has a return on it.
	occurrences := make(map[int64]int)
	for _, product := range products {
		for _, d := range series[product].Dates {
			occurrences[d.Unix()]++
		}
	}

	shared := make(map[int64]bool, len(occurrences))
	for key, count := range occurrences {
		if count == len(products) {
			shared[key] = true
		}
	}

	// Walk the first product's dates in order to keep chronology.
	first := series[products[0]]
	var dates []time.Time
	for _, d := range first.Dates {
		if shared[d.Unix()] {
			dates = append(dates, d)
		}
	}

	// Index each product's returns by date for the row assembly.
	byDate := make([]map[int64]float64, len(products))
	for i, product := range products {
		rs := series[product]
		idx := make(map[int64]float64, len(rs.Dates))
		for j, d := range rs.Dates {
			idx[d.Unix()] = rs.Values[j]
		}
		byDate[i] = idx
	}

	matrix := make([][]float64, len(dates))
	for t, d := range dates {
		row := make([]float64, len(products))
		for i := range products {
			row[i] = byDate[i][d.Unix()]
		}
		matrix[t] = row
	}

	return &AlignedReturns{Products: products, Dates: dates, Matrix: matrix}
}
