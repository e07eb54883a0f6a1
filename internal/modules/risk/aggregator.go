package risk

import (
	"sort"

	"github.com/oiltrading/riskengine/internal/domain"
)

// PortfolioSnapshot is the marked position book a single calculation works
// from. It is built once per request and then read-only, so the three VaR
// methods can share it across goroutines without locks.
type PortfolioSnapshot struct {
	Positions      []domain.Position
	Marks          map[string]float64 // current mark per product (latest close)
	NetExposure    map[string]float64 // signed notional per product
	GrossExposure  map[string]float64 // Σ|signedNotional| per product
	PositionCounts map[string]int
	TotalValue     float64 // gross portfolio value, Σ|signedNotional|
}

// BuildSnapshot marks every position at the latest available price and
// aggregates exposures. Entry price only establishes direction and size;
// exposure value always uses the current mark. A position whose product has
// no price history cannot be marked, which fails the whole request: an
// unmarked position would silently understate every downstream number.
func BuildSnapshot(positions []domain.Position, history map[string]domain.PriceSeries) (*PortfolioSnapshot, error) {
	snap := &PortfolioSnapshot{
		Positions:      positions,
		Marks:          make(map[string]float64),
		NetExposure:    make(map[string]float64),
		GrossExposure:  make(map[string]float64),
		PositionCounts: make(map[string]int),
	}

	for _, pos := range positions {
		if err := pos.Validate(); err != nil {
			return nil, err
		}

		mark, ok := snap.Marks[pos.Product]
		if !ok {
			series, found := history[pos.Product]
			if !found {
				return nil, domain.NewInsufficientDataError(pos.Product, 1, 0)
			}
			last, hasPrice := series.LastPrice()
			if !hasPrice {
				return nil, domain.NewInsufficientDataError(pos.Product, 1, 0)
			}
			mark = last
			snap.Marks[pos.Product] = mark
		}

		notional := pos.SignedNotional(mark)
		snap.NetExposure[pos.Product] += notional
		if notional < 0 {
			snap.GrossExposure[pos.Product] -= notional
		} else {
			snap.GrossExposure[pos.Product] += notional
		}
		snap.PositionCounts[pos.Product]++
		snap.TotalValue += pos.Units() * mark
	}

	return snap, nil
}

// Products returns the products with open positions in deterministic order.
func (s *PortfolioSnapshot) Products() []string {
	products := make([]string, 0, len(s.NetExposure))
	for product := range s.NetExposure {
		products = append(products, product)
	}
	sort.Strings(products)
	return products
}

// ExposureVector returns the signed net exposure for each of the given
// products, in their order. Products without positions contribute zero.
func (s *PortfolioSnapshot) ExposureVector(products []string) []float64 {
	out := make([]float64, len(products))
	for i, product := range products {
		out[i] = s.NetExposure[product]
	}
	return out
}

// WeightVector returns signed exposure weights relative to gross portfolio
// value for the given products. All zeros for an empty portfolio.
func (s *PortfolioSnapshot) WeightVector(products []string) []float64 {
	out := make([]float64, len(products))
	if s.TotalValue == 0 {
		return out
	}
	for i, product := range products {
		out[i] = s.NetExposure[product] / s.TotalValue
	}
	return out
}

// PortfolioReturns collapses an aligned return panel into one portfolio
// return per day: r_t = Σ_p (netExposure_p / totalValue) · r_{p,t}.
// Per-position weighting by |notional|/total with direction sign reduces to
// exactly this product-level form.
func (s *PortfolioSnapshot) PortfolioReturns(aligned *AlignedReturns) []float64 {
	obs := aligned.Observations()
	out := make([]float64, obs)
	if s.TotalValue == 0 {
		return out
	}

	weights := s.WeightVector(aligned.Products)
	for t, row := range aligned.Matrix {
		sum := 0.0
		for i, r := range row {
			sum += weights[i] * r
		}
		out[t] = sum
	}

	return out
}

// PnLSeries scales portfolio returns by gross portfolio value, producing the
// daily mark-to-market P&L sample the quantile machinery consumes.
func (s *PortfolioSnapshot) PnLSeries(aligned *AlignedReturns) []float64 {
	returns := s.PortfolioReturns(aligned)
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r * s.TotalValue
	}
	return out
}

// ProductBreakdown assembles the per-product exposure rows of a risk report.
// Volatility and VaR fields are filled in later by the calculators.
func (s *PortfolioSnapshot) ProductBreakdown() []domain.ProductExposure {
	products := s.Products()
	out := make([]domain.ProductExposure, 0, len(products))
	for _, product := range products {
		out = append(out, domain.ProductExposure{
			Product:       product,
			NetExposure:   s.NetExposure[product],
			GrossExposure: s.GrossExposure[product],
			CurrentPrice:  s.Marks[product],
			PositionCount: s.PositionCounts[product],
		})
	}
	return out
}
