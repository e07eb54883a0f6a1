package marketdata

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"
)

// ProductConfig describes the synthetic price process for one product
type ProductConfig struct {
	Name       string
	BasePrice  float64
	Volatility float64 // Daily volatility (e.g., 0.025 = 2.5%)
	Trend      float64 // Drift per day
}

// DefaultProducts returns the paper-trading desk's product universe
// with realistic base prices in USD
func DefaultProducts() map[string]ProductConfig {
	return map[string]ProductConfig{
		"BRENT":  {Name: "Brent Crude Oil", BasePrice: 85.00, Volatility: 0.025, Trend: 0.0001},
		"380CST": {Name: "Fuel Oil 380cst", BasePrice: 450.00, Volatility: 0.020, Trend: 0.0002},
		"MF05":   {Name: "Marine Fuel 0.5%", BasePrice: 520.00, Volatility: 0.022, Trend: 0.0001},
		"GASOIL": {Name: "Gasoil", BasePrice: 680.00, Volatility: 0.023, Trend: 0.00015},
		"WTI":    {Name: "WTI Crude Oil", BasePrice: 80.00, Volatility: 0.025, Trend: 0.0001},
		"JET":    {Name: "Jet Fuel", BasePrice: 750.00, Volatility: 0.024, Trend: 0.0002},
	}
}

// Generator produces synthetic daily price histories using geometric
// Brownian motion with mean reversion and occasional fat-tail moves.
// Output is fully determined by the seed, so repeated seeding runs
// produce identical databases.
type Generator struct {
	products map[string]ProductConfig
	seed     uint64
	log      zerolog.Logger
}

// NewGenerator creates a market data generator for the given products
func NewGenerator(products map[string]ProductConfig, seed uint64, log zerolog.Logger) *Generator {
	if products == nil {
		products = DefaultProducts()
	}
	return &Generator{
		products: products,
		seed:     seed,
		log:      log.With().Str("component", "market_generator").Logger(),
	}
}

// Products returns the configured product universe
func (g *Generator) Products() map[string]ProductConfig {
	return g.products
}

// productStream derives a stable PCG stream per product so generation
// does not depend on map iteration order
func (g *Generator) productStream(product string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(product))
	return h.Sum64()
}

// GeneratePriceSeries simulates days of closing prices for one product.
// Price path: trend + mean reversion toward the base price + normal shock,
// with a 5% chance of a 2.5x shock and a hard floor at 30% of base.
func (g *Generator) GeneratePriceSeries(product string, days int) ([]float64, error) {
	config, ok := g.products[product]
	if !ok {
		return nil, fmt.Errorf("unknown product %s", product)
	}
	if days < 1 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	rng := rand.New(rand.NewPCG(g.seed, g.productStream(product)))
	shock := distuv.Normal{Mu: 0, Sigma: config.Volatility, Src: rng}

	prices := make([]float64, days)
	prices[0] = config.BasePrice

	for i := 1; i < days; i++ {
		meanReversion := 0.01 * (config.BasePrice - prices[i-1]) / config.BasePrice

		randomShock := shock.Rand()
		if rng.Float64() < 0.05 {
			randomShock *= 2.5
		}

		dailyReturn := config.Trend + meanReversion + randomShock
		prices[i] = prices[i-1] * (1 + dailyReturn)

		if floor := config.BasePrice * 0.3; prices[i] < floor {
			prices[i] = floor
		}
	}

	return prices, nil
}

// GenerateDailyPrices builds weekday-only OHLCV rows for one product,
// covering days calendar days and ending at end. The price path advances
// on weekends too, matching real markets where Monday opens away from
// Friday's close; only the weekend rows are dropped.
func (g *Generator) GenerateDailyPrices(product string, days int, end time.Time) ([]DailyPrice, error) {
	closes, err := g.GeneratePriceSeries(product, days)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(g.seed, g.productStream(product)^0x6f686c63)) // separate stream for OHLCV noise
	start := end.AddDate(0, 0, -(days - 1))

	var rows []DailyPrice
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		closePrice := round2(closes[i])
		volume := rng.Int64N(49000) + 1000
		rows = append(rows, DailyPrice{
			Date:   date.Format("2006-01-02"),
			Open:   round2(closes[i] * uniform(rng, 0.98, 1.02)),
			High:   round2(closes[i] * uniform(rng, 1.00, 1.03)),
			Low:    round2(closes[i] * uniform(rng, 0.97, 1.00)),
			Close:  closePrice,
			Volume: &volume,
		})
	}

	return rows, nil
}

// SeedHistory generates and writes histories for every configured product
func (g *Generator) SeedHistory(h *HistoryDB, days int, end time.Time) error {
	total := 0
	for product := range g.products {
		rows, err := g.GenerateDailyPrices(product, days, end)
		if err != nil {
			return fmt.Errorf("failed to generate prices for %s: %w", product, err)
		}

		if err := h.SyncDailyPrices(product, rows); err != nil {
			return fmt.Errorf("failed to write prices for %s: %w", product, err)
		}
		total += len(rows)
	}

	g.log.Info().
		Int("products", len(g.products)).
		Int("rows", total).
		Int("calendar_days", days).
		Msg("Seeded market data")

	return nil
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
