// Package marketdata provides access to historical prices for oil products
// and the synthetic market data generator used for paper trading.
package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/domain"
)

// HistoryDB provides access to historical price data in market.db
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// DailyPrice represents a daily OHLCV price point
type DailyPrice struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}

// GetDailyPrices fetches daily price data for a product, newest first
func (h *HistoryDB) GetDailyPrices(product string, limit int) ([]DailyPrice, error) {
	query := `
		SELECT date, close, high, low, open, volume
		FROM daily_prices
		WHERE product = ?
		ORDER BY date DESC
		LIMIT ?
	`

	rows, err := h.db.Query(query, product, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var volume sql.NullInt64

		err := rows.Scan(&p.Date, &p.Close, &p.High, &p.Low, &p.Open, &volume)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}

		if volume.Valid {
			p.Volume = &volume.Int64
		}

		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}

// GetPriceSeries fetches up to days closing prices for a product as a
// chronologically ascending series. Date gaps (weekends, holidays) are
// preserved as-is; the risk calculators treat consecutive rows as
// consecutive trading days.
func (h *HistoryDB) GetPriceSeries(product string, days int) (domain.PriceSeries, error) {
	query := `
		SELECT date, close FROM (
			SELECT date, close
			FROM daily_prices
			WHERE product = ?
			ORDER BY date DESC
			LIMIT ?
		)
		ORDER BY date ASC
	`

	rows, err := h.db.Query(query, product, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query price series: %w", err)
	}
	defer rows.Close()

	var series domain.PriceSeries
	for rows.Next() {
		var dateStr string
		var closePrice float64

		if err := rows.Scan(&dateStr, &closePrice); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}

		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price date %q: %w", dateStr, err)
		}

		series = append(series, domain.PricePoint{Date: date, Price: closePrice})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price series: %w", err)
	}

	return series, nil
}

// GetPriceSeriesRange fetches the closing prices for a product between two
// dates inclusive, chronologically ascending. A zero start or end leaves
// that side unbounded.
func (h *HistoryDB) GetPriceSeriesRange(product string, start, end time.Time) (domain.PriceSeries, error) {
	startStr := "0001-01-01"
	if !start.IsZero() {
		startStr = start.Format("2006-01-02")
	}
	endStr := "9999-12-31"
	if !end.IsZero() {
		endStr = end.Format("2006-01-02")
	}

	query := `
		SELECT date, close
		FROM daily_prices
		WHERE product = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := h.db.Query(query, product, startStr, endStr)
	if err != nil {
		return nil, fmt.Errorf("failed to query price range: %w", err)
	}
	defer rows.Close()

	var series domain.PriceSeries
	for rows.Next() {
		var dateStr string
		var closePrice float64

		if err := rows.Scan(&dateStr, &closePrice); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}

		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price date %q: %w", dateStr, err)
		}

		series = append(series, domain.PricePoint{Date: date, Price: closePrice})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price range: %w", err)
	}

	return series, nil
}

// GetAllPriceSeries fetches price series for every product with data,
// keyed by product code
func (h *HistoryDB) GetAllPriceSeries(days int) (map[string]domain.PriceSeries, error) {
	products, err := h.ListProducts()
	if err != nil {
		return nil, err
	}

	histories := make(map[string]domain.PriceSeries, len(products))
	for _, product := range products {
		series, err := h.GetPriceSeries(product, days)
		if err != nil {
			return nil, fmt.Errorf("failed to load history for %s: %w", product, err)
		}
		histories[product] = series
	}

	return histories, nil
}

// ListProducts returns all product codes present in the price history
func (h *HistoryDB) ListProducts() ([]string, error) {
	rows, err := h.db.Query("SELECT DISTINCT product FROM daily_prices ORDER BY product")
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []string
	for rows.Next() {
		var product string
		if err := rows.Scan(&product); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

// LatestPrice returns the most recent closing price for a product
func (h *HistoryDB) LatestPrice(product string) (float64, error) {
	var price float64
	err := h.db.QueryRow(`
		SELECT close FROM daily_prices
		WHERE product = ?
		ORDER BY date DESC
		LIMIT 1
	`, product).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no price history for product %s", product)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query latest price: %w", err)
	}

	return price, nil
}

// HasData checks if the history database has price data for a product
// Used to determine if the initial seed has been done
func (h *HistoryDB) HasData(product string) (bool, error) {
	var count int
	err := h.db.QueryRow("SELECT COUNT(*) FROM daily_prices WHERE product = ?", product).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check price data: %w", err)
	}

	return count > 0, nil
}

// SyncDailyPrices writes daily price data for a product to the database.
// Inserts/replaces all rows in a single transaction so a partial sync
// never leaves a half-written history behind.
func (h *HistoryDB) SyncDailyPrices(product string, prices []DailyPrice) error {
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_prices
		(product, date, open, high, low, close, volume, currency, unit, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, price := range prices {
		volume := sql.NullInt64{}
		if price.Volume != nil {
			volume.Int64 = *price.Volume
			volume.Valid = true
		}

		_, err = stmt.Exec(
			product,
			price.Date,
			price.Open,
			price.High,
			price.Low,
			price.Close,
			volume,
			"USD",
			unitForProduct(product),
			"generated",
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert daily price for %s: %w", price.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	h.log.Info().
		Str("product", product).
		Int("count", len(prices)).
		Msg("Synced daily prices")

	return nil
}

// unitForProduct returns the quotation unit for a product code.
// Fuel oil grades quote in metric tonnes, crude and distillates in barrels.
func unitForProduct(product string) string {
	switch product {
	case "380CST", "MF05":
		return "MT"
	default:
		return "BBL"
	}
}
