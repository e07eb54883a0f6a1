package marketdata

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePriceSeries_Deterministic(t *testing.T) {
	gen1 := NewGenerator(nil, 42, zerolog.Nop())
	gen2 := NewGenerator(nil, 42, zerolog.Nop())

	series1, err := gen1.GeneratePriceSeries("BRENT", 365)
	require.NoError(t, err)
	series2, err := gen2.GeneratePriceSeries("BRENT", 365)
	require.NoError(t, err)

	assert.Equal(t, series1, series2, "same seed must produce identical series")
}

func TestGeneratePriceSeries_SeedChangesPath(t *testing.T) {
	gen1 := NewGenerator(nil, 42, zerolog.Nop())
	gen2 := NewGenerator(nil, 43, zerolog.Nop())

	series1, err := gen1.GeneratePriceSeries("BRENT", 365)
	require.NoError(t, err)
	series2, err := gen2.GeneratePriceSeries("BRENT", 365)
	require.NoError(t, err)

	assert.NotEqual(t, series1, series2)
}

func TestGeneratePriceSeries_StartsAtBaseAndStaysAboveFloor(t *testing.T) {
	gen := NewGenerator(nil, 42, zerolog.Nop())

	for product, config := range gen.Products() {
		series, err := gen.GeneratePriceSeries(product, 500)
		require.NoError(t, err)
		require.Len(t, series, 500)

		assert.Equal(t, config.BasePrice, series[0], "series starts at base price")

		floor := config.BasePrice * 0.3
		for i, price := range series {
			if price < floor {
				t.Fatalf("%s price %f at day %d below floor %f", product, price, i, floor)
			}
		}
	}
}

func TestGeneratePriceSeries_ProductsDiffer(t *testing.T) {
	gen := NewGenerator(nil, 42, zerolog.Nop())

	brent, err := gen.GeneratePriceSeries("BRENT", 100)
	require.NoError(t, err)
	wti, err := gen.GeneratePriceSeries("WTI", 100)
	require.NoError(t, err)

	// Different products draw from independent streams
	assert.NotEqual(t, brent[1:], wti[1:])
}

func TestGeneratePriceSeries_UnknownProduct(t *testing.T) {
	gen := NewGenerator(nil, 42, zerolog.Nop())

	_, err := gen.GeneratePriceSeries("NAPHTHA", 100)
	assert.Error(t, err)
}

func TestGenerateDailyPrices_SkipsWeekends(t *testing.T) {
	gen := NewGenerator(nil, 42, zerolog.Nop())

	// 2024-03-29 is a Friday
	end := time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC)
	rows, err := gen.GenerateDailyPrices("BRENT", 28, end)
	require.NoError(t, err)

	// 28 calendar days rooted at a Friday cover exactly 20 weekdays
	assert.Len(t, rows, 20)

	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.Date)
		require.NoError(t, err)
		wd := date.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}

	// Rows come out in ascending date order ending at the requested day
	assert.Equal(t, "2024-03-29", rows[len(rows)-1].Date)
}

func TestGenerateDailyPrices_OHLCConsistent(t *testing.T) {
	gen := NewGenerator(nil, 42, zerolog.Nop())

	end := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	rows, err := gen.GenerateDailyPrices("GASOIL", 90, end)
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	for _, row := range rows {
		assert.GreaterOrEqual(t, row.High, row.Close, "high >= close on %s", row.Date)
		assert.LessOrEqual(t, row.Low, row.Close, "low <= close on %s", row.Date)
		require.NotNil(t, row.Volume)
		assert.GreaterOrEqual(t, *row.Volume, int64(1000))
		assert.Less(t, *row.Volume, int64(50000))
	}
}

func TestSeedHistory_WritesAllProducts(t *testing.T) {
	db := setupMarketTestDB(t)
	historyDB := NewHistoryDB(db, zerolog.Nop())

	gen := NewGenerator(nil, 42, zerolog.Nop())
	end := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	err := gen.SeedHistory(historyDB, 60, end)
	require.NoError(t, err)

	products, err := historyDB.ListProducts()
	require.NoError(t, err)
	assert.Len(t, products, len(gen.Products()))

	// Seeded history round-trips as a valid ascending series
	series, err := historyDB.GetPriceSeries("BRENT", 252)
	require.NoError(t, err)
	assert.NotEmpty(t, series)
	assert.NoError(t, series.Validate())
}

func TestSeedHistory_Idempotent(t *testing.T) {
	db := setupMarketTestDB(t)
	historyDB := NewHistoryDB(db, zerolog.Nop())

	gen := NewGenerator(nil, 42, zerolog.Nop())
	end := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	require.NoError(t, gen.SeedHistory(historyDB, 60, end))

	var countFirst int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM daily_prices").Scan(&countFirst))

	// Re-seeding with the same seed and window replaces rows in place
	require.NoError(t, gen.SeedHistory(historyDB, 60, end))

	var countSecond int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM daily_prices").Scan(&countSecond))
	assert.Equal(t, countFirst, countSecond)
}
