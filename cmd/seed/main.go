// Package main is the seed tool. It fills the market database with
// deterministic synthetic price histories for the product universe, and can
// optionally install a small demo book so the API has something to price.
package main

import (
	"database/sql"
	"flag"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/database"
	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/internal/modules/marketdata"
	"github.com/oiltrading/riskengine/internal/modules/positions"
	"github.com/oiltrading/riskengine/pkg/logger"
)

func main() {
	days := flag.Int("days", 730, "Calendar days of price history to generate")
	seed := flag.Uint64("seed", 42, "Random walk seed (same seed, same prices)")
	demoBook := flag.Bool("positions", false, "Replace the position book with demo positions")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})

	log.Info().
		Int("days", *days).
		Uint64("seed", *seed).
		Bool("demo_book", *demoBook).
		Str("data_dir", cfg.DataDir).
		Msg("Seeding market data")

	marketDB, err := sql.Open("sqlite3", filepath.Join(cfg.DataDir, "market.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	if err := marketdata.InitSchema(marketDB); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply market schema")
	}

	historyDB := marketdata.NewHistoryDB(marketDB, log)
	generator := marketdata.NewGenerator(nil, *seed, log)

	if err := generator.SeedHistory(historyDB, *days, time.Now().UTC()); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed price history")
	}

	if *demoBook {
		if err := seedPositions(cfg, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed demo positions")
		}
	}

	log.Info().Msg("Seed completed successfully")
}

func seedPositions(cfg *config.Config, log zerolog.Logger) error {
	positionsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "positions.db"),
		Profile: database.ProfileLedger,
		Name:    "positions",
	})
	if err != nil {
		return err
	}
	defer positionsDB.Close()

	if err := positions.InitSchema(positionsDB.Conn()); err != nil {
		return err
	}

	book := demoBook(time.Now().UTC())
	repo := positions.NewRepository(positionsDB.Conn(), log)
	if err := repo.ReplaceAll(book); err != nil {
		return err
	}

	log.Info().Int("positions", len(book)).Msg("Demo book installed")
	return nil
}

// demoBook is a mixed book across the product universe. Longs and shorts on
// correlated products, so demo reports show netting rather than a flat sum.
func demoBook(now time.Time) []domain.Position {
	traded := now.AddDate(0, 0, -30)
	return []domain.Position{
		{Product: "BRENT", Direction: domain.DirectionLong, Quantity: 100, LotSize: 1000, EntryPrice: 84.20, TradeDate: traded},
		{Product: "WTI", Direction: domain.DirectionShort, Quantity: 60, LotSize: 1000, EntryPrice: 79.50, TradeDate: traded},
		{Product: "380CST", Direction: domain.DirectionShort, Quantity: 80, LotSize: 100, EntryPrice: 452.75, TradeDate: traded},
		{Product: "MF05", Direction: domain.DirectionLong, Quantity: 70, LotSize: 100, EntryPrice: 518.00, TradeDate: traded},
		{Product: "GASOIL", Direction: domain.DirectionLong, Quantity: 40, LotSize: 100, EntryPrice: 671.25, TradeDate: traded},
		{Product: "JET", Direction: domain.DirectionShort, Quantity: 25, LotSize: 100, EntryPrice: 744.50, TradeDate: traded},
	}
}
