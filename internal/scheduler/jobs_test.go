package scheduler

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/oiltrading/riskengine/internal/config"
	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/internal/modules/marketdata"
	"github.com/oiltrading/riskengine/internal/modules/positions"
	"github.com/oiltrading/riskengine/internal/modules/risk"
	"github.com/oiltrading/riskengine/internal/modules/snapshots"
)

type jobFixture struct {
	service      *risk.Service
	positionRepo *positions.Repository
	historyDB    *marketdata.HistoryDB
	snapshotRepo *snapshots.Repository
	cfg          config.RiskConfig
}

func setupJobFixture(t *testing.T) *jobFixture {
	t.Helper()

	cfg := config.RiskConfig{
		MinObservations:       30,
		GarchMinObservations:  100,
		DefaultHistoricalDays: 252,
		Simulations:           2_000,
		MaxSimulations:        1_000_000,
		PartitionSize:         5_000,
		Seed:                  42,
		Workers:               2,
		EWMALambda:            0.94,
		CalculationTimeoutSec: 60,
		SnapshotTTLMinutes:    5,
		SnapshotIntervalMin:   15,
	}

	posDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { posDB.Close() })
	require.NoError(t, positions.InitSchema(posDB))

	marketDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { marketDB.Close() })
	require.NoError(t, marketdata.InitSchema(marketDB))

	snapDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { snapDB.Close() })
	require.NoError(t, snapshots.InitSchema(snapDB))

	return &jobFixture{
		service:      risk.NewService(cfg, zerolog.Nop()),
		positionRepo: positions.NewRepository(posDB, zerolog.Nop()),
		historyDB:    marketdata.NewHistoryDB(marketDB, zerolog.Nop()),
		snapshotRepo: snapshots.NewRepository(snapDB, zerolog.Nop()),
		cfg:          cfg,
	}
}

// seedHistory writes an alternating up/down weekday price path so returns
// are well defined and every estimator has data to chew on.
func seedHistory(t *testing.T, historyDB *marketdata.HistoryDB, product string, days int) {
	t.Helper()

	prices := make([]marketdata.DailyPrice, 0, days)
	price := 80.0
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
		}
		if i > 0 {
			if i%2 == 0 {
				price *= 1.01
			} else {
				price *= 0.99
			}
		}
		prices = append(prices, marketdata.DailyPrice{
			Date: day.Format("2006-01-02"),
			Open: price, High: price, Low: price, Close: price,
		})
		day = day.AddDate(0, 0, 1)
	}

	require.NoError(t, historyDB.SyncDailyPrices(product, prices))
}

func addPosition(t *testing.T, repo *positions.Repository, product string) {
	t.Helper()

	_, err := repo.Add(domain.Position{
		Product:    product,
		Direction:  domain.DirectionLong,
		Quantity:   10,
		LotSize:    1000,
		EntryPrice: 80,
		TradeDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

type capturePublisher struct {
	last *domain.RiskResult
}

func (p *capturePublisher) PublishSnapshot(result *domain.RiskResult) {
	p.last = result
}

func TestSnapshotJob_StoresAndPublishes(t *testing.T) {
	f := setupJobFixture(t)
	addPosition(t, f.positionRepo, "BRENT")
	seedHistory(t, f.historyDB, "BRENT", 60)

	publisher := &capturePublisher{}
	job := NewSnapshotJob(f.service, f.positionRepo, f.historyDB, f.snapshotRepo,
		publisher, f.cfg, zerolog.Nop())

	assert.Equal(t, "risk_snapshot", job.Name())
	require.NoError(t, job.Run())

	stored, found, err := f.snapshotRepo.LatestAny()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, stored.PositionCount)
	assert.Greater(t, stored.TotalPortfolioValue, 0.0)
	assert.Equal(t, "ok", stored.MethodStatuses["historical"])

	require.NotNil(t, publisher.last)
	assert.Equal(t, stored.CalculationID, publisher.last.CalculationID)
}

func TestSnapshotJob_EmptyBookStoresZeroedReport(t *testing.T) {
	f := setupJobFixture(t)

	job := NewSnapshotJob(f.service, f.positionRepo, f.historyDB, f.snapshotRepo,
		nil, f.cfg, zerolog.Nop())

	require.NoError(t, job.Run())

	stored, found, err := f.snapshotRepo.LatestAny()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, stored.PositionCount)
	assert.Zero(t, stored.TotalPortfolioValue)
	assert.Equal(t, "skipped:no_positions", stored.MethodStatuses["historical"])
}

func TestCleanupJob_SweepsOnlyExpired(t *testing.T) {
	f := setupJobFixture(t)

	fresh := &domain.RiskResult{CalculationID: "fresh", CalculationDate: time.Now().UTC()}
	stale := &domain.RiskResult{CalculationID: "stale", CalculationDate: time.Now().UTC()}
	require.NoError(t, f.snapshotRepo.Save(fresh, "k", 5*time.Minute))
	require.NoError(t, f.snapshotRepo.Save(stale, "k", -time.Minute))

	job := NewCleanupJob(f.snapshotRepo, zerolog.Nop())

	assert.Equal(t, "snapshot_cleanup", job.Name())
	require.NoError(t, job.Run())

	count, err := f.snapshotRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBacktestJob_StoresResult(t *testing.T) {
	f := setupJobFixture(t)
	addPosition(t, f.positionRepo, "BRENT")
	seedHistory(t, f.historyDB, "BRENT", 320)

	job := NewBacktestJob(f.service, f.positionRepo, f.historyDB, f.snapshotRepo,
		f.cfg, zerolog.Nop())

	assert.Equal(t, "nightly_backtest", job.Name())
	require.NoError(t, job.Run())

	stored, found, err := f.snapshotRepo.LatestBacktest()
	require.NoError(t, err)
	require.True(t, found)
	// 320 prices give 319 returns, minus the 252-day estimation window.
	assert.Equal(t, 67, stored.ObservationCount)
	assert.Equal(t, risk.DefaultLookbackDays, stored.LookbackDays)
	assert.InDelta(t, 0.95, stored.Confidence, 1e-12)
}

func TestBacktestJob_EmptyBookSkips(t *testing.T) {
	f := setupJobFixture(t)

	job := NewBacktestJob(f.service, f.positionRepo, f.historyDB, f.snapshotRepo,
		f.cfg, zerolog.Nop())

	require.NoError(t, job.Run())

	_, found, err := f.snapshotRepo.LatestBacktest()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBacktestJob_ShortHistorySkips(t *testing.T) {
	f := setupJobFixture(t)
	addPosition(t, f.positionRepo, "BRENT")
	seedHistory(t, f.historyDB, "BRENT", 50)

	job := NewBacktestJob(f.service, f.positionRepo, f.historyDB, f.snapshotRepo,
		f.cfg, zerolog.Nop())

	require.NoError(t, job.Run())

	_, found, err := f.snapshotRepo.LatestBacktest()
	require.NoError(t, err)
	assert.False(t, found)
}
