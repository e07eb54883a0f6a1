package snapshots

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/oiltrading/riskengine/internal/domain"
)

func setupSnapshotTestDB(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitSchema(db))
	return NewRepository(db, zerolog.Nop())
}

func sampleResult(id string) *domain.RiskResult {
	return &domain.RiskResult{
		CalculationID:       id,
		CalculationDate:     time.Now().UTC(),
		Method:              domain.MethodFull,
		TotalPortfolioValue: 8_550_000,
		PositionCount:       2,
		HistoricalVaR95:     125_000,
		HistoricalVaR99:     180_000,
		ExpectedShortfall95: 150_000,
		ExpectedShortfall99: 210_000,
		Seed:                42,
		MethodStatuses: map[string]string{
			"historical": "ok",
			"garch":      "ok",
			"montecarlo": "ok",
		},
		StressTests: []domain.StressScenario{
			{ScenarioName: "-10% Shock", ShockPercentage: -0.10, PnLImpact: -855_000},
		},
	}
}

func TestSaveAndLatest(t *testing.T) {
	repo := setupSnapshotTestDB(t)

	result := sampleResult("calc-1")
	require.NoError(t, repo.Save(result, "full|252|true|42|100000", 5*time.Minute))

	got, found, err := repo.Latest("full|252|true|42|100000")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, "calc-1", got.CalculationID)
	assert.Equal(t, domain.MethodFull, got.Method)
	assert.InDelta(t, 8_550_000, got.TotalPortfolioValue, 1e-9)
	assert.InDelta(t, 125_000, got.HistoricalVaR95, 1e-9)
	assert.Equal(t, "ok", got.MethodStatuses["montecarlo"])
	require.Len(t, got.StressTests, 1)
	assert.Equal(t, "-10% Shock", got.StressTests[0].ScenarioName)
	assert.WithinDuration(t, result.CalculationDate, got.CalculationDate, time.Second)
}

func TestLatest_MissesOtherKey(t *testing.T) {
	repo := setupSnapshotTestDB(t)

	require.NoError(t, repo.Save(sampleResult("calc-1"), "full|252|true|42|100000", 5*time.Minute))

	_, found, err := repo.Latest("historical|252|false|42|100000")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLatest_IgnoresExpired(t *testing.T) {
	repo := setupSnapshotTestDB(t)

	require.NoError(t, repo.Save(sampleResult("stale"), "k", -time.Minute))

	_, found, err := repo.Latest("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLatest_ReturnsNewest(t *testing.T) {
	repo := setupSnapshotTestDB(t)

	require.NoError(t, repo.Save(sampleResult("older"), "k", 5*time.Minute))
	require.NoError(t, repo.Save(sampleResult("newer"), "k", 5*time.Minute))

	got, found, err := repo.Latest("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "newer", got.CalculationID)
}

func TestLatestAny(t *testing.T) {
	repo := setupSnapshotTestDB(t)

	_, found, err := repo.LatestAny()
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.Save(sampleResult("a"), "key-a", 5*time.Minute))
	require.NoError(t, repo.Save(sampleResult("b"), "key-b", 5*time.Minute))

	got, found, err := repo.LatestAny()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b", got.CalculationID)
}

func TestDeleteExpired(t *testing.T) {
	repo := setupSnapshotTestDB(t)

	require.NoError(t, repo.Save(sampleResult("stale"), "k", -time.Minute))
	require.NoError(t, repo.Save(sampleResult("fresh"), "k", 5*time.Minute))

	deleted, err := repo.DeleteExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, found, err := repo.Latest("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "fresh", got.CalculationID)
}

func TestList(t *testing.T) {
	repo := setupSnapshotTestDB(t)

	infos, err := repo.List(10)
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, repo.Save(sampleResult("a"), "key-a", 5*time.Minute))
	require.NoError(t, repo.Save(sampleResult("b"), "key-b", -time.Minute))
	require.NoError(t, repo.Save(sampleResult("c"), "key-c", 5*time.Minute))

	infos, err = repo.List(10)
	require.NoError(t, err)
	require.Len(t, infos, 3)

	// Newest first, expired rows included.
	assert.Equal(t, "c", infos[0].Result.CalculationID)
	assert.Equal(t, "key-c", infos[0].ParamsKey)
	assert.False(t, infos[0].CreatedAt.IsZero())
	assert.Equal(t, "b", infos[1].Result.CalculationID)

	infos, err = repo.List(2)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestCacheKey_DistinguishesParameters(t *testing.T) {
	base := domain.CalculationRequest{
		Method:             domain.MethodFull,
		HistoricalDays:     252,
		IncludeStressTests: true,
		Seed:               42,
		Simulations:        100_000,
	}

	other := base
	other.Seed = 7
	assert.NotEqual(t, CacheKey(base), CacheKey(other))

	other = base
	other.Method = domain.MethodHistorical
	assert.NotEqual(t, CacheKey(base), CacheKey(other))

	assert.Equal(t, CacheKey(base), CacheKey(base))
}

func TestBacktestRoundTrip(t *testing.T) {
	repo := setupSnapshotTestDB(t)

	_, found, err := repo.LatestBacktest()
	require.NoError(t, err)
	assert.False(t, found)

	result := &domain.BacktestResult{
		WindowStart:        time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		WindowEnd:          time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC),
		LookbackDays:       252,
		Confidence:         0.95,
		BreachCount:        13,
		ObservationCount:   250,
		BreachRate:         0.052,
		ExpectedBreachRate: 0.05,
		Passed:             true,
		KupiecLR:           0.021,
	}
	require.NoError(t, repo.SaveBacktest(result))

	got, found, err := repo.LatestBacktest()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 13, got.BreachCount)
	assert.Equal(t, 250, got.ObservationCount)
	assert.True(t, got.Passed)
	assert.InDelta(t, 0.052, got.BreachRate, 1e-12)
	assert.True(t, result.WindowStart.Equal(got.WindowStart))
}