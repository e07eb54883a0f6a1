package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/oiltrading/riskengine/internal/domain"
	"github.com/oiltrading/riskengine/internal/modules/snapshots"
)

// stubRefresher stands in for the scheduler's snapshot job: each Run stores
// one snapshot.
type stubRefresher struct {
	repo *snapshots.Repository
	err  error
	runs int
}

func (s *stubRefresher) Run() error {
	if s.err != nil {
		return s.err
	}
	s.runs++
	return s.repo.Save(&domain.RiskResult{
		CalculationID:       "manual-run",
		CalculationDate:     time.Now().UTC(),
		Method:              domain.MethodFull,
		TotalPortfolioValue: 8_550_000,
		PositionCount:       2,
	}, "full|252|true|42|100000", 5*time.Minute)
}

func setupTestHandler(t *testing.T) (*Handler, *snapshots.Repository, *stubRefresher) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, snapshots.InitSchema(db))

	repo := snapshots.NewRepository(db, zerolog.Nop())
	refresher := &stubRefresher{repo: repo}
	return NewHandler(repo, refresher, zerolog.Nop()), repo, refresher
}

func storedResult(id string) *domain.RiskResult {
	return &domain.RiskResult{
		CalculationID:       id,
		CalculationDate:     time.Now().UTC(),
		Method:              domain.MethodFull,
		TotalPortfolioValue: 8_550_000,
		PositionCount:       2,
		HistoricalVaR95:     125_000,
	}
}

func TestHandleList_Empty(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	rec := httptest.NewRecorder()
	handler.HandleList(rec, httptest.NewRequest(http.MethodGet, "/risk/snapshots", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["count"])
	assert.Empty(t, data["snapshots"])
}

func TestHandleList_NewestFirst(t *testing.T) {
	handler, repo, _ := setupTestHandler(t)
	require.NoError(t, repo.Save(storedResult("older"), "k", 5*time.Minute))
	require.NoError(t, repo.Save(storedResult("newer"), "k", 5*time.Minute))

	rec := httptest.NewRecorder()
	handler.HandleList(rec, httptest.NewRequest(http.MethodGet, "/risk/snapshots?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]interface{})
	require.Equal(t, float64(2), data["count"])

	items := data["snapshots"].([]interface{})
	first := items[0].(map[string]interface{})
	assert.Equal(t, "newer", first["calculationId"])
	assert.Equal(t, false, first["expired"])
	assert.InDelta(t, 8_550_000, first["totalPortfolioValue"].(float64), 1e-9)
}

func TestHandleList_BadLimit(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	for _, raw := range []string{"abc", "0", "-5", "9999"} {
		rec := httptest.NewRecorder()
		handler.HandleList(rec, httptest.NewRequest(http.MethodGet, "/risk/snapshots?limit="+raw, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", raw)
	}
}

func TestHandleRunNow(t *testing.T) {
	handler, _, refresher := setupTestHandler(t)

	rec := httptest.NewRecorder()
	handler.HandleRunNow(rec, httptest.NewRequest(http.MethodPost, "/risk/snapshots/run", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, refresher.runs)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "manual-run", data["calculationId"])
}

func TestHandleRunNow_NoRefresher(t *testing.T) {
	_, repo, _ := setupTestHandler(t)
	handler := NewHandler(repo, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	handler.HandleRunNow(rec, httptest.NewRequest(http.MethodPost, "/risk/snapshots/run", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleRunNow_Failure(t *testing.T) {
	handler, _, refresher := setupTestHandler(t)
	refresher.err = errors.New("book unavailable")

	rec := httptest.NewRecorder()
	handler.HandleRunNow(rec, httptest.NewRequest(http.MethodPost, "/risk/snapshots/run", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleLatestBacktest_NotFound(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	rec := httptest.NewRecorder()
	handler.HandleLatestBacktest(rec, httptest.NewRequest(http.MethodGet, "/risk/snapshots/backtest", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLatestBacktest(t *testing.T) {
	handler, repo, _ := setupTestHandler(t)
	require.NoError(t, repo.SaveBacktest(&domain.BacktestResult{
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
	}))

	rec := httptest.NewRecorder()
	handler.HandleLatestBacktest(rec, httptest.NewRequest(http.MethodGet, "/risk/snapshots/backtest", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(13), data["breachCount"])
	assert.Equal(t, float64(250), data["observationCount"])
	assert.Equal(t, true, data["passed"])
}
