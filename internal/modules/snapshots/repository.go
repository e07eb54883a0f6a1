// Package snapshots caches computed risk reports with a TTL so repeated
// identical requests are served from the cache instead of recomputing, and
// persists nightly backtest runs.
package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/oiltrading/riskengine/internal/domain"
)

// Repository stores msgpack-encoded risk reports in the snapshots database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// CacheKey derives the cache lookup key for a calculation request. Two
// requests with the same key are interchangeable: same method, window,
// stress flag, seed and simulation count. Positions and prices are not part
// of the key; the TTL bounds how stale a served snapshot can be.
func CacheKey(req domain.CalculationRequest) string {
	return fmt.Sprintf("%s|%d|%t|%d|%d",
		req.Method, req.HistoricalDays, req.IncludeStressTests, req.Seed, req.Simulations)
}

// Save stores a computed risk report under its cache key with the given TTL.
func (r *Repository) Save(result *domain.RiskResult, paramsKey string, ttl time.Duration) error {
	payload, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.Exec(`
		INSERT INTO risk_snapshots (id, params_key, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), paramsKey, payload, now.UnixNano(), now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}

	r.log.Debug().
		Str("calculation_id", result.CalculationID).
		Str("params_key", paramsKey).
		Msg("Snapshot stored")
	return nil
}

// Latest returns the most recent unexpired snapshot for the cache key.
func (r *Repository) Latest(paramsKey string) (*domain.RiskResult, bool, error) {
	row := r.db.QueryRow(`
		SELECT payload FROM risk_snapshots
		WHERE params_key = ? AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		paramsKey, time.Now().UTC().UnixNano())
	return r.decodeSnapshot(row)
}

// LatestAny returns the most recent unexpired snapshot regardless of
// parameters, for summary views that just want the freshest report.
func (r *Repository) LatestAny() (*domain.RiskResult, bool, error) {
	row := r.db.QueryRow(`
		SELECT payload FROM risk_snapshots
		WHERE expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		time.Now().UTC().UnixNano())
	return r.decodeSnapshot(row)
}

func (r *Repository) decodeSnapshot(row *sql.Row) (*domain.RiskResult, bool, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading snapshot: %w", err)
	}

	var result domain.RiskResult
	if err := msgpack.Unmarshal(payload, &result); err != nil {
		return nil, false, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &result, true, nil
}

// SnapshotInfo pairs a stored report with its cache row metadata.
type SnapshotInfo struct {
	ID        string
	ParamsKey string
	CreatedAt time.Time
	ExpiresAt time.Time
	Result    *domain.RiskResult
}

// List returns the most recent snapshots, newest first, expired ones
// included. Rows whose payload no longer decodes are skipped.
func (r *Repository) List(limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(`
		SELECT id, params_key, payload, created_at, expires_at
		FROM risk_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	infos := make([]SnapshotInfo, 0, limit)
	for rows.Next() {
		var info SnapshotInfo
		var payload []byte
		var createdAt, expiresAt int64
		if err := rows.Scan(&info.ID, &info.ParamsKey, &payload, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("reading snapshot row: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		info.ExpiresAt = time.Unix(0, expiresAt).UTC()

		var result domain.RiskResult
		if err := msgpack.Unmarshal(payload, &result); err != nil {
			r.log.Warn().Err(err).Str("snapshot_id", info.ID).Msg("Skipping undecodable snapshot")
			continue
		}
		info.Result = &result
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DeleteExpired removes all snapshots whose TTL has passed and reports how
// many were swept.
func (r *Repository) DeleteExpired() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM risk_snapshots WHERE expires_at <= ?`,
		time.Now().UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweeping snapshots: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.log.Debug().Int64("deleted", deleted).Msg("Expired snapshots swept")
	}
	return deleted, nil
}

// Count returns the number of stored snapshots, expired ones included.
func (r *Repository) Count() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM risk_snapshots`).Scan(&count)
	return count, err
}

// SaveBacktest persists a backtest run.
func (r *Repository) SaveBacktest(result *domain.BacktestResult) error {
	payload, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding backtest: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO backtest_runs (id, window_start, window_end, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(),
		result.WindowStart.UTC().Unix(),
		result.WindowEnd.UTC().Unix(),
		payload,
		time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("storing backtest: %w", err)
	}
	return nil
}

// LatestBacktest returns the most recently stored backtest run.
func (r *Repository) LatestBacktest() (*domain.BacktestResult, bool, error) {
	var payload []byte
	err := r.db.QueryRow(`
		SELECT payload FROM backtest_runs
		ORDER BY created_at DESC, id DESC
		LIMIT 1`).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading backtest: %w", err)
	}

	var result domain.BacktestResult
	if err := msgpack.Unmarshal(payload, &result); err != nil {
		return nil, false, fmt.Errorf("decoding backtest: %w", err)
	}
	return &result, true, nil
}
