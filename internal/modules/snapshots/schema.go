package snapshots

import "database/sql"

// SnapshotsSchema defines the risk snapshot cache tables. Payloads are
// msgpack-encoded RiskResult documents; rows expire by wall clock and are
// swept by the scheduler's cleanup job.
const SnapshotsSchema = `
CREATE TABLE IF NOT EXISTS risk_snapshots (
    id         TEXT PRIMARY KEY,
    params_key TEXT NOT NULL,
    payload    BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_snapshots_params
    ON risk_snapshots(params_key, expires_at);

CREATE INDEX IF NOT EXISTS idx_risk_snapshots_expiry
    ON risk_snapshots(expires_at);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id           TEXT PRIMARY KEY,
    window_start INTEGER NOT NULL,
    window_end   INTEGER NOT NULL,
    payload      BLOB NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_backtest_runs_created
    ON backtest_runs(created_at);
`

// InitSchema creates the snapshot tables if they do not exist.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(SnapshotsSchema)
	return err
}
