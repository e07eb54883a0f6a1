package positions

import "database/sql"

// PositionsSchema defines the positions table in positions.db.
// Timestamps are Unix seconds.
const PositionsSchema = `
CREATE TABLE IF NOT EXISTS positions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('Long', 'Short')),
    quantity REAL NOT NULL CHECK (quantity > 0),
    lot_size REAL NOT NULL CHECK (lot_size > 0),
    entry_price REAL NOT NULL CHECK (entry_price > 0),
    trade_date INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_product ON positions(product);
CREATE INDEX IF NOT EXISTS idx_positions_trade_date ON positions(trade_date);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(PositionsSchema)
	return err
}
