package marketdata

import "database/sql"

// MarketDataSchema defines the daily_prices table in market.db
const MarketDataSchema = `
CREATE TABLE IF NOT EXISTS daily_prices (
    product TEXT NOT NULL,
    date TEXT NOT NULL,
    open REAL,
    high REAL,
    low REAL,
    close REAL NOT NULL,
    volume INTEGER,
    currency TEXT NOT NULL DEFAULT 'USD',
    unit TEXT NOT NULL DEFAULT 'BBL',
    source TEXT NOT NULL DEFAULT 'generated',
    created_at TEXT NOT NULL,
    PRIMARY KEY (product, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(MarketDataSchema)
	return err
}
