// Package positions stores the open derivative positions the risk engine
// reports on. The book is read fresh at the start of every calculation.
package positions

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oiltrading/riskengine/internal/domain"
)

// Repository handles position database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new position repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

const positionColumns = "id, product, direction, quantity, lot_size, entry_price, trade_date"

// GetAll returns all open positions
func (r *Repository) GetAll() ([]domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions ORDER BY id"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var result []domain.Position
	for rows.Next() {
		pos, err := r.scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		result = append(result, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return result, nil
}

// GetByProduct returns all open positions for one product
func (r *Repository) GetByProduct(product string) ([]domain.Position, error) {
	product = strings.ToUpper(strings.TrimSpace(product))

	query := "SELECT " + positionColumns + " FROM positions WHERE product = ? ORDER BY id"

	rows, err := r.db.Query(query, product)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions by product: %w", err)
	}
	defer rows.Close()

	var result []domain.Position
	for rows.Next() {
		pos, err := r.scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		result = append(result, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return result, nil
}

// GetByID returns a position by id, or nil when not found
func (r *Repository) GetByID(id int64) (*domain.Position, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE id = ?"

	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query position by id: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Position not found
	}

	pos, err := r.scanPosition(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}

	return &pos, nil
}

// Products returns the distinct products with open positions
func (r *Repository) Products() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT product FROM positions ORDER BY product")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
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

// GetCount returns the total number of open positions
func (r *Repository) GetCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM positions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get position count: %w", err)
	}

	return count, nil
}

// Add inserts a new position and returns its id
func (r *Repository) Add(pos domain.Position) (int64, error) {
	pos.Product = strings.ToUpper(strings.TrimSpace(pos.Product))
	if err := pos.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.Exec(`
		INSERT INTO positions (product, direction, quantity, lot_size, entry_price, trade_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		pos.Product,
		string(pos.Direction),
		pos.Quantity,
		pos.LotSize,
		pos.EntryPrice,
		pos.TradeDate.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted position id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().
		Int64("id", id).
		Str("product", pos.Product).
		Str("direction", string(pos.Direction)).
		Float64("quantity", pos.Quantity).
		Msg("Position added")

	return id, nil
}

// Delete removes a specific position by id
func (r *Repository) Delete(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.Exec("DELETE FROM positions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	r.log.Info().Int64("id", id).Int64("rows_affected", rowsAffected).Msg("Position deleted")
	return nil
}

// ReplaceAll swaps the whole book for a new set of positions in one
// transaction. Used by the seed tool; a half-written book is never visible.
func (r *Repository) ReplaceAll(positions []domain.Position) error {
	for _, pos := range positions {
		if err := pos.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM positions"); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO positions (product, direction, quantity, lot_size, entry_price, trade_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, pos := range positions {
		_, err = stmt.Exec(
			strings.ToUpper(strings.TrimSpace(pos.Product)),
			string(pos.Direction),
			pos.Quantity,
			pos.LotSize,
			pos.EntryPrice,
			pos.TradeDate.Unix(),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert position for %s: %w", pos.Product, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Warn().Int("count", len(positions)).Msg("Position book replaced")
	return nil
}

// scanPosition scans a database row into a domain.Position
func (r *Repository) scanPosition(rows *sql.Rows) (domain.Position, error) {
	var pos domain.Position
	var direction string
	var tradeDateUnix int64

	err := rows.Scan(
		&pos.ID,
		&pos.Product,
		&direction,
		&pos.Quantity,
		&pos.LotSize,
		&pos.EntryPrice,
		&tradeDateUnix,
	)
	if err != nil {
		return pos, err
	}

	pos.Direction = domain.Direction(direction)
	pos.TradeDate = time.Unix(tradeDateUnix, 0).UTC()
	pos.Product = strings.ToUpper(strings.TrimSpace(pos.Product))

	return pos, nil
}
