package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVariantNotFound   = errors.New("variant not found")
)

// Repository is the inventory ledger: the only writer of the stock column.
// All decrements go through a conditional update so the database serializes
// concurrent buyers of the last unit.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ReserveTx decrements stock for one variant if enough remains, within the
// caller's transaction. Zero rows affected means another buyer got there
// first (or the quantity never fit): ErrInsufficientStock.
func ReserveTx(ctx context.Context, tx execer, variantID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %d for variant %s", quantity, variantID)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE variants
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
	`, variantID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInsufficientStock
	}

	return nil
}

// ReleaseTx is the compensating increment, used when an order that already
// decremented stock is cancelled.
func ReleaseTx(ctx context.Context, tx execer, variantID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid quantity %d for variant %s", quantity, variantID)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE variants
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
	`, variantID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrVariantNotFound
	}

	return nil
}

func (r *Repository) Reserve(ctx context.Context, variantID string, quantity int) error {
	return ReserveTx(ctx, r.db, variantID, quantity)
}

func (r *Repository) Release(ctx context.Context, variantID string, quantity int) error {
	return ReleaseTx(ctx, r.db, variantID, quantity)
}

func (r *Repository) GetStock(ctx context.Context, variantID string) (*domain.StockLevel, error) {
	stock := &domain.StockLevel{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, stock
		FROM variants
		WHERE id = $1
	`, variantID).Scan(&stock.VariantID, &stock.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return stock, nil
}

func (r *Repository) ListStock(ctx context.Context) ([]domain.StockLevel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, stock
		FROM variants
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var levels []domain.StockLevel
	for rows.Next() {
		var stock domain.StockLevel
		if err := rows.Scan(&stock.VariantID, &stock.Stock); err != nil {
			return nil, err
		}
		levels = append(levels, stock)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return levels, nil
}
