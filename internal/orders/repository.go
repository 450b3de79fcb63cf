package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
	"github.com/SaddamTechie/riziki-orders/internal/inventory"
)

var ErrOrderNotFound = errors.New("order not found")

// InsufficientStockError names the blocking item so the storefront can show
// an actionable message.
type InsufficientStockError struct {
	ProductName string
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%q only has %d in stock", e.ProductName, e.Available)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateFromCart turns cart lines into a pending order. The stock decrements,
// the order row and the line-item snapshots commit in one transaction: either
// the order exists and stock is reserved, or neither happened. The first line
// that cannot be reserved aborts the whole attempt; rollback undoes every
// decrement taken so far.
func (r *Repository) CreateFromCart(ctx context.Context, req domain.CheckoutRequest, lines []domain.CartLine) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	order := &domain.Order{
		ID:              uuid.New().String(),
		OrderNumber:     domain.NewOrderNumber(now),
		UserID:          req.UserID,
		GuestEmail:      req.GuestEmail,
		Status:          domain.OrderStatusPending,
		Currency:        "KES",
		ShippingName:    req.ShippingName,
		ShippingPhone:   req.ShippingPhone,
		ShippingAddress: req.ShippingAddress,
		ShippingCity:    req.ShippingCity,
		ShippingCountry: req.ShippingCountry,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, line := range lines {
		if err := inventory.ReserveTx(ctx, tx, line.VariantID, line.Quantity); err != nil {
			if errors.Is(err, inventory.ErrInsufficientStock) {
				return nil, r.insufficientStock(ctx, tx, line.VariantID)
			}
			return nil, err
		}

		item := domain.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		}
		err := tx.QueryRowContext(ctx, `
			SELECT product_name, size, color, sku, price
			FROM variants
			WHERE id = $1
		`, line.VariantID).Scan(&item.ProductName, &item.VariantSize, &item.VariantColor, &item.SKU, &item.UnitPrice)
		if err != nil {
			return nil, err
		}

		item.Subtotal = item.UnitPrice * int64(item.Quantity)
		order.Subtotal += item.Subtotal
		order.Items = append(order.Items, item)
	}

	order.Total = order.Subtotal + order.ShippingCost - order.Discount

	var userID, guestEmail any
	if order.UserID != "" {
		userID = order.UserID
	}
	if order.GuestEmail != "" {
		guestEmail = order.GuestEmail
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, guest_email, status,
			subtotal, shipping_cost, discount, total, currency,
			shipping_name, shipping_phone, shipping_address, shipping_city, shipping_country,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, order.ID, order.OrderNumber, userID, guestEmail, order.Status,
		order.Subtotal, order.ShippingCost, order.Discount, order.Total, order.Currency,
		order.ShippingName, order.ShippingPhone, order.ShippingAddress, order.ShippingCity, order.ShippingCountry,
		order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, variant_id, product_name, variant_size, variant_color, sku, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, item.ID, item.OrderID, item.VariantID, item.ProductName, item.VariantSize, item.VariantColor, item.SKU, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

// insufficientStock builds the user-facing error for a failed reservation.
// The read runs in the same transaction, after the failed conditional update,
// so the reported availability is what the buyer actually lost to.
func (r *Repository) insufficientStock(ctx context.Context, tx *sql.Tx, variantID string) error {
	var name string
	var stock int
	err := tx.QueryRowContext(ctx, `
		SELECT product_name, stock FROM variants WHERE id = $1
	`, variantID).Scan(&name, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", inventory.ErrVariantNotFound, variantID)
	}
	if err != nil {
		return err
	}
	return &InsufficientStockError{ProductName: name, Available: stock}
}

const orderColumns = `
	id, order_number, COALESCE(user_id, ''), COALESCE(guest_email, ''), status,
	subtotal, shipping_cost, discount, total, currency,
	shipping_name, shipping_phone, shipping_address, shipping_city, shipping_country,
	payment_provider, payment_ref, paid_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	order := &domain.Order{}
	var paidAt sql.NullTime

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.GuestEmail, &order.Status,
		&order.Subtotal, &order.ShippingCost, &order.Discount, &order.Total, &order.Currency,
		&order.ShippingName, &order.ShippingPhone, &order.ShippingAddress, &order.ShippingCity, &order.ShippingCountry,
		&order.PaymentProvider, &order.PaymentRef, &paidAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}
	return order, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

// GetByOrderNumber resolves the provider's correlation key: the provider only
// ever sees the order number handed to it at initiation.
func (r *Repository) GetByOrderNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getBy(ctx, "order_number", number)
}

// GetByReference matches a provider callback to an order. Callbacks carry
// either the account reference (our order number) or the provider's own
// request id (stored as payment_ref at initiation), so both are tried.
func (r *Repository) GetByReference(ctx context.Context, ref string) (*domain.Order, error) {
	order, err := r.getBy(ctx, "order_number", ref)
	if err != nil || order != nil {
		return order, err
	}
	return r.getBy(ctx, "payment_ref", ref)
}

func (r *Repository) getBy(ctx context.Context, column, value string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, COALESCE(variant_id, ''), product_name, variant_size, variant_color, sku, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.VariantID, &item.ProductName, &item.VariantSize, &item.VariantColor, &item.SKU, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	return orders, rows.Err()
}

// MarkPaymentPending records a payment initiation. Re-initiation after a
// provider hiccup is allowed, so payment_pending itself stays in the guard
// set and only the reference is refreshed.
func (r *Repository) MarkPaymentPending(ctx context.Context, id, provider, paymentRef string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, payment_provider = $3, payment_ref = $4, updated_at = now()
		WHERE id = $1 AND status = ANY($5)
	`, id, domain.OrderStatusPaymentPending, provider, paymentRef,
		pq.Array([]string{string(domain.OrderStatusPending), string(domain.OrderStatusPaymentPending)}))
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// Confirm applies the success transition idempotently: replayed webhooks find
// the order already confirmed, match zero rows and report changed=false.
func (r *Repository) Confirm(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, paid_at = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($4)
	`, id, domain.OrderStatusConfirmed, paidAt, statusArray(domain.StatusesInto(domain.OrderStatusConfirmed)))
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// CancelUnpaid applies the payment-failure transition idempotently: only an
// order still in payment_pending is cancelled and restocked. A failure
// callback that loses the race against a confirmation matches zero rows and
// reports changed=false, so a paid order is never unwound by a late or
// replayed webhook.
func (r *Repository) CancelUnpaid(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, domain.OrderStatusCancelled, domain.OrderStatusPaymentPending)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	if err := restockItems(ctx, tx, id); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// CancelAndRestock cancels a non-terminal order and returns its line
// quantities to the ledger in the same transaction. Orders already handed to
// the carrier keep their decrement; the goods left the building.
func (r *Repository) CancelAndRestock(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var status domain.OrderStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrOrderNotFound
	}
	if err != nil {
		return false, err
	}

	if !domain.CanTransition(status, domain.OrderStatusCancelled) {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = now() WHERE id = $1
	`, id, domain.OrderStatusCancelled)
	if err != nil {
		return false, err
	}

	if status != domain.OrderStatusShipped {
		if err := restockItems(ctx, tx, id); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func restockItems(ctx context.Context, tx *sql.Tx, orderID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT COALESCE(variant_id, ''), quantity FROM order_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return err
	}

	type line struct {
		variantID string
		quantity  int
	}
	var restock []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.variantID, &l.quantity); err != nil {
			_ = rows.Close()
			return err
		}
		if l.variantID != "" {
			restock = append(restock, l)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, l := range restock {
		if err := inventory.ReleaseTx(ctx, tx, l.variantID, l.quantity); err != nil {
			return err
		}
	}
	return nil
}

// ListStalePaymentPending feeds the verify-fallback sweep: orders that
// initiated a payment but never heard back from the provider.
func (r *Repository) ListStalePaymentPending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND payment_ref <> '' AND updated_at < $2
		 ORDER BY updated_at
		 LIMIT $3`,
		domain.OrderStatusPaymentPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	return orders, rows.Err()
}

func statusArray(statuses []domain.OrderStatus) any {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}
