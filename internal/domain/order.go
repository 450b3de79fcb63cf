package domain

import (
	"crypto/rand"
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

// validNext holds the allowed forward transitions per status. Terminal
// statuses map to an empty set; orders are never deleted once terminal.
var validNext = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusPaymentPending, OrderStatusCancelled},
	OrderStatusPaymentPending: {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:        {OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusDelivered:      {},
	OrderStatusCancelled:      {},
	OrderStatusRefunded:       {},
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return len(validNext[s]) == 0
}

// StatusesInto lists every status that may transition into to. Repositories
// use it as the guard set for conditional status updates, so a replayed
// webhook or a racing verify poll degrades to zero rows affected.
func StatusesInto(to OrderStatus) []OrderStatus {
	var from []OrderStatus
	for s, nexts := range validNext {
		for _, next := range nexts {
			if next == to {
				from = append(from, s)
			}
		}
	}
	return from
}

type Order struct {
	ID              string      `json:"id"`
	OrderNumber     string      `json:"order_number"`
	UserID          string      `json:"user_id,omitempty"`
	GuestEmail      string      `json:"guest_email,omitempty"`
	Status          OrderStatus `json:"status"`
	Subtotal        int64       `json:"subtotal"`
	ShippingCost    int64       `json:"shipping_cost"`
	Discount        int64       `json:"discount"`
	Total           int64       `json:"total"`
	Currency        string      `json:"currency"`
	ShippingName    string      `json:"shipping_name"`
	ShippingPhone   string      `json:"shipping_phone"`
	ShippingAddress string      `json:"shipping_address"`
	ShippingCity    string      `json:"shipping_city"`
	ShippingCountry string      `json:"shipping_country"`
	PaymentProvider string      `json:"payment_provider,omitempty"`
	PaymentRef      string      `json:"payment_ref,omitempty"`
	PaidAt          *time.Time  `json:"paid_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Items           []OrderItem `json:"items,omitempty"`
}

// OrderItem is an immutable snapshot of what was sold, captured at
// order-creation time. Later catalog edits never change historical orders.
type OrderItem struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	VariantID    string `json:"variant_id"`
	ProductName  string `json:"product_name"`
	VariantSize  string `json:"variant_size,omitempty"`
	VariantColor string `json:"variant_color,omitempty"`
	SKU          string `json:"sku,omitempty"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	Subtotal     int64  `json:"subtotal"`
}

// CheckoutRequest carries everything needed to turn a cart into an order.
type CheckoutRequest struct {
	CartID          string `json:"cart_id"`
	UserID          string `json:"user_id,omitempty"`
	GuestEmail      string `json:"guest_email,omitempty"`
	ShippingName    string `json:"shipping_name"`
	ShippingPhone   string `json:"shipping_phone"`
	ShippingAddress string `json:"shipping_address"`
	ShippingCity    string `json:"shipping_city"`
	ShippingCountry string `json:"shipping_country"`
}

const orderNumberPrefix = "RZK"

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOrderNumber returns a human-readable order number such as
// RZK-20260830-K7F2QA. It doubles as the correlation key echoed back by the
// payment provider, so the random suffix comes from crypto/rand.
func NewOrderNumber(now time.Time) string {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		panic(fmt.Sprintf("order number entropy: %v", err))
	}
	for i, b := range suffix {
		suffix[i] = base36[int(b)%len(base36)]
	}
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.UTC().Format("20060102"), suffix)
}

// FormatAmount renders cents for humans, e.g. 150000 -> "KES 1500.00".
func FormatAmount(currency string, cents int64) string {
	return fmt.Sprintf("%s %d.%02d", currency, cents/100, cents%100)
}
