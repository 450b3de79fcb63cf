package domain

import "time"

const (
	TopicOrderCreated   = "order.created"
	TopicOrderConfirmed = "order.confirmed"
	TopicOrderCancelled = "order.cancelled"
)

type OrderCreatedEvent struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      string      `json:"user_id,omitempty"`
	Items       []OrderItem `json:"items"`
	Total       int64       `json:"total"`
	Timestamp   time.Time   `json:"timestamp"`
}

// OrderPaymentEvent announces the outcome of a payment attempt. Email is the
// notification recipient resolved at publish time (guest email for guest
// orders).
type OrderPaymentEvent struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	Email       string      `json:"email,omitempty"`
	Status      OrderStatus `json:"status"`
	Currency    string      `json:"currency"`
	Total       int64       `json:"total"`
	Timestamp   time.Time   `json:"timestamp"`
}
