package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrEmailRequired      = errors.New("guest checkout requires an email")
	ErrShippingIncomplete = errors.New("shipping details are incomplete")
)

// CartStore reads and clears carts. Prices never come from the cart; the
// checkout transaction re-reads them from the catalog.
type CartStore interface {
	Get(ctx context.Context, cartID string) (*domain.Cart, error)
	Clear(ctx context.Context, cartID string) error
}

// OrderCreator runs the reservation-and-create transaction.
type OrderCreator interface {
	CreateFromCart(ctx context.Context, req domain.CheckoutRequest, lines []domain.CartLine) (*domain.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Service orchestrates checkout: validate the request, load the cart, run
// the all-or-nothing create, then clear the cart and announce the order.
// The last two steps are best-effort; by then the order is durable.
type Service struct {
	carts     CartStore
	creator   OrderCreator
	publisher Publisher
	logger    *slog.Logger
}

func NewService(carts CartStore, creator OrderCreator, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		carts:     carts,
		creator:   creator,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error) {
	if req.UserID == "" && req.GuestEmail == "" {
		return nil, ErrEmailRequired
	}
	if req.ShippingName == "" || req.ShippingPhone == "" || req.ShippingAddress == "" {
		return nil, ErrShippingIncomplete
	}

	cart, err := s.carts.Get(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if cart == nil || len(cart.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	order, err := s.creator.CreateFromCart(ctx, req, cart.Lines)
	if err != nil {
		return nil, err
	}

	if err := s.carts.Clear(ctx, req.CartID); err != nil {
		s.logger.Warn("failed to clear cart after checkout", "error", err, "cart_id", req.CartID)
	}

	if s.publisher != nil {
		event := domain.OrderCreatedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Items:       order.Items,
			Total:       order.Total,
			Timestamp:   time.Now().UTC(),
		}
		if err := s.publisher.Publish(ctx, domain.TopicOrderCreated, order.ID, event); err != nil {
			s.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
		}
	}

	return order, nil
}
