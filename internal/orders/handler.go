package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/SaddamTechie/riziki-orders/internal/checkout"
	"github.com/SaddamTechie/riziki-orders/internal/domain"
	"github.com/SaddamTechie/riziki-orders/internal/inventory"
)

// CheckoutService turns a cart into a pending order.
type CheckoutService interface {
	Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error)
}

// OrderStore is the slice of the repository the handler needs.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	CancelAndRestock(ctx context.Context, id string) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

type Handler struct {
	svc       CheckoutService
	store     OrderStore
	publisher Publisher
	logger    *slog.Logger
}

func NewHandler(svc CheckoutService, store OrderStore, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.Checkout(r.Context(), req)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     stockErr.Error(),
			"available": stockErr.Available,
		})
	case errors.Is(err, inventory.ErrInsufficientStock):
		h.writeError(w, http.StatusBadRequest, "insufficient stock")
	case errors.Is(err, inventory.ErrVariantNotFound):
		h.writeError(w, http.StatusBadRequest, "unknown variant in cart")
	case errors.Is(err, checkout.ErrEmptyCart):
		h.writeError(w, http.StatusBadRequest, "cart is empty")
	case errors.Is(err, checkout.ErrEmailRequired):
		h.writeError(w, http.StatusBadRequest, "guest checkout requires an email")
	case errors.Is(err, checkout.ErrShippingIncomplete):
		h.writeError(w, http.StatusBadRequest, "shipping details are incomplete")
	default:
		h.logger.Error("checkout failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	orders, err := h.store.ListByUser(r.Context(), userID, 50)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

// HandleCancelOrder cancels an order that has not shipped yet and returns its
// stock to the ledger. Cancelling a terminal order is a conflict, not a
// no-op, so the client learns the state moved on without them.
func (h *Handler) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	cancelled, err := h.store.CancelAndRestock(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to cancel order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !cancelled {
		h.writeError(w, http.StatusConflict, "order can no longer be cancelled")
		return
	}

	order, err := h.store.GetByID(r.Context(), id)
	if err != nil || order == nil {
		h.logger.Error("failed to load cancelled order", "error", err, "order_id", id)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.OrderStatusCancelled)})
		return
	}

	h.publishCancelled(r.Context(), order)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) publishCancelled(ctx context.Context, order *domain.Order) {
	if h.publisher == nil {
		return
	}

	event := domain.OrderPaymentEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       order.GuestEmail,
		Status:      domain.OrderStatusCancelled,
		Currency:    order.Currency,
		Total:       order.Total,
		Timestamp:   time.Now().UTC(),
	}
	if err := h.publisher.Publish(ctx, domain.TopicOrderCancelled, order.ID, event); err != nil {
		h.logger.Error("failed to publish cancellation event", "error", err, "order_id", order.ID)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
