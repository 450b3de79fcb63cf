package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

// HandlerStore adds the initiation-side queries to the reconciler's store.
type HandlerStore interface {
	OrderStore
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	MarkPaymentPending(ctx context.Context, id, provider, paymentRef string) (bool, error)
}

type Handler struct {
	provider   Provider
	store      HandlerStore
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewHandler(provider Provider, store HandlerStore, reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{
		provider:   provider,
		store:      store,
		reconciler: reconciler,
		logger:     logger,
	}
}

type initializeRequest struct {
	OrderID     string `json:"order_id"`
	PhoneNumber string `json:"phone_number"`
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" || req.PhoneNumber == "" {
		h.writeError(w, http.StatusBadRequest, "order_id and phone_number are required")
		return
	}

	order, err := h.store.GetByID(r.Context(), req.OrderID)
	if err != nil {
		h.logger.Error("failed to load order", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusPaymentPending {
		h.writeError(w, http.StatusBadRequest, "order is not awaiting payment")
		return
	}

	result, err := h.provider.Initialize(r.Context(), InitParams{
		OrderNumber:  order.OrderNumber,
		AmountCents:  order.Total,
		Currency:     order.Currency,
		PhoneNumber:  req.PhoneNumber,
		Email:        order.GuestEmail,
		CustomerName: order.ShippingName,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrProviderUnavailable):
			h.logger.Error("payment provider unavailable", "error", err, "order_id", order.ID)
			h.writeError(w, http.StatusBadGateway, "payment provider unavailable")
		default:
			h.logger.Error("payment initialization failed", "error", err, "order_id", order.ID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	changed, err := h.store.MarkPaymentPending(r.Context(), order.ID, h.provider.Name(), result.ProviderRef)
	if err != nil {
		h.logger.Error("failed to record payment initiation", "error", err, "order_id", order.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !changed {
		// The order moved while the provider round-trip was in flight,
		// most likely a webhook confirmed it. The prompt on the buyer's
		// phone is now for an order that no longer wants payment.
		h.writeError(w, http.StatusBadRequest, "order is not awaiting payment")
		return
	}

	h.logger.Info("payment initialized",
		"order_id", order.ID, "order_number", order.OrderNumber,
		"provider", h.provider.Name(), "provider_ref", result.ProviderRef)

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order_id")
		return
	}

	order, err := h.store.GetByID(r.Context(), orderID)
	if err != nil {
		h.logger.Error("failed to load order", "error", err, "order_id", orderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if order.Status == domain.OrderStatusPaymentPending && order.PaymentRef != "" {
		result, err := h.provider.Verify(r.Context(), order.PaymentRef)
		if err != nil {
			if errors.Is(err, ErrProviderUnavailable) {
				h.writeError(w, http.StatusBadGateway, "payment provider unavailable")
				return
			}
			h.logger.Error("payment verification failed", "error", err, "order_id", order.ID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := h.reconciler.Apply(r.Context(), order.OrderNumber, result.Status); err != nil {
			h.logger.Error("failed to apply verified outcome", "error", err, "order_id", order.ID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		order, err = h.store.GetByID(r.Context(), orderID)
		if err != nil || order == nil {
			h.logger.Error("failed to reload order", "error", err, "order_id", orderID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"status":       order.Status,
	})
}

// HandleWebhook acknowledges every payload with 200. The provider retries
// on non-2xx and the guarded transitions make replays harmless, so there is
// nothing useful to tell it besides "received".
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read webhook body", "error", err)
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	result := h.provider.HandleWebhook(payload, r.Header.Get(h.provider.SignatureHeader()))
	h.reconciler.HandleCallback(r.Context(), result)

	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
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
