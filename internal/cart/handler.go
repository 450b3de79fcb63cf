package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

// Carts is what the HTTP layer needs from the store.
type Carts interface {
	Get(ctx context.Context, cartID string) (*domain.Cart, error)
	AddItem(ctx context.Context, cartID, variantID string, quantity int) (*domain.Cart, error)
	UpdateItem(ctx context.Context, cartID, variantID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, cartID, variantID string) (*domain.Cart, error)
	Clear(ctx context.Context, cartID string) error
}

type Handler struct {
	carts  Carts
	logger *slog.Logger
}

func NewHandler(carts Carts, logger *slog.Logger) *Handler {
	return &Handler{
		carts:  carts,
		logger: logger,
	}
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")
	if cartID == "" {
		h.writeError(w, http.StatusBadRequest, "missing cart id")
		return
	}

	cart, err := h.carts.Get(r.Context(), cartID)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err, "cart_id", cartID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if cart == nil {
		cart = &domain.Cart{ID: cartID}
	}

	h.writeJSON(w, http.StatusOK, cart)
}

type itemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VariantID == "" {
		h.writeError(w, http.StatusBadRequest, "missing variant_id")
		return
	}
	if req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	cart, err := h.carts.AddItem(r.Context(), cartID, req.VariantID, req.Quantity)
	if err != nil {
		h.logger.Error("failed to add cart item", "error", err, "cart_id", cartID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")
	variantID := r.PathValue("variantId")

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity < 0 {
		h.writeError(w, http.StatusBadRequest, "quantity must not be negative")
		return
	}

	cart, err := h.carts.UpdateItem(r.Context(), cartID, variantID, req.Quantity)
	if err != nil {
		if errors.Is(err, ErrLineNotFound) {
			h.writeError(w, http.StatusNotFound, "item not in cart")
			return
		}
		h.logger.Error("failed to update cart item", "error", err, "cart_id", cartID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")
	variantID := r.PathValue("variantId")

	cart, err := h.carts.RemoveItem(r.Context(), cartID, variantID)
	if err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "cart_id", cartID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleClearCart(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")

	if err := h.carts.Clear(r.Context(), cartID); err != nil {
		h.logger.Error("failed to clear cart", "error", err, "cart_id", cartID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
