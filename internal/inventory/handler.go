package inventory

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleListStock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.repo.ListStock(r.Context())
	if err != nil {
		h.logger.Error("failed to list stock", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, levels)
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	variantID := r.PathValue("variantId")
	if variantID == "" {
		h.writeError(w, http.StatusBadRequest, "missing variant id")
		return
	}

	stock, err := h.repo.GetStock(r.Context(), variantID)
	if err != nil {
		h.logger.Error("failed to get stock", "error", err, "variant_id", variantID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if stock == nil {
		h.writeError(w, http.StatusNotFound, "variant not found")
		return
	}

	h.writeJSON(w, http.StatusOK, stock)
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
