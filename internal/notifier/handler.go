package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

// Handler turns order lifecycle events into transactional emails. It is
// intentionally dumb: all state decisions happened upstream, the event says
// exactly which email to send.
type Handler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *Handler {
	return &Handler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

// HandleCreated acknowledges a freshly placed order that is awaiting payment.
func (h *Handler) HandleCreated(ctx context.Context, payload []byte) error {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order created event: %w", err)
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID, "order_number", event.OrderNumber)
	return nil
}

// HandlePaymentOutcome sends the confirmation or cancellation email for a
// settled payment. Events without a recipient are logged and skipped; a
// registered user's address lives outside this service.
func (h *Handler) HandlePaymentOutcome(ctx context.Context, payload []byte) error {
	var event domain.OrderPaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order payment event: %w", err)
	}

	h.logger.Info("processing payment outcome",
		"order_id", event.OrderID, "order_number", event.OrderNumber, "status", event.Status)

	if event.Email == "" {
		h.logger.Info("no recipient for order, skipping email", "order_id", event.OrderID)
		return nil
	}

	var subject, body string
	switch event.Status {
	case domain.OrderStatusConfirmed:
		subject = "Order Confirmed: " + event.OrderNumber
		body = fmt.Sprintf("Your payment of %s for order %s was received. We are preparing your items.",
			domain.FormatAmount(event.Currency, event.Total), event.OrderNumber)
	case domain.OrderStatusCancelled:
		subject = "Order Cancelled: " + event.OrderNumber
		body = fmt.Sprintf("Your order %s has been cancelled. Any reserved items have been returned to stock.",
			event.OrderNumber)
	default:
		h.logger.Warn("unexpected payment outcome status", "order_id", event.OrderID, "status", event.Status)
		return nil
	}

	if err := h.sendEmail(ctx, event.Email, subject, body); err != nil {
		h.logger.Error("failed to send email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send email for order %s: %w", event.OrderID, err)
	}

	h.logger.Info("email sent", "order_id", event.OrderID, "status", event.Status)
	return nil
}

func (h *Handler) sendEmail(ctx context.Context, to, subject, body string) error {
	data, err := json.Marshal(map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
