package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

// OrderStore is the slice of the orders repository the reconciler drives.
// Confirm and CancelUnpaid are guarded transitions: a replay that finds the
// order already moved reports changed=false instead of failing. CancelUnpaid
// only fires on payment_pending, so a failure outcome that arrives after a
// confirmation never unwinds a paid order.
type OrderStore interface {
	GetByReference(ctx context.Context, ref string) (*domain.Order, error)
	Confirm(ctx context.Context, id string, paidAt time.Time) (bool, error)
	CancelUnpaid(ctx context.Context, id string) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// Reconciler folds provider outcomes, from webhooks or verify polls, into
// order state. It is the only component that moves orders out of
// payment_pending.
type Reconciler struct {
	store     OrderStore
	publisher Publisher
	logger    *slog.Logger
}

func NewReconciler(store OrderStore, publisher Publisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// HandleCallback applies a webhook result and swallows every failure. The
// webhook endpoint acknowledges no matter what; a dropped outcome is picked
// up later by the verify sweep.
func (r *Reconciler) HandleCallback(ctx context.Context, result WebhookResult) {
	if result.OrderRef == "" {
		r.logger.Warn("callback without order reference", "status", result.Status, "detail", result.Detail)
		return
	}

	if err := r.Apply(ctx, result.OrderRef, result.Status); err != nil {
		r.logger.Error("failed to apply callback", "error", err,
			"order_ref", result.OrderRef, "status", result.Status)
	}
}

// Apply moves the referenced order according to the payment outcome. Unknown
// references and pending outcomes are no-ops.
func (r *Reconciler) Apply(ctx context.Context, orderRef string, status Status) error {
	if status == StatusPending {
		return nil
	}

	order, err := r.store.GetByReference(ctx, orderRef)
	if err != nil {
		return err
	}
	if order == nil {
		r.logger.Warn("payment outcome for unknown order", "order_ref", orderRef, "status", status)
		return nil
	}

	switch status {
	case StatusPaid:
		changed, err := r.store.Confirm(ctx, order.ID, time.Now().UTC())
		if err != nil {
			return err
		}
		if !changed {
			r.logger.Info("payment outcome already applied", "order_id", order.ID, "status", order.Status)
			return nil
		}
		r.publish(ctx, order, domain.TopicOrderConfirmed, domain.OrderStatusConfirmed)

	case StatusFailed:
		changed, err := r.store.CancelUnpaid(ctx, order.ID)
		if err != nil {
			return err
		}
		if !changed {
			r.logger.Info("payment failure ignored, order already moved", "order_id", order.ID, "status", order.Status)
			return nil
		}
		r.publish(ctx, order, domain.TopicOrderCancelled, domain.OrderStatusCancelled)
	}

	return nil
}

func (r *Reconciler) publish(ctx context.Context, order *domain.Order, topic string, status domain.OrderStatus) {
	if r.publisher == nil {
		return
	}

	event := domain.OrderPaymentEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       order.GuestEmail,
		Status:      status,
		Currency:    order.Currency,
		Total:       order.Total,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.publisher.Publish(ctx, topic, order.ID, event); err != nil {
		r.logger.Error("failed to publish payment event", "error", err, "order_id", order.ID, "topic", topic)
	}
}
