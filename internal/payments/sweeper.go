package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

type StaleLister interface {
	ListStalePaymentPending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// Sweeper is the safety net for lost webhooks: it periodically verifies
// orders that have sat in payment_pending too long and feeds the results
// through the reconciler, exactly as a webhook would have.
type Sweeper struct {
	orders      StaleLister
	provider    Provider
	reconciler  *Reconciler
	interval    time.Duration
	verifyAfter time.Duration
	logger      *slog.Logger
}

func NewSweeper(orders StaleLister, provider Provider, reconciler *Reconciler, interval, verifyAfter time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		orders:      orders,
		provider:    provider,
		reconciler:  reconciler,
		interval:    interval,
		verifyAfter: verifyAfter,
		logger:      logger,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("payment verify sweep started",
		"interval", s.interval.String(), "verify_after", s.verifyAfter.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("payment verify sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	before := time.Now().Add(-s.verifyAfter)
	stale, err := s.orders.ListStalePaymentPending(ctx, before, 100)
	if err != nil {
		s.logger.Error("failed to list stale orders", "error", err)
		return
	}

	for _, order := range stale {
		result, err := s.provider.Verify(ctx, order.PaymentRef)
		if err != nil {
			if errors.Is(err, ErrProviderUnavailable) {
				s.logger.Warn("provider unavailable, deferring sweep", "error", err)
				return
			}
			s.logger.Error("failed to verify payment", "error", err,
				"order_id", order.ID, "payment_ref", order.PaymentRef)
			continue
		}

		if result.Status == StatusPending {
			continue
		}

		s.logger.Info("sweep resolved stale payment",
			"order_id", order.ID, "order_number", order.OrderNumber, "status", result.Status)

		if err := s.reconciler.Apply(ctx, order.OrderNumber, result.Status); err != nil {
			s.logger.Error("failed to apply verified outcome", "error", err, "order_id", order.ID)
		}
	}
}
