package payments

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
)

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*domain.Order // keyed by order number and payment ref
}

func newFakeOrderStore(orders ...*domain.Order) *fakeOrderStore {
	f := &fakeOrderStore{orders: map[string]*domain.Order{}}
	for _, o := range orders {
		f.orders[o.OrderNumber] = o
		if o.PaymentRef != "" {
			f.orders[o.PaymentRef] = o
		}
	}
	return f
}

func (f *fakeOrderStore) GetByReference(_ context.Context, ref string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[ref], nil
}

func (f *fakeOrderStore) Confirm(_ context.Context, id string, paidAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			if !domain.CanTransition(o.Status, domain.OrderStatusConfirmed) {
				return false, nil
			}
			o.Status = domain.OrderStatusConfirmed
			o.PaidAt = &paidAt
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOrderStore) CancelUnpaid(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			if o.Status != domain.OrderStatusPaymentPending {
				return false, nil
			}
			o.Status = domain.OrderStatusCancelled
			return true, nil
		}
	}
	return false, nil
}

func paymentPendingOrder() *domain.Order {
	return &domain.Order{
		ID:          "order-1",
		OrderNumber: "RZK-20260830-ABC123",
		GuestEmail:  "buyer@example.com",
		Status:      domain.OrderStatusPaymentPending,
		PaymentRef:  "ws_CO_123",
		Currency:    "KES",
		Total:       150000,
	}
}

func newTestReconciler(store OrderStore, publisher Publisher) *Reconciler {
	return NewReconciler(store, publisher, slog.New(slog.DiscardHandler))
}

type capturingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []domain.OrderPaymentEvent
}

func (c *capturingPublisher) Publish(_ context.Context, topic, _ string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	if e, ok := payload.(domain.OrderPaymentEvent); ok {
		c.events = append(c.events, e)
	}
	return nil
}

func TestApplyPaidConfirmsOrder(t *testing.T) {
	order := paymentPendingOrder()
	store := newFakeOrderStore(order)
	publisher := &capturingPublisher{}
	r := newTestReconciler(store, publisher)

	if err := r.Apply(context.Background(), order.OrderNumber, StatusPaid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected confirmed, got %s", order.Status)
	}
	if order.PaidAt == nil {
		t.Error("expected paid_at set")
	}
	if len(publisher.topics) != 1 || publisher.topics[0] != domain.TopicOrderConfirmed {
		t.Errorf("expected one %s event, got %v", domain.TopicOrderConfirmed, publisher.topics)
	}
	if publisher.events[0].Email != "buyer@example.com" {
		t.Errorf("event should carry the guest email, got %q", publisher.events[0].Email)
	}
}

func TestApplyPaidIsIdempotent(t *testing.T) {
	order := paymentPendingOrder()
	store := newFakeOrderStore(order)
	publisher := &capturingPublisher{}
	r := newTestReconciler(store, publisher)

	for i := 0; i < 3; i++ {
		if err := r.Apply(context.Background(), order.OrderNumber, StatusPaid); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected confirmed, got %s", order.Status)
	}
	if len(publisher.topics) != 1 {
		t.Errorf("replays must not publish again, got %d events", len(publisher.topics))
	}
}

func TestApplyFailedCancelsOrder(t *testing.T) {
	order := paymentPendingOrder()
	store := newFakeOrderStore(order)
	publisher := &capturingPublisher{}
	r := newTestReconciler(store, publisher)

	if err := r.Apply(context.Background(), order.OrderNumber, StatusFailed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Status != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", order.Status)
	}
	if len(publisher.topics) != 1 || publisher.topics[0] != domain.TopicOrderCancelled {
		t.Errorf("expected one %s event, got %v", domain.TopicOrderCancelled, publisher.topics)
	}
}

func TestApplyFailureAfterSettlementIsIgnored(t *testing.T) {
	settled := []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}

	for _, status := range settled {
		t.Run(string(status), func(t *testing.T) {
			order := paymentPendingOrder()
			order.Status = status
			store := newFakeOrderStore(order)
			publisher := &capturingPublisher{}
			r := newTestReconciler(store, publisher)

			if err := r.Apply(context.Background(), order.OrderNumber, StatusFailed); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if order.Status != status {
				t.Errorf("a late failure must not move a %s order, got %s", status, order.Status)
			}
			if len(publisher.topics) != 0 {
				t.Errorf("no event expected, got %v", publisher.topics)
			}
		})
	}
}

func TestApplyResolvesPaymentRef(t *testing.T) {
	order := paymentPendingOrder()
	store := newFakeOrderStore(order)
	r := newTestReconciler(store, &capturingPublisher{})

	if err := r.Apply(context.Background(), order.PaymentRef, StatusPaid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected confirmed via payment ref lookup, got %s", order.Status)
	}
}

func TestApplyUnknownReference(t *testing.T) {
	store := newFakeOrderStore()
	r := newTestReconciler(store, &capturingPublisher{})

	if err := r.Apply(context.Background(), "RZK-20260830-NOPE00", StatusPaid); err != nil {
		t.Fatalf("unknown reference must not error, got %v", err)
	}
}

func TestApplyPendingIsNoop(t *testing.T) {
	order := paymentPendingOrder()
	store := newFakeOrderStore(order)
	r := newTestReconciler(store, &capturingPublisher{})

	if err := r.Apply(context.Background(), order.OrderNumber, StatusPending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusPaymentPending {
		t.Errorf("pending outcome must not move the order, got %s", order.Status)
	}
}

func TestHandleCallbackWithoutReference(t *testing.T) {
	store := newFakeOrderStore()
	r := newTestReconciler(store, &capturingPublisher{})

	// Must not panic or error; the endpoint acks regardless.
	r.HandleCallback(context.Background(), WebhookResult{Status: StatusPending})
}
