//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/SaddamTechie/riziki-orders/internal/checkout"
	"github.com/SaddamTechie/riziki-orders/internal/domain"
	"github.com/SaddamTechie/riziki-orders/internal/messaging"
	"github.com/SaddamTechie/riziki-orders/internal/orders"
	"github.com/SaddamTechie/riziki-orders/internal/payments"
)

func seedVariant(t *testing.T, db *sql.DB, id, name string, price int64, stock int) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO variants (id, product_name, size, color, sku, price, stock)
		VALUES ($1, $2, 'M', 'black', $1, $3, $4)
	`, id, name, price, stock)
	if err != nil {
		t.Fatalf("failed to seed variant %s: %v", id, err)
	}
}

func variantStock(t *testing.T, db *sql.DB, id string) int {
	t.Helper()
	var stock int
	if err := db.QueryRow(`SELECT stock FROM variants WHERE id = $1`, id).Scan(&stock); err != nil {
		t.Fatalf("failed to read stock for %s: %v", id, err)
	}
	return stock
}

type memCartStore struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

func newMemCartStore(carts ...*domain.Cart) *memCartStore {
	s := &memCartStore{carts: map[string]*domain.Cart{}}
	for _, c := range carts {
		s.carts[c.ID] = c
	}
	return s
}

func (s *memCartStore) Get(_ context.Context, cartID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[cartID], nil
}

func (s *memCartStore) Clear(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, cartID)
	return nil
}

func checkoutRequest(cartID string) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		CartID:          cartID,
		GuestEmail:      "buyer@example.com",
		ShippingName:    "Jane Wanjiku",
		ShippingPhone:   "254712345678",
		ShippingAddress: "1 Moi Avenue",
		ShippingCity:    "Nairobi",
		ShippingCountry: "KE",
	}
}

func TestCheckoutReservesStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db := OpenDB(t, pg.ConnStr)
	seedVariant(t, db, "v-shirt", "Linen Shirt", 250000, 10)
	seedVariant(t, db, "v-jeans", "Slim Jeans", 380000, 4)

	repo := orders.NewRepository(db)
	carts := newMemCartStore(&domain.Cart{ID: "cart-1", Lines: []domain.CartLine{
		{VariantID: "v-shirt", Quantity: 2},
		{VariantID: "v-jeans", Quantity: 1},
	}})
	svc := checkout.NewService(carts, repo, nil, slog.Default())

	order, err := svc.Checkout(ctx, checkoutRequest("cart-1"))
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Errorf("expected pending order, got %s", order.Status)
	}
	if order.Subtotal != 2*250000+380000 {
		t.Errorf("unexpected subtotal %d", order.Subtotal)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}

	if got := variantStock(t, db, "v-shirt"); got != 8 {
		t.Errorf("expected shirt stock 8, got %d", got)
	}
	if got := variantStock(t, db, "v-jeans"); got != 3 {
		t.Errorf("expected jeans stock 3, got %d", got)
	}

	if cart, _ := carts.Get(ctx, "cart-1"); cart != nil {
		t.Error("expected cart cleared after checkout")
	}

	fetched, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if fetched == nil || fetched.OrderNumber != order.OrderNumber {
		t.Errorf("persisted order mismatch: %+v", fetched)
	}
	if len(fetched.Items) != 2 {
		t.Errorf("expected 2 persisted items, got %d", len(fetched.Items))
	}
}

func TestCheckoutRollsBackOnInsufficientStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db := OpenDB(t, pg.ConnStr)
	seedVariant(t, db, "v-shirt", "Linen Shirt", 250000, 10)
	seedVariant(t, db, "v-jeans", "Slim Jeans", 380000, 1)

	repo := orders.NewRepository(db)
	carts := newMemCartStore(&domain.Cart{ID: "cart-1", Lines: []domain.CartLine{
		{VariantID: "v-shirt", Quantity: 2},
		{VariantID: "v-jeans", Quantity: 3},
	}})
	svc := checkout.NewService(carts, repo, nil, slog.Default())

	_, err := svc.Checkout(ctx, checkoutRequest("cart-1"))
	var stockErr *orders.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductName != "Slim Jeans" || stockErr.Available != 1 {
		t.Errorf("unexpected error detail: %+v", stockErr)
	}

	// The shirt decrement must have rolled back with the transaction.
	if got := variantStock(t, db, "v-shirt"); got != 10 {
		t.Errorf("expected shirt stock back at 10, got %d", got)
	}
	if got := variantStock(t, db, "v-jeans"); got != 1 {
		t.Errorf("expected jeans stock untouched at 1, got %d", got)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no orders after failed checkout, got %d", count)
	}

	if cart, _ := carts.Get(ctx, "cart-1"); cart == nil {
		t.Error("cart must survive a failed checkout")
	}
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db := OpenDB(t, pg.ConnStr)
	seedVariant(t, db, "v-drop", "Limited Hoodie", 500000, 5)

	repo := orders.NewRepository(db)

	const buyers = 10
	var wg sync.WaitGroup
	results := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateFromCart(ctx, checkoutRequest("cart"), []domain.CartLine{
				{VariantID: "v-drop", Quantity: 1},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			var stockErr *orders.InsufficientStockError
			if !errors.As(err, &stockErr) {
				t.Errorf("unexpected error: %v", err)
				continue
			}
			conflicted++
		}
	}

	if succeeded != 5 || conflicted != 5 {
		t.Errorf("expected 5 successes and 5 conflicts, got %d and %d", succeeded, conflicted)
	}
	if got := variantStock(t, db, "v-drop"); got != 0 {
		t.Errorf("expected stock 0, got %d", got)
	}
}

func TestWebhookConfirmationIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db := OpenDB(t, pg.ConnStr)
	seedVariant(t, db, "v-shirt", "Linen Shirt", 250000, 10)

	repo := orders.NewRepository(db)
	order, err := repo.CreateFromCart(ctx, checkoutRequest("cart"), []domain.CartLine{
		{VariantID: "v-shirt", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := repo.MarkPaymentPending(ctx, order.ID, "daraja", "ws_CO_1"); err != nil {
		t.Fatalf("mark payment pending: %v", err)
	}

	reconciler := payments.NewReconciler(repo, nil, slog.Default())

	for i := 0; i < 3; i++ {
		if err := reconciler.Apply(ctx, order.OrderNumber, payments.StatusPaid); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	fetched, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("fetch order: %v", err)
	}
	if fetched.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected confirmed, got %s", fetched.Status)
	}
	if fetched.PaidAt == nil {
		t.Error("expected paid_at set")
	}

	// A late failure callback must not unwind the confirmation.
	if err := reconciler.Apply(ctx, order.OrderNumber, payments.StatusFailed); err != nil {
		t.Fatalf("late failure: %v", err)
	}
	fetched, _ = repo.GetByID(ctx, order.ID)
	if fetched.Status != domain.OrderStatusConfirmed {
		t.Errorf("late failure flipped status to %s", fetched.Status)
	}
	if got := variantStock(t, db, "v-shirt"); got != 9 {
		t.Errorf("stock must stay reserved for a confirmed order, got %d", got)
	}
}

func TestFailedPaymentRestocks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db := OpenDB(t, pg.ConnStr)
	seedVariant(t, db, "v-shirt", "Linen Shirt", 250000, 10)

	repo := orders.NewRepository(db)
	order, err := repo.CreateFromCart(ctx, checkoutRequest("cart"), []domain.CartLine{
		{VariantID: "v-shirt", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := repo.MarkPaymentPending(ctx, order.ID, "daraja", "ws_CO_1"); err != nil {
		t.Fatalf("mark payment pending: %v", err)
	}

	reconciler := payments.NewReconciler(repo, nil, slog.Default())
	if err := reconciler.Apply(ctx, order.OrderNumber, payments.StatusFailed); err != nil {
		t.Fatalf("apply failed outcome: %v", err)
	}

	fetched, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("fetch order: %v", err)
	}
	if fetched.Status != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", fetched.Status)
	}
	if got := variantStock(t, db, "v-shirt"); got != 10 {
		t.Errorf("expected stock restored to 10, got %d", got)
	}
}

func TestPaymentInitializeFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db := OpenDB(t, pg.ConnStr)
	seedVariant(t, db, "v-shirt", "Linen Shirt", 250000, 10)

	repo := orders.NewRepository(db)
	order, err := repo.CreateFromCart(ctx, checkoutRequest("cart"), []domain.CartLine{
		{VariantID: "v-shirt", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "t", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"CheckoutRequestID": "ws_CO_42",
			"ResponseCode":      "0",
			"CustomerMessage":   "Success",
		})
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	logger := slog.Default()
	provider := payments.NewDaraja(payments.DarajaConfig{
		BaseURL:     upstream.URL,
		Shortcode:   "174379",
		Passkey:     "passkey",
		CallbackURL: "https://example.com/payments/webhook",
	}, logger)
	reconciler := payments.NewReconciler(repo, nil, logger)
	handler := payments.NewHandler(provider, repo, reconciler, logger)

	rec := httptest.NewRecorder()
	body := `{"order_id": "` + order.ID + `", "phone_number": "254712345678"}`
	handler.HandleInitialize(rec, httptest.NewRequest(http.MethodPost, "/payments/initialize", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	fetched, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("fetch order: %v", err)
	}
	if fetched.Status != domain.OrderStatusPaymentPending {
		t.Errorf("expected payment_pending, got %s", fetched.Status)
	}
	if fetched.PaymentRef != "ws_CO_42" || fetched.PaymentProvider != "daraja" {
		t.Errorf("payment reference not recorded: %+v", fetched)
	}

	// The provider's request id must resolve back to the order, that is
	// how webhooks without an account reference find it.
	byRef, err := repo.GetByReference(ctx, "ws_CO_42")
	if err != nil || byRef == nil || byRef.ID != order.ID {
		t.Errorf("payment ref lookup failed: %v %+v", err, byRef)
	}
}

func TestOrderEventRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	producer := messaging.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	event := domain.OrderPaymentEvent{
		OrderID:     "order-1",
		OrderNumber: "RZK-20260830-ABC123",
		Email:       "buyer@example.com",
		Status:      domain.OrderStatusConfirmed,
		Currency:    "KES",
		Total:       250000,
		Timestamp:   time.Now().UTC(),
	}

	if err := producer.Publish(ctx, domain.TopicOrderConfirmed, event.OrderID, event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, domain.TopicOrderConfirmed, "test-group",
		messaging.WithStartOffset(kafkago.FirstOffset))
	defer func() { _ = consumer.Close() }()

	received := make(chan domain.OrderPaymentEvent, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, payload []byte) error {
			var got domain.OrderPaymentEvent
			if err := json.Unmarshal(payload, &got); err != nil {
				return err
			}
			received <- got
			stop()
			return nil
		})
	}()

	select {
	case got := <-received:
		if got.OrderNumber != event.OrderNumber || got.Status != event.Status {
			t.Errorf("event mismatch: %+v", got)
		}
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
