package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/SaddamTechie/riziki-orders/internal/cart"
	"github.com/SaddamTechie/riziki-orders/internal/checkout"
	"github.com/SaddamTechie/riziki-orders/internal/inventory"
	"github.com/SaddamTechie/riziki-orders/internal/messaging"
	"github.com/SaddamTechie/riziki-orders/internal/orders"
	"github.com/SaddamTechie/riziki-orders/internal/payments"
	"github.com/SaddamTechie/riziki-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "riziki-api", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("riziki-api", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime metrics", "error", err)
		os.Exit(1)
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database connection", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	var producer *messaging.Producer
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		producer = messaging.NewProducer(strings.Split(kafkaBrokers, ","))
		defer func() { _ = producer.Close() }()
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events disabled")
	}

	orderRepo := orders.NewRepository(db)
	inventoryRepo := inventory.NewRepository(db)
	cartStore := cart.NewStore(redisClient)

	// Producer may be a nil pointer; wrap it only when configured so the
	// nil-publisher checks in the services hold.
	var publisher interface {
		Publish(ctx context.Context, topic, key string, payload any) error
	}
	if producer != nil {
		publisher = producer
	}

	checkoutSvc := checkout.NewService(cartStore, orderRepo, publisher, logger)

	provider := payments.NewDaraja(payments.DarajaConfig{
		BaseURL:        envOr("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		ConsumerKey:    os.Getenv("DARAJA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("DARAJA_CONSUMER_SECRET"),
		Shortcode:      os.Getenv("DARAJA_SHORTCODE"),
		Passkey:        os.Getenv("DARAJA_PASSKEY"),
		CallbackURL:    os.Getenv("DARAJA_CALLBACK_URL"),
	}, logger)

	reconciler := payments.NewReconciler(orderRepo, publisher, logger)

	orderHandler := orders.NewHandler(checkoutSvc, orderRepo, publisher, logger)
	inventoryHandler := inventory.NewHandler(inventoryRepo, logger)
	cartHandler := cart.NewHandler(cartStore, logger)
	paymentHandler := payments.NewHandler(provider, orderRepo, reconciler, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(orderHandler.HandleCheckout))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleListOrders))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGetOrder))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(orderHandler.HandleCancelOrder))
	mux.HandleFunc("GET /stock", telemetry.WithHTTPRoute(inventoryHandler.HandleListStock))
	mux.HandleFunc("GET /stock/{variantId}", telemetry.WithHTTPRoute(inventoryHandler.HandleGetStock))
	mux.HandleFunc("GET /carts/{cartId}", telemetry.WithHTTPRoute(cartHandler.HandleGetCart))
	mux.HandleFunc("POST /carts/{cartId}/items", telemetry.WithHTTPRoute(cartHandler.HandleAddItem))
	mux.HandleFunc("PATCH /carts/{cartId}/items/{variantId}", telemetry.WithHTTPRoute(cartHandler.HandleUpdateItem))
	mux.HandleFunc("DELETE /carts/{cartId}/items/{variantId}", telemetry.WithHTTPRoute(cartHandler.HandleRemoveItem))
	mux.HandleFunc("DELETE /carts/{cartId}", telemetry.WithHTTPRoute(cartHandler.HandleClearCart))
	mux.HandleFunc("POST /payments/initialize", telemetry.WithHTTPRoute(paymentHandler.HandleInitialize))
	mux.HandleFunc("GET /payments/verify", telemetry.WithHTTPRoute(paymentHandler.HandleVerify))
	mux.HandleFunc("POST /payments/webhook", telemetry.WithHTTPRoute(paymentHandler.HandleWebhook))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "riziki-api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting api service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
