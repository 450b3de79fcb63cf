package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/SaddamTechie/riziki-orders/internal/domain"
	"github.com/SaddamTechie/riziki-orders/internal/messaging"
	"github.com/SaddamTechie/riziki-orders/internal/notifier"
	"github.com/SaddamTechie/riziki-orders/internal/orders"
	"github.com/SaddamTechie/riziki-orders/internal/payments"
	"github.com/SaddamTechie/riziki-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	emailServiceURL := os.Getenv("EMAIL_SERVICE_URL")
	if emailServiceURL == "" {
		logger.Error("EMAIL_SERVICE_URL environment variable is required")
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

	brokers := strings.Split(kafkaBrokers, ",")
	producer := messaging.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	notifyHandler := notifier.NewHandler(emailServiceURL, httpClient, logger)

	orderRepo := orders.NewRepository(db)
	reconciler := payments.NewReconciler(orderRepo, producer, logger)

	provider := payments.NewDaraja(payments.DarajaConfig{
		BaseURL:        envOr("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		ConsumerKey:    os.Getenv("DARAJA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("DARAJA_CONSUMER_SECRET"),
		Shortcode:      os.Getenv("DARAJA_SHORTCODE"),
		Passkey:        os.Getenv("DARAJA_PASSKEY"),
		CallbackURL:    os.Getenv("DARAJA_CALLBACK_URL"),
	}, logger)

	sweeper := payments.NewSweeper(orderRepo, provider, reconciler,
		envDuration("VERIFY_INTERVAL", 30*time.Second),
		envDuration("VERIFY_AFTER", 2*time.Minute),
		logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup

	consume := func(topic string, handler func(context.Context, []byte) error) {
		consumer := messaging.NewConsumer(brokers, topic, "notification-worker")
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = consumer.Close() }()

			logger.Info("consumer started", "topic", topic)
			if err := consumer.Consume(ctx, handler); err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					logger.Info("consumer stopped", "topic", topic)
					return
				}
				logger.Error("consumer error", "error", err, "topic", topic)
				cancel()
			}
		}()
	}

	consume(domain.TopicOrderCreated, notifyHandler.HandleCreated)
	consume(domain.TopicOrderConfirmed, notifyHandler.HandlePaymentOutcome)
	consume(domain.TopicOrderCancelled, notifyHandler.HandlePaymentOutcome)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	logger.Info("worker started", "brokers", brokers)
	wg.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
