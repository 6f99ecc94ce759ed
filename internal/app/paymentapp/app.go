package paymentapp

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ivmironov/order-saga/internal/broker/rabbitmq"
	"github.com/ivmironov/order-saga/internal/dal/postgres"
	paymentrepo "github.com/ivmironov/order-saga/internal/dal/repositories/payment/postgres"
	"github.com/ivmironov/order-saga/internal/otel"
	"github.com/ivmironov/order-saga/internal/service/services/paymentsvc"
	"github.com/ivmironov/order-saga/internal/transport/consumer"
	httptransport "github.com/ivmironov/order-saga/internal/transport/http"
	"github.com/spf13/viper"
)

// App represents the payment application.
type App struct {
	paymentSvc      *paymentsvc.PaymentService
	transport       *httptransport.PaymentTransport
	paymentConsumer *consumer.PaymentConsumer
	bus             *rabbitmq.Broker
	postgresClient  *postgres.Client
	otelController  *otel.OtelController
}

// MustNewApp creates a new payment application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel("payment-svc")
	postgresClient := postgres.MustNewClient()
	bus := rabbitmq.MustNewBroker()

	paymentRepository := paymentrepo.NewPaymentRepository(postgresClient.Pool())

	latency := viper.GetDuration("payment.provider_latency")
	if latency <= 0 {
		latency = 100 * time.Millisecond
	}

	paymentSvc := paymentsvc.MustNewPaymentService(
		paymentsvc.WithPaymentRepository(paymentRepository),
		paymentsvc.WithPublisher(bus),
		paymentsvc.WithFailureRate(viper.GetInt("payment.fail_every_n")),
		paymentsvc.WithLatency(latency),
	)

	transport := httptransport.NewPaymentTransport(paymentSvc)
	transport.RegisterRoutes()

	paymentConsumer := consumer.NewPaymentConsumer(paymentSvc)

	return &App{
		paymentSvc:      paymentSvc,
		transport:       transport,
		paymentConsumer: paymentConsumer,
		bus:             bus,
		postgresClient:  postgresClient,
		otelController:  otelController,
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("Starting order created consumer")
	if err := a.paymentConsumer.Run(ctx, a.bus); err != nil {
		slog.Error("Consumer registration error", "error", err)
	}

	<-stop
	slog.Info("Shutdown signal received")
	cancel()

	a.gracefulShutdown()
}

// gracefulShutdown shuts components down sequentially: HTTP, broker, storage,
// telemetry.
func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.bus.Close(); err != nil {
		slog.Error("Broker connection close error", "error", err)
	} else {
		slog.Info("Broker connection closed gracefully")
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed gracefully")

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Otel trace provider connection close error", "error", err)
	} else {
		slog.Info("Otel trace provider connection closed gracefully")
	}

	slog.Info("Application shutdown complete")
}
