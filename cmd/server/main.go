package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orders-be/internal/catalog"
	"orders-be/internal/config"
	"orders-be/internal/db"
	"orders-be/internal/events"
	"orders-be/internal/handler"
	"orders-be/internal/logger"
	"orders-be/internal/middleware"
	"orders-be/internal/order"
	"orders-be/internal/payment"
	"orders-be/internal/payment/webhook"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func newRouter(orderSvc order.Service, paymentGateway payment.Gateway) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.RateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Mount("/orders", handler.NewOrderHandler(orderSvc).Routes())
	r.Post("/webhook/payment", webhook.NewHandler(orderSvc, paymentGateway).Handle)

	return r
}

func main() {
	cfg := config.LoadConfig()

	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := db.InitDB(cfg)
	defer database.Close()

	orderRepo := order.NewRepository(database)
	catalogClient := catalog.NewHTTPClient(cfg.CatalogURL)
	paymentGateway := payment.NewHTTPGateway(cfg.PaymentURL, cfg.PaymentSecret)
	orderSvc := order.NewService(orderRepo, catalogClient, paymentGateway, cfg.Currency)

	r := newRouter(orderSvc, paymentGateway)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The broker consumer is optional: webhook-only deployments leave
	// AMQP_URL unset.
	if cfg.AmqpURL != "" {
		consumer, err := events.NewConsumer(cfg.AmqpURL, orderSvc)
		if err != nil {
			logger.L().Fatal("failed to start payment event consumer", zap.Error(err))
		}
		defer consumer.Close()

		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.L().Error("payment event consumer stopped", zap.Error(err))
				stop()
			}
		}()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		logger.L().Info("orders service listening", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L().Error("graceful shutdown failed", zap.Error(err))
	}
}
