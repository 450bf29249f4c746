package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	_ "github.com/digimart/backend/docs"
	"github.com/digimart/backend/internal/audit"
	"github.com/digimart/backend/internal/config"
	"github.com/digimart/backend/internal/database"
	"github.com/digimart/backend/internal/handlers"
	"github.com/digimart/backend/internal/logging"
	mW "github.com/digimart/backend/internal/middleware"
	"github.com/digimart/backend/internal/paystack"
	"github.com/digimart/backend/internal/services"
)

// @title Marketplace Ledger API
// @version 1.0
// @description Payments, commission ledger and withdrawals for the digital goods marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	_, syncLogs, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syncLogs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(ctx, cfg.Database)
	if err != nil {
		zap.L().Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		zap.L().Fatal("Failed to migrate database", zap.Error(err))
	}

	redisClient := database.InitRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	gateway := paystack.NewClient(cfg.Paystack)
	// Without a secret key transfers cannot be sent; withdrawals wait for an admin.
	var payouts services.PayoutProvider
	if cfg.Paystack.SecretKey != "" {
		payouts = gateway
	} else {
		zap.L().Warn("PAYSTACK_SECRET_KEY not set, payouts are manual")
	}

	auditLog := audit.NewLogger(zap.L())
	ledger := services.NewLedgerService(db)
	downloads := services.NewDownloadService(db, cfg.Download.SigningKey)
	sales := services.NewSaleService(db, redisClient, ledger, downloads, gateway, auditLog, cfg.Ledger)
	subscriptions := services.NewSubscriptionService(db, sales)
	withdrawals := services.NewWithdrawalService(db, redisClient, ledger, payouts, auditLog, cfg.Ledger)
	banks := services.NewBankService(gateway)

	paymentHandler := handlers.NewPaymentHandler(sales)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptions)
	withdrawalHandler := handlers.NewWithdrawalHandler(ledger, withdrawals)
	bankHandler := handlers.NewBankHandler(banks)
	downloadHandler := handlers.NewDownloadHandler(downloads)
	webhookHandler := handlers.NewWebhookHandler(gateway, sales, withdrawals)

	auth := mW.NewAuthenticator(cfg.JWT.SecretKey, db)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := withdrawals.ConsumePayoutEvents(ctx); err != nil {
			zap.L().Error("Payout consumer exited", zap.Error(err))
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mW.Metrics)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/banks", bankHandler.ListBanks)
		r.Post("/banks/verify", bankHandler.VerifyAccount)
		r.Post("/payments/verify", paymentHandler.Verify)
		r.Get("/downloads/{token}", downloadHandler.Redeem)
		r.Post("/webhooks/paystack", webhookHandler.Paystack)

		r.With(auth.OptionalUser).Post("/payments/initiate", paymentHandler.Initiate)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)

			r.Post("/subscriptions", subscriptionHandler.Subscribe)
			r.Get("/wallet", withdrawalHandler.GetWallet)
			r.Get("/wallet/transactions", withdrawalHandler.ListTransactions)
			r.Post("/withdrawals", withdrawalHandler.RequestWithdrawal)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Get("/wallet", withdrawalHandler.AdminWallet)
				r.Post("/withdrawals", withdrawalHandler.AdminRequestWithdrawal)
				r.Post("/withdrawals/{id}/complete", withdrawalHandler.AdminComplete)
				r.Post("/withdrawals/{id}/fail", withdrawalHandler.AdminFail)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zap.L().Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Server forced to shutdown", zap.Error(err))
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		zap.L().Warn("Payout consumer did not stop in time")
	}

	zap.L().Info("Server stopped")
}
