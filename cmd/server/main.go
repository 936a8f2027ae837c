package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/segyhp/funds-engine/internal/app"
	"github.com/segyhp/funds-engine/internal/config"
	"github.com/segyhp/funds-engine/internal/handler"
	"github.com/segyhp/funds-engine/internal/observability"
	"github.com/segyhp/funds-engine/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("info").Fatal("failed to load configuration", zap.Error(err))
	}

	logger := observability.NewLogger(cfg.Logging.Level)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	transferHandler := handler.NewTransferHandler(a.Transfers)
	obligationHandler := handler.NewObligationHandler(a.Supervisor, a.Obligations, cfg.GetLocation())
	healthHandler := handler.NewHealthHandler(a.HealthChecks())

	// Setup routes
	router := setupRoutes(transferHandler, obligationHandler, healthHandler)
	router.Handle("/metrics", promhttp.HandlerFor(a.Metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Use(observability.ZapLoggerMiddleware(logger), response.CORSMiddleware)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Server.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := a.Close(ctx); err != nil {
		logger.Warn("failed to close dependencies", zap.Error(err))
	}

	logger.Info("server exited")
}

func setupRoutes(transferHandler *handler.TransferHandler, obligationHandler *handler.ObligationHandler, healthHandler *handler.HealthHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods(http.MethodGet)

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/transfers", transferHandler.Transfer).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId}/prepay", obligationHandler.PrepayLoan).Methods(http.MethodPost)
	api.HandleFunc("/obligations/run", obligationHandler.RunCycle).Methods(http.MethodPost)

	return router
}
