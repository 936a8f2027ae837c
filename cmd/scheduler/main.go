package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/segyhp/funds-engine/internal/app"
	"github.com/segyhp/funds-engine/internal/config"
	"github.com/segyhp/funds-engine/internal/observability"
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

	if err := a.Supervisor.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	logger.Info("scheduler started",
		zap.String("cron", cfg.Scheduler.Cron),
		zap.String("timezone", cfg.Scheduler.Timezone),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down scheduler")

	// Wait for a running cycle before draining events
	<-a.Supervisor.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("failed to close dependencies", zap.Error(err))
	}

	logger.Info("scheduler stopped")
}
