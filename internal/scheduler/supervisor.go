// Package scheduler owns the daily trigger of the obligation cycle.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/idempotency"
	"github.com/segyhp/funds-engine/internal/resilience"
	customError "github.com/segyhp/funds-engine/pkg/errors"
	"github.com/segyhp/funds-engine/pkg/utils"
)

// CycleRunner is the part of the obligation engine the supervisor drives.
type CycleRunner interface {
	RunDailyCycle(ctx context.Context, today time.Time) (*domain.CycleReport, error)
	Today() time.Time
}

// Config of the supervisor.
type Config struct {
	Spec         string
	Location     *time.Location
	RunLockTTL   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Supervisor triggers the daily cycle on a cron schedule. A registry lock per
// date keeps instances from running the same cycle at the same time; failed
// cycles are retried with backoff.
type Supervisor struct {
	cron     *cron.Cron
	runner   CycleRunner
	registry idempotency.Registry
	logger   *zap.Logger
	cfg      Config
}

func NewSupervisor(runner CycleRunner, registry idempotency.Registry, logger *zap.Logger, cfg Config) *Supervisor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RunLockTTL <= 0 {
		cfg.RunLockTTL = time.Hour
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}

	cronLogger := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Supervisor{
		cron:     c,
		runner:   runner,
		registry: registry,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start registers the daily job and starts the cron scheduler.
func (s *Supervisor) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Spec, s.runScheduled); err != nil {
		return fmt.Errorf("schedule daily cycle %q: %w", s.cfg.Spec, err)
	}
	s.cron.Start()
	s.logger.Info("daily cycle scheduled", zap.String("schedule", s.cfg.Spec), zap.String("timezone", s.cfg.Location.String()))
	return nil
}

// Stop stops the scheduler. The returned context is done when a running cycle finishes.
func (s *Supervisor) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger runs the cycle for today unless another instance is running it.
// It fails with ErrOperationInProgress in that case.
func (s *Supervisor) Trigger(ctx context.Context, today time.Time) (*domain.CycleReport, error) {
	key := idempotency.DailyCycleKey(utils.FormatDate(today))

	acquired, err := s.registry.TryAcquireLock(ctx, key, s.cfg.RunLockTTL)
	if err != nil {
		return nil, customError.WrapUnavailable(err)
	}
	if !acquired {
		return nil, customError.WrapOperationInProgress(key)
	}

	var report *domain.CycleReport
	err = resilience.RetryWithBackoff(ctx, resilience.Config{
		MaxRetries:     s.cfg.MaxRetries,
		InitialBackoff: s.cfg.RetryBackoff,
		Retryable: func(err error) bool {
			return !errors.Is(err, customError.ErrFutureCycleDate)
		},
		OnRetry: func(attempt int, err error) {
			s.logger.Warn("daily cycle failed, retrying",
				zap.String("date", utils.FormatDate(today)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}, func() error {
		var runErr error
		report, runErr = s.runner.RunDailyCycle(ctx, today)
		return runErr
	})

	if err != nil {
		if releaseErr := s.registry.ReleaseLock(context.WithoutCancel(ctx), key); releaseErr != nil {
			s.logger.Warn("failed to release daily cycle lock", zap.String("key", key), zap.Error(releaseErr))
		}
		return report, err
	}

	for _, fault := range report.Faults {
		s.logger.Error("obligation needs operator attention",
			zap.String("obligation_id", fault.ObligationID),
			zap.String("kind", fault.Kind),
			zap.String("reason", fault.Reason),
		)
	}

	payload, err := json.Marshal(report)
	if err == nil {
		err = s.registry.StoreResult(context.WithoutCancel(ctx), key, string(payload), s.cfg.RunLockTTL)
	}
	if err != nil {
		s.logger.Warn("failed to record daily cycle completion", zap.String("key", key), zap.Error(err))
	}
	return report, nil
}

// Completed reports whether a cycle already finished for the date.
func (s *Supervisor) Completed(ctx context.Context, today time.Time) (bool, error) {
	_, ok, err := s.registry.GetCachedResult(ctx, idempotency.DailyCycleKey(utils.FormatDate(today)))
	return ok, err
}

func (s *Supervisor) runScheduled() {
	ctx := context.Background()
	today := s.runner.Today()
	log := s.logger.With(zap.String("date", utils.FormatDate(today)))

	done, err := s.Completed(ctx, today)
	if err != nil {
		log.Warn("could not check daily cycle state", zap.Error(err))
	}
	if done {
		log.Info("daily cycle already completed")
		return
	}

	start := time.Now()
	report, err := s.Trigger(ctx, today)
	switch {
	case errors.Is(err, customError.ErrOperationInProgress):
		log.Info("daily cycle is running on another instance")
	case err != nil:
		log.Error("daily cycle failed", zap.Error(err))
	default:
		log.Info("daily cycle completed",
			zap.Duration("duration", time.Since(start)),
			zap.Int("evaluated", report.Evaluated),
			zap.Int("faults", len(report.Faults)),
		)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
