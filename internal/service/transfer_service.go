package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/events"
	"github.com/segyhp/funds-engine/internal/idempotency"
	"github.com/segyhp/funds-engine/internal/observability"
	"github.com/segyhp/funds-engine/internal/repository"
	"github.com/segyhp/funds-engine/internal/resilience"
	customError "github.com/segyhp/funds-engine/pkg/errors"
)

// TransferService moves funds between two accounts exactly once per idempotency key.
type TransferService struct {
	store     repository.Store
	registry  idempotency.Registry
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

func NewTransferService(
	store repository.Store,
	registry idempotency.Registry,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *TransferService {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferService{
		store:     store,
		registry:  registry,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Transfer debits FromAccount and credits ToAccount. Insufficient funds is a
// business outcome recorded as a FAILED transaction, not an error. With an
// idempotency key, a repeated request returns the first recorded outcome.
func (s *TransferService) Transfer(ctx context.Context, req *domain.TransferRequest) (*domain.TransferResult, error) {
	ctx, span := tracer.Start(ctx, "TransferService.Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("transfer.from", req.FromAccount),
		attribute.String("transfer.to", req.ToAccount),
		attribute.String("transfer.amount", req.Amount.String()),
	)

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("transfer", time.Since(start)) }()

	result, err := s.transfer(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("transfer.status", string(result.Status)), attribute.Bool("transfer.replayed", result.Replayed))
	return result, nil
}

func (s *TransferService) transfer(ctx context.Context, req *domain.TransferRequest) (*domain.TransferResult, error) {
	if !domain.ValidAmount(req.Amount) {
		return nil, customError.WrapInvalidAmount(req.Amount.String())
	}
	if req.FromAccount == req.ToAccount {
		return nil, customError.WrapSameAccount(req.FromAccount)
	}

	var key string
	if req.IdempotencyKey != "" {
		key = idempotency.TransferKey(req.IdempotencyKey)

		if cached, ok, err := s.cachedResult(ctx, key); err != nil || ok {
			return cached, err
		}

		acquired, err := s.registry.TryAcquireLock(ctx, key, s.opts.LockTTL)
		if err != nil {
			return nil, customError.WrapUnavailable(err)
		}
		if !acquired {
			// the holder may have finished between the two calls
			if cached, ok, err := s.cachedResult(ctx, key); err != nil || ok {
				return cached, err
			}
			return nil, customError.WrapOperationInProgress(req.IdempotencyKey)
		}
	}

	var (
		result *domain.TransferResult
		outbox events.Outbox
	)
	err := resilience.RetryWithBackoff(ctx, resilience.Config{
		MaxRetries:     s.opts.LockRetryAttempts,
		InitialBackoff: s.opts.LockRetryBackoff,
		Retryable:      isLockTimeout,
		OnRetry: func(attempt int, err error) {
			s.metrics.IncrLockRetry()
			s.logger.Debug("account lock timeout, retrying",
				zap.String("from", req.FromAccount),
				zap.String("to", req.ToAccount),
				zap.Int("attempt", attempt),
			)
		},
	}, func() error {
		outbox = events.Outbox{}
		var txErr error
		result, txErr = s.execute(ctx, req, &outbox)
		return txErr
	})
	if err != nil {
		if key != "" {
			if releaseErr := s.registry.ReleaseLock(context.WithoutCancel(ctx), key); releaseErr != nil {
				s.logger.Warn("failed to release idempotency lock", zap.String("key", key), zap.Error(releaseErr))
			}
		}
		if isLockTimeout(err) {
			return nil, customError.WrapUnavailable(err)
		}
		var be *customError.BusinessError
		if !errors.As(err, &be) {
			return nil, customError.WrapDatabaseError(err)
		}
		return nil, err
	}

	outbox.Flush(s.publisher)
	s.metrics.IncrTransfer(string(result.Status))

	if key != "" {
		s.storeResult(context.WithoutCancel(ctx), key, result)
	}

	s.logger.Info("transfer recorded",
		zap.String("transaction_id", result.TransactionID.String()),
		zap.String("from", result.FromAccount),
		zap.String("to", result.ToAccount),
		zap.String("amount", result.Amount.String()),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// execute runs one attempt inside a storage transaction. Accounts are locked
// lowest number first and re-read under the lock.
func (s *TransferService) execute(ctx context.Context, req *domain.TransferRequest, outbox *events.Outbox) (*domain.TransferResult, error) {
	var result *domain.TransferResult

	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		first, second := lockOrder(req.FromAccount, req.ToAccount)
		locked := make(map[string]*domain.Account, 2)
		for _, number := range []string{first, second} {
			account, err := repos.Accounts().LockForUpdate(ctx, number)
			if errors.Is(err, repository.ErrNotFound) {
				return customError.WrapAccountNotFound(number)
			}
			if err != nil {
				return err
			}
			locked[number] = account
		}

		from, to := locked[req.FromAccount], locked[req.ToAccount]
		if !to.IsVerified() {
			return customError.WrapDestinationNotVerified(to.AccountNumber, string(to.VerificationStatus))
		}

		now := s.now()
		status := domain.TransactionStatusFailed
		message := "insufficient funds"
		if from.Balance.GreaterThanOrEqual(req.Amount) {
			from.Balance = from.Balance.Sub(req.Amount)
			to.Credit(req.Amount)
			if err := repos.Accounts().Save(ctx, from); err != nil {
				return err
			}
			if err := repos.Accounts().Save(ctx, to); err != nil {
				return err
			}
			status = domain.TransactionStatusSuccess
			message = "transfer completed"
		}

		txn := domain.NewTransaction(domain.TransactionTypeTransfer, from.AccountNumber, to.AccountNumber, req.Amount, status, now)
		txn.Reference = req.IdempotencyKey
		txn.Description = message
		if err := repos.Transactions().Create(ctx, txn); err != nil {
			return err
		}

		result = &domain.TransferResult{
			TransactionID: txn.ID,
			Status:        status,
			FromAccount:   from.AccountNumber,
			ToAccount:     to.AccountNumber,
			Amount:        req.Amount,
			NewBalance:    from.Balance,
			Message:       message,
			Timestamp:     now,
		}
		outbox.Add(events.TypeTransferCompleted, events.TransferCompleted{
			TransactionID: txn.ID,
			FromAccount:   from.AccountNumber,
			ToAccount:     to.AccountNumber,
			Amount:        req.Amount,
			Success:       status == domain.TransactionStatusSuccess,
		})
		return nil
	})
	return result, err
}

func (s *TransferService) cachedResult(ctx context.Context, key string) (*domain.TransferResult, bool, error) {
	payload, ok, err := s.registry.GetCachedResult(ctx, key)
	if err != nil {
		return nil, false, customError.WrapUnavailable(err)
	}
	if !ok {
		return nil, false, nil
	}

	var result domain.TransferResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, false, customError.WrapCacheError(err)
	}
	result.Replayed = true
	s.metrics.IncrReplay("transfer")
	return &result, true, nil
}

// storeResult caches the outcome and releases the lock. On failure the lock is
// left to expire so a retry cannot apply the transfer a second time while it is held.
func (s *TransferService) storeResult(ctx context.Context, key string, result *domain.TransferResult) {
	payload, err := json.Marshal(result)
	if err == nil {
		err = s.registry.StoreResult(ctx, key, string(payload), s.opts.ResultTTL)
	}
	if err != nil {
		s.logger.Error("failed to cache transfer result",
			zap.String("key", key),
			zap.String("transaction_id", result.TransactionID.String()),
			zap.Error(err),
		)
	}
}
