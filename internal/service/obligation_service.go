package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/events"
	"github.com/segyhp/funds-engine/internal/idempotency"
	"github.com/segyhp/funds-engine/internal/observability"
	"github.com/segyhp/funds-engine/internal/repository"
	"github.com/segyhp/funds-engine/internal/resilience"
	"github.com/segyhp/funds-engine/internal/schedule"
	customError "github.com/segyhp/funds-engine/pkg/errors"
	"github.com/segyhp/funds-engine/pkg/utils"
)

// Obligation kinds
const (
	KindLoan             = "loan"
	KindScheduledPayment = "scheduled_payment"
)

// settlement is the outcome of one obligation evaluation. cache is set when the
// outcome is final for the due date and must be stored under its key.
type settlement struct {
	result domain.SettlementResult
	cache  bool
	fault  string
}

// ObligationService settles due loan installments and scheduled payments.
// Every (obligation, due date) pair takes effect at most once, however often
// the daily cycle is triggered.
type ObligationService struct {
	store     repository.Store
	registry  idempotency.Registry
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

func NewObligationService(
	store repository.Store,
	registry idempotency.Registry,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *ObligationService {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObligationService{
		store:     store,
		registry:  registry,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Today returns the current calendar date in the configured location.
func (s *ObligationService) Today() time.Time {
	return civilDate(s.now(), s.opts.Location)
}

// RunDailyCycle evaluates every loan installment and scheduled payment due on
// or before today, which must not be after the current date. Obligations are
// processed concurrently by a bounded pool; a failing obligation never stops
// the others, but a cancelled ctx skips the ones not yet started. The returned error joins the
// transient failures, for which re-running the cycle is safe. Integrity faults
// are reported in CycleReport.Faults.
func (s *ObligationService) RunDailyCycle(ctx context.Context, today time.Time) (*domain.CycleReport, error) {
	ctx, span := tracer.Start(ctx, "ObligationService.RunDailyCycle")
	defer span.End()

	today = civilDate(today, s.opts.Location)
	span.SetAttributes(attribute.String("cycle.date", utils.FormatDate(today)))
	if current := s.Today(); today.After(current) {
		return nil, customError.WrapFutureCycleDate(utils.FormatDate(today), utils.FormatDate(current))
	}

	start := time.Now()
	defer func() { s.metrics.RecordCycleDuration(time.Since(start)) }()

	loans, err := s.store.Loans().ListDue(ctx, today)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	payments, err := s.store.ScheduledPayments().ListDue(ctx, today)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	var (
		mu     sync.Mutex
		report = &domain.CycleReport{Date: utils.FormatDate(today)}
		errs   []error
	)
	collect := func(st settlement, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		record(report, st)
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for _, loan := range loans {
		id, due := loan.ID, *loan.NextDueDate
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			collect(s.processLoan(ctx, id, due, today))
			return nil
		})
	}
	for _, payment := range payments {
		id, due := payment.ID, *payment.NextExecutionDate
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			collect(s.processScheduledPayment(ctx, id, due, today))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("daily cycle finished",
		zap.String("date", report.Date),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("settled", report.Settled),
		zap.Int("warned", report.Warned),
		zap.Int("penalized", report.Penalized),
		zap.Int("missed", report.Missed),
		zap.Int("failed", report.Failed),
		zap.Int("reminded", report.Reminded),
		zap.Int("contended", report.Contended),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("faults", len(report.Faults)),
		zap.Int("errors", len(errs)),
	)

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	return report, nil
}

// SettleLoanEarly settles the current installment of a loan on the borrower's
// request. Before the due date the settlement earns the early credit delta.
// The cached result of an already settled due date is returned as is.
func (s *ObligationService) SettleLoanEarly(ctx context.Context, loanID uuid.UUID, today time.Time) (*domain.SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "ObligationService.SettleLoanEarly")
	defer span.End()
	span.SetAttributes(attribute.String("loan.id", loanID.String()))

	today = civilDate(today, s.opts.Location)

	loan, err := s.store.Loans().GetByID(ctx, loanID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, customError.WrapLoanNotFound(loanID.String())
	}
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	if loan.Status != domain.LoanStatusActive || loan.NextDueDate == nil {
		return nil, customError.WrapLoanNotActive(loanID.String(), string(loan.Status))
	}

	due := utils.DateOnly(*loan.NextDueDate)
	key := idempotency.EMIKey(loanID.String(), utils.FormatDate(due))

	// a reminder does not settle the due date
	if cached, ok, err := s.cachedSettlement(ctx, key); err != nil || (ok && cached.Outcome != domain.OutcomeReminded) {
		return cached, err
	}
	acquired, err := s.registry.TryAcquireLock(ctx, key, s.opts.LockTTL)
	if err != nil {
		return nil, customError.WrapUnavailable(err)
	}
	if !acquired {
		return nil, customError.WrapOperationInProgress(key)
	}

	st, err := s.runLoanSettlement(ctx, loanID, due, today, true)
	if err != nil {
		s.release(ctx, key)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, customError.ErrIntegrityFault) {
			s.reportFault(KindLoan, loanID.String(), err.Error())
		}
		return nil, err
	}
	s.finish(ctx, key, st)
	s.metrics.IncrObligation(KindLoan, string(st.result.Outcome))
	return &st.result, nil
}

func (s *ObligationService) processLoan(ctx context.Context, loanID uuid.UUID, due, today time.Time) (settlement, error) {
	due = utils.DateOnly(due)
	dueStr := utils.FormatDate(due)
	key := idempotency.EMIKey(loanID.String(), dueStr)
	log := s.logger.With(zap.String("loan_id", loanID.String()), zap.String("due_date", dueStr))

	base := domain.SettlementResult{ObligationID: loanID.String(), Kind: KindLoan, DueDate: dueStr, ProcessedAt: s.now()}

	st, done, err := s.claim(ctx, key, base, log)
	if done || err != nil {
		return st, err
	}

	st, err = s.runLoanSettlement(ctx, loanID, due, today, false)
	return s.conclude(ctx, key, KindLoan, base, st, err, log)
}

func (s *ObligationService) processScheduledPayment(ctx context.Context, paymentID uuid.UUID, due, today time.Time) (settlement, error) {
	due = utils.DateOnly(due)
	dueStr := utils.FormatDate(due)
	key := idempotency.ScheduledPaymentKey(paymentID.String(), dueStr)
	log := s.logger.With(zap.String("payment_id", paymentID.String()), zap.String("execution_date", dueStr))

	base := domain.SettlementResult{ObligationID: paymentID.String(), Kind: KindScheduledPayment, DueDate: dueStr, ProcessedAt: s.now()}

	st, done, err := s.claim(ctx, key, base, log)
	if done || err != nil {
		return st, err
	}

	var outbox events.Outbox
	err = s.withLockRetry(ctx, func() error {
		outbox = events.Outbox{}
		var txErr error
		st, txErr = s.settleScheduledPayment(ctx, paymentID, due, today, &outbox)
		return txErr
	})
	if err == nil {
		outbox.Flush(s.publisher)
	}
	return s.conclude(ctx, key, KindScheduledPayment, base, st, err, log)
}

// claim checks the result cache and takes the processing lock. done reports
// that the obligation must not be processed by this caller.
func (s *ObligationService) claim(ctx context.Context, key string, base domain.SettlementResult, log *zap.Logger) (settlement, bool, error) {
	if _, ok, err := s.registry.GetCachedResult(ctx, key); err != nil {
		return settlement{}, true, fmt.Errorf("%s: %w", key, customError.WrapUnavailable(err))
	} else if ok {
		log.Debug("obligation already processed")
		base.Outcome = domain.OutcomeAlreadyProcessed
		s.metrics.IncrReplay(base.Kind)
		s.metrics.IncrObligation(base.Kind, string(base.Outcome))
		return settlement{result: base}, true, nil
	}

	acquired, err := s.registry.TryAcquireLock(ctx, key, s.opts.LockTTL)
	if err != nil {
		return settlement{}, true, fmt.Errorf("%s: %w", key, customError.WrapUnavailable(err))
	}
	if !acquired {
		log.Info("obligation is being processed elsewhere", zap.Error(customError.WrapLockContention(key)))
		base.Outcome = domain.OutcomeContended
		s.metrics.IncrObligation(base.Kind, string(base.Outcome))
		return settlement{result: base}, true, nil
	}
	return settlement{}, false, nil
}

// conclude caches or releases the key and classifies errors. Integrity faults
// and invalid installments are reported and skipped; anything else is returned.
func (s *ObligationService) conclude(ctx context.Context, key, kind string, base domain.SettlementResult, st settlement, err error, log *zap.Logger) (settlement, error) {
	if err != nil {
		s.release(ctx, key)

		switch {
		case errors.Is(err, customError.ErrIntegrityFault):
			log.Error("integrity fault, obligation skipped", zap.Error(err))
			s.reportFault(kind, base.ObligationID, err.Error())
			base.Outcome = domain.OutcomeFault
			s.metrics.IncrObligation(kind, string(base.Outcome))
			return settlement{result: base, fault: err.Error()}, nil
		case errors.Is(err, customError.ErrInvalidInstallmentAmount), errors.Is(err, customError.ErrInvalidAmount):
			log.Error("invalid obligation amount, obligation skipped", zap.Error(err))
			base.Outcome = domain.OutcomeSkipped
			s.metrics.IncrObligation(kind, string(base.Outcome))
			return settlement{result: base}, nil
		case errors.Is(err, customError.ErrLoanNotFound), errors.Is(err, customError.ErrScheduledPaymentNotFound):
			log.Warn("obligation disappeared before processing", zap.Error(err))
			base.Outcome = domain.OutcomeSkipped
			return settlement{result: base}, nil
		case isLockTimeout(err):
			log.Warn("account lock not granted", zap.Error(err))
			return settlement{}, fmt.Errorf("%s: %w", key, customError.WrapUnavailable(err))
		default:
			log.Error("obligation processing failed", zap.Error(err))
			return settlement{}, fmt.Errorf("%s: %w", key, err)
		}
	}

	s.finish(ctx, key, st)
	s.metrics.IncrObligation(kind, string(st.result.Outcome))
	log.Info("obligation evaluated",
		zap.String("stage", string(st.result.Stage)),
		zap.String("outcome", string(st.result.Outcome)),
	)
	return st, nil
}

// finish stores a final outcome, which also releases the lock, or just
// releases the lock so a later run may try the due date again.
func (s *ObligationService) finish(ctx context.Context, key string, st settlement) {
	ctx = context.WithoutCancel(ctx)
	if !st.cache {
		s.release(ctx, key)
		return
	}

	payload, err := json.Marshal(st.result)
	if err == nil {
		err = s.registry.StoreResult(ctx, key, string(payload), s.opts.ResultTTL)
	}
	if err != nil {
		s.logger.Error("failed to cache settlement result", zap.String("key", key), zap.Error(err))
	}
}

func (s *ObligationService) release(ctx context.Context, key string) {
	if err := s.registry.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("failed to release idempotency lock", zap.String("key", key), zap.Error(err))
	}
}

func (s *ObligationService) reportFault(kind, id, reason string) {
	s.metrics.IncrIntegrityFault(kind)
	if s.publisher != nil {
		s.publisher.Publish(events.New(events.TypeObligationFault, events.ObligationFault{
			ObligationID: id,
			Kind:         kind,
			Reason:       reason,
		}))
	}
}

func (s *ObligationService) cachedSettlement(ctx context.Context, key string) (*domain.SettlementResult, bool, error) {
	payload, ok, err := s.registry.GetCachedResult(ctx, key)
	if err != nil {
		return nil, false, customError.WrapUnavailable(err)
	}
	if !ok {
		return nil, false, nil
	}
	var result domain.SettlementResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, false, customError.WrapCacheError(err)
	}
	s.metrics.IncrReplay(KindLoan)
	return &result, true, nil
}

func (s *ObligationService) withLockRetry(ctx context.Context, fn func() error) error {
	return resilience.RetryWithBackoff(ctx, resilience.Config{
		MaxRetries:     s.opts.LockRetryAttempts,
		InitialBackoff: s.opts.LockRetryBackoff,
		Retryable:      isLockTimeout,
		OnRetry:        func(int, error) { s.metrics.IncrLockRetry() },
	}, fn)
}

func (s *ObligationService) runLoanSettlement(ctx context.Context, loanID uuid.UUID, due, today time.Time, explicit bool) (settlement, error) {
	var (
		st     settlement
		outbox events.Outbox
	)
	err := s.withLockRetry(ctx, func() error {
		outbox = events.Outbox{}
		var txErr error
		st, txErr = s.settleLoan(ctx, loanID, due, today, explicit, &outbox)
		return txErr
	})
	if err != nil {
		return settlement{}, err
	}
	outbox.Flush(s.publisher)
	return st, nil
}

// settleLoan evaluates one installment inside a storage transaction. explicit
// marks a borrower-initiated payment, which never penalizes.
func (s *ObligationService) settleLoan(ctx context.Context, loanID uuid.UUID, due, today time.Time, explicit bool, outbox *events.Outbox) (settlement, error) {
	dueStr := utils.FormatDate(due)
	st := settlement{result: domain.SettlementResult{
		ObligationID: loanID.String(),
		Kind:         KindLoan,
		DueDate:      dueStr,
		Stage:        s.opts.Policy.Stage(utils.DaysBetween(due, today)),
		ProcessedAt:  s.now(),
	}}
	if explicit && st.result.Stage == domain.StageMissed {
		st.result.Stage = domain.StageLate
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		loan, err := repos.Loans().LockForUpdate(ctx, loanID)
		if errors.Is(err, repository.ErrNotFound) {
			return customError.WrapLoanNotFound(loanID.String())
		}
		if err != nil {
			return err
		}

		// another run already moved past this due date
		if loan.Status != domain.LoanStatusActive || loan.NextDueDate == nil || utils.DaysBetween(*loan.NextDueDate, due) != 0 {
			st.result.Outcome = domain.OutcomeAlreadyProcessed
			return nil
		}
		if !loan.EMIAmount.IsPositive() {
			return customError.WrapInvalidInstallmentAmount(loanID.String(), loan.EMIAmount.String())
		}

		stage := st.result.Stage
		if stage == domain.StageMissed {
			return s.markMissed(ctx, repos, loan, due, outbox, &st)
		}
		if !loan.AutoDebitEnabled && !explicit {
			outbox.Add(events.TypeReminder, events.Reminder{ObligationID: loanID.String(), DueDate: dueStr, Amount: loan.EMIAmount})
			st.result.Outcome = domain.OutcomeReminded
			st.cache = true
			return nil
		}

		account, err := repos.Accounts().LockForUpdate(ctx, loan.AccountNumber)
		if errors.Is(err, repository.ErrNotFound) {
			return customError.WrapIntegrityFault(KindLoan, loanID.String(), fmt.Sprintf("repayment account %s not found", loan.AccountNumber))
		}
		if err != nil {
			return err
		}

		available := account.AvailableFunds()
		if !account.Debit(loan.EMIAmount) {
			return s.recordShortfall(ctx, repos, loan, available, explicit, outbox, &st)
		}
		if err := repos.Accounts().Save(ctx, account); err != nil {
			return err
		}
		return s.applyRepayment(ctx, repos, loan, due, today, outbox, &st)
	})
	return st, err
}

func (s *ObligationService) applyRepayment(ctx context.Context, repos repository.Repositories, loan *domain.Loan, due, today time.Time, outbox *events.Outbox, st *settlement) error {
	interest, principalPart := utils.SplitInstallment(loan.EMIAmount, loan.RemainingPrincipal, loan.MonthlyRate())
	principalPart = decimal.Min(principalPart, loan.RemainingPrincipal)
	loan.RemainingPrincipal = loan.RemainingPrincipal.Sub(principalPart)
	loan.InstallmentsPaid++
	loan.LastPaidDate = &today
	loan.PenaltyTier = domain.PenaltyTierNone

	if loan.InstallmentsPaid >= loan.TenureMonths {
		loan.Status = domain.LoanStatusFullyPaid
		loan.RemainingPrincipal = decimal.Zero
		loan.NextDueDate = nil
	} else {
		next, _, err := schedule.NextOnDay(due, domain.FrequencyMonthly, loan.DayOfMonth)
		if err != nil {
			return err
		}
		loan.NextDueDate = &next
	}

	var delta int
	switch st.result.Stage {
	case domain.StageEarly:
		delta = s.opts.Policy.EarlyCreditDelta
	case domain.StageOnTime:
		delta = s.opts.Policy.OnTimeCreditDelta
	}
	if delta != 0 {
		score, err := s.adjustScore(ctx, repos, loan, delta)
		if err != nil {
			return err
		}
		st.result.CreditScore = score
	}

	if err := repos.Loans().Save(ctx, loan); err != nil {
		return err
	}

	txn := domain.NewTransaction(domain.TransactionTypeLoanRepayment, loan.AccountNumber, "", loan.EMIAmount, domain.TransactionStatusSuccess, s.now())
	txn.Reference = idempotency.EMIKey(loan.ID.String(), st.result.DueDate)
	txn.Description = fmt.Sprintf("installment %d/%d interest %s principal %s",
		loan.InstallmentsPaid, loan.TenureMonths, interest.StringFixed(2), principalPart.StringFixed(2))
	if err := repos.Transactions().Create(ctx, txn); err != nil {
		return err
	}

	outbox.Add(events.TypeObligationSettled, events.ObligationSettled{
		ObligationID:  loan.ID.String(),
		Kind:          KindLoan,
		DueDate:       st.result.DueDate,
		Outcome:       string(domain.OutcomeSettled),
		TransactionID: txn.ID,
		Amount:        loan.EMIAmount,
	})

	st.result.Outcome = domain.OutcomeSettled
	st.result.TransactionID = txn.ID.String()
	st.cache = true
	return nil
}

// recordShortfall handles an installment the account cannot cover. The lock is
// released afterwards so that the next run retries the same due date; inside
// the late window the tier-1 penalty is applied once per due date.
func (s *ObligationService) recordShortfall(ctx context.Context, repos repository.Repositories, loan *domain.Loan, available decimal.Decimal, explicit bool, outbox *events.Outbox, st *settlement) error {
	st.result.Outcome = domain.OutcomeInsufficientFund

	penalize := !explicit && st.result.Stage == domain.StageLate && loan.PenaltyTier < domain.PenaltyTierLate
	if penalize {
		score, err := s.adjustScore(ctx, repos, loan, -s.opts.Policy.LatePenalty)
		if err != nil {
			return err
		}
		loan.PenaltyTier = domain.PenaltyTierLate
		if err := repos.Loans().Save(ctx, loan); err != nil {
			return err
		}
		st.result.CreditScore = score
		st.result.Outcome = domain.OutcomePenalized
	}

	outbox.Add(events.TypePaymentWarning, events.PaymentWarning{
		ObligationID: loan.ID.String(),
		Kind:         KindLoan,
		DueDate:      st.result.DueDate,
		Stage:        string(st.result.Stage),
		Amount:       loan.EMIAmount,
		Available:    available,
		Penalized:    penalize,
	})
	return nil
}

// markMissed records a missed installment and moves the loan to its next due
// date, so the missed date is never evaluated again.
func (s *ObligationService) markMissed(ctx context.Context, repos repository.Repositories, loan *domain.Loan, due time.Time, outbox *events.Outbox, st *settlement) error {
	score, err := s.adjustScore(ctx, repos, loan, -s.opts.Policy.MissedPenalty)
	if err != nil {
		return err
	}

	loan.MissedInstallments++
	loan.PenaltyTier = domain.PenaltyTierNone
	next, _, err := schedule.NextOnDay(due, domain.FrequencyMonthly, loan.DayOfMonth)
	if err != nil {
		return err
	}
	loan.NextDueDate = &next
	if err := repos.Loans().Save(ctx, loan); err != nil {
		return err
	}

	outbox.Add(events.TypeObligationMissed, events.ObligationMissed{
		ObligationID:       loan.ID.String(),
		DueDate:            st.result.DueDate,
		MissedInstallments: loan.MissedInstallments,
		CreditScore:        score,
	})

	st.result.Outcome = domain.OutcomeMissed
	st.result.CreditScore = score
	st.cache = true
	return nil
}

func (s *ObligationService) adjustScore(ctx context.Context, repos repository.Repositories, loan *domain.Loan, delta int) (int, error) {
	score, err := repos.CreditScores().Adjust(ctx, loan.BorrowerID, delta)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, customError.WrapIntegrityFault(KindLoan, loan.ID.String(), fmt.Sprintf("borrower %s not found", loan.BorrowerID))
	}
	return score, err
}

// settleScheduledPayment executes one scheduled payment attempt and advances
// the schedule whatever the attempt's result.
func (s *ObligationService) settleScheduledPayment(ctx context.Context, paymentID uuid.UUID, due, today time.Time, outbox *events.Outbox) (settlement, error) {
	dueStr := utils.FormatDate(due)
	st := settlement{result: domain.SettlementResult{
		ObligationID: paymentID.String(),
		Kind:         KindScheduledPayment,
		DueDate:      dueStr,
		Stage:        s.opts.Policy.Stage(utils.DaysBetween(due, today)),
		ProcessedAt:  s.now(),
	}}

	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		payment, err := repos.ScheduledPayments().LockForUpdate(ctx, paymentID)
		if errors.Is(err, repository.ErrNotFound) {
			return customError.WrapScheduledPaymentNotFound(paymentID.String())
		}
		if err != nil {
			return err
		}

		if payment.Status != domain.ScheduledPaymentActive || payment.NextExecutionDate == nil ||
			utils.DaysBetween(*payment.NextExecutionDate, due) != 0 {
			st.result.Outcome = domain.OutcomeAlreadyProcessed
			return nil
		}
		if !domain.ValidAmount(payment.Amount) {
			return customError.WrapInvalidAmount(payment.Amount.String())
		}

		source, destination, reason, err := s.lockPaymentAccounts(ctx, repos, payment)
		if err != nil {
			return err
		}

		txType := domain.TransactionTypeScheduledPayment
		destNumber := ""
		if payment.IsBillPayment() {
			txType = domain.TransactionTypeBillPayment
		} else {
			destNumber = destination.AccountNumber
		}

		status := domain.TransactionStatusFailed
		available := source.AvailableFunds()
		if reason == "" && source.Debit(payment.Amount) {
			status = domain.TransactionStatusSuccess
			if err := repos.Accounts().Save(ctx, source); err != nil {
				return err
			}
			if destination != nil {
				destination.Credit(payment.Amount)
				if err := repos.Accounts().Save(ctx, destination); err != nil {
					return err
				}
			}
		} else if reason == "" {
			reason = "insufficient funds"
		}

		txn := domain.NewTransaction(txType, source.AccountNumber, destNumber, payment.Amount, status, s.now())
		txn.Reference = idempotency.ScheduledPaymentKey(paymentID.String(), dueStr)
		if payment.BillerReference != nil {
			txn.Description = "biller " + *payment.BillerReference
		}
		if reason != "" {
			txn.Description = reason
		}
		if err := repos.Transactions().Create(ctx, txn); err != nil {
			return err
		}
		st.result.TransactionID = txn.ID.String()

		if status == domain.TransactionStatusSuccess {
			payment.ExecutionCount++
			payment.ConsecutiveFailureCount = 0
			st.result.Outcome = domain.OutcomeSettled
			outbox.Add(events.TypeObligationSettled, events.ObligationSettled{
				ObligationID:  paymentID.String(),
				Kind:          KindScheduledPayment,
				DueDate:       dueStr,
				Outcome:       string(domain.OutcomeSettled),
				TransactionID: txn.ID,
				Amount:        payment.Amount,
			})
		} else {
			payment.ConsecutiveFailureCount++
			st.result.Outcome = domain.OutcomeFailed
			outbox.Add(events.TypePaymentWarning, events.PaymentWarning{
				ObligationID: paymentID.String(),
				Kind:         KindScheduledPayment,
				DueDate:      dueStr,
				Stage:        string(st.result.Stage),
				Amount:       payment.Amount,
				Available:    available,
			})
			if payment.ConsecutiveFailureCount >= s.opts.Policy.MaxConsecutiveFailures || payment.Frequency == domain.FrequencyOneTime {
				payment.Status = domain.ScheduledPaymentFailed
				payment.NextExecutionDate = nil
				outbox.Add(events.TypeScheduledPaymentFailed, events.ScheduledPaymentFailed{
					PaymentID:           paymentID.String(),
					ConsecutiveFailures: payment.ConsecutiveFailureCount,
				})
			}
		}

		if payment.Status == domain.ScheduledPaymentActive {
			next, err := schedule.Advance(due, payment.Frequency, schedule.Bounds{
				AnchorDay:      payment.StartDate.Day(),
				EndDate:        payment.EndDate,
				MaxExecutions:  payment.MaxExecutions,
				ExecutionCount: payment.ExecutionCount,
			})
			if err != nil {
				return customError.WrapIntegrityFault(KindScheduledPayment, paymentID.String(), err.Error())
			}
			if !next.HasNext || next.Exhausted {
				payment.Status = domain.ScheduledPaymentCompleted
				payment.NextExecutionDate = nil
				if st.result.Outcome == domain.OutcomeSettled {
					st.result.Outcome = domain.OutcomeCompleted
				}
			} else {
				payment.NextExecutionDate = &next.Next
			}
		}

		st.cache = true
		return repos.ScheduledPayments().Save(ctx, payment)
	})
	return st, err
}

// lockPaymentAccounts locks the accounts a scheduled payment touches, lowest
// number first. A non-empty reason is a business failure of this attempt.
func (s *ObligationService) lockPaymentAccounts(ctx context.Context, repos repository.Repositories, payment *domain.ScheduledPayment) (source, destination *domain.Account, reason string, err error) {
	numbers := []string{payment.SourceAccount}
	if !payment.IsBillPayment() {
		if payment.DestinationAccount == nil {
			return nil, nil, "", customError.WrapIntegrityFault(KindScheduledPayment, payment.ID.String(), "payment has neither destination account nor biller")
		}
		first, second := lockOrder(payment.SourceAccount, *payment.DestinationAccount)
		numbers = []string{first, second}
	}

	locked := make(map[string]*domain.Account, len(numbers))
	for _, number := range numbers {
		account, err := repos.Accounts().LockForUpdate(ctx, number)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, "", customError.WrapIntegrityFault(KindScheduledPayment, payment.ID.String(), fmt.Sprintf("account %s not found", number))
		}
		if err != nil {
			return nil, nil, "", err
		}
		locked[number] = account
	}

	source = locked[payment.SourceAccount]
	if payment.IsBillPayment() {
		return source, nil, "", nil
	}
	destination = locked[*payment.DestinationAccount]
	if destination.AccountNumber == source.AccountNumber {
		return source, nil, "", customError.WrapIntegrityFault(KindScheduledPayment, payment.ID.String(), "source and destination are the same account")
	}
	if !destination.IsVerified() {
		reason = fmt.Sprintf("destination account %s is %s", destination.AccountNumber, destination.VerificationStatus)
	}
	return source, destination, reason, nil
}

func record(report *domain.CycleReport, st settlement) {
	report.Evaluated++
	switch st.result.Outcome {
	case domain.OutcomeSettled, domain.OutcomeCompleted:
		report.Settled++
	case domain.OutcomeInsufficientFund:
		report.Warned++
	case domain.OutcomePenalized:
		report.Penalized++
	case domain.OutcomeMissed:
		report.Missed++
	case domain.OutcomeFailed:
		report.Failed++
	case domain.OutcomeReminded:
		report.Reminded++
	case domain.OutcomeAlreadyProcessed:
		report.Duplicates++
	case domain.OutcomeContended:
		report.Contended++
	case domain.OutcomeFault:
		report.Faults = append(report.Faults, domain.ObligationFault{
			ObligationID: st.result.ObligationID,
			Kind:         st.result.Kind,
			Reason:       st.fault,
		})
	default:
		report.Skipped++
	}
}

// civilDate returns t's calendar date in loc as midnight UTC, the
// representation used for DATE columns.
func civilDate(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
