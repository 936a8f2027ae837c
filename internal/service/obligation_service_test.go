package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/events"
	"github.com/segyhp/funds-engine/internal/idempotency"
	customError "github.com/segyhp/funds-engine/pkg/errors"
)

var today = date(2024, 3, 5)

func TestRunDailyCycle_OnTimeInsufficientFundsWarnsWithoutPenalty(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("3000", today)

	report, err := f.cycle.RunDailyCycle(context.Background(), today)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Warned)

	got := f.reloadLoan(t, loan.ID)
	assert.Equal(t, 0, got.InstallmentsPaid)
	assert.Equal(t, domain.PenaltyTierNone, got.PenaltyTier)
	assert.True(t, got.NextDueDate.Equal(today))
	assert.Equal(t, 700, f.store.CreditScore(loan.BorrowerID))
	assert.True(t, f.balance(t, loan.AccountNumber).Equal(dec("3000")))

	warnings := f.publisher.ofType(events.TypePaymentWarning)
	require.Len(t, warnings, 1)
	assert.False(t, warnings[0].Payload.(events.PaymentWarning).Penalized)

	// not final: the next run may try again
	ok, err := f.registry.TryAcquireLock(context.Background(), idempotency.EMIKey(loan.ID.String(), "2024-03-05"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunDailyCycle_MissedInstallmentIsPenalizedOnce(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	due := today.AddDate(0, 0, -10)
	loan := f.loan("3000", due)

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Missed)

	got := f.reloadLoan(t, loan.ID)
	assert.Equal(t, 1, got.MissedInstallments)
	assert.Equal(t, 0, got.InstallmentsPaid)
	assert.True(t, got.NextDueDate.Equal(date(2024, 3, 24)))
	assert.Equal(t, 675, f.store.CreditScore(loan.BorrowerID))
	assert.True(t, f.balance(t, loan.AccountNumber).Equal(dec("3000")), "no settlement is attempted")
	require.Len(t, f.publisher.ofType(events.TypeObligationMissed), 1)

	report, err = f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Missed)
	assert.Equal(t, 675, f.store.CreditScore(loan.BorrowerID))

	// even with the result cache gone the due date is not evaluated again
	fresh := NewObligationService(f.store, idempotency.NewMemoryRegistry(), f.publisher, nil, nil, Options{Location: time.UTC})
	report, err = fresh.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Evaluated)
	assert.Equal(t, 675, f.store.CreditScore(loan.BorrowerID))
	assert.Equal(t, 1, f.reloadLoan(t, loan.ID).MissedInstallments)
}

func TestRunDailyCycle_LatePenaltyAppliedOncePerDueDate(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("3000", today.AddDate(0, 0, -4))

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Penalized)
	assert.Equal(t, 690, f.store.CreditScore(loan.BorrowerID))
	assert.Equal(t, domain.PenaltyTierLate, f.reloadLoan(t, loan.ID).PenaltyTier)

	report, err = f.cycle.RunDailyCycle(context.Background(), today.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Warned)
	assert.Equal(t, 0, report.Penalized)
	assert.Equal(t, 690, f.store.CreditScore(loan.BorrowerID))
}

func TestRunDailyCycle_OnTimeSettlement(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("10000", today)

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)

	got := f.reloadLoan(t, loan.ID)
	assert.Equal(t, 1, got.InstallmentsPaid)
	assert.True(t, got.RemainingPrincipal.Equal(dec("96000")), "got %s", got.RemainingPrincipal)
	assert.True(t, got.NextDueDate.Equal(date(2024, 4, 5)))
	require.NotNil(t, got.LastPaidDate)
	assert.True(t, got.LastPaidDate.Equal(today))
	assert.True(t, f.balance(t, loan.AccountNumber).Equal(dec("5000")))
	assert.Equal(t, 702, f.store.CreditScore(loan.BorrowerID))

	repayments := f.transactionsOfType(domain.TransactionTypeLoanRepayment)
	require.Len(t, repayments, 1)
	assert.Equal(t, domain.TransactionStatusSuccess, repayments[0].Status)
	require.Len(t, f.publisher.ofType(events.TypeObligationSettled), 1)

	report, err = f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Settled)
	assert.True(t, f.balance(t, loan.AccountNumber).Equal(dec("5000")))
	assert.Len(t, f.transactionsOfType(domain.TransactionTypeLoanRepayment), 1)
}

func TestRunDailyCycle_LateSettlementHasNoScoreChange(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("10000", today.AddDate(0, 0, -5), func(l *domain.Loan) { l.PenaltyTier = domain.PenaltyTierLate })

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, 700, f.store.CreditScore(loan.BorrowerID))
	assert.Equal(t, domain.PenaltyTierNone, f.reloadLoan(t, loan.ID).PenaltyTier)
}

func TestRunDailyCycle_SettlementUsesOverdraftHeadroom(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("2000", today)
	acct, _ := f.store.Account(loan.AccountNumber)
	acct.OverdraftEnabled = true
	acct.OverdraftLimit = dec("5000")
	f.store.PutAccount(acct)

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)

	acct, _ = f.store.Account(loan.AccountNumber)
	assert.True(t, acct.Balance.IsZero())
	assert.True(t, acct.OverdraftUsed.Equal(dec("3000")))
}

func TestRunDailyCycle_FinalInstallmentClosesLoan(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("10000", today, func(l *domain.Loan) {
		l.InstallmentsPaid = 11
		l.RemainingPrincipal = dec("4950")
	})

	_, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)

	got := f.reloadLoan(t, loan.ID)
	assert.Equal(t, domain.LoanStatusFullyPaid, got.Status)
	assert.True(t, got.RemainingPrincipal.IsZero())
	assert.Nil(t, got.NextDueDate)
	assert.Equal(t, 12, got.InstallmentsPaid)
}

func TestRunDailyCycle_AutoDebitDisabledOnlyReminds(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("10000", today, func(l *domain.Loan) { l.AutoDebitEnabled = false })

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)
	assert.True(t, f.balance(t, loan.AccountNumber).Equal(dec("10000")))
	assert.Equal(t, 0, f.reloadLoan(t, loan.ID).InstallmentsPaid)
	assert.Len(t, f.publisher.ofType(events.TypeReminder), 1)
}

func TestRunDailyCycle_MissingAccountIsAnIntegrityFault(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("10000", today, func(l *domain.Loan) { l.AccountNumber = "GONE" })
	healthy := f.loan("10000", today)

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)

	require.Len(t, report.Faults, 1)
	assert.Equal(t, loan.ID.String(), report.Faults[0].ObligationID)
	assert.Contains(t, report.Faults[0].Reason, "GONE")
	assert.Equal(t, 1, report.Settled, "other obligations are still processed")
	assert.Equal(t, 1, f.reloadLoan(t, healthy.ID).InstallmentsPaid)
	assert.Equal(t, 0, f.reloadLoan(t, loan.ID).InstallmentsPaid)
	assert.Len(t, f.publisher.ofType(events.TypeObligationFault), 1)
}

func TestRunDailyCycle_InvalidInstallmentIsSkipped(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("10000", today, func(l *domain.Loan) { l.EMIAmount = dec("0") })

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, f.balance(t, loan.AccountNumber).Equal(dec("10000")))
}

func TestRunDailyCycle_SkipsObligationLockedByAnotherWorker(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("10000", today)

	ok, err := f.registry.TryAcquireLock(context.Background(), idempotency.EMIKey(loan.ID.String(), "2024-03-05"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Contended)
	assert.Equal(t, 0, f.reloadLoan(t, loan.ID).InstallmentsPaid)
}

func TestRunDailyCycle_OverlappingTriggersChargeOnce(t *testing.T) {
	f := newFixture(t, 2*time.Second, Options{Workers: 4})
	var loans []domain.Loan
	for i := 0; i < 10; i++ {
		loans = append(loans, f.loan("10000", today))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.cycle.RunDailyCycle(context.Background(), today)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.transactionsOfType(domain.TransactionTypeLoanRepayment), len(loans))
	for _, l := range loans {
		assert.True(t, f.balance(t, l.AccountNumber).Equal(dec("5000")))
		assert.Equal(t, 1, f.reloadLoan(t, l.ID).InstallmentsPaid)
		assert.Equal(t, 702, f.store.CreditScore(l.BorrowerID))
	}
}

func TestRunDailyCycle_CreditScoreStaysInBounds(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("0", today.AddDate(0, 0, -8))
	f.store.PutBorrower(loan.BorrowerID, 310)

	_, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, domain.MinCreditScore, f.store.CreditScore(loan.BorrowerID))
}

func TestSettleLoanEarly(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("10000", today.AddDate(0, 0, 10))
	f.store.PutBorrower(loan.BorrowerID, 898)

	result, err := f.cycle.SettleLoanEarly(context.Background(), loan.ID, today)
	require.NoError(t, err)
	assert.Equal(t, domain.StageEarly, result.Stage)
	assert.Equal(t, domain.OutcomeSettled, result.Outcome)
	assert.Equal(t, domain.MaxCreditScore, result.CreditScore)
	assert.Equal(t, domain.MaxCreditScore, f.store.CreditScore(loan.BorrowerID))
	assert.True(t, f.balance(t, loan.AccountNumber).Equal(dec("5000")))

	// the loan moved to its next due date; the settled one is not charged again by the cycle
	report, err := f.cycle.RunDailyCycle(context.Background(), today.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Evaluated)
	assert.Len(t, f.transactionsOfType(domain.TransactionTypeLoanRepayment), 1)
}

func TestSettleLoanEarly_Errors(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	closed := f.loan("10000", today, func(l *domain.Loan) { l.Status = domain.LoanStatusFullyPaid })

	_, err := f.cycle.SettleLoanEarly(context.Background(), uuid.New(), today)
	assert.ErrorIs(t, err, customError.ErrLoanNotFound)

	_, err = f.cycle.SettleLoanEarly(context.Background(), closed.ID, today)
	assert.ErrorIs(t, err, customError.ErrLoanNotActive)
}

func TestSettleLoanEarly_InsufficientFundsIsNotPenalized(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("100", today.AddDate(0, 0, -5))

	result, err := f.cycle.SettleLoanEarly(context.Background(), loan.ID, today)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInsufficientFund, result.Outcome)
	assert.Equal(t, 700, f.store.CreditScore(loan.BorrowerID))
}

func TestRunDailyCycle_ScheduledBillFailsThreeTimes(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	f.account("SRC", "0", domain.VerificationVerified)
	start := date(2024, 1, 5)
	biller := "ELECTRICITY-001"
	payment := domain.ScheduledPayment{
		ID:                uuid.New(),
		SourceAccount:     "SRC",
		BillerReference:   &biller,
		Amount:            dec("1000"),
		Frequency:         domain.FrequencyMonthly,
		StartDate:         start,
		NextExecutionDate: &start,
		Status:            domain.ScheduledPaymentActive,
	}
	f.store.PutScheduledPayment(payment)

	for i, run := range []time.Time{date(2024, 1, 5), date(2024, 2, 5), date(2024, 3, 5)} {
		report, err := f.cycle.RunDailyCycle(context.Background(), run)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed, "run %d", i+1)
	}

	got, _ := f.store.ScheduledPayment(payment.ID)
	assert.Equal(t, domain.ScheduledPaymentFailed, got.Status)
	assert.Equal(t, 3, got.ConsecutiveFailureCount)
	assert.Nil(t, got.NextExecutionDate)
	assert.Len(t, f.publisher.ofType(events.TypeScheduledPaymentFailed), 1)

	report, err := f.cycle.RunDailyCycle(context.Background(), date(2024, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Evaluated)

	bills := f.transactionsOfType(domain.TransactionTypeBillPayment)
	assert.Len(t, bills, 3)
	for _, b := range bills {
		assert.Equal(t, domain.TransactionStatusFailed, b.Status)
	}
}

func TestRunDailyCycle_ScheduledTransfer(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	f.account("SRC", "5000", domain.VerificationVerified)
	f.account("DST", "0", domain.VerificationVerified)
	dst := "DST"
	payment := domain.ScheduledPayment{
		ID:                      uuid.New(),
		SourceAccount:           "SRC",
		DestinationAccount:      &dst,
		Amount:                  dec("1500"),
		Frequency:               domain.FrequencyWeekly,
		StartDate:               today,
		NextExecutionDate:       &today,
		MaxExecutions:           2,
		ConsecutiveFailureCount: 2,
		Status:                  domain.ScheduledPaymentActive,
	}
	f.store.PutScheduledPayment(payment)

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)

	got, _ := f.store.ScheduledPayment(payment.ID)
	assert.Equal(t, 1, got.ExecutionCount)
	assert.Equal(t, 0, got.ConsecutiveFailureCount)
	assert.Equal(t, domain.ScheduledPaymentActive, got.Status)
	assert.True(t, got.NextExecutionDate.Equal(date(2024, 3, 12)))
	assert.True(t, f.balance(t, "SRC").Equal(dec("3500")))
	assert.True(t, f.balance(t, "DST").Equal(dec("1500")))

	_, err = f.cycle.RunDailyCycle(context.Background(), date(2024, 3, 12))
	require.NoError(t, err)

	got, _ = f.store.ScheduledPayment(payment.ID)
	assert.Equal(t, 2, got.ExecutionCount)
	assert.Equal(t, domain.ScheduledPaymentCompleted, got.Status)
	assert.Nil(t, got.NextExecutionDate)
	assert.Len(t, f.transactionsOfType(domain.TransactionTypeScheduledPayment), 2)
}

func TestRunDailyCycle_ScheduledTransferToUnverifiedAccountFails(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	f.account("SRC", "5000", domain.VerificationVerified)
	f.account("DST", "0", domain.VerificationSuspended)
	dst := "DST"
	payment := domain.ScheduledPayment{
		ID:                 uuid.New(),
		SourceAccount:      "SRC",
		DestinationAccount: &dst,
		Amount:             dec("100"),
		Frequency:          domain.FrequencyDaily,
		StartDate:          today,
		NextExecutionDate:  &today,
		Status:             domain.ScheduledPaymentActive,
	}
	f.store.PutScheduledPayment(payment)

	report, err := f.cycle.RunDailyCycle(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, f.balance(t, "SRC").Equal(dec("5000")))

	got, _ := f.store.ScheduledPayment(payment.ID)
	assert.Equal(t, 1, got.ConsecutiveFailureCount)
	assert.True(t, got.NextExecutionDate.Equal(date(2024, 3, 6)))
}

func TestRunDailyCycle_MonthlyPaymentKeepsStartDay(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	f.account("SRC", "10000", domain.VerificationVerified)
	start := date(2024, 1, 31)
	biller := "RENT-31"
	payment := domain.ScheduledPayment{
		ID:                uuid.New(),
		SourceAccount:     "SRC",
		BillerReference:   &biller,
		Amount:            dec("100"),
		Frequency:         domain.FrequencyMonthly,
		StartDate:         start,
		NextExecutionDate: &start,
		Status:            domain.ScheduledPaymentActive,
	}
	f.store.PutScheduledPayment(payment)

	expected := []time.Time{date(2024, 2, 29), date(2024, 3, 31), date(2024, 4, 30)}
	run := start
	for _, want := range expected {
		report, err := f.cycle.RunDailyCycle(context.Background(), run)
		require.NoError(t, err)
		require.Equal(t, 1, report.Settled, "run on %s", run.Format("2006-01-02"))

		got, _ := f.store.ScheduledPayment(payment.ID)
		require.NotNil(t, got.NextExecutionDate)
		assert.True(t, got.NextExecutionDate.Equal(want), "after %s got %s", run.Format("2006-01-02"), got.NextExecutionDate)
		run = *got.NextExecutionDate
	}
}

func TestRunDailyCycle_OneTimePaymentIsTerminal(t *testing.T) {
	tests := []struct {
		name       string
		balance    string
		wantStatus domain.ScheduledPaymentStatus
		settled    int
		failed     int
		txStatus   domain.TransactionStatus
	}{
		{name: "success completes", balance: "500", wantStatus: domain.ScheduledPaymentCompleted, settled: 1, txStatus: domain.TransactionStatusSuccess},
		{name: "failure fails immediately", balance: "50", wantStatus: domain.ScheduledPaymentFailed, failed: 1, txStatus: domain.TransactionStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Second, Options{})
			f.account("SRC", tt.balance, domain.VerificationVerified)
			biller := "INSURANCE-7"
			payment := domain.ScheduledPayment{
				ID:                uuid.New(),
				SourceAccount:     "SRC",
				BillerReference:   &biller,
				Amount:            dec("200"),
				Frequency:         domain.FrequencyOneTime,
				StartDate:         today,
				NextExecutionDate: &today,
				Status:            domain.ScheduledPaymentActive,
			}
			f.store.PutScheduledPayment(payment)

			report, err := f.cycle.RunDailyCycle(context.Background(), today)
			require.NoError(t, err)
			assert.Equal(t, tt.settled, report.Settled)
			assert.Equal(t, tt.failed, report.Failed)

			got, _ := f.store.ScheduledPayment(payment.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Nil(t, got.NextExecutionDate)

			bills := f.transactionsOfType(domain.TransactionTypeBillPayment)
			require.Len(t, bills, 1)
			assert.Equal(t, tt.txStatus, bills[0].Status)

			report, err = f.cycle.RunDailyCycle(context.Background(), today.AddDate(0, 0, 1))
			require.NoError(t, err)
			assert.Equal(t, 0, report.Evaluated)
		})
	}
}

func TestRunDailyCycle_RejectsFutureDate(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	f.cycle.now = func() time.Time { return today.Add(10 * time.Hour) }
	loan := f.loan("3000", today.AddDate(0, 0, 20))

	report, err := f.cycle.RunDailyCycle(context.Background(), today.AddDate(0, 0, 30))

	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, customError.ErrFutureCycleDate)
	assert.Equal(t, 700, f.store.CreditScore(loan.BorrowerID))
	assert.Equal(t, 0, f.reloadLoan(t, loan.ID).MissedInstallments)
	assert.Zero(t, f.publisher.count())
}

func TestRunDailyCycle_CancelledContextSkipsObligations(t *testing.T) {
	f := newFixture(t, time.Second, Options{})
	loan := f.loan("9000", today)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.cycle.RunDailyCycle(ctx, today)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.reloadLoan(t, loan.ID).InstallmentsPaid)
	assert.True(t, f.balance(t, loan.AccountNumber).Equal(dec("9000")))
}

func TestCivilDate(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 20:00 UTC on Mar 4 is already Mar 5 in Kolkata
	got := civilDate(time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC), kolkata)
	assert.True(t, got.Equal(date(2024, 3, 5)))
}
