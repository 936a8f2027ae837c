package service

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/events"
	"github.com/segyhp/funds-engine/internal/idempotency"
	"github.com/segyhp/funds-engine/internal/observability"
	"github.com/segyhp/funds-engine/internal/repository/memstore"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evs ...events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	store     *memstore.Store
	registry  *idempotency.MemoryRegistry
	publisher *recordingPublisher
	transfers *TransferService
	cycle     *ObligationService
}

func newFixture(t *testing.T, lockTimeout time.Duration, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:     memstore.New(lockTimeout),
		registry:  idempotency.NewMemoryRegistry(),
		publisher: &recordingPublisher{},
	}
	opts.Location = time.UTC
	metrics := observability.NewMetrics()
	f.transfers = NewTransferService(f.store, f.registry, f.publisher, metrics, zap.NewNop(), opts)
	f.cycle = NewObligationService(f.store, f.registry, f.publisher, metrics, zap.NewNop(), opts)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) account(number, balance string, status domain.VerificationStatus) {
	f.store.PutAccount(domain.Account{
		AccountNumber:      number,
		OwnerID:            uuid.New(),
		Balance:            dec(balance),
		VerificationStatus: status,
	})
}

func (f *fixture) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()
	a, ok := f.store.Account(number)
	if !ok {
		t.Fatalf("account %s missing", number)
	}
	return a.Balance
}

func (f *fixture) transactionsOfType(txType domain.TransactionType) []domain.Transaction {
	var out []domain.Transaction
	for _, txn := range f.store.AllTransactions() {
		if txn.Type == txType {
			out = append(out, txn)
		}
	}
	return out
}

// loan registers a borrower with score 700, a verified repayment account and
// an active 12 month loan of 100000 at 12% with an EMI of 5000 due on due.
func (f *fixture) loan(balance string, due time.Time, mutate ...func(*domain.Loan)) domain.Loan {
	borrower := uuid.New()
	f.store.PutBorrower(borrower, 700)

	number := "LN-" + borrower.String()[:8]
	f.store.PutAccount(domain.Account{
		AccountNumber:      number,
		OwnerID:            borrower,
		Balance:            dec(balance),
		VerificationStatus: domain.VerificationVerified,
	})

	loan := domain.Loan{
		ID:                 uuid.New(),
		BorrowerID:         borrower,
		AccountNumber:      number,
		Principal:          dec("100000"),
		InterestRate:       dec("12"),
		TenureMonths:       12,
		EMIAmount:          dec("5000"),
		RemainingPrincipal: dec("100000"),
		NextDueDate:        &due,
		DayOfMonth:         due.Day(),
		AutoDebitEnabled:   true,
		Status:             domain.LoanStatusActive,
	}
	for _, m := range mutate {
		m(&loan)
	}
	f.store.PutLoan(loan)
	return loan
}

func (f *fixture) reloadLoan(t *testing.T, id uuid.UUID) domain.Loan {
	t.Helper()
	l, ok := f.store.Loan(id)
	if !ok {
		t.Fatalf("loan %s missing", id)
	}
	return l
}
