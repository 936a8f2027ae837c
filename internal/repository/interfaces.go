package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/funds-engine/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrLockTimeout is returned when a row lock is not granted in time.
	ErrLockTimeout = errors.New("lock wait timeout")
)

// AccountRepository defines the interface for account data operations
type AccountRepository interface {
	// LockForUpdate reads the account and holds its row lock until the enclosing transaction ends
	LockForUpdate(ctx context.Context, accountNumber string) (*domain.Account, error)

	// FindByAccountNumber reads an account without locking it
	FindByAccountNumber(ctx context.Context, accountNumber string) (*domain.Account, error)

	// Save persists balance, overdraft and verification state
	Save(ctx context.Context, account *domain.Account) error
}

// TransactionRepository defines the interface for the append-only ledger
type TransactionRepository interface {
	// Create inserts a ledger entry
	Create(ctx context.Context, tx *domain.Transaction) error

	// ListByAccount returns entries where the account is source or destination, newest first
	ListByAccount(ctx context.Context, accountNumber string) ([]*domain.Transaction, error)
}

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// GetByID retrieves a loan by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)

	// LockForUpdate reads the loan and holds its row lock until the enclosing transaction ends
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Loan, error)

	// ListDue returns active loans whose next due date is on or before asOf
	ListDue(ctx context.Context, asOf time.Time) ([]*domain.Loan, error)

	// Save persists repayment progress
	Save(ctx context.Context, loan *domain.Loan) error
}

// ScheduledPaymentRepository defines the interface for scheduled payment data operations
type ScheduledPaymentRepository interface {
	// GetByID retrieves a scheduled payment
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledPayment, error)

	// LockForUpdate reads the payment and holds its row lock until the enclosing transaction ends
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.ScheduledPayment, error)

	// ListDue returns active payments whose next execution date is on or before asOf
	ListDue(ctx context.Context, asOf time.Time) ([]*domain.ScheduledPayment, error)

	// Save persists execution progress
	Save(ctx context.Context, payment *domain.ScheduledPayment) error
}

// CreditScoreRepository stores the borrower credit score
type CreditScoreRepository interface {
	// Get returns the current score of a borrower
	Get(ctx context.Context, borrowerID uuid.UUID) (int, error)

	// Adjust applies a relative delta clamped to [MinCreditScore, MaxCreditScore] and returns the new score
	Adjust(ctx context.Context, borrowerID uuid.UUID, delta int) (int, error)
}

// Repositories bundles the repositories bound to one connection or transaction
type Repositories interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	Loans() LoanRepository
	ScheduledPayments() ScheduledPaymentRepository
	CreditScores() CreditScoreRepository
}

// Store is the authoritative relational store. Repositories returned directly
// run in autocommit mode; WithinTx runs fn in one transaction that commits when
// fn returns nil and rolls back otherwise. Row locks taken inside fn are held
// until the transaction ends.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	Ping(ctx context.Context) error
}
