package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLSTATE lock_not_available, raised when lock_timeout elapses.
const pqLockNotAvailable = "55P03"

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type pgRepositories struct {
	db dbtx
}

func (r *pgRepositories) Accounts() AccountRepository { return &accountRepository{db: r.db} }
func (r *pgRepositories) Transactions() TransactionRepository { return &transactionRepository{db: r.db} }
func (r *pgRepositories) Loans() LoanRepository { return &loanRepository{db: r.db} }
func (r *pgRepositories) ScheduledPayments() ScheduledPaymentRepository { return &scheduledPaymentRepository{db: r.db} }
func (r *pgRepositories) CreditScores() CreditScoreRepository { return &creditScoreRepository{db: r.db} }

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pgRepositories
	sqlDB       *sqlx.DB
	lockTimeout time.Duration
}

// NewPostgresStore wraps db. lockTimeout bounds every row lock wait inside WithinTx.
func NewPostgresStore(db *sqlx.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		pgRepositories: pgRepositories{db: db},
		sqlDB:          db,
		lockTimeout:    lockTimeout,
	}
}

// WithinTx runs fn inside a READ COMMITTED transaction with a bounded lock wait.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := s.sqlDB.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mapError(err)
		}
	}

	if err := fn(ctx, &pgRepositories{db: tx}); err != nil {
		return mapError(err)
	}

	return mapError(tx.Commit())
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqLockNotAvailable {
		return fmt.Errorf("%w: %s", ErrLockTimeout, pqErr.Message)
	}
	return err
}
