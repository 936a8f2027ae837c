package repository

import (
	"context"
	"time"

	"github.com/segyhp/funds-engine/internal/domain"
)

const accountColumns = `account_number, owner_id, balance, overdraft_enabled, overdraft_limit, overdraft_used,
	verification_status, created_at, updated_at`

type accountRepository struct {
	db dbtx
}

func (r *accountRepository) LockForUpdate(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1 FOR UPDATE`

	var account domain.Account
	if err := r.db.GetContext(ctx, &account, query, accountNumber); err != nil {
		return nil, mapError(err)
	}
	return &account, nil
}

func (r *accountRepository) FindByAccountNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`

	var account domain.Account
	if err := r.db.GetContext(ctx, &account, query, accountNumber); err != nil {
		return nil, mapError(err)
	}
	return &account, nil
}

func (r *accountRepository) Save(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET balance = $2, overdraft_enabled = $3, overdraft_limit = $4, overdraft_used = $5,
			verification_status = $6, updated_at = $7
		WHERE account_number = $1
	`

	account.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		account.AccountNumber,
		account.Balance,
		account.OverdraftEnabled,
		account.OverdraftLimit,
		account.OverdraftUsed,
		account.VerificationStatus,
		account.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	return expectOneRow(res)
}
