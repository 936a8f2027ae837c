package repository

import (
	"context"
	"database/sql"

	"github.com/segyhp/funds-engine/internal/domain"
)

type transactionRepository struct {
	db dbtx
}

func (r *transactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, source_account, destination_account, amount, type, status, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.SourceAccount,
		tx.DestinationAccount,
		tx.Amount,
		tx.Type,
		tx.Status,
		tx.Reference,
		tx.Description,
		tx.CreatedAt,
	)
	return mapError(err)
}

func (r *transactionRepository) ListByAccount(ctx context.Context, accountNumber string) ([]*domain.Transaction, error) {
	query := `
		SELECT id, source_account, destination_account, amount, type, status, reference, description, created_at
		FROM transactions
		WHERE source_account = $1 OR destination_account = $1
		ORDER BY created_at DESC
	`

	var txs []*domain.Transaction
	if err := r.db.SelectContext(ctx, &txs, query, accountNumber); err != nil {
		return nil, mapError(err)
	}
	return txs, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
