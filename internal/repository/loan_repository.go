package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/pkg/utils"
)

const loanColumns = `id, borrower_id, account_number, principal, interest_rate, tenure_months, emi_amount,
	installments_paid, missed_installments, remaining_principal, next_due_date, day_of_month,
	auto_debit_enabled, last_paid_date, penalty_tier, status, created_at, updated_at`

type loanRepository struct {
	db dbtx
}

func (r *loanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`

	var loan domain.Loan
	if err := r.db.GetContext(ctx, &loan, query, id); err != nil {
		return nil, mapError(err)
	}
	return &loan, nil
}

func (r *loanRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`

	var loan domain.Loan
	if err := r.db.GetContext(ctx, &loan, query, id); err != nil {
		return nil, mapError(err)
	}
	return &loan, nil
}

func (r *loanRepository) ListDue(ctx context.Context, asOf time.Time) ([]*domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE status = $1 AND next_due_date IS NOT NULL AND next_due_date <= $2::date
		ORDER BY next_due_date, id
	`

	var loans []*domain.Loan
	if err := r.db.SelectContext(ctx, &loans, query, domain.LoanStatusActive, utils.FormatDate(asOf)); err != nil {
		return nil, mapError(err)
	}
	return loans, nil
}

func (r *loanRepository) Save(ctx context.Context, loan *domain.Loan) error {
	query := `
		UPDATE loans
		SET emi_amount = $2, installments_paid = $3, missed_installments = $4, remaining_principal = $5,
			next_due_date = $6, auto_debit_enabled = $7, last_paid_date = $8, penalty_tier = $9,
			status = $10, updated_at = $11
		WHERE id = $1
	`

	loan.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.EMIAmount,
		loan.InstallmentsPaid,
		loan.MissedInstallments,
		loan.RemainingPrincipal,
		loan.NextDueDate,
		loan.AutoDebitEnabled,
		loan.LastPaidDate,
		loan.PenaltyTier,
		loan.Status,
		loan.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	return expectOneRow(res)
}
