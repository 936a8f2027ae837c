package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/pkg/utils"
)

const scheduledPaymentColumns = `id, source_account, destination_account, biller_reference, amount, frequency,
	start_date, end_date, next_execution_date, execution_count, max_executions, consecutive_failure_count,
	status, created_at, updated_at`

type scheduledPaymentRepository struct {
	db dbtx
}

func (r *scheduledPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledPayment, error) {
	query := `SELECT ` + scheduledPaymentColumns + ` FROM scheduled_payments WHERE id = $1`

	var payment domain.ScheduledPayment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, mapError(err)
	}
	return &payment, nil
}

func (r *scheduledPaymentRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.ScheduledPayment, error) {
	query := `SELECT ` + scheduledPaymentColumns + ` FROM scheduled_payments WHERE id = $1 FOR UPDATE`

	var payment domain.ScheduledPayment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, mapError(err)
	}
	return &payment, nil
}

func (r *scheduledPaymentRepository) ListDue(ctx context.Context, asOf time.Time) ([]*domain.ScheduledPayment, error) {
	query := `
		SELECT ` + scheduledPaymentColumns + `
		FROM scheduled_payments
		WHERE status = $1 AND next_execution_date IS NOT NULL AND next_execution_date <= $2::date
		ORDER BY next_execution_date, id
	`

	var payments []*domain.ScheduledPayment
	if err := r.db.SelectContext(ctx, &payments, query, domain.ScheduledPaymentActive, utils.FormatDate(asOf)); err != nil {
		return nil, mapError(err)
	}
	return payments, nil
}

func (r *scheduledPaymentRepository) Save(ctx context.Context, payment *domain.ScheduledPayment) error {
	query := `
		UPDATE scheduled_payments
		SET next_execution_date = $2, execution_count = $3, consecutive_failure_count = $4, status = $5, updated_at = $6
		WHERE id = $1
	`

	payment.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.NextExecutionDate,
		payment.ExecutionCount,
		payment.ConsecutiveFailureCount,
		payment.Status,
		payment.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	return expectOneRow(res)
}
