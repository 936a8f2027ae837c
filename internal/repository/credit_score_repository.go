package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/segyhp/funds-engine/internal/domain"
)

type creditScoreRepository struct {
	db dbtx
}

func (r *creditScoreRepository) Get(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	var score int
	err := r.db.GetContext(ctx, &score, `SELECT credit_score FROM borrowers WHERE id = $1`, borrowerID)
	return score, mapError(err)
}

// Adjust is a single UPDATE so concurrent adjustments never lose a delta.
func (r *creditScoreRepository) Adjust(ctx context.Context, borrowerID uuid.UUID, delta int) (int, error) {
	query := `
		UPDATE borrowers
		SET credit_score = LEAST($3, GREATEST($2, credit_score + $4)), updated_at = NOW()
		WHERE id = $1
		RETURNING credit_score
	`

	var score int
	err := r.db.GetContext(ctx, &score, query, borrowerID, domain.MinCreditScore, domain.MaxCreditScore, delta)
	return score, mapError(err)
}
