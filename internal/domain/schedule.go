package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency of a recurring obligation
type Frequency string

const (
	FrequencyOneTime   Frequency = "ONE_TIME"
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyBiweekly  Frequency = "BIWEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

type ScheduledPaymentStatus string

const (
	ScheduledPaymentActive    ScheduledPaymentStatus = "ACTIVE"
	ScheduledPaymentPaused    ScheduledPaymentStatus = "PAUSED"
	ScheduledPaymentCompleted ScheduledPaymentStatus = "COMPLETED"
	ScheduledPaymentCancelled ScheduledPaymentStatus = "CANCELLED"
	ScheduledPaymentFailed    ScheduledPaymentStatus = "FAILED"
)

// ScheduledPayment is a recurring transfer or bill payment set up by the account holder.
// Exactly one of DestinationAccount and BillerReference is set.
type ScheduledPayment struct {
	ID                      uuid.UUID              `json:"id" db:"id"`
	SourceAccount           string                 `json:"source_account" db:"source_account"`
	DestinationAccount      *string                `json:"destination_account,omitempty" db:"destination_account"`
	BillerReference         *string                `json:"biller_reference,omitempty" db:"biller_reference"`
	Amount                  decimal.Decimal        `json:"amount" db:"amount"`
	Frequency               Frequency              `json:"frequency" db:"frequency"`
	StartDate               time.Time              `json:"start_date" db:"start_date"`
	EndDate                 *time.Time             `json:"end_date,omitempty" db:"end_date"`
	NextExecutionDate       *time.Time             `json:"next_execution_date,omitempty" db:"next_execution_date"`
	ExecutionCount          int                    `json:"execution_count" db:"execution_count"`
	MaxExecutions           int                    `json:"max_executions" db:"max_executions"` // 0 = unbounded
	ConsecutiveFailureCount int                    `json:"consecutive_failure_count" db:"consecutive_failure_count"`
	Status                  ScheduledPaymentStatus `json:"status" db:"status"`
	CreatedAt               time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time              `json:"updated_at" db:"updated_at"`
}

// IsBillPayment reports whether the payment goes to an external biller.
func (p *ScheduledPayment) IsBillPayment() bool {
	return p.DestinationAccount == nil && p.BillerReference != nil
}
