package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeTransfer         TransactionType = "TRANSFER"
	TransactionTypeLoanRepayment    TransactionType = "LOAN_REPAYMENT"
	TransactionTypeLoanPenalty      TransactionType = "LOAN_PENALTY"
	TransactionTypeLoanDisbursement TransactionType = "LOAN_DISBURSEMENT"
	TransactionTypeScheduledPayment TransactionType = "SCHEDULED_PAYMENT"
	TransactionTypeBillPayment      TransactionType = "BILL_PAYMENT"
)

type TransactionStatus string

const (
	TransactionStatusSuccess TransactionStatus = "SUCCESS"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// Transaction is an append-only ledger entry. It is never updated after insert.
type Transaction struct {
	ID                 uuid.UUID         `json:"id" db:"id"`
	SourceAccount      *string           `json:"source_account,omitempty" db:"source_account"`
	DestinationAccount *string           `json:"destination_account,omitempty" db:"destination_account"`
	Amount             decimal.Decimal   `json:"amount" db:"amount"`
	Type               TransactionType   `json:"type" db:"type"`
	Status             TransactionStatus `json:"status" db:"status"`
	Reference          string            `json:"reference,omitempty" db:"reference"`
	Description        string            `json:"description,omitempty" db:"description"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
}

// NewTransaction builds a ledger entry stamped with a fresh id.
func NewTransaction(txType TransactionType, from, to string, amount decimal.Decimal, status TransactionStatus, now time.Time) *Transaction {
	tx := &Transaction{
		ID:        uuid.New(),
		Amount:    amount,
		Type:      txType,
		Status:    status,
		CreatedAt: now,
	}
	if from != "" {
		tx.SourceAccount = &from
	}
	if to != "" {
		tx.DestinationAccount = &to
	}
	return tx
}

// AmountScale is the number of decimal places money is stored with.
const AmountScale = 2

// ValidAmount reports whether d is positive and representable at AmountScale.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(AmountScale))
}

// TransferRequest is the client-facing transfer command.
type TransferRequest struct {
	FromAccount    string          `json:"from_account" validate:"required"`
	ToAccount      string          `json:"to_account" validate:"required,nefield=FromAccount"`
	Amount         decimal.Decimal `json:"amount" validate:"required,gt=0"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// TransferResult is the recorded outcome of a transfer. It is what gets cached
// under the idempotency key and replayed verbatim on retries.
type TransferResult struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	FromAccount   string            `json:"from_account"`
	ToAccount     string            `json:"to_account"`
	Amount        decimal.Decimal   `json:"amount"`
	NewBalance    decimal.Decimal   `json:"new_balance"`
	Message       string            `json:"message,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Replayed      bool              `json:"replayed"`
}
