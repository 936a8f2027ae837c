// Package events carries domain events from the engines to notification
// consumers. Events are collected in an Outbox while a storage transaction is
// open and handed to a Publisher only after it commits.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type is the routing name of an event.
type Type string

const (
	TypeTransferCompleted      Type = "transfer.completed"
	TypeObligationSettled      Type = "obligation.settled"
	TypeObligationMissed       Type = "obligation.missed"
	TypePaymentWarning         Type = "obligation.payment_warning"
	TypeReminder               Type = "obligation.reminder"
	TypeObligationFault        Type = "obligation.fault"
	TypeScheduledPaymentFailed Type = "scheduled_payment.failed"
)

// Event is the envelope delivered to a Sink.
type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       Type        `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// New wraps a payload in an envelope with a fresh id.
func New(eventType Type, payload interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// TransferCompleted is published for every committed transfer, successful or not.
type TransferCompleted struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	FromAccount   string          `json:"from_account"`
	ToAccount     string          `json:"to_account"`
	Amount        decimal.Decimal `json:"amount"`
	Success       bool            `json:"success"`
}

// ObligationSettled is published when an installment or scheduled payment is paid.
type ObligationSettled struct {
	ObligationID  string          `json:"obligation_id"`
	Kind          string          `json:"kind"`
	DueDate       string          `json:"due_date"`
	Outcome       string          `json:"outcome"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// ObligationMissed is published when a due date passes the late threshold unpaid.
type ObligationMissed struct {
	ObligationID       string `json:"obligation_id"`
	DueDate            string `json:"due_date"`
	MissedInstallments int    `json:"missed_installments"`
	CreditScore        int    `json:"credit_score"`
}

// PaymentWarning is published when a settlement attempt found insufficient funds.
type PaymentWarning struct {
	ObligationID string          `json:"obligation_id"`
	Kind         string          `json:"kind"`
	DueDate      string          `json:"due_date"`
	Stage        string          `json:"stage"`
	Amount       decimal.Decimal `json:"amount"`
	Available    decimal.Decimal `json:"available"`
	Penalized    bool            `json:"penalized"`
}

// Reminder is published instead of a settlement attempt when auto-debit is off.
type Reminder struct {
	ObligationID string          `json:"obligation_id"`
	DueDate      string          `json:"due_date"`
	Amount       decimal.Decimal `json:"amount"`
}

// ObligationFault goes to the operator channel.
type ObligationFault struct {
	ObligationID string `json:"obligation_id"`
	Kind         string `json:"kind"`
	Reason       string `json:"reason"`
}

// ScheduledPaymentFailed is published when a scheduled payment is disabled after repeated failures.
type ScheduledPaymentFailed struct {
	PaymentID           string `json:"payment_id"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Sink delivers one event to an external channel.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Publisher accepts committed events. Implementations must not block the caller
// and must not report delivery failures back to it.
type Publisher interface {
	Publish(events ...Event)
}

// Outbox collects events produced inside a storage transaction. It is not safe
// for concurrent use; create one per transaction attempt.
type Outbox struct {
	events []Event
}

// Add queues an event.
func (o *Outbox) Add(eventType Type, payload interface{}) {
	o.events = append(o.events, New(eventType, payload))
}

// Events returns the queued events in insertion order.
func (o *Outbox) Events() []Event {
	return o.events
}

// Flush hands the queued events to p and empties the outbox.
func (o *Outbox) Flush(p Publisher) {
	if len(o.events) == 0 || p == nil {
		return
	}
	p.Publish(o.events...)
	o.events = nil
}
