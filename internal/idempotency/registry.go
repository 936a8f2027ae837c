// Package idempotency provides the key/value protocol that guarantees a
// financial operation takes effect at most once per key.
package idempotency

import (
	"context"
	"fmt"
	"time"
)

// Default TTLs
const (
	DefaultLockTTL   = 5 * time.Minute
	DefaultResultTTL = 24 * time.Hour
)

// Registry holds processing locks and cached results per idempotency key.
// TryAcquireLock never blocks: it fails immediately when the lock is held.
type Registry interface {
	TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	GetCachedResult(ctx context.Context, key string) (string, bool, error)
	// StoreResult caches payload and releases the processing lock.
	StoreResult(ctx context.Context, key, payload string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// TransferKey scopes a client supplied key to transfers.
func TransferKey(clientKey string) string {
	return "transfer::" + clientKey
}

// EMIKey derives the key of one loan installment due date.
func EMIKey(loanID string, dueDate string) string {
	return fmt.Sprintf("emi::%s::%s", loanID, dueDate)
}

// ScheduledPaymentKey derives the key of one scheduled payment execution date.
func ScheduledPaymentKey(paymentID string, executionDate string) string {
	return fmt.Sprintf("sched::%s::%s", paymentID, executionDate)
}

// DailyCycleKey derives the run lock of the daily cycle for a date.
func DailyCycleKey(date string) string {
	return "daily-cycle::" + date
}
