package service

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/idempotency"
	"github.com/segyhp/funds-engine/internal/repository"
)

var tracer = otel.Tracer("service/funds")

const (
	defaultLockRetryAttempts = 3
	defaultLockRetryBackoff  = 50 * time.Millisecond
	defaultWorkers           = 8
)

// Options tune both engines. Zero values fall back to defaults.
type Options struct {
	LockRetryAttempts int
	LockRetryBackoff  time.Duration
	LockTTL           time.Duration
	ResultTTL         time.Duration
	Workers           int
	Policy            domain.PenaltyPolicy
	Location          *time.Location
}

func (o Options) withDefaults() Options {
	if o.LockRetryAttempts <= 0 {
		o.LockRetryAttempts = defaultLockRetryAttempts
	}
	if o.LockRetryBackoff <= 0 {
		o.LockRetryBackoff = defaultLockRetryBackoff
	}
	if o.LockTTL <= 0 {
		o.LockTTL = idempotency.DefaultLockTTL
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = idempotency.DefaultResultTTL
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.Policy == (domain.PenaltyPolicy{}) {
		o.Policy = domain.DefaultPenaltyPolicy()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

func isLockTimeout(err error) bool {
	return errors.Is(err, repository.ErrLockTimeout)
}

// lockOrder returns the two account numbers lowest first.
func lockOrder(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
