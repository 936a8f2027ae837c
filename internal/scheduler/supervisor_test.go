package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/segyhp/funds-engine/internal/domain"
	"github.com/segyhp/funds-engine/internal/idempotency"
	customError "github.com/segyhp/funds-engine/pkg/errors"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	failures int
	today    time.Time
	faults   []domain.ObligationFault
}

func (r *fakeRunner) RunDailyCycle(_ context.Context, today time.Time) (*domain.CycleReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return nil, errors.New("store unavailable")
	}
	return &domain.CycleReport{Date: today.Format("2006-01-02"), Evaluated: 3, Settled: 3, Faults: r.faults}, nil
}

func (r *fakeRunner) Today() time.Time { return r.today }

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var cycleDate = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func newSupervisor(runner *fakeRunner, registry idempotency.Registry, logger *zap.Logger) *Supervisor {
	return NewSupervisor(runner, registry, logger, Config{
		Spec:         "0 5 0 * * *",
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
}

func TestTrigger_RecordsCompletion(t *testing.T) {
	runner := &fakeRunner{today: cycleDate}
	registry := idempotency.NewMemoryRegistry()
	s := newSupervisor(runner, registry, zap.NewNop())

	report, err := s.Trigger(context.Background(), cycleDate)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Settled)

	done, err := s.Completed(context.Background(), cycleDate)
	require.NoError(t, err)
	assert.True(t, done)

	// the scheduled path does not run a completed date again
	s.runScheduled()
	assert.Equal(t, 1, runner.callCount())

	// an explicit trigger may
	_, err = s.Trigger(context.Background(), cycleDate)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.callCount())
}

func TestTrigger_RefusesWhileAnotherInstanceRuns(t *testing.T) {
	runner := &fakeRunner{today: cycleDate}
	registry := idempotency.NewMemoryRegistry()
	s := newSupervisor(runner, registry, zap.NewNop())

	ok, err := registry.TryAcquireLock(context.Background(), idempotency.DailyCycleKey("2024-03-05"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Trigger(context.Background(), cycleDate)
	assert.ErrorIs(t, err, customError.ErrOperationInProgress)
	assert.Zero(t, runner.callCount())
}

func TestTrigger_RetriesFailedCycle(t *testing.T) {
	runner := &fakeRunner{today: cycleDate, failures: 2}
	s := newSupervisor(runner, idempotency.NewMemoryRegistry(), zap.NewNop())

	report, err := s.Trigger(context.Background(), cycleDate)
	require.NoError(t, err)
	assert.NotNil(t, report)
	assert.Equal(t, 3, runner.callCount())
}

func TestTrigger_ReleasesLockWhenRetriesAreExhausted(t *testing.T) {
	runner := &fakeRunner{today: cycleDate, failures: 10}
	registry := idempotency.NewMemoryRegistry()
	s := newSupervisor(runner, registry, zap.NewNop())

	_, err := s.Trigger(context.Background(), cycleDate)
	assert.Error(t, err)
	assert.Equal(t, 4, runner.callCount())

	ok, err := registry.TryAcquireLock(context.Background(), idempotency.DailyCycleKey("2024-03-05"), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTrigger_LogsFaultsForOperators(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	runner := &fakeRunner{today: cycleDate, faults: []domain.ObligationFault{{ObligationID: "L1", Kind: "loan", Reason: "account missing"}}}
	s := newSupervisor(runner, idempotency.NewMemoryRegistry(), zap.New(core))

	_, err := s.Trigger(context.Background(), cycleDate)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("obligation needs operator attention").Len())
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	s := NewSupervisor(&fakeRunner{}, idempotency.NewMemoryRegistry(), zap.NewNop(), Config{Spec: "not a cron"})
	assert.Error(t, s.Start())
}

func TestStartStop(t *testing.T) {
	s := newSupervisor(&fakeRunner{today: cycleDate}, idempotency.NewMemoryRegistry(), zap.NewNop())
	require.NoError(t, s.Start())

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
