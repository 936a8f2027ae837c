package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryRegistry is a process-local Registry. It only deduplicates within one
// instance and is meant for tests and single-node deployments.
type MemoryRegistry struct {
	mu      sync.Mutex
	locks   map[string]time.Time
	results map[string]memEntry
	now     func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		locks:   make(map[string]time.Time),
		results: make(map[string]memEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for expiry tests.
func (m *MemoryRegistry) WithClock(now func() time.Time) *MemoryRegistry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *MemoryRegistry) TryAcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.locks[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryRegistry) GetCachedResult(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.results[key]
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.results, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryRegistry) StoreResult(_ context.Context, key, payload string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results[key] = memEntry{value: payload, expiresAt: m.now().Add(ttl)}
	delete(m.locks, key)
	return nil
}

func (m *MemoryRegistry) ReleaseLock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.locks, key)
	return nil
}

func (m *MemoryRegistry) Ping(ctx context.Context) error { return ctx.Err() }
