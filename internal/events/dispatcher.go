package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/segyhp/funds-engine/internal/observability"
	"github.com/segyhp/funds-engine/internal/resilience"
)

const (
	defaultBufferSize     = 1024
	defaultPublishTimeout = 5 * time.Second
)

// ErrDispatcherStopped is returned by Stop when it is called twice.
var ErrDispatcherStopped = errors.New("dispatcher already stopped")

// Dispatcher is an asynchronous Publisher. Events are queued on a bounded
// buffer and delivered by a single worker through a circuit breaker. Delivery
// failures and overflow are logged and counted, then dropped.
type Dispatcher struct {
	sink           Sink
	breaker        *gobreaker.CircuitBreaker
	logger         *zap.Logger
	metrics        *observability.Metrics
	publishTimeout time.Duration

	mu      sync.RWMutex
	queue   chan Event
	stopped bool
	done    chan struct{}
}

// NewDispatcher creates a dispatcher. Call Start before publishing.
func NewDispatcher(sink Sink, logger *zap.Logger, metrics *observability.Metrics, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sink:           sink,
		breaker:        resilience.NewCircuitBreaker("event-sink"),
		logger:         logger,
		metrics:        metrics,
		publishTimeout: defaultPublishTimeout,
		queue:          make(chan Event, bufferSize),
		done:           make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	go d.run()
}

// Publish enqueues events without blocking.
func (d *Dispatcher) Publish(events ...Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range events {
		if d.stopped {
			d.drop(e, "stopped")
			continue
		}
		select {
		case d.queue <- e:
		default:
			d.drop(e, "queue_full")
		}
	}
}

// Stop closes the queue and waits until queued events are delivered or ctx ends.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
	defer cancel()

	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.sink.Publish(ctx, e)
	})
	if err != nil {
		d.logger.Warn("event delivery failed",
			zap.String("event_id", e.ID.String()),
			zap.String("event_type", string(e.Type)),
			zap.Error(err),
		)
		d.count(e, "failed")
		return
	}
	d.count(e, "published")
}

func (d *Dispatcher) drop(e Event, reason string) {
	d.logger.Warn("event dropped",
		zap.String("event_id", e.ID.String()),
		zap.String("event_type", string(e.Type)),
		zap.String("reason", reason),
	)
	d.count(e, "dropped")
}

func (d *Dispatcher) count(e Event, result string) {
	if d.metrics != nil {
		d.metrics.IncrEvent(string(e.Type), result)
	}
}
