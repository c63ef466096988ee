// Package channel is the in-process event bus carrying terminal job events
// from the scheduler to the notifier.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/djlord-it/easy-post/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

var (
	// ErrBufferFull is returned when no buffer space frees up within the emit timeout.
	ErrBufferFull = errors.New("event bus buffer full")
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("event bus closed")
	// ErrNotTerminal is returned for events of jobs that are still scheduled.
	ErrNotTerminal = errors.New("event status is not terminal")
)

// MetricsSink defines the event bus metrics.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

type EventBus struct {
	ch          chan domain.JobEvent
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled

	mu     sync.RWMutex
	closed bool
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.JobEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit queues event, waiting up to the emit timeout for buffer space. Only
// events for published, partial or failed jobs are accepted.
func (b *EventBus) Emit(ctx context.Context, event domain.JobEvent) error {
	if !event.Status.Terminal() {
		b.recordError()
		return ErrNotTerminal
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.recordError()
		return ErrClosed
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.recordSize()
		return nil
	case <-timer.C:
		b.recordError()
		return ErrBufferFull
	case <-ctx.Done():
		b.recordError()
		return ctx.Err()
	}
}

// Channel returns the receive side. It is closed by Close once emitters
// have returned.
func (b *EventBus) Channel() <-chan domain.JobEvent {
	return b.ch
}

// Close stops accepting events. Buffered events stay readable.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

func (b *EventBus) recordSize() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}

func (b *EventBus) recordError() {
	if b.metrics != nil {
		b.metrics.EmitError()
	}
}
