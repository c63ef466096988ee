// Package notify delivers terminal job events from the in-process bus to
// external subscribers.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/domain"
)

// DrainTimeout is the maximum time to wait for buffered events during shutdown.
const DrainTimeout = 30 * time.Second

// Forwarder delivers one event to a downstream system.
type Forwarder interface {
	Publish(ctx context.Context, event domain.JobEvent) error
}

type namedForwarder struct {
	name string
	f    Forwarder
}

// Notifier logs every terminal event and hands it to each forwarder.
// A failing forwarder never blocks the others.
type Notifier struct {
	forwarders   []namedForwarder
	logger       *zap.Logger
	drainTimeout time.Duration
}

func New() *Notifier {
	return &Notifier{
		logger:       zap.NewNop(),
		drainTimeout: DrainTimeout,
	}
}

// Add registers a forwarder under name. Nil forwarders are ignored.
func (n *Notifier) Add(name string, f Forwarder) *Notifier {
	if f != nil {
		n.forwarders = append(n.forwarders, namedForwarder{name: name, f: f})
	}
	return n
}

// WithDrainTimeout bounds the shutdown drain. Values <= 0 are ignored.
func (n *Notifier) WithDrainTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.drainTimeout = d
	}
	return n
}

func (n *Notifier) WithLogger(logger *zap.Logger) *Notifier {
	n.logger = logger.Named("notify")
	return n
}

// Run consumes events until ctx is cancelled or ch is closed. After
// cancellation it drains buffered events with a timeout.
func (n *Notifier) Run(ctx context.Context, ch <-chan domain.JobEvent) {
	for {
		select {
		case <-ctx.Done():
			n.drain(ch)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			n.Notify(ctx, event)
		}
	}
}

func (n *Notifier) drain(ch <-chan domain.JobEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), n.drainTimeout)
	defer cancel()

	count := 0
	defer func() {
		if count > 0 {
			n.logger.Info("drain complete", zap.Int("events", count))
		}
	}()

	for {
		select {
		case <-drainCtx.Done():
			n.logger.Warn("drain timeout", zap.Int("events", count))
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			n.Notify(drainCtx, event)
			count++
		default:
			return
		}
	}
}

// Notify logs event and forwards it to every forwarder.
func (n *Notifier) Notify(ctx context.Context, event domain.JobEvent) {
	fields := []zap.Field{
		zap.String("job_id", event.JobID.String()),
		zap.String("status", string(event.Status)),
		zap.Int("attempts", event.Attempts),
		zap.Int("succeeded", len(event.Succeeded)),
		zap.Int("failed", len(event.Failed)),
	}
	if event.Status == domain.JobStatusPublished {
		n.logger.Info("job finished", fields...)
	} else {
		n.logger.Warn("job finished", fields...)
	}

	for _, fw := range n.forwarders {
		if err := fw.f.Publish(ctx, event); err != nil {
			n.logger.Error("forward failed",
				zap.String("forwarder", fw.name),
				zap.String("job_id", event.JobID.String()),
				zap.Error(err),
			)
		}
	}
}
