// Package natsbus forwards terminal job events to NATS.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/domain"
)

// DefaultSubject is the subject prefix. Events go to {prefix}.{status}.
const DefaultSubject = "easypost.jobs"

var ErrNotConnected = errors.New("nats: not connected")

type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials url with reconnect handling and returns a Publisher for
// subject. An empty subject means DefaultSubject.
func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name("easypost"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DrainTimeout(10 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewPublisher(nc, subject, logger), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(nc *nats.Conn, subject string, logger *zap.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: nc, subject: subject, logger: logger}
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(status domain.JobStatus) string {
	return p.subject + "." + string(status)
}

// Publish sends event as JSON. Delivery is at-most-once.
func (p *Publisher) Publish(ctx context.Context, event domain.JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.conn == nil || p.conn.IsClosed() {
		return ErrNotConnected
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.Subject(event.Status),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Easypost-Job-Id", event.JobID.String())

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
