package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/domain"
)

// recorder logs the order in which loops exit.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func blockingLoop(name string, rec *recorder, started *atomic.Int32) func(ctx context.Context) {
	return func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
		rec.add(name)
	}
}

func TestLeaderDuties_StopOrder(t *testing.T) {
	rec := &recorder{}
	var started atomic.Int32
	d := &leaderDuties{
		scheduler:  blockingLoop("scheduler", rec, &started),
		reconciler: blockingLoop("reconciler", rec, &started),
		logger:     zap.NewNop(),
	}

	d.start(context.Background())
	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)

	d.stop()
	assert.Equal(t, []string{"scheduler", "reconciler"}, rec.all())
}

func TestLeaderDuties_Idempotent(t *testing.T) {
	rec := &recorder{}
	var started atomic.Int32
	d := &leaderDuties{
		scheduler: blockingLoop("scheduler", rec, &started),
		logger:    zap.NewNop(),
	}

	d.stop() // not running, no-op
	d.start(context.Background())
	d.start(context.Background())
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)

	d.stop()
	d.stop()
	assert.Equal(t, []string{"scheduler"}, rec.all())

	// restart after demotion
	d.start(context.Background())
	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	d.stop()
	assert.Len(t, rec.all(), 2)
}

func TestLeaderDuties_ParentCancel(t *testing.T) {
	rec := &recorder{}
	var started atomic.Int32
	d := &leaderDuties{
		scheduler: blockingLoop("scheduler", rec, &started),
		logger:    zap.NewNop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.start(ctx)
	cancel()

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	d.stop()
}

func TestWaitFor_SucceedsAfterRetries(t *testing.T) {
	var calls atomic.Int32
	ping := func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("not ready")
		}
		return nil
	}

	err := waitFor(context.Background(), "test", 10*time.Second, zap.NewNop(), ping)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitFor_GivesUpWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := waitFor(ctx, "postgres", time.Minute, zap.NewNop(), func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestParseConnectArgs(t *testing.T) {
	conn, err := parseConnectArgs([]string{"twitter", "acct", "tok"})
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformTwitter, conn.Platform)
	assert.Nil(t, conn.ExpiresAt)

	conn, err = parseConnectArgs([]string{"linkedin", "acct", "tok", "2030-01-01T00:00:00+01:00"})
	require.NoError(t, err)
	require.NotNil(t, conn.ExpiresAt)
	assert.Equal(t, time.Date(2029, 12, 31, 23, 0, 0, 0, time.UTC), *conn.ExpiresAt)
}

func TestParseConnectArgs_Errors(t *testing.T) {
	tests := [][]string{
		nil,
		{"twitter", "acct"},
		{"myspace", "acct", "tok"},
		{"twitter", "", "tok"},
		{"twitter", "acct", "tok", "tomorrow"},
		{"twitter", "acct", "tok", "2030-01-01T00:00:00Z", "extra"},
	}
	for _, args := range tests {
		_, err := parseConnectArgs(args)
		assert.Error(t, err, "%v", args)
	}
}
