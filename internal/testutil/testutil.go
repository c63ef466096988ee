// Package testutil provides shared test helpers for easypost.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/platform"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// NewJob returns a due job for platforms, created an hour before now and
// scheduled a minute before now.
func NewJob(now time.Time, platforms ...domain.Platform) domain.ScheduledJob {
	return domain.ScheduledJob{
		ID:             uuid.New(),
		Platforms:      platforms,
		Content:        "Hello from easypost",
		AdaptedContent: make(map[domain.Platform]string),
		ScheduledFor:   now.Add(-time.Minute),
		Timezone:       "UTC",
		Status:         domain.JobStatusScheduled,
		MaxAttempts:    domain.DefaultMaxAttempts,
		PostingResults: make(map[domain.Platform]domain.PostingResult),
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Hour),
	}
}

// Connection returns a valid, non-expiring connection for p.
func Connection(p domain.Platform) domain.PlatformConnection {
	return domain.PlatformConnection{
		Platform:    p,
		AccountID:   "acct-" + string(p),
		AccessToken: "token-" + string(p),
	}
}

// FakePublisher returns scripted results in order, repeating the last one.
// With no script it always succeeds.
type FakePublisher struct {
	mu       sync.Mutex
	platform domain.Platform
	results  []platform.Result
	requests []platform.PublishRequest
}

func NewFakePublisher(p domain.Platform, results ...platform.Result) *FakePublisher {
	return &FakePublisher{platform: p, results: results}
}

func (f *FakePublisher) Platform() domain.Platform { return f.platform }

func (f *FakePublisher) Publish(ctx context.Context, req platform.PublishRequest) platform.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if len(f.results) == 0 {
		return platform.Success("post-" + string(f.platform))
	}
	idx := len(f.requests) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]
}

// Calls returns the number of Publish calls.
func (f *FakePublisher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of every request received.
func (f *FakePublisher) Requests() []platform.PublishRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.PublishRequest(nil), f.requests...)
}
