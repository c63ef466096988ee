// Package pacing spaces consecutive platform calls so bursts of scheduled
// jobs do not trip platform rate limits.
package pacing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/djlord-it/easy-post/internal/domain"
)

// Pacer combines a global token bucket with optional per-platform buckets.
// Every bucket has burst 1, so the configured interval is the minimum gap
// between two calls sharing that bucket.
type Pacer struct {
	global      *rate.Limiter
	perPlatform map[domain.Platform]*rate.Limiter
}

// New creates a Pacer. A non-positive interval disables that bucket.
func New(interval time.Duration, perPlatform map[domain.Platform]time.Duration) *Pacer {
	p := &Pacer{
		global:      newLimiter(interval),
		perPlatform: make(map[domain.Platform]*rate.Limiter, len(perPlatform)),
	}
	for platform, d := range perPlatform {
		p.perPlatform[platform] = newLimiter(d)
	}
	return p
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Wait blocks until a call to platform is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context, platform domain.Platform) error {
	if err := p.global.Wait(ctx); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}
	if l, ok := p.perPlatform[platform]; ok {
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("pacing %s: %w", platform, err)
		}
	}
	return nil
}

// ParsePlatformPacing parses "twitter=5s,instagram=10s".
func ParsePlatformPacing(s string) (map[domain.Platform]time.Duration, error) {
	out := make(map[domain.Platform]time.Duration)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid pacing entry %q: expected platform=duration", pair)
		}
		platform := domain.Platform(strings.ToLower(strings.TrimSpace(name)))
		if !platform.Valid() {
			return nil, fmt.Errorf("invalid pacing entry %q: unknown platform %q", pair, platform)
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid pacing entry %q: %w", pair, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid pacing entry %q: duration must not be negative", pair)
		}
		out[platform] = d
	}
	return out, nil
}
