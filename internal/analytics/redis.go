// Package analytics keeps hourly publish outcome counters in Redis.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/metrics"
)

// DefaultRetention is how long an hourly bucket is kept.
const DefaultRetention = 7 * 24 * time.Hour

const keyPrefix = "easypost"

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
	logger    *zap.Logger
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention, logger: zap.NewNop()}
}

func (s *RedisSink) WithLogger(logger *zap.Logger) *RedisSink {
	s.logger = logger.Named("analytics")
	return s
}

// WithRetention overrides the bucket TTL. Non-positive values are ignored.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// Record increments the counter for one platform attempt outcome in the
// hour bucket containing at. Failures are logged and dropped.
func (s *RedisSink) Record(ctx context.Context, p domain.Platform, outcome string, at time.Time) {
	if err := s.incr(ctx, BuildKey(p, outcome, at)); err != nil {
		s.logger.Warn("record outcome failed",
			zap.String("platform", string(p)),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
}

func (s *RedisSink) incr(ctx context.Context, key string) error {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// Totals is one hour of publish outcomes for a platform.
type Totals struct {
	Succeeded int64
	Failed    int64
}

// HourTotals reads the hour bucket containing at for p in one round trip.
// Missing keys count as zero.
func (s *RedisSink) HourTotals(ctx context.Context, p domain.Platform, at time.Time) (Totals, error) {
	pipe := s.client.Pipeline()
	success := pipe.Get(ctx, BuildKey(p, metrics.OutcomeSuccess, at))
	failures := make([]*redis.StringCmd, 0, len(metrics.FailureOutcomes))
	for _, outcome := range metrics.FailureOutcomes {
		failures = append(failures, pipe.Get(ctx, BuildKey(p, outcome, at)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Totals{}, fmt.Errorf("redis pipeline: %w", err)
	}

	var t Totals
	n, err := counter(success)
	if err != nil {
		return Totals{}, err
	}
	t.Succeeded = n
	for _, cmd := range failures {
		n, err := counter(cmd)
		if err != nil {
			return Totals{}, err
		}
		t.Failed += n
	}
	return t, nil
}

func counter(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", cmd.Args()[1], err)
	}
	return n, nil
}

// BuildKey returns easypost:p:{platform}:{outcome}:{yyyymmddhh}.
func BuildKey(p domain.Platform, outcome string, at time.Time) string {
	return fmt.Sprintf("%s:p:%s:%s:%s", keyPrefix, p, outcome, at.UTC().Format("2006010215"))
}
