// Package reconciler refreshes engagement metrics for recently published
// posts.
//
// On every scheduled run it loads published post records inside the trailing
// window, asks the platform's metrics fetcher for current counters and stores
// them together with a 0-100 performance score. A record whose platform has
// no fetcher, no usable connection, or whose fetch fails is skipped and left
// unchanged. Nothing a single record does can abort the run.
package reconciler

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/platform"
)

// Store defines the post record operations the reconciler needs.
type Store interface {
	// GetRecentPublishedPosts returns published records with a platform post
	// id posted at or after since, least recently refreshed first.
	GetRecentPublishedPosts(ctx context.Context, since time.Time, limit int) ([]domain.PlatformPostRecord, error)
	UpdatePostMetrics(ctx context.Context, id uuid.UUID, engagement, reach map[string]int64, score int, updatedAt time.Time) error
}

type Fetchers interface {
	MetricsFetcher(p domain.Platform) (platform.MetricsFetcher, bool)
}

type CredentialStore interface {
	GetConnection(ctx context.Context, p domain.Platform) (domain.PlatformConnection, error)
}

// Schedule yields the next run time after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink defines the reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ReconcileCompleted(duration time.Duration, updated, skipped int, err error)
}

// Config holds reconciler configuration.
type Config struct {
	// Window is how far back published posts are refreshed.
	// Default: 7 days.
	Window time.Duration

	// BatchSize is the maximum number of posts refreshed per run.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Window:    7 * 24 * time.Hour,
		BatchSize: 100,
	}
}

// Result summarises one run.
type Result struct {
	Updated int
	Skipped int
}

// Reconciler refreshes post metrics on a schedule.
type Reconciler struct {
	config      Config
	schedule    Schedule
	store       Store
	fetchers    Fetchers
	credentials CredentialStore
	metrics     MetricsSink // optional, nil = disabled
	logger      *zap.Logger
	clock       func() time.Time
}

// New creates a new Reconciler.
func New(config Config, schedule Schedule, store Store, fetchers Fetchers, credentials CredentialStore) *Reconciler {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Reconciler{
		config:      config,
		schedule:    schedule,
		store:       store,
		fetchers:    fetchers,
		credentials: credentials,
		logger:      zap.NewNop(),
		clock:       time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

func (r *Reconciler) WithLogger(logger *zap.Logger) *Reconciler {
	r.logger = logger.Named("reconciler")
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("started",
		zap.Duration("window", r.config.Window),
		zap.Int("batch_size", r.config.BatchSize),
	)

	// Run immediately on startup, then on schedule
	r.runCycle(ctx)

	for {
		now := r.clock()
		wait := r.schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("stopped")
			return
		case <-timer.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	start := r.clock()
	res, err := r.RunOnce(ctx)
	if r.metrics != nil {
		r.metrics.ReconcileCompleted(r.clock().Sub(start), res.Updated, res.Skipped, err)
	}
	if err != nil {
		r.logger.Error("run failed", zap.Error(err))
		return
	}
	if res.Updated+res.Skipped > 0 {
		r.logger.Info("run complete", zap.Int("updated", res.Updated), zap.Int("skipped", res.Skipped))
	}
}

// RunOnce refreshes one batch of posts. It only returns an error when the
// batch itself cannot be loaded.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	now := r.clock().UTC()
	since := now.Add(-r.config.Window)

	posts, err := r.store.GetRecentPublishedPosts(ctx, since, r.config.BatchSize)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, post := range posts {
		if ctx.Err() != nil {
			r.logger.Info("run interrupted",
				zap.Int("processed", res.Updated+res.Skipped),
				zap.Int("total", len(posts)),
			)
			return res, nil
		}
		if r.refresh(ctx, post, now) {
			res.Updated++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// refresh updates a single record and reports whether it was written.
func (r *Reconciler) refresh(ctx context.Context, post domain.PlatformPostRecord, now time.Time) bool {
	log := r.logger.With(
		zap.String("post_id", post.ID.String()),
		zap.String("platform", string(post.Platform)),
	)

	if post.PlatformPostID == "" || post.Status != domain.PostStatusPublished {
		return false
	}

	fetcher, ok := r.fetchers.MetricsFetcher(post.Platform)
	if !ok {
		log.Debug("no metrics fetcher, skipping")
		return false
	}

	conn, err := r.credentials.GetConnection(ctx, post.Platform)
	if err != nil {
		log.Debug("no connection, skipping", zap.Error(err))
		return false
	}
	if conn.Expired(now) {
		log.Debug("connection expired, skipping")
		return false
	}

	m, err := fetcher.FetchMetrics(ctx, post.PlatformPostID, conn)
	if err != nil {
		var perr *platform.Error
		if errors.As(err, &perr) {
			log.Debug("fetch failed, skipping", zap.String("kind", string(perr.Kind)), zap.String("message", perr.Message))
		} else {
			log.Debug("fetch failed, skipping", zap.Error(err))
		}
		return false
	}

	score := PerformanceScore(m.Engagement, m.Reach)
	if err := r.store.UpdatePostMetrics(ctx, post.ID, m.Engagement, m.Reach, score, now); err != nil {
		log.Warn("failed to store metrics", zap.Error(err))
		return false
	}
	return true
}

// PerformanceScore is engagement per thousand reach, capped at 100. A zero
// reach counts as one.
func PerformanceScore(engagement, reach map[string]int64) int {
	totalEngagement := sum(engagement)
	totalReach := sum(reach)
	if totalReach < 1 {
		totalReach = 1
	}
	score := math.Round(float64(totalEngagement) / float64(totalReach) * 1000)
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return int(score)
}

func sum(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}
