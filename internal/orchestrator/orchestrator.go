// Package orchestrator runs one publish attempt for a scheduled job: it
// adapts the content, dispatches to every pending platform in order and
// folds the outcomes back into the job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/circuitbreaker"
	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/metrics"
	"github.com/djlord-it/easy-post/internal/platform"
)

// ErrNoConnection is returned by a CredentialStore when no connection exists
// for the platform.
var ErrNoConnection = errors.New("no platform connection")

type ContentAdapter interface {
	Adapt(message string, p domain.Platform) string
}

type Publishers interface {
	Publisher(p domain.Platform) (platform.Publisher, bool)
}

// CredentialStore resolves the stored connection for a platform.
// Implementations return ErrNoConnection when none is stored.
type CredentialStore interface {
	GetConnection(ctx context.Context, p domain.Platform) (domain.PlatformConnection, error)
}

type PostStore interface {
	InsertPostRecord(ctx context.Context, rec domain.PlatformPostRecord) error
	ListPostsByJob(ctx context.Context, jobID uuid.UUID) ([]domain.PlatformPostRecord, error)
}

type Pacer interface {
	Wait(ctx context.Context, p domain.Platform) error
}

type Breaker interface {
	Allow(p domain.Platform) error
	RecordSuccess(p domain.Platform)
	RecordFailure(p domain.Platform)
}

// AnalyticsSink counts publish outcomes. Errors are handled by the sink.
type AnalyticsSink interface {
	Record(ctx context.Context, p domain.Platform, outcome string, at time.Time)
}

// MetricsSink defines the orchestrator metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	PublishAttemptCompleted(platform, outcome string, duration time.Duration)
	PacingWaited(platform string, wait time.Duration)
	JobOutcome(status string)
	JobsInFlightIncr()
	JobsInFlightDecr()
	DispatchLatencyObserve(latency time.Duration)
}

type Orchestrator struct {
	content     ContentAdapter
	publishers  Publishers
	credentials CredentialStore
	posts       PostStore

	pacer     Pacer         // optional, nil = no pacing
	breaker   Breaker       // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	logger    *zap.Logger
	clock     func() time.Time
}

func New(content ContentAdapter, publishers Publishers, credentials CredentialStore, posts PostStore) *Orchestrator {
	return &Orchestrator{
		content:     content,
		publishers:  publishers,
		credentials: credentials,
		posts:       posts,
		logger:      zap.NewNop(),
		clock:       time.Now,
	}
}

func (o *Orchestrator) WithPacer(p Pacer) *Orchestrator {
	o.pacer = p
	return o
}

func (o *Orchestrator) WithBreaker(b Breaker) *Orchestrator {
	o.breaker = b
	return o
}

func (o *Orchestrator) WithAnalytics(sink AnalyticsSink) *Orchestrator {
	o.analytics = sink
	return o
}

// WithMetrics attaches a metrics sink to the orchestrator.
func (o *Orchestrator) WithMetrics(sink MetricsSink) *Orchestrator {
	o.metrics = sink
	return o
}

func (o *Orchestrator) WithLogger(logger *zap.Logger) *Orchestrator {
	o.logger = logger.Named("orchestrator")
	return o
}

func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Process runs one attempt and returns the updated job. The input is not
// modified. Platforms whose latest result is a success are never called again.
func (o *Orchestrator) Process(ctx context.Context, job domain.ScheduledJob) domain.ScheduledJob {
	if o.metrics != nil {
		o.metrics.JobsInFlightIncr()
		defer o.metrics.JobsInFlightDecr()
	}

	out := job.Clone()
	attempt := out.Attempts + 1
	startedAt := o.clock().UTC()

	if o.metrics != nil && attempt == 1 {
		o.metrics.DispatchLatencyObserve(startedAt.Sub(out.ScheduledFor))
	}

	log := o.logger.With(zap.String("job_id", out.ID.String()), zap.Int("attempt", attempt))
	log.Info("processing job", zap.Int("platforms", len(out.Platforms)))

	for _, p := range out.Platforms {
		if _, ok := out.AdaptedContent[p]; !ok {
			out.AdaptedContent[p] = o.content.Adapt(out.Content, p)
		}
	}

	// A live post whose result was never saved on the job must not be
	// dispatched again. Without the post records nothing is dispatched.
	if err := o.restorePublished(ctx, &out, attempt); err != nil {
		log.Error("post record lookup failed, attempt skipped", zap.Error(err))
		for _, p := range out.PendingPlatforms() {
			o.record(ctx, &out, p, attempt, platform.Failure(domain.FailureTransport, "post record lookup failed"))
		}
		return o.finish(out, attempt, log)
	}

	pending := out.PendingPlatforms()
	for i, p := range pending {
		res, interrupted := o.publishOne(ctx, out, p)
		o.record(ctx, &out, p, attempt, res)
		if interrupted {
			// remaining platforms count as failed for this attempt
			for _, rest := range pending[i+1:] {
				o.record(ctx, &out, rest, attempt, platform.Failure(domain.FailureTransport, "shutdown: attempt interrupted"))
			}
			break
		}
	}

	return o.finish(out, attempt, log)
}

// finish counts the attempt and derives the job status.
func (o *Orchestrator) finish(out domain.ScheduledJob, attempt int, log *zap.Logger) domain.ScheduledJob {
	now := o.clock().UTC()
	out.Attempts = attempt
	out.UpdatedAt = now
	out.Status = nextStatus(out)
	if out.Status.Terminal() && out.PostedAt == nil {
		out.PostedAt = &now
	}

	if o.metrics != nil {
		o.metrics.JobOutcome(string(out.Status))
	}
	log.Info("attempt finished",
		zap.String("status", string(out.Status)),
		zap.Int("succeeded", out.SuccessCount()),
		zap.Int("requested", len(out.Platforms)),
	)
	return out
}

// restorePublished marks requested platforms that already have a published
// post record as succeeded. Such results go missing when the job update of
// an earlier attempt was not saved.
func (o *Orchestrator) restorePublished(ctx context.Context, job *domain.ScheduledJob, attempt int) error {
	recs, err := o.posts.ListPostsByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}
	for _, rec := range recs {
		if rec.Status != domain.PostStatusPublished || job.Succeeded(rec.Platform) || !slices.Contains(job.Platforms, rec.Platform) {
			continue
		}
		job.PostingResults[rec.Platform] = domain.PostingResult{
			Success:     true,
			PostID:      rec.PlatformPostID,
			Attempt:     attempt,
			AttemptedAt: rec.PostedAt,
		}
		o.logger.Warn("restored unsaved success from post record",
			zap.String("job_id", job.ID.String()),
			zap.String("platform", string(rec.Platform)),
			zap.String("post_id", rec.PlatformPostID),
		)
	}
	return nil
}

// publishOne dispatches to a single platform. interrupted is true when ctx
// ended while pacing, in which case the platform was not called.
func (o *Orchestrator) publishOne(ctx context.Context, job domain.ScheduledJob, p domain.Platform) (platform.Result, bool) {
	log := o.logger.With(zap.String("job_id", job.ID.String()), zap.String("platform", string(p)))

	conn, err := o.credentials.GetConnection(ctx, p)
	switch {
	case errors.Is(err, ErrNoConnection):
		return platform.Failure(domain.FailureCredentialsMissing, fmt.Sprintf("%s: no connection", p)), false
	case err != nil:
		log.Warn("credential lookup failed", zap.Error(err))
		return platform.Failure(domain.FailureTransport, fmt.Sprintf("%s: credential lookup: %v", p, err)), false
	case conn.Expired(o.clock()):
		return platform.Failure(domain.FailureCredentialsMissing, fmt.Sprintf("%s: access token expired", p)), false
	}

	pub, ok := o.publishers.Publisher(p)
	if !ok {
		return platform.Failure(domain.FailureUnsupportedOperation, fmt.Sprintf("%s: no adapter registered", p)), false
	}

	if o.pacer != nil {
		waitStart := time.Now()
		if err := o.pacer.Wait(ctx, p); err != nil {
			log.Warn("pacing interrupted", zap.Error(err))
			return platform.Failure(domain.FailureTransport, "shutdown: pacing interrupted"), true
		}
		if o.metrics != nil {
			o.metrics.PacingWaited(string(p), time.Since(waitStart))
		}
	}

	if o.breaker != nil {
		if err := o.breaker.Allow(p); err != nil {
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				return platform.Failure(domain.FailureTransport, fmt.Sprintf("%s: circuit open", p)), false
			}
			return platform.Failure(domain.FailureTransport, err.Error()), false
		}
	}

	start := time.Now()
	res := pub.Publish(ctx, platform.PublishRequest{
		Content:    job.AdaptedContent[p],
		MediaRefs:  job.ImageRefs,
		Connection: conn,
	})
	duration := time.Since(start)

	if o.breaker != nil {
		if !res.IsSuccess() && res.Err.Kind == domain.FailureTransport {
			o.breaker.RecordFailure(p)
		} else {
			o.breaker.RecordSuccess(p)
		}
	}

	if res.IsSuccess() {
		log.Info("published", zap.String("post_id", res.PostID), zap.Duration("duration", duration))
		o.insertPost(ctx, job, p, res.PostID)
	} else {
		log.Warn("publish failed",
			zap.String("kind", string(res.Err.Kind)),
			zap.String("message", res.Err.Message),
			zap.Int("status_code", res.Err.StatusCode),
		)
	}

	if o.metrics != nil {
		o.metrics.PublishAttemptCompleted(string(p), outcome(res), duration)
	}
	return res, false
}

// insertPost stores the post record for a successful dispatch. A failed
// insert is logged only: the post is live and must not be dispatched again.
func (o *Orchestrator) insertPost(ctx context.Context, job domain.ScheduledJob, p domain.Platform, postID string) {
	rec := domain.PlatformPostRecord{
		ID:             uuid.New(),
		JobID:          job.ID,
		Platform:       p,
		PlatformPostID: postID,
		Content:        job.AdaptedContent[p],
		PostedAt:       o.clock().UTC(),
		Status:         domain.PostStatusPublished,
	}
	if err := o.posts.InsertPostRecord(ctx, rec); err != nil {
		o.logger.Error("failed to record post",
			zap.String("job_id", job.ID.String()),
			zap.String("platform", string(p)),
			zap.String("post_id", postID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) record(ctx context.Context, job *domain.ScheduledJob, p domain.Platform, attempt int, res platform.Result) {
	now := o.clock().UTC()
	r := domain.PostingResult{
		Success:     res.IsSuccess(),
		PostID:      res.PostID,
		Attempt:     attempt,
		AttemptedAt: now,
	}
	if !res.IsSuccess() {
		r.Kind = res.Err.Kind
		r.Message = res.Err.Message
	}
	job.PostingResults[p] = r

	if o.analytics != nil {
		o.analytics.Record(ctx, p, outcome(res), now)
	}
}

func outcome(res platform.Result) string {
	if res.IsSuccess() {
		return metrics.OutcomeSuccess
	}
	return metrics.Outcome(res.Err.Kind)
}

// nextStatus applies the transition rules after attempts has been incremented.
func nextStatus(job domain.ScheduledJob) domain.JobStatus {
	succeeded := job.SuccessCount()
	switch {
	case succeeded == len(job.Platforms):
		return domain.JobStatusPublished
	case job.Attempts < job.MaxAttempts:
		return domain.JobStatusScheduled
	case succeeded == 0:
		return domain.JobStatusFailed
	default:
		return domain.JobStatusPartial
	}
}
