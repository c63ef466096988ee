// Package jobs is the author-facing surface of the engine: scheduling
// publish requests, listing and inspecting them, re-arming failed ones and
// reporting aggregate outcomes.
package jobs

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/analytics"
	"github.com/djlord-it/easy-post/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500

	// MaxAttemptsLimit bounds a per-job max_attempts override.
	MaxAttemptsLimit = 10
)

// Store defines the persistence the service needs.
type Store interface {
	CreateJob(ctx context.Context, job domain.ScheduledJob) error
	// GetJob returns ErrNotFound when no job has the id.
	GetJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]domain.ScheduledJob, error)
	ListPostsByJob(ctx context.Context, jobID uuid.UUID) ([]domain.PlatformPostRecord, error)
	// RetryJob stores job only if the row still has status prevStatus and
	// job.Attempts attempts. Otherwise it returns ErrNotRetryable.
	RetryJob(ctx context.Context, job domain.ScheduledJob, prevStatus domain.JobStatus) error
	CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	PlatformStats(ctx context.Context) (map[domain.Platform]PlatformStats, error)
}

// OutcomeCounter reads the hourly per-platform attempt counters.
type OutcomeCounter interface {
	HourTotals(ctx context.Context, p domain.Platform, at time.Time) (analytics.Totals, error)
}

// ScheduleRequest is one authored message to publish later.
type ScheduleRequest struct {
	Content      string
	Platforms    []domain.Platform
	ScheduledFor time.Time
	// Timezone is an IANA name kept for display. Empty means UTC.
	Timezone  string
	ImageRefs []string
	// MaxAttempts overrides the default attempt budget when > 0.
	MaxAttempts int
}

// ListFilter selects jobs for ListJobs. An empty Status matches all.
type ListFilter struct {
	Status domain.JobStatus
	Limit  int
	Offset int
}

// PlatformStats aggregates published post records for one platform.
type PlatformStats struct {
	Count          int     `json:"count"`
	AvgPerformance float64 `json:"avg_performance"`
}

// Stats summarises job outcomes.
type Stats struct {
	TotalScheduled int                               `json:"total_scheduled"`
	Pending        int                               `json:"pending"`
	Published      int                               `json:"published"`
	Partial        int                               `json:"partial"`
	Failed         int                               `json:"failed"`
	SuccessRate    float64                           `json:"success_rate"`
	PerPlatform    map[domain.Platform]PlatformStats `json:"per_platform"`
	// LastHour is set only when an OutcomeCounter is configured and readable.
	LastHour       map[domain.Platform]HourOutcomes  `json:"last_hour,omitempty"`
}

// HourOutcomes counts platform attempts in the current hour bucket.
type HourOutcomes struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

type Service struct {
	store              Store
	counter            OutcomeCounter
	defaultMaxAttempts int
	logger             *zap.Logger
	clock              func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store:              store,
		defaultMaxAttempts: domain.DefaultMaxAttempts,
		logger:             zap.NewNop(),
		clock:              time.Now,
	}
}

// WithDefaultMaxAttempts sets the budget for requests without an override.
// Values outside 1..MaxAttemptsLimit are ignored.
func (s *Service) WithDefaultMaxAttempts(n int) *Service {
	if n >= 1 && n <= MaxAttemptsLimit {
		s.defaultMaxAttempts = n
	}
	return s
}

// WithOutcomeCounter adds last-hour attempt counts to Stats.
func (s *Service) WithOutcomeCounter(c OutcomeCounter) *Service {
	s.counter = c
	return s
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	s.logger = logger.Named("jobs")
	return s
}

// Schedule validates req and stores a new job in status scheduled.
// Invalid requests return ValidationErrors and create nothing.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (domain.ScheduledJob, error) {
	now := s.clock().UTC()

	platforms, err := validate(req, now)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	job := domain.ScheduledJob{
		ID:             uuid.New(),
		Platforms:      platforms,
		Content:        req.Content,
		AdaptedContent: make(map[domain.Platform]string),
		ImageRefs:      append([]string(nil), req.ImageRefs...),
		ScheduledFor:   req.ScheduledFor.UTC(),
		Timezone:       tz,
		Status:         domain.JobStatusScheduled,
		MaxAttempts:    maxAttempts,
		PostingResults: make(map[domain.Platform]domain.PostingResult),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("job scheduled",
		zap.String("job_id", job.ID.String()),
		zap.Time("scheduled_for", job.ScheduledFor),
		zap.Int("platforms", len(job.Platforms)),
	)
	return job, nil
}

// validate returns the de-duplicated platform list or ValidationErrors.
func validate(req ScheduleRequest, now time.Time) ([]domain.Platform, error) {
	var errs ValidationErrors

	if strings.TrimSpace(req.Content) == "" {
		errs = append(errs, ValidationError{Field: "content", Message: "required"})
	}

	platforms, perr := normalizePlatforms(req.Platforms)
	if perr != nil {
		errs = append(errs, *perr)
	}

	if req.ScheduledFor.IsZero() {
		errs = append(errs, ValidationError{Field: "scheduled_for", Message: "required"})
	} else if !req.ScheduledFor.After(now) {
		errs = append(errs, ValidationError{Field: "scheduled_for", Message: "must be in the future"})
	}

	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			errs = append(errs, ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", req.Timezone)})
		}
	}

	if req.MaxAttempts < 0 || req.MaxAttempts > MaxAttemptsLimit {
		errs = append(errs, ValidationError{
			Field:   "max_attempts",
			Message: fmt.Sprintf("must be between 1 and %d", MaxAttemptsLimit),
		})
	}

	for i, ref := range req.ImageRefs {
		if err := validateImageRef(ref); err != nil {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("image_refs[%d]", i), Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return platforms, nil
}

// normalizePlatforms drops duplicates, keeping the first occurrence.
func normalizePlatforms(in []domain.Platform) ([]domain.Platform, *ValidationError) {
	if len(in) == 0 {
		return nil, &ValidationError{Field: "platforms", Message: "at least one platform is required"}
	}
	seen := make(map[domain.Platform]bool, len(in))
	out := make([]domain.Platform, 0, len(in))
	for _, p := range in {
		if !p.Valid() {
			return nil, &ValidationError{Field: "platforms", Message: fmt.Sprintf("unknown platform %q", p)}
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func validateImageRef(ref string) error {
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// ListJobs returns jobs newest first.
func (s *Service) ListJobs(ctx context.Context, filter ListFilter) ([]domain.ScheduledJob, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ValidationErrors{{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)}}
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListJobs(ctx, filter)
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error) {
	return s.store.GetJob(ctx, id)
}

// ListPosts returns the post records of a job with their metrics.
func (s *Service) ListPosts(ctx context.Context, jobID uuid.UUID) ([]domain.PlatformPostRecord, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListPostsByJob(ctx, jobID)
}

// Retry re-arms a partial or failed job for one more attempt. Platforms that
// already succeeded keep their results and are not dispatched again.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	if job.Status != domain.JobStatusPartial && job.Status != domain.JobStatusFailed {
		return domain.ScheduledJob{}, fmt.Errorf("%w: status is %s", ErrNotRetryable, job.Status)
	}

	now := s.clock().UTC()
	prevStatus := job.Status

	job.Status = domain.JobStatusScheduled
	job.MaxAttempts = job.Attempts + 1
	job.ScheduledFor = now
	job.UpdatedAt = now

	if err := s.store.RetryJob(ctx, job, prevStatus); err != nil {
		return domain.ScheduledJob{}, err
	}

	s.logger.Info("job re-armed",
		zap.String("job_id", job.ID.String()),
		zap.String("previous_status", string(prevStatus)),
		zap.Int("attempts", job.Attempts),
	)
	return job, nil
}

// Stats reports job outcome counts and per-platform performance.
// SuccessRate is the percentage of all jobs that reached published.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count jobs: %w", err)
	}
	perPlatform, err := s.store.PlatformStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("platform stats: %w", err)
	}
	if perPlatform == nil {
		perPlatform = make(map[domain.Platform]PlatformStats)
	}

	st := Stats{
		Pending:     counts[domain.JobStatusScheduled],
		Published:   counts[domain.JobStatusPublished],
		Partial:     counts[domain.JobStatusPartial],
		Failed:      counts[domain.JobStatusFailed],
		PerPlatform: perPlatform,
	}
	st.TotalScheduled = st.Pending + st.Published + st.Partial + st.Failed
	if st.TotalScheduled > 0 {
		st.SuccessRate = math.Round(float64(st.Published)/float64(st.TotalScheduled)*10000) / 100
	}
	if s.counter != nil {
		st.LastHour = s.lastHour(ctx)
	}
	return st, nil
}

// lastHour returns nil when the counters cannot be read. The stored
// aggregates are still reported.
func (s *Service) lastHour(ctx context.Context) map[domain.Platform]HourOutcomes {
	at := s.clock().UTC()
	out := make(map[domain.Platform]HourOutcomes)
	for _, p := range domain.Platforms {
		t, err := s.counter.HourTotals(ctx, p, at)
		if err != nil {
			s.logger.Warn("hourly counters unavailable", zap.String("platform", string(p)), zap.Error(err))
			return nil
		}
		if t.Succeeded == 0 && t.Failed == 0 {
			continue
		}
		out[p] = HourOutcomes{Succeeded: t.Succeeded, Failed: t.Failed}
	}
	return out
}

