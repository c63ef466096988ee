// Package scheduler polls for due jobs and hands each one to the publish
// orchestrator, persisting every job independently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/easy-post/internal/domain"
)

// ErrJobConflict is returned by UpdateJob when the stored row no longer
// matches the attempt count and status the update was based on.
var ErrJobConflict = errors.New("job was modified concurrently")

// ErrTickInProgress is returned by Tick while a previous tick is running.
var ErrTickInProgress = errors.New("tick already in progress")

const (
	DefaultTickInterval = time.Minute
	DefaultBatchSize    = 10
)

type Store interface {
	// GetDueJobs returns scheduled jobs with scheduled_for <= now and
	// attempts < max_attempts, oldest first.
	GetDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error)
	// UpdateJob persists job only if the stored row still has prevAttempts
	// attempts and status scheduled. Otherwise it returns ErrJobConflict.
	UpdateJob(ctx context.Context, job domain.ScheduledJob, prevAttempts int) error
}

type Processor interface {
	Process(ctx context.Context, job domain.ScheduledJob) domain.ScheduledJob
}

// EventEmitter receives an event for every job that reaches a terminal state.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.JobEvent) error
}

// MetricsSink defines the scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, jobsProcessed int, err error)
	TickDrift(drift time.Duration)
	TickSkipped()
	JobUpdateConflict()
}

type Config struct {
	TickInterval time.Duration
	BatchSize    int
	// Workers > 1 processes jobs of one tick concurrently. Platforms within
	// a job are always sequential.
	Workers int
}

type Scheduler struct {
	config    Config
	store     Store
	processor Processor
	emitter   EventEmitter // optional, nil = disabled
	metrics   MetricsSink  // optional, nil = disabled
	logger    *zap.Logger
	clock     func() time.Time

	tickMu   sync.Mutex
	jobLocks keyedMutex
	lastTick time.Time
}

func New(config Config, store Store, processor Processor) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Scheduler{
		config:    config,
		store:     store,
		processor: processor,
		logger:    zap.NewNop(),
		clock:     time.Now,
	}
}

func (s *Scheduler) WithEmitter(emitter EventEmitter) *Scheduler {
	s.emitter = emitter
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithLogger(logger *zap.Logger) *Scheduler {
	s.logger = logger.Named("scheduler")
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("started",
		zap.Duration("tick", s.config.TickInterval),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("workers", s.config.Workers),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			// the ticker drops ticks while this one runs
			if err := s.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
				s.logger.Error("tick error", zap.Error(err))
			}
		}
	}
}

// Tick processes one batch of due jobs. It returns ErrTickInProgress
// without doing anything if another tick has not finished yet.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.tickMu.TryLock() {
		s.logger.Warn("previous tick still running, skipping")
		if s.metrics != nil {
			s.metrics.TickSkipped()
		}
		return ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
		if !s.lastTick.IsZero() {
			s.metrics.TickDrift(start.Sub(s.lastTick) - s.config.TickInterval)
		}
	}
	s.lastTick = start

	processed, err := s.processTick(ctx, start.UTC())

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), processed, err)
	}
	return err
}

func (s *Scheduler) processTick(ctx context.Context, now time.Time) (int, error) {
	jobs, err := s.store.GetDueJobs(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("get due jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	s.logger.Debug("due jobs", zap.Int("count", len(jobs)))

	if s.config.Workers <= 1 {
		for _, job := range jobs {
			if err := s.processJob(ctx, job); err != nil {
				s.logger.Error("job error", zap.String("job_id", job.ID.String()), zap.Error(err))
			}
		}
		return len(jobs), nil
	}

	// errors are logged per job and never cancel the group
	var g errgroup.Group
	g.SetLimit(s.config.Workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := s.processJob(ctx, job); err != nil {
				s.logger.Error("job error", zap.String("job_id", job.ID.String()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs), nil
}

func (s *Scheduler) processJob(ctx context.Context, job domain.ScheduledJob) error {
	unlock := s.jobLocks.Lock(job.ID)
	defer unlock()

	prevAttempts := job.Attempts
	updated := s.processor.Process(ctx, job)

	// persist even when ctx is done so the attempt is not lost on shutdown
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.UpdateJob(persistCtx, updated, prevAttempts); err != nil {
		if errors.Is(err, ErrJobConflict) {
			if s.metrics != nil {
				s.metrics.JobUpdateConflict()
			}
			s.logger.Warn("job changed during attempt, result discarded", zap.String("job_id", job.ID.String()))
			return nil
		}
		return fmt.Errorf("update job: %w", err)
	}

	if updated.Status.Terminal() {
		s.emit(persistCtx, updated)
	}
	return nil
}

func (s *Scheduler) emit(ctx context.Context, job domain.ScheduledJob) {
	if s.emitter == nil {
		return
	}
	at := job.UpdatedAt
	if job.PostedAt != nil {
		at = *job.PostedAt
	}
	if err := s.emitter.Emit(ctx, domain.NewJobEvent(job, at)); err != nil {
		s.logger.Warn("emit job event failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// keyedMutex serialises work per job id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uuid.UUID]*keyedEntry)
	}
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
