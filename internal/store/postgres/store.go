// Package postgres persists jobs, post records and platform connections.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/jobs"
	"github.com/djlord-it/easy-post/internal/orchestrator"
	"github.com/djlord-it/easy-post/internal/reconciler"
	"github.com/djlord-it/easy-post/internal/scheduler"
)

// Store implements the scheduler, orchestrator, reconciler and jobs stores
// using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithOpTimeout bounds every store operation. Zero means no bound beyond
// the caller's context.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// PingContext lets the store serve as the API health checker.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateJob inserts a new job.
// Returns jobs.ErrDuplicateJob if the id is already taken.
func (s *Store) CreateJob(ctx context.Context, job domain.ScheduledJob) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	adapted, results, err := marshalJobMaps(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		pq.Array(platformStrings(job.Platforms)),
		job.Content,
		string(adapted),
		pq.Array(nonNilStrings(job.ImageRefs)),
		job.ScheduledFor.UTC(),
		job.Timezone,
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		string(results),
		job.CreatedAt,
		job.UpdatedAt,
		nullTime(job.PostedAt),
	)
	if isDuplicateKeyError(err) {
		return jobs.ErrDuplicateJob
	}
	return err
}

// GetJob returns a job by its ID, or jobs.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJobByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledJob{}, jobs.ErrNotFound
	}
	return job, err
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, filter jobs.ListFilter) ([]domain.ScheduledJob, error) {
	return s.queryJobs(ctx, queryListJobs, string(filter.Status), filter.Limit, filter.Offset)
}

// GetDueJobs returns scheduled jobs that are due at now and have attempts
// left, oldest first.
func (s *Store) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	return s.queryJobs(ctx, queryGetDueJobs, now.UTC(), limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.ScheduledJob, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateJob stores the outcome of an attempt.
// Returns scheduler.ErrJobConflict if the row is no longer scheduled or its
// attempt count is not prevAttempts.
func (s *Store) UpdateJob(ctx context.Context, job domain.ScheduledJob, prevAttempts int) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	adapted, results, err := marshalJobMaps(job)
	if err != nil {
		return err
	}

	// The guard in the WHERE clause is evaluated after the row lock is
	// taken, so two writers based on the same attempt cannot both win.
	res, err := s.db.ExecContext(ctx, queryUpdateJob,
		job.ID,
		string(adapted),
		string(job.Status),
		job.Attempts,
		string(results),
		job.UpdatedAt,
		nullTime(job.PostedAt),
		prevAttempts,
	)
	if err != nil {
		return err
	}
	return requireRow(res, scheduler.ErrJobConflict)
}

// RetryJob re-arms a terminal job.
// Returns jobs.ErrNotRetryable if the row changed since it was read.
func (s *Store) RetryJob(ctx context.Context, job domain.ScheduledJob, prevStatus domain.JobStatus) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryRetryJob,
		job.ID,
		job.MaxAttempts,
		job.ScheduledFor.UTC(),
		job.UpdatedAt,
		string(prevStatus),
		job.Attempts,
	)
	if err != nil {
		return err
	}
	return requireRow(res, jobs.ErrNotRetryable)
}

// CountJobsByStatus returns the number of jobs per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryCountJobsByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// PlatformStats aggregates published post records per platform. Posts
// without a score are counted but do not affect the average.
func (s *Store) PlatformStats(ctx context.Context) (map[domain.Platform]jobs.PlatformStats, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryPlatformStats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[domain.Platform]jobs.PlatformStats)
	for rows.Next() {
		var p string
		var st jobs.PlatformStats
		if err := rows.Scan(&p, &st.Count, &st.AvgPerformance); err != nil {
			return nil, err
		}
		stats[domain.Platform(p)] = st
	}
	return stats, rows.Err()
}

// InsertPostRecord inserts a post record. Metrics start empty.
func (s *Store) InsertPostRecord(ctx context.Context, rec domain.PlatformPostRecord) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertPost,
		rec.ID,
		rec.JobID,
		string(rec.Platform),
		rec.PlatformPostID,
		rec.Content,
		rec.PostedAt,
		string(rec.Status),
	)
	return err
}

// ListPostsByJob returns the post records of a job in posting order.
func (s *Store) ListPostsByJob(ctx context.Context, jobID uuid.UUID) ([]domain.PlatformPostRecord, error) {
	return s.queryPosts(ctx, queryListPostsByJob, jobID)
}

// GetRecentPublishedPosts returns published records with a platform post id
// posted at or after since, least recently refreshed first.
func (s *Store) GetRecentPublishedPosts(ctx context.Context, since time.Time, limit int) ([]domain.PlatformPostRecord, error) {
	return s.queryPosts(ctx, queryGetRecentPublishedPosts, since.UTC(), limit)
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]domain.PlatformPostRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PlatformPostRecord
	for rows.Next() {
		rec, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdatePostMetrics stores refreshed counters and the performance score.
// Returns sql.ErrNoRows if the record does not exist.
func (s *Store) UpdatePostMetrics(ctx context.Context, id uuid.UUID, engagement, reach map[string]int64, score int, updatedAt time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	eng, err := json.Marshal(nonNilCounters(engagement))
	if err != nil {
		return fmt.Errorf("encode engagement: %w", err)
	}
	rch, err := json.Marshal(nonNilCounters(reach))
	if err != nil {
		return fmt.Errorf("encode reach: %w", err)
	}

	res, err := s.db.ExecContext(ctx, queryUpdatePostMetrics, id, string(eng), string(rch), score, updatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, sql.ErrNoRows)
}

// GetConnection returns the stored connection for p, or
// orchestrator.ErrNoConnection.
func (s *Store) GetConnection(ctx context.Context, p domain.Platform) (domain.PlatformConnection, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var conn domain.PlatformConnection
	var platform string
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, queryGetConnection, string(p)).Scan(
		&platform,
		&conn.AccountID,
		&conn.AccessToken,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlatformConnection{}, orchestrator.ErrNoConnection
	}
	if err != nil {
		return domain.PlatformConnection{}, err
	}
	conn.Platform = domain.Platform(platform)
	conn.ExpiresAt = timePtr(expiresAt)
	return conn, nil
}

// UpsertConnection stores or replaces the connection for conn.Platform.
func (s *Store) UpsertConnection(ctx context.Context, conn domain.PlatformConnection, now time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertConnection,
		string(conn.Platform),
		conn.AccountID,
		conn.AccessToken,
		nullTime(conn.ExpiresAt),
		now,
	)
	return err
}

func scanJob(row rowScanner) (domain.ScheduledJob, error) {
	var job domain.ScheduledJob
	var platforms, imageRefs []string
	var adapted, results []byte
	var status string
	var postedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		pq.Array(&platforms),
		&job.Content,
		&adapted,
		pq.Array(&imageRefs),
		&job.ScheduledFor,
		&job.Timezone,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&results,
		&job.CreatedAt,
		&job.UpdatedAt,
		&postedAt,
	)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	job.Platforms = make([]domain.Platform, len(platforms))
	for i, p := range platforms {
		job.Platforms[i] = domain.Platform(p)
	}
	job.ImageRefs = imageRefs
	job.Status = domain.JobStatus(status)
	job.PostedAt = timePtr(postedAt)

	job.AdaptedContent = make(map[domain.Platform]string)
	if err := unmarshalObject(adapted, &job.AdaptedContent); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("decode adapted_content for job %s: %w", job.ID, err)
	}
	job.PostingResults = make(map[domain.Platform]domain.PostingResult)
	if err := unmarshalObject(results, &job.PostingResults); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("decode posting_results for job %s: %w", job.ID, err)
	}
	return job, nil
}

func scanPost(row rowScanner) (domain.PlatformPostRecord, error) {
	var rec domain.PlatformPostRecord
	var platform, status string
	var engagement, reach []byte
	var score sql.NullInt32
	var metricsAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&platform,
		&rec.PlatformPostID,
		&rec.Content,
		&rec.PostedAt,
		&status,
		&engagement,
		&reach,
		&score,
		&metricsAt,
	)
	if err != nil {
		return domain.PlatformPostRecord{}, err
	}

	rec.Platform = domain.Platform(platform)
	rec.Status = domain.PostStatus(status)
	if err := unmarshalObject(engagement, &rec.EngagementData); err != nil {
		return domain.PlatformPostRecord{}, fmt.Errorf("decode engagement_data for post %s: %w", rec.ID, err)
	}
	if err := unmarshalObject(reach, &rec.ReachData); err != nil {
		return domain.PlatformPostRecord{}, fmt.Errorf("decode reach_data for post %s: %w", rec.ID, err)
	}
	if score.Valid {
		v := int(score.Int32)
		rec.PerformanceScore = &v
	}
	rec.MetricsUpdatedAt = timePtr(metricsAt)
	return rec, nil
}

func marshalJobMaps(job domain.ScheduledJob) (adapted, results []byte, err error) {
	adaptedContent := job.AdaptedContent
	if adaptedContent == nil {
		adaptedContent = map[domain.Platform]string{}
	}
	postingResults := job.PostingResults
	if postingResults == nil {
		postingResults = map[domain.Platform]domain.PostingResult{}
	}

	adapted, err = json.Marshal(adaptedContent)
	if err != nil {
		return nil, nil, fmt.Errorf("encode adapted_content: %w", err)
	}
	results, err = json.Marshal(postingResults)
	if err != nil {
		return nil, nil, fmt.Errorf("encode posting_results: %w", err)
	}
	return adapted, results, nil
}

// unmarshalObject leaves v untouched for NULL columns.
func unmarshalObject(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func requireRow(res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNone
	}
	return nil
}

func platformStrings(ps []domain.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilCounters(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key")
}

// Compile-time interface assertions
var (
	_ scheduler.Store              = (*Store)(nil)
	_ orchestrator.CredentialStore = (*Store)(nil)
	_ orchestrator.PostStore       = (*Store)(nil)
	_ reconciler.Store             = (*Store)(nil)
	_ reconciler.CredentialStore   = (*Store)(nil)
	_ jobs.Store                   = (*Store)(nil)
)
