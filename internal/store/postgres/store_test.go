package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/jobs"
	"github.com/djlord-it/easy-post/internal/orchestrator"
	"github.com/djlord-it/easy-post/internal/scheduler"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

var jobRowColumns = []string{
	"id", "platforms", "content", "adapted_content", "image_refs",
	"scheduled_for", "timezone", "status", "attempts", "max_attempts",
	"posting_results", "created_at", "updated_at", "posted_at",
}

var postRowColumns = []string{
	"id", "job_id", "platform", "platform_post_id", "content", "posted_at", "status",
	"engagement_data", "reach_data", "performance_score", "metrics_updated_at",
}

func TestCreateJob(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	job := domain.ScheduledJob{
		ID:           id,
		Platforms:    []domain.Platform{domain.PlatformTwitter, domain.PlatformFacebook},
		Content:      "hello",
		ScheduledFor: now.Add(time.Hour),
		Timezone:     "UTC",
		Status:       domain.JobStatusScheduled,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectExec(queryInsertJob).
		WithArgs(id, `{"twitter","facebook"}`, "hello", "{}", "{}", now.Add(time.Hour), "UTC",
			"scheduled", 0, 3, "{}", now, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
}

func TestCreateJob_Duplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(queryInsertJob).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateJob(context.Background(), domain.ScheduledJob{ID: uuid.New()})
	assert.ErrorIs(t, err, jobs.ErrDuplicateJob)
}

func TestGetJob(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	posted := now.Add(-time.Minute)

	mock.ExpectQuery(queryGetJobByID).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			id.String(), "{twitter,linkedin}", "hello",
			`{"twitter":"hello #go"}`, "{https://cdn.example.com/a.png}",
			now, "Europe/Paris", "partial", 3, 3,
			`{"twitter":{"success":true,"post_id":"tw_1","attempt":1,"attempted_at":"2024-03-01T11:59:00Z"},"linkedin":{"success":false,"kind":"transport_error","attempt":3,"attempted_at":"2024-03-01T11:59:00Z"}}`,
			now, now, posted,
		))

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, job.ID)
	assert.Equal(t, []domain.Platform{domain.PlatformTwitter, domain.PlatformLinkedIn}, job.Platforms)
	assert.Equal(t, "hello #go", job.AdaptedContent[domain.PlatformTwitter])
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, job.ImageRefs)
	assert.Equal(t, domain.JobStatusPartial, job.Status)
	assert.Equal(t, "Europe/Paris", job.Timezone)
	assert.True(t, job.Succeeded(domain.PlatformTwitter))
	assert.Equal(t, domain.FailureTransport, job.PostingResults[domain.PlatformLinkedIn].Kind)
	require.NotNil(t, job.PostedAt)
	assert.Equal(t, posted, *job.PostedAt)
}

func TestGetJob_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(queryGetJobByID).WithArgs(id).WillReturnError(sql.ErrNoRows)

	_, err := store.GetJob(context.Background(), id)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestGetJob_BadJSON(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(queryGetJobByID).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			id.String(), "{twitter}", "hello", "not json", "{}",
			now, "UTC", "scheduled", 0, 3, "{}", now, now, nil,
		))

	_, err := store.GetJob(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapted_content")
}

func TestListJobs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryListJobs).
		WithArgs("failed", 20, 40).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow(uuid.NewString(), "{twitter}", "a", "{}", "{}", now, "UTC", "failed", 3, 3, "{}", now, now, now).
			AddRow(uuid.NewString(), "{facebook}", "b", "{}", "{}", now, "UTC", "failed", 3, 3, "{}", now, now, now))

	got, err := store.ListJobs(context.Background(), jobs.ListFilter{Status: domain.JobStatusFailed, Limit: 20, Offset: 40})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Content)
	assert.NotNil(t, got[1].PostingResults)
	assert.Empty(t, got[0].ImageRefs)
}

func TestGetDueJobs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryGetDueJobs).
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow(uuid.NewString(), "{twitter}", "a", "{}", "{}", now.Add(-time.Minute), "UTC", "scheduled", 1, 3, "{}", now, now, nil))

	due, err := store.GetDueJobs(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Nil(t, due[0].PostedAt)
	assert.True(t, due[0].Due(now))
}

func TestGetDueJobs_QueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryGetDueJobs).WillReturnError(errors.New("connection refused"))

	_, err := store.GetDueJobs(context.Background(), now, 10)
	assert.Error(t, err)
}

func TestUpdateJob(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	job := domain.ScheduledJob{
		ID:             id,
		Status:         domain.JobStatusPublished,
		Attempts:       1,
		AdaptedContent: map[domain.Platform]string{domain.PlatformTwitter: "hi"},
		UpdatedAt:      now,
		PostedAt:       &now,
	}

	mock.ExpectExec(queryUpdateJob).
		WithArgs(id, `{"twitter":"hi"}`, "published", 1, "{}", now, now, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateJob(context.Background(), job, 0))
}

func TestUpdateJob_Conflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(queryUpdateJob).WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateJob(context.Background(), domain.ScheduledJob{ID: uuid.New(), Attempts: 2}, 1)
	assert.ErrorIs(t, err, scheduler.ErrJobConflict)
}

func TestRetryJob(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	job := domain.ScheduledJob{ID: id, Attempts: 3, MaxAttempts: 4, ScheduledFor: now, UpdatedAt: now}

	mock.ExpectExec(queryRetryJob).
		WithArgs(id, 4, now, now, "failed", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.RetryJob(context.Background(), job, domain.JobStatusFailed))

	mock.ExpectExec(queryRetryJob).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.RetryJob(context.Background(), job, domain.JobStatusFailed), jobs.ErrNotRetryable)
}

func TestCountJobsByStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryCountJobsByStatus).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("published", 7).
			AddRow("failed", 2))

	counts, err := store.CountJobsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, counts[domain.JobStatusPublished])
	assert.Equal(t, 2, counts[domain.JobStatusFailed])
	assert.Equal(t, 0, counts[domain.JobStatusPartial])
}

func TestPlatformStats(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryPlatformStats).
		WillReturnRows(sqlmock.NewRows([]string{"platform", "count", "avg"}).
			AddRow("twitter", 4, 12.5).
			AddRow("facebook", 1, 0.0))

	stats, err := store.PlatformStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.PlatformStats{Count: 4, AvgPerformance: 12.5}, stats[domain.PlatformTwitter])
	assert.Equal(t, 1, stats[domain.PlatformFacebook].Count)
}

func TestInsertPostRecord(t *testing.T) {
	store, mock := newMockStore(t)
	rec := domain.PlatformPostRecord{
		ID:             uuid.New(),
		JobID:          uuid.New(),
		Platform:       domain.PlatformLinkedIn,
		PlatformPostID: "urn:li:share:1",
		Content:        "hello",
		PostedAt:       now,
		Status:         domain.PostStatusPublished,
	}

	mock.ExpectExec(queryInsertPost).
		WithArgs(rec.ID, rec.JobID, "linkedin", "urn:li:share:1", "hello", now, "published").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.InsertPostRecord(context.Background(), rec))
}

func TestListPostsByJob(t *testing.T) {
	store, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectQuery(queryListPostsByJob).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows(postRowColumns).
			AddRow(uuid.NewString(), jobID.String(), "twitter", "tw_1", "hi", now, "published",
				`{"likes":5}`, `{"impressions":400}`, 13, now).
			AddRow(uuid.NewString(), jobID.String(), "facebook", "fb_1", "hi", now, "published",
				nil, nil, nil, nil))

	posts, err := store.ListPostsByJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, int64(5), posts[0].EngagementData["likes"])
	assert.Equal(t, int64(400), posts[0].ReachData["impressions"])
	require.NotNil(t, posts[0].PerformanceScore)
	assert.Equal(t, 13, *posts[0].PerformanceScore)
	require.NotNil(t, posts[0].MetricsUpdatedAt)

	assert.Nil(t, posts[1].EngagementData)
	assert.Nil(t, posts[1].PerformanceScore)
	assert.Nil(t, posts[1].MetricsUpdatedAt)
}

func TestGetRecentPublishedPosts(t *testing.T) {
	store, mock := newMockStore(t)
	since := now.Add(-7 * 24 * time.Hour)

	mock.ExpectQuery(queryGetRecentPublishedPosts).
		WithArgs(since, 100).
		WillReturnRows(sqlmock.NewRows(postRowColumns).
			AddRow(uuid.NewString(), uuid.NewString(), "twitter", "tw_1", "hi", now, "published", nil, nil, nil, nil))

	posts, err := store.GetRecentPublishedPosts(context.Background(), since, 100)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, domain.PostStatusPublished, posts[0].Status)
}

func TestUpdatePostMetrics(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(queryUpdatePostMetrics).
		WithArgs(id, `{"likes":5}`, "{}", 100, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdatePostMetrics(context.Background(), id, map[string]int64{"likes": 5}, nil, 100, now))

	mock.ExpectExec(queryUpdatePostMetrics).WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.UpdatePostMetrics(context.Background(), id, nil, nil, 0, now)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetConnection(t *testing.T) {
	store, mock := newMockStore(t)
	expires := now.Add(time.Hour)

	mock.ExpectQuery(queryGetConnection).
		WithArgs("twitter").
		WillReturnRows(sqlmock.NewRows([]string{"platform", "account_id", "access_token", "expires_at"}).
			AddRow("twitter", "acct", "tok", expires))

	conn, err := store.GetConnection(context.Background(), domain.PlatformTwitter)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformTwitter, conn.Platform)
	assert.Equal(t, "tok", conn.AccessToken)
	require.NotNil(t, conn.ExpiresAt)
	assert.False(t, conn.Expired(now))
}

func TestGetConnection_Missing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryGetConnection).WithArgs("tiktok").WillReturnError(sql.ErrNoRows)

	_, err := store.GetConnection(context.Background(), domain.PlatformTikTok)
	assert.ErrorIs(t, err, orchestrator.ErrNoConnection)
}

func TestUpsertConnection(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(queryUpsertConnection).
		WithArgs("facebook", "page-1", "tok", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertConnection(context.Background(), domain.PlatformConnection{
		Platform:    domain.PlatformFacebook,
		AccountID:   "page-1",
		AccessToken: "tok",
	}, now)
	require.NoError(t, err)
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(Schema()).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), db))

	mock.ExpectExec(Schema()).WillReturnError(errors.New("permission denied"))
	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchema_DefinesTables(t *testing.T) {
	for _, table := range []string{"scheduled_jobs", "platform_posts", "platform_connections"} {
		assert.Contains(t, Schema(), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestProbeSchema(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(queryProbeSchema).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	assert.NoError(t, ProbeSchema(context.Background(), db))

	mock.ExpectQuery(queryProbeSchema).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	assert.ErrorIs(t, ProbeSchema(context.Background(), db), sql.ErrNoRows)
}

func TestSchemaCheck_OnlyCountsCurrentSchema(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	// tables of the same name in another schema must not satisfy the check
	mock.ExpectQuery(`FROM information_schema\.tables\s+WHERE table_schema = current_schema\(\)\s+AND table_name IN`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	require.NoError(t, ProbeSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.False(t, isDuplicateKeyError(nil))
	assert.True(t, isDuplicateKeyError(&pq.Error{Code: "23505"}))
	assert.False(t, isDuplicateKeyError(&pq.Error{Code: "23503"}))
	assert.True(t, isDuplicateKeyError(errors.New(`duplicate key value violates unique constraint "scheduled_jobs_pkey"`)))
	assert.False(t, isDuplicateKeyError(errors.New("connection refused")))
}

func TestWithOpTimeout(t *testing.T) {
	store, mock := newMockStore(t)
	store.WithOpTimeout(time.Second)

	mock.ExpectQuery(queryCountJobsByStatus).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}))

	_, err := store.CountJobsByStatus(context.Background())
	require.NoError(t, err)

	ctx, cancel := store.opContext(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok)

	store.WithOpTimeout(0)
	ctx, cancel2 := store.opContext(context.Background())
	defer cancel2()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}
