package api

import (
	"time"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/jobs"
)

// ScheduleJobRequest is the POST /jobs body. ScheduledFor is RFC3339, or a
// local wall time read in Timezone (default UTC).
type ScheduleJobRequest struct {
	Content      string   `json:"content"`
	Platforms    []string `json:"platforms"`
	ScheduledFor string   `json:"scheduled_for"`
	Timezone     string   `json:"timezone,omitempty"`
	ImageRefs    []string `json:"image_refs,omitempty"`
	MaxAttempts  int      `json:"max_attempts,omitempty"`
}

type PostingResultResponse struct {
	Success     bool   `json:"success"`
	PostID      string `json:"post_id,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message,omitempty"`
	Attempt     int    `json:"attempt"`
	AttemptedAt string `json:"attempted_at"`
}

type JobResponse struct {
	ID             string                           `json:"id"`
	Content        string                           `json:"content"`
	Platforms      []string                         `json:"platforms"`
	AdaptedContent map[string]string                `json:"adapted_content,omitempty"`
	ImageRefs      []string                         `json:"image_refs,omitempty"`
	ScheduledFor   string                           `json:"scheduled_for"`
	Timezone       string                           `json:"timezone"`
	Status         string                           `json:"status"`
	Attempts       int                              `json:"attempts"`
	MaxAttempts    int                              `json:"max_attempts"`
	PostingResults map[string]PostingResultResponse `json:"posting_results,omitempty"`
	CreatedAt      string                           `json:"created_at"`
	UpdatedAt      string                           `json:"updated_at"`
	PostedAt       string                           `json:"posted_at,omitempty"`
}

type PostResponse struct {
	ID               string           `json:"id"`
	JobID            string           `json:"job_id"`
	Platform         string           `json:"platform"`
	PlatformPostID   string           `json:"platform_post_id,omitempty"`
	Content          string           `json:"content"`
	PostedAt         string           `json:"posted_at"`
	Status           string           `json:"status"`
	EngagementData   map[string]int64 `json:"engagement_data,omitempty"`
	ReachData        map[string]int64 `json:"reach_data,omitempty"`
	PerformanceScore *int             `json:"performance_score,omitempty"`
	MetricsUpdatedAt string           `json:"metrics_updated_at,omitempty"`
}

type PlatformStatsResponse struct {
	Count          int     `json:"count"`
	AvgPerformance float64 `json:"avg_performance"`
}

type StatsResponse struct {
	TotalScheduled int                              `json:"total_scheduled"`
	Pending        int                              `json:"pending"`
	Published      int                              `json:"published"`
	Partial        int                              `json:"partial"`
	Failed         int                              `json:"failed"`
	SuccessRate    float64                          `json:"success_rate"`
	PerPlatform    map[string]PlatformStatsResponse `json:"per_platform"`
	LastHour       map[string]HourOutcomesResponse  `json:"last_hour,omitempty"`
}

type HourOutcomesResponse struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ListPostsResponse struct {
	Posts []PostResponse `json:"posts"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

func toJobResponse(job domain.ScheduledJob) JobResponse {
	resp := JobResponse{
		ID:           job.ID.String(),
		Content:      job.Content,
		Platforms:    make([]string, len(job.Platforms)),
		ImageRefs:    job.ImageRefs,
		ScheduledFor: formatTime(job.ScheduledFor),
		Timezone:     job.Timezone,
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
	}
	for i, p := range job.Platforms {
		resp.Platforms[i] = string(p)
	}
	if len(job.AdaptedContent) > 0 {
		resp.AdaptedContent = make(map[string]string, len(job.AdaptedContent))
		for p, text := range job.AdaptedContent {
			resp.AdaptedContent[string(p)] = text
		}
	}
	if len(job.PostingResults) > 0 {
		resp.PostingResults = make(map[string]PostingResultResponse, len(job.PostingResults))
		for p, r := range job.PostingResults {
			resp.PostingResults[string(p)] = PostingResultResponse{
				Success:     r.Success,
				PostID:      r.PostID,
				Kind:        string(r.Kind),
				Message:     r.Message,
				Attempt:     r.Attempt,
				AttemptedAt: formatTime(r.AttemptedAt),
			}
		}
	}
	if job.PostedAt != nil {
		resp.PostedAt = formatTime(*job.PostedAt)
	}
	return resp
}

func toPostResponse(p domain.PlatformPostRecord) PostResponse {
	resp := PostResponse{
		ID:               p.ID.String(),
		JobID:            p.JobID.String(),
		Platform:         string(p.Platform),
		PlatformPostID:   p.PlatformPostID,
		Content:          p.Content,
		PostedAt:         formatTime(p.PostedAt),
		Status:           string(p.Status),
		EngagementData:   p.EngagementData,
		ReachData:        p.ReachData,
		PerformanceScore: p.PerformanceScore,
	}
	if p.MetricsUpdatedAt != nil {
		resp.MetricsUpdatedAt = formatTime(*p.MetricsUpdatedAt)
	}
	return resp
}

func toStatsResponse(st jobs.Stats) StatsResponse {
	resp := StatsResponse{
		TotalScheduled: st.TotalScheduled,
		Pending:        st.Pending,
		Published:      st.Published,
		Partial:        st.Partial,
		Failed:         st.Failed,
		SuccessRate:    st.SuccessRate,
		PerPlatform:    make(map[string]PlatformStatsResponse, len(st.PerPlatform)),
	}
	for p, ps := range st.PerPlatform {
		resp.PerPlatform[string(p)] = PlatformStatsResponse{Count: ps.Count, AvgPerformance: ps.AvgPerformance}
	}
	if st.LastHour != nil {
		resp.LastHour = make(map[string]HourOutcomesResponse, len(st.LastHour))
		for p, h := range st.LastHour {
			resp.LastHour[string(p)] = HourOutcomesResponse{Succeeded: h.Succeeded, Failed: h.Failed}
		}
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
