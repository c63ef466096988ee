package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/jobs"
)

// Pagination defaults and limits.
const (
	DefaultLimit = jobs.DefaultLimit
	MaxLimit     = jobs.MaxLimit
)

// Service is the job surface the handler exposes over HTTP.
type Service interface {
	Schedule(ctx context.Context, req jobs.ScheduleRequest) (domain.ScheduledJob, error)
	ListJobs(ctx context.Context, filter jobs.ListFilter) ([]domain.ScheduledJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error)
	ListPosts(ctx context.Context, jobID uuid.UUID) ([]domain.PlatformPostRecord, error)
	Retry(ctx context.Context, id uuid.UUID) (domain.ScheduledJob, error)
	Stats(ctx context.Context) (jobs.Stats, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// LeaderStatus reports whether this instance currently runs the scheduler.
type LeaderStatus interface {
	IsLeader() bool
}

type Handler struct {
	service Service
	db      HealthChecker
	leader  LeaderStatus
	logger  *zap.Logger
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, logger: zap.NewNop()}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithLeaderStatus adds a scheduler component to verbose /health responses.
// Standby is informational and does not degrade the status.
func (h *Handler) WithLeaderStatus(l LeaderStatus) *Handler {
	h.leader = l
	return h
}

func (h *Handler) WithLogger(logger *zap.Logger) *Handler {
	h.logger = logger.Named("api")
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case r.URL.Path == "/stats" && r.Method == http.MethodGet:
		h.stats(w, r)

	case r.URL.Path == "/jobs" && r.Method == http.MethodPost:
		h.scheduleJob(w, r)

	case r.URL.Path == "/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case len(parts) == 2 && parts[0] == "jobs" && r.Method == http.MethodGet:
		h.getJob(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "posts" && r.Method == http.MethodGet:
		h.listPosts(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "jobs" && parts[2] == "retry" && r.Method == http.MethodPost:
		h.retryJob(w, r, parts[1])

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	if h.leader != nil {
		if h.leader.IsLeader() {
			resp.Components["scheduler"] = "leader"
		} else {
			resp.Components["scheduler"] = "standby"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) scheduleJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ScheduleJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	sreq, err := toScheduleRequest(req)
	if err != nil {
		h.writeServiceError(w, "schedule job", err)
		return
	}

	job, err := h.service.Schedule(r.Context(), sreq)
	if err != nil {
		h.writeServiceError(w, "schedule job", err)
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := jobs.ListFilter{
		Status: domain.JobStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}

	list, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "list jobs", err)
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(list))}
	for i, job := range list {
		resp.Jobs[i] = toJobResponse(job)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request, rawID string) {
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, "get job", err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request, rawID string) {
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	posts, err := h.service.ListPosts(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, "list posts", err)
		return
	}

	resp := ListPostsResponse{Posts: make([]PostResponse, len(posts))}
	for i, p := range posts {
		resp.Posts[i] = toPostResponse(p)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) retryJob(w http.ResponseWriter, r *http.Request, rawID string) {
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.service.Retry(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, "retry job", err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(st))
}

// writeServiceError maps service errors to status codes. Unexpected errors
// are logged and hidden from the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	if verrs, ok := jobs.AsValidation(err); ok {
		writeValidationError(w, verrs)
		return
	}
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrNotRetryable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrDuplicateJob):
		writeError(w, http.StatusConflict, "job already exists")
	default:
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func writeValidationError(w http.ResponseWriter, errs jobs.ValidationErrors) {
	resp := ErrorResponse{Error: "validation failed"}
	for _, e := range errs {
		resp.Fields = append(resp.Fields, FieldError{Field: e.Field, Message: e.Message})
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
