package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusPublished JobStatus = "published"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further attempts will be made.
func (s JobStatus) Terminal() bool {
	return s == JobStatusPublished || s == JobStatusPartial || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	return s == JobStatusScheduled || s.Terminal()
}

// DefaultMaxAttempts bounds retries when the author does not override it.
const DefaultMaxAttempts = 3

type FailureKind string

const (
	FailureCredentialsMissing   FailureKind = "credentials_missing"
	FailureTransport            FailureKind = "transport_error"
	FailurePlatformRejected     FailureKind = "platform_rejected"
	FailureUnsupportedOperation FailureKind = "unsupported_operation"
)

// PostingResult is the outcome of the latest attempt on one platform.
type PostingResult struct {
	Success     bool        `json:"success"`
	PostID      string      `json:"post_id,omitempty"`
	Kind        FailureKind `json:"kind,omitempty"`
	Message     string      `json:"message,omitempty"`
	Attempt     int         `json:"attempt"`
	AttemptedAt time.Time   `json:"attempted_at"`
}

// ScheduledJob is one multi-platform publish request.
type ScheduledJob struct {
	ID uuid.UUID

	Platforms      []Platform
	Content        string
	AdaptedContent map[Platform]string
	ImageRefs      []string

	ScheduledFor time.Time
	Timezone     string // IANA label, instant is stored in UTC

	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	PostingResults map[Platform]PostingResult

	CreatedAt time.Time
	UpdatedAt time.Time
	PostedAt  *time.Time
}

// Succeeded reports whether the latest result for p is a success.
func (j ScheduledJob) Succeeded(p Platform) bool {
	r, ok := j.PostingResults[p]
	return ok && r.Success
}

// PendingPlatforms returns requested platforms without a recorded success,
// in request order.
func (j ScheduledJob) PendingPlatforms() []Platform {
	var pending []Platform
	for _, p := range j.Platforms {
		if !j.Succeeded(p) {
			pending = append(pending, p)
		}
	}
	return pending
}

// SuccessCount counts requested platforms with a recorded success.
func (j ScheduledJob) SuccessCount() int {
	n := 0
	for _, p := range j.Platforms {
		if j.Succeeded(p) {
			n++
		}
	}
	return n
}

// Due reports whether the scheduler may pick the job up at now.
func (j ScheduledJob) Due(now time.Time) bool {
	return j.Status == JobStatusScheduled && !j.ScheduledFor.After(now) && j.Attempts < j.MaxAttempts
}

// Clone returns a copy whose maps and slices can be mutated independently.
func (j ScheduledJob) Clone() ScheduledJob {
	c := j
	c.Platforms = append([]Platform(nil), j.Platforms...)
	c.ImageRefs = append([]string(nil), j.ImageRefs...)
	c.AdaptedContent = make(map[Platform]string, len(j.AdaptedContent))
	for k, v := range j.AdaptedContent {
		c.AdaptedContent[k] = v
	}
	c.PostingResults = make(map[Platform]PostingResult, len(j.PostingResults))
	for k, v := range j.PostingResults {
		c.PostingResults[k] = v
	}
	if j.PostedAt != nil {
		t := *j.PostedAt
		c.PostedAt = &t
	}
	return c
}
