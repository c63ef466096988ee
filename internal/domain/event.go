package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobEvent is emitted when a job reaches a terminal state.
type JobEvent struct {
	JobID     uuid.UUID           `json:"job_id"`
	Status    JobStatus           `json:"status"`
	Attempts  int                 `json:"attempts"`
	Succeeded []Platform          `json:"succeeded"`
	Failed    map[Platform]string `json:"failed,omitempty"` // platform -> failure kind
	PostedAt  time.Time           `json:"posted_at"`
}

// NewJobEvent builds the terminal event for job.
func NewJobEvent(job ScheduledJob, at time.Time) JobEvent {
	ev := JobEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Attempts: job.Attempts,
		PostedAt: at,
	}
	for _, p := range job.Platforms {
		r := job.PostingResults[p]
		if r.Success {
			ev.Succeeded = append(ev.Succeeded, p)
			continue
		}
		if ev.Failed == nil {
			ev.Failed = make(map[Platform]string)
		}
		ev.Failed[p] = string(r.Kind)
	}
	return ev
}
