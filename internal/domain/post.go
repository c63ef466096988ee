package domain

import (
	"time"

	"github.com/google/uuid"
)

type PostStatus string

const (
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
)

// PlatformPostRecord is one dispatch to one platform for one job.
// Only the metrics fields change after insert.
type PlatformPostRecord struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	Platform       Platform
	PlatformPostID string // empty if the platform never accepted the post
	Content        string
	PostedAt       time.Time
	Status         PostStatus

	EngagementData   map[string]int64
	ReachData        map[string]int64
	PerformanceScore *int
	MetricsUpdatedAt *time.Time
}
