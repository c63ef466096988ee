package platform

import (
	"context"
	"fmt"

	"github.com/djlord-it/easy-post/internal/domain"
)

// Unsupported is a placeholder for a recognised platform without an adapter.
// It fails every publish with unsupported_operation.
type Unsupported struct {
	platform domain.Platform
	reason   string
}

func NewUnsupported(platform domain.Platform, reason string) *Unsupported {
	return &Unsupported{platform: platform, reason: reason}
}

func (u *Unsupported) Platform() domain.Platform { return u.platform }

func (u *Unsupported) Publish(ctx context.Context, req PublishRequest) Result {
	return Failure(domain.FailureUnsupportedOperation, fmt.Sprintf("%s: %s", u.platform, u.reason))
}
