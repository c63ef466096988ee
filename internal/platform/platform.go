// Package platform hides each social platform's wire protocol behind one
// Publish operation that returns a uniform Result.
//
// Adapters treat every platform error as data: Publish never panics and
// never returns a bare error, so the orchestrator can aggregate outcomes
// independently of which platform failed.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/djlord-it/easy-post/internal/domain"
)

// Sentinel errors for errors.Is matching against *Error.
var (
	ErrCredentialsMissing   = errors.New("credentials missing")
	ErrTransport            = errors.New("transport error")
	ErrPlatformRejected     = errors.New("platform rejected")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Error is a classified publish failure.
type Error struct {
	Kind       domain.FailureKind
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is maps the failure kind onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrCredentialsMissing:
		return e.Kind == domain.FailureCredentialsMissing
	case ErrTransport:
		return e.Kind == domain.FailureTransport
	case ErrPlatformRejected:
		return e.Kind == domain.FailurePlatformRejected
	case ErrUnsupportedOperation:
		return e.Kind == domain.FailureUnsupportedOperation
	}
	return false
}

func newError(kind domain.FailureKind, status int, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), StatusCode: status}
}

// Result is the tagged outcome of a publish call: PostID on success,
// Err on failure.
type Result struct {
	PostID string
	Err    *Error
}

func (r Result) IsSuccess() bool { return r.Err == nil }

// Success builds a successful Result.
func Success(postID string) Result { return Result{PostID: postID} }

// Failure builds a failed Result.
func Failure(kind domain.FailureKind, message string) Result {
	return Result{Err: &Error{Kind: kind, Message: message}}
}

func failed(err *Error) Result { return Result{Err: err} }

// PublishRequest carries the adapted content for one platform.
type PublishRequest struct {
	Content    string
	MediaRefs  []string
	Connection domain.PlatformConnection
}

// Publisher publishes to one platform.
type Publisher interface {
	Platform() domain.Platform
	Publish(ctx context.Context, req PublishRequest) Result
}

// Metrics holds engagement and reach counters as reported by a platform.
type Metrics struct {
	Engagement map[string]int64
	Reach      map[string]int64
}

// MetricsFetcher is implemented by publishers that can report post-hoc
// engagement. It is a separate capability from Publish.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, postID string, conn domain.PlatformConnection) (Metrics, error)
}
