package metrics

import (
	"time"

	"github.com/djlord-it/easy-post/internal/domain"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, jobsProcessed int, err error)
	TickDrift(drift time.Duration)
	TickSkipped()
	JobUpdateConflict()

	// Orchestrator metrics
	PublishAttemptCompleted(platform, outcome string, duration time.Duration)
	PacingWaited(platform string, wait time.Duration)
	JobOutcome(status string)
	JobsInFlightIncr()
	JobsInFlightDecr()
	DispatchLatencyObserve(latency time.Duration)

	// Reconciler metrics
	ReconcileCompleted(duration time.Duration, updated, skipped int, err error)

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// OutcomeSuccess labels a successful platform call. Failures are labelled
// with their failure kind.
const OutcomeSuccess = "success"

// OutcomeOther labels a failure of unknown kind.
const OutcomeOther = "other_error"

// FailureOutcomes lists every failure label Outcome returns.
var FailureOutcomes = []string{
	string(domain.FailureCredentialsMissing),
	string(domain.FailureTransport),
	string(domain.FailurePlatformRejected),
	string(domain.FailureUnsupportedOperation),
	OutcomeOther,
}

// Outcome maps a failure kind to a bounded outcome label. The empty kind
// means success.
func Outcome(kind domain.FailureKind) string {
	switch kind {
	case "":
		return OutcomeSuccess
	case domain.FailureCredentialsMissing, domain.FailureTransport,
		domain.FailurePlatformRejected, domain.FailureUnsupportedOperation:
		return string(kind)
	default:
		return OutcomeOther
	}
}
