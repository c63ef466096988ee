package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                        {}
func (n *NoopSink) TickCompleted(duration time.Duration, jobsProcessed int, err error)  {}
func (n *NoopSink) TickDrift(drift time.Duration)                                       {}
func (n *NoopSink) TickSkipped()                                                        {}
func (n *NoopSink) JobUpdateConflict()                                                  {}
func (n *NoopSink) PublishAttemptCompleted(platform, outcome string, d time.Duration)   {}
func (n *NoopSink) PacingWaited(platform string, wait time.Duration)                    {}
func (n *NoopSink) JobOutcome(status string)                                            {}
func (n *NoopSink) JobsInFlightIncr()                                                   {}
func (n *NoopSink) JobsInFlightDecr()                                                   {}
func (n *NoopSink) DispatchLatencyObserve(latency time.Duration)                        {}
func (n *NoopSink) ReconcileCompleted(d time.Duration, updated, skipped int, err error) {}
func (n *NoopSink) BufferSizeUpdate(size int)                                           {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                      {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                           {}
func (n *NoopSink) EmitError()                                                          {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                   {}
func (n *NoopSink) LeaderAcquired()                                                     {}
func (n *NoopSink) LeaderLost(reason string)                                            {}
