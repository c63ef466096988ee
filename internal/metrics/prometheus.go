package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/circuitbreaker"
	"github.com/djlord-it/easy-post/internal/domain"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Scheduler metrics
	ticksTotal         prometheus.Counter
	tickErrorsTotal    prometheus.Counter
	ticksSkippedTotal  prometheus.Counter
	jobsProcessedTotal prometheus.Counter
	jobConflictsTotal  prometheus.Counter
	tickDuration       prometheus.Histogram
	tickDrift          prometheus.Histogram

	// Orchestrator metrics
	publishAttemptsTotal *prometheus.CounterVec
	publishDuration      *prometheus.HistogramVec
	pacingWait           *prometheus.HistogramVec
	jobOutcomesTotal     *prometheus.CounterVec
	jobsInFlight         prometheus.Gauge
	dispatchLatency      prometheus.Histogram

	// Reconciler metrics
	reconcileRunsTotal  *prometheus.CounterVec
	reconcilePostsTotal *prometheus.CounterVec
	reconcileDuration   prometheus.Histogram

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger.Named("metrics")}
	s.initSchedulerMetrics(reg)
	s.initOrchestratorMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easypost_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easypost_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.ticksSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easypost_scheduler_ticks_skipped_total",
		Help: "Total number of ticks skipped because the previous tick was still running.",
	})
	s.jobsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easypost_scheduler_jobs_processed_total",
		Help: "Total number of due jobs processed.",
	})
	s.jobConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easypost_scheduler_job_update_conflicts_total",
		Help: "Total number of job updates rejected by the optimistic guard.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easypost_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easypost_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "easypost_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "easypost_scheduler_tick_errors_total")
	s.register(reg, s.ticksSkippedTotal, "easypost_scheduler_ticks_skipped_total")
	s.register(reg, s.jobsProcessedTotal, "easypost_scheduler_jobs_processed_total")
	s.register(reg, s.jobConflictsTotal, "easypost_scheduler_job_update_conflicts_total")
	s.register(reg, s.tickDuration, "easypost_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "easypost_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initOrchestratorMetrics(reg prometheus.Registerer) {
	s.publishAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easypost_publish_attempts_total",
		Help: "Total number of platform publish attempts by outcome.",
	}, []string{"platform", "outcome"})

	s.publishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easypost_publish_duration_seconds",
		Help:    "Platform publish latency in seconds (excludes pacing wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"platform"})

	s.pacingWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easypost_pacing_wait_seconds",
		Help:    "Time spent waiting on the pacer before a platform call.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"platform"})

	s.jobOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easypost_job_outcomes_total",
		Help: "Total number of job status transitions after an attempt.",
	}, []string{"status"})

	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easypost_jobs_in_flight",
		Help: "Number of jobs currently being processed.",
	})

	s.dispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easypost_dispatch_latency_seconds",
		Help:    "Delay between a job's scheduled time and the start of its attempt.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
	})

	s.register(reg, s.publishAttemptsTotal, "easypost_publish_attempts_total")
	s.register(reg, s.publishDuration, "easypost_publish_duration_seconds")
	s.register(reg, s.pacingWait, "easypost_pacing_wait_seconds")
	s.register(reg, s.jobOutcomesTotal, "easypost_job_outcomes_total")
	s.register(reg, s.jobsInFlight, "easypost_jobs_in_flight")
	s.register(reg, s.dispatchLatency, "easypost_dispatch_latency_seconds")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.reconcileRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easypost_reconciler_runs_total",
		Help: "Total number of reconciler runs by result.",
	}, []string{"result"})

	s.reconcilePostsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easypost_reconciler_posts_total",
		Help: "Total number of post records visited by the reconciler.",
	}, []string{"result"})

	s.reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easypost_reconciler_run_duration_seconds",
		Help:    "Duration of each reconciler run in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	s.register(reg, s.reconcileRunsTotal, "easypost_reconciler_runs_total")
	s.register(reg, s.reconcilePostsTotal, "easypost_reconciler_posts_total")
	s.register(reg, s.reconcileDuration, "easypost_reconciler_run_duration_seconds")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easypost_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easypost_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easypost_eventbus_buffer_saturation",
		Help: "Ratio of buffered events to capacity (0-1).",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easypost_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "easypost_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "easypost_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "easypost_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "easypost_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easypost_leader_status",
		Help: "1 if this instance holds the scheduler lock, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easypost_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easypost_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "easypost_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "easypost_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "easypost_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
// BreakerStates is read on every scrape.
type BreakerStates interface {
	States() map[domain.Platform]circuitbreaker.State
}

// WatchBreaker exports easypost_circuit_breaker_state{platform}: 0 closed,
// 1 open, 2 half-open. Platforms without failures report closed.
func (s *PrometheusSink) WatchBreaker(reg prometheus.Registerer, src BreakerStates) {
	s.register(reg, &breakerCollector{
		src: src,
		desc: prometheus.NewDesc(
			"easypost_circuit_breaker_state",
			"Circuit breaker state per platform (0 closed, 1 open, 2 half-open).",
			[]string{"platform"}, nil,
		),
	}, "easypost_circuit_breaker_state")
}

type breakerCollector struct {
	src  BreakerStates
	desc *prometheus.Desc
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	states := c.src.States()
	for _, p := range domain.Platforms {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(states[p]), string(p))
	}
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, jobsProcessed int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.jobsProcessedTotal.Add(float64(jobsProcessed))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) TickSkipped() {
	s.ticksSkippedTotal.Inc()
}

func (s *PrometheusSink) JobUpdateConflict() {
	s.jobConflictsTotal.Inc()
}

// Orchestrator metrics implementation

func (s *PrometheusSink) PublishAttemptCompleted(platform, outcome string, duration time.Duration) {
	s.publishAttemptsTotal.WithLabelValues(platform, outcome).Inc()
	s.publishDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

func (s *PrometheusSink) PacingWaited(platform string, wait time.Duration) {
	s.pacingWait.WithLabelValues(platform).Observe(wait.Seconds())
}

func (s *PrometheusSink) JobOutcome(status string) {
	s.jobOutcomesTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

func (s *PrometheusSink) DispatchLatencyObserve(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	s.dispatchLatency.Observe(latency.Seconds())
}

// Reconciler metrics implementation

func (s *PrometheusSink) ReconcileCompleted(duration time.Duration, updated, skipped int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	s.reconcileRunsTotal.WithLabelValues(result).Inc()
	s.reconcilePostsTotal.WithLabelValues("updated").Add(float64(updated))
	s.reconcilePostsTotal.WithLabelValues("skipped").Add(float64(skipped))
	s.reconcileDuration.Observe(duration.Seconds())
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
