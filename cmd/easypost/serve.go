package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/analytics"
	"github.com/djlord-it/easy-post/internal/api"
	"github.com/djlord-it/easy-post/internal/circuitbreaker"
	"github.com/djlord-it/easy-post/internal/config"
	"github.com/djlord-it/easy-post/internal/content"
	"github.com/djlord-it/easy-post/internal/cron"
	"github.com/djlord-it/easy-post/internal/jobs"
	"github.com/djlord-it/easy-post/internal/leaderelection"
	"github.com/djlord-it/easy-post/internal/metrics"
	"github.com/djlord-it/easy-post/internal/notify"
	"github.com/djlord-it/easy-post/internal/orchestrator"
	"github.com/djlord-it/easy-post/internal/pacing"
	"github.com/djlord-it/easy-post/internal/platform"
	"github.com/djlord-it/easy-post/internal/reconciler"
	"github.com/djlord-it/easy-post/internal/scheduler"
	"github.com/djlord-it/easy-post/internal/store/postgres"
	"github.com/djlord-it/easy-post/internal/transport/channel"
	"github.com/djlord-it/easy-post/internal/transport/natsbus"
)

func runServe() int {
	cfg, logger, code := loadConfig()
	if code != exitSuccess {
		return code
	}
	defer logger.Sync()

	logger.Info("starting", zap.String("version", version), zap.String("commit", commit))
	logConfigWarnings(logger, cfg)

	startCtx, cancelStart := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelStart()

	db, err := openDB(startCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitRuntimeError
	}
	defer db.Close()

	if err := probeSchema(db); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.Error("database schema missing, run `easypost migrate` first")
		} else {
			logger.Error("schema probe failed", zap.Error(err))
		}
		return exitRuntimeError
	}

	store := postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)

	// nil when disabled; only hand it to WithMetrics behind a nil check.
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
	} else {
		logger.Info("METRICS_ENABLED not set; metrics disabled")
	}

	perPlatform, err := pacing.ParsePlatformPacing(cfg.PlatformPacing)
	if err != nil {
		logger.Error("invalid PLATFORM_PACING", zap.Error(err))
		return exitInvalidConfig
	}

	registry := platform.NewDefaultRegistry(platform.Endpoints{
		Facebook:      cfg.FacebookAPIURL,
		Instagram:     cfg.InstagramAPIURL,
		Twitter:       cfg.TwitterAPIURL,
		TwitterUpload: cfg.TwitterUploadURL,
		LinkedIn:      cfg.LinkedInAPIURL,
	}, platform.WithTimeout(cfg.PlatformTimeout))

	orch := orchestrator.New(
		content.NewAdapter(content.DefaultRules(), cfg.Hashtags),
		registry,
		store,
		store,
	).
		WithPacer(pacing.New(cfg.PacingInterval, perPlatform)).
		WithLogger(logger)

	if cfg.CircuitBreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		orch = orch.WithBreaker(breaker)
		if metricsSink != nil {
			metricsSink.WatchBreaker(prometheus.DefaultRegisterer, breaker)
		}
	}
	if metricsSink != nil {
		orch = orch.WithMetrics(metricsSink)
	}

	var outcomes *analytics.RedisSink
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(startCtx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis not reachable; counters will be retried per event", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()

		outcomes = analytics.NewRedisSink(redisClient).
			WithRetention(cfg.AnalyticsRetention).
			WithLogger(logger)
		orch = orch.WithAnalytics(outcomes)
		logger.Info("analytics enabled", zap.String("redis", cfg.RedisAddr), zap.Duration("retention", cfg.AnalyticsRetention))
	} else {
		logger.Info("REDIS_ADDR not set; analytics disabled")
	}

	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	sched := scheduler.New(
		scheduler.Config{
			TickInterval: cfg.TickInterval,
			BatchSize:    cfg.SchedulerBatchSize,
			Workers:      cfg.SchedulerWorkers,
		},
		store,
		orch,
	).
		WithEmitter(bus).
		WithLogger(logger)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	duties := &leaderDuties{
		scheduler: func(ctx context.Context) {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler exited", zap.Error(err))
			}
		},
		logger: logger,
	}

	if cfg.ReconcileEnabled {
		schedule, err := cron.NewParser().Parse(cfg.ReconcileSchedule, "UTC")
		if err != nil {
			logger.Error("invalid RECONCILE_SCHEDULE", zap.Error(err))
			return exitInvalidConfig
		}
		recon := reconciler.New(
			reconciler.Config{
				Window:    cfg.ReconcileWindow,
				BatchSize: cfg.ReconcileBatchSize,
			},
			schedule,
			store,
			registry,
			store,
		).WithLogger(logger)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		duties.reconciler = recon.Run
		logger.Info("reconciler enabled",
			zap.String("schedule", cfg.ReconcileSchedule),
			zap.Duration("window", cfg.ReconcileWindow),
			zap.Int("batch", cfg.ReconcileBatchSize),
		)
	} else {
		logger.Info("RECONCILE_ENABLED=false; reconciler disabled")
	}

	notifier := notify.New().
		WithDrainTimeout(cfg.NotifyDrainTimeout).
		WithLogger(logger)

	var natsPub *natsbus.Publisher
	if cfg.NATSURL != "" {
		natsPub, err = natsbus.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Error("nats connect failed", zap.Error(err))
			return exitRuntimeError
		}
		notifier.Add("nats", natsPub)
		logger.Info("nats forwarding enabled", zap.String("subject", cfg.NATSSubject))
	}
	if cfg.WebhookURL != "" {
		notifier.Add("webhook", notify.NewWebhookForwarder(notify.WebhookConfig{
			URL:    cfg.WebhookURL,
			Secret: cfg.WebhookSecret,
		}))
		logger.Info("webhook forwarding enabled")
	}

	var elector *leaderelection.Elector
	if cfg.LeaderElectionEnabled {
		elector = leaderelection.New(db, leaderelection.Config{
			LockKey:           cfg.LeaderLockKey,
			RetryInterval:     cfg.LeaderRetryInterval,
			HeartbeatInterval: cfg.LeaderHeartbeatInterval,
		}, duties.start, duties.stop).WithLogger(logger)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}
	}

	service := jobs.NewService(store).
		WithDefaultMaxAttempts(cfg.DefaultMaxAttempts).
		WithLogger(logger)
	if outcomes != nil {
		service = service.WithOutcomeCounter(outcomes)
	}
	apiHandler := api.NewHandler(service).
		WithHealthChecker(store).
		WithLogger(logger)
	if elector != nil {
		apiHandler = apiHandler.WithLeaderStatus(elector)
	}

	// Metrics share the API listener unless METRICS_PORT is set.
	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)

	var metricsServer *http.Server
	if metricsSink != nil {
		if cfg.MetricsPort != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{
				Addr:              ":" + cfg.MetricsPort,
				Handler:           metricsMux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr), zap.String("path", cfg.MetricsPath))
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
		} else {
			mux.Handle(cfg.MetricsPath, promhttp.Handler())
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	notifierCtx, cancelNotifier := context.WithCancel(context.Background())
	var notifierWg sync.WaitGroup
	notifierWg.Add(1)
	go func() {
		defer notifierWg.Done()
		notifier.Run(notifierCtx, bus.Channel())
	}()

	electionCtx, cancelElection := context.WithCancel(context.Background())
	var electionWg sync.WaitGroup

	if elector != nil {
		electionWg.Add(1)
		go func() {
			defer electionWg.Done()
			elector.Run(electionCtx)
		}()
		logger.Info("leader election enabled", zap.Int64("lock_key", cfg.LeaderLockKey))
	} else {
		duties.start(electionCtx)
	}

	logger.Info("started",
		zap.Duration("tick", cfg.TickInterval),
		zap.String("http", cfg.HTTPAddr),
	)

	<-startCtx.Done()
	logger.Info("received signal, shutting down")

	// Phase 1: stop scheduling work (scheduler, then reconciler)
	cancelElection()
	electionWg.Wait()
	duties.stop()

	// Phase 2: deliver buffered events, then close the bus
	logger.Info("stopping notifier (draining events)")
	cancelNotifier()
	notifierWg.Wait()
	bus.Close()
	if natsPub != nil {
		if err := natsPub.Close(); err != nil {
			logger.Warn("nats close error", zap.Error(err))
		}
	}
	logger.Info("notifier stopped")

	// Phase 3: stop HTTP server with graceful shutdown
	logger.Info("stopping http server")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	logger.Info("http server stopped")

	// Phase 4: stop metrics server if running
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		logger.Info("metrics server stopped")
	}

	logger.Info("stopped")
	return exitSuccess
}

// leaderDuties runs the scheduler and reconciler while this instance is
// allowed to. start and stop are idempotent. stop halts the scheduler before
// the reconciler and blocks until both have returned.
type leaderDuties struct {
	scheduler  func(ctx context.Context)
	reconciler func(ctx context.Context) // nil when disabled
	logger     *zap.Logger

	mu          sync.Mutex
	running     bool
	cancelSched context.CancelFunc
	cancelRecon context.CancelFunc
	schedWg     sync.WaitGroup
	reconWg     sync.WaitGroup
}

func (d *leaderDuties) start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	schedCtx, cancelSched := context.WithCancel(ctx)
	d.cancelSched = cancelSched
	d.schedWg.Add(1)
	go func() {
		defer d.schedWg.Done()
		d.scheduler(schedCtx)
	}()

	if d.reconciler != nil {
		reconCtx, cancelRecon := context.WithCancel(ctx)
		d.cancelRecon = cancelRecon
		d.reconWg.Add(1)
		go func() {
			defer d.reconWg.Done()
			d.reconciler(reconCtx)
		}()
	}
	d.logger.Info("leader duties started")
}

func (d *leaderDuties) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false

	d.cancelSched()
	d.schedWg.Wait()
	d.logger.Info("scheduler stopped")

	if d.cancelRecon != nil {
		d.cancelRecon()
		d.reconWg.Wait()
		d.cancelRecon = nil
		d.logger.Info("reconciler stopped")
	}
}

// waitFor retries ping with exponential backoff until it succeeds, maxElapsed
// passes or ctx is done.
func waitFor(ctx context.Context, name string, maxElapsed time.Duration, logger *zap.Logger, ping func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed

	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return ping(pingCtx)
	}
	onRetry := func(err error, next time.Duration) {
		logger.Warn("dependency not ready, retrying",
			zap.String("dependency", name),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), onRetry); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// probeSchema fails fast when migrations have not been applied.
func probeSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return postgres.ProbeSchema(ctx, db)
}

func logConfigWarnings(logger *zap.Logger, cfg config.Config) {
	for _, w := range cfg.Warnings() {
		logger.Warn("config warning", zap.String("warning", w))
	}
}
