package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-post/internal/config"
	"github.com/djlord-it/easy-post/internal/cron"
	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/logging"
	"github.com/djlord-it/easy-post/internal/store/postgres"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(exitInvalidConfig)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "migrate":
		os.Exit(runMigrate())
	case "connect":
		os.Exit(runConnect(os.Args[2:]))
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`easypost - scheduled multi-platform social publishing

Usage:
  easypost <command>

Commands:
  serve      Start the scheduler, reconciler, notifier and HTTP API
  migrate    Create or update the database schema
  connect    Store a platform connection: connect <platform> <account_id> <token> [expires_at]
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables (also read from .env.local and .env):
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for publish outcome counters (optional)
  ANALYTICS_RETENTION       TTL of hourly outcome counters (default: "168h")
  HTTP_ADDR                 HTTP server address (default: ":8080", PORT also honoured)
  LOG_LEVEL                 debug, info, warn or error (default: "info")
  LOG_FORMAT                json or console (default: "json")

  TICK_INTERVAL             Scheduler tick interval (default: "1m")
  SCHEDULER_BATCH_SIZE      Max due jobs per tick (default: "10")
  SCHEDULER_WORKERS         Jobs processed concurrently per tick (default: "1")
  DEFAULT_MAX_ATTEMPTS      Attempt budget for new jobs, 1-10 (default: "3")

  PACING_INTERVAL           Minimum gap between platform calls (default: "2s", 0 disables)
  PLATFORM_PACING           Per-platform gaps, e.g. "twitter=5s,instagram=10s"
  PLATFORM_TIMEOUT          Platform API request timeout (default: "30s")
  HASHTAGS                  Comma-separated hashtags appended where supported
  FACEBOOK_API_URL          Override Graph API base URL
  INSTAGRAM_API_URL         Override Instagram Graph API base URL
  TWITTER_API_URL           Override Twitter API base URL
  TWITTER_UPLOAD_URL        Override Twitter media upload URL
  LINKEDIN_API_URL          Override LinkedIn API base URL

  CIRCUIT_BREAKER_THRESHOLD Consecutive transport failures before opening (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Time before a half-open probe (default: "2m")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_CONNECT_TIMEOUT        Startup connection retry budget (default: "30s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  NOTIFY_DRAIN_TIMEOUT      Event drain timeout on shutdown (default: "30s")
  EVENTBUS_BUFFER_SIZE      In-process event buffer (default: "100")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Serve metrics on a separate port (default: same as HTTP_ADDR)

  RECONCILE_ENABLED         Refresh post metrics (default: "true")
  RECONCILE_SCHEDULE        Cron expression or descriptor (default: "@hourly")
  RECONCILE_WINDOW          How far back posts are refreshed (default: "168h")
  RECONCILE_BATCH_SIZE      Max posts per run (default: "100")

  LEADER_ELECTION_ENABLED   Only one replica runs the scheduler (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all replicas
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")

  NATS_URL                  Publish terminal job events to NATS (optional)
  NATS_SUBJECT              Subject prefix (default: "easypost.jobs")
  NOTIFY_WEBHOOK_URL        POST terminal job events to this URL (optional)
  NOTIFY_WEBHOOK_SECRET     HMAC-SHA256 signing secret (required with NOTIFY_WEBHOOK_URL)`)
}

// loadConfig loads and validates configuration and builds the logger.
func loadConfig() (config.Config, *zap.Logger, int) {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return cfg, nil, exitInvalidConfig
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return cfg, nil, exitInvalidConfig
	}
	return cfg, logger, exitSuccess
}

// openDB opens the pool and waits for the database to accept connections.
func openDB(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.Info("db pool configured",
		zap.Int("max_open", cfg.DBMaxOpenConns),
		zap.Int("max_idle", cfg.DBMaxIdleConns),
		zap.Duration("max_lifetime", cfg.DBConnMaxLifetime),
		zap.Duration("max_idle_time", cfg.DBConnMaxIdleTime),
	)

	if err := waitFor(ctx, "postgres", cfg.DBConnectTimeout, logger, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func runMigrate() int {
	cfg, logger, code := loadConfig()
	if code != exitSuccess {
		return code
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		logger.Error("migrate failed", zap.Error(err))
		return exitRuntimeError
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Error("migrate failed", zap.Error(err))
		return exitRuntimeError
	}

	logger.Info("schema up to date")
	return exitSuccess
}

func runConnect(args []string) int {
	conn, err := parseConnectArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: easypost connect <platform> <account_id> <access_token> [expires_at RFC3339]")
		return exitInvalidConfig
	}

	cfg, logger, code := loadConfig()
	if code != exitSuccess {
		return code
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect failed", zap.Error(err))
		return exitRuntimeError
	}
	defer db.Close()

	store := postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)
	if err := store.UpsertConnection(ctx, conn, time.Now().UTC()); err != nil {
		logger.Error("connect failed", zap.Error(err))
		return exitRuntimeError
	}

	logger.Info("connection stored",
		zap.String("platform", string(conn.Platform)),
		zap.String("account_id", conn.AccountID),
	)
	return exitSuccess
}

func parseConnectArgs(args []string) (domain.PlatformConnection, error) {
	if len(args) < 3 || len(args) > 4 {
		return domain.PlatformConnection{}, fmt.Errorf("expected 3 or 4 arguments, got %d", len(args))
	}

	p := domain.Platform(args[0])
	if !p.Valid() {
		return domain.PlatformConnection{}, fmt.Errorf("unknown platform %q", args[0])
	}
	if args[1] == "" || args[2] == "" {
		return domain.PlatformConnection{}, fmt.Errorf("account_id and access_token are required")
	}

	conn := domain.PlatformConnection{
		Platform:    p,
		AccountID:   args[1],
		AccessToken: args[2],
	}
	if len(args) == 4 {
		t, err := time.Parse(time.RFC3339, args[3])
		if err != nil {
			return domain.PlatformConnection{}, fmt.Errorf("invalid expires_at: %w", err)
		}
		t = t.UTC()
		conn.ExpiresAt = &t
	}
	return conn, nil
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	for _, w := range cfg.Warnings() {
		fmt.Printf("warning: %s\n", w)
	}
	if cfg.ReconcileEnabled {
		if sched, err := cron.NewParser().Parse(cfg.ReconcileSchedule, "UTC"); err == nil {
			for _, at := range cron.Upcoming(sched, time.Now(), 3) {
				fmt.Printf("reconcile run: %s\n", at.Format(time.RFC3339))
			}
		}
	}
	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("easypost version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
