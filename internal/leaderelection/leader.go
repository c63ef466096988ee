// Package leaderelection keeps a single easypost replica ticking the
// scheduler and reconciler at a time.
//
// Leadership is a Postgres session-scoped advisory lock taken on a dedicated
// connection. There is no TTL: the lock lives as long as the session. A
// leader that shuts down unlocks explicitly so a follower can take over on
// its next retry. A leader whose connection dies loses the lock server-side
// once Postgres notices the dead session.
//
// The heartbeat only detects local connection death. It does not renew
// anything.
package leaderelection

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultLockKey is the advisory lock key shared by all easypost replicas.
const DefaultLockKey int64 = 0x65617379706f7374

// Lost-leadership reasons reported to the metrics sink.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

const (
	queryTryLock = "SELECT pg_try_advisory_lock($1)"
	queryUnlock  = "SELECT pg_advisory_unlock($1)"
)

const unlockTimeout = 5 * time.Second

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // ReasonShutdown or ReasonConnLost
}

// Config holds elector configuration.
type Config struct {
	// LockKey must be identical on every replica sharing a database.
	LockKey int64

	// RetryInterval is how often a follower tries to take the lock. It bounds
	// the failover gap. Default: 5s.
	RetryInterval time.Duration

	// HeartbeatInterval is how often the leader pings its connection.
	// Default: 2s.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the default elector configuration.
func DefaultConfig() Config {
	return Config{
		LockKey:           DefaultLockKey,
		RetryInterval:     5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
	}
}

// Elector runs leader duties while it holds the advisory lock.
type Elector struct {
	db        *sql.DB
	config    Config
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink // optional, nil = disabled
	logger    *zap.Logger
	leader    atomic.Bool
}

// New creates a new Elector. Zero config fields take their defaults.
//
// onElected runs in a new goroutine once the lock is taken. Its context is
// cancelled when leadership ends, so it should start the scheduler and
// reconciler and return.
//
// onDemoted runs synchronously when leadership ends and must block until
// leader duties have stopped. It must be idempotent.
func New(db *sql.DB, config Config, onElected func(ctx context.Context), onDemoted func()) *Elector {
	def := DefaultConfig()
	if config.LockKey == 0 {
		config.LockKey = def.LockKey
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	return &Elector{
		db:        db,
		config:    config,
		onElected: onElected,
		onDemoted: onDemoted,
		logger:    zap.NewNop(),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

func (e *Elector) WithLogger(logger *zap.Logger) *Elector {
	e.logger = logger.Named("leader")
	return e
}

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Run campaigns for leadership until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("election loop started",
		zap.Int64("lock_key", e.config.LockKey),
		zap.Duration("retry", e.config.RetryInterval),
		zap.Duration("heartbeat", e.config.HeartbeatInterval),
	)
	defer e.logger.Info("election loop stopped")

	for ctx.Err() == nil {
		if reason := e.runOnce(ctx); reason != "" && ctx.Err() == nil {
			e.logger.Warn("lost leadership",
				zap.String("reason", reason),
				zap.Duration("retry_in", e.config.RetryInterval),
			)
		}

		timer := time.NewTimer(e.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runOnce tries to take the lock and, if it succeeds, holds it until ctx is
// cancelled or the connection dies. It returns why leadership ended, or ""
// when the lock was never taken.
func (e *Elector) runOnce(ctx context.Context) string {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Warn("failed to get dedicated connection", zap.Error(err))
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, queryTryLock, e.config.LockKey).Scan(&acquired); err != nil {
		e.logger.Warn("advisory lock query failed", zap.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("lock held by another replica")
		return ""
	}

	e.logger.Info("became leader")
	e.leader.Store(true)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted()

	// The connection goes back to the pool on Close, so a clean shutdown
	// must release the session lock itself.
	if reason == ReasonShutdown {
		e.unlock(conn)
	}
	e.leader.Store(false)

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	e.logger.Info("stepped down", zap.String("reason", reason))
	return reason
}

// holdLock pings the dedicated connection until ctx is cancelled or a ping
// fails.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Warn("dedicated connection ping failed", zap.Error(err))
				return ReasonConnLost
			}
		}
	}
}

func (e *Elector) unlock(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	var released bool
	if err := conn.QueryRowContext(ctx, queryUnlock, e.config.LockKey).Scan(&released); err != nil {
		e.logger.Warn("advisory unlock failed", zap.Error(err))
		return
	}
	if !released {
		e.logger.Warn("advisory lock was not held at unlock")
	}
}
