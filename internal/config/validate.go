package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/djlord-it/easy-post/internal/cron"
	"github.com/djlord-it/easy-post/internal/logging"
	"github.com/djlord-it/easy-post/internal/pacing"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.invalid...)

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required"})
	}

	positive := []struct {
		field string
		value string
	}{
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"PLATFORM_TIMEOUT", cfg.PlatformTimeoutStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONNECT_TIMEOUT", cfg.DBConnectTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"NOTIFY_DRAIN_TIMEOUT", cfg.NotifyDrainTimeoutStr},
		{"RECONCILE_WINDOW", cfg.ReconcileWindowStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, p := range positive {
		if err := validateDuration(p.field, p.value, false); err != nil {
			errs = append(errs, *err)
		}
	}

	// PACING_INTERVAL=0 disables global pacing
	if err := validateDuration("PACING_INTERVAL", cfg.PacingIntervalStr, true); err != nil {
		errs = append(errs, *err)
	}
	if cfg.PlatformPacing != "" {
		if _, err := pacing.ParsePlatformPacing(cfg.PlatformPacing); err != nil {
			errs = append(errs, ValidationError{Field: "PLATFORM_PACING", Message: err.Error()})
		}
	}

	if cfg.DefaultMaxAttempts > 10 {
		errs = append(errs, ValidationError{
			Field:   "DEFAULT_MAX_ATTEMPTS",
			Message: fmt.Sprintf("must be between 1 and 10, got %d", cfg.DefaultMaxAttempts),
		})
	}

	if cfg.ReconcileEnabled {
		if err := cron.NewParser().Validate(cfg.ReconcileSchedule); err != nil {
			errs = append(errs, ValidationError{Field: "RECONCILE_SCHEDULE", Message: err.Error()})
		}
	}

	if cfg.LeaderElectionEnabled && cfg.LeaderRetryInterval > 0 && cfg.LeaderHeartbeatInterval > 0 &&
		cfg.LeaderHeartbeatInterval >= cfg.LeaderRetryInterval*10 {
		errs = append(errs, ValidationError{
			Field:   "LEADER_HEARTBEAT_INTERVAL",
			Message: "must be well below LEADER_RETRY_INTERVAL",
		})
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, ValidationError{Field: "LOG_LEVEL", Message: err.Error()})
	}
	if cfg.LogFormat != "" && cfg.LogFormat != logging.FormatJSON && cfg.LogFormat != logging.FormatConsole {
		errs = append(errs, ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'json' or 'console', got %q", cfg.LogFormat),
		})
	}

	urls := []struct {
		field string
		value string
	}{
		{"FACEBOOK_API_URL", cfg.FacebookAPIURL},
		{"INSTAGRAM_API_URL", cfg.InstagramAPIURL},
		{"TWITTER_API_URL", cfg.TwitterAPIURL},
		{"TWITTER_UPLOAD_URL", cfg.TwitterUploadURL},
		{"LINKEDIN_API_URL", cfg.LinkedInAPIURL},
		{"NOTIFY_WEBHOOK_URL", cfg.WebhookURL},
	}
	for _, u := range urls {
		if u.value == "" {
			continue
		}
		if parsed, err := url.Parse(u.value); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, ValidationError{
				Field:   u.field,
				Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", u.value),
			})
		}
	}

	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "NOTIFY_WEBHOOK_SECRET",
			Message: "required when NOTIFY_WEBHOOK_URL is set",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string, allowZero bool) *ValidationError {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}
	}
	if d < 0 || (d == 0 && !allowZero) {
		if allowZero {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}

// Warnings returns non-fatal notes about risky but valid combinations.
func (c Config) Warnings() []string {
	var w []string
	if !c.ReconcileEnabled {
		w = append(w, "RECONCILE_ENABLED=false: post metrics will never be refreshed")
	}
	if !c.MetricsEnabled {
		w = append(w, "METRICS_ENABLED=false: no visibility into publish outcomes or tick health")
	}
	if !c.LeaderElectionEnabled {
		w = append(w, "LEADER_ELECTION_ENABLED=false: run a single replica, or jobs may be attempted by several schedulers")
	}
	if c.PacingInterval == 0 && c.PlatformPacing == "" {
		w = append(w, "PACING_INTERVAL=0 and no PLATFORM_PACING: platform calls are not throttled")
	}
	if c.CircuitBreakerThreshold == 0 {
		w = append(w, "CIRCUIT_BREAKER_THRESHOLD=0: circuit breaker disabled")
	}
	if c.SchedulerWorkers > 1 && c.PacingInterval > 0 {
		w = append(w, fmt.Sprintf("SCHEDULER_WORKERS=%d: pacing is shared, so workers mostly wait on the limiter", c.SchedulerWorkers))
	}
	return w
}
