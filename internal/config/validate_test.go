package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DatabaseURL:     "postgres://localhost/easypost",
		TickIntervalStr: "1m",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}

	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %q", err.Error())
	}
}

func TestValidate_InvalidTickInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		wantErr  string
	}{
		{"non-parseable", "invalid", "invalid duration"},
		{"negative", "-1s", "must be positive"},
		{"zero", "0s", "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.TickIntervalStr = tt.interval

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for tick_interval=%q", tt.interval)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_AnalyticsRetention(t *testing.T) {
	cfg := validConfig()
	cfg.AnalyticsRetentionStr = "0s"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "ANALYTICS_RETENTION") {
		t.Fatalf("expected ANALYTICS_RETENTION error, got %v", err)
	}

	cfg.AnalyticsRetentionStr = "24h"
	if err := Validate(cfg); err != nil {
		t.Errorf("24h retention should be valid, got: %v", err)
	}
}

func TestValidate_PacingInterval(t *testing.T) {
	cfg := validConfig()
	cfg.PacingIntervalStr = "0s"
	if err := Validate(cfg); err != nil {
		t.Errorf("zero pacing disables the limiter and is valid, got: %v", err)
	}

	cfg.PacingIntervalStr = "-2s"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "PACING_INTERVAL") {
		t.Errorf("negative pacing should be rejected, got: %v", err)
	}
}

func TestValidate_PlatformPacing(t *testing.T) {
	cfg := validConfig()
	cfg.PlatformPacing = "twitter=5s,instagram=10s"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.PlatformPacing = "myspace=5s"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "PLATFORM_PACING") {
		t.Errorf("unknown platform should be rejected, got: %v", err)
	}
}

func TestValidate_ReconcileSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.ReconcileEnabled = true
	cfg.ReconcileSchedule = "@fortnightly"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "RECONCILE_SCHEDULE") {
		t.Errorf("expected RECONCILE_SCHEDULE error, got: %v", err)
	}

	cfg.ReconcileEnabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("schedule is ignored when reconciler disabled, got: %v", err)
	}
}

func TestValidate_ReconcileScheduleTooFrequent(t *testing.T) {
	cfg := validConfig()
	cfg.ReconcileEnabled = true
	cfg.ReconcileSchedule = "@every 5s"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "once a minute") {
		t.Errorf("expected too-frequent RECONCILE_SCHEDULE error, got: %v", err)
	}
}

func TestValidate_MaxAttempts(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultMaxAttempts = 11

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "DEFAULT_MAX_ATTEMPTS") {
		t.Errorf("expected DEFAULT_MAX_ATTEMPTS error, got: %v", err)
	}
}

func TestValidate_Logging(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "chatty"
	cfg.LogFormat = "xml"

	errs, ok := Validate(cfg).(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors")
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidate_URLs(t *testing.T) {
	cfg := validConfig()
	cfg.TwitterAPIURL = "api.twitter.com"
	cfg.LinkedInAPIURL = "ftp://linkedin"
	cfg.FacebookAPIURL = "https://graph.facebook.com/v19.0"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected URL errors")
	}
	if !strings.Contains(err.Error(), "TWITTER_API_URL") || !strings.Contains(err.Error(), "LINKEDIN_API_URL") {
		t.Errorf("unexpected error: %v", err)
	}
	if strings.Contains(err.Error(), "FACEBOOK_API_URL") {
		t.Errorf("valid URL should not be reported: %v", err)
	}
}

func TestValidate_WebhookNeedsSecret(t *testing.T) {
	cfg := validConfig()
	cfg.WebhookURL = "https://hooks.example.com/x"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "NOTIFY_WEBHOOK_SECRET") {
		t.Errorf("expected NOTIFY_WEBHOOK_SECRET error, got: %v", err)
	}

	cfg.WebhookSecret = "s"
	if err := Validate(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_LeaderIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.LeaderElectionEnabled = true
	cfg.LeaderRetryInterval = time.Second
	cfg.LeaderHeartbeatInterval = time.Minute

	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "LEADER_HEARTBEAT_INTERVAL") {
		t.Errorf("expected heartbeat error, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := Config{
		DatabaseURL:     "",
		TickIntervalStr: "invalid",
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(errs), errs)
	}

	if !strings.Contains(err.Error(), "2 validation errors") {
		t.Errorf("error message should mention count: %q", err.Error())
	}
}

func TestValidationErrors_Single(t *testing.T) {
	errs := ValidationErrors{{Field: "X", Message: "bad"}}
	if errs.Error() != "X: bad" {
		t.Errorf("got %q", errs.Error())
	}
	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should have empty message")
	}
}

func TestWarnings(t *testing.T) {
	cfg := Config{
		ReconcileEnabled:        false,
		MetricsEnabled:          false,
		LeaderElectionEnabled:   false,
		CircuitBreakerThreshold: 0,
	}
	w := strings.Join(cfg.Warnings(), "\n")
	for _, want := range []string{"RECONCILE_ENABLED=false", "METRICS_ENABLED=false", "LEADER_ELECTION_ENABLED=false", "PACING_INTERVAL=0", "CIRCUIT_BREAKER_THRESHOLD=0"} {
		if !strings.Contains(w, want) {
			t.Errorf("expected warning %q in:\n%s", want, w)
		}
	}

	quiet := Config{
		ReconcileEnabled:        true,
		MetricsEnabled:          true,
		LeaderElectionEnabled:   true,
		PacingInterval:          time.Second,
		CircuitBreakerThreshold: 5,
		SchedulerWorkers:        1,
	}
	if got := quiet.Warnings(); len(got) != 0 {
		t.Errorf("expected no warnings, got %v", got)
	}
}
