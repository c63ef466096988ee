package api

import (
	"errors"
	"testing"
	"time"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/jobs"
)

func TestToScheduleRequest_RFC3339(t *testing.T) {
	req := ScheduleJobRequest{
		Content:      "hello",
		Platforms:    []string{"twitter", "linkedin"},
		ScheduledFor: "2024-03-01T12:00:00+02:00",
		MaxAttempts:  2,
	}

	out, err := toScheduleRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !out.ScheduledFor.Equal(want) {
		t.Errorf("ScheduledFor = %v, want %v", out.ScheduledFor, want)
	}
	if len(out.Platforms) != 2 || out.Platforms[1] != domain.PlatformLinkedIn {
		t.Errorf("Platforms = %v", out.Platforms)
	}
	if out.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", out.MaxAttempts)
	}
}

func TestToScheduleRequest_LocalTimeInTimezone(t *testing.T) {
	req := ScheduleJobRequest{
		Content:      "hello",
		Platforms:    []string{"twitter"},
		ScheduledFor: "2024-07-01T09:30",
		Timezone:     "America/New_York",
	}

	out, err := toScheduleRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2024, 7, 1, 13, 30, 0, 0, time.UTC)
	if !out.ScheduledFor.Equal(want) {
		t.Errorf("ScheduledFor = %v, want %v", out.ScheduledFor.UTC(), want)
	}
	if out.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", out.Timezone)
	}
}

func TestToScheduleRequest_LocalTimeDefaultsToUTC(t *testing.T) {
	out, err := toScheduleRequest(ScheduleJobRequest{ScheduledFor: "2024-07-01 09:30:15"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 7, 1, 9, 30, 15, 0, time.UTC)
	if !out.ScheduledFor.Equal(want) {
		t.Errorf("ScheduledFor = %v, want %v", out.ScheduledFor, want)
	}
}

func TestToScheduleRequest_EmptyTimeLeftForService(t *testing.T) {
	out, err := toScheduleRequest(ScheduleJobRequest{Content: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.ScheduledFor.IsZero() {
		t.Errorf("expected zero ScheduledFor, got %v", out.ScheduledFor)
	}
}

func TestToScheduleRequest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		req   ScheduleJobRequest
		field string
	}{
		{
			name:  "bad time",
			req:   ScheduleJobRequest{ScheduledFor: "tomorrow"},
			field: "scheduled_for",
		},
		{
			name:  "bad timezone",
			req:   ScheduleJobRequest{ScheduledFor: "2024-07-01T09:30", Timezone: "Nowhere/City"},
			field: "timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := toScheduleRequest(tt.req)
			var verrs jobs.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			if verrs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", verrs[0].Field, tt.field)
			}
		})
	}
}
