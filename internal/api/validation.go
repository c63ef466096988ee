package api

import (
	"fmt"
	"time"

	"github.com/djlord-it/easy-post/internal/domain"
	"github.com/djlord-it/easy-post/internal/jobs"
)

// localLayouts are accepted for scheduled_for values without an offset.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// toScheduleRequest converts the wire request. Only scheduled_for and
// timezone parsing is checked here; the service validates the rest.
func toScheduleRequest(req ScheduleJobRequest) (jobs.ScheduleRequest, error) {
	out := jobs.ScheduleRequest{
		Content:     req.Content,
		Timezone:    req.Timezone,
		ImageRefs:   req.ImageRefs,
		MaxAttempts: req.MaxAttempts,
	}
	for _, p := range req.Platforms {
		out.Platforms = append(out.Platforms, domain.Platform(p))
	}

	if req.ScheduledFor == "" {
		// left zero, reported as required by the service
		return out, nil
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return jobs.ScheduleRequest{}, jobs.ValidationErrors{{
			Field:   "timezone",
			Message: fmt.Sprintf("unknown timezone %q", req.Timezone),
		}}
	}

	at, err := parseScheduledFor(req.ScheduledFor, loc)
	if err != nil {
		return jobs.ScheduleRequest{}, jobs.ValidationErrors{{Field: "scheduled_for", Message: err.Error()}}
	}
	out.ScheduledFor = at
	return out, nil
}

// parseScheduledFor accepts RFC3339, or a wall-clock time interpreted in loc.
func parseScheduledFor(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 or YYYY-MM-DDTHH:MM[:SS]")
}
