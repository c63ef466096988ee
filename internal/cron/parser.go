// Package cron parses the reconciler schedule. Five-field expressions and
// descriptors such as @hourly or @every 30m are accepted.
package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the analytics reconciler at the top of every hour.
const DefaultSchedule = "@hourly"

// MinInterval is the shortest gap allowed between two reconciler runs.
const MinInterval = time.Minute

var ErrTooFrequent = errors.New("schedule fires more often than once a minute")

// Schedule yields the next run time after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse parses expression and evaluates it in timezone. An empty timezone
// means UTC.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &localSchedule{sched: sched, loc: loc}, nil
}

// Validate reports whether expression parses and fires no more often than
// MinInterval.
func (p *Parser) Validate(expression string) error {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return err
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok && every.Delay < MinInterval {
		return ErrTooFrequent
	}
	return nil
}

// Upcoming returns the next n run times of s after from, in UTC.
func Upcoming(s Schedule, from time.Time, n int) []time.Time {
	runs := make([]time.Time, 0, n)
	next := from
	for i := 0; i < n; i++ {
		next = s.Next(next)
		if next.IsZero() {
			break
		}
		runs = append(runs, next.UTC())
	}
	return runs
}

type localSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *localSchedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
