package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidSchedule is returned when a cron expression or timezone cannot be parsed.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed cron expression bound to a timezone.
type Schedule struct {
	Expression string
	Location   *time.Location
	schedule   cron.Schedule
}

// ParseSchedule parses a standard 5-field cron expression evaluated in timezone.
// An empty timezone means UTC.
func ParseSchedule(expression, timezone string) (*Schedule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("%w: empty cron expression", ErrInvalidSchedule)
	}

	if timezone == "" {
		timezone = "UTC"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, timezone, err)
	}

	parsed, err := cronParser.Parse("CRON_TZ=" + timezone + " " + expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	return &Schedule{Expression: expression, Location: location, schedule: parsed}, nil
}

// FiresAt reports whether the schedule fires in the minute containing t.
func (s *Schedule) FiresAt(t time.Time) bool {
	minute := t.Truncate(time.Minute)

	return s.schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

// Next returns the first activation strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}
