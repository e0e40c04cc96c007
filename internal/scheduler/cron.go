package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronExpression is returned for malformed crontabs. Well-formed
// input is normally guaranteed upstream at schedule-creation time.
var ErrInvalidCronExpression = errors.New("invalid cron expression")

// CronMatcher resolves standard 5-field cron expressions against a
// schedule's timezone. It is stateless; both operations are pure functions
// of their inputs.
type CronMatcher struct {
	parser cron.Parser
}

// NewCronMatcher creates a matcher with the standard 5-field parser.
func NewCronMatcher() *CronMatcher {
	return &CronMatcher{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		),
	}
}

func (m *CronMatcher) parse(expression string) (cron.Schedule, error) {
	schedule, err := m.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, expression, err)
	}
	return schedule, nil
}

// Matches reports whether the expression fires at the given instant,
// evaluated in the given timezone. Sub-minute precision is ignored.
func (m *CronMatcher) Matches(expression, timezone string, instant time.Time) (bool, error) {
	schedule, err := m.parse(expression)
	if err != nil {
		return false, err
	}

	loc, err := loadLocation(timezone)
	if err != nil {
		return false, err
	}

	minute := instant.In(loc).Truncate(time.Minute)
	next := schedule.Next(minute.Add(-time.Second))

	return next.Equal(minute), nil
}

// FireInstants returns the instants in (windowStart, windowEnd] at which the
// expression fires, in the given timezone, in increasing order. Returned
// instants are in UTC.
func (m *CronMatcher) FireInstants(expression, timezone string, windowStart, windowEnd time.Time) ([]time.Time, error) {
	schedule, err := m.parse(expression)
	if err != nil {
		return nil, err
	}

	loc, err := loadLocation(timezone)
	if err != nil {
		return nil, err
	}

	var instants []time.Time
	for t := schedule.Next(windowStart.In(loc)); !t.IsZero() && !t.After(windowEnd); t = schedule.Next(t) {
		instants = append(instants, t.UTC())
	}

	return instants, nil
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	return loc, nil
}
