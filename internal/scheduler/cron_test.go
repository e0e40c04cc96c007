package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestCronMatcherMatches(t *testing.T) {
	matcher := NewCronMatcher()

	tests := []struct {
		name       string
		expression string
		timezone   string
		instant    time.Time
		want       bool
	}{
		{
			name:       "every minute matches any instant",
			expression: "* * * * *",
			timezone:   "UTC",
			instant:    time.Date(2024, 3, 10, 14, 37, 12, 0, time.UTC),
			want:       true,
		},
		{
			name:       "daily at nine matches",
			expression: "0 9 * * *",
			timezone:   "UTC",
			instant:    time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
			want:       true,
		},
		{
			name:       "daily at nine does not match other minutes",
			expression: "0 9 * * *",
			timezone:   "UTC",
			instant:    time.Date(2024, 3, 10, 9, 1, 0, 0, time.UTC),
			want:       false,
		},
		{
			name:       "timezone shifts local fields",
			expression: "30 9 * * *",
			timezone:   "America/New_York",
			instant:    time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC),
			want:       true,
		},
		{
			name:       "timezone non-match in utc terms",
			expression: "30 9 * * *",
			timezone:   "America/New_York",
			instant:    time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
			want:       false,
		},
		{
			name:       "sub-minute precision is ignored",
			expression: "0 9 * * *",
			timezone:   "UTC",
			instant:    time.Date(2024, 3, 10, 9, 0, 59, 0, time.UTC),
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := matcher.Matches(tt.expression, tt.timezone, tt.instant)
			if err != nil {
				t.Fatalf("Matches() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCronMatcherInvalidExpression(t *testing.T) {
	matcher := NewCronMatcher()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	for _, expression := range []string{"", "not a cron", "61 * * * *", "* * * *"} {
		if _, err := matcher.Matches(expression, "UTC", now); !errors.Is(err, ErrInvalidCronExpression) {
			t.Errorf("Matches(%q) error = %v, want ErrInvalidCronExpression", expression, err)
		}
		if _, err := matcher.FireInstants(expression, "UTC", now, now.Add(time.Hour)); !errors.Is(err, ErrInvalidCronExpression) {
			t.Errorf("FireInstants(%q) error = %v, want ErrInvalidCronExpression", expression, err)
		}
	}
}

func TestCronMatcherUnknownTimezone(t *testing.T) {
	matcher := NewCronMatcher()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	if _, err := matcher.Matches("* * * * *", "Mars/Olympus", now); err == nil {
		t.Error("Matches() with unknown timezone should fail")
	}
}

func TestFireInstantsEveryMinute(t *testing.T) {
	matcher := NewCronMatcher()

	start := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	instants, err := matcher.FireInstants("* * * * *", "UTC", start, end)
	if err != nil {
		t.Fatalf("FireInstants() error = %v", err)
	}

	if len(instants) != 60 {
		t.Fatalf("FireInstants() returned %d instants, want 60", len(instants))
	}
	if !instants[0].Equal(start.Add(time.Minute)) {
		t.Errorf("first instant = %v, want %v", instants[0], start.Add(time.Minute))
	}
	if !instants[59].Equal(end) {
		t.Errorf("last instant = %v, want %v", instants[59], end)
	}
}

func TestFireInstantsQuarterHours(t *testing.T) {
	matcher := NewCronMatcher()

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{
			name:  "matching hour fires four times",
			start: time.Date(2024, 3, 10, 1, 59, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC),
			want:  4,
		},
		{
			name:  "second matching hour fires four times",
			start: time.Date(2024, 3, 10, 9, 59, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
			want:  4,
		},
		{
			name:  "non-matching hour fires zero times",
			start: time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC),
			end:   time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC),
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instants, err := matcher.FireInstants("*/15 2,10 * * *", "UTC", tt.start, tt.end)
			if err != nil {
				t.Fatalf("FireInstants() error = %v", err)
			}
			if len(instants) != tt.want {
				t.Errorf("FireInstants() returned %d instants, want %d", len(instants), tt.want)
			}
		})
	}
}

func TestFireInstantsAgreeWithMatches(t *testing.T) {
	matcher := NewCronMatcher()

	start := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	for _, expression := range []string{"*/15 2,10 * * *", "0 9 * * *", "30 */4 * * 0"} {
		instants, err := matcher.FireInstants(expression, "UTC", start, end)
		if err != nil {
			t.Fatalf("FireInstants(%q) error = %v", expression, err)
		}

		prev := time.Time{}
		for _, instant := range instants {
			if !instant.After(prev) {
				t.Errorf("%q: instants not strictly increasing at %v", expression, instant)
			}
			prev = instant

			ok, err := matcher.Matches(expression, "UTC", instant)
			if err != nil {
				t.Fatalf("Matches(%q) error = %v", expression, err)
			}
			if !ok {
				t.Errorf("%q: fired instant %v does not satisfy Matches", expression, instant)
			}
		}
	}
}

func TestFireInstantsWindowBoundsExclusiveInclusive(t *testing.T) {
	matcher := NewCronMatcher()

	// Window starts exactly on a fire instant; that instant must be excluded.
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	instants, err := matcher.FireInstants("0 9 * * *", "UTC", start, end)
	if err != nil {
		t.Fatalf("FireInstants() error = %v", err)
	}

	if len(instants) != 1 {
		t.Fatalf("FireInstants() returned %d instants, want 1", len(instants))
	}
	if !instants[0].Equal(end) {
		t.Errorf("instant = %v, want window end %v", instants[0], end)
	}
}
