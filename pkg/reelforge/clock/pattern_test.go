package clock

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad test time %q: %v", s, err)
	}
	return parsed
}

func TestNextFire(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern Pattern
		from    string
		want    string
	}{
		{
			name:    "daily before time of day fires same day",
			pattern: Daily(10, 30),
			from:    "2025-01-01T08:00:00Z",
			want:    "2025-01-01T10:30:00Z",
		},
		{
			name:    "daily at exact time fires next day",
			pattern: Daily(10, 30),
			from:    "2025-01-01T10:30:00Z",
			want:    "2025-01-02T10:30:00Z",
		},
		{
			name:    "daily after time fires next day",
			pattern: Daily(10, 30),
			from:    "2025-01-01T23:59:00Z",
			want:    "2025-01-02T10:30:00Z",
		},
		{
			// 2025-01-01 is a Wednesday.
			name:    "weekly skips to next matching weekday",
			pattern: Weekly([]time.Weekday{time.Monday, time.Friday}, 9, 0),
			from:    "2025-01-01T12:00:00Z",
			want:    "2025-01-03T09:00:00Z",
		},
		{
			name:    "weekly wraps the week",
			pattern: Weekly([]time.Weekday{time.Monday}, 9, 0),
			from:    "2025-01-03T12:00:00Z",
			want:    "2025-01-06T09:00:00Z",
		},
		{
			name:    "weekly same day before time",
			pattern: Weekly([]time.Weekday{time.Wednesday}, 18, 0),
			from:    "2025-01-01T12:00:00Z",
			want:    "2025-01-01T18:00:00Z",
		},
		{
			name:    "monthly picks next listed day",
			pattern: Monthly([]int{1, 15}, 8, 0),
			from:    "2025-01-02T00:00:00Z",
			want:    "2025-01-15T08:00:00Z",
		},
		{
			name:    "monthly wraps the month",
			pattern: Monthly([]int{1}, 8, 0),
			from:    "2025-01-15T00:00:00Z",
			want:    "2025-02-01T08:00:00Z",
		},
		{
			name:    "monthly day 31 skips short months",
			pattern: Monthly([]int{31}, 8, 0),
			from:    "2025-02-01T00:00:00Z",
			want:    "2025-03-31T08:00:00Z",
		},
		{
			name:    "monthly day 30 skips february",
			pattern: Monthly([]int{30}, 12, 0),
			from:    "2025-02-10T00:00:00Z",
			want:    "2025-03-30T12:00:00Z",
		},
		{
			name:    "interval adds fixed spacing",
			pattern: Every(1, 30),
			from:    "2025-01-01T10:00:00Z",
			want:    "2025-01-01T11:30:00Z",
		},
		{
			name:    "cron every 15 minutes",
			pattern: Cron("*/15 * * * *"),
			from:    "2025-01-01T10:07:00Z",
			want:    "2025-01-01T10:15:00Z",
		},
		{
			name:    "cron daily at 10",
			pattern: Cron("0 10 * * *"),
			from:    "2025-01-01T10:00:00Z",
			want:    "2025-01-02T10:00:00Z",
		},
		{
			name:    "cron day of week list",
			pattern: Cron("30 6 * * 1,5"),
			from:    "2025-01-01T00:00:00Z",
			want:    "2025-01-03T06:30:00Z",
		},
		{
			name:    "cron range with step",
			pattern: Cron("0 9-17/4 * * *"),
			from:    "2025-01-01T10:00:00Z",
			want:    "2025-01-01T13:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextFire(tt.pattern, mustTime(t, tt.from))
			if err != nil {
				t.Fatalf("NextFire: %v", err)
			}
			want := mustTime(t, tt.want)
			if !got.Equal(want) {
				t.Errorf("NextFire = %v, want %v", got, want)
			}
		})
	}
}

func TestNextFireStrictlyIncreases(t *testing.T) {
	t.Parallel()

	patterns := []Pattern{
		Daily(10, 0),
		Weekly([]time.Weekday{time.Tuesday}, 7, 45),
		Monthly([]int{5, 20}, 0, 0),
		Every(0, 20),
		Cron("*/5 8-18 * * 1-5"),
	}

	for _, p := range patterns {
		from := mustTime(t, "2025-01-01T00:00:00Z")
		for i := 0; i < 50; i++ {
			next, err := NextFire(p, from)
			if err != nil {
				t.Fatalf("pattern %v: %v", p.Kind, err)
			}
			if !next.After(from) {
				t.Fatalf("pattern %v: next fire %v not after %v", p.Kind, next, from)
			}
			from = next
		}
	}
}

func TestPatternValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern Pattern
		wantErr bool
	}{
		{"valid daily", Daily(0, 0), false},
		{"daily hour out of range", Daily(24, 0), true},
		{"daily minute out of range", Daily(10, 60), true},
		{"weekly no days", Weekly(nil, 10, 0), true},
		{"monthly day zero", Monthly([]int{0}, 10, 0), true},
		{"monthly day 32", Monthly([]int{32}, 10, 0), true},
		{"zero interval", Every(0, 0), true},
		{"negative interval", Pattern{Kind: PatternInterval, EveryHours: -1}, true},
		{"valid cron", Cron("0 0 1 * *"), false},
		{"cron too few fields", Cron("* * * *"), true},
		{"cron descriptor rejected", Cron("@daily"), true},
		{"unknown kind", Pattern{Kind: "yearly"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pattern.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
