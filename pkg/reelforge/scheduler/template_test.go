package scheduler

import (
	"testing"
	"time"
)

func TestExpandTopicTemplate(t *testing.T) {
	t.Parallel()

	// Wednesday, ISO week 3.
	at := time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"date", "Daily Tip {date}", "Daily Tip 2025-01-15"},
		{"time", "Upload at {time}", "Upload at 09:30"},
		{"datetime", "{datetime}", "2025-01-15 09:30"},
		{"year", "Best of {year}", "Best of 2025"},
		{"month name", "{month} roundup", "January roundup"},
		{"month number", "Month {month_num}", "Month 1"},
		{"day", "Day {day}", "Day 15"},
		{"weekday", "{weekday} motivation", "Wednesday motivation"},
		{"week", "Week {week} recap", "Week 3 recap"},
		{"no tokens", "Plain topic", "Plain topic"},
		{"unknown token kept", "Hello {planet}", "Hello {planet}"},
		{"mixed known and unknown", "{weekday} {planet} {date}", "Wednesday {planet} 2025-01-15"},
		{"repeated token", "{day}/{day}", "15/15"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := expandTopicTemplate(tt.template, at); got != tt.want {
				t.Errorf("expandTopicTemplate(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestExpandTopicTemplateTimestamp(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC)
	want := "1736933400"
	if got := expandTopicTemplate("{timestamp}", at); got != want {
		t.Errorf("expandTopicTemplate({timestamp}) = %q, want %q", got, want)
	}
}
