package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jholhewres/reelforge/pkg/reelforge/clock"
)

// Rule is a recurring production schedule. Each firing materializes a
// one-shot job of kind recurring_child. Rules are owned by the recurring
// dispatcher.
type Rule struct {
	SchemaVersion int    `json:"schema_version"`
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Enabled       bool   `json:"enabled"`

	Pattern clock.Pattern `json:"pattern"`

	// WindowStart/WindowEnd bound the firing window, if set.
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`

	// TopicTemplate may contain {date}-style tokens expanded per firing.
	TopicTemplate  string        `json:"topic_template"`
	Style          string        `json:"style,omitempty"`
	TargetDuration time.Duration `json:"target_duration,omitempty"`
	TagsTemplate   []string      `json:"tags_template,omitempty"`
	Category       string        `json:"category,omitempty"`
	Privacy        string        `json:"privacy,omitempty"`

	// MaxInstances bounds overlapping firings of this rule. Default 1
	// (firings never overlap).
	MaxInstances int `json:"max_instances,omitempty"`

	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`

	RunCount     int `json:"run_count"`
	FailureCount int `json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`

	extra map[string]json.RawMessage
}

// Validate checks the rule's fields.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.TopicTemplate == "" {
		return fmt.Errorf("rule topic template is required")
	}
	if err := r.Pattern.Validate(); err != nil {
		return fmt.Errorf("rule pattern: %w", err)
	}
	if r.WindowStart != nil && r.WindowEnd != nil && r.WindowEnd.Before(*r.WindowStart) {
		return fmt.Errorf("rule window end before start")
	}
	return nil
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	cp := *r
	if r.WindowStart != nil {
		t := *r.WindowStart
		cp.WindowStart = &t
	}
	if r.WindowEnd != nil {
		t := *r.WindowEnd
		cp.WindowEnd = &t
	}
	if r.LastFiredAt != nil {
		t := *r.LastFiredAt
		cp.LastFiredAt = &t
	}
	if r.NextFireAt != nil {
		t := *r.NextFireAt
		cp.NextFireAt = &t
	}
	cp.TagsTemplate = append([]string(nil), r.TagsTemplate...)
	cp.Pattern.Weekdays = append([]time.Weekday(nil), r.Pattern.Weekdays...)
	cp.Pattern.MonthDays = append([]int(nil), r.Pattern.MonthDays...)
	return &cp
}

// nextFireAfter computes the rule's next fire strictly after from, honouring
// the window bounds. A zero time means the rule will never fire again.
func (r *Rule) nextFireAfter(from time.Time) (time.Time, error) {
	if r.WindowStart != nil && from.Before(*r.WindowStart) {
		// Fires may only occur inside the window; anchor just before it so
		// the first in-window occurrence is found.
		from = r.WindowStart.Add(-time.Second)
	}
	next, err := clock.NextFire(r.Pattern, from)
	if err != nil {
		return time.Time{}, err
	}
	if next.IsZero() {
		return time.Time{}, nil
	}
	if r.WindowEnd != nil && next.After(*r.WindowEnd) {
		return time.Time{}, nil
	}
	return next, nil
}
