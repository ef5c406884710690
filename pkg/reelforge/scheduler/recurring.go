package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/jholhewres/reelforge/pkg/reelforge/clock"
)

// RuleSpec carries the user-supplied fields of a recurring rule; the
// pattern comes from the Create*Rule helper used.
type RuleSpec struct {
	Name           string
	Description    string
	TopicTemplate  string
	Style          string
	TargetDuration time.Duration
	TagsTemplate   []string
	Category       string
	Privacy        string
	WindowStart    *time.Time
	WindowEnd      *time.Time

	// MaxInstances bounds overlapping in-flight jobs per rule. Default 1.
	MaxInstances int
}

// CreateDailyRule fires every day at hour:minute.
func (s *Scheduler) CreateDailyRule(spec RuleSpec, hour, minute int) (string, error) {
	return s.createRule(spec, clock.Daily(hour, minute))
}

// CreateWeeklyRule fires on the given weekdays at hour:minute.
func (s *Scheduler) CreateWeeklyRule(spec RuleSpec, days []time.Weekday, hour, minute int) (string, error) {
	return s.createRule(spec, clock.Weekly(days, hour, minute))
}

// CreateMonthlyRule fires on the given days of month at hour:minute.
func (s *Scheduler) CreateMonthlyRule(spec RuleSpec, days []int, hour, minute int) (string, error) {
	return s.createRule(spec, clock.Monthly(days, hour, minute))
}

// CreateIntervalRule fires every hours h and minutes m.
func (s *Scheduler) CreateIntervalRule(spec RuleSpec, hours, minutes int) (string, error) {
	return s.createRule(spec, clock.Every(hours, minutes))
}

// CreateCronRule fires per a five-field cron expression.
func (s *Scheduler) CreateCronRule(spec RuleSpec, expr string) (string, error) {
	return s.createRule(spec, clock.Cron(expr))
}

func (s *Scheduler) createRule(spec RuleSpec, pattern clock.Pattern) (string, error) {
	maxInstances := spec.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 1
	}

	rule := &Rule{
		SchemaVersion:  SchemaVersion,
		ID:             clock.NewID(),
		Name:           spec.Name,
		Description:    spec.Description,
		Enabled:        true,
		Pattern:        pattern,
		WindowStart:    spec.WindowStart,
		WindowEnd:      spec.WindowEnd,
		TopicTemplate:  spec.TopicTemplate,
		Style:          spec.Style,
		TargetDuration: spec.TargetDuration,
		TagsTemplate:   spec.TagsTemplate,
		Category:       spec.Category,
		Privacy:        spec.Privacy,
		MaxInstances:   maxInstances,
		CreatedAt:      s.clock.Now(),
	}
	if err := rule.Validate(); err != nil {
		return "", err
	}

	next, err := rule.nextFireAfter(s.clock.Now())
	if err != nil {
		return "", err
	}
	if !next.IsZero() {
		rule.NextFireAt = &next
	}

	if err := s.store.PutRule(rule); err != nil {
		return "", fmt.Errorf("persisting rule: %w", err)
	}

	s.mu.Lock()
	s.rules[rule.ID] = rule
	s.mu.Unlock()
	s.kickDispatcher()

	s.logger.Info("recurring rule created",
		"id", rule.ID,
		"name", rule.Name,
		"pattern", pattern.Kind,
		"next_fire_at", formatNullableTime(rule.NextFireAt),
	)
	return rule.ID, nil
}

// PauseRule disables a rule. Fires during the paused interval are not
// caught up on resume.
func (s *Scheduler) PauseRule(id string) error {
	return s.setRuleEnabled(id, false)
}

// ResumeRule re-enables a rule; the next fire is recomputed from now.
func (s *Scheduler) ResumeRule(id string) error {
	return s.setRuleEnabled(id, true)
}

func (s *Scheduler) setRuleEnabled(id string, enabled bool) error {
	s.mu.Lock()
	rule, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("rule %q not found", id)
	}
	rule.Enabled = enabled
	if enabled {
		rule.NextFireAt = nil
		if next, err := rule.nextFireAfter(s.clock.Now()); err == nil && !next.IsZero() {
			rule.NextFireAt = &next
		}
	}
	snapshot := rule.Clone()
	s.mu.Unlock()

	if err := s.store.PutRule(snapshot); err != nil {
		return fmt.Errorf("persisting rule: %w", err)
	}
	s.kickDispatcher()

	s.logger.Info("rule state changed", "id", id, "enabled", enabled)
	return nil
}

// DeleteRule removes a rule and its persisted record. Jobs already spawned
// by the rule are unaffected.
func (s *Scheduler) DeleteRule(id string) error {
	s.mu.Lock()
	if _, ok := s.rules[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("rule %q not found", id)
	}
	delete(s.rules, id)
	s.mu.Unlock()

	if err := s.store.RemoveRule(id); err != nil {
		return err
	}
	s.kickDispatcher()

	s.logger.Info("rule deleted", "id", id)
	return nil
}

// GetRule returns a copy of the rule.
func (s *Scheduler) GetRule(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %q not found", id)
	}
	return rule.Clone(), nil
}

// ListRules returns copies of all rules, oldest first.
func (s *Scheduler) ListRules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// kickDispatcher wakes the dispatch loop so it re-evaluates the soonest
// next fire. Non-blocking; one pending kick is enough.
func (s *Scheduler) kickDispatcher() {
	select {
	case s.ruleKick <- struct{}{}:
	default:
	}
}

// dispatchLoop sleeps until the soonest next_fire_at among enabled rules
// and fires everything due. Rule mutations kick it awake early.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	for {
		next := s.soonestFire()

		var wake <-chan time.Time
		if next != nil {
			wake = s.clock.After(next.Sub(s.clock.Now()))
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.ruleKick:
			continue
		case <-wake:
			s.fireDue()
		}
	}
}

func (s *Scheduler) soonestFire() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var soonest *time.Time
	for _, r := range s.rules {
		if !r.Enabled || r.NextFireAt == nil {
			continue
		}
		if soonest == nil || r.NextFireAt.Before(*soonest) {
			t := *r.NextFireAt
			soonest = &t
		}
	}
	return soonest
}

// fireDue fires every enabled rule whose next_fire_at has passed, applying
// the coalesce and misfire-grace policies, then re-caches next_fire_at.
func (s *Scheduler) fireDue() {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*Rule
	for _, r := range s.rules {
		if r.Enabled && r.NextFireAt != nil && !r.NextFireAt.After(now) {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	for _, rule := range due {
		s.fireRule(rule, now)
	}
}

func (s *Scheduler) fireRule(rule *Rule, now time.Time) {
	// Enumerate elapsed fire instants from the cached position.
	s.mu.RLock()
	cursor := *rule.NextFireAt
	s.mu.RUnlock()

	fires := 0
	for !cursor.After(now) {
		if now.Sub(cursor) <= s.cfg.MisfireGrace {
			fires++
		}
		next, err := rule.nextFireAfter(cursor)
		if err != nil || next.IsZero() {
			cursor = time.Time{}
			break
		}
		cursor = next
	}

	if fires > 0 && !s.cfg.SeparateMissedFires {
		fires = 1
	}

	for i := 0; i < fires; i++ {
		s.fireOnce(rule, now)
	}

	s.mu.Lock()
	if cursor.IsZero() {
		rule.NextFireAt = nil
	} else {
		rule.NextFireAt = &cursor
	}
	snapshot := rule.Clone()
	s.mu.Unlock()

	if err := s.store.PutRule(snapshot); err != nil {
		s.logger.Error("failed to persist rule", "id", rule.ID, "error", err)
	}
}

// fireOnce materializes one firing as a recurring_child job.
func (s *Scheduler) fireOnce(rule *Rule, now time.Time) {
	// Respect the overlap bound: skip the firing while too many of the
	// rule's jobs are still in flight.
	if s.inFlightForRule(rule.ID) >= rule.MaxInstances {
		s.logger.Warn("skipping rule fire (previous still running)", "id", rule.ID, "name", rule.Name)
		return
	}

	topic := expandTopicTemplate(rule.TopicTemplate, s.format.In(now))
	tags := make([]string, 0, len(rule.TagsTemplate))
	for _, t := range rule.TagsTemplate {
		tags = append(tags, expandTopicTemplate(t, s.format.In(now)))
	}

	_, err := s.scheduleJob(VideoRequest{
		Topic:       topic,
		ScheduledAt: now,
		Style:       rule.Style,
		Duration:    rule.TargetDuration,
		Tags:        tags,
		Category:    rule.Category,
		Privacy:     rule.Privacy,
	}, KindRecurringChild, rule.ID)

	s.mu.Lock()
	if err != nil {
		rule.FailureCount++
	} else {
		fired := now
		rule.LastFiredAt = &fired
		rule.RunCount++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("rule firing failed", "id", rule.ID, "name", rule.Name, "error", err)
	} else {
		s.logger.Info("rule fired", "id", rule.ID, "name", rule.Name, "topic", topic)
	}
}

// inFlightForRule counts the rule's jobs whose pipeline is running right
// now. Queued children don't count: a firing overlaps only with an
// execution, not with a backlog.
func (s *Scheduler) inFlightForRule(ruleID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for id := range s.active {
		if j, ok := s.jobs[id]; ok && j.RuleID == ruleID {
			n++
		}
	}
	return n
}

func formatNullableTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
