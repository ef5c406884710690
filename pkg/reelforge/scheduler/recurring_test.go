package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/reelforge/pkg/reelforge/clock"
	"github.com/jholhewres/reelforge/pkg/reelforge/pipeline"
)

// newMockScheduler builds a started scheduler whose loops are driven by a
// mock clock, so tests cross day boundaries instantly.
func newMockScheduler(t *testing.T, start time.Time, mutate func(*Config)) (*Scheduler, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock(start)
	store, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	cfg := Config{
		PollInterval:    time.Minute,
		PipelineTimeout: 5 * time.Second,
		OutputDir:       filepath.Join(t.TempDir(), "output"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	stages := Stages{
		Script:   &pipeline.StubSynthesizer{},
		Assembly: &pipeline.StubAssembler{},
		Upload:   &pipeline.StubUploader{},
	}
	sched, err := New(cfg, stages, store, nil, nil, mock, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(sched.Stop)

	// Let the loops register their first timers before the test advances.
	time.Sleep(20 * time.Millisecond)
	return sched, mock
}

func ruleJobs(s *Scheduler, ruleID string) []*Job {
	var out []*Job
	for _, j := range s.ListJobs(JobFilter{Kind: KindRecurringChild}) {
		if j.RuleID == ruleID {
			out = append(out, j)
		}
	}
	return out
}

func TestDailyRuleFiresAcrossDayBoundaries(t *testing.T) {
	start := time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC)
	sched, mock := newMockScheduler(t, start, nil)

	id, err := sched.CreateDailyRule(RuleSpec{
		Name:          "daily tips",
		TopicTemplate: "Tip {date}",
	}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}

	rule, err := sched.GetRule(id)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	wantFirst := time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantFirst) {
		t.Fatalf("NextFireAt = %v, want %v", rule.NextFireAt, wantFirst)
	}
	time.Sleep(20 * time.Millisecond)

	wantTopics := []string{"Tip 2025-01-01", "Tip 2025-01-02", "Tip 2025-01-03"}
	for day := 1; day <= 3; day++ {
		mock.Set(time.Date(2025, time.January, day, 10, 0, 0, 0, time.UTC))
		day := day
		waitFor(t, 3*time.Second, func() bool {
			return len(ruleJobs(sched, id)) == day
		}, "rule to fire")
	}

	jobs := ruleJobs(sched, id)
	if len(jobs) != 3 {
		t.Fatalf("rule spawned %d jobs, want 3", len(jobs))
	}
	for i, job := range jobs {
		if job.Topic != wantTopics[i] {
			t.Errorf("job %d topic = %q, want %q", i, job.Topic, wantTopics[i])
		}
		if job.Kind != KindRecurringChild {
			t.Errorf("job %d kind = %s, want %s", i, job.Kind, KindRecurringChild)
		}
		if job.RuleID != id {
			t.Errorf("job %d rule_id = %q, want %q", i, job.RuleID, id)
		}
	}

	rule, _ = sched.GetRule(id)
	if rule.RunCount != 3 {
		t.Errorf("RunCount = %d, want 3", rule.RunCount)
	}
	if rule.LastFiredAt == nil {
		t.Error("LastFiredAt not stamped")
	}
	wantNext := time.Date(2025, time.January, 4, 10, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantNext) {
		t.Errorf("NextFireAt = %v, want %v", rule.NextFireAt, wantNext)
	}
}

func TestPausedRuleDoesNotCatchUp(t *testing.T) {
	start := time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC)
	sched, mock := newMockScheduler(t, start, func(cfg *Config) {
		// A generous grace so a skipped fire can't hide behind it.
		cfg.MisfireGrace = 100 * time.Hour
	})

	id, err := sched.CreateDailyRule(RuleSpec{
		Name:          "paused tips",
		TopicTemplate: "Tip {date}",
	}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}
	if err := sched.PauseRule(id); err != nil {
		t.Fatalf("PauseRule: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// Three fire instants elapse while paused; none may materialize.
	mock.Set(time.Date(2025, time.January, 3, 11, 0, 0, 0, time.UTC))
	time.Sleep(50 * time.Millisecond)
	if jobs := ruleJobs(sched, id); len(jobs) != 0 {
		t.Fatalf("paused rule spawned %d jobs", len(jobs))
	}

	// Resume recomputes the next fire from now; still no catch-up.
	if err := sched.ResumeRule(id); err != nil {
		t.Fatalf("ResumeRule: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if jobs := ruleJobs(sched, id); len(jobs) != 0 {
		t.Fatalf("resume caught up %d missed fires", len(jobs))
	}
	rule, _ := sched.GetRule(id)
	wantNext := time.Date(2025, time.January, 4, 10, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantNext) {
		t.Fatalf("NextFireAt after resume = %v, want %v", rule.NextFireAt, wantNext)
	}

	time.Sleep(20 * time.Millisecond)
	mock.Set(wantNext)
	waitFor(t, 3*time.Second, func() bool {
		return len(ruleJobs(sched, id)) == 1
	}, "resumed rule to fire")
}

func TestMissedFiresCoalesceByDefault(t *testing.T) {
	start := time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC)
	sched, mock := newMockScheduler(t, start, func(cfg *Config) {
		cfg.MisfireGrace = 100 * time.Hour
	})

	id, err := sched.CreateDailyRule(RuleSpec{
		Name:          "coalesced",
		TopicTemplate: "Tip {date}",
	}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// Jump over three fire instants at once.
	mock.Set(time.Date(2025, time.January, 3, 12, 0, 0, 0, time.UTC))
	waitFor(t, 3*time.Second, func() bool {
		return len(ruleJobs(sched, id)) == 1
	}, "coalesced fire")
	time.Sleep(50 * time.Millisecond)
	if jobs := ruleJobs(sched, id); len(jobs) != 1 {
		t.Fatalf("coalescing produced %d jobs, want 1", len(jobs))
	}

	rule, _ := sched.GetRule(id)
	wantNext := time.Date(2025, time.January, 4, 10, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantNext) {
		t.Errorf("NextFireAt = %v, want %v", rule.NextFireAt, wantNext)
	}
}

func TestMissedFiresSeparateWhenConfigured(t *testing.T) {
	start := time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC)
	sched, mock := newMockScheduler(t, start, func(cfg *Config) {
		cfg.MisfireGrace = 100 * time.Hour
		cfg.SeparateMissedFires = true
	})

	id, err := sched.CreateDailyRule(RuleSpec{
		Name:          "separate",
		TopicTemplate: "Tip {date}",
	}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	mock.Set(time.Date(2025, time.January, 3, 12, 0, 0, 0, time.UTC))
	waitFor(t, 3*time.Second, func() bool {
		return len(ruleJobs(sched, id)) == 3
	}, "all missed fires to materialize")
}

func TestMisfireGraceDropsStaleFires(t *testing.T) {
	start := time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC)
	sched, mock := newMockScheduler(t, start, nil) // default 5m grace

	id, err := sched.CreateDailyRule(RuleSpec{
		Name:          "stale",
		TopicTemplate: "Tip {date}",
	}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// Two hours past the fire instant: outside the grace, so it is dropped
	// and the rule just moves on to the next day.
	mock.Set(time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC))
	time.Sleep(50 * time.Millisecond)

	if jobs := ruleJobs(sched, id); len(jobs) != 0 {
		t.Fatalf("stale fire materialized %d jobs", len(jobs))
	}
	rule, _ := sched.GetRule(id)
	wantNext := time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantNext) {
		t.Errorf("NextFireAt = %v, want %v", rule.NextFireAt, wantNext)
	}
}

func TestMaxInstancesSkipsOverlappingFire(t *testing.T) {
	start := time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC)
	sched, mock := newMockScheduler(t, start, nil)

	id, err := sched.CreateDailyRule(RuleSpec{
		Name:          "no overlap",
		TopicTemplate: "Tip {date}",
	}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}

	// Plant a running job for the rule so the next fire sees it in flight.
	sched.mu.Lock()
	sched.jobs["running"] = &Job{ID: "running", RuleID: id, State: StateScriptGen}
	sched.active["running"] = func() {}
	sched.mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	mock.Set(time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC))
	time.Sleep(50 * time.Millisecond)

	if jobs := ruleJobs(sched, id); len(jobs) != 0 {
		t.Fatalf("overlapping fire spawned %d jobs", len(jobs))
	}

	// The schedule itself still advances past the skipped fire.
	rule, _ := sched.GetRule(id)
	wantNext := time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantNext) {
		t.Errorf("NextFireAt = %v, want %v", rule.NextFireAt, wantNext)
	}

	// Clear the fake running job so the scheduler can stop cleanly.
	sched.mu.Lock()
	delete(sched.active, "running")
	delete(sched.jobs, "running")
	sched.mu.Unlock()
}

func TestCreateRuleValidation(t *testing.T) {
	t.Parallel()
	sched, _ := newMockScheduler(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), nil)

	if _, err := sched.CreateDailyRule(RuleSpec{TopicTemplate: "x"}, 10, 0); err == nil {
		t.Error("rule without a name accepted")
	}
	if _, err := sched.CreateDailyRule(RuleSpec{Name: "x"}, 10, 0); err == nil {
		t.Error("rule without a topic template accepted")
	}
	if _, err := sched.CreateDailyRule(RuleSpec{Name: "x", TopicTemplate: "y"}, 25, 0); err == nil {
		t.Error("hour 25 accepted")
	}
	if _, err := sched.CreateWeeklyRule(RuleSpec{Name: "x", TopicTemplate: "y"}, nil, 10, 0); err == nil {
		t.Error("weekly rule without weekdays accepted")
	}
	if _, err := sched.CreateCronRule(RuleSpec{Name: "x", TopicTemplate: "y"}, "not a cron"); err == nil {
		t.Error("invalid cron expression accepted")
	}

	end := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	startW := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	if _, err := sched.CreateDailyRule(RuleSpec{
		Name:          "x",
		TopicTemplate: "y",
		WindowStart:   &startW,
		WindowEnd:     &end,
	}, 10, 0); err == nil {
		t.Error("window ending before it starts accepted")
	}
}

func TestRuleWindowBoundsFirstAndLastFire(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	sched, _ := newMockScheduler(t, now, nil)

	winStart := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	winEnd := time.Date(2025, time.February, 3, 23, 59, 0, 0, time.UTC)
	id, err := sched.CreateDailyRule(RuleSpec{
		Name:          "windowed",
		TopicTemplate: "x",
		WindowStart:   &winStart,
		WindowEnd:     &winEnd,
	}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}

	rule, _ := sched.GetRule(id)
	wantFirst := time.Date(2025, time.February, 1, 10, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantFirst) {
		t.Errorf("NextFireAt = %v, want window start day %v", rule.NextFireAt, wantFirst)
	}

	// Past the window end, the rule has no next fire.
	next, err := rule.nextFireAfter(winEnd)
	if err != nil {
		t.Fatalf("nextFireAfter: %v", err)
	}
	if !next.IsZero() {
		t.Errorf("nextFireAfter past window end = %v, want zero", next)
	}
}

func TestDeleteRule(t *testing.T) {
	start := time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC)
	sched, mock := newMockScheduler(t, start, nil)

	id, err := sched.CreateDailyRule(RuleSpec{
		Name:          "short lived",
		TopicTemplate: "x",
	}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}
	if err := sched.DeleteRule(id); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, err := sched.GetRule(id); err == nil {
		t.Error("rule still present after DeleteRule")
	}
	if err := sched.DeleteRule(id); err == nil {
		t.Error("second DeleteRule succeeded")
	}

	time.Sleep(20 * time.Millisecond)
	mock.Set(time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC))
	time.Sleep(50 * time.Millisecond)
	if jobs := ruleJobs(sched, id); len(jobs) != 0 {
		t.Errorf("deleted rule fired %d jobs", len(jobs))
	}
}

func TestIntervalAndCronRuleNextFire(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.January, 1, 9, 30, 0, 0, time.UTC)
	sched, _ := newMockScheduler(t, now, nil)

	every, err := sched.CreateIntervalRule(RuleSpec{Name: "interval", TopicTemplate: "x"}, 6, 0)
	if err != nil {
		t.Fatalf("CreateIntervalRule: %v", err)
	}
	rule, _ := sched.GetRule(every)
	want := now.Add(6 * time.Hour)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(want) {
		t.Errorf("interval NextFireAt = %v, want %v", rule.NextFireAt, want)
	}

	cronID, err := sched.CreateCronRule(RuleSpec{Name: "cron", TopicTemplate: "x"}, "0 18 * * 5")
	if err != nil {
		t.Fatalf("CreateCronRule: %v", err)
	}
	rule, _ = sched.GetRule(cronID)
	// 2025-01-01 is a Wednesday; the next Friday 18:00 is Jan 3.
	wantCron := time.Date(2025, time.January, 3, 18, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantCron) {
		t.Errorf("cron NextFireAt = %v, want %v", rule.NextFireAt, wantCron)
	}
}

func TestRulesSurviveRestart(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	mock := clock.NewMock(time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC))
	cfg := Config{PollInterval: time.Minute, OutputDir: filepath.Join(root, "output")}
	stages := Stages{
		Script:   &pipeline.StubSynthesizer{},
		Assembly: &pipeline.StubAssembler{},
		Upload:   &pipeline.StubUploader{},
	}

	first, err := New(cfg, stages, store, nil, nil, mock, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id, err := first.CreateDailyRule(RuleSpec{Name: "durable", TopicTemplate: "Tip {date}"}, 10, 0)
	if err != nil {
		t.Fatalf("CreateDailyRule: %v", err)
	}
	first.Stop()

	if _, err := os.Stat(filepath.Join(root, "rules", id+".json")); err != nil {
		t.Fatalf("rule record missing on disk: %v", err)
	}

	second, err := New(cfg, stages, store, nil, nil, mock, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer second.Stop()

	rule, err := second.GetRule(id)
	if err != nil {
		t.Fatalf("GetRule after restart: %v", err)
	}
	if rule.Name != "durable" || !rule.Enabled {
		t.Errorf("rule came back as %+v", rule)
	}
	wantNext := time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC)
	if rule.NextFireAt == nil || !rule.NextFireAt.Equal(wantNext) {
		t.Errorf("NextFireAt after restart = %v, want %v", rule.NextFireAt, wantNext)
	}
}
