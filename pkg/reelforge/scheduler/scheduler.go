package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jholhewres/reelforge/pkg/reelforge/calendar"
	"github.com/jholhewres/reelforge/pkg/reelforge/clock"
	"github.com/jholhewres/reelforge/pkg/reelforge/executor"
	"github.com/jholhewres/reelforge/pkg/reelforge/pipeline"
)

// Config tunes the scheduler. Zero values take the documented defaults.
type Config struct {
	// PollInterval is the cadence of the due-job loop. Default 60s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxConcurrentJobs bounds simultaneously running pipelines. Default 3.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// RetryDelay is the base scheduler-side requeue delay; a failed job is
	// pushed to now + RetryDelay × retry_count. Default 5m.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// MaxRetryDelay saturates the requeue delay. Default 1h.
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`

	// DefaultMaxRetries applies to jobs that don't set their own. Default 3.
	DefaultMaxRetries int `yaml:"default_max_retries"`

	// PipelineTimeout bounds one full pipeline run. Default 30m.
	PipelineTimeout time.Duration `yaml:"pipeline_timeout"`

	// Coalesce combines multiple missed recurring fires into one. Default on
	// (set SeparateMissedFires to disable).
	SeparateMissedFires bool `yaml:"separate_missed_fires"`

	// MisfireGrace drops recurring fires older than this. Default 5m.
	MisfireGrace time.Duration `yaml:"misfire_grace"`

	// Timezone is the display timezone for topic-template expansion.
	// Empty means UTC.
	Timezone string `yaml:"timezone"`

	// AssetsDir and OutputDir are handed to the media-assembly stage.
	AssetsDir string `yaml:"assets_dir"`
	OutputDir string `yaml:"output_dir"`

	// UploadAccount is the platform account handed to the upload stage.
	UploadAccount string `yaml:"upload_account"`
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = 60 * time.Second
	}
	if out.MaxConcurrentJobs <= 0 {
		out.MaxConcurrentJobs = 3
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 5 * time.Minute
	}
	if out.MaxRetryDelay <= 0 {
		out.MaxRetryDelay = time.Hour
	}
	if out.DefaultMaxRetries < 0 {
		out.DefaultMaxRetries = 0
	} else if out.DefaultMaxRetries == 0 {
		out.DefaultMaxRetries = 3
	}
	if out.PipelineTimeout <= 0 {
		out.PipelineTimeout = 30 * time.Minute
	}
	if out.MisfireGrace <= 0 {
		out.MisfireGrace = 5 * time.Minute
	}
	return out
}

// Stages bundles the pipeline collaborators. Upload may be nil, in which
// case jobs complete after assembly.
type Stages struct {
	Script   pipeline.ScriptSynthesizer
	Assembly pipeline.MediaAssembler
	Upload   pipeline.Uploader
}

// Scheduler orchestrates one-shot jobs and recurring rules: it accepts
// schedule requests, fires due jobs through the executor, drives the stage
// machine with scheduler-side retry, and expands recurring rules into
// concrete firings.
type Scheduler struct {
	cfg    Config
	stages Stages
	store  Store
	exec   *executor.Executor
	cal    *calendar.Calendar
	clock  clock.Clock
	format *clock.Formatter
	logger *slog.Logger

	mu     sync.RWMutex
	jobs   map[string]*Job
	active map[string]context.CancelFunc
	rules  map[string]*Rule

	// ruleKick wakes the recurring dispatcher after rule mutations.
	ruleKick chan struct{}

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler. store and stages.Script/Assembly are required;
// cal may be nil to run without a calendar, clk nil for the system clock,
// logger nil for slog.Default().
func New(cfg Config, stages Stages, store Store, exec *executor.Executor, cal *calendar.Calendar, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if stages.Script == nil || stages.Assembly == nil {
		return nil, fmt.Errorf("script and assembly stages are required")
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	format, err := clock.NewFormatter(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		exec = executor.New(executor.Options{MaxConcurrent: cfg.MaxConcurrentJobs}, clk, logger)
	}

	return &Scheduler{
		cfg:      cfg.withDefaults(),
		stages:   stages,
		store:    store,
		exec:     exec,
		cal:      cal,
		clock:    clk,
		format:   format,
		logger:   logger,
		jobs:     make(map[string]*Job),
		active:   make(map[string]context.CancelFunc),
		rules:    make(map[string]*Rule),
		ruleKick: make(chan struct{}, 1),
	}, nil
}

// Start loads persisted state and launches the poll loop and the recurring
// dispatcher. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	jobs, rules, err := s.store.LoadAll()
	if err != nil {
		s.logger.Error("failed to load persisted state", "error", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	for _, job := range jobs {
		// A job that was mid-pipeline when the process died resumes from
		// the queue; its stage machine restarts cleanly.
		switch job.State {
		case StateScheduled, StateScriptGen, StateAssembly, StateUpload:
			job.State = StatePending
			job.Stage = ""
		}
		s.jobs[job.ID] = job
	}
	for _, rule := range rules {
		if rule.Enabled && rule.NextFireAt == nil {
			if next, err := rule.nextFireAfter(now); err == nil && !next.IsZero() {
				rule.NextFireAt = &next
			}
		}
		s.rules[rule.ID] = rule
	}
	jobCount, ruleCount := len(s.jobs), len(s.rules)
	s.mu.Unlock()

	s.wg.Add(2)
	go s.pollLoop()
	go s.dispatchLoop()

	s.logger.Info("scheduler started",
		"jobs", jobCount,
		"rules", ruleCount,
		"poll_interval", s.cfg.PollInterval,
		"max_concurrent", s.cfg.MaxConcurrentJobs,
	)
	return nil
}

// Stop cancels the loops and waits (bounded) for in-flight jobs to reach
// their next persist point. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out waiting for active jobs")
	}
	s.logger.Info("scheduler stopped")
}

// VideoRequest is the input to ScheduleVideo.
type VideoRequest struct {
	Topic       string
	ScheduledAt time.Time
	PublishAt   *time.Time
	Style       string
	Duration    time.Duration
	Tags        []string
	Category    string
	Privacy     string

	// MaxRetries overrides the configured default when non-nil.
	MaxRetries *int

	// ReserveSlot also books a calendar slot for the publish time.
	ReserveSlot bool
}

// ScheduleVideo accepts a one-shot production request and returns the job id.
// The job is persisted before the call returns; a store write failure is
// returned to the caller and nothing is scheduled.
func (s *Scheduler) ScheduleVideo(req VideoRequest) (string, error) {
	return s.scheduleJob(req, KindSingleVideo, "")
}

// ScheduleBatch validates all requests first and then schedules each as a
// batch member. Validation failure of any request aborts the whole batch.
func (s *Scheduler) ScheduleBatch(reqs []VideoRequest) ([]string, error) {
	for i, req := range reqs {
		probe := Job{Topic: req.Topic, ScheduledAt: req.ScheduledAt, MaxRetries: s.resolveMaxRetries(req.MaxRetries)}
		if err := probe.Validate(); err != nil {
			return nil, fmt.Errorf("batch request %d: %w", i, err)
		}
	}

	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		id, err := s.scheduleJob(req, KindBatchMember, "")
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Scheduler) resolveMaxRetries(override *int) int {
	if override != nil {
		return *override
	}
	return s.cfg.DefaultMaxRetries
}

func (s *Scheduler) scheduleJob(req VideoRequest, kind JobKind, ruleID string) (string, error) {
	job := &Job{
		SchemaVersion:  SchemaVersion,
		ID:             clock.NewID(),
		Kind:           kind,
		State:          StatePending,
		ScheduledAt:    req.ScheduledAt.UTC(),
		PublishAt:      req.PublishAt,
		Topic:          req.Topic,
		Style:          req.Style,
		TargetDuration: req.Duration,
		Tags:           req.Tags,
		Category:       req.Category,
		Privacy:        req.Privacy,
		RuleID:         ruleID,
		MaxRetries:     s.resolveMaxRetries(req.MaxRetries),
		CreatedAt:      s.clock.Now(),
	}
	if err := job.Validate(); err != nil {
		return "", err
	}

	if req.ReserveSlot && s.cal != nil {
		at := job.ScheduledAt
		if job.PublishAt != nil {
			at = *job.PublishAt
		}
		slot := s.cal.Reserve(calendar.ReserveRequest{
			ScheduledAt: at,
			Topic:       job.Topic,
			Duration:    job.TargetDuration,
			Tags:        job.Tags,
			PublishAt:   job.PublishAt,
		})
		job.SlotID = slot.ID
		if err := s.cal.AttachJob(slot.ID, job.ID); err != nil {
			s.logger.Warn("failed to attach job to slot", "job_id", job.ID, "slot_id", slot.ID, "error", err)
		}
	}

	if err := s.store.PutJob(job); err != nil {
		return "", fmt.Errorf("persisting job: %w", err)
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.logger.Info("video scheduled",
		"id", job.ID,
		"kind", kind,
		"topic", job.Topic,
		"scheduled_at", job.ScheduledAt.Format(time.RFC3339),
		"max_retries", job.MaxRetries,
	)
	return job.ID, nil
}

// CancelJob aborts an in-flight or queued job. The cancelled state is
// persisted here; the running pipeline (if any) observes the cancellation
// and performs no further store writes.
func (s *Scheduler) CancelJob(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", id)
	}
	if job.State.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("job %q is already %s", id, job.State)
	}

	job.State = StateCancelled
	now := s.clock.Now()
	job.CompletedAt = &now
	// Snapshot under the lock; the poll loop may mutate the live job while
	// the store marshals.
	snapshot := job.Clone()
	cancel := s.active[id]
	s.mu.Unlock()

	if err := s.store.PutJob(snapshot); err != nil {
		return fmt.Errorf("persisting cancellation: %w", err)
	}
	if cancel != nil {
		cancel()
	}

	s.logger.Info("job cancelled", "id", id)
	return nil
}

// PauseJob holds a pending job back from the queue. Valid only in pending.
func (s *Scheduler) PauseJob(id string) error {
	return s.transitionJob(id, StatePending, StatePaused)
}

// ResumeJob returns a paused job to the queue.
func (s *Scheduler) ResumeJob(id string) error {
	return s.transitionJob(id, StatePaused, StatePending)
}

func (s *Scheduler) transitionJob(id string, from, to JobState) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", id)
	}
	if job.State != from {
		s.mu.Unlock()
		return fmt.Errorf("job %q is %s, not %s", id, job.State, from)
	}
	job.State = to
	snapshot := job.Clone()
	s.mu.Unlock()

	if err := s.store.PutJob(snapshot); err != nil {
		return fmt.Errorf("persisting job: %w", err)
	}
	s.logger.Info("job state changed", "id", id, "from", from, "to", to)
	return nil
}

// GetJob returns a copy of the job.
func (s *Scheduler) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %q not found", id)
	}
	return job.Clone(), nil
}

// JobFilter restricts ListJobs. Zero fields match everything.
type JobFilter struct {
	States []JobState
	Kind   JobKind
}

func (f JobFilter) matches(j *Job) bool {
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if len(f.States) > 0 {
		for _, st := range f.States {
			if j.State == st {
				return true
			}
		}
		return false
	}
	return true
}

// ListJobs returns copies of matching jobs, oldest first.
func (s *Scheduler) ListJobs(filter JobFilter) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.matches(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RemoveJob deletes a terminal job and its persisted record.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", id)
	}
	if !job.State.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("job %q is %s; cancel it first", id, job.State)
	}
	delete(s.jobs, id)
	s.mu.Unlock()

	return s.store.RemoveJob(id)
}

// Stats summarizes scheduler state.
type Stats struct {
	CountsByState map[JobState]int `json:"counts_by_state"`
	Active        int              `json:"active"`
	Running       int              `json:"running"`
	Rules         int              `json:"rules"`
	EnabledRules  int              `json:"enabled_rules"`
}

// Statistics returns current counts.
func (s *Scheduler) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{CountsByState: make(map[JobState]int)}
	for _, j := range s.jobs {
		st.CountsByState[j.State]++
		if !j.State.Terminal() {
			st.Active++
		}
	}
	st.Running = len(s.active)
	st.Rules = len(s.rules)
	for _, r := range s.rules {
		if r.Enabled {
			st.EnabledRules++
		}
	}
	return st
}
