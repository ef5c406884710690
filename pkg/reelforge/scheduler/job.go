// Package scheduler implements the content automation scheduling core: the
// one-shot job scheduler with its multi-stage production pipeline, the
// recurring rule dispatcher, and the durable job/rule store. Jobs are owned
// exclusively by the Scheduler; other components reference them by id only.
package scheduler

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is stamped into every persisted entity.
const SchemaVersion = 1

// JobState is the lifecycle state of a one-shot job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateScheduled JobState = "scheduled"
	StateScriptGen JobState = "script_generation"
	StateAssembly  JobState = "media_assembly"
	StateUpload    JobState = "upload"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
	StatePaused    JobState = "paused"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Stage names one step of the production pipeline.
type Stage string

const (
	StageScript   Stage = "script_generation"
	StageAssembly Stage = "media_assembly"
	StageUpload   Stage = "upload"
)

// JobKind records how a job came to exist.
type JobKind string

const (
	KindSingleVideo    JobKind = "single_video"
	KindRecurringChild JobKind = "recurring_child"
	KindBatchMember    JobKind = "batch_member"
	KindManual         JobKind = "manual"
)

// Artifacts accumulates the outputs of the pipeline stages.
type Artifacts struct {
	ScriptText        string `json:"script_text,omitempty"`
	ScriptTitle       string `json:"script_title,omitempty"`
	ScriptDescription string `json:"script_description,omitempty"`
	MediaPath         string `json:"media_path,omitempty"`
	ThumbnailPath     string `json:"thumbnail_path,omitempty"`
	RemoteID          string `json:"remote_id,omitempty"`
	RemoteURL         string `json:"remote_url,omitempty"`
}

// JobError captures the stage and message of the last failure.
type JobError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// Job is a one-shot unit of work: produce one video and (optionally)
// publish it. Mutated only by the scheduler; persisted on every state
// transition.
type Job struct {
	SchemaVersion int      `json:"schema_version"`
	ID            string   `json:"id"`
	Kind          JobKind  `json:"kind"`
	State         JobState `json:"state"`

	// ScheduledAt is when the job becomes eligible to run. Retries push it
	// forward by the backoff delay.
	ScheduledAt time.Time `json:"scheduled_at"`

	// PublishAt is passed through to the upload stage, if set.
	PublishAt *time.Time `json:"publish_at,omitempty"`

	Topic          string        `json:"topic"`
	Style          string        `json:"style,omitempty"`
	TargetDuration time.Duration `json:"target_duration,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	Category       string        `json:"category,omitempty"`
	Privacy        string        `json:"privacy,omitempty"`

	// RuleID links a recurring_child job back to its rule.
	RuleID string `json:"rule_id,omitempty"`

	// SlotID links the job to its calendar slot, if reserved.
	SlotID string `json:"slot_id,omitempty"`

	// Stage is the pipeline stage in flight; empty while queued.
	Stage Stage `json:"stage,omitempty"`

	// StageProgress maps stage → percent complete.
	StageProgress map[Stage]int `json:"stage_progress,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Artifacts Artifacts `json:"artifacts"`
	Err       *JobError `json:"error,omitempty"`

	// extra holds unknown persisted fields so older records written by a
	// newer schema round-trip untouched.
	extra map[string]json.RawMessage
}

// Validate checks the invariants a job must satisfy before being accepted.
func (j *Job) Validate() error {
	if j.Topic == "" {
		return fmt.Errorf("job topic is required")
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if j.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled_at is required")
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate scheduler-owned state.
func (j *Job) Clone() *Job {
	cp := *j
	if j.PublishAt != nil {
		t := *j.PublishAt
		cp.PublishAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Err != nil {
		e := *j.Err
		cp.Err = &e
	}
	cp.Tags = append([]string(nil), j.Tags...)
	if j.StageProgress != nil {
		cp.StageProgress = make(map[Stage]int, len(j.StageProgress))
		for k, v := range j.StageProgress {
			cp.StageProgress[k] = v
		}
	}
	return &cp
}

// setProgress records stage progress, clamped to 0–100.
func (j *Job) setProgress(stage Stage, percent int) {
	if j.StageProgress == nil {
		j.StageProgress = make(map[Stage]int)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > j.StageProgress[stage] {
		j.StageProgress[stage] = percent
	}
}
