package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/jholhewres/reelforge/pkg/reelforge/calendar"
	"github.com/jholhewres/reelforge/pkg/reelforge/executor"
	"github.com/jholhewres/reelforge/pkg/reelforge/pipeline"
)

// pollLoop fires due pending jobs at the configured cadence. Purely
// time-based; the job map is small enough that a scan per tick beats
// maintaining a priority queue.
func (s *Scheduler) pollLoop() {
	defer s.wg.Done()
	for {
		s.tick()
		select {
		case <-s.ctx.Done():
			return
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}
}

// tick starts every due pending job while concurrency remains.
func (s *Scheduler) tick() {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if job.State == StatePending && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })

	var started []*Job
	for _, job := range due {
		if len(s.active)+len(started) >= s.cfg.MaxConcurrentJobs {
			break
		}
		job.State = StateScheduled
		started = append(started, job)
	}
	s.mu.Unlock()

	for _, job := range started {
		s.persist(context.Background(), job)
	}

	s.mu.Lock()
	for _, job := range started {
		// CancelJob may have raced in between the persist and the launch.
		if job.State != StateScheduled {
			continue
		}
		jobCtx, cancel := context.WithCancel(s.ctx)
		s.active[job.ID] = cancel
		s.wg.Add(1)
		go s.runJob(jobCtx, job)
		s.logger.Info("job started", "id", job.ID, "topic", job.Topic, "retry_count", job.RetryCount)
	}
	s.mu.Unlock()
}

// stageFailure records which stage broke and with what error, so the
// requeue decision can classify it after the executor returns.
type stageFailure struct {
	stage Stage
	err   error
}

func (f *stageFailure) set(stage Stage, err error) {
	f.stage = stage
	f.err = err
}

// runJob drives one pipeline run through the executor and applies the
// retry/terminal decision to the job afterwards.
func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
	}()

	var failure stageFailure
	res := s.exec.Execute(ctx, executor.Request{
		ID:      job.ID,
		Timeout: s.cfg.PipelineTimeout,
		Policy:  executor.NoRetry,
		Work: func(ctx context.Context, progress executor.ProgressFunc) (any, error) {
			return nil, s.runPipeline(ctx, job, &failure, progress)
		},
	})

	switch res.Status {
	case executor.StatusCompleted:
		// Terminal state already persisted by the pipeline.
	case executor.StatusCancelled:
		// CancelJob persisted the cancelled state before cancelling the
		// context; shutdown leaves the job at its last persist point.
	default:
		if failure.err == nil {
			// Timeout or other failure outside a stage boundary.
			s.mu.RLock()
			stage := job.Stage
			s.mu.RUnlock()
			failure.set(stage, pipeline.Transientf("%s", res.ErrorMessage))
		}
		s.requeueOrFail(job, failure)
	}
}

// runPipeline executes the stage machine for one job: script synthesis,
// media assembly and (when configured) upload. Each stage consumes the
// prior stage's artifact; cancellation is honoured at every boundary.
func (s *Scheduler) runPipeline(ctx context.Context, job *Job, fail *stageFailure, progress executor.ProgressFunc) error {
	if err := s.beginStage(ctx, job, StateScriptGen, StageScript); err != nil {
		return err
	}
	progress(5, "generating script")

	script, err := s.stages.Script.Synthesize(ctx, pipeline.ScriptRequest{
		Topic:          job.Topic,
		Style:          job.Style,
		TargetDuration: job.TargetDuration,
	})
	if err != nil {
		fail.set(StageScript, err)
		return err
	}
	if err := s.updateJob(ctx, job, func(j *Job) {
		j.Artifacts.ScriptText = script.Text
		j.Artifacts.ScriptTitle = script.Title
		j.Artifacts.ScriptDescription = script.Description
		if len(j.Tags) == 0 {
			j.Tags = script.Tags
		}
		j.setProgress(StageScript, 100)
	}); err != nil {
		return err
	}
	progress(35, "script ready")

	if err := s.beginStage(ctx, job, StateAssembly, StageAssembly); err != nil {
		return err
	}
	media, err := s.stages.Assembly.Assemble(ctx, pipeline.AssembleRequest{
		ScriptText: script.Text,
		AssetsDir:  s.cfg.AssetsDir,
		OutputDir:  s.cfg.OutputDir,
	})
	if err != nil {
		fail.set(StageAssembly, err)
		return err
	}
	if err := s.updateJob(ctx, job, func(j *Job) {
		j.Artifacts.MediaPath = media.Path
		j.Artifacts.ThumbnailPath = media.ThumbnailPath
		j.setProgress(StageAssembly, 100)
	}); err != nil {
		return err
	}
	progress(70, "media assembled")

	if s.stages.Upload != nil {
		if err := s.beginStage(ctx, job, StateUpload, StageUpload); err != nil {
			return err
		}
		up, err := s.stages.Upload.Upload(ctx, pipeline.UploadRequest{
			Account:       s.cfg.UploadAccount,
			MediaPath:     media.Path,
			ThumbnailPath: media.ThumbnailPath,
			Title:         script.Title,
			Description:   script.Description,
			Tags:          job.Tags,
			Category:      job.Category,
			Privacy:       job.Privacy,
			PublishAt:     job.PublishAt,
		})
		if err != nil {
			fail.set(StageUpload, err)
			return err
		}
		if err := s.updateJob(ctx, job, func(j *Job) {
			j.Artifacts.RemoteID = up.RemoteID
			j.Artifacts.RemoteURL = up.URL
			j.setProgress(StageUpload, 100)
		}); err != nil {
			return err
		}
		progress(95, "uploaded")
	}

	if err := s.updateJob(ctx, job, func(j *Job) {
		j.State = StateCompleted
		j.Stage = ""
		now := s.clock.Now()
		j.CompletedAt = &now
	}); err != nil {
		return err
	}
	progress(100, "completed")

	if job.SlotID != "" && s.cal != nil {
		if err := s.cal.UpdateStatus(job.SlotID, calendar.SlotPublished); err != nil {
			s.logger.Warn("failed to mark slot published", "slot_id", job.SlotID, "error", err)
		}
	}

	s.logger.Info("job completed",
		"id", job.ID,
		"topic", job.Topic,
		"remote_url", job.Artifacts.RemoteURL,
	)
	return nil
}

// beginStage transitions the job into a pipeline stage and persists.
func (s *Scheduler) beginStage(ctx context.Context, job *Job, state JobState, stage Stage) error {
	return s.updateJob(ctx, job, func(j *Job) {
		j.State = state
		j.Stage = stage
		j.setProgress(stage, 0)
		if j.StartedAt == nil {
			now := s.clock.Now()
			j.StartedAt = &now
		}
	})
}

// updateJob applies a mutation under the scheduler lock and persists the
// result. It refuses to touch a job that has gone terminal (cancellation
// race) and performs no store write after the context is cancelled.
func (s *Scheduler) updateJob(ctx context.Context, job *Job, mutate func(*Job)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if job.State.Terminal() {
		s.mu.Unlock()
		return context.Canceled
	}
	mutate(job)
	s.mu.Unlock()

	s.persist(ctx, job)
	return nil
}

// persist writes the job through the store unless the run was cancelled.
// A snapshot is taken under the lock so a concurrent mutation can't tear
// the serialized record. Write failures are logged; the job stays at its
// last persisted state.
func (s *Scheduler) persist(ctx context.Context, job *Job) {
	if ctx.Err() != nil {
		return
	}
	s.mu.RLock()
	snapshot := job.Clone()
	s.mu.RUnlock()

	if err := s.store.PutJob(snapshot); err != nil {
		s.logger.Error("failed to persist job", "id", job.ID, "error", err)
	}
}

// requeueOrFail applies the scheduler-side retry policy after a failed run:
// transient failures re-enter the queue with a growing delay, permanent
// failures and exhausted retries go terminal.
func (s *Scheduler) requeueOrFail(job *Job, failure stageFailure) {
	permanent := pipeline.IsPermanent(failure.err)

	s.mu.Lock()
	if job.State.Terminal() {
		s.mu.Unlock()
		return
	}
	job.Err = &JobError{Stage: failure.stage, Message: failure.err.Error()}

	retrying := !permanent && job.RetryCount < job.MaxRetries
	if retrying {
		job.RetryCount++
		delay := s.cfg.RetryDelay * time.Duration(job.RetryCount)
		if delay > s.cfg.MaxRetryDelay {
			delay = s.cfg.MaxRetryDelay
		}
		job.State = StatePending
		job.Stage = ""
		job.ScheduledAt = s.clock.Now().Add(delay)
	} else {
		job.State = StateFailed
		job.Stage = ""
		now := s.clock.Now()
		job.CompletedAt = &now
	}
	s.mu.Unlock()

	s.persist(context.Background(), job)

	if retrying {
		s.logger.Warn("job requeued after failure",
			"id", job.ID,
			"stage", failure.stage,
			"retry_count", job.RetryCount,
			"next_attempt", job.ScheduledAt.Format(time.RFC3339),
			"error", failure.err,
		)
	} else {
		s.logger.Error("job failed",
			"id", job.ID,
			"stage", failure.stage,
			"retry_count", job.RetryCount,
			"permanent", permanent,
			"error", failure.err,
		)
	}
}
