// Package executor runs units of work with bounded concurrency, retry
// policies, per-execution timeouts and progress reporting. It is the single
// admission gate for anything the scheduler wants to run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/reelforge/pkg/reelforge/clock"
)

// Status is the terminal outcome of an execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// ProgressFunc receives progress updates. Percent is 0–100 and never
// decreases across calls for the same execution.
type ProgressFunc func(percent int, message string)

// Work is the unit of work. It must honour ctx cancellation at every
// blocking point and may report progress through the supplied callback.
type Work func(ctx context.Context, progress ProgressFunc) (any, error)

// Request describes one execution.
type Request struct {
	// ID identifies the execution in history. Minted if empty.
	ID string

	Work Work

	// MaxRetries bounds retry attempts after the first failure.
	MaxRetries int

	// Policy computes the delay between attempts.
	Policy RetryPolicy

	// Timeout bounds each individual attempt. Zero uses the executor default.
	Timeout time.Duration

	// OnProgress, if set, receives progress updates including retry notices.
	OnProgress ProgressFunc
}

// Result is the outcome of an Execute call.
type Result struct {
	ID           string
	Status       Status
	StartedAt    time.Time
	CompletedAt  *time.Time
	Duration     time.Duration
	Data         any
	ErrorMessage string
	RetryCount   int
	Progress     int
}

// Options configures an Executor.
type Options struct {
	// MaxConcurrent bounds simultaneous executions. Default 3.
	MaxConcurrent int

	// DefaultTimeout bounds attempts that don't set their own. Default 10m.
	DefaultTimeout time.Duration

	// HistoryLimit caps retained results. Default 100.
	HistoryLimit int

	// HistoryMaxAge evicts results older than this. Default 1h.
	HistoryMaxAge time.Duration
}

// Executor runs Requests under a concurrency semaphore and keeps a bounded
// history of completed results keyed by id.
type Executor struct {
	opts   Options
	sem    chan struct{}
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	history map[string]*Result
	order   []string
}

// New creates an Executor. A nil clock uses the system clock; a nil logger
// uses slog.Default().
func New(opts Options, clk clock.Clock, logger *slog.Logger) *Executor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Minute
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.HistoryMaxAge <= 0 {
		opts.HistoryMaxAge = time.Hour
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxConcurrent),
		clock:   clk,
		logger:  logger,
		history: make(map[string]*Result),
	}
}

// Execute runs the request to completion, blocking for a semaphore permit
// first. It returns a terminal Result; the only error-shaped outcomes are
// carried inside the Result so callers always get history-recorded state.
func (e *Executor) Execute(ctx context.Context, req Request) *Result {
	if req.ID == "" {
		req.ID = clock.NewID()
	}

	res := &Result{
		ID:        req.ID,
		StartedAt: e.clock.Now(),
	}

	// Admission gate. Blocked callers are queued in arrival order.
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		res.Status = StatusCancelled
		res.ErrorMessage = ctx.Err().Error()
		e.finish(res)
		return res
	}
	defer func() { <-e.sem }()

	reporter := &progressReporter{res: res, onProgress: req.OnProgress}
	progress := reporter.report

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}

	for attempt := 0; ; attempt++ {
		data, err := e.runAttempt(ctx, req, timeout, progress)
		if err == nil {
			res.Status = StatusCompleted
			res.Data = data
			reporter.seal()
			res.Progress = 100
			e.finish(res)
			return res
		}

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			res.Status = StatusCancelled
			res.ErrorMessage = err.Error()
			reporter.seal()
			e.finish(res)
			return res
		}

		timedOut := errors.Is(err, context.DeadlineExceeded)
		res.ErrorMessage = err.Error()

		var perm permanenter
		if errors.As(err, &perm) && perm.Permanent() {
			res.Status = StatusFailed
			reporter.seal()
			e.finish(res)
			return res
		}

		if req.Policy.Strategy == "" || req.Policy.Strategy == RetryNone || attempt >= req.MaxRetries {
			if timedOut {
				res.Status = StatusTimedOut
			} else {
				res.Status = StatusFailed
			}
			reporter.seal()
			e.finish(res)
			return res
		}

		res.RetryCount = attempt + 1
		delay := req.Policy.Delay(attempt + 1)
		// Percent 0 clamps up to the current value, so only the retry
		// notice is new.
		progress(0, fmt.Sprintf("retrying (attempt %d/%d)", attempt+2, req.MaxRetries+1))
		e.logger.Warn("execution retrying",
			"id", req.ID,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if err := e.clock.Sleep(ctx, delay); err != nil {
			res.Status = StatusCancelled
			res.ErrorMessage = err.Error()
			reporter.seal()
			e.finish(res)
			return res
		}
	}
}

// runAttempt executes one attempt under its own deadline. The work runs in
// its own goroutine so a stuck closure cannot wedge the executor; the
// goroutine's result is discarded after a timeout.
func (e *Executor) runAttempt(ctx context.Context, req Request, timeout time.Duration, progress ProgressFunc) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("work panicked: %v", r)}
			}
		}()
		data, err := req.Work(attemptCtx, progress)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-attemptCtx.Done():
		return nil, attemptCtx.Err()
	}
}

// progressReporter enforces monotonic percent and mirrors the latest value
// into the result. Once sealed it drops every call: a work goroutine
// abandoned after a timeout may still be running, and a result published to
// history must not change under its readers.
type progressReporter struct {
	mu         sync.Mutex
	res        *Result
	sealed     bool
	onProgress ProgressFunc
}

func (p *progressReporter) report(percent int, message string) {
	p.mu.Lock()
	if p.sealed {
		p.mu.Unlock()
		return
	}
	if percent < p.res.Progress {
		percent = p.res.Progress
	}
	if percent > 100 {
		percent = 100
	}
	p.res.Progress = percent
	p.mu.Unlock()

	if p.onProgress != nil {
		p.onProgress(percent, message)
	}
}

func (p *progressReporter) seal() {
	p.mu.Lock()
	p.sealed = true
	p.mu.Unlock()
}

// finish stamps completion and records the result in history.
func (e *Executor) finish(res *Result) {
	now := e.clock.Now()
	res.CompletedAt = &now
	res.Duration = now.Sub(res.StartedAt)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.history[res.ID]; !exists {
		e.order = append(e.order, res.ID)
	}
	e.history[res.ID] = res
	e.evictLocked(now)
}

// evictLocked drops results beyond the size cap or older than the max age.
func (e *Executor) evictLocked(now time.Time) {
	keep := e.order[:0]
	for _, id := range e.order {
		r := e.history[id]
		if r.CompletedAt != nil && now.Sub(*r.CompletedAt) > e.opts.HistoryMaxAge {
			delete(e.history, id)
			continue
		}
		keep = append(keep, id)
	}
	e.order = keep

	for len(e.order) > e.opts.HistoryLimit {
		delete(e.history, e.order[0])
		e.order = e.order[1:]
	}
}

// GetResult returns a completed result from history.
func (e *Executor) GetResult(id string) (*Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.history[id]
	return r, ok
}

// History returns retained results, oldest first.
func (e *Executor) History() []*Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Result, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.history[id])
	}
	return out
}
