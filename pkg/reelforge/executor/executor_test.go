package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"none always zero", NoRetry, 3, 0},
		{"fixed", RetryPolicy{Strategy: RetryFixed, BaseDelay: 2 * time.Second}, 5, 2 * time.Second},
		{"linear first", RetryPolicy{Strategy: RetryLinear, BaseDelay: time.Second}, 1, time.Second},
		{"linear third", RetryPolicy{Strategy: RetryLinear, BaseDelay: time.Second}, 3, 3 * time.Second},
		{"exponential first", RetryPolicy{Strategy: RetryExponential, BaseDelay: time.Second}, 1, time.Second},
		{"exponential fourth", RetryPolicy{Strategy: RetryExponential, BaseDelay: time.Second}, 4, 8 * time.Second},
		{"exponential clamped", RetryPolicy{Strategy: RetryExponential, BaseDelay: time.Second, MaxDelay: 5 * time.Second}, 10, 5 * time.Second},
		{"linear clamped", RetryPolicy{Strategy: RetryLinear, BaseDelay: time.Minute, MaxDelay: 90 * time.Second}, 4, 90 * time.Second},
		{"attempt zero", RetryPolicy{Strategy: RetryFixed, BaseDelay: time.Second}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	e := New(Options{}, nil, nil)
	res := e.Execute(context.Background(), Request{
		ID: "job-1",
		Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
			progress(50, "halfway")
			return "done", nil
		},
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (%s)", res.Status, res.ErrorMessage)
	}
	if res.Data != "done" {
		t.Errorf("data = %v", res.Data)
	}
	if res.Progress != 100 {
		t.Errorf("progress = %d, want 100", res.Progress)
	}
	if res.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	got, ok := e.GetResult("job-1")
	if !ok || got.Status != StatusCompleted {
		t.Error("result not recorded in history")
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	e := New(Options{}, nil, nil)
	res := e.Execute(context.Background(), Request{
		MaxRetries: 3,
		Policy:     RetryPolicy{Strategy: RetryFixed, BaseDelay: 5 * time.Millisecond},
		Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errors.New("transient")
			}
			return 42, nil
		},
	})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %q (%s)", res.Status, res.ErrorMessage)
	}
	if res.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", res.RetryCount)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	t.Parallel()

	e := New(Options{}, nil, nil)
	res := e.Execute(context.Background(), Request{
		MaxRetries: 2,
		Policy:     RetryPolicy{Strategy: RetryFixed, BaseDelay: time.Millisecond},
		Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
			return nil, errors.New("always broken")
		},
	})

	if res.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", res.RetryCount)
	}
	if res.ErrorMessage != "always broken" {
		t.Errorf("error = %q", res.ErrorMessage)
	}
}

type permErr struct{ msg string }

func (e permErr) Error() string   { return e.msg }
func (e permErr) Permanent() bool { return true }

func TestExecutePermanentErrorShortCircuits(t *testing.T) {
	t.Parallel()

	var calls int32
	e := New(Options{}, nil, nil)
	res := e.Execute(context.Background(), Request{
		MaxRetries: 5,
		Policy:     RetryPolicy{Strategy: RetryFixed, BaseDelay: time.Millisecond},
		Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, permErr{"bad credentials"}
		},
	})

	if res.Status != StatusFailed {
		t.Fatalf("status = %q", res.Status)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("work called %d times, want 1", n)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	e := New(Options{}, nil, nil)
	res := e.Execute(context.Background(), Request{
		Timeout: 20 * time.Millisecond,
		Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	if res.Status != StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", res.Status)
	}
}

func TestExecuteCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	e := New(Options{}, nil, nil)

	done := make(chan *Result, 1)
	go func() {
		done <- e.Execute(ctx, Request{
			Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if res.Status != StatusCancelled {
			t.Errorf("status = %q, want cancelled", res.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("execute did not return after cancel")
	}
}

func TestExecuteConcurrencyBound(t *testing.T) {
	t.Parallel()

	const limit = 2
	e := New(Options{MaxConcurrent: limit}, nil, nil)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e.Execute(context.Background(), Request{
				ID: fmt.Sprintf("c-%d", n),
				Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
					cur := atomic.AddInt32(&running, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
							break
						}
					}
					time.Sleep(15 * time.Millisecond)
					atomic.AddInt32(&running, -1)
					return nil, nil
				},
			})
		}(i)
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", p, limit)
	}
}

func TestProgressMonotonic(t *testing.T) {
	t.Parallel()

	var reported []int
	e := New(Options{}, nil, nil)
	e.Execute(context.Background(), Request{
		OnProgress: func(percent int, message string) {
			reported = append(reported, percent)
		},
		Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
			progress(30, "")
			progress(10, "out of order")
			progress(70, "")
			progress(200, "overflow")
			return nil, nil
		},
	})

	last := -1
	for _, p := range reported {
		if p < last {
			t.Fatalf("progress went backwards: %v", reported)
		}
		if p > 100 {
			t.Fatalf("progress above 100: %v", reported)
		}
		last = p
	}
}

func TestHistoryEviction(t *testing.T) {
	t.Parallel()

	e := New(Options{HistoryLimit: 3}, nil, nil)
	for i := 0; i < 5; i++ {
		e.Execute(context.Background(), Request{
			ID:   fmt.Sprintf("h-%d", i),
			Work: func(ctx context.Context, progress ProgressFunc) (any, error) { return nil, nil },
		})
	}

	hist := e.History()
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[0].ID != "h-2" || hist[2].ID != "h-4" {
		t.Errorf("unexpected history window: %s..%s", hist[0].ID, hist[2].ID)
	}
	if _, ok := e.GetResult("h-0"); ok {
		t.Error("evicted result still retrievable")
	}
}

func TestExecutePanicIsFailure(t *testing.T) {
	t.Parallel()

	e := New(Options{}, nil, nil)
	res := e.Execute(context.Background(), Request{
		Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
			panic("boom")
		},
	})

	if res.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
}

func TestLateProgressAfterTimeoutIsDropped(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var forwarded []int

	release := make(chan struct{})
	reported := make(chan struct{})

	e := New(Options{}, nil, nil)
	res := e.Execute(context.Background(), Request{
		Timeout: 20 * time.Millisecond,
		OnProgress: func(percent int, _ string) {
			mu.Lock()
			forwarded = append(forwarded, percent)
			mu.Unlock()
		},
		Work: func(ctx context.Context, progress ProgressFunc) (any, error) {
			progress(10, "started")
			// Outlive the attempt, as a wedged external call would.
			go func() {
				<-release
				progress(99, "late")
				close(reported)
			}()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	if res.Status != StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", res.Status)
	}
	before := res.Progress

	close(release)
	<-reported

	if res.Progress != before {
		t.Errorf("published progress changed from %d to %d", before, res.Progress)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, p := range forwarded {
		if p == 99 {
			t.Error("progress forwarded after the result was published")
		}
	}
}
