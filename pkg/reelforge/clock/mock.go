package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Mock is a manually-driven Clock for tests. Time only moves when Advance or
// Set is called; pending timers whose deadline is reached fire synchronously
// inside the advancing call, in deadline order. Goroutines woken by a fired
// timer are scheduled as usual, so callers wait on the observable effect of
// the wakeup, not on Advance or Set returning.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

type mockTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMock creates a mock clock positioned at start (converted to UTC).
func NewMock(start time.Time) *Mock {
	return &Mock{now: start.UTC()}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTimer{deadline: m.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.ch <- m.now
		return t.ch
	}
	m.timers = append(m.timers, t)
	return t.ch
}

func (m *Mock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-m.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (m *Mock) Advance(d time.Duration) {
	m.Set(m.Now().Add(d))
}

// Set moves the clock to t, firing every timer whose deadline is ≤ t.
// Moving backwards only repositions the clock.
func (m *Mock) Set(t time.Time) {
	t = t.UTC()

	m.mu.Lock()
	m.now = t

	var due, pending []*mockTimer
	for _, tm := range m.timers {
		if !tm.deadline.After(t) {
			due = append(due, tm)
		} else {
			pending = append(pending, tm)
		}
	}
	m.timers = pending
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	m.mu.Unlock()

	for _, tm := range due {
		tm.ch <- t
	}
}
