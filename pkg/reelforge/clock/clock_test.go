package clock

import (
	"context"
	"testing"
	"time"
)

func TestNewID(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 36 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %q", id)
		}
		seen[id] = true
	}
}

func TestMockAdvanceFiresTimers(t *testing.T) {
	t.Parallel()

	m := NewMock(mustTime(t, "2025-01-01T00:00:00Z"))
	ch := m.After(time.Hour)

	select {
	case <-ch:
		t.Fatal("timer fired before advance")
	default:
	}

	m.Advance(30 * time.Minute)
	select {
	case <-ch:
		t.Fatal("timer fired too early")
	default:
	}

	m.Advance(30 * time.Minute)
	select {
	case fired := <-ch:
		want := mustTime(t, "2025-01-01T01:00:00Z")
		if !fired.Equal(want) {
			t.Errorf("timer fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("timer did not fire after advance past deadline")
	}
}

func TestMockSleepCancelled(t *testing.T) {
	t.Parallel()

	m := NewMock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- m.Sleep(ctx, time.Hour)
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Sleep returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after cancel")
	}
}

func TestFormatter(t *testing.T) {
	t.Parallel()

	f, err := NewFormatter("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("NewFormatter: %v", err)
	}

	// 12:00 UTC is 09:00 in São Paulo (UTC-3, no DST in 2025).
	instant := mustTime(t, "2025-06-15T12:00:00Z")
	if got := f.Date(instant); got != "2025-06-15" {
		t.Errorf("Date = %q", got)
	}
	if got := f.TimeOfDay(instant); got != "09:00" {
		t.Errorf("TimeOfDay = %q", got)
	}
	if got := f.DateTime(instant); got != "2025-06-15 09:00" {
		t.Errorf("DateTime = %q", got)
	}

	if _, err := NewFormatter("Not/AZone"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestSetWakesSleepersForCallerSync(t *testing.T) {
	t.Parallel()

	m := NewMock(mustTime(t, "2025-01-01T00:00:00Z"))

	woke := make(chan struct{})
	go func() {
		_ = m.Sleep(context.Background(), time.Hour)
		close(woke)
	}()

	// Let the sleeper register its timer before time moves.
	waitForTimer := func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.timers) == 1
	}
	deadline := time.Now().Add(time.Second)
	for !waitForTimer() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// Set returns without waiting for the sleeper; the caller synchronizes
	// on the wakeup's observable effect.
	m.Set(mustTime(t, "2025-01-01T02:00:00Z"))
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper not woken by Set")
	}
}
