package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTimerManager_OneShot(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Close()

	var fired atomic.Int32
	m.AddTimer(10*time.Millisecond, 0, func() { fired.Add(1) })

	waitFor(t, func() bool { return fired.Load() == 1 })
	time.Sleep(40 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("Expected one-shot timer to fire once, fired %d times", fired.Load())
	}
	if m.Len() != 0 {
		t.Errorf("Expected empty queue, got %d tasks", m.Len())
	}
}

func TestTimerManager_Interval(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Close()

	var fired atomic.Int32
	id := m.AddTimer(10*time.Millisecond, 10*time.Millisecond, func() { fired.Add(1) })

	waitFor(t, func() bool { return fired.Load() >= 3 })
	if !m.RemoveTimer(id) {
		t.Error("RemoveTimer should find the repeating task")
	}
}

func TestTimerManager_RemoveBeforeFire(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Close()

	var fired atomic.Int32
	id := m.AddTimer(30*time.Millisecond, 0, func() { fired.Add(1) })
	if !m.RemoveTimer(id) {
		t.Fatal("RemoveTimer should find the pending task")
	}
	if m.RemoveTimer(id) {
		t.Error("Removing twice should report false")
	}

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("Removed timer fired %d times", fired.Load())
	}
}

func TestCountdown_StartStopIdempotent(t *testing.T) {
	m := NewTimerManagerWithResolution(5 * time.Millisecond)
	defer m.Close()

	var ticks atomic.Int32
	c := NewCountdown(m, 10*time.Millisecond, func() { ticks.Add(1) })

	c.Stop() // stopping a countdown that never started must be safe
	c.Start()
	c.Start()
	if m.Len() != 1 {
		t.Fatalf("Expected a single scheduled task, got %d", m.Len())
	}
	waitFor(t, func() bool { return ticks.Load() >= 2 })

	c.Stop()
	c.Stop()
	if c.Running() {
		t.Error("Countdown should not be running after Stop")
	}
	if m.Len() != 0 {
		t.Errorf("Expected no leaked tasks after Stop, got %d", m.Len())
	}
}
