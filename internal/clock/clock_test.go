package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	fake := NewFake()

	var fired []string
	fake.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "a") })
	fake.AfterFunc(50*time.Millisecond, func() { fired = append(fired, "b") })
	fake.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "c") })

	fake.Advance(150 * time.Millisecond)

	if len(fired) != 2 || fired[0] != "b" || fired[1] != "a" {
		t.Errorf("fired = %v, want [b a]", fired)
	}
	if fake.PendingTimers() != 1 {
		t.Errorf("PendingTimers() = %d, want 1", fake.PendingTimers())
	}

	fake.Advance(50 * time.Millisecond)
	if len(fired) != 3 || fired[2] != "c" {
		t.Errorf("fired = %v, want [b a c]", fired)
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	fake := NewFake()

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() = false, want true for pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	fake.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_ResetRearms(t *testing.T) {
	fake := NewFake()

	count := 0
	timer := fake.AfterFunc(time.Second, func() { count++ })

	fake.Advance(500 * time.Millisecond)
	timer.Reset(time.Second) // pushes deadline to t=1.5s

	fake.Advance(700 * time.Millisecond) // t=1.2s
	if count != 0 {
		t.Fatal("timer fired before reset deadline")
	}

	fake.Advance(400 * time.Millisecond) // t=1.6s
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestFake_ResetAfterFireRearms(t *testing.T) {
	fake := NewFake()

	count := 0
	timer := fake.AfterFunc(time.Second, func() { count++ })

	fake.Advance(time.Second)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	if timer.Reset(time.Second) {
		t.Error("Reset() = true after fire, want false")
	}
	fake.Advance(time.Second)
	if count != 2 {
		t.Errorf("count = %d, want 2 after rearm", count)
	}
}

func TestFake_NowAdvances(t *testing.T) {
	fake := NewFake()
	start := fake.Now()
	fake.Advance(time.Minute)
	if got := fake.Now().Sub(start); got != time.Minute {
		t.Errorf("elapsed = %v, want 1m", got)
	}
}

func TestFake_CallbackObservesDeadlineTime(t *testing.T) {
	fake := NewFake()
	start := fake.Now()

	var at time.Time
	fake.AfterFunc(30*time.Second, func() { at = fake.Now() })

	fake.Advance(time.Minute)
	if got := at.Sub(start); got != 30*time.Second {
		t.Errorf("callback saw t=%v, want 30s", got)
	}
}
