package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	var fired []string
	fc.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	fc.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	fc.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	fc.Advance(3 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}
	if got := fc.Now(); !got.Equal(start.Add(3 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(3*time.Second))
	}
	if fc.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", fc.Pending())
	}
}

func TestFake_CallbackSeesDueTime(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	var seen time.Time
	fc.AfterFunc(1500*time.Millisecond, func() { seen = fc.Now() })
	fc.Advance(10 * time.Second)

	if !seen.Equal(start.Add(1500 * time.Millisecond)) {
		t.Errorf("callback saw %v, want %v", seen, start.Add(1500*time.Millisecond))
	}
}

func TestFake_ChainedCallbacks(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))

	count := 0
	var schedule func()
	schedule = func() {
		count++
		fc.AfterFunc(time.Second, schedule)
	}
	fc.AfterFunc(time.Second, schedule)

	fc.Advance(5 * time.Second)

	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestFake_Stop(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))

	fired := false
	timer := fc.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop() = false on pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	fc.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}
