// Package autostop tracks an optional absolute stop target for a run.
//
// The timer only reports state. Stopping the scheduler on expiry is the
// caller's job, so a single owner decides when the stop side effect happens.
package autostop

import (
	"sync"
	"time"
)

// Timer holds an optional auto-stop target.
type Timer struct {
	mu     sync.Mutex
	target time.Time
	armed  bool
}

// New returns a disarmed timer.
func New() *Timer {
	return &Timer{}
}

// Arm sets the target to now+d, replacing any previous target.
func (t *Timer) Arm(now time.Time, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = now.Add(d)
	t.armed = true
}

// IsArmed reports whether a target is set.
func (t *Timer) IsArmed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Target returns the absolute target and whether one is set.
func (t *Timer) Target() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target, t.armed
}

// Remaining returns the time left until the target, clamped at zero, and
// whether the target has been reached. A disarmed timer never expires.
func (t *Timer) Remaining(now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return 0, false
	}
	left := t.target.Sub(now)
	if left <= 0 {
		return 0, true
	}
	return left, false
}

// Disarm clears the target.
func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = time.Time{}
	t.armed = false
}
