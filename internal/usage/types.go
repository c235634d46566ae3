package usage

import (
	"time"
)

// Session represents one contiguous running interval
type Session struct {
	StartedAt time.Time
}

// elapsed never goes negative, even if the clock stepped backwards
func (s *Session) elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
