package storage

import (
	"math"
	"time"
)

// Setting keys
const (
	KeyActionPrimary   = "action.primary"
	KeyActionSecondary = "action.secondary"
	KeyIntervalSeconds = "interval.seconds"
	KeyAutoStopHours   = "autostop.hours"
	KeyAutoStopMinutes = "autostop.minutes"
)

// Defaults applied when a key is absent
const (
	DefaultActionPrimary   = "R"
	DefaultActionSecondary = "E"
	DefaultIntervalSeconds = "2"
)

const (
	// MinInterval is the shortest spacing between ticks
	MinInterval = 500 * time.Millisecond

	// MaxInterval is the longest spacing a time.Duration can hold
	MaxInterval = time.Duration(math.MaxInt64)
)

// Keys lists every known setting key in display order.
var Keys = []string{
	KeyActionPrimary,
	KeyActionSecondary,
	KeyIntervalSeconds,
	KeyAutoStopHours,
	KeyAutoStopMinutes,
}

var defaults = map[string]string{
	KeyActionPrimary:   DefaultActionPrimary,
	KeyActionSecondary: DefaultActionSecondary,
	KeyIntervalSeconds: DefaultIntervalSeconds,
	KeyAutoStopHours:   "",
	KeyAutoStopMinutes: "",
}

// Cadence holds the per-tick parameters read from the settings store.
type Cadence struct {
	Primary   string
	Secondary string
	Interval  time.Duration
}

// Tokens returns the configured tokens in firing order, skipping blanks.
func (c Cadence) Tokens() []string {
	tokens := make([]string, 0, 2)
	if c.Primary != "" {
		tokens = append(tokens, c.Primary)
	}
	if c.Secondary != "" {
		tokens = append(tokens, c.Secondary)
	}
	return tokens
}
