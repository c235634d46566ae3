// Package action performs the per-tick action as a press/release pair.
package action

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Performer emits the two phases of one action.
type Performer interface {
	Press(token string) error
	Release(token string) error
}

// LogPerformer only logs actions. It backs the "log" performer setting and
// dry runs on hosts without a display.
type LogPerformer struct {
	logger zerolog.Logger
}

// NewLogPerformer creates a LogPerformer.
func NewLogPerformer(logger zerolog.Logger) *LogPerformer {
	return &LogPerformer{logger: logger.With().Str("component", "action").Logger()}
}

func (p *LogPerformer) Press(token string) error {
	p.logger.Info().Str("token", token).Msg("Press")
	return nil
}

func (p *LogPerformer) Release(token string) error {
	p.logger.Debug().Str("token", token).Msg("Release")
	return nil
}

// Event is one recorded phase.
type Event struct {
	Phase string
	Token string
}

// Recorder is a Performer that remembers every call.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Press(token string) error {
	return r.record("press", token)
}

func (r *Recorder) Release(token string) error {
	return r.record("release", token)
}

func (r *Recorder) record(phase, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Phase: phase, Token: token})
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Presses returns the pressed tokens in order.
func (r *Recorder) Presses() []string {
	var out []string
	for _, e := range r.Events() {
		if e.Phase == "press" {
			out = append(out, e.Token)
		}
	}
	return out
}

// Held returns the tokens pressed but not yet released.
func (r *Recorder) Held() []string {
	held := make(map[string]int)
	for _, e := range r.Events() {
		switch e.Phase {
		case "press":
			held[e.Token]++
		case "release":
			held[e.Token]--
		}
	}
	var out []string
	for token, n := range held {
		if n > 0 {
			out = append(out, token)
		}
	}
	return out
}

// New returns the performer selected by name.
func New(name string, logger zerolog.Logger, keyboard func() Performer) (Performer, error) {
	switch name {
	case "log":
		return NewLogPerformer(logger), nil
	case "keyboard":
		if keyboard == nil {
			return nil, fmt.Errorf("keyboard performer not available")
		}
		return keyboard(), nil
	default:
		return nil, fmt.Errorf("unsupported action performer: %s", name)
	}
}
