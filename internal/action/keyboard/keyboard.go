// Package keyboard sends synthetic key events through robotgo.
package keyboard

import (
	"fmt"
	"strings"

	"github.com/go-vgo/robotgo"
	"github.com/goodtune/autokey/internal/action"
	"github.com/rs/zerolog"
)

// Performer presses and releases keys on the host keyboard.
type Performer struct {
	logger zerolog.Logger
}

var _ action.Performer = (*Performer)(nil)

// New creates a keyboard performer.
func New(logger zerolog.Logger) *Performer {
	return &Performer{logger: logger.With().Str("component", "keyboard").Logger()}
}

func (p *Performer) Press(token string) error {
	return p.toggle(token, "down")
}

func (p *Performer) Release(token string) error {
	return p.toggle(token, "up")
}

func (p *Performer) toggle(token, direction string) error {
	key := strings.ToLower(token)
	if err := robotgo.KeyToggle(key, direction); err != nil {
		return fmt.Errorf("key %s %s: %w", token, direction, err)
	}
	p.logger.Debug().Str("key", key).Str("direction", direction).Msg("Key toggled")
	return nil
}
