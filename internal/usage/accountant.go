package usage

import (
	"errors"
	"sync"
	"time"

	"github.com/goodtune/autokey/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyRunning is returned when a session is begun while one is open.
	ErrAlreadyRunning = errors.New("usage: session already running")

	// ErrNotRunning is returned when a session is ended while none is open.
	ErrNotRunning = errors.New("usage: no session running")
)

// Accountant tracks cumulative run time across start/stop sessions.
// The accumulated total only grows; Reset is the single way to clear it.
type Accountant struct {
	accumulated time.Duration
	session     *Session
	sessions    int
	logger      zerolog.Logger
	mu          sync.Mutex
}

// NewAccountant creates an accountant with no time accumulated
func NewAccountant(logger zerolog.Logger) *Accountant {
	return &Accountant{
		logger: logger.With().Str("component", "usage-accountant").Logger(),
	}
}

// BeginSession opens a session at now
func (a *Accountant) BeginSession(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return ErrAlreadyRunning
	}

	a.session = &Session{StartedAt: now}

	a.logger.Debug().
		Time("started_at", now).
		Dur("accumulated", a.accumulated).
		Msg("Started run session")

	return nil
}

// EndSession closes the open session and folds its elapsed time into the total
func (a *Accountant) EndSession(now time.Time) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return 0, ErrNotRunning
	}

	elapsed := a.session.elapsed(now)
	a.accumulated += elapsed
	a.sessions++
	a.session = nil

	metrics.SessionsTotal.Inc()
	metrics.RunSecondsTotal.Add(elapsed.Seconds())

	a.logger.Info().
		Dur("elapsed", elapsed).
		Dur("accumulated", a.accumulated).
		Int("sessions", a.sessions).
		Msg("Finalized run session")

	return elapsed, nil
}

// Elapsed returns the accumulated total plus the open session's time, if any
func (a *Accountant) Elapsed(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.accumulated
	if a.session != nil {
		total += a.session.elapsed(now)
	}
	return total
}

// Running reports whether a session is open
func (a *Accountant) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// Sessions returns the number of closed sessions
func (a *Accountant) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions
}

// Reset discards all accumulated time. It fails while a session is open.
func (a *Accountant) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return ErrAlreadyRunning
	}

	a.accumulated = 0
	a.sessions = 0
	a.logger.Info().Msg("Accumulated run time cleared")
	return nil
}
