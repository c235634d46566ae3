// Package scheduler implements the run/stop state machine that performs the
// configured action on every tick.
//
// All state lives behind one mutex. Ticks, countdown refreshes and deferred
// key releases are clock callbacks tagged with the run generation they were
// scheduled for; Stop bumps the generation and cancels them while holding the
// lock, so a callback that loses the race finds a stale generation and does
// nothing.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/autokey/internal/action"
	"github.com/goodtune/autokey/internal/auth"
	"github.com/goodtune/autokey/internal/autostop"
	"github.com/goodtune/autokey/internal/clock"
	"github.com/goodtune/autokey/internal/metrics"
	"github.com/goodtune/autokey/internal/storage"
	"github.com/goodtune/autokey/internal/usage"
	"github.com/rs/zerolog"
)

// Defaults for Config fields left at zero.
const (
	DefaultSettleDelay     = 50 * time.Millisecond
	DefaultRefreshInterval = time.Second
	DefaultSettingsTimeout = 2 * time.Second

	// fallbackInterval spaces ticks when settings cannot be read.
	fallbackInterval = 2 * time.Second
)

// Authorizer exposes the latest authorization verdict.
type Authorizer interface {
	Current() auth.Verdict
	Refresh(ctx context.Context)
}

// Config tunes scheduler timing.
type Config struct {
	SettleDelay     time.Duration
	RefreshInterval time.Duration
	SettingsTimeout time.Duration
}

// Options are supplied per Start call.
type Options struct {
	// AutoStop arms the auto-stop timer when positive.
	AutoStop time.Duration
}

type pendingRelease struct {
	token string
	timer clock.Timer
}

// Scheduler drives the tick loop.
type Scheduler struct {
	cfg        Config
	store      storage.SettingsStore
	gate       Authorizer
	performer  action.Performer
	clock      clock.Clock
	accountant *usage.Accountant
	autostop   *autostop.Timer
	logger     zerolog.Logger

	mu           sync.Mutex
	running      bool
	gen          uint64
	cursor       int
	count        int64
	tickTimer    clock.Timer
	refreshTimer clock.Timer
	release      *pendingRelease
	statusLine   string
	severity     Severity
	events       []chan Event
}

// New creates a stopped scheduler.
func New(cfg Config, store storage.SettingsStore, gate Authorizer, performer action.Performer, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.SettingsTimeout <= 0 {
		cfg.SettingsTimeout = DefaultSettingsTimeout
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Scheduler{
		cfg:        cfg,
		store:      store,
		gate:       gate,
		performer:  performer,
		clock:      clk,
		accountant: usage.NewAccountant(logger),
		autostop:   autostop.New(),
		logger:     logger.With().Str("component", "scheduler").Logger(),
		statusLine: auth.Pending.StatusLine(),
		severity:   SeverityWarn,
	}
}

// Subscribe registers a new observer channel. Events are dropped for
// subscribers whose buffer is full.
func (s *Scheduler) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	s.events = append(s.events, ch)
	s.mu.Unlock()
	return ch
}

// Start transitions Stopped to Running. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context, opts Options) error {
	cadence, err := storage.LoadCadence(ctx, s.store)
	if err != nil {
		return fmt.Errorf("failed to load cadence: %w", err)
	}

	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		return nil
	}

	if len(cadence.Tokens()) == 0 {
		s.setStatusLocked("Set at least one action key", SeverityWarn)
		s.mu.Unlock()
		return ErrNoActionConfigured
	}

	now := s.clock.Now()
	verdict := s.gate.Current()
	if !verdict.Authorized(now) {
		status := verdict.Status
		if status == auth.Verified {
			status = auth.Expired
		}
		s.setStatusLocked("Verifying connection...", SeverityWarn)
		s.mu.Unlock()

		s.logger.Warn().Str("status", status.String()).Msg("Start rejected, authorization required")
		s.gate.Refresh(context.Background())
		return &AuthorizationError{Status: status}
	}

	defer s.mu.Unlock()

	s.running = true
	s.gen++
	s.cursor = 0

	if err := s.accountant.BeginSession(now); err != nil {
		s.logger.Warn().Err(err).Msg("Accountant session already open")
	}
	if opts.AutoStop > 0 {
		s.autostop.Arm(now, opts.AutoStop)
	}

	metrics.Running.Set(1)
	s.logger.Info().
		Str("primary", cadence.Primary).
		Str("secondary", cadence.Secondary).
		Dur("interval", cadence.Interval).
		Dur("auto_stop", opts.AutoStop).
		Msg("Scheduler started")

	s.setStatusLocked("Running...", SeverityOK)
	remaining, _ := s.autostop.Remaining(now)
	s.emitLocked(Event{
		Type:          EventStarted,
		At:            now,
		AutoStopArmed: s.autostop.IsArmed(),
		Remaining:     remaining,
	})

	gen := s.gen
	s.tickLocked(gen, cadence, nil)
	if s.running && s.gen == gen {
		s.scheduleRefreshLocked(gen)
	}
	return nil
}

// Stop transitions Running to Stopped. It is a no-op when already stopped.
// No tick fires after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.stopLocked(ReasonManual)
	s.setStatusLocked("Paused", SeverityInfo)
}

// Reset stops the scheduler and clears the run time and action counter.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.stopLocked(ReasonReset)
	}
	if err := s.accountant.Reset(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset accountant")
	}
	s.count = 0
	s.setStatusLocked("State cleared", SeverityInfo)
	s.logger.Info().Msg("Scheduler state reset")
}

// Running reports whether the scheduler is running.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot returns the current state.
func (s *Scheduler) Snapshot() Snapshot {
	verdict := s.gate.Current()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	remaining, _ := s.autostop.Remaining(now)
	return Snapshot{
		Now:               now,
		Running:           s.running,
		ActionCount:       s.count,
		Elapsed:           s.accountant.Elapsed(now),
		AutoStopArmed:     s.autostop.IsArmed(),
		AutoStopRemaining: remaining,
		Authorization:     verdict.Status,
		Deadline:          verdict.DeadlineText,
		Status:            s.statusLine,
		Severity:          s.severity,
	}
}

// HandleVerdict updates the status line from a new authorization verdict.
func (s *Scheduler) HandleVerdict(v auth.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.setStatusLocked(v.Status.StatusLine(), verdictSeverity(v.Status))
	}
	if notice := v.BlockingNotice(); notice != "" {
		s.emitLocked(Event{
			Type:     EventNotice,
			At:       s.clock.Now(),
			Message:  notice,
			Severity: SeverityError,
		})
	}
}

// Close stops the scheduler and closes subscriber channels.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.stopLocked(ReasonManual)
	}
	for _, ch := range s.events {
		close(ch)
	}
	s.events = nil
}

func (s *Scheduler) onTick(gen uint64) {
	if !s.current(gen) {
		return
	}

	// Settings are read outside the lock; the store may be remote.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SettingsTimeout)
	cadence, err := storage.LoadCadence(ctx, s.store)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.gen != gen {
		return
	}
	s.tickLocked(gen, cadence, err)
}

func (s *Scheduler) tickLocked(gen uint64, cadence storage.Cadence, loadErr error) {
	now := s.clock.Now()
	metrics.TicksTotal.Inc()

	interval := cadence.Interval
	if loadErr != nil {
		s.logger.Error().Err(loadErr).Msg("Failed to read settings, skipping action")
		s.setStatusLocked("Settings unavailable", SeverityError)
		interval = fallbackInterval
	} else if token := s.selectTokenLocked(cadence); token != "" {
		s.performLocked(token, now)
	}

	if s.checkExpiryLocked(now) {
		return
	}

	s.tickTimer = s.clock.AfterFunc(interval, func() { s.onTick(gen) })
}

func (s *Scheduler) selectTokenLocked(cadence storage.Cadence) string {
	tokens := cadence.Tokens()
	switch len(tokens) {
	case 0:
		return ""
	case 1:
		return tokens[0]
	default:
		token := tokens[s.cursor]
		s.cursor ^= 1
		return token
	}
}

func (s *Scheduler) performLocked(token string, now time.Time) {
	if s.release != nil {
		s.releaseLocked()
	}

	if err := s.performer.Press(token); err != nil {
		metrics.ActionErrors.WithLabelValues("press").Inc()
		s.logger.Error().Err(err).Str("token", token).Msg("Press failed")
		s.setStatusLocked(fmt.Sprintf("Press %s failed", token), SeverityError)
		return
	}

	s.count++
	metrics.ActionsTotal.WithLabelValues(token).Inc()

	r := &pendingRelease{token: token}
	r.timer = s.clock.AfterFunc(s.cfg.SettleDelay, func() { s.onRelease(r) })
	s.release = r

	s.setStatusLocked(fmt.Sprintf("%s Pressed: %s", now.Format("15:04:05"), token), SeverityOK)
	s.emitLocked(Event{
		Type:    EventAction,
		At:      now,
		Token:   token,
		Count:   s.count,
		Elapsed: s.accountant.Elapsed(now),
	})
}

func (s *Scheduler) onRelease(r *pendingRelease) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.release != r {
		return
	}
	s.releaseLocked()
}

// releaseLocked issues the pending release exactly once.
func (s *Scheduler) releaseLocked() {
	r := s.release
	s.release = nil
	r.timer.Stop()

	if err := s.performer.Release(r.token); err != nil {
		metrics.ActionErrors.WithLabelValues("release").Inc()
		s.logger.Error().Err(err).Str("token", r.token).Msg("Release failed")
	}
}

func (s *Scheduler) scheduleRefreshLocked(gen uint64) {
	s.refreshTimer = s.clock.AfterFunc(s.cfg.RefreshInterval, func() { s.onRefresh(gen) })
}

func (s *Scheduler) onRefresh(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.gen != gen {
		return
	}

	now := s.clock.Now()
	remaining, _ := s.autostop.Remaining(now)
	s.emitLocked(Event{
		Type:          EventProgress,
		At:            now,
		Count:         s.count,
		Elapsed:       s.accountant.Elapsed(now),
		Remaining:     remaining,
		AutoStopArmed: s.autostop.IsArmed(),
	})

	if s.checkExpiryLocked(now) {
		return
	}
	s.scheduleRefreshLocked(gen)
}

// checkExpiryLocked stops the run when the auto-stop target has passed and
// reports whether it did.
func (s *Scheduler) checkExpiryLocked(now time.Time) bool {
	remaining, expired := s.autostop.Remaining(now)
	if s.autostop.IsArmed() {
		metrics.AutoStopRemaining.Set(remaining.Seconds())
	}
	if !expired {
		return false
	}

	s.stopLocked(ReasonAutoStop)
	s.setStatusLocked("Timed run finished", SeverityWarn)
	s.emitLocked(Event{
		Type:     EventNotice,
		At:       now,
		Message:  "Auto-stop reached: the configured run time has elapsed.",
		Severity: SeverityWarn,
	})
	return true
}

func (s *Scheduler) stopLocked(reason string) {
	now := s.clock.Now()

	s.running = false
	s.gen++

	if s.tickTimer != nil {
		s.tickTimer.Stop()
		s.tickTimer = nil
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	if s.release != nil {
		s.releaseLocked()
	}

	session, err := s.accountant.EndSession(now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("No accountant session to end")
	}
	s.autostop.Disarm()

	metrics.Running.Set(0)
	metrics.AutoStopRemaining.Set(0)
	metrics.StopsTotal.WithLabelValues(reason).Inc()

	s.logger.Info().
		Str("reason", reason).
		Dur("session", session).
		Int64("actions", s.count).
		Msg("Scheduler stopped")

	s.emitLocked(Event{
		Type:    EventStopped,
		At:      now,
		Reason:  reason,
		Count:   s.count,
		Elapsed: s.accountant.Elapsed(now),
	})
}

func (s *Scheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.gen == gen
}

func (s *Scheduler) setStatusLocked(line string, severity Severity) {
	s.statusLine = line
	s.severity = severity
	s.emitLocked(Event{
		Type:     EventStatus,
		At:       s.clock.Now(),
		Message:  line,
		Severity: severity,
	})
}

func (s *Scheduler) emitLocked(event Event) {
	for _, ch := range s.events {
		select {
		case ch <- event:
		default:
		}
	}
}
