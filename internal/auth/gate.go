// Package auth implements the remote authorization check that must pass
// before the scheduler may run.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/autokey/internal/clock"
	"github.com/goodtune/autokey/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

const maxBodySize = 64 << 10

// Config configures the gate.
type Config struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// Gate performs authorization checks and holds the latest verdict.
type Gate struct {
	url     string
	timeout time.Duration
	client  *http.Client
	clock   clock.Clock
	logger  zerolog.Logger

	group singleflight.Group
	wg    sync.WaitGroup

	mu        sync.RWMutex
	verdict   Verdict
	listeners []func(Verdict)
}

// NewGate creates a gate in the Pending state.
func NewGate(cfg Config, clk clock.Clock, logger zerolog.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Gate{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		client:  client,
		clock:   clk,
		logger:  logger.With().Str("component", "auth").Logger(),
		verdict: Verdict{Status: Pending},
	}
}

// OnVerdict registers fn to be called with every new verdict.
func (g *Gate) OnVerdict(fn func(Verdict)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Check performs one authorization attempt and stores its verdict.
// Concurrent callers share a single request.
func (g *Gate) Check(ctx context.Context) Verdict {
	v, _, _ := g.group.Do("check", func() (interface{}, error) {
		verdict := g.fetch(ctx)
		g.store(verdict)
		return verdict, nil
	})
	return v.(Verdict)
}

// Refresh starts a check in the background and returns immediately.
func (g *Gate) Refresh(ctx context.Context) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.Check(ctx)
	}()
}

// Wait blocks until background checks started by Refresh have finished.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// Current returns the latest verdict.
func (g *Gate) Current() Verdict {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.verdict
}

// Authorized reports whether the latest verdict allows starting at now.
func (g *Gate) Authorized(now time.Time) bool {
	return g.Current().Authorized(now)
}

// Reset discards the latest verdict.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.verdict = Verdict{Status: Pending}
	g.mu.Unlock()
	g.logger.Debug().Msg("Authorization state reset")
}

func (g *Gate) store(v Verdict) {
	g.mu.Lock()
	g.verdict = v
	listeners := make([]func(Verdict), len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()

	metrics.AuthChecksTotal.WithLabelValues(v.Status.String()).Inc()

	event := g.logger.Info()
	if v.Status.Failed() {
		event = g.logger.Warn()
	}
	event.Str("status", v.Status.String()).
		Str("deadline", v.DeadlineText).
		Str("notice", v.Notice).
		Str("detail", v.Detail).
		Msg("Authorization check completed")

	for _, fn := range listeners {
		fn(v)
	}
}

func (g *Gate) fetch(ctx context.Context) Verdict {
	start := g.clock.Now()
	defer func() {
		metrics.AuthCheckDuration.Observe(g.clock.Now().Sub(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	target, err := cacheBusted(g.url, start)
	if err != nil {
		return Verdict{Status: NetworkError, Detail: err.Error(), CheckedAt: start}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Verdict{Status: NetworkError, Detail: err.Error(), CheckedAt: start}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := g.client.Do(req)
	if err != nil {
		return transportFailure(err, start)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Verdict{
			Status:    NetworkError,
			Detail:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
			CheckedAt: start,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return transportFailure(err, start)
	}

	return Evaluate(body, g.clock.Now())
}

type payload struct {
	Enable   json.RawMessage `json:"enable"`
	Deadline string          `json:"deadline"`
	Notice   string          `json:"notice"`
}

// disabled reports whether enable is the literal false. Any other value,
// including a missing field, leaves the tool enabled.
func (p *payload) disabled() bool {
	return bytes.Equal(bytes.TrimSpace(p.Enable), []byte("false"))
}

// Evaluate turns a response body into a verdict as of now. A deadline that
// cannot be parsed is ignored and recorded in Detail.
func Evaluate(body []byte, now time.Time) Verdict {
	var p *payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Verdict{Status: ParseError, Detail: err.Error(), CheckedAt: now}
	}
	if p == nil {
		return Verdict{Status: ParseError, Detail: "empty authorization document", CheckedAt: now}
	}

	v := Verdict{Notice: p.Notice, CheckedAt: now}

	if p.disabled() {
		v.Status = Disabled
		return v
	}

	if text := strings.TrimSpace(p.Deadline); text != "" {
		deadline, err := ParseDeadline(text)
		if err != nil {
			v.Detail = err.Error()
		} else {
			v.Deadline = &deadline
			v.DeadlineText = text
			if !now.Before(deadline) {
				v.Status = Expired
				return v
			}
		}
	}

	v.Status = Verified
	return v
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	"2006/1/2",
	"2006-1-2",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"Jan 2 2006 15:04:05",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"January 2, 2006",
	"Mon Jan 2 2006",
	"2 Jan 2006",
}

// ParseDeadline accepts RFC 3339 timestamps, ISO dates at midnight UTC, and
// the slash, month-name and local date-time forms browsers accept. Everything
// but RFC 3339 and ISO dates is read in local time.
func ParseDeadline(text string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized deadline %q", text)
}

func cacheBusted(raw string, now time.Time) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid authorization url: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func transportFailure(err error, now time.Time) Verdict {
	status := NetworkError
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		status = Timeout
	}
	return Verdict{Status: status, Detail: err.Error(), CheckedAt: now}
}
