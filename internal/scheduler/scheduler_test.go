package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/autokey/internal/action"
	"github.com/goodtune/autokey/internal/auth"
	"github.com/goodtune/autokey/internal/clock"
	"github.com/goodtune/autokey/internal/storage"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type stubGate struct {
	mu        sync.Mutex
	verdict   auth.Verdict
	refreshes int
}

func (g *stubGate) Current() auth.Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verdict
}

func (g *stubGate) Refresh(context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshes++
}

func (g *stubGate) Refreshes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshes
}

type flakyStore struct {
	storage.SettingsStore
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) SetFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return "", errors.New("store unavailable")
	}
	return f.SettingsStore.Get(ctx, key)
}

type harness struct {
	sched *Scheduler
	clock *clock.Fake
	store *storage.MemoryStore
	gate  *stubGate
	rec   *action.Recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		clock: clock.NewFake(epoch),
		store: storage.NewMemoryStore(),
		gate:  &stubGate{verdict: auth.Verdict{Status: auth.Verified}},
		rec:   &action.Recorder{},
	}
	h.sched = New(cfg, h.store, h.gate, h.rec, h.clock, zerolog.Nop())
	return h
}

func (h *harness) set(t *testing.T, key, value string) {
	t.Helper()
	if err := h.store.Set(context.Background(), key, value); err != nil {
		t.Fatalf("Set(%s) failed: %v", key, err)
	}
}

func (h *harness) start(t *testing.T, opts Options) {
	t.Helper()
	if err := h.sched.Start(context.Background(), opts); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

// drain collects buffered events, stopping at an empty or closed channel.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func assertPresses(t *testing.T, rec *action.Recorder, want ...string) {
	t.Helper()
	got := rec.Presses()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("presses = %v, want %v", got, want)
	}
}

func TestScheduler_AlternatesAtTwoSecondCadence(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t, Options{})

	// First tick is immediate
	assertPresses(t, h.rec, "R")

	h.clock.Advance(1999 * time.Millisecond)
	assertPresses(t, h.rec, "R")

	h.clock.Advance(time.Millisecond)
	assertPresses(t, h.rec, "R", "E")

	h.clock.Advance(4 * time.Second)
	assertPresses(t, h.rec, "R", "E", "R", "E")

	if snap := h.sched.Snapshot(); snap.ActionCount != 4 || !snap.Running {
		t.Errorf("snapshot = %+v, want 4 actions while running", snap)
	}
}

func TestScheduler_ReleaseFollowsSettleDelay(t *testing.T) {
	h := newHarness(t, Config{SettleDelay: 50 * time.Millisecond})
	h.start(t, Options{})

	if held := h.rec.Held(); len(held) != 1 || held[0] != "R" {
		t.Fatalf("held after press = %v, want [R]", held)
	}

	h.clock.Advance(49 * time.Millisecond)
	if len(h.rec.Held()) != 1 {
		t.Fatal("released before settle delay")
	}

	h.clock.Advance(time.Millisecond)
	if held := h.rec.Held(); len(held) != 0 {
		t.Fatalf("held after settle delay = %v", held)
	}
}

func TestScheduler_SingleToken(t *testing.T) {
	tests := []struct {
		name      string
		primary   string
		secondary string
		want      string
	}{
		{"primary only", "R", "", "R"},
		{"secondary only", "", "E", "E"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.set(t, storage.KeyActionPrimary, tt.primary)
			h.set(t, storage.KeyActionSecondary, tt.secondary)

			h.start(t, Options{})
			h.clock.Advance(4 * time.Second)

			assertPresses(t, h.rec, tt.want, tt.want, tt.want)
		})
	}
}

func TestScheduler_TokensClearedMidRun(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t, Options{})
	assertPresses(t, h.rec, "R")

	h.set(t, storage.KeyActionPrimary, "")
	h.set(t, storage.KeyActionSecondary, "")

	h.clock.Advance(6 * time.Second)
	assertPresses(t, h.rec, "R")
	if !h.sched.Running() {
		t.Fatal("scheduler stopped after tokens were cleared")
	}

	h.set(t, storage.KeyActionPrimary, "Q")
	h.clock.Advance(2 * time.Second)
	assertPresses(t, h.rec, "R", "Q")
}

func TestScheduler_SettingsEditTakesEffectNextTick(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t, Options{})

	h.set(t, storage.KeyIntervalSeconds, "5")
	h.set(t, storage.KeyActionSecondary, "X")

	// Already-scheduled tick keeps its 2s spacing
	h.clock.Advance(2 * time.Second)
	assertPresses(t, h.rec, "R", "X")

	h.clock.Advance(4999 * time.Millisecond)
	assertPresses(t, h.rec, "R", "X")

	h.clock.Advance(time.Millisecond)
	assertPresses(t, h.rec, "R", "X", "R")
}

func TestScheduler_IntervalSpacing(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"0", 500 * time.Millisecond},
		{"-3", 500 * time.Millisecond},
		{"abc", 500 * time.Millisecond},
		{"0.1", 500 * time.Millisecond},
		{"3", 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.set(t, storage.KeyIntervalSeconds, tt.raw)
			h.start(t, Options{})

			h.clock.Advance(tt.want - time.Millisecond)
			if n := len(h.rec.Presses()); n != 1 {
				t.Fatalf("presses before %v = %d, want 1", tt.want, n)
			}
			h.clock.Advance(time.Millisecond)
			if n := len(h.rec.Presses()); n != 2 {
				t.Fatalf("presses at %v = %d, want 2", tt.want, n)
			}
		})
	}
}

func TestScheduler_StartWithoutTokens(t *testing.T) {
	h := newHarness(t, Config{})
	h.set(t, storage.KeyActionPrimary, "")
	h.set(t, storage.KeyActionSecondary, " ")

	err := h.sched.Start(context.Background(), Options{})
	if !errors.Is(err, ErrNoActionConfigured) {
		t.Fatalf("Start err = %v, want ErrNoActionConfigured", err)
	}
	if h.sched.Running() {
		t.Error("scheduler running without tokens")
	}
	if h.clock.Pending() != 0 {
		t.Errorf("pending callbacks = %d, want 0", h.clock.Pending())
	}
}

func TestScheduler_StartRequiresAuthorization(t *testing.T) {
	past := epoch.Add(-time.Hour)

	tests := []struct {
		name    string
		verdict auth.Verdict
		want    auth.Status
	}{
		{"pending", auth.Verdict{Status: auth.Pending}, auth.Pending},
		{"disabled", auth.Verdict{Status: auth.Disabled, Notice: "maintenance"}, auth.Disabled},
		{"expired", auth.Verdict{Status: auth.Expired}, auth.Expired},
		{"network error", auth.Verdict{Status: auth.NetworkError}, auth.NetworkError},
		{"timeout", auth.Verdict{Status: auth.Timeout}, auth.Timeout},
		{"verified but deadline passed", auth.Verdict{Status: auth.Verified, Deadline: &past}, auth.Expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.gate.verdict = tt.verdict

			err := h.sched.Start(context.Background(), Options{})

			var authErr *AuthorizationError
			if !errors.As(err, &authErr) {
				t.Fatalf("Start err = %v, want AuthorizationError", err)
			}
			if authErr.Status != tt.want {
				t.Errorf("Status = %v, want %v", authErr.Status, tt.want)
			}
			if h.sched.Running() {
				t.Error("scheduler running without authorization")
			}
			if h.gate.Refreshes() != 1 {
				t.Errorf("refreshes = %d, want 1", h.gate.Refreshes())
			}
			assertPresses(t, h.rec)
		})
	}
}

func TestScheduler_StartWhileRunningIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t, Options{})
	h.clock.Advance(time.Second)
	h.start(t, Options{AutoStop: time.Minute})

	assertPresses(t, h.rec, "R")
	if snap := h.sched.Snapshot(); snap.AutoStopArmed {
		t.Error("second Start must not arm auto-stop")
	}
	if h.sched.accountant.Sessions() != 0 {
		t.Error("second Start must not touch the session")
	}
}

func TestScheduler_NoTickAfterStop(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t, Options{})
	h.clock.Advance(time.Second)

	h.sched.Stop()
	h.sched.Stop()

	if h.clock.Pending() != 0 {
		t.Fatalf("pending callbacks after Stop = %d, want 0", h.clock.Pending())
	}

	h.clock.Advance(10 * time.Second)
	assertPresses(t, h.rec, "R")
	if h.sched.Running() {
		t.Error("still running after Stop")
	}
}

func TestScheduler_StopFlushesPendingRelease(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t, Options{})
	h.sched.Stop()

	want := []action.Event{{Phase: "press", Token: "R"}, {Phase: "release", Token: "R"}}
	if got := h.rec.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	h.clock.Advance(time.Second)
	if got := h.rec.Events(); len(got) != 2 {
		t.Errorf("release issued twice: %v", got)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	h := newHarness(t, Config{})
	h.sched.Stop()

	if snap := h.sched.Snapshot(); snap.Running || snap.Elapsed != 0 {
		t.Errorf("snapshot = %+v, want stopped with no elapsed time", snap)
	}
}

func TestScheduler_AutoStopWindow(t *testing.T) {
	h := newHarness(t, Config{})
	events := h.sched.Subscribe(128)

	h.start(t, Options{AutoStop: 5 * time.Second})
	if snap := h.sched.Snapshot(); !snap.AutoStopArmed || snap.AutoStopRemaining != 5*time.Second {
		t.Fatalf("snapshot = %+v, want armed with 5s remaining", snap)
	}

	h.clock.Advance(4999 * time.Millisecond)
	if !h.sched.Running() {
		t.Fatal("stopped before auto-stop target")
	}

	h.clock.Advance(time.Millisecond)
	if h.sched.Running() {
		t.Fatal("still running at auto-stop target")
	}
	assertPresses(t, h.rec, "R", "E", "R")

	snap := h.sched.Snapshot()
	if snap.AutoStopArmed {
		t.Error("auto-stop still armed after stop")
	}
	if snap.Elapsed != 5*time.Second {
		t.Errorf("Elapsed = %v, want 5s", snap.Elapsed)
	}

	var notices, stops int
	for _, e := range drain(events) {
		switch e.Type {
		case EventNotice:
			notices++
		case EventStopped:
			stops++
			if e.Reason != ReasonAutoStop {
				t.Errorf("stop reason = %q, want %q", e.Reason, ReasonAutoStop)
			}
		}
	}
	if notices != 1 || stops != 1 {
		t.Errorf("notices = %d, stops = %d, want exactly one of each", notices, stops)
	}

	if h.clock.Pending() != 0 {
		t.Errorf("pending callbacks after auto-stop = %d", h.clock.Pending())
	}
}

func TestScheduler_AutoStopObservedByTick(t *testing.T) {
	h := newHarness(t, Config{RefreshInterval: time.Hour})
	h.start(t, Options{AutoStop: 5 * time.Second})

	h.clock.Advance(5 * time.Second)
	if !h.sched.Running() {
		t.Fatal("stopped before a tick observed the target")
	}

	h.clock.Advance(time.Second)
	if h.sched.Running() {
		t.Fatal("still running after first tick past target")
	}

	h.clock.Advance(10 * time.Second)
	assertPresses(t, h.rec, "R", "E", "R", "E")
}

func TestScheduler_AutoStopNotRestored(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t, Options{AutoStop: time.Minute})
	h.sched.Stop()

	h.start(t, Options{})
	if h.sched.Snapshot().AutoStopArmed {
		t.Error("auto-stop target carried into the next session")
	}
}

func TestScheduler_AccumulatesAcrossSessions(t *testing.T) {
	h := newHarness(t, Config{})

	h.start(t, Options{})
	h.clock.Advance(3 * time.Second)
	h.sched.Stop()

	h.clock.Advance(10 * time.Second)

	h.start(t, Options{})
	h.clock.Advance(2 * time.Second)
	if got := h.sched.Snapshot().Elapsed; got != 5*time.Second {
		t.Errorf("Elapsed while running = %v, want 5s", got)
	}
	h.sched.Stop()

	h.clock.Advance(time.Hour)
	if got := h.sched.Snapshot().Elapsed; got != 5*time.Second {
		t.Errorf("Elapsed after stop = %v, want 5s", got)
	}
}

func TestScheduler_CursorResetsOnStart(t *testing.T) {
	h := newHarness(t, Config{})

	h.start(t, Options{})
	h.sched.Stop()
	h.start(t, Options{})

	assertPresses(t, h.rec, "R", "R")
}

func TestScheduler_Reset(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t, Options{})
	h.clock.Advance(4 * time.Second)

	h.sched.Reset()

	snap := h.sched.Snapshot()
	if snap.Running || snap.ActionCount != 0 || snap.Elapsed != 0 {
		t.Errorf("snapshot after Reset = %+v", snap)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("pending callbacks after Reset = %d", h.clock.Pending())
	}
}

func TestScheduler_SettingsReadFailure(t *testing.T) {
	clk := clock.NewFake(epoch)
	store := &flakyStore{SettingsStore: storage.NewMemoryStore()}
	rec := &action.Recorder{}
	sched := New(Config{}, store, &stubGate{verdict: auth.Verdict{Status: auth.Verified}}, rec, clk, zerolog.Nop())

	if err := sched.Start(context.Background(), Options{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	store.SetFail(true)
	clk.Advance(2 * time.Second)
	assertPresses(t, rec, "R")
	if !sched.Running() {
		t.Fatal("settings failure stopped the scheduler")
	}
	if snap := sched.Snapshot(); snap.Severity != SeverityError {
		t.Errorf("Severity = %q, want error", snap.Severity)
	}

	store.SetFail(false)
	clk.Advance(2 * time.Second)
	assertPresses(t, rec, "R", "E")
}

func TestScheduler_StartFailsWhenSettingsUnreadable(t *testing.T) {
	store := &flakyStore{SettingsStore: storage.NewMemoryStore(), fail: true}
	sched := New(Config{}, store, &stubGate{verdict: auth.Verdict{Status: auth.Verified}}, &action.Recorder{}, clock.NewFake(epoch), zerolog.Nop())

	if err := sched.Start(context.Background(), Options{}); err == nil {
		t.Fatal("Start succeeded with unreadable settings")
	}
	if sched.Running() {
		t.Error("scheduler running after failed Start")
	}
}

func TestScheduler_PressFailureKeepsRunning(t *testing.T) {
	h := newHarness(t, Config{})
	h.rec.Err = errors.New("no display")

	h.start(t, Options{})
	h.clock.Advance(2 * time.Second)

	if !h.sched.Running() {
		t.Fatal("press failure stopped the scheduler")
	}
	if snap := h.sched.Snapshot(); snap.ActionCount != 0 {
		t.Errorf("ActionCount = %d, want 0", snap.ActionCount)
	}
}

func TestScheduler_SnapshotReportsAuthorization(t *testing.T) {
	h := newHarness(t, Config{})
	deadline := epoch.Add(24 * time.Hour)
	h.gate.verdict = auth.Verdict{Status: auth.Verified, Deadline: &deadline, DeadlineText: "2024-01-02"}

	snap := h.sched.Snapshot()
	if snap.Authorization != auth.Verified || snap.Deadline != "2024-01-02" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.Now.Equal(epoch) {
		t.Errorf("Now = %v, want %v", snap.Now, epoch)
	}
}

func TestScheduler_HandleVerdictSurfacesNotice(t *testing.T) {
	h := newHarness(t, Config{})
	events := h.sched.Subscribe(16)

	h.sched.HandleVerdict(auth.Verdict{Status: auth.Disabled, Notice: "maintenance"})

	var notice string
	for _, e := range drain(events) {
		if e.Type == EventNotice {
			notice = e.Message
		}
	}
	if notice != "Maintenance notice: maintenance" {
		t.Errorf("notice = %q", notice)
	}
	if snap := h.sched.Snapshot(); snap.Status != auth.Disabled.StatusLine() || snap.Severity != SeverityError {
		t.Errorf("status = %q (%s)", snap.Status, snap.Severity)
	}
}

func TestScheduler_CloseClosesSubscribers(t *testing.T) {
	h := newHarness(t, Config{})
	events := h.sched.Subscribe(64)
	h.start(t, Options{})

	h.sched.Close()

	got := drain(events)
	if len(got) == 0 || got[len(got)-1].Type != EventStopped {
		t.Fatalf("events = %+v, want trailing stopped event", got)
	}
	if _, ok := <-events; ok {
		t.Error("subscriber channel still open after Close")
	}
	if h.sched.Running() {
		t.Error("still running after Close")
	}
}

func TestScheduler_RealClockLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := storage.NewMemoryStore()
	_ = store.Set(context.Background(), storage.KeyIntervalSeconds, "0.5")
	rec := &action.Recorder{}

	sched := New(Config{
		SettleDelay:     10 * time.Millisecond,
		RefreshInterval: 20 * time.Millisecond,
	}, store, &stubGate{verdict: auth.Verdict{Status: auth.Verified}}, rec, clock.RealClock{}, zerolog.Nop())

	if err := sched.Start(context.Background(), Options{AutoStop: time.Hour}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(700 * time.Millisecond)
	sched.Stop()

	presses := len(rec.Presses())
	if presses < 2 {
		t.Errorf("presses = %d, want at least 2", presses)
	}
	if held := rec.Held(); len(held) != 0 {
		t.Errorf("keys left held: %v", held)
	}

	time.Sleep(600 * time.Millisecond)
	if got := len(rec.Presses()); got != presses {
		t.Errorf("presses after Stop grew from %d to %d", presses, got)
	}
}
