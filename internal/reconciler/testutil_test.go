package reconciler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/internal/notify"
	"gitlab.bluewillows.net/root/dnsswitch/internal/state"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// =============================================================================
// Fake backend
// =============================================================================

// fakeBackend simulates an OS resolver configuration. Set and Reset update
// the state returned by Query unless an error is configured.
type fakeBackend struct {
	mu sync.Mutex

	current         backend.State
	queryErr        error
	setErr          error
	resetErr        error
	rejectSecondary bool

	// beforeMutate runs at the start of Set and Reset, outside the lock.
	beforeMutate func()

	calls       []string
	queries     int
	setArgs     [][2]string
	inFlight    int
	maxInFlight int
}

func newFakeBackend(initial backend.State) *fakeBackend {
	return &fakeBackend{current: initial}
}

func (f *fakeBackend) Name() string                   { return "fake" }
func (f *fakeBackend) Type() string                   { return "fake" }
func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

func (f *fakeBackend) Query(ctx context.Context) (backend.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	f.calls = append(f.calls, "query")
	if f.queryErr != nil {
		return backend.State{}, f.queryErr
	}
	st := f.current
	st.Servers = append([]string(nil), f.current.Servers...)
	return st, nil
}

func (f *fakeBackend) Set(ctx context.Context, primary, secondary string) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "set")
	f.setArgs = append(f.setArgs, [2]string{primary, secondary})
	if f.setErr != nil {
		return f.setErr
	}
	servers := []string{primary}
	if secondary != "" && !f.rejectSecondary {
		servers = append(servers, secondary)
	}
	f.current = backend.State{InterfaceName: f.current.InterfaceName, Servers: servers}
	return nil
}

func (f *fakeBackend) Reset(ctx context.Context) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "reset")
	if f.resetErr != nil {
		return f.resetErr
	}
	f.current = backend.State{InterfaceName: f.current.InterfaceName, Automatic: true}
	return nil
}

func (f *fakeBackend) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	hook := f.beforeMutate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeBackend) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeBackend) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *fakeBackend) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == "set" || c == "reset" {
			n++
		}
	}
	return n
}

// =============================================================================
// Fake notifier, gate and scheduler
// =============================================================================

type shown struct {
	message string
	tone    notify.Tone
}

type fakeNotifier struct {
	mu    sync.Mutex
	shown []shown
}

func (n *fakeNotifier) Show(message string, tone notify.Tone) notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, shown{message, tone})
	return notify.Notification{ID: uint64(len(n.shown)), Message: message, Tone: tone}
}

func (n *fakeNotifier) all() []shown {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]shown(nil), n.shown...)
}

type fakeGate struct {
	admin bool
}

func (g fakeGate) Check() bool { return g.admin }

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualScheduler records callbacks; tests fire them explicitly.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *manualScheduler) get(i int) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fireAll runs every timer that has not been stopped.
func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	timers := append([]*manualTimer(nil), s.timers...)
	s.mu.Unlock()
	for _, t := range timers {
		if !t.stopped {
			t.stopped = true
			t.fn()
		}
	}
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	backend   *fakeBackend
	store     *state.Store
	notifier  *fakeNotifier
	scheduler *manualScheduler
	rec       *Reconciler
}

func newHarness(initial backend.State, admin bool, opts ...Option) *harness {
	h := &harness{
		backend:   newFakeBackend(initial),
		store:     state.NewStore(),
		notifier:  &fakeNotifier{},
		scheduler: &manualScheduler{},
	}
	opts = append([]Option{WithLogger(testLogger()), WithScheduler(h.scheduler)}, opts...)
	h.rec = New(h.backend, h.store, h.notifier, fakeGate{admin: admin}, opts...)
	return h
}

// initialized returns a harness whose store already holds the initial state.
func initialized(initial backend.State, admin bool, opts ...Option) *harness {
	h := newHarness(initial, admin, opts...)
	if err := h.rec.Init(context.Background()); err != nil {
		panic(err)
	}
	return h
}
