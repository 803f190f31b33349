// Package reconciler keeps the believed resolver configuration of the active
// interface consistent with what the operating system actually uses.
//
// Mutations are applied optimistically: the target state is written to the
// store and announced before the backend call returns. A single delayed
// re-query after a settle interval then replaces the belief with ground truth.
// Failures are reported and corrected by an immediate re-query.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/internal/metrics"
	"gitlab.bluewillows.net/root/dnsswitch/internal/notify"
	"gitlab.bluewillows.net/root/dnsswitch/internal/state"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/catalog"
)

// Refresh triggers, used as metric labels.
const (
	triggerInit       = "init"
	triggerManual     = "manual"
	triggerVerify     = "verify"
	triggerCorrective = "corrective"
	triggerFocus      = "focus"
	triggerNetwork    = "network"
)

// Config holds reconciler configuration options.
type Config struct {
	// SettleDelay is the wait between a successful local mutation and its
	// verification re-query.
	SettleDelay time.Duration

	// ExternalSettleDelay is the wait between an externally reported change
	// and its verification re-query. Kept separate from SettleDelay.
	ExternalSettleDelay time.Duration

	// Debounce collapses overlapping pending verifications into the most
	// recent one.
	Debounce bool

	// HistorySize bounds the number of recent results kept for inspection.
	HistorySize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SettleDelay:         1000 * time.Millisecond,
		ExternalSettleDelay: 800 * time.Millisecond,
		Debounce:            false,
		HistorySize:         20,
	}
}

// PrivilegeChecker reports the session's administrator capability.
type PrivilegeChecker interface {
	Check() bool
}

// Notifier displays user-facing status messages.
type Notifier interface {
	Show(message string, tone notify.Tone) notify.Notification
}

// Reconciler is the synchronization controller.
type Reconciler struct {
	backend   backend.Backend
	store     *state.Store
	notifier  Notifier
	privilege PrivilegeChecker
	scheduler Scheduler
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	// mutateMu admits one backend mutation at a time.
	mutateMu sync.Mutex

	// mu protects the fields below.
	mu         sync.Mutex
	baseCtx    context.Context
	cancelBase context.CancelFunc
	admin      bool
	applying   int
	failing    int
	pending    map[TaskID]*Verification
	nextTask   TaskID
	history    []Result
}

// Option is a functional option for configuring the Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger for the reconciler.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithConfig sets the reconciler configuration.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		r.config = cfg
	}
}

// WithScheduler replaces the timer source for verifications.
func WithScheduler(s Scheduler) Option {
	return func(r *Reconciler) {
		r.scheduler = s
	}
}

// New creates a new Reconciler.
//
// The reconciler requires:
//   - b: the backend that reads and rewrites resolver settings
//   - store: the state cell it owns exclusively
//   - notifier: where outcome messages are shown
//   - privilege: the session's administrator capability
func New(
	b backend.Backend,
	store *state.Store,
	notifier Notifier,
	privilege PrivilegeChecker,
	opts ...Option,
) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		backend:    b,
		store:      store,
		notifier:   notifier,
		privilege:  privilege,
		scheduler:  timeScheduler{},
		config:     DefaultConfig(),
		logger:     slog.Default(),
		now:        time.Now,
		baseCtx:    ctx,
		cancelBase: cancel,
		pending:    make(map[TaskID]*Verification),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Init samples the administrator capability and performs the first
// authoritative query. ctx bounds the lifetime of scheduled verifications.
func (r *Reconciler) Init(ctx context.Context) error {
	base, cancel := context.WithCancel(ctx)

	admin := r.privilege.Check()
	metrics.AdminCapability.Set(metrics.BoolToFloat(admin))

	r.mu.Lock()
	r.cancelBase()
	r.baseCtx = base
	r.cancelBase = cancel
	r.admin = admin
	r.mu.Unlock()

	r.logger.Info("controller initialized",
		slog.String("backend", r.backend.Name()),
		slog.String("backend_type", r.backend.Type()),
		slog.Bool("admin", admin),
		slog.Duration("settle_delay", r.config.SettleDelay),
		slog.Duration("external_settle_delay", r.config.ExternalSettleDelay),
	)

	_, err := r.refresh(ctx, triggerInit)
	return err
}

// Close cancels pending verifications.
func (r *Reconciler) Close() {
	r.cancelPending()
	r.mu.Lock()
	r.cancelBase()
	r.mu.Unlock()
}

// Admin returns the administrator capability sampled at Init.
func (r *Reconciler) Admin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admin
}

// State returns the believed resolver configuration, or nil before the
// first query.
func (r *Reconciler) State() *backend.State {
	return r.store.Snapshot()
}

// Active derives the active provider identity from the current state.
func (r *Reconciler) Active() catalog.Identity {
	return catalog.Identify(r.store.Snapshot())
}

// Phase reports where the controller is in its operation lifecycle.
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.applying > 0:
		return PhaseApplying
	case r.failing > 0:
		return PhaseFailed
	case len(r.pending) > 0:
		return PhaseVerifying
	default:
		return PhaseIdle
	}
}

// History returns recent mutation results, newest last.
func (r *Reconciler) History() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.history))
	copy(out, r.history)
	return out
}

// Refresh replaces the stored state with an authoritative query. It may run
// while a mutation is settling; whichever query completes last wins.
func (r *Reconciler) Refresh(ctx context.Context) (backend.State, error) {
	return r.refresh(ctx, triggerManual)
}

// OnFocusRegained silently resynchronizes after the window was hidden.
func (r *Reconciler) OnFocusRegained(ctx context.Context) {
	_, _ = r.refresh(ctx, triggerFocus)
}

// OnNetworkChange resynchronizes after the host reported an address or
// resolver file change.
func (r *Reconciler) OnNetworkChange(ctx context.Context) {
	_, _ = r.refresh(ctx, triggerNetwork)
}

// OnExternalChange reports a change made outside this controller, such as a
// tray action, and schedules a verification re-query.
func (r *Reconciler) OnExternalChange(_ context.Context, outcome backend.Outcome) TaskID {
	message := outcome.Message
	if message == "" {
		message = msgExternalFallback
	}
	r.notifier.Show(message, notify.ToneFor(outcome.Success))

	r.logger.Info("external DNS change reported",
		slog.Bool("success", outcome.Success),
		slog.String("message", outcome.Message),
	)

	return r.scheduleVerification(OriginExternal, r.config.ExternalSettleDelay, nil)
}

// refresh queries the backend and stores the result. A missing interface is
// recorded as an automatic configuration on an unknown interface. Other
// query errors leave the store unchanged.
func (r *Reconciler) refresh(ctx context.Context, trigger string) (backend.State, error) {
	st, err := r.backend.Query(ctx)
	if err != nil {
		if !backend.IsNoInterface(err) {
			metrics.RefreshesTotal.WithLabelValues(trigger, "error").Inc()
			r.logger.Warn("failed to query DNS state",
				slog.String("trigger", trigger),
				slog.String("error", err.Error()),
			)
			return backend.State{}, err
		}
		r.logger.Debug("no active interface", slog.String("trigger", trigger))
		st = backend.State{InterfaceName: unknownInterfaceName, Automatic: true}
	}

	st = st.Normalize()
	r.setState(st)
	metrics.RefreshesTotal.WithLabelValues(trigger, "success").Inc()
	r.logger.Debug("DNS state refreshed",
		slog.String("trigger", trigger),
		slog.String("interface", st.InterfaceName),
		slog.Any("servers", st.Servers),
		slog.Bool("automatic", st.Automatic),
	)
	return st, nil
}

func (r *Reconciler) setState(st backend.State) {
	r.store.Set(st)
	metrics.AutomaticMode.Set(metrics.BoolToFloat(st.Automatic))
	metrics.SetActiveProfile(string(catalog.Identify(&st)))
}

func (r *Reconciler) recordResult(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, res)
	if limit := r.config.HistorySize; limit > 0 && len(r.history) > limit {
		r.history = append([]Result(nil), r.history[len(r.history)-limit:]...)
	}
}
