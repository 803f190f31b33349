// Package notify implements the one-shot, auto-dismissing status message
// shown to the user after an operation.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/internal/metrics"
)

// Tone selects how a notification is presented.
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneError   Tone = "error"
	ToneInfo    Tone = "info"
)

// ToneFor maps an outcome flag to a tone.
func ToneFor(success bool) Tone {
	if success {
		return ToneSuccess
	}
	return ToneError
}

// Phase is the display phase of the current notification.
type Phase string

const (
	PhaseVisible    Phase = "visible"
	PhaseDismissing Phase = "dismissing"
)

// Notification is the message currently on screen.
type Notification struct {
	ID      uint64    `json:"id"`
	Message string    `json:"message"`
	Tone    Tone      `json:"tone"`
	Phase   Phase     `json:"phase"`
	ShownAt time.Time `json:"shown_at"`
}

// Timer is the subset of *time.Timer the channel needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config holds display timings.
type Config struct {
	// Duration is how long a notification stays fully visible.
	Duration time.Duration

	// ExitDuration is the length of the dismissal transition.
	ExitDuration time.Duration
}

// DefaultConfig returns the default display timings.
func DefaultConfig() Config {
	return Config{
		Duration:     3 * time.Second,
		ExitDuration: 300 * time.Millisecond,
	}
}

// Channel holds at most one notification at a time.
type Channel struct {
	config    Config
	logger    *slog.Logger
	afterFunc AfterFunc
	now       func() time.Time

	mu      sync.Mutex
	current *Notification
	timer   Timer
	seq     uint64

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Notification, bool)
}

// Option configures a Channel.
type Option func(*Channel)

// WithConfig sets the display timings.
func WithConfig(cfg Config) Option {
	return func(c *Channel) {
		c.config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithAfterFunc replaces the timer source. Used by tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(c *Channel) {
		c.afterFunc = fn
	}
}

// New creates a notification channel.
func New(opts ...Option) *Channel {
	c := &Channel{
		config:    DefaultConfig(),
		logger:    slog.Default(),
		afterFunc: stdAfterFunc,
		now:       time.Now,
		subs:      make(map[int]func(Notification, bool)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Show replaces whatever is displayed with a new notification. Pending
// dismissal of the previous one is cancelled.
func (c *Channel) Show(message string, tone Tone) Notification {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.seq++
	n := Notification{
		ID:      c.seq,
		Message: message,
		Tone:    tone,
		Phase:   PhaseVisible,
		ShownAt: c.now(),
	}
	c.current = &n
	id := n.ID
	c.timer = c.afterFunc(c.config.Duration, func() { c.beginDismiss(id) })
	c.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(tone)).Inc()
	c.logger.Debug("notification shown",
		slog.Uint64("id", id),
		slog.String("tone", string(tone)),
		slog.String("message", message),
	)
	c.publish(n, true)
	return n
}

// Current returns the displayed notification, if any.
func (c *Channel) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

// Dismiss starts the exit transition of the current notification early.
func (c *Channel) Dismiss() {
	c.mu.Lock()
	if c.current == nil || c.current.Phase != PhaseVisible {
		c.mu.Unlock()
		return
	}
	id := c.current.ID
	c.mu.Unlock()
	c.beginDismiss(id)
}

// Subscribe registers fn to be called on every display change. The bool is
// false when the notification has been cleared.
func (c *Channel) Subscribe(fn func(Notification, bool)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Channel) beginDismiss(id uint64) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != id || c.current.Phase != PhaseVisible {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.current.Phase = PhaseDismissing
	n := *c.current
	c.timer = c.afterFunc(c.config.ExitDuration, func() { c.clear(id) })
	c.mu.Unlock()

	c.publish(n, true)
}

func (c *Channel) clear(id uint64) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != id {
		c.mu.Unlock()
		return
	}
	n := *c.current
	c.current = nil
	c.timer = nil
	c.mu.Unlock()

	c.publish(n, false)
}

func (c *Channel) publish(n Notification, visible bool) {
	c.subMu.Lock()
	fns := make([]func(Notification, bool), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(n, visible)
	}
}
