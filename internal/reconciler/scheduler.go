package reconciler

import (
	"log/slog"
	"sort"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/internal/metrics"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// TaskID identifies a scheduled verification.
type TaskID uint64

// Origin names what scheduled a verification.
type Origin string

const (
	OriginLocal    Origin = "local"
	OriginExternal Origin = "external"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Verification describes a pending delayed re-query.
type Verification struct {
	ID     TaskID    `json:"id"`
	Origin Origin    `json:"origin"`
	Due    time.Time `json:"due"`

	// expected is the optimistic state the re-query is checked against.
	expected *backend.State
	timer    Timer
}

// scheduleVerification registers a re-query to run after delay. With
// debouncing enabled, older pending verifications are cancelled in favour of
// this one, so the final verification always runs.
func (r *Reconciler) scheduleVerification(origin Origin, delay time.Duration, expected *backend.State) TaskID {
	r.mu.Lock()
	r.nextTask++
	id := r.nextTask
	if r.config.Debounce {
		for oldID, v := range r.pending {
			if v.timer != nil {
				v.timer.Stop()
			}
			delete(r.pending, oldID)
			r.logger.Debug("verification superseded",
				slog.Uint64("task", uint64(oldID)),
				slog.Uint64("by", uint64(id)),
			)
		}
	}
	v := &Verification{
		ID:       id,
		Origin:   origin,
		Due:      r.now().Add(delay),
		expected: expected,
	}
	r.pending[id] = v
	metrics.VerificationsPending.Set(float64(len(r.pending)))
	r.mu.Unlock()

	t := r.scheduler.AfterFunc(delay, func() { r.runVerification(id) })

	r.mu.Lock()
	if _, ok := r.pending[id]; ok {
		v.timer = t
	}
	r.mu.Unlock()

	metrics.VerificationsScheduled.WithLabelValues(string(origin)).Inc()
	r.logger.Debug("verification scheduled",
		slog.Uint64("task", uint64(id)),
		slog.String("origin", string(origin)),
		slog.Duration("delay", delay),
	)
	return id
}

// runVerification performs the authoritative re-query for task id.
func (r *Reconciler) runVerification(id TaskID) {
	r.mu.Lock()
	v, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	metrics.VerificationsPending.Set(float64(len(r.pending)))
	ctx := r.baseCtx
	r.mu.Unlock()

	if !ok {
		return
	}
	if ctx.Err() != nil {
		return
	}

	observed, err := r.refresh(ctx, triggerVerify)
	if err != nil {
		return
	}

	if v.expected != nil && !observed.Equal(*v.expected) {
		metrics.DriftTotal.Inc()
		r.logger.Info("verification replaced optimistic state",
			slog.Uint64("task", uint64(id)),
			slog.Any("expected", v.expected.Servers),
			slog.Any("observed", observed.Servers),
			slog.Bool("observed_automatic", observed.Automatic),
		)
	}
}

// PendingVerifications returns scheduled verifications ordered by ID.
func (r *Reconciler) PendingVerifications() []Verification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Verification, 0, len(r.pending))
	for _, v := range r.pending {
		out = append(out, Verification{ID: v.ID, Origin: v.Origin, Due: v.Due})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// cancelPending stops every scheduled verification.
func (r *Reconciler) cancelPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range r.pending {
		if v.timer != nil {
			v.timer.Stop()
		}
		delete(r.pending, id)
	}
	metrics.VerificationsPending.Set(0)
}
