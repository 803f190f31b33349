package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/internal/notify"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

const (
	// streamBuffer bounds notification events queued for a slow client.
	streamBuffer = 16

	// streamPingInterval keeps idle connections open through proxies.
	streamPingInterval = 15 * time.Second
)

// Stream event names.
const (
	EventState        = "state"
	EventNotification = "notification"
)

// StateFeed reports writes to the believed DNS state.
type StateFeed interface {
	Subscribe(fn func(backend.State)) func()
}

// NotificationFeed reports notification display changes.
type NotificationFeed interface {
	Subscribe(fn func(notify.Notification, bool)) func()
}

// WithStreams enables GET /stream.
func WithStreams(states StateFeed, notifications NotificationFeed) Option {
	return func(h *Handler) {
		h.states = states
		h.notificationFeed = notifications
	}
}

// Close ends all open event streams. Call it before shutting the server
// down, since streams never go idle on their own.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Stream pushes state and notification changes as server-sent events. The
// first event is always the current state.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.states == nil || h.notificationFeed == nil {
		WriteNotFound(w, "event stream")
		return
	}

	// Store callbacks run inside controller operations, so they only signal.
	// The state itself is read from this goroutine.
	stateChanged := make(chan struct{}, 1)
	notes := make(chan NotificationEvent, streamBuffer)

	unsubState := h.states.Subscribe(func(backend.State) {
		select {
		case stateChanged <- struct{}{}:
		default:
		}
	})
	defer unsubState()

	unsubNotes := h.notificationFeed.Subscribe(func(n notify.Notification, visible bool) {
		select {
		case notes <- NotificationEvent{Notification: n, Visible: visible}:
		default:
			h.logger.Warn("event stream client too slow, notification dropped",
				slog.Uint64("id", n.ID),
			)
		}
	})
	defer unsubNotes()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func(event string, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			h.logger.Error("encoding stream event", slog.String("event", event), slog.String("error", err.Error()))
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send(EventState, h.stateResponse()) {
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-stateChanged:
			if !send(EventState, h.stateResponse()) {
				return
			}
		case n := <-notes:
			if !send(EventNotification, n) {
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if rc.Flush() != nil {
				return
			}
		}
	}
}
