// Package api exposes the synchronization controller over HTTP. It is the
// binding layer the UI and the tray talk to.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"gitlab.bluewillows.net/root/dnsswitch/internal/notify"
	"gitlab.bluewillows.net/root/dnsswitch/internal/reconciler"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/catalog"
)

// Prefix is where the API is mounted.
const Prefix = "/api/v1"

// Controller is the subset of the reconciler the API drives.
type Controller interface {
	State() *backend.State
	Active() catalog.Identity
	Phase() reconciler.Phase
	Admin() bool
	PendingVerifications() []reconciler.Verification
	History() []reconciler.Result

	Refresh(ctx context.Context) (backend.State, error)
	ApplyProfile(ctx context.Context, p catalog.Profile) backend.Outcome
	ResetToAutomatic(ctx context.Context) backend.Outcome
	ApplyCustom(ctx context.Context, primary, secondary string) (backend.Outcome, error)
}

// Notifications exposes the current user-facing notification.
type Notifications interface {
	Current() (notify.Notification, bool)
	Dismiss()
}

// Publisher forwards events from external producers to the event bridge.
type Publisher interface {
	PublishExternal(outcome backend.Outcome) bool
	PublishFocus(focused bool) bool
}

// NetworkTrigger resynchronizes with the host right away, skipping the
// network change debounce.
type NetworkTrigger interface {
	TriggerNow()
}

// Handler serves the API endpoints.
type Handler struct {
	controller       Controller
	notifications    Notifications
	publisher        Publisher
	network          NetworkTrigger
	states           StateFeed
	notificationFeed NotificationFeed
	adminHint        string
	logger           *slog.Logger
	validate         *validator.Validate

	done      chan struct{}
	closeOnce sync.Once
}

// Option is a functional option for configuring the Handler.
type Option func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithAdminHint sets the text shown when the process lacks administrator rights.
func WithAdminHint(hint string) Option {
	return func(h *Handler) {
		h.adminHint = hint
	}
}

// WithNetworkTrigger enables POST /events/network.
func WithNetworkTrigger(t NetworkTrigger) Option {
	return func(h *Handler) {
		h.network = t
	}
}

// NewHandler creates an API handler.
func NewHandler(controller Controller, notifications Notifications, publisher Publisher, opts ...Option) *Handler {
	h := &Handler{
		controller:    controller,
		notifications: notifications,
		publisher:     publisher,
		logger:        slog.Default(),
		validate:      newValidator(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewRouter creates the HTTP router with all API endpoints under Prefix.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery(h.logger))
	r.Use(Logger(h.logger))
	r.Use(JSONContentType)

	r.Route(Prefix, func(r chi.Router) {
		// State
		r.Get("/state", h.GetState)
		r.Post("/refresh", h.Refresh)

		// Profiles
		r.Get("/profiles", h.GetProfiles)
		r.Post("/profiles/{id}/apply", h.ApplyProfile)

		// Mutations
		r.Post("/reset", h.Reset)
		r.Post("/custom", h.ApplyCustom)

		// Notifications
		r.Get("/notification", h.GetNotification)
		r.Post("/notification/dismiss", h.DismissNotification)

		// Push channel for the UI
		r.Get("/stream", h.Stream)

		// Events from the tray, the window manager and network hooks
		r.Post("/events/external", h.PostExternalEvent)
		r.Post("/events/focus", h.PostFocusEvent)
		r.Post("/events/network", h.PostNetworkEvent)
	})

	return r
}
