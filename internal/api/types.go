package api

import (
	"gitlab.bluewillows.net/root/dnsswitch/internal/notify"
	"gitlab.bluewillows.net/root/dnsswitch/internal/reconciler"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/catalog"
)

// DataResponse wraps successful responses.
type DataResponse struct {
	Data any `json:"data"`
}

// StateResponse describes the controller as the UI renders it.
type StateResponse struct {
	State   *backend.State            `json:"state"`
	Active  catalog.Identity          `json:"active"`
	Phase   reconciler.Phase          `json:"phase"`
	Admin   bool                      `json:"admin"`
	Hint    string                    `json:"admin_hint,omitempty"`
	Pending []reconciler.Verification `json:"pending_verifications"`
	History []reconciler.Result       `json:"history,omitempty"`
}

// ProfileResponse is a catalog entry with its active flag.
type ProfileResponse struct {
	catalog.Profile
	Active bool `json:"active"`
}

// OperationResponse is returned by mutation endpoints. A failed mutation is
// still a 200: the outcome carries the failure.
type OperationResponse struct {
	Outcome backend.Outcome  `json:"outcome"`
	State   *backend.State   `json:"state"`
	Active  catalog.Identity `json:"active"`
	Phase   reconciler.Phase `json:"phase"`
}

// CustomRequest is the body of POST /custom.
type CustomRequest struct {
	Primary   string `json:"primary" validate:"required"`
	Secondary string `json:"secondary"`
}

// ExternalEventRequest reports a change made outside the controller.
type ExternalEventRequest struct {
	Success *bool  `json:"success" validate:"required"`
	Message string `json:"message" validate:"max=256"`
}

// FocusEventRequest reports a window focus change.
type FocusEventRequest struct {
	Focused *bool `json:"focused" validate:"required"`
}

// NotificationEvent is pushed on the stream when a notification changes.
// Visible is false once it has been cleared.
type NotificationEvent struct {
	Notification notify.Notification `json:"notification"`
	Visible      bool                `json:"visible"`
}
