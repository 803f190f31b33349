package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/address"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/catalog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 10

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(DataResponse{Data: data})
}

// operationContext detaches an operation from request cancellation.
func operationContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// decode reads a JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteInvalidRequest(w, "invalid JSON body: "+err.Error())
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			WriteFieldError(w, fe.Field(), fieldMessage(fe))
			return false
		}
		WriteInvalidRequest(w, err.Error())
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

func (h *Handler) operationResponse(outcome backend.Outcome) OperationResponse {
	return OperationResponse{
		Outcome: outcome,
		State:   h.controller.State(),
		Active:  h.controller.Active(),
		Phase:   h.controller.Phase(),
	}
}

func (h *Handler) stateResponse() StateResponse {
	resp := StateResponse{
		State:   h.controller.State(),
		Active:  h.controller.Active(),
		Phase:   h.controller.Phase(),
		Admin:   h.controller.Admin(),
		Pending: h.controller.PendingVerifications(),
		History: h.controller.History(),
	}
	if !resp.Admin {
		resp.Hint = h.adminHint
	}
	return resp
}

// GetState returns the believed configuration and controller status.
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stateResponse())
}

// GetProfiles returns the catalog, marking the active entry.
func (h *Handler) GetProfiles(w http.ResponseWriter, _ *http.Request) {
	active := h.controller.Active()
	profiles := catalog.All()
	resp := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, ProfileResponse{Profile: p, Active: string(active) == p.ID})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refresh re-queries the backend and returns the new state.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	st, err := h.controller.Refresh(operationContext(r))
	if err != nil {
		WriteBackendError(w, "failed to query DNS state: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ApplyProfile switches to the catalog entry named by {id}.
func (h *Handler) ApplyProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := catalog.Find(id)
	if !ok {
		WriteNotFound(w, "profile "+id)
		return
	}

	outcome := h.controller.ApplyProfile(operationContext(r), p)
	h.logger.Debug("profile apply requested",
		slog.String("profile", p.ID),
		slog.Bool("success", outcome.Success),
	)
	writeJSON(w, http.StatusOK, h.operationResponse(outcome))
}

// Reset restores automatic resolution.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	outcome := h.controller.ResetToAutomatic(operationContext(r))
	writeJSON(w, http.StatusOK, h.operationResponse(outcome))
}

// ApplyCustom applies user-entered resolvers.
func (h *Handler) ApplyCustom(w http.ResponseWriter, r *http.Request) {
	var req CustomRequest
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.controller.ApplyCustom(operationContext(r), req.Primary, req.Secondary)
	if err != nil {
		var fe *address.FieldError
		if errors.As(err, &fe) {
			WriteFieldError(w, fe.Field, fe.Err.Error())
			return
		}
		WriteInvalidRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.operationResponse(outcome))
}

// GetNotification returns the current notification, or 204 if none.
func (h *Handler) GetNotification(w http.ResponseWriter, _ *http.Request) {
	n, ok := h.notifications.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DismissNotification starts the exit transition of the current notification.
func (h *Handler) DismissNotification(w http.ResponseWriter, _ *http.Request) {
	h.notifications.Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

// PostExternalEvent forwards a change reported by the tray.
func (h *Handler) PostExternalEvent(w http.ResponseWriter, r *http.Request) {
	var req ExternalEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.publisher.PublishExternal(backend.Outcome{Success: *req.Success, Message: req.Message}) {
		WriteOverloaded(w, "event feed full, retry later")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PostFocusEvent forwards a window focus change.
func (h *Handler) PostFocusEvent(w http.ResponseWriter, r *http.Request) {
	var req FocusEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.publisher.PublishFocus(*req.Focused) {
		WriteOverloaded(w, "event feed full, retry later")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PostNetworkEvent resynchronizes after a network hook, e.g. a dispatcher
// script, reported a change the watcher has not seen yet.
func (h *Handler) PostNetworkEvent(w http.ResponseWriter, _ *http.Request) {
	if h.network == nil {
		WriteNotFound(w, "network trigger")
		return
	}
	h.network.TriggerNow()
	w.WriteHeader(http.StatusAccepted)
}
