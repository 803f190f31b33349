package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/backends/dryrun"
	"gitlab.bluewillows.net/root/dnsswitch/internal/notify"
	"gitlab.bluewillows.net/root/dnsswitch/internal/privilege"
	"gitlab.bluewillows.net/root/dnsswitch/internal/reconciler"
	"gitlab.bluewillows.net/root/dnsswitch/internal/state"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/catalog"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// heldScheduler never fires; verifications stay pending.
type heldScheduler struct{}

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }

func (heldScheduler) AfterFunc(time.Duration, func()) reconciler.Timer { return heldTimer{} }

// recordingPublisher records published events and can refuse them.
type recordingPublisher struct {
	mu       sync.Mutex
	external []backend.Outcome
	focus    []bool
	full     bool
}

func (p *recordingPublisher) PublishExternal(o backend.Outcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.external = append(p.external, o)
	return true
}

func (p *recordingPublisher) PublishFocus(f bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.focus = append(p.focus, f)
	return true
}

type fixture struct {
	router    http.Handler
	handler   *Handler
	backend   *dryrun.Backend
	ctrl      *reconciler.Reconciler
	notifier  *notify.Channel
	publisher *recordingPublisher
}

func newFixture(t *testing.T, admin, failWrites bool) *fixture {
	t.Helper()

	be := dryrun.New("test", &dryrun.Config{
		InterfaceName: "Ethernet",
		Initial:       backend.State{InterfaceName: "Ethernet", Servers: []string{}, Automatic: true},
		FailWrites:    failWrites,
	}, dryrun.WithLogger(discard))
	notifier := notify.New(notify.WithLogger(discard))
	gate := privilege.New(privilege.WithChecker(func() bool { return admin }), privilege.WithLogger(discard))
	store := state.NewStore()
	ctrl := reconciler.New(be, store, notifier, gate,
		reconciler.WithLogger(discard),
		reconciler.WithScheduler(heldScheduler{}),
	)
	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	t.Cleanup(ctrl.Close)

	pub := &recordingPublisher{}
	h := NewHandler(ctrl, notifier, pub,
		WithLogger(discard),
		WithAdminHint("run as administrator"),
		WithStreams(store, notifier),
	)
	t.Cleanup(h.Close)
	return &fixture{router: NewRouter(h), handler: h, backend: be, ctrl: ctrl, notifier: notifier, publisher: pub}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, Prefix+path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	return resp.Error
}

func TestGetState_Initial(t *testing.T) {
	f := newFixture(t, false, false)

	w := f.do(t, http.MethodGet, "/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeData[StateResponse](t, w)

	if resp.State == nil || !resp.State.Automatic || resp.State.InterfaceName != "Ethernet" {
		t.Errorf("state = %+v", resp.State)
	}
	if resp.Active != catalog.IdentityDefault {
		t.Errorf("active = %q, want default", resp.Active)
	}
	if resp.Phase != reconciler.PhaseIdle {
		t.Errorf("phase = %q", resp.Phase)
	}
	if resp.Admin || resp.Hint != "run as administrator" {
		t.Errorf("admin = %v, hint = %q", resp.Admin, resp.Hint)
	}
}

func TestGetState_AdminHidesHint(t *testing.T) {
	f := newFixture(t, true, false)

	resp := decodeData[StateResponse](t, f.do(t, http.MethodGet, "/state", ""))
	if !resp.Admin || resp.Hint != "" {
		t.Errorf("admin = %v, hint = %q", resp.Admin, resp.Hint)
	}
}

func TestGetProfiles_MarksActive(t *testing.T) {
	f := newFixture(t, true, false)

	profiles := decodeData[[]ProfileResponse](t, f.do(t, http.MethodGet, "/profiles", ""))
	if len(profiles) != len(catalog.All()) {
		t.Fatalf("got %d profiles", len(profiles))
	}
	for _, p := range profiles {
		if p.Active != (p.ID == catalog.DefaultID) {
			t.Errorf("profile %s active = %v", p.ID, p.Active)
		}
	}
}

func TestApplyProfile(t *testing.T) {
	f := newFixture(t, true, false)

	w := f.do(t, http.MethodPost, "/profiles/cloudflare/apply", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decodeData[OperationResponse](t, w)

	if !resp.Outcome.Success || resp.Outcome.Message != "Cloudflare applied successfully!" {
		t.Errorf("outcome = %+v", resp.Outcome)
	}
	if resp.Active != "cloudflare" {
		t.Errorf("active = %q", resp.Active)
	}
	if resp.Phase != reconciler.PhaseVerifying {
		t.Errorf("phase = %q, want verifying", resp.Phase)
	}

	st, _ := f.backend.Query(context.Background())
	if st.Automatic || st.Primary() != "1.1.1.1" {
		t.Errorf("backend state = %+v", st)
	}

	n, ok := f.notifier.Current()
	if !ok || n.Tone != notify.ToneSuccess {
		t.Errorf("notification = %+v, %v", n, ok)
	}
}

func TestApplyProfile_NotFound(t *testing.T) {
	f := newFixture(t, true, false)

	w := f.do(t, http.MethodPost, "/profiles/nope/apply", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q", e.Code)
	}
	if f.backend.Writes() != 0 {
		t.Error("backend was written")
	}
}

func TestApplyProfile_FailureIsOutcome(t *testing.T) {
	f := newFixture(t, false, true)

	w := f.do(t, http.MethodPost, "/profiles/google/apply", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeData[OperationResponse](t, w)
	if resp.Outcome.Success {
		t.Error("expected failed outcome")
	}
	// The corrective refresh already restored the observed state.
	if resp.Active != catalog.IdentityDefault {
		t.Errorf("active = %q, want default after correction", resp.Active)
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t, true, false)
	f.do(t, http.MethodPost, "/profiles/quad9/apply", "")

	resp := decodeData[OperationResponse](t, f.do(t, http.MethodPost, "/reset", ""))
	if !resp.Outcome.Success || resp.Active != catalog.IdentityDefault {
		t.Errorf("reset = %+v", resp)
	}
}

func TestApplyCustom(t *testing.T) {
	f := newFixture(t, true, false)

	w := f.do(t, http.MethodPost, "/custom", `{"primary":"10.0.0.53","secondary":""}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	resp := decodeData[OperationResponse](t, w)
	if !resp.Outcome.Success || resp.Active != catalog.IdentityCustom {
		t.Errorf("custom = %+v", resp)
	}
	if resp.State == nil || len(resp.State.Servers) != 1 {
		t.Errorf("state = %+v", resp.State)
	}
}

func TestApplyCustom_Validation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
	}{
		{"missing primary", `{"secondary":"1.1.1.1"}`, http.StatusUnprocessableEntity, "primary"},
		{"invalid primary", `{"primary":"999.1.1.1"}`, http.StatusUnprocessableEntity, "primary"},
		{"invalid secondary", `{"primary":"1.1.1.1","secondary":"abc"}`, http.StatusUnprocessableEntity, "secondary"},
		{"malformed json", `{"primary":`, http.StatusBadRequest, ""},
		{"unknown field", `{"primary":"1.1.1.1","tertiary":"x"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true, false)

			w := f.do(t, http.MethodPost, "/custom", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body)
			}
			if e := decodeError(t, w); e.Field != tt.wantField {
				t.Errorf("field = %q, want %q", e.Field, tt.wantField)
			}
			if f.backend.Writes() != 0 {
				t.Error("backend was written")
			}
			if _, ok := f.notifier.Current(); ok {
				t.Error("notification shown for rejected input")
			}
		})
	}
}

func TestApplyCustom_WrongContentType(t *testing.T) {
	f := newFixture(t, true, false)

	req := httptest.NewRequest(http.MethodPost, Prefix+"/custom", strings.NewReader("primary=1.1.1.1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, true, false)
	_ = f.backend.Set(context.Background(), "8.8.8.8", "8.8.4.4")

	w := f.do(t, http.MethodPost, "/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	st := decodeData[backend.State](t, w)
	if st.Primary() != "8.8.8.8" {
		t.Errorf("refreshed state = %+v", st)
	}
	if f.ctrl.Active() != "google" {
		t.Errorf("active = %q", f.ctrl.Active())
	}
}

func TestGetNotification(t *testing.T) {
	f := newFixture(t, true, false)

	if w := f.do(t, http.MethodGet, "/notification", ""); w.Code != http.StatusNoContent {
		t.Errorf("empty status = %d, want 204", w.Code)
	}

	f.notifier.Show("hello", notify.ToneSuccess)

	w := f.do(t, http.MethodGet, "/notification", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if n := decodeData[notify.Notification](t, w); n.Message != "hello" {
		t.Errorf("notification = %+v", n)
	}
}

func TestDismissNotification(t *testing.T) {
	f := newFixture(t, true, false)
	f.notifier.Show("hello", notify.ToneSuccess)

	if w := f.do(t, http.MethodPost, "/notification/dismiss", ""); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	n, ok := f.notifier.Current()
	if !ok || n.Phase != notify.PhaseDismissing {
		t.Errorf("after dismiss = %+v, %v; want dismissing", n, ok)
	}
}

func TestPostEvents(t *testing.T) {
	f := newFixture(t, true, false)

	w := f.do(t, http.MethodPost, "/events/external", `{"success":true,"message":"Google applied successfully!"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("external status = %d: %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodPost, "/events/focus", `{"focused":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("focus status = %d", w.Code)
	}

	if len(f.publisher.external) != 1 || f.publisher.external[0].Message != "Google applied successfully!" {
		t.Errorf("external = %+v", f.publisher.external)
	}
	if len(f.publisher.focus) != 1 || !f.publisher.focus[0] {
		t.Errorf("focus = %+v", f.publisher.focus)
	}
}

func TestPostEvents_Validation(t *testing.T) {
	f := newFixture(t, true, false)

	w := f.do(t, http.MethodPost, "/events/external", `{"message":"no flag"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Field != "success" {
		t.Errorf("field = %q", e.Field)
	}

	w = f.do(t, http.MethodPost, "/events/focus", `{}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("focus status = %d", w.Code)
	}
}

func TestPostEvents_FeedFull(t *testing.T) {
	f := newFixture(t, true, false)
	f.publisher.full = true

	if w := f.do(t, http.MethodPost, "/events/focus", `{"focused":true}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// countingTrigger counts immediate resync requests.
type countingTrigger struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTrigger) TriggerNow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func TestPostNetworkEvent(t *testing.T) {
	f := newFixture(t, true, false)

	if w := f.do(t, http.MethodPost, "/events/network", ""); w.Code != http.StatusNotFound {
		t.Errorf("status without trigger = %d, want 404", w.Code)
	}

	trigger := &countingTrigger{}
	WithNetworkTrigger(trigger)(f.handler)

	if w := f.do(t, http.MethodPost, "/events/network", ""); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if trigger.calls != 1 {
		t.Errorf("TriggerNow calls = %d, want 1", trigger.calls)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(discard)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}
