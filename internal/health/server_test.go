package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/backends/dryrun"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s := New(0, WithVersion("1.2.3"))

	w := get(s, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	resp := decode(t, w)
	if resp.Status != StatusHealthy {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %q", resp.Version)
	}
}

func TestServer_Ready_NoCheckers(t *testing.T) {
	s := New(0)

	w := get(s, "/ready")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if resp := decode(t, w); resp.Status != StatusReady {
		t.Errorf("expected status 'ready', got %q", resp.Status)
	}
}

func TestServer_Ready_States(t *testing.T) {
	tests := []struct {
		name       string
		healthy    []error
		degraded   []bool
		wantCode   int
		wantStatus string
	}{
		{"all healthy", []error{nil, nil}, []bool{false}, http.StatusOK, StatusReady},
		{"degraded", []error{nil}, []bool{true, false}, http.StatusOK, StatusDegraded},
		{"unhealthy", []error{nil, errors.New("unreachable")}, nil, http.StatusServiceUnavailable, StatusNotReady},
		{"unhealthy wins over degraded", []error{errors.New("down")}, []bool{true}, http.StatusServiceUnavailable, StatusNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(0)
			for i, err := range tt.healthy {
				err := err
				s.RegisterChecker(string(rune('a'+i)), func(context.Context) error { return err })
			}
			for i, d := range tt.degraded {
				d := d
				s.RegisterDegradedChecker(string(rune('a'+i)), func(context.Context) (bool, string) {
					return d, "partial"
				})
			}

			w := get(s, "/ready")
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			resp := decode(t, w)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks) != len(tt.healthy) {
				t.Errorf("checks = %d, want %d", len(resp.Checks), len(tt.healthy))
			}
		})
	}
}

func TestServer_Ready_ChecksSorted(t *testing.T) {
	s := New(0)
	for _, name := range []string{"probe", "backend", "admin"} {
		s.RegisterChecker(name, func(context.Context) error { return nil })
	}

	resp := decode(t, get(s, "/ready"))
	var names []string
	for _, c := range resp.Checks {
		names = append(names, c.Name)
		if !c.OK || c.Duration == "" {
			t.Errorf("check %+v", c)
		}
	}
	if strings.Join(names, ",") != "admin,backend,probe" {
		t.Errorf("checks = %v, want sorted", names)
	}
}

func TestServer_Ready_FailedCheckCarriesError(t *testing.T) {
	s := New(0)
	s.RegisterChecker("backend:host", func(context.Context) error { return errors.New("bus closed") })

	resp := decode(t, get(s, "/ready"))
	if len(resp.Checks) != 1 || resp.Checks[0].OK || resp.Checks[0].Error != "bus closed" {
		t.Errorf("checks = %+v", resp.Checks)
	}
}

func TestServer_Ready_ChecksRunConcurrently(t *testing.T) {
	s := New(0, WithTimeout(time.Second))

	// Each check waits until all have started, which only happens when they
	// run at the same time.
	const n = 3
	var started sync.WaitGroup
	started.Add(n)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()
	for i := 0; i < n; i++ {
		s.RegisterChecker(string(rune('a'+i)), func(ctx context.Context) error {
			started.Done()
			select {
			case <-allStarted:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	if w := get(s, "/ready"); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestServer_Ready_Timeout(t *testing.T) {
	s := New(0, WithTimeout(50*time.Millisecond))

	s.RegisterChecker("backend:slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return nil
		}
	})

	w := get(s, "/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if resp := decode(t, w); resp.Status != StatusNotReady {
		t.Errorf("expected status 'not_ready', got %q", resp.Status)
	}
}

func TestServer_Handle(t *testing.T) {
	s := New(0)
	s.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	if w := get(s, "/api/v1/state"); w.Code != http.StatusTeapot {
		t.Errorf("mounted handler not reached, got %d", w.Code)
	}
	if w := get(s, "/metrics"); w.Code != http.StatusOK {
		t.Errorf("/metrics = %d", w.Code)
	}
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	s := New(0)
	if s.Addr() != "" {
		t.Errorf("Addr() before Start = %q", s.Addr())
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestServer_StartServesAndShutsDown(t *testing.T) {
	s := New(0, WithVersion("test"))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestServer_StartReportsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := New(port)
	if err := s.Start(); err == nil {
		_ = s.Shutdown(context.Background())
		t.Fatal("Start() on a busy port succeeded")
	}
}

// downBackend fails Ping.
type downBackend struct{ *dryrun.Backend }

func (downBackend) Ping(context.Context) error { return backend.ErrUnavailable }

func TestBackendChecker(t *testing.T) {
	up := dryrun.New("host", nil)
	if err := BackendChecker(up)(context.Background()); err != nil {
		t.Errorf("healthy backend reported %v", err)
	}

	err := BackendChecker(downBackend{up})(context.Background())
	if !backend.IsUnavailable(err) {
		t.Errorf("err = %v, want unavailable", err)
	}
	if !strings.Contains(err.Error(), `"host"`) {
		t.Errorf("err = %v, want backend name", err)
	}
}

func TestAdminChecker(t *testing.T) {
	if degraded, _ := AdminChecker(func() bool { return true }, "hint")(context.Background()); degraded {
		t.Error("admin session reported degraded")
	}
	degraded, msg := AdminChecker(func() bool { return false }, "run with sudo")(context.Background())
	if !degraded || !strings.Contains(msg, "run with sudo") {
		t.Errorf("got (%v, %q)", degraded, msg)
	}
}

func TestResolverChecker(t *testing.T) {
	var probed []string
	answering := func(_ context.Context, addr string, _ time.Duration) (time.Duration, error) {
		probed = append(probed, addr)
		return time.Millisecond, nil
	}
	silent := func(_ context.Context, addr string, _ time.Duration) (time.Duration, error) {
		probed = append(probed, addr)
		return 0, context.DeadlineExceeded
	}

	explicit := &backend.State{InterfaceName: "eth0", Servers: []string{"1.1.1.1", "1.0.0.1"}}
	automatic := &backend.State{InterfaceName: "eth0", Automatic: true}

	tests := []struct {
		name         string
		state        *backend.State
		probe        ProbeFunc
		wantDegraded bool
		wantProbed   bool
	}{
		{"no state yet", nil, answering, false, false},
		{"automatic", automatic, silent, false, false},
		{"answering", explicit, answering, false, true},
		{"silent", explicit, silent, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probed = nil
			check := ResolverChecker(func() *backend.State { return tt.state }, time.Second, tt.probe)
			degraded, msg := check(context.Background())
			if degraded != tt.wantDegraded {
				t.Errorf("degraded = %v (%q), want %v", degraded, msg, tt.wantDegraded)
			}
			if (len(probed) > 0) != tt.wantProbed {
				t.Errorf("probed = %v", probed)
			}
			if tt.wantProbed && probed[0] != "1.1.1.1" {
				t.Errorf("probed %q, want primary", probed[0])
			}
		})
	}
}
