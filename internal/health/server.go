// Package health serves liveness, readiness and Prometheus metrics for
// dnsswitch. The control API shares its listener through Handle.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// maxParallelChecks bounds how many checks of one /ready request run at once.
const maxParallelChecks = 4

// HealthChecker reports whether a component can serve. A non-nil error
// makes the process not ready.
type HealthChecker func(ctx context.Context) error

// DegradedChecker reports a component that works only partially, e.g. DNS
// can be read but not changed. Degraded components keep /ready at 200.
type DegradedChecker func(ctx context.Context) (degraded bool, message string)

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// DegradedStatus names a degraded component.
type DegradedStatus struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Response is the body of /health and /ready.
type Response struct {
	Status   string           `json:"status"`
	Version  string           `json:"version,omitempty"`
	Checks   []CheckResult    `json:"checks,omitempty"`
	Degraded []DegradedStatus `json:"degraded,omitempty"`
}

// Server provides /health, /ready and /metrics, plus any handlers mounted
// with Handle.
type Server struct {
	addr    string
	mux     *http.ServeMux
	logger  *slog.Logger
	timeout time.Duration
	version string

	mu       sync.RWMutex
	ready    map[string]HealthChecker
	degraded map[string]DegradedChecker

	srv      *http.Server
	listener net.Listener
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds one /ready evaluation.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithVersion reports version in /health responses.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// New creates a server that will listen on port. Port 0 picks a free port.
func New(port int, opts ...Option) *Server {
	s := &Server{
		addr:     fmt.Sprintf(":%d", port),
		mux:      http.NewServeMux(),
		logger:   slog.Default(),
		timeout:  5 * time.Second,
		ready:    make(map[string]HealthChecker),
		degraded: make(map[string]DegradedChecker),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// RegisterChecker adds a readiness check. A check registered under an
// existing name replaces it.
func (s *Server) RegisterChecker(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready[name] = checker
	s.logger.Debug("registered readiness check", slog.String("name", name))
}

// RegisterDegradedChecker adds a degraded-state check.
func (s *Server) RegisterDegradedChecker(name string, checker DegradedChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded[name] = checker
	s.logger.Debug("registered degraded check", slog.String("name", name))
}

// Handle mounts handler under pattern, e.g. "/api/" for the control API.
// Must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: StatusHealthy, Version: s.version})
}

type named[F any] struct {
	name  string
	check F
}

func sorted[F any](m map[string]F) []named[F] {
	out := make([]named[F], 0, len(m))
	for name, fn := range m {
		out = append(out, named[F]{name: name, check: fn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := sorted(s.ready)
	degraded := sorted(s.degraded)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	// Each goroutine writes only its own slot.
	results := make([]CheckResult, len(ready))
	flags := make([]*DegradedStatus, len(degraded))

	var g errgroup.Group
	g.SetLimit(maxParallelChecks)
	for i, c := range ready {
		i, c := i, c
		g.Go(func() error {
			start := time.Now()
			err := c.check(ctx)
			results[i] = CheckResult{Name: c.name, OK: err == nil, Duration: time.Since(start).String()}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	for i, c := range degraded {
		i, c := i, c
		g.Go(func() error {
			if isDegraded, msg := c.check(ctx); isDegraded {
				flags[i] = &DegradedStatus{Name: c.name, Message: msg}
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{Status: StatusReady, Checks: results}
	code := http.StatusOK

	for _, res := range results {
		if res.OK {
			continue
		}
		resp.Status = StatusNotReady
		code = http.StatusServiceUnavailable
		s.logger.Warn("readiness check failed",
			slog.String("component", res.Name),
			slog.String("error", res.Error),
		)
	}
	for _, d := range flags {
		if d == nil {
			continue
		}
		resp.Degraded = append(resp.Degraded, *d)
		s.logger.Debug("degraded state detected",
			slog.String("component", d.Name),
			slog.String("message", d.Message),
		)
	}
	if code == http.StatusOK && len(resp.Degraded) > 0 {
		resp.Status = StatusDegraded
	}

	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start binds the listener and serves in the background. A bind failure is
// returned rather than logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
