package reconciler

import (
	"fmt"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// Phase is the controller's progress through an operation.
type Phase string

const (
	// PhaseIdle means no operation is outstanding.
	PhaseIdle Phase = "idle"
	// PhaseApplying means an optimistic state is written and a mutation is in flight.
	PhaseApplying Phase = "applying"
	// PhaseVerifying means a mutation returned and a delayed re-query is scheduled.
	PhaseVerifying Phase = "verifying"
	// PhaseFailed means a mutation failed and a corrective re-query is running.
	PhaseFailed Phase = "failed"
)

// OperationKind names a controller operation.
type OperationKind string

const (
	OperationApply  OperationKind = "apply"
	OperationReset  OperationKind = "reset"
	OperationCustom OperationKind = "custom"
)

// Result records a completed mutation attempt.
type Result struct {
	Kind       OperationKind   `json:"kind"`
	Target     string          `json:"target"`
	Optimistic backend.State   `json:"optimistic"`
	Outcome    backend.Outcome `json:"outcome"`
	Error      string          `json:"error,omitempty"`
	Verify     TaskID          `json:"verify_task,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    time.Time       `json:"ended_at"`
}

// Duration returns how long the mutation call took.
func (r Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// String returns a human-readable summary.
func (r Result) String() string {
	status := "success"
	if !r.Outcome.Success {
		status = "failed"
	}
	if r.Error != "" {
		return fmt.Sprintf("[%s] %s %s in %s: %s", status, r.Kind, r.Target, r.Duration().Round(time.Millisecond), r.Error)
	}
	return fmt.Sprintf("[%s] %s %s in %s", status, r.Kind, r.Target, r.Duration().Round(time.Millisecond))
}
