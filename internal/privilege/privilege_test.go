package privilege

import (
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestGate_CheckIsCached(t *testing.T) {
	calls := 0
	answer := false
	g := New(WithLogger(testLogger()), WithChecker(func() bool {
		calls++
		return answer
	}))

	if g.Check() {
		t.Error("expected false on first check")
	}

	// The cached value sticks even if the underlying answer changes.
	answer = true
	if g.Check() {
		t.Error("expected cached false")
	}
	if calls != 1 {
		t.Errorf("checker called %d times, want 1", calls)
	}
}

func TestGate_Hint(t *testing.T) {
	g := New()
	if g.Hint() == "" {
		t.Error("expected a non-empty hint")
	}
}

func TestGate_PlatformCheckDoesNotPanic(t *testing.T) {
	g := New(WithLogger(testLogger()))
	_ = g.Check()
}
