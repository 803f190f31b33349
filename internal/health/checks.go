package health

import (
	"context"
	"fmt"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/internal/metrics"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/probe"
)

// BackendChecker reports the backend unhealthy when it cannot be reached.
func BackendChecker(b backend.Backend) HealthChecker {
	return func(ctx context.Context) error {
		if err := b.Ping(ctx); err != nil {
			return fmt.Errorf("%s backend %q: %w", b.Type(), b.Name(), err)
		}
		return nil
	}
}

// AdminChecker reports degraded when changes will be refused for lack of
// administrator rights.
func AdminChecker(admin func() bool, hint string) DegradedChecker {
	return func(context.Context) (bool, string) {
		if admin() {
			return false, ""
		}
		return true, "not running with administrator rights: " + hint
	}
}

// ProbeFunc sends one query to a resolver and returns the round trip.
type ProbeFunc func(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error)

// ResolverChecker reports degraded when the primary server of the current
// explicit configuration does not answer. Automatic configurations are not
// probed.
func ResolverChecker(current func() *backend.State, timeout time.Duration, probeFn ProbeFunc) DegradedChecker {
	if probeFn == nil {
		probeFn = probe.Probe
	}
	return func(ctx context.Context) (bool, string) {
		st := current()
		if st == nil || st.Automatic {
			return false, ""
		}
		primary := st.Primary()
		if primary == "" {
			return false, ""
		}
		rtt, err := probeFn(ctx, primary, timeout)
		if err != nil {
			return true, fmt.Sprintf("resolver %s not answering: %v", primary, err)
		}
		metrics.ProbeDuration.Observe(rtt.Seconds())
		return false, ""
	}
}
