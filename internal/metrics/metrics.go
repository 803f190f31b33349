// Package metrics provides Prometheus metrics for dnsswitch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "dnsswitch"

var (
	// BuildInfo exposes version information as labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information, value is always 1.",
	}, []string{"version", "go_version"})

	// OperationsTotal counts controller operations by kind and result.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "operations_total",
		Help:      "Total controller operations by kind (apply, reset, custom) and result.",
	}, []string{"operation", "result"})

	// MutationDuration observes how long backend mutation calls take.
	MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "mutation_duration_seconds",
		Help:      "Duration of backend mutation calls in seconds.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"backend", "operation"})

	// ValidationFailuresTotal counts locally rejected custom addresses.
	ValidationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "validation_failures_total",
		Help:      "Custom address submissions rejected before any mutation, by field.",
	}, []string{"field"})

	// RefreshesTotal counts authoritative re-queries by trigger and result.
	RefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "refreshes_total",
		Help:      "Authoritative state queries by trigger (init, manual, verify, corrective, focus, network) and result.",
	}, []string{"trigger", "result"})

	// VerificationsScheduled counts settle-delay verifications scheduled.
	VerificationsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "verifications_scheduled_total",
		Help:      "Delayed verifications scheduled, by origin (local, external).",
	}, []string{"origin"})

	// VerificationsPending tracks scheduled verifications not yet run.
	VerificationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "verifications_pending",
		Help:      "Verifications waiting for their settle delay.",
	})

	// DriftTotal counts verifications whose result differed from the optimistic state.
	DriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "drift_corrections_total",
		Help:      "Verifications that replaced an optimistic state with a different observed state.",
	})

	// ExternalEventsTotal counts events delivered by the event bridge.
	ExternalEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "external_events_total",
		Help:      "Events received from outside the controller, by source (tray, focus, netlink, resolvconf).",
	}, []string{"source"})

	// EventsDroppedTotal counts events dropped because a feed was full.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because the feed buffer was full.",
	}, []string{"source"})

	// NotificationsTotal counts notifications shown by tone.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "notifications_total",
		Help:      "User-facing notifications shown, by tone.",
	}, []string{"tone"})

	// AdminCapability is 1 when the process may change network settings.
	AdminCapability = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "admin_capability",
		Help:      "Whether the process held administrator rights at startup (1) or not (0).",
	})

	// AutomaticMode is 1 when the last known state uses automatic resolution.
	AutomaticMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "automatic_mode",
		Help:      "Whether the active interface uses DHCP-assigned resolvers (1) or explicit ones (0).",
	})

	// ActiveProfile marks the derived active provider identity with value 1.
	ActiveProfile = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "active_profile",
		Help:      "Derived active provider identity, value is always 1 for the current one.",
	}, []string{"profile"})

	// ProbeDuration observes resolver probe round trips.
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "probe_duration_seconds",
		Help:      "Round-trip time of resolver health probes in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// SetActiveProfile replaces the active profile series with a single label.
func SetActiveProfile(profile string) {
	ActiveProfile.Reset()
	ActiveProfile.WithLabelValues(profile).Set(1)
}

// BoolToFloat converts a flag to a gauge value.
func BoolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
