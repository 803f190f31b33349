package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Global configuration defaults.
const (
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultDryRun              = false
	DefaultHTTPPort            = 8080
	DefaultSettleDelay         = 1000 * time.Millisecond
	DefaultExternalSettleDelay = 800 * time.Millisecond
	DefaultVerifyDebounce      = false
	DefaultHistorySize         = 20
	DefaultNotifyDuration      = 3 * time.Second
	DefaultNotifyExitDuration  = 300 * time.Millisecond
	DefaultWatchNetlink        = true
	DefaultWatchPollInterval   = 5 * time.Second
	DefaultNetworkDebounce     = 2 * time.Second
	DefaultProbeTimeout        = 2 * time.Second
	DefaultBackendName         = "host"
)

// GlobalConfig holds application-wide settings.
// These are parsed from DNSSWITCH_* environment variables.
type GlobalConfig struct {
	// Logging configuration
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// DryRun replaces the configured backend with the in-memory one.
	DryRun bool

	// HTTPPort serves health, metrics and the API.
	HTTPPort int

	// Controller timing
	SettleDelay         time.Duration // wait before verifying a local change
	ExternalSettleDelay time.Duration // wait before verifying a reported change
	VerifyDebounce      bool          // keep only the newest pending verification
	HistorySize         int           // operation results kept for /state

	// Notification timing
	NotifyDuration     time.Duration
	NotifyExitDuration time.Duration

	// Network change detection
	WatchNetlink      bool          // subscribe to link and address events (linux)
	WatchPath         string        // resolver file polled for outside edits; empty disables
	WatchPollInterval time.Duration // how often WatchPath is checked
	NetworkDebounce   time.Duration // quiet period before a network refresh

	// ProbeTimeout bounds the readiness resolver probe.
	ProbeTimeout time.Duration
}

// defaultGlobalConfig returns a GlobalConfig populated with defaults.
func defaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		DryRun:              DefaultDryRun,
		HTTPPort:            DefaultHTTPPort,
		SettleDelay:         DefaultSettleDelay,
		ExternalSettleDelay: DefaultExternalSettleDelay,
		VerifyDebounce:      DefaultVerifyDebounce,
		HistorySize:         DefaultHistorySize,
		NotifyDuration:      DefaultNotifyDuration,
		NotifyExitDuration:  DefaultNotifyExitDuration,
		WatchNetlink:        DefaultWatchNetlink,
		WatchPath:           defaultWatchPath(),
		WatchPollInterval:   DefaultWatchPollInterval,
		NetworkDebounce:     DefaultNetworkDebounce,
		ProbeTimeout:        DefaultProbeTimeout,
	}
}

// defaultWatchPath is the resolver file edited behind our back most often.
func defaultWatchPath() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return "/etc/resolv.conf"
}

// DefaultBackendType picks the backend for the running platform.
func DefaultBackendType() string {
	if runtime.GOOS == "windows" {
		return "netsh"
	}
	return "resolvconf"
}

// applyGlobalEnv overrides cfg with any DNSSWITCH_* variables that are set.
// Returns a list of validation errors (may be empty).
func applyGlobalEnv(cfg *GlobalConfig) []string {
	var errs []string

	if v := getEnv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getEnv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := getEnv(EnvPrefix + "DRY_RUN"); v != "" {
		cfg.DryRun = parseBool(v, cfg.DryRun)
	}
	if v := getEnv(EnvPrefix + "VERIFY_DEBOUNCE"); v != "" {
		cfg.VerifyDebounce = parseBool(v, cfg.VerifyDebounce)
	}
	if v := getEnv(EnvPrefix + "WATCH_NETLINK"); v != "" {
		cfg.WatchNetlink = parseBool(v, cfg.WatchNetlink)
	}
	if v, ok := lookupEnv(EnvPrefix + "WATCH_PATH"); ok {
		cfg.WatchPath = v
	}

	envInt(EnvPrefix+"HTTP_PORT", &cfg.HTTPPort, 1, 65535, &errs)
	envInt(EnvPrefix+"HISTORY_SIZE", &cfg.HistorySize, 0, 1000, &errs)

	envDuration(EnvPrefix+"SETTLE_DELAY", &cfg.SettleDelay, 0, &errs)
	envDuration(EnvPrefix+"EXTERNAL_SETTLE_DELAY", &cfg.ExternalSettleDelay, 0, &errs)
	envDuration(EnvPrefix+"NOTIFY_DURATION", &cfg.NotifyDuration, time.Millisecond, &errs)
	envDuration(EnvPrefix+"NOTIFY_EXIT_DURATION", &cfg.NotifyExitDuration, 0, &errs)
	envDuration(EnvPrefix+"WATCH_POLL_INTERVAL", &cfg.WatchPollInterval, 100*time.Millisecond, &errs)
	envDuration(EnvPrefix+"NETWORK_DEBOUNCE", &cfg.NetworkDebounce, 0, &errs)
	envDuration(EnvPrefix+"PROBE_TIMEOUT", &cfg.ProbeTimeout, 10*time.Millisecond, &errs)

	return errs
}

// validateGlobal checks enumerations that both the file and env paths set.
func validateGlobal(cfg *GlobalConfig) []string {
	var errs []string

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("%sLOG_LEVEL: invalid value %q (must be debug, info, warn, or error)", EnvPrefix, cfg.LogLevel))
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("%sLOG_FORMAT: invalid value %q (must be json or text)", EnvPrefix, cfg.LogFormat))
	}

	return errs
}

func envInt(key string, dst *int, lo, hi int, errs *[]string) {
	v := getEnv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	switch {
	case err != nil:
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
	case n < lo || n > hi:
		*errs = append(*errs, fmt.Sprintf("%s: must be between %d and %d, got %d", key, lo, hi, n))
	default:
		*dst = n
	}
}

func envDuration(key string, dst *time.Duration, lo time.Duration, errs *[]string) {
	v := getEnv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	switch {
	case err != nil:
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q (use format like 800ms, 2s)", key, v))
	case d < lo:
		*errs = append(*errs, fmt.Sprintf("%s: must be at least %s", key, lo))
	default:
		*dst = d
	}
}
