package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the configuration file structure. YAML and TOML
// files share the same layout.
type FileConfig struct {
	Logging       *FileLoggingConfig    `yaml:"logging,omitempty" toml:"logging"`
	Backend       *FileBackendConfig    `yaml:"backend,omitempty" toml:"backend"`
	Controller    *FileControllerConfig `yaml:"controller,omitempty" toml:"controller"`
	Notifications *FileNotifyConfig     `yaml:"notifications,omitempty" toml:"notifications"`
	Watch         *FileWatchConfig      `yaml:"watch,omitempty" toml:"watch"`
	Server        *FileServerConfig     `yaml:"server,omitempty" toml:"server"`
	Probe         *FileProbeConfig      `yaml:"probe,omitempty" toml:"probe"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" toml:"format" validate:"omitempty,oneof=json text"`
}

// FileBackendConfig selects and configures the resolver backend.
type FileBackendConfig struct {
	Type     string            `yaml:"type,omitempty" toml:"type" validate:"omitempty,oneof=resolvconf resolved netsh dryrun"`
	Name     string            `yaml:"name,omitempty" toml:"name" validate:"omitempty,hostname_rfc1123"`
	Settings map[string]string `yaml:"settings,omitempty" toml:"settings"`
}

// FileControllerConfig holds synchronization settings.
type FileControllerConfig struct {
	SettleDelay         string `yaml:"settle_delay,omitempty" toml:"settle_delay" validate:"omitempty,duration"`
	ExternalSettleDelay string `yaml:"external_settle_delay,omitempty" toml:"external_settle_delay" validate:"omitempty,duration"`
	VerifyDebounce      *bool  `yaml:"verify_debounce,omitempty" toml:"verify_debounce"`
	HistorySize         *int   `yaml:"history_size,omitempty" toml:"history_size" validate:"omitempty,min=0,max=1000"`
	DryRun              *bool  `yaml:"dry_run,omitempty" toml:"dry_run"`
}

// FileNotifyConfig holds notification timing.
type FileNotifyConfig struct {
	Duration     string `yaml:"duration,omitempty" toml:"duration" validate:"omitempty,duration"`
	ExitDuration string `yaml:"exit_duration,omitempty" toml:"exit_duration" validate:"omitempty,duration"`
}

// FileWatchConfig holds network change detection settings.
type FileWatchConfig struct {
	Netlink      *bool   `yaml:"netlink,omitempty" toml:"netlink"`
	Path         *string `yaml:"path,omitempty" toml:"path"`
	PollInterval string  `yaml:"poll_interval,omitempty" toml:"poll_interval" validate:"omitempty,duration"`
	Debounce     string  `yaml:"debounce,omitempty" toml:"debounce" validate:"omitempty,duration"`
}

// FileServerConfig holds HTTP server settings.
type FileServerConfig struct {
	Port int `yaml:"port,omitempty" toml:"port" validate:"omitempty,min=1,max=65535"`
}

// FileProbeConfig holds resolver probe settings.
type FileProbeConfig struct {
	Timeout string `yaml:"timeout,omitempty" toml:"timeout" validate:"omitempty,duration"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable values.
// Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 3 {
			defaultValue = groups[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// LoadFile reads and parses a configuration file. The format follows the
// extension: .toml for TOML, anything else is YAML. Environment variables in
// ${VAR} format are interpolated before parsing.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	content := InterpolateEnvVars(string(data))

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(content, &cfg); err != nil {
			var derr toml.ParseError
			if errors.As(err, &derr) {
				return nil, fmt.Errorf("parsing TOML config at line %d: %s", derr.Position.Line, derr.Message)
			}
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}

	if errs := validateFile(&cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return &cfg, nil
}

// apply copies file values onto cfg. Durations are already validated.
func (c *FileConfig) apply(global *GlobalConfig, be *BackendConfig) {
	if c.Logging != nil {
		if c.Logging.Level != "" {
			global.LogLevel = strings.ToLower(c.Logging.Level)
		}
		if c.Logging.Format != "" {
			global.LogFormat = strings.ToLower(c.Logging.Format)
		}
	}

	if c.Backend != nil {
		if c.Backend.Type != "" {
			be.Type = c.Backend.Type
		}
		if c.Backend.Name != "" {
			be.Name = c.Backend.Name
		}
		for k, v := range c.Backend.Settings {
			be.Settings[strings.ToLower(k)] = v
		}
	}

	if ctl := c.Controller; ctl != nil {
		setDuration(ctl.SettleDelay, &global.SettleDelay)
		setDuration(ctl.ExternalSettleDelay, &global.ExternalSettleDelay)
		if ctl.VerifyDebounce != nil {
			global.VerifyDebounce = *ctl.VerifyDebounce
		}
		if ctl.HistorySize != nil {
			global.HistorySize = *ctl.HistorySize
		}
		if ctl.DryRun != nil {
			global.DryRun = *ctl.DryRun
		}
	}

	if n := c.Notifications; n != nil {
		setDuration(n.Duration, &global.NotifyDuration)
		setDuration(n.ExitDuration, &global.NotifyExitDuration)
	}

	if w := c.Watch; w != nil {
		if w.Netlink != nil {
			global.WatchNetlink = *w.Netlink
		}
		if w.Path != nil {
			global.WatchPath = *w.Path
		}
		setDuration(w.PollInterval, &global.WatchPollInterval)
		setDuration(w.Debounce, &global.NetworkDebounce)
	}

	if c.Server != nil && c.Server.Port > 0 {
		global.HTTPPort = c.Server.Port
	}

	if c.Probe != nil {
		setDuration(c.Probe.Timeout, &global.ProbeTimeout)
	}
}

func setDuration(s string, dst *time.Duration) {
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

// GetConfigFilePath returns the config file path from the environment.
// Returns empty string if no config file is specified.
func GetConfigFilePath() string {
	return getEnv(EnvPrefix + "CONFIG")
}
