// Package config handles loading and validation of dnsswitch configuration
// from DNSSWITCH_* environment variables and an optional YAML or TOML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Config holds the complete application configuration.
type Config struct {
	Global  *GlobalConfig
	Backend *BackendConfig

	// File is the configuration file that was loaded, if any.
	File string
}

// BackendConfig selects the resolver backend and carries its settings.
type BackendConfig struct {
	Type     string
	Name     string
	Settings map[string]string
}

// backendEnvPrefix prefixes backend settings, e.g. DNSSWITCH_BACKEND_SSH_HOST.
const backendEnvPrefix = EnvPrefix + "BACKEND_"

// secretSettings may be supplied through a _FILE variable.
var secretSettings = map[string]bool{
	"ssh_password":       true,
	"ssh_key_passphrase": true,
}

// Load builds the configuration: defaults, then the file named by
// DNSSWITCH_CONFIG, then environment overrides. All problems are reported
// together in a *ValidationError.
func Load() (*Config, error) {
	global := defaultGlobalConfig()
	be := &BackendConfig{
		Type:     DefaultBackendType(),
		Name:     DefaultBackendName,
		Settings: make(map[string]string),
	}

	var errs []string

	path := GetConfigFilePath()
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				errs = append(errs, verr.Errors...)
			} else {
				errs = append(errs, "config file: "+err.Error())
			}
		} else {
			fileCfg.apply(global, be)
			slog.Info("loaded configuration from file", slog.String("path", path))
		}
	}

	errs = append(errs, applyGlobalEnv(global)...)
	errs = append(errs, applyBackendEnv(be)...)
	errs = append(errs, validateGlobal(global)...)

	if global.DryRun {
		be.Type = "dryrun"
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &Config{Global: global, Backend: be, File: path}, nil
}

// applyBackendEnv reads DNSSWITCH_BACKEND_TYPE, DNSSWITCH_BACKEND_NAME and
// every other DNSSWITCH_BACKEND_<SETTING> as a backend setting.
func applyBackendEnv(be *BackendConfig) []string {
	var errs []string

	if v := getEnv(backendEnvPrefix + "TYPE"); v != "" {
		be.Type = strings.ToLower(strings.TrimSpace(v))
	}
	if v := getEnv(backendEnvPrefix + "NAME"); v != "" {
		be.Name = strings.TrimSpace(v)
	}

	switch be.Type {
	case "resolvconf", "resolved", "netsh", "dryrun":
	default:
		errs = append(errs, fmt.Sprintf("%sTYPE: invalid value %q (must be resolvconf, resolved, netsh, or dryrun)", backendEnvPrefix, be.Type))
	}

	for _, suffix := range backendEnvSuffixes() {
		if suffix == "TYPE" || suffix == "NAME" {
			continue
		}
		key := settingKey(suffix)
		if base, ok := strings.CutSuffix(key, "_file"); ok && secretSettings[base] {
			if v := getEnvOrFile(backendEnvPrefix+strings.ToUpper(base), backendEnvPrefix+suffix); v != "" {
				be.Settings[base] = v
			}
			continue
		}
		if secretSettings[key] {
			// A _FILE variable for the same key wins; handled above.
			if _, ok := lookupEnv(backendEnvPrefix + suffix + "_FILE"); ok {
				continue
			}
		}
		be.Settings[key] = getEnv(backendEnvPrefix + suffix)
	}

	return errs
}

// backendEnvSuffixes lists the DNSSWITCH_BACKEND_* variable suffixes, sorted.
func backendEnvSuffixes() []string {
	var out []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if suffix, ok := strings.CutPrefix(name, backendEnvPrefix); ok && suffix != "" {
			out = append(out, suffix)
		}
	}
	sort.Strings(out)
	return out
}

// SlogLevel maps the configured level to slog.
func (g *GlobalConfig) SlogLevel() slog.Level {
	switch g.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
