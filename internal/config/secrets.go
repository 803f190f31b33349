package config

import (
	"os"
	"strings"
)

// EnvPrefix prefixes every environment variable read by this package.
const EnvPrefix = "DNSSWITCH_"

// getEnv retrieves an environment variable value.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrFile retrieves a value from either a direct environment variable
// or a file path specified by the file key (mounted secrets pattern).
//
// If both are set, the file takes precedence. The file contents are trimmed
// of leading/trailing whitespace.
func getEnvOrFile(directKey, fileKey string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return os.Getenv(directKey)
}

// parseBool parses a boolean string, returning defaultValue on parse failure.
// Accepts: true/false, 1/0, yes/no, on/off (case-insensitive).
func parseBool(s string, defaultValue bool) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// settingKey converts an environment suffix to a backend setting key.
// Example: "SSH_KEY_FILE" → "ssh_key_file"
func settingKey(envSuffix string) string {
	return strings.ToLower(envSuffix)
}

// lookupEnv reports whether key is set, even to an empty value.
func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}
