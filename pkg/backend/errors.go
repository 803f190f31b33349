package backend

import (
	"errors"
	"fmt"
)

// Common errors for backend operations.
var (
	// ErrPermission indicates the process lacks rights to change network settings.
	ErrPermission = errors.New("insufficient privilege")

	// ErrUnavailable indicates the managed system could not be reached.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrNoInterface indicates no active network interface was found.
	ErrNoInterface = errors.New("no active interface")
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("configuration error: %s=%q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// ErrConfigInvalid creates an error for an invalid configuration value.
func ErrConfigInvalid(field, value, message string) error {
	return &ConfigError{Field: field, Value: value, Message: message}
}

// BackendError wraps an error with backend context.
type BackendError struct {
	Backend   string
	Operation string
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Operation, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with backend context.
func WrapError(backend, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Operation: operation, Err: err}
}

// IsPermission returns true if the error indicates missing privileges.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsUnavailable returns true if the error indicates the backend is unreachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsNoInterface returns true if the error indicates no active interface.
func IsNoInterface(err error) bool {
	return errors.Is(err, ErrNoInterface)
}
