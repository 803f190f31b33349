// Package address validates resolver addresses entered by users.
//
// Addresses stay opaque strings. Nothing downstream performs arithmetic on
// them, so they are never parsed into numeric form.
package address

import (
	"errors"
	"fmt"
	"regexp"
)

var ipv4Pattern = regexp.MustCompile(
	`^((25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`,
)

// Field names reported by FieldError.
const (
	FieldPrimary   = "primary"
	FieldSecondary = "secondary"
)

var (
	// ErrInvalidPrimary indicates the primary address is missing or malformed.
	ErrInvalidPrimary = errors.New("enter a valid IP (e.g. 8.8.8.8)")

	// ErrInvalidSecondary indicates the secondary address is malformed.
	ErrInvalidSecondary = errors.New("secondary DNS address is invalid")
)

// FieldError ties a validation failure to the input field that caused it.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Validate reports whether addr is a dotted-quad IPv4 address.
// The empty string is accepted so incomplete form input is not flagged.
func Validate(addr string) bool {
	if addr == "" {
		return true
	}
	return ipv4Pattern.MatchString(addr)
}

// ValidatePair applies the rule used before any mutation: the primary must be
// present and valid, the secondary may be empty but otherwise must be valid.
func ValidatePair(primary, secondary string) error {
	if primary == "" || !Validate(primary) {
		return &FieldError{Field: FieldPrimary, Value: primary, Err: ErrInvalidPrimary}
	}
	if !Validate(secondary) {
		return &FieldError{Field: FieldSecondary, Value: secondary, Err: ErrInvalidSecondary}
	}
	return nil
}

// FieldOf returns the field name carried by a validation error, or "".
func FieldOf(err error) string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}
