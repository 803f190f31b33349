package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("duration", validateDuration); err != nil {
		panic(err)
	}

	// Report fields by their file key.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateDuration accepts Go duration strings that are not negative.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validateFile runs struct validation over every present section.
func validateFile(c *FileConfig) []string {
	var errs []string
	sections := []struct {
		name  string
		value any
	}{
		{"logging", c.Logging},
		{"backend", c.Backend},
		{"controller", c.Controller},
		{"notifications", c.Notifications},
		{"watch", c.Watch},
		{"server", c.Server},
		{"probe", c.Probe},
	}
	for _, s := range sections {
		if reflect.ValueOf(s.value).IsNil() {
			continue
		}
		errs = append(errs, convertValidatorErrors(validate.Struct(s.value), s.name)...)
	}
	return errs
}

// convertValidatorErrors flattens validator errors into "section.field: message".
func convertValidatorErrors(err error, prefix string) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{prefix + ": " + err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, fmt.Sprintf("%s.%s: %s", prefix, e.Field(), validationMessage(e)))
	}
	return out
}

// validationMessage returns a human-readable message for a validation error.
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "duration":
		return fmt.Sprintf("invalid duration %q (use format like 800ms, 2s)", e.Value())
	case "hostname_rfc1123":
		return "must be a valid name (letters, digits and hyphens)"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}
