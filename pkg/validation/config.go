package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"time"
)

// ConfigValidator collects cross-field validation errors through a
// fluent chain. Every check runs; HasErrors and Validate report the lot
// so an operator fixes one bad file in one round trip.
type ConfigValidator struct {
	errors []error
	name   string
}

// NewConfigValidator creates a validator whose errors are prefixed with
// the given config name
func NewConfigValidator(name string) *ConfigValidator {
	return &ConfigValidator{name: name}
}

// Required validates that a string field is not empty
func (cv *ConfigValidator) Required(field, value string) *ConfigValidator {
	if value == "" {
		cv.fail("%s.%s: required field is empty", cv.name, field)
	}
	return cv
}

// Positive validates that an int field is greater than zero
func (cv *ConfigValidator) Positive(field string, value int) *ConfigValidator {
	if value <= 0 {
		cv.fail("%s.%s: value %d must be positive", cv.name, field, value)
	}
	return cv
}

// NonNegative validates that an int field is zero or greater
func (cv *ConfigValidator) NonNegative(field string, value int) *ConfigValidator {
	if value < 0 {
		cv.fail("%s.%s: value %d must be non-negative", cv.name, field, value)
	}
	return cv
}

// RangeInt validates that an int field lies within [min, max]
func (cv *ConfigValidator) RangeInt(field string, value, min, max int) *ConfigValidator {
	if value < min || value > max {
		cv.fail("%s.%s: value %d is outside range [%d, %d]", cv.name, field, value, min, max)
	}
	return cv
}

// MinDuration validates that a duration is at least the minimum
func (cv *ConfigValidator) MinDuration(field string, value, min time.Duration) *ConfigValidator {
	if value < min {
		cv.fail("%s.%s: duration %v is below minimum %v", cv.name, field, value, min)
	}
	return cv
}

// RangeDuration validates that a duration lies within [min, max]
func (cv *ConfigValidator) RangeDuration(field string, value, min, max time.Duration) *ConfigValidator {
	if value < min || value > max {
		cv.fail("%s.%s: duration %v is outside range [%v, %v]", cv.name, field, value, min, max)
	}
	return cv
}

// MinLen validates that a string field has at least min bytes. Secrets
// use this so a truncated paste fails loudly instead of weakening auth.
func (cv *ConfigValidator) MinLen(field, value string, min int) *ConfigValidator {
	if len(value) < min {
		cv.fail("%s.%s: length %d is below minimum %d", cv.name, field, len(value), min)
	}
	return cv
}

// OneOf validates that a string field is one of the allowed values
func (cv *ConfigValidator) OneOf(field, value string, allowed ...string) *ConfigValidator {
	for _, a := range allowed {
		if value == a {
			return cv
		}
	}
	cv.fail("%s.%s: value %q must be one of %v", cv.name, field, value, allowed)
	return cv
}

// Pattern validates that a field holds a compilable regular expression.
// Empty values pass; absent patterns mean "use the built-in default".
func (cv *ConfigValidator) Pattern(field, expr string) *ConfigValidator {
	if expr == "" {
		return cv
	}
	if _, err := regexp.Compile(expr); err != nil {
		cv.fail("%s.%s: %v", cv.name, field, err)
	}
	return cv
}

// ListenAddr validates a host:port listen address. An empty host binds
// all interfaces, so ":8080" is legal.
func (cv *ConfigValidator) ListenAddr(field, addr string) *ConfigValidator {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		cv.fail("%s.%s: %q is not a host:port address", cv.name, field, addr)
	}
	return cv
}

// Scheme validates that a URL field uses one of the allowed schemes
func (cv *ConfigValidator) Scheme(field, rawURL string, allowed ...string) *ConfigValidator {
	u, err := url.Parse(rawURL)
	if err != nil {
		cv.fail("%s.%s: %v", cv.name, field, err)
		return cv
	}
	for _, a := range allowed {
		if u.Scheme == a {
			return cv
		}
	}
	cv.fail("%s.%s: scheme %q must be one of %v", cv.name, field, u.Scheme, allowed)
	return cv
}

// Custom applies a custom validation function
func (cv *ConfigValidator) Custom(field string, fn func() error) *ConfigValidator {
	if err := fn(); err != nil {
		cv.fail("%s.%s: %v", cv.name, field, err)
	}
	return cv
}

// When applies the enclosed validations only if the condition holds
func (cv *ConfigValidator) When(condition bool, validations func(*ConfigValidator)) *ConfigValidator {
	if condition {
		validations(cv)
	}
	return cv
}

func (cv *ConfigValidator) fail(format string, args ...any) {
	cv.errors = append(cv.errors, fmt.Errorf(format, args...))
}

// HasErrors reports whether any validation failed
func (cv *ConfigValidator) HasErrors() bool {
	return len(cv.errors) > 0
}

// Errors returns every collected validation error
func (cv *ConfigValidator) Errors() []error {
	return cv.errors
}

// Validate returns nil when everything passed, the sole error when one
// check failed, and a count-prefixed summary otherwise
func (cv *ConfigValidator) Validate() error {
	switch len(cv.errors) {
	case 0:
		return nil
	case 1:
		return cv.errors[0]
	default:
		return fmt.Errorf("%s: %d validation errors, first: %w", cv.name, len(cv.errors), cv.errors[0])
	}
}

// DefaultOr returns value unless it is the zero value, then fallback
func DefaultOr[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}

// DefaultOrDuration returns value unless it is zero or negative, then fallback
func DefaultOrDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// ClampInt clamps value to [min, max]
func ClampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
