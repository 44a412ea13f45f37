package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "validation failed with %d errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&builder, "  %d. %s\n", i+1, err.Error())
	}
	return builder.String()
}

// minLivenessInterval keeps the poll from spinning on the target.
const minLivenessInterval = 10 * time.Millisecond

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// Validate checks the configuration for values the attacher cannot use.
func (c *Config) Validate() error {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Version != SchemaVersion {
		add("version", fmt.Sprintf("unsupported version %q, expected %q", c.Version, SchemaVersion))
	}

	if c.Target.ProcessName == "" {
		usable := 0
		for _, m := range c.Target.Criteria {
			if !m.Empty() {
				usable++
			}
		}
		if usable == 0 {
			add("target.criteria", "at least one non-empty matcher is required")
		}
	}

	if c.Target.DefaultLinkBase != 0 && c.Target.DefaultLinkBase%0x10000 != 0 {
		add("target.default_link_base", "must be aligned to 64 KiB")
	}

	if c.Liveness.Enabled && c.Liveness.Interval < minLivenessInterval {
		add("liveness.interval", fmt.Sprintf("must be at least %s", minLivenessInterval))
	}

	if !logLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "must be one of trace, debug, info, warn, error")
	}

	if c.AttachRetry.MaxRetries < 1 {
		add("attach_retry.max_retries", "must be at least 1")
	}
	if c.AttachRetry.InitialBackoff <= 0 {
		add("attach_retry.initial_backoff", "must be positive")
	}
	if c.AttachRetry.MaxBackoff != 0 && c.AttachRetry.MaxBackoff < c.AttachRetry.InitialBackoff {
		add("attach_retry.max_backoff", "must not be lower than initial_backoff")
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
