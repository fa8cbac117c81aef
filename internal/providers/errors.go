package providers

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
)

// ConfigError means a provider is not configured (e.g. missing endpoint). Fatal for the call.
type ConfigError struct {
	Provider string
	Message  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s provider misconfigured: %s", e.Provider, e.Message)
}

// TransientError is a network failure, timeout or 5xx answer. Retry by re-running the pipeline.
type TransientError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransientError) Error() string {
	msg := fmt.Sprintf("%s provider unavailable", e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// MalformedOutputError means the provider answered, but the answer is unusable.
// RawText keeps the model's answer when there was one.
type MalformedOutputError struct {
	Provider string
	Message  string
	RawText  string
	Cause    error
}

func (e *MalformedOutputError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s provider returned malformed output: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s provider returned malformed output: %s", e.Provider, e.Message)
}

func (e *MalformedOutputError) Unwrap() error {
	return e.Cause
}

// IsConfig reports whether err is a ConfigError
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is a TransientError, a timeout or a network error
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsMalformed reports whether err is a MalformedOutputError
func IsMalformed(err error) bool {
	var me *MalformedOutputError
	return errors.As(err, &me)
}

// RawTextOf returns the unparsed model answer carried by a MalformedOutputError
func RawTextOf(err error) (string, bool) {
	var me *MalformedOutputError
	if !errors.As(err, &me) {
		return "", false
	}
	return me.RawText, true
}

// Classify names the error class for logs and metrics
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsConfig(err):
		return "config"
	case IsMalformed(err):
		return "malformed"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

var validate = validator.New()

// ValidateOutput checks provider output against its struct tags
func ValidateOutput(provider string, v any) error {
	if err := validate.Struct(v); err != nil {
		return &MalformedOutputError{Provider: provider, Message: "output failed validation", Cause: err}
	}
	return nil
}
