package helper

import (
	"errors"
	"fmt"
	"strings"
)

// Error wraps an original error with the trace of operations it passed through.
type Error struct {
	Original error
	Trace    []string
}

// NewError wraps err with a trace step. If err already is an Error the step
// is appended to its trace instead of nesting a new one.
func NewError(trace string, original error) error {
	var e Error
	if errors.As(original, &e) {
		e.Trace = append(append([]string{}, e.Trace...), trace)
		return e
	}

	return Error{
		Original: original,
		Trace:    []string{trace},
	}
}

// Error returns the original message followed by the trace, innermost step first.
func (e Error) Error() string {
	return fmt.Sprintf("%v (trace: %s)", e.Original, strings.Join(e.Trace, " <- "))
}

// Unwrap returns the original error.
func (e Error) Unwrap() error {
	return e.Original
}

// ConfigurationError reports missing store preconditions (indexes, constraints).
// It is fatal: a run must abort before writing anything.
type ConfigurationError struct {
	Missing []string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if len(e.Missing) > 0 {
		msg += ": missing " + strings.Join(e.Missing, ", ")
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
