// Unified error handling for the reflow oven controller
//
// Copyright (C) 2026  ReflowOven Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for callers that dispatch on failure class
// rather than message text.
type Kind string

const (
	// KindInvalidArgument marks a rejected setter input or profile field.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"

	// KindInvalidState marks an operation attempted in the wrong state
	// (start while running, stop when idle, door command while running).
	KindInvalidState Kind = "INVALID_STATE"

	// KindNotFound marks a missing resource (empty slot, no uploaded profile).
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict marks a resource collision (occupied slot on save,
	// setpoint write while a profile holds the lock).
	KindConflict Kind = "CONFLICT"

	// KindIoFailed marks a hardware or storage failure.
	KindIoFailed Kind = "IO_FAILED"

	// KindTransitionGuard marks a profile run aborted by the per-tick
	// transition cap.
	KindTransitionGuard Kind = "TRANSITION_GUARD"

	// KindSensorError marks a tick on which every enabled input channel
	// failed to read.
	KindSensorError Kind = "SENSOR_ERROR"
)

// OvenError is the unified error type for the controller core.
type OvenError struct {
	// Code is the error category.
	Code Kind

	// Message is a human-readable description.
	Message string

	// Err wraps the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *OvenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *OvenError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an OvenError of the same Kind, so
// errors.Is(err, errs.InvalidState()) works across wrapping.
func (e *OvenError) Is(target error) bool {
	var oe *OvenError
	if !errors.As(target, &oe) {
		return false
	}
	return oe.Code == e.Code
}

// New creates an OvenError of the given kind.
func New(code Kind, format string, args ...interface{}) *OvenError {
	return &OvenError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an OvenError of the given kind around a cause.
func Wrap(code Kind, err error, format string, args ...interface{}) *OvenError {
	return &OvenError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf extracts the Kind from err, or "" if err is not an OvenError.
func KindOf(err error) Kind {
	var oe *OvenError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// Sentinel helpers for errors.Is checks. Each returns a bare error of the
// kind with no message.

func InvalidArgument() error { return &OvenError{Code: KindInvalidArgument} }
func InvalidState() error    { return &OvenError{Code: KindInvalidState} }
func NotFound() error        { return &OvenError{Code: KindNotFound} }
func Conflict() error        { return &OvenError{Code: KindConflict} }
func IoFailed() error        { return &OvenError{Code: KindIoFailed} }
func TransitionGuard() error { return &OvenError{Code: KindTransitionGuard} }
func SensorError() error     { return &OvenError{Code: KindSensorError} }

// IsKind reports whether err carries the given kind.
func IsKind(err error, code Kind) bool {
	return KindOf(err) == code
}
