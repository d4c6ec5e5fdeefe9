// Package protocol defines the error kinds surfaced by device sessions.
//
// Two kinds exist. A [ConnectionError] means the Bluetooth transport failed; the device should be
// reported as unavailable and the next update cycle may succeed. A [DecodeError] means a payload
// arrived but did not match the vendor frame format; it is specific to one device and never fatal.
package protocol

import (
	"errors"
	"fmt"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// Temporary returns true if the Error might be the result of a transient condition, such as a
	// Bluetooth adapter that was reset or a scan that was interrupted by the kernel.
	Temporary() bool
}

var (
	// ErrAdapterUnavailable indicates the Bluetooth adapter could not be opened or stopped scanning.
	ErrAdapterUnavailable = NewConnectionError("bluetooth adapter unavailable", nil)
	// ErrScannerStopped indicates the shared scanner was stopped while a session was waiting.
	ErrScannerStopped = NewConnectionError("bluetooth scanner stopped", nil)
	// ErrUnknownModel indicates a payload could not be attributed to a supported device model.
	ErrUnknownModel = errors.New("unknown device model")
)

// ConnectionError reports a failure of the Bluetooth transport.
type ConnectionError struct {
	Op  string
	Err error
}

// NewConnectionError returns a ConnectionError for op, optionally wrapping the underlying cause.
func NewConnectionError(op string, err error) error {
	return &ConnectionError{Op: op, Err: err}
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Temporary() bool {
	return true
}

// DecodeError reports a payload that did not match the expected frame format.
type DecodeError struct {
	Reason string
	Length int
}

func NewDecodeError(length int, format string, a ...interface{}) error {
	return &DecodeError{Reason: fmt.Sprintf(format, a...), Length: length}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid frame (%d bytes): %s", e.Length, e.Reason)
}

func (e *DecodeError) Temporary() bool {
	return false
}

// IsConnectionError returns true if err wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var cErr *ConnectionError
	return errors.As(err, &cErr)
}

// IsDecodeError returns true if err wraps a DecodeError.
func IsDecodeError(err error) bool {
	var dErr *DecodeError
	return errors.As(err, &dErr)
}

// Temporary returns true if err is an Error that indicates a possibly transient condition that does
// not require user action to resolve.
func Temporary(err error) bool {
	var pErr Error
	if errors.As(err, &pErr) {
		return pErr.Temporary()
	}
	return false
}
