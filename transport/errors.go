package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidState is returned when an engine operation is called out of order, such as
// adding a remote candidate before the remote description is set.
var ErrInvalidState = errors.New("transport in invalid state")

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("transport closed")

// A PermissionError is returned when access to a capture device is denied.
type PermissionError struct {
	Device string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s", e.Device)
}

// DeviceErrorReason says why a capture device could not be used.
type DeviceErrorReason string

// The reasons a device may be unusable.
const (
	DeviceNotFound = DeviceErrorReason("not-found")
	DeviceInUse    = DeviceErrorReason("in-use")
)

// A DeviceError is returned when a capture device is missing or busy.
type DeviceError struct {
	Device string
	Reason DeviceErrorReason
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Device, e.Reason)
}

// IsMediaError returns whether the error came from acquiring local media. These errors
// are final; retrying will not help until the user intervenes.
func IsMediaError(err error) bool {
	var permErr *PermissionError
	var devErr *DeviceError
	return errors.As(err, &permErr) || errors.As(err, &devErr)
}
