package media

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
)

// Category is a user-actionable class of acquisition failure.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryPermissionDenied
	CategoryDeviceNotFound
	CategoryDeviceBusy
	CategoryOverconstrained
)

func (c Category) String() string {
	switch c {
	case CategoryPermissionDenied:
		return "permission-denied"
	case CategoryDeviceNotFound:
		return "device-not-found"
	case CategoryDeviceBusy:
		return "device-busy"
	case CategoryOverconstrained:
		return "overconstrained"
	default:
		return "unknown"
	}
}

// Hint is the message shown to the user for the category.
func (c Category) Hint() string {
	switch c {
	case CategoryPermissionDenied:
		return "camera or microphone access was denied; allow access and try again"
	case CategoryDeviceNotFound:
		return "no camera or microphone was found; connect a device and try again"
	case CategoryDeviceBusy:
		return "the camera or microphone is in use by another application; close it and try again"
	case CategoryOverconstrained:
		return "no device supports the requested settings"
	default:
		return "the camera or microphone could not be started"
	}
}

// Sentinels mirroring the DOM exception names capture backends report.
var (
	ErrNotAllowed      = errors.New("NotAllowedError")
	ErrNotFound        = errors.New("NotFoundError")
	ErrNotReadable     = errors.New("NotReadableError")
	ErrOverconstrained = errors.New("OverconstrainedError")
)

// Error is a classified media acquisition failure.
type Error struct {
	Category    Category
	Constraints Constraints
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Category.Hint()
	}
	return e.Category.Hint() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a looser constraint set may succeed.
func (e *Error) Retryable() bool {
	return e.Category != CategoryPermissionDenied
}

// Classify maps a raw backend error onto the taxonomy. Already classified
// errors are returned unchanged.
func Classify(err error, c Constraints) *Error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return &Error{Category: categorize(err), Constraints: c, Err: err}
}

func categorize(err error) Category {
	switch {
	case errors.Is(err, ErrNotAllowed), errors.Is(err, os.ErrPermission),
		errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return CategoryPermissionDenied
	case errors.Is(err, ErrNotReadable), errors.Is(err, syscall.EBUSY):
		return CategoryDeviceBusy
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist),
		errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENOENT):
		return CategoryDeviceNotFound
	case errors.Is(err, ErrOverconstrained):
		return CategoryOverconstrained
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"):
		return CategoryPermissionDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "not readable"):
		return CategoryDeviceBusy
	case strings.Contains(msg, "failed to find the best driver"):
		return CategoryOverconstrained
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such device"):
		return CategoryDeviceNotFound
	}
	return CategoryUnknown
}

// IsCanceled reports whether err came from context cancellation rather than
// the device.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
