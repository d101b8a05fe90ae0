package call

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned when a call is already in progress.
	ErrSessionActive = errors.New("a call is already active")
	// ErrCaptureBusy is returned when another session holds the capture devices.
	ErrCaptureBusy = errors.New("capture devices are in use by a broadcast")
	// ErrNoSession is returned when there is no call to act on.
	ErrNoSession = errors.New("no active call")
)

// NegotiationError is fatal to the call: malformed SDP or a message that is
// not valid in the current state.
type NegotiationError struct {
	State  State
	Reason string
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("negotiation failed in %s: %s: %v", e.State, e.Reason, e.Err)
	}
	return fmt.Sprintf("negotiation failed in %s: %s", e.State, e.Reason)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
