package domain

import "context"

// RingingCallLister queries the call backend for calls ringing this user.
type RingingCallLister interface {
	ListRingingCalls(ctx context.Context) ([]IncomingCall, error)
}

// CallRejecter tells the call backend that the user declined a call.
type CallRejecter interface {
	RejectCall(ctx context.Context, callID string) error
}

// Alerter raises the user-facing ring for an incoming call.
type Alerter interface {
	Alert(ctx context.Context, call IncomingCall) error
}

// CallAcceptor takes ownership of an accepted incoming call and joins its
// room as callee.
type CallAcceptor interface {
	AcceptCall(ctx context.Context, call IncomingCall) error
}
