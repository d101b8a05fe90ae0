package call

import (
	"fmt"

	"livecall/native/internal/domain"
	"livecall/native/internal/signal"
)

// Action is the side effect a step asks the session to perform.
type Action int

const (
	ActNone Action = iota
	ActAcquireMedia
	ActOpenSignaling
	ActJoin
	ActSendOffer
	ActAnswerOffer
	ActApplyAnswer
	ActAddCandidate
	ActSendCandidate
	ActDeliverTrack
	ActToggleMedia
	ActRelease
	ActDiscard
)

var actionNames = [...]string{
	ActNone:          "none",
	ActAcquireMedia:  "acquire-media",
	ActOpenSignaling: "open-signaling",
	ActJoin:          "join",
	ActSendOffer:     "send-offer",
	ActAnswerOffer:   "answer-offer",
	ActApplyAnswer:   "apply-answer",
	ActAddCandidate:  "add-candidate",
	ActSendCandidate: "send-candidate",
	ActDeliverTrack:  "deliver-track",
	ActToggleMedia:   "toggle-media",
	ActRelease:       "release",
	ActDiscard:       "discard",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Step is the outcome of one transition.
type Step struct {
	Next   State
	Action Action
	// Err is the failure cause when Next is StateFailed.
	Err error
}

func stay(st State) Step { return Step{Next: st} }

func fail(err error) Step {
	return Step{Next: StateFailed, Action: ActRelease, Err: err}
}

func protocolError(st State, reason string) Step {
	return fail(&NegotiationError{State: st, Reason: reason})
}

// Transition is the pure state function of a call session. It decides the
// next state and the single side effect; it never performs I/O.
func Transition(st State, role domain.Role, ev Event) Step {
	if st.Terminal() {
		switch ev.(type) {
		case MediaAcquired, SignalingOpened:
			return Step{Next: st, Action: ActDiscard}
		}
		return stay(st)
	}

	switch ev := ev.(type) {
	case Start:
		if st == StateIdle {
			return Step{Next: StateConnecting, Action: ActAcquireMedia}
		}
		return stay(st)

	case MediaAcquired:
		if st == StateConnecting {
			return Step{Next: StateConnecting, Action: ActOpenSignaling}
		}
		return Step{Next: st, Action: ActDiscard}

	case SignalingOpened:
		if st == StateConnecting {
			return Step{Next: StateSignalingOpen, Action: ActJoin}
		}
		return Step{Next: st, Action: ActDiscard}

	case MediaFailed:
		return fail(ev.Err)

	case SignalingFailed:
		return fail(ev.Err)

	case NegotiationFailed:
		return fail(ev.Err)

	case PeerFailed:
		return fail(ev.Err)

	case SignalingClosed:
		if ev.Info.Intentional {
			return Step{Next: StateEnded, Action: ActRelease}
		}
		return fail(ev.Info.Err)

	case Hangup:
		return Step{Next: StateEnded, Action: ActRelease}

	case SetMedia:
		return Step{Next: st, Action: ActToggleMedia}

	case LocalCandidate:
		switch st {
		case StateSignalingOpen, StateNegotiating, StateConnected:
			return Step{Next: st, Action: ActSendCandidate}
		}
		return stay(st)

	case RemoteTrack:
		switch st {
		case StateNegotiating:
			return Step{Next: StateConnected, Action: ActDeliverTrack}
		case StateConnected:
			return Step{Next: StateConnected, Action: ActDeliverTrack}
		}
		return stay(st)

	case Received:
		return received(st, role, ev.Msg)
	}
	return stay(st)
}

func received(st State, role domain.Role, msg signal.Message) Step {
	switch m := msg.(type) {
	case signal.PeerJoined:
		if st == StateSignalingOpen && role == domain.RoleCaller {
			return Step{Next: StateNegotiating, Action: ActSendOffer}
		}
		return stay(st)

	case signal.Offer:
		switch st {
		case StateSignalingOpen:
			return Step{Next: StateNegotiating, Action: ActAnswerOffer}
		case StateNegotiating, StateConnected:
			return protocolError(st, "offer received while a negotiation is already in flight")
		}
		return protocolError(st, "offer received before joining")

	case signal.Answer:
		if st == StateNegotiating && role == domain.RoleCaller {
			return Step{Next: StateNegotiating, Action: ActApplyAnswer}
		}
		return protocolError(st, "unexpected answer")

	case signal.Ice:
		switch st {
		case StateSignalingOpen, StateNegotiating, StateConnected:
			return Step{Next: st, Action: ActAddCandidate}
		}
		return stay(st)

	case signal.Join:
		return stay(st)

	case signal.Malformed:
		return fail(&NegotiationError{State: st, Reason: "malformed signaling message", Err: m.Err})
	}
	return protocolError(st, fmt.Sprintf("unhandled message %T", msg))
}
