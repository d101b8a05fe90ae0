package call

import (
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	"livecall/native/internal/media"
	"livecall/native/internal/signal"
)

// Event is an input to the session state machine. The set is closed.
type Event interface {
	isEvent()
}

type (
	// Start begins the session.
	Start struct{}

	// MediaAcquired delivers the captured local stream.
	MediaAcquired struct{ Stream *media.Stream }

	// MediaFailed reports that every constraint set was rejected.
	MediaFailed struct{ Err error }

	// SignalingOpened delivers the connected signaling socket.
	SignalingOpened struct{ Conn Signaling }

	// SignalingFailed reports that the socket could not be opened.
	SignalingFailed struct{ Err error }

	// SignalingClosed reports that the socket ended.
	SignalingClosed struct{ Info signal.CloseInfo }

	// Received wraps an inbound signaling message.
	Received struct{ Msg signal.Message }

	// LocalCandidate is a gathered local candidate to trickle to the peer.
	LocalCandidate struct{ Candidate domain.ICECandidatePayload }

	// RemoteTrack reports a remote media track.
	RemoteTrack struct {
		Track    *pion.TrackRemote
		Receiver *pion.RTPReceiver
	}

	// NegotiationFailed reports a failed offer/answer step.
	NegotiationFailed struct{ Err error }

	// PeerFailed reports that the peer connection failed.
	PeerFailed struct{ Err error }

	// Hangup is the local end-call action.
	Hangup struct{}

	// SetMedia toggles the enabled flag of local tracks of one kind.
	SetMedia struct {
		Kind    pion.RTPCodecType
		Enabled bool
	}
)

func (Start) isEvent()             {}
func (MediaAcquired) isEvent()     {}
func (MediaFailed) isEvent()       {}
func (SignalingOpened) isEvent()   {}
func (SignalingFailed) isEvent()   {}
func (SignalingClosed) isEvent()   {}
func (Received) isEvent()          {}
func (LocalCandidate) isEvent()    {}
func (RemoteTrack) isEvent()       {}
func (NegotiationFailed) isEvent() {}
func (PeerFailed) isEvent()        {}
func (Hangup) isEvent()            {}
func (SetMedia) isEvent()          {}
