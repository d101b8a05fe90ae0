package call

import (
	"context"
	"strings"

	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	"livecall/native/internal/media"
	"livecall/native/internal/signal"
	"livecall/native/internal/webrtc"
)

// Signaling is the per-call signaling connection.
type Signaling interface {
	Listen(onMessage func(signal.Message), onClose func(signal.CloseInfo)) error
	Send(m signal.Message)
	Close() error
}

// SignalingDialer opens a fresh signaling connection for roomID. Every
// session dials its own; connections are never shared.
type SignalingDialer func(ctx context.Context, roomID string) (Signaling, error)

// Negotiator is the peer connection a session drives.
type Negotiator interface {
	AddStream(s *media.Stream) error
	CreateOffer(ctx context.Context, waitGathering bool) (domain.SDPPayload, error)
	AcceptOffer(ctx context.Context, offer domain.SDPPayload) (domain.SDPPayload, error)
	AcceptAnswer(answer domain.SDPPayload) error
	AddRemoteCandidate(c domain.ICECandidatePayload) error
	SetTrackEnabled(t *media.Track, on bool) error
	OnLocalCandidate(fn func(domain.ICECandidatePayload))
	OnRemoteTrack(fn func(*pion.TrackRemote, *pion.RTPReceiver))
	OnFailure(fn func(error))
	Close() error
}

// NegotiatorFactory creates the negotiator for a new session.
type NegotiatorFactory func() (Negotiator, error)

// NewWebSocketDialer dials url for every session. A "{room}" placeholder in
// url is replaced with the room id.
func NewWebSocketDialer(url string, cfg signal.Config) SignalingDialer {
	return func(ctx context.Context, roomID string) (Signaling, error) {
		return signal.Dial(ctx, strings.ReplaceAll(url, "{room}", roomID), cfg)
	}
}

// NewPionNegotiatorFactory creates pion-backed negotiators.
func NewPionNegotiatorFactory(cfg webrtc.Config) NegotiatorFactory {
	return func() (Negotiator, error) {
		return webrtc.NewNegotiator(cfg)
	}
}
