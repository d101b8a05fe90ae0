package webrtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	applog "livecall/native/internal/logging"
	"livecall/native/internal/media"
)

var (
	// ErrMalformedSDP is returned for descriptions that do not parse.
	ErrMalformedSDP = errors.New("malformed SDP")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("peer connection closed")
	// ErrUnknownTrack is returned when toggling a track this connection never sent.
	ErrUnknownTrack = errors.New("track not attached")
)

// Config configures a Negotiator.
type Config struct {
	// API is the shared pion API. If nil a default one is built.
	API *pion.API

	ICE domain.ICEConfig

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Negotiator owns one PeerConnection and applies descriptions and remote
// candidates in a valid order regardless of arrival order.
type Negotiator struct {
	pc  *pion.PeerConnection
	log logging.LeveledLogger

	mu      sync.Mutex
	queue   candidateQueue[pion.ICECandidateInit]
	senders map[*media.Track]*pion.RTPSender
	closed  bool

	onFailure func(error)
}

// NewNegotiator creates the PeerConnection.
func NewNegotiator(cfg Config) (*Negotiator, error) {
	api := cfg.API
	if api == nil {
		var err error
		if api, err = NewAPI(APIConfig{LoggerFactory: cfg.LoggerFactory}); err != nil {
			return nil, err
		}
	}

	pc, err := api.NewPeerConnection(Configuration(cfg.ICE))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	n := &Negotiator{
		pc:      pc,
		log:     applog.Scoped(cfg.LoggerFactory, "webrtc"),
		senders: make(map[*media.Track]*pion.RTPSender),
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		n.log.Infof("ICE connection state: %s", state)
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		n.log.Infof("peer connection state: %s", state)
		if state == pion.PeerConnectionStateFailed {
			n.mu.Lock()
			fn := n.onFailure
			n.mu.Unlock()
			if fn != nil {
				fn(errors.New("peer connection failed"))
			}
		}
	})

	return n, nil
}

// AddStream attaches every captured track as a sender.
func (n *Negotiator) AddStream(s *media.Stream) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}

	for _, t := range s.Tracks() {
		sender, err := n.pc.AddTrack(t.Local())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		n.senders[t] = sender
		go drainRTCP(sender)
	}
	return nil
}

// AddRecvOnly adds one receive-only transceiver per kind.
func (n *Negotiator) AddRecvOnly(kinds ...pion.RTPCodecType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}

	for _, kind := range kinds {
		_, err := n.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// SetTrackEnabled mutes or unmutes a sent track by swapping it out of its
// sender. Capture keeps running.
func (n *Negotiator) SetTrackEnabled(t *media.Track, on bool) error {
	n.mu.Lock()
	sender, ok := n.senders[t]
	n.mu.Unlock()
	if !ok {
		return ErrUnknownTrack
	}
	if on {
		return sender.ReplaceTrack(t.Local())
	}
	return sender.ReplaceTrack(nil)
}

// OnLocalCandidate forwards gathered local candidates. Loopback candidates
// are filtered.
func (n *Negotiator) OnLocalCandidate(send func(domain.ICECandidatePayload)) {
	n.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			n.log.Debug("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			n.log.Debug("filtering loopback ICE candidate")
			return
		}
		send(domain.ICECandidatePayload{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

// OnRemoteTrack registers the remote track callback.
func (n *Negotiator) OnRemoteTrack(fn func(*pion.TrackRemote, *pion.RTPReceiver)) {
	n.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		n.log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)
		fn(track, receiver)
	})
}

// OnFailure registers a callback for an unrecoverable transport failure.
func (n *Negotiator) OnFailure(fn func(error)) {
	n.mu.Lock()
	n.onFailure = fn
	n.mu.Unlock()
}

// CreateOffer creates and sets the local offer. With waitGathering the
// returned SDP carries every candidate (non-trickle, as WHIP/WHEP need).
func (n *Negotiator) CreateOffer(ctx context.Context, waitGathering bool) (domain.SDPPayload, error) {
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	return n.setLocal(ctx, offer, waitGathering)
}

// AcceptOffer applies a remote offer, flushes buffered candidates and
// returns the local answer.
func (n *Negotiator) AcceptOffer(ctx context.Context, offer domain.SDPPayload) (domain.SDPPayload, error) {
	if err := n.setRemote(offer, pion.SDPTypeOffer); err != nil {
		return domain.SDPPayload{}, err
	}
	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	return n.setLocal(ctx, answer, false)
}

// AcceptAnswer applies the remote answer and flushes buffered candidates.
func (n *Negotiator) AcceptAnswer(answer domain.SDPPayload) error {
	return n.setRemote(answer, pion.SDPTypeAnswer)
}

// AddRemoteCandidate applies c, or buffers it until a remote description
// exists. Buffered candidates keep their arrival order.
func (n *Negotiator) AddRemoteCandidate(c domain.ICECandidatePayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}

	init := pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if !n.queue.ready {
		n.log.Debugf("buffering remote ICE candidate (%d pending)", n.queue.len()+1)
	}
	return n.queue.offer(init, n.addCandidate)
}

// PendingCandidates is the number of buffered remote candidates.
func (n *Negotiator) PendingCandidates() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queue.len()
}

// SignalingState exposes the pion signaling state.
func (n *Negotiator) SignalingState() pion.SignalingState {
	return n.pc.SignalingState()
}

// Close shuts the PeerConnection down. Safe to call more than once.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	return n.pc.Close()
}

func (n *Negotiator) addCandidate(c pion.ICECandidateInit) error {
	if err := n.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (n *Negotiator) setLocal(ctx context.Context, desc pion.SessionDescription, waitGathering bool) (domain.SDPPayload, error) {
	var gathered <-chan struct{}
	if waitGathering {
		gathered = pion.GatheringCompletePromise(n.pc)
	}
	if err := n.pc.SetLocalDescription(desc); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	if waitGathering {
		select {
		case <-gathered:
		case <-ctx.Done():
			return domain.SDPPayload{}, ctx.Err()
		}
	}

	local := n.pc.LocalDescription()
	if local == nil {
		return domain.SDPPayload{}, errors.New("local description missing")
	}
	return domain.SDPPayload{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (n *Negotiator) setRemote(p domain.SDPPayload, want pion.SDPType) error {
	if err := ValidateSDP(p, want); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if err := n.pc.SetRemoteDescription(pion.SessionDescription{Type: want, SDP: p.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	n.log.Infof("remote SDP %s set", want)

	if err := n.queue.open(n.addCandidate); err != nil {
		n.log.Warnf("apply buffered candidates: %v", err)
	}
	return nil
}

// ValidateSDP checks that p is a parseable description of the wanted type
// with at least one media section.
func ValidateSDP(p domain.SDPPayload, want pion.SDPType) error {
	if p.Type != "" && pion.NewSDPType(p.Type) != want {
		return fmt.Errorf("%w: expected %s, got %q", ErrMalformedSDP, want, p.Type)
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(p.SDP)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSDP, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrMalformedSDP)
	}
	return nil
}

func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
