// Package call drives the lifecycle of one direct audio/video call: local
// capture, the signaling exchange and peer negotiation.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	applog "livecall/native/internal/logging"
	"livecall/native/internal/media"
	"livecall/native/internal/release"
	"livecall/native/internal/signal"
	"livecall/native/internal/webrtc"
)

// Config configures a Session.
type Config struct {
	RoomID string
	Role   domain.Role
	Kind   domain.MediaKind

	// Acquirer captures local media. Required.
	Acquirer media.Acquirer

	// Ladder overrides media.CallLadder(Kind).
	Ladder media.Ladder

	// Dial opens the signaling connection. Required.
	Dial SignalingDialer

	// NewNegotiator creates the peer connection. Required.
	NewNegotiator NegotiatorFactory

	// RemoteSink receives remote tracks. Defaults to webrtc.DrainSink.
	RemoteSink webrtc.Sink

	// OnStateChange is called from the session goroutine after every
	// state change.
	OnStateChange func(s *Session, st State, err error)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Session is one call. All state changes happen on a single goroutine that
// consumes events in arrival order; callbacks from capture, the socket and
// the peer connection only post events.
type Session struct {
	cfg    Config
	ladder media.Ladder
	sink   webrtc.Sink
	log    logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc
	box    *mailbox
	done   chan struct{}

	mu     sync.RWMutex
	state  State
	err    error
	stream *media.Stream

	// Owned by the session goroutine.
	neg     Negotiator
	conn    Signaling
	cleanup release.Stack
	want    map[pion.RTPCodecType]bool
}

// NewSession validates cfg and starts the session goroutine in StateIdle.
func NewSession(cfg Config) (*Session, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("call: room id is required")
	}
	if cfg.Acquirer == nil || cfg.Dial == nil || cfg.NewNegotiator == nil {
		return nil, errors.New("call: acquirer, dialer and negotiator factory are required")
	}

	s := &Session{
		cfg:    cfg,
		ladder: cfg.Ladder,
		sink:   cfg.RemoteSink,
		log:    applog.Scoped(cfg.LoggerFactory, "call"),
		box:    newMailbox(),
		done:   make(chan struct{}),
		want:   make(map[pion.RTPCodecType]bool),
	}
	if len(s.ladder) == 0 {
		s.ladder = media.CallLadder(cfg.Kind)
	}
	if s.sink == nil {
		s.sink = webrtc.DrainSink
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.loop()
	return s, nil
}

func (s *Session) RoomID() string         { return s.cfg.RoomID }
func (s *Session) Role() domain.Role      { return s.cfg.Role }
func (s *Session) Kind() domain.MediaKind { return s.cfg.Kind }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the failure cause once the session is StateFailed.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// LocalStream returns the captured stream, nil before capture.
func (s *Session) LocalStream() *media.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

// Done is closed once the session is terminal and every resource it
// acquired has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start begins capture. It has no effect after the first call.
func (s *Session) Start() { s.post(Start{}) }

// Deliver feeds an event into the session, as the transport and peer
// callbacks do.
func (s *Session) Deliver(ev Event) { s.post(ev) }

// End hangs up and waits until all resources are released.
func (s *Session) End(ctx context.Context) error {
	s.post(Hangup{})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetAudioEnabled mutes or unmutes the microphone without re-capturing.
func (s *Session) SetAudioEnabled(on bool) {
	s.post(SetMedia{Kind: pion.RTPCodecTypeAudio, Enabled: on})
}

// SetVideoEnabled turns the camera feed off or on without re-capturing.
func (s *Session) SetVideoEnabled(on bool) {
	s.post(SetMedia{Kind: pion.RTPCodecTypeVideo, Enabled: on})
}

func (s *Session) post(ev Event) {
	if !s.box.put(ev) {
		s.discard(ev)
	}
}

func (s *Session) loop() {
	for range s.box.notify {
		evs := s.box.take()
		for i, ev := range evs {
			s.handle(ev)
			if !s.State().Terminal() {
				continue
			}
			for _, late := range evs[i+1:] {
				s.discard(late)
			}
			for _, late := range s.box.seal() {
				s.discard(late)
			}
			close(s.done)
			return
		}
	}
}

func (s *Session) handle(ev Event) {
	if r, ok := ev.(Received); ok {
		if room := r.Msg.Room(); room != "" && room != s.cfg.RoomID {
			s.log.Warnf("drop %T for foreign room %q", r.Msg, room)
			return
		}
	}

	prev := s.State()
	step := Transition(prev, s.cfg.Role, ev)
	if step.Action != ActNone {
		s.log.Debugf("%s: %T -> %s (%s)", prev, ev, step.Next, step.Action)
	}

	if err := s.perform(step, ev); err != nil {
		s.handle(NegotiationFailed{Err: err})
		return
	}
	s.setState(prev, step)
}

func (s *Session) setState(prev State, step Step) {
	if step.Next == prev {
		return
	}
	s.mu.Lock()
	s.state = step.Next
	if step.Next == StateFailed {
		s.err = step.Err
	}
	s.mu.Unlock()

	if step.Next == StateFailed {
		s.log.Errorf("room %s: %s -> failed: %v", s.cfg.RoomID, prev, step.Err)
	} else {
		s.log.Infof("room %s: %s -> %s", s.cfg.RoomID, prev, step.Next)
	}
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(s, step.Next, step.Err)
	}
}

func (s *Session) perform(step Step, ev Event) error {
	switch step.Action {
	case ActAcquireMedia:
		go s.acquire()

	case ActOpenSignaling:
		return s.openSignaling(ev.(MediaAcquired).Stream)

	case ActJoin:
		return s.join(ev.(SignalingOpened).Conn)

	case ActSendOffer:
		offer, err := s.neg.CreateOffer(s.ctx, false)
		if err != nil {
			return &NegotiationError{State: StateSignalingOpen, Reason: "create offer", Err: err}
		}
		s.conn.Send(signal.Offer{RoomID: s.cfg.RoomID, SDP: offer})

	case ActAnswerOffer:
		offer := ev.(Received).Msg.(signal.Offer)
		answer, err := s.neg.AcceptOffer(s.ctx, offer.SDP)
		if err != nil {
			return &NegotiationError{State: StateSignalingOpen, Reason: "apply offer", Err: err}
		}
		s.conn.Send(signal.Answer{RoomID: s.cfg.RoomID, SDP: answer})

	case ActApplyAnswer:
		answer := ev.(Received).Msg.(signal.Answer)
		if err := s.neg.AcceptAnswer(answer.SDP); err != nil {
			return &NegotiationError{State: StateNegotiating, Reason: "apply answer", Err: err}
		}

	case ActAddCandidate:
		ice := ev.(Received).Msg.(signal.Ice)
		if err := s.neg.AddRemoteCandidate(ice.Candidate); err != nil {
			s.log.Warnf("remote candidate rejected: %v", err)
		}

	case ActSendCandidate:
		s.conn.Send(signal.Ice{RoomID: s.cfg.RoomID, Candidate: ev.(LocalCandidate).Candidate})

	case ActDeliverTrack:
		rt := ev.(RemoteTrack)
		if rt.Track != nil {
			s.sink.OnTrack(rt.Track, rt.Receiver)
		}

	case ActToggleMedia:
		sm := ev.(SetMedia)
		s.want[sm.Kind] = sm.Enabled
		s.applyEnabled(sm.Kind)

	case ActRelease:
		s.cancel()
		if err := s.cleanup.Release(); err != nil {
			s.log.Warnf("release: %v", err)
		}

	case ActDiscard:
		s.discard(ev)
	}
	return nil
}

func (s *Session) acquire() {
	stream, used, err := media.AcquireWithFallback(s.ctx, s.cfg.Acquirer, s.ladder, s.log)
	if err != nil {
		s.post(MediaFailed{Err: err})
		return
	}
	s.log.Infof("local media ready (%s)", used)
	s.post(MediaAcquired{Stream: stream})
}

func (s *Session) openSignaling(stream *media.Stream) error {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	_ = s.cleanup.Push("local media", stream.Stop)

	neg, err := s.cfg.NewNegotiator()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	s.neg = neg
	_ = s.cleanup.Push("peer connection", neg.Close)

	neg.OnLocalCandidate(func(c domain.ICECandidatePayload) { s.post(LocalCandidate{Candidate: c}) })
	neg.OnRemoteTrack(func(t *pion.TrackRemote, r *pion.RTPReceiver) { s.post(RemoteTrack{Track: t, Receiver: r}) })
	neg.OnFailure(func(err error) { s.post(PeerFailed{Err: err}) })

	if err := neg.AddStream(stream); err != nil {
		return fmt.Errorf("attach local media: %w", err)
	}
	for kind := range s.want {
		s.applyEnabled(kind)
	}

	go func() {
		conn, err := s.cfg.Dial(s.ctx, s.cfg.RoomID)
		if err != nil {
			s.post(SignalingFailed{Err: err})
			return
		}
		s.post(SignalingOpened{Conn: conn})
	}()
	return nil
}

func (s *Session) join(conn Signaling) error {
	s.conn = conn
	_ = s.cleanup.Push("signaling", conn.Close)

	err := conn.Listen(
		func(m signal.Message) { s.post(Received{Msg: m}) },
		func(ci signal.CloseInfo) { s.post(SignalingClosed{Info: ci}) },
	)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	conn.Send(signal.Join{RoomID: s.cfg.RoomID})
	return nil
}

func (s *Session) applyEnabled(kind pion.RTPCodecType) {
	on, ok := s.want[kind]
	stream := s.LocalStream()
	if !ok || stream == nil || s.neg == nil {
		return
	}
	for _, t := range stream.SetEnabled(kind, on) {
		if err := s.neg.SetTrackEnabled(t, on); err != nil {
			s.log.Warnf("toggle %s track: %v", kind, err)
		}
	}
}

// discard releases a resource that reached the session after it ended.
func (s *Session) discard(ev Event) {
	switch ev := ev.(type) {
	case MediaAcquired:
		s.log.Infof("stopping media acquired after the call ended")
		if err := ev.Stream.Stop(); err != nil {
			s.log.Warnf("stop late media: %v", err)
		}
	case SignalingOpened:
		s.log.Infof("closing signaling opened after the call ended")
		if err := ev.Conn.Close(); err != nil {
			s.log.Warnf("close late signaling: %v", err)
		}
	}
}
