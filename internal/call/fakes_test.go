package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	"livecall/native/internal/media"
	"livecall/native/internal/signal"
)

// fakeSignaling records outbound messages and lets the test play the server.
type fakeSignaling struct {
	mu        sync.Mutex
	sent      []signal.Message
	onMessage func(signal.Message)
	onClose   func(signal.CloseInfo)
	closed    bool
	listening chan struct{}
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{listening: make(chan struct{})}
}

func (f *fakeSignaling) Listen(onMessage func(signal.Message), onClose func(signal.CloseInfo)) error {
	f.mu.Lock()
	f.onMessage, f.onClose = onMessage, onClose
	f.mu.Unlock()
	close(f.listening)
	return nil
}

func (f *fakeSignaling) Send(m signal.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.sent = append(f.sent, m)
	}
}

func (f *fakeSignaling) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSignaling) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSignaling) deliver(m signal.Message) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	fn(m)
}

func (f *fakeSignaling) drop(ci signal.CloseInfo) {
	f.mu.Lock()
	fn := f.onClose
	f.mu.Unlock()
	fn(ci)
}

func (f *fakeSignaling) messages() []signal.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signal.Message(nil), f.sent...)
}

// fakeNegotiator buffers remote candidates until a remote description is set.
type fakeNegotiator struct {
	mu        sync.Mutex
	remoteSet bool
	pending   []domain.ICECandidatePayload
	applied   []domain.ICECandidatePayload
	toggles   []bool
	closed    bool
	onTrack   func(*pion.TrackRemote, *pion.RTPReceiver)
	onLocal   func(domain.ICECandidatePayload)
	onFailure func(error)
}

func (f *fakeNegotiator) AddStream(*media.Stream) error { return nil }

func (f *fakeNegotiator) CreateOffer(context.Context, bool) (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "offer", SDP: "v=0 offer"}, nil
}

func (f *fakeNegotiator) AcceptOffer(_ context.Context, offer domain.SDPPayload) (domain.SDPPayload, error) {
	if offer.SDP == "bad" {
		return domain.SDPPayload{}, errors.New("malformed SDP")
	}
	if err := f.setRemote(); err != nil {
		return domain.SDPPayload{}, err
	}
	return domain.SDPPayload{Type: "answer", SDP: "v=0 answer"}, nil
}

func (f *fakeNegotiator) AcceptAnswer(domain.SDPPayload) error { return f.setRemote() }

func (f *fakeNegotiator) setRemote() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteSet {
		return errors.New("remote description already set")
	}
	f.remoteSet = true
	f.applied = append(f.applied, f.pending...)
	f.pending = nil
	return nil
}

func (f *fakeNegotiator) AddRemoteCandidate(c domain.ICECandidatePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.remoteSet {
		f.pending = append(f.pending, c)
		return nil
	}
	f.applied = append(f.applied, c)
	return nil
}

func (f *fakeNegotiator) SetTrackEnabled(_ *media.Track, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, on)
	return nil
}

func (f *fakeNegotiator) OnLocalCandidate(fn func(domain.ICECandidatePayload)) {
	f.mu.Lock()
	f.onLocal = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) OnRemoteTrack(fn func(*pion.TrackRemote, *pion.RTPReceiver)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) OnFailure(fn func(error)) {
	f.mu.Lock()
	f.onFailure = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNegotiator) fireTrack() {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(nil, nil)
}

func (f *fakeNegotiator) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeNegotiator) appliedCandidates() []domain.ICECandidatePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ICECandidatePayload(nil), f.applied...)
}

// fakeAcquirer hands out fake tracks. When gate is set it blocks until the
// gate closes, ignoring cancellation, to model a slow camera.
type fakeAcquirer struct {
	t     *testing.T
	err   error
	gate  chan struct{}
	mu    sync.Mutex
	calls int
	out   []*media.Stream
}

func (a *fakeAcquirer) Acquire(_ context.Context, c media.Constraints) (*media.Stream, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.gate != nil {
		<-a.gate
	}
	if a.err != nil {
		return nil, a.err
	}

	tracks := []*media.Track{fakeTrack(a.t, pion.RTPCodecTypeAudio)}
	if c.Video != nil {
		tracks = append(tracks, fakeTrack(a.t, pion.RTPCodecTypeVideo))
	}
	s := media.NewStream(tracks...)
	a.mu.Lock()
	a.out = append(a.out, s)
	a.mu.Unlock()
	return s, nil
}

func (a *fakeAcquirer) streams() []*media.Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*media.Stream(nil), a.out...)
}

func (a *fakeAcquirer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func fakeTrack(t *testing.T, kind pion.RTPCodecType) *media.Track {
	mime := pion.MimeTypeOpus
	if kind == pion.RTPCodecTypeVideo {
		mime = pion.MimeTypeVP8
	}
	local, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: mime}, kind.String(), "local")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	return media.NewTrack(local, nil)
}

type harness struct {
	acq     *fakeAcquirer
	sig     *fakeSignaling
	neg     *fakeNegotiator
	dialErr error

	mu      sync.Mutex
	dials   int
	created bool
}

func newHarness(t *testing.T) *harness {
	return &harness{
		acq: &fakeAcquirer{t: t},
		sig: newFakeSignaling(),
		neg: &fakeNegotiator{},
	}
}

func (h *harness) dialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// session creates a session without starting it.
func (h *harness) session(t *testing.T, role domain.Role, kind domain.MediaKind) *Session {
	t.Helper()
	s, err := NewSession(Config{
		RoomID:   "room-1",
		Role:     role,
		Kind:     kind,
		Acquirer: h.acq,
		Dial: func(ctx context.Context, roomID string) (Signaling, error) {
			h.mu.Lock()
			h.dials++
			h.mu.Unlock()
			if h.dialErr != nil {
				return nil, h.dialErr
			}
			return h.sig, nil
		},
		NewNegotiator: func() (Negotiator, error) {
			h.mu.Lock()
			h.created = true
			h.mu.Unlock()
			return h.neg, nil
		},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.End(ctx)
	})
	return s
}

func (h *harness) start(t *testing.T, role domain.Role, kind domain.MediaKind) *Session {
	t.Helper()
	s := h.session(t, role, kind)
	s.Start()
	return s
}

// assertReleased checks that every captured track is stopped and every
// connection the session opened is closed.
func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	for _, st := range h.acq.streams() {
		if n := st.LiveTracks(); n != 0 {
			t.Errorf("stream %s has %d live tracks", st.ID(), n)
		}
	}
	if h.dialCount() > 0 && h.dialErr == nil && !h.sig.isClosed() {
		t.Error("signaling left open")
	}
	h.mu.Lock()
	created := h.created
	h.mu.Unlock()
	if created && !h.neg.isClosed() {
		t.Error("peer connection left open")
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, state is %s (err=%v)", want, s.State(), s.Err())
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sentOf[T signal.Message](sig *fakeSignaling) []T {
	var out []T
	for _, m := range sig.messages() {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
