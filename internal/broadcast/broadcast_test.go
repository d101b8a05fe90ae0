package broadcast

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
	"livecall/native/internal/media"
	"livecall/native/internal/webrtc"
)

var testICE = domain.ICEConfig{STUNURL: "stun:127.0.0.1:3478"}

func testAPI(t *testing.T) *pion.API {
	t.Helper()
	api, err := webrtc.NewAPI(webrtc.APIConfig{STUNGatherTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	return api
}

func fakeTrack(t *testing.T, kind pion.RTPCodecType) *media.Track {
	t.Helper()
	mime := pion.MimeTypeOpus
	if kind == pion.RTPCodecTypeVideo {
		mime = pion.MimeTypeVP8
	}
	local, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: mime}, kind.String(), "cam")
	if err != nil {
		t.Fatal(err)
	}
	return media.NewTrack(local, nil)
}

// rungAcquirer fails the first rung with a busy device, leaving an audio
// track open, and succeeds on the next.
type rungAcquirer struct {
	t        *testing.T
	failWith error
	mu       sync.Mutex
	out      []*media.Stream
}

func (a *rungAcquirer) Acquire(_ context.Context, c media.Constraints) (*media.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.out) == 0 && a.failWith != nil {
		partial := media.NewStream(fakeTrack(a.t, pion.RTPCodecTypeAudio))
		a.out = append(a.out, partial)
		return partial, a.failWith
	}

	tracks := []*media.Track{fakeTrack(a.t, pion.RTPCodecTypeAudio)}
	if c.Video != nil {
		tracks = append(tracks, fakeTrack(a.t, pion.RTPCodecTypeVideo))
	}
	s := media.NewStream(tracks...)
	a.out = append(a.out, s)
	return s, nil
}

func (a *rungAcquirer) liveTracks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.out {
		n += s.LiveTracks()
	}
	return n
}

// answerer plays the media server: it answers offers with a real peer
// connection, optionally sending its own tracks.
type answerer struct {
	t     *testing.T
	api   *pion.API
	send  bool
	mu    sync.Mutex
	negs  []*webrtc.Negotiator
	query string
	ctype string
	del   string
}

func (a *answerer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		a.mu.Lock()
		a.del = r.URL.Path
		a.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}

	body, _ := io.ReadAll(r.Body)
	neg, err := webrtc.NewNegotiator(webrtc.Config{API: a.api, ICE: testICE})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.mu.Lock()
	a.negs = append(a.negs, neg)
	a.query = r.URL.RawQuery
	a.ctype = r.Header.Get("Content-Type")
	a.mu.Unlock()

	if a.send {
		stream := media.NewStream(fakeTrack(a.t, pion.RTPCodecTypeAudio), fakeTrack(a.t, pion.RTPCodecTypeVideo))
		if err := neg.AddStream(stream); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	answer, err := neg.AcceptOffer(r.Context(), domain.SDPPayload{Type: "offer", SDP: string(body)})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", contentTypeSDP)
	w.Header().Set("Location", "session/1")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(answer.SDP))
}

func (a *answerer) seen() (query, contentType, deleted string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.query, a.ctype, a.del
}

func (a *answerer) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range a.negs {
		_ = n.Close()
	}
}

func newServer(t *testing.T, h http.Handler) *httptest.Server {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "stream not found", http.StatusNotFound)
}

func TestPublishFallsBackAndCloses(t *testing.T) {
	acq := &rungAcquirer{t: t, failWith: media.ErrNotReadable}
	ans := &answerer{t: t, api: testAPI(t)}
	t.Cleanup(ans.close)
	srv := newServer(t, ans)

	p := NewPublisher(PublisherConfig{Acquirer: acq, API: testAPI(t)})
	s, err := p.Publish(context.Background(), "my key", srv.URL+"/", testICE)
	if err != nil {
		t.Fatal(err)
	}

	if query, ctype, _ := ans.seen(); ctype != contentTypeSDP || query != "app=live&stream=my+key" {
		t.Errorf("content type %q, query %q", ctype, query)
	}
	if got := s.Stream().LiveTracks(); got != 2 {
		t.Errorf("published %d tracks", got)
	}
	if got := acq.liveTracks(); got != 2 {
		t.Errorf("%d live tracks, want only the published two", got)
	}
	if s.Resource() != srv.URL+"/whip/session/1" {
		t.Errorf("resource = %q", s.Resource())
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if got := acq.liveTracks(); got != 0 {
		t.Errorf("%d tracks leaked", got)
	}
	if _, _, deleted := ans.seen(); deleted != "/whip/session/1" {
		t.Errorf("deleted %q", deleted)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestPublishRejectedReleasesMedia(t *testing.T) {
	acq := &rungAcquirer{t: t}
	srv := newServer(t, http.HandlerFunc(notFound))

	p := NewPublisher(PublisherConfig{Acquirer: acq, API: testAPI(t)})
	_, err := p.Publish(context.Background(), "missing", srv.URL, testICE)

	var he *HandshakeError
	if !errors.As(err, &he) || he.Status != http.StatusNotFound || he.Body != "stream not found" {
		t.Fatalf("err = %v", err)
	}
	if got := acq.liveTracks(); got != 0 {
		t.Errorf("%d tracks leaked", got)
	}
}

func TestPublishPermissionDeniedSkipsServer(t *testing.T) {
	acq := &rungAcquirer{t: t, failWith: media.ErrNotAllowed}
	var hits atomic.Int32
	srv := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))

	p := NewPublisher(PublisherConfig{Acquirer: acq, API: testAPI(t)})
	_, err := p.Publish(context.Background(), "k", srv.URL, testICE)

	var me *media.Error
	if !errors.As(err, &me) || me.Category != media.CategoryPermissionDenied {
		t.Fatalf("err = %v", err)
	}
	if hits.Load() != 0 {
		t.Error("offer sent without media")
	}
	if got := acq.liveTracks(); got != 0 {
		t.Errorf("%d tracks leaked", got)
	}
}

func TestPlay(t *testing.T) {
	ans := &answerer{t: t, api: testAPI(t), send: true}
	t.Cleanup(ans.close)
	srv := newServer(t, ans)

	pl := NewPlayer(PlayerConfig{API: testAPI(t)})
	s, err := pl.Play(context.Background(), "live1", srv.URL, testICE, webrtc.DrainSink)
	if err != nil {
		t.Fatal(err)
	}
	if s.Stream() != nil {
		t.Error("player has local media")
	}
	if query, _, _ := ans.seen(); query != "app=live&stream=live1" {
		t.Errorf("query %q", query)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, deleted := ans.seen(); deleted != "/whep/session/1" {
		t.Errorf("deleted %q", deleted)
	}
}

func TestPlayRejected(t *testing.T) {
	srv := newServer(t, http.HandlerFunc(notFound))

	pl := NewPlayer(PlayerConfig{API: testAPI(t)})
	var created []*webrtc.Negotiator
	pl.cfg.onNegotiator = func(n *webrtc.Negotiator) { created = append(created, n) }

	s, err := pl.Play(context.Background(), "gone", srv.URL, testICE, nil)
	if s != nil {
		t.Error("session returned for a rejected play")
	}
	var he *HandshakeError
	if !errors.As(err, &he) || he.Status != http.StatusNotFound || he.Body != "stream not found" {
		t.Fatalf("err = %v", err)
	}

	if len(created) != 1 {
		t.Fatalf("created %d peer connections", len(created))
	}
	if err := created[0].AddRecvOnly(pion.RTPCodecTypeAudio); !errors.Is(err, webrtc.ErrClosed) {
		t.Errorf("peer connection left open: %v", err)
	}
}

func TestOversizedAnswerRejected(t *testing.T) {
	srv := newServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentTypeSDP)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(strings.Repeat("a", maxBodySize+1)))
	}))

	pl := NewPlayer(PlayerConfig{API: testAPI(t)})
	var created []*webrtc.Negotiator
	pl.cfg.onNegotiator = func(n *webrtc.Negotiator) { created = append(created, n) }

	if _, err := pl.Play(context.Background(), "big", srv.URL, testICE, nil); !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("err = %v", err)
	}
	if len(created) != 1 || !errors.Is(created[0].AddRecvOnly(pion.RTPCodecTypeAudio), webrtc.ErrClosed) {
		t.Error("peer connection left open")
	}
}

func TestEndpoint(t *testing.T) {
	if got := endpoint("https://media.example.com/", "whep", "a/b"); got != "https://media.example.com/whep/?app=live&stream=a%2Fb" {
		t.Errorf("endpoint = %s", got)
	}
}

func TestLiveSingleSession(t *testing.T) {
	acq := &rungAcquirer{t: t}
	ans := &answerer{t: t, api: testAPI(t)}
	t.Cleanup(ans.close)
	srv := newServer(t, ans)

	live := NewLive(NewPublisher(PublisherConfig{Acquirer: acq, API: testAPI(t)}), srv.URL, testICE)
	if err := live.Stop(); !errors.Is(err, ErrNotLive) {
		t.Fatalf("stop idle: %v", err)
	}
	if _, err := live.Start(context.Background(), "k1"); err != nil {
		t.Fatal(err)
	}
	if !live.Active() || live.StreamKey() != "k1" {
		t.Fatal("not live")
	}
	if _, err := live.Start(context.Background(), "k2"); !errors.Is(err, ErrAlreadyLive) {
		t.Fatalf("second start: %v", err)
	}
	if err := live.Stop(); err != nil {
		t.Fatal(err)
	}
	if live.Active() || acq.liveTracks() != 0 {
		t.Error("capture still held after stop")
	}
}
