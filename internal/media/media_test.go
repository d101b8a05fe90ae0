package media

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"

	"livecall/native/internal/domain"
)

func newFakeTrack(t *testing.T, kind webrtc.RTPCodecType) *Track {
	t.Helper()
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind.String(), "fake")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	return NewTrack(local, nil)
}

// scriptedAcquirer returns one scripted result per call and remembers
// every stream it handed out.
type scriptedAcquirer struct {
	t       *testing.T
	results []error
	partial []bool
	seen    []Constraints
	handed  []*Stream
}

func (a *scriptedAcquirer) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	i := len(a.seen)
	a.seen = append(a.seen, c)
	err := a.results[i]
	if err != nil && !a.partial[i] {
		return nil, err
	}
	s := NewStream(newFakeTrack(a.t, webrtc.RTPCodecTypeAudio), newFakeTrack(a.t, webrtc.RTPCodecTypeVideo))
	a.handed = append(a.handed, s)
	return s, err
}

func TestFallbackUsesSecondRungAndStopsPartialCapture(t *testing.T) {
	acq := &scriptedAcquirer{
		t:       t,
		results: []error{ErrNotReadable, nil},
		partial: []bool{true, false},
	}
	ladder := Ladder{
		{Audio: true, Video: &VideoConstraints{}},
		{Audio: true, Video: &VideoConstraints{FacingMode: "user", Width: 1280}},
	}

	stream, used, err := AcquireWithFallback(context.Background(), acq, ladder, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used.Video == nil || used.Video.Width != 1280 || used.Video.FacingMode != "user" {
		t.Errorf("expected second constraint set, got %s", used)
	}
	if stream != acq.handed[1] {
		t.Error("expected the stream from the second attempt")
	}
	if n := acq.handed[0].LiveTracks(); n != 0 {
		t.Errorf("expected 0 leaked tracks from first attempt, got %d", n)
	}
	if n := stream.LiveTracks(); n != 2 {
		t.Errorf("expected 2 live tracks, got %d", n)
	}
}

func TestFallbackStopsOnPermissionDenied(t *testing.T) {
	acq := &scriptedAcquirer{
		t:       t,
		results: []error{ErrNotAllowed, nil},
		partial: []bool{false, false},
	}

	_, _, err := AcquireWithFallback(context.Background(), acq, BroadcastLadder(), nil)

	var me *Error
	if !errors.As(err, &me) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if me.Category != CategoryPermissionDenied {
		t.Errorf("expected permission-denied, got %s", me.Category)
	}
	if len(acq.seen) != 1 {
		t.Errorf("expected a single attempt, got %d", len(acq.seen))
	}
}

func TestFallbackExhaustsLadder(t *testing.T) {
	ladder := BroadcastLadder()
	results := make([]error, len(ladder))
	for i := range results {
		results[i] = fmt.Errorf("driver: %w", ErrNotReadable)
	}
	acq := &scriptedAcquirer{t: t, results: results, partial: make([]bool, len(ladder))}

	_, _, err := AcquireWithFallback(context.Background(), acq, ladder, nil)

	var me *Error
	if !errors.As(err, &me) || me.Category != CategoryDeviceBusy {
		t.Fatalf("expected device-busy error, got %v", err)
	}
	if len(acq.seen) != len(ladder) {
		t.Errorf("expected %d attempts, got %d", len(ladder), len(acq.seen))
	}
	if last := acq.seen[len(acq.seen)-1]; last.Video != nil || !last.Audio {
		t.Errorf("expected last rung to be audio only, got %s", last)
	}
}

func TestFallbackHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	acq := &scriptedAcquirer{t: t, results: []error{nil}, partial: []bool{false}}

	_, _, err := AcquireWithFallback(ctx, acq, CallLadder(domain.MediaAudio), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(acq.seen) != 0 {
		t.Error("expected no acquisition after cancellation")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{ErrNotAllowed, CategoryPermissionDenied},
		{fmt.Errorf("open /dev/video0: %w", errors.New("device or resource busy")), CategoryDeviceBusy},
		{ErrNotFound, CategoryDeviceNotFound},
		{ErrOverconstrained, CategoryOverconstrained},
		{errors.New("failed to find the best driver that fits the constraints"), CategoryOverconstrained},
		{errors.New("weird"), CategoryUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err, Constraints{}).Category; got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestCallLadder(t *testing.T) {
	if l := CallLadder(domain.MediaAudio); len(l) != 1 || l[0].Video != nil {
		t.Errorf("audio call must capture audio only, got %v", l)
	}
	for _, c := range CallLadder(domain.MediaVideo) {
		if !c.Audio || c.Video == nil {
			t.Errorf("video call rung %s must capture audio and video", c)
		}
	}
}

func TestStreamEnableDoesNotStop(t *testing.T) {
	s := NewStream(newFakeTrack(t, webrtc.RTPCodecTypeAudio), newFakeTrack(t, webrtc.RTPCodecTypeVideo))

	changed := s.SetEnabled(webrtc.RTPCodecTypeAudio, false)
	if len(changed) != 1 {
		t.Fatalf("expected 1 changed track, got %d", len(changed))
	}
	if again := s.SetEnabled(webrtc.RTPCodecTypeAudio, false); len(again) != 0 {
		t.Errorf("expected no change on repeat, got %d", len(again))
	}
	if s.LiveTracks() != 2 {
		t.Errorf("mute must not stop capture")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.LiveTracks() != 0 {
		t.Errorf("expected all tracks stopped")
	}
}
