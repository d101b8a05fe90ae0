// Package media holds locally captured tracks and the rules for acquiring
// them: constraint ladders, the error taxonomy, and the capture backend.
package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Track is one captured local track. Stop releases the underlying device
// and is safe to call more than once.
type Track struct {
	local   webrtc.TrackLocal
	stop    func() error
	enabled atomic.Bool
	stopped atomic.Bool
	once    sync.Once
	stopErr error
}

// NewTrack wraps a pion local track. stop may be nil for tracks that hold no
// device.
func NewTrack(local webrtc.TrackLocal, stop func() error) *Track {
	t := &Track{local: local, stop: stop}
	t.enabled.Store(true)
	return t
}

func (t *Track) Local() webrtc.TrackLocal    { return t.local }
func (t *Track) ID() string                  { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType   { return t.local.Kind() }
func (t *Track) Enabled() bool               { return t.enabled.Load() }
func (t *Track) Live() bool                  { return !t.stopped.Load() }

// SetEnabled flips the enabled flag and reports whether it changed. It never
// touches the capture device.
func (t *Track) SetEnabled(on bool) bool {
	return t.enabled.Swap(on) != on
}

// Stop ends capture.
func (t *Track) Stop() error {
	t.once.Do(func() {
		t.stopped.Store(true)
		if t.stop != nil {
			t.stopErr = t.stop()
		}
	})
	return t.stopErr
}

// Stream is the set of tracks captured by one acquisition.
type Stream struct {
	id     string
	tracks []*Track
}

// NewStream groups tracks under a fresh stream id.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns all tracks in capture order.
func (s *Stream) Tracks() []*Track {
	if s == nil {
		return nil
	}
	return append([]*Track(nil), s.tracks...)
}

// TracksOf returns the tracks of one kind.
func (s *Stream) TracksOf(kind webrtc.RTPCodecType) []*Track {
	var out []*Track
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// HasVideo reports whether any video track was captured.
func (s *Stream) HasVideo() bool {
	return len(s.TracksOf(webrtc.RTPCodecTypeVideo)) > 0
}

// LiveTracks counts tracks that have not been stopped.
func (s *Stream) LiveTracks() int {
	n := 0
	for _, t := range s.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}

// SetEnabled flips every track of kind and returns the tracks that changed.
func (s *Stream) SetEnabled(kind webrtc.RTPCodecType, on bool) []*Track {
	var changed []*Track
	for _, t := range s.TracksOf(kind) {
		if t.SetEnabled(on) {
			changed = append(changed, t)
		}
	}
	return changed
}

// Stop stops every track, collecting all errors.
func (s *Stream) Stop() error {
	var errs []error
	for _, t := range s.Tracks() {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
