package webrtc

import (
	"io"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/rtp/codecs"
	pion "github.com/pion/webrtc/v4"

	applog "livecall/native/internal/logging"
)

// Sink receives remote media.
type Sink interface {
	OnTrack(track *pion.TrackRemote, receiver *pion.RTPReceiver)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(track *pion.TrackRemote, receiver *pion.RTPReceiver)

func (f SinkFunc) OnTrack(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
	f(track, receiver)
}

// DrainSink reads and discards every remote track so the receive buffers
// never fill up.
var DrainSink = SinkFunc(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	go Drain(track)
})

// Drain reads track until it ends.
func Drain(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// AnnexBSink writes H264 video as an Annex-B elementary stream, ready to be
// piped into ffplay. Other tracks are drained.
type AnnexBSink struct {
	w   io.Writer
	log logging.LeveledLogger

	mu sync.Mutex
}

// NewAnnexBSink writes to w.
func NewAnnexBSink(w io.Writer, factory logging.LoggerFactory) *AnnexBSink {
	return &AnnexBSink{w: w, log: applog.Scoped(factory, "sink")}
}

// OnTrack implements Sink.
func (s *AnnexBSink) OnTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	if track.Kind() != pion.RTPCodecTypeVideo || !strings.EqualFold(track.Codec().MimeType, pion.MimeTypeH264) {
		s.log.Infof("draining %s track (%s)", track.Kind(), track.Codec().MimeType)
		go Drain(track)
		return
	}
	go s.readVideo(track)
}

func (s *AnnexBSink) readVideo(track *pion.TrackRemote) {
	s.log.Info("reading H264 video track")

	depack := &codecs.H264Packet{}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.log.Infof("video track ended: %v", err)
			return
		}
		if err := s.WritePayload(depack, pkt.Payload); err != nil {
			s.log.Warnf("write video: %v", err)
			return
		}
	}
}

// WritePayload depacketizes one RTP payload and writes any completed NAL
// units. Fragments are held by depack until their last packet arrives.
func (s *AnnexBSink) WritePayload(depack *codecs.H264Packet, payload []byte) error {
	nalus, err := depack.Unmarshal(payload)
	if err != nil {
		s.log.Debugf("skip packet: %v", err)
		return nil
	}
	if len(nalus) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(nalus)
	return err
}
