package media

import (
	"context"
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	applog "livecall/native/internal/logging"
)

// DevicesConfig configures the capture backend.
type DevicesConfig struct {
	VideoBitRate int
	AudioBitRate int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Devices captures from the host camera and microphone through
// pion/mediadevices. Drivers are registered by the binary with blank imports.
type Devices struct {
	codecs *mediadevices.CodecSelector
	log    logging.LeveledLogger
}

// NewDevices builds the codec selector used to encode captured tracks.
func NewDevices(cfg DevicesConfig) (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("create VP8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000
	if cfg.VideoBitRate > 0 {
		vpxParams.BitRate = cfg.VideoBitRate
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("create Opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	if cfg.AudioBitRate > 0 {
		opusParams.BitRate = cfg.AudioBitRate
	}

	return &Devices{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: applog.Scoped(cfg.LoggerFactory, "media"),
	}, nil
}

// Populate registers the encoder codecs on a media engine so offers only
// advertise what can actually be sent.
func (d *Devices) Populate(m *webrtc.MediaEngine) error {
	d.codecs.Populate(m)
	return nil
}

// Acquire implements Acquirer.
func (d *Devices) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msc := mediadevices.MediaStreamConstraints{Codec: d.codecs}
	if c.Audio {
		msc.Audio = func(tc *mediadevices.MediaTrackConstraints) {}
	}
	if c.Video != nil {
		v := *c.Video
		if v.FacingMode != "" {
			d.log.Debugf("facing mode %q is not selectable on this backend", v.FacingMode)
		}
		msc.Video = func(tc *mediadevices.MediaTrackConstraints) {
			if v.Width > 0 {
				tc.Width = prop.Int(v.Width)
			}
			if v.Height > 0 {
				tc.Height = prop.Int(v.Height)
			}
			if v.FrameRate > 0 {
				tc.FrameRate = prop.Float(v.FrameRate)
			}
		}
	}

	ms, err := mediadevices.GetUserMedia(msc)
	if err != nil {
		return nil, Classify(err, c)
	}

	var tracks []*Track
	for _, mt := range ms.GetTracks() {
		tracks = append(tracks, NewTrack(mt, mt.Close))
	}
	stream := NewStream(tracks...)

	if c.Video != nil && !stream.HasVideo() {
		return stream, &Error{Category: CategoryDeviceNotFound, Constraints: c, Err: ErrNotFound}
	}
	d.log.Infof("captured %d tracks with %s", len(tracks), c)
	return stream, nil
}
