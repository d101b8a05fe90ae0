package media

import (
	"fmt"
	"strings"

	"livecall/native/internal/domain"
)

// VideoConstraints narrows the camera selection. Zero values mean "any".
type VideoConstraints struct {
	FacingMode string
	Width      int
	Height     int
	FrameRate  float64
}

// Constraints describes one acquisition attempt.
type Constraints struct {
	Audio bool
	Video *VideoConstraints
}

func (c Constraints) String() string {
	var parts []string
	if c.Audio {
		parts = append(parts, "audio")
	}
	if c.Video != nil {
		v := "video"
		var opts []string
		if c.Video.FacingMode != "" {
			opts = append(opts, "facing="+c.Video.FacingMode)
		}
		if c.Video.Width > 0 {
			opts = append(opts, fmt.Sprintf("width=%d", c.Video.Width))
		}
		if c.Video.Height > 0 {
			opts = append(opts, fmt.Sprintf("height=%d", c.Video.Height))
		}
		if c.Video.FrameRate > 0 {
			opts = append(opts, fmt.Sprintf("fps=%g", c.Video.FrameRate))
		}
		if len(opts) > 0 {
			v += "(" + strings.Join(opts, ",") + ")"
		}
		parts = append(parts, v)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Ladder is an ordered list of constraint sets, most specific first.
type Ladder []Constraints

// BroadcastLadder is used when publishing: progressively looser video, then
// audio only.
func BroadcastLadder() Ladder {
	return Ladder{
		{Audio: true, Video: &VideoConstraints{FacingMode: "user", Width: 1280, Height: 720}},
		{Audio: true, Video: &VideoConstraints{FacingMode: "user", Width: 1280}},
		{Audio: true, Video: &VideoConstraints{}},
		{Audio: true},
	}
}

// CallLadder is used for direct calls. Audio is always captured and video
// only for video calls; a video call never degrades to audio only.
func CallLadder(kind domain.MediaKind) Ladder {
	if kind != domain.MediaVideo {
		return Ladder{{Audio: true}}
	}
	return Ladder{
		{Audio: true, Video: &VideoConstraints{FacingMode: "user", Width: 1280, Height: 720}},
		{Audio: true, Video: &VideoConstraints{FacingMode: "user"}},
		{Audio: true, Video: &VideoConstraints{}},
	}
}
