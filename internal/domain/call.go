package domain

import "strings"

// Role is the side of a direct call this client plays.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

// MediaKind selects what a call captures. Audio is always captured.
type MediaKind int

const (
	MediaAudio MediaKind = iota
	MediaVideo
)

func (k MediaKind) String() string {
	if k == MediaVideo {
		return "video"
	}
	return "audio"
}

// ParseMediaKind accepts "audio"/"video" in any case. Anything else is audio.
func ParseMediaKind(s string) MediaKind {
	if strings.EqualFold(s, "video") {
		return MediaVideo
	}
	return MediaAudio
}

// CallStatus is the backend-owned lifecycle status of a call record.
type CallStatus string

const (
	CallRinging  CallStatus = "RINGING"
	CallAnswered CallStatus = "ANSWERED"
	CallRejected CallStatus = "REJECTED"
	CallExpired  CallStatus = "EXPIRED"
	CallEnded    CallStatus = "ENDED"
	CallMissed   CallStatus = "MISSED"
)

// CallType is the backend's media type for a call record.
type CallType string

const (
	CallAudio CallType = "AUDIO"
	CallVideo CallType = "VIDEO"
)

// MediaKind maps the backend type onto the local capture kind.
func (t CallType) MediaKind() MediaKind {
	return ParseMediaKind(string(t))
}

// Caller identifies who is calling.
type Caller struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// IncomingCall is a call record as returned by the call backend.
type IncomingCall struct {
	ID     string     `json:"id"`
	Status CallStatus `json:"status"`
	Caller Caller     `json:"caller"`
	Type   CallType   `json:"type"`
	RoomID string     `json:"roomId"`
}

// Ringing reports whether the record is still ringing.
func (c IncomingCall) Ringing() bool {
	return strings.EqualFold(string(c.Status), string(CallRinging))
}
