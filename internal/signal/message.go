package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"livecall/native/internal/domain"
)

var (
	// ErrUnknownMessage is returned for frames with an unrecognized discriminator.
	ErrUnknownMessage = errors.New("unknown signaling message")
	// ErrMalformed is returned for frames missing required fields.
	ErrMalformed = errors.New("malformed signaling message")
)

// Message is one signaling message. The set of implementations is closed:
// Join, Offer, Answer, Ice, PeerJoined and Malformed.
type Message interface {
	Room() string
	isMessage()
}

// Join asks the server to put this client in a room.
type Join struct{ RoomID string }

// Offer carries the caller's session description.
type Offer struct {
	RoomID string
	SDP    domain.SDPPayload
}

// Answer carries the callee's session description.
type Answer struct {
	RoomID string
	SDP    domain.SDPPayload
}

// Ice carries one trickled candidate.
type Ice struct {
	RoomID    string
	Candidate domain.ICECandidatePayload
}

// PeerJoined tells the client the other party entered the room.
type PeerJoined struct{ RoomID string }

// Malformed stands in for an inbound frame that failed to decode. It is
// never sent. RoomID is set when the frame carried a readable room.
type Malformed struct {
	RoomID string
	Err    error
}

func (m Join) Room() string       { return m.RoomID }
func (m Offer) Room() string      { return m.RoomID }
func (m Answer) Room() string     { return m.RoomID }
func (m Ice) Room() string        { return m.RoomID }
func (m PeerJoined) Room() string { return m.RoomID }
func (m Malformed) Room() string  { return m.RoomID }

func (Join) isMessage()       {}
func (Offer) isMessage()      {}
func (Answer) isMessage()     {}
func (Ice) isMessage()        {}
func (PeerJoined) isMessage() {}
func (Malformed) isMessage()  {}

const (
	typeJoin       = "join"
	typeOffer      = "offer"
	typeAnswer     = "answer"
	typeIce        = "ice"
	typePeerJoined = "peer_joined"
)

// frame is the JSON text frame shared by both directions.
type frame struct {
	Action     string                      `json:"action,omitempty"`
	Type       string                      `json:"type,omitempty"`
	Room       string                      `json:"room,omitempty"`
	SDP        json.RawMessage             `json:"sdp,omitempty"`
	Candidate  *domain.ICECandidatePayload `json:"candidate,omitempty"`
	PeerJoined bool                        `json:"peer_joined,omitempty"`
}

// Encode renders m as a JSON text frame.
func Encode(m Message) ([]byte, error) {
	var f frame
	switch m := m.(type) {
	case Join:
		f = frame{Action: typeJoin, Room: m.RoomID}
	case Offer:
		sdp, err := encodeSDP(m.SDP, typeOffer)
		if err != nil {
			return nil, err
		}
		f = frame{Type: typeOffer, Room: m.RoomID, SDP: sdp}
	case Answer:
		sdp, err := encodeSDP(m.SDP, typeAnswer)
		if err != nil {
			return nil, err
		}
		f = frame{Type: typeAnswer, Room: m.RoomID, SDP: sdp}
	case Ice:
		c := m.Candidate
		f = frame{Type: typeIce, Room: m.RoomID, Candidate: &c}
	case PeerJoined:
		f = frame{Type: typePeerJoined, Room: m.RoomID}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}
	return json.Marshal(f)
}

func encodeSDP(p domain.SDPPayload, typ string) (json.RawMessage, error) {
	if p.Type == "" {
		p.Type = typ
	}
	return json.Marshal(p)
}

// Decode parses one inbound frame.
func Decode(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	typ := f.Type
	if typ == "" {
		typ = f.Action
	}
	if typ == "" && f.PeerJoined {
		typ = typePeerJoined
	}

	switch typ {
	case typeJoin:
		return Join{RoomID: f.Room}, nil
	case typePeerJoined:
		return PeerJoined{RoomID: f.Room}, nil
	case typeOffer:
		sdp, err := decodeSDP(f.SDP, typeOffer)
		if err != nil {
			return nil, err
		}
		return Offer{RoomID: f.Room, SDP: sdp}, nil
	case typeAnswer:
		sdp, err := decodeSDP(f.SDP, typeAnswer)
		if err != nil {
			return nil, err
		}
		return Answer{RoomID: f.Room, SDP: sdp}, nil
	case typeIce:
		if f.Candidate == nil {
			return nil, fmt.Errorf("%w: ice without candidate", ErrMalformed)
		}
		return Ice{RoomID: f.Room, Candidate: *f.Candidate}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, typ)
	}
}

// DecodeOrMalformed is Decode for the read loop: a frame that fails to
// decode becomes a Malformed message so the receiver can fail the call.
func DecodeOrMalformed(data []byte) Message {
	m, err := Decode(data)
	if err == nil {
		return m
	}
	var f struct {
		Room string `json:"room"`
	}
	_ = json.Unmarshal(data, &f)
	return Malformed{RoomID: f.Room, Err: err}
}

// decodeSDP accepts both {"type","sdp"} objects and bare SDP strings.
func decodeSDP(raw json.RawMessage, typ string) (domain.SDPPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.SDPPayload{}, fmt.Errorf("%w: %s without sdp", ErrMalformed, typ)
	}

	var p domain.SDPPayload
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &p.SDP); err != nil {
			return p, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if p.Type == "" {
		p.Type = typ
	}
	if p.SDP == "" {
		return p, fmt.Errorf("%w: empty %s sdp", ErrMalformed, typ)
	}
	return p, nil
}
