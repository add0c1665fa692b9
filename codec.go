package mwah

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message types on the wire.
const (
	TypeHeart    = "heart"
	TypeStatus   = "status"
	TypePresence = "presence"
)

// Decoder turns raw transport bytes into envelopes. Implementations own the
// transport-specific framing and may buffer partial input between calls.
type Decoder interface {
	Decode(p []byte) []Envelope
	Reset()
}

// wireMessage is the transport-agnostic message body.
type wireMessage struct {
	Type   string `json:"type"`
	Sender string `json:"sender,omitempty"`
	ID     messageID `json:"id,omitempty"`
	DND    *bool  `json:"dnd,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
}

// messageID decodes a JSON string. Any other JSON value decodes as an empty
// ID, so a heart with a malformed id is still delivered but never deduplicated.
type messageID string

func (m *messageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*m = ""
		return nil
	}
	*m = messageID(s)
	return nil
}

// EncodeMessage serializes an outbound event as a wire message body.
func EncodeMessage(senderID string, seq uint64, ev OutboundEvent) ([]byte, error) {
	msg := wireMessage{Sender: senderID, Seq: seq}
	switch e := ev.(type) {
	case SendHeart:
		msg.Type = TypeHeart
		msg.ID = messageID(e.ID)
		if msg.ID == "" {
			msg.ID = messageID(uuid.NewString())
		}
	case SendStatus:
		dnd := e.DoNotDisturb
		msg.Type = TypeStatus
		msg.DND = &dnd
	case SendPresence:
		msg.Type = TypePresence
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedEvent, ev)
	}
	return json.Marshal(msg)
}

// decodeMessage parses a message body. ok is false when the body is not a
// JSON object or a required field is missing.
func decodeMessage(body []byte) (msg wireMessage, ev InboundEvent, ok bool) {
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, nil, false
	}
	switch msg.Type {
	case TypeHeart:
		return msg, Heart{ID: string(msg.ID)}, true
	case TypeStatus:
		if msg.DND == nil {
			return msg, nil, false
		}
		return msg, Status{DoNotDisturb: *msg.DND}, true
	case TypePresence:
		return msg, Presence{}, true
	default:
		return msg, Unknown{Type: msg.Type, Raw: string(body)}, true
	}
}
