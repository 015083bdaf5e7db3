package transport

import (
	"encoding/json"

	decode "MaterniChat/tools/decode"

	"github.com/pkg/errors"
)

// Wire events. Inbound (server -> client) and outbound (client -> server)
// share one frame envelope; acks correlate by AckID.
const (
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventError       = "error"
	EventMessage     = "message"
	EventRoomStatus  = "roomStatus"
	EventRoomCreated = "roomCreated"
	EventRoomClosed  = "roomClosed"
	EventAck         = "ack"

	EventAuth      = "auth"
	EventJoinRoom  = "joinRoom"
	EventSendMsg   = "sendMessage"
	EventSendVoice = "sendVoiceMessage"
)

// Frame is the JSON envelope for every wire event.
type Frame struct {
	Event   string         `json:"event"`
	AckID   string         `json:"ack_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Ack is the server's answer to an acked emit.
type Ack struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type SendMessagePayload struct {
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
	TS       int64  `json:"ts"`
}

type SendVoicePayload struct {
	RoomID      string `json:"room_id"`
	SenderID    string `json:"sender_id"`
	Audio       string `json:"audio"`
	DurationSec int    `json:"duration_sec"`
	TS          int64  `json:"ts"`
}

// ChatMessagePayload is an inbound message pushed by the server.
type ChatMessagePayload struct {
	ID          string `json:"id"`
	RoomID      string `json:"room_id"`
	SenderID    string `json:"sender_id"`
	SenderRole  string `json:"sender_role"`
	Kind        string `json:"kind"` // text | voice
	Content     string `json:"content,omitempty"`
	Audio       string `json:"audio,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
	TS          int64  `json:"ts"`
}

type RoomStatusPayload struct {
	RoomID string `json:"room_id"`
	Mode   string `json:"mode"` // ai | doctor-direct
}

type RoomCreatedPayload struct {
	RoomID      string `json:"room_id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
	Mode        string `json:"mode"`
	CreatedAt   int64  `json:"created_at"`
}

type RoomClosedPayload struct {
	RoomID string `json:"room_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ParseFrame decodes a raw wire frame; unknown payload fields are kept in
// the map so handlers can decode lazily.
func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame")
	}
	if f.Event == "" {
		return nil, errors.New("frame without event")
	}
	return f, nil
}

func EncodeFrame(f *Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "marshal frame")
	}
	return b, nil
}

// DecodePayload maps a frame payload onto a typed struct.
func DecodePayload[T any](f *Frame) (*T, error) {
	if f == nil || f.Payload == nil {
		return nil, errors.New("nil payload")
	}
	return decode.Map[T](f.Payload)
}

// PayloadMap converts a typed payload into the map shape Frame carries.
func PayloadMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "remap payload")
	}
	return m, nil
}
