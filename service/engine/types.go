package engine

import "time"

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// RoomMode distinguishes AI-assisted rooms from doctor-direct ones.
type RoomMode string

const (
	ModeAI           RoomMode = "ai"
	ModeDoctorDirect RoomMode = "doctor-direct"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAI      Role = "ai"
)

type MessageStatus string

const (
	MsgSending MessageStatus = "sending"
	MsgSent    MessageStatus = "sent"
	MsgFailed  MessageStatus = "failed"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindVoice MessageKind = "voice"
)

// Message is one chat message, text or voice. ID is client-temporary while
// Status is sending; the server-confirmed id replaces it atomically on ack.
type Message struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"room_id"`
	SenderID    string        `json:"sender_id"`
	SenderRole  Role          `json:"sender_role"`
	Kind        MessageKind   `json:"kind"`
	Content     string        `json:"content,omitempty"`
	Audio       string        `json:"audio,omitempty"`
	DurationSec int           `json:"duration_sec,omitempty"`
	Status      MessageStatus `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Room is a consultation channel between one patient and the care team.
// LastMessage is a copy owned by the room, never shared with the pipeline.
type Room struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	PatientName  string    `json:"patient_name,omitempty"`
	Mode         RoomMode  `json:"mode"`
	Unread       int       `json:"unread"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Joined       bool      `json:"joined"`
}

// EventType classifies server-pushed notifications.
type EventType string

const (
	EventRoomCreated       EventType = "roomCreated"
	EventRoomStatusChanged EventType = "roomStatusChanged"
	EventRoomClosed        EventType = "roomClosed"
	EventMessage           EventType = "message"
)

// Event is a server-pushed notification after classification. Exactly one
// of Room/Message is set depending on Type; RoomID is always set.
type Event struct {
	Type    EventType
	RoomID  string
	Mode    RoomMode
	Room    *Room
	Message *Message
}
