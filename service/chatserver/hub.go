package chatserver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"MaterniChat/logger"
	"MaterniChat/service/broker"
	"MaterniChat/service/history"
	"MaterniChat/service/transport"
	ids "MaterniChat/tools/ids"
)

// client is one authenticated websocket session on this gateway node.
type client struct {
	id     string // session id, unique within the node
	userID string
	role   string // doctor | patient
	ws     *websocket.Conn
	send   chan []byte // consumed by a single writer goroutine
}

type room struct {
	id          string
	patientID   string
	patientName string
	mode        string // ai | doctor-direct
	createdAt   time.Time
	members     map[string]*client // session id -> client
}

// Hub owns rooms and sessions for one gateway node. Every consultation room
// pairs one patient with the care team; doctors may observe many rooms.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	clients map[string]*client            // session id -> client
	byUser  map[string]map[string]*client // user -> session id -> client

	store  history.Store
	pub    *broker.Publisher
	nodeID string
}

func NewHub(store history.Store, pub *broker.Publisher, nodeID string) *Hub {
	if store == nil {
		store = history.NewMemoryStore()
	}
	return &Hub{
		rooms:   make(map[string]*room),
		clients: make(map[string]*client),
		byUser:  make(map[string]map[string]*client),
		store:   store,
		pub:     pub,
		nodeID:  nodeID,
	}
}

func (h *Hub) register(userID, role string, ws *websocket.Conn) *client {
	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		role:   role,
		ws:     ws,
		send:   make(chan []byte, 256),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	m := h.byUser[userID]
	if m == nil {
		m = make(map[string]*client)
		h.byUser[userID] = m
	}
	m[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	if m := h.byUser[c.userID]; m != nil {
		delete(m, c.id)
		if len(m) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	for _, r := range h.rooms {
		delete(r.members, c.id)
	}
	h.mu.Unlock()
	close(c.send)
}

// ensurePatientRoom creates the patient's consultation room on first
// contact. New rooms open in AI-assisted mode and are announced to every
// connected doctor.
func (h *Hub) ensurePatientRoom(patientID, patientName string) *room {
	h.mu.Lock()
	for _, r := range h.rooms {
		if r.patientID == patientID {
			h.mu.Unlock()
			return r
		}
	}
	r := &room{
		id:          "room-" + uuid.NewString()[:8],
		patientID:   patientID,
		patientName: patientName,
		mode:        "ai",
		createdAt:   time.Now(),
		members:     make(map[string]*client),
	}
	h.rooms[r.id] = r
	h.mu.Unlock()

	h.broadcastToDoctors(&transport.Frame{
		Event: transport.EventRoomCreated,
		Payload: mustPayload(transport.RoomCreatedPayload{
			RoomID:      r.id,
			PatientID:   r.patientID,
			PatientName: r.patientName,
			Mode:        r.mode,
			CreatedAt:   r.createdAt.UnixMilli(),
		}),
	})
	h.pub.PublishRoomEvent(context.Background(), broker.RoomEvent{
		Type: "roomCreated", RoomID: r.id, PatientID: r.patientID, Mode: r.mode,
	})
	return r
}

// join adds the session to the room. A doctor joining an AI-assisted room
// flips it to doctor-direct and notifies the members.
func (h *Hub) join(c *client, roomID string) bool {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	r.members[c.id] = c
	switched := c.role == "doctor" && r.mode == "ai"
	if switched {
		r.mode = "doctor-direct"
	}
	mode := r.mode
	h.mu.Unlock()

	if switched {
		h.broadcastToRoom(roomID, "", &transport.Frame{
			Event:   transport.EventRoomStatus,
			Payload: mustPayload(transport.RoomStatusPayload{RoomID: roomID, Mode: mode}),
		})
		h.pub.PublishRoomEvent(context.Background(), broker.RoomEvent{
			Type: "roomStatusChanged", RoomID: roomID, Mode: mode,
		})
	}
	return true
}

// deliver assigns the server message id, persists, and fans the message out
// to every room member except the sender (the sender reconciles via ack).
func (h *Hub) deliver(c *client, roomID, kind, content, audio string, durationSec int, ts int64) (string, bool) {
	h.mu.RLock()
	_, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return "", false
	}

	msgID := "srv-" + ids.GenerateString()
	sentAt := time.UnixMilli(ts)
	if ts == 0 {
		sentAt = time.Now()
	}
	if err := h.store.Append(context.Background(), history.Record{
		MessageID:   msgID,
		RoomID:      roomID,
		SenderID:    c.userID,
		SenderRole:  c.role,
		Kind:        kind,
		Content:     content,
		Audio:       audio,
		DurationSec: durationSec,
		SentAt:      sentAt,
	}); err != nil {
		logger.Warnf("[hub] history append failed msg=%s err=%v", msgID, err)
	}

	h.broadcastToRoom(roomID, c.id, &transport.Frame{
		Event: transport.EventMessage,
		Payload: mustPayload(transport.ChatMessagePayload{
			ID:          msgID,
			RoomID:      roomID,
			SenderID:    c.userID,
			SenderRole:  c.role,
			Kind:        kind,
			Content:     content,
			Audio:       audio,
			DurationSec: durationSec,
			TS:          sentAt.UnixMilli(),
		}),
	})
	return msgID, true
}

func (h *Hub) listRooms() []transport.RoomCreatedPayload {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]transport.RoomCreatedPayload, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, transport.RoomCreatedPayload{
			RoomID:      r.id,
			PatientID:   r.patientID,
			PatientName: r.patientName,
			Mode:        r.mode,
			CreatedAt:   r.createdAt.UnixMilli(),
		})
	}
	return out
}

// ===== fan-out =====

func (h *Hub) broadcastToRoom(roomID, exceptSession string, f *transport.Frame) {
	raw, err := transport.EncodeFrame(f)
	if err != nil {
		logger.Warnf("[hub] encode frame: %v", err)
		return
	}
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	var targets []*client
	if ok {
		for id, m := range r.members {
			if id != exceptSession {
				targets = append(targets, m)
			}
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.enqueue(raw)
	}
}

func (h *Hub) broadcastToDoctors(f *transport.Frame) {
	raw, err := transport.EncodeFrame(f)
	if err != nil {
		logger.Warnf("[hub] encode frame: %v", err)
		return
	}
	h.mu.RLock()
	var targets []*client
	for _, c := range h.clients {
		if c.role == "doctor" {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.enqueue(raw)
	}
}

func (c *client) enqueue(raw []byte) {
	defer func() {
		// send chan may close while a broadcast is in flight
		_ = recover()
	}()
	select {
	case c.send <- raw:
	default:
		logger.Warnf("[hub] send queue full user=%s session=%s", c.userID, c.id)
	}
}

func mustPayload(v any) map[string]any {
	m, err := transport.PayloadMap(v)
	if err != nil {
		logger.Errorf("[hub] payload map: %v", err)
		return map[string]any{}
	}
	return m
}
