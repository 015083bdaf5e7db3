package engine

import (
	"sort"
	"sync"
	"time"
)

// Registry holds the authoritative local view of every room visible to the
// current user. It owns Room entities exclusively; all reads hand out
// copies.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	clock    func() time.Time
	onUpdate func()
}

func NewRegistry(clock func() time.Time, onUpdate func()) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		clock:    clock,
		onUpdate: onUpdate,
	}
}

// List returns a snapshot ordered by most recent activity, ties broken by
// creation time descending.
func (r *Registry) List() []Room {
	r.mu.RLock()
	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, cloneRoom(room))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Get(roomID string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return cloneRoom(room), true
}

func (r *Registry) Has(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) IsJoined(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return ok && room.Joined
}

// Upsert creates or refreshes a room from a server event. Unread and Joined
// survive updates; zero-valued fields of the incoming room do not clobber
// known ones.
func (r *Registry) Upsert(in Room) {
	r.mu.Lock()
	room, ok := r.rooms[in.ID]
	if !ok {
		room = &Room{ID: in.ID, CreatedAt: in.CreatedAt}
		if room.CreatedAt.IsZero() {
			room.CreatedAt = r.clock()
		}
		room.LastActivity = room.CreatedAt
		r.rooms[in.ID] = room
	}
	if in.PatientID != "" {
		room.PatientID = in.PatientID
	}
	if in.PatientName != "" {
		room.PatientName = in.PatientName
	}
	if in.Mode != "" {
		room.Mode = in.Mode
	}
	r.mu.Unlock()
	r.notify()
}

// MarkJoined flags the room as actively observed and resets its unread
// counter; this is the only path that ever lowers it.
func (r *Registry) MarkJoined(roomID string) bool {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if ok {
		room.Joined = true
		room.Unread = 0
	}
	r.mu.Unlock()
	if ok {
		r.notify()
	}
	return ok
}

// ApplyMessage folds an inbound or confirmed message into the room: bumps
// activity, stores a copy as last message, and counts it unread unless the
// room is actively joined or it is the local user's own message.
func (r *Registry) ApplyMessage(m Message, own bool) {
	r.mu.Lock()
	room, ok := r.rooms[m.RoomID]
	if !ok {
		room = &Room{
			ID:           m.RoomID,
			CreatedAt:    r.clock(),
			LastActivity: r.clock(),
		}
		r.rooms[m.RoomID] = room
	}
	cp := m
	room.LastMessage = &cp
	if m.Timestamp.After(room.LastActivity) {
		room.LastActivity = m.Timestamp
	} else {
		room.LastActivity = r.clock()
	}
	if !own && !room.Joined {
		room.Unread++
	}
	r.mu.Unlock()
	r.notify()
}

// SetMode applies a roomStatusChanged event.
func (r *Registry) SetMode(roomID string, mode RoomMode) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if ok {
		room.Mode = mode
		room.LastActivity = r.clock()
	}
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

// Remove drops a room the server closed. Local view only; nothing persists
// across sessions.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	_, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

func (r *Registry) notify() {
	if r.onUpdate != nil {
		r.onUpdate()
	}
}

func cloneRoom(room *Room) Room {
	cp := *room
	if room.LastMessage != nil {
		lm := *room.LastMessage
		cp.LastMessage = &lm
	}
	return cp
}
