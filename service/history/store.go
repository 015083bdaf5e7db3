// Package history persists consultation messages on the gateway side.
package history

import (
	"context"
	"sync"
	"time"
)

// Record is one persisted message.
type Record struct {
	MessageID   string    `bson:"message_id" json:"message_id"`
	RoomID      string    `bson:"room_id" json:"room_id"`
	SenderID    string    `bson:"sender_id" json:"sender_id"`
	SenderRole  string    `bson:"sender_role" json:"sender_role"`
	Kind        string    `bson:"kind" json:"kind"`
	Content     string    `bson:"content,omitempty" json:"content,omitempty"`
	Audio       string    `bson:"audio,omitempty" json:"audio,omitempty"`
	DurationSec int       `bson:"duration_sec,omitempty" json:"duration_sec,omitempty"`
	SentAt      time.Time `bson:"sent_at" json:"sent_at"`
}

// Store is the persistence surface the gateway writes through.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, roomID string, limit int) ([]Record, error)
}

// ===== in-memory store (default when no Mongo is configured) =====

type MemoryStore struct {
	mu     sync.RWMutex
	byRoom map[string][]Record
	cap    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRoom: make(map[string][]Record), cap: 1000}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append(s.byRoom[rec.RoomID], rec)
	if len(recs) > s.cap {
		recs = recs[len(recs)-s.cap:]
	}
	s.byRoom[rec.RoomID] = recs
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, roomID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byRoom[roomID]
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	out := make([]Record, limit)
	copy(out, recs[len(recs)-limit:])
	return out, nil
}
