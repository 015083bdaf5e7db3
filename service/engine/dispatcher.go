package engine

import (
	"sync"

	"MaterniChat/tools/safe"
)

// Dispatcher routes server-pushed events: registry/pipeline state mutates
// synchronously first, then external callbacks fire on their own goroutines.
// A callback that panics or blocks can therefore never stall the receive
// loop or observe half-applied state.
type Dispatcher struct {
	reg    *Registry
	pipe   *Pipeline
	selfID func() string // local user, to keep own echoes out of unread counts

	mu        sync.RWMutex
	callbacks map[EventType][]func(Event)
}

func NewDispatcher(reg *Registry, pipe *Pipeline, selfID func() string) *Dispatcher {
	return &Dispatcher{
		reg:       reg,
		pipe:      pipe,
		selfID:    selfID,
		callbacks: make(map[EventType][]func(Event)),
	}
}

// Register subscribes an external callback for one event type.
func (d *Dispatcher) Register(t EventType, cb func(Event)) {
	if cb == nil {
		return
	}
	d.mu.Lock()
	d.callbacks[t] = append(d.callbacks[t], cb)
	d.mu.Unlock()
}

// OnEvent classifies and applies one event, then fans out to subscribers.
func (d *Dispatcher) OnEvent(ev Event) {
	switch ev.Type {
	case EventRoomCreated:
		if ev.Room != nil {
			d.reg.Upsert(*ev.Room)
		}
	case EventRoomStatusChanged:
		d.reg.SetMode(ev.RoomID, ev.Mode)
	case EventRoomClosed:
		d.reg.Remove(ev.RoomID)
	case EventMessage:
		if ev.Message != nil {
			own := ev.Message.SenderID == d.selfID()
			d.pipe.ApplyInbound(*ev.Message)
			d.reg.ApplyMessage(*ev.Message, own)
		}
	default:
		return
	}
	d.fanout(ev)
}

func (d *Dispatcher) fanout(ev Event) {
	d.mu.RLock()
	cbs := make([]func(Event), len(d.callbacks[ev.Type]))
	copy(cbs, d.callbacks[ev.Type])
	d.mu.RUnlock()

	for _, cb := range cbs {
		cb := cb
		safe.Go(func() { cb(ev) })
	}
}
