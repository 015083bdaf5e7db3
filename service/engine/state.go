package engine

// State is the reactive snapshot the engine publishes to the UI layer. The
// engine owns the data; the UI owns presentation.
type State struct {
	Status       Status
	IsConnected  bool
	IsLoading    bool
	Err          error
	Rooms        []Room
	ActiveRoomID string
	RoomStatus   RoomMode  // mode of the active room
	Messages     []Message // local sequence of the active room
}

// Subscribe registers a listener invoked with a fresh snapshot after every
// observable state change.
func (e *Engine) Subscribe(cb func(State)) {
	if cb == nil {
		return
	}
	e.mu.Lock()
	e.subs = append(e.subs, cb)
	e.mu.Unlock()
}

// Snapshot builds the current state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	active := e.activeRoom
	lastErr := e.lastErr
	e.mu.RUnlock()

	st := e.conn.Status()
	s := State{
		Status:       st,
		IsConnected:  st == StatusConnected,
		IsLoading:    st == StatusConnecting || st == StatusReconnecting,
		Err:          lastErr,
		Rooms:        e.reg.List(),
		ActiveRoomID: active,
	}
	if active != "" {
		if room, ok := e.reg.Get(active); ok {
			s.RoomStatus = room.Mode
		}
		s.Messages = e.pipe.Messages(active)
	}
	return s
}

func (e *Engine) notify() {
	e.mu.RLock()
	subs := make([]func(State), len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	snap := e.Snapshot()
	for _, cb := range subs {
		cb(snap)
	}
}
