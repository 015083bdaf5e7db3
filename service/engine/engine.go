// Package engine implements the consultation-session client: one transport
// connection, a room registry, the optimistic message pipeline, and the
// notification dispatcher gluing server pushes to UI callbacks.
package engine

import (
	"sync"
	"time"

	"MaterniChat/global/config"
	"MaterniChat/logger"
	"MaterniChat/service/transport"
	"MaterniChat/tools/errs"
	ids "MaterniChat/tools/ids"
)

type Engine struct {
	cfg config.EngineConfig
	tr  transport.Transport

	conn *Conn
	reg  *Registry
	pipe *Pipeline
	disp *Dispatcher

	mu         sync.RWMutex
	userID     string
	activeRoom string
	lastErr    error
	subs       []func(State)
}

// New wires the engine onto tr. The caller keeps ownership of cfg; zero
// fields fall back to defaults.
func New(cfg config.EngineConfig, tr transport.Transport) *Engine {
	cfg.Norm()
	e := &Engine{cfg: cfg, tr: tr}

	e.reg = NewRegistry(nil, e.notify)
	e.pipe = NewPipeline(
		PipelineConf{AckTimeout: cfg.AckTimeout},
		tr,
		func() bool { return e.conn.IsConnected() },
		e.onConfirmed,
		e.onMsgError,
		e.notify,
	)
	e.conn = NewConn(
		ConnConf{MaxRetries: cfg.MaxRetries, RetryDelay: cfg.RetryDelay},
		tr,
		e.onStatus,
		e.surfaceError,
		e.onDown,
	)
	e.disp = NewDispatcher(e.reg, e.pipe, e.UserID)

	tr.SetHandler(e)
	return e
}

// ===== lifecycle =====

// Connect starts the session as userID, authenticating with the opaque
// identity token. Non-blocking; observe status via Subscribe.
func (e *Engine) Connect(userID, token string) error {
	e.mu.Lock()
	e.userID = userID
	e.mu.Unlock()
	return e.conn.Connect(e.cfg.Endpoint, token)
}

// Disconnect tears the session down. Messages still sending fail fast;
// already-sent ones keep their state.
func (e *Engine) Disconnect() {
	e.conn.Disconnect()
}

func (e *Engine) UserID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userID
}

func (e *Engine) Status() Status    { return e.conn.Status() }
func (e *Engine) IsConnected() bool { return e.conn.IsConnected() }

// ===== sends =====

// SendMessage sends text into a room as the local user.
func (e *Engine) SendMessage(roomID, content string) (Message, error) {
	return e.pipe.SendText(roomID, e.UserID(), content)
}

// SendVoiceMessage sends a voice payload reference with its duration.
func (e *Engine) SendVoiceMessage(roomID, audio string, durationSec int) (Message, error) {
	return e.pipe.SendVoice(roomID, e.UserID(), audio, durationSec)
}

// ResendMessage re-dispatches a failed message; this is the only retry path.
func (e *Engine) ResendMessage(roomID, messageID string) (Message, error) {
	return e.pipe.Resend(roomID, messageID)
}

// Messages returns the local sequence of one room.
func (e *Engine) Messages(roomID string) []Message {
	return e.pipe.Messages(roomID)
}

// ===== rooms =====

// ListRooms returns the room snapshot, most recent activity first.
func (e *Engine) ListRooms() []Room {
	return e.reg.List()
}

// JoinRoom marks a room as actively observed and resets its unread counter.
// Joining an already-joined room is a no-op. An id the registry does not
// know is given one bounded chance to resolve on the server; otherwise
// RoomNotFoundError.
func (e *Engine) JoinRoom(roomID string) error {
	if roomID == "" {
		return errs.ErrInvalidArg.WithDetail("empty room id")
	}
	if e.reg.IsJoined(roomID) {
		e.setActiveRoom(roomID)
		return nil
	}

	if e.reg.Has(roomID) {
		e.reg.MarkJoined(roomID)
		e.setActiveRoom(roomID)
		if e.conn.IsConnected() {
			if err := e.tr.Emit(transport.EventJoinRoom, transport.JoinRoomPayload{
				RoomID: roomID, UserID: e.UserID(),
			}); err != nil {
				logger.Warnf("[engine] join emit failed room=%s err=%v", roomID, err)
			}
		}
		return nil
	}

	if !e.conn.IsConnected() {
		return errs.ErrRoomNotFound.WrapMsg("unknown room while disconnected", "room", roomID)
	}

	// unknown locally: bounded wait for the server to resolve it
	ackCh := make(chan transport.Ack, 1)
	ackID := "join-" + ids.GenerateString()
	err := e.tr.EmitWithAck(transport.EventJoinRoom, ackID, transport.JoinRoomPayload{
		RoomID: roomID, UserID: e.UserID(),
	}, func(a transport.Ack) { ackCh <- a })
	if err != nil {
		return errs.ErrRoomNotFound.WrapMsg("join emit failed", "room", roomID, "err", err)
	}

	select {
	case a := <-ackCh:
		if !a.Success {
			return errs.ErrRoomNotFound.WithDetail(a.Error)
		}
		e.reg.Upsert(Room{ID: roomID})
		e.reg.MarkJoined(roomID)
		e.setActiveRoom(roomID)
		return nil
	case <-time.After(e.cfg.JoinTimeout):
		return errs.ErrRoomNotFound.WrapMsg("server did not resolve room", "room", roomID)
	}
}

func (e *Engine) setActiveRoom(roomID string) {
	e.mu.Lock()
	changed := e.activeRoom != roomID
	e.activeRoom = roomID
	e.mu.Unlock()
	if changed {
		e.notify()
	}
}

// ===== callbacks exposed to the UI layer =====

func (e *Engine) OnRoomCreated(cb func(Room)) {
	e.disp.Register(EventRoomCreated, func(ev Event) {
		if ev.Room != nil {
			cb(*ev.Room)
		}
	})
}

func (e *Engine) OnRoomStatusChanged(cb func(roomID string, mode RoomMode)) {
	e.disp.Register(EventRoomStatusChanged, func(ev Event) {
		cb(ev.RoomID, ev.Mode)
	})
}

func (e *Engine) OnMessage(cb func(Message)) {
	e.disp.Register(EventMessage, func(ev Event) {
		if ev.Message != nil {
			cb(*ev.Message)
		}
	})
}

// ClearError drops the currently surfaced error.
func (e *Engine) ClearError() {
	e.mu.Lock()
	e.lastErr = nil
	e.mu.Unlock()
	e.notify()
}

// LastError returns the currently surfaced error, nil when none.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// ===== transport.Handler =====

func (e *Engine) OnFrame(f *transport.Frame) {
	switch f.Event {
	case transport.EventMessage:
		p, err := transport.DecodePayload[transport.ChatMessagePayload](f)
		if err != nil {
			logger.Warnf("[engine] bad message frame: %v", err)
			return
		}
		m := Message{
			ID:          p.ID,
			RoomID:      p.RoomID,
			SenderID:    p.SenderID,
			SenderRole:  Role(p.SenderRole),
			Kind:        MessageKind(p.Kind),
			Content:     p.Content,
			Audio:       p.Audio,
			DurationSec: p.DurationSec,
			Status:      MsgSent,
			Timestamp:   time.UnixMilli(p.TS),
		}
		e.disp.OnEvent(Event{Type: EventMessage, RoomID: p.RoomID, Message: &m})

	case transport.EventRoomStatus:
		p, err := transport.DecodePayload[transport.RoomStatusPayload](f)
		if err != nil {
			logger.Warnf("[engine] bad roomStatus frame: %v", err)
			return
		}
		e.disp.OnEvent(Event{Type: EventRoomStatusChanged, RoomID: p.RoomID, Mode: RoomMode(p.Mode)})

	case transport.EventRoomCreated:
		p, err := transport.DecodePayload[transport.RoomCreatedPayload](f)
		if err != nil {
			logger.Warnf("[engine] bad roomCreated frame: %v", err)
			return
		}
		room := Room{
			ID:          p.RoomID,
			PatientID:   p.PatientID,
			PatientName: p.PatientName,
			Mode:        RoomMode(p.Mode),
			CreatedAt:   time.UnixMilli(p.CreatedAt),
		}
		e.disp.OnEvent(Event{Type: EventRoomCreated, RoomID: p.RoomID, Room: &room})

	case transport.EventRoomClosed:
		p, err := transport.DecodePayload[transport.RoomClosedPayload](f)
		if err != nil {
			logger.Warnf("[engine] bad roomClosed frame: %v", err)
			return
		}
		e.disp.OnEvent(Event{Type: EventRoomClosed, RoomID: p.RoomID})

	case transport.EventError:
		p, err := transport.DecodePayload[transport.ErrorPayload](f)
		msg := "server error"
		if err == nil {
			msg = p.Message
		}
		e.surfaceError(errs.ErrConnection.WithDetail(msg))

	default:
		logger.Debugf("[engine] unhandled frame event=%s", f.Event)
	}
}

func (e *Engine) OnClose(err error) {
	e.conn.HandleClose(err)
}

// ===== internal wiring =====

func (e *Engine) onConfirmed(m Message) {
	e.reg.ApplyMessage(m, true)
}

func (e *Engine) onMsgError(m Message, err error) {
	logger.Warnf("[engine] message failed id=%s room=%s err=%v", m.ID, m.RoomID, err)
	e.surfaceError(err)
}

func (e *Engine) onStatus(s Status) {
	logger.Infof("[engine] status=%s", s)
	e.notify()
}

func (e *Engine) onDown(err error) {
	var cause error = errs.ErrNotConnected.WithDetail("disconnected with sends in flight")
	if err != nil {
		cause = errs.ErrConnection.WrapMsg("connection lost with sends in flight", "err", err)
	}
	e.pipe.FailAllPending(cause)
}

// surfaceError applies the UI alert policy: timeout-class errors stay quiet
// while reconnect attempts are still under the alert threshold; everything
// else surfaces immediately. Nothing is dropped, suppressed errors are
// still logged.
func (e *Engine) surfaceError(err error) {
	if err == nil {
		return
	}
	st := e.conn.Status()
	retrying := st == StatusConnecting || st == StatusReconnecting
	if errs.IsTimeoutClass(err) && retrying && e.conn.Retries() < e.cfg.AlertAfterRetries {
		logger.Debugf("[engine] suppressed transient error (attempt %d): %v", e.conn.Retries(), err)
		return
	}
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	e.notify()
}
