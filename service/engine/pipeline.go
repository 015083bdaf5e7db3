package engine

import (
	"strings"
	"sync"
	"time"

	"MaterniChat/service/transport"
	"MaterniChat/tools/errs"
	ids "MaterniChat/tools/ids"
)

// ackEmitter is the slice of the transport the pipeline needs.
type ackEmitter interface {
	EmitWithAck(event, ackID string, payload any, cb func(transport.Ack)) error
}

type pendingSend struct {
	msg   *Message
	timer *time.Timer
}

// Pipeline owns every in-flight message: it applies optimistic local state,
// transmits, and reconciles acks or timeouts. Reconciliation is keyed by
// the client-temporary id, so out-of-order acks cannot corrupt the per-room
// sequence, and a late or duplicate ack is a no-op once the id left the
// pending set.
type Pipeline struct {
	mu      sync.Mutex
	seq     map[string][]*Message // roomID -> local order, sends and inbound interleaved
	pending map[string]*pendingSend

	ackTimeout time.Duration
	clock      func() time.Time
	emit       ackEmitter
	connected  func() bool

	onConfirmed func(m Message)           // sent messages, for Room.lastMessage
	onMsgError  func(m Message, err error) // per-message failures
	onUpdate    func()
}

type PipelineConf struct {
	AckTimeout time.Duration
	Clock      func() time.Time
}

func NewPipeline(conf PipelineConf, emit ackEmitter, connected func() bool,
	onConfirmed func(Message), onMsgError func(Message, error), onUpdate func()) *Pipeline {
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	if conf.AckTimeout <= 0 {
		conf.AckTimeout = 10 * time.Second
	}
	return &Pipeline{
		seq:         make(map[string][]*Message),
		pending:     make(map[string]*pendingSend),
		ackTimeout:  conf.AckTimeout,
		clock:       conf.Clock,
		emit:        emit,
		connected:   connected,
		onConfirmed: onConfirmed,
		onMsgError:  onMsgError,
		onUpdate:    onUpdate,
	}
}

// SendText creates a sending-state message and returns immediately; the ack
// or timeout reconciles it later. While disconnected the message fails
// synchronously and no network attempt is made.
func (p *Pipeline) SendText(roomID, senderID, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, errs.ErrInvalidArg.WithDetail("empty content")
	}
	m := &Message{
		ID:        ids.GenerateTemp(),
		RoomID:    roomID,
		SenderID:  senderID,
		Kind:      KindText,
		Content:   content,
		Status:    MsgSending,
		Timestamp: p.clock(),
	}
	return p.dispatch(m, transport.EventSendMsg, transport.SendMessagePayload{
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
		TS:       m.Timestamp.UnixMilli(),
	})
}

// SendVoice is SendText for audio payload references.
func (p *Pipeline) SendVoice(roomID, senderID, audio string, durationSec int) (Message, error) {
	if strings.TrimSpace(audio) == "" {
		return Message{}, errs.ErrInvalidArg.WithDetail("empty audio payload")
	}
	if durationSec <= 0 {
		return Message{}, errs.ErrInvalidArg.WithDetail("duration must be positive")
	}
	m := &Message{
		ID:          ids.GenerateTemp(),
		RoomID:      roomID,
		SenderID:    senderID,
		Kind:        KindVoice,
		Audio:       audio,
		DurationSec: durationSec,
		Status:      MsgSending,
		Timestamp:   p.clock(),
	}
	return p.dispatch(m, transport.EventSendVoice, transport.SendVoicePayload{
		RoomID:      roomID,
		SenderID:    senderID,
		Audio:       audio,
		DurationSec: durationSec,
		TS:          m.Timestamp.UnixMilli(),
	})
}

func (p *Pipeline) dispatch(m *Message, event string, payload any) (Message, error) {
	p.mu.Lock()
	p.seq[m.RoomID] = append(p.seq[m.RoomID], m)

	if !p.connected() {
		m.Status = MsgFailed
		cp := *m
		p.mu.Unlock()
		p.notify()
		p.failMsg(cp, errs.ErrNotConnected.WrapMsg("send while disconnected", "msg", cp.ID))
		return cp, errs.ErrNotConnected
	}

	tempID := m.ID
	entry := &pendingSend{msg: m}
	entry.timer = time.AfterFunc(p.ackTimeout, func() { p.resolveTimeout(tempID) })
	p.pending[tempID] = entry
	cp := *m
	p.mu.Unlock()

	p.notify()
	if err := p.emit.EmitWithAck(event, tempID, payload, func(ack transport.Ack) {
		p.resolveAck(tempID, ack)
	}); err != nil {
		p.resolveFail(tempID, errs.ErrConnection.WrapMsg("emit failed", "err", err))
		return cp, nil
	}
	return cp, nil
}

// Resend re-dispatches a failed message under a fresh temporary id.
// Explicit user action only; the engine never retries on its own.
func (p *Pipeline) Resend(roomID, messageID string) (Message, error) {
	p.mu.Lock()
	var m *Message
	for _, cand := range p.seq[roomID] {
		if cand.ID == messageID {
			m = cand
			break
		}
	}
	if m == nil {
		p.mu.Unlock()
		return Message{}, errs.ErrInvalidArg.WrapMsg("unknown message", "id", messageID)
	}
	if m.Status != MsgFailed {
		p.mu.Unlock()
		return Message{}, errs.ErrInvalidArg.WrapMsg("message not in failed state", "id", messageID)
	}
	m.ID = ids.GenerateTemp()
	m.Status = MsgSending
	m.Timestamp = p.clock()
	kind, cp := m.Kind, *m
	p.mu.Unlock()

	event := transport.EventSendMsg
	var payload any = transport.SendMessagePayload{
		RoomID: cp.RoomID, SenderID: cp.SenderID, Content: cp.Content, TS: cp.Timestamp.UnixMilli(),
	}
	if kind == KindVoice {
		event = transport.EventSendVoice
		payload = transport.SendVoicePayload{
			RoomID: cp.RoomID, SenderID: cp.SenderID, Audio: cp.Audio,
			DurationSec: cp.DurationSec, TS: cp.Timestamp.UnixMilli(),
		}
	}

	p.mu.Lock()
	if !p.connected() {
		m.Status = MsgFailed
		cp = *m
		p.mu.Unlock()
		p.notify()
		p.failMsg(cp, errs.ErrNotConnected)
		return cp, errs.ErrNotConnected
	}
	tempID := m.ID
	entry := &pendingSend{msg: m}
	entry.timer = time.AfterFunc(p.ackTimeout, func() { p.resolveTimeout(tempID) })
	p.pending[tempID] = entry
	p.mu.Unlock()

	p.notify()
	if err := p.emit.EmitWithAck(event, tempID, payload, func(ack transport.Ack) {
		p.resolveAck(tempID, ack)
	}); err != nil {
		p.resolveFail(tempID, errs.ErrConnection.WrapMsg("emit failed", "err", err))
	}
	return cp, nil
}

// ApplyInbound appends a server-pushed message to the room sequence. The
// server echoes confirmed ids, so duplicates are dropped by id.
func (p *Pipeline) ApplyInbound(m Message) {
	p.mu.Lock()
	for _, cand := range p.seq[m.RoomID] {
		if cand.ID == m.ID {
			p.mu.Unlock()
			return
		}
	}
	cp := m
	cp.Status = MsgSent
	p.seq[m.RoomID] = append(p.seq[m.RoomID], &cp)
	p.mu.Unlock()
	p.notify()
}

// Messages returns the room's local sequence as copies, in send order.
func (p *Pipeline) Messages(roomID string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, 0, len(p.seq[roomID]))
	for _, m := range p.seq[roomID] {
		out = append(out, *m)
	}
	return out
}

// FailAllPending fails every still-sending message, fail-fast on teardown.
// Already-sent messages are untouched.
func (p *Pipeline) FailAllPending(cause error) {
	if cause == nil {
		cause = errs.ErrNotConnected.WithDetail("connection closed")
	}
	p.mu.Lock()
	failed := make([]Message, 0, len(p.pending))
	for id, e := range p.pending {
		e.timer.Stop()
		e.msg.Status = MsgFailed
		failed = append(failed, *e.msg)
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if len(failed) == 0 {
		return
	}
	p.notify()
	for _, m := range failed {
		p.failMsg(m, cause)
	}
}

// PendingCount is a test/debug hook.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ===== reconciliation =====

func (p *Pipeline) resolveAck(tempID string, ack transport.Ack) {
	if !ack.Success {
		p.resolveFail(tempID, errs.ErrServerReject.WithDetail(ack.Error))
		return
	}
	p.mu.Lock()
	e, ok := p.pending[tempID]
	if !ok {
		// late or duplicate ack, id no longer pending
		p.mu.Unlock()
		return
	}
	delete(p.pending, tempID)
	e.timer.Stop()
	if ack.MessageID != "" {
		e.msg.ID = ack.MessageID
	}
	e.msg.Status = MsgSent
	cp := *e.msg
	p.mu.Unlock()

	p.notify()
	if p.onConfirmed != nil {
		p.onConfirmed(cp)
	}
}

func (p *Pipeline) resolveTimeout(tempID string) {
	p.resolveFail(tempID, errs.ErrAckTimeout.WrapMsg("no ack", "msg", tempID))
}

func (p *Pipeline) resolveFail(tempID string, cause error) {
	p.mu.Lock()
	e, ok := p.pending[tempID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, tempID)
	e.timer.Stop()
	e.msg.Status = MsgFailed
	cp := *e.msg
	p.mu.Unlock()

	p.notify()
	p.failMsg(cp, cause)
}

func (p *Pipeline) failMsg(m Message, err error) {
	if p.onMsgError != nil {
		p.onMsgError(m, err)
	}
}

func (p *Pipeline) notify() {
	if p.onUpdate != nil {
		p.onUpdate()
	}
}
