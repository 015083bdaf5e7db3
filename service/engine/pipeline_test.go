package engine

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"MaterniChat/service/transport"
	"MaterniChat/tools/errs"
)

type pipeHarness struct {
	tr        *fakeTransport
	pipe      *Pipeline
	connected bool

	mu        sync.Mutex
	confirmed []Message
	failures  []error
	failedMsg []Message
}

func newPipeHarness(ackTimeout time.Duration) *pipeHarness {
	h := &pipeHarness{tr: newFakeTransport(), connected: true}
	h.pipe = NewPipeline(
		PipelineConf{AckTimeout: ackTimeout},
		h.tr,
		func() bool { return h.connected },
		func(m Message) {
			h.mu.Lock()
			h.confirmed = append(h.confirmed, m)
			h.mu.Unlock()
		},
		func(m Message, err error) {
			h.mu.Lock()
			h.failedMsg = append(h.failedMsg, m)
			h.failures = append(h.failures, err)
			h.mu.Unlock()
		},
		nil,
	)
	return h
}

func (h *pipeHarness) confirmedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.confirmed)
}

func (h *pipeHarness) lastFailure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.failures) == 0 {
		return nil
	}
	return h.failures[len(h.failures)-1]
}

func TestSendWhileDisconnectedFailsSynchronously(t *testing.T) {
	h := newPipeHarness(time.Second)
	h.connected = false

	m, err := h.pipe.SendText("room-1", "user-9", "hello")
	if !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("err = %v, want NotConnectedError", err)
	}
	if m.Status != MsgFailed {
		t.Fatalf("status = %s, want failed", m.Status)
	}
	if h.tr.emitCount() != 0 {
		t.Fatal("network attempt was made while disconnected")
	}
	if !errors.Is(h.lastFailure(), errs.ErrNotConnected) {
		t.Fatalf("surfaced failure = %v", h.lastFailure())
	}

	msgs := h.pipe.Messages("room-1")
	if len(msgs) != 1 || msgs[0].Status != MsgFailed {
		t.Fatalf("sequence = %+v", msgs)
	}
}

func TestAckReconciliationSwapsID(t *testing.T) {
	h := newPipeHarness(time.Second)

	m, err := h.pipe.SendText("room-1", "user-9", "Hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if m.Status != MsgSending || !strings.HasPrefix(m.ID, "tmp-") {
		t.Fatalf("optimistic message wrong: %+v", m)
	}

	if !h.tr.resolve(m.ID, transport.Ack{Success: true, MessageID: "srv-42"}) {
		t.Fatal("no pending ack registered")
	}

	msgs := h.pipe.Messages("room-1")
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].ID != "srv-42" || msgs[0].Status != MsgSent {
		t.Fatalf("reconciled message wrong: %+v", msgs[0])
	}
	if h.confirmedCount() != 1 {
		t.Fatalf("confirmed = %d, want 1", h.confirmedCount())
	}
	if h.pipe.PendingCount() != 0 {
		t.Fatal("pending set not drained")
	}
}

func TestDuplicateAckIsNoOp(t *testing.T) {
	h := newPipeHarness(time.Second)
	m, _ := h.pipe.SendText("room-1", "user-9", "Hello")

	h.tr.resolve(m.ID, transport.Ack{Success: true, MessageID: "srv-1"})
	before := h.pipe.Messages("room-1")

	// replay the same ack straight into the pipeline
	h.pipe.resolveAck(m.ID, transport.Ack{Success: true, MessageID: "srv-other"})

	after := h.pipe.Messages("room-1")
	if len(after) != len(before) || after[0].ID != before[0].ID || after[0].Status != before[0].Status {
		t.Fatalf("duplicate ack changed state: %+v -> %+v", before, after)
	}
	if h.confirmedCount() != 1 {
		t.Fatalf("confirmed fired %d times, want 1", h.confirmedCount())
	}
}

func TestNegativeAck(t *testing.T) {
	h := newPipeHarness(time.Second)
	m, _ := h.pipe.SendText("room-1", "user-9", "Hello")

	h.tr.resolve(m.ID, transport.Ack{Success: false, Error: "room archived"})

	msgs := h.pipe.Messages("room-1")
	if msgs[0].Status != MsgFailed {
		t.Fatalf("status = %s, want failed", msgs[0].Status)
	}
	if !errors.Is(h.lastFailure(), errs.ErrServerReject) {
		t.Fatalf("failure = %v, want ServerRejectedError", h.lastFailure())
	}
}

func TestAckTimeoutFailsOnce(t *testing.T) {
	h := newPipeHarness(15 * time.Millisecond)
	m, _ := h.pipe.SendVoice("room-1", "user-9", "<payload>", 12)

	waitFor(t, time.Second, func() bool {
		msgs := h.pipe.Messages("room-1")
		return len(msgs) == 1 && msgs[0].Status == MsgFailed
	}, "timeout failure")

	if !errors.Is(h.lastFailure(), errs.ErrAckTimeout) {
		t.Fatalf("failure = %v, want AcknowledgmentTimeoutError", h.lastFailure())
	}
	// a late ack after the timeout must be ignored
	h.pipe.resolveAck(m.ID, transport.Ack{Success: true, MessageID: "srv-late"})
	msgs := h.pipe.Messages("room-1")
	if len(msgs) != 1 || msgs[0].Status != MsgFailed || msgs[0].ID == "srv-late" {
		t.Fatalf("late ack mutated state: %+v", msgs)
	}
}

func TestOutOfOrderAcksPreserveSequence(t *testing.T) {
	h := newPipeHarness(time.Second)
	m1, _ := h.pipe.SendText("room-1", "user-9", "first")
	m2, _ := h.pipe.SendText("room-1", "user-9", "second")

	// acks arrive reversed
	h.tr.resolve(m2.ID, transport.Ack{Success: true, MessageID: "srv-2"})
	h.tr.resolve(m1.ID, transport.Ack{Success: true, MessageID: "srv-1"})

	msgs := h.pipe.Messages("room-1")
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("order corrupted: %q then %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].ID != "srv-1" || msgs[1].ID != "srv-2" {
		t.Fatalf("ids mismatched: %s, %s", msgs[0].ID, msgs[1].ID)
	}
}

func TestSendValidation(t *testing.T) {
	h := newPipeHarness(time.Second)

	if _, err := h.pipe.SendText("room-1", "u", "   "); !errors.Is(err, errs.ErrInvalidArg) {
		t.Errorf("blank text: %v", err)
	}
	if _, err := h.pipe.SendVoice("room-1", "u", "", 5); !errors.Is(err, errs.ErrInvalidArg) {
		t.Errorf("empty audio: %v", err)
	}
	if _, err := h.pipe.SendVoice("room-1", "u", "<p>", 0); !errors.Is(err, errs.ErrInvalidArg) {
		t.Errorf("zero duration: %v", err)
	}
	if h.tr.emitCount() != 0 {
		t.Fatal("invalid sends reached the transport")
	}
}

func TestFailAllPendingSparesSent(t *testing.T) {
	h := newPipeHarness(time.Minute)
	m1, _ := h.pipe.SendText("room-1", "u", "done")
	h.tr.resolve(m1.ID, transport.Ack{Success: true, MessageID: "srv-1"})

	h.pipe.SendText("room-1", "u", "in flight 1")
	h.pipe.SendText("room-1", "u", "in flight 2")

	h.pipe.FailAllPending(errs.ErrNotConnected)

	msgs := h.pipe.Messages("room-1")
	if msgs[0].Status != MsgSent {
		t.Fatalf("already-sent message was failed: %+v", msgs[0])
	}
	for _, m := range msgs[1:] {
		if m.Status != MsgFailed {
			t.Fatalf("in-flight message not failed: %+v", m)
		}
	}
	if h.pipe.PendingCount() != 0 {
		t.Fatal("pending set not cleared")
	}
}

func TestResendFailedMessage(t *testing.T) {
	h := newPipeHarness(time.Minute)
	h.connected = false
	m, _ := h.pipe.SendText("room-1", "u", "retry me")
	h.connected = true

	re, err := h.pipe.Resend("room-1", m.ID)
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if re.Status != MsgSending || re.ID == m.ID {
		t.Fatalf("resend did not restart the message: %+v", re)
	}

	h.tr.resolve(re.ID, transport.Ack{Success: true, MessageID: "srv-9"})
	msgs := h.pipe.Messages("room-1")
	if len(msgs) != 1 || msgs[0].ID != "srv-9" || msgs[0].Status != MsgSent {
		t.Fatalf("resend reconciliation wrong: %+v", msgs)
	}

	// only failed messages may be resent
	if _, err := h.pipe.Resend("room-1", "srv-9"); !errors.Is(err, errs.ErrInvalidArg) {
		t.Fatalf("resending a sent message: %v", err)
	}
}

func TestInboundDedupByID(t *testing.T) {
	h := newPipeHarness(time.Second)
	in := Message{ID: "srv-7", RoomID: "room-1", SenderID: "doc-1", Content: "hi"}
	h.pipe.ApplyInbound(in)
	h.pipe.ApplyInbound(in)

	msgs := h.pipe.Messages("room-1")
	if len(msgs) != 1 {
		t.Fatalf("duplicate inbound appended: %d entries", len(msgs))
	}
}
