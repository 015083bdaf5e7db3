package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"MaterniChat/service/transport"
)

// fakeTransport scripts dial outcomes and captures emits so tests can
// resolve acks and push frames by hand.
type fakeTransport struct {
	mu       sync.Mutex
	handler  transport.Handler
	dialErrs []error // consumed per attempt; empty means success
	dials    int
	emits    []emitRec
	acks     map[string]func(transport.Ack)
	emitErr  error
}

type emitRec struct {
	event   string
	ackID   string
	payload any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{acks: make(map[string]func(transport.Ack))}
}

func (f *fakeTransport) SetHandler(h transport.Handler) { f.handler = h }

func (f *fakeTransport) Dial(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitRec{event: event, payload: payload})
	return nil
}

func (f *fakeTransport) EmitWithAck(event, ackID string, payload any, cb func(transport.Ack)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitRec{event: event, ackID: ackID, payload: payload})
	f.acks[ackID] = cb
	return nil
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) lastEmit() (emitRec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emits) == 0 {
		return emitRec{}, false
	}
	return f.emits[len(f.emits)-1], true
}

func (f *fakeTransport) emitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emits)
}

// resolve fires the captured ack callback for ackID, if any.
func (f *fakeTransport) resolve(ackID string, a transport.Ack) bool {
	f.mu.Lock()
	cb, ok := f.acks[ackID]
	delete(f.acks, ackID)
	f.mu.Unlock()
	if ok {
		cb(a)
	}
	return ok
}

func (f *fakeTransport) pushFrame(fr *transport.Frame) {
	if f.handler != nil {
		f.handler.OnFrame(fr)
	}
}

func (f *fakeTransport) drop(err error) {
	if f.handler != nil {
		f.handler.OnClose(err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
