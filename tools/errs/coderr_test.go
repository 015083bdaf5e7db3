package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestWithDetailDoesNotMutateTemplate(t *testing.T) {
	detailed := ErrNotConnected.WithDetail("while sending")
	if ErrNotConnected.Detail != "" {
		t.Fatalf("template mutated: %q", ErrNotConnected.Detail)
	}
	if detailed.Code != CodeNotConnected {
		t.Fatalf("code lost: %d", detailed.Code)
	}
	if !strings.Contains(detailed.Error(), "while sending") {
		t.Fatalf("detail missing: %q", detailed.Error())
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	wrapped := ErrRoomNotFound.WrapMsg("unknown room", "room", "room-9")
	if !errors.Is(wrapped, ErrRoomNotFound) {
		t.Fatal("wrapped copy must match its template")
	}
	if errors.Is(wrapped, ErrNotConnected) {
		t.Fatal("distinct codes must not match")
	}
}

func TestWrapMsgFormatsPairs(t *testing.T) {
	err := ErrAckTimeout.WrapMsg("no ack", "msg", "tmp-1", "attempt", 2)
	for _, want := range []string{"no ack", "msg=tmp-1", "attempt=2"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %q", want, err.Error())
		}
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(ErrServerReject.WithDetail("nope")); got != CodeServerReject {
		t.Fatalf("CodeOf = %d", got)
	}
	if got := CodeOf(errors.New("plain")); got != 0 {
		t.Fatalf("CodeOf(plain) = %d", got)
	}
}

func TestIsTimeoutClass(t *testing.T) {
	if !IsTimeoutClass(ErrAckTimeout.WithDetail("x")) {
		t.Fatal("ack timeout is timeout-class")
	}
	if !IsTimeoutClass(ErrConnection.WrapMsg("dial failed")) {
		t.Fatal("connection errors are timeout-class")
	}
	if IsTimeoutClass(ErrServerReject) {
		t.Fatal("server reject is not timeout-class")
	}
}
