package engine

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry() (*Registry, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewRegistry(clk.Now, nil), clk
}

func TestUnreadCountsOnlyWhenNotJoined(t *testing.T) {
	reg, clk := newTestRegistry()
	reg.Upsert(Room{ID: "room-1", PatientID: "p1", Mode: ModeAI})
	reg.Upsert(Room{ID: "room-2", PatientID: "p2", Mode: ModeAI})
	reg.MarkJoined("room-1")

	clk.advance(time.Second)
	reg.ApplyMessage(Message{ID: "m1", RoomID: "room-1", SenderID: "p1", Timestamp: clk.Now()}, false)
	reg.ApplyMessage(Message{ID: "m2", RoomID: "room-2", SenderID: "p2", Timestamp: clk.Now()}, false)

	r1, _ := reg.Get("room-1")
	r2, _ := reg.Get("room-2")
	if r1.Unread != 0 {
		t.Errorf("joined room unread = %d, want 0", r1.Unread)
	}
	if r2.Unread != 1 {
		t.Errorf("unjoined room unread = %d, want 1", r2.Unread)
	}

	// own messages never count, joined or not
	reg.ApplyMessage(Message{ID: "m3", RoomID: "room-2", SenderID: "me", Timestamp: clk.Now()}, true)
	r2, _ = reg.Get("room-2")
	if r2.Unread != 1 {
		t.Errorf("own message bumped unread to %d", r2.Unread)
	}
}

func TestJoinResetsUnread(t *testing.T) {
	reg, clk := newTestRegistry()
	reg.Upsert(Room{ID: "room-1", PatientID: "p1"})
	for i := 0; i < 3; i++ {
		clk.advance(time.Second)
		reg.ApplyMessage(Message{ID: string(rune('a' + i)), RoomID: "room-1", SenderID: "p1", Timestamp: clk.Now()}, false)
	}
	r, _ := reg.Get("room-1")
	if r.Unread != 3 {
		t.Fatalf("unread = %d, want 3", r.Unread)
	}

	if !reg.MarkJoined("room-1") {
		t.Fatal("MarkJoined returned false for known room")
	}
	r, _ = reg.Get("room-1")
	if r.Unread != 0 {
		t.Fatalf("unread after join = %d, want 0", r.Unread)
	}
	if !r.Joined {
		t.Fatal("room not flagged joined")
	}
}

func TestListOrdering(t *testing.T) {
	reg, clk := newTestRegistry()
	reg.Upsert(Room{ID: "old", CreatedAt: clk.Now()})
	clk.advance(time.Minute)
	reg.Upsert(Room{ID: "mid", CreatedAt: clk.Now()})
	clk.advance(time.Minute)
	reg.Upsert(Room{ID: "new", CreatedAt: clk.Now()})

	// activity beats creation time
	clk.advance(time.Minute)
	reg.ApplyMessage(Message{ID: "m1", RoomID: "old", SenderID: "x", Timestamp: clk.Now()}, false)

	rooms := reg.List()
	if len(rooms) != 3 {
		t.Fatalf("len = %d, want 3", len(rooms))
	}
	if rooms[0].ID != "old" {
		t.Errorf("most recent activity first: got %s", rooms[0].ID)
	}
	if rooms[1].ID != "new" || rooms[2].ID != "mid" {
		t.Errorf("creation-time tiebreak wrong: %s, %s", rooms[1].ID, rooms[2].ID)
	}
}

func TestUpsertDoesNotClobber(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Upsert(Room{ID: "room-1", PatientID: "p1", PatientName: "Amina", Mode: ModeAI})
	reg.MarkJoined("room-1")

	// partial refresh: empty fields leave the known values alone
	reg.Upsert(Room{ID: "room-1", Mode: ModeDoctorDirect})

	r, _ := reg.Get("room-1")
	if r.PatientID != "p1" || r.PatientName != "Amina" {
		t.Errorf("patient fields clobbered: %+v", r)
	}
	if r.Mode != ModeDoctorDirect {
		t.Errorf("mode = %s, want doctor-direct", r.Mode)
	}
	if !r.Joined {
		t.Error("joined flag lost on upsert")
	}
}

func TestRemoveRoom(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Upsert(Room{ID: "room-1"})
	reg.Remove("room-1")
	if reg.Has("room-1") {
		t.Fatal("room survived Remove")
	}
	// removing twice is harmless
	reg.Remove("room-1")
}

func TestLastMessageIsACopy(t *testing.T) {
	reg, clk := newTestRegistry()
	reg.Upsert(Room{ID: "room-1"})
	m := Message{ID: "m1", RoomID: "room-1", Content: "hello", SenderID: "p1", Timestamp: clk.Now()}
	reg.ApplyMessage(m, false)

	r, _ := reg.Get("room-1")
	r.LastMessage.Content = "mutated"

	again, _ := reg.Get("room-1")
	if again.LastMessage.Content != "hello" {
		t.Fatal("registry handed out a shared LastMessage reference")
	}
}
