package presence

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
	"github.com/edusphere/chat-core/internal/socket"
)

// fakeSocket captures emissions and lets tests inject inbound events and
// connection state transitions.
type fakeSocket struct {
	mu       sync.Mutex
	emits    []emitted
	handlers map[string][]socket.Handler
	stateCbs []func(socket.State)
	emitErr  error
}

type emitted struct {
	event   string
	payload any
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: make(map[string][]socket.Handler)}
}

func (f *fakeSocket) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeSocket) Subscribe(event string, h socket.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
	return func() {}
}

func (f *fakeSocket) OnStateChange(cb func(socket.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCbs = append(f.stateCbs, cb)
	return func() {}
}

func (f *fakeSocket) inject(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling %s payload: %v", event, err)
	}
	f.mu.Lock()
	handlers := append([]socket.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (f *fakeSocket) setState(s socket.State) {
	f.mu.Lock()
	cbs := make([]func(socket.State), len(f.stateCbs))
	copy(cbs, f.stateCbs)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (f *fakeSocket) emittedEvents() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitted, len(f.emits))
	copy(out, f.emits)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var self = entity.Participant{ID: "s1", Role: entity.RoleStudent}

func TestStatusLastWriteWins(t *testing.T) {
	sock := newFakeSocket()
	tracker := NewTracker(sock, self, testLogger())
	defer tracker.Close()

	sock.inject(t, socket.EventUserStatusChange, socket.UserStatusPayload{
		UserID: "t1", IsOnline: true, Role: "tutor",
	})
	entry, ok := tracker.Status("t1")
	if !ok || !entry.IsOnline || entry.Role != entity.RoleTutor {
		t.Fatalf("entry = %+v, ok = %v", entry, ok)
	}

	sock.inject(t, socket.EventUserStatusChange, socket.UserStatusPayload{
		UserID: "t1", IsOnline: false, Role: "tutor",
	})
	entry, _ = tracker.Status("t1")
	if entry.IsOnline {
		t.Error("later offline event should replace the stored entry")
	}
}

func TestStatusUnknownParticipant(t *testing.T) {
	tracker := NewTracker(newFakeSocket(), self, testLogger())
	defer tracker.Close()

	if _, ok := tracker.Status("nobody"); ok {
		t.Error("unknown participant reported a status")
	}
}

func TestWireRoleUserMapsToStudent(t *testing.T) {
	sock := newFakeSocket()
	tracker := NewTracker(sock, self, testLogger())
	defer tracker.Close()

	sock.inject(t, socket.EventUserStatusChange, socket.UserStatusPayload{
		UserID: "s2", IsOnline: true, Role: "user",
	})
	entry, _ := tracker.Status("s2")
	if entry.Role != entity.RoleStudent {
		t.Errorf("role = %q, want student", entry.Role)
	}
}

func TestSelfStatusEvents(t *testing.T) {
	sock := newFakeSocket()
	tracker := NewTracker(sock, self, testLogger())
	defer tracker.Close()

	sock.inject(t, socket.EventSelfStatusChange, socket.SelfStatusPayload{
		UserID: self.ID, IsOnline: true,
	})
	entry, ok := tracker.Status(self.ID)
	if !ok || !entry.IsOnline || entry.Role != entity.RoleStudent {
		t.Errorf("entry = %+v, ok = %v", entry, ok)
	}
}

func TestAnnounceOnlineOnConnect(t *testing.T) {
	sock := newFakeSocket()
	tracker := NewTracker(sock, self, testLogger())
	defer tracker.Close()

	sock.setState(socket.StateConnected)

	events := sock.emittedEvents()
	if len(events) != 1 || events[0].event != socket.EventRegisterPresence {
		t.Fatalf("emitted %+v, want one %s", events, socket.EventRegisterPresence)
	}
	payload, ok := events[0].payload.(socket.RegisterPresencePayload)
	if !ok {
		t.Fatalf("payload type %T", events[0].payload)
	}
	if payload.UserID != self.ID || payload.Role != "user" {
		t.Errorf("payload = %+v, want user id %q role user", payload, self.ID)
	}

	// Reconnecting announces again.
	sock.setState(socket.StateReconnecting)
	sock.setState(socket.StateConnected)
	if got := sock.emittedEvents(); len(got) != 2 {
		t.Errorf("emitted %d announces, want 2", len(got))
	}
}

func TestQueryStatus(t *testing.T) {
	sock := newFakeSocket()
	tracker := NewTracker(sock, self, testLogger())
	defer tracker.Close()

	if err := tracker.QueryStatus("t1"); err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}

	events := sock.emittedEvents()
	if len(events) != 1 || events[0].event != socket.EventRequestUserStatus {
		t.Fatalf("emitted %+v", events)
	}
	payload := events[0].payload.(socket.RequestUserStatusPayload)
	if payload.UserID != "t1" {
		t.Errorf("queried %q, want t1", payload.UserID)
	}
}

func TestOnStatusChangeScopedToParticipant(t *testing.T) {
	sock := newFakeSocket()
	tracker := NewTracker(sock, self, testLogger())
	defer tracker.Close()

	var mu sync.Mutex
	var seen []entity.PresenceEntry
	unreg := tracker.OnStatusChange("t1", func(e entity.PresenceEntry) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	sock.inject(t, socket.EventUserStatusChange, socket.UserStatusPayload{UserID: "t1", IsOnline: true, Role: "tutor"})
	sock.inject(t, socket.EventUserStatusChange, socket.UserStatusPayload{UserID: "t2", IsOnline: true, Role: "tutor"})

	mu.Lock()
	n := len(seen)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("watcher fired %d times, want 1", n)
	}

	unreg()
	sock.inject(t, socket.EventUserStatusChange, socket.UserStatusPayload{UserID: "t1", IsOnline: false, Role: "tutor"})
	mu.Lock()
	n = len(seen)
	mu.Unlock()
	if n != 1 {
		t.Error("watcher fired after unregister")
	}
}

func TestEventsWithoutUserIDIgnored(t *testing.T) {
	sock := newFakeSocket()
	tracker := NewTracker(sock, self, testLogger())
	defer tracker.Close()

	sock.inject(t, socket.EventUserStatusChange, socket.UserStatusPayload{IsOnline: true})
	if _, ok := tracker.Status(""); ok {
		t.Error("event without user id stored an entry")
	}
}
