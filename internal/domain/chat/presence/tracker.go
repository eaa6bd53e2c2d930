package presence

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
	"github.com/edusphere/chat-core/internal/socket"
)

// Socket is the slice of the connection client the tracker needs
type Socket interface {
	Emit(event string, payload any) error
	Subscribe(event string, h socket.Handler) func()
	OnStateChange(cb func(socket.State)) func()
}

// Tracker maintains the last known online status per participant.
// Presence is last-write-wins: any inbound event for a participant replaces
// the stored entry unconditionally, because the transport gives no ordering
// guarantee and presence is soft state anyway.
type Tracker struct {
	sock   Socket
	self   entity.Participant
	logger *slog.Logger

	mu       sync.Mutex
	entries  map[string]entity.PresenceEntry
	watchers map[string]map[int]func(entity.PresenceEntry)
	nextID   int
	unsubs   []func()
}

// NewTracker creates a tracker bound to the socket's presence events. On
// every successful (re)connect it re-announces the local session as online.
func NewTracker(sock Socket, self entity.Participant, logger *slog.Logger) *Tracker {
	t := &Tracker{
		sock:     sock,
		self:     self,
		logger:   logger,
		entries:  make(map[string]entity.PresenceEntry),
		watchers: make(map[string]map[int]func(entity.PresenceEntry)),
	}

	t.unsubs = append(t.unsubs,
		sock.Subscribe(socket.EventUserStatusChange, t.handleUserStatus),
		sock.Subscribe(socket.EventSelfStatusChange, t.handleSelfStatus),
		sock.OnStateChange(func(s socket.State) {
			if s == socket.StateConnected {
				if err := t.AnnounceOnline(); err != nil {
					t.logger.Warn("presence announce failed", "error", err)
				}
			}
		}),
	)

	return t
}

// AnnounceOnline emits the self-status announce for the local session
func (t *Tracker) AnnounceOnline() error {
	return t.sock.Emit(socket.EventRegisterPresence, socket.RegisterPresencePayload{
		UserID: t.self.ID,
		Role:   t.self.Role.WireName(),
	})
}

// QueryStatus asks the backend for a participant's current status. The
// answer arrives as a regular user-status-change event.
func (t *Tracker) QueryStatus(participantID string) error {
	return t.sock.Emit(socket.EventRequestUserStatus, socket.RequestUserStatusPayload{
		UserID: participantID,
	})
}

// Status returns the last known entry for a participant
func (t *Tracker) Status(participantID string) (entity.PresenceEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[participantID]
	return entry, ok
}

// OnStatusChange registers a callback for a participant's status updates and
// returns an unregister function.
func (t *Tracker) OnStatusChange(participantID string, cb func(entity.PresenceEntry)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	watchers := t.watchers[participantID]
	if watchers == nil {
		watchers = make(map[int]func(entity.PresenceEntry))
		t.watchers[participantID] = watchers
	}
	watchers[id] = cb
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		if watchers, ok := t.watchers[participantID]; ok {
			delete(watchers, id)
			if len(watchers) == 0 {
				delete(t.watchers, participantID)
			}
		}
		t.mu.Unlock()
	}
}

// Close detaches the tracker from the socket
func (t *Tracker) Close() {
	for _, unsub := range t.unsubs {
		unsub()
	}
}

func (t *Tracker) handleUserStatus(data json.RawMessage) {
	var payload socket.UserStatusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.logger.Warn("bad user-status-change payload", "error", err)
		return
	}
	if payload.UserID == "" {
		return
	}

	t.store(entity.PresenceEntry{
		ParticipantID: payload.UserID,
		IsOnline:      payload.IsOnline,
		Role:          roleFromWire(payload.Role),
	})
}

func (t *Tracker) handleSelfStatus(data json.RawMessage) {
	var payload socket.SelfStatusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.logger.Warn("bad self-status-change payload", "error", err)
		return
	}
	if payload.UserID == "" {
		return
	}

	t.store(entity.PresenceEntry{
		ParticipantID: payload.UserID,
		IsOnline:      payload.IsOnline,
		Role:          t.self.Role,
	})
}

func (t *Tracker) store(entry entity.PresenceEntry) {
	t.mu.Lock()
	t.entries[entry.ParticipantID] = entry
	cbs := make([]func(entity.PresenceEntry), 0, len(t.watchers[entry.ParticipantID]))
	for _, cb := range t.watchers[entry.ParticipantID] {
		cbs = append(cbs, cb)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(entry)
	}
}

func roleFromWire(wire string) entity.Role {
	if wire == "user" {
		return entity.RoleStudent
	}
	if r := entity.Role(wire); r.Valid() {
		return r
	}
	return ""
}
