package room

import (
	"log/slog"
	"sync"

	"github.com/edusphere/chat-core/internal/socket"
)

// Socket is the slice of the connection client membership needs
type Socket interface {
	Emit(event string, payload any) error
	OnStateChange(cb func(socket.State)) func()
}

// Membership tracks which conversation rooms the session has joined.
// The connection itself forgets membership on reconnect, so Membership
// re-issues join-room for every active conversation whenever the socket
// comes back up.
type Membership struct {
	sock   Socket
	logger *slog.Logger

	mu     sync.Mutex
	joined map[string]struct{}
	unsub  func()
}

// NewMembership creates a membership tracker hooked into reconnects
func NewMembership(sock Socket, logger *slog.Logger) *Membership {
	m := &Membership{
		sock:   sock,
		logger: logger,
		joined: make(map[string]struct{}),
	}

	m.unsub = sock.OnStateChange(func(s socket.State) {
		if s == socket.StateConnected {
			m.Rejoin()
		}
	})

	return m
}

// Join enters the conversation's room. Joining an already-joined room is a
// no-op. The join is fire-and-forget: subscriptions may be registered in the
// same tick because the room filter is applied server-side per event.
func (m *Membership) Join(conversationID string) error {
	m.mu.Lock()
	if _, ok := m.joined[conversationID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.joined[conversationID] = struct{}{}
	m.mu.Unlock()

	if err := m.sock.Emit(socket.EventJoinRoom, conversationID); err != nil {
		m.mu.Lock()
		delete(m.joined, conversationID)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Leave exits the conversation's room
func (m *Membership) Leave(conversationID string) error {
	m.mu.Lock()
	_, ok := m.joined[conversationID]
	delete(m.joined, conversationID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	return m.sock.Emit(socket.EventLeaveRoom, conversationID)
}

// Joined reports whether the session is currently in the room
func (m *Membership) Joined(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.joined[conversationID]
	return ok
}

// Active returns the conversations currently joined
func (m *Membership) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.joined))
	for id := range m.joined {
		ids = append(ids, id)
	}
	return ids
}

// Rejoin re-issues join-room for every active conversation. Called after the
// socket reconnects; early events before the join lands are dropped by the
// server-side room filter, which matches the pre-reconnect behavior.
func (m *Membership) Rejoin() {
	for _, id := range m.Active() {
		if err := m.sock.Emit(socket.EventJoinRoom, id); err != nil {
			m.logger.Warn("rejoin failed", "conversation_id", id, "error", err)
		}
	}
}

// Close detaches the reconnect hook
func (m *Membership) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}
