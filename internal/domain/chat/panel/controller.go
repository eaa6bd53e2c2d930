package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
	"github.com/edusphere/chat-core/internal/domain/chat/presence"
	"github.com/edusphere/chat-core/internal/domain/chat/room"
	"github.com/edusphere/chat-core/internal/domain/chat/service"
	"github.com/edusphere/chat-core/internal/domain/chat/typing"
	"github.com/edusphere/chat-core/internal/socket"
)

// Phase is the lifecycle state of an open chat panel
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseResolving Phase = "resolving"
	PhaseJoined    Phase = "joined"
	PhaseActive    Phase = "active"
	PhaseClosed    Phase = "closed"
)

// Socket is the slice of the connection client the controller needs
type Socket interface {
	Emit(event string, payload any) error
	Subscribe(event string, h socket.Handler) func()
}

// Controller is the thin consumer a chat panel renders from. One controller
// owns one open conversation: it resolves the conversation, joins its room,
// registers the event subscriptions, and exposes a renderable snapshot.
// The same type serves the student-facing and tutor-facing panels; the
// difference is only the role of the participant the core was built with.
type Controller struct {
	core     *service.Service
	rooms    *room.Membership
	presence *presence.Tracker
	sock     Socket
	logger   *slog.Logger

	mu       sync.Mutex
	phase    Phase
	conv     entity.Conversation
	peerID   string
	peerRole entity.Role
	typing   *typing.Coordinator
	unsubs   []func()
}

// Snapshot is the renderable state of the panel
type Snapshot struct {
	Phase        Phase
	Conversation entity.Conversation
	Messages     []entity.Message
	PeerTyping   bool
	PeerOnline   bool
}

// NewController creates an idle panel controller
func NewController(core *service.Service, rooms *room.Membership, tracker *presence.Tracker, sock Socket, logger *slog.Logger) *Controller {
	return &Controller{
		core:     core,
		rooms:    rooms,
		presence: tracker,
		sock:     sock,
		logger:   logger,
		phase:    PhaseIdle,
	}
}

// Open resolves the conversation with otherID, joins its room, wires the
// subscriptions, and loads history. The join is issued before any
// subscription is registered so the server-side room filter is already in
// place when events start flowing.
func (c *Controller) Open(ctx context.Context, otherID string) (*entity.Conversation, error) {
	c.mu.Lock()
	if c.phase != PhaseIdle && c.phase != PhaseClosed {
		c.mu.Unlock()
		return nil, fmt.Errorf("opening panel: already open (phase %s)", c.phase)
	}
	c.phase = PhaseResolving
	c.mu.Unlock()

	conv, err := c.core.Resolve(ctx, otherID)
	if err != nil {
		c.setPhase(PhaseIdle)
		return nil, err
	}

	if err := c.rooms.Join(conv.ID); err != nil {
		c.setPhase(PhaseIdle)
		return nil, fmt.Errorf("joining room: %w", err)
	}

	self := c.core.Self()
	peerRole := entity.RoleTutor
	if self.Role == entity.RoleTutor {
		peerRole = entity.RoleStudent
	}

	coordinator := typing.NewCoordinator(c.sock, conv.ID, self.Role)

	c.mu.Lock()
	c.conv = *conv
	c.peerID = otherID
	c.peerRole = peerRole
	c.typing = coordinator
	c.unsubs = []func(){
		c.sock.Subscribe(socket.EventReceiveMessage, c.handleReceiveMessage),
		c.sock.Subscribe(socket.EventMessageDeleted, c.handleMessageDeleted),
		c.sock.Subscribe(socket.TypingEvent(peerRole), c.handlePeerTyping),
		c.sock.Subscribe(socket.StopTypingEvent(peerRole), c.handlePeerStopTyping),
	}
	c.phase = PhaseJoined
	c.mu.Unlock()

	if err := c.presence.QueryStatus(otherID); err != nil {
		c.logger.Warn("presence query failed", "participant_id", otherID, "error", err)
	}

	if _, err := c.core.LoadHistory(ctx, conv.ID); err != nil {
		// Live traffic still flows; history can be retried by the panel
		c.logger.Warn("history load failed", "conversation_id", conv.ID, "error", err)
	}

	c.setPhase(PhaseActive)
	return conv, nil
}

// Close tears the panel down: subscriptions removed, typing timers stopped,
// room left. A closed controller can be reopened.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.phase == PhaseClosed || c.phase == PhaseIdle {
		c.mu.Unlock()
		return
	}
	unsubs := c.unsubs
	c.unsubs = nil
	coordinator := c.typing
	c.typing = nil
	convID := c.conv.ID
	c.phase = PhaseClosed
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if coordinator != nil {
		coordinator.Close()
	}
	if convID != "" {
		if err := c.rooms.Leave(convID); err != nil {
			c.logger.Warn("leave room failed", "conversation_id", convID, "error", err)
		}
	}
}

// SendText sends a text message to the peer, optionally replying to another
// message.
func (c *Controller) SendText(ctx context.Context, text, replyToID string) (*entity.Message, error) {
	conv, peerID, err := c.openConversation()
	if err != nil {
		return nil, err
	}
	return c.core.SendMessage(ctx, service.SendMessageInput{
		ConversationID: conv.ID,
		ReceiverID:     peerID,
		Text:           text,
		ReplyToID:      replyToID,
	})
}

// SendFile uploads the attachment and sends a message referencing it
func (c *Controller) SendFile(ctx context.Context, text string, attachment *service.Attachment) (*entity.Message, error) {
	conv, peerID, err := c.openConversation()
	if err != nil {
		return nil, err
	}
	return c.core.SendMessage(ctx, service.SendMessageInput{
		ConversationID: conv.ID,
		ReceiverID:     peerID,
		Text:           text,
		Attachment:     attachment,
	})
}

// DeleteMessage deletes one of the conversation's messages
func (c *Controller) DeleteMessage(ctx context.Context, messageID string) error {
	conv, _, err := c.openConversation()
	if err != nil {
		return err
	}
	return c.core.DeleteMessage(ctx, conv.ID, messageID)
}

// NotifyTyping signals a local keystroke in the composer
func (c *Controller) NotifyTyping() error {
	c.mu.Lock()
	coordinator := c.typing
	c.mu.Unlock()
	if coordinator == nil {
		return entity.ErrConversationClosed
	}
	return coordinator.NotifyTyping()
}

// Phase returns the current lifecycle phase
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Snapshot returns the current renderable state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	phase := c.phase
	conv := c.conv
	peerID := c.peerID
	coordinator := c.typing
	c.mu.Unlock()

	snap := Snapshot{
		Phase:        phase,
		Conversation: conv,
	}
	if tracked, ok := c.core.Conversation(conv.ID); ok {
		snap.Conversation = tracked
	}
	snap.Messages = c.core.Messages(conv.ID)
	if coordinator != nil {
		snap.PeerTyping = coordinator.PeerTyping()
	}
	if entry, ok := c.presence.Status(peerID); ok {
		snap.PeerOnline = entry.IsOnline
	}
	return snap
}

// OnUpdate registers a callback fired when the conversation's content
// changes. Returns an unregister function.
func (c *Controller) OnUpdate(cb func()) func() {
	convID := func() string {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.conv.ID
	}
	return c.core.OnUpdate(func(changed string) {
		if changed == convID() {
			cb()
		}
	})
}

func (c *Controller) openConversation() (entity.Conversation, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseJoined && c.phase != PhaseActive {
		return entity.Conversation{}, "", entity.ErrConversationClosed
	}
	return c.conv, c.peerID, nil
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) handleReceiveMessage(data json.RawMessage) {
	var payload socket.ReceiveMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("bad receive-message payload", "error", err)
		return
	}
	if payload.Chat.ID != c.conversationID() {
		return
	}
	c.core.HandleInbound(payload.Message.Entity())
}

func (c *Controller) handleMessageDeleted(data json.RawMessage) {
	var payload socket.MessageDeletedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("bad message-deleted payload", "error", err)
		return
	}
	if payload.ChatID != c.conversationID() {
		return
	}
	var latest *entity.MessageSummary
	if payload.LatestMessage != nil {
		msg := payload.LatestMessage.Entity()
		latest = msg.Summary()
	}
	c.core.HandleDeleted(payload.ChatID, payload.MessageID, latest)
}

func (c *Controller) handlePeerTyping(data json.RawMessage) {
	var payload socket.TypingPayload
	_ = json.Unmarshal(data, &payload)
	if payload.ChatID != "" && payload.ChatID != c.conversationID() {
		return
	}
	c.mu.Lock()
	coordinator := c.typing
	c.mu.Unlock()
	if coordinator != nil {
		coordinator.HandlePeerTyping()
	}
}

// handlePeerStopTyping applies an explicit stop. The backend sends this
// event without a chat id, so it is scoped by the subscription itself.
func (c *Controller) handlePeerStopTyping(data json.RawMessage) {
	var payload socket.TypingPayload
	_ = json.Unmarshal(data, &payload)
	if payload.ChatID != "" && payload.ChatID != c.conversationID() {
		return
	}
	c.mu.Lock()
	coordinator := c.typing
	c.mu.Unlock()
	if coordinator != nil {
		coordinator.HandlePeerStopTyping()
	}
}

func (c *Controller) conversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.ID
}
