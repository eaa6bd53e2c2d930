package socket

import (
	"time"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
)

// Event names spoken by the messaging backend. Typing events are
// role-prefixed; see TypingEvent and StopTypingEvent.
const (
	EventReceiveMessage    = "receive-message"
	EventMessageDeleted    = "message-deleted"
	EventUserStatusChange  = "user-status-change"
	EventSelfStatusChange  = "self-status-change"
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-chat-room"
	EventRegisterPresence  = "register-for-video"
	EventRequestUserStatus = "request-user-status"
	EventSendMessage       = "send-message"
)

// TypingEvent returns the typing event name emitted by the given role
func TypingEvent(role entity.Role) string {
	return role.WireName() + "-typing"
}

// StopTypingEvent returns the stop-typing event name emitted by the given role
func StopTypingEvent(role entity.Role) string {
	return role.WireName() + "-stop-typing"
}

// ChatRef references a conversation by its backend document id
type ChatRef struct {
	ID string `json:"_id"`
}

// MessagePayload is the backend document shape of a message as it travels
// inside room events. It mirrors the REST wire shape.
type MessagePayload struct {
	ID                string    `json:"_id"`
	ChatID            string    `json:"chat_id"`
	SenderID          string    `json:"sender_id"`
	ReceiverID        string    `json:"receiver_id"`
	Message           string    `json:"message"`
	FileURL           string    `json:"file_url,omitempty"`
	ReplyTo           string    `json:"replyTo,omitempty"`
	ReferencedMessage string    `json:"referenced_message,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	IsDeleted         bool      `json:"is_deleted,omitempty"`
}

// Entity converts the wire message into the normalized entity form
func (p MessagePayload) Entity() entity.Message {
	return entity.Message{
		ID:                  p.ID,
		ConversationID:      p.ChatID,
		SenderID:            p.SenderID,
		ReceiverID:          p.ReceiverID,
		Text:                p.Message,
		FileURL:             p.FileURL,
		ReplyToID:           p.ReplyTo,
		ReferencedMessageID: p.ReferencedMessage,
		CreatedAt:           p.CreatedAt,
		IsDeleted:           p.IsDeleted,
	}
}

// NewMessagePayload converts an entity message to its wire form
func NewMessagePayload(m entity.Message) MessagePayload {
	return MessagePayload{
		ID:                m.ID,
		ChatID:            m.ConversationID,
		SenderID:          m.SenderID,
		ReceiverID:        m.ReceiverID,
		Message:           m.Text,
		FileURL:           m.FileURL,
		ReplyTo:           m.ReplyToID,
		ReferencedMessage: m.ReferencedMessageID,
		CreatedAt:         m.CreatedAt,
		IsDeleted:         m.IsDeleted,
	}
}

// ReceiveMessagePayload is the inbound room event carrying a new message
type ReceiveMessagePayload struct {
	Chat    ChatRef        `json:"chat"`
	Message MessagePayload `json:"message"`
}

// SendMessagePayload is the outbound room broadcast after a persisted send
type SendMessagePayload struct {
	Chat    ChatRef        `json:"chat"`
	Message MessagePayload `json:"message"`
}

// MessageDeletedPayload announces a deletion together with the conversation's
// recomputed latest message
type MessageDeletedPayload struct {
	MessageID     string          `json:"message_id"`
	ChatID        string          `json:"chat_id"`
	LatestMessage *MessagePayload `json:"latest_message,omitempty"`
}

// UserStatusPayload is the inbound presence event for any participant
type UserStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	SocketID string `json:"socketId,omitempty"`
	Role     string `json:"role,omitempty"`
}

// SelfStatusPayload confirms the local session's own presence
type SelfStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// RegisterPresencePayload announces the local session to the backend. The
// event doubles as the generic presence announce.
type RegisterPresencePayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// RequestUserStatusPayload asks the backend for a participant's status
type RequestUserStatusPayload struct {
	UserID string `json:"userId"`
}

// TypingPayload accompanies typing and stop-typing events
type TypingPayload struct {
	ChatID string `json:"chat_id"`
}
