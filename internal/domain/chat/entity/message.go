package entity

import "time"

// Message represents one chat message as confirmed by the backend.
// The client never fabricates message ids; an entry exists locally only
// after the backend has assigned ID and CreatedAt.
type Message struct {
	ID                  string    `json:"id"`
	ConversationID      string    `json:"conversation_id"`
	SenderID            string    `json:"sender_id"`
	ReceiverID          string    `json:"receiver_id"`
	Text                string    `json:"text,omitempty"`
	FileURL             string    `json:"file_url,omitempty"`
	ReplyToID           string    `json:"reply_to_id,omitempty"`
	ReferencedMessageID string    `json:"referenced_message_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	IsDeleted           bool      `json:"is_deleted"`
}

// Summary reduces a message to its conversation-list preview form
func (m Message) Summary() *MessageSummary {
	return &MessageSummary{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}

// MessageSummary is the conversation-list preview of the latest message
type MessageSummary struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MaxMessageLength is the maximum length of a text message
const MaxMessageLength = 2000

// ValidateMessageText validates outbound message text. Messages carrying
// only an attachment may have empty text, so callers with a file URL skip
// the empty check.
func ValidateMessageText(text string, hasAttachment bool) error {
	if text == "" && !hasAttachment {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
