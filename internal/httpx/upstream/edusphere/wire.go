package edusphere

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
)

// Wire types for the backend's document shapes. The backend is not
// consistent about envelopes (bare arrays, {data: ...}, {users: ...}),
// so decoding tries each known wrapper; nothing past this file ever
// branches on response shape.

type conversationWire struct {
	ID            string       `json:"_id"`
	UserID        string       `json:"user_id"`
	TutorID       string       `json:"tutor_id"`
	LatestMessage *messageWire `json:"latest_message"`
}

func (w conversationWire) entity() entity.Conversation {
	conv := entity.Conversation{
		ID:        w.ID,
		StudentID: w.UserID,
		TutorID:   w.TutorID,
	}
	if w.LatestMessage != nil {
		msg := w.LatestMessage.entity()
		conv.LastMessage = msg.Summary()
	}
	return conv
}

type messageWire struct {
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

func (w messageWire) entity() entity.Message {
	return entity.Message{
		ID:                  w.ID,
		ConversationID:      w.ChatID,
		SenderID:            w.SenderID,
		ReceiverID:          w.ReceiverID,
		Text:                w.Message,
		FileURL:             w.FileURL,
		ReplyToID:           w.ReplyTo,
		ReferencedMessageID: w.ReferencedMessage,
		CreatedAt:           w.CreatedAt,
		IsDeleted:           w.IsDeleted,
	}
}

// listEnvelope covers every wrapper the backend uses for list responses
type listEnvelope struct {
	Data     json.RawMessage `json:"data"`
	Users    json.RawMessage `json:"users"`
	Chats    json.RawMessage `json:"chats"`
	Messages json.RawMessage `json:"messages"`
}

// objectEnvelope covers the wrappers used for single-object responses
type objectEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Chat    json.RawMessage `json:"chat"`
	Message json.RawMessage `json:"message"`
}

// unwrapList returns the innermost JSON array from a possibly-wrapped body
func unwrapList(body []byte) (json.RawMessage, error) {
	trimmed := firstNonSpace(body)
	if trimmed == '[' {
		return body, nil
	}

	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	for _, candidate := range []json.RawMessage{env.Data, env.Users, env.Chats, env.Messages} {
		if len(candidate) > 0 && firstNonSpace(candidate) == '[' {
			return candidate, nil
		}
	}
	// An object wrapper with no recognizable list field is treated as empty
	return json.RawMessage("[]"), nil
}

// unwrapObject returns the innermost JSON object from a possibly-wrapped body
func unwrapObject(body []byte) (json.RawMessage, error) {
	var env objectEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	for _, candidate := range []json.RawMessage{env.Data, env.Chat, env.Message} {
		if len(candidate) > 0 && firstNonSpace(candidate) == '{' {
			return candidate, nil
		}
	}
	return body, nil
}

func decodeConversationList(body []byte) ([]conversationWire, error) {
	list, err := unwrapList(body)
	if err != nil {
		return nil, err
	}
	var wires []conversationWire
	if err := json.Unmarshal(list, &wires); err != nil {
		return nil, err
	}
	return wires, nil
}

func decodeConversation(body []byte) (*conversationWire, error) {
	obj, err := unwrapObject(body)
	if err != nil {
		return nil, err
	}
	var wire conversationWire
	if err := json.Unmarshal(obj, &wire); err != nil {
		return nil, err
	}
	if wire.ID == "" {
		return nil, fmt.Errorf("conversation missing _id")
	}
	return &wire, nil
}

func decodeMessageList(body []byte) ([]messageWire, error) {
	list, err := unwrapList(body)
	if err != nil {
		return nil, err
	}
	var wires []messageWire
	if err := json.Unmarshal(list, &wires); err != nil {
		return nil, err
	}
	return wires, nil
}

func decodeMessage(body []byte) (*messageWire, error) {
	obj, err := unwrapObject(body)
	if err != nil {
		return nil, err
	}
	var wire messageWire
	if err := json.Unmarshal(obj, &wire); err != nil {
		return nil, err
	}
	if wire.ID == "" {
		return nil, fmt.Errorf("message missing _id")
	}
	return &wire, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}
