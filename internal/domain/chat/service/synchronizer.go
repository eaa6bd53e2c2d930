package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
	"github.com/edusphere/chat-core/internal/socket"
)

const markReadTimeout = 5 * time.Second

// SendMessageInput represents input for sending a message
type SendMessageInput struct {
	ConversationID string
	ReceiverID     string
	Text           string
	ReplyToID      string

	// FileURL references an already-hosted attachment
	FileURL string

	// Attachment, when non-nil, is uploaded to the media store before the
	// message is persisted
	Attachment *Attachment
}

// Attachment is an outbound file to upload alongside a message
type Attachment struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// SendMessage persists a message via the backend and, on success, appends
// the authoritative copy locally and broadcasts it to the room. Local state
// is never touched before the backend confirms the write, so a failed send
// has nothing to roll back. The sender's own room echo is absorbed later by
// the duplicate guard.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*entity.Message, error) {
	if err := entity.ValidateMessageText(in.Text, in.Attachment != nil || in.FileURL != ""); err != nil {
		return nil, err
	}

	fileURL := in.FileURL
	if in.Attachment != nil {
		if s.attachments == nil {
			return nil, fmt.Errorf("sending attachment: no attachment store configured")
		}
		url, err := s.attachments.Upload(ctx, UploadAttachmentInput{
			Reader:      in.Attachment.Reader,
			Filename:    in.Attachment.Filename,
			ContentType: in.Attachment.ContentType,
			Size:        in.Attachment.Size,
		})
		if err != nil {
			return nil, fmt.Errorf("uploading attachment: %w", err)
		}
		fileURL = url
	}

	msg, err := s.api.PersistMessage(ctx, PersistMessageInput{
		ChatID:     in.ConversationID,
		SenderID:   s.self.ID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		ReplyToID:  in.ReplyToID,
		FileURL:    fileURL,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	appended := s.merge(*msg)

	// Persist happened; a failed broadcast only costs realtime delivery,
	// peers still converge on their next history load.
	if err := s.broadcaster.Emit(socket.EventSendMessage, socket.SendMessagePayload{
		Chat:    socket.ChatRef{ID: msg.ConversationID},
		Message: socket.NewMessagePayload(*msg),
	}); err != nil {
		s.logger.Warn("message broadcast failed", "message_id", msg.ID, "error", err)
	}

	if appended {
		s.notifyUpdate(msg.ConversationID)
	}
	return msg, nil
}

// LoadHistory fetches the conversation's full message history and merges it
// into local state. Merging is idempotent, so reloading over live traffic
// never produces duplicates.
func (s *Service) LoadHistory(ctx context.Context, conversationID string) ([]entity.Message, error) {
	history, err := s.api.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	if s.mergeHistory(conversationID, history) {
		s.notifyUpdate(conversationID)
	}
	return s.Messages(conversationID), nil
}

// mergeHistory splices backend history into local state. History is older
// than anything that arrived live, so unseen history entries are inserted
// before the existing list rather than appended after it, and the last-message
// pointer follows the resulting tail. Entries the backend marks deleted are
// tombstoned so a late room redelivery cannot bring them back.
func (s *Service) mergeHistory(conversationID string, history []entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateFor(conversationID)

	var prefix []entity.Message
	for _, msg := range history {
		if msg.IsDeleted {
			state.deleted[msg.ID] = struct{}{}
			continue
		}
		if _, ok := state.deleted[msg.ID]; ok {
			continue
		}
		if _, ok := state.seen[msg.ID]; ok {
			continue
		}
		state.seen[msg.ID] = struct{}{}
		prefix = append(prefix, msg)
	}
	if len(prefix) == 0 {
		return false
	}

	state.messages = append(prefix, state.messages...)
	state.conv.LastMessage = state.messages[len(state.messages)-1].Summary()
	return true
}

// HandleInbound applies a room-delivered message. Both the sender's own echo
// and redelivered events hit the same id guard, so each distinct id lands in
// the list exactly once no matter how often the transport repeats it.
// Messages from the peer are acknowledged read in the background.
func (s *Service) HandleInbound(msg entity.Message) bool {
	if msg.ID == "" || msg.ConversationID == "" {
		return false
	}

	appended := s.merge(msg)
	if !appended {
		return false
	}

	if msg.SenderID != s.self.ID {
		go s.markRead(msg)
	}

	s.notifyUpdate(msg.ConversationID)
	return true
}

// HandleDeleted removes the message from the local list and moves the
// conversation's last-message pointer to the server-recomputed summary.
// Deletion events are idempotent, and a deletion that arrives before the
// message itself still takes effect through the tombstone.
func (s *Service) HandleDeleted(conversationID, messageID string, latest *entity.MessageSummary) {
	s.mu.Lock()
	state := s.stateFor(conversationID)

	// The id stays in seen and gains a tombstone, so a redelivered
	// receive-message for it cannot resurrect the entry.
	state.deleted[messageID] = struct{}{}

	removed := false
	for i, msg := range state.messages {
		if msg.ID == messageID {
			state.messages = append(state.messages[:i], state.messages[i+1:]...)
			removed = true
			break
		}
	}

	changed := removed
	if latest != nil {
		state.conv.LastMessage = latest
		changed = true
	} else if removed && state.conv.LastMessage != nil && state.conv.LastMessage.ID == messageID {
		state.conv.LastMessage = nil
		if n := len(state.messages); n > 0 {
			state.conv.LastMessage = state.messages[n-1].Summary()
		}
	}
	s.mu.Unlock()

	if changed {
		s.notifyUpdate(conversationID)
	}
}

// DeleteMessage deletes a message via the backend and applies the removal
// locally. The backend also pushes a message-deleted room event; applying it
// again is a no-op.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := s.api.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	s.HandleDeleted(conversationID, messageID, nil)
	return nil
}

// Messages returns a copy of the conversation's current ordered message list
func (s *Service) Messages(conversationID string) []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]entity.Message, len(state.messages))
	copy(out, state.messages)
	return out
}

// merge appends the message at the tail if and only if its id is not
// already present. Arrival order determines position; no reordering by
// timestamp is performed.
func (s *Service) merge(msg entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateFor(msg.ConversationID)
	if _, ok := state.deleted[msg.ID]; ok {
		return false
	}
	if _, ok := state.seen[msg.ID]; ok {
		return false
	}

	state.seen[msg.ID] = struct{}{}
	state.messages = append(state.messages, msg)
	state.conv.LastMessage = msg.Summary()
	return true
}

// markRead is fire-and-forget unread bookkeeping owned by the backend
func (s *Service) markRead(msg entity.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()

	if err := s.api.MarkRead(ctx, msg.ID, msg.ConversationID); err != nil {
		s.logger.Warn("mark read failed", "message_id", msg.ID, "error", err)
	}
}
