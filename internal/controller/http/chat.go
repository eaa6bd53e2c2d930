package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
	"github.com/edusphere/chat-core/internal/httpx/response"
	"github.com/edusphere/chat-core/internal/socket"
)

// ConversationReader reads mirrored conversations
type ConversationReader interface {
	GetByParticipant(ctx context.Context, participantID string, limit, offset int) ([]entity.Conversation, error)
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	Count(ctx context.Context, participantID string) (int64, error)
}

// MessageReader reads mirrored messages
type MessageReader interface {
	GetByConversationID(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error)
	Count(ctx context.Context, conversationID string) (int64, error)
}

// ChatHandler serves the agent's read-only view of the mirror. The mirror is
// a cache; consumers needing authoritative state talk to the backend.
type ChatHandler struct {
	self      entity.Participant
	convs     ConversationReader
	msgs      MessageReader
	connState func() socket.State
}

// NewChatHandler creates a chat mirror handler
func NewChatHandler(self entity.Participant, convs ConversationReader, msgs MessageReader, connState func() socket.State) *ChatHandler {
	return &ChatHandler{
		self:      self,
		convs:     convs,
		msgs:      msgs,
		connState: connState,
	}
}

// RegisterRoutes registers chat mirror routes
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/status", h.GetStatus())
		r.Get("/conversations", h.GetConversations())
		r.Get("/conversations/{conversationId}/messages", h.GetMessages())
	})
}

// StatusResponse reports the agent's session and connection state
type StatusResponse struct {
	ParticipantID   string `json:"participant_id"`
	Role            string `json:"role"`
	ConnectionState string `json:"connection_state"`
}

// GetStatus handles GET /chat/status
func (h *ChatHandler) GetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, StatusResponse{
			ParticipantID:   h.self.ID,
			Role:            string(h.self.Role),
			ConnectionState: string(h.connState()),
		})
	}
}

// GetConversationsResponse represents the response for listing conversations
type GetConversationsResponse struct {
	Conversations []entity.Conversation `json:"conversations"`
	Total         int64                 `json:"total"`
	HasMore       bool                  `json:"has_more"`
}

// GetConversations handles GET /chat/conversations
func (h *ChatHandler) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.convs == nil {
			response.ServiceUnavailable(w, "mirror cache is not configured")
			return
		}

		limit, offset := pagination(r, 50)

		conversations, err := h.convs.GetByParticipant(r.Context(), h.self.ID, limit, offset)
		if err != nil {
			response.InternalError(w, "reading conversations failed")
			return
		}

		total, _ := h.convs.Count(r.Context(), h.self.ID)

		if conversations == nil {
			conversations = []entity.Conversation{}
		}
		response.OK(w, GetConversationsResponse{
			Conversations: conversations,
			Total:         total,
			HasMore:       int64(offset+len(conversations)) < total,
		})
	}
}

// GetMessagesResponse represents the response for listing messages
type GetMessagesResponse struct {
	Messages []entity.Message `json:"messages"`
	Total    int64            `json:"total"`
	HasMore  bool             `json:"has_more"`
}

// GetMessages handles GET /chat/conversations/{conversationId}/messages
func (h *ChatHandler) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.convs == nil || h.msgs == nil {
			response.ServiceUnavailable(w, "mirror cache is not configured")
			return
		}

		conversationID := chi.URLParam(r, "conversationId")
		if conversationID == "" {
			response.BadRequest(w, "conversationId is required")
			return
		}

		conv, err := h.convs.GetByID(r.Context(), conversationID)
		if err != nil {
			response.InternalError(w, "reading conversation failed")
			return
		}
		if conv == nil {
			response.NotFound(w, "conversation not found")
			return
		}

		limit, offset := pagination(r, 100)

		messages, err := h.msgs.GetByConversationID(r.Context(), conversationID, limit, offset)
		if err != nil {
			response.InternalError(w, "reading messages failed")
			return
		}

		total, _ := h.msgs.Count(r.Context(), conversationID)

		if messages == nil {
			messages = []entity.Message{}
		}
		response.OK(w, GetMessagesResponse{
			Messages: messages,
			Total:    total,
			HasMore:  int64(offset+len(messages)) < total,
		})
	}
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
