package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
)

// APIClient defines the backend HTTP operations the chat core depends on
type APIClient interface {
	GetConversations(ctx context.Context, selfID string, role entity.Role, otherID string) ([]entity.Conversation, error)
	CreateConversation(ctx context.Context, studentID, tutorID string, role entity.Role) (*entity.Conversation, error)
	GetMessages(ctx context.Context, chatID string) ([]entity.Message, error)
	PersistMessage(ctx context.Context, in PersistMessageInput) (*entity.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	MarkRead(ctx context.Context, messageID, chatID string) error
}

// Broadcaster sends room events over the realtime connection
type Broadcaster interface {
	Emit(event string, payload any) error
}

// AttachmentStore uploads outbound files to the media store and returns a
// public URL for them
type AttachmentStore interface {
	Upload(ctx context.Context, in UploadAttachmentInput) (string, error)
}

// PersistMessageInput represents the write the backend performs for a send
type PersistMessageInput struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	Text       string
	ReplyToID  string
	FileURL    string
}

// UploadAttachmentInput represents an outbound file
type UploadAttachmentInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// Service is the chat core: conversation resolution plus the message
// synchronizer. State per conversation is an ordered message list keyed by
// server-assigned id; every mutation is applied atomically under the lock so
// the duplicate guard's check-then-insert can never interleave.
type Service struct {
	api         APIClient
	broadcaster Broadcaster
	attachments AttachmentStore
	self        entity.Participant
	logger      *slog.Logger

	mu        sync.Mutex
	convs     map[string]*conversationState
	updateCbs map[int]func(conversationID string)
	nextID    int
}

type conversationState struct {
	conv     entity.Conversation
	messages []entity.Message
	seen     map[string]struct{}

	// deleted tombstones ids whose deletion has been applied. A
	// receive-message event redelivered after the deletion must not
	// resurrect the entry, so merge checks this set first.
	deleted map[string]struct{}
}

// Option configures the Service
type Option func(*Service)

// WithAttachmentStore enables file sends via the media store
func WithAttachmentStore(store AttachmentStore) Option {
	return func(s *Service) {
		s.attachments = store
	}
}

// New creates the chat core for one authenticated participant
func New(api APIClient, broadcaster Broadcaster, self entity.Participant, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		api:         api,
		broadcaster: broadcaster,
		self:        self,
		logger:      logger,
		convs:       make(map[string]*conversationState),
		updateCbs:   make(map[int]func(string)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Self returns the local participant
func (s *Service) Self() entity.Participant {
	return s.self
}

// Resolve finds or lazily creates the single conversation between the local
// participant and otherID. Repeated calls for the same pair return the same
// conversation; the backend is the source of truth for pair uniqueness, so a
// race between two simultaneous first contacts is accepted as-is.
func (s *Service) Resolve(ctx context.Context, otherID string) (*entity.Conversation, error) {
	if otherID == "" || otherID == s.self.ID {
		return nil, entity.ErrInvalidParticipant
	}

	existing, err := s.api.GetConversations(ctx, s.self.ID, s.self.Role, otherID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	for _, conv := range existing {
		if conv.Involves(s.self.ID, otherID) {
			s.track(conv)
			return &conv, nil
		}
	}

	studentID, tutorID := s.self.ID, otherID
	if s.self.Role == entity.RoleTutor {
		studentID, tutorID = otherID, s.self.ID
	}

	created, err := s.api.CreateConversation(ctx, studentID, tutorID, s.self.Role)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.track(*created)
	return created, nil
}

// Conversation returns the tracked conversation, if any
func (s *Service) Conversation(conversationID string) (entity.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.convs[conversationID]
	if !ok {
		return entity.Conversation{}, false
	}
	return state.conv, true
}

// Conversations returns all tracked conversations
func (s *Service) Conversations() []entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs := make([]entity.Conversation, 0, len(s.convs))
	for _, state := range s.convs {
		convs = append(convs, state.conv)
	}
	return convs
}

// OnUpdate registers a callback fired after any conversation's message list
// or last-message pointer changes. Returns an unregister function.
func (s *Service) OnUpdate(cb func(conversationID string)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.updateCbs[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.updateCbs, id)
		s.mu.Unlock()
	}
}

// track ensures conversation state exists, refreshing the record
func (s *Service) track(conv entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.convs[conv.ID]; ok {
		state.conv = conv
		return
	}
	s.convs[conv.ID] = &conversationState{
		conv:    conv,
		seen:    make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

// stateFor returns existing state or creates a stub keyed by id only.
// Callers hold s.mu.
func (s *Service) stateFor(conversationID string) *conversationState {
	state, ok := s.convs[conversationID]
	if !ok {
		state = &conversationState{
			conv:    entity.Conversation{ID: conversationID},
			seen:    make(map[string]struct{}),
			deleted: make(map[string]struct{}),
		}
		s.convs[conversationID] = state
	}
	return state
}

func (s *Service) notifyUpdate(conversationID string) {
	s.mu.Lock()
	cbs := make([]func(string), 0, len(s.updateCbs))
	for _, cb := range s.updateCbs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(conversationID)
	}
}
