package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
)

// Fetcher reads conversations and messages from the backend
type Fetcher interface {
	GetConversations(ctx context.Context, selfID string, role entity.Role, otherID string) ([]entity.Conversation, error)
	GetMessages(ctx context.Context, chatID string) ([]entity.Message, error)
}

// ConversationMirror persists mirrored conversations
type ConversationMirror interface {
	UpsertBatch(ctx context.Context, convs []entity.Conversation) error
}

// MessageMirror persists mirrored messages
type MessageMirror interface {
	UpsertBatch(ctx context.Context, msgs []entity.Message) error
}

// Scheduler periodically refreshes the local mirror from the backend. The
// realtime path keeps the in-memory state current; the mirror pass covers
// whatever happened while the agent was offline.
type Scheduler struct {
	fetcher    Fetcher
	convMirror ConversationMirror
	msgMirror  MessageMirror
	self       entity.Participant
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Config holds scheduler configuration
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// New creates a mirror scheduler
func New(fetcher Fetcher, convMirror ConversationMirror, msgMirror MessageMirror, self entity.Participant, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 20
	}

	return &Scheduler{
		fetcher:    fetcher,
		convMirror: convMirror,
		msgMirror:  msgMirror,
		self:       self,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		logger:     logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("mirror scheduler started", "interval", s.interval, "batch_size", s.batchSize)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for the in-flight pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.logger.Info("mirror scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// First pass immediately so the mirror is warm before the first tick
	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

// syncOnce mirrors the conversation list and the messages of the most
// recently active conversations, up to the batch size.
func (s *Scheduler) syncOnce(ctx context.Context) {
	convs, err := s.fetcher.GetConversations(ctx, s.self.ID, s.self.Role, "")
	if err != nil {
		s.logger.Error("mirroring conversations failed", "error", err)
		return
	}

	if err := s.convMirror.UpsertBatch(ctx, convs); err != nil {
		s.logger.Error("saving mirrored conversations failed", "error", err)
		return
	}

	synced := 0
	for _, conv := range convs {
		if synced >= s.batchSize {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := s.fetcher.GetMessages(ctx, conv.ID)
		if err != nil {
			s.logger.Warn("mirroring messages failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		if err := s.msgMirror.UpsertBatch(ctx, msgs); err != nil {
			s.logger.Warn("saving mirrored messages failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		synced++
	}

	s.logger.Info("mirror pass complete", "conversations", len(convs), "message_batches", synced)
}
