package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
)

// ConversationPostgres is the PostgreSQL mirror of the session's
// conversations
type ConversationPostgres struct {
	pool *pgxpool.Pool
}

// NewConversationPostgres creates a new PostgreSQL conversation mirror
func NewConversationPostgres(pool *pgxpool.Pool) *ConversationPostgres {
	return &ConversationPostgres{pool: pool}
}

// Upsert inserts or updates a conversation
func (r *ConversationPostgres) Upsert(ctx context.Context, conv *entity.Conversation) error {
	query := `
		INSERT INTO chat_conversations (
			id, student_id, tutor_id,
			last_message_id, last_message_sender_id, last_message_text, last_message_at,
			mirrored_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			last_message_id = EXCLUDED.last_message_id,
			last_message_sender_id = EXCLUDED.last_message_sender_id,
			last_message_text = EXCLUDED.last_message_text,
			last_message_at = EXCLUDED.last_message_at,
			mirrored_at = EXCLUDED.mirrored_at
	`

	var lastID, lastSender, lastText *string
	var lastAt *time.Time
	if lm := conv.LastMessage; lm != nil {
		lastID, lastSender, lastText = &lm.ID, &lm.SenderID, &lm.Text
		lastAt = &lm.CreatedAt
	}

	_, err := r.pool.Exec(ctx, query,
		conv.ID,
		conv.StudentID,
		conv.TutorID,
		lastID,
		lastSender,
		lastText,
		lastAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	return nil
}

// UpsertBatch inserts or updates multiple conversations
func (r *ConversationPostgres) UpsertBatch(ctx context.Context, convs []entity.Conversation) error {
	for i := range convs {
		if err := r.Upsert(ctx, &convs[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a conversation by id
func (r *ConversationPostgres) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	query := `
		SELECT id, student_id, tutor_id,
		       last_message_id, last_message_sender_id, last_message_text, last_message_at
		FROM chat_conversations
		WHERE id = $1
	`

	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return conv, nil
}

// GetByParticipant retrieves the conversations a participant belongs to,
// most recently active first
func (r *ConversationPostgres) GetByParticipant(ctx context.Context, participantID string, limit, offset int) ([]entity.Conversation, error) {
	query := `
		SELECT id, student_id, tutor_id,
		       last_message_id, last_message_sender_id, last_message_text, last_message_at
		FROM chat_conversations
		WHERE student_id = $1 OR tutor_id = $1
		ORDER BY last_message_at DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, participantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []entity.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversations = append(conversations, *conv)
	}

	return conversations, nil
}

// Count returns the number of mirrored conversations for a participant
func (r *ConversationPostgres) Count(ctx context.Context, participantID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM chat_conversations WHERE student_id = $1 OR tutor_id = $1",
		participantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*entity.Conversation, error) {
	var conv entity.Conversation
	var lastID, lastSender, lastText *string
	var lastAt *time.Time

	err := row.Scan(
		&conv.ID,
		&conv.StudentID,
		&conv.TutorID,
		&lastID,
		&lastSender,
		&lastText,
		&lastAt,
	)
	if err != nil {
		return nil, err
	}

	if lastID != nil {
		conv.LastMessage = &entity.MessageSummary{ID: *lastID}
		if lastSender != nil {
			conv.LastMessage.SenderID = *lastSender
		}
		if lastText != nil {
			conv.LastMessage.Text = *lastText
		}
		if lastAt != nil {
			conv.LastMessage.CreatedAt = *lastAt
		}
	}

	return &conv, nil
}
