package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
)

// MessagePostgres is the PostgreSQL mirror of conversation messages. The
// backend stays the source of truth; upsert-on-id keeps the mirror idempotent
// under redelivered or re-fetched messages.
type MessagePostgres struct {
	pool *pgxpool.Pool
}

// NewMessagePostgres creates a new PostgreSQL message mirror
func NewMessagePostgres(pool *pgxpool.Pool) *MessagePostgres {
	return &MessagePostgres{pool: pool}
}

// Upsert inserts or updates a message
func (r *MessagePostgres) Upsert(ctx context.Context, msg *entity.Message) error {
	query := `
		INSERT INTO chat_messages (
			id, conversation_id, sender_id, receiver_id, text,
			file_url, reply_to_id, referenced_message_id, created_at, is_deleted, mirrored_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			is_deleted = EXCLUDED.is_deleted,
			mirrored_at = EXCLUDED.mirrored_at
	`

	_, err := r.pool.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Text,
		msg.FileURL,
		msg.ReplyToID,
		msg.ReferencedMessageID,
		msg.CreatedAt,
		msg.IsDeleted,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting message: %w", err)
	}

	return nil
}

// UpsertBatch inserts or updates multiple messages
func (r *MessagePostgres) UpsertBatch(ctx context.Context, msgs []entity.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO chat_messages (
			id, conversation_id, sender_id, receiver_id, text,
			file_url, reply_to_id, referenced_message_id, created_at, is_deleted, mirrored_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			is_deleted = EXCLUDED.is_deleted,
			mirrored_at = EXCLUDED.mirrored_at
	`

	now := time.Now()
	for _, msg := range msgs {
		batch.Queue(query,
			msg.ID,
			msg.ConversationID,
			msg.SenderID,
			msg.ReceiverID,
			msg.Text,
			msg.FileURL,
			msg.ReplyToID,
			msg.ReferencedMessageID,
			msg.CreatedAt,
			msg.IsDeleted,
			now,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range msgs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("executing batch upsert: %w", err)
		}
	}

	return nil
}

// GetByConversationID retrieves a conversation's messages in creation order
func (r *MessagePostgres) GetByConversationID(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, receiver_id, text,
		       file_url, reply_to_id, referenced_message_id, created_at, is_deleted
		FROM chat_messages
		WHERE conversation_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []entity.Message
	for rows.Next() {
		var msg entity.Message
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Text,
			&msg.FileURL,
			&msg.ReplyToID,
			&msg.ReferencedMessageID,
			&msg.CreatedAt,
			&msg.IsDeleted,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Delete removes a message from the mirror
func (r *MessagePostgres) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM chat_messages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// Count returns the number of visible messages in a conversation
func (r *MessagePostgres) Count(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM chat_messages WHERE conversation_id = $1 AND NOT is_deleted",
		conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}
