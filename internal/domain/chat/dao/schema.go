package dao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the mirror tables. The mirror is disposable cache state; the
// backend remains the source of truth, so there is no migration history,
// just idempotent creation.
const schema = `
CREATE TABLE IF NOT EXISTS chat_conversations (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL,
	tutor_id TEXT NOT NULL,
	last_message_id TEXT,
	last_message_sender_id TEXT,
	last_message_text TEXT,
	last_message_at TIMESTAMPTZ,
	mirrored_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_conversations_student ON chat_conversations (student_id);
CREATE INDEX IF NOT EXISTS idx_chat_conversations_tutor ON chat_conversations (tutor_id);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	file_url TEXT NOT NULL DEFAULT '',
	reply_to_id TEXT NOT NULL DEFAULT '',
	referenced_message_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	mirrored_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation ON chat_messages (conversation_id, created_at);
`

// EnsureSchema creates the mirror tables if they do not exist
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating mirror schema: %w", err)
	}
	return nil
}
