package entity

import "errors"

// Domain errors for the chat core
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyMessage         = errors.New("message text cannot be empty")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrInvalidParticipant   = errors.New("invalid participant")
	ErrInvalidRole          = errors.New("invalid role")
	ErrNotConnected         = errors.New("connection is not established")
	ErrConnectionClosed     = errors.New("connection is closed")
	ErrConversationClosed   = errors.New("conversation is closed")
)
