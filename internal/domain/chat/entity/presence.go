package entity

// PresenceEntry is the last known online status of a participant.
// Presence is soft state: the latest event for a participant id wins
// unconditionally, whatever order the transport delivered events in.
type PresenceEntry struct {
	ParticipantID string `json:"participant_id"`
	IsOnline      bool   `json:"is_online"`
	Role          Role   `json:"role,omitempty"`
}

// TypingState is the derived typing flag for the remote participant of a
// conversation. Ephemeral; owned by the typing coordinator's expiry timer.
type TypingState struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}
