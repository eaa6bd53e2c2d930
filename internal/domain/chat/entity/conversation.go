package entity

// Role identifies which side of a conversation a participant is on
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// WireName returns the role token used in event names and API payloads.
// The backend addresses students as "user" on the wire.
func (r Role) WireName() string {
	if r == RoleStudent {
		return "user"
	}
	return string(r)
}

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTutor
}

// Participant identifies a user or tutor in a conversation.
// It is created at authentication and immutable for the session.
type Participant struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Conversation is the single 1:1 channel between one student and one tutor.
// It is created lazily on first contact and never deleted by the client.
type Conversation struct {
	ID          string          `json:"id"`
	StudentID   string          `json:"student_id"`
	TutorID     string          `json:"tutor_id"`
	LastMessage *MessageSummary `json:"last_message,omitempty"`
}

// Other returns the participant id on the opposite side of selfID.
func (c Conversation) Other(selfID string) string {
	if c.StudentID == selfID {
		return c.TutorID
	}
	return c.StudentID
}

// Involves reports whether both ids are participants of the conversation,
// in either order.
func (c Conversation) Involves(a, b string) bool {
	return (c.StudentID == a && c.TutorID == b) || (c.StudentID == b && c.TutorID == a)
}
