package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a chat participant identity. Accounts are created and
// managed by the auth collaborator; this service reads them only.
type User struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Contact is a user entry as rendered in a contact list, presence attached.
// Presence is derived from the connection registry, never stored.
type Contact struct {
	User
	Online bool `json:"online"`
}

// BlockedRelation is a directed edge suppressing message delivery and call
// initiation from blocker toward blockee.
type BlockedRelation struct {
	BlockerID uuid.UUID `json:"blocker_id"`
	BlockedID uuid.UUID `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}
