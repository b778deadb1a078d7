package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a chat message entity.
// Maps to the Cassandra messages table, partitioned by conversation and a
// monthly bucket. The record is immutable once persisted; the real-time layer
// only routes a transient copy at delivery time.
type Message struct {
	MessageID      uuid.UUID `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id" cql:"conversation_id"`
	Bucket         int       `json:"-" cql:"bucket"`
	SenderID       uuid.UUID `json:"sender_id" cql:"sender_id"`
	TargetID       uuid.UUID `json:"target_id" cql:"target_id"`
	IsGroup        bool      `json:"is_group" cql:"is_group"`
	Text           string    `json:"text,omitempty" cql:"text"`
	AttachmentRef  string    `json:"attachment_ref,omitempty" cql:"attachment_ref"`
	CreatedAt      time.Time `json:"created_at" cql:"created_at"`
}

// MessageCreate represents the payload needed to send a message
type MessageCreate struct {
	Text          string `json:"text"`
	AttachmentRef string `json:"attachment_ref"`
}

// Empty reports whether the payload carries neither text nor attachment
func (m *MessageCreate) Empty() bool {
	return m.Text == "" && m.AttachmentRef == ""
}

// CalculateBucket maps a timestamp to its monthly partition bucket (YYYYMM)
func CalculateBucket(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}
