package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"chatlink-backend/internal/domain"
)

// MessageRepository stores chat messages in Cassandra. Conversations are
// partitioned by (conversation_id, bucket) with a monthly bucket, so one
// partition never grows unbounded.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a message into its conversation partition
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	if message.Bucket == 0 {
		message.Bucket = domain.CalculateBucket(message.CreatedAt)
	}
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO messages (
			conversation_id, bucket, message_id, sender_id, target_id,
			is_group, text, attachment_ref, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.ConversationID,
		message.Bucket,
		message.MessageID,
		message.SenderID,
		message.TargetID,
		message.IsGroup,
		message.Text,
		message.AttachmentRef,
		message.CreatedAt,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetByConversation retrieves messages for a conversation bucket, newest
// first, with cursor-based pagination
func (r *MessageRepository) GetByConversation(
	ctx context.Context,
	conversationID uuid.UUID,
	bucket int,
	limit int,
	pageState []byte,
) ([]*domain.Message, []byte, error) {
	query := `
		SELECT conversation_id, bucket, message_id, sender_id, target_id,
		       is_group, text, attachment_ref, created_at
		FROM messages
		WHERE conversation_id = ? AND bucket = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	iter := r.session.Query(query, conversationID, bucket, limit).
		WithContext(ctx).
		PageState(pageState).
		Iter()

	var messages []*domain.Message
	for {
		message := &domain.Message{}
		if !iter.Scan(
			&message.ConversationID,
			&message.Bucket,
			&message.MessageID,
			&message.SenderID,
			&message.TargetID,
			&message.IsGroup,
			&message.Text,
			&message.AttachmentRef,
			&message.CreatedAt,
		) {
			break
		}
		messages = append(messages, message)
	}

	nextPageState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nextPageState, nil
}

// DeleteConversation drops the given buckets of a conversation. Used by the
// clear-history operation.
func (r *MessageRepository) DeleteConversation(ctx context.Context, conversationID uuid.UUID, buckets []int) error {
	query := `DELETE FROM messages WHERE conversation_id = ? AND bucket = ?`
	for _, bucket := range buckets {
		if err := r.session.Query(query, conversationID, bucket).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to clear conversation bucket %d: %w", bucket, err)
		}
	}
	return nil
}

// GetByID retrieves a specific message
func (r *MessageRepository) GetByID(ctx context.Context, conversationID uuid.UUID, bucket int, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT conversation_id, bucket, message_id, sender_id, target_id,
		       is_group, text, attachment_ref, created_at
		FROM messages
		WHERE conversation_id = ? AND bucket = ? AND message_id = ?
		LIMIT 1
	`

	message := &domain.Message{}
	err := r.session.Query(query, conversationID, bucket, messageID).WithContext(ctx).Scan(
		&message.ConversationID,
		&message.Bucket,
		&message.MessageID,
		&message.SenderID,
		&message.TargetID,
		&message.IsGroup,
		&message.Text,
		&message.AttachmentRef,
		&message.CreatedAt,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("message not found")
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return message, nil
}
