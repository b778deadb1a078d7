package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatlink-backend/internal/domain"
	apperrors "chatlink-backend/pkg/errors"
)

// historyBucketSpan bounds how many monthly buckets a single history or
// clear request walks back through
const historyBucketSpan = 12

// Service is the HTTP-facing chat surface: sends go through the router,
// history and clearing hit the message store directly.
type Service struct {
	router *Router
	log    *zap.Logger
}

// NewService creates the chat service
func NewService(router *Router, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{router: router, log: log}
}

// SendDirect validates, persists, and routes a direct message, returning the
// stored copy as the sender's acknowledgment
func (s *Service) SendDirect(ctx context.Context, senderID, recipientID uuid.UUID, create *domain.MessageCreate) (*domain.Message, error) {
	if senderID == recipientID {
		return nil, apperrors.InvalidInputError("cannot message yourself")
	}
	msg, err := s.router.RouteDirect(ctx, senderID, recipientID, create)
	if err != nil {
		return nil, err
	}

	s.log.Info("direct message sent",
		zap.String("message_id", msg.MessageID.String()),
		zap.String("sender_id", senderID.String()))
	return msg, nil
}

// SendGroup validates, persists, and routes a group message
func (s *Service) SendGroup(ctx context.Context, senderID, groupID uuid.UUID, create *domain.MessageCreate) (*domain.Message, error) {
	msg, err := s.router.RouteGroup(ctx, senderID, groupID, create)
	if err != nil {
		return nil, err
	}

	s.log.Info("group message sent",
		zap.String("message_id", msg.MessageID.String()),
		zap.String("group_id", groupID.String()))
	return msg, nil
}

// DirectHistory returns the most recent messages of a direct conversation,
// newest first, walking monthly buckets backwards until the limit is filled
func (s *Service) DirectHistory(ctx context.Context, requesterID, peerID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	conversationID := domain.DirectConversationID(requesterID, peerID)
	return s.history(ctx, conversationID, limit, pageState)
}

// GroupHistory returns the most recent messages of a group conversation.
// Only members may read.
func (s *Service) GroupHistory(ctx context.Context, requesterID, groupID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	group, err := s.router.cachedGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	if !group.HasMember(requesterID) {
		return nil, nil, apperrors.NotMemberError()
	}
	return s.history(ctx, groupID, limit, pageState)
}

func (s *Service) history(ctx context.Context, conversationID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	if limit <= 0 {
		limit = 50
	}

	now := time.Now().UTC()
	var out []*domain.Message

	// Paged requests stay inside the bucket the page state came from; only
	// fresh requests walk back across buckets.
	if len(pageState) > 0 {
		msgs, next, err := s.router.messages.GetByConversation(ctx, conversationID, domain.CalculateBucket(now), limit, pageState)
		if err != nil {
			return nil, nil, apperrors.DatabaseError(err)
		}
		return msgs, next, nil
	}

	for i := 0; i < historyBucketSpan && len(out) < limit; i++ {
		bucket := domain.CalculateBucket(now.AddDate(0, -i, 0))
		msgs, next, err := s.router.messages.GetByConversation(ctx, conversationID, bucket, limit-len(out), nil)
		if err != nil {
			return nil, nil, apperrors.DatabaseError(err)
		}
		out = append(out, msgs...)
		if len(next) > 0 && len(out) >= limit {
			return out, next, nil
		}
	}
	return out, nil, nil
}

// ClearDirect wipes the requester's direct conversation with a peer and
// notifies the peer's live handles
func (s *Service) ClearDirect(ctx context.Context, requesterID, peerID uuid.UUID) error {
	conversationID := domain.DirectConversationID(requesterID, peerID)
	if err := s.clear(ctx, conversationID); err != nil {
		return err
	}
	return s.router.RouteChatCleared(ctx, requesterID, domain.DirectTarget(peerID))
}

// ClearGroup wipes a group conversation. Only the group admin may clear.
func (s *Service) ClearGroup(ctx context.Context, requesterID, groupID uuid.UUID) error {
	group, err := s.router.cachedGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.AdminID != requesterID {
		return apperrors.ForbiddenError("only the group admin can clear the conversation")
	}
	if err := s.clear(ctx, groupID); err != nil {
		return err
	}
	return s.router.RouteChatCleared(ctx, requesterID, domain.GroupTarget(groupID))
}

func (s *Service) clear(ctx context.Context, conversationID uuid.UUID) error {
	now := time.Now().UTC()
	buckets := make([]int, 0, historyBucketSpan)
	for i := 0; i < historyBucketSpan; i++ {
		buckets = append(buckets, domain.CalculateBucket(now.AddDate(0, -i, 0)))
	}
	if err := s.router.messages.DeleteConversation(ctx, conversationID, buckets); err != nil {
		return apperrors.DatabaseError(err)
	}
	return nil
}
