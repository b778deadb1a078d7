package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatlink-backend/internal/domain"
	"chatlink-backend/internal/protocol"
	"chatlink-backend/internal/service/presence"
	"chatlink-backend/pkg/cache"
	"chatlink-backend/pkg/constants"
	apperrors "chatlink-backend/pkg/errors"
	"chatlink-backend/pkg/metrics"
)

// MessageStore persists messages and serves history. The message path waits
// for the store's acknowledgment before fan-out; signaling and typing never
// touch it.
type MessageStore interface {
	Save(ctx context.Context, msg *domain.Message) error
	GetByConversation(ctx context.Context, conversationID uuid.UUID, bucket, limit int, pageState []byte) ([]*domain.Message, []byte, error)
	DeleteConversation(ctx context.Context, conversationID uuid.UUID, buckets []int) error
}

// BlockStore answers block-relation lookups
type BlockStore interface {
	// ExistsBetween reports whether a block edge exists in either direction
	ExistsBetween(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// GroupStore resolves group membership
type GroupStore interface {
	GetByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
}

// Router delivers chat messages and typing indicators to the correct live
// connections. Messages are persisted before fan-out; typing is fire and
// forget. Delivery is at-least-once per live handle at routing time; handles
// that connect later catch up through history, never through replay here.
type Router struct {
	reg      *presence.Registry
	messages MessageStore
	blocks   BlockStore
	groups   GroupStore
	lookups  *cache.MemoryCache
	log      *zap.Logger
}

// NewRouter creates a message router
func NewRouter(reg *presence.Registry, messages MessageStore, blocks BlockStore, groups GroupStore, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		reg:      reg,
		messages: messages,
		blocks:   blocks,
		groups:   groups,
		lookups:  cache.NewMemoryCache(constants.MembershipCacheTTL, 4096),
		log:      log,
	}
}

// RouteDirect persists a direct message and forwards it to every live handle
// of the recipient. The sender's own handles are not echoed; the sender's
// session store appends from the returned acknowledgment instead.
func (r *Router) RouteDirect(ctx context.Context, senderID, recipientID uuid.UUID, create *domain.MessageCreate) (*domain.Message, error) {
	if create.Empty() {
		return nil, apperrors.ValidationError("message needs text or an attachment")
	}

	blocked, err := r.blockedBetween(ctx, senderID, recipientID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if blocked {
		metrics.MessagesRoutedTotal.WithLabelValues("direct", "blocked").Inc()
		return nil, apperrors.BlockedError()
	}

	msg := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: domain.DirectConversationID(senderID, recipientID),
		SenderID:       senderID,
		TargetID:       recipientID,
		Text:           create.Text,
		AttachmentRef:  create.AttachmentRef,
		CreatedAt:      time.Now().UTC(),
	}
	msg.Bucket = domain.CalculateBucket(msg.CreatedAt)

	if err := r.persist(ctx, msg); err != nil {
		metrics.MessagesRoutedTotal.WithLabelValues("direct", "persist_failed").Inc()
		return nil, err
	}

	r.reg.DeliverToUser(ctx, recipientID, messageEvent(msg))
	metrics.MessagesRoutedTotal.WithLabelValues("direct", "ok").Inc()
	return msg, nil
}

// RouteGroup persists a group message and fans it out once per live handle
// of every member except the sender
func (r *Router) RouteGroup(ctx context.Context, senderID, groupID uuid.UUID, create *domain.MessageCreate) (*domain.Message, error) {
	if create.Empty() {
		return nil, apperrors.ValidationError("message needs text or an attachment")
	}

	group, err := r.cachedGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(senderID) {
		metrics.MessagesRoutedTotal.WithLabelValues("group", "not_member").Inc()
		return nil, apperrors.NotMemberError()
	}

	msg := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: groupID,
		SenderID:       senderID,
		TargetID:       groupID,
		IsGroup:        true,
		Text:           create.Text,
		AttachmentRef:  create.AttachmentRef,
		CreatedAt:      time.Now().UTC(),
	}
	msg.Bucket = domain.CalculateBucket(msg.CreatedAt)

	if err := r.persist(ctx, msg); err != nil {
		metrics.MessagesRoutedTotal.WithLabelValues("group", "persist_failed").Inc()
		return nil, err
	}

	ev := messageEvent(msg)
	for _, memberID := range group.MemberIDs {
		if memberID == senderID {
			continue
		}
		r.reg.DeliverToUser(ctx, memberID, ev)
	}

	metrics.MessagesRoutedTotal.WithLabelValues("group", "ok").Inc()
	return msg, nil
}

// RouteTyping forwards a typing indicator along the message fan-out path.
// Nothing is persisted and loss is acceptable: the receiving side expires
// stale indicators on its own.
func (r *Router) RouteTyping(ctx context.Context, senderID uuid.UUID, target domain.Target, active bool) error {
	eventType := protocol.EventTypingStart
	if !active {
		eventType = protocol.EventTypingStop
	}

	switch target.Kind {
	case domain.TargetDirect:
		blocked, err := r.blockedBetween(ctx, senderID, target.PeerID)
		if err != nil || blocked {
			// Best effort: a refused or unverifiable indicator is dropped
			return nil
		}
		r.reg.DeliverToUser(ctx, target.PeerID, &protocol.Event{
			Type:     eventType,
			From:     senderID,
			TargetID: senderID,
		})
		return nil

	case domain.TargetGroup:
		group, err := r.cachedGroup(ctx, target.GroupID)
		if err != nil {
			return err
		}
		if !group.HasMember(senderID) {
			return apperrors.NotMemberError()
		}
		ev := &protocol.Event{
			Type:     eventType,
			From:     senderID,
			TargetID: target.GroupID,
			GroupID:  target.GroupID,
			IsGroup:  true,
		}
		for _, memberID := range group.MemberIDs {
			if memberID == senderID {
				continue
			}
			r.reg.DeliverToUser(ctx, memberID, ev)
		}
		return nil

	default:
		return apperrors.InvalidInputError(fmt.Sprintf("unknown target kind %d", target.Kind))
	}
}

// RouteChatCleared notifies the other side of a conversation that its
// history was wiped
func (r *Router) RouteChatCleared(ctx context.Context, senderID uuid.UUID, target domain.Target) error {
	switch target.Kind {
	case domain.TargetDirect:
		r.reg.DeliverToUser(ctx, target.PeerID, &protocol.Event{
			Type:     protocol.EventChatCleared,
			From:     senderID,
			TargetID: senderID,
		})
		return nil

	case domain.TargetGroup:
		group, err := r.cachedGroup(ctx, target.GroupID)
		if err != nil {
			return err
		}
		if !group.HasMember(senderID) {
			return apperrors.NotMemberError()
		}
		ev := &protocol.Event{
			Type:     protocol.EventChatCleared,
			From:     senderID,
			TargetID: target.GroupID,
			GroupID:  target.GroupID,
			IsGroup:  true,
		}
		for _, memberID := range group.MemberIDs {
			if memberID == senderID {
				continue
			}
			r.reg.DeliverToUser(ctx, memberID, ev)
		}
		return nil

	default:
		return apperrors.InvalidInputError(fmt.Sprintf("unknown target kind %d", target.Kind))
	}
}

func (r *Router) persist(ctx context.Context, msg *domain.Message) error {
	start := time.Now()
	if err := r.messages.Save(ctx, msg); err != nil {
		return apperrors.DatabaseError(err)
	}
	metrics.MessagePersistDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (r *Router) blockedBetween(ctx context.Context, a, b uuid.UUID) (bool, error) {
	key := blockCacheKey(a, b)
	if cached, ok := r.lookups.Get(key); ok {
		return cached.(bool), nil
	}

	blocked, err := r.blocks.ExistsBetween(ctx, a, b)
	if err != nil {
		return false, err
	}
	r.lookups.Set(key, blocked, 0)
	return blocked, nil
}

func (r *Router) cachedGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	key := "group:" + groupID.String()
	if cached, ok := r.lookups.Get(key); ok {
		return cached.(*domain.Group), nil
	}

	group, err := r.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if group == nil {
		return nil, apperrors.GroupNotFoundError()
	}
	r.lookups.Set(key, group, 0)
	return group, nil
}

// InvalidateGroup drops the cached membership after a mutation
func (r *Router) InvalidateGroup(groupID uuid.UUID) {
	r.lookups.Delete("group:" + groupID.String())
}

// InvalidateBlock drops the cached block lookup after a mutation
func (r *Router) InvalidateBlock(a, b uuid.UUID) {
	r.lookups.Delete(blockCacheKey(a, b))
}

func blockCacheKey(a, b uuid.UUID) string {
	pair := domain.NewPairKey(a, b)
	return "block:" + pair.Lo.String() + ":" + pair.Hi.String()
}

func messageEvent(msg *domain.Message) *protocol.Event {
	return protocol.NewMessageEvent(&protocol.MessagePayload{
		ID:            msg.MessageID,
		SenderID:      msg.SenderID,
		TargetID:      msg.TargetID,
		IsGroup:       msg.IsGroup,
		Text:          msg.Text,
		AttachmentRef: msg.AttachmentRef,
		CreatedAt:     msg.CreatedAt,
	})
}
