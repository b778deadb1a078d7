package group

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatlink-backend/internal/domain"
	"chatlink-backend/internal/protocol"
	"chatlink-backend/internal/service/chat"
	"chatlink-backend/internal/service/presence"
	apperrors "chatlink-backend/pkg/errors"
)

// Store is the persistence surface for groups
type Store interface {
	Create(ctx context.Context, group *domain.Group) error
	GetByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error)
	Delete(ctx context.Context, groupID uuid.UUID) error
}

// Service manages group lifecycle and membership. Membership changes
// invalidate the router's cached view and announce themselves on the event
// stream so open group views update live.
type Service struct {
	store  Store
	reg    *presence.Registry
	router *chat.Router
	log    *zap.Logger
}

// NewService creates the group service
func NewService(store Store, reg *presence.Registry, router *chat.Router, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, reg: reg, router: router, log: log}
}

// Create makes a new group with the creator as admin. The creator is always
// in the membership set.
func (s *Service) Create(ctx context.Context, adminID uuid.UUID, name string, memberIDs []uuid.UUID) (*domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.MissingFieldError("name")
	}

	members := make([]uuid.UUID, 0, len(memberIDs)+1)
	seen := map[uuid.UUID]struct{}{adminID: {}}
	members = append(members, adminID)
	for _, id := range memberIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	group := &domain.Group{
		GroupID:   uuid.New(),
		Name:      name,
		AdminID:   adminID,
		MemberIDs: members,
	}
	if err := s.store.Create(ctx, group); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	s.announce(ctx, group, protocol.EventJoinGroup, adminID)
	s.log.Info("group created",
		zap.String("group_id", group.GroupID.String()),
		zap.Int("members", len(members)))
	return group, nil
}

// Get returns a group by ID
func (s *Service) Get(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	group, err := s.store.GetByID(ctx, groupID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if group == nil {
		return nil, apperrors.GroupNotFoundError()
	}
	return group, nil
}

// ListForUser returns the groups a user belongs to
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error) {
	groups, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return groups, nil
}

// Join adds a user to the membership set. Idempotent; the router's cached
// membership is invalidated so the next fan-out sees the new member.
func (s *Service) Join(ctx context.Context, userID, groupID uuid.UUID) error {
	group, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if group.HasMember(userID) {
		return nil
	}

	if err := s.store.AddMember(ctx, groupID, userID); err != nil {
		return apperrors.DatabaseError(err)
	}
	s.router.InvalidateGroup(groupID)

	group.MemberIDs = append(group.MemberIDs, userID)
	s.announce(ctx, group, protocol.EventJoinGroup, userID)
	return nil
}

// Leave removes a user from the membership set. The admin cannot leave their
// own group; they delete it instead.
func (s *Service) Leave(ctx context.Context, userID, groupID uuid.UUID) error {
	group, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.HasMember(userID) {
		return apperrors.NotMemberError()
	}
	if group.AdminID == userID {
		return apperrors.ForbiddenError("the admin cannot leave the group")
	}

	if err := s.store.RemoveMember(ctx, groupID, userID); err != nil {
		return apperrors.DatabaseError(err)
	}
	s.router.InvalidateGroup(groupID)

	s.announce(ctx, group, protocol.EventLeaveGroup, userID)
	return nil
}

// Delete removes a group entirely. Admin only.
func (s *Service) Delete(ctx context.Context, requesterID, groupID uuid.UUID) error {
	group, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if group.AdminID != requesterID {
		return apperrors.ForbiddenError("only the group admin can delete the group")
	}

	if err := s.store.Delete(ctx, groupID); err != nil {
		return apperrors.DatabaseError(err)
	}
	s.router.InvalidateGroup(groupID)

	s.announce(ctx, group, protocol.EventLeaveGroup, requesterID)
	return nil
}

// announce pushes a membership-change notice to every member's live handles
func (s *Service) announce(ctx context.Context, group *domain.Group, eventType string, actorID uuid.UUID) {
	ev := &protocol.Event{
		Type:    eventType,
		From:    actorID,
		GroupID: group.GroupID,
		IsGroup: true,
	}
	for _, memberID := range group.MemberIDs {
		s.reg.DeliverToUser(ctx, memberID, ev)
	}
}
