package user

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatlink-backend/internal/domain"
	"chatlink-backend/pkg/constants"
	apperrors "chatlink-backend/pkg/errors"
)

// Store is the read surface over the user directory
type Store interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	List(ctx context.Context, excludeID uuid.UUID, limit, offset int) ([]*domain.User, error)
	Search(ctx context.Context, term string, limit int) ([]*domain.User, error)
}

// BlockStore mutates and reads block relations
type BlockStore interface {
	Block(ctx context.Context, blockerID, blockedID uuid.UUID) error
	Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error
	ListBlocked(ctx context.Context, blockerID uuid.UUID, limit, offset int) ([]*domain.BlockedRelation, error)
}

// OnlineChecker answers presence queries for contact decoration. The
// registry serves it on a single node; the Redis mirror on a fleet.
type OnlineChecker interface {
	IsOnline(userID uuid.UUID) bool
}

// BlockInvalidator drops cached block lookups after a mutation
type BlockInvalidator interface {
	InvalidateBlock(a, b uuid.UUID)
}

// Service is the contact directory surface: profile reads, contact listing
// with presence attached, and block management.
type Service struct {
	store       Store
	blocks      BlockStore
	online      OnlineChecker
	invalidator BlockInvalidator
	log         *zap.Logger
}

// NewService creates the user service. invalidator may be nil.
func NewService(store Store, blocks BlockStore, online OnlineChecker, invalidator BlockInvalidator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:       store,
		blocks:      blocks,
		online:      online,
		invalidator: invalidator,
		log:         log,
	}
}

// Get returns a user profile
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if user == nil {
		return nil, apperrors.UserNotFoundError()
	}
	return user, nil
}

// Contacts lists the directory with a live online flag per entry
func (s *Service) Contacts(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]*domain.Contact, error) {
	if limit <= 0 || limit > constants.HistoryPageLimit*4 {
		limit = constants.HistoryPageLimit
	}

	users, err := s.store.List(ctx, requesterID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	contacts := make([]*domain.Contact, 0, len(users))
	for _, u := range users {
		contacts = append(contacts, &domain.Contact{
			User:   *u,
			Online: s.online.IsOnline(u.UserID),
		})
	}
	return contacts, nil
}

// Search finds users by username or display-name prefix
func (s *Service) Search(ctx context.Context, term string, limit int) ([]*domain.Contact, error) {
	if term == "" {
		return nil, apperrors.MissingFieldError("q")
	}
	if limit <= 0 {
		limit = constants.HistoryPageLimit
	}

	users, err := s.store.Search(ctx, term, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	contacts := make([]*domain.Contact, 0, len(users))
	for _, u := range users {
		contacts = append(contacts, &domain.Contact{
			User:   *u,
			Online: s.online.IsOnline(u.UserID),
		})
	}
	return contacts, nil
}

// Block creates a block edge toward another user
func (s *Service) Block(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	if blockerID == blockedID {
		return apperrors.InvalidInputError("cannot block yourself")
	}
	if _, err := s.Get(ctx, blockedID); err != nil {
		return err
	}

	if err := s.blocks.Block(ctx, blockerID, blockedID); err != nil {
		return apperrors.DatabaseError(err)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateBlock(blockerID, blockedID)
	}

	s.log.Info("user blocked",
		zap.String("blocker_id", blockerID.String()),
		zap.String("blocked_id", blockedID.String()))
	return nil
}

// Unblock removes a block edge
func (s *Service) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	if err := s.blocks.Unblock(ctx, blockerID, blockedID); err != nil {
		return apperrors.DatabaseError(err)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateBlock(blockerID, blockedID)
	}
	return nil
}

// Blocked lists the block relations the user has created
func (s *Service) Blocked(ctx context.Context, blockerID uuid.UUID, limit, offset int) ([]*domain.BlockedRelation, error) {
	if limit <= 0 {
		limit = constants.HistoryPageLimit
	}
	relations, err := s.blocks.ListBlocked(ctx, blockerID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return relations, nil
}
