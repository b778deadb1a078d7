package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"chatlink-backend/internal/database"
	"chatlink-backend/pkg/constants"
)

// PresenceRepository mirrors the online set into Redis so HTTP surfaces and
// sibling nodes can read presence without touching any node's registry. The
// in-memory registry stays authoritative; keys expire on their own if a node
// dies without cleaning up.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// SetUserOnline marks a user online with a TTL safety net
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", userID)

	if err := r.client.SafeSet(ctx, key, "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetUserOffline removes a user's presence mark
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", userID)

	if err := r.client.SafeDel(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SafeSRem(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// IsUserOnline checks the mirrored presence mark
func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("presence:%s", userID)

	exists, err := r.client.SafeExists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// RefreshPresence extends a user's TTL; called on heartbeats
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", userID)

	if err := r.client.SafeExpire(ctx, key, constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// GetOnlineUsers returns the mirrored online set across all nodes
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	userIDStrs, err := r.client.SafeSMembers(ctx, "presence:online").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(userIDStrs))
	for _, idStr := range userIDStrs {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, nil
}

// GetOnlineCount returns the size of the mirrored online set
func (r *PresenceRepository) GetOnlineCount(ctx context.Context) (int64, error) {
	count, err := r.client.SafeSCard(ctx, "presence:online").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// IsDegraded reports whether Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
