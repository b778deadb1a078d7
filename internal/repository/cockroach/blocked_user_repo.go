package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatlink-backend/internal/domain"
)

// BlockedUserRepository stores block relations in CockroachDB
type BlockedUserRepository struct {
	pool *pgxpool.Pool
}

// NewBlockedUserRepository creates a new BlockedUserRepository
func NewBlockedUserRepository(pool *pgxpool.Pool) *BlockedUserRepository {
	return &BlockedUserRepository{pool: pool}
}

// Block records a directed block edge. Re-blocking refreshes the timestamp.
func (r *BlockedUserRepository) Block(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	query := `
		INSERT INTO blocked_users (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (blocker_id, blocked_id) DO UPDATE SET created_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, blockerID, blockedID); err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}
	return nil
}

// Unblock removes a block edge
func (r *BlockedUserRepository) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	query := `
		DELETE FROM blocked_users
		WHERE blocker_id = $1 AND blocked_id = $2
		RETURNING blocker_id
	`

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, query, blockerID, blockedID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("block relation not found")
		}
		return fmt.Errorf("failed to unblock user: %w", err)
	}
	return nil
}

// ExistsBetween reports whether a block edge exists in either direction.
// Delivery and call refusal are symmetric, so one lookup covers both sides.
func (r *BlockedUserRepository) ExistsBetween(ctx context.Context, a, b uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM blocked_users
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, a, b).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check block relation: %w", err)
	}
	return exists, nil
}

// ListBlocked returns the relations a user has created, newest first
func (r *BlockedUserRepository) ListBlocked(ctx context.Context, blockerID uuid.UUID, limit, offset int) ([]*domain.BlockedRelation, error) {
	query := `
		SELECT blocker_id, blocked_id, created_at
		FROM blocked_users
		WHERE blocker_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, blockerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked users: %w", err)
	}
	defer rows.Close()

	relations := make([]*domain.BlockedRelation, 0)
	for rows.Next() {
		rel := &domain.BlockedRelation{}
		if err := rows.Scan(&rel.BlockerID, &rel.BlockedID, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block relation: %w", err)
		}
		relations = append(relations, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating block relations: %w", err)
	}
	return relations, nil
}
