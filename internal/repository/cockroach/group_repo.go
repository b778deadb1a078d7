package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatlink-backend/internal/domain"
)

// GroupRepository stores groups and their membership sets in CockroachDB
type GroupRepository struct {
	pool *pgxpool.Pool
}

// NewGroupRepository creates a new GroupRepository
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// Create inserts a group and its initial members in one transaction. The
// admin is always a member.
func (r *GroupRepository) Create(ctx context.Context, group *domain.Group) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO groups (group_id, name, admin_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, query, group.GroupID, group.Name, group.AdminID).Scan(&group.CreatedAt); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	memberQuery := `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`
	for _, memberID := range group.MemberIDs {
		if _, err := tx.Exec(ctx, memberQuery, group.GroupID, memberID); err != nil {
			return fmt.Errorf("failed to add group member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit group: %w", err)
	}
	return nil
}

// GetByID retrieves a group with its full membership set. Returns nil when
// no such group exists.
func (r *GroupRepository) GetByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	query := `
		SELECT group_id, name, admin_id, created_at
		FROM groups
		WHERE group_id = $1
	`

	group := &domain.Group{}
	err := r.pool.QueryRow(ctx, query, groupID).Scan(
		&group.GroupID,
		&group.Name,
		&group.AdminID,
		&group.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	memberQuery := `SELECT user_id FROM group_members WHERE group_id = $1`
	rows, err := r.pool.Query(ctx, memberQuery, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memberID uuid.UUID
		if err := rows.Scan(&memberID); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		group.MemberIDs = append(group.MemberIDs, memberID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group members: %w", err)
	}
	return group, nil
}

// AddMember puts a user into the membership set. Idempotent.
func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	query := `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, groupID, userID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember drops a user from the membership set
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	query := `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`
	if _, err := r.pool.Exec(ctx, query, groupID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// ListForUser returns the groups a user belongs to, newest first
func (r *GroupRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Group, error) {
	query := `
		SELECT g.group_id, g.name, g.admin_id, g.created_at
		FROM groups g
		INNER JOIN group_members m ON m.group_id = g.group_id
		WHERE m.user_id = $1
		ORDER BY g.created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*domain.Group, 0)
	for rows.Next() {
		group := &domain.Group{}
		if err := rows.Scan(&group.GroupID, &group.Name, &group.AdminID, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return groups, nil
}

// Delete removes a group and its membership rows
func (r *GroupRepository) Delete(ctx context.Context, groupID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to delete group members: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM groups WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit group deletion: %w", err)
	}
	return nil
}
