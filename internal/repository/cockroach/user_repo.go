package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatlink-backend/internal/domain"
)

// UserRepository reads chat participant identities from CockroachDB. The
// users table is owned by the auth collaborator; this service never writes
// to it.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user by ID. Returns nil when no such user exists.
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT user_id, username, display_name, avatar_url, created_at
		FROM users
		WHERE user_id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// List returns every user except the requester, alphabetically by display
// name. The contact surface is the full directory.
func (r *UserRepository) List(ctx context.Context, excludeID uuid.UUID, limit, offset int) ([]*domain.User, error) {
	query := `
		SELECT user_id, username, display_name, avatar_url, created_at
		FROM users
		WHERE user_id != $1
		ORDER BY display_name
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, excludeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(
			&user.UserID,
			&user.Username,
			&user.DisplayName,
			&user.AvatarURL,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// Search finds users whose username or display name matches a prefix
func (r *UserRepository) Search(ctx context.Context, term string, limit int) ([]*domain.User, error) {
	query := `
		SELECT user_id, username, display_name, avatar_url, created_at
		FROM users
		WHERE username ILIKE $1 OR display_name ILIKE $1
		ORDER BY display_name
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, term+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user := &domain.User{}
		if err := rows.Scan(
			&user.UserID,
			&user.Username,
			&user.DisplayName,
			&user.AvatarURL,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
