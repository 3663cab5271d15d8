package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lectern-lms/lectern/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID fetches a user by primary key.
func (r *Repository) FindByID(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, uid, name, email, institution_id, created_at, updated_at
		FROM users
		WHERE id = $1`, id)
	return scanUser(row)
}

// FindByUID fetches a user by login identifier. The UID is folded before
// lookup so that callers may pass any casing.
func (r *Repository) FindByUID(ctx context.Context, uid string) (User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, uid, name, email, institution_id, created_at, updated_at
		FROM users
		WHERE uid = $1`, NormalizeUID(uid))
	return scanUser(row)
}

// IsAdministrator reports whether the user holds a global administrator
// grant.
func (r *Repository) IsAdministrator(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM administrators WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("users: administrator lookup: %w", err)
	}
	return exists, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.UID, &user.Name, &user.Email, &user.InstitutionID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, fmt.Errorf("users: scan user: %w", err)
	}
	return user, nil
}
