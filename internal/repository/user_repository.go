package repository

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-sales-approvals/internal/platform/database"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
)

// UserRepository reads the user directory.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns an active user.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, name, email, roles, active, created_at
		FROM app_users
		WHERE id = $1 AND active = TRUE
	`

	u := &User{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Roles,
		&u.Active,
		&u.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}
