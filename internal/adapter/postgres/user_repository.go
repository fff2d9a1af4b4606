package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/eventrelay/internal/domain"
)

const getUserByID = `
SELECT id, email, name, role, COALESCE(plan_id, ''), status, updated_at
FROM users
WHERE id = $1`

type UserRepo struct {
	pool *pgxpool.Pool
}

var _ domain.UserRepository = (*UserRepo)(nil)

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, getUserByID, userID).
		Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PlanID, &u.Status, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return &u, nil
}

// Ping reports whether the database answers. Used by the readiness probe.
func (r *UserRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
