package postgres

import (
	"context"
	"database/sql"
	"errors"

	"trialsim/domain/core"
	"trialsim/models"
	"trialsim/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DefaultUserID owns runs in single-user deployments
var DefaultUserID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

// UserRepositoryImpl implements UserRepository for PostgreSQL
type UserRepositoryImpl struct {
	db *sqlx.DB
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sqlx.DB) ports.UserRepository {
	return &UserRepositoryImpl{db: db}
}

// userColumns is the projection shared by every user query
const userColumns = `id, email, username, is_active, created_at, updated_at`

// GetOrCreateDefaultUser returns the owner of single-user deployments,
// inserting it on first use. A concurrent insert by another process is
// resolved by reading the row back.
func (r *UserRepositoryImpl) GetOrCreateDefaultUser(ctx context.Context) (*models.User, error) {
	user, err := r.GetUserByID(ctx, DefaultUserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	user = &models.User{
		ID:       DefaultUserID,
		Email:    "default@trialsim.local",
		Username: "default",
		IsActive: true,
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, username, is_active, created_at, updated_at)
		VALUES (:id, :email, :username, :is_active, NOW(), NOW())
	`, user)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return r.GetUserByID(ctx, DefaultUserID)
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by id
func (r *UserRepositoryImpl) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("user", userID.String())
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
