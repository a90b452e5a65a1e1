package ports

import (
	"context"

	"trialsim/models"

	"github.com/google/uuid"
)

// UserRepository resolves run owners. Deployments are single-user, so only
// the default owner is ever created.
type UserRepository interface {
	// GetOrCreateDefaultUser gets the default user or creates it if it doesn't exist
	GetOrCreateDefaultUser(ctx context.Context) (*models.User, error)

	// GetUserByID retrieves a user by their ID
	GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
}
