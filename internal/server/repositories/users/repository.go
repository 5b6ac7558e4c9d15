// Package users declares the repository contract over credential records.
// The auth core reads records to verify logins; everything else about a user
// belongs to external administration.
package users

import (
	"context"

	"github.com/avolkov/authcore/internal/server/models"
)

// Repository defines the operations the auth core needs over users.
type Repository interface {
	// Create stores a new user and returns it with its assigned id.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetUserByLogin looks a user up by username. Implementations return
	// common.ErrorNotFound when the user is absent.
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)

	// GetUserByID looks a user up by its record id. Implementations return
	// common.ErrorNotFound when the user is absent.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// UpdatePasswordHash replaces the stored hash material for userID.
	UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error
}
