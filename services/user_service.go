package services

import (
	"context"

	"github.com/vortexdb/vortex-gateway/models"
)

// UserService manages the security database's user table.
type UserService interface {
	// Authenticate verifies credentials and returns the active user.
	Authenticate(ctx context.Context, username, password string) (*models.User, error)

	CreateUser(ctx context.Context, req models.CreateUserRequest) (*models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	SetRole(ctx context.Context, username string, role models.Role) error
	Deactivate(ctx context.Context, username string) error

	// EnsureAdmin seeds the default admin account on an empty user table.
	EnsureAdmin(ctx context.Context, adminSecret string) error
}
