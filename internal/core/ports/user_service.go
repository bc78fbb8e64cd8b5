package ports

import (
	"context"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// UpdateUserInput carries the mutable profile fields of a user.
type UpdateUserInput struct {
	Username string
	Email    string
}

// UserService is user administration plus self-service profile access.
type UserService interface {
	ListUsers(ctx context.Context, principal domain.Claims) ([]*domain.User, error)
	GetUser(ctx context.Context, principal domain.Claims, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, principal domain.Claims, username string) (*domain.User, error)
	UpdateUser(ctx context.Context, principal domain.Claims, id string, input UpdateUserInput) error
	DeleteUser(ctx context.Context, principal domain.Claims, id string) error
	GetUserRoles(ctx context.Context, principal domain.Claims, id string) ([]string, error)
	AssignRole(ctx context.Context, principal domain.Claims, userID, roleName string) error
	RemoveRole(ctx context.Context, principal domain.Claims, userID, roleName string) error
}
