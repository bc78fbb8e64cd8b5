package ports

import (
	"context"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// RoleService is role administration. Every call is made on behalf of
// principal and is refused unless the principal holds the Admin role.
type RoleService interface {
	ListRoles(ctx context.Context, principal domain.Claims) ([]*domain.Role, error)
	GetRoleByID(ctx context.Context, principal domain.Claims, id string) (*domain.Role, error)
	GetRoleByName(ctx context.Context, principal domain.Claims, name string) (*domain.Role, error)
	ListRoleMembers(ctx context.Context, principal domain.Claims, roleName string) ([]*domain.User, error)
	CreateRole(ctx context.Context, principal domain.Claims, name, description string) (*domain.Role, error)
	UpdateRole(ctx context.Context, principal domain.Claims, id, name, description string) error
	DeleteRole(ctx context.Context, principal domain.Claims, id string) error
}
