package ports

import (
	"context"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// UserRoleStore persists users, roles and the membership relation between them.
//
// Find methods return domain.ErrUserNotFound / domain.ErrRoleNotFound when
// nothing matches. Users are returned with Roles populated from memberships.
// Create and update methods return the matching domain conflict error when a
// unique key (username, email, role name) is already taken.
type UserRoleStore interface {
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	// UpdateUser writes username, email, password hash and last login time.
	UpdateUser(ctx context.Context, user *domain.User) error
	// DeleteUser removes the user and all of its memberships.
	DeleteUser(ctx context.Context, id string) error

	FindRoleByName(ctx context.Context, name string) (*domain.Role, error)
	FindRoleByID(ctx context.Context, id string) (*domain.Role, error)
	ListRoles(ctx context.Context) ([]*domain.Role, error)
	CreateRole(ctx context.Context, role *domain.Role) error
	UpdateRole(ctx context.Context, role *domain.Role) error
	DeleteRole(ctx context.Context, id string) error

	// AddMembership is idempotent: adding an existing pair is not an error.
	AddMembership(ctx context.Context, userID, roleID string) error
	// RemoveMembership returns domain.ErrMembershipNotFound when the pair is absent.
	RemoveMembership(ctx context.Context, userID, roleID string) error
	ListRoleMembers(ctx context.Context, roleID string) ([]*domain.User, error)
	CountRoleMembers(ctx context.Context, roleID string) (int, error)
	CountDistinctUsersWithRole(ctx context.Context, roleName string) (int, error)

	// WithTx runs fn atomically. Store calls made with txCtx join the
	// transaction; if fn returns an error nothing it did is committed.
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// KeyLocker serializes work on a logical key across service instances.
// The returned release func must always be called.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}
