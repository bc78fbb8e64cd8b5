package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

// UserService implements user administration and self-service profile
// access.
type UserService struct {
	store  ports.UserRoleStore
	guard  RoleInvariantGuard
	policy AuthorizationPolicy
	logger zerolog.Logger
	opts   options
}

func NewUserService(store ports.UserRoleStore, logger zerolog.Logger, opts ...Option) *UserService {
	return &UserService{
		store:  store,
		guard:  NewRoleInvariantGuard(),
		policy: NewAuthorizationPolicy(),
		logger: logger,
		opts:   buildOptions(opts),
	}
}

func (s *UserService) ListUsers(ctx context.Context, principal domain.Claims) ([]*domain.User, error) {
	if err := s.policy.Require(principal, domain.RoleAdmin, "list_users"); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *UserService) GetUser(ctx context.Context, principal domain.Claims, id string) (*domain.User, error) {
	if err := s.requireSelfOrAdmin(principal, id, "get_user"); err != nil {
		return nil, err
	}
	return s.store.FindUserByID(ctx, id)
}

func (s *UserService) GetUserByUsername(ctx context.Context, principal domain.Claims, username string) (*domain.User, error) {
	if err := s.policy.Require(principal, domain.RoleAdmin, "get_user_by_username"); err != nil {
		return nil, err
	}
	return s.store.FindUserByUsername(ctx, username)
}

func (s *UserService) GetUserRoles(ctx context.Context, principal domain.Claims, id string) ([]string, error) {
	if err := s.requireSelfOrAdmin(principal, id, "get_user_roles"); err != nil {
		return nil, err
	}
	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Roles == nil {
		return []string{}, nil
	}
	return user.Roles, nil
}

// UpdateUser changes username and email. Both stay unique across users.
func (s *UserService) UpdateUser(ctx context.Context, principal domain.Claims, id string, input ports.UpdateUserInput) error {
	if err := s.requireSelfOrAdmin(principal, id, "update_user"); err != nil {
		return err
	}
	if err := validateInput(userInput{Username: input.Username, Email: input.Email}); err != nil {
		return err
	}

	release, err := s.opts.lock(ctx, usernameKey(input.Username), emailKey(input.Email))
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	defer release()

	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		user, err := s.store.FindUserByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := ensureUsernameFree(txCtx, s.store, input.Username, user.ID); err != nil {
			return err
		}
		if err := ensureEmailFree(txCtx, s.store, input.Email, user.ID); err != nil {
			return err
		}
		user.Username = input.Username
		user.Email = input.Email
		return s.store.UpdateUser(txCtx, user)
	})
	if err != nil {
		return err
	}

	s.opts.audit(domain.AuditEvent{
		Action:   domain.AuditUserUpdated,
		Subject:  input.Username,
		Actor:    principal.Subject,
		Metadata: map[string]string{"user_id": id},
	})
	s.logger.Info().Str("user_id", id).Str("actor", principal.Subject).Msg("user updated")
	return nil
}

// DeleteUser removes a user and its memberships. The sole admin cannot be
// deleted.
func (s *UserService) DeleteUser(ctx context.Context, principal domain.Claims, id string) error {
	if err := s.policy.Require(principal, domain.RoleAdmin, "delete_user"); err != nil {
		return err
	}

	release, err := s.opts.lock(ctx, roleKey(domain.RoleAdmin))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	defer release()

	var username string
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		user, err := s.store.FindUserByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := s.checkLastAdmin(txCtx, user, domain.RoleAdmin); err != nil {
			return err
		}
		username = user.Username
		return s.store.DeleteUser(txCtx, user.ID)
	})
	if err != nil {
		return err
	}

	s.opts.audit(domain.AuditEvent{
		Action:   domain.AuditUserDeleted,
		Subject:  username,
		Actor:    principal.Subject,
		Metadata: map[string]string{"user_id": id},
	})
	s.logger.Info().Str("user_id", id).Str("username", username).Str("actor", principal.Subject).Msg("user deleted")
	return nil
}

// AssignRole grants roleName to the user. Granting a role the user already
// holds succeeds without changing anything.
func (s *UserService) AssignRole(ctx context.Context, principal domain.Claims, userID, roleName string) error {
	if err := s.policy.Require(principal, domain.RoleAdmin, "assign_role"); err != nil {
		return err
	}

	var (
		username string
		changed  bool
	)
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		user, err := s.store.FindUserByID(txCtx, userID)
		if err != nil {
			return err
		}
		role, err := s.store.FindRoleByName(txCtx, roleName)
		if err != nil {
			return err
		}
		username = user.Username
		if !s.guard.CanAssignRole(user, role) {
			return nil
		}
		changed = true
		return s.store.AddMembership(txCtx, user.ID, role.ID)
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.opts.audit(domain.AuditEvent{
		Action:   domain.AuditRoleAssigned,
		Subject:  username,
		Actor:    principal.Subject,
		Metadata: map[string]string{"role": roleName},
	})
	s.logger.Info().Str("user_id", userID).Str("role", roleName).Str("actor", principal.Subject).Msg("role assigned")
	return nil
}

// RemoveRole revokes roleName from the user. The admin count is read in the
// same transaction as the removal so two concurrent removals cannot leave
// the system without an admin.
func (s *UserService) RemoveRole(ctx context.Context, principal domain.Claims, userID, roleName string) error {
	if err := s.policy.Require(principal, domain.RoleAdmin, "remove_role"); err != nil {
		return err
	}

	release, err := s.opts.lock(ctx, roleKey(roleName))
	if err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	defer release()

	var username string
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		user, err := s.store.FindUserByID(txCtx, userID)
		if err != nil {
			return err
		}
		role, err := s.store.FindRoleByName(txCtx, roleName)
		if err != nil {
			return err
		}
		if !user.HasRole(role.Name) {
			return domain.ErrMembershipNotFound
		}
		if err := s.checkLastAdmin(txCtx, user, role.Name); err != nil {
			return err
		}
		username = user.Username
		return s.store.RemoveMembership(txCtx, user.ID, role.ID)
	})
	if err != nil {
		return err
	}

	s.opts.audit(domain.AuditEvent{
		Action:   domain.AuditRoleRemoved,
		Subject:  username,
		Actor:    principal.Subject,
		Metadata: map[string]string{"role": roleName},
	})
	s.logger.Info().Str("user_id", userID).Str("role", roleName).Str("actor", principal.Subject).Msg("role removed")
	return nil
}

func (s *UserService) checkLastAdmin(ctx context.Context, user *domain.User, roleName string) error {
	if roleName != domain.RoleAdmin || !user.HasRole(domain.RoleAdmin) {
		return nil
	}
	admins, err := s.store.CountDistinctUsersWithRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	if err := s.guard.CanRemoveRole(user, roleName, admins); err != nil {
		s.logger.Warn().Str("user_id", user.ID).Msg("refused to remove the last admin")
		recordViolation(err)
		return err
	}
	return nil
}

// requireSelfOrAdmin matches the target against the user id bound into the
// token. Tokens without one only pass as admins.
func (s *UserService) requireSelfOrAdmin(principal domain.Claims, targetID, operation string) error {
	return s.policy.RequireSelfOrAdmin(principal, targetID, principal.UserID, operation)
}
