package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/pkg/metrics"
)

// RoleService implements role administration. Every operation requires the
// Admin role.
type RoleService struct {
	store  ports.UserRoleStore
	guard  RoleInvariantGuard
	policy AuthorizationPolicy
	logger zerolog.Logger
	opts   options
}

func NewRoleService(store ports.UserRoleStore, logger zerolog.Logger, opts ...Option) *RoleService {
	return &RoleService{
		store:  store,
		guard:  NewRoleInvariantGuard(),
		policy: NewAuthorizationPolicy(),
		logger: logger,
		opts:   buildOptions(opts),
	}
}

func (s *RoleService) ListRoles(ctx context.Context, principal domain.Claims) ([]*domain.Role, error) {
	if err := s.policy.Require(principal, domain.RoleAdmin, "list_roles"); err != nil {
		return nil, err
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

func (s *RoleService) GetRoleByID(ctx context.Context, principal domain.Claims, id string) (*domain.Role, error) {
	if err := s.policy.Require(principal, domain.RoleAdmin, "get_role"); err != nil {
		return nil, err
	}
	return s.store.FindRoleByID(ctx, id)
}

func (s *RoleService) GetRoleByName(ctx context.Context, principal domain.Claims, name string) (*domain.Role, error) {
	if err := s.policy.Require(principal, domain.RoleAdmin, "get_role"); err != nil {
		return nil, err
	}
	return s.store.FindRoleByName(ctx, name)
}

// ListRoleMembers returns the users holding roleName.
func (s *RoleService) ListRoleMembers(ctx context.Context, principal domain.Claims, roleName string) ([]*domain.User, error) {
	if err := s.policy.Require(principal, domain.RoleAdmin, "list_role_members"); err != nil {
		return nil, err
	}
	role, err := s.store.FindRoleByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	return s.store.ListRoleMembers(ctx, role.ID)
}

func (s *RoleService) CreateRole(ctx context.Context, principal domain.Claims, name, description string) (*domain.Role, error) {
	if err := s.policy.Require(principal, domain.RoleAdmin, "create_role"); err != nil {
		return nil, err
	}
	if err := validateInput(roleInput{Name: name, Description: description}); err != nil {
		return nil, err
	}

	release, err := s.opts.lock(ctx, roleKey(name))
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	defer release()

	role := &domain.Role{
		ID:          newID(s.opts.now()),
		Name:        name,
		Description: description,
	}
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.store.FindRoleByName(txCtx, name); err == nil {
			return domain.ErrDuplicateRoleName
		} else if !errors.Is(err, domain.ErrRoleNotFound) {
			return err
		}
		return s.store.CreateRole(txCtx, role)
	})
	if err != nil {
		return nil, err
	}

	s.opts.audit(domain.AuditEvent{
		Action:   domain.AuditRoleCreated,
		Subject:  role.Name,
		Actor:    principal.Subject,
		Metadata: map[string]string{"role_id": role.ID},
	})
	s.logger.Info().Str("role_id", role.ID).Str("role", role.Name).Str("actor", principal.Subject).Msg("role created")
	return role, nil
}

// UpdateRole renames and redescribes a non-system role.
func (s *RoleService) UpdateRole(ctx context.Context, principal domain.Claims, id, name, description string) error {
	if err := s.policy.Require(principal, domain.RoleAdmin, "update_role"); err != nil {
		return err
	}
	if err := validateInput(roleInput{Name: name, Description: description}); err != nil {
		return err
	}

	release, err := s.opts.lock(ctx, roleKey(name))
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	defer release()

	var previous string
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		role, err := s.store.FindRoleByID(txCtx, id)
		if err != nil {
			return err
		}
		holder, err := s.store.FindRoleByName(txCtx, name)
		if err != nil && !errors.Is(err, domain.ErrRoleNotFound) {
			return err
		}
		if err := s.guard.CanRenameOrDescribe(role, name, holder); err != nil {
			recordViolation(err)
			return err
		}
		previous = role.Name
		role.Name = name
		role.Description = description
		return s.store.UpdateRole(txCtx, role)
	})
	if err != nil {
		return err
	}

	s.opts.audit(domain.AuditEvent{
		Action:   domain.AuditRoleUpdated,
		Subject:  name,
		Actor:    principal.Subject,
		Metadata: map[string]string{"role_id": id, "previous_name": previous},
	})
	s.logger.Info().Str("role_id", id).Str("role", name).Str("actor", principal.Subject).Msg("role updated")
	return nil
}

// DeleteRole removes a non-system role that has no members.
func (s *RoleService) DeleteRole(ctx context.Context, principal domain.Claims, id string) error {
	if err := s.policy.Require(principal, domain.RoleAdmin, "delete_role"); err != nil {
		return err
	}

	var name string
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		role, err := s.store.FindRoleByID(txCtx, id)
		if err != nil {
			return err
		}
		members, err := s.store.CountRoleMembers(txCtx, role.ID)
		if err != nil {
			return err
		}
		if err := s.guard.CheckDeleteRole(role, members); err != nil {
			recordViolation(err)
			return err
		}
		name = role.Name
		return s.store.DeleteRole(txCtx, role.ID)
	})
	if err != nil {
		return err
	}

	s.opts.audit(domain.AuditEvent{
		Action:   domain.AuditRoleDeleted,
		Subject:  name,
		Actor:    principal.Subject,
		Metadata: map[string]string{"role_id": id},
	})
	s.logger.Info().Str("role_id", id).Str("role", name).Str("actor", principal.Subject).Msg("role deleted")
	return nil
}

func recordViolation(err error) {
	metrics.InvariantViolationsTotal.WithLabelValues(violationRule(err)).Inc()
}

func violationRule(err error) string {
	switch {
	case errors.Is(err, domain.ErrSystemRoleProtected):
		return "system_role_protected"
	case errors.Is(err, domain.ErrRoleHasMembers):
		return "role_has_members"
	case errors.Is(err, domain.ErrLastAdmin):
		return "last_admin"
	case errors.Is(err, domain.ErrDuplicateRoleName):
		return "duplicate_role_name"
	default:
		return "other"
	}
}
