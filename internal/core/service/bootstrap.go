package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

// AdminSeed describes the initial administrator. An empty Username disables
// seeding.
type AdminSeed struct {
	Username string
	Email    string
	Password string
}

// Bootstrap makes sure the system roles exist and, when seed is set, that an
// administrator holding both system roles exists. It is safe to run on every
// start.
func Bootstrap(
	ctx context.Context,
	store ports.UserRoleStore,
	hasher *PasswordHasher,
	seed AdminSeed,
	logger zerolog.Logger,
	opts ...Option,
) error {
	o := buildOptions(opts)

	roleIDs := make(map[string]string, len(domain.SystemRoles))
	for _, sys := range domain.SystemRoles {
		role, err := ensureRole(ctx, store, sys, o)
		if err != nil {
			return fmt.Errorf("bootstrap: seed role %s: %w", sys.Name, err)
		}
		roleIDs[role.Name] = role.ID
	}

	if seed.Username == "" {
		admins, err := store.CountDistinctUsersWithRole(ctx, domain.RoleAdmin)
		if err != nil {
			return fmt.Errorf("bootstrap: count admins: %w", err)
		}
		if admins == 0 {
			logger.Warn().Msg("no admin user exists and none is configured for seeding")
		}
		return nil
	}

	if err := validateInput(userInput{Username: seed.Username, Email: seed.Email}); err != nil {
		return fmt.Errorf("bootstrap: admin seed: %w", err)
	}
	hash, err := hasher.Hash(seed.Password)
	if err != nil {
		return fmt.Errorf("bootstrap: admin seed: %w", err)
	}

	created := false
	err = store.WithTx(ctx, func(txCtx context.Context) error {
		user, err := store.FindUserByUsername(txCtx, seed.Username)
		if errors.Is(err, domain.ErrUserNotFound) {
			now := o.now().UTC()
			user = &domain.User{
				ID:           newID(now),
				Username:     seed.Username,
				Email:        seed.Email,
				PasswordHash: hash,
				CreatedAt:    now,
			}
			if err := store.CreateUser(txCtx, user); err != nil {
				return err
			}
			created = true
		} else if err != nil {
			return err
		}
		for _, name := range []string{domain.RoleAdmin, domain.RoleUser} {
			if err := store.AddMembership(txCtx, user.ID, roleIDs[name]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bootstrap: admin seed: %w", err)
	}

	if created {
		logger.Info().Str("username", seed.Username).Msg("initial admin created")
	}
	return nil
}

func ensureRole(ctx context.Context, store ports.UserRoleStore, want domain.Role, o options) (*domain.Role, error) {
	role, err := store.FindRoleByName(ctx, want.Name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, domain.ErrRoleNotFound) {
		return nil, err
	}
	role = &domain.Role{
		ID:          newID(o.now()),
		Name:        want.Name,
		Description: want.Description,
	}
	if err := store.CreateRole(ctx, role); err != nil {
		// Another instance seeded it first.
		if errors.Is(err, domain.ErrDuplicateRoleName) {
			return store.FindRoleByName(ctx, want.Name)
		}
		return nil, err
	}
	return role, nil
}
