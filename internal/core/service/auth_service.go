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

// AuthService implements registration, login and token validation.
type AuthService struct {
	store     ports.UserRoleStore
	hasher    *PasswordHasher
	issuer    *TokenIssuer
	validator *TokenValidator
	logger    zerolog.Logger
	opts      options

	// dummyHash is verified against when the user does not exist so both
	// login failure paths cost one bcrypt comparison.
	dummyHash string
}

// NewAuthService fails with domain.ErrMissingSigningKey when the token
// config carries no key.
func NewAuthService(
	store ports.UserRoleStore,
	hasher *PasswordHasher,
	tokens TokenConfig,
	logger zerolog.Logger,
	opts ...Option,
) (*AuthService, error) {
	o := buildOptions(opts)
	if tokens.Now == nil {
		tokens.Now = o.now
	}

	issuer, err := NewTokenIssuer(tokens)
	if err != nil {
		return nil, err
	}
	validator, err := NewTokenValidator(tokens)
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	return &AuthService{
		store:     store,
		hasher:    hasher,
		issuer:    issuer,
		validator: validator,
		logger:    logger,
		opts:      o,
		dummyHash: dummy,
	}, nil
}

// Register creates a user holding the default User role and returns a token
// for it. The uniqueness checks, the insert and the role assignment commit
// together or not at all.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*domain.IssuedSession, error) {
	if err := validateInput(userInput{Username: username, Email: email}); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	release, err := s.opts.lock(ctx, usernameKey(username), emailKey(email))
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("register: %w", err)
	}
	defer release()

	now := s.opts.now().UTC()
	user := &domain.User{
		ID:           newID(now),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
	}

	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := ensureUsernameFree(txCtx, s.store, username, ""); err != nil {
			return err
		}
		if err := ensureEmailFree(txCtx, s.store, email, ""); err != nil {
			return err
		}
		defaultRole, err := s.store.FindRoleByName(txCtx, domain.RoleUser)
		if err != nil {
			if errors.Is(err, domain.ErrRoleNotFound) {
				return fmt.Errorf("%w: default role %q is not seeded", domain.ErrConfiguration, domain.RoleUser)
			}
			return err
		}
		if err := s.store.CreateUser(txCtx, user); err != nil {
			return err
		}
		return s.store.AddMembership(txCtx, user.ID, defaultRole.ID)
	})
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues(registrationResult(err)).Inc()
		return nil, err
	}
	user.Roles = []string{domain.RoleUser}

	session, err := s.issue(user)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	s.opts.audit(domain.AuditEvent{Action: domain.AuditUserRegistered, Subject: user.Username})
	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")

	return session, nil
}

// Login verifies the credentials, records the login time and returns a
// token. Unknown users and wrong passwords produce the same error; the
// cause is only visible through errors.Is and the logs.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.IssuedSession, error) {
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.hasher.Verify(password, s.dummyHash)
			return nil, s.loginFailed(username, domain.ErrUserNotFound)
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, s.loginFailed(username, domain.ErrPasswordMismatch)
	}

	now := s.opts.now().UTC()
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.FindUserByID(txCtx, user.ID)
		if err != nil {
			return err
		}
		current.LastLoginAt = &now
		if err := s.store.UpdateUser(txCtx, current); err != nil {
			return err
		}
		user = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("login: record last login: %w", err)
	}

	session, err := s.issue(user)
	if err != nil {
		return nil, err
	}

	metrics.LoginsTotal.WithLabelValues("success", "").Inc()
	s.opts.audit(domain.AuditEvent{Action: domain.AuditLoginSucceeded, Subject: user.Username})
	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("login succeeded")

	return session, nil
}

// ValidateToken reports whether token is authentic, fresh and bound to this
// issuer and audience.
func (s *AuthService) ValidateToken(token string) bool {
	_, err := s.Validate(token)
	return err == nil
}

// Validate decodes token. It satisfies ports.TokenValidator.
func (s *AuthService) Validate(token string) (domain.Claims, error) {
	claims, err := s.validator.Validate(token)
	metrics.TokenValidationsTotal.WithLabelValues(tokenResult(err)).Inc()
	if err != nil {
		s.logger.Debug().Err(err).Msg("token rejected")
	}
	return claims, err
}

func (s *AuthService) issue(user *domain.User) (*domain.IssuedSession, error) {
	token, claims, err := s.issuer.IssueForUser(user.ID, user.Username, user.Roles)
	if err != nil {
		return nil, err
	}
	return &domain.IssuedSession{
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
		Username:  user.Username,
		Roles:     claims.Roles,
	}, nil
}

func (s *AuthService) loginFailed(username string, cause error) error {
	credErr := &domain.CredentialError{Cause: cause}
	metrics.LoginsTotal.WithLabelValues("failure", credErr.Reason()).Inc()
	s.opts.audit(domain.AuditEvent{
		Action:   domain.AuditLoginFailed,
		Subject:  username,
		Metadata: map[string]string{"reason": credErr.Reason()},
	})
	s.logger.Warn().Str("username", username).Str("reason", credErr.Reason()).Msg("login failed")
	return credErr
}

// ensureUsernameFree returns domain.ErrDuplicateUsername when username is
// held by a user other than exceptID.
func ensureUsernameFree(ctx context.Context, store ports.UserRoleStore, username, exceptID string) error {
	existing, err := store.FindUserByUsername(ctx, username)
	switch {
	case err == nil:
		if existing.ID != exceptID {
			return domain.ErrDuplicateUsername
		}
		return nil
	case errors.Is(err, domain.ErrUserNotFound):
		return nil
	default:
		return err
	}
}

func ensureEmailFree(ctx context.Context, store ports.UserRoleStore, email, exceptID string) error {
	existing, err := store.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.ID != exceptID {
			return domain.ErrDuplicateEmail
		}
		return nil
	case errors.Is(err, domain.ErrUserNotFound):
		return nil
	default:
		return err
	}
}

func usernameKey(username string) string { return "username:" + username }
func emailKey(email string) string       { return "email:" + email }
func roleKey(name string) string         { return "role:" + name }

func registrationResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateUsername):
		return "duplicate_username"
	case errors.Is(err, domain.ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

func tokenResult(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, domain.ErrTokenExpired):
		return "expired"
	case errors.Is(err, domain.ErrTokenBadSignature):
		return "bad_signature"
	case errors.Is(err, domain.ErrTokenIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, domain.ErrTokenAudienceMismatch):
		return "audience_mismatch"
	default:
		return "malformed"
	}
}
