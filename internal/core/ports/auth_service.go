package ports

import (
	"context"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// AuthService covers registration, login and token checks.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*domain.IssuedSession, error)
	Login(ctx context.Context, username, password string) (*domain.IssuedSession, error)
	ValidateToken(token string) bool
}

// TokenValidator decodes and verifies a bearer token.
type TokenValidator interface {
	Validate(token string) (domain.Claims, error)
}
