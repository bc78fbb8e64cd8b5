package service

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// TokenTTL is the fixed lifetime of an issued token.
const TokenTTL = 24 * time.Hour

// TokenConfig is shared by TokenIssuer and TokenValidator.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (c TokenConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// tokenClaims is the wire format: registered claims plus one "role" entry per
// assigned role.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string   `json:"uid,omitempty"`
	Roles  []string `json:"role,omitempty"`
}

// TokenIssuer signs HS256 tokens. It holds no mutable state.
type TokenIssuer struct {
	cfg TokenConfig
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, domain.ErrMissingSigningKey
	}
	return &TokenIssuer{cfg: cfg}, nil
}

// Issue builds and signs a token for subject carrying roles.
func (i *TokenIssuer) Issue(subject string, roles []string) (string, domain.Claims, error) {
	return i.IssueForUser("", subject, roles)
}

// IssueForUser is Issue with the stored user id bound into the "uid" claim.
// Ownership checks use the id, not the subject.
func (i *TokenIssuer) IssueForUser(userID, subject string, roles []string) (string, domain.Claims, error) {
	if i == nil || len(i.cfg.SigningKey) == 0 {
		return "", domain.Claims{}, domain.ErrMissingSigningKey
	}

	now := i.cfg.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
		UserID: userID,
		Roles:  slices.Clone(roles),
	}
	if i.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.SigningKey)
	if err != nil {
		return "", domain.Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, toDomainClaims(claims), nil
}

// TokenValidator verifies signature, expiry, issuer and audience, in that
// order, stopping at the first failure.
type TokenValidator struct {
	cfg    TokenConfig
	parser *jwt.Parser
}

func NewTokenValidator(cfg TokenConfig) (*TokenValidator, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, domain.ErrMissingSigningKey
	}
	return &TokenValidator{
		cfg: cfg,
		// Time and audience checks are done below with our own clock and ordering.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Validate never panics; every failure wraps domain.ErrToken.
func (v *TokenValidator) Validate(token string) (domain.Claims, error) {
	if token == "" {
		return domain.Claims{}, domain.ErrTokenMalformed
	}

	var claims tokenClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.cfg.SigningKey, nil
	})
	if err != nil {
		return domain.Claims{}, classifyParseError(err)
	}

	if claims.ExpiresAt == nil || claims.Subject == "" {
		return domain.Claims{}, domain.ErrTokenMalformed
	}
	if !v.cfg.now().Before(claims.ExpiresAt.Time) {
		return domain.Claims{}, domain.ErrTokenExpired
	}
	if claims.Issuer != v.cfg.Issuer {
		return domain.Claims{}, domain.ErrTokenIssuerMismatch
	}
	if v.cfg.Audience != "" && !slices.Contains(claims.Audience, v.cfg.Audience) {
		return domain.Claims{}, domain.ErrTokenAudienceMismatch
	}

	return toDomainClaims(claims), nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return domain.ErrTokenBadSignature
	default:
		return domain.ErrTokenMalformed
	}
}

func toDomainClaims(c tokenClaims) domain.Claims {
	out := domain.Claims{
		Subject: c.Subject,
		UserID:  c.UserID,
		TokenID: c.ID,
		Roles:   slices.Clone(c.Roles),
	}
	if out.Roles == nil {
		out.Roles = []string{}
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
