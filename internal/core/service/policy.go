package service

import (
	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/pkg/metrics"
)

// AuthorizationPolicy is the single place allow/deny decisions are made.
type AuthorizationPolicy struct{}

func NewAuthorizationPolicy() AuthorizationPolicy {
	return AuthorizationPolicy{}
}

// Authorize reports whether the principal holds requiredRole.
func (AuthorizationPolicy) Authorize(principal domain.Claims, requiredRole string) bool {
	return principal.HasRole(requiredRole)
}

// AuthorizeSelfOrAdmin allows admins, and users acting on their own record.
func (p AuthorizationPolicy) AuthorizeSelfOrAdmin(principal domain.Claims, targetUserID, principalUserID string) bool {
	if p.Authorize(principal, domain.RoleAdmin) {
		return true
	}
	return principalUserID != "" && principalUserID == targetUserID
}

// Require returns domain.ErrForbidden when Authorize denies. operation labels
// the denial metric.
func (p AuthorizationPolicy) Require(principal domain.Claims, requiredRole, operation string) error {
	if p.Authorize(principal, requiredRole) {
		return nil
	}
	metrics.PolicyDenialsTotal.WithLabelValues(operation).Inc()
	return domain.ErrForbidden
}

func (p AuthorizationPolicy) RequireSelfOrAdmin(principal domain.Claims, targetUserID, principalUserID, operation string) error {
	if p.AuthorizeSelfOrAdmin(principal, targetUserID, principalUserID) {
		return nil
	}
	metrics.PolicyDenialsTotal.WithLabelValues(operation).Inc()
	return domain.ErrForbidden
}
