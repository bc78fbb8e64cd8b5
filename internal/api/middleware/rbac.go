package middleware

import (
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// RBAC rejects requests whose token holds none of allowedRoles. It must run
// after Auth.
func RBAC(allowedRoles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFrom(c)
			if !ok || !slices.ContainsFunc(allowedRoles, claims.HasRole) {
				return domain.ErrForbidden
			}
			return next(c)
		}
	}
}
