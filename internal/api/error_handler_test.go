package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/core/domain"
)

func TestHTTPErrorHandler_MapsKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"credentials", &domain.CredentialError{Cause: domain.ErrUserNotFound}, http.StatusUnauthorized, "invalid credentials"},
		{"token", domain.ErrTokenExpired, http.StatusUnauthorized, "invalid token"},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, "access forbidden"},
		{"validation", domain.Validationf("username is required"), http.StatusBadRequest, "username is required"},
		{"not found", domain.ErrRoleNotFound, http.StatusNotFound, "role not found"},
		{"conflict", domain.ErrDuplicateEmail, http.StatusConflict, "email already exists"},
		{"wrapped conflict", fmt.Errorf("create role: %w", domain.ErrDuplicateRoleName), http.StatusConflict, "create role: conflict: role name already exists"},
		{"policy", domain.ErrLastAdmin, http.StatusUnprocessableEntity, "cannot remove the last admin"},
		{"echo", echo.NewHTTPError(http.StatusTooManyRequests, "too many requests"), http.StatusTooManyRequests, "too many requests"},
		{"unexpected", errors.New("mongo exploded"), http.StatusInternalServerError, "internal server error"},
		{"configuration", domain.ErrMissingSigningKey, http.StatusInternalServerError, "internal server error"},
	}

	handler := NewHTTPErrorHandler(zerolog.Nop())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			handler(tc.err, c)

			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			var body errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body.Error != tc.msg {
				t.Fatalf("expected message %q, got %q", tc.msg, body.Error)
			}
		})
	}
}

func TestHTTPErrorHandler_CommittedResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = c.NoContent(http.StatusNoContent)

	NewHTTPErrorHandler(zerolog.Nop())(domain.ErrForbidden, c)

	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("a committed response must be left alone, got %d %q", rec.Code, rec.Body.String())
	}
}
