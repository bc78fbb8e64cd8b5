package handler

import (
	"io"
	"net/http/httptest"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/pkg/validation"
)

var (
	adminClaims = domain.Claims{Subject: "root", Roles: []string{domain.RoleAdmin, domain.RoleUser}}
	userClaims  = domain.Claims{Subject: "bob", Roles: []string{domain.RoleUser}}
)

// newContext builds a request context. A nil principal leaves it
// unauthenticated; params are name/value pairs.
func newContext(method, target, body string, principal *domain.Claims, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = validation.New()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if principal != nil {
		c.Set("claims", *principal)
	}
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}
