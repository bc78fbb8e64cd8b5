package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/identity-system/internal/core/domain"
)

type stubAuthService struct {
	registerFn func(ctx context.Context, username, email, password string) (*domain.IssuedSession, error)
	loginFn    func(ctx context.Context, username, password string) (*domain.IssuedSession, error)
	validFn    func(token string) bool
}

func (s *stubAuthService) Register(ctx context.Context, username, email, password string) (*domain.IssuedSession, error) {
	return s.registerFn(ctx, username, email, password)
}

func (s *stubAuthService) Login(ctx context.Context, username, password string) (*domain.IssuedSession, error) {
	return s.loginFn(ctx, username, password)
}

func (s *stubAuthService) ValidateToken(token string) bool {
	return s.validFn(token)
}

func TestAuthHandler_Register_Success(t *testing.T) {
	expires := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	stub := &stubAuthService{
		registerFn: func(_ context.Context, username, email, password string) (*domain.IssuedSession, error) {
			if username != "alice" || email != "alice@example.com" || password != "secret" {
				t.Fatalf("unexpected args: %s %s %s", username, email, password)
			}
			return &domain.IssuedSession{Token: "tok", ExpiresAt: expires, Username: username, Roles: []string{domain.RoleUser}}, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, rec := newContext(http.MethodPost, "/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"secret"}`, nil)
	if err := handler.Register(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Token != "tok" || resp.Username != "alice" || len(resp.Roles) != 1 || !resp.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestAuthHandler_Register_Conflict(t *testing.T) {
	stub := &stubAuthService{
		registerFn: func(context.Context, string, string, string) (*domain.IssuedSession, error) {
			return nil, domain.ErrDuplicateUsername
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newContext(http.MethodPost, "/auth/register", `{"username":"bob","email":"b@example.com","password":"x"}`, nil)
	if err := handler.Register(c); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAuthHandler_Register_InvalidPayload(t *testing.T) {
	stub := &stubAuthService{
		registerFn: func(context.Context, string, string, string) (*domain.IssuedSession, error) {
			t.Fatalf("should not be called")
			return nil, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newContext(http.MethodPost, "/auth/register", "not-json", nil)
	var he *echo.HTTPError
	if err := handler.Register(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}

	c, _ = newContext(http.MethodPost, "/auth/register", `{"username":"bob"}`, nil)
	if err := handler.Register(c); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing fields, got %v", err)
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	stub := &stubAuthService{
		loginFn: func(_ context.Context, username, password string) (*domain.IssuedSession, error) {
			if username != "alice" || password != "secret" {
				t.Fatalf("unexpected args: %s %s", username, password)
			}
			return &domain.IssuedSession{Token: "token123", Username: "alice", Roles: []string{domain.RoleAdmin}}, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, rec := newContext(http.MethodPost, "/auth/login", `{"username":"alice","password":"secret"}`, nil)
	if err := handler.Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["token"] != "token123" || resp["username"] != "alice" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	stub := &stubAuthService{
		loginFn: func(context.Context, string, string) (*domain.IssuedSession, error) {
			return nil, &domain.CredentialError{Cause: domain.ErrUserNotFound}
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newContext(http.MethodPost, "/auth/login", `{"username":"ghost","password":"pwd"}`, nil)
	if err := handler.Login(c); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestAuthHandler_Login_InvalidPayload(t *testing.T) {
	stub := &stubAuthService{
		loginFn: func(context.Context, string, string) (*domain.IssuedSession, error) {
			t.Fatalf("should not be called")
			return nil, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newContext(http.MethodPost, "/auth/login", "{", nil)
	if err := handler.Login(c); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAuthHandler_ValidateToken(t *testing.T) {
	stub := &stubAuthService{validFn: func(token string) bool { return token == "good" }}
	handler := NewAuthHandler(stub)

	for token, want := range map[string]bool{"good": true, "bad": false} {
		c, rec := newContext(http.MethodPost, "/auth/validate-token", `{"token":"`+token+`"}`, nil)
		if err := handler.ValidateToken(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp validateTokenResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Valid != want {
			t.Fatalf("token %q: expected valid=%v", token, want)
		}
	}
}

func TestAuthHandler_ValidateToken_Empty(t *testing.T) {
	stub := &stubAuthService{validFn: func(token string) bool { return token != "" }}
	handler := NewAuthHandler(stub)

	c, rec := newContext(http.MethodPost, "/auth/validate-token", `{"token":""}`, nil)
	if err := handler.ValidateToken(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "{\"valid\":false}\n" {
		t.Fatalf("expected 200 valid=false, got %d %s", rec.Code, rec.Body.String())
	}
}
