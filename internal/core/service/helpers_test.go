package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/infrastructure/db/memory"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type recordingAuditor struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAuditor) Enqueue(e domain.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAuditor) actions() []domain.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Action)
	}
	return out
}

func (a *recordingAuditor) has(action domain.AuditAction) bool {
	for _, got := range a.actions() {
		if got == action {
			return true
		}
	}
	return false
}

// testClock is a settable clock shared by services and tokens.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

const (
	rootUsername = "root"
	rootPassword = "R00t-password"
)

type testEnv struct {
	store   *memory.Store
	hasher  *PasswordHasher
	auth    *AuthService
	roles   *RoleService
	users   *UserService
	auditor *recordingAuditor
	clock   *testClock
	root    domain.Claims
}

// newTestEnv seeds the system roles and a root admin.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newBareEnv(t)
	err := Bootstrap(context.Background(), env.store, env.hasher, AdminSeed{
		Username: rootUsername,
		Email:    "root@example.com",
		Password: rootPassword,
	}, zerolog.Nop(), WithClock(env.clock.Now))
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	env.root = domain.Claims{Subject: rootUsername, Roles: []string{domain.RoleAdmin, domain.RoleUser}}
	return env
}

// newBareEnv builds the services over an empty store.
func newBareEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   memory.NewStore(),
		hasher:  NewPasswordHasher(bcrypt.MinCost),
		auditor: &recordingAuditor{},
		clock:   &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts := []Option{WithAuditor(env.auditor), WithClock(env.clock.Now)}

	auth, err := NewAuthService(env.store, env.hasher, TokenConfig{
		SigningKey: []byte("test-signing-key"),
		Issuer:     "identity-test",
		Audience:   "identity-clients",
	}, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	env.auth = auth
	env.roles = NewRoleService(env.store, zerolog.Nop(), opts...)
	env.users = NewUserService(env.store, zerolog.Nop(), opts...)
	return env
}

func (env *testEnv) register(t *testing.T, username string) *domain.User {
	t.Helper()
	if _, err := env.auth.Register(context.Background(), username, username+"@example.com", "Passw0rd!"); err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	u, err := env.store.FindUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("FindUserByUsername(%s): %v", username, err)
	}
	return u
}

func (env *testEnv) userID(t *testing.T, username string) string {
	t.Helper()
	u, err := env.store.FindUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("FindUserByUsername(%s): %v", username, err)
	}
	return u.ID
}

func claimsFor(u *domain.User) domain.Claims {
	return domain.Claims{Subject: u.Username, UserID: u.ID, Roles: u.Roles}
}
