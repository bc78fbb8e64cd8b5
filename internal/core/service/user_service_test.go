package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

func TestUserService_SelfOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	bobClaims := claimsFor(bob)

	if _, err := env.users.GetUser(ctx, bobClaims, bob.ID); err != nil {
		t.Fatalf("self read should be allowed: %v", err)
	}
	if _, err := env.users.GetUser(ctx, bobClaims, alice.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden reading another user, got %v", err)
	}
	if _, err := env.users.GetUserRoles(ctx, bobClaims, alice.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden reading another user's roles, got %v", err)
	}
	if _, err := env.users.GetUser(ctx, env.root, alice.ID); err != nil {
		t.Fatalf("admin read should be allowed: %v", err)
	}

	roles, err := env.users.GetUserRoles(ctx, bobClaims, bob.ID)
	if err != nil || len(roles) != 1 || roles[0] != domain.RoleUser {
		t.Fatalf("GetUserRoles: %v %v", err, roles)
	}

	if _, err := env.users.ListUsers(ctx, bobClaims); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("ListUsers: expected ErrForbidden, got %v", err)
	}
	if _, err := env.users.GetUserByUsername(ctx, bobClaims, "bob"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("GetUserByUsername: expected ErrForbidden, got %v", err)
	}

	users, err := env.users.ListUsers(ctx, env.root)
	if err != nil || len(users) != 3 {
		t.Fatalf("ListUsers: %v, %d users", err, len(users))
	}
	found, err := env.users.GetUserByUsername(ctx, env.root, "alice")
	if err != nil || found.ID != alice.ID {
		t.Fatalf("GetUserByUsername: %v", err)
	}
}

func TestUserService_UnknownPrincipalIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	ghost := domain.Claims{Subject: "ghost", Roles: []string{domain.RoleUser}}
	if _, err := env.users.GetUser(context.Background(), ghost, alice.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUserService_UpdateUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice")
	env.register(t, "bob")

	err := env.users.UpdateUser(ctx, claimsFor(alice), alice.ID, ports.UpdateUserInput{
		Username: "alice",
		Email:    "alice@new.example.com",
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	got, _ := env.store.FindUserByID(ctx, alice.ID)
	if got.Email != "alice@new.example.com" {
		t.Fatalf("email not updated: %s", got.Email)
	}
	if got.PasswordHash != alice.PasswordHash {
		t.Fatalf("update must keep the password hash")
	}

	err = env.users.UpdateUser(ctx, env.root, alice.ID, ports.UpdateUserInput{Username: "bob", Email: "x@example.com"})
	if !errors.Is(err, domain.ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	err = env.users.UpdateUser(ctx, env.root, alice.ID, ports.UpdateUserInput{Username: "alice", Email: "bob@example.com"})
	if !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	err = env.users.UpdateUser(ctx, env.root, alice.ID, ports.UpdateUserInput{Username: "alice", Email: "broken"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	err = env.users.UpdateUser(ctx, env.root, "missing", ports.UpdateUserInput{Username: "z", Email: "z@example.com"})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserService_AssignRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := env.register(t, "bob")

	if err := env.users.AssignRole(ctx, claimsFor(bob), bob.ID, domain.RoleAdmin); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("self-promotion: expected ErrForbidden, got %v", err)
	}
	if err := env.users.AssignRole(ctx, env.root, bob.ID, "Missing"); !errors.Is(err, domain.ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	if err := env.users.AssignRole(ctx, env.root, "missing", domain.RoleAdmin); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	before := len(env.auditor.actions())
	if err := env.users.AssignRole(ctx, env.root, bob.ID, domain.RoleUser); err != nil {
		t.Fatalf("assigning a held role should succeed: %v", err)
	}
	if len(env.auditor.actions()) != before {
		t.Fatalf("a no-op assignment must not be audited")
	}

	if err := env.users.AssignRole(ctx, env.root, bob.ID, domain.RoleAdmin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	got, _ := env.store.FindUserByID(ctx, bob.ID)
	if !got.HasRole(domain.RoleAdmin) || !got.HasRole(domain.RoleUser) {
		t.Fatalf("expected Admin and User, got %v", got.Roles)
	}
	if !env.auditor.has(domain.AuditRoleAssigned) {
		t.Fatalf("expected role_assigned audit event")
	}
}

func TestUserService_RemoveRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := env.register(t, "bob")

	if err := env.users.RemoveRole(ctx, env.root, bob.ID, domain.RoleAdmin); !errors.Is(err, domain.ErrMembershipNotFound) {
		t.Fatalf("expected ErrMembershipNotFound, got %v", err)
	}
	if err := env.users.RemoveRole(ctx, env.root, bob.ID, domain.RoleUser); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	roles, _ := env.users.GetUserRoles(ctx, env.root, bob.ID)
	if roles == nil || len(roles) != 0 {
		t.Fatalf("expected an empty non-nil role list, got %#v", roles)
	}
}

func TestUserService_LastAdminIsKept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rootID := env.userID(t, rootUsername)

	err := env.users.RemoveRole(ctx, env.root, rootID, domain.RoleAdmin)
	if !errors.Is(err, domain.ErrLastAdmin) || !errors.Is(err, domain.ErrPolicyViolation) {
		t.Fatalf("expected ErrLastAdmin, got %v", err)
	}
	if err := env.users.DeleteUser(ctx, env.root, rootID); !errors.Is(err, domain.ErrLastAdmin) {
		t.Fatalf("deleting the sole admin: expected ErrLastAdmin, got %v", err)
	}

	// A second admin makes the first one removable.
	alice := env.register(t, "alice")
	if err := env.users.AssignRole(ctx, env.root, alice.ID, domain.RoleAdmin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := env.users.RemoveRole(ctx, env.root, rootID, domain.RoleAdmin); err != nil {
		t.Fatalf("RemoveRole with two admins: %v", err)
	}
	admins, _ := env.store.CountDistinctUsersWithRole(ctx, domain.RoleAdmin)
	if admins != 1 {
		t.Fatalf("expected one admin left, got %d", admins)
	}
}

func TestUserService_ConcurrentAdminRemovalLeavesOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rootID := env.userID(t, rootUsername)
	alice := env.register(t, "alice")
	if err := env.users.AssignRole(ctx, env.root, alice.ID, domain.RoleAdmin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{rootID, alice.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = env.users.RemoveRole(ctx, env.root, id, domain.RoleAdmin)
		}(i, id)
	}
	wg.Wait()

	var succeeded, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrLastAdmin):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || refused != 1 {
		t.Fatalf("expected one success and one refusal, got %d / %d", succeeded, refused)
	}
	admins, _ := env.store.CountDistinctUsersWithRole(ctx, domain.RoleAdmin)
	if admins != 1 {
		t.Fatalf("expected exactly one admin, got %d", admins)
	}
}

func TestUserService_DeleteUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := env.register(t, "bob")

	if err := env.users.DeleteUser(ctx, claimsFor(bob), bob.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := env.users.DeleteUser(ctx, env.root, bob.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := env.store.FindUserByID(ctx, bob.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("user should be gone")
	}
	userRole, _ := env.store.FindRoleByName(ctx, domain.RoleUser)
	members, _ := env.store.CountRoleMembers(ctx, userRole.ID)
	if members != 1 {
		t.Fatalf("expected only root to hold User, got %d members", members)
	}
	if !env.auditor.has(domain.AuditUserDeleted) {
		t.Fatalf("expected user_deleted audit event")
	}

	// The username becomes available again.
	env.register(t, "bob")
}

func TestUserService_ReusedUsernameIsNotSelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice")

	session, err := env.auth.Login(ctx, "alice", "Passw0rd!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	oldClaims, err := env.auth.Validate(session.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if oldClaims.UserID != alice.ID {
		t.Fatalf("token should carry the user id, got %q", oldClaims.UserID)
	}

	err = env.users.UpdateUser(ctx, oldClaims, alice.ID, ports.UpdateUserInput{Username: "alice2", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := env.auth.Register(ctx, "alice", "victim@example.com", "Passw0rd!"); err != nil {
		t.Fatalf("Register reused name: %v", err)
	}
	victimID := env.userID(t, "alice")

	if _, err := env.users.GetUser(ctx, oldClaims, victimID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("old token read the new alice: %v", err)
	}
	err = env.users.UpdateUser(ctx, oldClaims, victimID, ports.UpdateUserInput{Username: "taken", Email: "taken@example.com"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("old token updated the new alice: %v", err)
	}
	if _, err := env.users.GetUser(ctx, oldClaims, alice.ID); err != nil {
		t.Fatalf("old token should still reach its own record: %v", err)
	}
}

func TestUserService_DeletedAndReregisteredIsNotSelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := env.register(t, "bob")
	oldClaims := claimsFor(bob)

	if err := env.users.DeleteUser(ctx, env.root, bob.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	newBob := env.register(t, "bob")

	if _, err := env.users.GetUserRoles(ctx, oldClaims, newBob.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for the re-registered user, got %v", err)
	}
}
