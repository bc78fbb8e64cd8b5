// Package memory is an in-process UserRoleStore. Transactions are fully
// serialized and roll back on error. It backs the tests and single-instance
// development runs.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

type txKey struct{}

// Store implements ports.UserRoleStore.
type Store struct {
	mu sync.Mutex

	users       map[string]*domain.User // Roles left empty; derived from memberships
	roles       map[string]*domain.Role
	memberships map[string]map[string]struct{} // user id -> role ids
}

var _ ports.UserRoleStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		users:       make(map[string]*domain.User),
		roles:       make(map[string]*domain.Role),
		memberships: make(map[string]map[string]struct{}),
	}
}

// WithTx holds the store lock for the whole of fn. Nested calls with txCtx
// join the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// run executes fn under the lock unless ctx already holds it.
func (s *Store) run(ctx context.Context, fn func() error) error {
	if s.inTx(ctx) {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type snapshot struct {
	users       map[string]*domain.User
	roles       map[string]*domain.Role
	memberships map[string]map[string]struct{}
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		users:       make(map[string]*domain.User, len(s.users)),
		roles:       make(map[string]*domain.Role, len(s.roles)),
		memberships: make(map[string]map[string]struct{}, len(s.memberships)),
	}
	for id, u := range s.users {
		snap.users[id] = u.Clone()
	}
	for id, r := range s.roles {
		c := *r
		snap.roles[id] = &c
	}
	for id, set := range s.memberships {
		snap.memberships[id] = maps.Clone(set)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.users = snap.users
	s.roles = snap.roles
	s.memberships = snap.memberships
}

// ── users ─────────────────────────────────────────────────────────────────────

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findUser(ctx, func(u *domain.User) bool { return u.Username == username })
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	var out *domain.User
	err := s.run(ctx, func() error {
		u, ok := s.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		out = s.view(u)
		return nil
	})
	return out, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, func(u *domain.User) bool { return u.Email == email })
}

func (s *Store) findUser(ctx context.Context, match func(*domain.User) bool) (*domain.User, error) {
	var out *domain.User
	err := s.run(ctx, func() error {
		for _, u := range s.users {
			if match(u) {
				out = s.view(u)
				return nil
			}
		}
		return domain.ErrUserNotFound
	})
	return out, err
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var out []*domain.User
	err := s.run(ctx, func() error {
		out = make([]*domain.User, 0, len(s.users))
		for _, u := range s.users {
			out = append(out, s.view(u))
		}
		sortUsers(out)
		return nil
	})
	return out, err
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	return s.run(ctx, func() error {
		if _, exists := s.users[user.ID]; exists {
			return domain.ErrConflict
		}
		if err := s.checkUserUnique(user); err != nil {
			return err
		}
		stored := user.Clone()
		stored.Roles = nil
		s.users[stored.ID] = stored
		return nil
	})
}

func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	return s.run(ctx, func() error {
		if _, ok := s.users[user.ID]; !ok {
			return domain.ErrUserNotFound
		}
		if err := s.checkUserUnique(user); err != nil {
			return err
		}
		stored := user.Clone()
		stored.Roles = nil
		s.users[stored.ID] = stored
		return nil
	})
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.run(ctx, func() error {
		if _, ok := s.users[id]; !ok {
			return domain.ErrUserNotFound
		}
		delete(s.users, id)
		delete(s.memberships, id)
		return nil
	})
}

// checkUserUnique mirrors the unique indexes of the persistent store.
func (s *Store) checkUserUnique(user *domain.User) error {
	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if u.Username == user.Username {
			return domain.ErrDuplicateUsername
		}
		if u.Email == user.Email {
			return domain.ErrDuplicateEmail
		}
	}
	return nil
}

// view returns a copy of u with Roles filled from memberships.
func (s *Store) view(u *domain.User) *domain.User {
	out := u.Clone()
	out.Roles = make([]string, 0, len(s.memberships[u.ID]))
	for roleID := range s.memberships[u.ID] {
		if r, ok := s.roles[roleID]; ok {
			out.Roles = append(out.Roles, r.Name)
		}
	}
	slices.Sort(out.Roles)
	return out
}

// ── roles ─────────────────────────────────────────────────────────────────────

func (s *Store) FindRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	var out *domain.Role
	err := s.run(ctx, func() error {
		for _, r := range s.roles {
			if r.Name == name {
				c := *r
				out = &c
				return nil
			}
		}
		return domain.ErrRoleNotFound
	})
	return out, err
}

func (s *Store) FindRoleByID(ctx context.Context, id string) (*domain.Role, error) {
	var out *domain.Role
	err := s.run(ctx, func() error {
		r, ok := s.roles[id]
		if !ok {
			return domain.ErrRoleNotFound
		}
		c := *r
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	var out []*domain.Role
	err := s.run(ctx, func() error {
		out = make([]*domain.Role, 0, len(s.roles))
		for _, r := range s.roles {
			c := *r
			out = append(out, &c)
		}
		slices.SortFunc(out, func(a, b *domain.Role) int { return cmp.Compare(a.Name, b.Name) })
		return nil
	})
	return out, err
}

func (s *Store) CreateRole(ctx context.Context, role *domain.Role) error {
	return s.run(ctx, func() error {
		if _, exists := s.roles[role.ID]; exists {
			return domain.ErrConflict
		}
		if s.roleNameTaken(role.Name, role.ID) {
			return domain.ErrDuplicateRoleName
		}
		c := *role
		s.roles[c.ID] = &c
		return nil
	})
}

func (s *Store) UpdateRole(ctx context.Context, role *domain.Role) error {
	return s.run(ctx, func() error {
		if _, ok := s.roles[role.ID]; !ok {
			return domain.ErrRoleNotFound
		}
		if s.roleNameTaken(role.Name, role.ID) {
			return domain.ErrDuplicateRoleName
		}
		c := *role
		s.roles[c.ID] = &c
		return nil
	})
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.run(ctx, func() error {
		if _, ok := s.roles[id]; !ok {
			return domain.ErrRoleNotFound
		}
		delete(s.roles, id)
		for _, set := range s.memberships {
			delete(set, id)
		}
		return nil
	})
}

func (s *Store) roleNameTaken(name, exceptID string) bool {
	for id, r := range s.roles {
		if id != exceptID && r.Name == name {
			return true
		}
	}
	return false
}

// ── memberships ───────────────────────────────────────────────────────────────

func (s *Store) AddMembership(ctx context.Context, userID, roleID string) error {
	return s.run(ctx, func() error {
		if _, ok := s.users[userID]; !ok {
			return domain.ErrUserNotFound
		}
		if _, ok := s.roles[roleID]; !ok {
			return domain.ErrRoleNotFound
		}
		set, ok := s.memberships[userID]
		if !ok {
			set = make(map[string]struct{})
			s.memberships[userID] = set
		}
		set[roleID] = struct{}{}
		return nil
	})
}

func (s *Store) RemoveMembership(ctx context.Context, userID, roleID string) error {
	return s.run(ctx, func() error {
		set := s.memberships[userID]
		if _, ok := set[roleID]; !ok {
			return domain.ErrMembershipNotFound
		}
		delete(set, roleID)
		return nil
	})
}

func (s *Store) ListRoleMembers(ctx context.Context, roleID string) ([]*domain.User, error) {
	var out []*domain.User
	err := s.run(ctx, func() error {
		out = make([]*domain.User, 0)
		for userID, set := range s.memberships {
			if _, ok := set[roleID]; !ok {
				continue
			}
			if u, ok := s.users[userID]; ok {
				out = append(out, s.view(u))
			}
		}
		sortUsers(out)
		return nil
	})
	return out, err
}

func (s *Store) CountRoleMembers(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.run(ctx, func() error {
		n = s.countMembers(roleID)
		return nil
	})
	return n, err
}

func (s *Store) CountDistinctUsersWithRole(ctx context.Context, roleName string) (int, error) {
	var n int
	err := s.run(ctx, func() error {
		for id, r := range s.roles {
			if r.Name == roleName {
				n = s.countMembers(id)
				return nil
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) countMembers(roleID string) int {
	n := 0
	for userID, set := range s.memberships {
		if _, ok := set[roleID]; !ok {
			continue
		}
		if _, ok := s.users[userID]; ok {
			n++
		}
	}
	return n
}

func sortUsers(users []*domain.User) {
	slices.SortFunc(users, func(a, b *domain.User) int { return cmp.Compare(a.Username, b.Username) })
}
