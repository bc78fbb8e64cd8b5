package service

import "github.com/99minutos/identity-system/internal/core/domain"

// RoleInvariantGuard decides whether a role-mutating operation may be
// committed. It is pure: callers load the state it needs inside the same
// transaction that applies the change.
type RoleInvariantGuard struct{}

func NewRoleInvariantGuard() RoleInvariantGuard {
	return RoleInvariantGuard{}
}

// CanDeleteRole is false for system roles and for roles with members.
func (RoleInvariantGuard) CanDeleteRole(role *domain.Role, memberCount int) bool {
	return !role.IsSystemRole() && memberCount == 0
}

// CheckDeleteRole is CanDeleteRole with the reason attached.
func (g RoleInvariantGuard) CheckDeleteRole(role *domain.Role, memberCount int) error {
	if role.IsSystemRole() {
		return domain.ErrSystemRoleProtected
	}
	if memberCount > 0 {
		return domain.ErrRoleHasMembers
	}
	return nil
}

// CanRenameOrDescribe refuses any update to a system role and any rename
// onto a name already owned by another role. holder is the role currently
// named newName, or nil.
func (RoleInvariantGuard) CanRenameOrDescribe(role *domain.Role, newName string, holder *domain.Role) error {
	if role.IsSystemRole() {
		return domain.ErrSystemRoleProtected
	}
	if holder != nil && holder.ID != role.ID && holder.Name == newName {
		return domain.ErrDuplicateRoleName
	}
	return nil
}

// CanRemoveRole refuses to strip Admin from the only user holding it.
// adminCount is the number of distinct users currently holding Admin.
func (RoleInvariantGuard) CanRemoveRole(user *domain.User, roleName string, adminCount int) error {
	if roleName != domain.RoleAdmin {
		return nil
	}
	if adminCount == 1 && user.HasRole(domain.RoleAdmin) {
		return domain.ErrLastAdmin
	}
	return nil
}

// CanAssignRole is false when the user already holds role, in which case
// assignment is a no-op.
func (RoleInvariantGuard) CanAssignRole(user *domain.User, role *domain.Role) bool {
	return !user.HasRole(role.Name)
}
