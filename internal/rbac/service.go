package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teilehub/teilehub/internal/shared"
)

// Stable machine-readable error codes surfaced at the API boundary.
const (
	CodeRoleNotFound                = "role_not_found"
	CodePermissionNotFound          = "permission_not_found"
	CodeUserNotFound                = "user_not_found"
	CodeNameConflict                = "name_conflict"
	CodeInvalidGuard                = "invalid_guard"
	CodeGuardMismatch               = "guard_mismatch"
	CodeRoleProtected               = "role_protected"
	CodeRoleInUse                   = "role_in_use"
	CodeRoleNotAssigned             = "role_not_assigned"
	CodePermissionNotAssigned       = "permission_not_assigned"
	CodeCriticalPermissionProtected = "critical_permission_protected"
	CodeSystemPermissionProtected   = "system_permission_protected"
	CodePermissionInUse             = "permission_in_use"
	CodeLastAdminProtected          = "last_admin_protected"
	CodeEmptyPermissionSet          = "empty_permission_set"
)

// Service orchestrates role and permission administration. Every mutation
// touching more than one row runs inside a single transaction.
type Service struct {
	store  Store
	guard  *Guard
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(store Store, guard *Guard, logger *slog.Logger) *Service {
	return &Service{store: store, guard: guard, logger: logger}
}

// Guard exposes the protection policy for collaborators (middleware, users).
func (s *Service) Guard() *Guard { return s.guard }

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// CreateRole inserts a new role, optionally attaching permissions resolved by
// name. Attached permissions must share the role's guard.
func (s *Service) CreateRole(ctx context.Context, name, guardName, description string, permissionNames []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, shared.FieldConflict(CodeNameConflict, "name", "role name required")
	}
	if !s.guard.AllowedGuard(guardName) {
		return Role{}, shared.FieldConflict(CodeInvalidGuard, "guard_name", fmt.Sprintf("guard %q is not allowed", guardName))
	}
	if v := s.guard.ValidateRoleOperation(OpCreate, name, ""); v != nil {
		return Role{}, shared.FieldConflict(CodeNameConflict, "name", v.Message)
	}

	var created Role
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.CreateRole(ctx, name, guardName, strings.TrimSpace(description))
		if err != nil {
			return err
		}
		if len(permissionNames) > 0 {
			perms, err := resolvePermissionsByName(ctx, tx, permissionNames, guardName)
			if err != nil {
				return err
			}
			for _, perm := range perms {
				if err := tx.AttachPermissionToRole(ctx, role.ID, perm.ID); err != nil {
					return err
				}
			}
		}
		created = role
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

// UpdateRoleParams carries optional role mutations. Nil fields are left
// untouched; PermissionIDs, when present, replaces the full permission set.
type UpdateRoleParams struct {
	Name               *string
	Description        *string
	PermissionIDs      []int64
	ReplacePermissions bool
}

// UpdateRole applies params to the role. Renames are checked against the
// protection policy and surface as field-level validation errors on "name".
// Permission replacement is a full sync diff executed in the same transaction.
func (s *Service) UpdateRole(ctx context.Context, id int64, params UpdateRoleParams) (Role, error) {
	var updated Role
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		name := role.Name
		if params.Name != nil && strings.TrimSpace(*params.Name) != role.Name {
			name = strings.TrimSpace(*params.Name)
			if name == "" {
				return shared.FieldConflict(CodeNameConflict, "name", "role name required")
			}
			if v := s.guard.ValidateRoleOperation(OpRename, role.Name, name); v != nil {
				code := CodeNameConflict
				if v.Rule == RuleRenameProtected {
					code = CodeRoleProtected
				}
				return shared.FieldConflict(code, "name", v.Message)
			}
		}
		description := role.Description
		if params.Description != nil {
			description = strings.TrimSpace(*params.Description)
		}
		role, err = tx.UpdateRole(ctx, id, name, description)
		if err != nil {
			return err
		}
		if params.ReplacePermissions {
			if err := syncRolePermissions(ctx, tx, role, params.PermissionIDs); err != nil {
				return err
			}
		}
		updated = role
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a role. System roles and roles still held by users are
// refused.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if !s.guard.CanDeleteRole(role.Name) {
			return shared.Conflict(CodeRoleProtected, fmt.Sprintf("role %q is a system role and cannot be deleted", role.Name))
		}
		holders, err := tx.RoleUserCount(ctx, role.ID)
		if err != nil {
			return err
		}
		if holders > 0 {
			return shared.Conflict(CodeRoleInUse, fmt.Sprintf("role %q is assigned to %d user(s)", role.Name, holders))
		}
		if err := tx.DetachAllPermissionsFromRole(ctx, role.ID); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, role.ID)
	})
}

// AssignPermissionToRole attaches a permission to a role. Assigning a
// permission the role already has succeeds with a note.
func (s *Service) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64) (AssignResult, error) {
	var result AssignResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		perm, err := tx.GetPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		if role.GuardName != perm.GuardName {
			return shared.Conflict(CodeGuardMismatch,
				fmt.Sprintf("permission %q belongs to guard %q, role %q to guard %q", perm.Name, perm.GuardName, role.Name, role.GuardName))
		}
		has, err := tx.RoleHasPermission(ctx, role.ID, perm.ID)
		if err != nil {
			return err
		}
		if has {
			result = AssignResult{AlreadyAssigned: true, Note: fmt.Sprintf("role %q already has permission %q", role.Name, perm.Name)}
			return nil
		}
		result = AssignResult{}
		return tx.AttachPermissionToRole(ctx, role.ID, perm.ID)
	})
	if err != nil {
		return AssignResult{}, err
	}
	return result, nil
}

// RemovePermissionFromRole detaches a permission. Detaching a critical
// permission from the admin role is refused.
func (s *Service) RemovePermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		perm, err := tx.GetPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		has, err := tx.RoleHasPermission(ctx, role.ID, perm.ID)
		if err != nil {
			return err
		}
		if !has {
			return shared.Conflict(CodePermissionNotAssigned, fmt.Sprintf("role %q does not have permission %q", role.Name, perm.Name))
		}
		isAdminRole := normalize(role.Name) == s.guard.AdminRole()
		if s.guard.IsCriticalPermission(perm.Name, isAdminRole) {
			return shared.BusinessRule(CodeCriticalPermissionProtected,
				fmt.Sprintf("permission %q is critical and cannot be removed from the %s role", perm.Name, role.Name))
		}
		return tx.DetachPermissionFromRole(ctx, role.ID, perm.ID)
	})
}

// RemoveAllPermissionsFromRole strips the role's entire permission set.
// Bulk-strip is never allowed on system roles, the admin role included.
func (s *Service) RemoveAllPermissionsFromRole(ctx context.Context, roleID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if s.guard.IsProtectedRole(role.Name) {
			return shared.Conflict(CodeRoleProtected, fmt.Sprintf("all permissions cannot be removed from system role %q", role.Name))
		}
		return tx.DetachAllPermissionsFromRole(ctx, role.ID)
	})
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GetPermission fetches a permission by ID.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.store.GetPermission(ctx, id)
}

// RolePermissions lists the permissions attached to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.RolePermissions(ctx, roleID)
}

// CreatePermission inserts a new permission under an allowed guard.
func (s *Service) CreatePermission(ctx context.Context, name, guardName, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, shared.FieldConflict(CodeNameConflict, "name", "permission name required")
	}
	if !s.guard.AllowedGuard(guardName) {
		return Permission{}, shared.FieldConflict(CodeInvalidGuard, "guard_name", fmt.Sprintf("guard %q is not allowed", guardName))
	}
	return s.store.CreatePermission(ctx, name, guardName, strings.TrimSpace(description))
}

// ClonePermission copies the source permission's guard and metadata under a
// new unique name. An empty description inherits the source's.
func (s *Service) ClonePermission(ctx context.Context, sourceID int64, newName, description string) (Permission, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return Permission{}, shared.FieldConflict(CodeNameConflict, "name", "permission name required")
	}
	var cloned Permission
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		source, err := tx.GetPermission(ctx, sourceID)
		if err != nil {
			return err
		}
		if description == "" {
			description = source.Description
		}
		cloned, err = tx.CreatePermission(ctx, newName, source.GuardName, description)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	return cloned, nil
}

// DeletePermission removes a permission. Critical-set permissions and
// permissions still attached to roles are refused.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		perm, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if s.guard.IsCriticalName(perm.Name) {
			return shared.Conflict(CodeSystemPermissionProtected, fmt.Sprintf("permission %q is a system permission and cannot be deleted", perm.Name))
		}
		attached, err := tx.PermissionRoleCount(ctx, perm.ID)
		if err != nil {
			return err
		}
		if attached > 0 {
			return shared.Conflict(CodePermissionInUse, fmt.Sprintf("permission %q is assigned to %d role(s)", perm.Name, attached))
		}
		return tx.DeletePermission(ctx, perm.ID)
	})
}

// AssignRoleToUser grants a role to a user, idempotently.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID int64) (AssignResult, error) {
	var result AssignResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		has, err := tx.UserHasRole(ctx, userID, role.ID)
		if err != nil {
			return err
		}
		if has {
			result = AssignResult{AlreadyAssigned: true, Note: fmt.Sprintf("user already has role %q", role.Name)}
			return nil
		}
		result = AssignResult{}
		return tx.AssignRoleToUser(ctx, userID, role.ID)
	})
	if err != nil {
		return AssignResult{}, err
	}
	return result, nil
}

// RemoveRoleFromUser revokes a role. Removing the admin role from its sole
// holder is refused: the count is taken at removal time inside the same
// transaction.
func (s *Service) RemoveRoleFromUser(ctx context.Context, userID, roleID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		has, err := tx.UserHasRole(ctx, userID, role.ID)
		if err != nil {
			return err
		}
		if !has {
			return shared.Conflict(CodeRoleNotAssigned, fmt.Sprintf("user does not have role %q", role.Name))
		}
		if normalize(role.Name) == s.guard.AdminRole() {
			holders, err := tx.CountUsersWithRoleName(ctx, s.guard.AdminRole())
			if err != nil {
				return err
			}
			if holders <= 1 {
				return shared.BusinessRule(CodeLastAdminProtected, "cannot remove the admin role from its last remaining holder")
			}
		}
		return tx.RemoveRoleFromUser(ctx, userID, role.ID)
	})
}

// AssignPermissionToUser grants a direct permission, idempotently.
func (s *Service) AssignPermissionToUser(ctx context.Context, userID, permissionID int64) (AssignResult, error) {
	var result AssignResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		perm, err := tx.GetPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		has, err := tx.UserHasDirectPermission(ctx, userID, perm.ID)
		if err != nil {
			return err
		}
		if has {
			result = AssignResult{AlreadyAssigned: true, Note: fmt.Sprintf("user already has permission %q", perm.Name)}
			return nil
		}
		result = AssignResult{}
		return tx.AssignPermissionToUser(ctx, userID, perm.ID)
	})
	if err != nil {
		return AssignResult{}, err
	}
	return result, nil
}

// RemovePermissionFromUser revokes a direct permission. Critical permissions
// cannot be removed from a subject holding the admin role.
func (s *Service) RemovePermissionFromUser(ctx context.Context, userID, permissionID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		perm, err := tx.GetPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		has, err := tx.UserHasDirectPermission(ctx, userID, perm.ID)
		if err != nil {
			return err
		}
		if !has {
			return shared.Conflict(CodePermissionNotAssigned, fmt.Sprintf("user does not have permission %q", perm.Name))
		}
		isAdmin, err := tx.UserHoldsRoleName(ctx, userID, s.guard.AdminRole())
		if err != nil {
			return err
		}
		if s.guard.IsCriticalPermission(perm.Name, isAdmin) {
			return shared.BusinessRule(CodeCriticalPermissionProtected,
				fmt.Sprintf("permission %q is critical and cannot be removed from an admin user", perm.Name))
		}
		return tx.RemovePermissionFromUser(ctx, userID, perm.ID)
	})
}

// UserDirectPermissions lists permissions granted to the user bypassing roles.
func (s *Service) UserDirectPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	if err := requireUser(ctx, s.store, userID); err != nil {
		return nil, err
	}
	return s.store.UserDirectPermissions(ctx, userID)
}

// PermissionStatistics aggregates permission metrics. Pure read, no mutation.
func (s *Service) PermissionStatistics(ctx context.Context) (PermissionStatistics, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return PermissionStatistics{}, err
	}
	stats := PermissionStatistics{Total: len(perms), ByGuard: map[string]int{}}
	for _, perm := range perms {
		stats.ByGuard[perm.GuardName]++
		if s.guard.IsCriticalName(perm.Name) {
			stats.SystemCount++
		} else {
			stats.CustomCount++
		}
	}
	stats.MostUsed, err = s.store.MostUsedPermissions(ctx, 10)
	if err != nil {
		return PermissionStatistics{}, err
	}
	stats.UnusedCount, err = s.store.UnusedPermissionCount(ctx)
	if err != nil {
		return PermissionStatistics{}, err
	}
	return stats, nil
}

// syncRolePermissions replaces the role's permission set with the given ids
// using a remove-then-add diff. The set must be non-empty and every id must
// exist and share the role's guard.
func syncRolePermissions(ctx context.Context, tx TxStore, role Role, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return shared.FieldConflict(CodeEmptyPermissionSet, "permission_ids", "permission set must not be empty; use the remove-all endpoint to strip a role")
	}
	perms, err := tx.PermissionsByIDs(ctx, permissionIDs)
	if err != nil {
		return err
	}
	found := make(map[int64]Permission, len(perms))
	for _, perm := range perms {
		found[perm.ID] = perm
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		perm, ok := found[id]
		if !ok {
			return shared.NotFound(CodePermissionNotFound, fmt.Sprintf("permission id %d does not exist", id))
		}
		if perm.GuardName != role.GuardName {
			return shared.Conflict(CodeGuardMismatch,
				fmt.Sprintf("permission %q belongs to guard %q, role %q to guard %q", perm.Name, perm.GuardName, role.Name, role.GuardName))
		}
		keep[id] = struct{}{}
	}
	existing, err := tx.RolePermissions(ctx, role.ID)
	if err != nil {
		return err
	}
	current := make(map[int64]struct{}, len(existing))
	for _, perm := range existing {
		current[perm.ID] = struct{}{}
		if _, ok := keep[perm.ID]; !ok {
			if err := tx.DetachPermissionFromRole(ctx, role.ID, perm.ID); err != nil {
				return err
			}
		}
	}
	for id := range keep {
		if _, ok := current[id]; !ok {
			if err := tx.AttachPermissionToRole(ctx, role.ID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolvePermissionsByName maps names to permissions under the given guard.
// A name found only under a different guard is a guard mismatch; an unknown
// name is not found.
func resolvePermissionsByName(ctx context.Context, tx TxStore, names []string, guardName string) ([]Permission, error) {
	matches, err := tx.FindPermissionsByNames(ctx, names)
	if err != nil {
		return nil, err
	}
	byName := make(map[string][]Permission)
	for _, perm := range matches {
		key := normalize(perm.Name)
		byName[key] = append(byName[key], perm)
	}
	resolved := make([]Permission, 0, len(names))
	for _, name := range names {
		candidates := byName[normalize(name)]
		if len(candidates) == 0 {
			return nil, shared.NotFound(CodePermissionNotFound, fmt.Sprintf("permission %q does not exist", name))
		}
		var picked *Permission
		for i := range candidates {
			if candidates[i].GuardName == guardName {
				picked = &candidates[i]
				break
			}
		}
		if picked == nil {
			return nil, shared.Conflict(CodeGuardMismatch,
				fmt.Sprintf("permission %q belongs to guard %q, expected %q", name, candidates[0].GuardName, guardName))
		}
		resolved = append(resolved, *picked)
	}
	return resolved, nil
}

func requireUser(ctx context.Context, tx TxStore, userID int64) error {
	exists, err := tx.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return shared.NotFound(CodeUserNotFound, fmt.Sprintf("user %d does not exist", userID))
	}
	return nil
}
