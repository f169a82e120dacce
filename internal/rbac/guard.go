package rbac

import (
	"fmt"
	"strings"
)

// RoleOp enumerates role operations checked by the guard.
type RoleOp string

const (
	OpCreate RoleOp = "create"
	OpRename RoleOp = "rename"
	OpDelete RoleOp = "delete"
)

// Rule identifies which protection rule rejected an operation.
type Rule string

const (
	RuleDeleteProtected Rule = "delete_protected"
	RuleRenameProtected Rule = "rename_protected"
	RuleNameConflict    Rule = "name_conflict"
)

// RuleViolation carries the failed rule and a deterministic human message.
type RuleViolation struct {
	Rule    Rule
	Message string
}

// GuardConfig parameterises the protection policy. All sets are injected so
// every call site shares one source of truth.
type GuardConfig struct {
	SystemRoles         []string
	CriticalPermissions []string
	AdminRole           string
	AllowedGuards       []string
}

// DefaultGuardConfig returns the platform defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		SystemRoles:         []string{"admin", "manager", "basic_user", "user"},
		CriticalPermissions: []string{"manage_users", "manage_roles", "manage_permissions", "view_roles", "view_permissions", "access_admin_panel"},
		AdminRole:           "admin",
		AllowedGuards:       []string{"api", "web"},
	}
}

// Guard is the pure, stateless protection policy over role and permission
// names. It performs no I/O.
type Guard struct {
	system   map[string]struct{}
	critical map[string]struct{}
	guards   map[string]struct{}
	admin    string
}

// NewGuard builds a Guard from the given configuration, normalising names.
// Zero-value fields fall back to the defaults.
func NewGuard(cfg GuardConfig) *Guard {
	def := DefaultGuardConfig()
	if len(cfg.SystemRoles) == 0 {
		cfg.SystemRoles = def.SystemRoles
	}
	if len(cfg.CriticalPermissions) == 0 {
		cfg.CriticalPermissions = def.CriticalPermissions
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = def.AdminRole
	}
	if len(cfg.AllowedGuards) == 0 {
		cfg.AllowedGuards = def.AllowedGuards
	}
	return &Guard{
		system:   toSet(cfg.SystemRoles),
		critical: toSet(cfg.CriticalPermissions),
		guards:   toSet(cfg.AllowedGuards),
		admin:    normalize(cfg.AdminRole),
	}
}

// AdminRole returns the configured admin role name, the single source of
// truth for last-admin counting.
func (g *Guard) AdminRole() string { return g.admin }

// IsSystemRole reports whether name belongs to the configured system set.
func (g *Guard) IsSystemRole(name string) bool {
	_, ok := g.system[normalize(name)]
	return ok
}

// IsProtectedRole reports whether the role is protected from destructive
// operations. Currently equivalent to IsSystemRole; kept distinct so future
// protection classes do not ripple through call sites.
func (g *Guard) IsProtectedRole(name string) bool {
	return g.IsSystemRole(name)
}

// CanDeleteRole reports whether a role with this name may be deleted.
func (g *Guard) CanDeleteRole(name string) bool {
	return !g.IsProtectedRole(name)
}

// CanRenameRole reports whether oldName may be renamed to newName. System
// roles are immutable by name, and no role may adopt a system name.
func (g *Guard) CanRenameRole(oldName, newName string) bool {
	if g.IsProtectedRole(oldName) {
		return false
	}
	if g.IsSystemRole(newName) && normalize(newName) != normalize(oldName) {
		return false
	}
	return true
}

// ValidateRoleOperation checks op against the protection rules and returns a
// violation identifying which rule failed, or nil when permitted. newName is
// only consulted for rename.
func (g *Guard) ValidateRoleOperation(op RoleOp, name, newName string) *RuleViolation {
	switch op {
	case OpDelete:
		if g.IsProtectedRole(name) {
			return &RuleViolation{Rule: RuleDeleteProtected, Message: fmt.Sprintf("role %q is a system role and cannot be deleted", name)}
		}
	case OpRename:
		if g.IsProtectedRole(name) {
			return &RuleViolation{Rule: RuleRenameProtected, Message: fmt.Sprintf("role %q is a system role and cannot be renamed", name)}
		}
		if g.IsSystemRole(newName) && normalize(newName) != normalize(name) {
			return &RuleViolation{Rule: RuleNameConflict, Message: fmt.Sprintf("role name %q is reserved for a system role", newName)}
		}
	case OpCreate:
		if g.IsSystemRole(name) {
			return &RuleViolation{Rule: RuleNameConflict, Message: fmt.Sprintf("role name %q is reserved for a system role", name)}
		}
	}
	return nil
}

// IsCriticalPermission reports whether removing the named permission from a
// subject holding the admin role would break administrative capability.
func (g *Guard) IsCriticalPermission(name string, subjectHasAdminRole bool) bool {
	if !subjectHasAdminRole {
		return false
	}
	return g.IsCriticalName(name)
}

// IsCriticalName reports membership in the critical-permission set,
// independent of any subject. Used to classify system permissions.
func (g *Guard) IsCriticalName(name string) bool {
	_, ok := g.critical[normalize(name)]
	return ok
}

// AllowedGuard reports whether the guard name is in the allow-list.
func (g *Guard) AllowedGuard(guard string) bool {
	_, ok := g.guards[normalize(guard)]
	return ok
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = normalize(n)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
