package rbac

import "testing"

func TestGuardSystemRoleClassification(t *testing.T) {
	guard := NewGuard(DefaultGuardConfig())

	tests := []struct {
		name   string
		system bool
	}{
		{"admin", true},
		{"Admin", true},
		{"  ADMIN  ", true},
		{"manager", true},
		{"basic_user", true},
		{"user", true},
		{"editor", false},
		{"", false},
		{"admin2", false},
	}
	for _, tt := range tests {
		if got := guard.IsSystemRole(tt.name); got != tt.system {
			t.Errorf("IsSystemRole(%q) = %v, want %v", tt.name, got, tt.system)
		}
	}
}

func TestGuardCanDeleteRole(t *testing.T) {
	guard := NewGuard(DefaultGuardConfig())

	if guard.CanDeleteRole("admin") {
		t.Error("admin must not be deletable")
	}
	if guard.CanDeleteRole("MANAGER") {
		t.Error("system role check must be case-insensitive")
	}
	if !guard.CanDeleteRole("editor") {
		t.Error("custom roles must be deletable")
	}
}

func TestGuardCanRenameRole(t *testing.T) {
	guard := NewGuard(DefaultGuardConfig())

	tests := []struct {
		oldName, newName string
		allowed          bool
	}{
		{"editor", "writer", true},
		{"admin", "superadmin", false},
		{"editor", "admin", false},
		{"editor", "ADMIN", false},
		{"editor", "Editor", true},
	}
	for _, tt := range tests {
		if got := guard.CanRenameRole(tt.oldName, tt.newName); got != tt.allowed {
			t.Errorf("CanRenameRole(%q, %q) = %v, want %v", tt.oldName, tt.newName, got, tt.allowed)
		}
	}
}

func TestGuardValidateRoleOperation(t *testing.T) {
	guard := NewGuard(DefaultGuardConfig())

	tests := []struct {
		op            RoleOp
		name, newName string
		rule          Rule
	}{
		{OpDelete, "admin", "", RuleDeleteProtected},
		{OpDelete, "editor", "", ""},
		{OpRename, "admin", "boss", RuleRenameProtected},
		{OpRename, "editor", "manager", RuleNameConflict},
		{OpRename, "editor", "writer", ""},
		{OpCreate, "admin", "", RuleNameConflict},
		{OpCreate, "Admin", "", RuleNameConflict},
		{OpCreate, "editor", "", ""},
	}
	for _, tt := range tests {
		v := guard.ValidateRoleOperation(tt.op, tt.name, tt.newName)
		if tt.rule == "" {
			if v != nil {
				t.Errorf("ValidateRoleOperation(%v, %q, %q) = %v, want nil", tt.op, tt.name, tt.newName, v)
			}
			continue
		}
		if v == nil {
			t.Errorf("ValidateRoleOperation(%v, %q, %q) = nil, want rule %q", tt.op, tt.name, tt.newName, tt.rule)
			continue
		}
		if v.Rule != tt.rule {
			t.Errorf("ValidateRoleOperation(%v, %q, %q) rule = %q, want %q", tt.op, tt.name, tt.newName, v.Rule, tt.rule)
		}
		if v.Message == "" {
			t.Errorf("ValidateRoleOperation(%v, %q, %q) returned empty message", tt.op, tt.name, tt.newName)
		}
	}
}

func TestGuardCriticalPermissions(t *testing.T) {
	guard := NewGuard(DefaultGuardConfig())

	// Critical only matters for subjects holding the admin role.
	if !guard.IsCriticalPermission("manage_users", true) {
		t.Error("manage_users must be critical for an admin subject")
	}
	if guard.IsCriticalPermission("manage_users", false) {
		t.Error("manage_users must not be critical for a non-admin subject")
	}
	if guard.IsCriticalPermission("publish_posts", true) {
		t.Error("custom permissions are never critical")
	}
	if !guard.IsCriticalName("ACCESS_ADMIN_PANEL") {
		t.Error("critical set lookup must be case-insensitive")
	}
}

func TestGuardAllowedGuards(t *testing.T) {
	guard := NewGuard(DefaultGuardConfig())

	if !guard.AllowedGuard("api") || !guard.AllowedGuard("web") {
		t.Error("default guards api and web must be allowed")
	}
	if guard.AllowedGuard("console") {
		t.Error("unknown guard must be rejected")
	}
}

func TestGuardCustomConfig(t *testing.T) {
	guard := NewGuard(GuardConfig{
		SystemRoles:         []string{"root"},
		CriticalPermissions: []string{"sudo"},
		AdminRole:           "Root",
		AllowedGuards:       []string{"cli"},
	})

	if guard.AdminRole() != "root" {
		t.Errorf("AdminRole() = %q, want %q", guard.AdminRole(), "root")
	}
	if !guard.IsSystemRole("root") || guard.IsSystemRole("admin") {
		t.Error("custom system role set must replace the defaults")
	}
	if !guard.IsCriticalName("sudo") || guard.IsCriticalName("manage_users") {
		t.Error("custom critical set must replace the defaults")
	}
	if !guard.AllowedGuard("cli") || guard.AllowedGuard("api") {
		t.Error("custom guard allow-list must replace the defaults")
	}
}

func TestGuardZeroConfigFallsBackToDefaults(t *testing.T) {
	guard := NewGuard(GuardConfig{})

	if !guard.IsSystemRole("admin") {
		t.Error("empty config must fall back to default system roles")
	}
	if guard.AdminRole() != "admin" {
		t.Errorf("AdminRole() = %q, want %q", guard.AdminRole(), "admin")
	}
}
