// Package rbac implements the role and permission administration core.
package rbac

import "time"

// Role represents a high-level permission grouping scoped to a guard.
type Role struct {
	ID          int64
	Name        string
	GuardName   string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability scoped to a guard.
type Permission struct {
	ID          int64
	Name        string
	GuardName   string
	Description string
	CreatedAt   time.Time
}

// AssignResult reports the outcome of an idempotent assignment. Assigning
// something already held is a success with a note, never an error.
type AssignResult struct {
	AlreadyAssigned bool
	Note            string
}

// PermissionUsage pairs a permission with the number of roles holding it.
type PermissionUsage struct {
	Name      string
	RoleCount int
}

// PermissionStatistics aggregates read-only permission metrics.
type PermissionStatistics struct {
	Total       int
	SystemCount int
	CustomCount int
	ByGuard     map[string]int
	MostUsed    []PermissionUsage
	UnusedCount int
}
