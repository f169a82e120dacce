// Package users manages user accounts and their lifecycle protections.
package users

import "time"

// User represents a user account for management.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	IsApproved   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
