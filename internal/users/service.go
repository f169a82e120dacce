package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/teilehub/teilehub/internal/shared"
)

// Stable machine-readable error codes surfaced at the API boundary.
const (
	CodeUserNotFound          = "user_not_found"
	CodeEmailConflict         = "email_conflict"
	CodeSelfDeletionProtected = "self_deletion_protected"
	CodeLastAdminProtected    = "last_admin_protected"
	CodePrimaryAdminProtected = "primary_admin_protected"
	CodeAlreadyApproved       = "already_approved"
	CodeWeakPassword          = "weak_password"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	CreateUser(ctx context.Context, email, name, passwordHash string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ApproveUser(ctx context.Context, id int64) (User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// AdminLookup answers admin-role membership questions. Implemented by the
// rbac repository so the admin role name has a single source of truth.
type AdminLookup interface {
	UserHoldsRoleName(ctx context.Context, userID int64, roleName string) (bool, error)
	CountUsersWithRoleName(ctx context.Context, roleName string) (int, error)
}

// Notifier hands notification mails to the background queue.
type Notifier interface {
	EnqueueMail(ctx context.Context, to, subject, body string) error
}

// Service handles user business logic.
type Service struct {
	repo              RepositoryPort
	admins            AdminLookup
	notifier          Notifier
	adminRole         string
	primaryAdminEmail string
	logger            *slog.Logger
}

// Config collects Service dependencies.
type Config struct {
	Repo              RepositoryPort
	Admins            AdminLookup
	Notifier          Notifier
	AdminRole         string
	PrimaryAdminEmail string
	Logger            *slog.Logger
}

// NewService builds Service instance.
func NewService(cfg Config) *Service {
	if cfg.AdminRole == "" {
		cfg.AdminRole = "admin"
	}
	return &Service{
		repo:              cfg.Repo,
		admins:            cfg.Admins,
		notifier:          cfg.Notifier,
		adminRole:         cfg.AdminRole,
		primaryAdminEmail: strings.ToLower(strings.TrimSpace(cfg.PrimaryAdminEmail)),
		logger:            cfg.Logger,
	}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser fetches one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// Register creates an inactive, unapproved account with a bcrypt-hashed
// password.
func (s *Service) Register(ctx context.Context, email, name, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if len(password) < 8 {
		return User{}, shared.FieldConflict(CodeWeakPassword, "password", "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, shared.System("users: hash password", err)
	}
	return s.repo.CreateUser(ctx, email, name, string(hash))
}

// Approve activates a pending account and notifies its owner.
func (s *Service) Approve(ctx context.Context, id int64) (User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if user.IsApproved {
		return User{}, shared.Conflict(CodeAlreadyApproved, fmt.Sprintf("user %q is already approved", user.Email))
	}
	user, err = s.repo.ApproveUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if s.notifier != nil {
		if err := s.notifier.EnqueueMail(ctx, user.Email, "Your account has been approved",
			fmt.Sprintf("Hello %s,\n\nyour account is now active.\n", user.Name)); err != nil {
			s.logger.Warn("approve notification", slog.Any("error", err))
		}
	}
	return user, nil
}

// Delete removes an account. A user may not delete itself, the last
// admin-role holder may not be deleted, and the configured primary admin
// account may never be deleted.
func (s *Service) Delete(ctx context.Context, actorID, targetID int64) error {
	if actorID == targetID {
		return shared.BusinessRule(CodeSelfDeletionProtected, "you cannot delete your own account")
	}
	target, err := s.repo.GetUser(ctx, targetID)
	if err != nil {
		return err
	}
	if s.primaryAdminEmail != "" && strings.ToLower(target.Email) == s.primaryAdminEmail {
		return shared.BusinessRule(CodePrimaryAdminProtected, "the primary admin account cannot be deleted")
	}
	isAdmin, err := s.admins.UserHoldsRoleName(ctx, targetID, s.adminRole)
	if err != nil {
		return err
	}
	if isAdmin {
		holders, err := s.admins.CountUsersWithRoleName(ctx, s.adminRole)
		if err != nil {
			return err
		}
		if holders <= 1 {
			return shared.BusinessRule(CodeLastAdminProtected, "cannot delete the last remaining admin user")
		}
	}
	return s.repo.DeleteUser(ctx, targetID)
}
