package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teilehub/teilehub/internal/platform/db"
	"github.com/teilehub/teilehub/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = "id, email, name, password_hash, is_active, is_approved, created_at, updated_at"

// CreateUser inserts a new, unapproved account.
func (r *Repository) CreateUser(ctx context.Context, email, name, passwordHash string) (User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, is_active, is_approved)
		 VALUES ($1, $2, $3, false, false) RETURNING `+userColumns, email, name, passwordHash)
	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, shared.FieldConflict(CodeEmailConflict, "email", fmt.Sprintf("email %q is already registered", email))
		}
		return User{}, shared.System("users: create", err)
	}
	return user, nil
}

// GetUser fetches a user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// ListUsers returns all users ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, shared.System("users: list", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.IsActive, &user.IsApproved, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, shared.System("users: scan", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.System("users: list", err)
	}
	return users, nil
}

// ApproveUser marks the account approved and active.
func (r *Repository) ApproveUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET is_approved = true, is_active = true, updated_at = now() WHERE id = $1 RETURNING `+userColumns, id)
	return scanUser(row)
}

// DeleteUser removes the account and its role/permission assignments in one
// transaction.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
			return shared.System("users: delete roles", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, id); err != nil {
			return shared.System("users: delete permissions", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return shared.System("users: delete", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFound(CodeUserNotFound, "user not found")
		}
		return nil
	})
	if err != nil {
		var de *shared.Error
		if errors.As(err, &de) {
			return err
		}
		return shared.System("users: tx", err)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.IsActive, &user.IsApproved, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.NotFound(CodeUserNotFound, "user not found")
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}
