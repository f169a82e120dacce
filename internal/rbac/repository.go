package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teilehub/teilehub/internal/platform/db"
	"github.com/teilehub/teilehub/internal/shared"
)

// TxStore exposes the persistence operations the service composes inside a
// transaction.
type TxStore interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name, guard string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, name, guard, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error

	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByName(ctx context.Context, name, guard string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	FindPermissionsByNames(ctx context.Context, names []string) ([]Permission, error)
	CreatePermission(ctx context.Context, name, guard, description string) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error

	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	AttachPermissionToRole(ctx context.Context, roleID, permissionID int64) error
	DetachPermissionFromRole(ctx context.Context, roleID, permissionID int64) error
	DetachAllPermissionsFromRole(ctx context.Context, roleID int64) error
	PermissionRoleCount(ctx context.Context, permissionID int64) (int, error)

	UserExists(ctx context.Context, userID int64) (bool, error)
	RoleUserCount(ctx context.Context, roleID int64) (int, error)
	CountUsersWithRoleName(ctx context.Context, roleName string) (int, error)
	UserHasRole(ctx context.Context, userID, roleID int64) (bool, error)
	UserHoldsRoleName(ctx context.Context, userID int64, roleName string) (bool, error)
	AssignRoleToUser(ctx context.Context, userID, roleID int64) error
	RemoveRoleFromUser(ctx context.Context, userID, roleID int64) error

	UserHasDirectPermission(ctx context.Context, userID, permissionID int64) (bool, error)
	UserDirectPermissions(ctx context.Context, userID int64) ([]Permission, error)
	AssignPermissionToUser(ctx context.Context, userID, permissionID int64) error
	RemovePermissionFromUser(ctx context.Context, userID, permissionID int64) error

	MostUsedPermissions(ctx context.Context, limit int) ([]PermissionUsage, error)
	UnusedPermissionCount(ctx context.Context) (int, error)
}

// Store is the service's persistence port: read access plus transaction
// scoping for multi-row mutations.
type Store interface {
	TxStore
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: queries{db: pool}}
}

// WithTx wraps fn in a RepeatableRead transaction; all queries issued through
// the provided TxStore run on the same connection.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, queries{db: tx})
	})
	if err != nil {
		var de *shared.Error
		if errors.As(err, &de) {
			return err
		}
		return shared.System("rbac: tx", err)
	}
	return nil
}

var _ Store = (*Repository)(nil)

// queries implements TxStore over either the pool or a transaction.
type queries struct {
	db dbtx
}

const roleColumns = "id, name, guard_name, description, created_at, updated_at"

func (q queries) GetRole(ctx context.Context, id int64) (Role, error) {
	row := q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	return scanRole(row)
}

func (q queries) GetRoleByName(ctx context.Context, name, guard string) (Role, error) {
	row := q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE lower(name) = lower($1) AND guard_name = $2`, name, guard)
	return scanRole(row)
}

func (q queries) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, shared.System("rbac: list roles", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.GuardName, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, shared.System("rbac: scan role", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.System("rbac: list roles", err)
	}
	return roles, nil
}

func (q queries) CreateRole(ctx context.Context, name, guard, description string) (Role, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO roles (name, guard_name, description) VALUES ($1, $2, $3) RETURNING `+roleColumns, name, guard, description)
	role, err := scanRole(row)
	if isUniqueViolation(err) {
		return Role{}, shared.FieldConflict(CodeNameConflict, "name", fmt.Sprintf("role %q already exists for guard %q", name, guard))
	}
	return role, err
}

func (q queries) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	row := q.db.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, updated_at = now() WHERE id = $1 RETURNING `+roleColumns, id, name, description)
	role, err := scanRole(row)
	if isUniqueViolation(err) {
		return Role{}, shared.FieldConflict(CodeNameConflict, "name", fmt.Sprintf("role %q already exists", name))
	}
	return role, err
}

func (q queries) DeleteRole(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return shared.System("rbac: delete role", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(CodeRoleNotFound, "role not found")
	}
	return nil
}

const permColumns = "id, name, guard_name, description, created_at"

func (q queries) GetPermission(ctx context.Context, id int64) (Permission, error) {
	row := q.db.QueryRow(ctx, `SELECT `+permColumns+` FROM permissions WHERE id = $1`, id)
	return scanPermission(row)
}

func (q queries) GetPermissionByName(ctx context.Context, name, guard string) (Permission, error) {
	row := q.db.QueryRow(ctx, `SELECT `+permColumns+` FROM permissions WHERE lower(name) = lower($1) AND guard_name = $2`, name, guard)
	return scanPermission(row)
}

func (q queries) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := q.db.Query(ctx, `SELECT `+permColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, shared.System("rbac: list permissions", err)
	}
	return collectPermissions(rows)
}

func (q queries) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	rows, err := q.db.Query(ctx, `SELECT `+permColumns+` FROM permissions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, shared.System("rbac: permissions by ids", err)
	}
	return collectPermissions(rows)
}

func (q queries) FindPermissionsByNames(ctx context.Context, names []string) ([]Permission, error) {
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(strings.TrimSpace(n))
	}
	rows, err := q.db.Query(ctx, `SELECT `+permColumns+` FROM permissions WHERE lower(name) = ANY($1)`, lowered)
	if err != nil {
		return nil, shared.System("rbac: permissions by names", err)
	}
	return collectPermissions(rows)
}

func (q queries) CreatePermission(ctx context.Context, name, guard, description string) (Permission, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO permissions (name, guard_name, description) VALUES ($1, $2, $3) RETURNING `+permColumns, name, guard, description)
	perm, err := scanPermission(row)
	if isUniqueViolation(err) {
		return Permission{}, shared.FieldConflict(CodeNameConflict, "name", fmt.Sprintf("permission %q already exists for guard %q", name, guard))
	}
	return perm, err
}

func (q queries) DeletePermission(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return shared.System("rbac: delete permission", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(CodePermissionNotFound, "permission not found")
	}
	return nil
}

func (q queries) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := q.db.Query(ctx,
		`SELECT p.id, p.name, p.guard_name, p.description, p.created_at
		 FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, shared.System("rbac: role permissions", err)
	}
	return collectPermissions(rows)
}

func (q queries) RoleHasPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	return q.exists(ctx, `SELECT 1 FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
}

func (q queries) AttachPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permissionID)
	if err != nil {
		return shared.System("rbac: attach permission", err)
	}
	return nil
}

func (q queries) DetachPermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return shared.System("rbac: detach permission", err)
	}
	return nil
}

func (q queries) DetachAllPermissionsFromRole(ctx context.Context, roleID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return shared.System("rbac: detach all permissions", err)
	}
	return nil
}

func (q queries) PermissionRoleCount(ctx context.Context, permissionID int64) (int, error) {
	return q.count(ctx, `SELECT count(*) FROM role_permissions WHERE permission_id = $1`, permissionID)
}

func (q queries) UserExists(ctx context.Context, userID int64) (bool, error) {
	return q.exists(ctx, `SELECT 1 FROM users WHERE id = $1`, userID)
}

func (q queries) RoleUserCount(ctx context.Context, roleID int64) (int, error) {
	return q.count(ctx, `SELECT count(*) FROM user_roles WHERE role_id = $1`, roleID)
}

func (q queries) CountUsersWithRoleName(ctx context.Context, roleName string) (int, error) {
	return q.count(ctx,
		`SELECT count(DISTINCT ur.user_id) FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE lower(r.name) = lower($1)`, roleName)
}

func (q queries) UserHasRole(ctx context.Context, userID, roleID int64) (bool, error) {
	return q.exists(ctx, `SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
}

func (q queries) UserHoldsRoleName(ctx context.Context, userID int64, roleName string) (bool, error) {
	return q.exists(ctx,
		`SELECT 1 FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = $1 AND lower(r.name) = lower($2)`, userID, roleName)
}

func (q queries) AssignRoleToUser(ctx context.Context, userID, roleID int64) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return shared.System("rbac: assign role", err)
	}
	return nil
}

func (q queries) RemoveRoleFromUser(ctx context.Context, userID, roleID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return shared.System("rbac: remove role", err)
	}
	return nil
}

func (q queries) UserHasDirectPermission(ctx context.Context, userID, permissionID int64) (bool, error) {
	return q.exists(ctx, `SELECT 1 FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
}

func (q queries) UserDirectPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	rows, err := q.db.Query(ctx,
		`SELECT p.id, p.name, p.guard_name, p.description, p.created_at
		 FROM permissions p JOIN user_permissions up ON up.permission_id = p.id
		 WHERE up.user_id = $1 ORDER BY p.name`, userID)
	if err != nil {
		return nil, shared.System("rbac: user permissions", err)
	}
	return collectPermissions(rows)
}

func (q queries) AssignPermissionToUser(ctx context.Context, userID, permissionID int64) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, permissionID)
	if err != nil {
		return shared.System("rbac: assign permission", err)
	}
	return nil
}

func (q queries) RemovePermissionFromUser(ctx context.Context, userID, permissionID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return shared.System("rbac: remove permission", err)
	}
	return nil
}

func (q queries) MostUsedPermissions(ctx context.Context, limit int) ([]PermissionUsage, error) {
	rows, err := q.db.Query(ctx,
		`SELECT p.name, count(rp.role_id) AS role_count
		 FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id
		 GROUP BY p.name ORDER BY role_count DESC, p.name LIMIT $1`, limit)
	if err != nil {
		return nil, shared.System("rbac: most used permissions", err)
	}
	defer rows.Close()
	var usages []PermissionUsage
	for rows.Next() {
		var u PermissionUsage
		if err := rows.Scan(&u.Name, &u.RoleCount); err != nil {
			return nil, shared.System("rbac: scan usage", err)
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.System("rbac: most used permissions", err)
	}
	return usages, nil
}

func (q queries) UnusedPermissionCount(ctx context.Context) (int, error) {
	return q.count(ctx,
		`SELECT count(*) FROM permissions p
		 WHERE NOT EXISTS (SELECT 1 FROM role_permissions rp WHERE rp.permission_id = p.id)
		   AND NOT EXISTS (SELECT 1 FROM user_permissions up WHERE up.permission_id = p.id)`)
}

func (q queries) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var one int
	err := q.db.QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, shared.System("rbac: exists query", err)
	}
	return true, nil
}

func (q queries) count(ctx context.Context, sql string, args ...any) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, shared.System("rbac: count query", err)
	}
	return n, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.GuardName, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NotFound(CodeRoleNotFound, "role not found")
	}
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, err
		}
		return Role{}, shared.System("rbac: scan role", err)
	}
	return role, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.GuardName, &perm.Description, &perm.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.NotFound(CodePermissionNotFound, "permission not found")
	}
	if err != nil {
		if isUniqueViolation(err) {
			return Permission{}, err
		}
		return Permission{}, shared.System("rbac: scan permission", err)
	}
	return perm, nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.GuardName, &perm.Description, &perm.CreatedAt); err != nil {
			return nil, shared.System("rbac: scan permission", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.System("rbac: collect permissions", err)
	}
	return perms, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
