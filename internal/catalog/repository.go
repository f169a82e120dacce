package catalog

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

// Stable machine-readable error codes surfaced at the API boundary.
const (
	CodeRecordNotFound   = "record_not_found"
	CodeDuplicateKey     = "duplicate_key"
	CodeRecordNotDeleted = "record_not_deleted"
	CodeInvalidRecord    = "invalid_record"
)

// TxStore exposes the write operations the import pipeline batches inside a
// transaction.
type TxStore interface {
	FindIDByKey(ctx context.Context, key string) (int64, bool, error)
	Insert(ctx context.Context, rec DapartoRecord) (int64, error)
	UpdateByID(ctx context.Context, id int64, rec DapartoRecord) error
}

// Store is the pipeline's persistence port.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence with soft deletes.
type Repository struct {
	pool *pgxpool.Pool
	writer
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, writer: writer{db: pool}}
}

// WithTx wraps fn in a RepeatableRead transaction. The import pipeline runs
// one transaction per batch through this.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, writer{db: tx})
	})
	if err != nil {
		var de *shared.Error
		if errors.As(err, &de) {
			return err
		}
		return shared.System("catalog: tx", err)
	}
	return nil
}

var _ Store = (*Repository)(nil)

const recordColumns = "id, interne_artikelnummer, preis, zustand, tiltle, teilemarke_teilenummer, pfand, versandklasse, lieferzeit, created_at, updated_at, deleted_at"

// GetRecord fetches a record by ID, tombstones included.
func (r *Repository) GetRecord(ctx context.Context, id int64) (DapartoRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM daparto_records WHERE id = $1`, id)
	return scanRecord(row)
}

// GetRecordByKey fetches a live record by its business key.
func (r *Repository) GetRecordByKey(ctx context.Context, key string) (DapartoRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM daparto_records WHERE interne_artikelnummer = $1 AND deleted_at IS NULL`, key)
	return scanRecord(row)
}

// ListRecords returns live records ordered by business key.
func (r *Repository) ListRecords(ctx context.Context, limit, offset int) ([]DapartoRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM daparto_records WHERE deleted_at IS NULL ORDER BY interne_artikelnummer LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, shared.System("catalog: list", err)
	}
	defer rows.Close()
	var records []DapartoRecord
	for rows.Next() {
		rec, err := scanRecordFromRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.System("catalog: list", err)
	}
	return records, nil
}

// SoftDelete tombstones a live record. The normal API never hard-deletes.
func (r *Repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE daparto_records SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return shared.System("catalog: soft delete", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(CodeRecordNotFound, "record not found")
	}
	return nil
}

// Restore clears a record's tombstone, returning it to a state
// indistinguishable from pre-deletion.
func (r *Repository) Restore(ctx context.Context, id int64) (DapartoRecord, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE daparto_records SET deleted_at = NULL, updated_at = now() WHERE id = $1 AND deleted_at IS NOT NULL RETURNING `+recordColumns, id)
	rec, err := scanRecord(row)
	if shared.IsNotFound(err) {
		// Distinguish a missing record from one that is simply not deleted.
		if _, getErr := r.GetRecord(ctx, id); getErr == nil {
			return DapartoRecord{}, shared.Conflict(CodeRecordNotDeleted, "record is not deleted")
		}
		return DapartoRecord{}, err
	}
	return rec, err
}

// writer implements TxStore over either the pool or a transaction.
type writer struct {
	db dbtx
}

// FindIDByKey looks up the live record holding the business key.
func (w writer) FindIDByKey(ctx context.Context, key string) (int64, bool, error) {
	var id int64
	err := w.db.QueryRow(ctx,
		`SELECT id FROM daparto_records WHERE interne_artikelnummer = $1 AND deleted_at IS NULL`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, shared.System("catalog: find by key", err)
	}
	return id, true, nil
}

// Insert creates a new record; a concurrent duplicate surfaces as a coded
// conflict.
func (w writer) Insert(ctx context.Context, rec DapartoRecord) (int64, error) {
	var id int64
	err := w.db.QueryRow(ctx,
		`INSERT INTO daparto_records (interne_artikelnummer, preis, zustand, tiltle, teilemarke_teilenummer, pfand, versandklasse, lieferzeit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		rec.InterneArtikelnummer, rec.Preis, rec.Zustand, rec.Tiltle, rec.TeilemarkeTeilenummer, rec.Pfand, rec.Versandklasse, rec.Lieferzeit).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, shared.Conflict(CodeDuplicateKey, fmt.Sprintf("interne_artikelnummer %q already exists", rec.InterneArtikelnummer))
		}
		return 0, shared.System("catalog: insert", err)
	}
	return id, nil
}

// UpdateByID replaces the mutable fields of an existing record.
func (w writer) UpdateByID(ctx context.Context, id int64, rec DapartoRecord) error {
	tag, err := w.db.Exec(ctx,
		`UPDATE daparto_records
		 SET preis = $2, zustand = $3, tiltle = $4, teilemarke_teilenummer = $5, pfand = $6, versandklasse = $7, lieferzeit = $8, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id, rec.Preis, rec.Zustand, rec.Tiltle, rec.TeilemarkeTeilenummer, rec.Pfand, rec.Versandklasse, rec.Lieferzeit)
	if err != nil {
		return shared.System("catalog: update", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(CodeRecordNotFound, "record not found")
	}
	return nil
}

func scanRecord(row pgx.Row) (DapartoRecord, error) {
	var rec DapartoRecord
	err := row.Scan(&rec.ID, &rec.InterneArtikelnummer, &rec.Preis, &rec.Zustand, &rec.Tiltle, &rec.TeilemarkeTeilenummer,
		&rec.Pfand, &rec.Versandklasse, &rec.Lieferzeit, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DapartoRecord{}, shared.NotFound(CodeRecordNotFound, "record not found")
	}
	if err != nil {
		return DapartoRecord{}, shared.System("catalog: scan record", err)
	}
	return rec, nil
}

func scanRecordFromRows(rows pgx.Rows) (DapartoRecord, error) {
	var rec DapartoRecord
	if err := rows.Scan(&rec.ID, &rec.InterneArtikelnummer, &rec.Preis, &rec.Zustand, &rec.Tiltle, &rec.TeilemarkeTeilenummer,
		&rec.Pfand, &rec.Versandklasse, &rec.Lieferzeit, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt); err != nil {
		return DapartoRecord{}, shared.System("catalog: scan record", err)
	}
	return rec, nil
}
