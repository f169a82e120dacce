package catalog

import (
	"context"
	"strings"

	"github.com/teilehub/teilehub/internal/shared"
)

// RepositoryPort defines data access methods for catalog records.
type RepositoryPort interface {
	GetRecord(ctx context.Context, id int64) (DapartoRecord, error)
	GetRecordByKey(ctx context.Context, key string) (DapartoRecord, error)
	ListRecords(ctx context.Context, limit, offset int) ([]DapartoRecord, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) (DapartoRecord, error)
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// Service handles catalog business logic outside the import pipeline.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetRecord fetches a record by id.
func (s *Service) GetRecord(ctx context.Context, id int64) (DapartoRecord, error) {
	return s.repo.GetRecord(ctx, id)
}

// GetRecordByKey fetches a live record by business key.
func (s *Service) GetRecordByKey(ctx context.Context, key string) (DapartoRecord, error) {
	return s.repo.GetRecordByKey(ctx, strings.TrimSpace(key))
}

// ListRecords returns live records.
func (s *Service) ListRecords(ctx context.Context, limit, offset int) ([]DapartoRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListRecords(ctx, limit, offset)
}

// UpdateRecord replaces the mutable fields of a live record after validation.
func (s *Service) UpdateRecord(ctx context.Context, id int64, rec DapartoRecord) (DapartoRecord, error) {
	if reasons := rec.Validate(); len(reasons) > 0 {
		return DapartoRecord{}, shared.Conflict(CodeInvalidRecord, strings.Join(reasons, "; "))
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.UpdateByID(ctx, id, rec)
	})
	if err != nil {
		return DapartoRecord{}, err
	}
	return s.repo.GetRecord(ctx, id)
}

// DeleteRecord tombstones a record; it stays recoverable via Restore.
func (s *Service) DeleteRecord(ctx context.Context, id int64) error {
	return s.repo.SoftDelete(ctx, id)
}

// RestoreRecord clears a tombstone.
func (s *Service) RestoreRecord(ctx context.Context, id int64) (DapartoRecord, error) {
	return s.repo.Restore(ctx, id)
}
