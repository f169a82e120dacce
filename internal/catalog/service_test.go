package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilehub/teilehub/internal/shared"
)

// fakeRepo keeps records in memory with a soft-delete tombstone, mirroring
// the real repository's visibility rules.
type fakeRepo struct {
	records map[int64]DapartoRecord
	nextID  int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[int64]DapartoRecord), nextID: 1}
}

func (f *fakeRepo) seed(rec DapartoRecord) DapartoRecord {
	rec.ID = f.nextID
	f.nextID++
	f.records[rec.ID] = rec
	return rec
}

func (f *fakeRepo) GetRecord(ctx context.Context, id int64) (DapartoRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return DapartoRecord{}, shared.NotFound(CodeRecordNotFound, "record not found")
	}
	return rec, nil
}

func (f *fakeRepo) GetRecordByKey(ctx context.Context, key string) (DapartoRecord, error) {
	for _, rec := range f.records {
		if rec.InterneArtikelnummer == key && rec.DeletedAt == nil {
			return rec, nil
		}
	}
	return DapartoRecord{}, shared.NotFound(CodeRecordNotFound, "record not found")
}

func (f *fakeRepo) ListRecords(ctx context.Context, limit, offset int) ([]DapartoRecord, error) {
	var out []DapartoRecord
	for _, rec := range f.records {
		if rec.DeletedAt == nil {
			out = append(out, rec)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) SoftDelete(ctx context.Context, id int64) error {
	rec, ok := f.records[id]
	if !ok || rec.DeletedAt != nil {
		return shared.NotFound(CodeRecordNotFound, "record not found")
	}
	now := time.Now()
	rec.DeletedAt = &now
	f.records[id] = rec
	return nil
}

func (f *fakeRepo) Restore(ctx context.Context, id int64) (DapartoRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return DapartoRecord{}, shared.NotFound(CodeRecordNotFound, "record not found")
	}
	if rec.DeletedAt == nil {
		return DapartoRecord{}, shared.Conflict(CodeRecordNotDeleted, "record is not deleted")
	}
	rec.DeletedAt = nil
	f.records[id] = rec
	return rec, nil
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) FindIDByKey(ctx context.Context, key string) (int64, bool, error) {
	rec, err := f.GetRecordByKey(ctx, key)
	if err != nil {
		return 0, false, nil
	}
	return rec.ID, true, nil
}

func (f *fakeRepo) Insert(ctx context.Context, rec DapartoRecord) (int64, error) {
	if _, exists, _ := f.FindIDByKey(ctx, rec.InterneArtikelnummer); exists {
		return 0, shared.Conflict(CodeDuplicateKey, "duplicate")
	}
	return f.seed(rec).ID, nil
}

func (f *fakeRepo) UpdateByID(ctx context.Context, id int64, rec DapartoRecord) error {
	existing, ok := f.records[id]
	if !ok || existing.DeletedAt != nil {
		return shared.NotFound(CodeRecordNotFound, "record not found")
	}
	rec.ID = id
	rec.InterneArtikelnummer = existing.InterneArtikelnummer
	f.records[id] = rec
	return nil
}

func validTestRecord(key string) DapartoRecord {
	return DapartoRecord{
		InterneArtikelnummer:  key,
		Preis:                 19.99,
		Zustand:               2,
		Tiltle:                "Bremsscheibe",
		TeilemarkeTeilenummer: "BOSCH 0986478",
		Versandklasse:         3,
		Lieferzeit:            5,
	}
}

func TestUpdateRecordRejectsInvalidFields(t *testing.T) {
	repo := newFakeRepo()
	seeded := repo.seed(validTestRecord("A-100"))
	svc := NewService(repo)

	bad := validTestRecord("A-100")
	bad.Zustand = 9
	bad.Preis = -1

	_, err := svc.UpdateRecord(context.Background(), seeded.ID, bad)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRecord, shared.CodeOf(err))
	assert.True(t, shared.IsConflict(err))
	// The stored record is untouched.
	assert.Equal(t, 2, repo.records[seeded.ID].Zustand)
}

func TestUpdateRecordAppliesChanges(t *testing.T) {
	repo := newFakeRepo()
	seeded := repo.seed(validTestRecord("A-100"))
	svc := NewService(repo)

	updated := validTestRecord("A-100")
	updated.Preis = 29.99
	updated.Tiltle = "Bremsscheibe hinten"

	rec, err := svc.UpdateRecord(context.Background(), seeded.ID, updated)
	require.NoError(t, err)
	assert.Equal(t, 29.99, rec.Preis)
	assert.Equal(t, "Bremsscheibe hinten", rec.Tiltle)
}

func TestGetRecordByKeyTrimsInput(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(validTestRecord("A-100"))
	svc := NewService(repo)

	rec, err := svc.GetRecordByKey(context.Background(), "  A-100 ")
	require.NoError(t, err)
	assert.Equal(t, "A-100", rec.InterneArtikelnummer)
}

func TestListRecordsClampsLimit(t *testing.T) {
	repo := newFakeRepo()
	for i := 0; i < 150; i++ {
		repo.seed(validTestRecord("A-" + string(rune('a'+i%26)) + string(rune('a'+i/26))))
	}
	svc := NewService(repo)

	records, err := svc.ListRecords(context.Background(), -1, 0)
	require.NoError(t, err)
	assert.Len(t, records, 100)
}

func TestDeleteThenRestoreRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	seeded := repo.seed(validTestRecord("A-100"))
	svc := NewService(repo)

	require.NoError(t, svc.DeleteRecord(context.Background(), seeded.ID))
	_, err := svc.GetRecordByKey(context.Background(), "A-100")
	assert.True(t, shared.IsNotFound(err))

	rec, err := svc.RestoreRecord(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.DeletedAt)
	assert.Equal(t, seeded.Preis, rec.Preis)
}

func TestRestoreLiveRecordIsConflict(t *testing.T) {
	repo := newFakeRepo()
	seeded := repo.seed(validTestRecord("A-100"))
	svc := NewService(repo)

	_, err := svc.RestoreRecord(context.Background(), seeded.ID)
	require.Error(t, err)
	assert.Equal(t, CodeRecordNotDeleted, shared.CodeOf(err))
}
