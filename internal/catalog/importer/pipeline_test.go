package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilehub/teilehub/internal/catalog"
	"github.com/teilehub/teilehub/internal/shared"
)

// fakeCatalogStore stages writes per transaction and commits them only when
// the transaction function succeeds, mirroring the real repository.
type fakeCatalogStore struct {
	records map[string]catalog.DapartoRecord
	byID    map[int64]string
	nextID  int64
	txCount int
}

func newFakeCatalogStore() *fakeCatalogStore {
	return &fakeCatalogStore{
		records: make(map[string]catalog.DapartoRecord),
		byID:    make(map[int64]string),
		nextID:  1,
	}
}

func (f *fakeCatalogStore) seed(rec catalog.DapartoRecord) {
	rec.ID = f.nextID
	f.nextID++
	f.records[rec.InterneArtikelnummer] = rec
	f.byID[rec.ID] = rec.InterneArtikelnummer
}

func (f *fakeCatalogStore) WithTx(ctx context.Context, fn func(context.Context, catalog.TxStore) error) error {
	f.txCount++
	staged := &stagedWriter{store: f, records: make(map[string]catalog.DapartoRecord), byID: make(map[int64]string)}
	for k, v := range f.records {
		staged.records[k] = v
	}
	for k, v := range f.byID {
		staged.byID[k] = v
	}
	staged.nextID = f.nextID
	if err := fn(ctx, staged); err != nil {
		return err
	}
	f.records = staged.records
	f.byID = staged.byID
	f.nextID = staged.nextID
	return nil
}

type stagedWriter struct {
	store   *fakeCatalogStore
	records map[string]catalog.DapartoRecord
	byID    map[int64]string
	nextID  int64
}

func (s *stagedWriter) FindIDByKey(ctx context.Context, key string) (int64, bool, error) {
	rec, ok := s.records[key]
	if !ok {
		return 0, false, nil
	}
	return rec.ID, true, nil
}

func (s *stagedWriter) Insert(ctx context.Context, rec catalog.DapartoRecord) (int64, error) {
	if _, ok := s.records[rec.InterneArtikelnummer]; ok {
		return 0, shared.Conflict(catalog.CodeDuplicateKey, fmt.Sprintf("interne_artikelnummer %q already exists", rec.InterneArtikelnummer))
	}
	rec.ID = s.nextID
	s.nextID++
	s.records[rec.InterneArtikelnummer] = rec
	s.byID[rec.ID] = rec.InterneArtikelnummer
	return rec.ID, nil
}

func (s *stagedWriter) UpdateByID(ctx context.Context, id int64, rec catalog.DapartoRecord) error {
	key, ok := s.byID[id]
	if !ok {
		return shared.NotFound(catalog.CodeRecordNotFound, "record not found")
	}
	rec.ID = id
	rec.InterneArtikelnummer = key
	s.records[key] = rec
	return nil
}

func newTestPipeline(store *fakeCatalogStore, batch int) *Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(store, logger, batch)
}

func validRecord(key string) catalog.DapartoRecord {
	return catalog.DapartoRecord{
		InterneArtikelnummer:  key,
		Preis:                 9.99,
		Zustand:               2,
		Tiltle:                "Bremsscheibe",
		TeilemarkeTeilenummer: "BOSCH 0986478",
		Versandklasse:         3,
		Lieferzeit:            5,
	}
}

func TestImportInsertsValidRows(t *testing.T) {
	store := newFakeCatalogStore()
	p := newTestPipeline(store, 0)

	data := csvFile(
		"A-100;19.99;2;Bremsscheibe;BOSCH 0986478;0;3;5",
		"A-101;5.50;1;Keilriemen;CONTI CT1028;0;1;2",
		"A-102;12.00;3;Luftfilter;MANN C25114;0;2;7",
	)
	report, err := p.Import(context.Background(), data, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalRows)
	assert.Equal(t, 3, report.NewRows)
	assert.Equal(t, 0, report.FailedRows)
	assert.True(t, report.Success)
	assert.Equal(t, 100.0, report.DataQualityScore)
	assert.Len(t, store.records, 3)
}

func TestImportUpdateExisting(t *testing.T) {
	store := newFakeCatalogStore()
	store.seed(validRecord("A-100"))
	p := newTestPipeline(store, 0)

	data := csvFile("A-100;25.00;1;Bremsscheibe neu;BOSCH 0986478;0;3;5")
	report, err := p.Import(context.Background(), data, Options{UpdateExisting: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.UpdatedRows)
	assert.Equal(t, 0, report.NewRows)
	assert.True(t, report.Success)
	assert.Equal(t, 25.00, store.records["A-100"].Preis)
	assert.Equal(t, "Bremsscheibe neu", store.records["A-100"].Tiltle)
}

func TestImportSkipDuplicates(t *testing.T) {
	store := newFakeCatalogStore()
	store.seed(validRecord("A-100"))
	p := newTestPipeline(store, 0)

	data := csvFile(
		"A-100;25.00;1;ignored;ignored;0;3;5",
		"A-101;5.50;1;Keilriemen;CONTI CT1028;0;1;2",
	)
	report, err := p.Import(context.Background(), data, Options{SkipDuplicates: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.NewRows)
	assert.Equal(t, 1, report.DuplicateRows)
	assert.Equal(t, 1, report.SkippedRows)
	assert.Equal(t, 0, report.FailedRows)
	assert.True(t, report.Success)
	// The existing record is untouched.
	assert.Equal(t, 9.99, store.records["A-100"].Preis)
}

func TestImportDuplicateWithoutOptionFailsRow(t *testing.T) {
	store := newFakeCatalogStore()
	store.seed(validRecord("A-100"))
	p := newTestPipeline(store, 0)

	data := csvFile("A-100;25.00;1;x;y;0;3;5")
	report, err := p.Import(context.Background(), data, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.FailedRows)
	assert.False(t, report.Success)
	require.Len(t, report.RowErrors, 1)
	assert.Equal(t, 2, report.RowErrors[0].Row)
}

func TestImportInvalidRowIsReportedNotFatal(t *testing.T) {
	store := newFakeCatalogStore()
	p := newTestPipeline(store, 0)

	data := csvFile(
		"A-100;-5.00;2;Bremsscheibe;BOSCH;0;3;5", // negative price
		"A-101;5.50;1;Keilriemen;CONTI;0;1;2",
	)
	report, err := p.Import(context.Background(), data, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalRows)
	assert.Equal(t, 1, report.NewRows)
	assert.Equal(t, 1, report.FailedRows)
	assert.True(t, report.Success)
	assert.Equal(t, 50.0, report.DataQualityScore)
	require.Len(t, report.RowErrors, 1)
	assert.Equal(t, "parse", report.RowErrors[0].Action)
	assert.NotEmpty(t, report.RowErrors[0].Errors)
}

func TestImportRollbackOnError(t *testing.T) {
	store := newFakeCatalogStore()
	p := newTestPipeline(store, 0)

	data := csvFile(
		"A-100;19.99;2;Bremsscheibe;BOSCH;0;3;5",
		"A-101;5.50;1;Keilriemen;CONTI;0;1;2",
		"A-102;bad;1;Luftfilter;MANN;0;2;7",
	)
	report, err := p.Import(context.Background(), data, Options{RollbackOnError: true})
	require.NoError(t, err)

	assert.True(t, report.RolledBack)
	assert.False(t, report.Success)
	assert.Equal(t, 3, report.TotalRows)
	assert.Equal(t, 0, report.NewRows)
	assert.Equal(t, 1, report.FailedRows)
	assert.Equal(t, 2, report.SkippedRows)
	// Nothing was durably written.
	assert.Empty(t, store.records)
}

func TestImportRollbackCleanFileCommits(t *testing.T) {
	store := newFakeCatalogStore()
	p := newTestPipeline(store, 0)

	data := csvFile(
		"A-100;19.99;2;Bremsscheibe;BOSCH;0;3;5",
		"A-101;5.50;1;Keilriemen;CONTI;0;1;2",
	)
	report, err := p.Import(context.Background(), data, Options{RollbackOnError: true})
	require.NoError(t, err)

	assert.False(t, report.RolledBack)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.NewRows)
	assert.Len(t, store.records, 2)
}

func TestImportBatchingSplitsTransactions(t *testing.T) {
	store := newFakeCatalogStore()
	p := newTestPipeline(store, 0)

	rows := make([]string, 5)
	for i := range rows {
		rows[i] = fmt.Sprintf("A-%d;1.00;1;x;y;0;1;1", 100+i)
	}
	report, err := p.Import(context.Background(), csvFile(rows...), Options{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, report.NewRows)
	assert.Equal(t, 3, store.txCount)
}

func TestImportEmptyFileRejected(t *testing.T) {
	store := newFakeCatalogStore()
	p := newTestPipeline(store, 0)

	_, err := p.Import(context.Background(), []byte("  "), Options{})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidInput, shared.CodeOf(err))
	assert.True(t, shared.IsConflict(err))
}

func TestImportHeaderOnlySucceedsEmpty(t *testing.T) {
	store := newFakeCatalogStore()
	p := newTestPipeline(store, 0)

	report, err := p.Import(context.Background(), []byte(Header+"\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalRows)
	assert.True(t, report.Success)
	assert.Equal(t, 100.0, report.DataQualityScore)
}

func TestClampBatch(t *testing.T) {
	assert.Equal(t, 500, clampBatch(0, 500))
	assert.Equal(t, MinBatchSize, clampBatch(-3, 500))
	assert.Equal(t, MaxBatchSize, clampBatch(999999, 500))
	assert.Equal(t, 42, clampBatch(42, 500))
}
