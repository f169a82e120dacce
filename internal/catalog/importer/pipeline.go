package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teilehub/teilehub/internal/catalog"
	"github.com/teilehub/teilehub/internal/shared"
)

// Batch-size bounds. The batch size is a tunable input, clamped here.
const (
	DefaultBatchSize = 500
	MinBatchSize     = 1
	MaxBatchSize     = 5000
)

// MaxRowErrors caps the error descriptor list; the counters stay exact.
const MaxRowErrors = 100

// Options is the caller-supplied behaviour bag for one import.
type Options struct {
	UpdateExisting    bool   `json:"update_existing"`
	SkipDuplicates    bool   `json:"skip_duplicates"`
	RollbackOnError   bool   `json:"rollback_on_error"`
	BatchSize         int    `json:"batch_size"`
	EmailNotification bool   `json:"email_notification"`
	UserEmail         string `json:"user_email" validate:"omitempty,email"`
}

// RowError describes one failed or skipped row.
type RowError struct {
	Row    int      `json:"row"`
	Action string   `json:"action"`
	Errors []string `json:"errors"`
}

// Report aggregates the outcome of one import run. When RolledBack is true
// nothing was durably written: the new/updated counters are zeroed and every
// row not counted failed is reported as skipped.
type Report struct {
	TotalRows        int        `json:"total_rows"`
	NewRows          int        `json:"new_rows"`
	UpdatedRows      int        `json:"updated_rows"`
	DuplicateRows    int        `json:"duplicate_rows"`
	SkippedRows      int        `json:"skipped_rows"`
	FailedRows       int        `json:"failed_rows"`
	RowErrors        []RowError `json:"row_errors,omitempty"`
	DataQualityScore float64    `json:"data_quality_score"`
	DurationMS       int64      `json:"duration_ms"`
	Success          bool       `json:"success"`
	RolledBack       bool       `json:"rolled_back,omitempty"`
}

// Pipeline turns parsed rows into catalog writes. Row processing is
// sequential in file order; each batch commits as one transaction.
type Pipeline struct {
	store        catalog.Store
	logger       *slog.Logger
	defaultBatch int
}

// NewPipeline builds a Pipeline instance.
func NewPipeline(store catalog.Store, logger *slog.Logger, defaultBatch int) *Pipeline {
	if defaultBatch < MinBatchSize || defaultBatch > MaxBatchSize {
		defaultBatch = DefaultBatchSize
	}
	return &Pipeline{store: store, logger: logger, defaultBatch: defaultBatch}
}

// Import validates, parses and runs one uploaded file. This is the single
// entry point for both execution modes; sync and async callers differ only in
// where they run it.
func (p *Pipeline) Import(ctx context.Context, data []byte, opts Options) (Report, error) {
	rows, err := Parse(data)
	if err != nil {
		return Report{}, err
	}
	return p.Run(ctx, rows, opts)
}

// Run processes parsed rows according to opts. Row-level failures are
// reported, never returned; the error return is reserved for storage-level
// failures that abort the import.
func (p *Pipeline) Run(ctx context.Context, rows []Row, opts Options) (Report, error) {
	start := time.Now()
	report := Report{TotalRows: len(rows)}

	var err error
	if opts.RollbackOnError {
		err = p.runAtomic(ctx, rows, opts, &report)
	} else {
		err = p.runBatched(ctx, rows, opts, &report)
	}
	if err != nil {
		return Report{}, err
	}

	report.DurationMS = time.Since(start).Milliseconds()
	report.DataQualityScore = qualityScore(report)
	report.Success = successOf(report, opts)
	if p.logger != nil {
		p.logger.Info("import finished",
			slog.Int("total", report.TotalRows),
			slog.Int("new", report.NewRows),
			slog.Int("updated", report.UpdatedRows),
			slog.Int("failed", report.FailedRows),
			slog.Bool("success", report.Success))
	}
	return report, nil
}

// runBatched commits one transaction per batch so a large file never holds a
// single long-lived lock. A failed row marks itself and processing continues.
func (p *Pipeline) runBatched(ctx context.Context, rows []Row, opts Options, report *Report) error {
	size := clampBatch(opts.BatchSize, p.defaultBatch)
	for offset := 0; offset < len(rows); offset += size {
		end := offset + size
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[offset:end]
		err := p.store.WithTx(ctx, func(ctx context.Context, tx catalog.TxStore) error {
			for _, row := range batch {
				if err := p.processRow(ctx, tx, row, opts, report); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runAtomic processes the whole file in a single transaction; the first
// failed row aborts and rolls back everything written so far.
func (p *Pipeline) runAtomic(ctx context.Context, rows []Row, opts Options, report *Report) error {
	err := p.store.WithTx(ctx, func(ctx context.Context, tx catalog.TxStore) error {
		for _, row := range rows {
			before := report.FailedRows
			if err := p.processRow(ctx, tx, row, opts, report); err != nil {
				return err
			}
			if report.FailedRows > before {
				return errRolledBack
			}
		}
		return nil
	})
	// The sentinel may come back wrapped by the store's transaction helper.
	if errors.Is(err, errRolledBack) {
		report.RolledBack = true
		report.NewRows = 0
		report.UpdatedRows = 0
		report.DuplicateRows = 0
		report.SkippedRows = report.TotalRows - report.FailedRows
		return nil
	}
	return err
}

var errRolledBack = errors.New("importer: rolled back on first failure")

// processRow applies one row's outcome to the report. Storage failures other
// than duplicate keys propagate as errors and abort the import.
func (p *Pipeline) processRow(ctx context.Context, tx catalog.TxStore, row Row, opts Options, report *Report) error {
	if len(row.Reasons) > 0 {
		report.FailedRows++
		report.addError(row.Line, "parse", row.Reasons)
		return nil
	}
	id, exists, err := tx.FindIDByKey(ctx, row.Record.InterneArtikelnummer)
	if err != nil {
		return err
	}
	if exists {
		switch {
		case opts.UpdateExisting:
			if err := tx.UpdateByID(ctx, id, row.Record); err != nil {
				return err
			}
			report.UpdatedRows++
		case opts.SkipDuplicates:
			report.DuplicateRows++
			report.SkippedRows++
		default:
			report.FailedRows++
			report.addError(row.Line, "insert",
				[]string{fmt.Sprintf("interne_artikelnummer %q already exists", row.Record.InterneArtikelnummer)})
		}
		return nil
	}
	if _, err := tx.Insert(ctx, row.Record); err != nil {
		// A row inserted concurrently between lookup and write counts as a
		// duplicate, resolved by the same option rules.
		if shared.CodeOf(err) == catalog.CodeDuplicateKey {
			if opts.SkipDuplicates {
				report.DuplicateRows++
				report.SkippedRows++
				return nil
			}
			report.FailedRows++
			report.addError(row.Line, "insert", []string{err.Error()})
			return nil
		}
		return err
	}
	report.NewRows++
	return nil
}

func (r *Report) addError(line int, action string, reasons []string) {
	if len(r.RowErrors) >= MaxRowErrors {
		return
	}
	r.RowErrors = append(r.RowErrors, RowError{Row: line, Action: action, Errors: reasons})
}

// successOf applies the documented success rule: a rollback is always a
// failure, and so is a file where no row succeeded; tolerated duplicates
// count as succeeded rows.
func successOf(r Report, opts Options) bool {
	if opts.RollbackOnError && r.FailedRows > 0 {
		return false
	}
	if r.TotalRows == 0 {
		return true
	}
	return r.NewRows+r.UpdatedRows+r.SkippedRows > 0
}

func qualityScore(r Report) float64 {
	if r.TotalRows == 0 {
		return 100
	}
	return 100 * float64(r.TotalRows-r.FailedRows) / float64(r.TotalRows)
}

func clampBatch(requested, fallback int) int {
	if requested == 0 {
		return fallback
	}
	if requested < MinBatchSize {
		return MinBatchSize
	}
	if requested > MaxBatchSize {
		return MaxBatchSize
	}
	return requested
}
