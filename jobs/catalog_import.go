package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/teilehub/teilehub/internal/catalog/importer"
	"github.com/teilehub/teilehub/internal/importjob"
)

// ImportJob processes queued catalog imports: it runs the pipeline under the
// configured wall-clock ceiling, writes a terminal snapshot on both the
// success and the failure path, and sends the notification mail if requested.
type ImportJob struct {
	pipeline *importer.Pipeline
	cache    *importjob.Cache
	mailer   MailEnqueuer
	logger   *slog.Logger
	deadline time.Duration
}

// MailEnqueuer hands notification mails back to the queue.
type MailEnqueuer interface {
	EnqueueMail(ctx context.Context, to, subject, body string) error
}

// NewImportJob builds the handler for TaskTypeCatalogImport.
func NewImportJob(pipeline *importer.Pipeline, cache *importjob.Cache, mailer MailEnqueuer, logger *slog.Logger, deadline time.Duration) *ImportJob {
	if deadline <= 0 {
		deadline = 30 * time.Minute
	}
	return &ImportJob{pipeline: pipeline, cache: cache, mailer: mailer, logger: logger, deadline: deadline}
}

// Handle processes one TaskTypeCatalogImport task.
func (j *ImportJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CatalogImportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	ctx, cancel := context.WithTimeout(ctx, j.deadline)
	defer cancel()

	if err := j.cache.Set(ctx, importjob.Snapshot{JobID: payload.JobID, Status: importjob.StatusProcessing}); err != nil {
		j.logger.Warn("import job status write", slog.Any("error", err))
	}

	data, err := os.ReadFile(payload.FilePath)
	if err != nil {
		j.terminal(ctx, payload, nil, fmt.Errorf("read staged file: %w", err))
		return asynq.SkipRetry
	}
	defer func() {
		if err := os.Remove(payload.FilePath); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("remove staged file", slog.String("path", payload.FilePath), slog.Any("error", err))
		}
	}()

	report, err := j.pipeline.Import(ctx, data, payload.Options)
	if err != nil {
		j.terminal(ctx, payload, nil, err)
		return asynq.SkipRetry
	}
	j.terminal(ctx, payload, &report, nil)
	return nil
}

// terminal writes the final snapshot and fires the notification. Both the
// success and the failure path end here.
func (j *ImportJob) terminal(ctx context.Context, payload CatalogImportPayload, report *importer.Report, cause error) {
	snap := importjob.Snapshot{JobID: payload.JobID, Status: importjob.StatusCompleted, Report: report}
	if cause != nil {
		snap.Status = importjob.StatusFailed
		snap.Error = cause.Error()
	} else if report != nil && !report.Success {
		snap.Status = importjob.StatusFailed
	}
	if err := j.cache.Set(ctx, snap); err != nil {
		j.logger.Error("import job terminal status write", slog.String("job_id", payload.JobID), slog.Any("error", err))
	}
	if payload.Options.EmailNotification && payload.Options.UserEmail != "" && j.mailer != nil {
		subject, body := importMail(payload.JobID, snap)
		if err := j.mailer.EnqueueMail(ctx, payload.Options.UserEmail, subject, body); err != nil {
			j.logger.Warn("import notification enqueue", slog.Any("error", err))
		}
	}
	j.logger.Info("import job finished", slog.String("job_id", payload.JobID), slog.String("status", string(snap.Status)))
}

func importMail(jobID string, snap importjob.Snapshot) (string, string) {
	subject := fmt.Sprintf("Catalog import %s: %s", jobID, snap.Status)
	if snap.Report == nil {
		return subject, fmt.Sprintf("Your catalog import %s finished with status %s.\nError: %s\n", jobID, snap.Status, snap.Error)
	}
	r := snap.Report
	body := fmt.Sprintf(
		"Your catalog import %s finished with status %s.\n\nTotal rows: %d\nNew: %d\nUpdated: %d\nDuplicates: %d\nSkipped: %d\nFailed: %d\nData quality score: %.1f\nDuration: %dms\n",
		jobID, snap.Status, r.TotalRows, r.NewRows, r.UpdatedRows, r.DuplicateRows, r.SkippedRows, r.FailedRows, r.DataQualityScore, r.DurationMS)
	return subject, body
}
