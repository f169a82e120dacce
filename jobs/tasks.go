// Package jobs wires background task processing through Asynq.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/teilehub/teilehub/internal/catalog/importer"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeCatalogImport is the task type for asynchronous CSV imports.
	TaskTypeCatalogImport = "catalog:import"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// CatalogImportPayload describes one queued import run. The uploaded file is
// staged on disk by the accepting handler; the worker reads and removes it.
type CatalogImportPayload struct {
	JobID    string           `json:"job_id"`
	FilePath string           `json:"file_path"`
	Options  importer.Options `json:"options"`
}

// NewCatalogImportTask constructs an Asynq task.
func NewCatalogImportTask(payload CatalogImportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCatalogImport, data), nil
}

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueCatalogImport enqueues an asynchronous import run.
func (c *Client) EnqueueCatalogImport(ctx context.Context, payload CatalogImportPayload) (*asynq.TaskInfo, error) {
	task, err := NewCatalogImportTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}

// EnqueueImport enqueues a staged import file. Satisfies the enqueuer port of
// the import upload handler.
func (c *Client) EnqueueImport(ctx context.Context, jobID, filePath string, opts importer.Options) error {
	_, err := c.EnqueueCatalogImport(ctx, CatalogImportPayload{JobID: jobID, FilePath: filePath, Options: opts})
	return err
}

// EnqueueMail enqueues a send-email task. Satisfies the notifier ports of the
// users service and the import job.
func (c *Client) EnqueueMail(ctx context.Context, to, subject, body string) error {
	task, err := NewSendEmailTask(SendEmailPayload{To: to, Subject: subject, Body: body})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
