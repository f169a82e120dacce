// Package importjob tracks import-job progress in an ephemeral redis cache.
package importjob

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/teilehub/teilehub/internal/catalog/importer"
	"github.com/teilehub/teilehub/internal/shared"
)

// CodeJobNotFound is returned when a job id is unknown or its snapshot has
// expired. This is a normal 404-class outcome, not a system error.
const CodeJobNotFound = "job_not_found"

const keyPrefix = "import:job:"

// Status enumerates the lifecycle of an import job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Snapshot is the latest progress/result state of one job. Writes are
// last-writer-wins; job ids are unique per upload so no coordination is
// needed.
type Snapshot struct {
	JobID     string           `json:"job_id"`
	Status    Status           `json:"status"`
	Report    *importer.Report `json:"report,omitempty"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewJobID mints a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Cache stores job snapshots with a bounded retention TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Set writes the snapshot, stamping UpdatedAt and refreshing the TTL.
func (c *Cache) Set(ctx context.Context, snap Snapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(snap)
	if err != nil {
		return shared.System("importjob: marshal snapshot", err)
	}
	if err := c.client.Set(ctx, keyPrefix+snap.JobID, payload, c.ttl).Err(); err != nil {
		return shared.System("importjob: set snapshot", err)
	}
	return nil
}

// Get returns the latest snapshot for the job, or a coded not-found when the
// id is unknown or the snapshot expired.
func (c *Cache) Get(ctx context.Context, jobID string) (Snapshot, error) {
	payload, err := c.client.Get(ctx, keyPrefix+jobID).Bytes()
	if err == redis.Nil {
		return Snapshot{}, shared.NotFound(CodeJobNotFound, "import job not found or expired")
	}
	if err != nil {
		return Snapshot{}, shared.System("importjob: get snapshot", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, shared.System("importjob: decode snapshot", err)
	}
	return snap, nil
}
