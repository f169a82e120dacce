package importjob

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/teilehub/teilehub/internal/catalog/importer"
	"github.com/teilehub/teilehub/internal/platform/httpx"
)

// Enqueuer submits staged import files to the background queue.
type Enqueuer interface {
	EnqueueImport(ctx context.Context, jobID, filePath string, opts importer.Options) error
}

// HandlerConfig collects Handler dependencies.
type HandlerConfig struct {
	Logger       *slog.Logger
	Pipeline     *importer.Pipeline
	Cache        *Cache
	Enqueuer     Enqueuer
	MaxBytes     int64
	ImportDir    string
	RateLimit    int
	RateInterval time.Duration
}

// Handler exposes the CSV upload and job status endpoints.
type Handler struct {
	logger       *slog.Logger
	pipeline     *importer.Pipeline
	cache        *Cache
	enqueuer     Enqueuer
	validate     *validator.Validate
	maxBytes     int64
	importDir    string
	rateLimit    int
	rateInterval time.Duration
}

// NewHandler builds Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 50 << 20
	}
	if cfg.ImportDir == "" {
		cfg.ImportDir = os.TempDir()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = time.Minute
	}
	return &Handler{
		logger:       cfg.Logger,
		pipeline:     cfg.Pipeline,
		cache:        cfg.Cache,
		enqueuer:     cfg.Enqueuer,
		validate:     validator.New(),
		maxBytes:     cfg.MaxBytes,
		importDir:    cfg.ImportDir,
		rateLimit:    cfg.RateLimit,
		rateInterval: cfg.RateInterval,
	}
}

// MountRoutes registers import routes. Uploads are rate-limited per client IP
// on top of the global limiter; a single import can stay expensive for
// minutes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/catalog/import", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(h.rateLimit, h.rateInterval, httprate.WithKeyFuncs(httprate.KeyByIP)))
			r.Post("/", h.upload)
		})
		r.Get("/{jobID}", h.status)
	})
}

type acceptedResponse struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
}

// upload accepts a multipart CSV and either runs it inline (?mode=sync) or
// stages it for the worker. Async is the default; sync exists for small files
// and scripted use.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	// Multipart framing overhead on top of the file ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		httpx.Problem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "upload exceeds the size limit")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if err := importer.ValidateUpload(header.Filename, header.Size, h.maxBytes); err != nil {
		httpx.LogAndRespond(h.logger, w, "validate upload", err)
		return
	}
	opts, ok := h.parseOptions(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("mode") == "sync" {
		h.runSync(w, r, file, opts)
		return
	}
	h.enqueue(w, r, file, opts)
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, file io.Reader, opts importer.Options) {
	data, err := io.ReadAll(file)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "read upload", err)
		return
	}
	report, err := h.pipeline.Import(r.Context(), data, opts)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "run import", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, file io.Reader, opts importer.Options) {
	jobID := NewJobID()
	path, err := h.stage(jobID, file)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "stage upload", err)
		return
	}
	if err := h.cache.Set(r.Context(), Snapshot{JobID: jobID, Status: StatusQueued}); err != nil {
		os.Remove(path)
		httpx.LogAndRespond(h.logger, w, "record job", err)
		return
	}
	if err := h.enqueuer.EnqueueImport(r.Context(), jobID, path, opts); err != nil {
		os.Remove(path)
		httpx.LogAndRespond(h.logger, w, "enqueue import", err)
		return
	}
	h.logger.Info("import queued", slog.String("job_id", jobID), slog.Int64("bytes", fileSize(path)))
	httpx.JSON(w, http.StatusAccepted, acceptedResponse{JobID: jobID, Status: StatusQueued})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	snap, err := h.cache.Get(r.Context(), jobID)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, "job status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

// parseOptions reads the behaviour flags from the multipart form. Unknown
// fields are ignored; bad values reject the upload before anything is staged.
func (h *Handler) parseOptions(w http.ResponseWriter, r *http.Request) (importer.Options, bool) {
	opts := importer.Options{
		UpdateExisting:    formBool(r, "update_existing"),
		SkipDuplicates:    formBool(r, "skip_duplicates"),
		RollbackOnError:   formBool(r, "rollback_on_error"),
		EmailNotification: formBool(r, "email_notification"),
		UserEmail:         r.FormValue("user_email"),
	}
	if v := r.FormValue("batch_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "batch_size must be a non-negative integer")
			return importer.Options{}, false
		}
		opts.BatchSize = size
	}
	if err := h.validate.Struct(opts); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "user_email must be a valid email address")
		return importer.Options{}, false
	}
	if opts.EmailNotification && opts.UserEmail == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "email_notification requires user_email")
		return importer.Options{}, false
	}
	return opts, true
}

// stage copies the upload into the import directory under the job id; the
// worker removes it after processing.
func (h *Handler) stage(jobID string, file io.Reader) (string, error) {
	if err := os.MkdirAll(h.importDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(h.importDir, jobID+".csv")
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func formBool(r *http.Request, field string) bool {
	switch r.FormValue(field) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
