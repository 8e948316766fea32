// Package service produces password-encrypted export packages from a manifest,
// serves downloads and destroys expired packages.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"dsrengine/internal/collaborator"
	"dsrengine/internal/deletion/overwrite"
	discoveryModels "dsrengine/internal/discovery/models"
	"dsrengine/internal/export/blob"
	"dsrengine/internal/export/codec"
	"dsrengine/internal/export/crypto"
	"dsrengine/internal/export/metrics"
	"dsrengine/internal/export/models"
	"dsrengine/internal/platform/config"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/retry"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
)

var tracer = otel.Tracer("dsrengine/export")

// MinPasswordLength is the shortest export password accepted.
const MinPasswordLength = 8

type Store interface {
	Create(ctx context.Context, job *models.ExportJob) error
	Get(ctx context.Context, id domain.ExportID) (*models.ExportJob, error)
	ListByRequest(ctx context.Context, requestID domain.RequestID) ([]*models.ExportJob, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.ExportJob, error)
	RecordDownload(ctx context.Context, id domain.ExportID, at time.Time, graceUntil *time.Time) (*models.ExportJob, error)
	MarkExpired(ctx context.Context, id domain.ExportID, at time.Time) error
	Count(ctx context.Context) (int, error)
}

// BlobStore holds ciphertext. Open must give in-place write access so expiry
// can overwrite the blob before removing it.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Open(ctx context.Context, key string) (blob.Handle, error)
	Remove(ctx context.Context, key string) error
}

// ContentReader reads item content from the owning storage module.
type ContentReader interface {
	Read(ctx context.Context, item collaborator.Item) ([]byte, error)
}

// InitiateCommand asks for one export. Password is cleared before
// InitiateExport returns, whatever the outcome.
type InitiateCommand struct {
	RequestID domain.RequestID
	Manifest  *discoveryModels.Manifest
	Format    models.Format
	Password  []byte
}

func (c *InitiateCommand) Validate() error {
	if c.RequestID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "request ID is required")
	}
	if c.Manifest == nil {
		return dErrors.New(dErrors.CodeValidation, "manifest is required")
	}
	if len(c.Password) < MinPasswordLength {
		return dErrors.Newf(dErrors.CodeValidation, "export password must be at least %d bytes", MinPasswordLength)
	}
	if _, ok := models.ParseFormat(string(c.Format)); !ok {
		return dErrors.Newf(dErrors.CodeValidation, "unsupported export format %q", c.Format)
	}
	return nil
}

type Service struct {
	store   Store
	blobs   BlobStore
	reader  ContentReader
	auditor audit.Recorder
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     config.ExportConfig
	kdf     models.KDFParams
	policy  retry.Policy

	mu      sync.Mutex
	running map[domain.RequestID]struct{}
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg config.ExportConfig) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithKDFParams overrides the Argon2id cost. Tests use it to keep runs fast.
func WithKDFParams(p models.KDFParams) Option {
	return func(s *Service) { s.kdf = p }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func New(store Store, blobs BlobStore, reader ContentReader, auditor audit.Recorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("export store is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if reader == nil {
		return nil, errors.New("content reader is required")
	}
	if auditor == nil {
		return nil, errors.New("audit recorder is required")
	}
	s := &Service{
		store:   store,
		blobs:   blobs,
		reader:  reader,
		auditor: auditor,
		logger:  slog.Default(),
		cfg:     config.DefaultConfig().Export,
		kdf:     crypto.DefaultKDF,
		policy:  retry.Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		running: make(map[domain.RequestID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// InitiateExport serializes the manifest contents, encrypts them under a key
// derived from the password and stores the ciphertext. Plaintext and key exist
// only in memory and are cleared before returning.
func (s *Service) InitiateExport(ctx context.Context, cmd InitiateCommand) (*models.ExportJob, error) {
	defer clear(cmd.Password)
	ctx, span := tracer.Start(ctx, "export.InitiateExport")
	defer span.End()
	start := time.Now()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	format, _ := models.ParseFormat(string(cmd.Format))
	if !cmd.Manifest.IsComplete() {
		return nil, dErrors.New(dErrors.CodeManifestIncomplete, "cannot export an incomplete manifest")
	}

	// Only one export per request may be in flight in this process; the
	// store rejects a second READY job across processes.
	if !s.claim(cmd.RequestID) {
		return nil, dErrors.New(dErrors.CodeConflict, "an export for this request is already in progress")
	}
	defer s.release(cmd.RequestID)

	existing, err := s.store.ListByRequest(ctx, cmd.RequestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load exports")
	}
	now := requestcontext.Now(ctx)
	for _, job := range existing {
		if job.IsAvailableAt(now) {
			return nil, dErrors.New(dErrors.CodeConflict, "an export for this request is already available")
		}
		if job.Status == models.StatusReady {
			// Past its expiry but not swept yet.
			if err := s.retire(ctx, job, now); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to retire expired export")
			}
		}
	}

	pkg, err := s.buildPackage(ctx, cmd.RequestID, cmd.Manifest, now)
	if err != nil {
		return nil, s.fail(ctx, cmd.RequestID, "read", err)
	}
	plaintext, err := codec.Encode(format, pkg)
	clearPackage(pkg)
	if err != nil {
		return nil, s.fail(ctx, cmd.RequestID, "encode", err)
	}
	defer clear(plaintext)
	if s.cfg.MaxSizeBytes > 0 && int64(len(plaintext)) > s.cfg.MaxSizeBytes {
		s.countFailure("size")
		return nil, dErrors.Newf(dErrors.CodeExportFailed, "export of %d bytes exceeds the %d byte limit", len(plaintext), s.cfg.MaxSizeBytes)
	}

	id := domain.NewExportID()
	sealed, err := crypto.Seal(cmd.Password, plaintext, models.AAD(id, format), s.kdf)
	if err != nil {
		return nil, s.fail(ctx, cmd.RequestID, "encrypt", err)
	}

	job := &models.ExportJob{
		ID:        id,
		RequestID: cmd.RequestID,
		Format:    format,
		Status:    models.StatusReady,
		Salt:      sealed.Salt,
		KDF:       sealed.KDF,
		Cipher:    models.CipherParams{Algorithm: sealed.Cipher, Nonce: sealed.Nonce},
		BlobKey:   id.String(),
		Size:      int64(len(sealed.Ciphertext)),
		ItemCount: len(cmd.Manifest.Entries),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Retention()),
	}
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.blobs.Put(ctx, job.BlobKey, sealed.Ciphertext)
	})
	if err != nil {
		return nil, s.fail(ctx, cmd.RequestID, "store", err)
	}
	if err := s.store.Create(ctx, job); err != nil {
		if rmErr := s.destroy(ctx, job); rmErr != nil {
			s.logger.ErrorContext(ctx, "failed to remove orphaned export blob", "export_id", id.String(), "error", rmErr)
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "an export for this request is already available")
		}
		return nil, s.fail(ctx, cmd.RequestID, "persist", err)
	}

	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventExportCreated,
		RequestID: cmd.RequestID.String(),
		Payload: map[string]any{
			"export_id":  id.String(),
			"format":     string(format),
			"items":      job.ItemCount,
			"size":       job.Size,
			"expires_at": job.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record export audit event", "export_id", id.String(), "error", err)
	}

	span.SetAttributes(attribute.String("dsr.export.format", string(format)), attribute.Int64("dsr.export.size", job.Size))
	if s.metrics != nil {
		s.metrics.Created.WithLabelValues(string(format)).Inc()
		s.metrics.SizeBytes.Observe(float64(job.Size))
		s.metrics.Duration.Observe(time.Since(start).Seconds())
	}
	s.logger.InfoContext(ctx, "export created",
		"request_id", cmd.RequestID.String(),
		"export_id", id.String(),
		"format", string(format),
		"items", job.ItemCount,
	)
	return job, nil
}

func (s *Service) buildPackage(ctx context.Context, requestID domain.RequestID, m *discoveryModels.Manifest, now time.Time) (*models.Package, error) {
	pkg := &models.Package{
		RequestID:   requestID,
		SubjectID:   m.SubjectID,
		GeneratedAt: now,
		Items:       make([]models.PackageItem, 0, len(m.Entries)),
	}
	for _, e := range m.Entries {
		var content []byte
		err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
			var err error
			content, err = s.reader.Read(ctx, e.Item())
			return err
		})
		if err != nil {
			clearPackage(pkg)
			return nil, err
		}
		pkg.Items = append(pkg.Items, models.PackageItem{
			Module:   e.Module,
			ItemID:   e.ItemID,
			Kind:     e.Kind,
			Priority: e.Priority,
			Content:  content,
		})
	}
	return pkg, nil
}

func clearPackage(pkg *models.Package) {
	for i := range pkg.Items {
		clear(pkg.Items[i].Content)
	}
}

func (s *Service) fail(ctx context.Context, requestID domain.RequestID, stage string, err error) error {
	s.countFailure(stage)
	s.logger.ErrorContext(ctx, "export failed", "request_id", requestID.String(), "stage", stage, "error", err)
	s.auditor.RecordAsync(ctx, audit.Entry{
		Action:    audit.EventExportFailed,
		Severity:  audit.SeverityWarning,
		RequestID: requestID.String(),
		Payload:   map[string]any{"stage": stage},
	})
	return dErrors.Wrap(err, dErrors.CodeExportFailed, "export failed at "+stage)
}

func (s *Service) countFailure(stage string) {
	if s.metrics != nil {
		s.metrics.Failures.WithLabelValues(stage).Inc()
	}
}

// Status returns the export job. Jobs past their expiry are reported EXPIRED
// even before the sweep has destroyed them.
func (s *Service) Status(ctx context.Context, id domain.ExportID) (*models.ExportJob, error) {
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "export not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load export")
	}
	if job.Status == models.StatusReady && !job.IsAvailableAt(requestcontext.Now(ctx)) {
		job.Status = models.StatusExpired
	}
	return job, nil
}

// ByRequest lists the exports produced for a request, oldest first.
func (s *Service) ByRequest(ctx context.Context, requestID domain.RequestID) ([]*models.ExportJob, error) {
	jobs, err := s.store.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list exports")
	}
	return jobs, nil
}

// Download returns the ciphertext with the parameters needed to decrypt it.
// Under the first_download policy the first call shortens the expiry to the
// grace period.
func (s *Service) Download(ctx context.Context, id domain.ExportID) (*models.Download, error) {
	now := requestcontext.Now(ctx)
	var graceUntil *time.Time
	if s.cfg.ExpiryPolicy == config.ExpiryFirstDownload {
		t := now.Add(s.cfg.DownloadGrace)
		graceUntil = &t
	}
	job, err := s.store.RecordDownload(ctx, id, now, graceUntil)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "export not found")
	case errors.Is(err, sentinel.ErrExpired):
		return nil, dErrors.New(dErrors.CodeGone, "export has expired")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record download")
	}

	ciphertext, err := s.blobs.Get(ctx, job.BlobKey)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeGone, "export content is no longer available")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read export")
	}

	s.auditor.RecordAsync(ctx, audit.Entry{
		Action:    audit.EventExportDownloaded,
		RequestID: job.RequestID.String(),
		Payload: map[string]any{
			"export_id":      id.String(),
			"download_count": job.DownloadCount,
		},
	})
	if s.metrics != nil {
		s.metrics.Downloads.Inc()
	}
	return &models.Download{Job: *job, Ciphertext: ciphertext}, nil
}

// SweepExpired overwrites and removes the ciphertext of every export past its
// expiry, then marks the job EXPIRED. Failures are logged and retried on the
// next sweep.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	jobs, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired exports")
	}
	swept := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if err := s.retire(ctx, job, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to retire expired export",
				"export_id", job.ID.String(),
				"request_id", job.RequestID.String(),
				"error", err,
			)
			continue
		}
		swept++
	}
	return swept, nil
}

// retire destroys the ciphertext of an expired job and marks it EXPIRED.
func (s *Service) retire(ctx context.Context, job *models.ExportJob, now time.Time) error {
	if err := s.destroy(ctx, job); err != nil {
		return err
	}
	if err := s.store.MarkExpired(ctx, job.ID, now); err != nil {
		return err
	}
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventExportExpired,
		RequestID: job.RequestID.String(),
		Payload: map[string]any{
			"export_id": job.ID.String(),
			"method":    overwrite.Method,
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record export expiry", "export_id", job.ID.String(), "error", err)
	}
	if s.metrics != nil {
		s.metrics.Expired.Inc()
	}
	return nil
}

func (s *Service) claim(id domain.RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Service) release(id domain.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

// destroy runs the three-pass overwrite on the blob before removing it.
// A blob that is already gone counts as destroyed.
func (s *Service) destroy(ctx context.Context, job *models.ExportJob) error {
	h, err := s.blobs.Open(ctx, job.BlobKey)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = overwrite.ThreePass(h)
	if closeErr := h.Close(); err == nil {
		err = closeErr
	}
	if err != nil && !errors.Is(err, overwrite.ErrEmpty) {
		return err
	}
	return s.blobs.Remove(ctx, job.BlobKey)
}

// Count is the number of exports ever created.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Decrypt opens a downloaded export with the subject's password.
func Decrypt(d *models.Download, password []byte) (*models.Package, error) {
	job := d.Job
	plaintext, err := crypto.Open(password, job.Salt, job.Cipher.Nonce, d.Ciphertext, job.AAD(), job.KDF)
	if err != nil {
		return nil, err
	}
	defer clear(plaintext)
	return codec.Decode(job.Format, plaintext)
}
