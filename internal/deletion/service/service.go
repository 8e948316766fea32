// Package service runs secure deletion jobs and issues signed certificates.
//
// A job overwrites every manifest item with three verified passes, removes
// it, and only then issues a certificate. Jobs are resumable: running the
// same request again skips erased items and reuses an issued certificate.
// Once started a job is not cancellable; it runs under a context detached
// from the caller's cancellation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"dsrengine/internal/collaborator"
	"dsrengine/internal/deletion/certificate"
	"dsrengine/internal/deletion/metrics"
	"dsrengine/internal/deletion/models"
	"dsrengine/internal/deletion/overwrite"
	discoveryModels "dsrengine/internal/discovery/models"
	"dsrengine/internal/platform/config"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/privacy"
	"dsrengine/pkg/platform/retry"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
)

var tracer = otel.Tracer("dsrengine/deletion")

type JobStore interface {
	CreateJob(ctx context.Context, job *models.DeletionJob) error
	GetJob(ctx context.Context, id domain.DeletionID) (*models.DeletionJob, error)
	GetJobByRequest(ctx context.Context, requestID domain.RequestID) (*models.DeletionJob, error)
	UpdateItem(ctx context.Context, id domain.DeletionID, item models.Item) error
	UpdateJob(ctx context.Context, job *models.DeletionJob) error
}

// CertificateStore is append-only.
type CertificateStore interface {
	SaveCertificate(ctx context.Context, cert *models.Certificate) error
	GetCertificate(ctx context.Context, id domain.CertificateID) (*models.Certificate, error)
	GetCertificateByDeletion(ctx context.Context, id domain.DeletionID) (*models.Certificate, error)
	CountCertificates(ctx context.Context) (int, error)
}

// Erasers resolves the module that owns an item. The collaborator registry
// implements it.
type Erasers interface {
	Eraser(module string) (collaborator.Eraser, error)
}

type InitiateCommand struct {
	RequestID domain.RequestID
	SubjectID domain.SubjectID
	Manifest  *discoveryModels.Manifest
}

func (c *InitiateCommand) Validate() error {
	if c.RequestID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "request ID is required")
	}
	if c.SubjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "subject ID is required")
	}
	if c.Manifest == nil {
		return dErrors.New(dErrors.CodeValidation, "manifest is required")
	}
	return nil
}

type Service struct {
	jobs     JobStore
	certs    CertificateStore
	erasers  Erasers
	signer   *certificate.Signer
	verifier *certificate.Verifier
	auditor  audit.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      config.DeletionConfig
	policy   retry.Policy

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

func WithConfig(cfg config.DeletionConfig) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithVerifier sets the public keys certificates are checked against.
// By default only the signer's own key is trusted.
func WithVerifier(v *certificate.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func New(jobs JobStore, certs CertificateStore, erasers Erasers, signer *certificate.Signer, auditor audit.Recorder, opts ...Option) (*Service, error) {
	if jobs == nil {
		return nil, errors.New("deletion job store is required")
	}
	if certs == nil {
		return nil, errors.New("certificate store is required")
	}
	if erasers == nil {
		return nil, errors.New("erasers are required")
	}
	if signer == nil {
		return nil, errors.New("certificate signer is required")
	}
	if auditor == nil {
		return nil, errors.New("audit recorder is required")
	}
	s := &Service{
		jobs:    jobs,
		certs:   certs,
		erasers: erasers,
		signer:  signer,
		auditor: auditor,
		logger:  slog.Default(),
		cfg:     config.DefaultConfig().Deletion,
		policy:  retry.Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		running: make(map[domain.RequestID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		s.verifier = certificate.NewVerifier()
		s.verifier.Trust(signer.KeyID(), signer.PublicKey())
	}
	if s.cfg.Parallelism <= 0 {
		s.cfg.Parallelism = 1
	}
	if s.cfg.MaxPassRetries <= 0 {
		s.cfg.MaxPassRetries = 1
	}
	return s, nil
}

// InitiateDeletion creates the job for a request, or resumes the existing one,
// and runs it to completion. A completed job is returned unchanged.
func (s *Service) InitiateDeletion(ctx context.Context, cmd InitiateCommand) (*models.DeletionJob, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if !cmd.Manifest.IsComplete() {
		return nil, dErrors.New(dErrors.CodeManifestIncomplete, "cannot erase from an incomplete manifest")
	}
	if !s.claim(cmd.RequestID) {
		return nil, dErrors.New(dErrors.CodeConflict, "deletion already running for this request")
	}
	defer s.release(cmd.RequestID)

	job, err := s.loadOrCreate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if job.Status == models.StatusCompleted {
		return job, nil
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "deletion.Run")
	defer span.End()
	span.SetAttributes(attribute.String("dsr.deletion.id", job.ID.String()), attribute.Int("dsr.deletion.items", len(job.Items)))

	// The start must be durable before the first byte is overwritten.
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventDeletionStarted,
		RequestID: job.RequestID.String(),
		Payload: map[string]any{
			"deletion_id": job.ID.String(),
			"items":       len(job.Items),
			"pending":     len(job.Pending()),
			"method":      job.Method,
		},
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record deletion start")
	}

	if job.Status == models.StatusFailed {
		job.Status = models.StatusRunning
		job.FailureReason = ""
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to restart deletion job")
		}
	}

	if err := s.eraseAll(ctx, job); err != nil {
		return nil, err
	}
	return s.certify(ctx, job)
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

func (s *Service) loadOrCreate(ctx context.Context, cmd InitiateCommand) (*models.DeletionJob, error) {
	job, err := s.jobs.GetJobByRequest(ctx, cmd.RequestID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load deletion job")
	}
	job = &models.DeletionJob{
		ID:          domain.NewDeletionID(),
		RequestID:   cmd.RequestID,
		SubjectHash: privacy.HashIdentifier(string(cmd.SubjectID)),
		Method:      overwrite.Method,
		Status:      models.StatusRunning,
		CreatedAt:   requestcontext.Now(ctx),
	}
	for _, e := range cmd.Manifest.Entries {
		job.Items = append(job.Items, models.Item{Module: e.Module, ItemID: e.ItemID, Kind: e.Kind, Status: models.ItemPending})
	}
	err = s.jobs.CreateJob(ctx, job)
	if errors.Is(err, sentinel.ErrConflict) {
		return s.jobs.GetJobByRequest(ctx, cmd.RequestID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create deletion job")
	}
	return job, nil
}

// eraseAll overwrites pending items in parallel, bounded by the configured
// parallelism. Passes within one item stay sequential.
func (s *Service) eraseAll(ctx context.Context, job *models.DeletionJob) error {
	sem := semaphore.NewWeighted(s.cfg.Parallelism)
	var g errgroup.Group
	failures := make([]error, len(job.Items))

	for idx, it := range job.Items {
		if it.Status == models.ItemErased {
			// Proof is stored before removal, so a crash can leave the item behind.
			s.remove(ctx, it)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			failures[idx] = s.eraseItem(ctx, job, idx)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range failures {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	job.Status = models.StatusFailed
	job.FailureReason = fmt.Sprintf("%d of %d items failed verification", len(failed), len(job.Items))
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist deletion failure", "deletion_id", job.ID.String(), "error", err)
	}
	if s.metrics != nil {
		s.metrics.Jobs.WithLabelValues(string(models.StatusFailed)).Inc()
	}
	return dErrors.Wrap(errors.Join(failed...), dErrors.CodeDeletionVerificationFailed, job.FailureReason)
}

// eraseItem runs the three passes, restarting from pass 1 on any failure up
// to MaxPassRetries attempts. Only job.Items[idx] is touched.
func (s *Service) eraseItem(ctx context.Context, job *models.DeletionJob, idx int) error {
	item := &job.Items[idx]
	start := time.Now()
	if s.metrics != nil {
		s.metrics.InFlightItems.Inc()
		defer s.metrics.InFlightItems.Dec()
	}

	eraser, err := s.erasers.Eraser(item.Module)
	if err != nil {
		item.Status = models.ItemFailed
		item.LastError = err.Error()
		s.saveItem(ctx, job.ID, *item)
		return err
	}

	var (
		hashes [3]string
		empty  bool
	)
	for attempt := 1; attempt <= s.cfg.MaxPassRetries; attempt++ {
		item.Attempts++
		hashes, err = s.overwriteOnce(ctx, eraser, item.ItemID)
		if errors.Is(err, overwrite.ErrEmpty) {
			empty, hashes, err = true, [3]string{}, nil
		}
		if err == nil {
			break
		}
		item.LastError = err.Error()
		s.saveItem(ctx, job.ID, *item)
		s.passFailed(ctx, job, item, attempt, err)
	}
	if err != nil {
		item.Status = models.ItemFailed
		s.saveItem(ctx, job.ID, *item)
		return fmt.Errorf("%s: %w", item.Key(), err)
	}

	now := requestcontext.Now(ctx)
	item.Status = models.ItemErased
	item.PassHashes = hashes
	item.Empty = empty
	item.ErasedAt = &now
	item.LastError = ""
	if err := s.jobs.UpdateItem(ctx, job.ID, *item); err != nil {
		item.Status = models.ItemPending
		return fmt.Errorf("%s: persist proof: %w", item.Key(), err)
	}
	if err := s.remove(ctx, *item); err != nil {
		return fmt.Errorf("%s: remove: %w", item.Key(), err)
	}

	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventDeletionItemErased,
		RequestID: job.RequestID.String(),
		Payload: map[string]any{
			"deletion_id": job.ID.String(),
			"module":      item.Module,
			"item_id":     item.ItemID,
			"attempts":    item.Attempts,
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record erased item", "deletion_id", job.ID.String(), "error", err)
	}
	if s.metrics != nil {
		s.metrics.ItemsErased.Inc()
		s.metrics.ItemDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (s *Service) overwriteOnce(ctx context.Context, eraser collaborator.Eraser, itemID string) ([3]string, error) {
	h, err := eraser.Open(ctx, itemID)
	if err != nil {
		return [3]string{}, err
	}
	hashes, err := overwrite.ThreePass(h)
	if closeErr := h.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return hashes, err
}

func (s *Service) remove(ctx context.Context, it models.Item) error {
	eraser, err := s.erasers.Eraser(it.Module)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return eraser.Remove(ctx, it.ItemID)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to remove overwritten item", "module", it.Module, "error", err)
	}
	return err
}

func (s *Service) saveItem(ctx context.Context, id domain.DeletionID, it models.Item) {
	if err := s.jobs.UpdateItem(ctx, id, it); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist deletion item", "deletion_id", id.String(), "error", err)
	}
}

func (s *Service) passFailed(ctx context.Context, job *models.DeletionJob, item *models.Item, attempt int, cause error) {
	reason := "io_error"
	if errors.Is(cause, overwrite.ErrUnchanged) {
		reason = "content_unchanged"
	}
	if s.metrics != nil {
		s.metrics.PassFailures.WithLabelValues(reason).Inc()
	}
	s.logger.WarnContext(ctx, "overwrite verification failed",
		"deletion_id", job.ID.String(),
		"module", item.Module,
		"attempt", attempt,
		"reason", reason,
		"error", cause,
	)
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventDeletionVerificationFailed,
		Severity:  audit.SeverityWarning,
		RequestID: job.RequestID.String(),
		Payload: map[string]any{
			"deletion_id": job.ID.String(),
			"module":      item.Module,
			"item_id":     item.ItemID,
			"attempt":     attempt,
			"reason":      reason,
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record verification failure", "deletion_id", job.ID.String(), "error", err)
	}
}

// certify issues the certificate once every item is erased. A certificate
// already stored for the job is reused, so a retry never signs twice.
func (s *Service) certify(ctx context.Context, job *models.DeletionJob) (*models.DeletionJob, error) {
	if !job.Succeeded() {
		return nil, dErrors.New(dErrors.CodeDeletionVerificationFailed, "deletion job has unverified items")
	}

	cert, err := s.certs.GetCertificateByDeletion(ctx, job.ID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		cert, err = s.issue(ctx, job)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}

	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventCertificateIssued,
		RequestID: job.RequestID.String(),
		Payload: map[string]any{
			"deletion_id":    job.ID.String(),
			"certificate_id": cert.ID.String(),
			"item_count":     cert.ItemCount,
			"key_id":         cert.KeyID,
		},
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record certificate issuance")
	}

	now := requestcontext.Now(ctx)
	job.Status = models.StatusCompleted
	job.CertificateID = &cert.ID
	job.CompletedAt = &now
	job.FailureReason = ""
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete deletion job")
	}
	if s.metrics != nil {
		s.metrics.Jobs.WithLabelValues(string(models.StatusCompleted)).Inc()
	}
	s.logger.InfoContext(ctx, "deletion completed",
		"request_id", job.RequestID.String(),
		"deletion_id", job.ID.String(),
		"certificate_id", cert.ID.String(),
		"items", len(job.Items),
	)
	return job, nil
}

func (s *Service) issue(ctx context.Context, job *models.DeletionJob) (*models.Certificate, error) {
	now := requestcontext.Now(ctx)
	cert := &models.Certificate{
		ID:          domain.NewCertificateID(),
		DeletionID:  job.ID,
		RequestID:   job.RequestID,
		SubjectHash: job.SubjectHash,
		ItemCount:   len(job.Items),
		Method:      job.Method,
		IssuedAt:    now,
		RetainUntil: now.Add(s.cfg.CertificateRetention),
	}
	items := make([]models.CertificateItem, len(job.Items))
	for i, it := range job.Items {
		items[i] = models.CertificateItem{Module: it.Module, ItemID: it.ItemID, PassHashes: it.PassHashes, Empty: it.Empty}
	}
	if s.cfg.DigestThreshold > 0 && len(items) > s.cfg.DigestThreshold {
		cert.ItemsDigest = certificate.ItemsDigest(items)
	} else {
		cert.Items = items
	}

	if err := s.signer.Sign(cert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign certificate")
	}
	if err := s.verifier.Verify(cert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCertificateSignatureInvalid, "issued certificate does not verify")
	}
	err := s.certs.SaveCertificate(ctx, cert)
	if errors.Is(err, sentinel.ErrConflict) {
		return s.certs.GetCertificateByDeletion(ctx, job.ID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store certificate")
	}
	if s.metrics != nil {
		s.metrics.CertificatesIssued.Inc()
	}
	return cert, nil
}

// Status returns the deletion job.
func (s *Service) Status(ctx context.Context, id domain.DeletionID) (*models.DeletionJob, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "deletion not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load deletion")
	}
	return job, nil
}

// ByRequest returns the request's deletion job, or nil when none was started.
func (s *Service) ByRequest(ctx context.Context, requestID domain.RequestID) (*models.DeletionJob, error) {
	job, err := s.jobs.GetJobByRequest(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load deletion")
	}
	return job, nil
}

func (s *Service) Certificate(ctx context.Context, id domain.CertificateID) (*models.Certificate, error) {
	cert, err := s.certs.GetCertificate(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}

// CertificatePDF renders the stored certificate for printing.
func (s *Service) CertificatePDF(ctx context.Context, id domain.CertificateID) ([]byte, error) {
	cert, err := s.Certificate(ctx, id)
	if err != nil {
		return nil, err
	}
	return certificate.RenderPDF(cert)
}

// VerifyCertificateSignature re-verifies a stored certificate against the
// trusted public keys. An invalid signature is a critical security event.
func (s *Service) VerifyCertificateSignature(ctx context.Context, id domain.CertificateID) (bool, error) {
	cert, err := s.Certificate(ctx, id)
	if err != nil {
		return false, err
	}
	verr := s.verifier.Verify(cert)
	if s.metrics != nil {
		s.metrics.SignatureChecks.WithLabelValues(fmt.Sprintf("%t", verr == nil)).Inc()
	}
	if verr == nil {
		s.auditor.RecordAsync(ctx, audit.Entry{
			Action:    audit.EventCertificateVerified,
			RequestID: cert.RequestID.String(),
			Payload:   map[string]any{"certificate_id": id.String()},
		})
		return true, nil
	}

	s.logger.ErrorContext(ctx, "certificate signature invalid", "certificate_id", id.String(), "error", verr)
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventCertificateInvalid,
		Severity:  audit.SeverityCritical,
		RequestID: cert.RequestID.String(),
		Payload: map[string]any{
			"certificate_id": id.String(),
			"key_id":         cert.KeyID,
			"reason":         verr.Error(),
		},
	}); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record invalid certificate")
	}
	return false, nil
}

// CountCertificates is the number of certificates ever issued.
func (s *Service) CountCertificates(ctx context.Context) (int, error) {
	return s.certs.CountCertificates(ctx)
}
