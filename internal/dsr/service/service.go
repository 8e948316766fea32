// Package service is the DSR manager. It owns request records, drives them
// through the lifecycle state machine and hands work to the verification,
// discovery, export and deletion components.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	deletionModels "dsrengine/internal/deletion/models"
	deletionService "dsrengine/internal/deletion/service"
	discoveryModels "dsrengine/internal/discovery/models"
	"dsrengine/internal/dsr/metrics"
	"dsrengine/internal/dsr/models"
	exportModels "dsrengine/internal/export/models"
	exportService "dsrengine/internal/export/service"
	"dsrengine/internal/platform/config"
	timelineModels "dsrengine/internal/timeline/models"
	verificationModels "dsrengine/internal/verification/models"
	verificationService "dsrengine/internal/verification/service"
	"dsrengine/internal/workqueue"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	"dsrengine/pkg/email"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/retry"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
)

var tracer = otel.Tracer("dsrengine/dsr")

const (
	maxDescriptionLength = 2000
	maxAnnotationLength  = 2000
	// lockMargin keeps a subject lock alive a little past the legal deadline
	// so expiry, not the TTL, ends the hold.
	lockMargin = time.Hour
)

type Store interface {
	Create(ctx context.Context, r *models.Request) error
	Get(ctx context.Context, id domain.RequestID) (*models.Request, error)
	Update(ctx context.Context, r *models.Request) error
	ListOpen(ctx context.Context) ([]*models.Request, error)
	Counts(ctx context.Context, now time.Time) (*models.Counts, error)
}

type FlagStore interface {
	SaveFlags(ctx context.Context, flags []models.ProcessingFlag) error
	ListFlags(ctx context.Context, requestID domain.RequestID) ([]models.ProcessingFlag, error)
}

// SubjectLock serializes export and deletion work per subject.
type SubjectLock interface {
	Acquire(ctx context.Context, subject domain.SubjectID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, subject domain.SubjectID, owner string) error
}

type Verifier interface {
	Initiate(ctx context.Context, cmd verificationService.InitiateCommand) (*verificationModels.SessionView, error)
	VerifyEmailToken(ctx context.Context, subject domain.SubjectID, token string) error
	VerifyKnowledgeBased(ctx context.Context, subject domain.SubjectID, answers map[string]string) error
	Complete(ctx context.Context, subject domain.SubjectID, claimed []verificationModels.Method) (*verificationModels.Result, error)
}

type Discoverer interface {
	Discover(ctx context.Context, requestID domain.RequestID, subject domain.SubjectID) (*discoveryModels.Manifest, error)
}

type Exporter interface {
	InitiateExport(ctx context.Context, cmd exportService.InitiateCommand) (*exportModels.ExportJob, error)
	Status(ctx context.Context, id domain.ExportID) (*exportModels.ExportJob, error)
	ByRequest(ctx context.Context, requestID domain.RequestID) ([]*exportModels.ExportJob, error)
	Download(ctx context.Context, id domain.ExportID) (*exportModels.Download, error)
	SweepExpired(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

type Eraser interface {
	InitiateDeletion(ctx context.Context, cmd deletionService.InitiateCommand) (*deletionModels.DeletionJob, error)
	Status(ctx context.Context, id domain.DeletionID) (*deletionModels.DeletionJob, error)
	ByRequest(ctx context.Context, requestID domain.RequestID) (*deletionModels.DeletionJob, error)
	Certificate(ctx context.Context, id domain.CertificateID) (*deletionModels.Certificate, error)
	CertificatePDF(ctx context.Context, id domain.CertificateID) ([]byte, error)
	VerifyCertificateSignature(ctx context.Context, id domain.CertificateID) (bool, error)
	CountCertificates(ctx context.Context) (int, error)
}

type Timeline interface {
	Register(ctx context.Context, requestID domain.RequestID, createdAt, deadline time.Time) error
	Close(ctx context.Context, requestID domain.RequestID) error
	Escalate(ctx context.Context, requestID domain.RequestID, reason timelineModels.EscalationReason, detail string) (*timelineModels.Escalation, error)
	CountEscalations(ctx context.Context) (int, error)
	Sweep(ctx context.Context) (timelineModels.SweepResult, error)
}

// Config holds the manager's lifecycle settings.
type Config struct {
	Deadline             time.Duration
	RiskThreshold        float64
	RetryBackoff         []time.Duration
	MaxDiscoveryAttempts int
	StaleAfter           time.Duration
}

func DefaultConfig() Config {
	return ConfigFrom(config.DefaultConfig())
}

// ConfigFrom picks the manager settings out of the engine configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Deadline:             cfg.Timeline.Deadline(),
		RiskThreshold:        cfg.Verification.RiskThreshold,
		RetryBackoff:         cfg.DSR.RetryBackoff,
		MaxDiscoveryAttempts: cfg.DSR.MaxDiscoveryAttempts,
		StaleAfter:           cfg.DSR.DiscoveryStaleAfter,
	}
}

// MaxRetries is the number of automatic retries before escalation.
func (c Config) MaxRetries() int {
	return len(c.RetryBackoff)
}

type Service struct {
	store      Store
	flags      FlagStore
	locks      SubjectLock
	verifier   Verifier
	discoverer Discoverer
	exporter   Exporter
	eraser     Eraser
	timeline   Timeline
	queue      workqueue.Queue
	auditor    audit.Recorder
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cfg        Config
	conflicts  retry.Policy
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithRetryPolicy controls how often a write lost to a concurrent update is
// replayed. Retryable is always restricted to version conflicts.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.conflicts = p }
}

func New(
	store Store,
	flags FlagStore,
	locks SubjectLock,
	verifier Verifier,
	discoverer Discoverer,
	exporter Exporter,
	eraser Eraser,
	timeline Timeline,
	queue workqueue.Queue,
	auditor audit.Recorder,
	opts ...Option,
) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("request store is required")
	case flags == nil:
		return nil, errors.New("flag store is required")
	case locks == nil:
		return nil, errors.New("subject lock is required")
	case verifier == nil:
		return nil, errors.New("identity verifier is required")
	case discoverer == nil:
		return nil, errors.New("discoverer is required")
	case exporter == nil:
		return nil, errors.New("exporter is required")
	case eraser == nil:
		return nil, errors.New("eraser is required")
	case timeline == nil:
		return nil, errors.New("timeline is required")
	case queue == nil:
		return nil, errors.New("work queue is required")
	case auditor == nil:
		return nil, errors.New("audit recorder is required")
	}
	s := &Service{
		store:      store,
		flags:      flags,
		locks:      locks,
		verifier:   verifier,
		discoverer: discoverer,
		exporter:   exporter,
		eraser:     eraser,
		timeline:   timeline,
		queue:      queue,
		auditor:    auditor,
		logger:     slog.Default(),
		cfg:        DefaultConfig(),
		conflicts:  retry.Policy{Attempts: 5, BaseDelay: 5 * time.Millisecond, MaxDelay: 100 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.conflicts.Retryable = isConflict
	return s, nil
}

func isConflict(err error) bool {
	return errors.Is(err, sentinel.ErrConflict)
}

// SubmitCommand is a new request as received from the subject.
type SubmitCommand struct {
	SubjectID   string
	Contact     string
	Type        string
	Description string
	Priority    string
}

type submission struct {
	subject  domain.SubjectID
	contact  string
	typ      models.Type
	priority models.Priority
}

func (c *SubmitCommand) parse() (*submission, error) {
	subject, err := domain.ParseSubjectID(c.SubjectID)
	if err != nil {
		return nil, err
	}
	contact, err := email.Normalize(c.Contact)
	if err != nil {
		return nil, err
	}
	typ, err := models.ParseType(c.Type)
	if err != nil {
		return nil, err
	}
	priority, err := models.ParsePriority(c.Priority)
	if err != nil {
		return nil, err
	}
	if len(c.Description) > maxDescriptionLength {
		return nil, dErrors.Newf(dErrors.CodeValidation, "description exceeds %d bytes", maxDescriptionLength)
	}
	return &submission{subject: subject, contact: contact, typ: typ, priority: priority}, nil
}

// Submit records a new request in RECEIVED, registers its legal deadline and
// queues it for advancement. Verification and processing happen later.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "dsr.Submit")
	defer span.End()

	sub, err := cmd.parse()
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	r := &models.Request{
		ID:          domain.NewRequestID(),
		SubjectID:   sub.subject,
		Contact:     sub.contact,
		Type:        sub.typ,
		Priority:    sub.priority,
		Description: strings.TrimSpace(cmd.Description),
		Status:      models.StatusReceived,
		CreatedAt:   now,
		Deadline:    now.Add(s.cfg.Deadline),
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
	}
	// Recovery re-registers open requests, so a failure here is not fatal.
	if err := s.timeline.Register(ctx, r.ID, r.CreatedAt, r.Deadline); err != nil {
		s.logger.ErrorContext(ctx, "failed to register request deadline", "request_id", r.ID.String(), "error", err)
	}
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventDSRSubmitted,
		RequestID: r.ID.String(),
		Payload: map[string]any{
			"subject_id": string(r.SubjectID),
			"type":       string(r.Type),
			"priority":   string(r.Priority),
			"deadline":   r.Deadline.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record submission", "request_id", r.ID.String(), "error", err)
	}
	if s.metrics != nil {
		s.metrics.Submitted.WithLabelValues(string(r.Type)).Inc()
	}
	s.dispatch(ctx, workqueue.KindAdvance, r.ID)
	s.logger.InfoContext(ctx, "dsr request submitted",
		"request_id", r.ID.String(),
		"type", string(r.Type),
		"priority", string(r.Priority),
	)
	return r, nil
}

// Status reports the request state and the time left before its deadline.
func (s *Service) Status(ctx context.Context, id domain.RequestID) (*models.StatusView, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	view := r.View(requestcontext.Now(ctx))
	return &view, nil
}

// Request returns the full request record.
func (s *Service) Request(ctx context.Context, id domain.RequestID) (*models.Request, error) {
	return s.load(ctx, id)
}

// Flags lists the processing flags recorded for a request.
func (s *Service) Flags(ctx context.Context, id domain.RequestID) ([]models.ProcessingFlag, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	flags, err := s.flags.ListFlags(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list processing flags")
	}
	return flags, nil
}

// Cancel withdraws a request that has not reached PROCESSING.
func (s *Service) Cancel(ctx context.Context, id domain.RequestID, reason string) (*models.StatusView, error) {
	var r *models.Request
	err := retry.Do(ctx, s.conflicts, func(ctx context.Context) error {
		var err error
		r, err = s.load(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		if r.Status.IsTerminal() {
			return retry.Permanent(dErrors.Newf(dErrors.CodeConflict, "request is already %s", r.Status))
		}
		if !r.Status.Cancellable() {
			return retry.Permanent(dErrors.Newf(dErrors.CodeConflict, "request cannot be cancelled in %s", r.Status))
		}
		now := requestcontext.Now(ctx)
		from := r.Status
		r.Status = models.StatusCancelled
		r.ClosedAt = &now
		r.UpdatedAt = now
		if err := s.store.Update(ctx, r); err != nil {
			return err
		}
		s.countTransition(from, r.Status)
		return nil
	})
	if err != nil {
		return nil, s.writeError(err, "failed to cancel request")
	}

	s.releaseLock(ctx, r)
	if err := s.timeline.Close(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "failed to close timeline", "request_id", id.String(), "error", err)
	}
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventDSRCancelled,
		RequestID: id.String(),
		Payload:   map[string]any{"reason": strings.TrimSpace(reason)},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record cancellation", "request_id", id.String(), "error", err)
	}
	view := r.View(requestcontext.Now(ctx))
	return &view, nil
}

// Annotate attaches an operator note to a request. Closed requests accept
// annotations; they are recorded only in the audit log.
func (s *Service) Annotate(ctx context.Context, id domain.RequestID, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return dErrors.New(dErrors.CodeValidation, "annotation is required")
	}
	if len(note) > maxAnnotationLength {
		return dErrors.Newf(dErrors.CodeValidation, "annotation exceeds %d bytes", maxAnnotationLength)
	}
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Actor:     requestcontext.Actor(ctx),
		Action:    audit.EventDSRAnnotated,
		RequestID: id.String(),
		Payload:   map[string]any{"note": note, "status": string(r.Status)},
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record annotation")
	}
	return nil
}

// Statistics aggregates request counts with the export, certificate and
// escalation totals.
func (s *Service) Statistics(ctx context.Context) (*models.Stats, error) {
	now := requestcontext.Now(ctx)
	counts, err := s.store.Counts(ctx, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count requests")
	}
	certs, err := s.eraser.CountCertificates(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count certificates")
	}
	exports, err := s.exporter.Count(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count exports")
	}
	escalations, err := s.timeline.CountEscalations(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count escalations")
	}

	stats := &models.Stats{
		ByStatus:           make(map[models.Status]int, len(models.AllStatuses)),
		ByType:             counts.ByType,
		Overdue:            counts.Overdue,
		CertificatesIssued: certs,
		ExportsCreated:     exports,
		Escalations:        escalations,
		GeneratedAt:        now,
	}
	for _, st := range models.AllStatuses {
		n := counts.ByStatus[st]
		stats.ByStatus[st] = n
		stats.Total += n
	}
	if counts.Completed > 0 {
		stats.AverageCompletion = counts.TotalCompletion / time.Duration(counts.Completed)
		stats.AverageCompletionH = stats.AverageCompletion.Hours()
	}
	return stats, nil
}

func (s *Service) load(ctx context.Context, id domain.RequestID) (*models.Request, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	return r, nil
}

// writeError maps the result of a conflict-retried write.
func (s *Service) writeError(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case isConflict(err):
		return dErrors.New(dErrors.CodeConflict, "request was modified concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) dispatch(ctx context.Context, kind workqueue.Kind, id domain.RequestID) {
	t := workqueue.NewTask(kind, id, requestcontext.Now(ctx))
	if err := s.queue.Enqueue(ctx, t); err != nil {
		// The scheduler redispatches work whose dispatch went stale.
		s.logger.ErrorContext(ctx, "failed to enqueue task",
			"kind", string(kind),
			"request_id", id.String(),
			"error", err,
		)
	}
}

func (s *Service) lockTTL(r *models.Request, now time.Time) time.Duration {
	return max(r.Deadline.Sub(now), 0) + lockMargin
}

func (s *Service) releaseLock(ctx context.Context, r *models.Request) {
	if err := s.locks.Release(ctx, r.SubjectID, ownerOf(r)); err != nil {
		s.logger.ErrorContext(ctx, "failed to release subject lock", "request_id", r.ID.String(), "error", err)
		return
	}
	s.auditor.RecordAsync(ctx, audit.Entry{
		Action:    audit.EventSubjectLockReleased,
		RequestID: r.ID.String(),
	})
}

func (s *Service) countTransition(from, to models.Status) {
	if s.metrics != nil && from != to {
		s.metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

func ownerOf(r *models.Request) string {
	return r.ID.String()
}

// describe returns the message of the outermost coded error.
func describe(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
