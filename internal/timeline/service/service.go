// Package service tracks legal deadlines for DSR requests and raises escalations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"dsrengine/internal/timeline/metrics"
	"dsrengine/internal/timeline/models"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, t *models.Timeline) error
	Get(ctx context.Context, requestID domain.RequestID) (*models.Timeline, error)
	MarkWarning(ctx context.Context, requestID domain.RequestID, days int) error
	Close(ctx context.Context, requestID domain.RequestID, at time.Time) error
	ListOpen(ctx context.Context) ([]*models.Timeline, error)
	SaveEscalation(ctx context.Context, e *models.Escalation) error
	MarkEscalationDelivered(ctx context.Context, id uuid.UUID, seq uint64, at time.Time) error
	ListUndelivered(ctx context.Context) ([]*models.Escalation, error)
	ListEscalations(ctx context.Context, requestID domain.RequestID) ([]*models.Escalation, error)
	CountEscalations(ctx context.Context) (int, error)
}

// Notifier pages a human operator. It is only called when auto escalation is on;
// the escalation record and audit event are written either way.
type Notifier interface {
	NotifyEscalation(ctx context.Context, e *models.Escalation) error
}

type Service struct {
	store          Store
	auditor        audit.Recorder
	notifier       Notifier
	logger         *slog.Logger
	metrics        *metrics.Metrics
	warningDays    []int
	autoEscalation bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithWarningDays overrides the default 10/5/2 day thresholds.
func WithWarningDays(days []int) Option {
	return func(s *Service) {
		if len(days) > 0 {
			s.warningDays = days
		}
	}
}

func WithAutoEscalation(enabled bool) Option {
	return func(s *Service) { s.autoEscalation = enabled }
}

func New(store Store, auditor audit.Recorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("timeline store is required")
	}
	if auditor == nil {
		return nil, errors.New("audit recorder is required")
	}
	s := &Service{
		store:          store,
		auditor:        auditor,
		logger:         slog.Default(),
		warningDays:    []int{10, 5, 2},
		autoEscalation: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register starts tracking a deadline. Registering the same request twice is a no-op.
func (s *Service) Register(ctx context.Context, requestID domain.RequestID, createdAt, deadline time.Time) error {
	if !deadline.After(createdAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "deadline must be after creation")
	}
	err := s.store.Create(ctx, &models.Timeline{
		RequestID: requestID,
		CreatedAt: createdAt,
		Deadline:  deadline,
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register timeline")
	}
	s.auditor.RecordAsync(ctx, audit.Entry{
		Action:    audit.EventTimelineRegistered,
		RequestID: requestID.String(),
		Payload:   map[string]any{"deadline": deadline.UTC().Format(time.RFC3339)},
	})
	return nil
}

// Get returns the tracked timeline.
func (s *Service) Get(ctx context.Context, requestID domain.RequestID) (*models.Timeline, error) {
	t, err := s.store.Get(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "timeline not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load timeline")
	}
	return t, nil
}

// WarnIfDue fires every crossed, unsent threshold for the request and returns them.
// The warning is durable in the audit log before it is marked as sent.
func (s *Service) WarnIfDue(ctx context.Context, requestID domain.RequestID) ([]int, error) {
	t, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.warn(ctx, t, requestcontext.Now(ctx))
}

func (s *Service) warn(ctx context.Context, t *models.Timeline, now time.Time) ([]int, error) {
	due := t.DueWarnings(now, s.warningDays)
	for _, days := range due {
		_, err := s.auditor.Record(ctx, audit.Entry{
			Action:    audit.EventEscalationRaised,
			Category:  models.ReasonDeadlineApproaching.Category(),
			Severity:  audit.SeverityWarning,
			RequestID: t.RequestID.String(),
			Payload: map[string]any{
				"reason":         string(models.ReasonDeadlineApproaching),
				"days_remaining": days,
				"deadline":       t.Deadline.UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.MarkWarning(ctx, t.RequestID, days); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark deadline warning")
		}
		s.logger.WarnContext(ctx, "dsr deadline approaching",
			"event", audit.EventEscalationRaised,
			"reason", models.ReasonDeadlineApproaching,
			"log_type", "audit",
			"request_id", t.RequestID.String(),
			"days_remaining", days,
		)
		if s.metrics != nil {
			s.metrics.WarningsFired.WithLabelValues(strconv.Itoa(days)).Inc()
		}
	}
	return due, nil
}

// Escalate persists an escalation, then records it durably in the audit log.
// If the audit write fails the escalation stays pending and Sweep retries it.
func (s *Service) Escalate(ctx context.Context, requestID domain.RequestID, reason models.EscalationReason, detail string) (*models.Escalation, error) {
	e := &models.Escalation{
		ID:        uuid.New(),
		RequestID: requestID,
		Reason:    reason,
		Detail:    detail,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.store.SaveEscalation(ctx, e); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist escalation")
	}
	if s.metrics != nil {
		s.metrics.EscalationsRaised.WithLabelValues(string(reason)).Inc()
	}
	if err := s.deliver(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "escalation pending delivery",
			"request_id", requestID.String(),
			"reason", reason,
			"error", err,
		)
		return e, err
	}
	return e, nil
}

func (s *Service) deliver(ctx context.Context, e *models.Escalation) error {
	event, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventEscalationRaised,
		Category:  e.Reason.Category(),
		Severity:  audit.SeverityCritical,
		RequestID: e.RequestID.String(),
		Payload: map[string]any{
			"escalation_id": e.ID.String(),
			"reason":        string(e.Reason),
			"detail":        e.Detail,
		},
	})
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	if err := s.store.MarkEscalationDelivered(ctx, e.ID, event.Seq, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark escalation delivered")
	}
	e.DeliveredAt = &now
	e.AuditSeq = event.Seq

	s.logger.ErrorContext(ctx, "dsr escalated to operator",
		"event", audit.EventEscalationRaised,
		"log_type", "audit",
		"request_id", e.RequestID.String(),
		"reason", e.Reason,
	)
	if s.autoEscalation && s.notifier != nil {
		if err := s.notifier.NotifyEscalation(ctx, e); err != nil {
			s.logger.ErrorContext(ctx, "operator notification failed",
				"request_id", e.RequestID.String(),
				"error", err,
			)
		}
	}
	return nil
}

// Close stops tracking a request that reached a terminal state.
func (s *Service) Close(ctx context.Context, requestID domain.RequestID) error {
	err := s.store.Close(ctx, requestID, requestcontext.Now(ctx))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to close timeline")
	}
	return nil
}

// Escalations lists escalations raised for a request, oldest first.
func (s *Service) Escalations(ctx context.Context, requestID domain.RequestID) ([]*models.Escalation, error) {
	out, err := s.store.ListEscalations(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list escalations")
	}
	return out, nil
}

// CountEscalations is used by processing statistics.
func (s *Service) CountEscalations(ctx context.Context) (int, error) {
	n, err := s.store.CountEscalations(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count escalations")
	}
	return n, nil
}

// Sweep fires due warnings for every open timeline, reports which are overdue
// and retries undelivered escalations. Overdue requests are left for the
// manager to expire.
func (s *Service) Sweep(ctx context.Context) (models.SweepResult, error) {
	now := requestcontext.Now(ctx)
	var result models.SweepResult

	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return result, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list open timelines")
	}
	var errs []error
	for _, t := range open {
		if t.Remaining(now) <= 0 {
			result.Overdue = append(result.Overdue, t.RequestID)
			continue
		}
		fired, err := s.warn(ctx, t, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Warned += len(fired)
	}

	pending, err := s.store.ListUndelivered(ctx)
	if err != nil {
		errs = append(errs, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list undelivered escalations"))
	}
	for _, e := range pending {
		if err := s.deliver(ctx, e); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Redelivered++
	}
	if s.metrics != nil {
		s.metrics.OverdueRequests.Set(float64(len(result.Overdue)))
		s.metrics.EscalationsPending.Set(float64(len(pending) - result.Redelivered))
	}
	return result, errors.Join(errs...)
}
