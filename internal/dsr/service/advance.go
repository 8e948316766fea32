package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dsrengine/internal/dsr/models"
	timelineModels "dsrengine/internal/timeline/models"
	"dsrengine/internal/workqueue"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/retry"
	"dsrengine/pkg/requestcontext"
)

// report is a processing outcome observed by the caller rather than read
// back from the export or deletion records.
type report struct {
	outcome models.Outcome
	code    dErrors.Code
	reason  string
}

// Advance re-evaluates the request against persisted state and takes at
// most one step. It is safe to call any number of times.
func (s *Service) Advance(ctx context.Context, id domain.RequestID) (models.Decision, error) {
	return s.advance(ctx, id, nil)
}

func (s *Service) advance(ctx context.Context, id domain.RequestID, rep *report) (models.Decision, error) {
	ctx, span := tracer.Start(ctx, "dsr.Advance")
	defer span.End()

	var d models.Decision
	err := retry.Do(ctx, s.conflicts, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		ev, err := s.evidence(ctx, r, rep)
		if err != nil {
			return retry.Permanent(err)
		}
		d = models.Advance(r, ev)
		if !d.Changes() {
			return nil
		}
		d, err = s.apply(ctx, r, d)
		return err
	})
	if err != nil {
		return d, s.writeError(err, "failed to advance request")
	}
	span.SetAttributes(
		attribute.String("dsr.from", string(d.From)),
		attribute.String("dsr.to", string(d.To)),
		attribute.String("dsr.action", string(d.Action)),
	)
	if d.To != d.From && !d.To.IsTerminal() {
		s.dispatch(ctx, workqueue.KindAdvance, id)
	}
	return d, nil
}

func (s *Service) evidence(ctx context.Context, r *models.Request, rep *report) (models.Evidence, error) {
	ev := models.Evidence{
		Now:                  requestcontext.Now(ctx),
		RiskThreshold:        s.cfg.RiskThreshold,
		MaxRetries:           s.cfg.MaxRetries(),
		MaxDiscoveryAttempts: s.cfg.MaxDiscoveryAttempts,
		StaleAfter:           s.cfg.StaleAfter,
	}
	if r.Status != models.StatusProcessing {
		return ev, nil
	}
	if rep != nil {
		ev.Outcome, ev.OutcomeCode, ev.OutcomeReason = rep.outcome, rep.code, rep.reason
		return ev, nil
	}
	observed, err := s.observe(ctx, r)
	if err != nil {
		return ev, err
	}
	ev.Outcome, ev.OutcomeCode, ev.OutcomeReason = observed.outcome, observed.code, observed.reason
	return ev, nil
}

// observe reads the processing outcome back from the export, deletion and
// flag records. A failed deletion job reads as pending: failures are
// reported by the worker that saw them, and a stale dispatch reruns the job.
func (s *Service) observe(ctx context.Context, r *models.Request) (report, error) {
	pending := report{outcome: models.OutcomePending}
	switch {
	case r.Type.Exports():
		jobs, err := s.exporter.ByRequest(ctx, r.ID)
		if err != nil {
			return pending, err
		}
		if len(jobs) > 0 {
			return report{outcome: models.OutcomeDone}, nil
		}
	case r.Type == models.TypeErasure:
		job, err := s.eraser.ByRequest(ctx, r.ID)
		if err != nil || job == nil || job.CertificateID == nil {
			return pending, err
		}
		valid, err := s.eraser.VerifyCertificateSignature(ctx, *job.CertificateID)
		if err != nil {
			return pending, err
		}
		if !valid {
			return report{
				outcome: models.OutcomeFatal,
				code:    dErrors.CodeCertificateSignatureInvalid,
				reason:  "deletion certificate signature did not verify",
			}, nil
		}
		return report{outcome: models.OutcomeDone}, nil
	case r.Type.Flags():
		if r.Manifest == nil {
			return pending, nil
		}
		flags, err := s.flags.ListFlags(ctx, r.ID)
		if err != nil {
			return pending, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list processing flags")
		}
		if len(flags) >= len(r.Manifest.Entries) {
			return report{outcome: models.OutcomeDone}, nil
		}
	}
	return pending, nil
}

// apply persists the decision and performs its side effects. It may downgrade
// the decision to a no-op, e.g. when the subject lock is held elsewhere.
func (s *Service) apply(ctx context.Context, r *models.Request, d models.Decision) (models.Decision, error) {
	now := requestcontext.Now(ctx)
	var after []func()

	switch d.Action {
	case models.ActionTransition:
		r.Status = d.To

	case models.ActionDispatchDiscovery:
		r.Status = d.To
		r.Manifest = nil
		r.DiscoveryAttempts++
		r.DispatchedAt = &now
		after = append(after, func() { s.dispatch(ctx, workqueue.KindDiscover, r.ID) })

	case models.ActionStartProcessing:
		ok, err := s.locks.Acquire(ctx, r.SubjectID, ownerOf(r), s.lockTTL(r, now))
		if err != nil {
			return d, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire subject lock")
		}
		if !ok {
			s.logger.InfoContext(ctx, "subject busy with another request, processing deferred", "request_id", r.ID.String())
			return models.Decision{From: r.Status, To: r.Status, Action: models.ActionNone, Reason: "subject locked by another request"}, nil
		}
		after = append(after, func() {
			s.auditor.RecordAsync(ctx, audit.Entry{Action: audit.EventSubjectLockAcquired, RequestID: r.ID.String()})
		})
		r.Status = d.To
		r.DispatchedAt = nil
		if !r.Type.Exports() {
			r.DispatchedAt = &now
			after = append(after, func() { s.dispatch(ctx, workqueue.KindProcess, r.ID) })
		}

	case models.ActionDispatchProcess:
		r.DispatchedAt = &now
		after = append(after, func() { s.dispatch(ctx, workqueue.KindProcess, r.ID) })

	case models.ActionComplete:
		r.Status = d.To
		r.ClosedAt = &now
		r.FailureCode, r.FailureReason = "", ""
		after = append(after, func() { s.completed(ctx, r) })

	case models.ActionFail:
		r.Status = d.To
		r.FailedFrom = d.From
		r.FailureCode = d.Code
		r.FailureReason = d.Reason
		r.DispatchedAt = nil
		r.NextRetryAt = nil
		if d.Fatal {
			r.Escalated = true
		} else if r.RetryCount < len(s.cfg.RetryBackoff) {
			at := now.Add(s.cfg.RetryBackoff[r.RetryCount])
			r.NextRetryAt = &at
		}
		after = append(after, func() { s.failed(ctx, r, d) })

	case models.ActionRetry:
		r.Status = d.To
		r.RetryCount++
		r.NextRetryAt = nil
		r.DispatchedAt = nil
		r.FailureCode, r.FailureReason, r.FailedFrom = "", "", ""
		if d.To == models.StatusDiscovering {
			r.Manifest = nil
			r.DiscoveryAttempts = 0
		}

	case models.ActionEscalate:
		r.Escalated = true
		after = append(after, func() {
			s.escalate(ctx, r, escalationReason(r.FailureCode), "automatic retries exhausted: "+r.FailureReason)
		})

	case models.ActionExpire:
		r.Status = d.To
		r.ClosedAt = &now
		r.FailureCode = d.Code
		r.FailureReason = d.Reason
		r.Escalated = true
		after = append(after, func() { s.expired(ctx, r) })
	}

	r.UpdatedAt = now
	if err := s.store.Update(ctx, r); err != nil {
		return d, err
	}
	s.countTransition(d.From, r.Status)
	if d.From != r.Status {
		if _, err := s.auditor.Record(ctx, audit.Entry{
			Action:    audit.EventDSRStatusChanged,
			RequestID: r.ID.String(),
			Payload: map[string]any{
				"from":   string(d.From),
				"to":     string(r.Status),
				"action": string(d.Action),
				"reason": d.Reason,
			},
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to record status change", "request_id", r.ID.String(), "error", err)
		}
	}
	for _, fn := range after {
		fn()
	}
	s.logger.InfoContext(ctx, "dsr request advanced",
		"request_id", r.ID.String(),
		"from", string(d.From),
		"to", string(r.Status),
		"action", string(d.Action),
	)
	return d, nil
}

func (s *Service) completed(ctx context.Context, r *models.Request) {
	s.releaseLock(ctx, r)
	if err := s.timeline.Close(ctx, r.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to close timeline", "request_id", r.ID.String(), "error", err)
	}
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventDSRCompleted,
		RequestID: r.ID.String(),
		Payload: map[string]any{
			"type":         string(r.Type),
			"retries":      r.RetryCount,
			"completed_at": r.ClosedAt.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record completion", "request_id", r.ID.String(), "error", err)
	}
	if s.metrics != nil {
		s.metrics.Completion.Observe(r.ClosedAt.Sub(r.CreatedAt).Hours())
	}
}

func (s *Service) failed(ctx context.Context, r *models.Request, d models.Decision) {
	s.releaseLock(ctx, r)
	if s.metrics != nil {
		s.metrics.Failures.WithLabelValues(string(d.Code)).Inc()
	}
	s.logger.WarnContext(ctx, "dsr request failed",
		"request_id", r.ID.String(),
		"failed_from", string(d.From),
		"code", string(d.Code),
		"reason", d.Reason,
		"fatal", d.Fatal,
	)
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventDSRFailed,
		Severity:  audit.SeverityWarning,
		RequestID: r.ID.String(),
		Payload: map[string]any{
			"failed_from": string(d.From),
			"code":        string(d.Code),
			"reason":      d.Reason,
			"retry_count": r.RetryCount,
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record failure", "request_id", r.ID.String(), "error", err)
	}
	switch {
	case d.Fatal:
		s.escalate(ctx, r, escalationReason(d.Code), d.Reason)
	case r.NextRetryAt != nil:
		s.auditor.RecordAsync(ctx, audit.Entry{
			Action:    audit.EventDSRRetryScheduled,
			RequestID: r.ID.String(),
			Payload: map[string]any{
				"attempt":  r.RetryCount + 1,
				"retry_at": r.NextRetryAt.UTC().Format(time.RFC3339),
			},
		})
	}
}

func (s *Service) expired(ctx context.Context, r *models.Request) {
	s.releaseLock(ctx, r)
	s.escalate(ctx, r, timelineModels.ReasonDeadlineExceeded, "legal deadline passed before completion")
	if err := s.timeline.Close(ctx, r.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to close timeline", "request_id", r.ID.String(), "error", err)
	}
}

// escalate hands the request to an operator. The timeline keeps undelivered
// escalations and retries them on every sweep.
func (s *Service) escalate(ctx context.Context, r *models.Request, reason timelineModels.EscalationReason, detail string) {
	if _, err := s.timeline.Escalate(ctx, r.ID, reason, detail); err != nil {
		s.logger.ErrorContext(ctx, "failed to escalate request",
			"request_id", r.ID.String(),
			"reason", string(reason),
			"error", err,
		)
	}
	if s.metrics != nil {
		s.metrics.Escalations.WithLabelValues(string(reason)).Inc()
	}
}

func escalationReason(code dErrors.Code) timelineModels.EscalationReason {
	switch code {
	case dErrors.CodeManifestIncomplete:
		return timelineModels.ReasonManifestIncomplete
	case dErrors.CodeDeletionVerificationFailed:
		return timelineModels.ReasonDeletionUnverified
	case dErrors.CodeCertificateSignatureInvalid:
		return timelineModels.ReasonSignatureInvalid
	case dErrors.CodeDeadlineExceeded:
		return timelineModels.ReasonDeadlineExceeded
	}
	return timelineModels.ReasonRetriesExhausted
}
