package models

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"dsrengine/pkg/domain"
	audit "dsrengine/pkg/platform/audit"
)

// Timeline tracks the legal deadline of one DSR request.
type Timeline struct {
	RequestID    domain.RequestID
	CreatedAt    time.Time
	Deadline     time.Time
	WarningsSent []int
	ClosedAt     *time.Time
}

// IsOpen reports whether the request is still being tracked.
func (t *Timeline) IsOpen() bool {
	return t.ClosedAt == nil
}

// WarningSent reports whether the days-remaining threshold already fired.
func (t *Timeline) WarningSent(days int) bool {
	return slices.Contains(t.WarningsSent, days)
}

// Remaining is the time left until the deadline, negative once it has passed.
func (t *Timeline) Remaining(now time.Time) time.Duration {
	return t.Deadline.Sub(now)
}

// DaysRemaining floors the remaining time to whole days, never below zero.
func (t *Timeline) DaysRemaining(now time.Time) int {
	remaining := t.Remaining(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / (24 * time.Hour))
}

// DueWarnings returns the thresholds that are crossed at now and not yet sent,
// largest first. Nothing is due once the deadline has passed.
func (t *Timeline) DueWarnings(now time.Time, thresholds []int) []int {
	remaining := t.Remaining(now)
	if !t.IsOpen() || remaining <= 0 {
		return nil
	}
	sorted := slices.Clone(thresholds)
	slices.Sort(sorted)
	slices.Reverse(sorted)

	var due []int
	for _, days := range sorted {
		if remaining <= time.Duration(days)*24*time.Hour && !t.WarningSent(days) {
			due = append(due, days)
		}
	}
	return due
}

// EscalationReason explains why a human operator is being pulled in.
type EscalationReason string

const (
	ReasonRetriesExhausted   EscalationReason = "retries_exhausted"
	ReasonDeadlineExceeded   EscalationReason = "deadline_exceeded"
	ReasonSignatureInvalid   EscalationReason = "certificate_signature_invalid"
	ReasonManifestIncomplete EscalationReason = "manifest_incomplete"
	ReasonDeletionUnverified EscalationReason = "deletion_verification_failed"
	// ReasonDeadlineApproaching marks the graded warnings before the deadline.
	// They are escalation events in the audit log but not operator hand-offs.
	ReasonDeadlineApproaching EscalationReason = "deadline_approaching"
)

// Category maps a reason to the audit category it is recorded under.
func (r EscalationReason) Category() audit.EventCategory {
	switch r {
	case ReasonSignatureInvalid, ReasonDeletionUnverified:
		return audit.CategorySecurity
	default:
		return audit.CategoryCompliance
	}
}

// Escalation is a durable record of a hand-off to an operator. It stays
// undelivered until its audit event is persisted, and is retried until then.
type Escalation struct {
	ID          uuid.UUID
	RequestID   domain.RequestID
	Reason      EscalationReason
	Detail      string
	CreatedAt   time.Time
	DeliveredAt *time.Time
	AuditSeq    uint64
}

func (e *Escalation) Delivered() bool {
	return e.DeliveredAt != nil
}

// SweepResult summarizes one pass over open timelines.
type SweepResult struct {
	Warned      int
	Overdue     []domain.RequestID
	Redelivered int
}
