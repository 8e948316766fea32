package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and alert routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// request lifecycle, exports, deletions, certificates, escalations.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// Examples: verification lockouts, rate limit breaches, signature failures.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Severity levels for audit events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AuditEvent string

const (
	// Request lifecycle
	EventDSRSubmitted      AuditEvent = "dsr_submitted"
	EventDSRStatusChanged  AuditEvent = "dsr_status_changed"
	EventDSRCancelled      AuditEvent = "dsr_cancelled"
	EventDSRFailed         AuditEvent = "dsr_failed"
	EventDSRRetryScheduled AuditEvent = "dsr_retry_scheduled"
	EventDSRCompleted      AuditEvent = "dsr_completed"
	EventDSRAnnotated      AuditEvent = "dsr_annotated"
	EventProcessingFlagged AuditEvent = "processing_flag_recorded"

	// Identity verification
	EventVerificationInitiated   AuditEvent = "verification_initiated"
	EventVerificationPassed      AuditEvent = "verification_method_passed"
	EventVerificationFailed      AuditEvent = "verification_method_failed"
	EventVerificationCompleted   AuditEvent = "verification_completed"
	EventVerificationRateLimited AuditEvent = "verification_rate_limited"
	EventVerificationLocked      AuditEvent = "verification_session_locked"

	// Discovery
	EventDiscoveryCompleted  AuditEvent = "discovery_completed"
	EventDiscoveryIncomplete AuditEvent = "discovery_incomplete"

	// Export
	EventExportCreated    AuditEvent = "export_created"
	EventExportFailed     AuditEvent = "export_failed"
	EventExportDownloaded AuditEvent = "export_downloaded"
	EventExportExpired    AuditEvent = "export_expired"

	// Deletion
	EventDeletionStarted            AuditEvent = "deletion_started"
	EventDeletionItemErased         AuditEvent = "deletion_item_erased"
	EventDeletionVerificationFailed AuditEvent = "deletion_verification_failed"
	EventCertificateIssued          AuditEvent = "certificate_issued"
	EventCertificateVerified        AuditEvent = "certificate_verified"
	EventCertificateInvalid         AuditEvent = "certificate_signature_invalid"

	// Timeline
	EventTimelineRegistered AuditEvent = "timeline_registered"
	EventEscalationRaised   AuditEvent = "escalation_raised"

	// Locking
	EventSubjectLockAcquired AuditEvent = "subject_lock_acquired"
	EventSubjectLockReleased AuditEvent = "subject_lock_released"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventDSRSubmitted:       CategoryCompliance,
	EventDSRStatusChanged:   CategoryCompliance,
	EventDSRCancelled:       CategoryCompliance,
	EventDSRFailed:          CategoryCompliance,
	EventDSRRetryScheduled:  CategoryCompliance,
	EventDSRCompleted:       CategoryCompliance,
	EventDSRAnnotated:       CategoryCompliance,
	EventProcessingFlagged:  CategoryCompliance,
	EventDiscoveryCompleted: CategoryCompliance,
	EventExportCreated:      CategoryCompliance,
	EventExportDownloaded:   CategoryCompliance,
	EventExportExpired:      CategoryCompliance,
	EventDeletionStarted:    CategoryCompliance,
	EventDeletionItemErased: CategoryCompliance,
	EventCertificateIssued:  CategoryCompliance,
	EventEscalationRaised:   CategoryCompliance,

	EventVerificationFailed:         CategorySecurity,
	EventVerificationRateLimited:    CategorySecurity,
	EventVerificationLocked:         CategorySecurity,
	EventDeletionVerificationFailed: CategorySecurity,
	EventCertificateInvalid:         CategorySecurity,

	EventVerificationInitiated: CategoryOperations,
	EventVerificationPassed:    CategoryOperations,
	EventVerificationCompleted: CategoryOperations,
	EventDiscoveryIncomplete:   CategoryOperations,
	EventExportFailed:          CategoryOperations,
	EventCertificateVerified:   CategoryOperations,
	EventTimelineRegistered:    CategoryOperations,
	EventSubjectLockAcquired:   CategoryOperations,
	EventSubjectLockReleased:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Entry is what callers hand to the logger. Payload is redacted before it is hashed.
type Entry struct {
	Actor     string
	Action    AuditEvent
	Severity  Severity
	RequestID string
	// Category overrides Action.Category() when set. Escalations use it to
	// record SECURITY or COMPLIANCE depending on the cause.
	Category EventCategory
	Payload  map[string]any
}

// Event is a persisted, chained audit record. Never mutated after append.
type Event struct {
	Seq       uint64
	Timestamp time.Time
	Actor     string
	Action    string
	Category  EventCategory
	Severity  Severity
	RequestID string
	Payload   map[string]any
	PrevHash  string
	Hash      string
}

// Head is the tail of the chain as seen by a writer.
type Head struct {
	Seq  uint64
	Hash string
}

// Store persists the chain. AppendBatch must reject the write with
// sentinel.ErrConflict when expected no longer matches the stored head.
type Store interface {
	Head(ctx context.Context) (Head, error)
	AppendBatch(ctx context.Context, expected Head, events []Event) error
	Range(ctx context.Context, from, to uint64) ([]Event, error)
}

// Recorder is the audit surface services depend on.
//
// Record returns only after the event is durable. RecordAsync queues the event
// and returns; it is for routine activity where the caller must not block on I/O.
type Recorder interface {
	Record(ctx context.Context, entry Entry) (Event, error)
	RecordAsync(ctx context.Context, entry Entry)
}
