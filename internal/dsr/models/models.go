package models

import (
	"strings"
	"time"

	discoveryModels "dsrengine/internal/discovery/models"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
)

// Type is the right the subject exercises.
type Type string

const (
	TypeAccess        Type = "ACCESS"
	TypeRectification Type = "RECTIFICATION"
	TypeErasure       Type = "ERASURE"
	TypeRestriction   Type = "RESTRICTION"
	TypePortability   Type = "PORTABILITY"
	TypeObjection     Type = "OBJECTION"
)

var validTypes = map[Type]bool{
	TypeAccess:        true,
	TypeRectification: true,
	TypeErasure:       true,
	TypeRestriction:   true,
	TypePortability:   true,
	TypeObjection:     true,
}

func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !validTypes[t] {
		return "", dErrors.Newf(dErrors.CodeValidation, "unsupported request type %q", s)
	}
	return t, nil
}

// Exports reports whether the request is fulfilled with an export package.
func (t Type) Exports() bool {
	return t == TypeAccess || t == TypePortability
}

// Flags reports whether the request is fulfilled by flagging every item.
func (t Type) Flags() bool {
	return t == TypeRestriction || t == TypeObjection || t == TypeRectification
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

func ParsePriority(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return p, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unsupported priority %q", s)
}

type Status string

const (
	StatusReceived         Status = "RECEIVED"
	StatusIdentityPending  Status = "IDENTITY_PENDING"
	StatusIdentityVerified Status = "IDENTITY_VERIFIED"
	StatusDiscovering      Status = "DISCOVERING"
	StatusProcessing       Status = "PROCESSING"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
	StatusExpired          Status = "EXPIRED"
	StatusCancelled        Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusReceived, StatusIdentityPending, StatusIdentityVerified, StatusDiscovering,
	StatusProcessing, StatusCompleted, StatusFailed, StatusExpired, StatusCancelled,
}

// IsTerminal reports whether the request is closed. FAILED is not terminal
// while retries remain.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// Cancellable reports whether the subject may still withdraw the request.
func (s Status) Cancellable() bool {
	switch s {
	case StatusReceived, StatusIdentityPending, StatusIdentityVerified, StatusDiscovering:
		return true
	}
	return false
}

// Request is a data subject rights request. It is immutable once closed.
type Request struct {
	ID          domain.RequestID `json:"request_id"`
	SubjectID   domain.SubjectID `json:"subject_id"`
	Contact     string           `json:"-"`
	Type        Type             `json:"type"`
	Priority    Priority         `json:"priority"`
	Description string           `json:"description,omitempty"`
	Status      Status           `json:"status"`

	// FailedFrom is the state the request failed in; retries resume there.
	FailedFrom    Status       `json:"failed_from,omitempty"`
	FailureCode   dErrors.Code `json:"failure_code,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	RetryCount    int          `json:"retry_count"`
	NextRetryAt   *time.Time   `json:"next_retry_at,omitempty"`
	Escalated     bool         `json:"escalated"`

	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	RiskScore  float64    `json:"risk_score"`

	Manifest          *discoveryModels.Manifest `json:"-"`
	DiscoveryAttempts int                       `json:"discovery_attempts"`
	// DispatchedAt is when background work was last enqueued for the current state.
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	Deadline  time.Time  `json:"deadline"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	// Version guards concurrent updates.
	Version int64 `json:"-"`
}

// DaysRemaining floors the time left to whole days, never below zero.
func (r *Request) DaysRemaining(now time.Time) int {
	left := r.Deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / (24 * time.Hour))
}

func (r *Request) Clone() *Request {
	c := *r
	if r.Manifest != nil {
		m := *r.Manifest
		m.Entries = append([]discoveryModels.Entry(nil), r.Manifest.Entries...)
		m.FailedModules = append([]string(nil), r.Manifest.FailedModules...)
		c.Manifest = &m
	}
	return &c
}

// StatusView is what get_request_status returns.
type StatusView struct {
	RequestID     domain.RequestID `json:"request_id"`
	Type          Type             `json:"type"`
	Status        Status           `json:"status"`
	Deadline      time.Time        `json:"deadline"`
	DaysRemaining int              `json:"days_remaining"`
	FailureCode   dErrors.Code     `json:"failure_code,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	RetryCount    int              `json:"retry_count"`
	Escalated     bool             `json:"escalated"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

func (r *Request) View(now time.Time) StatusView {
	return StatusView{
		RequestID:     r.ID,
		Type:          r.Type,
		Status:        r.Status,
		Deadline:      r.Deadline,
		DaysRemaining: r.DaysRemaining(now),
		FailureCode:   r.FailureCode,
		FailureReason: r.FailureReason,
		RetryCount:    r.RetryCount,
		Escalated:     r.Escalated,
		ClosedAt:      r.ClosedAt,
	}
}

// Flag values recorded for non-export, non-erasure requests.
const (
	FlagRestricted = "RESTRICTED"
	FlagObjected   = "OBJECTED"
	FlagRectify    = "RECTIFICATION_PENDING"
)

// FlagFor maps a request type to the processing flag it records.
func FlagFor(t Type) string {
	switch t {
	case TypeRestriction:
		return FlagRestricted
	case TypeObjection:
		return FlagObjected
	case TypeRectification:
		return FlagRectify
	}
	return ""
}

// ProcessingFlag marks one item as restricted, objected to or awaiting rectification.
type ProcessingFlag struct {
	RequestID domain.RequestID `json:"request_id"`
	Module    string           `json:"module"`
	ItemID    string           `json:"item_id"`
	Kind      string           `json:"kind"`
	Flag      string           `json:"flag"`
	CreatedAt time.Time        `json:"created_at"`
}

// Counts is what the request store aggregates for statistics.
type Counts struct {
	ByStatus map[Status]int
	ByType   map[Type]int
	// Overdue counts open requests past their deadline.
	Overdue         int
	Completed       int
	TotalCompletion time.Duration
}

// Stats is the processing statistics report.
type Stats struct {
	Total              int            `json:"total"`
	ByStatus           map[Status]int `json:"by_status"`
	ByType             map[Type]int   `json:"by_type"`
	Overdue            int            `json:"overdue"`
	AverageCompletion  time.Duration  `json:"average_completion_ns"`
	AverageCompletionH float64        `json:"average_completion_hours"`
	CertificatesIssued int            `json:"certificates_issued"`
	ExportsCreated     int            `json:"exports_created"`
	Escalations        int            `json:"escalations"`
	GeneratedAt        time.Time      `json:"generated_at"`
}
