package models

import (
	"slices"
	"time"

	"dsrengine/pkg/domain"
)

// Method is one factor of identity verification.
type Method string

const (
	MethodEmailToken     Method = "EMAIL_TOKEN"
	MethodKnowledgeBased Method = "KNOWLEDGE_BASED"
	MethodRiskAssessment Method = "RISK_ASSESSMENT"
)

func (m Method) IsValid() bool {
	switch m {
	case MethodEmailToken, MethodKnowledgeBased, MethodRiskAssessment:
		return true
	}
	return false
}

// RiskFactors are the weighted inputs to a risk score, each in [0, 1].
type RiskFactors struct {
	GeoDistance   float64 `json:"geo_distance"`
	DeviceNovelty float64 `json:"device_novelty"`
	Frequency     float64 `json:"frequency"`
}

// Session is the in-flight verification state for one subject.
// TokenHash is a digest; the plaintext token only ever exists in the notifier call.
type Session struct {
	SubjectID         domain.SubjectID `json:"subject_id"`
	Contact           string           `json:"contact"`
	Required          []Method         `json:"required"`
	Completed         []Method         `json:"completed"`
	TokenHash         string           `json:"token_hash,omitempty"`
	TokenExpiresAt    time.Time        `json:"token_expires_at"`
	TokenAttempts     int              `json:"token_attempts"`
	LockedUntil       *time.Time       `json:"locked_until,omitempty"`
	RiskScore         float64          `json:"risk_score"`
	RiskFactors       RiskFactors      `json:"risk_factors"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty"`
	Location          *Location        `json:"location,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
}

func (s *Session) IsLockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

func (s *Session) HasCompleted(m Method) bool {
	return slices.Contains(s.Completed, m)
}

// MarkCompleted records a passed method once.
func (s *Session) MarkCompleted(m Method) {
	if !s.HasCompleted(m) {
		s.Completed = append(s.Completed, m)
	}
}

// Missing lists required methods that are not yet completed.
func (s *Session) Missing() []Method {
	var out []Method
	for _, m := range s.Required {
		if !s.HasCompleted(m) {
			out = append(out, m)
		}
	}
	return out
}

// RetainUntil is when the store may forget the session.
func (s *Session) RetainUntil() time.Time {
	if s.LockedUntil != nil && s.LockedUntil.After(s.ExpiresAt) {
		return *s.LockedUntil
	}
	return s.ExpiresAt
}

// SessionView is the caller-safe projection of a Session.
type SessionView struct {
	SubjectID domain.SubjectID `json:"subject_id"`
	Required  []Method         `json:"required_methods"`
	Completed []Method         `json:"completed_methods"`
	RiskScore float64          `json:"risk_score"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func (s *Session) View() SessionView {
	return SessionView{
		SubjectID: s.SubjectID,
		Required:  slices.Clone(s.Required),
		Completed: slices.Clone(s.Completed),
		RiskScore: s.RiskScore,
		ExpiresAt: s.ExpiresAt,
	}
}

// Result is the outcome of completing verification. The DSR manager keeps it
// as evidence on the request.
type Result struct {
	Verified    bool      `json:"verified"`
	RiskScore   float64   `json:"risk_score"`
	Methods     []Method  `json:"methods"`
	Missing     []Method  `json:"missing,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// AttemptDecision is the rate limiter's answer for one verification attempt.
type AttemptDecision struct {
	Allowed     bool
	Count       int
	LockedUntil *time.Time
}

// Location is a coarse geographic position.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Country   string  `json:"country,omitempty"`
}

// AccessHistory is what the risk scorer compares a new attempt against.
type AccessHistory struct {
	Devices        []string
	Locations      []Location
	RecentAttempts int
}

// IsEmpty reports a subject never seen before.
func (h AccessHistory) IsEmpty() bool {
	return len(h.Devices) == 0 && len(h.Locations) == 0
}
