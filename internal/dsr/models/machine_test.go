package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	discoveryModels "dsrengine/internal/discovery/models"
	dErrors "dsrengine/pkg/domain-errors"
)

var (
	t0       = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	deadline = t0.Add(30 * 24 * time.Hour)
)

func evidence(now time.Time) Evidence {
	return Evidence{
		Now:                  now,
		RiskThreshold:        0.7,
		MaxRetries:           3,
		MaxDiscoveryAttempts: 3,
		StaleAfter:           10 * time.Minute,
	}
}

func request(status Status) *Request {
	return &Request{Type: TypeAccess, Status: status, CreatedAt: t0, Deadline: deadline}
}

func ptr(t time.Time) *time.Time { return &t }

func TestAdvance(t *testing.T) {
	complete := &discoveryModels.Manifest{Status: discoveryModels.ManifestComplete}
	incomplete := &discoveryModels.Manifest{Status: discoveryModels.ManifestIncomplete}
	now := t0.Add(time.Hour)

	tests := []struct {
		name    string
		req     func() *Request
		ev      func() Evidence
		to      Status
		action  Action
		code    dErrors.Code
		isFatal bool
	}{
		{
			name:   "received moves to identity pending",
			req:    func() *Request { return request(StatusReceived) },
			to:     StatusIdentityPending,
			action: ActionTransition,
		},
		{
			name:   "identity pending waits without verification",
			req:    func() *Request { return request(StatusIdentityPending) },
			to:     StatusIdentityPending,
			action: ActionNone,
		},
		{
			name: "identity pending waits when risk is at threshold",
			req: func() *Request {
				r := request(StatusIdentityPending)
				r.VerifiedAt = ptr(now)
				r.RiskScore = 0.7
				return r
			},
			to:     StatusIdentityPending,
			action: ActionNone,
		},
		{
			name: "verified low risk moves forward",
			req: func() *Request {
				r := request(StatusIdentityPending)
				r.VerifiedAt = ptr(now)
				r.RiskScore = 0.2
				return r
			},
			to:     StatusIdentityVerified,
			action: ActionTransition,
		},
		{
			name:   "identity verified dispatches discovery",
			req:    func() *Request { return request(StatusIdentityVerified) },
			to:     StatusDiscovering,
			action: ActionDispatchDiscovery,
		},
		{
			name: "discovering waits for a fresh dispatch",
			req: func() *Request {
				r := request(StatusDiscovering)
				r.DispatchedAt = ptr(now.Add(-time.Minute))
				r.DiscoveryAttempts = 1
				return r
			},
			to:     StatusDiscovering,
			action: ActionNone,
		},
		{
			name: "stale discovery is dispatched again",
			req: func() *Request {
				r := request(StatusDiscovering)
				r.DispatchedAt = ptr(now.Add(-time.Hour))
				r.DiscoveryAttempts = 1
				return r
			},
			to:     StatusDiscovering,
			action: ActionDispatchDiscovery,
		},
		{
			name: "stale discovery past the attempt limit fails",
			req: func() *Request {
				r := request(StatusDiscovering)
				r.DispatchedAt = ptr(now.Add(-time.Hour))
				r.DiscoveryAttempts = 3
				return r
			},
			to:     StatusFailed,
			action: ActionFail,
			code:   dErrors.CodeManifestIncomplete,
		},
		{
			name: "complete manifest starts processing",
			req: func() *Request {
				r := request(StatusDiscovering)
				r.Manifest = complete
				return r
			},
			to:     StatusProcessing,
			action: ActionStartProcessing,
		},
		{
			name: "incomplete manifest is rediscovered",
			req: func() *Request {
				r := request(StatusDiscovering)
				r.Manifest = incomplete
				r.DiscoveryAttempts = 1
				return r
			},
			to:     StatusDiscovering,
			action: ActionDispatchDiscovery,
		},
		{
			name: "persistently incomplete manifest fails",
			req: func() *Request {
				r := request(StatusDiscovering)
				r.Manifest = incomplete
				r.DiscoveryAttempts = 3
				return r
			},
			to:     StatusFailed,
			action: ActionFail,
			code:   dErrors.CodeManifestIncomplete,
		},
		{
			name:   "access processing waits for the export",
			req:    func() *Request { return request(StatusProcessing) },
			to:     StatusProcessing,
			action: ActionNone,
		},
		{
			name: "erasure processing is dispatched when never dispatched",
			req: func() *Request {
				r := request(StatusProcessing)
				r.Type = TypeErasure
				return r
			},
			to:     StatusProcessing,
			action: ActionDispatchProcess,
		},
		{
			name: "done processing completes",
			req:  func() *Request { return request(StatusProcessing) },
			ev: func() Evidence {
				ev := evidence(now)
				ev.Outcome = OutcomeDone
				return ev
			},
			to:     StatusCompleted,
			action: ActionComplete,
		},
		{
			name: "fatal outcome fails without retry",
			req: func() *Request {
				r := request(StatusProcessing)
				r.Type = TypeErasure
				return r
			},
			ev: func() Evidence {
				ev := evidence(now)
				ev.Outcome = OutcomeFatal
				ev.OutcomeCode = dErrors.CodeCertificateSignatureInvalid
				return ev
			},
			to:      StatusFailed,
			action:  ActionFail,
			code:    dErrors.CodeCertificateSignatureInvalid,
			isFatal: true,
		},
		{
			name: "failed waits for the scheduled retry",
			req: func() *Request {
				r := request(StatusFailed)
				r.FailedFrom = StatusProcessing
				r.NextRetryAt = ptr(now.Add(time.Minute))
				return r
			},
			to:     StatusFailed,
			action: ActionNone,
		},
		{
			name: "failed in processing retries through discovering",
			req: func() *Request {
				r := request(StatusFailed)
				r.FailedFrom = StatusProcessing
				r.RetryCount = 1
				r.NextRetryAt = ptr(now.Add(-time.Second))
				return r
			},
			to:     StatusDiscovering,
			action: ActionRetry,
		},
		{
			name: "failed with retries exhausted escalates",
			req: func() *Request {
				r := request(StatusFailed)
				r.RetryCount = 3
				return r
			},
			to:     StatusFailed,
			action: ActionEscalate,
		},
		{
			name: "escalated failure stays put",
			req: func() *Request {
				r := request(StatusFailed)
				r.RetryCount = 3
				r.Escalated = true
				return r
			},
			to:     StatusFailed,
			action: ActionNone,
		},
		{
			name:   "completed is terminal",
			req:    func() *Request { return request(StatusCompleted) },
			ev:     func() Evidence { return evidence(deadline.Add(time.Hour)) },
			to:     StatusCompleted,
			action: ActionNone,
		},
		{
			name:   "deadline expires any open request",
			req:    func() *Request { return request(StatusIdentityPending) },
			ev:     func() Evidence { return evidence(deadline) },
			to:     StatusExpired,
			action: ActionExpire,
			code:   dErrors.CodeDeadlineExceeded,
		},
		{
			name:   "one nanosecond before the deadline is not expired",
			req:    func() *Request { return request(StatusIdentityPending) },
			ev:     func() Evidence { return evidence(deadline.Add(-time.Nanosecond)) },
			to:     StatusIdentityPending,
			action: ActionNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := evidence(now)
			if tt.ev != nil {
				ev = tt.ev()
			}
			r := tt.req()
			d := Advance(r, ev)
			assert.Equal(t, tt.to, d.To)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, r.Status, d.From)
			if tt.code != "" {
				assert.Equal(t, tt.code, d.Code)
			}
			assert.Equal(t, tt.isFatal, d.Fatal)
			assert.Equal(t, d, Advance(r, ev), "deciding twice gives the same answer")
		})
	}
}

func TestRetryTarget(t *testing.T) {
	assert.Equal(t, StatusDiscovering, RetryTarget(StatusProcessing))
	assert.Equal(t, StatusDiscovering, RetryTarget(StatusDiscovering))
	assert.Equal(t, StatusIdentityVerified, RetryTarget(StatusIdentityVerified))
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range AllStatuses {
		if s.IsTerminal() {
			assert.False(t, s.Cancellable(), s)
		}
	}
	assert.False(t, StatusFailed.IsTerminal())
	assert.False(t, StatusProcessing.Cancellable())
	assert.True(t, StatusDiscovering.Cancellable())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" erasure ")
	assert.NoError(t, err)
	assert.Equal(t, TypeErasure, typ)
	_, err = ParseType("delete-everything")
	assert.True(t, dErrors.Is(err, dErrors.CodeValidation))

	p, err := ParsePriority("")
	assert.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)
}
