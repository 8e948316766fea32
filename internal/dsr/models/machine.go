package models

import (
	"time"

	dErrors "dsrengine/pkg/domain-errors"
)

// Outcome is the state of the work that fulfils a PROCESSING request.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeDone
	// OutcomeFailed is retried with backoff.
	OutcomeFailed
	// OutcomeFatal is never retried and escalates at once.
	OutcomeFatal
)

// Action is the side effect the manager performs for a decision.
type Action string

const (
	ActionNone              Action = "none"
	ActionTransition        Action = "transition"
	ActionDispatchDiscovery Action = "dispatch_discovery"
	ActionStartProcessing   Action = "start_processing"
	ActionDispatchProcess   Action = "dispatch_process"
	ActionComplete          Action = "complete"
	ActionFail              Action = "fail"
	ActionRetry             Action = "retry"
	ActionEscalate          Action = "escalate"
	ActionExpire            Action = "expire"
)

// Evidence is everything Advance needs beyond the request record.
type Evidence struct {
	Now                  time.Time
	RiskThreshold        float64
	MaxRetries           int
	MaxDiscoveryAttempts int
	StaleAfter           time.Duration

	Outcome       Outcome
	OutcomeCode   dErrors.Code
	OutcomeReason string
}

// Decision is the single step Advance chose.
type Decision struct {
	From   Status
	To     Status
	Action Action
	Code   dErrors.Code
	Reason string
	// Fatal failures skip the retry schedule.
	Fatal bool
}

// Changes reports whether the decision moves or mutates the request.
func (d Decision) Changes() bool {
	return d.Action != ActionNone
}

// Advance decides the next step for r from its persisted state and ev. It
// performs no I/O; repeated calls with the same inputs return the same decision.
func Advance(r *Request, ev Evidence) Decision {
	stay := Decision{From: r.Status, To: r.Status, Action: ActionNone}
	if r.Status.IsTerminal() {
		return stay
	}
	if !ev.Now.Before(r.Deadline) {
		return Decision{
			From:   r.Status,
			To:     StatusExpired,
			Action: ActionExpire,
			Code:   dErrors.CodeDeadlineExceeded,
			Reason: "legal deadline passed before completion",
		}
	}

	switch r.Status {
	case StatusReceived:
		return Decision{From: r.Status, To: StatusIdentityPending, Action: ActionTransition}
	case StatusIdentityPending:
		if r.VerifiedAt == nil || r.RiskScore >= ev.RiskThreshold {
			stay.Reason = "awaiting identity verification"
			return stay
		}
		return Decision{From: r.Status, To: StatusIdentityVerified, Action: ActionTransition}
	case StatusIdentityVerified:
		return Decision{From: r.Status, To: StatusDiscovering, Action: ActionDispatchDiscovery}
	case StatusDiscovering:
		return discovering(r, ev)
	case StatusProcessing:
		return processing(r, ev)
	case StatusFailed:
		return failed(r, ev)
	}
	return stay
}

func discovering(r *Request, ev Evidence) Decision {
	stay := Decision{From: r.Status, To: r.Status, Action: ActionNone}
	exhausted := r.DiscoveryAttempts >= ev.MaxDiscoveryAttempts
	if m := r.Manifest; m != nil {
		if m.IsComplete() {
			return Decision{From: r.Status, To: StatusProcessing, Action: ActionStartProcessing}
		}
		if exhausted {
			return fail(r, dErrors.CodeManifestIncomplete, "manifest incomplete after repeated discovery", false)
		}
		return Decision{From: r.Status, To: r.Status, Action: ActionDispatchDiscovery, Reason: "manifest incomplete"}
	}
	if stale(r, ev) {
		if exhausted {
			return fail(r, dErrors.CodeManifestIncomplete, "discovery did not finish", false)
		}
		return Decision{From: r.Status, To: r.Status, Action: ActionDispatchDiscovery, Reason: "discovery not dispatched or stale"}
	}
	stay.Reason = "awaiting manifest"
	return stay
}

func processing(r *Request, ev Evidence) Decision {
	switch ev.Outcome {
	case OutcomeDone:
		return Decision{From: r.Status, To: StatusCompleted, Action: ActionComplete}
	case OutcomeFatal:
		return fail(r, ev.OutcomeCode, ev.OutcomeReason, true)
	case OutcomeFailed:
		return fail(r, ev.OutcomeCode, ev.OutcomeReason, false)
	}
	stay := Decision{From: r.Status, To: r.Status, Action: ActionNone}
	if r.Type.Exports() {
		stay.Reason = "awaiting export password from subject"
		return stay
	}
	if stale(r, ev) {
		return Decision{From: r.Status, To: r.Status, Action: ActionDispatchProcess, Reason: "processing not dispatched or stale"}
	}
	stay.Reason = "processing in progress"
	return stay
}

func failed(r *Request, ev Evidence) Decision {
	stay := Decision{From: r.Status, To: r.Status, Action: ActionNone}
	if r.Escalated {
		stay.Reason = "escalated to operator"
		return stay
	}
	if r.RetryCount >= ev.MaxRetries {
		return Decision{
			From:   r.Status,
			To:     r.Status,
			Action: ActionEscalate,
			Reason: "retries exhausted",
		}
	}
	if r.NextRetryAt != nil && ev.Now.Before(*r.NextRetryAt) {
		stay.Reason = "retry scheduled"
		return stay
	}
	return Decision{From: r.Status, To: RetryTarget(r.FailedFrom), Action: ActionRetry}
}

// RetryTarget is the state a failed request resumes in. Requests that failed
// while processing go back through DISCOVERING to reacquire the subject lock.
func RetryTarget(from Status) Status {
	switch from {
	case StatusProcessing, "":
		return StatusDiscovering
	}
	return from
}

func stale(r *Request, ev Evidence) bool {
	return r.DispatchedAt == nil || !ev.Now.Before(r.DispatchedAt.Add(ev.StaleAfter))
}

func fail(r *Request, code dErrors.Code, reason string, fatal bool) Decision {
	if code == "" {
		code = dErrors.CodeInternal
	}
	return Decision{
		From:   r.Status,
		To:     StatusFailed,
		Action: ActionFail,
		Code:   code,
		Reason: reason,
		Fatal:  fatal,
	}
}
