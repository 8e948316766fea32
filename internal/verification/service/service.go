// Package service implements multi-factor identity verification for data
// subjects: emailed one-time tokens, knowledge-based questions and a risk score,
// guarded by a per-subject attempt limit.
package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"dsrengine/internal/platform/config"
	"dsrengine/internal/verification/device"
	"dsrengine/internal/verification/metrics"
	"dsrengine/internal/verification/models"
	"dsrengine/internal/verification/risk"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/privacy"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
)

// frequencyWindow is how far back initiations count toward the frequency factor.
const frequencyWindow = 24 * time.Hour

const lockShards = 64

type SessionStore interface {
	Save(ctx context.Context, session *models.Session, now time.Time) error
	Get(ctx context.Context, subject domain.SubjectID, now time.Time) (*models.Session, error)
	Delete(ctx context.Context, subject domain.SubjectID) error
}

// AttemptLimiter must check and count an attempt atomically.
type AttemptLimiter interface {
	Attempt(ctx context.Context, subject domain.SubjectID, now time.Time, window time.Duration, limit int) (models.AttemptDecision, error)
	Lock(ctx context.Context, subject domain.SubjectID, until time.Time) error
	LockedUntil(ctx context.Context, subject domain.SubjectID, now time.Time) (*time.Time, error)
}

type HistoryStore interface {
	Load(ctx context.Context, subject domain.SubjectID, since time.Time) (models.AccessHistory, error)
	RecordInitiation(ctx context.Context, subject domain.SubjectID, at time.Time) error
	RecordVerified(ctx context.Context, subject domain.SubjectID, fingerprint string, location *models.Location) error
}

// KnowledgeSource returns the known-account facts used for knowledge-based checks.
type KnowledgeSource interface {
	Facts(ctx context.Context, subject domain.SubjectID) (map[string]string, error)
}

// TokenNotifier delivers the plaintext token. It is the only place the token exists.
type TokenNotifier interface {
	SendToken(ctx context.Context, contact, token string, expiresAt time.Time) error
}

// InitiateCommand starts verification for a subject.
type InitiateCommand struct {
	SubjectID domain.SubjectID
	Contact   string
	SourceIP  string
	UserAgent string
}

type Service struct {
	sessions  SessionStore
	limiter   AttemptLimiter
	history   HistoryStore
	knowledge KnowledgeSource
	notifier  TokenNotifier
	auditor   audit.Recorder
	devices   *device.Service
	geo       risk.GeoLocator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       config.VerificationConfig
	newToken  TokenGenerator
	shards    [lockShards]sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg config.VerificationConfig) Option {
	return func(s *Service) { s.cfg = cfg }
}

func WithGeoLocator(g risk.GeoLocator) Option {
	return func(s *Service) { s.geo = g }
}

func WithDeviceService(d *device.Service) Option {
	return func(s *Service) { s.devices = d }
}

func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Service) { s.newToken = g }
}

func New(
	sessions SessionStore,
	limiter AttemptLimiter,
	history HistoryStore,
	knowledge KnowledgeSource,
	notifier TokenNotifier,
	auditor audit.Recorder,
	opts ...Option,
) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if limiter == nil {
		return nil, errors.New("attempt limiter is required")
	}
	if history == nil {
		return nil, errors.New("history store is required")
	}
	if knowledge == nil {
		return nil, errors.New("knowledge source is required")
	}
	if notifier == nil {
		return nil, errors.New("token notifier is required")
	}
	if auditor == nil {
		return nil, errors.New("audit recorder is required")
	}
	s := &Service{
		sessions:  sessions,
		limiter:   limiter,
		history:   history,
		knowledge: knowledge,
		notifier:  notifier,
		auditor:   auditor,
		devices:   device.NewService(true),
		logger:    slog.Default(),
		cfg:       config.DefaultConfig().Verification,
		newToken:  randomToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initiate opens a fresh session, replacing any unlocked one, scores the
// attempt and mails a token.
func (s *Service) Initiate(ctx context.Context, cmd InitiateCommand) (*models.SessionView, error) {
	if cmd.Contact == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "contact is required")
	}
	now := requestcontext.Now(ctx)

	until, err := s.limiter.LockedUntil(ctx, cmd.SubjectID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check lockout")
	}
	if until != nil {
		return nil, dErrors.RateLimited("verification temporarily locked", until.Sub(now))
	}

	unlock := s.lockSubject(cmd.SubjectID)
	defer unlock()

	existing, err := s.sessions.Get(ctx, cmd.SubjectID, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	case existing.IsLockedAt(now):
		return nil, dErrors.RateLimited("verification session locked", existing.LockedUntil.Sub(now))
	}

	history, err := s.history.Load(ctx, cmd.SubjectID, now.Add(-frequencyWindow))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load access history")
	}
	fingerprint := s.devices.ComputeFingerprint(cmd.UserAgent)
	var location *models.Location
	if s.geo != nil {
		if loc, ok := s.geo.Locate(cmd.SourceIP); ok {
			location = &loc
		}
	}
	score, factors := risk.Score(risk.Input{History: history, Fingerprint: fingerprint, Location: location})

	token, err := s.newToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
	}
	expiresAt := now.Add(s.cfg.TokenExpiry)
	session := &models.Session{
		SubjectID:         cmd.SubjectID,
		Contact:           cmd.Contact,
		Required:          risk.RequiredMethods(score, s.cfg.LowRiskCutoff, s.cfg.RiskThreshold),
		TokenHash:         hashToken(cmd.SubjectID, token),
		TokenExpiresAt:    expiresAt,
		RiskScore:         score,
		RiskFactors:       factors,
		DeviceFingerprint: fingerprint,
		Location:          location,
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
	}
	if score < s.cfg.RiskThreshold {
		session.MarkCompleted(models.MethodRiskAssessment)
	}

	if err := s.history.RecordInitiation(ctx, cmd.SubjectID, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record initiation")
	}
	if err := s.sessions.Save(ctx, session, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
	}
	if err := s.notifier.SendToken(ctx, cmd.Contact, token, expiresAt); err != nil {
		if delErr := s.sessions.Delete(ctx, cmd.SubjectID); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to discard undelivered session", "error", delErr)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to deliver verification token")
	}

	if s.metrics != nil {
		s.metrics.RiskScores.Observe(score)
	}
	s.auditor.RecordAsync(ctx, audit.Entry{
		Action: audit.EventVerificationInitiated,
		Payload: map[string]any{
			"subject_id":       string(cmd.SubjectID),
			"risk_score":       score,
			"required_methods": methodNames(session.Required),
			"ip":               cmd.SourceIP,
		},
	})
	view := session.View()
	return &view, nil
}

// Session returns the caller-safe view of the active session.
func (s *Service) Session(ctx context.Context, subject domain.SubjectID) (*models.SessionView, error) {
	session, err := s.load(ctx, subject, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	view := session.View()
	return &view, nil
}

// VerifyEmailToken checks the mailed token. The subject's attempt limit is
// applied before the token is looked at. Tokens are single use and a session
// locks after the configured number of wrong tokens.
func (s *Service) VerifyEmailToken(ctx context.Context, subject domain.SubjectID, token string) error {
	now := requestcontext.Now(ctx)
	unlock := s.lockSubject(subject)
	defer unlock()

	if err := s.admit(ctx, subject, models.MethodEmailToken, now); err != nil {
		return err
	}
	session, err := s.loadUnlocked(ctx, subject, now)
	if err != nil {
		return err
	}

	switch {
	case session.TokenHash == "":
		s.recordFailure(ctx, subject, models.MethodEmailToken, "token already used")
		return dErrors.New(dErrors.CodeVerificationFailed, "token already used")
	case !now.Before(session.TokenExpiresAt):
		s.recordFailure(ctx, subject, models.MethodEmailToken, "token expired")
		return dErrors.New(dErrors.CodeVerificationFailed, "token expired")
	case !tokenMatches(session.TokenHash, subject, token):
		session.TokenAttempts++
		locked := session.TokenAttempts >= s.cfg.TokenMaxAttempts
		if locked {
			until := now.Add(s.cfg.LockoutDuration)
			session.LockedUntil = &until
			session.TokenHash = ""
		}
		if err := s.sessions.Save(ctx, session, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
		}
		s.recordFailure(ctx, subject, models.MethodEmailToken, "invalid token")
		if locked {
			s.recordLockout(ctx, subject, "token_attempts", audit.EventVerificationLocked)
		}
		return dErrors.New(dErrors.CodeVerificationFailed, "invalid token")
	}

	session.TokenHash = ""
	session.MarkCompleted(models.MethodEmailToken)
	if err := s.sessions.Save(ctx, session, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
	}
	s.recordPass(ctx, subject, models.MethodEmailToken)
	return nil
}

// VerifyKnowledgeBased compares answers with known-account facts and passes
// at the configured match ratio.
func (s *Service) VerifyKnowledgeBased(ctx context.Context, subject domain.SubjectID, answers map[string]string) error {
	now := requestcontext.Now(ctx)
	unlock := s.lockSubject(subject)
	defer unlock()

	if err := s.admit(ctx, subject, models.MethodKnowledgeBased, now); err != nil {
		return err
	}
	session, err := s.loadUnlocked(ctx, subject, now)
	if err != nil {
		return err
	}

	facts, err := s.knowledge.Facts(ctx, subject)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account facts")
	}
	if len(facts) == 0 {
		s.recordFailure(ctx, subject, models.MethodKnowledgeBased, "no account facts")
		return dErrors.New(dErrors.CodeVerificationFailed, "knowledge-based verification unavailable for subject")
	}
	if MatchRatio(facts, answers) < s.cfg.KBAPassRatio {
		s.recordFailure(ctx, subject, models.MethodKnowledgeBased, "answers did not match")
		return dErrors.New(dErrors.CodeVerificationFailed, "answers did not match")
	}

	session.MarkCompleted(models.MethodKnowledgeBased)
	if err := s.sessions.Save(ctx, session, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save session")
	}
	s.recordPass(ctx, subject, models.MethodKnowledgeBased)
	return nil
}

// Complete checks the claimed methods against the session. Verification
// succeeds only when every required method was actually passed and the risk
// score is below the threshold; the session is then destroyed.
func (s *Service) Complete(ctx context.Context, subject domain.SubjectID, claimed []models.Method) (*models.Result, error) {
	for _, m := range claimed {
		if !m.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown verification method %q", m)
		}
	}
	now := requestcontext.Now(ctx)
	unlock := s.lockSubject(subject)
	defer unlock()

	session, err := s.loadUnlocked(ctx, subject, now)
	if err != nil {
		return nil, err
	}

	result := &models.Result{RiskScore: session.RiskScore, CompletedAt: now}
	for _, m := range session.Required {
		if !slices.Contains(claimed, m) || !session.HasCompleted(m) {
			result.Missing = append(result.Missing, m)
		}
	}
	for _, m := range claimed {
		if !session.HasCompleted(m) && !slices.Contains(result.Missing, m) {
			result.Missing = append(result.Missing, m)
		}
	}
	result.Verified = len(result.Missing) == 0 && session.RiskScore < s.cfg.RiskThreshold
	if s.metrics != nil {
		s.metrics.Completed.WithLabelValues(boolLabel(result.Verified)).Inc()
	}

	if !result.Verified {
		s.auditor.RecordAsync(ctx, audit.Entry{
			Action:   audit.EventVerificationFailed,
			Severity: audit.SeverityWarning,
			Category: audit.CategorySecurity,
			Payload: map[string]any{
				"subject_id": string(subject),
				"reason":     "completion rejected",
				"missing":    methodNames(result.Missing),
				"risk_score": session.RiskScore,
			},
		})
		return result, nil
	}

	result.Methods = slices.Clone(session.Completed)
	// The completion is evidence for request processing, so it must be durable.
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action: audit.EventVerificationCompleted,
		Payload: map[string]any{
			"subject_id": string(subject),
			"methods":    methodNames(result.Methods),
			"risk_score": session.RiskScore,
		},
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification")
	}
	if err := s.sessions.Delete(ctx, subject); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to destroy session")
	}
	if err := s.history.RecordVerified(ctx, subject, session.DeviceFingerprint, session.Location); err != nil {
		s.logger.WarnContext(ctx, "failed to record verified access", "error", err)
	}
	return result, nil
}

// admit applies the per-subject attempt limit. Exceeding it applies a lockout.
func (s *Service) admit(ctx context.Context, subject domain.SubjectID, method models.Method, now time.Time) error {
	decision, err := s.limiter.Attempt(ctx, subject, now, s.cfg.AttemptWindow, s.cfg.MaxAttemptsPerHour)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check attempt limit")
	}
	if decision.Allowed {
		return nil
	}
	s.countAttempt(method, "rate_limited")
	if decision.LockedUntil != nil {
		return dErrors.RateLimited("too many verification attempts", decision.LockedUntil.Sub(now))
	}

	until := now.Add(s.cfg.LockoutDuration)
	if err := s.limiter.Lock(ctx, subject, until); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply lockout")
	}
	s.recordLockout(ctx, subject, "attempt_limit", audit.EventVerificationRateLimited)
	return dErrors.RateLimited("too many verification attempts", s.cfg.LockoutDuration)
}

func (s *Service) load(ctx context.Context, subject domain.SubjectID, now time.Time) (*models.Session, error) {
	session, err := s.sessions.Get(ctx, subject, now)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no active verification session")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	return session, nil
}

func (s *Service) loadUnlocked(ctx context.Context, subject domain.SubjectID, now time.Time) (*models.Session, error) {
	session, err := s.load(ctx, subject, now)
	if err != nil {
		return nil, err
	}
	if session.IsLockedAt(now) {
		return nil, dErrors.RateLimited("verification session locked", session.LockedUntil.Sub(now))
	}
	return session, nil
}

func (s *Service) recordPass(ctx context.Context, subject domain.SubjectID, method models.Method) {
	s.countAttempt(method, "passed")
	s.auditor.RecordAsync(ctx, audit.Entry{
		Action:  audit.EventVerificationPassed,
		Payload: map[string]any{"subject_id": string(subject), "method": string(method)},
	})
}

func (s *Service) recordFailure(ctx context.Context, subject domain.SubjectID, method models.Method, reason string) {
	s.countAttempt(method, "failed")
	s.auditor.RecordAsync(ctx, audit.Entry{
		Action:   audit.EventVerificationFailed,
		Severity: audit.SeverityWarning,
		Payload:  map[string]any{"subject_id": string(subject), "method": string(method), "reason": reason},
	})
}

func (s *Service) recordLockout(ctx context.Context, subject domain.SubjectID, cause string, event audit.AuditEvent) {
	if s.metrics != nil {
		s.metrics.Lockouts.WithLabelValues(cause).Inc()
	}
	s.logger.WarnContext(ctx, "verification lockout applied",
		"subject_id_hash", privacy.HashIdentifier(string(subject)),
		"cause", cause,
		"duration", s.cfg.LockoutDuration.String(),
	)
	s.auditor.RecordAsync(ctx, audit.Entry{
		Action:   event,
		Severity: audit.SeverityCritical,
		Category: audit.CategorySecurity,
		Payload: map[string]any{
			"subject_id": string(subject),
			"cause":      cause,
			"lockout":    s.cfg.LockoutDuration.String(),
		},
	})
}

func (s *Service) countAttempt(method models.Method, outcome string) {
	if s.metrics != nil {
		s.metrics.Attempts.WithLabelValues(string(method), outcome).Inc()
	}
}

// lockSubject serializes session mutations for one subject within this process.
// The attempt limit itself is enforced atomically by the limiter.
func (s *Service) lockSubject(subject domain.SubjectID) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	mu := &s.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu.Unlock
}

func methodNames(methods []models.Method) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
