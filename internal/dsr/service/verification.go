package service

import (
	"context"

	"dsrengine/internal/dsr/models"
	verificationModels "dsrengine/internal/verification/models"
	verificationService "dsrengine/internal/verification/service"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	"dsrengine/pkg/platform/retry"
	"dsrengine/pkg/requestcontext"
)

// InitiateVerification opens an identity verification session for the
// request's subject and mails the token to the contact given at submission.
func (s *Service) InitiateVerification(ctx context.Context, id domain.RequestID, sourceIP, userAgent string) (*verificationModels.SessionView, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == models.StatusReceived {
		if _, err := s.Advance(ctx, id); err != nil {
			return nil, err
		}
		if r, err = s.load(ctx, id); err != nil {
			return nil, err
		}
	}
	if err := awaitingIdentity(r); err != nil {
		return nil, err
	}
	return s.verifier.Initiate(ctx, verificationService.InitiateCommand{
		SubjectID: r.SubjectID,
		Contact:   r.Contact,
		SourceIP:  sourceIP,
		UserAgent: userAgent,
	})
}

func (s *Service) VerifyEmailToken(ctx context.Context, id domain.RequestID, token string) error {
	r, err := s.pendingIdentity(ctx, id)
	if err != nil {
		return err
	}
	return s.verifier.VerifyEmailToken(ctx, r.SubjectID, token)
}

func (s *Service) VerifyKnowledgeBased(ctx context.Context, id domain.RequestID, answers map[string]string) error {
	r, err := s.pendingIdentity(ctx, id)
	if err != nil {
		return err
	}
	return s.verifier.VerifyKnowledgeBased(ctx, r.SubjectID, answers)
}

// CompleteVerification closes the verification session. A verified result
// below the risk threshold is stored on the request as evidence and the
// request is advanced past IDENTITY_PENDING.
func (s *Service) CompleteVerification(ctx context.Context, id domain.RequestID, methods []verificationModels.Method) (*verificationModels.Result, error) {
	r, err := s.pendingIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.verifier.Complete(ctx, r.SubjectID, methods)
	if err != nil {
		return nil, err
	}
	if !result.Verified || result.RiskScore >= s.cfg.RiskThreshold {
		return result, nil
	}

	err = retry.Do(ctx, s.conflicts, func(ctx context.Context) error {
		cur, err := s.load(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := awaitingIdentity(cur); err != nil {
			return retry.Permanent(err)
		}
		completedAt := result.CompletedAt
		cur.VerifiedAt = &completedAt
		cur.RiskScore = result.RiskScore
		cur.UpdatedAt = requestcontext.Now(ctx)
		return s.store.Update(ctx, cur)
	})
	if err != nil {
		return nil, s.writeError(err, "failed to record verification")
	}
	if _, err := s.Advance(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "failed to advance verified request", "request_id", id.String(), "error", err)
	}
	return result, nil
}

func (s *Service) pendingIdentity(ctx context.Context, id domain.RequestID) (*models.Request, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := awaitingIdentity(r); err != nil {
		return nil, err
	}
	return r, nil
}

func awaitingIdentity(r *models.Request) error {
	if r.Status != models.StatusIdentityPending || r.VerifiedAt != nil {
		return dErrors.Newf(dErrors.CodeConflict, "request in %s is not awaiting identity verification", r.Status)
	}
	return nil
}
