package service

import (
	"context"

	deletionModels "dsrengine/internal/deletion/models"
	deletionService "dsrengine/internal/deletion/service"
	"dsrengine/internal/dsr/models"
	exportModels "dsrengine/internal/export/models"
	exportService "dsrengine/internal/export/service"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/requestcontext"
)

// ExportCommand carries the subject's export password. Password is cleared
// before InitiateExport returns.
type ExportCommand struct {
	RequestID domain.RequestID
	Format    string
	Password  []byte
}

// InitiateExport produces the encrypted export for an ACCESS or PORTABILITY
// request in PROCESSING and completes the request. Export failures move the
// request to FAILED for a scheduled retry; input errors leave it untouched.
func (s *Service) InitiateExport(ctx context.Context, cmd ExportCommand) (*exportModels.ExportJob, error) {
	defer clear(cmd.Password)
	r, err := s.load(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !r.Type.Exports() {
		return nil, dErrors.Newf(dErrors.CodeConflict, "%s requests do not produce an export", r.Type)
	}
	if r.Status != models.StatusProcessing || r.Manifest == nil {
		return nil, dErrors.Newf(dErrors.CodeConflict, "request in %s is not ready for export", r.Status)
	}
	format, ok := exportModels.ParseFormat(cmd.Format)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unsupported export format %q", cmd.Format)
	}

	job, err := s.exporter.InitiateExport(ctx, exportService.InitiateCommand{
		RequestID: r.ID,
		Manifest:  r.Manifest,
		Format:    format,
		Password:  cmd.Password,
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeExportFailed) || dErrors.HasCode(err, dErrors.CodeManifestIncomplete) {
			s.report(ctx, r.ID, report{outcome: models.OutcomeFailed, code: dErrors.CodeOf(err), reason: describe(err)})
		}
		return nil, err
	}
	s.report(ctx, r.ID, report{outcome: models.OutcomeDone})
	return job, nil
}

func (s *Service) ExportStatus(ctx context.Context, id domain.ExportID) (*exportModels.ExportJob, error) {
	return s.exporter.Status(ctx, id)
}

// Exports lists the exports produced for a request.
func (s *Service) Exports(ctx context.Context, id domain.RequestID) ([]*exportModels.ExportJob, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.exporter.ByRequest(ctx, id)
}

func (s *Service) DownloadExport(ctx context.Context, id domain.ExportID) (*exportModels.Download, error) {
	return s.exporter.Download(ctx, id)
}

// InitiateSecureDeletion runs, or resumes, the deletion of an ERASURE request
// in PROCESSING. Workers call the same path; a concurrent run is a conflict.
func (s *Service) InitiateSecureDeletion(ctx context.Context, id domain.RequestID) (*deletionModels.DeletionJob, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Type != models.TypeErasure {
		return nil, dErrors.Newf(dErrors.CodeConflict, "%s requests do not erase data", r.Type)
	}
	if r.Status != models.StatusProcessing || r.Manifest == nil {
		if job, err := s.eraser.ByRequest(ctx, id); err == nil && job != nil {
			return job, nil
		}
		return nil, dErrors.Newf(dErrors.CodeConflict, "request in %s is not ready for deletion", r.Status)
	}
	return s.runDeletion(ctx, r)
}

func (s *Service) runDeletion(ctx context.Context, r *models.Request) (*deletionModels.DeletionJob, error) {
	job, err := s.eraser.InitiateDeletion(ctx, deletionService.InitiateCommand{
		RequestID: r.ID,
		SubjectID: r.SubjectID,
		Manifest:  r.Manifest,
	})
	if dErrors.Is(err, dErrors.CodeConflict) {
		return nil, err
	}
	if err != nil {
		s.report(ctx, r.ID, report{outcome: models.OutcomeFailed, code: dErrors.CodeOf(err), reason: describe(err)})
		return nil, err
	}
	s.report(ctx, r.ID, report{outcome: models.OutcomePending})
	return job, nil
}

// DeletionStatus returns a deletion job by its ID.
func (s *Service) DeletionStatus(ctx context.Context, id domain.DeletionID) (*deletionModels.DeletionJob, error) {
	return s.eraser.Status(ctx, id)
}

// DeletionForRequest returns the deletion job of a request.
func (s *Service) DeletionForRequest(ctx context.Context, id domain.RequestID) (*deletionModels.DeletionJob, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	job, err := s.eraser.ByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no deletion for this request")
	}
	return job, nil
}

func (s *Service) DeletionCertificate(ctx context.Context, id domain.CertificateID) (*deletionModels.Certificate, error) {
	return s.eraser.Certificate(ctx, id)
}

func (s *Service) DeletionCertificatePDF(ctx context.Context, id domain.CertificateID) ([]byte, error) {
	return s.eraser.CertificatePDF(ctx, id)
}

// VerifyCertificateSignature re-verifies a stored certificate. An invalid
// signature is always escalated against the owning request.
func (s *Service) VerifyCertificateSignature(ctx context.Context, id domain.CertificateID) (bool, error) {
	valid, err := s.eraser.VerifyCertificateSignature(ctx, id)
	if err != nil || valid {
		return valid, err
	}
	cert, err := s.eraser.Certificate(ctx, id)
	if err != nil {
		return false, err
	}
	r, err := s.load(ctx, cert.RequestID)
	if err != nil {
		s.logger.ErrorContext(ctx, "certificate owner not found", "certificate_id", id.String(), "error", err)
		return false, nil
	}
	s.escalate(ctx, r, escalationReason(dErrors.CodeCertificateSignatureInvalid), "certificate "+id.String()+" failed signature verification")
	return false, nil
}

// recordFlags marks every manifest item with the flag of the request type.
func (s *Service) recordFlags(ctx context.Context, r *models.Request) error {
	now := requestcontext.Now(ctx)
	flag := models.FlagFor(r.Type)
	flags := make([]models.ProcessingFlag, 0, len(r.Manifest.Entries))
	for _, e := range r.Manifest.Entries {
		flags = append(flags, models.ProcessingFlag{
			RequestID: r.ID,
			Module:    e.Module,
			ItemID:    e.ItemID,
			Kind:      e.Kind,
			Flag:      flag,
			CreatedAt: now,
		})
	}
	if err := s.flags.SaveFlags(ctx, flags); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save processing flags")
	}
	if _, err := s.auditor.Record(ctx, audit.Entry{
		Action:    audit.EventProcessingFlagged,
		RequestID: r.ID.String(),
		Payload: map[string]any{
			"flag":  flag,
			"items": len(flags),
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record processing flags", "request_id", r.ID.String(), "error", err)
	}
	return nil
}

// report advances the request with an outcome the caller observed. A pending
// report lets the records decide.
func (s *Service) report(ctx context.Context, id domain.RequestID, rep report) {
	var err error
	if rep.outcome == models.OutcomePending {
		_, err = s.Advance(ctx, id)
	} else {
		_, err = s.advance(ctx, id, &rep)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to advance after processing", "request_id", id.String(), "error", err)
	}
}
