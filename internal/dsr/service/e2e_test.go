package service

import (
	"time"

	"dsrengine/internal/dsr/models"
	exportModels "dsrengine/internal/export/models"
	exportService "dsrengine/internal/export/service"
	verificationModels "dsrengine/internal/verification/models"
	dErrors "dsrengine/pkg/domain-errors"
)

func (s *ManagerSuite) TestAccessRequestEndToEnd() {
	id := s.submit("u1", "ACCESS")
	s.Equal(models.StatusIdentityPending, s.request(id).Status)

	view, err := s.svc.InitiateVerification(s.at(0), id, ipBerlin, uaMac)
	s.Require().NoError(err)
	s.Equal([]verificationModels.Method{verificationModels.MethodEmailToken}, view.Required)
	msg, ok := s.outbox.Last("u1@example.com")
	s.Require().True(ok)
	s.Contains(msg.Body, msg.Token)

	s.Require().NoError(s.svc.VerifyEmailToken(s.at(time.Minute), id, msg.Token))
	result, err := s.svc.CompleteVerification(s.at(time.Minute), id, []verificationModels.Method{verificationModels.MethodEmailToken})
	s.Require().NoError(err)
	s.True(result.Verified)
	s.drain(time.Minute)

	r := s.request(id)
	s.Require().Equal(models.StatusProcessing, r.Status)
	s.Require().NotNil(r.Manifest)
	s.Len(r.Manifest.Entries, 3)

	password := []byte("correct horse battery")
	job, err := s.svc.InitiateExport(s.at(2*time.Minute), ExportCommand{RequestID: id, Password: append([]byte(nil), password...)})
	s.Require().NoError(err)
	s.Equal(exportModels.FormatJSON, job.Format)
	s.Equal(models.StatusCompleted, s.request(id).Status)

	exports, err := s.svc.Exports(s.at(2*time.Minute), id)
	s.Require().NoError(err)
	s.Require().Len(exports, 1)
	s.Equal(exportModels.StatusReady, exports[0].Status)
	s.Equal(s.now.Add(2*time.Minute+7*24*time.Hour), exports[0].ExpiresAt)

	download, err := s.svc.DownloadExport(s.at(time.Hour), job.ID)
	s.Require().NoError(err)
	pkg, err := exportService.Decrypt(download, password)
	s.Require().NoError(err)
	s.Len(pkg.Items, 3)
	s.Equal(id, pkg.RequestID)

	s.Equal([]string{
		string(models.StatusIdentityPending),
		string(models.StatusIdentityVerified),
		string(models.StatusDiscovering),
		string(models.StatusProcessing),
		string(models.StatusCompleted),
	}, s.statusChanges(id))

	s.Run("export is destroyed after its retention", func() {
		s.Require().NoError(s.scheduler.Tick(s.at(8 * 24 * time.Hour)))
		_, err := s.svc.DownloadExport(s.at(8*24*time.Hour), job.ID)
		s.Error(err)
		exports, err := s.svc.Exports(s.at(8*24*time.Hour), id)
		s.Require().NoError(err)
		s.Equal(exportModels.StatusExpired, exports[0].Status)
	})
}

func (s *ManagerSuite) TestErasureBlockedByFailedVerification() {
	s.knownSubject("u2")
	id := s.submit("u2", "ERASURE")

	// Unfamiliar device in another country.
	view, err := s.svc.InitiateVerification(s.at(0), id, ipMadrid, uaWindows)
	s.Require().NoError(err)
	s.Contains(view.Required, verificationModels.MethodKnowledgeBased)

	msg, ok := s.outbox.Last("u2@example.com")
	s.Require().True(ok)
	s.Require().NoError(s.svc.VerifyEmailToken(s.at(time.Minute), id, msg.Token))

	for i := range 4 {
		err := s.svc.VerifyKnowledgeBased(s.at(time.Duration(i+2)*time.Minute), id, map[string]string{
			"first_pet":  "Felix",
			"birth_city": "Munich",
		})
		s.Require().True(dErrors.HasCode(err, dErrors.CodeVerificationFailed), "attempt %d", i+2)
	}

	err = s.svc.VerifyKnowledgeBased(s.at(6*time.Minute), id, map[string]string{
		"first_pet":     "Rex",
		"birth_city":    "Hamburg",
		"first_school":  "St. Mary's",
		"favorite_team": "Hertha BSC",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))

	result, err := s.svc.CompleteVerification(s.at(7*time.Minute), id, view.Required)
	s.Require().NoError(err)
	s.False(result.Verified)
	s.Contains(result.Missing, verificationModels.MethodKnowledgeBased)

	s.drain(7 * time.Minute)
	s.Require().NoError(s.scheduler.Tick(s.at(time.Hour)))
	s.drain(time.Hour)

	r := s.request(id)
	s.Equal(models.StatusIdentityPending, r.Status)
	s.Nil(r.VerifiedAt)

	_, err = s.svc.DeletionForRequest(s.at(time.Hour), id)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.svc.InitiateSecureDeletion(s.at(time.Hour), id)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	stats, err := s.svc.Statistics(s.at(time.Hour))
	s.Require().NoError(err)
	s.Zero(stats.CertificatesIssued)
	s.True(s.profile.Has("p-9"), "no data erased")
}
