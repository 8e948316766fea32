package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dsrengine/internal/collaborator"
	"dsrengine/internal/collaborator/memstore"
	"dsrengine/internal/deletion/certificate"
	"dsrengine/internal/deletion/models"
	"dsrengine/internal/deletion/store"
	discoveryModels "dsrengine/internal/discovery/models"
	"dsrengine/internal/platform/config"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/audit/publisher"
	"dsrengine/pkg/platform/audit/store/memory"
	"dsrengine/pkg/platform/privacy"
	"dsrengine/pkg/platform/retry"
	"dsrengine/pkg/requestcontext"
)

var testSigner = func() *certificate.Signer {
	s, err := certificate.GenerateSigner("test-key")
	if err != nil {
		panic(err)
	}
	return s
}()

type DeletionSuite struct {
	suite.Suite
	svc        *Service
	store      *store.InMemoryStore
	profile    *memstore.Store
	files      *memstore.Store
	auditStore *memory.InMemoryStore
	pub        *publisher.Publisher
	now        time.Time
	requestID  domain.RequestID
}

func TestDeletionSuite(t *testing.T) {
	suite.Run(t, new(DeletionSuite))
}

func (s *DeletionSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.profile = memstore.New("profile")
	s.files = memstore.New("files")
	s.profile.Put("u2", "p-1", "profile", []byte("name=Ada Lovelace;email=ada@example.com"))
	s.files.Put("u2", "f-1", "document", bytes.Repeat([]byte("secret "), 20000))
	s.auditStore = memory.NewInMemoryStore()
	s.pub = publisher.NewPublisher(s.auditStore)
	s.now = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	s.requestID = domain.NewRequestID()
	s.svc = s.newService(config.DefaultConfig().Deletion)
}

func (s *DeletionSuite) TearDownTest() {
	s.Require().NoError(s.pub.Close())
}

func (s *DeletionSuite) newService(cfg config.DeletionConfig) *Service {
	svc, err := New(s.store, s.store, collaborator.NewRegistry(s.profile, s.files), testSigner, s.pub,
		WithConfig(cfg), WithRetryPolicy(retry.Policy{Attempts: 1}))
	s.Require().NoError(err)
	return svc
}

func (s *DeletionSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *DeletionSuite) manifest() *discoveryModels.Manifest {
	return &discoveryModels.Manifest{
		SubjectID: "u2",
		Status:    discoveryModels.ManifestComplete,
		Entries: []discoveryModels.Entry{
			{Module: "files", ItemID: "f-1", Kind: "document"},
			{Module: "profile", ItemID: "p-1", Kind: "profile"},
		},
	}
}

func (s *DeletionSuite) command() InitiateCommand {
	return InitiateCommand{RequestID: s.requestID, SubjectID: "u2", Manifest: s.manifest()}
}

func patternHash(b byte, n int) string {
	sum := sha256.Sum256(bytes.Repeat([]byte{b}, n))
	return hex.EncodeToString(sum[:])
}

func (s *DeletionSuite) actions() []string {
	events, err := s.auditStore.ListByRequest(context.Background(), s.requestID.String())
	s.Require().NoError(err)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

func (s *DeletionSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.store, collaborator.NewRegistry(), testSigner, s.pub)
	s.Require().Error(err)
	_, err = New(s.store, s.store, collaborator.NewRegistry(), nil, s.pub)
	s.Require().Error(err)
}

func (s *DeletionSuite) TestInitiateDeletion() {
	job, err := s.svc.InitiateDeletion(s.ctx(), s.command())
	s.Require().NoError(err)

	s.Run("every item is overwritten with distinct verified passes and removed", func() {
		s.Equal(models.StatusCompleted, job.Status)
		s.True(job.Succeeded())
		s.Require().Len(job.Items, 2)
		for _, it := range job.Items {
			s.Equal(models.ItemErased, it.Status)
			s.True(it.HashesDistinct(), it.Key())
		}
		fileSize := len("secret ") * 20000
		s.Equal(patternHash(0x00, fileSize), job.Items[0].PassHashes[0])
		s.Equal(patternHash(0xFF, fileSize), job.Items[0].PassHashes[1])
		s.False(s.files.Has("f-1"))
		s.False(s.profile.Has("p-1"))
	})

	s.Run("certificate is signed, verifiable and hides the subject", func() {
		s.Require().NotNil(job.CertificateID)
		cert, err := s.svc.Certificate(s.ctx(), *job.CertificateID)
		s.Require().NoError(err)
		s.Equal(2, cert.ItemCount)
		s.Equal(privacy.HashIdentifier("u2"), cert.SubjectHash)
		s.Equal(s.now.AddDate(0, 0, 7*365), cert.RetainUntil)

		ok, err := s.svc.VerifyCertificateSignature(s.ctx(), cert.ID)
		s.Require().NoError(err)
		s.True(ok)

		pdf, err := s.svc.CertificatePDF(s.ctx(), cert.ID)
		s.Require().NoError(err)
		s.NotEmpty(pdf)
	})

	s.Run("start is audited before items and the certificate after", func() {
		actions := s.actions()
		s.Require().NotEmpty(actions)
		s.Equal(string(audit.EventDeletionStarted), actions[0])
		s.Equal(string(audit.EventCertificateIssued), actions[3])
	})

	s.Run("running again returns the completed job", func() {
		again, err := s.svc.InitiateDeletion(s.ctx(), s.command())
		s.Require().NoError(err)
		s.Equal(job.ID, again.ID)
		s.Equal(*job.CertificateID, *again.CertificateID)
		count, err := s.svc.CountCertificates(s.ctx())
		s.Require().NoError(err)
		s.Equal(1, count)
	})
}

func (s *DeletionSuite) TestUnchangedContentFailsAndResumes() {
	cfg := config.DefaultConfig().Deletion
	cfg.MaxPassRetries = 2
	s.svc = s.newService(cfg)
	s.profile.IgnoreWrites("p-1", true)

	_, err := s.svc.InitiateDeletion(s.ctx(), s.command())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeDeletionVerificationFailed))

	job, err := s.svc.ByRequest(s.ctx(), s.requestID)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, job.Status)
	s.Nil(job.CertificateID, "never partially certified")
	s.Equal(models.ItemErased, job.Items[0].Status)
	s.Equal(models.ItemFailed, job.Items[1].Status)
	s.Equal(2, job.Items[1].Attempts)
	s.True(s.profile.Has("p-1"))
	s.Contains(s.actions(), string(audit.EventDeletionVerificationFailed))

	count, err := s.svc.CountCertificates(s.ctx())
	s.Require().NoError(err)
	s.Zero(count)

	s.profile.IgnoreWrites("p-1", false)
	job, err = s.svc.InitiateDeletion(s.ctx(), s.command())
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, job.Status)
	s.Equal(1, job.Items[0].Attempts, "erased items are not overwritten again")
	s.Equal(3, job.Items[1].Attempts)
	s.False(s.profile.Has("p-1"))
}

func (s *DeletionSuite) TestIncompleteManifestIsRefused() {
	cmd := s.command()
	cmd.Manifest.Status = discoveryModels.ManifestIncomplete
	_, err := s.svc.InitiateDeletion(s.ctx(), cmd)
	s.True(dErrors.Is(err, dErrors.CodeManifestIncomplete))
	s.True(s.files.Has("f-1"))
}

func (s *DeletionSuite) TestLargeJobsCarryADigest() {
	cfg := config.DefaultConfig().Deletion
	cfg.DigestThreshold = 1
	s.svc = s.newService(cfg)

	job, err := s.svc.InitiateDeletion(s.ctx(), s.command())
	s.Require().NoError(err)
	cert, err := s.svc.Certificate(s.ctx(), *job.CertificateID)
	s.Require().NoError(err)
	s.Empty(cert.Items)
	s.Len(cert.ItemsDigest, 64)
	ok, err := s.svc.VerifyCertificateSignature(s.ctx(), cert.ID)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *DeletionSuite) TestEmptyItemsAreRemovedWithoutPasses() {
	s.profile.Put("u2", "p-empty", "profile", nil)
	cmd := s.command()
	cmd.Manifest.Entries = append(cmd.Manifest.Entries, discoveryModels.Entry{Module: "profile", ItemID: "p-empty"})

	job, err := s.svc.InitiateDeletion(s.ctx(), cmd)
	s.Require().NoError(err)
	s.True(job.Items[2].Empty)
	s.Equal([3]string{}, job.Items[2].PassHashes)
	s.False(s.profile.Has("p-empty"))

	cert, err := s.svc.Certificate(s.ctx(), *job.CertificateID)
	s.Require().NoError(err)
	var listed *models.CertificateItem
	for i := range cert.Items {
		if cert.Items[i].ItemID == "p-empty" {
			listed = &cert.Items[i]
		}
	}
	s.Require().NotNil(listed)
	s.True(listed.Empty)
	s.Equal([3]string{}, listed.PassHashes)
}

// tamperingCertStore returns certificates with an altered item count.
type tamperingCertStore struct {
	*store.InMemoryStore
}

func (t tamperingCertStore) GetCertificate(ctx context.Context, id domain.CertificateID) (*models.Certificate, error) {
	cert, err := t.InMemoryStore.GetCertificate(ctx, id)
	if err == nil {
		cert.ItemCount++
	}
	return cert, err
}

func (s *DeletionSuite) TestTamperedCertificateFailsVerification() {
	job, err := s.svc.InitiateDeletion(s.ctx(), s.command())
	s.Require().NoError(err)

	svc, err := New(s.store, tamperingCertStore{s.store}, collaborator.NewRegistry(), testSigner, s.pub)
	s.Require().NoError(err)
	ok, err := svc.VerifyCertificateSignature(s.ctx(), *job.CertificateID)
	s.Require().NoError(err)
	s.False(ok)
	s.Contains(s.actions(), string(audit.EventCertificateInvalid))
}

func (s *DeletionSuite) TestUnknownCertificate() {
	_, err := s.svc.VerifyCertificateSignature(s.ctx(), domain.NewCertificateID())
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}
