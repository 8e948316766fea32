package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dsrengine/internal/collaborator"
	"dsrengine/internal/collaborator/memstore"
	discoveryModels "dsrengine/internal/discovery/models"
	"dsrengine/internal/export/blob"
	"dsrengine/internal/export/crypto"
	"dsrengine/internal/export/models"
	"dsrengine/internal/export/store"
	"dsrengine/internal/platform/config"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/audit/publisher"
	"dsrengine/pkg/platform/audit/store/memory"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
)

// cheap Argon2id cost so the suite stays fast
var testKDF = models.KDFParams{Algorithm: crypto.KDFArgon2id, Time: 1, MemoryKiB: 1024, Threads: 1, KeyLen: 32}

type ExportSuite struct {
	suite.Suite
	svc        *Service
	jobs       *store.InMemoryStore
	blobs      *blob.MemoryStore
	profile    *memstore.Store
	auditStore *memory.InMemoryStore
	pub        *publisher.Publisher
	now        time.Time
	requestID  domain.RequestID
}

func TestExportSuite(t *testing.T) {
	suite.Run(t, new(ExportSuite))
}

func (s *ExportSuite) SetupTest() {
	s.jobs = store.NewInMemory()
	s.blobs = blob.NewMemoryStore()
	s.profile = memstore.New("profile")
	s.profile.Put("u1", "p-1", "profile", []byte(`{"email":"u1@example.com"}`))
	s.profile.Put("u1", "p-2", "address", []byte("1 Main St"))
	s.profile.Put("u1", "p-3", "note", []byte{0x00, 0xff, 0x10})
	s.auditStore = memory.NewInMemoryStore()
	s.pub = publisher.NewPublisher(s.auditStore)
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.requestID = domain.NewRequestID()
	s.svc = s.newService(config.DefaultConfig().Export)
}

func (s *ExportSuite) TearDownTest() {
	s.Require().NoError(s.pub.Close())
}

func (s *ExportSuite) newService(cfg config.ExportConfig) *Service {
	svc, err := New(s.jobs, s.blobs, collaborator.NewRegistry(s.profile), s.pub,
		WithConfig(cfg), WithKDFParams(testKDF))
	s.Require().NoError(err)
	return svc
}

func (s *ExportSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

func (s *ExportSuite) manifest() *discoveryModels.Manifest {
	m := &discoveryModels.Manifest{SubjectID: "u1", Status: discoveryModels.ManifestComplete, CreatedAt: s.now}
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		m.Entries = append(m.Entries, discoveryModels.Entry{Module: "profile", ItemID: id, Kind: "profile"})
	}
	return m
}

func (s *ExportSuite) export(format models.Format, password string) *models.ExportJob {
	job, err := s.svc.InitiateExport(s.at(0), InitiateCommand{
		RequestID: s.requestID,
		Manifest:  s.manifest(),
		Format:    format,
		Password:  []byte(password),
	})
	s.Require().NoError(err)
	return job
}

func (s *ExportSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.blobs, collaborator.NewRegistry(), s.pub)
	s.Require().Error(err)
	_, err = New(s.jobs, s.blobs, collaborator.NewRegistry(), nil)
	s.Require().Error(err)
}

func (s *ExportSuite) TestInitiateExport() {
	s.Run("stores ciphertext with a 7 day expiry", func() {
		job := s.export(models.FormatJSON, "correct horse")
		s.Equal(models.StatusReady, job.Status)
		s.Equal(3, job.ItemCount)
		s.Equal(s.now.Add(7*24*time.Hour), job.ExpiresAt)
		s.Len(job.Salt, crypto.SaltSize)
		s.Len(job.Cipher.Nonce, crypto.NonceSize)

		stored, err := s.blobs.Get(context.Background(), job.BlobKey)
		s.Require().NoError(err)
		s.NotContains(string(stored), "u1@example.com")
		s.Equal(int64(len(stored)), job.Size)

		events, err := s.auditStore.ListByRequest(context.Background(), s.requestID.String())
		s.Require().NoError(err)
		s.Require().NotEmpty(events)
		s.Equal(string(audit.EventExportCreated), events[len(events)-1].Action)
	})

	s.Run("password buffer is cleared", func() {
		s.SetupTest()
		password := []byte("correct horse")
		_, err := s.svc.InitiateExport(s.at(0), InitiateCommand{RequestID: s.requestID, Manifest: s.manifest(), Format: models.FormatCSV, Password: password})
		s.Require().NoError(err)
		s.Equal(make([]byte, len(password)), password)
	})

	s.Run("short password is rejected", func() {
		_, err := s.svc.InitiateExport(s.at(0), InitiateCommand{RequestID: domain.NewRequestID(), Manifest: s.manifest(), Format: models.FormatJSON, Password: []byte("short")})
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("incomplete manifest is refused", func() {
		m := s.manifest()
		m.Status = discoveryModels.ManifestIncomplete
		_, err := s.svc.InitiateExport(s.at(0), InitiateCommand{RequestID: domain.NewRequestID(), Manifest: m, Format: models.FormatJSON, Password: []byte("correct horse")})
		s.True(dErrors.Is(err, dErrors.CodeManifestIncomplete))
	})

	s.Run("second available export for a request conflicts", func() {
		_, err := s.svc.InitiateExport(s.at(time.Hour), InitiateCommand{RequestID: s.requestID, Manifest: s.manifest(), Format: models.FormatJSON, Password: []byte("correct horse")})
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("unreadable item fails the export without storing anything", func() {
		m := s.manifest()
		m.Entries = append(m.Entries, discoveryModels.Entry{Module: "profile", ItemID: "missing"})
		svc, err := New(s.jobs, s.blobs, collaborator.NewRegistry(s.profile), s.pub, WithKDFParams(testKDF))
		s.Require().NoError(err)
		requestID := domain.NewRequestID()
		_, err = svc.InitiateExport(s.at(0), InitiateCommand{RequestID: requestID, Manifest: m, Format: models.FormatJSON, Password: []byte("correct horse")})
		s.True(dErrors.Is(err, dErrors.CodeExportFailed))
		jobs, err := svc.ByRequest(context.Background(), requestID)
		s.Require().NoError(err)
		s.Empty(jobs)
	})

	s.Run("oversized export fails", func() {
		cfg := config.DefaultConfig().Export
		cfg.MaxSizeBytes = 16
		svc := s.newService(cfg)
		_, err := svc.InitiateExport(s.at(0), InitiateCommand{RequestID: domain.NewRequestID(), Manifest: s.manifest(), Format: models.FormatJSON, Password: []byte("correct horse")})
		s.True(dErrors.Is(err, dErrors.CodeExportFailed))
	})
}

func (s *ExportSuite) TestRoundTrip() {
	for _, format := range []models.Format{models.FormatJSON, models.FormatCSV, models.FormatXML} {
		s.Run(string(format), func() {
			s.SetupTest()
			job := s.export(format, "correct horse")

			d, err := s.svc.Download(s.at(time.Minute), job.ID)
			s.Require().NoError(err)

			pkg, err := Decrypt(d, []byte("correct horse"))
			s.Require().NoError(err)
			s.Equal(s.requestID, pkg.RequestID)
			s.Equal(domain.SubjectID("u1"), pkg.SubjectID)
			s.Require().Len(pkg.Items, 3)
			s.Equal([]byte(`{"email":"u1@example.com"}`), pkg.Items[0].Content)
			s.Equal([]byte{0x00, 0xff, 0x10}, pkg.Items[2].Content)

			pkg, err = Decrypt(d, []byte("correct horsf"))
			s.ErrorIs(err, crypto.ErrDecrypt)
			s.Nil(pkg)
		})
	}
}

func (s *ExportSuite) TestStatusAndDownload() {
	job := s.export(models.FormatJSON, "correct horse")

	s.Run("status reports ready", func() {
		got, err := s.svc.Status(s.at(time.Hour), job.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusReady, got.Status)
	})

	s.Run("downloads are counted", func() {
		_, err := s.svc.Download(s.at(time.Hour), job.ID)
		s.Require().NoError(err)
		d, err := s.svc.Download(s.at(2*time.Hour), job.ID)
		s.Require().NoError(err)
		s.Equal(2, d.Job.DownloadCount)
		s.Equal(s.now.Add(time.Hour), *d.Job.FirstDownloadAt)
	})

	s.Run("past expiry the export is gone", func() {
		_, err := s.svc.Download(s.at(7*24*time.Hour), job.ID)
		s.True(dErrors.Is(err, dErrors.CodeGone))

		got, err := s.svc.Status(s.at(7*24*time.Hour), job.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, got.Status)
	})

	s.Run("unknown export", func() {
		_, err := s.svc.Status(s.at(0), domain.NewExportID())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *ExportSuite) TestFirstDownloadPolicy() {
	cfg := config.DefaultConfig().Export
	cfg.ExpiryPolicy = config.ExpiryFirstDownload
	cfg.DownloadGrace = 24 * time.Hour
	s.svc = s.newService(cfg)
	job := s.export(models.FormatJSON, "correct horse")

	d, err := s.svc.Download(s.at(time.Hour), job.ID)
	s.Require().NoError(err)
	s.Equal(s.now.Add(25*time.Hour), d.Job.ExpiresAt)

	_, err = s.svc.Download(s.at(26*time.Hour), job.ID)
	s.True(dErrors.Is(err, dErrors.CodeGone))
}

func (s *ExportSuite) TestConcurrentInitiateCreatesOneJob() {
	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.InitiateExport(s.at(0), InitiateCommand{
				RequestID: s.requestID,
				Manifest:  s.manifest(),
				Format:    models.FormatJSON,
				Password:  []byte("correct horse"),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case dErrors.Is(err, dErrors.CodeConflict):
				conflicts++
			default:
				s.Failf("unexpected error", "%v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(1, created)
	s.Equal(callers-1, conflicts)
	jobs, err := s.svc.ByRequest(context.Background(), s.requestID)
	s.Require().NoError(err)
	s.Len(jobs, 1)
}

func (s *ExportSuite) TestOneReadyJobPerRequest() {
	job := s.export(models.FormatJSON, "correct horse")

	other := *job
	other.ID = domain.NewExportID()
	s.ErrorIs(s.jobs.Create(context.Background(), &other), sentinel.ErrConflict)

	s.Require().NoError(s.jobs.MarkExpired(context.Background(), job.ID, s.now))
	s.NoError(s.jobs.Create(context.Background(), &other), "an expired job no longer blocks")
}

func (s *ExportSuite) TestReexportRetiresUnsweptExpiredJob() {
	old := s.export(models.FormatJSON, "correct horse")

	fresh, err := s.svc.InitiateExport(s.at(8*24*time.Hour), InitiateCommand{
		RequestID: s.requestID,
		Manifest:  s.manifest(),
		Format:    models.FormatJSON,
		Password:  []byte("correct horse"),
	})
	s.Require().NoError(err)
	s.Equal(models.StatusReady, fresh.Status)

	stored, err := s.jobs.Get(context.Background(), old.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
	_, err = s.blobs.Get(context.Background(), old.BlobKey)
	s.Error(err, "expired ciphertext is destroyed before the new export")
}

func (s *ExportSuite) TestSweepExpired() {
	job := s.export(models.FormatJSON, "correct horse")

	n, err := s.svc.SweepExpired(s.at(6 * 24 * time.Hour))
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.svc.SweepExpired(s.at(7 * 24 * time.Hour))
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.blobs.Get(context.Background(), job.BlobKey)
	s.Error(err, "ciphertext is removed")

	got, err := s.svc.Status(s.at(8*24*time.Hour), job.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, got.Status)
	s.NotNil(got.ExpiredAt)

	n, err = s.svc.SweepExpired(s.at(8 * 24 * time.Hour))
	s.Require().NoError(err)
	s.Zero(n, "expired jobs are swept once")

	count, err := s.svc.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(1, count)
}
