//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	discoveryModels "dsrengine/internal/discovery/models"
	"dsrengine/internal/dsr/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
	ctx      context.Context
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(s.ctx, "processing_flags", "dsr_requests"))
}

func (s *PostgresStoreSuite) newRequest(subject string, typ models.Type) *models.Request {
	return &models.Request{
		ID:        domain.NewRequestID(),
		SubjectID: domain.SubjectID(subject),
		Contact:   subject + "@example.com",
		Type:      typ,
		Priority:  models.PriorityNormal,
		Status:    models.StatusReceived,
		CreatedAt: s.now,
		Deadline:  s.now.Add(30 * 24 * time.Hour),
		UpdatedAt: s.now,
	}
}

func (s *PostgresStoreSuite) TestCreateGetRoundTrip() {
	r := s.newRequest("u1", models.TypeAccess)
	r.Manifest = &discoveryModels.Manifest{
		SubjectID: "u1",
		Status:    discoveryModels.ManifestComplete,
		Entries:   []discoveryModels.Entry{{Module: "docs", ItemID: "d1", Kind: "document", Priority: true}},
		CreatedAt: s.now,
	}
	s.Require().NoError(s.store.Create(s.ctx, r))
	s.EqualValues(1, r.Version)

	got, err := s.store.Get(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.SubjectID, got.SubjectID)
	s.Equal(r.Contact, got.Contact)
	s.Equal(models.StatusReceived, got.Status)
	s.True(r.Deadline.Equal(got.Deadline))
	s.Require().NotNil(got.Manifest)
	s.Equal(r.Manifest.Entries, got.Manifest.Entries)

	s.Run("duplicate id conflicts", func() {
		s.ErrorIs(s.store.Create(s.ctx, r), sentinel.ErrConflict)
	})
	s.Run("unknown id", func() {
		_, err := s.store.Get(s.ctx, domain.NewRequestID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestUpdateChecksVersion() {
	r := s.newRequest("u1", models.TypeErasure)
	s.Require().NoError(s.store.Create(s.ctx, r))

	stale := r.Clone()
	r.Status = models.StatusIdentityPending
	s.Require().NoError(s.store.Update(s.ctx, r))
	s.EqualValues(2, r.Version)

	stale.Status = models.StatusCancelled
	s.ErrorIs(s.store.Update(s.ctx, stale), sentinel.ErrConflict)

	got, err := s.store.Get(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusIdentityPending, got.Status)
}

func (s *PostgresStoreSuite) TestListOpenAndCounts() {
	open := s.newRequest("u1", models.TypeAccess)
	s.Require().NoError(s.store.Create(s.ctx, open))

	done := s.newRequest("u2", models.TypeErasure)
	s.Require().NoError(s.store.Create(s.ctx, done))
	closed := s.now.Add(48 * time.Hour)
	done.Status = models.StatusCompleted
	done.ClosedAt = &closed
	s.Require().NoError(s.store.Update(s.ctx, done))

	list, err := s.store.ListOpen(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(open.ID, list[0].ID)

	counts, err := s.store.Counts(s.ctx, s.now.Add(31*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, counts.ByStatus[models.StatusReceived])
	s.Equal(1, counts.ByStatus[models.StatusCompleted])
	s.Equal(1, counts.ByType[models.TypeErasure])
	s.Equal(1, counts.Overdue)
	s.Equal(1, counts.Completed)
	s.Equal(48*time.Hour, counts.TotalCompletion)
}

func (s *PostgresStoreSuite) TestFlagsAreIdempotent() {
	r := s.newRequest("u3", models.TypeRestriction)
	s.Require().NoError(s.store.Create(s.ctx, r))

	flags := []models.ProcessingFlag{
		{RequestID: r.ID, Module: "docs", ItemID: "d2", Kind: "document", Flag: models.FlagRestricted, CreatedAt: s.now},
		{RequestID: r.ID, Module: "docs", ItemID: "d1", Kind: "document", Flag: models.FlagRestricted, CreatedAt: s.now},
	}
	s.Require().NoError(s.store.SaveFlags(s.ctx, flags))
	s.Require().NoError(s.store.SaveFlags(s.ctx, flags))

	got, err := s.store.ListFlags(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("d1", got[0].ItemID)
	s.Equal(models.FlagRestricted, got[1].Flag)
}
