//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dsrengine/internal/verification/models"
	"dsrengine/pkg/platform/sentinel"
	"dsrengine/pkg/requestcontext"
	"dsrengine/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = NewRedisStore(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestSessionRoundTrip() {
	now := time.Now().UTC()
	session := &models.Session{
		SubjectID: "u1",
		Contact:   "u1@example.com",
		Required:  []models.Method{models.MethodEmailToken},
		TokenHash: "abc",
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
	}
	s.Require().NoError(s.store.Save(s.ctx, session, now))

	got, err := s.store.Get(s.ctx, "u1", now)
	s.Require().NoError(err)
	s.Equal(session.Required, got.Required)
	s.Equal("abc", got.TokenHash)

	ttl, err := s.redis.Client.TTL(s.ctx, sessionKeyPrefix+"u1").Result()
	s.Require().NoError(err)
	s.InDelta(15*time.Minute, ttl, float64(5*time.Second))

	s.Require().NoError(s.store.Delete(s.ctx, "u1"))
	_, err = s.store.Get(s.ctx, "u1", now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestAttemptLimit() {
	now := time.Now()
	for i := range 5 {
		d, err := s.store.Attempt(s.ctx, "u1", now.Add(time.Duration(i)*time.Millisecond), time.Hour, 5)
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(i+1, d.Count)
	}
	d, err := s.store.Attempt(s.ctx, "u1", now.Add(10*time.Millisecond), time.Hour, 5)
	s.Require().NoError(err)
	s.False(d.Allowed)

	until := now.Add(30 * time.Minute)
	s.Require().NoError(s.store.Lock(s.ctx, "u1", until))
	d, err = s.store.Attempt(s.ctx, "u1", now, time.Hour, 5)
	s.Require().NoError(err)
	s.False(d.Allowed)
	s.Require().NotNil(d.LockedUntil)
	s.WithinDuration(until, *d.LockedUntil, time.Millisecond)

	locked, err := s.store.LockedUntil(s.ctx, "u1", now)
	s.Require().NoError(err)
	s.NotNil(locked)
}

func (s *RedisStoreSuite) TestLockUsesRequestClock() {
	pinned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, pinned)
	until := pinned.Add(30 * time.Minute)
	s.Require().NoError(s.store.Lock(ctx, "u1", until))

	ttl, err := s.redis.Client.PTTL(s.ctx, lockoutKeyPrefix+"u1").Result()
	s.Require().NoError(err)
	s.InDelta(30*time.Minute, ttl, float64(5*time.Second))

	locked, err := s.store.LockedUntil(s.ctx, "u1", pinned.Add(29*time.Minute))
	s.Require().NoError(err)
	s.Require().NotNil(locked)
	s.True(until.Equal(*locked))

	s.Run("a lock already over on the request clock is not written", func() {
		s.Require().NoError(s.store.Lock(ctx, "u2", pinned.Add(-time.Minute)))
		n, err := s.redis.Client.Exists(s.ctx, lockoutKeyPrefix+"u2").Result()
		s.Require().NoError(err)
		s.Zero(n)
	})
}

func (s *RedisStoreSuite) TestHistoryAndFacts() {
	now := time.Now()
	loc := &models.Location{Latitude: 52.52, Longitude: 13.405, Country: "DE"}
	s.Require().NoError(s.store.RecordVerified(s.ctx, "u1", "fp1", loc))
	s.Require().NoError(s.store.RecordVerified(s.ctx, "u1", "fp1", loc))
	s.Require().NoError(s.store.RecordInitiation(s.ctx, "u1", now.Add(-2*time.Hour)))
	s.Require().NoError(s.store.RecordInitiation(s.ctx, "u1", now))

	h, err := s.store.Load(s.ctx, "u1", now.Add(-time.Hour))
	s.Require().NoError(err)
	s.Equal([]string{"fp1"}, h.Devices)
	s.Equal([]models.Location{*loc}, h.Locations)
	s.Equal(1, h.RecentAttempts)

	s.Require().NoError(s.store.SetFacts(s.ctx, "u1", map[string]string{"first_pet": "Rex"}))
	facts, err := s.store.Facts(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal("Rex", facts["first_pet"])
}
