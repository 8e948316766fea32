//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dsrengine/pkg/testutil/containers"
)

type RedisLockSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	lock  *Redis
	ctx   context.Context
}

func TestRedisLockSuite(t *testing.T) {
	suite.Run(t, new(RedisLockSuite))
}

func (s *RedisLockSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.lock = NewRedis(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisLockSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisLockSuite) TestAcquireRelease() {
	ok, err := s.lock.Acquire(s.ctx, "u1", "req-a", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.lock.Acquire(s.ctx, "u1", "req-b", time.Minute)
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.lock.Acquire(s.ctx, "u1", "req-a", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.lock.Release(s.ctx, "u1", "req-b"))
	holder, err := s.lock.Holder(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal("req-a", holder)

	s.Require().NoError(s.lock.Release(s.ctx, "u1", "req-a"))
	holder, err = s.lock.Holder(s.ctx, "u1")
	s.Require().NoError(err)
	s.Empty(holder)
}

func (s *RedisLockSuite) TestKeyDoesNotContainSubject() {
	_, err := s.lock.Acquire(s.ctx, "alice@example.com", "req-a", time.Minute)
	s.Require().NoError(err)
	keys, err := s.redis.Client.Keys(s.ctx, "*").Result()
	s.Require().NoError(err)
	s.Require().Len(keys, 1)
	s.NotContains(keys[0], "alice")
}

func (s *RedisLockSuite) TestHoldExpires() {
	ok, err := s.lock.Acquire(s.ctx, "u2", "req-a", 50*time.Millisecond)
	s.Require().NoError(err)
	s.True(ok)
	s.Eventually(func() bool {
		ok, err := s.lock.Acquire(s.ctx, "u2", "req-b", time.Minute)
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)
}
