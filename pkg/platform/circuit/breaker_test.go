package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type BreakerSuite struct {
	suite.Suite
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) TestStartsClosed() {
	b := New("documents")
	s.Equal("documents", b.Name())
	s.Equal(StateClosed, b.State())
	s.True(b.Allow(time.Now()))
}

func (s *BreakerSuite) TestOpensAtFailureThreshold() {
	b := New("documents", WithFailureThreshold(3))
	for range 2 {
		fallback, change := b.RecordFailure()
		s.False(fallback)
		s.False(change.Opened)
	}
	fallback, change := b.RecordFailure()
	s.True(fallback)
	s.True(change.Opened)
	s.True(b.IsOpen())

	s.Run("further failures report no transition", func() {
		fallback, change := b.RecordFailure()
		s.True(fallback)
		s.False(change.Opened)
	})
}

func (s *BreakerSuite) TestSuccessClearsFailureStreak() {
	b := New("documents", WithFailureThreshold(3))
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	s.False(b.IsOpen())
	b.RecordFailure()
	s.True(b.IsOpen())
}

func (s *BreakerSuite) TestClosesAfterConsecutiveSuccesses() {
	b := New("documents", WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()
	s.Require().True(b.IsOpen())

	primary, change := b.RecordSuccess()
	s.False(primary)
	s.False(change.Closed)

	b.RecordFailure()
	primary, _ = b.RecordSuccess()
	s.False(primary, "a failure restarts the success count")

	primary, change = b.RecordSuccess()
	s.True(primary)
	s.True(change.Closed)
	s.Equal(StateClosed, b.State())
}

func (s *BreakerSuite) TestAllowWaitsForCooldown() {
	b := New("documents", WithFailureThreshold(1), WithCooldown(time.Minute))
	b.RecordFailure()
	now := time.Now()
	s.False(b.Allow(now))
	s.True(b.Allow(now.Add(2 * time.Minute)))
}
