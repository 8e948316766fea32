package store

import (
	"context"
	"sync"
	"time"

	"dsrengine/internal/verification/models"
	"dsrengine/pkg/domain"
)

// InMemoryAttemptLimiter implements a per-subject sliding window with explicit
// lockout records. Not shared across processes; use RedisStore for that.
type InMemoryAttemptLimiter struct {
	mu      sync.Mutex
	records map[domain.SubjectID]*attemptRecord
}

type attemptRecord struct {
	attempts    []time.Time
	lockedUntil *time.Time
}

func NewInMemoryAttemptLimiter() *InMemoryAttemptLimiter {
	return &InMemoryAttemptLimiter{records: make(map[domain.SubjectID]*attemptRecord)}
}

// Attempt counts one attempt if the subject is under the limit. The check and
// the increment happen under one lock.
func (l *InMemoryAttemptLimiter) Attempt(_ context.Context, subject domain.SubjectID, now time.Time, window time.Duration, limit int) (models.AttemptDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.record(subject)
	if rec.lockedUntil != nil && now.Before(*rec.lockedUntil) {
		until := *rec.lockedUntil
		return models.AttemptDecision{Allowed: false, Count: len(rec.attempts), LockedUntil: &until}, nil
	}
	rec.cleanup(now, window)
	if len(rec.attempts) >= limit {
		return models.AttemptDecision{Allowed: false, Count: len(rec.attempts)}, nil
	}
	rec.attempts = append(rec.attempts, now)
	return models.AttemptDecision{Allowed: true, Count: len(rec.attempts)}, nil
}

func (l *InMemoryAttemptLimiter) Lock(_ context.Context, subject domain.SubjectID, until time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(subject).lockedUntil = &until
	return nil
}

func (l *InMemoryAttemptLimiter) LockedUntil(_ context.Context, subject domain.SubjectID, now time.Time) (*time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[subject]
	if !ok || rec.lockedUntil == nil || !now.Before(*rec.lockedUntil) {
		return nil, nil
	}
	until := *rec.lockedUntil
	return &until, nil
}

// record must be called with l.mu held.
func (l *InMemoryAttemptLimiter) record(subject domain.SubjectID) *attemptRecord {
	rec, ok := l.records[subject]
	if !ok {
		rec = &attemptRecord{}
		l.records[subject] = rec
	}
	return rec
}

func (r *attemptRecord) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(r.attempts); i++ {
		if r.attempts[i].After(cutoff) {
			break
		}
	}
	r.attempts = r.attempts[i:]
}
