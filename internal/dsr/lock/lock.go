// Package lock provides the per-subject advisory lock that keeps an export
// and a deletion of the same subject from running concurrently.
package lock

import (
	"context"
	"sync"
	"time"

	"dsrengine/pkg/domain"
	"dsrengine/pkg/requestcontext"
)

// InMemory is a single-process subject lock with expiring holds.
type InMemory struct {
	mu    sync.Mutex
	holds map[domain.SubjectID]hold
}

type hold struct {
	owner   string
	expires time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{holds: make(map[domain.SubjectID]hold)}
}

// Acquire takes the lock for owner. Re-acquiring by the current owner
// extends the hold and succeeds.
func (l *InMemory) Acquire(ctx context.Context, subject domain.SubjectID, owner string, ttl time.Duration) (bool, error) {
	now := requestcontext.Now(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holds[subject]; ok && h.owner != owner && now.Before(h.expires) {
		return false, nil
	}
	l.holds[subject] = hold{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// Release drops the lock if owner still holds it.
func (l *InMemory) Release(_ context.Context, subject domain.SubjectID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holds[subject]; ok && h.owner == owner {
		delete(l.holds, subject)
	}
	return nil
}

// Holder returns the current owner, or "" when the subject is free.
func (l *InMemory) Holder(ctx context.Context, subject domain.SubjectID) (string, error) {
	now := requestcontext.Now(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holds[subject]
	if !ok || !now.Before(h.expires) {
		return "", nil
	}
	return h.owner, nil
}
