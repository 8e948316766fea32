package store

import (
	"context"
	"sync"
	"time"

	"dsrengine/internal/verification/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
)

// InMemorySessionStore keeps one verification session per subject.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SubjectID]models.Session
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[domain.SubjectID]models.Session)}
}

func (s *InMemorySessionStore) Save(_ context.Context, session *models.Session, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SubjectID] = cloneSession(*session)
	return nil
}

// Get returns sentinel.ErrNotFound once the session is past its retention.
func (s *InMemorySessionStore) Get(_ context.Context, subject domain.SubjectID, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[subject]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !now.Before(session.RetainUntil()) {
		delete(s.sessions, subject)
		return nil, sentinel.ErrNotFound
	}
	out := cloneSession(session)
	return &out, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, subject domain.SubjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, subject)
	return nil
}

func cloneSession(s models.Session) models.Session {
	out := s
	out.Required = append([]models.Method(nil), s.Required...)
	out.Completed = append([]models.Method(nil), s.Completed...)
	if s.LockedUntil != nil {
		t := *s.LockedUntil
		out.LockedUntil = &t
	}
	if s.Location != nil {
		l := *s.Location
		out.Location = &l
	}
	return out
}
