package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"dsrengine/internal/verification/models"
	"dsrengine/pkg/domain"
)

// InMemoryHistoryStore remembers verified devices, locations and initiations
// per subject, and serves known-account facts for knowledge-based checks.
type InMemoryHistoryStore struct {
	mu          sync.RWMutex
	devices     map[domain.SubjectID][]string
	locations   map[domain.SubjectID][]models.Location
	initiations map[domain.SubjectID][]time.Time
	facts       map[domain.SubjectID]map[string]string
}

func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{
		devices:     make(map[domain.SubjectID][]string),
		locations:   make(map[domain.SubjectID][]models.Location),
		initiations: make(map[domain.SubjectID][]time.Time),
		facts:       make(map[domain.SubjectID]map[string]string),
	}
}

func (s *InMemoryHistoryStore) Load(_ context.Context, subject domain.SubjectID, since time.Time) (models.AccessHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recent := 0
	for _, at := range s.initiations[subject] {
		if at.After(since) {
			recent++
		}
	}
	return models.AccessHistory{
		Devices:        slices.Clone(s.devices[subject]),
		Locations:      slices.Clone(s.locations[subject]),
		RecentAttempts: recent,
	}, nil
}

func (s *InMemoryHistoryStore) RecordInitiation(_ context.Context, subject domain.SubjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiations[subject] = append(s.initiations[subject], at)
	return nil
}

func (s *InMemoryHistoryStore) RecordVerified(_ context.Context, subject domain.SubjectID, fingerprint string, location *models.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fingerprint != "" && !slices.Contains(s.devices[subject], fingerprint) {
		s.devices[subject] = append(s.devices[subject], fingerprint)
	}
	if location != nil && !slices.Contains(s.locations[subject], *location) {
		s.locations[subject] = append(s.locations[subject], *location)
	}
	return nil
}

// SetFacts replaces the known-account facts for a subject.
func (s *InMemoryHistoryStore) SetFacts(_ context.Context, subject domain.SubjectID, facts map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(facts))
	for k, v := range facts {
		copied[k] = v
	}
	s.facts[subject] = copied
	return nil
}

func (s *InMemoryHistoryStore) Facts(_ context.Context, subject domain.SubjectID) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.facts[subject]))
	for k, v := range s.facts[subject] {
		out[k] = v
	}
	return out, nil
}
