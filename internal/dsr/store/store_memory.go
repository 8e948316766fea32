package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"dsrengine/internal/dsr/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
)

// InMemoryStore keeps requests and processing flags in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]*models.Request
	flags    map[domain.RequestID]map[string]models.ProcessingFlag
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[domain.RequestID]*models.Request),
		flags:    make(map[domain.RequestID]map[string]models.ProcessingFlag),
	}
}

func (s *InMemoryStore) Create(_ context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return sentinel.ErrConflict
	}
	c := r.Clone()
	c.Version = 1
	s.requests[r.ID] = c
	r.Version = 1
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

// Update replaces the stored request when r.Version matches, then bumps the version.
func (s *InMemoryStore) Update(_ context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if cur.Version != r.Version {
		return sentinel.ErrConflict
	}
	c := r.Clone()
	c.Version++
	s.requests[r.ID] = c
	r.Version = c.Version
	return nil
}

// ListOpen returns requests not yet in a terminal state, oldest first.
func (s *InMemoryStore) ListOpen(_ context.Context) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Request
	for _, r := range s.requests {
		if !r.Status.IsTerminal() {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Counts(_ context.Context, now time.Time) (*models.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &models.Counts{
		ByStatus: make(map[models.Status]int),
		ByType:   make(map[models.Type]int),
	}
	for _, r := range s.requests {
		c.ByStatus[r.Status]++
		c.ByType[r.Type]++
		if !r.Status.IsTerminal() && !now.Before(r.Deadline) {
			c.Overdue++
		}
		if r.Status == models.StatusCompleted && r.ClosedAt != nil {
			c.Completed++
			c.TotalCompletion += r.ClosedAt.Sub(r.CreatedAt)
		}
	}
	return c, nil
}

// SaveFlags records flags, ignoring items already flagged for the request.
func (s *InMemoryStore) SaveFlags(_ context.Context, flags []models.ProcessingFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range flags {
		byItem, ok := s.flags[f.RequestID]
		if !ok {
			byItem = make(map[string]models.ProcessingFlag)
			s.flags[f.RequestID] = byItem
		}
		key := f.Module + "/" + f.ItemID
		if _, exists := byItem[key]; !exists {
			byItem[key] = f
		}
	}
	return nil
}

func (s *InMemoryStore) ListFlags(_ context.Context, requestID domain.RequestID) ([]models.ProcessingFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ProcessingFlag, 0, len(s.flags[requestID]))
	for _, f := range s.flags[requestID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}
