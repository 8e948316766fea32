package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"dsrengine/internal/timeline/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
)

// InMemory is a process-local timeline store for tests and single-node runs.
type InMemory struct {
	mu          sync.RWMutex
	timelines   map[domain.RequestID]*models.Timeline
	escalations map[uuid.UUID]*models.Escalation
	order       []uuid.UUID
}

func NewInMemory() *InMemory {
	return &InMemory{
		timelines:   make(map[domain.RequestID]*models.Timeline),
		escalations: make(map[uuid.UUID]*models.Escalation),
	}
}

func cloneTimeline(t *models.Timeline) *models.Timeline {
	c := *t
	c.WarningsSent = slices.Clone(t.WarningsSent)
	return &c
}

func (s *InMemory) Create(_ context.Context, t *models.Timeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timelines[t.RequestID]; ok {
		return sentinel.ErrConflict
	}
	s.timelines[t.RequestID] = cloneTimeline(t)
	return nil
}

func (s *InMemory) Get(_ context.Context, requestID domain.RequestID) (*models.Timeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timelines[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneTimeline(t), nil
}

func (s *InMemory) MarkWarning(_ context.Context, requestID domain.RequestID, days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !t.WarningSent(days) {
		t.WarningsSent = append(t.WarningsSent, days)
	}
	return nil
}

func (s *InMemory) Close(_ context.Context, requestID domain.RequestID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if t.ClosedAt == nil {
		t.ClosedAt = &at
	}
	return nil
}

func (s *InMemory) ListOpen(_ context.Context) ([]*models.Timeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Timeline
	for _, t := range s.timelines {
		if t.IsOpen() {
			out = append(out, cloneTimeline(t))
		}
	}
	slices.SortFunc(out, func(a, b *models.Timeline) int { return a.Deadline.Compare(b.Deadline) })
	return out, nil
}

func (s *InMemory) SaveEscalation(_ context.Context, e *models.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escalations[e.ID]; ok {
		return sentinel.ErrConflict
	}
	c := *e
	s.escalations[e.ID] = &c
	s.order = append(s.order, e.ID)
	return nil
}

func (s *InMemory) MarkEscalationDelivered(_ context.Context, id uuid.UUID, seq uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escalations[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	e.DeliveredAt = &at
	e.AuditSeq = seq
	return nil
}

func (s *InMemory) ListUndelivered(_ context.Context) ([]*models.Escalation, error) {
	return s.filter(func(e *models.Escalation) bool { return !e.Delivered() }), nil
}

func (s *InMemory) ListEscalations(_ context.Context, requestID domain.RequestID) ([]*models.Escalation, error) {
	return s.filter(func(e *models.Escalation) bool { return e.RequestID == requestID }), nil
}

func (s *InMemory) CountEscalations(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.escalations), nil
}

func (s *InMemory) filter(keep func(*models.Escalation) bool) []*models.Escalation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Escalation
	for _, id := range s.order {
		if e := s.escalations[id]; keep(e) {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}
