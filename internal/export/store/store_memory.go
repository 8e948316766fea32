package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"dsrengine/internal/export/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	jobs map[domain.ExportID]*models.ExportJob
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{jobs: make(map[domain.ExportID]*models.ExportJob)}
}

// Create rejects a second READY job for the same request.
func (s *InMemoryStore) Create(_ context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return sentinel.ErrConflict
	}
	if job.Status == models.StatusReady {
		for _, other := range s.jobs {
			if other.RequestID == job.RequestID && other.Status == models.StatusReady {
				return sentinel.ErrConflict
			}
		}
	}
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.ExportID) (*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(job), nil
}

func (s *InMemoryStore) ListByRequest(_ context.Context, requestID domain.RequestID) ([]*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExportJob
	for _, job := range s.jobs {
		if job.RequestID == requestID {
			out = append(out, clone(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, now time.Time) ([]*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExportJob
	for _, job := range s.jobs {
		if job.Status == models.StatusReady && !now.Before(job.ExpiresAt) {
			out = append(out, clone(job))
		}
	}
	return out, nil
}

// RecordDownload counts a download of an available export. On the first
// download, graceUntil (when set) pulls the expiry forward.
func (s *InMemoryStore) RecordDownload(_ context.Context, id domain.ExportID, at time.Time, graceUntil *time.Time) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !job.IsAvailableAt(at) {
		return nil, sentinel.ErrExpired
	}
	job.DownloadCount++
	if job.FirstDownloadAt == nil {
		first := at
		job.FirstDownloadAt = &first
		if graceUntil != nil && graceUntil.Before(job.ExpiresAt) {
			job.ExpiresAt = *graceUntil
		}
	}
	return clone(job), nil
}

func (s *InMemoryStore) MarkExpired(_ context.Context, id domain.ExportID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	job.Status = models.StatusExpired
	job.ExpiredAt = &at
	return nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs), nil
}

func clone(j *models.ExportJob) *models.ExportJob {
	out := *j
	out.Salt = append([]byte(nil), j.Salt...)
	out.Cipher.Nonce = append([]byte(nil), j.Cipher.Nonce...)
	if j.FirstDownloadAt != nil {
		t := *j.FirstDownloadAt
		out.FirstDownloadAt = &t
	}
	if j.ExpiredAt != nil {
		t := *j.ExpiredAt
		out.ExpiredAt = &t
	}
	return &out
}
