package store

import (
	"context"
	"sync"

	"dsrengine/internal/deletion/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	jobs      map[domain.DeletionID]*models.DeletionJob
	byRequest map[domain.RequestID]domain.DeletionID
	certs     map[domain.CertificateID]*models.Certificate
	certByJob map[domain.DeletionID]domain.CertificateID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		jobs:      make(map[domain.DeletionID]*models.DeletionJob),
		byRequest: make(map[domain.RequestID]domain.DeletionID),
		certs:     make(map[domain.CertificateID]*models.Certificate),
		certByJob: make(map[domain.DeletionID]domain.CertificateID),
	}
}

// CreateJob stores a new job. A request has at most one deletion job.
func (s *InMemoryStore) CreateJob(_ context.Context, job *models.DeletionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byRequest[job.RequestID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.jobs[job.ID]; ok {
		return sentinel.ErrConflict
	}
	s.jobs[job.ID] = cloneJob(job)
	s.byRequest[job.RequestID] = job.ID
	return nil
}

func (s *InMemoryStore) GetJob(_ context.Context, id domain.DeletionID) (*models.DeletionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *InMemoryStore) GetJobByRequest(_ context.Context, requestID domain.RequestID) (*models.DeletionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRequest[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

// UpdateItem replaces the stored state of one item.
func (s *InMemoryStore) UpdateItem(_ context.Context, id domain.DeletionID, item models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	for i := range job.Items {
		if job.Items[i].Key() == item.Key() {
			job.Items[i] = cloneItem(item)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// UpdateJob saves the job header: status, certificate, failure reason and completion time.
func (s *InMemoryStore) UpdateJob(_ context.Context, job *models.DeletionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	stored.Status = job.Status
	stored.FailureReason = job.FailureReason
	if job.CertificateID != nil {
		id := *job.CertificateID
		stored.CertificateID = &id
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		stored.CompletedAt = &t
	}
	return nil
}

// SaveCertificate appends a certificate. One certificate per deletion job;
// there is no update or delete.
func (s *InMemoryStore) SaveCertificate(_ context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certByJob[cert.DeletionID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.certs[cert.ID]; ok {
		return sentinel.ErrConflict
	}
	s.certs[cert.ID] = cloneCert(cert)
	s.certByJob[cert.DeletionID] = cert.ID
	return nil
}

func (s *InMemoryStore) GetCertificate(_ context.Context, id domain.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneCert(cert), nil
}

func (s *InMemoryStore) GetCertificateByDeletion(_ context.Context, id domain.DeletionID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.certByJob[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneCert(s.certs[certID]), nil
}

func (s *InMemoryStore) CountCertificates(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.certs), nil
}

func cloneJob(j *models.DeletionJob) *models.DeletionJob {
	out := *j
	out.Items = make([]models.Item, len(j.Items))
	for i, it := range j.Items {
		out.Items[i] = cloneItem(it)
	}
	if j.CertificateID != nil {
		id := *j.CertificateID
		out.CertificateID = &id
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func cloneItem(it models.Item) models.Item {
	if it.ErasedAt != nil {
		t := *it.ErasedAt
		it.ErasedAt = &t
	}
	return it
}

func cloneCert(c *models.Certificate) *models.Certificate {
	out := *c
	out.Items = append([]models.CertificateItem(nil), c.Items...)
	out.Signature = append([]byte(nil), c.Signature...)
	return &out
}
