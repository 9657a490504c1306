package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/domain"
)

type MemoryBatchStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.BatchJob
	now  func() time.Time
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{
		jobs: make(map[string]domain.BatchJob),
		now:  time.Now,
	}
}

func (s *MemoryBatchStore) Create(_ context.Context, job domain.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryBatchStore) Get(_ context.Context, id string) (domain.BatchJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if ok {
		job.Results = slices.Clone(job.Results)
	}
	return job, ok, nil
}

func (s *MemoryBatchStore) UpdateStatus(_ context.Context, id, status string) (domain.BatchJob, error) {
	return s.update(id, func(job *domain.BatchJob) {
		job.Status = status
	})
}

func (s *MemoryBatchStore) SaveResults(_ context.Context, id string, results []convert.BatchItemResult) (domain.BatchJob, error) {
	return s.update(id, func(job *domain.BatchJob) {
		job.Status = domain.BatchStatusCompleted
		job.Results = slices.Clone(results)
		job.Succeeded = convert.Succeeded(results)
		job.Failed = len(results) - job.Succeeded
	})
}

func (s *MemoryBatchStore) update(id string, apply func(*domain.BatchJob)) (domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.BatchJob{}, ErrBatchNotFound
	}

	apply(&job)
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return job, nil
}
