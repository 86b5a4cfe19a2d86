package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

// JobsRepository abstracts job persistence and query operations.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) (bool, error)
	// DeleteOlderThan removes terminal jobs last updated before cutoff and
	// returns the count removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{jobs: make(map[string]*domain.Job)}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) ListJobs(_ context.Context) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Status.CreatedAt.After(jobs[j].Status.CreatedAt)
	})
	return jobs, nil
}

func (r *MemoryJobsRepository) DeleteJob(_ context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return false, nil
	}
	delete(r.jobs, jobID)
	return true, nil
}

func (r *MemoryJobsRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for jobID, job := range r.jobs {
		if !job.Status.State.Terminal() {
			continue
		}
		if job.Status.UpdatedAt.Before(cutoff) {
			delete(r.jobs, jobID)
			removed++
		}
	}
	return removed, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Segments = append([]domain.SceneBoundary(nil), job.Segments...)
	clone.Analyses = append([]domain.SceneAnalysis(nil), job.Analyses...)
	if job.Status.Result != nil {
		result := *job.Status.Result
		clone.Status.Result = &result
	}
	if job.Status.Error != nil {
		errorInfo := *job.Status.Error
		clone.Status.Error = &errorInfo
	}
	return &clone
}
