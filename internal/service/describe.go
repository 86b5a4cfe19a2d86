package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/orchestrator"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/queue"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/repository"
)

// DescribeService accepts describe requests over the API, persists the
// job record and hands the work to the queue. Reads and deletes go
// through the orchestrator so its routing table stays consistent.
type DescribeService struct {
	repo         repository.JobsRepository
	producer     queue.Producer
	orchestrator *orchestrator.Orchestrator
}

func NewDescribeService(
	repo repository.JobsRepository,
	producer queue.Producer,
	orch *orchestrator.Orchestrator,
) *DescribeService {
	return &DescribeService{repo: repo, producer: producer, orchestrator: orch}
}

func (s *DescribeService) SubmitVideo(ctx context.Context, request domain.ProcessRequest) (*domain.Job, error) {
	request.MediaType = domain.MediaVideo
	return s.submit(ctx, request)
}

func (s *DescribeService) SubmitImage(ctx context.Context, request domain.ProcessRequest) (*domain.Job, error) {
	request.MediaType = domain.MediaImage
	return s.submit(ctx, request)
}

func (s *DescribeService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.orchestrator.GetJob(ctx, jobID)
}

func (s *DescribeService) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	return s.orchestrator.ListJobs(ctx)
}

func (s *DescribeService) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	return s.orchestrator.DeleteJob(ctx, jobID)
}

func (s *DescribeService) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.orchestrator.Cleanup(ctx, maxAge)
}

func (s *DescribeService) submit(ctx context.Context, request domain.ProcessRequest) (*domain.Job, error) {
	if err := validateRequest(request); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:              uuid.NewString(),
		MediaType:       request.MediaType,
		InputRef:        request.InputRef,
		Pipeline:        request.Pipeline,
		Priority:        request.Priority,
		SizeBytes:       request.SizeBytes,
		DurationSeconds: request.DurationSeconds,
		Prompt:          request.Prompt,
		Status: domain.JobStatus{
			State:     domain.JobStatePending,
			Step:      domain.StepUpload,
			Progress:  0,
			Message:   "queued",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:           job.ID,
		MediaType:       job.MediaType,
		InputRef:        job.InputRef,
		Pipeline:        job.Pipeline,
		Priority:        job.Priority,
		SizeBytes:       job.SizeBytes,
		DurationSeconds: job.DurationSeconds,
		Prompt:          job.Prompt,
		Attempt:         0,
		RequestedAt:     now,
	}

	if err := s.producer.Enqueue(ctx, message); err != nil {
		job.Status.State = domain.JobStateFailed
		job.Status.Error = domain.ErrorInfoFrom(fmt.Errorf("enqueue job: %w", err))
		job.Status.UpdatedAt = time.Now().UTC()
		_ = s.repo.UpdateJob(ctx, job)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

func validateRequest(request domain.ProcessRequest) error {
	if request.InputRef == "" {
		return &domain.ValidationError{Field: "input_ref", Reason: "must not be empty"}
	}
	if _, ok := domain.ParsePipeline(string(request.Pipeline)); !ok {
		return &domain.ValidationError{Field: "pipeline", Reason: fmt.Sprintf("unknown pipeline %q", request.Pipeline)}
	}
	switch request.Priority {
	case "", domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh:
	default:
		return &domain.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", request.Priority)}
	}
	if request.SizeBytes < 0 {
		return &domain.ValidationError{Field: "size_bytes", Reason: "must not be negative"}
	}
	if request.DurationSeconds < 0 {
		return &domain.ValidationError{Field: "duration_seconds", Reason: "must not be negative"}
	}
	return nil
}
