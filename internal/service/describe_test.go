package service

import (
	"context"
	"errors"
	"testing"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/repository"
)

type fakeProducer struct {
	messages []domain.QueueMessage
	err      error
}

func (p *fakeProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

func TestSubmitVideoCreatesPendingJobAndEnqueues(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &fakeProducer{}
	svc := NewDescribeService(repo, producer, nil)

	job, err := svc.SubmitVideo(context.Background(), domain.ProcessRequest{
		InputRef:        "s3://bucket/clip.mp4",
		Pipeline:        domain.PipelineHybrid,
		Priority:        domain.PriorityHigh,
		SizeBytes:       40 << 20,
		DurationSeconds: 300,
		Prompt:          "focus on on-screen text",
	})
	if err != nil {
		t.Fatalf("submit video: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected a generated job id")
	}
	if job.MediaType != domain.MediaVideo {
		t.Fatalf("media type = %s, want video", job.MediaType)
	}
	if job.Status.State != domain.JobStatePending || job.Status.Step != domain.StepUpload {
		t.Fatalf("unexpected initial status %+v", job.Status)
	}
	if job.Status.Progress != 0 {
		t.Fatalf("initial progress = %d, want 0", job.Status.Progress)
	}

	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if stored.InputRef != "s3://bucket/clip.mp4" {
		t.Fatalf("stored input ref = %q", stored.InputRef)
	}

	if len(producer.messages) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(producer.messages))
	}
	message := producer.messages[0]
	if message.JobID != job.ID {
		t.Fatalf("message job id = %s, want %s", message.JobID, job.ID)
	}
	if message.MediaType != domain.MediaVideo || message.Pipeline != domain.PipelineHybrid {
		t.Fatalf("message lost request fields: %+v", message)
	}
	if message.SizeBytes != 40<<20 || message.DurationSeconds != 300 {
		t.Fatalf("message lost media characteristics: %+v", message)
	}
	if message.Attempt != 0 {
		t.Fatalf("fresh message attempt = %d, want 0", message.Attempt)
	}
}

func TestSubmitImageSetsMediaType(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &fakeProducer{}
	svc := NewDescribeService(repo, producer, nil)

	job, err := svc.SubmitImage(context.Background(), domain.ProcessRequest{
		// MediaType video here must be overridden by the image entry point.
		MediaType: domain.MediaVideo,
		InputRef:  "s3://bucket/photo.jpg",
	})
	if err != nil {
		t.Fatalf("submit image: %v", err)
	}
	if job.MediaType != domain.MediaImage {
		t.Fatalf("media type = %s, want image", job.MediaType)
	}
	if producer.messages[0].MediaType != domain.MediaImage {
		t.Fatalf("queued media type = %s, want image", producer.messages[0].MediaType)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	cases := []struct {
		name    string
		request domain.ProcessRequest
		field   string
	}{
		{"empty input ref", domain.ProcessRequest{}, "input_ref"},
		{"unknown pipeline", domain.ProcessRequest{InputRef: "ref", Pipeline: "sonar-vision"}, "pipeline"},
		{"unknown priority", domain.ProcessRequest{InputRef: "ref", Priority: "urgent"}, "priority"},
		{"negative size", domain.ProcessRequest{InputRef: "ref", SizeBytes: -1}, "size_bytes"},
		{"negative duration", domain.ProcessRequest{InputRef: "ref", DurationSeconds: -0.5}, "duration_seconds"},
	}

	repo := repository.NewMemoryJobsRepository()
	producer := &fakeProducer{}
	svc := NewDescribeService(repo, producer, nil)

	for _, tc := range cases {
		_, err := svc.SubmitVideo(context.Background(), tc.request)
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if validation.Field != tc.field {
			t.Fatalf("%s: failed field = %s, want %s", tc.name, validation.Field, tc.field)
		}
	}
	if len(producer.messages) != 0 {
		t.Fatalf("invalid requests must not enqueue, got %d messages", len(producer.messages))
	}

	jobs, err := repo.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("invalid requests must not persist jobs, got %d", len(jobs))
	}
}

func TestSubmitMarksJobFailedWhenEnqueueFails(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	producer := &fakeProducer{err: errors.New("broker unavailable")}
	svc := NewDescribeService(repo, producer, nil)

	_, err := svc.SubmitVideo(context.Background(), domain.ProcessRequest{InputRef: "s3://bucket/clip.mp4"})
	if err == nil {
		t.Fatal("expected an error when the queue rejects the message")
	}

	jobs, listErr := repo.ListJobs(context.Background())
	if listErr != nil {
		t.Fatalf("list jobs: %v", listErr)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected the job record to remain, got %d jobs", len(jobs))
	}
	if jobs[0].Status.State != domain.JobStateFailed {
		t.Fatalf("job state = %s, want failed", jobs[0].Status.State)
	}
	if jobs[0].Status.Error == nil {
		t.Fatal("expected error info on the failed job")
	}
}
