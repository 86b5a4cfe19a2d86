package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/backend"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cache"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cost"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/orchestrator"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/pipeline"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/queue"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/repository"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/selector"
)

type stubMedia struct{}

func (stubMedia) Put(_ context.Context, _ []byte) (string, error) { return "mem://audio", nil }
func (stubMedia) Get(_ context.Context, _ string) ([]byte, error) { return []byte("media"), nil }
func (stubMedia) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

type stubSegmenter struct{}

func (stubSegmenter) Segment(_ context.Context, _ string) ([]domain.SceneBoundary, error) {
	return []domain.SceneBoundary{{StartSeconds: 0, EndSeconds: 10}}, nil
}

type stubChunker struct{}

func (stubChunker) Chunk(_ context.Context, _ string, _ []domain.SceneBoundary) ([]string, error) {
	return []string{"chunk-0"}, nil
}

type countingMetered struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *countingMetered) Analyze(_ context.Context, ref, _, model string) (backend.MeteredAnalysis, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return backend.MeteredAnalysis{}, m.err
	}
	return backend.MeteredAnalysis{Text: "described " + ref, PromptTokens: 100, CompletionTokens: 50, ModelID: model}, nil
}

func (m *countingMetered) Available() bool { return true }

func (m *countingMetered) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type stubVision struct{}

func (stubVision) Analyze(_ context.Context, _ string) (backend.VisionAnalysis, error) {
	return backend.VisionAnalysis{Text: "a scene", Confidence: 0.9}, nil
}

type stubSpeech struct{}

func (stubSpeech) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte("audio:" + text), nil
}

func newWorkerHarness(metered *countingMetered) (*Processor, *queue.LocalQueue, *repository.MemoryJobsRepository) {
	repo := repository.NewMemoryJobsRepository()
	responseCache := cache.New(cache.Config{})
	optimizer := cost.NewOptimizer(cost.Config{Cache: responseCache})
	single := pipeline.NewManager(repo, pipeline.Collaborators{
		Media:     stubMedia{},
		Segmenter: stubSegmenter{},
		Extractor: stubChunker{},
		Analyzer:  stubVision{},
		Speech:    stubSpeech{},
	}, pipeline.Config{}, nil)
	orch := orchestrator.New(
		selector.New(selector.Config{}),
		single,
		optimizer,
		responseCache,
		orchestrator.Collaborators{
			Media:     stubMedia{},
			Segmenter: stubSegmenter{},
			Chunker:   stubChunker{},
			Metered:   metered,
			Vision:    stubVision{},
			Speech:    stubSpeech{},
		},
		repo,
		orchestrator.Config{},
		nil,
	)
	localQueue := queue.NewLocalQueue(16, 3, nil)
	return NewProcessor(localQueue, orch, nil), localQueue, repo
}

func createPendingJob(t *testing.T, repo *repository.MemoryJobsRepository, id string, pipelineName domain.Pipeline) {
	t.Helper()
	job := &domain.Job{
		ID:        id,
		MediaType: domain.MediaVideo,
		InputRef:  "mem://video",
		Pipeline:  pipelineName,
		Status:    domain.JobStatus{State: domain.JobStatePending, Step: domain.StepUpload},
	}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func waitForState(t *testing.T, repo *repository.MemoryJobsRepository, jobID string, want domain.JobState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.GetJob(context.Background(), jobID)
		if err == nil && job.Status.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached state %s", jobID, want)
}

func TestProcessorCompletesQueuedJobs(t *testing.T) {
	metered := &countingMetered{}
	processor, localQueue, repo := newWorkerHarness(metered)
	createPendingJob(t, repo, "queued-ok", domain.PipelineLLMVision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.Start(ctx)

	if err := localQueue.Enqueue(ctx, domain.QueueMessage{JobID: "queued-ok", MediaType: domain.MediaVideo, Pipeline: domain.PipelineLLMVision}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForState(t, repo, "queued-ok", domain.JobStateCompleted)
	if localQueue.DLQSize() != 0 {
		t.Fatalf("expected empty DLQ, got %d", localQueue.DLQSize())
	}
}

func TestProcessorDoesNotRedeliverRecordedFailures(t *testing.T) {
	metered := &countingMetered{
		err: &domain.ExternalServiceError{Service: "llm", Retryable: true, Err: errors.New("throttled")},
	}
	processor, localQueue, repo := newWorkerHarness(metered)
	createPendingJob(t, repo, "fails-once", domain.PipelineLLMVision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.Start(ctx)

	if err := localQueue.Enqueue(ctx, domain.QueueMessage{JobID: "fails-once", MediaType: domain.MediaVideo, Pipeline: domain.PipelineLLMVision}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForState(t, repo, "fails-once", domain.JobStateFailed)
	calls := metered.callCount()

	// The failure is recorded on the job; the queue must not see an
	// error, so no redelivery window opens. Wait past the first retry
	// delay to catch one if it does.
	time.Sleep(1200 * time.Millisecond)
	if got := metered.callCount(); got != calls {
		t.Fatalf("recorded failure was re-executed: %d extra metered calls", got-calls)
	}
	if localQueue.DLQSize() != 0 {
		t.Fatalf("recorded failure must not dead-letter, got %d entries", localQueue.DLQSize())
	}

	job, err := repo.GetJob(context.Background(), "fails-once")
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status.State != domain.JobStateFailed || job.Status.Error == nil {
		t.Fatalf("expected the persisted failure to survive, got %+v", job.Status)
	}
}

func TestProcessorDropsMessagesForUnknownJobs(t *testing.T) {
	metered := &countingMetered{}
	processor, localQueue, repo := newWorkerHarness(metered)
	createPendingJob(t, repo, "after-ghost", domain.PipelineLLMVision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.Start(ctx)

	// The ghost message is handled before the real one; if it errored,
	// it would retry or dead-letter instead of being dropped.
	if err := localQueue.Enqueue(ctx, domain.QueueMessage{JobID: "ghost", MediaType: domain.MediaVideo}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := localQueue.Enqueue(ctx, domain.QueueMessage{JobID: "after-ghost", MediaType: domain.MediaVideo, Pipeline: domain.PipelineLLMVision}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForState(t, repo, "after-ghost", domain.JobStateCompleted)
	if localQueue.DLQSize() != 0 {
		t.Fatalf("unknown job message must be dropped, got %d DLQ entries", localQueue.DLQSize())
	}
}
