package orchestrator

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/backend"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cache"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cost"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/pipeline"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/repository"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/selector"
)

// Collaborators are the external services the llm-vision and hybrid
// strategies drive directly. The cloud-vision strategy delegates to the
// single-pipeline manager instead.
type Collaborators struct {
	Media     backend.MediaStore
	Segmenter backend.SceneSegmenter
	Chunker   backend.Chunker
	Metered   backend.MeteredAnalyzer
	Vision    backend.VisionAnalyzer
	Speech    backend.SpeechSynthesizer
}

type Config struct {
	DefaultModel        string
	DefaultPrompt       string
	MaxChunkConcurrency int
	StageTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.DefaultModel) == "" {
		c.DefaultModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(c.DefaultPrompt) == "" {
		c.DefaultPrompt = "Describe the visual content of this media for a blind or low-vision audience. Focus on actions, settings, and on-screen text."
	}
	if c.MaxChunkConcurrency <= 0 {
		c.MaxChunkConcurrency = 3
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	return c
}

// Route is the queryable pipeline/status pair kept per dispatched job,
// independent of the per-pipeline internal tracking.
type Route struct {
	Pipeline domain.Pipeline `json:"pipeline"`
	State    domain.JobState `json:"state"`
}

// Orchestrator routes describe requests across the cloud-vision,
// llm-vision, and hybrid strategies. Exactly one pipeline is attempted
// per job; hybrid uses both backends by definition, never as a fallback.
// Public entry points always return a well-formed envelope.
type Orchestrator struct {
	selector  *selector.Selector
	single    *pipeline.Manager
	optimizer *cost.Optimizer
	cache     *cache.ResponseCache
	collab    Collaborators
	repo      repository.JobsRepository
	config    Config
	logger    *log.Logger

	mu     sync.RWMutex
	routes map[string]Route
}

func New(
	sel *selector.Selector,
	single *pipeline.Manager,
	optimizer *cost.Optimizer,
	responseCache *cache.ResponseCache,
	collab Collaborators,
	repo repository.JobsRepository,
	config Config,
	logger *log.Logger,
) *Orchestrator {
	return &Orchestrator{
		selector:  sel,
		single:    single,
		optimizer: optimizer,
		cache:     responseCache,
		collab:    collab,
		repo:      repo,
		config:    config.withDefaults(),
		logger:    logger,
		routes:    make(map[string]Route),
	}
}

// ProcessVideo registers a fresh job for the request and drives it to a
// terminal state.
func (o *Orchestrator) ProcessVideo(ctx context.Context, request domain.ProcessRequest) domain.Result {
	request.MediaType = domain.MediaVideo
	job := o.registerJob(ctx, request)
	return o.run(ctx, job, request)
}

// ProcessImage is the same three-way dispatch without chunking: a single
// image goes to the cloud backend or the metered backend directly.
func (o *Orchestrator) ProcessImage(ctx context.Context, request domain.ProcessRequest) domain.Result {
	request.MediaType = domain.MediaImage
	job := o.registerJob(ctx, request)
	return o.run(ctx, job, request)
}

// ProcessImageBatch dispatches every image under a bounded-concurrency
// semaphore; results keep request order.
func (o *Orchestrator) ProcessImageBatch(ctx context.Context, requests []domain.ProcessRequest) []domain.Result {
	results := make([]domain.Result, len(requests))
	semaphore := make(chan struct{}, o.config.MaxChunkConcurrency)
	var wg sync.WaitGroup
	for index, request := range requests {
		wg.Add(1)
		go func(index int, request domain.ProcessRequest) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			results[index] = o.ProcessImage(ctx, request)
		}(index, request)
	}
	wg.Wait()
	return results
}

// RunJob executes a previously registered job, used by queue workers
// that created the job record before enqueueing. A job already in a
// terminal state is never re-executed: completed and failed are final,
// and a retry of a failed job is a fresh submission by the caller. The
// persisted outcome is returned as-is so redelivered messages converge
// on the recorded result instead of spending backend calls again.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) (domain.Result, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Result{}, err
	}
	if job.Status.State.Terminal() {
		return o.recordedResult(job), nil
	}
	request := domain.ProcessRequest{
		MediaType:       job.MediaType,
		InputRef:        job.InputRef,
		Pipeline:        job.Pipeline,
		Priority:        job.Priority,
		SizeBytes:       job.SizeBytes,
		DurationSeconds: job.DurationSeconds,
		Prompt:          job.Prompt,
	}
	return o.run(ctx, job, request), nil
}

// recordedResult rebuilds the envelope for a job that already finished.
// Completed jobs carry their envelope on the status record; failed jobs
// are reassembled from the persisted fields.
func (o *Orchestrator) recordedResult(job *domain.Job) domain.Result {
	if job.Status.Result != nil {
		return *job.Status.Result
	}
	return domain.Result{
		Pipeline: job.Pipeline,
		JobID:    job.ID,
		Status:   job.Status.State,
		Error:    job.Status.Error,
		Text:     job.CompiledText,
		AudioRef: job.AudioRef,
		Segments: job.Segments,
		Analyses: job.Analyses,
	}
}

func (o *Orchestrator) registerJob(ctx context.Context, request domain.ProcessRequest) *domain.Job {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:              uuid.NewString(),
		MediaType:       request.MediaType,
		InputRef:        request.InputRef,
		Priority:        request.Priority,
		SizeBytes:       request.SizeBytes,
		DurationSeconds: request.DurationSeconds,
		Prompt:          request.Prompt,
		Status: domain.JobStatus{
			State:     domain.JobStatePending,
			Step:      domain.StepUpload,
			Progress:  5,
			Message:   "job accepted",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := o.repo.CreateJob(ctx, job); err != nil {
		o.logf("create job record failed job_id=%s: %v", job.ID, err)
	}
	return job
}

func (o *Orchestrator) run(ctx context.Context, job *domain.Job, request domain.ProcessRequest) domain.Result {
	started := time.Now()

	selection := o.selector.Select(request, request.SizeBytes, request.DurationSeconds)
	// Pipeline is immutable once routed.
	if job.Pipeline == "" {
		job.Pipeline = selection.Pipeline
	}
	o.setRoute(job.ID, Route{Pipeline: job.Pipeline, State: domain.JobStateProcessing})
	o.logf("job routed job_id=%s pipeline=%s auto=%t reason=%q",
		job.ID, selection.Pipeline, selection.AutoSelected, selection.Reason)

	var (
		tally jobTally
		err   error
	)
	switch {
	case job.MediaType == domain.MediaImage:
		err = o.runImage(ctx, job, &tally)
	case job.Pipeline == domain.PipelineCloudVision:
		_, err = o.single.ProcessJob(ctx, job)
	case job.Pipeline == domain.PipelineLLMVision:
		err = o.runLLM(ctx, job, nil, &tally)
	case job.Pipeline == domain.PipelineHybrid:
		err = o.runHybrid(ctx, job, &tally)
	default:
		err = &domain.ValidationError{Field: "pipeline", Reason: "unknown pipeline " + string(job.Pipeline)}
		o.failJob(ctx, job, job.Status.Step, err)
	}

	envelope := o.buildEnvelope(job, selection, &tally, started, err)

	if err == nil {
		job.Status.Result = &envelope
		job.Status.UpdatedAt = time.Now().UTC()
		o.persist(ctx, job)
	}
	o.setRoute(job.ID, Route{Pipeline: job.Pipeline, State: envelope.Status})
	return envelope
}

func (o *Orchestrator) buildEnvelope(
	job *domain.Job,
	selection domain.PipelineSelection,
	tally *jobTally,
	started time.Time,
	err error,
) domain.Result {
	elapsed := time.Since(started).Milliseconds()
	if elapsed < 1 {
		elapsed = 1
	}

	envelope := domain.Result{
		Pipeline: job.Pipeline,
		JobID:    job.ID,
		Metadata: domain.ResultMetadata{
			ProcessingTimeMS: elapsed,
			PipelineConfig:   selection.Limits,
		},
	}
	if estimate := tally.estimate(o.optimizer); estimate != nil {
		envelope.Metadata.CostEstimate = estimate
	}

	if err != nil {
		envelope.Status = domain.JobStateFailed
		envelope.Error = job.Status.Error
		if envelope.Error == nil {
			envelope.Error = domain.ErrorInfoFrom(err)
		}
		envelope.Segments = job.Segments
		envelope.Analyses = job.Analyses
		return envelope
	}

	envelope.Status = domain.JobStateCompleted
	envelope.Text = job.CompiledText
	envelope.AudioRef = job.AudioRef
	envelope.Segments = job.Segments
	envelope.Analyses = job.Analyses
	return envelope
}

// JobRoute answers "what pipeline did job X use and what is its status"
// without consulting the backend managers.
func (o *Orchestrator) JobRoute(jobID string) (Route, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	route, ok := o.routes[jobID]
	return route, ok
}

func (o *Orchestrator) Routes() map[string]Route {
	o.mu.RLock()
	defer o.mu.RUnlock()
	routes := make(map[string]Route, len(o.routes))
	for jobID, route := range o.routes {
		routes[jobID] = route
	}
	return routes
}

func (o *Orchestrator) setRoute(jobID string, route Route) {
	o.mu.Lock()
	o.routes[jobID] = route
	o.mu.Unlock()
}

// GetStatus exposes the status record for a thin API layer.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobStatus{}, err
	}
	return job.Status, nil
}

func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.repo.GetJob(ctx, jobID)
}

func (o *Orchestrator) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	return o.repo.ListJobs(ctx)
}

func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	deleted, err := o.repo.DeleteJob(ctx, jobID)
	if deleted {
		o.mu.Lock()
		delete(o.routes, jobID)
		o.mu.Unlock()
	}
	return deleted, err
}

// Cleanup removes terminal jobs older than maxAge, dropping their route
// records as well, and returns the count removed.
func (o *Orchestrator) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := o.repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return removed, err
	}

	remaining, listErr := o.repo.ListJobs(ctx)
	if listErr != nil {
		return removed, nil
	}
	alive := make(map[string]struct{}, len(remaining))
	for _, job := range remaining {
		alive[job.ID] = struct{}{}
	}
	o.mu.Lock()
	for jobID := range o.routes {
		if _, ok := alive[jobID]; !ok {
			delete(o.routes, jobID)
		}
	}
	o.mu.Unlock()
	return removed, nil
}

func (o *Orchestrator) persist(ctx context.Context, job *domain.Job) {
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		o.logf("persist job failed job_id=%s: %v", job.ID, err)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger == nil {
		return
	}
	o.logger.Printf(format, args...)
}
