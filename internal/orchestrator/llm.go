package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/backend"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cache"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cost"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/pipeline"
)

// jobTally accumulates per-job metered spend across cache hits and real
// backend calls. Guarded by its own mutex because chunk analysis runs
// concurrently.
type jobTally struct {
	mu               sync.Mutex
	promptTokens     int
	completionTokens int
	cacheHits        int
	backendCalls     int
	savedTokens      int
	model            string
}

func (t *jobTally) recordCall(usage backend.MeteredAnalysis) {
	t.mu.Lock()
	t.promptTokens += usage.PromptTokens
	t.completionTokens += usage.CompletionTokens
	t.backendCalls++
	t.model = usage.ModelID
	t.mu.Unlock()
}

// recordHit notes a cache hit and the tokens it avoided. The model the
// hit was priced against is kept so a job satisfied entirely from cache
// still prices its savings; a real backend call's reported model wins.
func (t *jobTally) recordHit(model string, tokenCost int) {
	t.mu.Lock()
	t.cacheHits++
	t.savedTokens += tokenCost
	if t.model == "" {
		t.model = model
	}
	t.mu.Unlock()
}

func (t *jobTally) estimate(optimizer *cost.Optimizer) *domain.CostEstimate {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.backendCalls == 0 && t.cacheHits == 0 {
		return nil
	}
	estimate := &domain.CostEstimate{
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		CacheHits:        t.cacheHits,
		BackendCalls:     t.backendCalls,
	}
	if optimizer != nil {
		spent := optimizer.EstimateCost(t.promptTokens, t.completionTokens, t.model)
		saved := optimizer.EstimateCost(t.savedTokens, 0, t.model)
		estimate.CostUSD = spent.CostUSD
		estimate.CacheSavingsUSD = saved.CostUSD
	}
	return estimate
}

// runLLM drives the token-metered pipeline: prepare, chunk, analyze,
// synthesize the unified description, synthesize audio. Hints, when
// present, come from cloud segmentation under the hybrid strategy.
func (o *Orchestrator) runLLM(ctx context.Context, job *domain.Job, hints []domain.SceneBoundary, tally *jobTally) error {
	if err := o.stagePrepare(ctx, job); err != nil {
		return o.failJob(ctx, job, domain.StepUpload, err)
	}

	o.advance(ctx, job, domain.StepChunking, 25, "chunking media")
	callCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	chunkRefs, err := o.collab.Chunker.Chunk(callCtx, job.InputRef, hints)
	cancel()
	if err != nil {
		return o.failJob(ctx, job, domain.StepChunking, fmt.Errorf("chunk media: %w", err))
	}
	if len(chunkRefs) == 0 {
		return o.failJob(ctx, job, domain.StepChunking, errors.New("chunking produced no chunks"))
	}

	o.advance(ctx, job, domain.StepAnalysis, 50, fmt.Sprintf("analyzing %d chunks", len(chunkRefs)))
	if err := o.analyzeChunks(ctx, job, chunkRefs, tally); err != nil {
		return o.failJob(ctx, job, domain.StepAnalysis, err)
	}

	o.advance(ctx, job, domain.StepDescription, 75, "synthesizing unified description")
	if err := o.synthesizeDescription(ctx, job, tally); err != nil {
		return o.failJob(ctx, job, domain.StepDescription, err)
	}

	o.advance(ctx, job, domain.StepSynthesis, 90, "synthesizing audio")
	if err := o.synthesizeAudio(ctx, job); err != nil {
		return o.failJob(ctx, job, domain.StepSynthesis, err)
	}

	o.complete(ctx, job)
	return nil
}

// runHybrid uses the cloud backend only for scene-boundary detection and
// feeds the boundaries as chunk hints into the llm stages.
func (o *Orchestrator) runHybrid(ctx context.Context, job *domain.Job, tally *jobTally) error {
	o.advance(ctx, job, domain.StepSegmentation, 15, "detecting scene boundaries")

	callCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	boundaries, err := o.collab.Segmenter.Segment(callCtx, job.InputRef)
	cancel()
	if err != nil {
		return o.failJob(ctx, job, domain.StepSegmentation, fmt.Errorf("segment media: %w", err))
	}
	if len(boundaries) == 0 {
		return o.failJob(ctx, job, domain.StepSegmentation, errors.New("segmentation produced no scenes"))
	}
	job.Segments = append(job.Segments, boundaries...)

	return o.runLLM(ctx, job, boundaries, tally)
}

// runImage analyzes a single image directly on whichever backend the
// route picked; no chunking is involved.
func (o *Orchestrator) runImage(ctx context.Context, job *domain.Job, tally *jobTally) error {
	if err := o.stagePrepare(ctx, job); err != nil {
		return o.failJob(ctx, job, domain.StepUpload, err)
	}

	o.advance(ctx, job, domain.StepAnalysis, 50, "analyzing image")

	var text string
	switch job.Pipeline {
	case domain.PipelineCloudVision:
		callCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
		analysis, err := o.collab.Vision.Analyze(callCtx, job.InputRef)
		cancel()
		if err != nil {
			return o.failJob(ctx, job, domain.StepAnalysis, fmt.Errorf("analyze image: %w", err))
		}
		text = analysis.Text
		job.Analyses = append(job.Analyses, domain.SceneAnalysis{Text: analysis.Text, Confidence: analysis.Confidence})
	default:
		prompt := job.Prompt
		if strings.TrimSpace(prompt) == "" {
			prompt = o.config.DefaultPrompt
		}
		analysis, err := o.analyzeWithCache(ctx, job.InputRef, prompt, tally)
		if err != nil {
			return o.failJob(ctx, job, domain.StepAnalysis, err)
		}
		text = analysis.Text
		job.Analyses = append(job.Analyses, domain.SceneAnalysis{Text: analysis.Text, Confidence: 1, ModelID: analysis.ModelID})
	}

	if strings.TrimSpace(text) == "" {
		return o.failJob(ctx, job, domain.StepAnalysis, errors.New("image analysis produced no text"))
	}
	job.CompiledText = strings.TrimSpace(text)

	o.advance(ctx, job, domain.StepSynthesis, 90, "synthesizing audio")
	if err := o.synthesizeAudio(ctx, job); err != nil {
		return o.failJob(ctx, job, domain.StepSynthesis, err)
	}

	o.complete(ctx, job)
	return nil
}

func (o *Orchestrator) stagePrepare(ctx context.Context, job *domain.Job) error {
	o.advance(ctx, job, domain.StepUpload, 10, "preparing media")

	callCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	defer cancel()

	exists, err := o.collab.Media.Exists(callCtx, job.InputRef)
	if err != nil {
		return fmt.Errorf("check media ref: %w", err)
	}
	if !exists {
		return &domain.ValidationError{Field: "input_ref", Reason: "media not found in storage"}
	}
	return nil
}

// analyzeChunks fans out over the chunk refs under the configured
// concurrency bound. The first error wins; analyses that completed
// before it remain attached to the job for diagnostics.
func (o *Orchestrator) analyzeChunks(ctx context.Context, job *domain.Job, chunkRefs []string, tally *jobTally) error {
	prompt := job.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = o.config.DefaultPrompt
	}

	analyses := make([]*domain.SceneAnalysis, len(chunkRefs))
	errs := make([]error, len(chunkRefs))
	semaphore := make(chan struct{}, o.config.MaxChunkConcurrency)
	var wg sync.WaitGroup
	for index, ref := range chunkRefs {
		wg.Add(1)
		go func(index int, ref string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			analysis, err := o.analyzeWithCache(ctx, ref, prompt, tally)
			if err != nil {
				errs[index] = fmt.Errorf("analyze chunk %d: %w", index, err)
				return
			}
			analyses[index] = &domain.SceneAnalysis{
				Index:      index,
				Text:       analysis.Text,
				Confidence: 1,
				ModelID:    analysis.ModelID,
			}
		}(index, ref)
	}
	wg.Wait()

	var firstErr error
	for index := range chunkRefs {
		if analyses[index] != nil {
			job.Analyses = append(job.Analyses, *analyses[index])
		}
		if errs[index] != nil && firstErr == nil {
			firstErr = errs[index]
		}
	}
	return firstErr
}

// analyzeWithCache is the only path to the token-metered backend: it
// optimizes the prompt, consults every cache tier, paces the real call,
// records usage, and stores the fresh response.
func (o *Orchestrator) analyzeWithCache(ctx context.Context, ref, prompt string, tally *jobTally) (backend.MeteredAnalysis, error) {
	model := o.config.DefaultModel
	optimized := o.optimizer.Optimize(prompt, model, cost.OptimizeOptions{
		Compression: cost.CompressionLight,
	})
	model = optimized.RecommendedModel
	key := cache.Key(model, optimized.OptimizedPrompt, ref)

	if entry, ok := o.cache.Check(ctx, key, optimized.OptimizedPrompt); ok {
		var cached backend.MeteredAnalysis
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			tally.recordHit(model, entry.TokenCost)
			return cached, nil
		}
		o.logf("cached analysis payload unreadable key=%s", key)
	}

	if err := o.optimizer.Wait(ctx, cost.EstimateTokens(optimized.OptimizedPrompt)); err != nil {
		return backend.MeteredAnalysis{}, fmt.Errorf("rate limit wait: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	analysis, err := o.collab.Metered.Analyze(callCtx, ref, optimized.OptimizedPrompt, model)
	cancel()
	if err != nil {
		return backend.MeteredAnalysis{}, err
	}

	o.optimizer.RecordUsage(domain.TokenUsage{
		PromptTokens:     analysis.PromptTokens,
		CompletionTokens: analysis.CompletionTokens,
		Model:            analysis.ModelID,
		Timestamp:        time.Now().UTC(),
	})
	tally.recordCall(analysis)

	if encoded, marshalErr := json.Marshal(analysis); marshalErr == nil {
		o.cache.Store(ctx, key, optimized.OptimizedPrompt, encoded, analysis.PromptTokens+analysis.CompletionTokens)
	}
	return analysis, nil
}

// synthesizeDescription asks the metered backend to weave the per-chunk
// analyses into one continuous narration.
func (o *Orchestrator) synthesizeDescription(ctx context.Context, job *domain.Job, tally *jobTally) error {
	if len(job.Analyses) == 0 {
		return errors.New("no analyses to synthesize from")
	}
	if len(job.Analyses) == 1 {
		job.CompiledText = strings.TrimSpace(job.Analyses[0].Text)
		return nil
	}

	var builder strings.Builder
	builder.WriteString("Combine the following scene descriptions into one continuous audio description narration. Keep chronological order and remove redundancy.\n")
	for _, analysis := range job.Analyses {
		fmt.Fprintf(&builder, "Scene %d: %s\n", analysis.Index+1, analysis.Text)
	}

	result, err := o.analyzeWithCache(ctx, "", builder.String(), tally)
	if err != nil {
		// A synthesis failure should not discard usable per-scene text.
		job.CompiledText = pipeline.CompileDescription(job.Segments, job.Analyses)
		if strings.TrimSpace(job.CompiledText) != "" {
			o.logf("description synthesis degraded to concatenation job_id=%s: %v", job.ID, err)
			return nil
		}
		return err
	}
	job.CompiledText = strings.TrimSpace(result.Text)
	return nil
}

func (o *Orchestrator) synthesizeAudio(ctx context.Context, job *domain.Job) error {
	callCtx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
	defer cancel()

	audio, err := o.collab.Speech.Synthesize(callCtx, job.CompiledText)
	if err != nil {
		return fmt.Errorf("synthesize speech: %w", err)
	}
	if len(audio) == 0 {
		return errors.New("synthesis produced no audio")
	}

	audioRef, err := o.collab.Media.Put(callCtx, audio)
	if err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	job.AudioRef = audioRef
	return nil
}

func (o *Orchestrator) advance(ctx context.Context, job *domain.Job, step domain.JobStep, progress int, message string) {
	if domain.StepRank(step) >= domain.StepRank(job.Status.Step) {
		job.Status.Step = step
	}
	if progress > job.Status.Progress {
		job.Status.Progress = progress
	}
	job.Status.State = domain.JobStateProcessing
	job.Status.Message = message
	job.Status.UpdatedAt = time.Now().UTC()
	o.persist(ctx, job)
}

func (o *Orchestrator) complete(ctx context.Context, job *domain.Job) {
	job.Status.State = domain.JobStateCompleted
	job.Status.Step = domain.StepCompleted
	job.Status.Progress = 100
	job.Status.Message = "description and audio ready"
	job.Status.UpdatedAt = time.Now().UTC()
	o.persist(ctx, job)
}

func (o *Orchestrator) failJob(ctx context.Context, job *domain.Job, step domain.JobStep, err error) error {
	if domain.StepRank(step) >= domain.StepRank(job.Status.Step) {
		job.Status.Step = step
	}
	job.Status.State = domain.JobStateFailed
	job.Status.Message = fmt.Sprintf("failed at %s", step)
	job.Status.Error = domain.ErrorInfoFrom(err)
	job.Status.UpdatedAt = time.Now().UTC()
	o.persist(ctx, job)
	o.logf("job failed job_id=%s step=%s err=%v", job.ID, step, err)
	return err
}
