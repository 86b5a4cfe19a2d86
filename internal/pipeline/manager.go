package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/backend"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/repository"
)

// Collaborators are the external services the cloud-vision pipeline
// drives, one per step.
type Collaborators struct {
	Media     backend.MediaStore
	Segmenter backend.SceneSegmenter
	Extractor backend.Chunker
	Analyzer  backend.VisionAnalyzer
	Speech    backend.SpeechSynthesizer
}

type Config struct {
	// StepTimeout bounds each collaborator call. A timeout fails the job
	// at the current step; there is no retry at this layer.
	StepTimeout time.Duration

	// ActiveJobThreshold is the active-job count above which the manager
	// reports degraded health.
	ActiveJobThreshold int
}

// Manager drives one job through the fixed cloud-vision pipeline:
// upload, segmentation, extraction, analysis, compilation, synthesis.
// Steps are strictly sequential; each step validates the prior step's
// output before advancing, and a failure terminates the job with the
// failing step preserved. Partial artifacts stay on the job record.
type Manager struct {
	repo   repository.JobsRepository
	collab Collaborators
	config Config
	logger *log.Logger

	mu        sync.Mutex
	active    int
	failed    int
	completed int
}

func NewManager(repo repository.JobsRepository, collab Collaborators, config Config, logger *log.Logger) *Manager {
	if config.StepTimeout <= 0 {
		config.StepTimeout = 2 * time.Minute
	}
	if config.ActiveJobThreshold <= 0 {
		config.ActiveJobThreshold = 20
	}
	return &Manager{
		repo:   repo,
		collab: collab,
		config: config,
		logger: logger,
	}
}

// ProcessJob runs the job to a terminal state. The returned job is the
// terminal record; the error mirrors the failure already attached to it.
func (m *Manager) ProcessJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	m.mu.Lock()
	m.active++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if err := m.stepUpload(ctx, job); err != nil {
		return m.fail(ctx, job, domain.StepUpload, err)
	}
	if err := m.stepSegmentation(ctx, job); err != nil {
		return m.fail(ctx, job, domain.StepSegmentation, err)
	}
	chunkRefs, err := m.stepExtraction(ctx, job)
	if err != nil {
		return m.fail(ctx, job, domain.StepExtraction, err)
	}
	if err := m.stepAnalysis(ctx, job, chunkRefs); err != nil {
		return m.fail(ctx, job, domain.StepAnalysis, err)
	}
	if err := m.stepCompilation(ctx, job); err != nil {
		return m.fail(ctx, job, domain.StepCompilation, err)
	}
	if err := m.stepSynthesis(ctx, job); err != nil {
		return m.fail(ctx, job, domain.StepSynthesis, err)
	}

	m.advance(ctx, job, domain.StepCompleted, 100, "description and audio ready")
	job.Status.State = domain.JobStateCompleted
	job.Status.UpdatedAt = time.Now().UTC()
	m.persist(ctx, job)

	m.mu.Lock()
	m.completed++
	m.mu.Unlock()
	return job, nil
}

func (m *Manager) stepUpload(ctx context.Context, job *domain.Job) error {
	m.advance(ctx, job, domain.StepUpload, 10, "verifying uploaded media")

	callCtx, cancel := context.WithTimeout(ctx, m.config.StepTimeout)
	defer cancel()

	exists, err := m.collab.Media.Exists(callCtx, job.InputRef)
	if err != nil {
		return fmt.Errorf("check media ref: %w", err)
	}
	if !exists {
		return &domain.ValidationError{Field: "input_ref", Reason: "media not found in storage"}
	}
	return nil
}

func (m *Manager) stepSegmentation(ctx context.Context, job *domain.Job) error {
	m.advance(ctx, job, domain.StepSegmentation, 15, "detecting scene boundaries")

	callCtx, cancel := context.WithTimeout(ctx, m.config.StepTimeout)
	defer cancel()

	segments, err := m.collab.Segmenter.Segment(callCtx, job.InputRef)
	if err != nil {
		return fmt.Errorf("segment media: %w", err)
	}
	if job.MediaType == domain.MediaVideo && len(segments) == 0 {
		return errors.New("segmentation produced no scenes")
	}

	job.Segments = append(job.Segments, segments...)
	m.advance(ctx, job, domain.StepSegmentation, 35, fmt.Sprintf("found %d scenes", len(segments)))
	return nil
}

func (m *Manager) stepExtraction(ctx context.Context, job *domain.Job) ([]string, error) {
	m.advance(ctx, job, domain.StepExtraction, 40, "extracting scene clips")

	callCtx, cancel := context.WithTimeout(ctx, m.config.StepTimeout)
	defer cancel()

	chunkRefs, err := m.collab.Extractor.Chunk(callCtx, job.InputRef, job.Segments)
	if err != nil {
		return nil, fmt.Errorf("extract scenes: %w", err)
	}
	if len(chunkRefs) == 0 {
		return nil, errors.New("extraction produced no clips")
	}

	m.advance(ctx, job, domain.StepExtraction, 55, fmt.Sprintf("extracted %d clips", len(chunkRefs)))
	return chunkRefs, nil
}

func (m *Manager) stepAnalysis(ctx context.Context, job *domain.Job, chunkRefs []string) error {
	m.advance(ctx, job, domain.StepAnalysis, 60, "analyzing scenes")

	for index, ref := range chunkRefs {
		callCtx, cancel := context.WithTimeout(ctx, m.config.StepTimeout)
		analysis, err := m.collab.Analyzer.Analyze(callCtx, ref)
		cancel()
		if err != nil {
			return fmt.Errorf("analyze scene %d: %w", index, err)
		}
		job.Analyses = append(job.Analyses, domain.SceneAnalysis{
			Index:      index,
			Text:       analysis.Text,
			Confidence: analysis.Confidence,
		})
	}
	if len(job.Analyses) == 0 {
		return errors.New("analysis produced no descriptions")
	}

	m.advance(ctx, job, domain.StepAnalysis, 75, fmt.Sprintf("analyzed %d scenes", len(job.Analyses)))
	return nil
}

func (m *Manager) stepCompilation(ctx context.Context, job *domain.Job) error {
	m.advance(ctx, job, domain.StepCompilation, 80, "compiling description")

	compiled := CompileDescription(job.Segments, job.Analyses)
	if strings.TrimSpace(compiled) == "" {
		return errors.New("compiled description is empty")
	}

	job.CompiledText = compiled
	m.advance(ctx, job, domain.StepCompilation, 85, "description compiled")
	return nil
}

func (m *Manager) stepSynthesis(ctx context.Context, job *domain.Job) error {
	m.advance(ctx, job, domain.StepSynthesis, 90, "synthesizing audio")

	callCtx, cancel := context.WithTimeout(ctx, m.config.StepTimeout)
	defer cancel()

	audio, err := m.collab.Speech.Synthesize(callCtx, job.CompiledText)
	if err != nil {
		return fmt.Errorf("synthesize speech: %w", err)
	}
	if len(audio) == 0 {
		return errors.New("synthesis produced no audio")
	}

	audioRef, err := m.collab.Media.Put(callCtx, audio)
	if err != nil {
		return fmt.Errorf("store audio: %w", err)
	}

	job.AudioRef = audioRef
	m.advance(ctx, job, domain.StepSynthesis, 95, "audio stored")
	return nil
}

// CompileDescription joins per-scene analyses into one narration,
// prefixing each scene with its time range when boundaries are known.
func CompileDescription(segments []domain.SceneBoundary, analyses []domain.SceneAnalysis) string {
	parts := make([]string, 0, len(analyses))
	for _, analysis := range analyses {
		text := strings.TrimSpace(analysis.Text)
		if text == "" {
			continue
		}
		if analysis.Index < len(segments) {
			boundary := segments[analysis.Index]
			parts = append(parts, fmt.Sprintf("[%.1fs-%.1fs] %s", boundary.StartSeconds, boundary.EndSeconds, text))
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// advance moves the job forward, never letting progress or step order
// regress while the job is not failed.
func (m *Manager) advance(ctx context.Context, job *domain.Job, step domain.JobStep, progress int, message string) {
	if domain.StepRank(step) >= domain.StepRank(job.Status.Step) {
		job.Status.Step = step
	}
	if progress > job.Status.Progress {
		job.Status.Progress = progress
	}
	job.Status.State = domain.JobStateProcessing
	job.Status.Message = message
	job.Status.UpdatedAt = time.Now().UTC()
	m.persist(ctx, job)
}

func (m *Manager) fail(ctx context.Context, job *domain.Job, step domain.JobStep, err error) (*domain.Job, error) {
	if domain.StepRank(step) >= domain.StepRank(job.Status.Step) {
		job.Status.Step = step
	}
	job.Status.State = domain.JobStateFailed
	job.Status.Message = fmt.Sprintf("failed at %s", step)
	job.Status.Error = domain.ErrorInfoFrom(err)
	job.Status.UpdatedAt = time.Now().UTC()
	m.persist(ctx, job)

	m.mu.Lock()
	m.failed++
	m.mu.Unlock()

	m.logf("job failed job_id=%s step=%s err=%v", job.ID, step, err)
	return job, err
}

func (m *Manager) persist(ctx context.Context, job *domain.Job) {
	if m.repo == nil {
		return
	}
	if err := m.repo.UpdateJob(ctx, job); err != nil {
		m.logf("persist job status failed job_id=%s: %v", job.ID, err)
	}
}

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthSummary struct {
	Status        HealthStatus `json:"status"`
	ActiveJobs    int          `json:"active_jobs"`
	FailedJobs    int          `json:"failed_jobs"`
	CompletedJobs int          `json:"completed_jobs"`
}

// Health classifies manager health from the failed-to-active ratio.
func (m *Manager) Health() HealthSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := HealthSummary{
		ActiveJobs:    m.active,
		FailedJobs:    m.failed,
		CompletedJobs: m.completed,
	}
	switch {
	case m.failed > m.active && m.failed > 0:
		summary.Status = HealthUnhealthy
	case m.failed > 0 || m.active > m.config.ActiveJobThreshold:
		summary.Status = HealthDegraded
	default:
		summary.Status = HealthHealthy
	}
	return summary
}

// Cleanup deletes terminal job records older than maxAge and returns the
// count removed.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	return m.repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-maxAge))
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}
