package domain

import (
	"time"
)

type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaImage MediaType = "image"
)

type Pipeline string

const (
	PipelineCloudVision Pipeline = "cloud-vision"
	PipelineLLMVision   Pipeline = "llm-vision"
	PipelineHybrid      Pipeline = "hybrid"
)

func ParsePipeline(value string) (Pipeline, bool) {
	switch Pipeline(value) {
	case PipelineCloudVision, PipelineLLMVision, PipelineHybrid:
		return Pipeline(value), true
	case "":
		return "", true
	default:
		return "", false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

type JobStep string

const (
	StepUpload       JobStep = "upload"
	StepSegmentation JobStep = "segmentation"
	StepChunking     JobStep = "chunking"
	StepExtraction   JobStep = "extraction"
	StepAnalysis     JobStep = "analysis"
	StepCompilation  JobStep = "compilation"
	StepDescription  JobStep = "description"
	StepSynthesis    JobStep = "synthesis"
	StepCompleted    JobStep = "completed"
)

// StepRank orders steps so progress through a pipeline can be compared.
// Steps exclusive to different pipelines share a rank when they occupy
// the same position in their respective sequences.
func StepRank(step JobStep) int {
	switch step {
	case StepUpload:
		return 0
	case StepSegmentation, StepChunking:
		return 1
	case StepExtraction:
		return 2
	case StepAnalysis:
		return 3
	case StepCompilation, StepDescription:
		return 4
	case StepSynthesis:
		return 5
	case StepCompleted:
		return 6
	default:
		return -1
	}
}

// ErrorInfo is the structured error attached to a failed job.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type JobStatus struct {
	State     JobState   `json:"state"`
	Step      JobStep    `json:"step"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Result    *Result    `json:"result,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// SceneBoundary is a time-stamped scene cut produced by segmentation.
type SceneBoundary struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

// SceneAnalysis is the per-scene description produced by an analysis backend.
type SceneAnalysis struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	ModelID    string  `json:"model_id,omitempty"`
}

// Job is the canonical unit of work tracked end-to-end. Segments and
// Analyses are append-only while the job is processing and survive a
// failure for diagnostics. CompiledText and AudioRef are written at most
// once, on the success path only.
type Job struct {
	ID              string          `json:"id"`
	MediaType       MediaType       `json:"media_type"`
	InputRef        string          `json:"input_ref"`
	Pipeline        Pipeline        `json:"pipeline,omitempty"`
	Priority        Priority        `json:"priority,omitempty"`
	SizeBytes       int64           `json:"size_bytes,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
	Prompt          string          `json:"prompt,omitempty"`
	Status          JobStatus       `json:"status"`
	Segments        []SceneBoundary `json:"segments,omitempty"`
	Analyses        []SceneAnalysis `json:"analyses,omitempty"`
	CompiledText    string          `json:"compiled_text,omitempty"`
	AudioRef        string          `json:"audio_ref,omitempty"`
}

// ProcessRequest is one request to describe a piece of media.
type ProcessRequest struct {
	MediaType       MediaType `json:"media_type"`
	InputRef        string    `json:"input_ref"`
	Pipeline        Pipeline  `json:"pipeline,omitempty"`
	Priority        Priority  `json:"priority,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Prompt          string    `json:"prompt,omitempty"`
	Model           string    `json:"model,omitempty"`
}

// PipelineLimits describes the capabilities of one pipeline route.
type PipelineLimits struct {
	MaxFileSizeBytes   int64    `json:"max_file_size_bytes"`
	MaxDurationSeconds float64  `json:"max_duration_seconds"`
	SupportedFormats   []string `json:"supported_formats"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
}

// PipelineSelection is the transient routing decision. It is not
// persisted beyond the routing step.
type PipelineSelection struct {
	Pipeline     Pipeline       `json:"pipeline"`
	Reason       string         `json:"reason"`
	AutoSelected bool           `json:"auto_selected"`
	Limits       PipelineLimits `json:"limits"`
}

// CostEstimate summarizes the metered spend attributed to one job.
type CostEstimate struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	CacheSavingsUSD  float64 `json:"cache_savings_usd"`
	CacheHits        int     `json:"cache_hits"`
	BackendCalls     int     `json:"backend_calls"`
}

// ResultMetadata accompanies every envelope, success or failure.
type ResultMetadata struct {
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	PipelineConfig   PipelineLimits `json:"pipeline_config"`
	CostEstimate     *CostEstimate  `json:"cost_estimate,omitempty"`
}

// Result is the uniform envelope returned for every processed request.
// Callers branch on Status; the orchestrator never raises past its
// public entry points.
type Result struct {
	Pipeline Pipeline        `json:"pipeline"`
	JobID    string          `json:"job_id"`
	Status   JobState        `json:"status"`
	Text     string          `json:"text,omitempty"`
	AudioRef string          `json:"audio_ref,omitempty"`
	Segments []SceneBoundary `json:"segments,omitempty"`
	Analyses []SceneAnalysis `json:"analyses,omitempty"`
	Error    *ErrorInfo      `json:"error,omitempty"`
	Metadata ResultMetadata  `json:"metadata"`
}

// TokenUsage is an append-only ledger entry; never mutated after creation.
type TokenUsage struct {
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Model            string    `json:"model"`
	Timestamp        time.Time `json:"timestamp"`
}

// QueueMessage is the transport format sent to queue backends for
// asynchronous processing of describe requests.
type QueueMessage struct {
	JobID           string    `json:"job_id"`
	MediaType       MediaType `json:"media_type"`
	InputRef        string    `json:"input_ref"`
	Pipeline        Pipeline  `json:"pipeline,omitempty"`
	Priority        Priority  `json:"priority,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Prompt          string    `json:"prompt,omitempty"`
	Attempt         int       `json:"attempt"`
	RequestedAt     time.Time `json:"requested_at"`
}
