package backend

import (
	"context"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

// MediaStore holds input media and generated audio artifacts.
type MediaStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// SceneSegmenter detects shot boundaries in a video. Asynchronous on the
// service side; the adapter blocks until a result or terminal error.
type SceneSegmenter interface {
	Segment(ctx context.Context, mediaRef string) ([]domain.SceneBoundary, error)
}

// Chunker splits a video into independently analyzable chunks, optionally
// guided by scene-boundary hints.
type Chunker interface {
	Chunk(ctx context.Context, mediaRef string, hints []domain.SceneBoundary) ([]string, error)
}

// MeteredAnalysis is the response of the token-metered backend.
type MeteredAnalysis struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	ModelID          string `json:"model_id"`
}

// MeteredAnalyzer is the token-metered analysis backend. Subject to rate
// limits and transient errors; the response cache and cost optimizer sit
// in front of every call.
type MeteredAnalyzer interface {
	Analyze(ctx context.Context, ref, prompt, model string) (MeteredAnalysis, error)
	Available() bool
}

// VisionAnalysis is the response of the non-metered cloud vision backend.
type VisionAnalysis struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// VisionAnalyzer is the non-metered vision backend with a distinct
// cost/latency/quality profile.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, ref string) (VisionAnalysis, error)
}

// SpeechSynthesizer converts compiled description text into audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
