package selector

import (
	"fmt"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

type Config struct {
	// Hard constraints for the token-metered route.
	LLMMaxFileSizeBytes   int64
	LLMMaxDurationSeconds float64

	// Small-content thresholds favoring the token-metered route.
	SmallFileSizeBytes   int64
	SmallDurationSeconds float64

	// Upper bounds of the medium band where the hybrid route applies.
	HybridMaxFileSizeBytes   int64
	HybridMaxDurationSeconds float64
}

func (c Config) withDefaults() Config {
	if c.LLMMaxFileSizeBytes <= 0 {
		c.LLMMaxFileSizeBytes = 25 << 20
	}
	if c.LLMMaxDurationSeconds <= 0 {
		c.LLMMaxDurationSeconds = 180
	}
	if c.SmallFileSizeBytes <= 0 {
		c.SmallFileSizeBytes = 5 << 20
	}
	if c.SmallDurationSeconds <= 0 {
		c.SmallDurationSeconds = 60
	}
	if c.HybridMaxFileSizeBytes <= 0 {
		c.HybridMaxFileSizeBytes = 100 << 20
	}
	if c.HybridMaxDurationSeconds <= 0 {
		c.HybridMaxDurationSeconds = 900
	}
	return c
}

// Selector maps a request's characteristics to a pipeline route. Select
// is pure with respect to its inputs and the static configuration: no
// side effects, no I/O.
type Selector struct {
	config Config
}

func New(config Config) *Selector {
	return &Selector{config: config.withDefaults()}
}

// Select picks the pipeline for one request. Zero size or duration is
// treated as unknown: the corresponding suitability checks are skipped
// and the decision falls through toward the default route unless priority
// forces an override.
func (s *Selector) Select(request domain.ProcessRequest, sizeBytes int64, durationSeconds float64) domain.PipelineSelection {
	if request.Pipeline != "" {
		return domain.PipelineSelection{
			Pipeline:     request.Pipeline,
			Reason:       fmt.Sprintf("explicit pipeline override: %s", request.Pipeline),
			AutoSelected: false,
			Limits:       s.Limits(request.Pipeline),
		}
	}

	sizeKnown := sizeBytes > 0
	durationKnown := durationSeconds > 0

	llmEligible := true
	if sizeKnown && sizeBytes > s.config.LLMMaxFileSizeBytes {
		llmEligible = false
	}
	if durationKnown && durationSeconds > s.config.LLMMaxDurationSeconds {
		llmEligible = false
	}

	if llmEligible {
		if request.Priority == domain.PriorityHigh {
			return s.auto(domain.PipelineLLMVision, "high priority request within llm-vision limits")
		}
		smallSize := sizeKnown && sizeBytes <= s.config.SmallFileSizeBytes
		smallDuration := durationKnown && durationSeconds <= s.config.SmallDurationSeconds
		if smallSize || smallDuration {
			return s.auto(domain.PipelineLLMVision, "small content favors llm-vision for latency and fidelity")
		}
	}

	hybridEligible := (sizeKnown || durationKnown)
	if sizeKnown && sizeBytes > s.config.HybridMaxFileSizeBytes {
		hybridEligible = false
	}
	if durationKnown && durationSeconds > s.config.HybridMaxDurationSeconds {
		hybridEligible = false
	}
	if request.MediaType == domain.MediaImage {
		hybridEligible = false
	}
	if hybridEligible && !llmEligible {
		return s.auto(domain.PipelineHybrid, "medium-size content: cloud segmentation with llm analysis")
	}

	return s.auto(domain.PipelineCloudVision, "default general-purpose route")
}

func (s *Selector) auto(pipeline domain.Pipeline, reason string) domain.PipelineSelection {
	return domain.PipelineSelection{
		Pipeline:     pipeline,
		Reason:       reason,
		AutoSelected: true,
		Limits:       s.Limits(pipeline),
	}
}

// Limits returns the capability descriptor for a pipeline route.
func (s *Selector) Limits(pipeline domain.Pipeline) domain.PipelineLimits {
	switch pipeline {
	case domain.PipelineLLMVision:
		return domain.PipelineLimits{
			MaxFileSizeBytes:   s.config.LLMMaxFileSizeBytes,
			MaxDurationSeconds: s.config.LLMMaxDurationSeconds,
			SupportedFormats:   []string{"mp4", "mov", "webm", "jpg", "jpeg", "png", "webp"},
			RateLimitPerMinute: 500,
		}
	case domain.PipelineHybrid:
		return domain.PipelineLimits{
			MaxFileSizeBytes:   s.config.HybridMaxFileSizeBytes,
			MaxDurationSeconds: s.config.HybridMaxDurationSeconds,
			SupportedFormats:   []string{"mp4", "mov", "webm"},
			RateLimitPerMinute: 500,
		}
	default:
		return domain.PipelineLimits{
			MaxFileSizeBytes:   500 << 20,
			MaxDurationSeconds: 4 * 3600,
			SupportedFormats:   []string{"mp4", "mov", "avi", "webm", "mkv", "jpg", "jpeg", "png"},
			RateLimitPerMinute: 0,
		}
	}
}
