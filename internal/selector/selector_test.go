package selector

import (
	"testing"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

func TestSelectHonorsExplicitOverride(t *testing.T) {
	s := New(Config{})

	request := domain.ProcessRequest{
		MediaType: domain.MediaVideo,
		Pipeline:  domain.PipelineCloudVision,
	}
	// Small content would normally route to llm-vision.
	selection := s.Select(request, 1<<20, 30)

	if selection.Pipeline != domain.PipelineCloudVision {
		t.Fatalf("expected override pipeline, got %s", selection.Pipeline)
	}
	if selection.AutoSelected {
		t.Fatalf("expected explicit override to not be auto-selected")
	}
}

func TestSelectSmallContentPrefersLLMVision(t *testing.T) {
	s := New(Config{})

	selection := s.Select(domain.ProcessRequest{MediaType: domain.MediaVideo}, 2<<20, 45)
	if selection.Pipeline != domain.PipelineLLMVision {
		t.Fatalf("expected llm-vision for small content, got %s", selection.Pipeline)
	}
	if !selection.AutoSelected {
		t.Fatalf("expected auto-selected routing")
	}
}

func TestSelectHighPriorityForcesLLMVisionWithinLimits(t *testing.T) {
	s := New(Config{})

	selection := s.Select(domain.ProcessRequest{
		MediaType: domain.MediaVideo,
		Priority:  domain.PriorityHigh,
	}, 20<<20, 170)
	if selection.Pipeline != domain.PipelineLLMVision {
		t.Fatalf("expected llm-vision for high priority, got %s", selection.Pipeline)
	}
}

func TestSelectHighPriorityCannotBreakHardLimits(t *testing.T) {
	s := New(Config{})

	selection := s.Select(domain.ProcessRequest{
		MediaType: domain.MediaVideo,
		Priority:  domain.PriorityHigh,
	}, 60<<20, 600)
	if selection.Pipeline == domain.PipelineLLMVision {
		t.Fatalf("llm-vision must not be selected past its hard limits")
	}
	if selection.Pipeline != domain.PipelineHybrid {
		t.Fatalf("expected hybrid for medium content, got %s", selection.Pipeline)
	}
}

func TestSelectMediumBandRoutesHybrid(t *testing.T) {
	s := New(Config{})

	selection := s.Select(domain.ProcessRequest{MediaType: domain.MediaVideo}, 50<<20, 400)
	if selection.Pipeline != domain.PipelineHybrid {
		t.Fatalf("expected hybrid for medium content, got %s", selection.Pipeline)
	}
}

func TestSelectLargeContentDefaultsToCloudVision(t *testing.T) {
	s := New(Config{})

	selection := s.Select(domain.ProcessRequest{MediaType: domain.MediaVideo}, 200<<20, 3600)
	if selection.Pipeline != domain.PipelineCloudVision {
		t.Fatalf("expected cloud-vision for large content, got %s", selection.Pipeline)
	}
}

func TestSelectUnknownCharacteristicsDefaultToCloudVision(t *testing.T) {
	s := New(Config{})

	selection := s.Select(domain.ProcessRequest{MediaType: domain.MediaVideo}, 0, 0)
	if selection.Pipeline != domain.PipelineCloudVision {
		t.Fatalf("expected cloud-vision when size and duration are unknown, got %s", selection.Pipeline)
	}
}

func TestSelectImageNeverRoutesHybrid(t *testing.T) {
	s := New(Config{})

	// Past llm-vision limits but inside the hybrid band; images still must
	// not take the hybrid route.
	selection := s.Select(domain.ProcessRequest{MediaType: domain.MediaImage}, 60<<20, 0)
	if selection.Pipeline == domain.PipelineHybrid {
		t.Fatalf("hybrid must not be selected for images")
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	s := New(Config{})
	request := domain.ProcessRequest{MediaType: domain.MediaVideo}

	first := s.Select(request, 50<<20, 400)
	for i := 0; i < 10; i++ {
		next := s.Select(request, 50<<20, 400)
		if next.Pipeline != first.Pipeline || next.Reason != first.Reason {
			t.Fatalf("selection changed between identical calls: %+v vs %+v", first, next)
		}
	}
}

func TestLimitsDifferPerPipeline(t *testing.T) {
	s := New(Config{})

	llm := s.Limits(domain.PipelineLLMVision)
	cloud := s.Limits(domain.PipelineCloudVision)
	if llm.MaxFileSizeBytes >= cloud.MaxFileSizeBytes {
		t.Fatalf("llm-vision limits should be tighter than cloud-vision")
	}
	if llm.MaxDurationSeconds != 180 {
		t.Fatalf("expected default llm-vision duration limit 180s, got %v", llm.MaxDurationSeconds)
	}
}
