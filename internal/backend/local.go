package backend

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

// Local backends produce deterministic results without any external
// provider. They keep development and test environments working when no
// credentials are configured, mirroring the static fallbacks the API
// serves when generation backends are down.

// LocalSegmenter cuts a video into fixed-length scenes. The scene count
// is derived from the media ref so repeated runs agree.
type LocalSegmenter struct {
	SceneSeconds float64
}

func (s *LocalSegmenter) Segment(_ context.Context, mediaRef string) ([]domain.SceneBoundary, error) {
	sceneSeconds := s.SceneSeconds
	if sceneSeconds <= 0 {
		sceneSeconds = 15
	}

	count := int(refHash(mediaRef)%4) + 2
	boundaries := make([]domain.SceneBoundary, 0, count)
	for i := 0; i < count; i++ {
		boundaries = append(boundaries, domain.SceneBoundary{
			StartSeconds: float64(i) * sceneSeconds,
			EndSeconds:   float64(i+1) * sceneSeconds,
		})
	}
	return boundaries, nil
}

// LocalChunker derives one chunk ref per scene hint, or a single chunk
// when no hints are given.
type LocalChunker struct{}

func (c *LocalChunker) Chunk(_ context.Context, mediaRef string, hints []domain.SceneBoundary) ([]string, error) {
	if len(hints) == 0 {
		return []string{mediaRef + "#chunk-0"}, nil
	}
	refs := make([]string, 0, len(hints))
	for i := range hints {
		refs = append(refs, fmt.Sprintf("%s#chunk-%d", mediaRef, i))
	}
	return refs, nil
}

// LocalVision returns a canned description keyed on the media ref.
type LocalVision struct{}

func (v *LocalVision) Analyze(_ context.Context, ref string) (VisionAnalysis, error) {
	return VisionAnalysis{
		Text:       fmt.Sprintf("A visual scene without a configured vision provider (ref %s).", shortRef(ref)),
		Confidence: 0.5,
	}, nil
}

// LocalSpeech emits a WAV-tagged placeholder payload instead of real audio.
type LocalSpeech struct{}

func (s *LocalSpeech) Synthesize(_ context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "text", Reason: "text is required"}
	}
	return []byte("RIFF-PLACEHOLDER:" + text), nil
}

func refHash(ref string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(ref))
	return hasher.Sum64()
}

func shortRef(ref string) string {
	if len(ref) <= 24 {
		return ref
	}
	return ref[:24]
}
