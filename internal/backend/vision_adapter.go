package backend

import (
	"context"
	"strings"
)

// CaptionAdapter serves the VisionAnalyzer contract through a metered
// chat-completions backend pinned to a cheap captioning model. Token
// usage on this route is flat-rate and not fed into the cost ledger.
type CaptionAdapter struct {
	Client MeteredAnalyzer
	Model  string
	Prompt string
}

func (a *CaptionAdapter) Analyze(ctx context.Context, ref string) (VisionAnalysis, error) {
	model := a.Model
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	prompt := a.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = "Provide a short factual caption of this media for accessibility purposes."
	}

	analysis, err := a.Client.Analyze(ctx, ref, prompt, model)
	if err != nil {
		return VisionAnalysis{}, err
	}
	return VisionAnalysis{Text: analysis.Text, Confidence: 0.9}, nil
}
