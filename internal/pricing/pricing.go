package pricing

import (
	"sort"
	"strings"
)

// ModelPricing is static reference data for one model identifier.
type ModelPricing struct {
	InputCostPer1K     float64
	OutputCostPer1K    float64
	ContextWindow      int
	RateLimitPerMinute int
}

type Table struct {
	models map[string]ModelPricing
}

// NewTable returns the default pricing table. Overrides replace or add
// entries keyed by model identifier.
func NewTable(overrides map[string]ModelPricing) *Table {
	models := map[string]ModelPricing{
		"gpt-4o": {
			InputCostPer1K:     0.0025,
			OutputCostPer1K:    0.01,
			ContextWindow:      128000,
			RateLimitPerMinute: 500,
		},
		"gpt-4o-mini": {
			InputCostPer1K:     0.00015,
			OutputCostPer1K:    0.0006,
			ContextWindow:      128000,
			RateLimitPerMinute: 2000,
		},
		"gpt-4-turbo": {
			InputCostPer1K:     0.01,
			OutputCostPer1K:    0.03,
			ContextWindow:      128000,
			RateLimitPerMinute: 300,
		},
	}
	for model, entry := range overrides {
		key := strings.TrimSpace(strings.ToLower(model))
		if key == "" {
			continue
		}
		models[key] = entry
	}
	return &Table{models: models}
}

// Lookup returns the pricing for a model. Unknown models return ok=false;
// callers report a warning and estimate zero rather than failing.
func (t *Table) Lookup(model string) (ModelPricing, bool) {
	entry, ok := t.models[strings.TrimSpace(strings.ToLower(model))]
	return entry, ok
}

// Cheapest returns the model with the lowest combined per-1K rate whose
// context window can hold at least minContext tokens.
func (t *Table) Cheapest(minContext int) (string, ModelPricing, bool) {
	type candidate struct {
		model string
		entry ModelPricing
	}
	candidates := make([]candidate, 0, len(t.models))
	for model, entry := range t.models {
		if entry.ContextWindow < minContext {
			continue
		}
		candidates = append(candidates, candidate{model: model, entry: entry})
	}
	if len(candidates) == 0 {
		return "", ModelPricing{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		left := candidates[i].entry.InputCostPer1K + candidates[i].entry.OutputCostPer1K
		right := candidates[j].entry.InputCostPer1K + candidates[j].entry.OutputCostPer1K
		if left == right {
			return candidates[i].model < candidates[j].model
		}
		return left < right
	})
	return candidates[0].model, candidates[0].entry, true
}

// Models lists known model identifiers in stable order.
func (t *Table) Models() []string {
	models := make([]string, 0, len(t.models))
	for model := range t.models {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
