package cost

import (
	"context"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cache"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/pricing"
)

// approximate tokens-per-character ratio used for estimates before the
// backend reports real usage
const charsPerToken = 4

type CompressionLevel int

const (
	// CompressionLight normalizes whitespace only.
	CompressionLight CompressionLevel = iota + 1
	// CompressionModerate additionally removes duplicated adjacent words
	// and normalizes punctuation.
	CompressionModerate
	// CompressionAggressive additionally strips stop-words and
	// non-alphanumeric characters.
	CompressionAggressive
)

type Config struct {
	Pricing *pricing.Table
	Cache   *cache.ResponseCache

	// TokensPerMinute paces calls to the metered backend. Zero disables
	// pacing.
	TokensPerMinute int

	// DowngradeTokenThreshold is the estimated prompt size under which a
	// cheaper model is recommended.
	DowngradeTokenThreshold int

	Logger *log.Logger
}

// Optimizer estimates and tracks token spend for the metered backend,
// compresses prompts, recommends model downgrades, and paces calls to
// stay inside the backend's rate limits.
type Optimizer struct {
	pricing *pricing.Table
	cache   *cache.ResponseCache
	limiter *rate.Limiter
	logger  *log.Logger

	downgradeTokenThreshold int

	mu     sync.Mutex
	ledger []domain.TokenUsage
}

func NewOptimizer(config Config) *Optimizer {
	if config.Pricing == nil {
		config.Pricing = pricing.NewTable(nil)
	}
	if config.DowngradeTokenThreshold <= 0 {
		config.DowngradeTokenThreshold = 800
	}

	var limiter *rate.Limiter
	if config.TokensPerMinute > 0 {
		perSecond := rate.Limit(float64(config.TokensPerMinute) / 60.0)
		limiter = rate.NewLimiter(perSecond, config.TokensPerMinute)
	}

	return &Optimizer{
		pricing:                 config.Pricing,
		cache:                   config.Cache,
		limiter:                 limiter,
		logger:                  config.Logger,
		downgradeTokenThreshold: config.DowngradeTokenThreshold,
		ledger:                  make([]domain.TokenUsage, 0, 128),
	}
}

type Estimate struct {
	CostUSD              float64 `json:"cost_usd"`
	CacheSavingsEstimate float64 `json:"cache_savings_estimate_usd"`
	KnownModel           bool    `json:"known_model"`
}

// EstimateCost prices a call from token counts. Unknown models yield a
// zero estimate plus a warning, never an error.
func (o *Optimizer) EstimateCost(promptTokens, completionTokens int, model string) Estimate {
	entry, ok := o.pricing.Lookup(model)
	if !ok {
		o.logf("unknown model %q for cost estimate, assuming zero cost", model)
		return Estimate{}
	}

	cost := float64(promptTokens)/1000*entry.InputCostPer1K +
		float64(completionTokens)/1000*entry.OutputCostPer1K

	savings := 0.0
	if o.cache != nil {
		savings = cost * o.cache.HitRate()
	}
	return Estimate{CostUSD: cost, CacheSavingsEstimate: savings, KnownModel: true}
}

// EstimateTokens approximates the token count for a prompt.
func EstimateTokens(prompt string) int {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return 0
	}
	tokens := len(trimmed) / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// RecordUsage appends one ledger entry. Entries are never mutated.
func (o *Optimizer) RecordUsage(usage domain.TokenUsage) {
	if usage.Timestamp.IsZero() {
		usage.Timestamp = time.Now().UTC()
	}
	o.mu.Lock()
	o.ledger = append(o.ledger, usage)
	o.mu.Unlock()
}

type UsageSummary struct {
	Entries               int     `json:"entries"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalCostUSD          float64 `json:"total_cost_usd"`
	CacheHitRate          float64 `json:"cache_hit_rate"`
}

// Usage aggregates the ledger for analytics.
func (o *Optimizer) Usage() UsageSummary {
	o.mu.Lock()
	entries := make([]domain.TokenUsage, len(o.ledger))
	copy(entries, o.ledger)
	o.mu.Unlock()

	summary := UsageSummary{Entries: len(entries)}
	for _, usage := range entries {
		summary.TotalPromptTokens += usage.PromptTokens
		summary.TotalCompletionTokens += usage.CompletionTokens
		estimate := o.EstimateCost(usage.PromptTokens, usage.CompletionTokens, usage.Model)
		summary.TotalCostUSD += estimate.CostUSD
	}
	if o.cache != nil {
		summary.CacheHitRate = o.cache.HitRate()
	}
	return summary
}

// Wait blocks until the token-bucket pacer admits a call of the given
// estimated size. No-op when pacing is disabled.
func (o *Optimizer) Wait(ctx context.Context, estimatedTokens int) error {
	if o.limiter == nil || estimatedTokens <= 0 {
		return nil
	}
	if estimatedTokens > o.limiter.Burst() {
		estimatedTokens = o.limiter.Burst()
	}
	return o.limiter.WaitN(ctx, estimatedTokens)
}

type OptimizeOptions struct {
	Compression CompressionLevel
	MaxTokens   int
}

type OptimizeResult struct {
	OptimizedPrompt     string  `json:"optimized_prompt"`
	RecommendedModel    string  `json:"recommended_model"`
	EstimatedSavingsUSD float64 `json:"estimated_savings_usd"`
}

// Optimize compresses a prompt, truncates it to the token limit, and
// recommends a cheaper model for small prompts.
func (o *Optimizer) Optimize(prompt, model string, options OptimizeOptions) OptimizeResult {
	if options.Compression < CompressionLight || options.Compression > CompressionAggressive {
		options.Compression = CompressionLight
	}

	optimized := CompressPrompt(prompt, options.Compression)
	if options.MaxTokens > 0 {
		optimized = TruncateToTokens(optimized, options.MaxTokens)
	}

	recommended := o.RecommendModel(optimized, model)

	beforeTokens := EstimateTokens(prompt)
	afterTokens := EstimateTokens(optimized)
	before := o.EstimateCost(beforeTokens, 0, model)
	after := o.EstimateCost(afterTokens, 0, recommended)
	savings := before.CostUSD - after.CostUSD
	if savings < 0 {
		savings = 0
	}

	return OptimizeResult{
		OptimizedPrompt:     optimized,
		RecommendedModel:    recommended,
		EstimatedSavingsUSD: savings,
	}
}

// RecommendModel downgrades to the cheapest model that can hold the
// prompt when the prompt is small enough not to need the configured one.
func (o *Optimizer) RecommendModel(prompt, model string) string {
	tokens := EstimateTokens(prompt)
	if tokens >= o.downgradeTokenThreshold {
		return model
	}

	current, known := o.pricing.Lookup(model)
	cheapestModel, cheapest, ok := o.pricing.Cheapest(tokens * 2)
	if !ok {
		return model
	}
	if known && current.InputCostPer1K+current.OutputCostPer1K <= cheapest.InputCostPer1K+cheapest.OutputCostPer1K {
		return model
	}
	return cheapestModel
}

var (
	repeatPunctPattern = regexp.MustCompile(`([.,;:!?]){2,}`)
	nonAlphanumPattern = regexp.MustCompile(`[^a-zA-Z0-9\s.,!?]`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "of": {}, "to": {}, "in": {}, "on": {}, "at": {},
	"and": {}, "or": {}, "that": {}, "this": {}, "with": {}, "for": {},
	"very": {}, "really": {}, "just": {}, "quite": {},
}

// CompressPrompt applies one of three compression levels.
func CompressPrompt(prompt string, level CompressionLevel) string {
	result := whitespacePattern.ReplaceAllString(strings.TrimSpace(prompt), " ")
	if level <= CompressionLight {
		return result
	}

	result = dropAdjacentDuplicates(result)
	result = repeatPunctPattern.ReplaceAllString(result, "$1")
	if level <= CompressionModerate {
		return strings.TrimSpace(result)
	}

	result = nonAlphanumPattern.ReplaceAllString(result, "")
	words := strings.Fields(result)
	kept := make([]string, 0, len(words))
	for _, word := range words {
		if _, stop := stopWords[strings.ToLower(strings.Trim(word, ".,!?"))]; stop {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}

// TruncateToTokens cuts a prompt to roughly maxTokens. When a sentence
// boundary exists past 80% of the target length the cut lands there
// instead of mid-sentence.
func TruncateToTokens(prompt string, maxTokens int) string {
	targetChars := maxTokens * charsPerToken
	if targetChars <= 0 || len(prompt) <= targetChars {
		return prompt
	}

	// never cut through a multi-byte rune
	for targetChars > 0 && !utf8.RuneStart(prompt[targetChars]) {
		targetChars--
	}
	window := prompt[:targetChars]
	boundary := strings.LastIndexAny(window, ".!?")
	if boundary >= (targetChars*8)/10 {
		return strings.TrimSpace(window[:boundary+1])
	}
	return strings.TrimSpace(window)
}

func dropAdjacentDuplicates(text string) string {
	words := strings.Fields(text)
	if len(words) < 2 {
		return text
	}
	kept := words[:1]
	for _, word := range words[1:] {
		if strings.EqualFold(word, kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}

func (o *Optimizer) logf(format string, args ...any) {
	if o.logger == nil {
		return
	}
	o.logger.Printf(format, args...)
}
