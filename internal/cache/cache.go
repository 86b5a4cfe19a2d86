package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

type Config struct {
	Memory MemoryConfig

	// Persistent is the optional durable second tier.
	Persistent PersistentStore

	// Semantic is the optional similarity index over cached prompts.
	Semantic *SemanticIndex

	// HighValueTokens is the token cost above which a response is also
	// written to the persistent tier.
	HighValueTokens int

	// MinIndexBytes is the minimum normalized prompt length worth
	// indexing for semantic lookup.
	MinIndexBytes int

	Logger *log.Logger
}

// ResponseCache memoizes token-metered backend calls across up to three
// tiers: exact-key in-memory, persistent store, and opt-in semantic
// similarity. Auxiliary tier failures are logged and swallowed; they
// never fail the parent operation.
type ResponseCache struct {
	memory     *MemoryStore
	persistent PersistentStore
	semantic   *SemanticIndex

	highValueTokens int
	minIndexBytes   int
	logger          *log.Logger

	hits          atomic.Int64
	misses        atomic.Int64
	semanticHits  atomic.Int64
	persistedHits atomic.Int64
}

func New(config Config) *ResponseCache {
	if config.HighValueTokens <= 0 {
		config.HighValueTokens = 1000
	}
	if config.MinIndexBytes <= 0 {
		config.MinIndexBytes = 64
	}
	return &ResponseCache{
		memory:          NewMemoryStore(config.Memory),
		persistent:      config.Persistent,
		semantic:        config.Semantic,
		highValueTokens: config.HighValueTokens,
		minIndexBytes:   config.MinIndexBytes,
		logger:          config.Logger,
	}
}

// Key derives the deterministic cache key from the semantically relevant
// request fields only. Request metadata such as timestamps or request
// IDs must never feed the key, so identical requests always collide.
func Key(model, prompt, contentFingerprint string) string {
	parts := []string{
		strings.TrimSpace(strings.ToLower(model)),
		NormalizePrompt(prompt),
		strings.TrimSpace(contentFingerprint),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "||")))
	return hex.EncodeToString(sum[:])
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// NormalizePrompt collapses whitespace and case so cosmetically different
// prompts share a key.
func NormalizePrompt(prompt string) string {
	lowered := strings.ToLower(strings.TrimSpace(prompt))
	return whitespacePattern.ReplaceAllString(lowered, " ")
}

// Check looks the key up through every configured tier. A persistent-tier
// hit repopulates the memory tier.
func (c *ResponseCache) Check(ctx context.Context, key, prompt string) (Entry, bool) {
	if entry, ok := c.memory.Get(key); ok {
		c.hits.Add(1)
		return entry, true
	}

	if c.persistent != nil {
		entry, ok, err := c.persistent.Get(ctx, key)
		if err != nil {
			c.logf("persistent cache lookup failed key=%s: %v", key, err)
		} else if ok {
			c.memory.Set(key, entry)
			c.hits.Add(1)
			c.persistedHits.Add(1)
			return entry, true
		}
	}

	if c.semantic != nil && strings.TrimSpace(prompt) != "" {
		if matchKey, score, ok := c.semantic.Lookup(prompt); ok && matchKey != key {
			if entry, found := c.memory.Get(matchKey); found {
				c.hits.Add(1)
				c.semanticHits.Add(1)
				c.logf("semantic cache hit key=%s match=%s score=%.4f", key, matchKey, score)
				return entry, true
			}
		}
	}

	c.misses.Add(1)
	return Entry{}, false
}

// Store records a fresh backend response. The memory tier always gets
// the entry; the persistent tier only when the response is high value;
// the semantic index only when the prompt is long enough to be worth it.
func (c *ResponseCache) Store(ctx context.Context, key, prompt string, value json.RawMessage, tokenCost int) {
	entry := Entry{
		Value:       append([]byte(nil), value...),
		TokenCost:   tokenCost,
		ContentHash: ContentHash(value),
	}
	c.memory.Set(key, entry)

	if c.persistent != nil && tokenCost >= c.highValueTokens {
		if err := c.persistent.Set(ctx, key, entry); err != nil {
			c.logf("persistent cache store failed key=%s: %v", key, err)
		}
	}

	if c.semantic != nil && len(NormalizePrompt(prompt)) >= c.minIndexBytes {
		c.semantic.Add(key, prompt)
	}
}

// HitRate is cumulative hits over hits+misses.
func (c *ResponseCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

type Stats struct {
	Hits           int64     `json:"hits"`
	Misses         int64     `json:"misses"`
	SemanticHits   int64     `json:"semantic_hits"`
	PersistentHits int64     `json:"persistent_hits"`
	HitRate        float64   `json:"hit_rate"`
	Entries        int       `json:"entries"`
	Evictions      int64     `json:"evictions"`
	CollectedAt    time.Time `json:"collected_at"`
}

func (c *ResponseCache) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		SemanticHits:   c.semanticHits.Load(),
		PersistentHits: c.persistedHits.Load(),
		HitRate:        c.HitRate(),
		Entries:        c.memory.Len(),
		Evictions:      c.memory.Evictions(),
		CollectedAt:    time.Now().UTC(),
	}
}

func (c *ResponseCache) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
