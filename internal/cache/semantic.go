package cache

import (
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// Embedder turns a prompt into a fixed-dimension vector. The default is
// a deterministic local term-frequency embedding; a real embedding
// backend can be substituted without changing the index contract.
type Embedder interface {
	Embed(text string) []float64
}

// TermFrequencyEmbedder hashes normalized tokens into a fixed number of
// buckets and L2-normalizes the resulting count vector.
type TermFrequencyEmbedder struct {
	dimensions int
}

func NewTermFrequencyEmbedder(dimensions int) *TermFrequencyEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &TermFrequencyEmbedder{dimensions: dimensions}
}

func (e *TermFrequencyEmbedder) Embed(text string) []float64 {
	vector := make([]float64, e.dimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?\"'()[]{}")
		if token == "" {
			continue
		}
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(token))
		vector[int(hasher.Sum32())%e.dimensions]++
	}

	var norm float64
	for _, value := range vector {
		norm += value * value
	}
	if norm == 0 {
		return vector
	}
	norm = math.Sqrt(norm)
	for index := range vector {
		vector[index] /= norm
	}
	return vector
}

type semanticEntry struct {
	key    string
	vector []float64
}

type SemanticConfig struct {
	MaxEntries int
	Threshold  float64
	Embedder   Embedder
}

// SemanticIndex matches a prompt against embeddings of previously cached
// prompts by cosine similarity. Lookup returns the single best match
// above the threshold, ties broken by highest score.
type SemanticIndex struct {
	mu         sync.RWMutex
	entries    []semanticEntry
	maxEntries int
	threshold  float64
	embedder   Embedder
}

func NewSemanticIndex(config SemanticConfig) *SemanticIndex {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 500
	}
	if config.Threshold <= 0 || config.Threshold > 1 {
		config.Threshold = 0.95
	}
	if config.Embedder == nil {
		config.Embedder = NewTermFrequencyEmbedder(0)
	}
	return &SemanticIndex{
		entries:    make([]semanticEntry, 0, config.MaxEntries),
		maxEntries: config.MaxEntries,
		threshold:  config.Threshold,
		embedder:   config.Embedder,
	}
}

// Add indexes a prompt under the exact cache key it was stored with.
// The index is bounded; the oldest entry is dropped first.
func (i *SemanticIndex) Add(key, prompt string) {
	vector := i.embedder.Embed(prompt)

	i.mu.Lock()
	defer i.mu.Unlock()

	for index, entry := range i.entries {
		if entry.key == key {
			i.entries[index].vector = vector
			return
		}
	}
	if len(i.entries) >= i.maxEntries {
		i.entries = i.entries[1:]
	}
	i.entries = append(i.entries, semanticEntry{key: key, vector: vector})
}

// Lookup returns the cache key of the closest indexed prompt when its
// cosine similarity clears the threshold.
func (i *SemanticIndex) Lookup(prompt string) (string, float64, bool) {
	vector := i.embedder.Embed(prompt)

	i.mu.RLock()
	defer i.mu.RUnlock()

	bestKey := ""
	bestScore := -1.0
	for _, entry := range i.entries {
		score := cosine(vector, entry.vector)
		if score > bestScore {
			bestScore = score
			bestKey = entry.key
		}
	}
	if bestKey == "" || bestScore < i.threshold {
		return "", bestScore, false
	}
	return bestKey, bestScore, true
}

func (i *SemanticIndex) Remove(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for index, entry := range i.entries {
		if entry.key == key {
			i.entries = append(i.entries[:index], i.entries[index+1:]...)
			return
		}
	}
}

func (i *SemanticIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for index := range a {
		dot += a[index] * b[index]
		normA += a[index] * a[index]
		normB += b[index] * b[index]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
