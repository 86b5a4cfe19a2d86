package cache

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// Entry is one memoized backend response.
type Entry struct {
	Key            string          `json:"key"`
	Value          json.RawMessage `json:"value"`
	TokenCost      int             `json:"token_cost"`
	ContentHash    string          `json:"content_hash"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	HitCount       int             `json:"hit_count"`
}

type MemoryConfig struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

// MemoryStore is the bounded in-memory cache tier. Eviction is
// least-recently-used once either the entry count or the aggregate byte
// size is exceeded; entries past TTL expire regardless of recency.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	totalBytes int64

	maxEntries int
	maxBytes   int64
	ttl        time.Duration

	evictions int64
}

func NewMemoryStore(config MemoryConfig) *MemoryStore {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 64 << 20
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	return &MemoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: config.MaxEntries,
		maxBytes:   config.MaxBytes,
		ttl:        config.TTL,
	}
}

// Get returns the entry for key, refreshing recency and incrementing the
// hit counter. Expired entries are removed and reported as a miss.
func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}

	entry := element.Value.(*Entry)
	if time.Now().UTC().After(entry.CreatedAt.Add(s.ttl)) {
		s.removeLocked(element)
		return Entry{}, false
	}

	entry.HitCount++
	entry.LastAccessedAt = time.Now().UTC()
	s.order.MoveToFront(element)
	return cloneEntry(*entry), true
}

// Set inserts or replaces the entry for key, evicting LRU entries until
// both bounds hold.
func (s *MemoryStore) Set(key string, entry Entry) {
	now := time.Now().UTC()
	entry.Key = key
	entry.CreatedAt = now
	entry.LastAccessedAt = now
	entry.Value = append([]byte(nil), entry.Value...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		s.removeLocked(existing)
	}

	element := s.order.PushFront(&entry)
	s.entries[key] = element
	s.totalBytes += entrySize(&entry)

	for (len(s.entries) > s.maxEntries || s.totalBytes > s.maxBytes) && s.order.Len() > 1 {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
		s.evictions++
	}
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if element, ok := s.entries[key]; ok {
		s.removeLocked(element)
	}
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Evictions() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

// Sweep removes all expired entries and returns the count removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for element := s.order.Back(); element != nil; {
		previous := element.Prev()
		entry := element.Value.(*Entry)
		if now.After(entry.CreatedAt.Add(s.ttl)) {
			s.removeLocked(element)
			removed++
		}
		element = previous
	}
	return removed
}

func (s *MemoryStore) removeLocked(element *list.Element) {
	entry := element.Value.(*Entry)
	s.order.Remove(element)
	delete(s.entries, entry.Key)
	s.totalBytes -= entrySize(entry)
}

func entrySize(entry *Entry) int64 {
	return int64(len(entry.Key) + len(entry.Value) + len(entry.ContentHash))
}

func cloneEntry(entry Entry) Entry {
	clone := entry
	clone.Value = append([]byte(nil), entry.Value...)
	return clone
}
