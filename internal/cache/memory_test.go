package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{MaxEntries: 3})

	store.Set("a", Entry{Value: json.RawMessage(`"a"`)})
	store.Set("b", Entry{Value: json.RawMessage(`"b"`)})
	store.Set("c", Entry{Value: json.RawMessage(`"c"`)})

	// Touch "a" so "b" becomes the oldest.
	if _, ok := store.Get("a"); !ok {
		t.Fatalf("expected a to be present")
	}

	store.Set("d", Entry{Value: json.RawMessage(`"d"`)})

	if _, ok := store.Get("b"); ok {
		t.Fatalf("expected b to be evicted as least recently used")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := store.Get(key); !ok {
			t.Fatalf("expected %s to survive eviction", key)
		}
	}
	if store.Evictions() != 1 {
		t.Fatalf("expected 1 eviction, got %d", store.Evictions())
	}
}

func TestMemoryStoreEnforcesByteBound(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{MaxEntries: 100, MaxBytes: 64})

	large := json.RawMessage(`"` + strings.Repeat("x", 40) + `"`)
	store.Set("first", Entry{Value: large})
	store.Set("second", Entry{Value: large})

	if store.Len() != 1 {
		t.Fatalf("expected byte bound to keep a single entry, got %d", store.Len())
	}
	if _, ok := store.Get("second"); !ok {
		t.Fatalf("expected the most recent entry to survive")
	}
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{TTL: 10 * time.Millisecond})

	store.Set("short-lived", Entry{Value: json.RawMessage(`1`)})
	time.Sleep(25 * time.Millisecond)

	if _, ok := store.Get("short-lived"); ok {
		t.Fatalf("expected entry past TTL to be reported as a miss")
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired entry to be removed on access")
	}
}

func TestMemoryStoreSweepRemovesExpired(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{TTL: 10 * time.Millisecond})

	for i := 0; i < 5; i++ {
		store.Set(fmt.Sprintf("key-%d", i), Entry{Value: json.RawMessage(`0`)})
	}
	time.Sleep(25 * time.Millisecond)

	if removed := store.Sweep(); removed != 5 {
		t.Fatalf("expected sweep to remove 5 entries, removed %d", removed)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store after sweep, got %d entries", store.Len())
	}
}

func TestMemoryStoreGetTracksHits(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{})
	store.Set("counted", Entry{Value: json.RawMessage(`true`)})

	for i := 0; i < 3; i++ {
		if _, ok := store.Get("counted"); !ok {
			t.Fatalf("expected hit on access %d", i)
		}
	}

	entry, ok := store.Get("counted")
	if !ok {
		t.Fatalf("expected entry to be present")
	}
	if entry.HitCount != 4 {
		t.Fatalf("expected hit count 4, got %d", entry.HitCount)
	}
}

func TestMemoryStoreReturnsClones(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{})
	store.Set("shared", Entry{Value: json.RawMessage(`"original"`)})

	entry, _ := store.Get("shared")
	entry.Value[1] = 'X'

	fresh, _ := store.Get("shared")
	if string(fresh.Value) != `"original"` {
		t.Fatalf("mutating a returned entry must not affect the store, got %s", fresh.Value)
	}
}
