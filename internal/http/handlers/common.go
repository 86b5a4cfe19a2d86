package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cache"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cost"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/http/middleware"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/pipeline"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	describeService *service.DescribeService
	cache           *cache.ResponseCache
	optimizer       *cost.Optimizer
	manager         *pipeline.Manager
	idempotency     *idempotencyStore
}

func NewAPI(
	describeService *service.DescribeService,
	responseCache *cache.ResponseCache,
	optimizer *cost.Optimizer,
	manager *pipeline.Manager,
) *API {
	return &API{
		describeService: describeService,
		cache:           responseCache,
		optimizer:       optimizer,
		manager:         manager,
		idempotency:     newIdempotencyStore(),
	}
}

type describeRequest struct {
	InputRef        string  `json:"input_ref"`
	Pipeline        string  `json:"pipeline,omitempty"`
	Priority        string  `json:"priority,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Prompt          string  `json:"prompt,omitempty"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       jobID,
		CreatedAt:   time.Now().UTC(),
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
