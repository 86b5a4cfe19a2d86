package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/backend"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cache"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cost"
	httpserver "github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/http"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/http/handlers"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/orchestrator"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/pipeline"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/queue"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/repository"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/selector"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/service"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/worker"
)

// scriptedModelBackend plays the token-metered provider so llm-vision and
// hybrid routes run end-to-end without network access.
type scriptedModelBackend struct{}

func (scriptedModelBackend) Analyze(_ context.Context, ref, _, model string) (backend.MeteredAnalysis, error) {
	return backend.MeteredAnalysis{
		Text:             fmt.Sprintf("Scene description for %s.", ref),
		PromptTokens:     90,
		CompletionTokens: 45,
		ModelID:          model,
	}, nil
}

func (scriptedModelBackend) Available() bool { return true }

type integrationRuntime struct {
	server *httptest.Server
	media  *backend.MemoryMediaStore
	cancel context.CancelFunc
}

func startIntegrationRuntime(t *testing.T) integrationRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)
	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(2048, 3, logger)

	responseCache := cache.New(cache.Config{
		Memory: cache.MemoryConfig{
			MaxEntries: 4000,
			TTL:        10 * time.Minute,
		},
		Semantic: cache.NewSemanticIndex(cache.SemanticConfig{}),
	})
	optimizer := cost.NewOptimizer(cost.Config{
		Cache:  responseCache,
		Logger: logger,
	})

	media := backend.NewMemoryMediaStore()
	segmenter := &backend.LocalSegmenter{SceneSeconds: 10}
	chunker := &backend.LocalChunker{}
	vision := &backend.LocalVision{}
	speech := &backend.LocalSpeech{}
	metered := scriptedModelBackend{}

	manager := pipeline.NewManager(repo, pipeline.Collaborators{
		Media:     media,
		Segmenter: segmenter,
		Extractor: chunker,
		Analyzer:  vision,
		Speech:    speech,
	}, pipeline.Config{}, logger)

	orch := orchestrator.New(
		selector.New(selector.Config{}),
		manager,
		optimizer,
		responseCache,
		orchestrator.Collaborators{
			Media:     media,
			Segmenter: segmenter,
			Chunker:   chunker,
			Metered:   metered,
			Vision:    vision,
			Speech:    speech,
		},
		repo,
		orchestrator.Config{},
		logger,
	)

	describeService := service.NewDescribeService(repo, localQueue, orch)
	api := handlers.NewAPI(describeService, responseCache, optimizer, manager)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	processor := worker.NewProcessor(localQueue, orch, logger)
	go processor.Start(ctx)

	server := httptest.NewServer(router)
	return integrationRuntime{
		server: server,
		media:  media,
		cancel: func() {
			cancel()
			server.Close()
		},
	}
}

func (rt integrationRuntime) storeMedia(t *testing.T, payload string) string {
	t.Helper()
	ref, err := rt.media.Put(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("store media: %v", err)
	}
	return ref
}

func postJSON(
	t *testing.T,
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
) (int, map[string]any) {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]any) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build get request: %v", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute get request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode get response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func waitForJobCompleted(
	t *testing.T,
	client *http.Client,
	baseURL string,
	jobID string,
	timeout time.Duration,
) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		statusCode, body := getJSON(t, client, fmt.Sprintf("%s/v1/jobs/%s", baseURL, jobID))
		if statusCode != http.StatusOK {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		status, _ := body["status"].(map[string]any)
		state, _ := status["state"].(string)
		if state == "completed" {
			return body
		}
		if state == "failed" {
			t.Fatalf("job %s failed: %+v", jobID, body)
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for job %s to complete", jobID)
	return nil
}

func TestVideoDescribeWorkflowCloudVision(t *testing.T) {
	rt := startIntegrationRuntime(t)
	defer rt.cancel()

	client := rt.server.Client()
	baseURL := rt.server.URL
	inputRef := rt.storeMedia(t, "video-bytes")

	status, body := postJSON(t, client, baseURL+"/v1/describe/video", map[string]any{
		"input_ref": inputRef,
		"pipeline":  "cloud-vision",
	}, nil)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 from describe, got %d body=%+v", status, body)
	}
	jobID, _ := body["job_id"].(string)
	if strings.TrimSpace(jobID) == "" {
		t.Fatalf("expected job id in accepted response, got %+v", body)
	}
	if statusURL, _ := body["status_url"].(string); statusURL != "/v1/jobs/"+jobID {
		t.Fatalf("unexpected status_url %q", body["status_url"])
	}

	job := waitForJobCompleted(t, client, baseURL, jobID, 5*time.Second)
	if text, _ := job["text"].(string); strings.TrimSpace(text) == "" {
		t.Fatalf("expected compiled text on the completed job: %+v", job)
	}
	if audioRef, _ := job["audio_ref"].(string); strings.TrimSpace(audioRef) == "" {
		t.Fatalf("expected audio ref on the completed job: %+v", job)
	}
	segments, ok := job["segments"].([]any)
	if !ok || len(segments) == 0 {
		t.Fatalf("expected scene segments on the completed job: %+v", job)
	}

	listStatus, listBody := getJSON(t, client, baseURL+"/v1/jobs")
	if listStatus != http.StatusOK {
		t.Fatalf("expected 200 from job list, got %d", listStatus)
	}
	if count, _ := listBody["count"].(float64); count < 1 {
		t.Fatalf("expected at least one job in the list, got %+v", listBody)
	}

	deleteRequest, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	deleteResponse, err := client.Do(deleteRequest)
	if err != nil {
		t.Fatalf("execute delete request: %v", err)
	}
	deleteResponse.Body.Close()
	if deleteResponse.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from delete, got %d", deleteResponse.StatusCode)
	}

	goneStatus, _ := getJSON(t, client, baseURL+"/v1/jobs/"+jobID)
	if goneStatus != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", goneStatus)
	}
}

func TestImageDescribeWorkflowWithIdempotentReplay(t *testing.T) {
	rt := startIntegrationRuntime(t)
	defer rt.cancel()

	client := rt.server.Client()
	baseURL := rt.server.URL
	inputRef := rt.storeMedia(t, "image-bytes")

	payload := map[string]any{
		"input_ref": inputRef,
		"pipeline":  "llm-vision",
		"prompt":    "Describe this product photo for a listing.",
	}
	headers := map[string]string{"Idempotency-Key": "image-e2e-0001"}

	firstStatus, firstBody := postJSON(t, client, baseURL+"/v1/describe/image", payload, headers)
	if firstStatus != http.StatusAccepted {
		t.Fatalf("expected 202 from describe, got %d body=%+v", firstStatus, firstBody)
	}
	jobID, _ := firstBody["job_id"].(string)

	replayStatus, replayBody := postJSON(t, client, baseURL+"/v1/describe/image", payload, headers)
	if replayStatus != http.StatusAccepted {
		t.Fatalf("expected 202 from idempotent replay, got %d", replayStatus)
	}
	if replayID, _ := replayBody["job_id"].(string); replayID != jobID {
		t.Fatalf("idempotent replay returned a different job: %s vs %s", replayID, jobID)
	}

	conflictPayload := map[string]any{
		"input_ref": inputRef,
		"pipeline":  "cloud-vision",
	}
	conflictStatus, conflictBody := postJSON(t, client, baseURL+"/v1/describe/image", conflictPayload, headers)
	if conflictStatus != http.StatusConflict {
		t.Fatalf("expected 409 for reused key with new payload, got %d body=%+v", conflictStatus, conflictBody)
	}

	job := waitForJobCompleted(t, client, baseURL, jobID, 5*time.Second)
	text, _ := job["text"].(string)
	if !strings.Contains(text, "Scene description for "+inputRef) {
		t.Fatalf("expected metered analysis text, got %q", text)
	}
}

func TestHybridVideoWorkflow(t *testing.T) {
	rt := startIntegrationRuntime(t)
	defer rt.cancel()

	client := rt.server.Client()
	baseURL := rt.server.URL
	inputRef := rt.storeMedia(t, "medium-video-bytes")

	status, body := postJSON(t, client, baseURL+"/v1/describe/video", map[string]any{
		"input_ref": inputRef,
		"pipeline":  "hybrid",
	}, nil)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 from describe, got %d body=%+v", status, body)
	}
	jobID, _ := body["job_id"].(string)

	job := waitForJobCompleted(t, client, baseURL, jobID, 5*time.Second)
	segments, ok := job["segments"].([]any)
	if !ok || len(segments) < 2 {
		t.Fatalf("expected detected scene boundaries, got %+v", job["segments"])
	}
	analyses, ok := job["analyses"].([]any)
	if !ok || len(analyses) != len(segments) {
		t.Fatalf("expected one analysis per segment, got %+v", job["analyses"])
	}
	if text, _ := job["text"].(string); strings.TrimSpace(text) == "" {
		t.Fatalf("expected compiled text on the completed job: %+v", job)
	}
}

func TestDescribeRejectsInvalidRequests(t *testing.T) {
	rt := startIntegrationRuntime(t)
	defer rt.cancel()

	client := rt.server.Client()
	baseURL := rt.server.URL

	status, body := postJSON(t, client, baseURL+"/v1/describe/video", map[string]any{
		"input_ref": "mem://clip",
		"pipeline":  "sonar-vision",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown pipeline, got %d body=%+v", status, body)
	}
	errorEnvelope, ok := body["error"].(map[string]any)
	if !ok || fmt.Sprintf("%v", errorEnvelope["code"]) != "validation_error" {
		t.Fatalf("expected validation_error envelope, got %+v", body)
	}

	status, body = postJSON(t, client, baseURL+"/v1/describe/video", map[string]any{}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing input_ref, got %d body=%+v", status, body)
	}
}

func TestHealthAndStatsEndpoints(t *testing.T) {
	rt := startIntegrationRuntime(t)
	defer rt.cancel()

	client := rt.server.Client()
	baseURL := rt.server.URL

	healthStatus, healthBody := getJSON(t, client, baseURL+"/v1/health")
	if healthStatus != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", healthStatus)
	}
	if state, _ := healthBody["status"].(string); state == "" {
		t.Fatalf("expected health status field, got %+v", healthBody)
	}

	statsStatus, statsBody := getJSON(t, client, baseURL+"/v1/stats")
	if statsStatus != http.StatusOK {
		t.Fatalf("expected 200 from stats, got %d", statsStatus)
	}
	if _, ok := statsBody["cache"].(map[string]any); !ok {
		t.Fatalf("expected cache stats, got %+v", statsBody)
	}
	if _, ok := statsBody["usage"].(map[string]any); !ok {
		t.Fatalf("expected usage stats, got %+v", statsBody)
	}
}
