package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
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

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type tokenResult struct {
	RawTokens        int     `json:"raw_tokens"`
	CompressedTokens int     `json:"compressed_tokens"`
	ReductionPct     float64 `json:"reduction_pct"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	PromptTuning   tokenResult      `json:"prompt_tuning"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server    *httptest.Server
	mediaRefs []string
	cancel    context.CancelFunc
}

// scriptedModelBackend plays the token-metered provider with deterministic
// responses so the benchmark never leaves the process.
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

func main() {
	videoTotal := flag.Int("video-total", 240, "total video describe requests")
	videoConcurrency := flag.Int("video-concurrency", 24, "concurrency for video describe requests")
	imageTotal := flag.Int("image-total", 240, "total image describe requests")
	imageConcurrency := flag.Int("image-concurrency", 24, "concurrency for image describe requests")
	statusTotal := flag.Int("status-total", 200, "total job status requests")
	statusConcurrency := flag.Int("status-concurrency", 20, "concurrency for job status requests")
	listTotal := flag.Int("list-total", 120, "total job list requests")
	listConcurrency := flag.Int("list-concurrency", 16, "concurrency for job list requests")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment()
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	var idCounter int64

	videoScenario := runScenario("describe_video_enqueue", *videoTotal, *videoConcurrency, func(index int) error {
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{
			"input_ref":        env.mediaRefs[index%len(env.mediaRefs)],
			"size_bytes":       int64(index%80+1) << 20,
			"duration_seconds": float64(index%600 + 30),
		}
		headers := map[string]string{
			"Idempotency-Key": fmt.Sprintf("video-%d-%d", requestID, time.Now().UnixNano()),
		}
		return postJSON(client, env.server.URL+"/v1/describe/video", payload, headers, http.StatusAccepted)
	})

	imageScenario := runScenario("describe_image_enqueue", *imageTotal, *imageConcurrency, func(index int) error {
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{
			"input_ref": env.mediaRefs[index%len(env.mediaRefs)],
			"pipeline":  "llm-vision",
			"prompt":    "Describe the visual content for a blind or low-vision audience.",
		}
		headers := map[string]string{
			"Idempotency-Key": fmt.Sprintf("image-%d-%d", requestID, time.Now().UnixNano()),
		}
		return postJSON(client, env.server.URL+"/v1/describe/image", payload, headers, http.StatusAccepted)
	})

	jobIDs, err := seedStatusJobs(client, env, 24)
	if err != nil {
		log.Fatalf("failed to seed jobs for the status scenario: %v", err)
	}

	statusScenario := runScenario("job_status", *statusTotal, *statusConcurrency, func(index int) error {
		url := fmt.Sprintf("%s/v1/jobs/%s", env.server.URL, jobIDs[index%len(jobIDs)])
		return getJSON(client, url, http.StatusOK)
	})

	listScenario := runScenario("jobs_list", *listTotal, *listConcurrency, func(index int) error {
		return getJSON(client, env.server.URL+"/v1/jobs", http.StatusOK)
	})

	promptTuning := runPromptCompressionScenario()
	results := []scenarioResult{
		videoScenario,
		imageScenario,
		statusScenario,
		listScenario,
	}

	slo := map[string]bool{
		"describe_enqueue_p95_le_1000ms": videoScenario.P95MS <= 1000 && imageScenario.P95MS <= 1000,
		"job_status_p95_le_500ms":        statusScenario.P95MS <= 500,
		"jobs_list_p95_le_1000ms":        listScenario.P95MS <= 1000,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		PromptTuning:   promptTuning,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(4096, 3, logger)

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

	mediaRefs := make([]string, 0, 32)
	for i := 0; i < 32; i++ {
		ref, err := media.Put(ctx, []byte(fmt.Sprintf("benchmark-media-%d", i)))
		if err != nil {
			cancel()
			return nil, err
		}
		mediaRefs = append(mediaRefs, ref)
	}

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
	return &benchmarkEnv{
		server:    server,
		mediaRefs: mediaRefs,
		cancel:    cancel,
	}, nil
}

// seedStatusJobs submits a handful of describe requests up front so the
// status scenario polls real job records.
func seedStatusJobs(client *http.Client, env *benchmarkEnv, count int) ([]string, error) {
	jobIDs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		payload := map[string]any{
			"input_ref": env.mediaRefs[i%len(env.mediaRefs)],
			"pipeline":  "cloud-vision",
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		response, err := client.Post(env.server.URL+"/v1/describe/video", "application/json", bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		var body struct {
			JobID string `json:"job_id"`
		}
		decodeErr := json.NewDecoder(response.Body).Decode(&body)
		response.Body.Close()
		if decodeErr != nil {
			return nil, decodeErr
		}
		if response.StatusCode != http.StatusAccepted || body.JobID == "" {
			return nil, fmt.Errorf("seed request %d rejected with status %d", i, response.StatusCode)
		}
		jobIDs = append(jobIDs, body.JobID)
	}
	return jobIDs, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	result := scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
	return result
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

// runPromptCompressionScenario measures how much aggressive prompt
// compression shrinks a verbose analysis prompt.
func runPromptCompressionScenario() tokenResult {
	verbosePrompt := "Please describe in a very very detailed and really quite thorough way " +
		"all of the visual content that is present in this scene, including the actions " +
		"of the people, the setting and the environment, and any of the text that is " +
		"visible on the screen, so that a person who is blind or has low vision can " +
		"follow along with the content of the video without missing anything important."

	compressed := cost.CompressPrompt(verbosePrompt, cost.CompressionAggressive)

	rawTokens := cost.EstimateTokens(verbosePrompt)
	compressedTokens := cost.EstimateTokens(compressed)

	reduction := 0.0
	if rawTokens > 0 {
		reduction = (float64(rawTokens-compressedTokens) / float64(rawTokens)) * 100
	}

	return tokenResult{
		RawTokens:        rawTokens,
		CompressedTokens: compressedTokens,
		ReductionPct:     round2(reduction),
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
