package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/backend"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cache"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/config"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/cost"
	httpserver "github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/http"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/http/handlers"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/orchestrator"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/pipeline"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/pricing"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/queue"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/repository"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/selector"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/service"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[vd-api] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	responseCache, cacheCloser := setupCache(ctx, cfg, logger)
	defer cacheCloser()

	pricingTable := pricing.NewTable(nil)
	optimizer := cost.NewOptimizer(cost.Config{
		Pricing:         pricingTable,
		Cache:           responseCache,
		TokensPerMinute: cfg.TokensPerMinute,
		Logger:          logger,
	})

	metered := backend.NewOpenAIVisionClient(backend.OpenAIVisionConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    time.Duration(cfg.OpenAITimeoutMS) * time.Millisecond,
		MaxRetries: cfg.OpenAIMaxRetries,
	})

	media := backend.NewMemoryMediaStore()
	segmenter := &backend.LocalSegmenter{}
	chunker := &backend.LocalChunker{}

	var vision backend.VisionAnalyzer = &backend.LocalVision{}
	var speech backend.SpeechSynthesizer = &backend.LocalSpeech{}
	if metered.Available() {
		vision = &backend.CaptionAdapter{Client: metered, Model: cfg.DefaultModel}
		speech = backend.NewOpenAISpeechClient(backend.OpenAISpeechConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
	} else {
		logger.Printf("OPENAI_API_KEY not configured, using local backends")
	}

	manager := pipeline.NewManager(repo, pipeline.Collaborators{
		Media:     media,
		Segmenter: segmenter,
		Extractor: chunker,
		Analyzer:  vision,
		Speech:    speech,
	}, pipeline.Config{
		StepTimeout: time.Duration(cfg.StageTimeoutMS) * time.Millisecond,
	}, logger)

	routeSelector := selector.New(selector.Config{
		LLMMaxFileSizeBytes:   int64(cfg.LLMMaxFileSizeMB) << 20,
		LLMMaxDurationSeconds: float64(cfg.LLMMaxDurationSeconds),
	})

	orch := orchestrator.New(routeSelector, manager, optimizer, responseCache, orchestrator.Collaborators{
		Media:     media,
		Segmenter: segmenter,
		Chunker:   chunker,
		Metered:   metered,
		Vision:    vision,
		Speech:    speech,
	}, repo, orchestrator.Config{
		DefaultModel:        cfg.DefaultModel,
		DefaultPrompt:       cfg.DefaultPrompt,
		MaxChunkConcurrency: cfg.MaxConcurrency,
		StageTimeout:        time.Duration(cfg.StageTimeoutMS) * time.Millisecond,
	}, logger)

	describeService := service.NewDescribeService(repo, producer, orch)
	api := handlers.NewAPI(describeService, responseCache, optimizer, manager)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, orch, logger)
		go processor.Start(ctx)
		logger.Printf("worker enabled and started")
	} else {
		logger.Printf("worker disabled by configuration")
	}

	go runCleanupLoop(ctx, describeService, time.Duration(cfg.CleanupMaxAgeMin)*time.Minute, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func runCleanupLoop(ctx context.Context, describeService *service.DescribeService, maxAge time.Duration, logger *log.Logger) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := describeService.Cleanup(ctx, maxAge)
			if err != nil {
				logger.Printf("job cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.Printf("job cleanup removed %d terminal jobs", removed)
			}
		}
	}
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.BatchEnqueuer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, 3, logger)
		baseProducer = local
		consumer = local
	} else {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
			Stream:       cfg.RedisStream,
			DLQStream:    cfg.RedisDLQ,
			Group:        cfg.RedisGroup,
			ConsumerName: cfg.RedisConsumer,
			MaxAttempts:  3,
		}, logger)
		if err != nil {
			logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
			_ = client.Close()
			local := queue.NewLocalQueue(512, 3, logger)
			baseProducer = local
			consumer = local
		} else {
			logger.Printf("redis streams queue initialized")
			baseProducer = streams
			consumer = streams
			baseCloser = func() {
				_ = streams.Close()
			}
		}
	}

	producer := queue.Producer(baseProducer)
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(baseProducer, queue.BatchingConfig{
			MaxBatchSize:  cfg.QueueBatchSize,
			FlushInterval: time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			MaxInFlight:   cfg.QueueBatchMaxInFlight,
		}, logger)
		producer = batching
		batchingCloser = batching.Close
		logger.Printf(
			"queue batching enabled size=%d flush_ms=%d max_in_flight=%d",
			cfg.QueueBatchSize,
			cfg.QueueBatchFlushMS,
			cfg.QueueBatchMaxInFlight,
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}

func setupCache(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (*cache.ResponseCache, func()) {
	cacheConfig := cache.Config{
		Memory: cache.MemoryConfig{
			MaxEntries: cfg.CacheMaxEntries,
			MaxBytes:   cfg.CacheMaxBytes,
			TTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		},
		Semantic: cache.NewSemanticIndex(cache.SemanticConfig{
			MaxEntries: cfg.SemanticMaxEntries,
			Threshold:  cfg.SemanticThreshold,
		}),
		HighValueTokens: cfg.CacheHighValueToken,
		Logger:          logger,
	}

	closer := func() {}
	if cfg.RedisAddr != "" {
		store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      time.Duration(cfg.CacheRedisTTLHours) * time.Hour,
		})
		if err != nil {
			logger.Printf("failed to initialize redis cache tier, continuing without it: %v", err)
		} else {
			logger.Printf("redis cache tier initialized")
			cacheConfig.Persistent = store
			closer = func() {
				_ = store.Close()
			}
		}
	}

	return cache.New(cacheConfig), closer
}
