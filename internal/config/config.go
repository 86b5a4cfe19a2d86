package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAITimeoutMS  int
	OpenAIMaxRetries int
	DefaultModel     string
	DefaultPrompt    string

	CacheMaxEntries     int
	CacheMaxBytes       int64
	CacheTTLSeconds     int
	CacheRedisTTLHours  int
	SemanticMaxEntries  int
	SemanticThreshold   float64
	CacheHighValueToken int

	TokensPerMinute  int
	TokenBurst       int
	MaxConcurrency   int
	StageTimeoutMS   int
	BatchBudgetUSD   float64
	CleanupMaxAgeMin int

	LLMMaxFileSizeMB      int
	LLMMaxDurationSeconds int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	CORSAllowedOrigins []string

	RateLimitRPS   float64
	RateLimitBurst int

	QueueBatchingEnabled  bool
	QueueBatchSize        int
	QueueBatchFlushMS     int
	QueueBatchMaxInFlight int

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeoutMS:  getEnvInt("OPENAI_TIMEOUT_MS", 30000),
		OpenAIMaxRetries: getEnvInt("OPENAI_MAX_RETRIES", 2),
		DefaultModel:     getEnv("DESCRIBE_DEFAULT_MODEL", "gpt-4o-mini"),
		DefaultPrompt:    getEnv("DESCRIBE_DEFAULT_PROMPT", ""),

		CacheMaxEntries:     getEnvInt("CACHE_MAX_ENTRIES", 1000),
		CacheMaxBytes:       int64(getEnvInt("CACHE_MAX_BYTES", 64*1024*1024)),
		CacheTTLSeconds:     getEnvInt("CACHE_TTL_SECONDS", 3600),
		CacheRedisTTLHours:  getEnvInt("CACHE_REDIS_TTL_HOURS", 24),
		SemanticMaxEntries:  getEnvInt("SEMANTIC_CACHE_MAX_ENTRIES", 500),
		SemanticThreshold:   getEnvFloat("SEMANTIC_CACHE_THRESHOLD", 0.95),
		CacheHighValueToken: getEnvInt("CACHE_HIGH_VALUE_TOKENS", 1000),

		TokensPerMinute:  getEnvInt("COST_TOKENS_PER_MINUTE", 90000),
		TokenBurst:       getEnvInt("COST_TOKEN_BURST", 8000),
		MaxConcurrency:   getEnvInt("MAX_CHUNK_CONCURRENCY", 3),
		StageTimeoutMS:   getEnvInt("STAGE_TIMEOUT_MS", 120000),
		BatchBudgetUSD:   getEnvFloat("BATCH_BUDGET_USD", 1.0),
		CleanupMaxAgeMin: getEnvInt("JOB_CLEANUP_MAX_AGE_MINUTES", 24*60),

		LLMMaxFileSizeMB:      getEnvInt("LLM_MAX_FILE_SIZE_MB", 25),
		LLMMaxDurationSeconds: getEnvInt("LLM_MAX_DURATION_SECONDS", 180),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "vd_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "vd_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "vd_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		QueueBatchingEnabled:  getEnvBool("QUEUE_BATCHING_ENABLED", true),
		QueueBatchSize:        getEnvInt("QUEUE_BATCH_SIZE", 25),
		QueueBatchFlushMS:     getEnvInt("QUEUE_BATCH_FLUSH_MS", 200),
		QueueBatchMaxInFlight: getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
