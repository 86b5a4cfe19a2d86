package queue

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

// StreamsConfig holds the Redis Streams queue knobs.
type StreamsConfig struct {
	Stream        string
	DLQStream     string
	Group         string
	ConsumerName  string
	MaxAttempts   int
	BlockDuration time.Duration
	ReadCount     int64
}

func (c *StreamsConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "vd_jobs"
	}
	if c.DLQStream == "" {
		c.DLQStream = "vd_jobs_dlq"
	}
	if c.Group == "" {
		c.Group = "vd_workers"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "worker-1"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = 5 * time.Second
	}
	if c.ReadCount <= 0 {
		c.ReadCount = 10
	}
}

// StreamsQueue is a durable queue on Redis Streams with consumer groups.
type StreamsQueue struct {
	client *redis.Client
	config StreamsConfig
	logger *log.Logger
}

func NewStreamsQueue(ctx context.Context, client *redis.Client, config StreamsConfig, logger *log.Logger) (*StreamsQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	config.applyDefaults()

	q := &StreamsQueue{client: client, config: config, logger: logger}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.config.Stream, q.config.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.config.Stream,
		Values: messageValues(message),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue to stream %s: %w", q.config.Stream, err)
	}
	return nil
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	pipe := q.client.Pipeline()
	for _, message := range messages {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.config.Stream,
			Values: messageValues(message),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue batch to stream %s: %w", q.config.Stream, err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.config.Group,
			Consumer: q.config.ConsumerName,
			Streams:  []string{q.config.Stream, ">"},
			Count:    q.config.ReadCount,
			Block:    q.config.BlockDuration,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			if q.logger != nil {
				q.logger.Printf("streams queue read error: %v", err)
			}
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, raw := range stream.Messages {
				q.handleMessage(ctx, raw, handler)
			}
		}
	}
}

func (q *StreamsQueue) handleMessage(ctx context.Context, raw redis.XMessage, handler func(context.Context, domain.QueueMessage) error) {
	message, err := parseStreamMessage(raw)
	if err != nil {
		if q.logger != nil {
			q.logger.Printf("streams queue dropping malformed message id=%s err=%v", raw.ID, err)
		}
		q.ack(ctx, raw.ID)
		return
	}

	if err := handler(ctx, message); err != nil {
		if !domain.Retryable(err) {
			q.sendToDLQ(ctx, message, err)
			q.ack(ctx, raw.ID)
			return
		}
		message.Attempt++
		if message.Attempt >= q.config.MaxAttempts {
			q.sendToDLQ(ctx, message, err)
		} else if enqueueErr := q.Enqueue(ctx, message); enqueueErr != nil && q.logger != nil {
			q.logger.Printf("streams queue retry enqueue failed job_id=%s err=%v", message.JobID, enqueueErr)
		}
	}
	q.ack(ctx, raw.ID)
}

func (q *StreamsQueue) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.config.Stream, q.config.Group, id).Err(); err != nil && q.logger != nil {
		q.logger.Printf("streams queue ack failed id=%s err=%v", id, err)
	}
	if err := q.client.XDel(ctx, q.config.Stream, id).Err(); err != nil && q.logger != nil {
		q.logger.Printf("streams queue delete failed id=%s err=%v", id, err)
	}
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, message domain.QueueMessage, cause error) {
	values := messageValues(message)
	values["failure_reason"] = cause.Error()
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.config.DLQStream,
		Values: values,
	}).Err()
	if err != nil && q.logger != nil {
		q.logger.Printf("streams queue DLQ enqueue failed job_id=%s err=%v", message.JobID, err)
		return
	}
	if q.logger != nil {
		q.logger.Printf("streams queue moved message to DLQ job_id=%s reason=%v", message.JobID, cause)
	}
}

func messageValues(message domain.QueueMessage) map[string]interface{} {
	return map[string]interface{}{
		"job_id":           message.JobID,
		"media_type":       string(message.MediaType),
		"input_ref":        message.InputRef,
		"pipeline":         string(message.Pipeline),
		"priority":         string(message.Priority),
		"size_bytes":       strconv.FormatInt(message.SizeBytes, 10),
		"duration_seconds": strconv.FormatFloat(message.DurationSeconds, 'f', -1, 64),
		"prompt":           message.Prompt,
		"attempt":          strconv.Itoa(message.Attempt),
		"requested_at":     message.RequestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(raw redis.XMessage) (domain.QueueMessage, error) {
	jobID := getString(raw.Values, "job_id")
	if jobID == "" {
		return domain.QueueMessage{}, fmt.Errorf("message %s missing job_id", raw.ID)
	}

	message := domain.QueueMessage{
		JobID:     jobID,
		MediaType: domain.MediaType(getString(raw.Values, "media_type")),
		InputRef:  getString(raw.Values, "input_ref"),
		Pipeline:  domain.Pipeline(getString(raw.Values, "pipeline")),
		Priority:  domain.Priority(getString(raw.Values, "priority")),
		Prompt:    getString(raw.Values, "prompt"),
	}

	if v := getString(raw.Values, "size_bytes"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.QueueMessage{}, fmt.Errorf("message %s invalid size_bytes: %w", raw.ID, err)
		}
		message.SizeBytes = size
	}
	if v := getString(raw.Values, "duration_seconds"); v != "" {
		duration, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.QueueMessage{}, fmt.Errorf("message %s invalid duration_seconds: %w", raw.ID, err)
		}
		message.DurationSeconds = duration
	}
	if v := getString(raw.Values, "attempt"); v != "" {
		attempt, err := strconv.Atoi(v)
		if err != nil {
			return domain.QueueMessage{}, fmt.Errorf("message %s invalid attempt: %w", raw.ID, err)
		}
		message.Attempt = attempt
	}
	if v := getString(raw.Values, "requested_at"); v != "" {
		requestedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return domain.QueueMessage{}, fmt.Errorf("message %s invalid requested_at: %w", raw.ID, err)
		}
		message.RequestedAt = requestedAt
	}

	return message, nil
}

func getString(values map[string]interface{}, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
