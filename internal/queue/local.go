package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

// LocalQueue is the in-process delivery path used when Redis Streams is
// not configured. It mirrors the streams queue's semantics for describe
// jobs: transient handler failures are redelivered with a growing delay,
// while failures the error taxonomy marks final go straight to the
// dead-letter slice without burning redelivery attempts.
type LocalQueue struct {
	messages    chan domain.QueueMessage
	maxAttempts int
	logger      *log.Logger

	dlqMu sync.Mutex
	dlq   []DeadLetter
}

// DeadLetter is a message the queue gave up on, with the error that
// exhausted it.
type DeadLetter struct {
	Message domain.QueueMessage
	Reason  string
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalQueue{
		messages:    make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger,
		dlq:         make([]DeadLetter, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.messages <- message:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// Consume delivers messages to the handler until the context ends. A
// handler error is consulted against the domain error taxonomy: errors
// that cannot succeed on a rerun dead-letter immediately, everything
// else is redelivered up to the attempt budget.
func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.messages:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			if !domain.Retryable(err) {
				q.deadLetter(message, err)
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.deadLetter(message, err)
				continue
			}
			q.redeliver(ctx, message)
		}
	}
}

func (q *LocalQueue) deadLetter(message domain.QueueMessage, cause error) {
	q.dlqMu.Lock()
	q.dlq = append(q.dlq, DeadLetter{Message: message, Reason: cause.Error()})
	q.dlqMu.Unlock()
	if q.logger != nil {
		q.logger.Printf("local queue moved message to DLQ job_id=%s attempt=%d err=%v", message.JobID, message.Attempt, cause)
	}
}

func (q *LocalQueue) redeliver(ctx context.Context, message domain.QueueMessage) {
	delay := time.Duration(message.Attempt) * 500 * time.Millisecond
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			q.messages <- message
		}
	}()
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

// DeadLetters returns a snapshot of the dead-letter slice.
func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	letters := make([]DeadLetter, len(q.dlq))
	copy(letters, q.dlq)
	return letters
}
