package queue

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

// BatchEnqueuer is implemented by queue backends that support batched writes.
type BatchEnqueuer interface {
	Producer
	EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error
}

// BatchingConfig holds the batching producer knobs.
type BatchingConfig struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	MaxInFlight   int
}

func (c *BatchingConfig) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 25
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
}

// BatchingProducer coalesces enqueues into batched writes to the backend.
// Messages are grouped so that same-pipeline work lands adjacently, which
// keeps worker cache behavior predictable when a batch is drained in order.
type BatchingProducer struct {
	backend BatchEnqueuer
	config  BatchingConfig
	logger  *log.Logger

	requests  chan enqueueRequest
	inFlight  chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type enqueueRequest struct {
	message domain.QueueMessage
	result  chan error
}

func NewBatchingProducer(backend BatchEnqueuer, config BatchingConfig, logger *log.Logger) *BatchingProducer {
	config.applyDefaults()
	p := &BatchingProducer{
		backend:  backend,
		config:   config,
		logger:   logger,
		requests: make(chan enqueueRequest, config.MaxBatchSize*2),
		inFlight: make(chan struct{}, config.MaxInFlight),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *BatchingProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	request := enqueueRequest{message: message, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.backend.Enqueue(ctx, message)
	case p.requests <- request:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-request.result:
		return err
	}
}

// Close stops the batching loop. Pending requests are flushed first.
func (p *BatchingProducer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *BatchingProducer) loop() {
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	pending := make([]enqueueRequest, 0, p.config.MaxBatchSize)
	for {
		select {
		case <-p.done:
			p.flush(pending)
			return
		case request := <-p.requests:
			pending = append(pending, request)
			if len(pending) >= p.config.MaxBatchSize {
				p.flush(pending)
				pending = make([]enqueueRequest, 0, p.config.MaxBatchSize)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				p.flush(pending)
				pending = make([]enqueueRequest, 0, p.config.MaxBatchSize)
			}
		}
	}
}

func (p *BatchingProducer) flush(requests []enqueueRequest) {
	if len(requests) == 0 {
		return
	}
	batch := make([]enqueueRequest, len(requests))
	copy(batch, requests)

	sort.SliceStable(batch, func(i, j int) bool {
		return coalesceKey(batch[i].message) < coalesceKey(batch[j].message)
	})

	p.inFlight <- struct{}{}
	go func() {
		defer func() { <-p.inFlight }()

		messages := make([]domain.QueueMessage, len(batch))
		for i, request := range batch {
			messages[i] = request.message
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := p.backend.EnqueueBatch(ctx, messages)
		if err != nil && p.logger != nil {
			p.logger.Printf("batching producer flush failed size=%d err=%v", len(messages), err)
		}
		for _, request := range batch {
			request.result <- err
		}
	}()
}

func coalesceKey(message domain.QueueMessage) string {
	return string(message.Pipeline) + "|" + string(message.MediaType)
}
