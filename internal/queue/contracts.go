package queue

import (
	"context"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

// Producer sends async describe jobs to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives async describe jobs and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
