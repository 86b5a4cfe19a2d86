package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/orchestrator"
	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/queue"
)

// Processor consumes queued describe jobs and drives them to completion.
type Processor struct {
	consumer     queue.Consumer
	orchestrator *orchestrator.Orchestrator
	logger       *log.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	orch *orchestrator.Orchestrator,
	logger *log.Logger,
) *Processor {
	return &Processor{
		consumer:     consumer,
		orchestrator: orch,
		logger:       logger,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("worker consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	started := time.Now()
	result, err := p.orchestrator.RunJob(ctx, message.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			if p.logger != nil {
				p.logger.Printf("worker dropping message for unknown job job_id=%s", message.JobID)
			}
			return nil
		}
		return fmt.Errorf("run job %s: %w", message.JobID, err)
	}

	if result.Status == domain.JobStateFailed {
		code := ""
		reason := ""
		if result.Error != nil {
			code = result.Error.Code
			reason = result.Error.Message
		}
		if p.logger != nil {
			p.logger.Printf("job failed job_id=%s pipeline=%s code=%s reason=%s", message.JobID, result.Pipeline, code, reason)
		}
		// The job is in its terminal failed state and the envelope is
		// recorded on it. Redelivering the message would not change the
		// outcome: failed is final, and a retry is a new submission.
		return nil
	}

	if p.logger != nil {
		p.logger.Printf("job processed job_id=%s pipeline=%s elapsed=%s", message.JobID, result.Pipeline, time.Since(started).Round(time.Millisecond))
	}
	return nil
}
