package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

func TestLocalQueueDeadLettersNonRetryableErrorsImmediately(t *testing.T) {
	q := NewLocalQueue(8, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	go q.Consume(ctx, func(_ context.Context, _ domain.QueueMessage) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return &domain.ValidationError{Field: "input_ref", Reason: "media not found in storage"}
	})

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "bad-input"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.DLQSize() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if q.DLQSize() != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", q.DLQSize())
	}

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Fatalf("non-retryable error must not be redelivered, got %d handler calls", got)
	}

	letters := q.DeadLetters()
	if letters[0].Message.JobID != "bad-input" {
		t.Fatalf("unexpected dead letter %+v", letters[0])
	}
	if !strings.Contains(letters[0].Reason, "validation failed") {
		t.Fatalf("dead letter must carry the failure reason, got %q", letters[0].Reason)
	}
}
