package cost

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

type BatchRequest struct {
	ID           string  `json:"id"`
	Prompt       string  `json:"prompt"`
	Model        string  `json:"model"`
	Priority     int     `json:"priority"`
	EstimatedUSD float64 `json:"estimated_usd"`
}

type BatchItemResult struct {
	ID       string          `json:"id"`
	Value    json.RawMessage `json:"value,omitempty"`
	Error    string          `json:"error,omitempty"`
	CostUSD  float64         `json:"cost_usd"`
	Accepted bool            `json:"accepted"`
}

type BatchSummary struct {
	Processed    []BatchItemResult `json:"processed"`
	Skipped      []BatchItemResult `json:"skipped"`
	TotalCostUSD float64           `json:"total_cost_usd"`
}

// Results returns processed items keyed by request ID.
func (s BatchSummary) Results() map[string]BatchItemResult {
	byID := make(map[string]BatchItemResult, len(s.Processed))
	for _, item := range s.Processed {
		byID[item.ID] = item
	}
	return byID
}

type BatchOptions struct {
	BudgetUSD      float64
	MaxConcurrency int
}

// BatchProcessor performs the real backend call for one accepted request.
type BatchProcessor func(ctx context.Context, request BatchRequest) (json.RawMessage, error)

// Batch admits requests into the budget greedily, ordered by priority
// (descending) with ties broken by arrival order, and stops admitting at
// the first request the remaining budget cannot cover. Skipped requests
// are exactly the suffix past that point, each annotated with a budget
// error. Accepted requests run under a bounded-concurrency semaphore.
func (o *Optimizer) Batch(
	ctx context.Context,
	requests []BatchRequest,
	processor BatchProcessor,
	options BatchOptions,
) BatchSummary {
	if options.MaxConcurrency <= 0 {
		options.MaxConcurrency = 4
	}

	ordered := make([]BatchRequest, len(requests))
	copy(ordered, requests)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	summary := BatchSummary{
		Processed: make([]BatchItemResult, 0, len(ordered)),
		Skipped:   make([]BatchItemResult, 0),
	}

	accepted := make([]BatchRequest, 0, len(ordered))
	remaining := options.BudgetUSD
	admitting := true
	for _, request := range ordered {
		if admitting && request.EstimatedUSD <= remaining {
			accepted = append(accepted, request)
			remaining -= request.EstimatedUSD
			continue
		}
		admitting = false
		budgetErr := &domain.BudgetExceededError{
			RemainingUSD: remaining,
			AttemptedUSD: request.EstimatedUSD,
		}
		summary.Skipped = append(summary.Skipped, BatchItemResult{
			ID:      request.ID,
			Error:   budgetErr.Error(),
			CostUSD: request.EstimatedUSD,
		})
	}

	if processor == nil || len(accepted) == 0 {
		for _, request := range accepted {
			summary.Processed = append(summary.Processed, BatchItemResult{
				ID:       request.ID,
				CostUSD:  request.EstimatedUSD,
				Accepted: true,
			})
			summary.TotalCostUSD += request.EstimatedUSD
		}
		return summary
	}

	results := make([]BatchItemResult, len(accepted))
	semaphore := make(chan struct{}, options.MaxConcurrency)
	var wg sync.WaitGroup
	for index, request := range accepted {
		wg.Add(1)
		go func(index int, request BatchRequest) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			item := BatchItemResult{
				ID:       request.ID,
				CostUSD:  request.EstimatedUSD,
				Accepted: true,
			}
			value, err := processor(ctx, request)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Value = value
			}
			results[index] = item
		}(index, request)
	}
	wg.Wait()

	for _, item := range results {
		summary.Processed = append(summary.Processed, item)
		summary.TotalCostUSD += item.CostUSD
	}
	return summary
}
