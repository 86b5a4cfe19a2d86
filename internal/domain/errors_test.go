package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestBudgetErrorReportsRemainingBudget(t *testing.T) {
	err := &BudgetExceededError{RemainingUSD: 0.25, AttemptedUSD: 1.5}
	message := err.Error()
	if !strings.Contains(message, "remaining budget 0.25") {
		t.Fatalf("expected the remaining budget in the message, got %q", message)
	}
	if !strings.Contains(message, "request cost 1.5") {
		t.Fatalf("expected the attempted cost in the message, got %q", message)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", &ValidationError{Field: "input_ref", Reason: "missing"}, false},
		{"budget", &BudgetExceededError{RemainingUSD: 0, AttemptedUSD: 1}, false},
		{"external retryable", &ExternalServiceError{Service: "llm", Retryable: true, Err: errors.New("throttled")}, true},
		{"external final", &ExternalServiceError{Service: "llm", Retryable: false, Err: errors.New("quota")}, false},
		{"wrapped validation", fmt.Errorf("analyze chunk 0: %w", &ValidationError{Field: "prompt", Reason: "empty"}), false},
		{"plain", errors.New("connection reset"), true},
	}

	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable = %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestErrorInfoFromClassifiesTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{&ValidationError{Field: "pipeline", Reason: "unknown"}, "validation_error"},
		{&ExternalServiceError{Service: "vision", Err: errors.New("timeout")}, "external_service_error"},
		{&BudgetExceededError{RemainingUSD: 0.1, AttemptedUSD: 2}, "budget_exceeded"},
		{&ResourceExhaustionError{Resource: "cache"}, "resource_exhausted"},
		{errors.New("anything else"), "processing_error"},
	}
	for _, tc := range cases {
		info := ErrorInfoFrom(tc.err)
		if info == nil || info.Code != tc.code {
			t.Fatalf("ErrorInfoFrom(%v) = %+v, want code %s", tc.err, info, tc.code)
		}
	}
	if ErrorInfoFrom(nil) != nil {
		t.Fatal("nil error must map to nil info")
	}
}
