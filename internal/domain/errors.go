package domain

import (
	"errors"
	"fmt"
)

var ErrJobNotFound = errors.New("job not found")

// ValidationError marks a malformed or unsupported request. It is never
// retried and is surfaced immediately to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// ExternalServiceError wraps a failure from a collaborator backend,
// including timeouts and rate-limit rejections.
type ExternalServiceError struct {
	Service   string
	Retryable bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s backend error: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// BudgetExceededError marks a batch item skipped because accepting it
// would overflow the configured budget. RemainingUSD is what was left of
// the budget when the item was rejected. It is reported in the batch
// summary, not thrown where a partial result is expected.
type BudgetExceededError struct {
	RemainingUSD float64
	AttemptedUSD float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: request cost %.6f over remaining budget %.6f", e.AttemptedUSD, e.RemainingUSD)
}

// ResourceExhaustionError marks a cache or memory bound that eviction
// could not resolve.
type ResourceExhaustionError struct {
	Resource string
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("resource exhausted: %s", e.Resource)
}

// Retryable reports whether redelivering the work that produced err can
// help. Validation and budget failures are final no matter how often they
// run; external service failures carry their own retryable flag. Errors
// outside the taxonomy are assumed transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var budget *BudgetExceededError
	if errors.As(err, &budget) {
		return false
	}
	var external *ExternalServiceError
	if errors.As(err, &external) {
		return external.Retryable
	}
	return true
}

// ErrorInfoFrom converts any error into the structured payload attached
// to failed jobs, classifying it by the taxonomy above.
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return &ErrorInfo{Code: "validation_error", Message: validation.Error()}
	}

	var external *ExternalServiceError
	if errors.As(err, &external) {
		return &ErrorInfo{
			Code:    "external_service_error",
			Message: external.Error(),
			Details: fmt.Sprintf("service=%s retryable=%t", external.Service, external.Retryable),
		}
	}

	var budget *BudgetExceededError
	if errors.As(err, &budget) {
		return &ErrorInfo{Code: "budget_exceeded", Message: budget.Error()}
	}

	var exhaustion *ResourceExhaustionError
	if errors.As(err, &exhaustion) {
		return &ErrorInfo{Code: "resource_exhausted", Message: exhaustion.Error()}
	}

	return &ErrorInfo{Code: "processing_error", Message: err.Error()}
}
