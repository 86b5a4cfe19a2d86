package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SHAFT-Foundation/voiceDescriptionAPI-sub006/internal/domain"
)

var ErrMeteredUnavailable = errors.New("metered analysis backend unavailable")

type OpenAIVisionConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// OpenAIVisionClient implements MeteredAnalyzer over an OpenAI-style
// chat-completions API. Retry policy lives here, not in the job state
// machine: retryable failures (429, 5xx, timeouts) back off and retry up
// to MaxRetries; everything else surfaces immediately.
type OpenAIVisionClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

func NewOpenAIVisionClient(config OpenAIVisionConfig) *OpenAIVisionClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &OpenAIVisionClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}
}

func (c *OpenAIVisionClient) Available() bool {
	return c.apiKey != ""
}

func (c *OpenAIVisionClient) Analyze(ctx context.Context, ref, prompt, model string) (MeteredAnalysis, error) {
	if !c.Available() {
		return MeteredAnalysis{}, &domain.ExternalServiceError{
			Service: "metered-analyzer",
			Err:     ErrMeteredUnavailable,
		}
	}
	if strings.TrimSpace(model) == "" {
		return MeteredAnalysis{}, &domain.ValidationError{Field: "model", Reason: "model is required"}
	}
	if strings.TrimSpace(prompt) == "" {
		return MeteredAnalysis{}, &domain.ValidationError{Field: "prompt", Reason: "prompt is required"}
	}

	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]string{"url": ref}},
				},
			},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return MeteredAnalysis{}, fmt.Errorf("marshal analysis payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, callErr := c.callChatCompletions(ctx, encoded, model)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if !isRetryable(callErr) || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(400*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return MeteredAnalysis{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown metered backend error")
	}
	return MeteredAnalysis{}, &domain.ExternalServiceError{
		Service:   "metered-analyzer",
		Retryable: isRetryable(lastErr),
		Err:       lastErr,
	}
}

func (c *OpenAIVisionClient) callChatCompletions(ctx context.Context, payload []byte, requestedModel string) (MeteredAnalysis, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return MeteredAnalysis{}, fmt.Errorf("create analysis request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return MeteredAnalysis{}, fmt.Errorf("metered backend timeout: %w", err)
		}
		return MeteredAnalysis{}, fmt.Errorf("metered backend transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return MeteredAnalysis{}, fmt.Errorf("read analysis body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return MeteredAnalysis{}, &backendHTTPError{
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	var raw chatCompletionsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return MeteredAnalysis{}, fmt.Errorf("decode analysis response: %w", err)
	}

	text := ""
	if len(raw.Choices) > 0 {
		text = strings.TrimSpace(raw.Choices[0].Message.Content)
	}
	if text == "" {
		return MeteredAnalysis{}, errors.New("metered backend response without text output")
	}

	modelID := strings.TrimSpace(raw.Model)
	if modelID == "" {
		modelID = requestedModel
	}

	return MeteredAnalysis{
		Text:             text,
		PromptTokens:     raw.Usage.PromptTokens,
		CompletionTokens: raw.Usage.CompletionTokens,
		ModelID:          modelID,
	}, nil
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type backendHTTPError struct {
	StatusCode int
	Message    string
}

func (e *backendHTTPError) Error() string {
	return fmt.Sprintf("metered backend status %d: %s", e.StatusCode, e.Message)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *backendHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}
