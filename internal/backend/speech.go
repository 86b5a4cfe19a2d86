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

type OpenAISpeechConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Voice      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAISpeechClient implements SpeechSynthesizer over an OpenAI-style
// audio/speech API.
type OpenAISpeechClient struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewOpenAISpeechClient(config OpenAISpeechConfig) *OpenAISpeechClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "tts-1"
	}
	if strings.TrimSpace(config.Voice) == "" {
		config.Voice = "alloy"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &OpenAISpeechClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		voice:      config.Voice,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (c *OpenAISpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "text", Reason: "text is required"}
	}
	if c.apiKey == "" {
		return nil, &domain.ExternalServiceError{
			Service: "speech-synthesizer",
			Err:     errors.New("speech backend unavailable"),
		}
	}

	payload := map[string]any{
		"model": c.model,
		"voice": c.voice,
		"input": text,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal speech payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create speech request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, &domain.ExternalServiceError{
			Service:   "speech-synthesizer",
			Retryable: true,
			Err:       fmt.Errorf("speech backend transport error: %w", err),
		}
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, &domain.ExternalServiceError{
			Service:   "speech-synthesizer",
			Retryable: httpResponse.StatusCode == http.StatusTooManyRequests || httpResponse.StatusCode >= 500,
			Err:       fmt.Errorf("speech backend status %d: %s", httpResponse.StatusCode, message),
		}
	}

	if len(body) == 0 {
		return nil, errors.New("speech backend returned empty audio")
	}
	return body, nil
}
