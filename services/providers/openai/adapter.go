// Package openai talks to any endpoint implementing the OpenAI chat
// completions API. It carries masked text only, and asks the endpoint not
// to retain it.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/privacy-shield/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 1 << 20

	chatCompletionsPath = "/chat/completions"
	modelsPath          = "/models"
)

// OpenAIAdapter implements the Provider interface for OpenAI-compatible endpoints
type OpenAIAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

var _ providers.Provider = (*OpenAIAdapter)(nil)

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &OpenAIAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// ChatCompletion sends one chat completion. 5xx and 429 answers and
// transport failures are retried up to MaxRetries times.
func (a *OpenAIAdapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	if req == nil || req.Model == "" {
		return nil, a.fail("INVALID_MODEL", "model is required", http.StatusBadRequest, false, nil)
	}
	started := time.Now()

	payload, err := json.Marshal(newWireRequest(req))
	if err != nil {
		return nil, a.fail("MARSHAL_ERROR", "failed to encode request", 0, false, err)
	}

	status, body, err := a.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, a.statusError(status, body)
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, a.fail("UNMARSHAL_ERROR", "failed to decode response", status, false, err)
	}
	return wire.toChatResponse(a.Name(), req.Metadata, time.Since(started)), nil
}

// post sends payload, retrying retryable outcomes, and returns the status
// and body of the final answer
func (a *OpenAIAdapter) post(ctx context.Context, payload []byte) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.backoff(ctx, attempt); err != nil {
				return 0, nil, err
			}
		}

		httpReq, err := a.newRequest(ctx, http.MethodPost, chatCompletionsPath, payload)
		if err != nil {
			return 0, nil, a.fail("REQUEST_ERROR", "failed to build request", 0, false, err)
		}

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			lastErr = a.fail("HTTP_ERROR", "request failed", 0, true, err)
			if ctx.Err() != nil {
				return 0, nil, lastErr
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			return 0, nil, a.fail("READ_ERROR", "failed to read response", resp.StatusCode, false, readErr)
		}

		if retryableStatus(resp.StatusCode) && attempt < a.config.MaxRetries {
			lastErr = a.statusError(resp.StatusCode, body)
			continue
		}
		return resp.StatusCode, body, nil
	}
	return 0, nil, lastErr
}

func (a *OpenAIAdapter) backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(a.config.RetryDelay * time.Duration(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return a.fail("CANCELLED", "request cancelled", 0, false, ctx.Err())
	}
}

// IsAvailable checks if the provider is currently available
func (a *OpenAIAdapter) IsAvailable(ctx context.Context) bool {
	req, err := a.newRequest(ctx, http.MethodGet, modelsPath, nil)
	if err != nil {
		return false
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (a *OpenAIAdapter) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}

	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}
	if a.config.OrgID != "" {
		req.Header.Set("OpenAI-Organization", a.config.OrgID)
	}
	return req, nil
}

// statusError turns a non-200 answer into a ProviderError. Only the error
// type is kept from the body; its message may quote the request.
func (a *OpenAIAdapter) statusError(status int, body []byte) error {
	var envelope wireErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Type == "" {
		return a.fail("UNKNOWN_ERROR", fmt.Sprintf("unexpected status %d", status), status, retryableStatus(status), nil)
	}
	return a.fail(envelope.Error.Type,
		fmt.Sprintf("provider error %s (status %d)", envelope.Error.Type, status),
		status, retryableStatus(status), nil)
}

func (a *OpenAIAdapter) fail(code, message string, status int, retryable bool, cause error) *providers.ProviderError {
	return providers.NewProviderError(a.Name(), code, message, status, retryable, cause)
}

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// Wire format of the chat completions API

type wireRequest struct {
	Model          string          `json:"model"`
	Messages       []wireMessage   `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Store          bool            `json:"store"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// newWireRequest maps a ChatRequest onto the wire. Metadata stays local and
// store is always false.
func newWireRequest(req *providers.ChatRequest) *wireRequest {
	out := &wireRequest{
		Model:    req.Model,
		Messages: make([]wireMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		out.MaxTokens = &n
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if req.JSONMode {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}

type wireResponse struct {
	ID      string       `json:"id"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

func (w *wireResponse) toChatResponse(provider string, metadata map[string]string, latency time.Duration) *providers.ChatResponse {
	resp := &providers.ChatResponse{
		ID:       w.ID,
		Model:    w.Model,
		Provider: provider,
		Choices:  make([]providers.Choice, 0, len(w.Choices)),
		Usage: providers.Usage{
			PromptTokens:     w.Usage.PromptTokens,
			CompletionTokens: w.Usage.CompletionTokens,
			TotalTokens:      w.Usage.TotalTokens,
		},
		Latency:  latency,
		Created:  time.Unix(w.Created, 0),
		Metadata: metadata,
	}
	for _, c := range w.Choices {
		resp.Choices = append(resp.Choices, providers.Choice{
			Index:        c.Index,
			Message:      providers.Message{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: c.FinishReason,
		})
	}
	return resp
}

type wireErrorEnvelope struct {
	Error struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"error"`
}
