package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/upb/privacy-shield/services/providers"
)

func TestNewOpenAIAdapter(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key"})

	if adapter == nil {
		t.Fatal("NewOpenAIAdapter() returned nil")
	}

	if adapter.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", adapter.Name())
	}

	if adapter.config.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", adapter.config.BaseURL, defaultBaseURL)
	}

	if adapter.httpClient.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", adapter.httpClient.Timeout)
	}
}

func TestOpenAIAdapter_ChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}

		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("Authorization header missing or invalid")
		}

		body, _ := io.ReadAll(r.Body)
		var raw map[string]interface{}
		if err := json.Unmarshal(body, &raw); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		if store, ok := raw["store"].(bool); !ok || store {
			t.Errorf("store = %v, want explicit false", raw["store"])
		}
		if _, ok := raw["metadata"]; ok {
			t.Error("metadata must not be forwarded")
		}

		var req wireRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("Expected json_object response format")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-test123",
			"object": "chat.completion",
			"created": 1767225600,
			"model": "` + req.Model + `",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"semantic_risk\": false, \"risk_reason\": \"\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`))
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})

	req := &providers.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []providers.Message{
			{Role: "system", Content: "audit"},
			{Role: "user", Content: "[PERSON_A] met [PERSON_B]"},
		},
		MaxTokens: 100,
		JSONMode:  true,
		Metadata:  map[string]string{"event_id": "evt-1"},
	}

	resp, err := adapter.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}

	if resp.ID == "" {
		t.Error("Response ID is empty")
	}

	if resp.Provider != "openai" {
		t.Errorf("Provider = %s, want openai", resp.Provider)
	}

	content, err := resp.Content()
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	if !strings.Contains(content, "semantic_risk") {
		t.Errorf("Unexpected response content: %s", content)
	}

	if resp.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", resp.Usage.TotalTokens)
	}

	if resp.Metadata["event_id"] != "evt-1" {
		t.Error("Metadata should be kept on the local response")
	}
}

func TestOpenAIAdapter_ChatCompletion_MissingModel(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: "http://127.0.0.1:0"})

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{})
	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected ProviderError, got %T", err)
	}
	if provErr.Code != "INVALID_MODEL" {
		t.Errorf("Code = %s, want INVALID_MODEL", provErr.Code)
	}
}

func TestOpenAIAdapter_ChatCompletion_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)

		w.Write([]byte(`{"error": {"message": "Invalid request near '[PERSON_A]'", "type": "invalid_request_error", "code": "invalid_api_key"}}`))
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:  "invalid-key",
		BaseURL: server.URL,
	})

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []providers.Message{{Role: "user", Content: "test"}},
	})
	if err == nil {
		t.Fatal("Expected error but got none")
	}

	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected ProviderError, got %T", err)
	}

	if provErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want %d", provErr.StatusCode, http.StatusBadRequest)
	}

	if provErr.Retryable {
		t.Error("400 should not be retryable")
	}

	if strings.Contains(err.Error(), "PERSON_A") {
		t.Error("provider error message must not be echoed")
	}
}

func TestOpenAIAdapter_ChatCompletion_Retry(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)

		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Errorf("attempt %d sent an empty body", n)
		}

		switch n {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "chatcmpl-test123", "model": "gpt-4o-mini", "choices": [{"message": {"role": "assistant", "content": "Success after retry"}, "finish_reason": "stop"}]}`))
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	})

	resp, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []providers.Message{{Role: "user", Content: "test"}},
	})
	if err != nil {
		t.Fatalf("Expected success after retry, got error: %v", err)
	}

	if resp == nil {
		t.Fatal("Response is nil")
	}

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestOpenAIAdapter_ChatCompletion_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		BaseURL:    server.URL,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{Model: "gpt-4o-mini"})
	if err == nil {
		t.Fatal("Expected error but got none")
	}
	if !providers.IsRetryable(err) {
		t.Error("5xx should be retryable")
	}
}

func TestOpenAIAdapter_ChatCompletion_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.ChatCompletion(ctx, &providers.ChatRequest{Model: "gpt-4o-mini"})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestOpenAIAdapter_IsAvailable(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"data": []}`))
		}))
		defer server.Close()

		adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

		if !adapter.IsAvailable(context.Background()) {
			t.Error("Expected provider to be available")
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

		if adapter.IsAvailable(context.Background()) {
			t.Error("Expected provider to be unavailable")
		}
	})
}

func TestNewWireRequest(t *testing.T) {
	req := newWireRequest(&providers.ChatRequest{
		Model:       "gpt-4o-mini",
		Messages:    []providers.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.2,
	})

	if req.Model != "gpt-4o-mini" {
		t.Errorf("Model = %s", req.Model)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("Messages not converted: %+v", req.Messages)
	}
	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Error("Temperature not set")
	}
	if req.MaxTokens != nil {
		t.Error("MaxTokens should be omitted")
	}
	if req.ResponseFormat != nil {
		t.Error("ResponseFormat should be omitted without JSON mode")
	}
	if req.Store {
		t.Error("Store must be false")
	}
}

func TestOpenAIAdapter_ClientErrorNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		BaseURL:    server.URL,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{Model: "gpt-4o-mini"})
	if err == nil {
		t.Fatal("Expected error but got none")
	}
	if providers.IsRetryable(err) {
		t.Error("401 should not be retryable")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("Expected 1 attempt, got %d", got)
	}
}
