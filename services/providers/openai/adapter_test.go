package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/services/providers"
)

func newTestServer(t *testing.T, handler func(t *testing.T, req goopenai.ChatCompletionRequest) (int, interface{})) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req goopenai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		status, body := handler(t, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func completion(model, content string) goopenai.ChatCompletionResponse {
	return goopenai.ChatCompletionResponse{
		ID:      "chatcmpl-test123",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []goopenai.ChatCompletionChoice{
			{
				Index:        0,
				Message:      goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: content},
				FinishReason: goopenai.FinishReasonStop,
			},
		},
		Usage: goopenai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

func apiError(message, errType string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{"message": message, "type": errType},
	}
}

func newAdapter(t *testing.T, baseURL string, raw map[string]interface{}) *Adapter {
	t.Helper()
	a, err := NewAdapter(Options{APIKey: "test-key", BaseURL: baseURL, Timeout: 5 * time.Second}, providers.ParseModuleConfig(raw), zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestNewAdapter(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		_, err := NewAdapter(Options{}, providers.ModuleConfig{}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("module defaults", func(t *testing.T) {
		a := newAdapter(t, "http://localhost", nil)
		assert.Equal(t, "openai", a.Name())
		assert.Equal(t, "gpt-3.5-turbo", a.ModelName())
		assert.Equal(t, providers.KindOpenAI, a.module.Kind)
		assert.Equal(t, providers.Sampling{Model: "gpt-3.5-turbo", MaxTokens: 500, Temperature: 0.7, TopP: 0.9}, a.sampling)
	})

	t.Run("module overrides", func(t *testing.T) {
		a := newAdapter(t, "http://localhost", map[string]interface{}{"model_name": "gpt-4", "max_tokens": 100.0})
		assert.Equal(t, "gpt-4", a.ModelName())
		assert.Equal(t, 100, a.sampling.MaxTokens)
	})
}

func TestAdapter_Infer(t *testing.T) {
	server, calls := newTestServer(t, func(t *testing.T, req goopenai.ChatCompletionRequest) (int, interface{}) {
		require.Len(t, req.Messages, 2)
		assert.Equal(t, goopenai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, "You are terse.\n\nAdditional Context:\nuser speaks french", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "Hello", req.Messages[1].Content)
		assert.Equal(t, "gpt-4", req.Model)
		assert.Equal(t, 64, req.MaxTokens)
		assert.InDelta(t, 0.7, req.Temperature, 0.0001, "out of range temperature keeps module value")
		return http.StatusOK, completion(req.Model, "Bonjour")
	})

	a := newAdapter(t, server.URL, map[string]interface{}{"model_name": "gpt-4", "system_prompt": "You are terse."})

	result, err := a.Infer(context.Background(),
		[]providers.Message{{Role: "user", Content: "Hello"}},
		map[string]interface{}{"max_tokens": 64.0, "temperature": 3.0},
		"user speaks french",
	)

	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "Bonjour", result.Text)
	assert.Equal(t, "gpt-4", result.Model)
	require.NotNil(t, result.TokensUsed)
	assert.Equal(t, 30, *result.TokensUsed)
	assert.Equal(t, "openai", result.Metadata["provider"])
	assert.Equal(t, "stop", result.Metadata["finish_reason"])
	assert.Equal(t, 64, result.Metadata["max_tokens"])
	assert.Equal(t, 0.7, result.Metadata["temperature"])
}

func TestAdapter_Infer_ModelOverride(t *testing.T) {
	server, _ := newTestServer(t, func(t *testing.T, req goopenai.ChatCompletionRequest) (int, interface{}) {
		return http.StatusOK, completion(req.Model, "ok")
	})
	a := newAdapter(t, server.URL, map[string]interface{}{"model_name": "gpt-3.5-turbo"})

	result, err := a.Infer(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, map[string]interface{}{"model": "gpt-4o"}, "")

	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", result.Model)
	assert.Equal(t, "gpt-3.5-turbo", a.ModelName(), "per-call override must not change the instance")
}

func TestAdapter_Infer_EmptyResponse(t *testing.T) {
	server, _ := newTestServer(t, func(t *testing.T, req goopenai.ChatCompletionRequest) (int, interface{}) {
		return http.StatusOK, completion(req.Model, "")
	})
	a := newAdapter(t, server.URL, nil)

	_, err := a.Infer(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, nil, "")

	var provErr *providers.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "EMPTY_RESPONSE", provErr.Code)
}

func TestAdapter_Infer_APIError(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, func(t *testing.T, req goopenai.ChatCompletionRequest) (int, interface{}) {
				return tt.status, apiError("something went wrong", "invalid_request_error")
			})
			a := newAdapter(t, server.URL, nil)

			_, err := a.Infer(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, nil, "")

			var provErr *providers.ProviderError
			require.True(t, errors.As(err, &provErr))
			assert.Equal(t, "openai", provErr.Provider)
			assert.Equal(t, tt.status, provErr.StatusCode)
			assert.Equal(t, tt.wantRetryable, provErr.Retryable)
		})
	}
}

func TestAdapter_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server, _ := newTestServer(t, func(t *testing.T, req goopenai.ChatCompletionRequest) (int, interface{}) {
			assert.Equal(t, 1, req.MaxTokens)
			assert.Equal(t, "gpt-4", req.Model)
			return http.StatusOK, completion(req.Model, "o")
		})
		a := newAdapter(t, server.URL, map[string]interface{}{"model_name": "gpt-4"})

		assert.True(t, a.HealthCheck(context.Background()))
	})

	t.Run("unauthorized", func(t *testing.T) {
		server, _ := newTestServer(t, func(t *testing.T, req goopenai.ChatCompletionRequest) (int, interface{}) {
			return http.StatusUnauthorized, apiError("invalid api key", "invalid_request_error")
		})
		a := newAdapter(t, server.URL, nil)

		assert.False(t, a.HealthCheck(context.Background()))
	})

	t.Run("unreachable", func(t *testing.T) {
		a := newAdapter(t, "http://127.0.0.1:1", nil)

		assert.False(t, a.HealthCheck(context.Background()))
	})
}

func TestNewConstructor(t *testing.T) {
	ctor := NewConstructor(Options{APIKey: "test-key"}, zap.NewNop())

	p, err := ctor(providers.ParseModuleConfig(map[string]interface{}{"model_name": "gpt-4"}))

	require.NoError(t, err)
	assert.Equal(t, "gpt-4", p.ModelName())
}
