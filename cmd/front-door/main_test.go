package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestInitLogger(t *testing.T) {
	t.Run("default json logger", func(t *testing.T) {
		t.Setenv("FD_LOG_LEVEL", "info")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("development console logger", func(t *testing.T) {
		t.Setenv("FD_LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "console")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("falls back to LOG_LEVEL", func(t *testing.T) {
		t.Setenv("FD_LOG_LEVEL", "")
		t.Setenv("LOG_LEVEL", "invalid")

		logger, err := initLogger()
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("defaults when not set", func(t *testing.T) {
		t.Setenv("FD_LOG_LEVEL", "")
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("LOG_FORMAT", "")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})
}

func setupEnv(t *testing.T) {
	t.Helper()

	tower := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/manifests":
			_, _ = w.Write([]byte(`{"manifests":[],"total":0}`))
		case "/manifests/demo":
			_, _ = w.Write([]byte(`{
				"project_id": "demo",
				"project_name": "Demo",
				"version": "1.0.0",
				"owner": "team-a",
				"modules": [{
					"module_type": "inference_endpoint",
					"name": "llm",
					"status": "enabled",
					"config": {"model_name": "gpt-4o-mini"}
				}]
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(tower.Close)

	openai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(goopenai.ChatCompletionResponse{
			Model: "gpt-4o-mini",
			Choices: []goopenai.ChatCompletionChoice{{
				Message: goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: "hello from the model"},
			}},
			Usage: goopenai.Usage{TotalTokens: 7},
		})
	}))
	t.Cleanup(openai.Close)

	t.Setenv("FD_HOST", "127.0.0.1")
	t.Setenv("FD_PORT", "0")
	t.Setenv("FD_API_KEY", "front-door-key")
	t.Setenv("CONTROL_TOWER_BASE_URL", tower.URL)
	t.Setenv("CONTROL_TOWER_SUPERUSER_KEY", "superuser")
	t.Setenv("CONTROL_TOWER_MAX_RETRIES", "1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", openai.URL)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "2s")
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	setupEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, zaptest.NewLogger(t), ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run returned before serving: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health["status"])

	req, err := http.NewRequest(http.MethodPost, base+"/inference",
		strings.NewReader(`{"project_id":"demo","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer front-door-key")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, result)
	assert.Equal(t, "hello from the model", result["response"])
	assert.Equal(t, "gpt-4o-mini", result["model_used"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("CONTROL_TOWER_SUPERUSER_KEY", "")

	err := run(context.Background(), zaptest.NewLogger(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONTROL_TOWER_SUPERUSER_KEY is required")
}
