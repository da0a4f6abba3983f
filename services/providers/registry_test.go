package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubProvider struct {
	name  string
	model string
}

func (s *stubProvider) Name() string      { return s.name }
func (s *stubProvider) ModelName() string { return s.model }
func (s *stubProvider) Infer(ctx context.Context, messages []Message, params map[string]interface{}, extraContext string) (*Result, error) {
	return &Result{Text: "ok", Model: s.model}, nil
}
func (s *stubProvider) HealthCheck(ctx context.Context) bool { return true }

func stubConstructor(name string) Constructor {
	return func(cfg ModuleConfig) (Provider, error) {
		return &stubProvider{name: name, model: cfg.ModelName}, nil
	}
}

func newTestRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry("openai", logger)
	r.Register("openai", stubConstructor("openai"))
	r.Register("gpt", stubConstructor("openai"))
	r.Register("anthropic", stubConstructor("anthropic"))
	r.RegisterEndpointMarker("openai", "openai")
	r.RegisterEndpointMarker("anthropic", "anthropic")
	r.RegisterModelPrefixes("openai", "gpt-", "text-", "davinci", "curie", "babbage", "ada")
	r.RegisterModelPrefixes("anthropic", "claude-")
	return r
}

func TestRegistry_RegisterResolve(t *testing.T) {
	r := NewRegistry("openai", zap.NewNop())

	_, ok := r.Resolve("openai")
	assert.False(t, ok)

	r.Register("OpenAI", stubConstructor("first"))

	ctor, ok := r.Resolve("OPENAI")
	require.True(t, ok, "lookup should ignore case")
	p, err := ctor(ModuleConfig{})
	require.NoError(t, err)
	assert.Equal(t, "first", p.Name())

	// Last registration wins
	r.Register("openai", stubConstructor("second"))
	ctor, ok = r.Resolve("openai")
	require.True(t, ok)
	p, _ = ctor(ModuleConfig{})
	assert.Equal(t, "second", p.Name())
}

func TestRegistry_ListAvailable(t *testing.T) {
	r := newTestRegistry(zap.NewNop())

	assert.Equal(t, []string{"anthropic", "gpt", "openai"}, r.ListAvailable())
}

func TestRegistry_Detect(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]interface{}
		want string
	}{
		{
			name: "endpoint marker",
			cfg:  map[string]interface{}{"endpoint_url": "https://api.openai.com/v1/chat/completions"},
			want: "openai",
		},
		{
			name: "endpoint marker beats model name",
			cfg: map[string]interface{}{
				"endpoint_url": "https://api.anthropic.com/v1/messages",
				"model_name":   "gpt-4",
			},
			want: "anthropic",
		},
		{
			name: "endpoint marker with unknown model",
			cfg: map[string]interface{}{
				"endpoint_url": "https://my-proxy.openai.internal/v1",
				"model_name":   "custom-model",
			},
			want: "openai",
		},
		{
			name: "endpoint marker is case insensitive",
			cfg:  map[string]interface{}{"endpoint_url": "HTTPS://API.ANTHROPIC.COM"},
			want: "anthropic",
		},
		{
			name: "model prefix",
			cfg:  map[string]interface{}{"model_name": "claude-3-haiku"},
			want: "anthropic",
		},
		{
			name: "model prefix is case insensitive",
			cfg:  map[string]interface{}{"model_name": "GPT-4o"},
			want: "openai",
		},
		{
			name: "legacy openai model",
			cfg:  map[string]interface{}{"model_name": "davinci-002"},
			want: "openai",
		},
		{
			name: "unknown endpoint falls through to model",
			cfg: map[string]interface{}{
				"endpoint_url": "https://llm.example.com",
				"model_name":   "text-embedding-3",
			},
			want: "openai",
		},
		{
			name: "nothing matches",
			cfg:  map[string]interface{}{"model_name": "llama-3"},
			want: "openai",
		},
		{
			name: "empty config",
			cfg:  nil,
			want: "openai",
		},
	}

	r := newTestRegistry(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Detect(ParseModuleConfig(tt.cfg)))
		})
	}
}

func TestRegistry_Detect_FallbackWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := newTestRegistry(zap.New(core))

	got := r.Detect(ParseModuleConfig(map[string]interface{}{"model_name": "mistral-large"}))

	assert.Equal(t, "openai", got)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "could not detect provider, using default", logs.All()[0].Message)
}

func TestRegistry_Detect_MatchDoesNotWarn(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := newTestRegistry(zap.New(core))

	r.Detect(ParseModuleConfig(map[string]interface{}{"model_name": "gpt-4"}))

	assert.Equal(t, 0, logs.Len())
}

func TestRegistry_Detect_DefaultWithoutConstructor(t *testing.T) {
	r := NewRegistry("mistral", zap.NewNop())
	r.Register("openai", stubConstructor("openai"))

	name := r.Detect(ParseModuleConfig(map[string]interface{}{"model_name": "custom"}))
	assert.Equal(t, "mistral", name)

	_, ok := r.Resolve(name)
	assert.False(t, ok)
}

func TestProviderError(t *testing.T) {
	cause := assert.AnError
	err := NewProviderError("openai", "rate_limit_exceeded", "Rate limited", 429, true, cause)

	assert.Equal(t, "Rate limited: "+cause.Error(), err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(assert.AnError))
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(500))
	assert.True(t, RetryableStatus(503))
	assert.True(t, RetryableStatus(429))
	assert.False(t, RetryableStatus(400))
	assert.False(t, RetryableStatus(404))
}
