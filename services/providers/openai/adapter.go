package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/services/providers"
)

const (
	// ProviderName is the registry name of this provider
	ProviderName = "openai"

	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-3.5-turbo"
	defaultSystemPrompt = "You are a helpful assistant."
	defaultMaxTokens    = 500
	defaultTemperature  = 0.7
	defaultTopP         = 0.9
	maxTemperature      = 2.0
)

// Options holds the process-wide OpenAI settings shared by every project
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Adapter implements providers.Provider on top of the OpenAI chat completions API
type Adapter struct {
	client   *goopenai.Client
	module   providers.ModuleConfig
	sampling providers.Sampling
	logger   *zap.Logger
}

// NewConstructor returns a registry constructor that builds adapters with opts
func NewConstructor(opts Options, logger *zap.Logger) providers.Constructor {
	return func(cfg providers.ModuleConfig) (providers.Provider, error) {
		return NewAdapter(opts, cfg, logger)
	}
}

// NewAdapter creates a new OpenAI adapter for one module configuration
func NewAdapter(opts Options, cfg providers.ModuleConfig, logger *zap.Logger) (*Adapter, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is not configured")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := goopenai.DefaultConfig(opts.APIKey)
	clientCfg.BaseURL = opts.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	cfg.Kind = providers.KindOpenAI
	a := &Adapter{
		client: goopenai.NewClientWithConfig(clientCfg),
		module: cfg,
		sampling: cfg.SamplingDefaults(providers.Sampling{
			Model:       defaultModel,
			MaxTokens:   defaultMaxTokens,
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
		}),
		logger: logger.With(zap.String("provider", ProviderName)),
	}

	a.logger.Info("initialized openai provider",
		zap.String("model", a.sampling.Model),
		zap.Int("max_tokens", a.sampling.MaxTokens),
		zap.Float64("temperature", a.sampling.Temperature),
	)
	return a, nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return ProviderName
}

// ModelName returns the configured model
func (a *Adapter) ModelName() string {
	return a.sampling.Model
}

// Infer performs a chat completion request
func (a *Adapter) Infer(ctx context.Context, messages []providers.Message, params map[string]interface{}, extraContext string) (*providers.Result, error) {
	sampling, rejected := a.sampling.WithOverrides(params, maxTemperature)
	if len(rejected) > 0 {
		a.logger.Warn("ignoring out of range parameters", zap.Strings("parameters", rejected))
	}

	req := goopenai.ChatCompletionRequest{
		Model:       sampling.Model,
		Messages:    a.buildMessages(messages, extraContext),
		MaxTokens:   sampling.MaxTokens,
		Temperature: float32(sampling.Temperature),
		TopP:        float32(sampling.TopP),
	}

	a.logger.Debug("starting openai inference",
		zap.String("model", req.Model),
		zap.Int("messages_count", len(req.Messages)),
		zap.Int("max_tokens", req.MaxTokens),
	)

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, a.convertError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, providers.NewProviderError(ProviderName, "EMPTY_RESPONSE", "empty response from openai", http.StatusOK, false, nil)
	}

	tokens := resp.Usage.TotalTokens
	return &providers.Result{
		Text:       resp.Choices[0].Message.Content,
		Model:      sampling.Model,
		TokensUsed: &tokens,
		Metadata: map[string]interface{}{
			"provider":      ProviderName,
			"temperature":   sampling.Temperature,
			"top_p":         sampling.TopP,
			"max_tokens":    sampling.MaxTokens,
			"finish_reason": string(resp.Choices[0].FinishReason),
		},
	}, nil
}

// HealthCheck sends a one-token completion to verify credentials and model access
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	_, err := a.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     a.sampling.Model,
		Messages:  []goopenai.ChatCompletionMessage{{Role: goopenai.ChatMessageRoleUser, Content: "test"}},
		MaxTokens: 1,
	})
	if err != nil {
		a.logger.Error("openai health check failed", zap.String("model", a.sampling.Model), zap.Error(err))
		return false
	}
	return true
}

// buildMessages prepends the system prompt, with any extra context, to the conversation
func (a *Adapter) buildMessages(messages []providers.Message, extraContext string) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	out = append(out, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: a.module.SystemPromptWith(defaultSystemPrompt, extraContext),
	})
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// convertError maps go-openai errors to provider errors
func (a *Adapter) convertError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(
			ProviderName,
			apiErr.Type,
			apiErr.Message,
			apiErr.HTTPStatusCode,
			providers.RetryableStatus(apiErr.HTTPStatusCode),
			err,
		)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return providers.NewProviderError(
			ProviderName,
			"REQUEST_ERROR",
			fmt.Sprintf("openai request failed with status %d", reqErr.HTTPStatusCode),
			reqErr.HTTPStatusCode,
			providers.RetryableStatus(reqErr.HTTPStatusCode),
			err,
		)
	}

	return providers.NewProviderError(ProviderName, "HTTP_ERROR", "openai request failed", 0, true, err)
}
