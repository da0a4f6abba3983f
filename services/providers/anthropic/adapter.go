package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/upb/dsp-front-door/services/providers"
)

const (
	// ProviderName is the registry name of this provider
	ProviderName = "anthropic"

	// DefaultVersion is the anthropic-version header sent with every request
	DefaultVersion = "2023-06-01"

	defaultBaseURL      = "https://api.anthropic.com"
	messagesPath        = "/v1/messages"
	defaultModel        = "claude-3-haiku-20240307"
	defaultSystemPrompt = "You are a helpful assistant."
	defaultMaxTokens    = 500
	defaultTemperature  = 0.7
	defaultTopP         = 0.9
	maxTemperature      = 1.0
)

// Options holds the process-wide Anthropic settings shared by every project
type Options struct {
	APIKey  string
	BaseURL string
	Version string
	Timeout time.Duration
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Adapter implements providers.Provider on top of the Anthropic Messages API
type Adapter struct {
	client   *resty.Client
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

// NewAdapter creates a new Anthropic adapter for one module configuration
func NewAdapter(opts Options, cfg providers.ModuleConfig, logger *zap.Logger) (*Adapter, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic api key is not configured")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("x-api-key", opts.APIKey).
		SetHeader("anthropic-version", opts.Version).
		SetHeader("Content-Type", "application/json")

	cfg.Kind = providers.KindAnthropic
	a := &Adapter{
		client: client,
		module: cfg,
		sampling: cfg.SamplingDefaults(providers.Sampling{
			Model:       defaultModel,
			MaxTokens:   defaultMaxTokens,
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
		}),
		logger: logger.With(zap.String("provider", ProviderName)),
	}
	if a.sampling.Temperature > maxTemperature {
		a.sampling.Temperature = maxTemperature
	}

	a.logger.Info("initialized anthropic provider",
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

// Infer sends the conversation to the Messages API
func (a *Adapter) Infer(ctx context.Context, messages []providers.Message, params map[string]interface{}, extraContext string) (*providers.Result, error) {
	sampling, rejected := a.sampling.WithOverrides(params, maxTemperature)
	if len(rejected) > 0 {
		a.logger.Warn("ignoring out of range parameters", zap.Strings("parameters", rejected))
	}

	req := a.buildRequest(messages, extraContext, sampling)

	a.logger.Debug("starting anthropic inference",
		zap.String("model", req.Model),
		zap.Int("messages_count", len(req.Messages)),
		zap.Int("max_tokens", req.MaxTokens),
	)

	out, err := a.send(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, providers.NewProviderError(ProviderName, "EMPTY_RESPONSE", "empty response from anthropic", http.StatusOK, false, nil)
	}

	tokens := out.Usage.InputTokens + out.Usage.OutputTokens
	return &providers.Result{
		Text:       text.String(),
		Model:      sampling.Model,
		TokensUsed: &tokens,
		Metadata: map[string]interface{}{
			"provider":      ProviderName,
			"temperature":   sampling.Temperature,
			"top_p":         sampling.TopP,
			"max_tokens":    sampling.MaxTokens,
			"finish_reason": out.StopReason,
			"message_id":    out.ID,
		},
	}, nil
}

// HealthCheck sends a one-token message to verify credentials and model access
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	_, err := a.send(ctx, messagesRequest{
		Model:     a.sampling.Model,
		Messages:  []message{{Role: "user", Content: "test"}},
		MaxTokens: 1,
	})
	if err != nil {
		a.logger.Error("anthropic health check failed", zap.String("model", a.sampling.Model), zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) send(ctx context.Context, req messagesRequest) (*messagesResponse, error) {
	var out messagesResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(messagesPath)
	if err != nil {
		return nil, providers.NewProviderError(ProviderName, "HTTP_ERROR", "anthropic request failed", 0, true, err)
	}
	if resp.IsError() {
		return nil, errorFromResponse(resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// buildRequest moves system messages into the top-level system field, which is
// where the Messages API expects them.
func (a *Adapter) buildRequest(messages []providers.Message, extraContext string, sampling providers.Sampling) messagesRequest {
	system := []string{a.module.SystemPromptWith(defaultSystemPrompt, extraContext)}
	conversation := make([]message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		conversation = append(conversation, message{Role: m.Role, Content: m.Content})
	}

	temperature := sampling.Temperature
	topP := sampling.TopP
	return messagesRequest{
		Model:       sampling.Model,
		Messages:    conversation,
		System:      strings.Join(system, "\n\n"),
		MaxTokens:   sampling.MaxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	}
}

func errorFromResponse(status int, body string) error {
	var parsed errorResponse
	code := "API_ERROR"
	message := strings.TrimSpace(body)
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed.Error.Message != "" {
		code = parsed.Error.Type
		message = parsed.Error.Message
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return providers.NewProviderError(
		ProviderName,
		code,
		fmt.Sprintf("anthropic returned status %d: %s", status, message),
		status,
		providers.RetryableStatus(status),
		nil,
	)
}
