package providers

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind tags the provider shape a ModuleConfig was resolved to
type Kind string

const (
	KindUnknown   Kind = ""
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

const additionalContextHeader = "\n\nAdditional Context:\n"

// ModuleConfig is the typed view of an inference module's configuration map.
// Known keys are decoded into fields; Raw keeps the original map so providers
// registered at runtime can read keys this type does not know about.
type ModuleConfig struct {
	Kind         Kind
	ModelName    string
	EndpointURL  string
	SystemPrompt string
	MaxTokens    *int
	Temperature  *float64
	TopP         *float64
	Raw          map[string]interface{}
}

// ParseModuleConfig decodes the well-known keys of a module configuration.
// Values of the wrong type are ignored rather than rejected.
func ParseModuleConfig(raw map[string]interface{}) ModuleConfig {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	cfg := ModuleConfig{Raw: raw}
	cfg.ModelName, _ = StringParam(raw, "model_name")
	cfg.EndpointURL, _ = StringParam(raw, "endpoint_url")
	cfg.SystemPrompt, _ = StringParam(raw, "system_prompt")
	if v, ok := IntParam(raw, "max_tokens"); ok {
		cfg.MaxTokens = &v
	}
	if v, ok := FloatParam(raw, "temperature"); ok {
		cfg.Temperature = &v
	}
	if v, ok := FloatParam(raw, "top_p"); ok {
		cfg.TopP = &v
	}
	return cfg
}

// SystemPromptWith returns the system prompt, or fallback when none is configured,
// with extraContext appended under an "Additional Context" header.
func (c ModuleConfig) SystemPromptWith(fallback, extraContext string) string {
	prompt := c.SystemPrompt
	if prompt == "" {
		prompt = fallback
	}
	if extraContext != "" {
		prompt += additionalContextHeader + extraContext
	}
	return prompt
}

// Sampling holds the per-call generation settings of a provider
type Sampling struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// SamplingDefaults fills a Sampling from the module configuration, using the
// given values for keys the module does not set.
func (c ModuleConfig) SamplingDefaults(def Sampling) Sampling {
	s := def
	if c.ModelName != "" {
		s.Model = c.ModelName
	}
	if c.MaxTokens != nil {
		s.MaxTokens = *c.MaxTokens
	}
	if c.Temperature != nil {
		s.Temperature = *c.Temperature
	}
	if c.TopP != nil {
		s.TopP = *c.TopP
	}
	return s
}

// WithOverrides applies request parameters on top of s. Out-of-range values
// keep the module value: temperature must lie in [0, maxTemperature], top_p in
// [0, 1] and max_tokens must be positive. The returned slice names every
// parameter that was rejected.
func (s Sampling) WithOverrides(params map[string]interface{}, maxTemperature float64) (Sampling, []string) {
	out := s
	var rejected []string
	if len(params) == 0 {
		return out, nil
	}
	if v, ok := StringParam(params, "model"); ok && v != "" {
		out.Model = v
	}
	if v, ok := IntParam(params, "max_tokens"); ok {
		if v > 0 {
			out.MaxTokens = v
		} else {
			rejected = append(rejected, "max_tokens")
		}
	}
	if v, ok := FloatParam(params, "temperature"); ok {
		if v >= 0 && v <= maxTemperature {
			out.Temperature = v
		} else {
			rejected = append(rejected, "temperature")
		}
	}
	if v, ok := FloatParam(params, "top_p"); ok {
		if v >= 0 && v <= 1 {
			out.TopP = v
		} else {
			rejected = append(rejected, "top_p")
		}
	}
	return out, rejected
}

// StringParam reads a string value from a loosely typed map
func StringParam(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FloatParam reads a numeric value from a loosely typed map. JSON numbers,
// Go numeric types and numeric strings are accepted.
func FloatParam(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// IntParam reads an integer value from a loosely typed map.
// Fractional values are truncated.
func IntParam(m map[string]interface{}, key string) (int, bool) {
	f, ok := FloatParam(m, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}
