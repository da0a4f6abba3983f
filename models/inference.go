package models

import (
	"time"
)

// Chat message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single turn of a chat conversation
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// InferenceRequest is a request to run inference for a project
type InferenceRequest struct {
	ProjectID  string                 `json:"project_id" validate:"required,notblank"`
	Messages   []ChatMessage          `json:"messages" validate:"required,min=1,dive"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Context    string                 `json:"context,omitempty"`

	// RequestID correlates the call with the HTTP request that carried it
	RequestID string `json:"-"`
}

// InferenceResponse is the result of an inference request
type InferenceResponse struct {
	ProjectID        string                 `json:"project_id"`
	Response         string                 `json:"response"`
	ModelUsed        string                 `json:"model_used"`
	TokensUsed       *int                   `json:"tokens_used,omitempty"`
	ProcessingTimeMs float64                `json:"processing_time_ms"`
	Timestamp        time.Time              `json:"timestamp"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
