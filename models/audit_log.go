package models

import (
	"time"

	"github.com/google/uuid"
)

// InferenceOutcome is the recorded result of an inference call
type InferenceOutcome string

const (
	InferenceOutcomeSuccess InferenceOutcome = "success"
	InferenceOutcomeFailed  InferenceOutcome = "failed"
)

// InferenceAuditLog represents an audit trail entry for one inference call
type InferenceAuditLog struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	RequestID    string           `json:"request_id" db:"request_id"`
	ProjectID    string           `json:"project_id" db:"project_id"`
	Provider     string           `json:"provider" db:"provider"`
	Model        string           `json:"model" db:"model"`
	Status       InferenceOutcome `json:"status" db:"status"`
	TokensUsed   *int             `json:"tokens_used,omitempty" db:"tokens_used"`
	LatencyMs    int              `json:"latency_ms" db:"latency_ms"`
	ErrorMessage *string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the InferenceAuditLog model
func (InferenceAuditLog) TableName() string {
	return "inference_audit_logs"
}

// NewInferenceAuditLog creates a new InferenceAuditLog instance
func NewInferenceAuditLog(requestID, projectID string) *InferenceAuditLog {
	return &InferenceAuditLog{
		ID:        uuid.New(),
		RequestID: requestID,
		ProjectID: projectID,
		Status:    InferenceOutcomeSuccess,
		CreatedAt: time.Now(),
	}
}

// WithProvider sets the provider and model that served the call
func (a *InferenceAuditLog) WithProvider(provider, model string) *InferenceAuditLog {
	a.Provider = provider
	a.Model = model
	return a
}

// WithUsage sets token usage and latency
func (a *InferenceAuditLog) WithUsage(tokensUsed *int, latency time.Duration) *InferenceAuditLog {
	a.TokensUsed = tokensUsed
	a.LatencyMs = int(latency.Milliseconds())
	return a
}

// WithError marks the entry as failed
func (a *InferenceAuditLog) WithError(err error) *InferenceAuditLog {
	if err == nil {
		return a
	}
	msg := err.Error()
	a.Status = InferenceOutcomeFailed
	a.ErrorMessage = &msg
	return a
}
