package repositories

import (
	"context"

	"github.com/upb/dsp-front-door/models"
)

// InferenceAuditRepository handles inference audit trail persistence
type InferenceAuditRepository interface {
	// Create inserts a new audit entry
	Create(ctx context.Context, entry *models.InferenceAuditLog) error

	// ListByProject returns the newest entries of a project, at most limit
	ListByProject(ctx context.Context, projectID string, limit int) ([]*models.InferenceAuditLog, error)
}
