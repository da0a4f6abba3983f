package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/models"
	"github.com/upb/dsp-front-door/repositories"
)

// defaultListLimit caps ListByProject when the caller passes no limit
const defaultListLimit = 100

// AuditRepository implements repositories.InferenceAuditRepository
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

var _ repositories.InferenceAuditRepository = (*AuditRepository)(nil)

// Create inserts a new audit entry
func (r *AuditRepository) Create(ctx context.Context, entry *models.InferenceAuditLog) error {
	query := `
		INSERT INTO inference_audit_logs (
			id, request_id, project_id, provider, model, status,
			tokens_used, latency_ms, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	var tokens sql.NullInt64
	if entry.TokensUsed != nil {
		tokens = sql.NullInt64{Int64: int64(*entry.TokensUsed), Valid: true}
	}
	var errMsg sql.NullString
	if entry.ErrorMessage != nil {
		errMsg = sql.NullString{String: *entry.ErrorMessage, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.ProjectID,
		entry.Provider,
		entry.Model,
		string(entry.Status),
		tokens,
		entry.LatencyMs,
		errMsg,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert inference audit log: %w", err)
	}

	r.logger.Debug("inference audit log inserted",
		zap.String("id", entry.ID.String()),
		zap.String("project_id", entry.ProjectID),
		zap.String("status", string(entry.Status)))
	return nil
}

// ListByProject returns the newest entries of a project
func (r *AuditRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.InferenceAuditLog, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, request_id, project_id, provider, model, status,
		       tokens_used, latency_ms, error_message, created_at
		FROM inference_audit_logs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inference audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.InferenceAuditLog
	for rows.Next() {
		var (
			entry  models.InferenceAuditLog
			status string
			tokens sql.NullInt64
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.ProjectID,
			&entry.Provider,
			&entry.Model,
			&status,
			&tokens,
			&entry.LatencyMs,
			&errMsg,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan inference audit log: %w", err)
		}
		entry.Status = models.InferenceOutcome(status)
		if tokens.Valid {
			n := int(tokens.Int64)
			entry.TokensUsed = &n
		}
		if errMsg.Valid {
			msg := errMsg.String
			entry.ErrorMessage = &msg
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inference audit logs: %w", err)
	}

	return entries, nil
}
