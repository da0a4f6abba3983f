package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/models"
	"github.com/upb/dsp-front-door/utils"
)

// maxAuditLimit caps how many audit entries one request may read
const maxAuditLimit = 500

// AuditLogReader reads the persisted inference audit trail
type AuditLogReader interface {
	ListByProject(ctx context.Context, projectID string, limit int) ([]*models.InferenceAuditLog, error)
}

// AuditLogsResponse lists a project's newest audit entries
type AuditLogsResponse struct {
	ProjectID string                      `json:"project_id"`
	Entries   []*models.InferenceAuditLog `json:"entries"`
	Count     int                         `json:"count"`
}

// AuditHandler serves the inference audit trail
type AuditHandler struct {
	logs   AuditLogReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(logs AuditLogReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		logs:   logs,
		logger: logger,
	}
}

// HandleListAuditLogs handles GET /projects/{project_id}/audit
func (h *AuditHandler) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			_ = utils.WriteBadRequest(w, "Invalid query parameter", map[string]interface{}{
				"limit": "must be an integer between 1 and " + strconv.Itoa(maxAuditLimit),
			})
			return
		}
		limit = n
	}

	entries, err := h.logs.ListByProject(r.Context(), projectID, limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if entries == nil {
		entries = []*models.InferenceAuditLog{}
	}

	_ = utils.WriteOK(w, AuditLogsResponse{
		ProjectID: projectID,
		Entries:   entries,
		Count:     len(entries),
	})
}
