package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/models"
	"github.com/upb/dsp-front-door/services/manifest"
	"github.com/upb/dsp-front-door/utils"
)

// ManifestService reads and validates manifests through the control tower
type ManifestService interface {
	GetManifest(ctx context.Context, projectID string, useCache bool) (*models.Manifest, error)
	ListManifests(ctx context.Context, opts manifest.ListOptions) (models.ManifestList, error)
	ValidateManifest(ctx context.Context, document map[string]interface{}) (models.ManifestValidation, error)
	ClearCache()
	InvalidateProject(projectID string)
}

// ProviderCache exposes the loaded provider instances
type ProviderCache interface {
	HealthCheck(ctx context.Context, projectID string) bool
	LastHealthCheck(projectID string) (time.Time, bool)
	ClearCache(projectID string)
}

// ProjectHealthResponse reports a project's inference module health
type ProjectHealthResponse struct {
	ProjectID     string     `json:"project_id"`
	Healthy       bool       `json:"healthy"`
	Status        string     `json:"status"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// ProjectHandler handles project, manifest and cache endpoints
type ProjectHandler struct {
	manifests ManifestService
	providers ProviderCache
	logger    *zap.Logger
}

// NewProjectHandler creates a new ProjectHandler
func NewProjectHandler(manifests ManifestService, providers ProviderCache, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		manifests: manifests,
		providers: providers,
		logger:    logger,
	}
}

// HandleListProjects handles GET /projects
func (h *ProjectHandler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	opts, ok := parseListOptions(w, r)
	if !ok {
		return
	}

	list, err := h.manifests.ListManifests(r.Context(), opts)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("listed projects", zap.Int("count", list.Count()))
	_ = utils.WriteOK(w, list)
}

// HandleGetManifest handles GET /projects/{project_id}/manifest
func (h *ProjectHandler) HandleGetManifest(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	m, err := h.manifests.GetManifest(r.Context(), projectID, true)
	if err != nil {
		HandleServiceError(w, err, h.logger.With(zap.String("project_id", projectID)))
		return
	}

	_ = utils.WriteOK(w, m)
}

// HandleProjectHealth handles POST /projects/{project_id}/health
func (h *ProjectHandler) HandleProjectHealth(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	healthy := h.providers.HealthCheck(r.Context(), projectID)
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	h.logger.Info("project health checked",
		zap.String("project_id", projectID),
		zap.Bool("healthy", healthy))

	resp := ProjectHealthResponse{
		ProjectID: projectID,
		Healthy:   healthy,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if checkedAt, ok := h.providers.LastHealthCheck(projectID); ok {
		checkedAt = checkedAt.UTC()
		resp.LastCheckedAt = &checkedAt
	}
	_ = utils.WriteOK(w, resp)
}

// HandleValidateManifest handles POST /manifests/validate
func (h *ProjectHandler) HandleValidateManifest(w http.ResponseWriter, r *http.Request) {
	var document map[string]interface{}
	if !decodeJSON(w, r, &document, h.logger) {
		return
	}
	if len(document) == 0 {
		_ = utils.WriteBadRequest(w, "Manifest document is empty", nil)
		return
	}

	result, err := h.manifests.ValidateManifest(r.Context(), document)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleClearCache handles DELETE /cache?project_id=
func (h *ProjectHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))

	h.providers.ClearCache(projectID)
	if projectID == "" {
		h.manifests.ClearCache()
		h.logger.Info("all caches cleared")
		_ = utils.WriteMessage(w, "All caches cleared")
		return
	}

	h.manifests.InvalidateProject(projectID)
	h.logger.Info("project cache cleared", zap.String("project_id", projectID))
	_ = utils.WriteMessage(w, "Cache cleared for project '"+projectID+"'")
}

func projectIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	projectID := strings.TrimSpace(chi.URLParam(r, "project_id"))
	if projectID == "" {
		_ = utils.WriteBadRequest(w, "project_id cannot be empty", nil)
		return "", false
	}
	return projectID, true
}

func parseListOptions(w http.ResponseWriter, r *http.Request) (manifest.ListOptions, bool) {
	var opts manifest.ListOptions
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &opts.Limit},
		{"offset", &opts.Offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = utils.WriteBadRequest(w, "Invalid query parameter", map[string]interface{}{
				p.name: "must be a non-negative integer",
			})
			return opts, false
		}
		*p.dst = n
	}
	return opts, true
}
