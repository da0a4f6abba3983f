package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/services/audit"
	"github.com/upb/dsp-front-door/services/cache"
	"github.com/upb/dsp-front-door/utils"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"
)

// ControlTowerChecker checks the manifest authority is reachable
type ControlTowerChecker interface {
	HealthCheck(ctx context.Context) bool
}

// LoadedProjectsLister reports which projects have a provider instance
type LoadedProjectsLister interface {
	LoadedProjects() []string
}

// AuditStatsReporter reports the state of the asynchronous audit writer
type AuditStatsReporter interface {
	GetStats() audit.Stats
}

// CacheStatsReporter reports manifest cache counters
type CacheStatsReporter interface {
	CacheStats() cache.Stats
}

// StatusInfo is the static part of the /status response
type StatusInfo struct {
	Version               string
	ControlTowerURL       string
	CacheTTL              time.Duration
	AuthenticationEnabled bool
	DefaultProvider       string
	AvailableProviders    []string
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Timestamp    time.Time         `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies"`
}

// StatusResponse represents the detailed system status
type StatusResponse struct {
	Status              string                 `json:"status"`
	Version             string                 `json:"version"`
	Timestamp           time.Time              `json:"timestamp"`
	Dependencies        map[string]string      `json:"dependencies"`
	LoadedProjects      []string               `json:"loaded_projects"`
	LoadedProjectsCount int                    `json:"loaded_projects_count"`
	Configuration       map[string]interface{} `json:"configuration"`
	ManifestCache       *cache.Stats           `json:"manifest_cache,omitempty"`
	Audit               *audit.Stats           `json:"audit,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	controlTower ControlTowerChecker
	providers    LoadedProjectsLister
	db           *sql.DB
	cache        CacheStatsReporter
	audit        AuditStatsReporter
	info         StatusInfo
	logger       *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when the audit
// database is disabled.
func NewHealthHandler(controlTower ControlTowerChecker, providers LoadedProjectsLister, db *sql.DB, info StatusInfo, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		controlTower: controlTower,
		providers:    providers,
		db:           db,
		info:         info,
		logger:       logger,
	}
}

// WithManifestCacheStats adds the manifest cache counters to /status
func (h *HealthHandler) WithManifestCacheStats(reporter CacheStatsReporter) *HealthHandler {
	h.cache = reporter
	return h
}

// WithAuditStats adds the audit writer's counters to /status
func (h *HealthHandler) WithAuditStats(reporter AuditStatsReporter) *HealthHandler {
	h.audit = reporter
	return h
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	towerHealthy := h.checkControlTower(r.Context())

	status := statusHealthy
	if !towerHealthy {
		status = statusDegraded
	}

	_ = utils.WriteOK(w, HealthResponse{
		Status:    status,
		Version:   h.info.Version,
		Timestamp: time.Now().UTC(),
		Dependencies: map[string]string{
			"control_tower": dependencyStatus(towerHealthy),
		},
	})
}

// HandleStatus handles GET /status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	towerHealthy := h.checkControlTower(ctx)

	dependencies := map[string]string{
		"control_tower":     dependencyStatus(towerHealthy),
		"inference_service": statusHealthy,
	}
	if h.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.checkDatabase(dbCtx); err != nil {
			h.logger.Warn("audit database health check failed", zap.Error(err))
			dependencies["audit_db"] = statusUnhealthy
		} else {
			dependencies["audit_db"] = statusHealthy
		}
	}

	status := statusHealthy
	if !towerHealthy {
		status = statusDegraded
	}

	loaded := h.providers.LoadedProjects()
	if loaded == nil {
		loaded = []string{}
	}

	h.logger.Info("system status retrieved",
		zap.Bool("control_tower_healthy", towerHealthy),
		zap.Int("loaded_projects_count", len(loaded)))

	resp := StatusResponse{
		Status:              status,
		Version:             h.info.Version,
		Timestamp:           time.Now().UTC(),
		Dependencies:        dependencies,
		LoadedProjects:      loaded,
		LoadedProjectsCount: len(loaded),
		Configuration: map[string]interface{}{
			"control_tower_url":      h.info.ControlTowerURL,
			"cache_ttl_seconds":      int(h.info.CacheTTL.Seconds()),
			"authentication_enabled": h.info.AuthenticationEnabled,
			"default_provider":       h.info.DefaultProvider,
			"available_providers":    h.info.AvailableProviders,
		},
	}
	if h.cache != nil {
		stats := h.cache.CacheStats()
		resp.ManifestCache = &stats
	}
	if h.audit != nil {
		stats := h.audit.GetStats()
		resp.Audit = &stats
	}
	_ = utils.WriteOK(w, resp)
}

func (h *HealthHandler) checkControlTower(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return h.controlTower.HealthCheck(ctx)
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}

func dependencyStatus(healthy bool) string {
	if healthy {
		return statusHealthy
	}
	return statusUnhealthy
}
