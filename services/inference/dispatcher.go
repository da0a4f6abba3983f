package inference

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/upb/dsp-front-door/models"
	"github.com/upb/dsp-front-door/services"
	"github.com/upb/dsp-front-door/services/providers"
	"github.com/upb/dsp-front-door/utils"
)

// Load and call outcomes reported to Metrics
const (
	OutcomeSuccess     = "success"
	OutcomeUnhealthy   = "unhealthy"
	OutcomeUnsupported = "unsupported"
	OutcomeError       = "error"
)

// ManifestSource supplies project manifests
type ManifestSource interface {
	GetManifest(ctx context.Context, projectID string, useCache bool) (*models.Manifest, error)
}

// ProviderResolver picks and builds providers for module configurations
type ProviderResolver interface {
	Detect(cfg providers.ModuleConfig) string
	Resolve(name string) (providers.Constructor, bool)
	ListAvailable() []string
}

// Metrics receives provider load and inference events
type Metrics interface {
	RecordProviderLoad(provider, outcome string)
	SetLoadedProviders(n int)
	RecordInference(provider, outcome string, duration time.Duration)
}

// AuditRecorder persists inference outcomes, typically asynchronously
type AuditRecorder interface {
	LogInference(entry *models.InferenceAuditLog) error
}

type nopMetrics struct{}

func (nopMetrics) RecordProviderLoad(string, string)             {}
func (nopMetrics) SetLoadedProviders(int)                        {}
func (nopMetrics) RecordInference(string, string, time.Duration) {}

// ProviderHandle is a loaded provider instance bound to one project
type ProviderHandle struct {
	ProjectID       string
	ProviderName    string
	Model           string
	ManifestVersion string
	LoadedAt        time.Time
	Provider        providers.Provider

	seq uint64
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithAuditRecorder records every Infer outcome through r
func WithAuditRecorder(r AuditRecorder) Option {
	return func(d *Dispatcher) {
		d.audit = r
	}
}

// WithLoadTimeout bounds a shared provider load. A load outlives the caller
// that started it, so it needs its own deadline.
func WithLoadTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.loadTimeout = timeout
		}
	}
}

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher routes inference requests to per-project provider instances.
// Instances are built lazily from the project's manifest, health checked once,
// and kept until cleared. Concurrent first requests for a project share a
// single load; different projects never wait on each other.
type Dispatcher struct {
	manifests   ManifestSource
	registry    ProviderResolver
	metrics     Metrics
	audit       AuditRecorder
	logger      *zap.Logger
	now         func() time.Time
	loadTimeout time.Duration

	mu           sync.RWMutex
	instances    map[string]*ProviderHandle
	healthChecks map[string]time.Time
	seq          uint64
	// generation moves on every ClearCache; loads started under an older
	// generation are handed to their waiters but never stored
	generation uint64
	loads      *singleflight.Group
}

// defaultLoadTimeout covers a retried manifest fetch plus a provider health check
const defaultLoadTimeout = 2 * time.Minute

// NewDispatcher creates a dispatcher with an empty instance table
func NewDispatcher(manifests ManifestSource, registry ProviderResolver, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		manifests:    manifests,
		registry:     registry,
		metrics:      nopMetrics{},
		logger:       logger.With(zap.String("component", "inference_dispatcher")),
		now:          time.Now,
		loadTimeout:  defaultLoadTimeout,
		instances:    make(map[string]*ProviderHandle),
		healthChecks: make(map[string]time.Time),
		loads:        &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GetOrLoad returns the provider instance of projectID, building it on first use.
// A cached instance is returned without re-checking the manifest or its health.
// Cancelling ctx abandons only this caller's wait; a load shared with other
// callers keeps running until it finishes or hits the load timeout.
func (d *Dispatcher) GetOrLoad(ctx context.Context, projectID string) (*ProviderHandle, error) {
	d.mu.RLock()
	h, ok := d.instances[projectID]
	loads, gen := d.loads, d.generation
	d.mu.RUnlock()
	if ok {
		return h, nil
	}

	ch := loads.DoChan(projectID, func() (interface{}, error) {
		if h, ok := d.lookup(projectID); ok {
			return h, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.loadTimeout)
		defer cancel()

		h, err := d.load(loadCtx, projectID)
		if err != nil {
			return nil, err
		}
		d.store(h, gen)
		return h, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ProviderHandle), nil
	}
}

func (d *Dispatcher) lookup(projectID string) (*ProviderHandle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.instances[projectID]
	return h, ok
}

// store caches h unless a ClearCache happened since its load started
func (d *Dispatcher) store(h *ProviderHandle, gen uint64) {
	d.mu.Lock()
	if d.generation != gen {
		d.mu.Unlock()
		d.logger.Info("discarding provider loaded before cache clear",
			zap.String("project_id", h.ProjectID))
		return
	}
	d.seq++
	h.seq = d.seq
	d.instances[h.ProjectID] = h
	d.healthChecks[h.ProjectID] = h.LoadedAt
	n := len(d.instances)
	d.mu.Unlock()

	d.metrics.SetLoadedProviders(n)
}

// load resolves, builds and health checks a provider. It never touches the
// instance table; the caller stores the result.
func (d *Dispatcher) load(ctx context.Context, projectID string) (*ProviderHandle, error) {
	log := d.logger.With(zap.String("project_id", projectID))
	log.Info("loading provider")

	manifest, err := d.manifests.GetManifest(ctx, projectID, true)
	if err != nil {
		return nil, err
	}

	modules := manifest.ModulesOfType(models.ModuleTypeInferenceEndpoint)
	if len(modules) == 0 {
		return nil, services.NewConfigurationError(projectID, "no inference_endpoint module configured", nil)
	}
	if len(modules) > 1 {
		log.Warn("multiple inference modules found, using first",
			zap.Int("count", len(modules)),
			zap.String("module", modules[0].Name),
		)
	}
	module := modules[0]
	if !module.IsEnabled() {
		return nil, services.NewConfigurationError(projectID, "inference module is not enabled", nil).
			WithDetail("module", module.Name).
			WithDetail("status", module.Status)
	}

	cfg := providers.ParseModuleConfig(module.Config)
	name := d.registry.Detect(cfg)
	log.Debug("resolved inference module",
		zap.String("module", module.Name),
		zap.String("provider", name),
		zap.Any("config", utils.MaskSensitive(module.Config)),
	)
	construct, ok := d.registry.Resolve(name)
	if !ok {
		d.metrics.RecordProviderLoad(name, OutcomeUnsupported)
		return nil, services.NewUnsupportedProviderError(name, d.registry.ListAvailable()).
			WithDetail("project_id", projectID)
	}

	provider, err := construct(cfg)
	if err != nil {
		d.metrics.RecordProviderLoad(name, OutcomeError)
		return nil, services.NewConfigurationError(projectID, "failed to create provider", err).
			WithDetail("provider", name)
	}

	if !provider.HealthCheck(ctx) {
		d.metrics.RecordProviderLoad(name, OutcomeUnhealthy)
		return nil, services.NewProviderUnhealthyError(projectID, name)
	}

	d.metrics.RecordProviderLoad(name, OutcomeSuccess)
	log.Info("provider loaded",
		zap.String("provider", name),
		zap.String("model", provider.ModelName()),
		zap.String("manifest_version", manifest.Version),
	)

	return &ProviderHandle{
		ProjectID:       projectID,
		ProviderName:    name,
		Model:           provider.ModelName(),
		ManifestVersion: manifest.Version,
		LoadedAt:        d.now(),
		Provider:        provider,
	}, nil
}

// Infer runs a chat completion for the request's project. Provider failures
// are returned as ProviderCallError and leave the instance cached.
func (d *Dispatcher) Infer(ctx context.Context, req *models.InferenceRequest) (*models.InferenceResponse, error) {
	start := d.now()
	entry := models.NewInferenceAuditLog(req.RequestID, req.ProjectID)

	h, err := d.GetOrLoad(ctx, req.ProjectID)
	if err != nil {
		d.record(entry.WithUsage(nil, d.now().Sub(start)).WithError(err))
		return nil, err
	}
	entry.WithProvider(h.ProviderName, h.Model)

	messages := make([]providers.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = providers.Message{Role: m.Role, Content: m.Content}
	}

	result, err := h.Provider.Infer(ctx, messages, req.Parameters, req.Context)
	elapsed := d.now().Sub(start)
	if err != nil {
		d.metrics.RecordInference(h.ProviderName, OutcomeError, elapsed)
		d.logger.Error("inference failed",
			zap.String("project_id", req.ProjectID),
			zap.String("provider", h.ProviderName),
			zap.Error(err),
		)
		callErr := services.NewProviderCallError(req.ProjectID, h.ProviderName, err)
		d.record(entry.WithUsage(nil, elapsed).WithError(callErr))
		return nil, callErr
	}
	d.metrics.RecordInference(h.ProviderName, OutcomeSuccess, elapsed)

	model := result.Model
	if model == "" {
		model = h.Model
	}
	d.record(entry.WithUsage(result.TokensUsed, elapsed))

	return &models.InferenceResponse{
		ProjectID:        req.ProjectID,
		Response:         result.Text,
		ModelUsed:        model,
		TokensUsed:       result.TokensUsed,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
		Timestamp:        d.now().UTC(),
		Metadata:         result.Metadata,
	}, nil
}

func (d *Dispatcher) record(entry *models.InferenceAuditLog) {
	if d.audit == nil {
		return
	}
	if err := d.audit.LogInference(entry); err != nil {
		d.logger.Warn("failed to queue inference audit entry",
			zap.String("project_id", entry.ProjectID),
			zap.Error(err),
		)
	}
}

// HealthCheck loads the project's provider if needed and health checks it.
// Every failure is reported as false.
func (d *Dispatcher) HealthCheck(ctx context.Context, projectID string) bool {
	h, err := d.GetOrLoad(ctx, projectID)
	if err != nil {
		d.logger.Warn("project health check failed",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return false
	}

	healthy := h.Provider.HealthCheck(ctx)

	d.mu.Lock()
	if _, ok := d.instances[projectID]; ok {
		d.healthChecks[projectID] = d.now()
	}
	d.mu.Unlock()

	return healthy
}

// LastHealthCheck returns when the project's provider was last health checked
func (d *Dispatcher) LastHealthCheck(projectID string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.healthChecks[projectID]
	return t, ok
}

// ClearCache drops the instance of projectID, or every instance when
// projectID is empty. Later requests rebuild from a fresh resolution.
// Loads in flight when the clear happens are not cached.
func (d *Dispatcher) ClearCache(projectID string) {
	d.mu.Lock()
	d.generation++
	if projectID == "" {
		d.instances = make(map[string]*ProviderHandle)
		d.healthChecks = make(map[string]time.Time)
		d.loads = &singleflight.Group{}
	} else {
		delete(d.instances, projectID)
		delete(d.healthChecks, projectID)
		d.loads.Forget(projectID)
	}
	n := len(d.instances)
	d.mu.Unlock()

	d.metrics.SetLoadedProviders(n)
	if projectID == "" {
		d.logger.Info("cleared all provider instances")
	} else {
		d.logger.Info("cleared provider instance", zap.String("project_id", projectID))
	}
}

// LoadedProjects lists projects with a cached instance, oldest load first
func (d *Dispatcher) LoadedProjects() []string {
	d.mu.RLock()
	handles := make([]*ProviderHandle, 0, len(d.instances))
	for _, h := range d.instances {
		handles = append(handles, h)
	}
	d.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].seq < handles[j].seq })
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.ProjectID
	}
	return ids
}
