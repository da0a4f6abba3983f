package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/config"
	"github.com/upb/dsp-front-door/internal/observability"
	"github.com/upb/dsp-front-door/middleware"
	"github.com/upb/dsp-front-door/models"
	"github.com/upb/dsp-front-door/repositories"
	"github.com/upb/dsp-front-door/repositories/postgres"
	"github.com/upb/dsp-front-door/services/audit"
	"github.com/upb/dsp-front-door/services/cache"
	"github.com/upb/dsp-front-door/services/inference"
	"github.com/upb/dsp-front-door/services/manifest"
	"github.com/upb/dsp-front-door/services/providers"
	"github.com/upb/dsp-front-door/services/providers/anthropic"
	"github.com/upb/dsp-front-door/services/providers/openai"
)

// Version is reported by /health and /status
const Version = "1.0.0"

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Metrics is never nil; Prometheus is nil when metrics are disabled
	Metrics    observability.Metrics
	Prometheus *observability.PrometheusMetrics

	// Front door services
	Manifests  *manifest.Client
	Providers  *providers.Registry
	Dispatcher *inference.Dispatcher

	// Audit trail, all nil when DATABASE_URL is unset
	DB        *postgres.DB
	Audit     *audit.AuditService
	AuditLogs repositories.InferenceAuditRepository

	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)
	deps.initManifestClient(cfg)
	deps.initProviders(cfg)

	if err := deps.initAudit(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}

	deps.initDispatcher(cfg)
	deps.AuthMiddleware = middleware.NewAuthMiddleware(cfg.FrontDoor.APIKey, logger, "/health", "/metrics")
	if !deps.AuthMiddleware.Enabled() {
		logger.Warn("FD_API_KEY not set, authentication disabled")
	}

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Providers.ListAvailable()),
		zap.Bool("audit_enabled", deps.Audit != nil),
		zap.Bool("metrics_enabled", deps.Prometheus != nil))
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NoopMetrics{}
		return
	}
	d.Prometheus = observability.NewPrometheusMetrics(nil)
	d.Metrics = d.Prometheus
}

func (d *Dependencies) initManifestClient(cfg *config.Config) {
	manifests := cache.NewTTLCache[*models.Manifest](cfg.FrontDoor.CacheTTL)
	d.Manifests = manifest.NewClient(manifestConfig(cfg), manifests, d.Metrics, d.Logger)

	d.Logger.Info("control tower client initialized",
		zap.String("base_url", cfg.ControlTower.BaseURL),
		zap.Duration("cache_ttl", cfg.FrontDoor.CacheTTL),
		zap.Int("max_retries", cfg.ControlTower.MaxRetries))
}

func manifestConfig(cfg *config.Config) manifest.Config {
	retry := manifest.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.ControlTower.MaxRetries
	retry.MinDelay = cfg.ControlTower.RetryMinDelay
	retry.MaxDelay = cfg.ControlTower.RetryMaxDelay

	return manifest.Config{
		BaseURL:      cfg.ControlTower.BaseURL,
		SuperuserKey: cfg.ControlTower.SuperuserKey,
		Timeout:      cfg.ControlTower.Timeout,
		Retry:        retry,
	}
}

// loadTimeout bounds a provider load: a fully retried manifest fetch plus
// the slowest provider's health check
func loadTimeout(cfg *config.Config) time.Duration {
	return manifest.FetchTimeout(manifestConfig(cfg)) +
		max(cfg.Providers.OpenAI.Timeout, cfg.Providers.Anthropic.Timeout)
}

// initProviders registers a constructor for every provider with credentials.
// Detection rules are registered regardless, so a module asking for an
// unconfigured provider fails as unsupported rather than falling back.
func (d *Dependencies) initProviders(cfg *config.Config) {
	d.Providers = NewProviderRegistry(cfg, d.Logger)
	if len(d.Providers.ListAvailable()) == 0 {
		d.Logger.Warn("no LLM providers configured")
	}
}

// NewProviderRegistry builds the registry with the built-in detection rules
func NewProviderRegistry(cfg *config.Config, logger *zap.Logger) *providers.Registry {
	registry := providers.NewRegistry(cfg.FrontDoor.DefaultProvider, logger)

	registry.RegisterEndpointMarker("openai", openai.ProviderName)
	registry.RegisterEndpointMarker("anthropic", anthropic.ProviderName)
	registry.RegisterModelPrefixes(openai.ProviderName, "gpt-", "text-", "davinci", "curie", "babbage", "ada")
	registry.RegisterModelPrefixes(anthropic.ProviderName, "claude-")

	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		construct := openai.NewConstructor(openai.Options{
			APIKey:  key,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Timeout: cfg.Providers.OpenAI.Timeout,
		}, logger)
		registry.Register(openai.ProviderName, construct)
		registry.Register("gpt", construct)
		logger.Info("registered OpenAI provider")
	}

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		construct := anthropic.NewConstructor(anthropic.Options{
			APIKey:  key,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			Version: cfg.Providers.Anthropic.Version,
			Timeout: cfg.Providers.Anthropic.Timeout,
		}, logger)
		registry.Register(anthropic.ProviderName, construct)
		registry.Register("claude", construct)
		logger.Info("registered Anthropic provider")
	}

	return registry
}

func (d *Dependencies) initAudit(ctx context.Context, cfg *config.Config) error {
	if !cfg.AuditEnabled() {
		d.Logger.Info("DATABASE_URL not set, inference audit trail disabled")
		return nil
	}

	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return err
	}

	repo := postgres.NewAuditRepository(db, d.Logger)
	svc := audit.NewAuditService(repo, d.Logger, audit.DefaultConfig())
	if err := svc.Start(); err != nil {
		db.Close()
		return err
	}

	d.DB = db
	d.Audit = svc
	d.AuditLogs = repo
	return nil
}

func (d *Dependencies) initDispatcher(cfg *config.Config) {
	opts := []inference.Option{
		inference.WithMetrics(d.Metrics),
		inference.WithLoadTimeout(loadTimeout(cfg)),
	}
	if d.Audit != nil {
		opts = append(opts, inference.WithAuditRecorder(d.Audit))
	}
	d.Dispatcher = inference.NewDispatcher(d.Manifests, d.Providers, d.Logger, opts...)
}

// AvailableProviders lists the provider names requests can resolve to
func (d *Dependencies) AvailableProviders() []string {
	return d.Providers.ListAvailable()
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit trail: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
