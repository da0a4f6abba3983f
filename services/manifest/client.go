package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"resty.dev/v3"

	"github.com/upb/dsp-front-door/models"
	"github.com/upb/dsp-front-door/services"
	"github.com/upb/dsp-front-door/services/cache"
)

// SuperuserHeader carries the control tower credential on every request
const SuperuserHeader = "X-Superuser-Key"

// Fetch outcomes reported to Metrics
const (
	OutcomeSuccess   = "success"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeUpstream  = "upstream_error"
	OutcomeTransient = "transient_error"
	OutcomeCancelled = "cancelled"
)

// Metrics receives manifest cache and fetch events
type Metrics interface {
	RecordManifestCache(hit bool)
	RecordManifestFetch(outcome string)
	RecordManifestRetry()
}

type nopMetrics struct{}

func (nopMetrics) RecordManifestCache(bool)   {}
func (nopMetrics) RecordManifestFetch(string) {}
func (nopMetrics) RecordManifestRetry()       {}

// Config holds the control tower connection settings
type Config struct {
	BaseURL      string
	SuperuserKey string
	Timeout      time.Duration
	Retry        RetryPolicy
}

// ListOptions pages through the manifest collection. Zero values are not sent.
type ListOptions struct {
	Limit  int
	Offset int
}

// Client fetches project manifests from the control tower and caches them
type Client struct {
	http      *resty.Client
	manifests *cache.TTLCache[*models.Manifest]
	retry     RetryPolicy
	metrics   Metrics
	logger    *zap.Logger

	// fetchTimeout bounds a shared fetch, which may outlive the caller that started it
	fetchTimeout time.Duration

	mu         sync.Mutex
	generation uint64
	group      *singleflight.Group
}

type requestStartedAt struct{}

// NewClient creates a manifest client backed by manifests. A nil metrics
// disables metric recording.
func NewClient(cfg Config, manifests *cache.TTLCache[*models.Manifest], metrics Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	c := &Client{
		manifests:    manifests,
		metrics:      metrics,
		logger:       logger.With(zap.String("component", "manifest_client")),
		fetchTimeout: FetchTimeout(cfg),
		group:        &singleflight.Group{},
	}

	retry := cfg.Retry
	onRetry := retry.OnRetry
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.metrics.RecordManifestRetry()
		c.logger.Warn("control tower request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	}
	c.retry = retry

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader(SuperuserHeader, cfg.SuperuserKey).
		SetHeader("Accept", "application/json")

	c.http.AddRequestMiddleware(func(_ *resty.Client, r *resty.Request) error {
		r.SetContext(context.WithValue(r.Context(), requestStartedAt{}, time.Now()))
		return nil
	})
	c.http.AddResponseMiddleware(func(_ *resty.Client, r *resty.Response) error {
		if r.Request == nil || r.Request.RawRequest == nil {
			return nil
		}
		started, _ := r.Request.Context().Value(requestStartedAt{}).(time.Time)
		c.logger.Debug("control tower request",
			zap.String("method", r.Request.RawRequest.Method),
			zap.String("path", r.Request.RawRequest.URL.Path),
			zap.Int("status", r.StatusCode()),
			zap.Duration("latency", time.Since(started)),
		)
		return nil
	})

	return c
}

// GetManifest returns the manifest of projectID. With useCache set, a fresh
// cached copy is returned without any network call. Concurrent fetches for the
// same project share one request.
func (c *Client) GetManifest(ctx context.Context, projectID string, useCache bool) (*models.Manifest, error) {
	if useCache {
		if m, ok := c.manifests.Get(projectID); ok {
			c.metrics.RecordManifestCache(true)
			c.logger.Debug("manifest cache hit", zap.String("project_id", projectID))
			return m, nil
		}
		c.metrics.RecordManifestCache(false)
	}

	c.mu.Lock()
	group, gen := c.group, c.generation
	c.mu.Unlock()

	ch := group.DoChan(projectID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		m, err := c.fetchManifest(fetchCtx, projectID)
		c.metrics.RecordManifestFetch(fetchOutcome(err))
		if err != nil {
			return nil, err
		}
		c.store(projectID, m, gen)
		c.logger.Info("manifest fetched",
			zap.String("project_id", projectID),
			zap.String("version", m.Version),
			zap.Int("modules", len(m.Modules)),
		)
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Manifest), nil
	}
}

// store caches m unless the cache was cleared since its fetch started
func (c *Client) store(projectID string, m *models.Manifest, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		c.logger.Info("discarding manifest fetched before cache clear", zap.String("project_id", projectID))
		return
	}
	c.manifests.Set(projectID, m)
}

func (c *Client) fetchManifest(ctx context.Context, projectID string) (*models.Manifest, error) {
	var body string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("project_id", projectID).
			Get("/manifests/{project_id}")
		if err != nil {
			return Transient(fmt.Errorf("get manifest %s: %w", projectID, err))
		}
		if resp.StatusCode() == http.StatusNotFound {
			return services.NewManifestNotFoundError(projectID)
		}
		if err := c.classifyStatus(resp); err != nil {
			return err
		}
		body = resp.String()
		return nil
	})
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, services.NewConfigurationError(projectID, "manifest body is not valid JSON", err)
	}
	if err := m.Validate(projectID); err != nil {
		return nil, services.NewConfigurationError(projectID, "invalid manifest", err)
	}
	return &m, nil
}

// ListManifests returns the control tower's manifest collection as is
func (c *Client) ListManifests(ctx context.Context, opts ListOptions) (models.ManifestList, error) {
	var list models.ManifestList
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req := c.http.R().SetContext(ctx)
		if opts.Limit > 0 {
			req.SetQueryParam("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			req.SetQueryParam("offset", strconv.Itoa(opts.Offset))
		}
		resp, err := req.Get("/manifests")
		if err != nil {
			return Transient(fmt.Errorf("list manifests: %w", err))
		}
		if err := c.classifyStatus(resp); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(resp.String()), &list); err != nil {
			return services.WrapError(services.ErrorTypeUpstream, "manifest list is not valid JSON", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ValidateManifest asks the control tower to validate a manifest document
func (c *Client) ValidateManifest(ctx context.Context, document map[string]interface{}) (models.ManifestValidation, error) {
	var verdict models.ManifestValidation
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(document).
			Post("/manifests/validate")
		if err != nil {
			return Transient(fmt.Errorf("validate manifest: %w", err))
		}
		if err := c.classifyStatus(resp); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(resp.String()), &verdict); err != nil {
			return services.WrapError(services.ErrorTypeUpstream, "validation result is not valid JSON", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

// HealthCheck checks the control tower with a single list request
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get("/manifests")
	if err != nil {
		c.logger.Warn("control tower health check failed", zap.Error(err))
		return false
	}
	if resp.IsError() {
		c.logger.Warn("control tower health check failed", zap.Int("status", resp.StatusCode()))
		return false
	}
	return true
}

// ClearCache drops every cached manifest. Fetches in flight are not cached.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.generation++
	c.group = &singleflight.Group{}
	c.manifests.Clear()
	c.mu.Unlock()
	c.logger.Info("manifest cache cleared")
}

// InvalidateProject drops the cached manifest of one project. Fetches in
// flight are not cached.
func (c *Client) InvalidateProject(projectID string) {
	c.mu.Lock()
	c.generation++
	c.group.Forget(projectID)
	c.manifests.Delete(projectID)
	c.mu.Unlock()
	c.logger.Info("manifest cache entry invalidated", zap.String("project_id", projectID))
}

// CacheTTL is how long a fetched manifest stays cached
func (c *Client) CacheTTL() time.Duration {
	return c.manifests.TTL()
}

// CacheStats returns the manifest cache counters
func (c *Client) CacheStats() cache.Stats {
	return c.manifests.Stats()
}

// FetchTimeout is the longest a retried manifest fetch can take under cfg
func FetchTimeout(cfg Config) time.Duration {
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxWait := time.Duration(float64(retry.MaxDelay) * (1 + retry.Jitter))
	return time.Duration(retry.MaxAttempts) * (timeout + maxWait)
}

// classifyStatus maps a non-2xx control tower status to a transient or fatal error.
// Fatal response bodies go to the log, never to the returned error.
func (c *Client) classifyStatus(resp *resty.Response) error {
	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return Transient(fmt.Errorf("control tower returned status %d", status))
	default:
		c.logger.Warn("control tower rejected request",
			zap.Int("status", status),
			zap.String("body", truncate(resp.String(), 512)))
		return services.NewUpstreamError(status)
	}
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case services.IsNotFoundError(err):
		return OutcomeNotFound
	case services.IsConfigurationError(err):
		return OutcomeInvalid
	case services.IsUpstreamError(err):
		return OutcomeUpstream
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeTransient
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
