package providers

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type endpointMarker struct {
	marker   string
	provider string
}

type modelPrefix struct {
	prefix   string
	provider string
}

// Registry maps provider names to constructors and decides which provider a
// module configuration asks for.
type Registry struct {
	mu              sync.RWMutex
	constructors    map[string]Constructor
	markers         []endpointMarker
	prefixes        []modelPrefix
	defaultProvider string
	logger          *zap.Logger
}

// NewRegistry creates a new provider registry. defaultProvider is returned by
// Detect when no marker or prefix matches.
func NewRegistry(defaultProvider string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		constructors:    make(map[string]Constructor),
		defaultProvider: strings.ToLower(defaultProvider),
		logger:          logger,
	}
}

// Register adds or replaces the constructor for name
func (r *Registry) Register(name string, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.constructors[strings.ToLower(name)] = constructor
}

// Resolve looks up a constructor by name, ignoring case
func (r *Registry) Resolve(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	constructor, ok := r.constructors[strings.ToLower(name)]
	return constructor, ok
}

// ListAvailable returns all registered provider names, sorted
func (r *Registry) ListAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterEndpointMarker maps a substring of an endpoint URL to a provider.
// Markers are checked in registration order.
func (r *Registry) RegisterEndpointMarker(marker, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.markers = append(r.markers, endpointMarker{
		marker:   strings.ToLower(marker),
		provider: strings.ToLower(provider),
	})
}

// RegisterModelPrefixes maps model name prefixes (e.g., "gpt-") to a provider
func (r *Registry) RegisterModelPrefixes(provider string, prefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range prefixes {
		r.prefixes = append(r.prefixes, modelPrefix{
			prefix:   strings.ToLower(p),
			provider: strings.ToLower(provider),
		})
	}
}

// DefaultProvider returns the fallback provider name
func (r *Registry) DefaultProvider() string {
	return r.defaultProvider
}

// Detect picks a provider name for a module configuration. The endpoint URL is
// checked before the model name; when neither matches, the default provider is
// returned and a warning is logged. Detect never fails: an unknown result only
// surfaces when Resolve finds no constructor for it.
func (r *Registry) Detect(cfg ModuleConfig) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoint := strings.ToLower(cfg.EndpointURL)
	if endpoint != "" {
		for _, m := range r.markers {
			if strings.Contains(endpoint, m.marker) {
				return m.provider
			}
		}
	}

	model := strings.ToLower(cfg.ModelName)
	if model != "" {
		for _, p := range r.prefixes {
			if strings.HasPrefix(model, p.prefix) {
				return p.provider
			}
		}
	}

	r.logger.Warn("could not detect provider, using default",
		zap.String("default_provider", r.defaultProvider),
		zap.String("model_name", cfg.ModelName),
		zap.String("endpoint_url", cfg.EndpointURL),
	)
	return r.defaultProvider
}
