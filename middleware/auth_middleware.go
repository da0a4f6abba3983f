package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/utils"
)

// APIKeyHeader is the preferred header for the front door API key
const APIKeyHeader = "X-API-Key"

// AuthMiddleware checks a static API key on every request except public paths
type AuthMiddleware struct {
	apiKey      string
	publicPaths map[string]struct{}
	logger      *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. An empty apiKey disables
// authentication.
func NewAuthMiddleware(apiKey string, logger *zap.Logger, publicPaths ...string) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}
	return &AuthMiddleware{
		apiKey:      apiKey,
		publicPaths: public,
		logger:      logger,
	}
}

// Enabled reports whether requests are checked at all
func (m *AuthMiddleware) Enabled() bool {
	return m.apiKey != ""
}

// RequireAPIKey rejects requests without a matching key with 401
func (m *AuthMiddleware) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := m.publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		requestID := GetRequestIDFromContext(r.Context())

		key := extractAPIKey(r)
		if key == "" {
			m.logger.Warn("missing API key",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) != 1 {
			m.logger.Warn("invalid API key",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractAPIKey reads X-API-Key, falling back to an Authorization Bearer token
func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	return extractBearerToken(r)
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
