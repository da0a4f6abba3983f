package utils

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MessageResponse is returned by endpoints that only confirm an action
type MessageResponse struct {
	Message string `json:"message"`
}

// StatusClientClosedRequest is the nginx convention for a client that went away
// before the response was ready.
const StatusClientClosedRequest = 499

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with data as the body
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteMessage writes a 200 OK response carrying a confirmation message
func WriteMessage(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Authentication required"
	}
	return WriteError(w, http.StatusUnauthorized, message, nil)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteError(w, http.StatusNotFound, message, nil)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteError(w, http.StatusInternalServerError, message, nil)
}

// WriteError writes an error response based on the status code
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	var errorType string
	switch status {
	case http.StatusBadRequest:
		errorType = "bad_request"
	case http.StatusUnauthorized:
		errorType = "unauthorized"
	case http.StatusNotFound:
		errorType = "not_found"
	case http.StatusBadGateway:
		errorType = "bad_gateway"
	case http.StatusServiceUnavailable:
		errorType = "service_unavailable"
	case http.StatusGatewayTimeout:
		errorType = "gateway_timeout"
	case StatusClientClosedRequest:
		errorType = "client_closed_request"
	default:
		errorType = "internal_error"
	}

	return WriteJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: message,
		Details: details,
	})
}

var defaultSensitiveKeys = []string{"api_key", "apikey", "password", "secret", "token", "superuser_key", "authorization"}

// MaskSensitive returns a copy of data with values of sensitive-looking keys replaced.
// Nested maps are masked recursively; the input is never modified.
func MaskSensitive(data map[string]interface{}, sensitiveKeys ...string) map[string]interface{} {
	if len(sensitiveKeys) == 0 {
		sensitiveKeys = defaultSensitiveKeys
	}

	masked := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitiveKey(k, sensitiveKeys) {
			masked[k] = maskValue(v)
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			masked[k] = MaskSensitive(nested, sensitiveKeys...)
			continue
		}
		masked[k] = v
	}
	return masked
}

func isSensitiveKey(key string, sensitiveKeys []string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// maskValue keeps the last four characters of long strings for correlation
func maskValue(v interface{}) string {
	s, ok := v.(string)
	if !ok || len(s) <= 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
