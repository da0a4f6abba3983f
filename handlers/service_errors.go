package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/services"
	"github.com/upb/dsp-front-door/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status, message := statusFor(err)
	details := services.GetErrorDetails(err)

	fields := []zap.Field{zap.Int("status", status), zap.Error(err)}
	if errType := services.GetErrorType(err); errType != "" {
		fields = append(fields, zap.String("error_type", string(errType)))
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request rejected", fields...)
	}

	if status == http.StatusInternalServerError {
		details = nil
	}
	if writeErr := utils.WriteError(w, status, message, details); writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// statusFor picks the HTTP status and client-facing message for err.
// Domain errors win over the context errors they may wrap.
func statusFor(err error) (int, string) {
	switch {
	case utils.IsValidationError(err):
		return http.StatusBadRequest, err.Error()
	case services.IsNotFoundError(err):
		return http.StatusNotFound, domainMessage(err)
	case services.IsConfigurationError(err):
		return http.StatusBadRequest, domainMessage(err)
	case services.IsUnsupportedProviderError(err):
		return http.StatusBadRequest, domainMessage(err)
	case services.IsProviderUnhealthyError(err):
		return http.StatusServiceUnavailable, domainMessage(err)
	case services.IsTransientFetchError(err):
		return http.StatusBadGateway, domainMessage(err)
	case services.IsUpstreamError(err):
		return http.StatusBadGateway, domainMessage(err)
	case services.IsProviderCallError(err):
		return http.StatusBadGateway, err.Error()
	case services.IsValidationError(err):
		return http.StatusBadRequest, domainMessage(err)
	case services.IsUnauthorizedError(err):
		return http.StatusUnauthorized, domainMessage(err)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	case errors.Is(err, context.Canceled):
		return utils.StatusClientClosedRequest, "Request canceled"
	default:
		return http.StatusInternalServerError, "An internal error occurred"
	}
}

// domainMessage returns the message of the outermost DomainError in err
func domainMessage(err error) string {
	if msg := services.GetErrorMessage(err); msg != "" {
		return msg
	}
	return err.Error()
}
