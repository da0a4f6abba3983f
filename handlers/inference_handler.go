package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/dsp-front-door/middleware"
	"github.com/upb/dsp-front-door/models"
	"github.com/upb/dsp-front-door/utils"
)

// maxBodyBytes bounds request bodies accepted by the JSON endpoints
const maxBodyBytes = 1 << 20

// InferenceService runs inference for a project
type InferenceService interface {
	Infer(ctx context.Context, req *models.InferenceRequest) (*models.InferenceResponse, error)
}

// InferenceHandler handles inference-related HTTP requests
type InferenceHandler struct {
	service InferenceService
	logger  *zap.Logger
}

// NewInferenceHandler creates a new InferenceHandler
func NewInferenceHandler(service InferenceService, logger *zap.Logger) *InferenceHandler {
	return &InferenceHandler{
		service: service,
		logger:  logger,
	}
}

// HandleInference handles POST /inference
func (h *InferenceHandler) HandleInference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req models.InferenceRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("invalid inference request",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request", map[string]interface{}{
			"fields": utils.GetValidationFields(err),
		})
		return
	}
	req.RequestID = requestID

	h.logger.Info("inference request received",
		zap.String("request_id", requestID),
		zap.String("project_id", req.ProjectID),
		zap.Int("message_count", len(req.Messages)))

	resp, err := h.service.Infer(ctx, &req)
	if err != nil {
		HandleServiceError(w, err, h.logger.With(
			zap.String("request_id", requestID),
			zap.String("project_id", req.ProjectID)))
		return
	}

	h.logger.Info("inference request completed",
		zap.String("request_id", requestID),
		zap.String("project_id", req.ProjectID),
		zap.String("model", resp.ModelUsed),
		zap.Float64("processing_time_ms", resp.ProcessingTimeMs))

	_ = utils.WriteOK(w, resp)
}

// decodeJSON reads a bounded JSON body into dst, writing 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Warn("failed to decode request body",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return false
	}
	return true
}
