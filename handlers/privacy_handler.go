package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/privacy-shield/middleware"
	"github.com/upb/privacy-shield/services/privacy"
	"github.com/upb/privacy-shield/services/receipt"
	"github.com/upb/privacy-shield/utils"
	"go.uber.org/zap"
)

// PrivacyService is the pipeline as seen by the HTTP layer
type PrivacyService interface {
	Scrub(ctx context.Context, req privacy.ScrubRequest) (*privacy.ScrubResult, error)
	Mask(ctx context.Context, req privacy.MaskRequest) (*privacy.MaskResult, error)
	Status(ctx context.Context, eventID string) (*privacy.PrivacyStatus, error)
	Release(ctx context.Context, eventID, token string) (*privacy.ReleaseDecision, error)
	Receipt(ctx context.Context, eventID string) (*receipt.Receipt, error)
}

// PrivacyHandler handles the /api/v1/privacy endpoints
type PrivacyHandler struct {
	service      PrivacyService
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewPrivacyHandler creates a new PrivacyHandler. maxBodyBytes <= 0 selects
// utils.DefaultMaxBodyBytes.
func NewPrivacyHandler(service PrivacyService, logger *zap.Logger, maxBodyBytes int64) *PrivacyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrivacyHandler{
		service:      service,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleScrub handles POST /api/v1/privacy/scrub
func (h *PrivacyHandler) HandleScrub(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req privacy.ScrubRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Scrub(ctx, req)
	if err != nil {
		h.logger.Warn("scrub failed",
			zap.String("request_id", requestID),
			zap.String("event_id", req.EventID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("scrub completed",
		zap.String("request_id", requestID),
		zap.String("event_id", result.EventID),
		zap.Bool("gated", result.Gated))

	_ = utils.WriteOK(w, result)
}

// HandleMask handles POST /api/v1/privacy/mask
func (h *PrivacyHandler) HandleMask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req privacy.MaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Mask(ctx, req)
	if err != nil {
		// Text is never logged; the error carries reason codes only.
		h.logger.Warn("mask failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleStatus handles GET /api/v1/privacy/status/{event_id}
func (h *PrivacyHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventIDParam(w, r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), eventID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, status)
}

// HandleRelease handles POST /api/v1/privacy/release
func (h *PrivacyHandler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req privacy.ReleaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	decision, err := h.service.Release(ctx, req.EventID, req.ApprovalToken)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("release granted",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("event_id", decision.EventID),
		zap.String("reason", decision.Reason),
		zap.String("sub", middleware.SubjectFromContext(ctx)))

	_ = utils.WriteOK(w, decision)
}

// HandleReceipt handles GET /api/v1/privacy/receipts/{event_id}
func (h *PrivacyHandler) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventIDParam(w, r)
	if !ok {
		return
	}

	rec, err := h.service.Receipt(r.Context(), eventID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, rec)
}

// decode reads and validates a JSON body, writing a 400 on failure
func (h *PrivacyHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return decodeAndValidate(w, r, dst, h.maxBodyBytes, h.logger)
}

func (h *PrivacyHandler) eventIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	eventID := chi.URLParam(r, "event_id")
	if err := utils.ValidateEventID(eventID); err != nil {
		HandleValidationError(w, err, h.logger)
		return "", false
	}
	return eventID, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, maxBodyBytes int64, logger *zap.Logger) bool {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	if err := utils.DecodeJSON(w, r, dst, maxBodyBytes); err != nil {
		logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Any("fields", utils.GetValidationFields(err)))
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}
