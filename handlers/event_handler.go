package handlers

import (
	"context"
	"net/http"

	"github.com/upb/privacy-shield/middleware"
	"github.com/upb/privacy-shield/services/events"
	"github.com/upb/privacy-shield/utils"
	"go.uber.org/zap"
)

// CreateEventRequest is the body of POST /api/v1/events
type CreateEventRequest struct {
	Text   string `json:"text" validate:"notblank"`
	Source string `json:"source,omitempty" validate:"omitempty,max=64"`
}

// EventService stores raw payloads for later scrubbing
type EventService interface {
	Create(ctx context.Context, text, source string) (*events.Event, error)
}

// EventHandler handles event intake
type EventHandler struct {
	service      EventService
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(service EventService, logger *zap.Logger, maxBodyBytes int64) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		service:      service,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleCreate handles POST /api/v1/events
func (h *EventHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateEventRequest
	if !decodeAndValidate(w, r, &req, h.maxBodyBytes, h.logger) {
		return
	}

	event, err := h.service.Create(ctx, req.Text, req.Source)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("event accepted",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("event_id", event.ID),
		zap.Int("length", event.Length))

	_ = utils.WriteCreated(w, event)
}
