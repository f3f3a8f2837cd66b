package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/privacy-shield/services"
	"github.com/upb/privacy-shield/utils"
	"go.uber.org/zap"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{"not found", services.ErrEventNotFound, http.StatusNotFound, "not_found"},
		{"validation", services.ErrInvalidMaxRetries, http.StatusBadRequest, "bad_request"},
		{"unauthorized", services.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", services.ErrApprovalRequired, http.StatusForbidden, "forbidden"},
		{"conflict", services.ErrEventInProgress, http.StatusConflict, "conflict"},
		{"leak", services.ErrLeakDetected, http.StatusUnprocessableEntity, "leak_detected"},
		{"egress blocked", services.ErrEgressBlocked, http.StatusForbidden, "egress_blocked"},
		{"external", services.ErrAuditorUnavailable, http.StatusBadGateway, "bad_gateway"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"internal", services.ErrInternal, http.StatusInternalServerError, "internal_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedError, decodeErrorBody(t, w).Error)
		})
	}

	t.Run("nil error writes nothing", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleServiceError(w, nil, logger)
		assert.Empty(t, w.Body.String())
	})
}

func TestHandleServiceError_Details(t *testing.T) {
	logger := zap.NewNop()

	t.Run("leak carries reason codes", func(t *testing.T) {
		err := services.NewDomainError(services.ErrorTypeLeakDetected, services.ErrLeakDetected.Message, nil).
			WithDetail("reason_codes", []string{"email_pattern_detected"})

		w := httptest.NewRecorder()
		HandleServiceError(w, err, logger)

		response := decodeErrorBody(t, w)
		assert.Equal(t, []interface{}{"email_pattern_detected"}, response.Details["reason_codes"])
	})

	t.Run("release denial carries reason", func(t *testing.T) {
		err := services.NewDomainError(services.ErrorTypeForbidden, services.ErrApprovalRequired.Message, nil).
			WithDetail("reason", "approval_token_invalid")

		w := httptest.NewRecorder()
		HandleServiceError(w, err, logger)

		response := decodeErrorBody(t, w)
		assert.Equal(t, "release requires a valid approval token", response.Message)
		assert.Equal(t, "approval_token_invalid", response.Details["reason"])
	})

	t.Run("wrapped cause is not exposed", func(t *testing.T) {
		err := services.WrapInternal("failed to load event", errors.New("dial tcp 10.0.0.7:5432"))

		w := httptest.NewRecorder()
		HandleServiceError(w, err, logger)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "10.0.0.7")
		assert.NotContains(t, w.Body.String(), "failed to load event")
	})

	t.Run("domain message without cause", func(t *testing.T) {
		err := services.NewDomainError(services.ErrorTypeValidation, "text exceeds maximum length", errors.New("raw: Anna Berg")).
			WithDetail("max_chars", 5)

		w := httptest.NewRecorder()
		HandleServiceError(w, err, logger)

		response := decodeErrorBody(t, w)
		assert.Equal(t, "text exceeds maximum length", response.Message)
		assert.Equal(t, float64(5), response.Details["max_chars"])
		assert.NotContains(t, w.Body.String(), "Anna")
	})
}

func TestHandleValidationError(t *testing.T) {
	logger := zap.NewNop()

	t.Run("field errors become details", func(t *testing.T) {
		err := &utils.ValidationError{Message: "Validation failed", Fields: map[string]string{"event_id": "event_id is required"}}

		w := httptest.NewRecorder()
		HandleValidationError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		response := decodeErrorBody(t, w)
		assert.Equal(t, "Validation failed", response.Message)
		assert.Equal(t, "event_id is required", response.Details["event_id"])
	})

	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleValidationError(w, errors.New("bad input"), logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bad input", decodeErrorBody(t, w).Message)
	})
}
