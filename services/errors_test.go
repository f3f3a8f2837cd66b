package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "event not found",
				Err:     errors.New("store error"),
			},
			wantMsg: "not_found: event not found (store error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
				Err:     nil,
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	unwrapped := errors.Unwrap(domainErr)
	assert.Equal(t, baseErr, unwrapped)
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeNotFound, "not found", nil),
			target: ErrEventNotFound,
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeValidation, "validation", nil),
			target: ErrEventNotFound,
			want:   false,
		},
		{
			name:   "not a domain error",
			err:    NewDomainError(ErrorTypeNotFound, "not found", nil),
			target: errors.New("regular error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)

	err.WithDetail("field", "max_retries").WithDetail("value", "-1")

	assert.Equal(t, "max_retries", err.Details["field"])
	assert.Equal(t, "-1", err.Details["value"])
}

func TestClassifiers(t *testing.T) {
	checkers := map[ErrorType]func(error) bool{
		ErrorTypeNotFound:      IsNotFoundError,
		ErrorTypeValidation:    IsValidationError,
		ErrorTypeUnauthorized:  IsUnauthorizedError,
		ErrorTypeForbidden:     IsForbiddenError,
		ErrorTypeConflict:      IsConflictError,
		ErrorTypeInternal:      IsInternalError,
		ErrorTypeExternal:      IsExternalError,
		ErrorTypeLeakDetected:  IsLeakDetectedError,
		ErrorTypeEgressBlocked: IsEgressBlockedError,
	}

	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"missing event", ErrEventNotFound, ErrorTypeNotFound},
		{"missing receipt", ErrReceiptNotFound, ErrorTypeNotFound},
		{"oversized text", ErrTextTooLarge, ErrorTypeValidation},
		{"bad retry budget", ErrInvalidMaxRetries, ErrorTypeValidation},
		{"expired token", ErrTokenExpired, ErrorTypeUnauthorized},
		{"release without approval", ErrApprovalRequired, ErrorTypeForbidden},
		{"concurrent scrub", ErrEventInProgress, ErrorTypeConflict},
		{"auditor down", ErrAuditorUnavailable, ErrorTypeExternal},
		{"residual email", ErrLeakDetected, ErrorTypeLeakDetected},
		{"locked-down profile", ErrEgressBlocked, ErrorTypeEgressBlocked},
		{"wrapped sentinel", fmt.Errorf("scrub evt-1: %w", ErrStatusNotFound), ErrorTypeNotFound},
		{"plain error", errors.New("plain"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for errType, check := range checkers {
				assert.Equal(t, errType == tt.want, check(tt.err), "checker for %s", errType)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"not found", ErrEventNotFound, ErrorTypeNotFound},
		{"validation", ErrInvalidInput, ErrorTypeValidation},
		{"leak", ErrLeakDetected, ErrorTypeLeakDetected},
		{"egress", ErrEgressBlocked, ErrorTypeEgressBlocked},
		{"regular error", errors.New("regular"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)
	err.WithDetail("field", "max_retries").WithDetail("reason", "out of range")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "max_retries", details["field"])
	assert.Equal(t, "out of range", details["reason"])

	regularErr := errors.New("regular error")
	assert.Nil(t, GetErrorDetails(regularErr))
}

func TestWrapError(t *testing.T) {
	baseErr := errors.New("base error")
	wrapped := WrapError(ErrorTypeInternal, "wrapped message", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, ErrorTypeInternal, domainErr.Type)
	assert.Equal(t, "wrapped message", domainErr.Message)
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestWrapExternal(t *testing.T) {
	baseErr := errors.New("provider returned 503")
	wrapped := WrapExternal("audit request failed", baseErr)

	assert.True(t, IsExternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}
