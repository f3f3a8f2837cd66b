package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
	ErrorTypeLeakDetected  ErrorType = "leak_detected"
	ErrorTypeEgressBlocked ErrorType = "egress_blocked"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrEventNotFound   = NewDomainError(ErrorTypeNotFound, "event not found", nil)
	ErrStatusNotFound  = NewDomainError(ErrorTypeNotFound, "privacy status not found", nil)
	ErrReceiptNotFound = NewDomainError(ErrorTypeNotFound, "receipt not found", nil)

	// Validation Errors
	ErrInvalidInput        = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyText           = NewDomainError(ErrorTypeValidation, "text cannot be empty", nil)
	ErrTextTooLarge        = NewDomainError(ErrorTypeValidation, "text exceeds maximum length", nil)
	ErrInvalidMaxRetries   = NewDomainError(ErrorTypeValidation, "max_retries out of range", nil)
	ErrInvalidMaskMode     = NewDomainError(ErrorTypeValidation, "invalid mask mode", nil)
	ErrAnonymizationFailed = NewDomainError(ErrorTypeValidation, "anonymization could not be guaranteed", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden        = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrApprovalRequired = NewDomainError(ErrorTypeForbidden, "release requires a valid approval token", nil)

	// Conflict Errors
	ErrEventInProgress = NewDomainError(ErrorTypeConflict, "event is already being processed", nil)

	// Internal Errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)

	// External Errors
	ErrAuditorUnavailable = NewDomainError(ErrorTypeExternal, "semantic auditor unavailable", nil)
	ErrProviderError      = NewDomainError(ErrorTypeExternal, "LLM provider error", nil)

	// Leak Errors
	ErrLeakDetected = NewDomainError(ErrorTypeLeakDetected, "residual identifying data detected after masking", nil)

	// Egress Errors
	ErrEgressBlocked = NewDomainError(ErrorTypeEgressBlocked, "outbound traffic blocked by deployment profile", nil)
)

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == t
}

// IsNotFoundError reports a missing event, status or receipt
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

// IsForbiddenError reports a refused release or a missing scope
func IsForbiddenError(err error) bool { return hasType(err, ErrorTypeForbidden) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return hasType(err, ErrorTypeConflict) }

// IsLeakDetectedError reports residual identifying data after masking
func IsLeakDetectedError(err error) bool { return hasType(err, ErrorTypeLeakDetected) }

// IsEgressBlockedError reports an outbound call refused by the deployment profile
func IsEgressBlockedError(err error) bool { return hasType(err, ErrorTypeEgressBlocked) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// IsExternalError reports a failed call to an upstream model
func IsExternalError(err error) bool { return hasType(err, ErrorTypeExternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
