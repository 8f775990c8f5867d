package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidReviewDecision = NewDomainError(ErrCodeValidation, "invalid review decision")
	ErrEmptyChanges          = NewDomainError(ErrCodeValidation, "changes text is required for this decision")
	ErrEmptyQuestion         = NewDomainError(ErrCodeValidation, "question is required")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrSummaryNotFound  = NewDomainError(ErrCodeNotFound, "summary not found")
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "knowledge document not found")
)

// Authorization errors
var (
	ErrInvalidAPIToken       = NewDomainError(ErrCodeUnauthorized, "invalid api token")
	ErrReviewerNotAuthorized = NewDomainError(ErrCodeForbidden, "requester is not an authorized reviewer")
)

// Operation errors
var (
	ErrSummaryAlreadyReviewed = NewDomainError(ErrCodeInvalidOperation, "summary has already been reviewed")
	ErrSummaryNotPending      = NewDomainError(ErrCodeInvalidOperation, "summary is not pending review")
)

// Provider errors
var (
	ErrStoreNotInitialized = NewDomainError(ErrCodeInternalError, "knowledge store is not initialized")
	ErrOracleUnavailable   = NewDomainError(ErrCodeInternalError, "language model is not configured")
)

// HasCode reports whether err is, or wraps, a DomainError with the given code
func HasCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
