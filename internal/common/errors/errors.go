// Package errors provides standardized error handling for the intake and
// decision workflow.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Intake errors
const (
	ErrCodeFormNotFound       ErrorCode = "FORM_NOT_FOUND"
	ErrCodeChannelUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"
	ErrCodeSessionActive      ErrorCode = "SESSION_ACTIVE"
)

// Decision errors
const (
	ErrCodeApplicationNotFound ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeAlreadyDecided      ErrorCode = "ALREADY_DECIDED"
	ErrCodeRoleGrantFailed     ErrorCode = "ROLE_GRANT_FAILED"
	ErrCodeNotificationFailed  ErrorCode = "NOTIFICATION_FAILED"
)

// Infrastructure errors
const (
	ErrCodeStoreQueryFailed  ErrorCode = "STORE_QUERY_FAILED"
	ErrCodeCatalogReadFailed ErrorCode = "CATALOG_READ_FAILED"
	ErrCodeFormInvalid       ErrorCode = "FORM_INVALID"
	ErrCodeFormExists        ErrorCode = "FORM_EXISTS"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the error code from err, or empty when err is not a
// StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// AsStandardError unwraps err to a StandardError, or nil if it is not one.
func AsStandardError(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return nil
}

// NewFormNotFoundError creates a non-retryable catalog lookup error.
func NewFormNotFoundError(formKey string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFormNotFound,
		Message:   "Form not found in catalog",
		Details:   fmt.Sprintf("formKey: %s", formKey),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewChannelUnavailableError creates a non-retryable transport error raised
// when a candidate's private channel cannot be established.
func NewChannelUnavailableError(candidateID string, err error) *StandardError {
	details := fmt.Sprintf("candidateId: %s", candidateID)
	if err != nil {
		details = fmt.Sprintf("candidateId: %s, error: %s", candidateID, err.Error())
	}
	return &StandardError{
		Code:      ErrCodeChannelUnavailable,
		Message:   "Candidate private channel unavailable",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionActiveError creates a non-retryable error for a second intake
// attempt while a session for the same candidate and form is in flight.
func NewSessionActiveError(candidateID, formKey string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionActive,
		Message:   "An intake session is already in progress",
		Details:   fmt.Sprintf("candidateId: %s, formKey: %s", candidateID, formKey),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewApplicationNotFoundError creates a non-retryable lookup error.
func NewApplicationNotFoundError(applicationID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "Application not found",
		Details:   fmt.Sprintf("applicationId: %d", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedError creates a non-retryable authorization error.
func NewUnauthorizedError(reviewerID, originID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthorized,
		Message:   "Reviewer lacks administrative capability over the origin",
		Details:   fmt.Sprintf("reviewerId: %s, originId: %s", reviewerID, originID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadyDecidedError creates a non-retryable error for a decision attempt
// on an application that already left the pending state. The current status is
// carried in Metadata under "currentStatus".
func NewAlreadyDecidedError(applicationID int64, currentStatus string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlreadyDecided,
		Message:   "Application has already been decided",
		Details:   fmt.Sprintf("applicationId: %d, currentStatus: %s", applicationID, currentStatus),
		Retryable: false,
		Metadata:  map[string]interface{}{"currentStatus": currentStatus},
		Timestamp: time.Now().UTC(),
	}
}

// NewRoleGrantFailedError creates a non-fatal role grant error. The status
// transition it follows is never rolled back.
func NewRoleGrantFailedError(roleID, candidateID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRoleGrantFailed,
		Message:   "Role grant failed after acceptance",
		Details:   fmt.Sprintf("roleId: %s, candidateId: %s, error: %v", roleID, candidateID, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationFailedError creates a non-fatal delivery error.
func NewNotificationFailedError(recipientID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("recipientId: %s, error: %v", recipientID, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreQueryFailedError creates a retryable application store error.
func NewStoreQueryFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreQueryFailed,
		Message:   "Application store query failed",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCatalogReadFailedError creates a retryable catalog I/O error.
func NewCatalogReadFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCatalogReadFailed,
		Message:   "Form catalog read failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewFormInvalidError creates a non-retryable schema validation error.
func NewFormInvalidError(formKey string, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFormInvalid,
		Message:   "Form definition failed schema validation",
		Details:   fmt.Sprintf("formKey: %s, %s", formKey, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewFormExistsError creates a non-retryable duplicate key error.
func NewFormExistsError(formKey string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFormExists,
		Message:   "A form with that key already exists",
		Details:   fmt.Sprintf("formKey: %s", formKey),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
