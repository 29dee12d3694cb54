package domain

import (
	"errors"
	"time"
)

// Common errors used throughout the application.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrLockBusy           = errors.New("operation already in progress")
	ErrLockLost           = errors.New("lease no longer held")
	ErrAutomationFailed   = errors.New("automation failed")
)

// Error codes for standardized API error responses.
const (
	ErrCodeResourceNotFound      = "RESOURCE_NOT_FOUND"
	ErrCodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeValidationError       = "VALIDATION_ERROR"
	ErrCodePreconditionFailed    = "PRECONDITION_FAILED"
	ErrCodeOperationInProgress   = "OPERATION_IN_PROGRESS"
	ErrCodeAutomationFailed      = "AUTOMATION_FAILED"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// StandardError represents a standardized error response from the API.
type StandardError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// StandardErrorResponse wraps a StandardError for JSON responses.
type StandardErrorResponse struct {
	Error StandardError `json:"error"`
}

// AutomationError carries the per-host results of a failed automation run.
// It unwraps to ErrAutomationFailed.
type AutomationError struct {
	Operation Operation
	StackID   string
	Reason    string
	Hosts     []HostResult
}

// Error implements the error interface.
func (e *AutomationError) Error() string {
	return string(e.Operation) + " on stack " + e.StackID + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrAutomationFailed.
func (e *AutomationError) Unwrap() error {
	return ErrAutomationFailed
}

// LockBusyError reports the live lease that blocked an acquire.
// It unwraps to ErrLockBusy.
type LockBusyError struct {
	StackID  string
	Holder   string
	Deadline time.Time
}

// Error implements the error interface.
func (e *LockBusyError) Error() string {
	return "stack " + e.StackID + ": operation already in progress (held by " + e.Holder + ")"
}

// Unwrap lets errors.Is match ErrLockBusy.
func (e *LockBusyError) Unwrap() error {
	return ErrLockBusy
}
