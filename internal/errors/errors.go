package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrBackendFailure = errors.New("purchasing backend failure")
	ErrUnknownRequest = errors.New("unknown request id")
	ErrStaleUser      = errors.New("result for a user that is no longer tracked")
	ErrInvalidSKU     = errors.New("invalid sku")
	ErrStoreFailure   = errors.New("entitlement store failure")
	ErrNoUser         = errors.New("no user resolved")
	ErrNotSubscribed  = errors.New("subscription required")
	ErrNoCredits      = errors.New("no clicks left")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeBackend        ErrorType = "backend"
	ErrorTypeUnknownRequest ErrorType = "unknown_request"
	ErrorTypeStaleUser      ErrorType = "stale_user"
	ErrorTypeInvalidSKU     ErrorType = "invalid_sku"
	ErrorTypeStore          ErrorType = "store"
)

// ReconcileError describes a failed step while applying a purchasing event.
type ReconcileError struct {
	Type      ErrorType
	Op        string // e.g. "purchase_updates", "initiate_purchase"
	UserID    string
	RequestID string
	Err       error
	Timestamp time.Time
}

func (e *ReconcileError) Error() string {
	switch {
	case e.UserID != "" && e.RequestID != "":
		return fmt.Sprintf("%s failed for user %s (request %s): %v", e.Op, e.UserID, e.RequestID, e.Err)
	case e.UserID != "":
		return fmt.Sprintf("%s failed for user %s: %v", e.Op, e.UserID, e.Err)
	case e.RequestID != "":
		return fmt.Sprintf("%s failed (request %s): %v", e.Op, e.RequestID, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ReconcileError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrBackendFailure:
		return e.Type == ErrorTypeBackend
	case ErrUnknownRequest:
		return e.Type == ErrorTypeUnknownRequest
	case ErrStaleUser:
		return e.Type == ErrorTypeStaleUser
	case ErrInvalidSKU:
		return e.Type == ErrorTypeInvalidSKU
	case ErrStoreFailure:
		return e.Type == ErrorTypeStore
	}

	return errors.Is(e.Err, target)
}

// New creates a ReconcileError
func New(errorType ErrorType, op, userID string, err error) *ReconcileError {
	return &ReconcileError{
		Type:      errorType,
		Op:        op,
		UserID:    userID,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithRequest adds the request id to the error
func (e *ReconcileError) WithRequest(requestID string) *ReconcileError {
	e.RequestID = requestID
	return e
}

// WrapBackendError wraps a failed call to the purchasing backend
func WrapBackendError(op, userID string, err error) error {
	return New(ErrorTypeBackend, op, userID, err)
}

// WrapStoreError wraps a failed read or commit of entitlement state
func WrapStoreError(op, userID string, err error) error {
	return New(ErrorTypeStore, op, userID, err)
}

// IsFatal reports whether err means state was not persisted. Everything else
// in the taxonomy is expected and only logged.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		return recErr.Type == ErrorTypeStore
	}
	return errors.Is(err, ErrStoreFailure)
}

// TypeOf returns the category of err, or "" when err is not a ReconcileError.
func TypeOf(err error) ErrorType {
	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		return recErr.Type
	}
	return ""
}
