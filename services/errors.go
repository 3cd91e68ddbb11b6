package services

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnknownSubscriber    = errors.New("unknown subscriber")
	ErrUnknownRule          = errors.New("unknown rule")
	ErrNotificationDelivery = errors.New("notification delivery failed")

	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStoreUnavailable   = errors.New("storage not configured")
)

// UpstreamError describes a failed market data request
type UpstreamError struct {
	Currency   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream error [%s]: status %d", e.Currency, e.StatusCode)
	}
	return fmt.Sprintf("upstream error [%s]: %v", e.Currency, e.Err)
}

// Unwrap lets errors.Is match both the cause and ErrUpstreamUnavailable
func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstreamUnavailable}
	}
	return []error{ErrUpstreamUnavailable, e.Err}
}

// ValidationError represents a rejected request field
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}
