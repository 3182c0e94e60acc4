package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrConnectionClosed is returned when sending on a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a recipient's outbound queue has no room
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrAlreadyRegistered is raised in strict mode for a duplicate registration
	ErrAlreadyRegistered = errors.New("connection already registered")

	// ErrTimeout is returned when an operation times out
	ErrTimeout = errors.New("operation timed out")
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrCodeAlreadyExists marks a duplicate registration
const ErrCodeAlreadyExists = "ALREADY_EXISTS"
