package errors

import (
	"fmt"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeValidation indicates input validation errors
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNetwork indicates board or peer transport errors
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeDatabase indicates database operation errors
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeRPC indicates RPC-related errors
	ErrCodeRPC ErrorCode = "RPC"

	// ErrCodeLedger indicates the ledger rejected a query or vote
	ErrCodeLedger ErrorCode = "LEDGER"

	// ErrCodeProtocol indicates a DKG or signing protocol failure
	ErrCodeProtocol ErrorCode = "PROTOCOL"

	// ErrCodeTimeout indicates timeout errors
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// SignerError is a coded error raised by the signer's collaborators.
type SignerError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Severity Severity               `json:"severity"`
	Cause    error                  `json:"-"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// NewSignerError creates a new SignerError
func NewSignerError(code ErrorCode, message string, cause error) *SignerError {
	return &SignerError{
		Code:     code,
		Message:  message,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *SignerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *SignerError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *SignerError) WithContext(key string, value interface{}) *SignerError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *SignerError) WithSeverity(severity Severity) *SignerError {
	e.Severity = severity
	return e
}

// IsRetryable returns true if the error is retryable
func (e *SignerError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout:
		return true
	case ErrCodeDatabase:
		return e.Severity != SeverityCritical
	default:
		return false
	}
}

func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal:
		return SeverityCritical
	case ErrCodeDatabase, ErrCodeProtocol:
		return SeverityHigh
	case ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout, ErrCodeLedger:
		return SeverityMedium
	case ErrCodeValidation, ErrCodeConfig:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *SignerError {
	return NewSignerError(ErrCodeValidation, message, nil)
}

// NewNetworkError creates a network error
func NewNetworkError(message string, cause error) *SignerError {
	return NewSignerError(ErrCodeNetwork, message, cause)
}

// NewDatabaseError creates a database error
func NewDatabaseError(message string, cause error) *SignerError {
	return NewSignerError(ErrCodeDatabase, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string) *SignerError {
	return NewSignerError(ErrCodeConfig, message, nil)
}

// NewRPCError creates an RPC error
func NewRPCError(message string, cause error) *SignerError {
	return NewSignerError(ErrCodeRPC, message, cause)
}

// NewLedgerError creates a ledger error
func NewLedgerError(message string, cause error) *SignerError {
	return NewSignerError(ErrCodeLedger, message, cause)
}

// NewProtocolError creates a protocol error
func NewProtocolError(message string, cause error) *SignerError {
	return NewSignerError(ErrCodeProtocol, message, cause)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *SignerError {
	return NewSignerError(ErrCodeTimeout, message, nil)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *SignerError {
	return NewSignerError(ErrCodeInternal, message, cause)
}
