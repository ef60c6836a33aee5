package errors

import (
	"errors"
	"strings"
)

// WrapSignerError wraps an error as a SignerError if it isn't already one
func WrapSignerError(err error, code ErrorCode, message string) *SignerError {
	if err == nil {
		return nil
	}
	var signerErr *SignerError
	if errors.As(err, &signerErr) {
		signerErr.WithContext("wrapped_message", message)
		return signerErr
	}
	return NewSignerError(code, message, err)
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsSignerError checks if an error is a SignerError with specific code
func IsSignerError(err error, code ErrorCode) bool {
	var signerErr *SignerError
	if errors.As(err, &signerErr) {
		return signerErr.Code == code
	}
	return false
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var signerErr *SignerError
	if errors.As(err, &signerErr) {
		return signerErr.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	var signerErr *SignerError
	if errors.As(err, &signerErr) {
		return signerErr.Severity
	}
	return SeverityHigh
}
