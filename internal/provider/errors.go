package provider

import (
	"errors"
	"fmt"
)

// Error codes for the integration layer.
const (
	CodeInactiveIntegration = "INACTIVE_INTEGRATION"
	CodeConnectionFailed    = "CONNECTION_FAILED"
	CodeNoAccessToken       = "NO_ACCESS_TOKEN"
	CodeHTTPError           = "HTTP_ERROR"
	CodeWebhookHTTPError    = "WEBHOOK_HTTP_ERROR"
	CodeUnsupportedSyncType = "UNSUPPORTED_SYNC_TYPE"
	CodeInvalidConfig       = "INVALID_CONFIG"
)

// IntegrationError is a typed provider error carrying a retryability flag.
// Retryable errors are transient and eligible for automatic re-attempt
// under backoff; everything else aborts immediately.
type IntegrationError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *IntegrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// RetryableError implements the classification contract consumed by pkg/retry.
func (e *IntegrationError) RetryableError() bool { return e.Retryable }

// NewError builds a non-retryable IntegrationError.
func NewError(code, message string) *IntegrationError {
	return &IntegrationError{Code: code, Message: message}
}

// NewRetryableError builds a transient IntegrationError.
func NewRetryableError(code, message string) *IntegrationError {
	return &IntegrationError{Code: code, Message: message, Retryable: true}
}

// HTTPError classifies a non-2xx response: retryable only for 5xx statuses.
func HTTPError(code string, status int, body string) *IntegrationError {
	return &IntegrationError{
		Code:      code,
		Message:   fmt.Sprintf("HTTP %d: %s", status, body),
		Retryable: status >= 500,
	}
}

// ErrorCode extracts the integration error code, or "" for foreign errors.
func ErrorCode(err error) string {
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// IsRetryable reports whether err is a transient IntegrationError.
func IsRetryable(err error) bool {
	var ie *IntegrationError
	return errors.As(err, &ie) && ie.Retryable
}
