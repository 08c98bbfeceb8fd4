package fulfill

import (
	"errors"
	"fmt"
)

// DispatchError is the typed failure returned across the dispatch pipeline.
type DispatchError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeAuthDenied       = "auth_denied"
	ErrCodeBlockedTarget    = "blocked_target"
	ErrCodeTransportFailed  = "transport_failed"
	ErrCodeTimeout          = "timeout"
	ErrCodeUpstreamStatus   = "upstream_error"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeGateUnavailable  = "gate_unavailable"
)

// NewDispatchError creates a new dispatch error.
func NewDispatchError(code, message string) *DispatchError {
	return &DispatchError{Code: code, Message: message}
}

// NewBlockedTargetError creates the SSRF-guard rejection. It maps to a
// bad-gateway class response at the HTTP surface.
func NewBlockedTargetError(host, reason string) *DispatchError {
	return &DispatchError{
		Code:       ErrCodeBlockedTarget,
		Message:    fmt.Sprintf("destination %s is not reachable from this dispatcher", host),
		StatusCode: 502,
		Detail:     reason,
	}
}

// ErrorCode extracts the dispatch error code from err, or "" when err is not
// a DispatchError.
func ErrorCode(err error) string {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsBlockedTarget reports whether err is an SSRF-guard rejection.
func IsBlockedTarget(err error) bool {
	return ErrorCode(err) == ErrCodeBlockedTarget
}

// IsPayloadTooLarge reports whether err is an oversized-response rejection.
func IsPayloadTooLarge(err error) bool {
	return ErrorCode(err) == ErrCodePayloadTooLarge
}
