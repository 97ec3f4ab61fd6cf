package core

import (
	"errors"
	"fmt"
)

// ErrorType categorizes engine errors.
type ErrorType string

const (
	// ErrConnection covers negotiation and network-path failures.
	ErrConnection ErrorType = "connection_error"
	// ErrCredential covers rejected, expired, or malformed session credentials.
	ErrCredential ErrorType = "credential_error"
	// ErrAudio covers microphone and audio-format failures.
	ErrAudio ErrorType = "audio_error"
	// ErrProtocol covers malformed or rejected protocol frames.
	ErrProtocol ErrorType = "protocol_error"
	// ErrRateLimit covers backend throttling.
	ErrRateLimit ErrorType = "rate_limit_error"
	// ErrBusiness covers order-level failures (unrecognized item, incomplete order).
	ErrBusiness ErrorType = "business_error"
)

// Well-known error codes that override the per-type retry default.
const (
	CodeMicPermissionDenied = "mic_permission_denied"
	CodeCredentialExpired   = "credential_expired"
	CodeNegotiationTimeout  = "negotiation_timeout"
	CodeReconnectExhausted  = "reconnect_exhausted"
)

// Error is the engine's error type. Connection and protocol errors are
// handled internally (reconnect, backoff) up to configured limits; only
// non-retryable errors or limit exhaustion reach the caller.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure may be retried by the engine.
// Microphone permission denial and credential failures require user action
// and are never retried; business errors route back into the conversation
// as a clarification turn instead.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeMicPermissionDenied, CodeCredentialExpired, CodeReconnectExhausted:
		return false
	}
	switch e.Type {
	case ErrConnection, ErrProtocol, ErrRateLimit:
		return true
	case ErrAudio:
		return true // format/buffer errors; permission denial is caught by code above
	default:
		return false
	}
}

// NewConnectionError creates a connection-layer error.
func NewConnectionError(message string, cause error) *Error {
	return &Error{Type: ErrConnection, Message: message, Cause: cause}
}

// NewCredentialError creates a credential error.
func NewCredentialError(message string, cause error) *Error {
	return &Error{Type: ErrCredential, Message: message, Cause: cause}
}

// NewAudioError creates an audio error with the given code.
func NewAudioError(message, code string, cause error) *Error {
	return &Error{Type: ErrAudio, Message: message, Code: code, Cause: cause}
}

// NewProtocolError creates a protocol error with the backend-reported code.
func NewProtocolError(message, code string) *Error {
	return &Error{Type: ErrProtocol, Message: message, Code: code}
}

// NewBusinessError creates a business-logic error.
func NewBusinessError(message, code string) *Error {
	return &Error{Type: ErrBusiness, Message: message, Code: code}
}

// IsRetryable reports whether err is a retryable engine error. Non-engine
// errors are treated as retryable connection-level faults.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return err != nil
}
