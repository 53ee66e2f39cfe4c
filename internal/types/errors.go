package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the provider-agnostic error taxonomy of spec.md §7. Every
// kind carries whether it's retryable, its HTTP status mapping, and the
// fallback category it triggers in the router.
type ErrorKind string

const (
	ErrAuthentication      ErrorKind = "authentication"
	ErrAuthorization       ErrorKind = "authorization"
	ErrRateLimit           ErrorKind = "rate_limit"
	ErrQuotaExceeded       ErrorKind = "quota_exceeded"
	ErrModelNotFound       ErrorKind = "model_not_found"
	ErrInvalidRequest      ErrorKind = "invalid_request"
	ErrContextLength       ErrorKind = "context_length_exceeded"
	ErrContentFiltered     ErrorKind = "content_filtered"
	ErrNetwork             ErrorKind = "network"
	ErrTimeout             ErrorKind = "timeout"
	ErrParsing             ErrorKind = "parsing"
	ErrStreaming           ErrorKind = "streaming"
	ErrNotSupported        ErrorKind = "not_supported"
	ErrServiceUnavailable  ErrorKind = "service_unavailable"
	ErrCircuitOpen         ErrorKind = "circuit_open"
	ErrInternal            ErrorKind = "internal"
)

// FallbackCategory buckets errors for the router's fallback-model lookup.
type FallbackCategory string

const (
	FallbackNone          FallbackCategory = ""
	FallbackGeneral       FallbackCategory = "general"
	FallbackContentPolicy FallbackCategory = "content_policy"
	FallbackContextWindow FallbackCategory = "context_window"
	FallbackRateLimit     FallbackCategory = "rate_limit"
)

type errorSpec struct {
	retryable      bool
	defaultRetry   float64 // seconds; 0 means "no default"
	httpStatus     int
	fallback       FallbackCategory
}

var errorTable = map[ErrorKind]errorSpec{
	ErrAuthentication:     {false, 0, 401, FallbackNone},
	ErrAuthorization:      {false, 0, 403, FallbackNone},
	ErrRateLimit:          {true, 60, 429, FallbackRateLimit},
	ErrQuotaExceeded:      {false, 0, 402, FallbackNone},
	ErrModelNotFound:      {false, 0, 404, FallbackGeneral},
	ErrInvalidRequest:     {false, 0, 400, FallbackNone},
	ErrContextLength:      {false, 0, 400, FallbackContextWindow},
	ErrContentFiltered:    {false, 0, 400, FallbackContentPolicy},
	ErrNetwork:            {true, 1, 503, FallbackGeneral},
	ErrTimeout:            {true, 1, 504, FallbackGeneral},
	ErrParsing:            {false, 0, 502, FallbackNone},
	ErrStreaming:          {true, 1, 502, FallbackGeneral},
	ErrNotSupported:       {false, 0, 405, FallbackNone},
	ErrServiceUnavailable: {true, 5, 503, FallbackGeneral},
	ErrCircuitOpen:        {false, 0, 503, FallbackGeneral},
	ErrInternal:           {false, 0, 500, FallbackNone},
}

// ProviderError is the typed error every provider operation fails with.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	Message    string
	HTTPStatus int     // upstream HTTP status, if any; 0 if not applicable
	RetryAfter float64 // seconds; provider-hinted value, else the kind's default
	Err        error   // wrapped cause, if any
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the router may retry this error on the same
// or another deployment.
func (e *ProviderError) Retryable() bool {
	return errorTable[e.Kind].retryable
}

// HTTPStatusCode returns the upstream HTTP status recorded on the error,
// if any; otherwise it maps the error kind to the response status the
// server layer uses when this error escapes to an HTTP caller.
func (e *ProviderError) HTTPStatusCode() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return errorTable[e.Kind].httpStatus
}

// FallbackCategory returns the router fallback bucket this error triggers.
func (e *ProviderError) FallbackCategory() FallbackCategory {
	return errorTable[e.Kind].fallback
}

// EffectiveRetryAfter returns the provider-hinted retry-after in seconds,
// falling back to the kind's default per spec.md §7's table.
func (e *ProviderError) EffectiveRetryAfter() float64 {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	return errorTable[e.Kind].defaultRetry
}

// NewProviderError constructs a ProviderError, wrapping cause if given.
func NewProviderError(provider string, kind ErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message, Err: cause}
}

// AsProviderError extracts a *ProviderError from err's chain, if present.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
