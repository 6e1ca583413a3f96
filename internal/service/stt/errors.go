package stt

import (
	"errors"
	"fmt"
)

// Error kinds shared by all providers.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrProtocolViolation    = errors.New("protocol violation")
	ErrBackendFailure       = errors.New("backend reported a fatal error")
	ErrMidStream            = errors.New("mid-stream failure")
)

// ProviderError is a classified failure from a provider transport.
// errors.Is matches both Kind and the underlying cause.
type ProviderError struct {
	Provider string
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError classifies err under kind for provider.
func NewError(provider string, kind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// Fallbackable reports whether err on a first connection attempt allows
// substituting the mock engine.
func Fallbackable(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrBackendUnavailable)
}

// Reason returns a short metrics label for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication"
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol"
	case errors.Is(err, ErrBackendFailure):
		return "backend"
	default:
		return "other"
	}
}
