package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure. Every kind advances the fallback chain.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindQuota     Kind = "quota"
	KindSchema    Kind = "schema"
)

// Error is a classified failure of a single provider attempt.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: %s (HTTP %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified provider error.
func NewError(provider string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// KindOf returns the classification of err, or "" when err is not a provider error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// classifyStatus maps a non-2xx HTTP status to a failure kind.
func classifyStatus(status int) Kind {
	switch status {
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return KindQuota
	}
	return KindTransport
}

// classifyQuotaCode reports whether a provider error code denotes an exhausted quota.
func classifyQuotaCode(code string) bool {
	switch code {
	case "insufficient_quota", "rate_limit_exceeded", "rate_limit_error", "RESOURCE_EXHAUSTED":
		return true
	}
	return false
}

// wrapCallError classifies an error raised while sending a request or reading its body.
func wrapCallError(ctx context.Context, provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(provider, KindTimeout, err)
	}
	return NewError(provider, KindTransport, err)
}
