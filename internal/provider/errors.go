package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an upstream failure for retry and fallback decisions.
// Classification happens at the provider boundary from status codes and
// transport error types, never from message text.
type Kind string

const (
	KindEmptyResponse   Kind = "empty_response"
	KindRateLimited     Kind = "rate_limited"
	KindAuthentication  Kind = "authentication"
	KindNetwork         Kind = "network"
	KindInvalidResponse Kind = "invalid_response"
	KindAPI             Kind = "api_error"
)

// Error is a classified upstream failure.
type Error struct {
	Kind     Kind
	Provider string
	Model    string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s/%s: %s (status %d): %s", e.Provider, e.Model, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s: %s", e.Provider, e.Model, e.Kind, e.Message)
}

// Retryable reports whether the failure is worth another attempt. Rate
// limits and network failures always are; uncategorized API failures only
// when they carry a transient status. Authentication and parse failures
// never are.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindNetwork:
		return true
	case KindAPI:
		return e.Status == http.StatusRequestTimeout || e.Status >= 500
	default:
		return false
	}
}

// AsError unwraps err into a classified provider error.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// classifyStatus maps a non-200 HTTP status to an error kind.
func classifyStatus(provider, model string, status int, message string) *Error {
	e := &Error{Provider: provider, Model: model, Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuthentication
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	default:
		e.Kind = KindAPI
	}
	return e
}

func netError(provider, model string, err error) *Error {
	return &Error{Kind: KindNetwork, Provider: provider, Model: model, Message: err.Error()}
}

func emptyError(provider, model string) *Error {
	return &Error{Kind: KindEmptyResponse, Provider: provider, Model: model, Message: "response contained no text"}
}

func invalidError(provider, model, message string) *Error {
	return &Error{Kind: KindInvalidResponse, Provider: provider, Model: model, Message: message}
}

// Canceled reports whether err is caller cancellation, which must be
// propagated as-is rather than classified, retried, or failed over.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
