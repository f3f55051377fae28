package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the failure class of an upstream call.
type Kind int

const (
	// KindNetwork covers failures where no HTTP response arrived:
	// connection refused, DNS failure, client-side timeout.
	KindNetwork Kind = iota
	// KindRateLimit is an HTTP 429 from the upstream service.
	KindRateLimit
	// KindServer is any HTTP 5xx.
	KindServer
	// KindClient is any other HTTP 4xx. These are caller mistakes and
	// never retried.
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// ClassifiedError is the one error type that crosses the upstream
// boundary. Transport code builds it where the HTTP response (or its
// absence) is still in hand; everything downstream switches on Kind
// instead of re-probing status codes.
type ClassifiedError struct {
	Kind       Kind
	Status     int           // HTTP status, 0 when no response arrived
	RetryAfter time.Duration // server-requested wait on 429, 0 when absent
	Message    string
	Err        error // underlying cause, may be nil
}

func (e *ClassifiedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// UserMessage returns a stable, human-readable message for the failure
// class, suitable for surfacing on a dashboard.
func (e *ClassifiedError) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return "Unable to reach the analysis service. Check your network connection and try again."
	case KindRateLimit:
		return "The analysis service is limiting requests. Please wait a moment before refreshing."
	case KindServer:
		return "The analysis service is temporarily unavailable. Please try again shortly."
	default:
		return "The request could not be processed. Please adjust it and try again."
	}
}

// FromStatus builds a classified error from an HTTP response status.
// retryAfter carries the parsed Retry-After header and is only
// meaningful on 429 responses.
func FromStatus(status int, msg string, retryAfter time.Duration) *ClassifiedError {
	e := &ClassifiedError{Status: status, Message: msg}
	switch {
	case status == 429:
		e.Kind = KindRateLimit
		e.RetryAfter = retryAfter
	case status >= 500 && status < 600:
		e.Kind = KindServer
	default:
		e.Kind = KindClient
	}
	return e
}

// Classify maps an arbitrary error onto the failure taxonomy. Errors
// that are already classified (possibly wrapped) pass through
// unchanged, so classifying twice is safe. Anything else carries no
// HTTP status and is treated as a network failure.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClassifiedError{
		Kind:    KindNetwork,
		Message: err.Error(),
		Err:     err,
	}
}

// Retryable reports whether the failure class is transient enough to
// retry. Network, rate-limit and server failures are retryable; client
// errors are not, because the same request would fail the same way.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err).Kind {
	case KindNetwork, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}
