package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/renzoku/gateway/internal/content"
)

var (
	ErrNotFound            = errors.New("upstream: not found")
	ErrRateLimited         = errors.New("upstream: rate limited")
	ErrUpstreamServer      = errors.New("upstream: server error")
	ErrProtectionTriggered = errors.New("upstream: ai protection triggered")
	ErrAllEndpointsFailed  = errors.New("upstream: all endpoints failed")
	ErrInvalidResponse     = errors.New("upstream: invalid response shape")
)

// HTTPStatusError is a non-2xx answer from one candidate.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

func (e *HTTPStatusError) Unwrap() error {
	switch {
	case e.StatusCode == 404:
		return ErrNotFound
	case e.StatusCode == 429:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrUpstreamServer
	default:
		return nil
	}
}

// Attempt records one request made while walking the candidate list.
type Attempt struct {
	URL      string `json:"url"`
	ViaProxy bool   `json:"viaProxy"`
	Status   int    `json:"status,omitempty"`
	Err      error  `json:"-"`
}

func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// FailureError is the terminal classification of a fetch, with the attempt trail that
// led to it.
type FailureError struct {
	Err      error
	Attempts []Attempt
}

func (e *FailureError) Error() string {
	if e == nil || e.Err == nil {
		return "upstream failure"
	}
	if len(e.Attempts) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v after %d attempts (last: %v)", e.Err, len(e.Attempts), e.Attempts[len(e.Attempts)-1].Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Kind returns a stable short name for the terminal class of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, content.ErrMissingSlug):
		return "missing_slug"
	case errors.Is(err, content.ErrMissingQuery):
		return "missing_query"
	case errors.Is(err, ErrUnsupportedOperation):
		return "unsupported"
	case errors.Is(err, ErrProtectionTriggered):
		return "protection"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstreamServer):
		return "server_error"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "all_failed"
	}
}

// UserMessage is the single human readable message shown next to the retry action.
func UserMessage(err error) string {
	switch Kind(err) {
	case "ok":
		return ""
	case "missing_slug":
		return "Cannot identify the requested content. Open it again from the home or search page."
	case "missing_query":
		return "Type a title to search for."
	case "unsupported":
		return "This content type does not support the requested page."
	case "protection":
		return "The anime API is in protection mode. Please wait several minutes before trying again."
	case "rate_limited":
		return "The anime API is receiving too many requests. Please wait a moment and try again."
	case "not_found":
		return "The requested content was not found."
	case "canceled":
		return "The request was cancelled before it finished."
	default:
		return "Failed to load data from the anime API. Check your connection and try again."
	}
}

// Retryable reports whether another full pass over the candidates may help.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProtectionTriggered) || errors.Is(err, content.ErrMissingSlug) || errors.Is(err, content.ErrMissingQuery) {
		return false
	}
	// every candidate answered 404: another pass will not find it either
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnsupportedOperation) {
		return false
	}
	return true
}
