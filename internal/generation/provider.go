// Package generation produces witness replies from hosted language models.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider is one hosted model endpoint.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s: %d %s: %s", e.Provider, e.StatusCode, e.Status, body)
}

var (
	ErrEmptyResponse = errors.New("empty model response")
	errNoProvider    = errors.New("provider not configured")
)

var retryableMarkers = []string{
	"400", "429", "500", "503", "504",
	"gateway time-out", "timeout",
	"resource_exhausted", "unavailable", "internal", "deadline_exceeded", "unknown",
}

// IsRetryable classifies provider failures the way the hosted APIs report
// transient trouble: by status code or canonical error name anywhere in the
// message.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400, 429, 500, 503, 504:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
