package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusError records a non-2xx upstream response.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request: http %d (%s): %s", e.Service, e.StatusCode, HTTPStatusReason(e.StatusCode), SummarizeSnippet(e.Body))
}

// NewStatusError captures resp as a StatusError, reading the Retry-After header.
func NewStatusError(service string, resp *http.Response, body []byte) *StatusError {
	retryAfter, _ := ParseRetryAfter(resp.Header.Get("Retry-After"))
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: retryAfter,
	}
}

// RetryAfterHint returns the server-provided retry delay carried by err, if any.
func RetryAfterHint(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

// ClassifyHTTP tags a client-side failure with the marker its cause implies.
// Errors that already carry a marker are returned unchanged.
func ClassifyHTTP(stage, operation string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrTimeout, stage, operation, "deadline exceeded", err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return Wrap(MarkerForHTTPStatus(statusErr.StatusCode), stage, operation, HTTPStatusReason(statusErr.StatusCode), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(ErrTimeout, stage, operation, "network timeout", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Wrap(ErrTransient, stage, operation, "transport error", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Wrap(ErrTransient, stage, operation, "network error", err)
	}
	return Wrap(ErrTransient, stage, operation, "request failed", err)
}

// ParseRetryAfter accepts both the delta-seconds and HTTP-date forms.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// SummarizeSnippet collapses whitespace and truncates a response body for logs.
func SummarizeSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
