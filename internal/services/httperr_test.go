package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"reelsmith/internal/services"
)

func TestClassifyHTTPStatus(t *testing.T) {
	rateLimited := &services.StatusError{Service: "voice", StatusCode: http.StatusTooManyRequests, RetryAfter: 3 * time.Second}
	err := services.ClassifyHTTP("voice", "synthesize", rateLimited)
	if !services.Retryable(err) {
		t.Fatalf("expected 429 to be retryable, got %v", err)
	}
	if hint := services.RetryAfterHint(err); hint != 3*time.Second {
		t.Fatalf("expected retry-after hint to survive wrapping, got %s", hint)
	}

	auth := &services.StatusError{Service: "voice", StatusCode: http.StatusUnauthorized}
	err = services.ClassifyHTTP("voice", "synthesize", auth)
	if services.KindOf(err) != services.KindFatalInput {
		t.Fatalf("expected auth failure to be fatal input, got %s", services.KindOf(err))
	}
}

func TestClassifyHTTPKeepsExistingMarker(t *testing.T) {
	marked := services.Wrap(services.ErrContractViolation, "script", "parse", "no segments", nil)
	if got := services.ClassifyHTTP("script", "complete", marked); got != marked {
		t.Fatalf("expected marked error to pass through, got %v", got)
	}
}

func TestClassifyHTTPDeadline(t *testing.T) {
	err := services.ClassifyHTTP("images", "predict", fmt.Errorf("do: %w", context.DeadlineExceeded))
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if err := services.ClassifyHTTP("images", "predict", context.Canceled); services.Retryable(err) {
		t.Fatal("cancellation must not be retryable")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := services.ParseRetryAfter("7"); !ok || d != 7*time.Second {
		t.Fatalf("unexpected delta-seconds parse: %s %v", d, ok)
	}
	if _, ok := services.ParseRetryAfter("-1"); ok {
		t.Fatal("negative values must be rejected")
	}
	if _, ok := services.ParseRetryAfter("soon"); ok {
		t.Fatal("garbage must be rejected")
	}
}
