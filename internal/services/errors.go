package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrTransient         = errors.New("transient failure")
	ErrTimeout           = errors.New("timeout")
	ErrFatalInput        = errors.New("fatal input")
	ErrContractViolation = errors.New("contract violation")
	ErrResource          = errors.New("resource failure")
	ErrConfiguration     = errors.New("configuration error")
	ErrRendering         = errors.New("rendering failure")
)

// Kind is the coarse failure class persisted with runs and attempts.
type Kind string

const (
	KindNone              Kind = ""
	KindTransient         Kind = "transient"
	KindFatalInput        Kind = "fatal_input"
	KindContractViolation Kind = "contract_violation"
	KindResource          Kind = "resource"
	KindConfiguration     Kind = "configuration"
	KindRendering         Kind = "rendering"
	KindCanceled          Kind = "canceled"
	KindUnknown           Kind = "unknown"
)

// ServiceError tags a failure with its marker and the stage context it came from.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *ServiceError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the flattened view of a failure used for logs and persistence.
type ErrorDetails struct {
	Kind      Kind
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Details extracts the outermost ServiceError context from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: KindOf(err)}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		details.Message = svcErr.Message
		details.Cause = svcErr.Cause
	}
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

// KindOf classifies err by the first marker it carries.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrContractViolation):
		return KindContractViolation
	case errors.Is(err, ErrFatalInput):
		return KindFatalInput
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrRendering):
		return KindRendering
	case errors.Is(err, ErrResource):
		return KindResource
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout):
		return KindTransient
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Retryable reports whether a failure may succeed on a fresh attempt.
// Unclassified errors are treated as fatal.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// MarkerForHTTPStatus maps an upstream HTTP status to a failure marker.
func MarkerForHTTPStatus(code int) error {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return ErrTransient
	case code >= http.StatusInternalServerError:
		return ErrTransient
	case code >= http.StatusBadRequest:
		return ErrFatalInput
	default:
		return ErrTransient
	}
}

// HTTPStatusReason describes the fatal HTTP classes in operator terms.
func HTTPStatusReason(code int) string {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication rejected"
	case http.StatusPaymentRequired:
		return "quota exhausted"
	case http.StatusTooManyRequests:
		return "rate limited"
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "invalid request"
	case http.StatusNotFound:
		return "resource not found"
	default:
		if code >= http.StatusInternalServerError {
			return "upstream server error"
		}
		return http.StatusText(code)
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
