package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrAllEndpointsFailed is returned when every eligible endpoint has been
// tried and none produced a response.
var ErrAllEndpointsFailed = errors.New("all endpoints failed")

// ErrNoCapableEndpoint is returned when no healthy endpoint can satisfy
// the required capabilities even after soft degradation.
var ErrNoCapableEndpoint = errors.New("no endpoint satisfies required capabilities")

// FailureKind classifies an endpoint failure for the retry policy.
type FailureKind string

const (
	FailureAuth         FailureKind = "auth"
	FailureRateLimit    FailureKind = "rate_limit"
	FailureTimeout      FailureKind = "timeout"
	FailureServer       FailureKind = "server_error"
	FailureBadRequest   FailureKind = "bad_request"
	FailureBilling      FailureKind = "billing"
	FailureUnavailable  FailureKind = "model_unavailable"
	FailureContentBlock FailureKind = "content_filter"
	FailureUnknown      FailureKind = "unknown"
)

// RetrySameEndpoint reports whether the failure is worth retrying on the
// endpoint that produced it.
func (k FailureKind) RetrySameEndpoint() bool {
	switch k {
	case FailureRateLimit, FailureTimeout, FailureServer:
		return true
	}
	return false
}

// MarksUnhealthy reports whether the failure should flag the endpoint dead
// for the rest of the process lifetime.
func (k FailureKind) MarksUnhealthy() bool {
	return k == FailureAuth || k == FailureBilling
}

// EndpointError wraps a failure from one endpoint attempt with its
// classification.
type EndpointError struct {
	Kind     FailureKind
	Endpoint string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *EndpointError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Endpoint != "" {
		fmt.Fprintf(&sb, " endpoint=%s", e.Endpoint)
	}
	if e.Status != 0 {
		fmt.Fprintf(&sb, " status=%d", e.Status)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

func (e *EndpointError) Unwrap() error { return e.Cause }

// Classify maps an arbitrary attempt error onto a FailureKind. HTTP status
// codes win when present in the error text; otherwise substring heuristics
// cover SDK-specific error shapes.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	var epErr *EndpointError
	if errors.As(err, &epErr) {
		return epErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	if kind := classifyStatus(msg); kind != FailureUnknown {
		return kind
	}
	switch {
	case strings.Contains(msg, "credit balance") || strings.Contains(msg, "billing") || strings.Contains(msg, "quota exceeded"):
		return FailureBilling
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return FailureRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication") || strings.Contains(msg, "permission"):
		return FailureAuth
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused"):
		return FailureTimeout
	case strings.Contains(msg, "model not found") || strings.Contains(msg, "model_not_found") || strings.Contains(msg, "does not exist"):
		return FailureUnavailable
	case strings.Contains(msg, "content filter") || strings.Contains(msg, "content_policy") || strings.Contains(msg, "safety"):
		return FailureContentBlock
	case strings.Contains(msg, "invalid request") || strings.Contains(msg, "invalid_request") || strings.Contains(msg, "bad request"):
		return FailureBadRequest
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "internal server error") || strings.Contains(msg, "service unavailable"):
		return FailureServer
	}
	return FailureUnknown
}

func classifyStatus(msg string) FailureKind {
	for _, code := range []struct {
		frag string
		kind FailureKind
	}{
		{"401", FailureAuth},
		{"403", FailureAuth},
		{"402", FailureBilling},
		{"429", FailureRateLimit},
		{"404", FailureUnavailable},
		{"400", FailureBadRequest},
		{"500", FailureServer},
		{"502", FailureServer},
		{"503", FailureServer},
		{"504", FailureTimeout},
	} {
		if strings.Contains(msg, "status "+code.frag) || strings.Contains(msg, "status: "+code.frag) || strings.Contains(msg, "status code "+code.frag) {
			return code.kind
		}
	}
	return FailureUnknown
}

// ClassifyStatusCode maps an HTTP status to a FailureKind. Dialects call
// this when the SDK surfaces the status directly.
func ClassifyStatusCode(status int) FailureKind {
	switch {
	case status == 401 || status == 403:
		return FailureAuth
	case status == 402:
		return FailureBilling
	case status == 404:
		return FailureUnavailable
	case status == 429:
		return FailureRateLimit
	case status == 400 || status == 422:
		return FailureBadRequest
	case status == 504 || status == 408:
		return FailureTimeout
	case status >= 500:
		return FailureServer
	}
	return FailureUnknown
}
