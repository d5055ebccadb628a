package llm

import (
	"errors"
	"testing"
)

func TestFailoverReasonIsRetryable(t *testing.T) {
	tests := []struct {
		reason   FailoverReason
		expected bool
	}{
		{FailoverRateLimit, true},
		{FailoverTimeout, true},
		{FailoverServerError, true},
		{FailoverBilling, false},
		{FailoverAuth, false},
		{FailoverInvalidRequest, false},
		{FailoverModelUnavailable, false},
		{FailoverContentFilter, false},
		{FailoverUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.expected {
				t.Errorf("FailoverReason(%q).IsRetryable() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestFailoverReasonShouldFailover(t *testing.T) {
	tests := []struct {
		reason   FailoverReason
		expected bool
	}{
		{FailoverBilling, true},
		{FailoverAuth, true},
		{FailoverModelUnavailable, true},
		{FailoverRateLimit, false},
		{FailoverTimeout, false},
		{FailoverServerError, false},
		{FailoverUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.ShouldFailover(); got != tt.expected {
				t.Errorf("FailoverReason(%q).ShouldFailover() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected FailoverReason
	}{
		{"nil error", nil, FailoverUnknown},
		{"timeout", errors.New("request timeout"), FailoverTimeout},
		{"deadline exceeded", errors.New("context deadline exceeded"), FailoverTimeout},
		{"rate limit", errors.New("rate limit exceeded"), FailoverRateLimit},
		{"429 status", errors.New("HTTP 429"), FailoverRateLimit},
		{"unauthorized", errors.New("unauthorized"), FailoverAuth},
		{"billing", errors.New("billing issue"), FailoverBilling},
		{"quota exceeded", errors.New("quota exceeded"), FailoverBilling},
		{"content filter", errors.New("content_filter triggered"), FailoverContentFilter},
		{"model not found", errors.New("model not found"), FailoverModelUnavailable},
		{"server error", errors.New("internal server error"), FailoverServerError},
		{"500 status", errors.New("HTTP 500"), FailoverServerError},
		{"unknown", errors.New("something went wrong"), FailoverUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestProviderErrorFields(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewProviderError("anthropic", "claude-sonnet-4", cause).
		WithStatus(429).
		WithCode("rate_limit_error").
		WithRequestID("req-123")

	if err.Error() == "" {
		t.Error("Error() returned empty string")
	}
	if err.Reason != FailoverRateLimit {
		t.Errorf("Reason = %v, want %v", err.Reason, FailoverRateLimit)
	}
	if err.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", err.Provider)
	}
	if err.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want req-123", err.RequestID)
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap() did not return cause")
	}
}

func TestIsProviderError(t *testing.T) {
	providerErr := NewProviderError("openai", "gpt-4o", errors.New("test"))
	regularErr := errors.New("regular error")

	if !IsProviderError(providerErr) {
		t.Error("IsProviderError should return true for ProviderError")
	}
	if IsProviderError(regularErr) {
		t.Error("IsProviderError should return false for regular error")
	}
}

func TestIsRetryableAndShouldFailover(t *testing.T) {
	rateLimitErr := NewProviderError("anthropic", "claude-sonnet-4", nil).WithStatus(429)
	authErr := NewProviderError("openai", "gpt-4o", nil).WithStatus(401)
	regularErr := errors.New("timeout exceeded")

	if !IsRetryable(rateLimitErr) {
		t.Error("rate limit error should be retryable")
	}
	if ShouldFailover(rateLimitErr) {
		t.Error("rate limit error should not trigger failover")
	}
	if IsRetryable(authErr) {
		t.Error("auth error should not be retryable")
	}
	if !ShouldFailover(authErr) {
		t.Error("auth error should trigger failover")
	}
	if !IsRetryable(regularErr) {
		t.Error("timeout error classified from message should be retryable")
	}
}

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status   int
		expected FailoverReason
	}{
		{401, FailoverAuth},
		{403, FailoverAuth},
		{402, FailoverBilling},
		{429, FailoverRateLimit},
		{400, FailoverInvalidRequest},
		{404, FailoverModelUnavailable},
		{500, FailoverServerError},
		{503, FailoverServerError},
		{200, FailoverUnknown},
	}

	for _, tt := range tests {
		if got := classifyStatusCode(tt.status); got != tt.expected {
			t.Errorf("classifyStatusCode(%d) = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

func TestClassifyErrorCode(t *testing.T) {
	tests := []struct {
		code     string
		expected FailoverReason
	}{
		{"rate_limit_error", FailoverRateLimit},
		{"authentication_error", FailoverAuth},
		{"insufficient_quota", FailoverBilling},
		{"model_not_found", FailoverModelUnavailable},
		{"content_policy_violation", FailoverContentFilter},
		{"internal_error", FailoverServerError},
		{"invalid_request_error", FailoverInvalidRequest},
		{"something_else", FailoverUnknown},
	}

	for _, tt := range tests {
		if got := classifyErrorCode(tt.code); got != tt.expected {
			t.Errorf("classifyErrorCode(%q) = %v, want %v", tt.code, got, tt.expected)
		}
	}
}
