package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed, driving retry
// and failover decisions.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverContentFilter    FailoverReason = "content_filter"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable returns true if retrying the same provider/model may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover returns true if the error warrants trying a different
// provider or model rather than retrying the same one.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case FailoverBilling, FailoverAuth, FailoverModelUnavailable:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider, carrying enough
// context for retry/failover logic and for surfacing a useful message.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps cause, classifying it from its message text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies the failover reason.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// WithCode records a provider-specific error code and reclassifies if known.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error's text and returns the matching FailoverReason.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"),
		strings.Contains(errStr, "etimedout"):
		return FailoverTimeout
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return FailoverRateLimit
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "invalid_api_key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return FailoverAuth
	case strings.Contains(errStr, "billing"),
		strings.Contains(errStr, "payment"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "insufficient"),
		strings.Contains(errStr, "402"):
		return FailoverBilling
	case strings.Contains(errStr, "content_filter"),
		strings.Contains(errStr, "content policy"),
		strings.Contains(errStr, "safety"),
		strings.Contains(errStr, "blocked"):
		return FailoverContentFilter
	case strings.Contains(errStr, "model not found"),
		strings.Contains(errStr, "model_not_found"),
		strings.Contains(errStr, "does not exist"),
		strings.Contains(errStr, "unavailable"):
		return FailoverModelUnavailable
	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailoverRateLimit
	case "authentication_error", "invalid_api_key":
		return FailoverAuth
	case "billing_error", "insufficient_quota":
		return FailoverBilling
	case "model_not_found", "model_not_available":
		return FailoverModelUnavailable
	case "content_policy_violation", "content_filter":
		return FailoverContentFilter
	case "server_error", "internal_error":
		return FailoverServerError
	case "invalid_request_error":
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// IsProviderError reports whether err is or wraps a *ProviderError.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// GetProviderError extracts a *ProviderError from err's chain, if present.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried against the same provider.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// ShouldFailover reports whether err warrants trying a different provider.
func ShouldFailover(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.ShouldFailover()
	}
	return ClassifyError(err).ShouldFailover()
}
