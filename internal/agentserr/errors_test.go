package agentserr

import (
	"errors"
	"testing"
)

func TestErrorUnwrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindTimeout, "tool_timeout", cause).WithToolCallID("call_1")

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if !Is(err, KindTimeout) {
		t.Fatalf("expected Is(err, KindTimeout) to be true")
	}
	if Is(err, KindNotFound) {
		t.Fatalf("expected Is(err, KindNotFound) to be false")
	}
	if !err.Retryable() {
		t.Fatalf("expected timeout errors to be retryable")
	}
}

func TestErrorMessageFallback(t *testing.T) {
	err := New(KindInternal, "", errors.New("disk full"))
	if got, want := err.Error(), "[internal] disk full"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestNewfNoCause(t *testing.T) {
	err := Newf(KindValidation, "bad_arg", "field %q is required", "path")
	as, ok := As(err)
	if !ok {
		t.Fatalf("expected As to extract *Error")
	}
	if as.Kind != KindValidation {
		t.Fatalf("Kind = %v, want %v", as.Kind, KindValidation)
	}
	if as.Retryable() {
		t.Fatalf("validation errors should not be retryable")
	}
}
