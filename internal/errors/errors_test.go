package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := Wrap(CodeStorageFailure, cause, "写入上下文失败")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures should be retryable by default")
	}
	if got := err.Error(); got != "[STORAGE_FAILURE] 写入上下文失败: dial tcp: refused" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestIsComparesCodes(t *testing.T) {
	sentinel := New(CodeAccessDenied, "denied")
	wrapped := fmt.Errorf("outer: %w", New(CodeAccessDenied, "other message"))

	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatalf("errors with the same code should match")
	}
	if stdErrors.Is(wrapped, New(CodeConflict, "")) {
		t.Fatalf("different codes must not match")
	}
}

func TestRegisterAndOverrides(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityInfo, Retryable: true})

	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if !err.Retryable() {
		t.Fatalf("expected registered retryable attribute")
	}

	overridden := New(code, "x", WithRetryable(false), WithSeverity(SeverityCritical), WithMetadata("k", "v"))
	if overridden.Retryable() {
		t.Fatalf("option should override retryable")
	}
	if SeverityOf(overridden) != SeverityCritical {
		t.Fatalf("unexpected severity: %s", SeverityOf(overridden))
	}
	if overridden.Metadata()["k"] != "v" {
		t.Fatalf("metadata missing: %v", overridden.Metadata())
	}
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(New(CodeCapacityExceeded, "engine at capacity")); got != "engine at capacity" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := MessageOf(stdErrors.New("LLM service unavailable")); got != "LLM service unavailable" {
		t.Fatalf("plain errors should be returned verbatim, got %q", got)
	}
	classified := Wrap(CodeProviderFailure, stdErrors.New("rate limit exceeded"), "")
	if got := MessageOf(classified); got != "rate limit exceeded" {
		t.Fatalf("classification-only wraps should keep the cause text, got %q", got)
	}
	if got := classified.Error(); got != "[PROVIDER_FAILURE] completion provider failure: rate limit exceeded" {
		t.Fatalf("unexpected error string: %s", got)
	}
	if MessageOf(nil) != "" {
		t.Fatalf("nil error should produce empty message")
	}
}
