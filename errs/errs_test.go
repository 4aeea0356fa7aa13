package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWrapTransientMatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o broke")
	err := WrapTransient(cause, "client", "get", "request failed")

	if !IsTransient(err) {
		t.Fatalf("expected transient classification")
	}
	if !errors.Is(err, ErrTransientFetch) {
		t.Fatalf("expected ErrTransientFetch in chain")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected original cause in chain")
	}
}

func TestWrapInvalidIsNotTransient(t *testing.T) {
	err := WrapInvalid(errors.New("status 404"), "client", "get", "")
	if IsTransient(err) {
		t.Fatalf("invalid error classified as transient")
	}
	if !IsInvalid(err) {
		t.Fatalf("expected invalid classification")
	}
}

func TestContextErrorsAreNotTransient(t *testing.T) {
	if IsTransient(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Fatalf("context cancellation must not be retried")
	}
	if IsTransient(context.DeadlineExceeded) {
		t.Fatalf("deadline must not be retried")
	}
}

func TestRemoteFetchErrorMatching(t *testing.T) {
	cause := WrapTransient(nil, "nager", "fetch", "503")
	err := fmt.Errorf("holiday: %w", &RemoteFetchError{Provider: "nager", Attempts: 3, Transient: true, Err: cause})

	if !errors.Is(err, ErrRemoteFetch) {
		t.Fatalf("expected ErrRemoteFetch")
	}
	var rfe *RemoteFetchError
	if !errors.As(err, &rfe) || rfe.Attempts != 3 {
		t.Fatalf("expected RemoteFetchError with 3 attempts, got %v", err)
	}
	if !errors.Is(err, ErrTransientFetch) {
		t.Fatalf("expected last failure to remain reachable")
	}
}

func TestConfiguration(t *testing.T) {
	err := Configuration("orchestrator", "feature %q provided by %s and %s", "month", "a", "b")
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error")
	}
	if IsTransient(err) {
		t.Fatalf("configuration error must not be transient")
	}
}
