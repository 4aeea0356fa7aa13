// Package errs holds the error taxonomy shared by featureflow components:
// a classification used by the retry policy and sentinel errors that callers
// match with errors.Is.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorClassTransient marks failures worth retrying: network, timeout, 5xx.
	ErrorClassTransient ErrorClass = iota
	// ErrorClassInvalid marks malformed requests or responses. Never retried.
	ErrorClassInvalid
	// ErrorClassFatal marks unrecoverable failures.
	ErrorClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassInvalid:
		return "invalid"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// Remote fetch errors
	ErrTransientFetch = errors.New("transient fetch failure")
	ErrInvalidRequest = errors.New("invalid remote request")
	ErrRemoteFetch    = errors.New("remote fetch failed")

	// Configuration errors
	ErrConfiguration = errors.New("configuration error")

	// Snapshot errors
	ErrSnapshotExists     = errors.New("snapshot exists")
	ErrSnapshotMissing    = errors.New("snapshot missing")
	ErrIncompleteCoverage = errors.New("feature table does not cover base dates")

	// ErrCacheCorrupted is only ever logged; a corrupt entry is a cache miss.
	ErrCacheCorrupted = errors.New("cache entry corrupted")

	ErrInvalidInput = errors.New("invalid input")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	msg := ce.Message
	if msg == "" && ce.Err != nil {
		msg = ce.Err.Error()
	} else if ce.Err != nil {
		msg = msg + ": " + ce.Err.Error()
	}
	if ce.Component != "" && ce.Operation != "" {
		return fmt.Sprintf("%s.%s: %s", ce.Component, ce.Operation, msg)
	}
	return msg
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// WrapTransient classifies err as a transient fetch failure. The result
// matches both ErrTransientFetch and err under errors.Is.
func WrapTransient(err error, component, operation, message string) error {
	if err == nil {
		err = ErrTransientFetch
	} else if !errors.Is(err, ErrTransientFetch) {
		err = fmt.Errorf("%w: %w", ErrTransientFetch, err)
	}
	return &ClassifiedError{Class: ErrorClassTransient, Err: err, Message: message, Component: component, Operation: operation}
}

// WrapInvalid classifies err as a non-retryable request or response failure.
func WrapInvalid(err error, component, operation, message string) error {
	if err == nil {
		err = ErrInvalidRequest
	} else if !errors.Is(err, ErrInvalidRequest) {
		err = fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return &ClassifiedError{Class: ErrorClassInvalid, Err: err, Message: message, Component: component, Operation: operation}
}

// Configuration builds a ConfigurationError for component.
func Configuration(component, format string, args ...interface{}) error {
	return &ClassifiedError{
		Class:     ErrorClassFatal,
		Err:       ErrConfiguration,
		Message:   fmt.Sprintf(format, args...),
		Component: component,
		Operation: "configure",
	}
}

// IsTransient reports whether err should be retried. Context cancellation is
// never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorClassTransient
	}
	if errors.Is(err, ErrTransientFetch) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsInvalid reports whether err was classified as invalid input.
func IsInvalid(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorClassInvalid
	}
	return errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrInvalidInput)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// RemoteFetchError is returned once the retry policy gives up on a remote
// call, either after exhausting its attempts or on a non-transient failure.
type RemoteFetchError struct {
	Provider  string
	Attempts  int
	Transient bool
	Err       error
}

func (e *RemoteFetchError) Error() string {
	name := e.Provider
	if name == "" {
		name = "remote"
	}
	return fmt.Sprintf("%s: fetch failed after %d attempt(s): %v", name, e.Attempts, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

func (e *RemoteFetchError) Is(target error) bool { return target == ErrRemoteFetch }
