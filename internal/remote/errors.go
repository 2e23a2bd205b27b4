package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError wraps a network-level failure: timeout, unreachable host,
// connection reset. Transport errors are retryable up to the retry budget.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a semantic rejection by the coordination service. Retrying a
// logically rejected operation cannot succeed, so API errors are never
// retried.
type APIError struct {
	Status   int
	Kind     string
	Holder   string // set on claim conflicts
	Expected int    // set on quantity rejections
	Message  string
}

func (e *APIError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("%s (holder: %s)", e.Kind, e.Holder)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind
}

// IsRetryable reports whether the error is a transport failure eligible for
// another drain-cycle attempt.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAuthError reports whether the error requires terminating the local
// session and re-authenticating. Authorization failures are never retried.
func IsAuthError(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Status == http.StatusUnauthorized || ae.Status == http.StatusForbidden
}

// AsAPIError unwraps a semantic rejection, if the error is one.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
