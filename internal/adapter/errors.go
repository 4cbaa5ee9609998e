package adapter

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed remote call for the retry and abort policy.
type ErrorKind string

const (
	// Auth means the credential was rejected or missing. It aborts the batch.
	Auth ErrorKind = "auth"
	// Transient covers network failures, timeouts and throttling. It is retried.
	Transient ErrorKind = "transient"
	// UnsupportedInput means the item cannot be processed. The item is skipped.
	UnsupportedInput ErrorKind = "unsupported_input"
	// RemoteService is any other non-2xx answer. The item is skipped.
	RemoteService ErrorKind = "remote_service"
)

// Error is returned by every adapter call.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the kind of err. Errors that did not come from an adapter are treated
// as RemoteService so they are never retried.
func KindOf(err error) ErrorKind {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind
	}
	return RemoteService
}

// IsRetryable reports whether err may succeed on another attempt.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == Transient
}

// KindForStatus maps an HTTP status code onto an error kind.
func KindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Auth
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Transient
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return UnsupportedInput
	default:
		return RemoteService
	}
}

func newError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}
