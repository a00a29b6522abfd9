package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Kind string

const (
	KindEmptyInput         Kind = "empty_input"
	KindServiceUnavailable Kind = "service_unavailable"
	KindTimeout            Kind = "timeout"
	KindMalformedResponse  Kind = "malformed_response"
)

// Error is the only error type the gateway returns. Status is the HTTP status
// of a service that answered but refused the request; Permanent failures are
// never retried.
type Error struct {
	Kind      Kind
	Status    int
	Permanent bool
	Err       error
}

func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewStatusError reports a non-200 answer from a reachable service.
func NewStatusError(status int, err error) *Error {
	return &Error{Kind: KindServiceUnavailable, Status: status, Permanent: true, Err: err}
}

func NewPermanentError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Permanent: true, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("embedding %s", e.Kind)
	}
	return fmt.Sprintf("embedding %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind of an embedding error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsRetryable reports whether another attempt could succeed: only timeouts
// and connection failures qualify.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Permanent || errors.Is(err, context.Canceled) {
		return false
	}
	return e.Kind == KindTimeout || e.Kind == KindServiceUnavailable
}

// Classify turns a transport failure into an *Error. Errors that already carry
// a kind are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return NewPermanentError(KindServiceUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewError(KindTimeout, err)
	}
	return NewError(KindServiceUnavailable, err)
}
