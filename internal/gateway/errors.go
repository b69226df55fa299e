package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies the outcome of a guarded call.
type Kind int

const (
	// Transient failures were retried until attempts or time ran out.
	Transient Kind = iota + 1
	// Permanent failures are returned after the first attempt.
	Permanent
	// CircuitOpen means the call was rejected without reaching the downstream.
	CircuitOpen
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case CircuitOpen:
		return "circuit_open"
	}
	return "unknown"
}

// Error is returned by Call for every failed invocation.
type Error struct {
	Kind       Kind
	Downstream string
	Attempts   int
	// Executed counts the attempts that reached the downstream. A breaker that opens
	// mid-retry leaves it below Attempts.
	Executed   int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s call to %s failed after %d attempt(s): %v", e.Kind, e.Downstream, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func KindOf(err error) (Kind, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind, true
	}
	return 0, false
}

func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Transient
}

func IsPermanent(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Permanent
}

func IsCircuitOpen(err error) bool {
	k, ok := KindOf(err)
	return ok && k == CircuitOpen
}

// Executed reports how many attempts of a failed call reached the downstream.
func Executed(err error) int {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Executed
	}
	return 0
}

// HTTPStatusError is returned by HTTP collaborators for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type classified struct {
	kind Kind
	err  error
}

func (c classified) Error() string { return c.err.Error() }
func (c classified) Unwrap() error { return c.err }

// MarkTransient forces err to be retried regardless of its type.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return classified{kind: Transient, err: err}
}

// MarkPermanent stops retries for err regardless of its type.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return classified{kind: Permanent, err: err}
}

// Classify decides whether a failure is worth retrying. Unknown errors are permanent.
func Classify(err error) Kind {
	var c classified
	if errors.As(err, &c) {
		return c.kind
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests {
			return Transient
		}
		return Permanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return Transient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}

	return Permanent
}
