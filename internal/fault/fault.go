// Package fault defines the error taxonomy shared by the workflow model,
// the gateway client, the executor, and the HTTP layer.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for HTTP status mapping.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no kind.
	KindUnknown Kind = iota
	// KindValidation means the input was malformed or missing; the caller
	// must fix the request before retrying.
	KindValidation
	// KindNotFound means a referenced entity does not exist.
	KindNotFound
	// KindConflict means an invariant would be violated (non-empty queue,
	// last-queue deletion, actor mismatch, executor already running).
	KindConflict
	// KindTransport means the gateway was unreachable or the connection dropped.
	KindTransport
	// KindProtocol means a malformed frame, an unknown id, or a version mismatch.
	KindProtocol
	// KindRemote means the gateway answered ok:false.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Error is a classified error. Retryable is meaningful for transport and
// remote kinds: true means the same request may safely be resent.
type Error struct {
	Kind      Kind
	Msg       string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can match with errors.Is against
// sentinel kinds, e.g. errors.Is(err, &Error{Kind: KindConflict}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == ""
}

// Validation returns a validation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflict returns an invariant-violation error.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Transport returns a transport error. Transport failures are retryable:
// the caller may resend once the connection is reestablished.
func Transport(err error, format string, args ...any) error {
	return &Error{Kind: KindTransport, Msg: fmt.Sprintf(format, args...), Retryable: true, Err: err}
}

// Protocol returns a protocol error. Protocol failures are terminal.
func Protocol(format string, args ...any) error {
	return &Error{Kind: KindProtocol, Msg: fmt.Sprintf(format, args...)}
}

// Remote returns an error for a gateway ok:false response.
func Remote(code, message string, retryable bool) error {
	return &Error{Kind: KindRemote, Msg: fmt.Sprintf("%s: %s", code, message), Retryable: retryable}
}

// Cancelled returns a terminal transport-kind error for requests dropped by
// an explicit disconnect. Unlike a connection loss it is not retryable.
func Cancelled(format string, args ...any) error {
	return &Error{Kind: KindTransport, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the error chain carries a retryable fault.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// HTTPStatus maps an error to its HTTP-equivalent status class.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransport, KindRemote:
		return http.StatusBadGateway
	case KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
